package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"

	"github.com/gitpress/gitpress/internal/logger"
	"github.com/gitpress/gitpress/internal/model"
)

// LocalBackend keeps one JSON document per page under the content directory.
// Local writes are authoritative in dev mode: the optional remote mirror is
// best-effort and its failures never block the editor.
type LocalBackend struct {
	contentDir string
	pagesDir   string
	validator  *validator.Validate
	mirror     *RemoteBackend // nil disables mirroring
	mu         sync.Mutex
}

func NewLocalBackend(contentDir string, mirror *RemoteBackend) (*LocalBackend, error) {
	if contentDir == "" {
		return nil, errors.New("content directory is required")
	}
	pagesDir := filepath.Join(contentDir, "pages")
	if err := os.MkdirAll(pagesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create content directory: %w", err)
	}
	return &LocalBackend{
		contentDir: contentDir,
		pagesDir:   pagesDir,
		validator:  validator.New(),
		mirror:     mirror,
	}, nil
}

func (l *LocalBackend) pagePath(id string) string {
	return filepath.Join(l.pagesDir, id+".json")
}

func (l *LocalBackend) globalsPath() string {
	return filepath.Join(l.contentDir, "globals.json")
}

// writeAtomic writes payload through a temp file and rename, so a crash
// mid-write never leaves a truncated document behind.
func (l *LocalBackend) writeAtomic(path string, payload []byte) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	tmpFile, err := os.CreateTemp(dir, base+".tmp-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
	}()

	if _, err := tmpFile.Write(payload); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpFile.Name(), path); err != nil {
		return fmt.Errorf("replace file: %w", err)
	}
	return nil
}

// WritePageLocal persists the page to disk without touching the mirror.
// Batch saves use it to land every file locally before any mirroring starts.
func (l *LocalBackend) WritePageLocal(ctx context.Context, id string, doc *model.PageDocument) error {
	if doc == nil {
		return errors.New("document is nil")
	}
	if err := l.validator.Struct(doc); err != nil {
		return fmt.Errorf("validate page %s: %w", id, err)
	}

	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal page %s: %w", id, err)
	}

	l.mu.Lock()
	err = l.writeAtomic(l.pagePath(id), payload)
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("save page %s: %w", id, err)
	}
	return nil
}

// Mirror exposes the best-effort remote mirror, nil when mirroring is off.
func (l *LocalBackend) Mirror() *RemoteBackend {
	return l.mirror
}

func (l *LocalBackend) SavePage(ctx context.Context, id string, doc *model.PageDocument, message string) error {
	if err := l.WritePageLocal(ctx, id, doc); err != nil {
		return err
	}

	if l.mirror != nil {
		if merr := l.mirror.SavePage(ctx, id, doc, message); merr != nil {
			logger.WithPage("storage", id).Warnf("best-effort remote mirror failed: %v", merr)
		}
	}
	return nil
}

// LoadDraft reads the local file. Dev mode has no draft/published
// distinction; the file on disk is both.
func (l *LocalBackend) LoadDraft(ctx context.Context, id string) (*model.PageDocument, error) {
	raw, err := os.ReadFile(l.pagePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read page %s: %w", id, err)
	}

	var doc model.PageDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode page %s: %w", id, err)
	}
	if err := l.validator.Struct(&doc); err != nil {
		return nil, fmt.Errorf("validate page %s: %w", id, err)
	}
	return &doc, nil
}

// ListPages enumerates the page documents on disk. Files that fail to parse
// are skipped with a warning rather than failing the whole list.
func (l *LocalBackend) ListPages(ctx context.Context) ([]model.PageSummary, error) {
	entries, err := os.ReadDir(l.pagesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list pages: %w", err)
	}

	var items []model.PageSummary
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.Contains(name, ".tmp-") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		doc, err := l.LoadDraft(ctx, id)
		if err != nil || doc == nil {
			logger.WithPage("storage", id).Warnf("skipping unreadable page in listing: %v", err)
			continue
		}
		items = append(items, model.PageSummary{ID: doc.ID, Title: doc.Title, Slug: doc.Slug})
	}
	return items, nil
}

// WriteGlobalsLocal persists the globals document to disk without touching
// the mirror.
func (l *LocalBackend) WriteGlobalsLocal(ctx context.Context, doc *model.GlobalsDocument) error {
	if doc == nil {
		return errors.New("document is nil")
	}

	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal globals: %w", err)
	}

	l.mu.Lock()
	err = l.writeAtomic(l.globalsPath(), payload)
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("save globals: %w", err)
	}
	return nil
}

func (l *LocalBackend) SaveGlobals(ctx context.Context, doc *model.GlobalsDocument, message string) error {
	if err := l.WriteGlobalsLocal(ctx, doc); err != nil {
		return err
	}

	if l.mirror != nil {
		if merr := l.mirror.SaveGlobals(ctx, doc, message); merr != nil {
			logger.WithComponent("storage").Warnf("best-effort globals mirror failed: %v", merr)
		}
	}
	return nil
}

func (l *LocalBackend) LoadGlobals(ctx context.Context) (*model.GlobalsDocument, error) {
	raw, err := os.ReadFile(l.globalsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read globals: %w", err)
	}

	var doc model.GlobalsDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode globals: %w", err)
	}
	return &doc, nil
}

// HasUnpublishedChanges is always false locally: a saved file is live
// immediately.
func (l *LocalBackend) HasUnpublishedChanges(ctx context.Context) (bool, error) {
	return false, nil
}

// Publish is a no-op locally.
func (l *LocalBackend) Publish(ctx context.Context) error {
	logger.WithComponent("storage").Debug("publish is a no-op in local mode")
	return nil
}

// CacheInvalidator is the slice of the content cache the watcher needs.
type CacheInvalidator interface {
	Remove(id string)
	InvalidateAll()
}

// StartWatcher invalidates cache entries when content files change outside
// the process (another editor, a git pull). Invalidation is idempotent and
// cheap, so bursty fsnotify events need no debounce here. The caller owns
// the context; cancel it to stop the goroutine.
func (l *LocalBackend) StartWatcher(ctx context.Context, cache CacheInvalidator) error {
	if cache == nil {
		return errors.New("cache invalidator is required")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	for _, dir := range []string{l.contentDir, l.pagesDir} {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				name := filepath.Base(event.Name)
				if !strings.HasSuffix(name, ".json") || strings.Contains(name, ".tmp-") {
					continue
				}
				if name == "globals.json" {
					logger.WithComponent("storage").Debug("globals changed on disk, invalidating cache")
					cache.InvalidateAll()
					continue
				}
				id := strings.TrimSuffix(name, ".json")
				logger.WithPage("storage", id).Debug("page changed on disk, invalidating cache entry")
				cache.Remove(id)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithComponent("storage").Warnf("watcher error: %v", err)
			}
		}
	}()

	return nil
}
