// Package syncer batches multi-document saves into one editorial operation
// and runs the cache-first page-load path.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/gitpress/gitpress/internal/contentcache"
	"github.com/gitpress/gitpress/internal/logger"
	"github.com/gitpress/gitpress/internal/model"
	"github.com/gitpress/gitpress/internal/storage"
)

// HeadSource yields the default branch head, the commit fingerprint caches
// key on.
type HeadSource interface {
	HeadSHA(ctx context.Context) (string, error)
}

// WriteQueue is the offline write queue of the structured cache backend.
type WriteQueue interface {
	PendingWrites() []contentcache.PendingWrite
	ClearPending(keys []string)
}

// FileResult is the outcome for one file of a batch.
type FileResult struct {
	Path string
	Err  error
}

// BatchResult reports which files of a batch landed. There is no rollback:
// files that committed before a failure stay committed, and the caller sees
// exactly which ones.
type BatchResult struct {
	Operation string
	Succeeded []string
	Failed    []FileResult
}

// Err summarizes the batch: nil when every file committed.
func (r *BatchResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	paths := make([]string, len(r.Failed))
	for i, f := range r.Failed {
		paths[i] = f.Path
	}
	return fmt.Errorf("batch %s: %d of %d files failed (%s)",
		r.Operation, len(r.Failed), len(r.Failed)+len(r.Succeeded), strings.Join(paths, ", "))
}

// Orchestrator composes the storage backend, the content cache and the
// hosting client. The remote collaborators are nil in pure local mode; the
// write queue is nil when the memory cache backend is selected.
type Orchestrator struct {
	backend storage.Backend
	cache   contentcache.Store
	host    storage.ContentHost
	drafts  storage.DraftManager
	heads   HeadSource
	queue   WriteQueue
}

func NewOrchestrator(
	backend storage.Backend,
	cache contentcache.Store,
	host storage.ContentHost,
	drafts storage.DraftManager,
	heads HeadSource,
	queue WriteQueue,
) (*Orchestrator, error) {
	if backend == nil {
		return nil, fmt.Errorf("storage backend is nil")
	}
	if cache == nil {
		return nil, fmt.Errorf("content cache is nil")
	}
	return &Orchestrator{
		backend: backend,
		cache:   cache,
		host:    host,
		drafts:  drafts,
		heads:   heads,
		queue:   queue,
	}, nil
}

// BatchCommit lands a changeset as one editorial operation. Files commit
// sequentially; on partial failure the result lists which files succeeded
// and which did not (see BatchResult).
func (o *Orchestrator) BatchCommit(ctx context.Context, cs *model.ChangeSet, message string) (*BatchResult, error) {
	if cs == nil {
		return nil, fmt.Errorf("changeset is nil")
	}
	if err := cs.Validate(); err != nil {
		return nil, err
	}

	result := &BatchResult{Operation: uuid.NewString()}
	log := logger.WithComponent("syncer").WithField("operation", result.Operation)
	log.Infof("batch commit of %d pages (globals: %v)", len(cs.Pages), cs.Globals != nil)

	if local, ok := o.backend.(*storage.LocalBackend); ok {
		o.batchLocal(ctx, local, cs, message, result)
	} else {
		o.batchRemote(ctx, cs, message, result)
	}

	if err := result.Err(); err != nil {
		log.Warnf("batch finished with failures: %v", err)
		return result, err
	}
	log.Info("batch committed")
	return result, nil
}

// batchLocal writes every file to disk first, then mirrors best-effort.
// Mirror failures never count against the batch.
func (o *Orchestrator) batchLocal(ctx context.Context, local *storage.LocalBackend, cs *model.ChangeSet, message string, result *BatchResult) {
	for _, p := range cs.Pages {
		path := storage.PagePath(p.ID)
		if err := local.WritePageLocal(ctx, p.ID, p.Document); err != nil {
			result.Failed = append(result.Failed, FileResult{Path: path, Err: err})
			continue
		}
		result.Succeeded = append(result.Succeeded, path)
	}
	if cs.Globals != nil {
		if err := local.WriteGlobalsLocal(ctx, cs.Globals); err != nil {
			result.Failed = append(result.Failed, FileResult{Path: storage.GlobalsPath, Err: err})
		} else {
			result.Succeeded = append(result.Succeeded, storage.GlobalsPath)
		}
	}

	mirror := local.Mirror()
	if mirror == nil {
		return
	}
	for _, p := range cs.Pages {
		if err := mirror.SavePage(ctx, p.ID, p.Document, message); err != nil {
			logger.WithPage("syncer", p.ID).Warnf("best-effort remote mirror failed: %v", err)
		}
	}
	if cs.Globals != nil {
		if err := mirror.SaveGlobals(ctx, cs.Globals, message); err != nil {
			logger.WithComponent("syncer").Warnf("best-effort globals mirror failed: %v", err)
		}
	}
}

// batchRemote ensures the draft branch once up front, then commits each file
// without a per-file ensure.
func (o *Orchestrator) batchRemote(ctx context.Context, cs *model.ChangeSet, message string, result *BatchResult) {
	if o.host == nil || o.drafts == nil {
		result.Failed = append(result.Failed, FileResult{Path: "", Err: fmt.Errorf("remote batch without hosting client")})
		return
	}

	if _, err := o.drafts.EnsureDraftBranch(ctx); err != nil {
		// Nothing can commit without the branch; fail the whole set.
		for _, p := range cs.Pages {
			result.Failed = append(result.Failed, FileResult{Path: storage.PagePath(p.ID), Err: err})
		}
		if cs.Globals != nil {
			result.Failed = append(result.Failed, FileResult{Path: storage.GlobalsPath, Err: err})
		}
		return
	}
	branch := o.drafts.DraftBranch()

	commit := func(path string, payload []byte) {
		if err := o.host.CommitContent(ctx, path, string(payload), message, branch, false); err != nil {
			result.Failed = append(result.Failed, FileResult{Path: path, Err: err})
			return
		}
		result.Succeeded = append(result.Succeeded, path)
	}

	for _, p := range cs.Pages {
		payload, err := json.MarshalIndent(p.Document, "", "  ")
		if err != nil {
			result.Failed = append(result.Failed, FileResult{Path: storage.PagePath(p.ID), Err: err})
			continue
		}
		commit(storage.PagePath(p.ID), payload)
	}
	if cs.Globals != nil {
		payload, err := json.MarshalIndent(cs.Globals, "", "  ")
		if err != nil {
			result.Failed = append(result.Failed, FileResult{Path: storage.GlobalsPath, Err: err})
			return
		}
		commit(storage.GlobalsPath, payload)
	}
}

// LoadPage serves from the cache while it is valid against the current
// remote head, falls back to the storage backend on miss, and repopulates
// the cache tagged with the fingerprint it was fetched against. Every cache
// failure degrades silently to a backend load.
func (o *Orchestrator) LoadPage(ctx context.Context, id string) (*model.PageDocument, error) {
	sha := o.currentFingerprint(ctx)
	if sha != "" {
		if o.cache.Valid(sha) {
			if doc, ok := o.cache.Page(id); ok {
				return doc, nil
			}
		} else {
			// Fingerprint moved or the window lapsed: everything cached is
			// stale at once.
			o.cache.InvalidateAll()
			o.cache.SetCommitSHA(sha)
		}
	}

	doc, err := o.backend.LoadDraft(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc != nil && sha != "" {
		if !o.cache.SetPage(id, doc, sha) {
			logger.WithPage("syncer", id).Debug("cache write failed, serving uncached")
		}
	}
	return doc, nil
}

// LoadGlobals mirrors LoadPage for the globals document.
func (o *Orchestrator) LoadGlobals(ctx context.Context) (*model.GlobalsDocument, error) {
	sha := o.currentFingerprint(ctx)
	if sha != "" {
		if o.cache.Valid(sha) {
			if doc, ok := o.cache.Globals(); ok {
				return doc, nil
			}
		} else {
			o.cache.InvalidateAll()
			o.cache.SetCommitSHA(sha)
		}
	}

	doc, err := o.backend.LoadGlobals(ctx)
	if err != nil {
		return nil, err
	}
	if doc != nil && sha != "" {
		o.cache.SetGlobals(doc, sha)
	}
	return doc, nil
}

// ListPages mirrors LoadPage for the cached page list.
func (o *Orchestrator) ListPages(ctx context.Context) ([]model.PageSummary, error) {
	sha := o.currentFingerprint(ctx)
	if sha != "" {
		if o.cache.Valid(sha) {
			if items, ok := o.cache.PageList(); ok {
				return items, nil
			}
		} else {
			o.cache.InvalidateAll()
			o.cache.SetCommitSHA(sha)
		}
	}

	items, err := o.backend.ListPages(ctx)
	if err != nil {
		return nil, err
	}
	if items != nil && sha != "" {
		o.cache.SetPageList(items, sha)
	}
	return items, nil
}

// currentFingerprint resolves the default branch head. An unreachable remote
// (or no remote at all) yields "", which bypasses the cache rather than
// risking a stale entry served as fresh.
func (o *Orchestrator) currentFingerprint(ctx context.Context) string {
	if o.heads == nil {
		return ""
	}
	sha, err := o.heads.HeadSHA(ctx)
	if err != nil {
		logger.WithComponent("syncer").Debugf("head lookup failed, bypassing cache: %v", err)
		return ""
	}
	return sha
}

// FlushPending drains the offline write queue against the draft branch.
// Entries that fail stay queued for the next flush.
func (o *Orchestrator) FlushPending(ctx context.Context, message string) error {
	if o.queue == nil || o.host == nil || o.drafts == nil {
		return nil
	}
	pending := o.queue.PendingWrites()
	if len(pending) == 0 {
		return nil
	}

	if _, err := o.drafts.EnsureDraftBranch(ctx); err != nil {
		return fmt.Errorf("ensure draft branch: %w", err)
	}
	branch := o.drafts.DraftBranch()

	var flushed []string
	var firstErr error
	for _, pw := range pending {
		if err := o.host.CommitContent(ctx, pw.Key, string(pw.Data), message, branch, false); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			logger.WithComponent("syncer").Warnf("flush of %s failed, keeping it queued: %v", pw.Key, err)
			continue
		}
		flushed = append(flushed, pw.Key)
	}
	o.queue.ClearPending(flushed)

	logger.WithComponent("syncer").Infof("flushed %d of %d queued writes", len(flushed), len(pending))
	return firstErr
}
