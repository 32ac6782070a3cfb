package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gitpress/gitpress/internal/logger"
	"github.com/gitpress/gitpress/internal/model"
)

// RemoteBackend commits through the shared draft branch. Write failures are
// fatal and propagate: in production the remote is the system of record.
type RemoteBackend struct {
	host          ContentHost
	drafts        DraftManager
	defaultBranch string
}

func NewRemoteBackend(host ContentHost, drafts DraftManager, defaultBranch string) *RemoteBackend {
	return &RemoteBackend{host: host, drafts: drafts, defaultBranch: defaultBranch}
}

func (r *RemoteBackend) SavePage(ctx context.Context, id string, doc *model.PageDocument, message string) error {
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal page %s: %w", id, err)
	}
	if message == "" {
		message = fmt.Sprintf("Update page %s via CMS", id)
	}
	return r.host.CommitContent(ctx, PagePath(id), string(payload), message, r.drafts.DraftBranch(), true)
}

// LoadDraft reads the draft branch's copy of the page. When no draft branch
// exists yet there are no unpublished edits, so the published copy on the
// default branch is the draft.
func (r *RemoteBackend) LoadDraft(ctx context.Context, id string) (*model.PageDocument, error) {
	branch, err := r.readBranch(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := r.host.FileContent(ctx, PagePath(id), branch)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var doc model.PageDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode page %s: %w", id, err)
	}
	return &doc, nil
}

// ListPages lists the pages directory on the read branch and loads each
// document for its title and slug. Unparsable files are skipped.
func (r *RemoteBackend) ListPages(ctx context.Context) ([]model.PageSummary, error) {
	branch, err := r.readBranch(ctx)
	if err != nil {
		return nil, err
	}
	names, err := r.host.ListDir(ctx, "pages", branch)
	if err != nil {
		return nil, err
	}

	var items []model.PageSummary
	for _, name := range names {
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		doc, err := r.LoadDraft(ctx, id)
		if err != nil || doc == nil {
			logger.WithPage("storage", id).Warnf("skipping unreadable page in listing: %v", err)
			continue
		}
		items = append(items, model.PageSummary{ID: doc.ID, Title: doc.Title, Slug: doc.Slug})
	}
	return items, nil
}

func (r *RemoteBackend) SaveGlobals(ctx context.Context, doc *model.GlobalsDocument, message string) error {
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal globals: %w", err)
	}
	if message == "" {
		message = "Update globals via CMS"
	}
	return r.host.CommitContent(ctx, GlobalsPath, string(payload), message, r.drafts.DraftBranch(), true)
}

func (r *RemoteBackend) LoadGlobals(ctx context.Context) (*model.GlobalsDocument, error) {
	branch, err := r.readBranch(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := r.host.FileContent(ctx, GlobalsPath, branch)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var doc model.GlobalsDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode globals: %w", err)
	}
	return &doc, nil
}

func (r *RemoteBackend) HasUnpublishedChanges(ctx context.Context) (bool, error) {
	return r.drafts.HasDraftChanges(ctx)
}

func (r *RemoteBackend) Publish(ctx context.Context) error {
	return r.drafts.Publish(ctx)
}

// readBranch picks the branch reads go to: the draft branch when it exists,
// the default branch otherwise.
func (r *RemoteBackend) readBranch(ctx context.Context) (string, error) {
	has, err := r.drafts.HasDraftChanges(ctx)
	if err != nil {
		return "", fmt.Errorf("check draft branch: %w", err)
	}
	if has {
		return r.drafts.DraftBranch(), nil
	}
	return r.defaultBranch, nil
}
