// Package storage routes save/load/publish calls to either the local
// filesystem (development) or the shared draft branch on the hosting API
// (production). The mode is resolved once at construction; nothing here
// probes the environment per call.
package storage

import (
	"context"
	"fmt"

	"github.com/gitpress/gitpress/internal/config"
	"github.com/gitpress/gitpress/internal/model"
)

// GlobalsPath is the repository-relative location of the globals document.
const GlobalsPath = "globals.json"

// PagePath returns the repository-relative location of a page document.
func PagePath(id string) string {
	return "pages/" + id + ".json"
}

// Backend is the uniform save/load/publish contract. Loads return (nil, nil)
// for absent documents; absence is never an error.
type Backend interface {
	SavePage(ctx context.Context, id string, doc *model.PageDocument, message string) error
	LoadDraft(ctx context.Context, id string) (*model.PageDocument, error)
	ListPages(ctx context.Context) ([]model.PageSummary, error)
	SaveGlobals(ctx context.Context, doc *model.GlobalsDocument, message string) error
	LoadGlobals(ctx context.Context) (*model.GlobalsDocument, error)
	HasUnpublishedChanges(ctx context.Context) (bool, error)
	Publish(ctx context.Context) error
}

// ContentHost is the slice of the hosting client the remote backend uses.
type ContentHost interface {
	CommitContent(ctx context.Context, path, content, message, branch string, ensureBranch bool) error
	FileContent(ctx context.Context, path, branch string) ([]byte, error)
	ListDir(ctx context.Context, dir, branch string) ([]string, error)
}

// DraftManager is the slice of the draft lifecycle the remote backend uses.
type DraftManager interface {
	DraftBranch() string
	EnsureDraftBranch(ctx context.Context) (*model.Branch, error)
	HasDraftChanges(ctx context.Context) (bool, error)
	Publish(ctx context.Context) error
}

// NewBackendFromConfig selects the backend once from explicit configuration.
// In local mode host and drafts may be nil unless mirroring is enabled.
func NewBackendFromConfig(cfg *config.Config, host ContentHost, drafts DraftManager, defaultBranch string) (Backend, error) {
	switch cfg.Storage.Mode {
	case config.ModeLocal:
		var mirror *RemoteBackend
		if cfg.Storage.MirrorDev && host != nil && drafts != nil {
			mirror = NewRemoteBackend(host, drafts, defaultBranch)
		}
		return NewLocalBackend(cfg.Storage.ContentDir, mirror)
	case config.ModeGitHub:
		if host == nil || drafts == nil {
			return nil, fmt.Errorf("github mode requires a hosting client and draft manager")
		}
		return NewRemoteBackend(host, drafts, defaultBranch), nil
	default:
		return nil, fmt.Errorf("unknown storage mode: %s (supported: %s, %s)",
			cfg.Storage.Mode, config.ModeLocal, config.ModeGitHub)
	}
}
