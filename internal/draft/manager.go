// Package draft owns the lifecycle of the single shared draft branch. Every
// editor commits to the same branch; publishing merges it into the default
// branch.
package draft

import (
	"context"
	"errors"
	"fmt"

	"github.com/gitpress/gitpress/internal/logger"
	"github.com/gitpress/gitpress/internal/model"
)

// DefaultBranchName is the well-known shared draft branch. There is no
// per-user namespacing: a single branch avoids fan-out merge conflicts.
const DefaultBranchName = "cms-draft"

// HostingAPI is the slice of the hosting client the manager needs.
type HostingAPI interface {
	BranchExists(ctx context.Context, name string) (bool, error)
	EnsureBranch(ctx context.Context, name string) (*model.Branch, error)
	MergeBranch(ctx context.Context, from, into string) error
}

// Manager layers the draft lifecycle on top of the hosting client.
type Manager struct {
	client        HostingAPI
	branchName    string
	defaultBranch string
}

func NewManager(client HostingAPI, branchName, defaultBranch string) (*Manager, error) {
	if client == nil {
		return nil, errors.New("hosting client is nil")
	}
	if branchName == "" {
		branchName = DefaultBranchName
	}
	if defaultBranch == "" {
		return nil, errors.New("default branch is required")
	}
	return &Manager{client: client, branchName: branchName, defaultBranch: defaultBranch}, nil
}

// DraftBranch returns the shared draft branch name. Same value for every
// caller.
func (m *Manager) DraftBranch() string {
	return m.branchName
}

// EnsureDraftBranch creates the draft branch from the default branch head if
// it does not exist yet.
func (m *Manager) EnsureDraftBranch(ctx context.Context) (*model.Branch, error) {
	return m.client.EnsureBranch(ctx, m.branchName)
}

// HasDraftChanges reports whether unpublished edits exist. Branch existence
// is the proxy; content is never diffed.
func (m *Manager) HasDraftChanges(ctx context.Context) (bool, error) {
	return m.client.BranchExists(ctx, m.branchName)
}

// Publish merges the draft branch into the default branch. A merge conflict
// surfaces verbatim to the caller. The draft branch is intentionally kept
// after the merge so subsequent edits keep accumulating on the same branch.
func (m *Manager) Publish(ctx context.Context) error {
	exists, err := m.client.BranchExists(ctx, m.branchName)
	if err != nil {
		return fmt.Errorf("check draft branch: %w", err)
	}
	if !exists {
		logger.WithComponent("draft").Info("publish requested with no draft branch, nothing to do")
		return nil
	}

	if err := m.client.MergeBranch(ctx, m.branchName, m.defaultBranch); err != nil {
		return err
	}
	logger.WithComponent("draft").Infof("published %s into %s", m.branchName, m.defaultBranch)
	return nil
}
