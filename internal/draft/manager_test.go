package draft

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/gitpress/gitpress/internal/hosting"
	"github.com/gitpress/gitpress/internal/model"
)

// MockHostingAPI is a mock implementation of the HostingAPI interface
type MockHostingAPI struct {
	mock.Mock
}

func (m *MockHostingAPI) BranchExists(ctx context.Context, name string) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}

func (m *MockHostingAPI) EnsureBranch(ctx context.Context, name string) (*model.Branch, error) {
	args := m.Called(ctx, name)
	b, _ := args.Get(0).(*model.Branch)
	return b, args.Error(1)
}

func (m *MockHostingAPI) MergeBranch(ctx context.Context, from, into string) error {
	args := m.Called(ctx, from, into)
	return args.Error(0)
}

func TestNewManager_Defaults(t *testing.T) {
	m, err := NewManager(&MockHostingAPI{}, "", "main")
	assert.NoError(t, err)
	assert.Equal(t, DefaultBranchName, m.DraftBranch())
}

func TestNewManager_RequiresClientAndDefaultBranch(t *testing.T) {
	_, err := NewManager(nil, "cms-draft", "main")
	assert.Error(t, err)

	_, err = NewManager(&MockHostingAPI{}, "cms-draft", "")
	assert.Error(t, err)
}

func TestEnsureDraftBranch(t *testing.T) {
	mockClient := &MockHostingAPI{}
	mockClient.On("EnsureBranch", mock.Anything, "cms-draft").
		Return(&model.Branch{Name: "cms-draft", HeadSHA: "commit-0"}, nil)

	m, _ := NewManager(mockClient, "cms-draft", "main")

	b, err := m.EnsureDraftBranch(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "cms-draft", b.Name)
	mockClient.AssertExpectations(t)
}

func TestHasDraftChanges(t *testing.T) {
	mockClient := &MockHostingAPI{}
	mockClient.On("BranchExists", mock.Anything, "cms-draft").Return(false, nil).Once()
	mockClient.On("BranchExists", mock.Anything, "cms-draft").Return(true, nil).Once()

	m, _ := NewManager(mockClient, "cms-draft", "main")

	has, err := m.HasDraftChanges(context.Background())
	assert.NoError(t, err)
	assert.False(t, has, "no draft changes before the branch exists")

	has, _ = m.HasDraftChanges(context.Background())
	assert.True(t, has, "draft changes once the branch exists")
	mockClient.AssertExpectations(t)
}

func TestPublish_MergesDraftIntoDefault(t *testing.T) {
	mockClient := &MockHostingAPI{}
	mockClient.On("BranchExists", mock.Anything, "cms-draft").Return(true, nil)
	mockClient.On("MergeBranch", mock.Anything, "cms-draft", "main").Return(nil)

	m, _ := NewManager(mockClient, "cms-draft", "main")

	assert.NoError(t, m.Publish(context.Background()))
	mockClient.AssertExpectations(t)
}

func TestPublish_NoDraftBranchIsNoop(t *testing.T) {
	mockClient := &MockHostingAPI{}
	mockClient.On("BranchExists", mock.Anything, "cms-draft").Return(false, nil)

	m, _ := NewManager(mockClient, "cms-draft", "main")

	assert.NoError(t, m.Publish(context.Background()))
	mockClient.AssertNotCalled(t, "MergeBranch", mock.Anything, mock.Anything, mock.Anything)
}

func TestPublish_KeepsDraftBranchAfterMerge(t *testing.T) {
	mockClient := &MockHostingAPI{}
	mockClient.On("BranchExists", mock.Anything, "cms-draft").Return(true, nil)
	mockClient.On("MergeBranch", mock.Anything, "cms-draft", "main").Return(nil)

	m, _ := NewManager(mockClient, "cms-draft", "main")

	assert.NoError(t, m.Publish(context.Background()))
	// The branch keeps accumulating edits; nothing may delete it on publish.
	mockClient.AssertNotCalled(t, "DeleteBranch", mock.Anything, mock.Anything)
}

func TestPublish_MergeConflictSurfaces(t *testing.T) {
	mockClient := &MockHostingAPI{}
	mockClient.On("BranchExists", mock.Anything, "cms-draft").Return(true, nil)
	mockClient.On("MergeBranch", mock.Anything, "cms-draft", "main").Return(hosting.ErrMergeConflict)

	m, _ := NewManager(mockClient, "cms-draft", "main")

	err := m.Publish(context.Background())
	assert.Error(t, err)
	assert.True(t, errors.Is(err, hosting.ErrMergeConflict))
}
