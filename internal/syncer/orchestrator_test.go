package syncer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/gitpress/gitpress/internal/contentcache"
	"github.com/gitpress/gitpress/internal/model"
	"github.com/gitpress/gitpress/internal/storage"
)

// stubBackend counts loads so cache hits are observable.
type stubBackend struct {
	pages       map[string]*model.PageDocument
	globals     *model.GlobalsDocument
	loadCalls   int
	globalCalls int
	listCalls   int
}

func (s *stubBackend) SavePage(ctx context.Context, id string, doc *model.PageDocument, message string) error {
	return nil
}

func (s *stubBackend) LoadDraft(ctx context.Context, id string) (*model.PageDocument, error) {
	s.loadCalls++
	return s.pages[id], nil
}

func (s *stubBackend) SaveGlobals(ctx context.Context, doc *model.GlobalsDocument, message string) error {
	return nil
}

func (s *stubBackend) LoadGlobals(ctx context.Context) (*model.GlobalsDocument, error) {
	s.globalCalls++
	return s.globals, nil
}

func (s *stubBackend) ListPages(ctx context.Context) ([]model.PageSummary, error) {
	s.listCalls++
	var items []model.PageSummary
	for id, doc := range s.pages {
		items = append(items, model.PageSummary{ID: id, Title: doc.Title, Slug: doc.Slug})
	}
	return items, nil
}

func (s *stubBackend) HasUnpublishedChanges(ctx context.Context) (bool, error) { return false, nil }
func (s *stubBackend) Publish(ctx context.Context) error                       { return nil }

// stubHost records commits and can fail selected paths.
type stubHost struct {
	commits  []string
	ensure   []bool
	failPath string
}

func (s *stubHost) CommitContent(ctx context.Context, path, content, message, branch string, ensureBranch bool) error {
	s.ensure = append(s.ensure, ensureBranch)
	if s.failPath != "" && path == s.failPath {
		return errors.New("commit rejected")
	}
	s.commits = append(s.commits, path)
	return nil
}

func (s *stubHost) FileContent(ctx context.Context, path, branch string) ([]byte, error) {
	return nil, nil
}

func (s *stubHost) ListDir(ctx context.Context, dir, branch string) ([]string, error) {
	return nil, nil
}

type stubDrafts struct {
	ensures   int
	ensureErr error
}

func (s *stubDrafts) DraftBranch() string { return "cms-draft" }

func (s *stubDrafts) EnsureDraftBranch(ctx context.Context) (*model.Branch, error) {
	s.ensures++
	if s.ensureErr != nil {
		return nil, s.ensureErr
	}
	return &model.Branch{Name: "cms-draft", HeadSHA: "commit-0"}, nil
}

func (s *stubDrafts) HasDraftChanges(ctx context.Context) (bool, error) { return true, nil }
func (s *stubDrafts) Publish(ctx context.Context) error                 { return nil }

type stubHeads struct {
	sha string
	err error
}

func (s *stubHeads) HeadSHA(ctx context.Context) (string, error) { return s.sha, s.err }

func page(id string) *model.PageDocument {
	return &model.PageDocument{ID: id, Title: "Page " + id, Slug: "/" + id}
}

func changeSet(ids ...string) *model.ChangeSet {
	cs := &model.ChangeSet{}
	for _, id := range ids {
		cs.Pages = append(cs.Pages, model.PageChange{ID: id, Document: page(id)})
	}
	return cs
}

func remoteOrchestrator(t *testing.T, host *stubHost, drafts *stubDrafts) *Orchestrator {
	t.Helper()
	backend := storage.NewRemoteBackend(host, drafts, "main")
	cache := contentcache.NewMemoryStore(contentcache.DefaultTTL)
	o, err := NewOrchestrator(backend, cache, host, drafts, nil, nil)
	if err != nil {
		t.Fatalf("failed to build orchestrator: %v", err)
	}
	return o
}

func TestBatchCommit_Remote_SingleEnsureUpFront(t *testing.T) {
	host := &stubHost{}
	drafts := &stubDrafts{}
	o := remoteOrchestrator(t, host, drafts)

	cs := changeSet("home", "about")
	cs.Globals = &model.GlobalsDocument{SiteTitle: "Acme"}

	result, err := o.BatchCommit(context.Background(), cs, "batch edit")
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}

	if drafts.ensures != 1 {
		t.Errorf("expected exactly one ensure call, got %d", drafts.ensures)
	}
	for i, ensured := range host.ensure {
		if ensured {
			t.Errorf("commit %d requested a per-file ensure", i)
		}
	}
	if len(result.Succeeded) != 3 {
		t.Errorf("expected 3 committed files, got %v", result.Succeeded)
	}
	if len(host.commits) != 3 || host.commits[0] != "pages/home.json" {
		t.Errorf("unexpected commit order: %v", host.commits)
	}
}

func TestBatchCommit_Remote_PartialFailureIsReported(t *testing.T) {
	host := &stubHost{failPath: "pages/about.json"}
	drafts := &stubDrafts{}
	o := remoteOrchestrator(t, host, drafts)

	result, err := o.BatchCommit(context.Background(), changeSet("home", "about", "contact"), "batch edit")
	if err == nil {
		t.Fatal("expected batch error")
	}

	if len(result.Succeeded) != 2 {
		t.Errorf("expected 2 succeeded files, got %v", result.Succeeded)
	}
	if len(result.Failed) != 1 || result.Failed[0].Path != "pages/about.json" {
		t.Errorf("expected pages/about.json to fail, got %v", result.Failed)
	}
	// No rollback: the files that landed stay landed.
	if !strings.Contains(err.Error(), "pages/about.json") {
		t.Errorf("expected error to name the failed file, got %v", err)
	}
}

func TestBatchCommit_Remote_EnsureFailureFailsWholeSet(t *testing.T) {
	host := &stubHost{}
	drafts := &stubDrafts{ensureErr: errors.New("remote down")}
	o := remoteOrchestrator(t, host, drafts)

	result, err := o.BatchCommit(context.Background(), changeSet("home", "about"), "batch edit")
	if err == nil {
		t.Fatal("expected batch error")
	}
	if len(result.Succeeded) != 0 || len(result.Failed) != 2 {
		t.Errorf("expected every file failed, got %+v", result)
	}
	if len(host.commits) != 0 {
		t.Errorf("expected no commits after ensure failure, got %v", host.commits)
	}
}

func TestBatchCommit_RejectsDuplicateIDs(t *testing.T) {
	o := remoteOrchestrator(t, &stubHost{}, &stubDrafts{})

	_, err := o.BatchCommit(context.Background(), changeSet("home", "home"), "dup")
	if err == nil {
		t.Error("expected error for duplicate page ids")
	}
}

func TestBatchCommit_Local_WritesAllFilesBeforeMirroring(t *testing.T) {
	host := &stubHost{}
	drafts := &stubDrafts{}
	mirror := storage.NewRemoteBackend(host, drafts, "main")
	local, err := storage.NewLocalBackend(t.TempDir(), mirror)
	if err != nil {
		t.Fatalf("failed to build local backend: %v", err)
	}
	cache := contentcache.NewMemoryStore(contentcache.DefaultTTL)
	o, _ := NewOrchestrator(local, cache, host, drafts, nil, nil)

	result, err := o.BatchCommit(context.Background(), changeSet("home", "about"), "batch edit")
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if len(result.Succeeded) != 2 {
		t.Errorf("expected 2 local writes, got %v", result.Succeeded)
	}
	// Mirror ran after the local phase, one commit per page.
	if len(host.commits) != 2 {
		t.Errorf("expected 2 mirror commits, got %v", host.commits)
	}

	got, err := local.LoadDraft(context.Background(), "home")
	if err != nil || got == nil {
		t.Fatalf("expected page on disk, got %v %v", got, err)
	}
}

func TestBatchCommit_Local_MirrorFailureDoesNotFailBatch(t *testing.T) {
	host := &stubHost{failPath: "pages/home.json"}
	mirror := storage.NewRemoteBackend(host, &stubDrafts{}, "main")
	local, _ := storage.NewLocalBackend(t.TempDir(), mirror)
	cache := contentcache.NewMemoryStore(contentcache.DefaultTTL)
	o, _ := NewOrchestrator(local, cache, host, &stubDrafts{}, nil, nil)

	result, err := o.BatchCommit(context.Background(), changeSet("home"), "batch edit")
	if err != nil {
		t.Fatalf("mirror failure must not fail the batch, got %v", err)
	}
	if len(result.Succeeded) != 1 {
		t.Errorf("expected local write to count as success, got %+v", result)
	}
}

func TestLoadPage_CacheHitSkipsBackend(t *testing.T) {
	backend := &stubBackend{pages: map[string]*model.PageDocument{"home": page("home")}}
	cache := contentcache.NewMemoryStore(contentcache.DefaultTTL)
	heads := &stubHeads{sha: "head-1"}
	o, _ := NewOrchestrator(backend, cache, nil, nil, heads, nil)

	// First load: miss, backend consulted, cache repopulated.
	got, err := o.LoadPage(context.Background(), "home")
	if err != nil || got == nil {
		t.Fatalf("load failed: %v %v", got, err)
	}
	if backend.loadCalls != 1 {
		t.Fatalf("expected one backend load, got %d", backend.loadCalls)
	}

	// Second load: cache hit, backend untouched.
	got, err = o.LoadPage(context.Background(), "home")
	if err != nil || got == nil {
		t.Fatalf("load failed: %v %v", got, err)
	}
	if backend.loadCalls != 1 {
		t.Errorf("expected cache hit, backend was called %d times", backend.loadCalls)
	}
}

func TestLoadPage_FingerprintChangeInvalidatesCache(t *testing.T) {
	backend := &stubBackend{pages: map[string]*model.PageDocument{"home": page("home")}}
	cache := contentcache.NewMemoryStore(contentcache.DefaultTTL)
	heads := &stubHeads{sha: "head-1"}
	o, _ := NewOrchestrator(backend, cache, nil, nil, heads, nil)

	if _, err := o.LoadPage(context.Background(), "home"); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	// Someone published: the fingerprint moves, cached entries are stale.
	heads.sha = "head-2"
	if _, err := o.LoadPage(context.Background(), "home"); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if backend.loadCalls != 2 {
		t.Errorf("expected backend reload after fingerprint change, got %d calls", backend.loadCalls)
	}
	if cache.CommitSHA() != "head-2" {
		t.Errorf("expected cache retagged with new fingerprint, got %q", cache.CommitSHA())
	}
}

func TestLoadPage_HeadLookupFailureBypassesCache(t *testing.T) {
	backend := &stubBackend{pages: map[string]*model.PageDocument{"home": page("home")}}
	cache := contentcache.NewMemoryStore(contentcache.DefaultTTL)
	heads := &stubHeads{err: errors.New("remote unreachable")}
	o, _ := NewOrchestrator(backend, cache, nil, nil, heads, nil)

	got, err := o.LoadPage(context.Background(), "home")
	if err != nil {
		t.Fatalf("head failure must degrade, not fail the load: %v", err)
	}
	if got == nil {
		t.Fatal("expected document from backend")
	}
}

func TestLoadGlobals_CachedAfterFirstLoad(t *testing.T) {
	backend := &stubBackend{globals: &model.GlobalsDocument{SiteTitle: "Acme"}}
	cache := contentcache.NewMemoryStore(contentcache.DefaultTTL)
	heads := &stubHeads{sha: "head-1"}
	o, _ := NewOrchestrator(backend, cache, nil, nil, heads, nil)

	for i := 0; i < 2; i++ {
		got, err := o.LoadGlobals(context.Background())
		if err != nil || got == nil || got.SiteTitle != "Acme" {
			t.Fatalf("load %d failed: %v %v", i, got, err)
		}
	}
	if backend.globalCalls != 1 {
		t.Errorf("expected one backend load, got %d", backend.globalCalls)
	}
}

func TestListPages_CachedAfterFirstLoad(t *testing.T) {
	backend := &stubBackend{pages: map[string]*model.PageDocument{
		"home":  page("home"),
		"about": page("about"),
	}}
	cache := contentcache.NewMemoryStore(contentcache.DefaultTTL)
	heads := &stubHeads{sha: "head-1"}
	o, _ := NewOrchestrator(backend, cache, nil, nil, heads, nil)

	for i := 0; i < 2; i++ {
		items, err := o.ListPages(context.Background())
		if err != nil || len(items) != 2 {
			t.Fatalf("list %d failed: %v %v", i, items, err)
		}
	}
	if backend.listCalls != 1 {
		t.Errorf("expected one backend listing, got %d", backend.listCalls)
	}
}

func TestFlushPending(t *testing.T) {
	queue, err := contentcache.NewSQLiteStore(t.TempDir()+"/cache.db", contentcache.DefaultTTL)
	if err != nil {
		t.Fatalf("failed to open queue store: %v", err)
	}
	defer queue.Close()

	queue.EnqueueWrite("pages/home.json", []byte(`{"id":"home"}`))
	queue.EnqueueWrite("pages/about.json", []byte(`{"id":"about"}`))

	host := &stubHost{failPath: "pages/about.json"}
	drafts := &stubDrafts{}
	backend := storage.NewRemoteBackend(host, drafts, "main")
	o, _ := NewOrchestrator(backend, queue, host, drafts, nil, queue)

	err = o.FlushPending(context.Background(), "flush queued edits")
	if err == nil {
		t.Fatal("expected error for the entry that failed to flush")
	}

	pending := queue.PendingWrites()
	if len(pending) != 1 || pending[0].Key != "pages/about.json" {
		t.Errorf("expected only the failed entry to stay queued, got %+v", pending)
	}

	// Second flush with the failure gone drains the queue.
	host.failPath = ""
	if err := o.FlushPending(context.Background(), "flush queued edits"); err != nil {
		t.Fatalf("second flush failed: %v", err)
	}
	if len(queue.PendingWrites()) != 0 {
		t.Error("expected empty queue after second flush")
	}
}
