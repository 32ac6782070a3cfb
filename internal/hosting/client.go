package hosting

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/go-github/v48/github"
	"golang.org/x/oauth2"

	"github.com/gitpress/gitpress/internal/logger"
	"github.com/gitpress/gitpress/internal/model"
)

// branchExistsTTL bounds how long a branch-existence probe is trusted.
const branchExistsTTL = 30 * time.Second

// Identity is the authenticated user behind the bearer credential.
type Identity struct {
	Login string `json:"login"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// branchProbe is one cached existence check.
type branchProbe struct {
	exists    bool
	checkedAt time.Time
}

// Client wraps the hosting REST API for one content repository. It keeps two
// short-lived caches (authenticated identity, branch existence) as instance
// fields with an injectable clock, so tests control time and no state leaks
// across instances.
type Client struct {
	gh            *github.Client
	repo          model.RepositoryRef
	defaultBranch string
	callTimeout   time.Duration

	now func() time.Time

	mu       sync.Mutex
	identity *Identity
	branches map[string]branchProbe
}

// NewClient builds a client for the given repository using an opaque bearer
// credential. The credential is consumed as-is per call; it is never stored
// elsewhere or refreshed here.
func NewClient(repo model.RepositoryRef, token, defaultBranch string, callTimeout time.Duration) *Client {
	httpClient := &http.Client{}
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(context.Background(), ts)
	}

	return &Client{
		gh:            github.NewClient(httpClient),
		repo:          repo,
		defaultBranch: defaultBranch,
		callTimeout:   callTimeout,
		now:           time.Now,
		branches:      make(map[string]branchProbe),
	}
}

// callCtx applies the configured per-call timeout.
func (c *Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout > 0 {
		return context.WithTimeout(ctx, c.callTimeout)
	}
	return context.WithCancel(ctx)
}

// AuthenticatedUser resolves the identity behind the credential. The result
// is cached for the lifetime of the client after the first success.
func (c *Client) AuthenticatedUser(ctx context.Context) (*Identity, error) {
	c.mu.Lock()
	if c.identity != nil {
		id := *c.identity
		c.mu.Unlock()
		return &id, nil
	}
	c.mu.Unlock()

	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	user, resp, err := c.gh.Users.Get(ctx, "")
	if err != nil {
		return nil, classify(resp, err, "get authenticated user")
	}

	id := &Identity{
		Login: user.GetLogin(),
		Name:  user.GetName(),
		Email: user.GetEmail(),
	}

	c.mu.Lock()
	c.identity = id
	c.mu.Unlock()

	out := *id
	return &out, nil
}

// BranchExists reports whether the ref exists. A 404 is a valid "false", not
// an error. Probes younger than 30s are answered from cache.
func (c *Client) BranchExists(ctx context.Context, name string) (bool, error) {
	c.mu.Lock()
	if probe, ok := c.branches[name]; ok && c.now().Sub(probe.checkedAt) < branchExistsTTL {
		c.mu.Unlock()
		return probe.exists, nil
	}
	c.mu.Unlock()

	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	_, resp, err := c.gh.Git.GetRef(ctx, c.repo.Owner, c.repo.Name, "heads/"+name)
	exists := err == nil
	if err != nil {
		cerr := classify(resp, err, "get ref heads/"+name)
		if !IsNotFound(cerr) {
			return false, cerr
		}
	}

	c.mu.Lock()
	c.branches[name] = branchProbe{exists: exists, checkedAt: c.now()}
	c.mu.Unlock()
	return exists, nil
}

// forgetBranch drops the cached existence entry for name.
func (c *Client) forgetBranch(name string) {
	c.mu.Lock()
	delete(c.branches, name)
	c.mu.Unlock()
}

// branchRef fetches the ref and returns it as a Branch.
func (c *Client) branchRef(ctx context.Context, name string) (*model.Branch, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	ref, resp, err := c.gh.Git.GetRef(ctx, c.repo.Owner, c.repo.Name, "heads/"+name)
	if err != nil {
		return nil, classify(resp, err, "get ref heads/"+name)
	}
	return &model.Branch{Name: name, HeadSHA: ref.GetObject().GetSHA()}, nil
}

// HeadSHA returns the default branch's current head commit. This is the
// commit fingerprint clients key their caches on.
func (c *Client) HeadSHA(ctx context.Context) (string, error) {
	b, err := c.branchRef(ctx, c.defaultBranch)
	if err != nil {
		return "", err
	}
	return b.HeadSHA, nil
}

// EnsureBranch creates the branch from the default branch's head if it does
// not exist yet. Calling it for an existing branch is a no-op that returns
// the branch's current head.
func (c *Client) EnsureBranch(ctx context.Context, name string) (*model.Branch, error) {
	exists, err := c.BranchExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return c.branchRef(ctx, name)
	}

	base, err := c.branchRef(ctx, c.defaultBranch)
	if err != nil {
		return nil, fmt.Errorf("resolve default branch %q: %w", c.defaultBranch, err)
	}

	createCtx, cancel := c.callCtx(ctx)
	defer cancel()

	ref := &github.Reference{
		Ref:    github.String("refs/heads/" + name),
		Object: &github.GitObject{SHA: github.String(base.HeadSHA)},
	}
	created, resp, err := c.gh.Git.CreateRef(createCtx, c.repo.Owner, c.repo.Name, ref)
	if err != nil {
		cerr := classify(resp, err, "create ref heads/"+name)
		if IsConflict(cerr) {
			// Someone else created the branch between our probe and the
			// create. Treat it as ours.
			c.forgetBranch(name)
			return c.branchRef(ctx, name)
		}
		return nil, cerr
	}

	c.forgetBranch(name)
	logger.WithComponent("hosting").Infof("created branch %s at %s", name, created.GetObject().GetSHA())
	return &model.Branch{Name: name, HeadSHA: created.GetObject().GetSHA()}, nil
}

// FileSHA returns the blob sha of path on branch, or "" when the file does
// not exist. The sha is the token a subsequent write must carry.
func (c *Client) FileSHA(ctx context.Context, path, branch string) (string, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	fc, _, resp, err := c.gh.Repositories.GetContents(ctx, c.repo.Owner, c.repo.Name, path,
		&github.RepositoryContentGetOptions{Ref: branch})
	if err != nil {
		cerr := classify(resp, err, "get contents "+path)
		if IsNotFound(cerr) {
			return "", nil
		}
		return "", cerr
	}
	if fc == nil {
		return "", fmt.Errorf("get contents %s: path is a directory", path)
	}
	return fc.GetSHA(), nil
}

// CommitContent writes one file to branch. The three steps run strictly in
// order: ensure the branch, fetch the file's current sha, then write with
// that sha. The sha is never reused across calls; concurrency control is the
// remote's sha check, which surfaces here as a Conflict error.
func (c *Client) CommitContent(ctx context.Context, path, content, message, branch string, ensureBranch bool) error {
	if ensureBranch {
		if _, err := c.EnsureBranch(ctx, branch); err != nil {
			return fmt.Errorf("ensure branch %q: %w", branch, err)
		}
	}

	sha, err := c.FileSHA(ctx, path, branch)
	if err != nil {
		return fmt.Errorf("fetch sha for %s: %w", path, err)
	}

	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: []byte(content),
		Branch:  github.String(branch),
	}

	writeCtx, cancel := c.callCtx(ctx)
	defer cancel()

	if sha == "" {
		_, resp, err := c.gh.Repositories.CreateFile(writeCtx, c.repo.Owner, c.repo.Name, path, opts)
		return classify(resp, err, "create "+path)
	}

	opts.SHA = github.String(sha)
	_, resp, err := c.gh.Repositories.UpdateFile(writeCtx, c.repo.Owner, c.repo.Name, path, opts)
	return classify(resp, err, "update "+path)
}

// MergeBranch merges from into into. An unmergeable state is reported as
// ErrMergeConflict and surfaced verbatim; nothing is resolved here.
func (c *Client) MergeBranch(ctx context.Context, from, into string) error {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	req := &github.RepositoryMergeRequest{
		Base:          github.String(into),
		Head:          github.String(from),
		CommitMessage: github.String(fmt.Sprintf("Merge %s into %s", from, into)),
	}
	_, resp, err := c.gh.Repositories.Merge(ctx, c.repo.Owner, c.repo.Name, req)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusConflict {
			return fmt.Errorf("merge %s into %s: %w", from, into, ErrMergeConflict)
		}
		return classify(resp, err, fmt.Sprintf("merge %s into %s", from, into))
	}
	return nil
}

// DeleteBranch removes the ref and drops its cached existence entry.
func (c *Client) DeleteBranch(ctx context.Context, name string) error {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	resp, err := c.gh.Git.DeleteRef(ctx, c.repo.Owner, c.repo.Name, "heads/"+name)
	if err != nil {
		return classify(resp, err, "delete ref heads/"+name)
	}
	c.forgetBranch(name)
	return nil
}

// FileContent reads and decodes path on branch. A missing file is (nil, nil).
// A file that exists but does not hold valid JSON is a fatal error: callers
// must be able to tell corruption apart from absence.
func (c *Client) FileContent(ctx context.Context, path, branch string) ([]byte, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	fc, _, resp, err := c.gh.Repositories.GetContents(ctx, c.repo.Owner, c.repo.Name, path,
		&github.RepositoryContentGetOptions{Ref: branch})
	if err != nil {
		cerr := classify(resp, err, "get contents "+path)
		if IsNotFound(cerr) {
			return nil, nil
		}
		return nil, cerr
	}
	if fc == nil {
		return nil, fmt.Errorf("get contents %s: path is a directory", path)
	}

	var raw string
	if fc.Content != nil {
		switch fc.GetEncoding() {
		case "base64":
			raw, err = DecodeContent(*fc.Content)
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", path, err)
			}
		default:
			raw = *fc.Content
		}
	}

	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("parse %s@%s: stored content is not valid JSON", path, branch)
	}
	return []byte(raw), nil
}

// ListDir returns the file names directly under dir on branch. A missing
// directory is an empty listing, not an error.
func (c *Client) ListDir(ctx context.Context, dir, branch string) ([]string, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	fc, entries, resp, err := c.gh.Repositories.GetContents(ctx, c.repo.Owner, c.repo.Name, dir,
		&github.RepositoryContentGetOptions{Ref: branch})
	if err != nil {
		cerr := classify(resp, err, "list contents "+dir)
		if IsNotFound(cerr) {
			return nil, nil
		}
		return nil, cerr
	}
	if fc != nil {
		return nil, fmt.Errorf("list contents %s: path is a file", dir)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.GetType() == "file" {
			names = append(names, e.GetName())
		}
	}
	return names, nil
}
