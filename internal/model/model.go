package model

import "fmt"

// RepositoryRef identifies the remote content repository.
// Immutable for a process lifetime.
type RepositoryRef struct {
	Owner string `json:"owner" validate:"required"`
	Name  string `json:"name" validate:"required"`
}

func (r RepositoryRef) String() string {
	return r.Owner + "/" + r.Name
}

// Branch is a remote ref with its current head commit.
type Branch struct {
	Name    string `json:"name"`
	HeadSHA string `json:"headSha"`
}

// FileBlob is one file as the hosting API sees it. SHA is empty when the
// file does not exist yet; when present it is the optimistic-concurrency
// token that must accompany an overwrite.
type FileBlob struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	SHA     string `json:"sha,omitempty"`
}

// PageDocument is the persisted structure of one editable page.
type PageDocument struct {
	ID        string         `json:"id" validate:"required"`
	Title     string         `json:"title"`
	Slug      string         `json:"slug"`
	Blocks    map[string]any `json:"blocks"`
	UpdatedAt int64          `json:"updatedAt"` // Unix timestamp in milliseconds
}

// GlobalsDocument holds site-wide variables shared by every page.
type GlobalsDocument struct {
	SiteTitle string         `json:"siteTitle"`
	Variables map[string]any `json:"variables"`
	UpdatedAt int64          `json:"updatedAt"`
}

// PageSummary is the shape cached in the page list. Every element read back
// from the cache is validated against these tags; one bad element discards
// the whole list.
type PageSummary struct {
	ID    string `json:"id" validate:"required"`
	Title string `json:"title"`
	Slug  string `json:"slug" validate:"required"`
}

// PageChange pairs a page id with the document to commit for it.
type PageChange struct {
	ID       string        `json:"id" validate:"required"`
	Document *PageDocument `json:"document" validate:"required"`
}

// ChangeSet is one logical unit of editorial work committed together.
type ChangeSet struct {
	Pages   []PageChange     `json:"pages" validate:"dive"`
	Globals *GlobalsDocument `json:"globals,omitempty"`
}

// Validate rejects changesets with duplicate page ids.
func (cs *ChangeSet) Validate() error {
	seen := make(map[string]struct{}, len(cs.Pages))
	for _, p := range cs.Pages {
		if p.ID == "" {
			return fmt.Errorf("changeset contains a page with an empty id")
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("changeset contains duplicate page id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}
