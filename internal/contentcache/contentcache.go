// Package contentcache keys cached content on the remote commit fingerprint.
// An entry is served only while the stored fingerprint matches the current
// remote head and the entry is younger than the validity window; otherwise it
// is treated as absent. Corrupt stored data is also treated as absent, never
// as an error, so a caller sees the same thing on miss and on corruption.
package contentcache

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/gitpress/gitpress/internal/model"
)

// Key namespace. One entry per page id, one for globals, one for the page
// list, plus two bookkeeping entries for the commit sha and the timestamp.
const (
	keyPrefix     = "cms:"
	pageKeyPrefix = keyPrefix + "page:"
	globalsKey    = keyPrefix + "globals"
	listKey       = keyPrefix + "page-list"
	commitKey     = keyPrefix + "commit-sha"
	stampKey      = keyPrefix + "timestamp"
)

// DefaultTTL is the validity window applied when none is configured.
const DefaultTTL = 24 * time.Hour

// Entry associates cached data with the remote state it was fetched against.
type Entry struct {
	Data        []byte `json:"data"`
	CommitSHA   string `json:"commitSha"`
	TimestampMS int64  `json:"timestampMs"`
}

// Store is the cache contract. Both backends behave identically apart from
// I/O style: writes report failure as false and never error, reads report
// absence (or corruption) as a false second return.
type Store interface {
	CommitSHA() string
	SetCommitSHA(sha string) bool
	Valid(currentSHA string) bool

	Page(id string) (*model.PageDocument, bool)
	SetPage(id string, doc *model.PageDocument, sha string) bool
	Globals() (*model.GlobalsDocument, bool)
	SetGlobals(doc *model.GlobalsDocument, sha string) bool
	PageList() ([]model.PageSummary, bool)
	SetPageList(items []model.PageSummary, sha string) bool

	Keys() []string
	Remove(id string)
	InvalidateAll()

	Close() error
}

// PageKey returns the storage key for a page id.
func PageKey(id string) string {
	return pageKeyPrefix + id
}

func formatMillis(ms int64) string {
	return strconv.FormatInt(ms, 10)
}

func parseMillis(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

// decodePageList unmarshals a stored page list and checks every element
// against the PageSummary shape. Any failure discards the whole list.
func decodePageList(data []byte, v *validator.Validate) ([]model.PageSummary, bool) {
	var items []model.PageSummary
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, false
	}
	for i := range items {
		if err := v.Struct(&items[i]); err != nil {
			return nil, false
		}
	}
	return items, true
}
