package contentcache

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/gitpress/gitpress/internal/model"
)

// MemoryStore is the synchronous key-value backend. Entries are kept as
// marshaled JSON so reads hand out independent copies, never shared
// pointers into the cache.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string][]byte

	ttl      time.Duration
	now      func() time.Time
	validate *validator.Validate
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		items:    make(map[string][]byte),
		ttl:      ttl,
		now:      time.Now,
		validate: validator.New(),
	}
}

func (m *MemoryStore) get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.items[key]
	return raw, ok
}

func (m *MemoryStore) put(key string, raw []byte) {
	m.mu.Lock()
	m.items[key] = raw
	m.mu.Unlock()
}

// readEntry unmarshals the entry at key. Malformed stored JSON is a miss.
func (m *MemoryStore) readEntry(key string) (*Entry, bool) {
	raw, ok := m.get(key)
	if !ok {
		return nil, false
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false
	}
	return &e, true
}

func (m *MemoryStore) writeEntry(key string, data []byte, sha string) bool {
	e := Entry{Data: data, CommitSHA: sha, TimestampMS: m.now().UnixMilli()}
	raw, err := json.Marshal(e)
	if err != nil {
		return false
	}
	m.put(key, raw)
	return true
}

func (m *MemoryStore) CommitSHA() string {
	raw, ok := m.get(commitKey)
	if !ok {
		return ""
	}
	return string(raw)
}

func (m *MemoryStore) SetCommitSHA(sha string) bool {
	m.mu.Lock()
	m.items[commitKey] = []byte(sha)
	m.items[stampKey] = []byte(formatMillis(m.now().UnixMilli()))
	m.mu.Unlock()
	return true
}

// Valid implements the validity rule: the stored fingerprint matches the
// current remote head AND the cache is younger than the TTL.
func (m *MemoryStore) Valid(currentSHA string) bool {
	sha := m.CommitSHA()
	if sha == "" || sha != currentSHA {
		return false
	}
	raw, ok := m.get(stampKey)
	if !ok {
		return false
	}
	stamp, err := parseMillis(string(raw))
	if err != nil {
		return false
	}
	age := m.now().UnixMilli() - stamp
	return age < m.ttl.Milliseconds()
}

func (m *MemoryStore) Page(id string) (*model.PageDocument, bool) {
	e, ok := m.readEntry(PageKey(id))
	if !ok {
		return nil, false
	}
	var doc model.PageDocument
	if err := json.Unmarshal(e.Data, &doc); err != nil {
		return nil, false
	}
	return &doc, true
}

func (m *MemoryStore) SetPage(id string, doc *model.PageDocument, sha string) bool {
	data, err := json.Marshal(doc)
	if err != nil {
		return false
	}
	return m.writeEntry(PageKey(id), data, sha)
}

func (m *MemoryStore) Globals() (*model.GlobalsDocument, bool) {
	e, ok := m.readEntry(globalsKey)
	if !ok {
		return nil, false
	}
	var doc model.GlobalsDocument
	if err := json.Unmarshal(e.Data, &doc); err != nil {
		return nil, false
	}
	return &doc, true
}

func (m *MemoryStore) SetGlobals(doc *model.GlobalsDocument, sha string) bool {
	data, err := json.Marshal(doc)
	if err != nil {
		return false
	}
	return m.writeEntry(globalsKey, data, sha)
}

// PageList validates every element on the way out. One element failing the
// shape check discards the whole list rather than returning a partially
// corrupt result.
func (m *MemoryStore) PageList() ([]model.PageSummary, bool) {
	e, ok := m.readEntry(listKey)
	if !ok {
		return nil, false
	}
	items, ok := decodePageList(e.Data, m.validate)
	if !ok {
		return nil, false
	}
	return items, true
}

func (m *MemoryStore) SetPageList(items []model.PageSummary, sha string) bool {
	data, err := json.Marshal(items)
	if err != nil {
		return false
	}
	return m.writeEntry(listKey, data, sha)
}

func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		if strings.HasPrefix(k, pageKeyPrefix) {
			keys = append(keys, strings.TrimPrefix(k, pageKeyPrefix))
		}
	}
	return keys
}

func (m *MemoryStore) Remove(id string) {
	m.mu.Lock()
	delete(m.items, PageKey(id))
	m.mu.Unlock()
}

// InvalidateAll clears every document, the list and the bookkeeping entries.
func (m *MemoryStore) InvalidateAll() {
	m.mu.Lock()
	m.items = make(map[string][]byte)
	m.mu.Unlock()
}

func (m *MemoryStore) Close() error {
	return nil
}
