package contentcache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/klauspost/compress/zstd"
	_ "github.com/mattn/go-sqlite3"

	"github.com/gitpress/gitpress/internal/logger"
	"github.com/gitpress/gitpress/internal/model"
)

// SQLiteStore is the asynchronous structured backend. Documents are stored
// zstd-compressed. On top of the shared cache contract it keeps a write
// queue, so edits made while the remote is unreachable survive a restart and
// can be flushed later.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time

	enc      *zstd.Encoder
	dec      *zstd.Decoder
	validate *validator.Validate
}

// PendingWrite is one queued offline edit.
type PendingWrite struct {
	Key      string
	Data     []byte
	QueuedAt int64 // Unix milliseconds
}

func NewSQLiteStore(path string, ttl time.Duration) (*SQLiteStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS cache_entries (
    key TEXT PRIMARY KEY,
    data BLOB,
    commit_sha TEXT,
    ts_ms INTEGER
);

CREATE TABLE IF NOT EXISTS cache_meta (
    key TEXT PRIMARY KEY,
    value TEXT
);

CREATE TABLE IF NOT EXISTS pending_writes (
    key TEXT PRIMARY KEY,
    data BLOB,
    queued_at_ms INTEGER
);`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init compressor: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init decompressor: %w", err)
	}

	return &SQLiteStore{
		db:       db,
		ttl:      ttl,
		now:      time.Now,
		enc:      enc,
		dec:      dec,
		validate: validator.New(),
	}, nil
}

func (s *SQLiteStore) readEntry(key string) (*Entry, bool) {
	var compressed []byte
	var sha string
	var ts int64
	row := s.db.QueryRow(`SELECT data, commit_sha, ts_ms FROM cache_entries WHERE key = ?`, key)
	if err := row.Scan(&compressed, &sha, &ts); err != nil {
		return nil, false
	}
	data, err := s.dec.DecodeAll(compressed, nil)
	if err != nil {
		// Corrupt blob: a miss, never an error.
		return nil, false
	}
	return &Entry{Data: data, CommitSHA: sha, TimestampMS: ts}, true
}

func (s *SQLiteStore) writeEntry(key string, data []byte, sha string) bool {
	compressed := s.enc.EncodeAll(data, nil)
	_, err := s.db.Exec(
		`INSERT INTO cache_entries (key, data, commit_sha, ts_ms) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET data = excluded.data, commit_sha = excluded.commit_sha, ts_ms = excluded.ts_ms`,
		key, compressed, sha, s.now().UnixMilli())
	if err != nil {
		logger.WithComponent("cache").Warnf("cache write failed for %s: %v", key, err)
		return false
	}
	return true
}

func (s *SQLiteStore) metaGet(key string) (string, bool) {
	var value string
	row := s.db.QueryRow(`SELECT value FROM cache_meta WHERE key = ?`, key)
	if err := row.Scan(&value); err != nil {
		return "", false
	}
	return value, true
}

func (s *SQLiteStore) metaSet(key, value string) bool {
	_, err := s.db.Exec(
		`INSERT INTO cache_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		logger.WithComponent("cache").Warnf("cache meta write failed for %s: %v", key, err)
		return false
	}
	return true
}

func (s *SQLiteStore) CommitSHA() string {
	sha, _ := s.metaGet(commitKey)
	return sha
}

func (s *SQLiteStore) SetCommitSHA(sha string) bool {
	if !s.metaSet(commitKey, sha) {
		return false
	}
	return s.metaSet(stampKey, formatMillis(s.now().UnixMilli()))
}

func (s *SQLiteStore) Valid(currentSHA string) bool {
	sha := s.CommitSHA()
	if sha == "" || sha != currentSHA {
		return false
	}
	raw, ok := s.metaGet(stampKey)
	if !ok {
		return false
	}
	stamp, err := parseMillis(raw)
	if err != nil {
		return false
	}
	return s.now().UnixMilli()-stamp < s.ttl.Milliseconds()
}

func (s *SQLiteStore) Page(id string) (*model.PageDocument, bool) {
	e, ok := s.readEntry(PageKey(id))
	if !ok {
		return nil, false
	}
	var doc model.PageDocument
	if err := json.Unmarshal(e.Data, &doc); err != nil {
		return nil, false
	}
	return &doc, true
}

func (s *SQLiteStore) SetPage(id string, doc *model.PageDocument, sha string) bool {
	data, err := json.Marshal(doc)
	if err != nil {
		return false
	}
	return s.writeEntry(PageKey(id), data, sha)
}

func (s *SQLiteStore) Globals() (*model.GlobalsDocument, bool) {
	e, ok := s.readEntry(globalsKey)
	if !ok {
		return nil, false
	}
	var doc model.GlobalsDocument
	if err := json.Unmarshal(e.Data, &doc); err != nil {
		return nil, false
	}
	return &doc, true
}

func (s *SQLiteStore) SetGlobals(doc *model.GlobalsDocument, sha string) bool {
	data, err := json.Marshal(doc)
	if err != nil {
		return false
	}
	return s.writeEntry(globalsKey, data, sha)
}

func (s *SQLiteStore) PageList() ([]model.PageSummary, bool) {
	e, ok := s.readEntry(listKey)
	if !ok {
		return nil, false
	}
	return decodePageList(e.Data, s.validate)
}

func (s *SQLiteStore) SetPageList(items []model.PageSummary, sha string) bool {
	data, err := json.Marshal(items)
	if err != nil {
		return false
	}
	return s.writeEntry(listKey, data, sha)
}

func (s *SQLiteStore) Keys() []string {
	rows, err := s.db.Query(`SELECT key FROM cache_entries WHERE key LIKE ?`, pageKeyPrefix+"%")
	if err != nil {
		return nil
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil
		}
		keys = append(keys, strings.TrimPrefix(k, pageKeyPrefix))
	}
	return keys
}

func (s *SQLiteStore) Remove(id string) {
	if _, err := s.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, PageKey(id)); err != nil {
		logger.WithComponent("cache").Warnf("cache remove failed for %s: %v", id, err)
	}
}

func (s *SQLiteStore) InvalidateAll() {
	if _, err := s.db.Exec(`DELETE FROM cache_entries`); err != nil {
		logger.WithComponent("cache").Warnf("cache invalidate failed: %v", err)
	}
	if _, err := s.db.Exec(`DELETE FROM cache_meta`); err != nil {
		logger.WithComponent("cache").Warnf("cache meta invalidate failed: %v", err)
	}
}

// EnqueueWrite records an edit that could not reach the remote. Queued rows
// survive restarts; the syncer drains them when the remote is reachable.
func (s *SQLiteStore) EnqueueWrite(key string, data []byte) bool {
	_, err := s.db.Exec(
		`INSERT INTO pending_writes (key, data, queued_at_ms) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET data = excluded.data, queued_at_ms = excluded.queued_at_ms`,
		key, s.enc.EncodeAll(data, nil), s.now().UnixMilli())
	if err != nil {
		logger.WithComponent("cache").Warnf("enqueue write failed for %s: %v", key, err)
		return false
	}
	return true
}

// PendingWrites returns queued edits oldest first. Undecodable rows are
// skipped, not fatal.
func (s *SQLiteStore) PendingWrites() []PendingWrite {
	rows, err := s.db.Query(`SELECT key, data, queued_at_ms FROM pending_writes ORDER BY queued_at_ms ASC`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var pending []PendingWrite
	for rows.Next() {
		var pw PendingWrite
		var compressed []byte
		if err := rows.Scan(&pw.Key, &compressed, &pw.QueuedAt); err != nil {
			continue
		}
		data, err := s.dec.DecodeAll(compressed, nil)
		if err != nil {
			continue
		}
		pw.Data = data
		pending = append(pending, pw)
	}
	return pending
}

// ClearPending drops queued edits once they have been flushed.
func (s *SQLiteStore) ClearPending(keys []string) {
	for _, k := range keys {
		if _, err := s.db.Exec(`DELETE FROM pending_writes WHERE key = ?`, k); err != nil {
			logger.WithComponent("cache").Warnf("clear pending failed for %s: %v", k, err)
		}
	}
}

func (s *SQLiteStore) Close() error {
	s.enc.Close()
	s.dec.Close()
	return s.db.Close()
}
