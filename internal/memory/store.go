// Package memory implements the tiered persistent Memory Store (spec.md
// §4.5): core blocks, a recall log with full-text search, and an archival
// key/value store with full-text search, all session-scoped and backed by
// a single modernc.org/sqlite file (or :memory:). Grounded on
// haasonsaas-nexus's internal/memory/backend/sqlitevec/backend.go for the
// database/sql + modernc.org/sqlite wiring pattern, generalized from a
// single vector-embedding table to spec.md's four relations with FTS5
// virtual tables kept in lockstep via triggers (the sqlitevec backend
// indexes via an explicit Index() call; this store needs the stricter
// same-transaction guarantee spec.md invariant (a) requires for every
// write path, which triggers give for free).
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
	"golang.org/x/sync/semaphore"

	"synapsed/internal/synapseerr"
)

// DefaultSessionID is the session that always exists after Open (spec.md
// §3 invariant (c)).
const DefaultSessionID int64 = 1

// maxConcurrentSearches bounds concurrent FTS ranked-search readers
// (RecallSearch/ArchivalSearch), mirroring the teacher's connection-pool
// shaping in its persistence package: the underlying connection is capped
// to one writer (SetMaxOpenConns(1)), but bm25-ranked reads can still pile
// up under concurrent agent runs without a reader-side limit.
const maxConcurrentSearches = 4

// Store is the tiered persistent memory store.
type Store struct {
	db      *sql.DB
	readSem *semaphore.Weighted
}

// Open creates (on first use) the schema described in spec.md §4.5 at
// path, or opens an in-memory store if path is ":memory:" or empty.
// Enables WAL + NORMAL synchrony and a busy timeout for durability-vs-speed
// balance, and seeds the default session and default core blocks.
func Open(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, synapseerr.Wrap(synapseerr.Memory, "open store", err)
	}
	// A single pure-Go sqlite connection pool must be serialized to one
	// writer; cap it so WAL mode behaves as documented.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, readSem: semaphore.NewWeighted(maxConcurrentSearches)}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) init() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return synapseerr.Wrap(synapseerr.Memory, "apply pragma", err)
		}
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			title TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS core_blocks (
			label TEXT PRIMARY KEY,
			content TEXT NOT NULL DEFAULT '',
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS recall_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			token_count INTEGER NOT NULL DEFAULT 0,
			timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			summary_of INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_recall_session ON recall_log(session_id)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS recall_fts USING fts5(
			content, content='recall_log', content_rowid='id'
		)`,
		`CREATE TRIGGER IF NOT EXISTS recall_ai AFTER INSERT ON recall_log BEGIN
			INSERT INTO recall_fts(rowid, content) VALUES (new.id, new.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS recall_ad AFTER DELETE ON recall_log BEGIN
			INSERT INTO recall_fts(recall_fts, rowid, content) VALUES ('delete', old.id, old.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS recall_au AFTER UPDATE ON recall_log BEGIN
			INSERT INTO recall_fts(recall_fts, rowid, content) VALUES ('delete', old.id, old.content);
			INSERT INTO recall_fts(rowid, content) VALUES (new.id, new.content);
		END`,
		`CREATE TABLE IF NOT EXISTS archival_store (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			key TEXT NOT NULL UNIQUE,
			value TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			importance REAL NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			access_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS archival_fts USING fts5(
			key, value, content='archival_store', content_rowid='id'
		)`,
		`CREATE TRIGGER IF NOT EXISTS archival_ai AFTER INSERT ON archival_store BEGIN
			INSERT INTO archival_fts(rowid, key, value) VALUES (new.id, new.key, new.value);
		END`,
		`CREATE TRIGGER IF NOT EXISTS archival_ad AFTER DELETE ON archival_store BEGIN
			INSERT INTO archival_fts(archival_fts, rowid, key, value) VALUES ('delete', old.id, old.key, old.value);
		END`,
		`CREATE TRIGGER IF NOT EXISTS archival_au AFTER UPDATE ON archival_store BEGIN
			INSERT INTO archival_fts(archival_fts, rowid, key, value) VALUES ('delete', old.id, old.key, old.value);
			INSERT INTO archival_fts(rowid, key, value) VALUES (new.id, new.key, new.value);
		END`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return synapseerr.Wrap(synapseerr.Memory, "create schema", err)
		}
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE id = ?`, DefaultSessionID).Scan(&count); err != nil {
		return synapseerr.Wrap(synapseerr.Memory, "check default session", err)
	}
	if count == 0 {
		if _, err := s.db.Exec(`INSERT INTO sessions (id, title) VALUES (?, 'default')`, DefaultSessionID); err != nil {
			return synapseerr.Wrap(synapseerr.Memory, "seed default session", err)
		}
	}

	for _, label := range []string{"persona", "human", "instructions"} {
		if _, err := s.CoreGet(label); err != nil {
			if _, ierr := s.db.Exec(
				`INSERT OR IGNORE INTO core_blocks (label, content) VALUES (?, '')`, label,
			); ierr != nil {
				return synapseerr.Wrap(synapseerr.Memory, "seed core block", ierr)
			}
		}
	}
	return nil
}

// CoreSet upserts the content of a core block, creating it if absent.
func (s *Store) CoreSet(label, content string) error {
	_, err := s.db.Exec(`
		INSERT INTO core_blocks (label, content, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(label) DO UPDATE SET content = excluded.content, updated_at = CURRENT_TIMESTAMP
	`, label, content)
	if err != nil {
		return synapseerr.Wrap(synapseerr.Memory, "core_set", err)
	}
	return nil
}

// CoreGet returns the content of a core block.
func (s *Store) CoreGet(label string) (string, error) {
	var content string
	err := s.db.QueryRow(`SELECT content FROM core_blocks WHERE label = ?`, label).Scan(&content)
	if err == sql.ErrNoRows {
		return "", synapseerr.New(synapseerr.Memory, fmt.Sprintf("core block %q not found", label))
	}
	if err != nil {
		return "", synapseerr.Wrap(synapseerr.Memory, "core_get", err)
	}
	return content, nil
}

// CoreAppend appends text to a core block, creating it if absent.
func (s *Store) CoreAppend(label, text string) error {
	existing, err := s.CoreGet(label)
	if err != nil {
		existing = ""
	}
	return s.CoreSet(label, existing+text)
}

// CoreDump formats every core block for prompt inclusion as
// "<label>:\ncontent\n---\n" sequences, ordered by label.
func (s *Store) CoreDump() (string, error) {
	rows, err := s.db.Query(`SELECT label, content FROM core_blocks ORDER BY label`)
	if err != nil {
		return "", synapseerr.Wrap(synapseerr.Memory, "core_dump", err)
	}
	defer rows.Close()

	var out string
	for rows.Next() {
		var label, content string
		if err := rows.Scan(&label, &content); err != nil {
			return "", synapseerr.Wrap(synapseerr.Memory, "core_dump scan", err)
		}
		out += fmt.Sprintf("%s:\n%s\n---\n", label, content)
	}
	return out, rows.Err()
}

// RecallAdd appends a recall row and returns its new id.
func (s *Store) RecallAdd(sessionID int64, role, content string, tokens int) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO recall_log (session_id, role, content, token_count) VALUES (?, ?, ?, ?)
	`, sessionID, role, content, tokens)
	if err != nil {
		return 0, synapseerr.Wrap(synapseerr.Memory, "recall_add", err)
	}
	return res.LastInsertId()
}

// RecallRow is one recall log entry.
type RecallRow struct {
	ID         int64
	SessionID  int64
	Role       string
	Content    string
	TokenCount int
	Timestamp  time.Time
	SummaryOf  int64
}

// RecallRecent returns up to limit rows for session, newest-first.
func (s *Store) RecallRecent(sessionID int64, limit int) ([]RecallRow, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, role, content, token_count, timestamp, summary_of
		FROM recall_log WHERE session_id = ?
		ORDER BY timestamp DESC, id DESC LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, synapseerr.Wrap(synapseerr.Memory, "recall_recent", err)
	}
	defer rows.Close()
	return scanRecallRows(rows)
}

// RecallSearch performs a full-text ranked search over recall content,
// ties broken by recency. Concurrent callers are bounded by readSem so a
// burst of agent runs cannot pile up bm25 scans against the single
// underlying connection.
func (s *Store) RecallSearch(query string, max int) ([]RecallRow, error) {
	if err := s.readSem.Acquire(context.Background(), 1); err != nil {
		return nil, synapseerr.Wrap(synapseerr.Memory, "recall_search acquire", err)
	}
	defer s.readSem.Release(1)

	rows, err := s.db.Query(`
		SELECT r.id, r.session_id, r.role, r.content, r.token_count, r.timestamp, r.summary_of
		FROM recall_fts f JOIN recall_log r ON r.id = f.rowid
		WHERE recall_fts MATCH ?
		ORDER BY bm25(recall_fts), r.timestamp DESC LIMIT ?
	`, query, max)
	if err != nil {
		return nil, synapseerr.Wrap(synapseerr.Memory, "recall_search", err)
	}
	defer rows.Close()
	return scanRecallRows(rows)
}

func scanRecallRows(rows *sql.Rows) ([]RecallRow, error) {
	var out []RecallRow
	for rows.Next() {
		var r RecallRow
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Role, &r.Content, &r.TokenCount, &r.Timestamp, &r.SummaryOf); err != nil {
			return nil, synapseerr.Wrap(synapseerr.Memory, "scan recall row", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecallStats returns the message count and total token sum for a session.
func (s *Store) RecallStats(sessionID int64) (msgCount int, tokenSum int, err error) {
	row := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(token_count), 0) FROM recall_log WHERE session_id = ?
	`, sessionID)
	if scanErr := row.Scan(&msgCount, &tokenSum); scanErr != nil {
		return 0, 0, synapseerr.Wrap(synapseerr.Memory, "recall_stats", scanErr)
	}
	return msgCount, tokenSum, nil
}

// RecallGC deletes rows beyond maxMessages or older than maxAge, whichever
// bound is reached first, and returns the count deleted.
func (s *Store) RecallGC(sessionID int64, maxMessages int, maxAgeSeconds int64) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, synapseerr.Wrap(synapseerr.Memory, "recall_gc begin", err)
	}
	defer tx.Rollback()

	var ids []int64
	rows, err := tx.Query(`
		SELECT id FROM recall_log WHERE session_id = ? ORDER BY timestamp DESC, id DESC
	`, sessionID)
	if err != nil {
		return 0, synapseerr.Wrap(synapseerr.Memory, "recall_gc select", err)
	}
	cutoff := time.Now().Add(-time.Duration(maxAgeSeconds) * time.Second)
	idx := 0
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, synapseerr.Wrap(synapseerr.Memory, "recall_gc scan", err)
		}
		idx++
		if idx > maxMessages {
			ids = append(ids, id)
		}
	}
	rows.Close()

	if maxAgeSeconds > 0 {
		ageRows, err := tx.Query(`SELECT id, timestamp FROM recall_log WHERE session_id = ?`, sessionID)
		if err != nil {
			return 0, synapseerr.Wrap(synapseerr.Memory, "recall_gc age select", err)
		}
		seen := make(map[int64]bool, len(ids))
		for _, id := range ids {
			seen[id] = true
		}
		for ageRows.Next() {
			var id int64
			var ts time.Time
			if err := ageRows.Scan(&id, &ts); err != nil {
				ageRows.Close()
				return 0, synapseerr.Wrap(synapseerr.Memory, "recall_gc age scan", err)
			}
			if ts.Before(cutoff) && !seen[id] {
				ids = append(ids, id)
				seen[id] = true
			}
		}
		ageRows.Close()
	}

	for _, id := range ids {
		if _, err := tx.Exec(`DELETE FROM recall_log WHERE id = ?`, id); err != nil {
			return 0, synapseerr.Wrap(synapseerr.Memory, "recall_gc delete", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, synapseerr.Wrap(synapseerr.Memory, "recall_gc commit", err)
	}
	return len(ids), nil
}

// ArchivalStore upserts value by key (update preserves created_at and
// access_count, bumps updated_at).
func (s *Store) ArchivalStore(key, value, category string, importance float64) error {
	_, err := s.db.Exec(`
		INSERT INTO archival_store (key, value, category, importance) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			category = excluded.category,
			importance = excluded.importance,
			updated_at = CURRENT_TIMESTAMP
	`, key, value, category, importance)
	if err != nil {
		return synapseerr.Wrap(synapseerr.Memory, "archival_store", err)
	}
	return nil
}

// ArchivalRecall atomically increments access_count and returns value.
func (s *Store) ArchivalRecall(key string) (string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", synapseerr.Wrap(synapseerr.Memory, "archival_recall begin", err)
	}
	defer tx.Rollback()

	var value string
	err = tx.QueryRow(`SELECT value FROM archival_store WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", synapseerr.New(synapseerr.Memory, fmt.Sprintf("archival key %q not found", key))
	}
	if err != nil {
		return "", synapseerr.Wrap(synapseerr.Memory, "archival_recall select", err)
	}
	if _, err := tx.Exec(`UPDATE archival_store SET access_count = access_count + 1 WHERE key = ?`, key); err != nil {
		return "", synapseerr.Wrap(synapseerr.Memory, "archival_recall update", err)
	}
	if err := tx.Commit(); err != nil {
		return "", synapseerr.Wrap(synapseerr.Memory, "archival_recall commit", err)
	}
	return value, nil
}

// ArchivalRow is one archival store entry.
type ArchivalRow struct {
	ID          int64
	Key         string
	Value       string
	Category    string
	Importance  float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	AccessCount int
}

// ArchivalSearch performs a full-text ranked search over key∪value, bounded
// by the same reader semaphore as RecallSearch.
func (s *Store) ArchivalSearch(query string, max int) ([]ArchivalRow, error) {
	if err := s.readSem.Acquire(context.Background(), 1); err != nil {
		return nil, synapseerr.Wrap(synapseerr.Memory, "archival_search acquire", err)
	}
	defer s.readSem.Release(1)

	rows, err := s.db.Query(`
		SELECT a.id, a.key, a.value, a.category, a.importance, a.created_at, a.updated_at, a.access_count
		FROM archival_fts f JOIN archival_store a ON a.id = f.rowid
		WHERE archival_fts MATCH ?
		ORDER BY bm25(archival_fts), a.updated_at DESC LIMIT ?
	`, query, max)
	if err != nil {
		return nil, synapseerr.Wrap(synapseerr.Memory, "archival_search", err)
	}
	defer rows.Close()

	var out []ArchivalRow
	for rows.Next() {
		var r ArchivalRow
		if err := rows.Scan(&r.ID, &r.Key, &r.Value, &r.Category, &r.Importance, &r.CreatedAt, &r.UpdatedAt, &r.AccessCount); err != nil {
			return nil, synapseerr.Wrap(synapseerr.Memory, "scan archival row", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ArchivalCount returns the total number of archival facts, for the agent's
// enriched-system-prompt stats line (spec.md §4.7 step 1: "Archival memory:
// K facts").
func (s *Store) ArchivalCount() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM archival_store`).Scan(&n); err != nil {
		return 0, synapseerr.Wrap(synapseerr.Memory, "archival_count", err)
	}
	return n, nil
}

// SessionCreate allocates a new session id.
func (s *Store) SessionCreate() (int64, error) {
	res, err := s.db.Exec(`INSERT INTO sessions (title) VALUES ('')`)
	if err != nil {
		return 0, synapseerr.Wrap(synapseerr.Memory, "session_create", err)
	}
	return res.LastInsertId()
}
