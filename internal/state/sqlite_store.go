package state

import (
	"database/sql"
	"encoding/json"
	"sync"

	"github.com/cloudguardian/policyguard/internal/apperrors"
	_ "modernc.org/sqlite"
)

// SQLiteStore is an alternative Store backend for operators running a
// large resource count, where rewriting one JSON file per mutation
// (FileStore) becomes the bottleneck. It satisfies the same Store
// interface so the rest of the core never branches on which is active
// (spec.md §9's "the engine must never branch on provider identity" note,
// applied here to the state layer too).
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (and migrates) a SQLite-backed store at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeState, "opening sqlite state store")
	}

	const schema = `CREATE TABLE IF NOT EXISTS remediation_records (
		key TEXT PRIMARY KEY,
		data TEXT NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperrors.Wrap(err, apperrors.TypeState, "migrating sqlite state store")
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load() (map[string]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

// Update loads once and gives fn a save callback it can call as often as
// it needs, all under one held lock, so the same read-modify-write
// atomicity FileStore gives also holds for the SQLite backend (spec.md §5).
func (s *SQLiteStore) Update(fn func(map[string]*Record, func() error) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadLocked()
	if err != nil {
		return err
	}
	save := func() error { return s.saveLocked(records) }
	return fn(records, save)
}

func (s *SQLiteStore) loadLocked() (map[string]*Record, error) {
	rows, err := s.db.Query(`SELECT key, data FROM remediation_records`)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeState, "reading sqlite state store")
	}
	defer rows.Close()

	records := make(map[string]*Record)
	for rows.Next() {
		var key, data string
		if err := rows.Scan(&key, &data); err != nil {
			return nil, apperrors.Wrap(err, apperrors.TypeState, "scanning sqlite row")
		}
		var rec Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			continue // treat one corrupt row like a corrupt file: skip, don't fail startup
		}
		records[key] = &rec
	}
	return records, rows.Err()
}

// Save replaces the entire table contents in one transaction, preserving
// the whole-store read-modify-write contract Store requires.
func (s *SQLiteStore) Save(records map[string]*Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(records)
}

func (s *SQLiteStore) saveLocked(records map[string]*Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeState, "beginning sqlite transaction")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM remediation_records`); err != nil {
		return apperrors.Wrap(err, apperrors.TypeState, "clearing sqlite state store")
	}

	stmt, err := tx.Prepare(`INSERT INTO remediation_records (key, data) VALUES (?, ?)`)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeState, "preparing sqlite insert")
	}
	defer stmt.Close()

	for key, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return apperrors.Wrap(err, apperrors.TypeState, "marshaling record")
		}
		if _, err := stmt.Exec(key, string(data)); err != nil {
			return apperrors.Wrap(err, apperrors.TypeState, "inserting record")
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(err, apperrors.TypeState, "committing sqlite transaction")
	}
	return nil
}
