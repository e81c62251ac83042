package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kayz/maniflow/internal/logger"
)

// SQLiteStore is the durable Store backend. State is serialized as JSON;
// the schema is created on open.
type SQLiteStore struct {
	db    *sql.DB
	turns *lockTable
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id          TEXT PRIMARY KEY,
			state       TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return &SQLiteStore{db: db, turns: newLockTable()}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) put(id string, state *State) {
	state.UpdatedAt = time.Now()

	data, err := json.Marshal(state)
	if err != nil {
		logger.Error("[SessionStore] Failed to marshal state for %s: %v", id, err)
		return
	}

	_, err = s.db.Exec(`
		INSERT INTO sessions (id, state, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET state=excluded.state, updated_at=excluded.updated_at
	`, id, string(data), state.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		logger.Error("[SessionStore] Failed to persist session %s: %v", id, err)
	}
}

func (s *SQLiteStore) Create(state *State, reuseID string) string {
	id := reuseID
	if id == "" {
		id = uuid.NewString()
	}
	s.put(id, state)
	return id
}

func (s *SQLiteStore) Get(id string) *State {
	var data string
	err := s.db.QueryRow(`SELECT state FROM sessions WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		logger.Error("[SessionStore] Failed to load session %s: %v", id, err)
		return nil
	}

	var state State
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		// Corrupt state: treat the session as gone rather than crash.
		logger.Error("[SessionStore] Corrupt state for %s, ending session: %v", id, err)
		s.End(id)
		return nil
	}
	return &state
}

func (s *SQLiteStore) Save(id string, state *State) {
	s.put(id, state)
}

func (s *SQLiteStore) End(id string) {
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		logger.Error("[SessionStore] Failed to delete session %s: %v", id, err)
	}
	s.turns.drop(id)
}

func (s *SQLiteStore) ListIDs() []string {
	rows, err := s.db.Query(`SELECT id FROM sessions`)
	if err != nil {
		logger.Error("[SessionStore] Failed to list sessions: %v", err)
		return nil
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (s *SQLiteStore) Clear() {
	if _, err := s.db.Exec(`DELETE FROM sessions`); err != nil {
		logger.Error("[SessionStore] Failed to clear sessions: %v", err)
	}
	s.turns.dropAll()
}

func (s *SQLiteStore) Lock(id string) func() {
	return s.turns.Lock(id)
}
