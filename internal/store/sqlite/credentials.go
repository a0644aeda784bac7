// Package sqlite stores auth snapshots in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/luxbot/internal/store"
)

const schema = `CREATE TABLE IF NOT EXISTS wa_sessions (
	id         TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

type CredentialStore struct {
	db *sql.DB
}

// Open opens (or creates) the database file at path and applies the schema.
func Open(ctx context.Context, path string) (*CredentialStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &CredentialStore{db: db}, nil
}

func (s *CredentialStore) Close() error { return s.db.Close() }

func (s *CredentialStore) Load(ctx context.Context, sessionID string) (*store.AuthState, error) {
	if err := store.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM wa_sessions WHERE id = ?", sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	st, err := store.DecodeAuthState([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return st, nil
}

func (s *CredentialStore) Save(ctx context.Context, sessionID string, state *store.AuthState) error {
	if err := store.ValidateSessionID(sessionID); err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal auth state: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO wa_sessions (id, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		sessionID, string(data), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", sessionID, err)
	}
	return nil
}

func (s *CredentialStore) Delete(ctx context.Context, sessionID string) error {
	if err := store.ValidateSessionID(sessionID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM wa_sessions WHERE id = ?", sessionID); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

var _ store.CredentialStore = (*CredentialStore)(nil)
