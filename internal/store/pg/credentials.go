package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/nextlevelbuilder/luxbot/internal/store"
)

// DefaultTable is the table created by the embedded migrations.
const DefaultTable = "wa_sessions"

// CredentialStore keeps one JSONB row per session.
type CredentialStore struct {
	db    *sql.DB
	table string // quoted
	raw   string
}

// NewCredentialStore returns a store on table (DefaultTable when empty).
func NewCredentialStore(db *sql.DB, table string) *CredentialStore {
	if table == "" {
		table = DefaultTable
	}
	return &CredentialStore{db: db, table: pq.QuoteIdentifier(table), raw: table}
}

// EnsureSchema prepares the backing table. The default table goes through the
// versioned migrations; a custom table is created in place.
func (s *CredentialStore) EnsureSchema(ctx context.Context) error {
	if s.raw == DefaultTable {
		return Migrate(s.db)
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		data JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, s.table))
	if err != nil {
		return fmt.Errorf("create table %s: %w", s.raw, err)
	}
	return nil
}

func (s *CredentialStore) Load(ctx context.Context, sessionID string) (*store.AuthState, error) {
	if err := store.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT data FROM %s WHERE id = $1", s.table), sessionID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	st, err := store.DecodeAuthState(data)
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
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, data, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`, s.table),
		sessionID, data,
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
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", s.table), sessionID); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

var _ store.CredentialStore = (*CredentialStore)(nil)
