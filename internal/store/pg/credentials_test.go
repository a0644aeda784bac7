package pg

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/luxbot/internal/store"
)

const pgTestSession = "main"

func TestNewCredentialStore_QuotesTable(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewCredentialStore(db, "")
	assert.Equal(t, `"wa_sessions"`, s.table)

	s = NewCredentialStore(db, `odd"name`)
	assert.Equal(t, `"odd""name"`, s.table)
}

func TestSave_Upserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	state := store.NewAuthState()
	state.Creds["me"] = "1234@s.whatsapp.net"
	data, err := json.Marshal(state)
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO "wa_sessions"`).
		WithArgs(pgTestSession, data).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := NewCredentialStore(db, "")
	require.NoError(t, s.Save(context.Background(), pgTestSession, state))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSave_DBError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("INSERT INTO").WillReturnError(errors.New("connection refused"))

	s := NewCredentialStore(db, "")
	err = s.Save(context.Background(), pgTestSession, store.NewAuthState())
	assert.ErrorContains(t, err, "connection refused")
}

func TestLoad_Found(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	rows := sqlmock.NewRows([]string{"data"}).AddRow([]byte(`{"creds":{"me":"x"},"keys":{},"noise":1}`))
	mock.ExpectQuery(`SELECT data FROM "wa_sessions"`).WithArgs(pgTestSession).WillReturnRows(rows)

	s := NewCredentialStore(db, "")
	st, err := s.Load(context.Background(), pgTestSession)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "x", st.Creds["me"])
	assert.Equal(t, float64(1), st.Extra["noise"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoad_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT data FROM").WithArgs(pgTestSession).
		WillReturnRows(sqlmock.NewRows([]string{"data"}))

	s := NewCredentialStore(db, "")
	st, err := s.Load(context.Background(), pgTestSession)
	assert.NoError(t, err)
	assert.Nil(t, st)
}

func TestLoad_InvalidSessionID(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = NewCredentialStore(db, "").Load(context.Background(), "../etc")
	assert.ErrorIs(t, err, store.ErrInvalidSessionID)
}

func TestDelete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec(`DELETE FROM "wa_sessions"`).WithArgs(pgTestSession).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewCredentialStore(db, "").Delete(context.Background(), pgTestSession))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema_CustomTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "bot_auth"`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, NewCredentialStore(db, "bot_auth").EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
