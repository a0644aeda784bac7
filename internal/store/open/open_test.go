package open

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/luxbot/internal/config"
	"github.com/nextlevelbuilder/luxbot/internal/store"
	"github.com/nextlevelbuilder/luxbot/internal/store/file"
	"github.com/nextlevelbuilder/luxbot/internal/store/secure"
	"github.com/nextlevelbuilder/luxbot/internal/store/sqlite"
)

func TestStore_File(t *testing.T) {
	cfg := config.Default().Storage
	cfg.File.Dir = t.TempDir()
	cfg.File.Layout = "single"

	s, closer, err := Store(context.Background(), store.BackendFile, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer closer.Close()
	fs, ok := s.(*file.CredentialStore)
	if !ok {
		t.Fatalf("got %T", s)
	}
	if fs.Dir() != cfg.File.Dir {
		t.Errorf("dir = %q", fs.Dir())
	}
}

func TestStore_SQLite(t *testing.T) {
	cfg := config.Default().Storage
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "s.db")

	s, closer, err := Store(context.Background(), store.BackendSQLite, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer closer.Close()
	if _, ok := s.(*sqlite.CredentialStore); !ok {
		t.Fatalf("got %T", s)
	}
}

func TestStore_Unknown(t *testing.T) {
	if _, _, err := Store(context.Background(), "tape", config.Default().Storage); err == nil {
		t.Fatal("expected error")
	}
}

func TestStore_EncryptionKey(t *testing.T) {
	cfg := config.Default().Storage
	cfg.File.Dir = t.TempDir()
	cfg.EncryptionKey = "0123456789abcdef0123456789abcdef"

	s, closer, err := Store(context.Background(), store.BackendFile, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer closer.Close()
	if _, ok := s.(*secure.Store); !ok {
		t.Fatalf("got %T, want sealed store", s)
	}

	cfg.EncryptionKey = "nope"
	if _, _, err := Store(context.Background(), store.BackendFile, cfg); err == nil {
		t.Fatal("expected bad key error")
	}
}

func TestRemote(t *testing.T) {
	for backend, want := range map[string]bool{
		store.BackendFile: false, store.BackendSQLite: false,
		store.BackendS3: true, store.BackendPostgres: true, store.BackendRedis: true,
	} {
		if got := remote(backend); got != want {
			t.Errorf("remote(%s) = %v", backend, got)
		}
	}
}
