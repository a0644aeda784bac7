package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/luxbot/internal/store"
)

func sampleState() *store.AuthState {
	st := store.NewAuthState()
	st.Creds["me"] = map[string]any{"id": "123@s.whatsapp.net"}
	st.Keys["pre-key-1"] = "AAA"
	st.Keys["sender-key/group@g.us"] = "BBB"
	st.Apply(map[string]any{"platform": "android"})
	return st
}

func TestCredentialStore_LoadMissing(t *testing.T) {
	for _, layout := range []string{LayoutSingle, LayoutMulti} {
		s := NewCredentialStore(t.TempDir(), layout)
		st, err := s.Load(context.Background(), "nobody")
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", layout, err)
		}
		if st != nil {
			t.Errorf("%s: expected nil state for missing session, got %+v", layout, st)
		}
	}
}

func TestCredentialStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, layout := range []string{LayoutSingle, LayoutMulti} {
		t.Run(layout, func(t *testing.T) {
			s := NewCredentialStore(t.TempDir(), layout)
			if err := s.Save(ctx, "main", sampleState()); err != nil {
				t.Fatalf("save: %v", err)
			}
			// Saving twice must be harmless.
			if err := s.Save(ctx, "main", sampleState()); err != nil {
				t.Fatalf("second save: %v", err)
			}

			got, err := s.Load(ctx, "main")
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if got == nil {
				t.Fatal("expected state")
			}
			if got.Keys["pre-key-1"] != "AAA" || got.Keys["sender-key/group@g.us"] != "BBB" {
				t.Errorf("keys not restored: %v", got.Keys)
			}
			me, _ := got.Creds["me"].(map[string]any)
			if me["id"] != "123@s.whatsapp.net" {
				t.Errorf("creds not restored: %v", got.Creds)
			}
			if got.Extra["platform"] != "android" {
				t.Errorf("extra not restored: %v", got.Extra)
			}
		})
	}
}

func TestCredentialStore_MultiRemovesStaleKeys(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := NewCredentialStore(dir, LayoutMulti)

	if err := s.Save(ctx, "main", sampleState()); err != nil {
		t.Fatalf("save: %v", err)
	}
	st := sampleState()
	delete(st.Keys, "pre-key-1")
	if err := s.Save(ctx, "main", st); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "main", keyFileName("pre-key-1"))); !os.IsNotExist(err) {
		t.Errorf("stale key file should be removed, stat err = %v", err)
	}
}

func TestCredentialStore_MultiKeyIDsCannotShadowCreds(t *testing.T) {
	ctx := context.Background()
	s := NewCredentialStore(t.TempDir(), LayoutMulti)

	st := sampleState()
	st.Keys["creds"] = "key named creds"
	st.Keys["extra"] = "key named extra"
	if err := s.Save(ctx, "main", st); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Load(ctx, "main")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	me, _ := got.Creds["me"].(map[string]any)
	if me["id"] != "123@s.whatsapp.net" {
		t.Errorf("creds overwritten by a key: %v", got.Creds)
	}
	if got.Extra["platform"] != "android" {
		t.Errorf("extra overwritten by a key: %v", got.Extra)
	}
	if got.Keys["creds"] != "key named creds" || got.Keys["extra"] != "key named extra" {
		t.Errorf("keys = %v", got.Keys)
	}
}

func TestCredentialStore_Delete(t *testing.T) {
	ctx := context.Background()
	for _, layout := range []string{LayoutSingle, LayoutMulti} {
		s := NewCredentialStore(t.TempDir(), layout)
		if err := s.Save(ctx, "main", sampleState()); err != nil {
			t.Fatalf("save: %v", err)
		}
		if err := s.Delete(ctx, "main"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if err := s.Delete(ctx, "main"); err != nil {
			t.Errorf("deleting twice should not fail: %v", err)
		}
		got, _ := s.Load(ctx, "main")
		if got != nil {
			t.Errorf("%s: state should be gone", layout)
		}
	}
}

func TestCredentialStore_RejectsBadID(t *testing.T) {
	s := NewCredentialStore(t.TempDir(), LayoutSingle)
	if err := s.Save(context.Background(), "../escape", store.NewAuthState()); err == nil {
		t.Error("expected error for path traversal id")
	}
}

func TestLoadFile_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("expected parse error")
	}
}
