package secure

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/luxbot/internal/store"
	"github.com/nextlevelbuilder/luxbot/internal/store/file"
)

const testKey = "0123456789abcdef0123456789abcdef" // raw 32 bytes

func newFileStore(t *testing.T) *file.CredentialStore {
	return file.NewCredentialStore(t.TempDir(), file.LayoutSingle)
}

func TestWrap_EmptyKeyPassesThrough(t *testing.T) {
	inner := newFileStore(t)
	got, err := Wrap(inner, "")
	if err != nil {
		t.Fatal(err)
	}
	if got != store.CredentialStore(inner) {
		t.Error("empty key should return the inner store")
	}
}

func TestWrap_BadKey(t *testing.T) {
	if _, err := Wrap(newFileStore(t), "short"); err == nil {
		t.Error("expected key length error")
	}
}

func TestSealRoundTrip(t *testing.T) {
	ctx := context.Background()
	inner := newFileStore(t)
	s, err := Wrap(inner, testKey)
	if err != nil {
		t.Fatal(err)
	}

	st := store.NewAuthState()
	st.Creds["me"] = "1555@s.whatsapp.net"
	st.Keys["pre-key"] = map[string]any{"1": "secret"}
	if err := s.Save(ctx, "main", st); err != nil {
		t.Fatal(err)
	}

	raw, err := inner.Load(ctx, "main")
	if err != nil {
		t.Fatal(err)
	}
	if len(raw.Creds) != 0 || len(raw.Keys) != 0 {
		t.Errorf("plaintext leaked to backend: %+v", raw)
	}
	sealed, _ := raw.Extra[sealedKey].(string)
	if !strings.HasPrefix(sealed, prefix) {
		t.Fatalf("sealed = %q", sealed)
	}

	got, err := s.Load(ctx, "main")
	if err != nil {
		t.Fatal(err)
	}
	if got.Creds["me"] != "1555@s.whatsapp.net" {
		t.Errorf("creds = %v", got.Creds)
	}
	if got.Keys["pre-key"].(map[string]any)["1"] != "secret" {
		t.Errorf("keys = %v", got.Keys)
	}
}

func TestLoad_PlainStatePassesThrough(t *testing.T) {
	ctx := context.Background()
	inner := newFileStore(t)
	st := store.NewAuthState()
	st.Creds["me"] = "x"
	if err := inner.Save(ctx, "main", st); err != nil {
		t.Fatal(err)
	}

	s, _ := Wrap(inner, testKey)
	got, err := s.Load(ctx, "main")
	if err != nil {
		t.Fatal(err)
	}
	if got.Creds["me"] != "x" {
		t.Errorf("got %v", got.Creds)
	}
}

func TestLoad_WrongKey(t *testing.T) {
	ctx := context.Background()
	inner := newFileStore(t)
	a, _ := Wrap(inner, testKey)
	if err := a.Save(ctx, "main", store.NewAuthState()); err != nil {
		t.Fatal(err)
	}

	b, _ := Wrap(inner, strings.Repeat("z", 32))
	if _, err := b.Load(ctx, "main"); !errors.Is(err, ErrDecrypt) {
		t.Errorf("err = %v, want ErrDecrypt", err)
	}
}

func TestLoad_Missing(t *testing.T) {
	s, _ := Wrap(newFileStore(t), testKey)
	got, err := s.Load(context.Background(), "nobody")
	if err != nil || got != nil {
		t.Errorf("got %v, %v", got, err)
	}
}

func TestDeriveKey(t *testing.T) {
	hexKey := hex.EncodeToString([]byte(testKey))
	for _, in := range []string{testKey, hexKey, "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY="} {
		b, err := DeriveKey(in)
		if err != nil {
			t.Errorf("DeriveKey(%q): %v", in, err)
			continue
		}
		if len(b) != 32 {
			t.Errorf("len = %d", len(b))
		}
	}
}
