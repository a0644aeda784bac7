package store

import (
	"encoding/json"
	"testing"
)

func TestAuthState_ApplyOverwritesTopLevel(t *testing.T) {
	st := NewAuthState()
	st.Apply(map[string]any{"a": 1})
	st.Apply(map[string]any{"b": 2})
	if st.Extra["a"] != 1 || st.Extra["b"] != 2 {
		t.Fatalf("disjoint keys should accumulate, got %v", st.Extra)
	}

	st.Apply(map[string]any{"a": 3})
	if st.Extra["a"] != 3 {
		t.Errorf("last applied value should win, got %v", st.Extra["a"])
	}
}

func TestAuthState_ApplyKeepsInvariant(t *testing.T) {
	st := NewAuthState()
	st.Apply(map[string]any{"creds": nil, "keys": "garbage"})
	if st.Creds == nil || st.Keys == nil {
		t.Fatal("creds and keys must never be nil")
	}
}

func TestAuthState_JSONRoundTrip(t *testing.T) {
	st := NewAuthState()
	st.Creds["me"] = "123@s.whatsapp.net"
	st.Keys["pre-key-1"] = "abc"
	st.Apply(map[string]any{"version": "2"})

	data, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := DecodeAuthState(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Creds["me"] != "123@s.whatsapp.net" || got.Keys["pre-key-1"] != "abc" || got.Extra["version"] != "2" {
		t.Errorf("round trip lost data: %+v", got)
	}
}

func TestDecodeAuthState_MissingMaps(t *testing.T) {
	got, err := DecodeAuthState([]byte(`{}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Creds == nil || got.Keys == nil {
		t.Error("decoded state must have creds and keys")
	}

	empty, err := DecodeAuthState(nil)
	if err != nil || empty.Creds == nil {
		t.Errorf("empty payload should decode to empty state, got %+v, %v", empty, err)
	}
}

func TestAuthState_CloneIsIndependent(t *testing.T) {
	st := NewAuthState()
	st.Creds["x"] = 1
	c := st.Clone()
	c.Creds["x"] = 2
	if st.Creds["x"] != 1 {
		t.Error("clone must not alias the original creds map")
	}
}
