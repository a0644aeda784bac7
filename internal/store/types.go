package store

import (
	"context"
	"encoding/json"
	"maps"
)

// Backend names accepted by session.backend.
const (
	BackendFile     = "file"
	BackendS3       = "s3"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
)

// CredentialStore persists authentication state snapshots keyed by session id.
//
// Load returns (nil, nil) when nothing is stored for the session: absence means
// "start fresh", not an error. Save is idempotent and may be called on every
// credential update. Implementations never keep a reference to the state they
// were given; they serialize it.
type CredentialStore interface {
	Load(ctx context.Context, sessionID string) (*AuthState, error)
	Save(ctx context.Context, sessionID string, state *AuthState) error
	Delete(ctx context.Context, sessionID string) error
}

// AuthState is the canonical authentication state of one session.
// Creds and Keys are always non-nil once the state went through Ensure.
// Any other top-level entry of the serialized object is kept in Extra so a
// round trip through a backend never drops data.
type AuthState struct {
	Creds map[string]any
	Keys  map[string]any
	Extra map[string]any
}

const (
	fieldCreds = "creds"
	fieldKeys  = "keys"
)

// NewAuthState returns an empty state with both required maps present.
func NewAuthState() *AuthState {
	return &AuthState{
		Creds: map[string]any{},
		Keys:  map[string]any{},
	}
}

// Ensure fills in missing required maps.
func (s *AuthState) Ensure() {
	if s.Creds == nil {
		s.Creds = map[string]any{}
	}
	if s.Keys == nil {
		s.Keys = map[string]any{}
	}
}

// Apply shallow-overwrites top-level entries with the ones in partial.
// A "creds" or "keys" entry that is not an object resets that map to empty,
// so the invariant holds no matter what the caller sends.
func (s *AuthState) Apply(partial map[string]any) {
	for k, v := range partial {
		switch k {
		case fieldCreds:
			s.Creds = asObject(v)
		case fieldKeys:
			s.Keys = asObject(v)
		default:
			if s.Extra == nil {
				s.Extra = map[string]any{}
			}
			s.Extra[k] = v
		}
	}
	s.Ensure()
}

// Clone returns a copy whose top-level maps can be mutated independently.
func (s *AuthState) Clone() *AuthState {
	if s == nil {
		return NewAuthState()
	}
	c := &AuthState{
		Creds: maps.Clone(s.Creds),
		Keys:  maps.Clone(s.Keys),
	}
	if len(s.Extra) > 0 {
		c.Extra = maps.Clone(s.Extra)
	}
	c.Ensure()
	return c
}

// Flatten returns the state as one top-level object.
func (s *AuthState) Flatten() map[string]any {
	out := make(map[string]any, len(s.Extra)+2)
	for k, v := range s.Extra {
		out[k] = v
	}
	out[fieldCreds] = orEmpty(s.Creds)
	out[fieldKeys] = orEmpty(s.Keys)
	return out
}

// MarshalJSON encodes the state as {"creds":{...},"keys":{...},...extra}.
func (s AuthState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Flatten())
}

// UnmarshalJSON accepts any JSON object; non-object creds/keys become empty maps.
func (s *AuthState) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = AuthState{}
	s.Apply(raw)
	return nil
}

// DecodeAuthState parses a serialized snapshot. An empty payload yields an empty state.
func DecodeAuthState(data []byte) (*AuthState, error) {
	if len(data) == 0 {
		return NewAuthState(), nil
	}
	var st AuthState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func asObject(v any) map[string]any {
	if m, ok := v.(map[string]any); ok && m != nil {
		return m
	}
	return map[string]any{}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
