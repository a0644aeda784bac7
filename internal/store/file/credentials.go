// Package file implements the filesystem CredentialStore.
//
// Two layouts are supported:
//   - single: one JSON blob per session at <dir>/<id>.json
//   - multi:  a directory per session, <dir>/<id>/creds.json plus one
//     key-<key-id>.json per key entry and extra.json for other top-level entries
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/luxbot/internal/store"
)

const (
	LayoutSingle = "single"
	LayoutMulti  = "multi"

	credsFile     = "creds.json"
	extraFile     = "extra.json"
	keyFilePrefix = "key-"
)

// CredentialStore stores auth snapshots on the local filesystem.
type CredentialStore struct {
	dir    string
	layout string
	mu     sync.Mutex
}

// NewCredentialStore creates a store rooted at dir. An empty layout means single.
func NewCredentialStore(dir, layout string) *CredentialStore {
	if layout != LayoutMulti {
		layout = LayoutSingle
	}
	return &CredentialStore{dir: dir, layout: layout}
}

// Dir returns the root directory.
func (s *CredentialStore) Dir() string { return s.dir }

func (s *CredentialStore) Load(_ context.Context, sessionID string) (*store.AuthState, error) {
	if err := store.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.layout == LayoutMulti {
		return s.loadMulti(filepath.Join(s.dir, sessionID))
	}
	return LoadFile(filepath.Join(s.dir, sessionID+".json"))
}

func (s *CredentialStore) Save(_ context.Context, sessionID string, state *store.AuthState) error {
	if err := store.ValidateSessionID(sessionID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.layout == LayoutMulti {
		return s.saveMulti(filepath.Join(s.dir, sessionID), state)
	}
	return SaveFile(filepath.Join(s.dir, sessionID+".json"), state)
}

func (s *CredentialStore) Delete(_ context.Context, sessionID string) error {
	if err := store.ValidateSessionID(sessionID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.layout == LayoutMulti {
		err = os.RemoveAll(filepath.Join(s.dir, sessionID))
	} else {
		err = os.Remove(filepath.Join(s.dir, sessionID+".json"))
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// LoadFile reads one JSON snapshot. A missing file returns (nil, nil).
func LoadFile(path string) (*store.AuthState, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	st, err := store.DecodeAuthState(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return st, nil
}

// SaveFile writes one JSON snapshot atomically (temp file + rename).
func SaveFile(path string, state *store.AuthState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal auth state: %w", err)
	}
	return writeAtomic(path, data)
}

func (s *CredentialStore) loadMulti(dir string) (*store.AuthState, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session dir %s: %w", dir, err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	st := store.NewAuthState()
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			// One corrupt key file should not lose the rest of the session.
			slog.Warn("file store: skipping unparseable key file", "path", filepath.Join(dir, name), "error", err)
			continue
		}
		switch {
		case name == credsFile:
			st.Apply(map[string]any{"creds": v})
		case name == extraFile:
			if m, ok := v.(map[string]any); ok {
				st.Apply(m)
			}
		case strings.HasPrefix(name, keyFilePrefix):
			st.Keys[unescapeKeyID(strings.TrimSuffix(strings.TrimPrefix(name, keyFilePrefix), ".json"))] = v
		}
	}
	return st, nil
}

func (s *CredentialStore) saveMulti(dir string, state *store.AuthState) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	want := map[string]bool{credsFile: true}
	if err := writeJSON(filepath.Join(dir, credsFile), state.Creds); err != nil {
		return err
	}
	for id, v := range state.Keys {
		name := keyFileName(id)
		want[name] = true
		if err := writeJSON(filepath.Join(dir, name), v); err != nil {
			return err
		}
	}
	if len(state.Extra) > 0 {
		want[extraFile] = true
		if err := writeJSON(filepath.Join(dir, extraFile), state.Extra); err != nil {
			return err
		}
	}

	// Drop key files that are no longer part of the state.
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("list session dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || want[e.Name()] || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("file store: failed to remove stale key file", "file", e.Name(), "error", err)
		}
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// Key ids may contain '/' (e.g. "sender-key/group@g.us"); keep file names flat.
func escapeKeyID(id string) string { return url.PathEscape(id) }

// keyFileName never collides with creds.json or extra.json.
func keyFileName(id string) string { return keyFilePrefix + escapeKeyID(id) + ".json" }

func unescapeKeyID(name string) string {
	id, err := url.PathUnescape(name)
	if err != nil {
		return name
	}
	return id
}

var _ store.CredentialStore = (*CredentialStore)(nil)
