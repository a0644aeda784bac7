package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/luxbot/internal/store"
	"github.com/nextlevelbuilder/luxbot/internal/store/file"
)

// SaveFunc persists a full auth snapshot.
type SaveFunc func(ctx context.Context, state *store.AuthState) error

// MergeFunc applies a partial update. A custom MergeFunc is expected to
// update the State it was handed and persist it.
type MergeFunc func(ctx context.Context, partial map[string]any) error

// Bootstrap is the closed set of shapes a credential bootstrap may produce.
type Bootstrap interface {
	bootstrap()
}

// PairBootstrap is a state plus an optional save function.
type PairBootstrap struct {
	State *store.AuthState
	Save  SaveFunc
}

// AccessorBootstrap is a state with a required save accessor and an optional
// merge routine of its own.
type AccessorBootstrap struct {
	State     *store.AuthState
	SaveState SaveFunc
	Merge     MergeFunc
}

func (PairBootstrap) bootstrap()     {}
func (AccessorBootstrap) bootstrap() {}

// BootstrapFunc produces the bootstrap for one connection attempt.
type BootstrapFunc func(ctx context.Context) (Bootstrap, error)

// StoreBootstrap loads the session from st and saves back into it.
func StoreBootstrap(st store.CredentialStore, sessionID string) BootstrapFunc {
	return func(ctx context.Context) (Bootstrap, error) {
		state, err := st.Load(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		return PairBootstrap{
			State: state,
			Save: func(ctx context.Context, s *store.AuthState) error {
				return st.Save(ctx, sessionID, s)
			},
		}, nil
	}
}

// Source names the branch Normalize took.
type Source string

const (
	SourcePair     Source = "pair"
	SourceAccessor Source = "accessor"
	SourceFile     Source = "file"
)

// AuthHandle is the canonical auth state of a session. All writes go through
// Merge and Persist, which are serialized per handle.
type AuthHandle struct {
	mu      sync.Mutex
	state   *store.AuthState
	persist SaveFunc
	merge   MergeFunc
	source  Source
}

// Normalize runs boot and resolves its result into an AuthHandle. A nil
// bootstrap, a bootstrap error or panic, and a malformed result all fall back
// to a single-file store at fallbackPath. Creds and Keys are non-nil in
// every branch.
func Normalize(ctx context.Context, boot BootstrapFunc, fallbackPath string) *AuthHandle {
	if boot == nil {
		return fileHandle(fallbackPath)
	}
	b, err := runBootstrap(ctx, boot)
	if err != nil {
		slog.Warn("credential bootstrap failed, using file fallback", "error", err, "path", fallbackPath)
		return fileHandle(fallbackPath)
	}
	return NormalizeValue(b, fallbackPath)
}

// NormalizeValue resolves an already produced bootstrap value.
func NormalizeValue(b Bootstrap, fallbackPath string) *AuthHandle {
	switch v := b.(type) {
	case PairBootstrap:
		return newHandle(v.State, v.Save, nil, SourcePair)
	case *PairBootstrap:
		if v != nil {
			return newHandle(v.State, v.Save, nil, SourcePair)
		}
	case AccessorBootstrap:
		if v.SaveState != nil {
			return newHandle(v.State, v.SaveState, v.Merge, SourceAccessor)
		}
	case *AccessorBootstrap:
		if v != nil && v.SaveState != nil {
			return newHandle(v.State, v.SaveState, v.Merge, SourceAccessor)
		}
	}
	slog.Warn("credential bootstrap malformed, using file fallback", "type", fmt.Sprintf("%T", b), "path", fallbackPath)
	return fileHandle(fallbackPath)
}

func runBootstrap(ctx context.Context, boot BootstrapFunc) (b Bootstrap, err error) {
	defer func() {
		if r := recover(); r != nil {
			b, err = nil, fmt.Errorf("bootstrap panic: %v", r)
		}
	}()
	return boot(ctx)
}

func newHandle(state *store.AuthState, save SaveFunc, merge MergeFunc, source Source) *AuthHandle {
	if state == nil {
		state = store.NewAuthState()
	}
	state.Ensure()
	return &AuthHandle{state: state, persist: save, merge: merge, source: source}
}

func fileHandle(path string) *AuthHandle {
	state, err := file.LoadFile(path)
	if err != nil {
		slog.Warn("auth fallback file unreadable, starting fresh", "path", path, "error", err)
		state = nil
	}
	save := func(_ context.Context, s *store.AuthState) error {
		return file.SaveFile(path, s)
	}
	return newHandle(state, save, nil, SourceFile)
}

// Source reports which normalization branch produced the handle.
func (h *AuthHandle) Source() Source { return h.source }

// State returns a copy of the current state.
func (h *AuthHandle) State() *store.AuthState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.Clone()
}

// Persist saves the full current state. A handle without a save function
// persists nothing.
func (h *AuthHandle) Persist(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.persistLocked(ctx)
}

func (h *AuthHandle) persistLocked(ctx context.Context) error {
	if h.persist == nil {
		return nil
	}
	return h.persist(ctx, h.state.Clone())
}

// Merge shallow-overwrites top-level entries with partial and persists the
// result. Calls are applied in the order they acquire the handle.
func (h *AuthHandle) Merge(ctx context.Context, partial map[string]any) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.merge != nil {
		err := h.merge(ctx, partial)
		h.state.Ensure()
		return err
	}
	h.state.Apply(partial)
	return h.persistLocked(ctx)
}
