// Package session drives the lifecycle of one authenticated chat session:
// credential bootstrap, connect, challenge presentation, reconnects and
// logout.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/luxbot/internal/store"
)

// Socket is the protocol connection for one attempt.
type Socket interface {
	Connect(ctx context.Context) error
	Disconnect()
}

// EventSink receives the socket's connection and credential events.
type EventSink interface {
	OnConnectionUpdate(u ConnectionUpdate)
	OnCredentialUpdate(partial map[string]any)
}

// DialFunc creates the socket for one attempt. The socket reports back
// through events.
type DialFunc func(ctx context.Context, auth *AuthHandle, events EventSink) (Socket, error)

// Logout policies.
const (
	LogoutKeep   = "keep"
	LogoutDelete = "delete"
)

// Options configures a Manager.
type Options struct {
	SessionID string
	// Store backs the default bootstrap and the delete-on-logout policy.
	Store store.CredentialStore
	// Bootstrap overrides loading from Store.
	Bootstrap    BootstrapFunc
	FallbackFile string
	Dial         DialFunc

	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	Exponential       bool
	ChallengeTimeout  time.Duration
	LogoutStatusCodes []int
	OnLogout          string

	// OnChallenge presents a challenge to the operator. Defaults to
	// printing it on stderr.
	OnChallenge func(sessionID string, c Challenge)
	// PersistTimeout bounds saves triggered by credential updates.
	PersistTimeout time.Duration
}

// Manager owns the state machine of a single session. Phase state is only
// written by the goroutine executing Run.
type Manager struct {
	opts      Options
	bootstrap BootstrapFunc

	mu        sync.RWMutex
	phase     Phase
	challenge Challenge

	handle atomic.Pointer[AuthHandle]

	qmu    sync.Mutex
	queue  []ConnectionUpdate
	notify chan struct{}

	subMu       sync.RWMutex
	subscribers map[string]func(PhaseEvent)

	running atomic.Bool
}

// New validates opts and returns a manager in the INIT phase.
func New(opts Options) (*Manager, error) {
	if err := store.ValidateSessionID(opts.SessionID); err != nil {
		return nil, err
	}
	if opts.Dial == nil {
		return nil, errors.New("session: Dial is required")
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.MaxReconnectDelay < opts.ReconnectDelay {
		opts.MaxReconnectDelay = opts.ReconnectDelay
	}
	if len(opts.LogoutStatusCodes) == 0 {
		opts.LogoutStatusCodes = []int{401}
	}
	if opts.OnLogout == "" {
		opts.OnLogout = LogoutKeep
	}
	if opts.OnChallenge == nil {
		opts.OnChallenge = ChallengeWriter(os.Stderr)
	}
	if opts.FallbackFile == "" {
		opts.FallbackFile = filepath.Join("auth_info", opts.SessionID+".json")
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 30 * time.Second
	}

	boot := opts.Bootstrap
	if boot == nil && opts.Store != nil {
		boot = StoreBootstrap(opts.Store, opts.SessionID)
	}

	return &Manager{
		opts:        opts,
		bootstrap:   boot,
		phase:       PhaseInit,
		notify:      make(chan struct{}, 1),
		subscribers: make(map[string]func(PhaseEvent)),
	}, nil
}

func (m *Manager) SessionID() string { return m.opts.SessionID }

// Phase returns the current phase.
func (m *Manager) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// Challenge returns the pending challenge, if any.
func (m *Manager) Challenge() (Challenge, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.challenge, !m.challenge.Empty()
}

// Auth returns the auth handle of the current attempt, or nil before the first one.
func (m *Manager) Auth() *AuthHandle { return m.handle.Load() }

// Subscribe registers a phase observer under id, replacing any previous one.
// Observers run on the manager goroutine and must not block.
func (m *Manager) Subscribe(id string, fn func(PhaseEvent)) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subscribers[id] = fn
}

func (m *Manager) Unsubscribe(id string) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	delete(m.subscribers, id)
}

func (m *Manager) broadcast(ev PhaseEvent) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	for _, fn := range m.subscribers {
		fn(ev)
	}
}

// OnConnectionUpdate queues a socket event for the Run loop. It never blocks.
func (m *Manager) OnConnectionUpdate(u ConnectionUpdate) {
	m.qmu.Lock()
	m.queue = append(m.queue, u)
	m.qmu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// OnCredentialUpdate merges partial into the current auth state and persists
// it. Failures are logged; the next update or the next open persists again.
func (m *Manager) OnCredentialUpdate(partial map[string]any) {
	h := m.handle.Load()
	if h == nil {
		slog.Warn("credential update before bootstrap, dropped", "session", m.opts.SessionID)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.PersistTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("credential merge panicked", "session", m.opts.SessionID, "panic", r)
		}
	}()
	if err := h.Merge(ctx, partial); err != nil {
		slog.Warn("credential update not persisted", "session", m.opts.SessionID, "error", err)
	}
}

func (m *Manager) drain() []ConnectionUpdate {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	q := m.queue
	m.queue = nil
	return q
}

func (m *Manager) setPhase(p Phase, status int) {
	m.mu.Lock()
	if p != PhaseAwaitingChallenge {
		m.challenge = Challenge{}
	}
	prev := m.phase
	m.phase = p
	var c *Challenge
	if !m.challenge.Empty() {
		cp := m.challenge
		c = &cp
	}
	m.mu.Unlock()

	if prev != p {
		slog.Info("session phase changed", "session", m.opts.SessionID, "from", prev, "phase", p, "status", status)
	}
	m.broadcast(PhaseEvent{Session: m.opts.SessionID, Phase: p, Challenge: c, StatusCode: status, At: time.Now()})
}

// IsLogoutStatus reports whether a close status is terminal.
func (m *Manager) IsLogoutStatus(code int) bool {
	return slices.Contains(m.opts.LogoutStatusCodes, code)
}

// backoff returns the delay before reconnect number n (1-based).
func (m *Manager) backoff(n int) time.Duration {
	if !m.opts.Exponential || n <= 1 {
		return m.opts.ReconnectDelay
	}
	d := m.opts.ReconnectDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= m.opts.MaxReconnectDelay {
			return m.opts.MaxReconnectDelay
		}
	}
	return d
}

type attemptResult struct {
	outcome Outcome
	err     error
	retry   bool
	opened  bool
	status  int
}

// Run drives the session until it is logged out, a challenge times out or
// ctx is cancelled. Non-terminal closes reconnect after the configured delay.
func (m *Manager) Run(ctx context.Context) (Outcome, error) {
	if !m.running.CompareAndSwap(false, true) {
		return "", errors.New("session: manager already running")
	}
	defer m.running.Store(false)

	failures := 0
	for {
		res := m.attempt(ctx)
		if !res.retry {
			return res.outcome, res.err
		}
		if res.opened {
			failures = 0
		}
		failures++

		delay := m.backoff(failures)
		m.setPhase(PhaseReconnecting, res.status)
		slog.Info("session reconnect scheduled", "session", m.opts.SessionID, "delay", delay, "attempt", failures)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return OutcomeStopped, ctx.Err()
		case <-t.C:
		}
	}
}

func (m *Manager) attempt(ctx context.Context) attemptResult {
	m.drain()
	m.setPhase(PhaseInit, 0)

	h := Normalize(ctx, m.bootstrap, m.opts.FallbackFile)
	m.handle.Store(h)
	slog.Debug("auth state ready", "session", m.opts.SessionID, "source", h.Source())

	if ctx.Err() != nil {
		return attemptResult{outcome: OutcomeStopped, err: ctx.Err()}
	}

	m.setPhase(PhaseConnecting, 0)
	sock, err := m.opts.Dial(ctx, h, m)
	if err == nil {
		err = sock.Connect(ctx)
	}
	if err != nil {
		if sock != nil {
			sock.Disconnect()
		}
		if ctx.Err() != nil {
			return attemptResult{outcome: OutcomeStopped, err: ctx.Err()}
		}
		slog.Warn("session connect failed", "session", m.opts.SessionID, "error", err)
		m.setPhase(PhaseClosing, 0)
		return attemptResult{retry: true}
	}
	return m.await(ctx, sock, h)
}

func (m *Manager) await(ctx context.Context, sock Socket, h *AuthHandle) attemptResult {
	var (
		timer   *time.Timer
		timeout <-chan time.Time
		opened  bool
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			sock.Disconnect()
			m.setPhase(PhaseClosing, 0)
			return attemptResult{outcome: OutcomeStopped, err: ctx.Err()}

		case <-timeout:
			slog.Warn("challenge timed out, abandoning attempt", "session", m.opts.SessionID, "timeout", m.opts.ChallengeTimeout)
			sock.Disconnect()
			m.setPhase(PhaseClosing, 0)
			return attemptResult{outcome: OutcomeChallengeTimeout, err: ErrChallengeTimeout}

		case <-m.notify:
			for _, u := range m.drain() {
				if u.QR != "" || u.PairingCode != "" {
					if m.Phase() == PhaseOpen {
						continue
					}
					m.presentChallenge(u)
					if timer == nil && m.opts.ChallengeTimeout > 0 {
						timer = time.NewTimer(m.opts.ChallengeTimeout)
						timeout = timer.C
					}
				}

				switch u.Connection {
				case ConnConnecting:
					if m.Phase() != PhaseConnecting {
						m.setPhase(PhaseConnecting, 0)
					}

				case ConnOpen:
					if timer != nil {
						timer.Stop()
						timer, timeout = nil, nil
					}
					opened = true
					m.setPhase(PhaseOpen, 0)
					if err := h.Persist(ctx); err != nil {
						slog.Warn("persist on open failed", "session", m.opts.SessionID, "error", err)
					}

				case ConnClose:
					m.setPhase(PhaseClosing, u.StatusCode)
					sock.Disconnect()
					if u.Err != nil {
						slog.Debug("socket closed", "session", m.opts.SessionID, "status", u.StatusCode, "error", u.Err)
					}
					if m.IsLogoutStatus(u.StatusCode) {
						m.logout(ctx, h)
						m.setPhase(PhaseLoggedOut, u.StatusCode)
						return attemptResult{
							outcome: OutcomeLoggedOut,
							err:     fmt.Errorf("%w (status %d)", ErrLoggedOut, u.StatusCode),
							status:  u.StatusCode,
						}
					}
					return attemptResult{retry: true, opened: opened, status: u.StatusCode}
				}
			}
		}
	}
}

// presentChallenge records the challenge carried by u, keeping the other
// kind if it was already shown, and hands it to the operator.
func (m *Manager) presentChallenge(u ConnectionUpdate) {
	m.mu.Lock()
	if u.QR != "" {
		m.challenge.QR = u.QR
	}
	if u.PairingCode != "" {
		m.challenge.PairingCode = u.PairingCode
	}
	shown := Challenge{QR: u.QR, PairingCode: u.PairingCode}
	m.mu.Unlock()

	m.setPhase(PhaseAwaitingChallenge, 0)
	m.opts.OnChallenge(m.opts.SessionID, shown)
}

func (m *Manager) logout(ctx context.Context, h *AuthHandle) {
	if m.opts.OnLogout != LogoutDelete {
		slog.Warn("session logged out, credentials kept", "session", m.opts.SessionID)
		return
	}
	if m.opts.Store != nil {
		if err := m.opts.Store.Delete(ctx, m.opts.SessionID); err != nil {
			slog.Error("delete credentials after logout failed", "session", m.opts.SessionID, "error", err)
		}
	}
	if h.Source() == SourceFile && m.opts.FallbackFile != "" {
		if err := os.Remove(m.opts.FallbackFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Error("remove auth fallback file failed", "path", m.opts.FallbackFile, "error", err)
		}
	}
	slog.Warn("session logged out, credentials deleted", "session", m.opts.SessionID)
}
