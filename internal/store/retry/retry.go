// Package retry retries credential store calls against remote backends.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/nextlevelbuilder/luxbot/internal/store"
)

// Config controls exponential backoff.
type Config struct {
	MaxRetries int           // max retry attempts, 0 = no retry
	BaseDelay  time.Duration // initial backoff delay
	MaxDelay   time.Duration // maximum backoff delay
}

func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
	}
}

// Do runs fn, retrying on error with exponential backoff and jitter until it
// succeeds, the retries are used up or ctx is done. Permanent errors return at once.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) (attempts int, err error) {
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err = fn(ctx); err == nil {
			return attempt + 1, nil
		}
		if attempt == cfg.MaxRetries || permanent(err) {
			return attempt + 1, err
		}
		t := time.NewTimer(backoffWithJitter(cfg.BaseDelay, cfg.MaxDelay, attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return attempt + 1, err
		case <-t.C:
		}
	}
	return cfg.MaxRetries + 1, err
}

func permanent(err error) bool {
	return errors.Is(err, store.ErrInvalidSessionID) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// backoffWithJitter computes delay = min(base * 2^attempt, max) + jitter(±25%).
func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt)
	if delay > max || delay <= 0 {
		delay = max
	}
	quarter := delay / 4
	if quarter > 0 {
		delay += time.Duration(rand.Int64N(int64(quarter*2))) - quarter
	}
	return delay
}

// Store retries every call of the wrapped store.
type Store struct {
	inner store.CredentialStore
	cfg   Config
}

// Wrap returns inner unchanged when retries are disabled.
func Wrap(inner store.CredentialStore, cfg Config) store.CredentialStore {
	if cfg.MaxRetries <= 0 {
		return inner
	}
	return &Store{inner: inner, cfg: cfg}
}

func (s *Store) Load(ctx context.Context, sessionID string) (*store.AuthState, error) {
	var st *store.AuthState
	attempts, err := Do(ctx, s.cfg, func(ctx context.Context) error {
		var err error
		st, err = s.inner.Load(ctx, sessionID)
		return err
	})
	s.logRetries("load", sessionID, attempts, err)
	return st, err
}

func (s *Store) Save(ctx context.Context, sessionID string, state *store.AuthState) error {
	attempts, err := Do(ctx, s.cfg, func(ctx context.Context) error {
		return s.inner.Save(ctx, sessionID, state)
	})
	s.logRetries("save", sessionID, attempts, err)
	return err
}

func (s *Store) Delete(ctx context.Context, sessionID string) error {
	attempts, err := Do(ctx, s.cfg, func(ctx context.Context) error {
		return s.inner.Delete(ctx, sessionID)
	})
	s.logRetries("delete", sessionID, attempts, err)
	return err
}

func (s *Store) logRetries(op, sessionID string, attempts int, err error) {
	if attempts <= 1 {
		return
	}
	if err != nil {
		slog.Warn("credential store gave up", "op", op, "session", sessionID, "attempts", attempts, "error", err)
		return
	}
	slog.Info("credential store recovered", "op", op, "session", sessionID, "attempts", attempts)
}
