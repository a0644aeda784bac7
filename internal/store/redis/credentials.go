// Package redis stores auth snapshots as JSON strings in Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nextlevelbuilder/luxbot/internal/store"
)

const defaultPrefix = "luxbot:session"

// Client is the subset of go-redis commands the store issues.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type CredentialStore struct {
	client Client
	prefix string
}

// Options builds client options from a redis:// URL, or from addr when url is empty.
func Options(url, addr, password string, db int) (*redis.Options, error) {
	if url != "" {
		opts, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return opts, nil
	}
	if addr == "" {
		addr = "localhost:6379"
	}
	return &redis.Options{Addr: addr, Password: password, DB: db}, nil
}

// NewClient connects and pings the server.
func NewClient(ctx context.Context, opts *redis.Options) (*redis.Client, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func NewCredentialStore(client Client, prefix string) *CredentialStore {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &CredentialStore{client: client, prefix: prefix}
}

func (s *CredentialStore) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *CredentialStore) Load(ctx context.Context, sessionID string) (*store.AuthState, error) {
	if err := store.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", s.key(sessionID), err)
	}
	st, err := store.DecodeAuthState(data)
	if err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return st, nil
}

func (s *CredentialStore) Save(ctx context.Context, sessionID string, state *store.AuthState) error {
	if err := store.ValidateSessionID(sessionID); err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal auth state: %w", err)
	}
	if err := s.client.Set(ctx, s.key(sessionID), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key(sessionID), err)
	}
	return nil
}

func (s *CredentialStore) Delete(ctx context.Context, sessionID string) error {
	if err := store.ValidateSessionID(sessionID); err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", s.key(sessionID), err)
	}
	return nil
}

var _ store.CredentialStore = (*CredentialStore)(nil)
