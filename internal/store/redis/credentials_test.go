package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nextlevelbuilder/luxbot/internal/store"
)

type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func newFakeRedis() *fakeRedis { return &fakeRedis{data: map[string]string{}} }

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	return redis.NewStatusResult("OK", f.err)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, f.err)
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	s := NewCredentialStore(fake, "bot")

	if st, err := s.Load(ctx, "main"); err != nil || st != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", st, err)
	}

	st := store.NewAuthState()
	st.Creds["platform"] = "android"
	if err := s.Save(ctx, "main", st); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok := fake.data["bot:main"]; !ok {
		t.Fatalf("expected key bot:main, have %v", fake.data)
	}

	got, err := s.Load(ctx, "main")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Creds["platform"] != "android" {
		t.Errorf("unexpected creds %v", got.Creds)
	}

	if err := s.Delete(ctx, "main"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(fake.data) != 0 {
		t.Errorf("expected empty store, got %v", fake.data)
	}
}

func TestLoad_PropagatesErrors(t *testing.T) {
	fake := newFakeRedis()
	fake.err = errors.New("connection reset")
	_, err := NewCredentialStore(fake, "").Load(context.Background(), "main")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestDefaultPrefix(t *testing.T) {
	s := NewCredentialStore(newFakeRedis(), "")
	if got := s.key("main"); got != "luxbot:session:main" {
		t.Errorf("key = %q", got)
	}
}
