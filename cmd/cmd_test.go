package cmd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nextlevelbuilder/luxbot/internal/config"
	"github.com/nextlevelbuilder/luxbot/internal/session"
	"github.com/nextlevelbuilder/luxbot/internal/store"
)

func TestDispatcherSettings(t *testing.T) {
	cfg := config.Default()
	cfg.Commands.Prefix = "!"
	cfg.Commands.PrefixAliases = []string{"¡"}
	cfg.Commands.Owners = []string{"+1 555 000"}
	cfg.RateLimit.Mode = "silent"
	cfg.RateLimit.Limit = 3
	cfg.RateLimit.Window = config.Duration(time.Minute)

	s := dispatcherSettings(cfg)
	if s.Prefix.Marker() != "!" {
		t.Errorf("marker = %q", s.Prefix.Marker())
	}
	if got := s.Prefix.Apply("¡ping"); got != "!ping" {
		t.Errorf("alias not normalized: %q", got)
	}
	if !s.SilentThrottle || s.RateLimit != 3 || s.RateWindow != time.Minute {
		t.Errorf("rate settings = %+v", s)
	}
	if s.Timeout != 30*time.Second {
		t.Errorf("timeout = %s", s.Timeout)
	}
}

func TestAdapterConfig_PostgresReusesDSN(t *testing.T) {
	cfg := config.Default()
	cfg.Session.Backend = store.BackendPostgres
	cfg.Storage.Postgres.DSN = "postgres://bot:pw@db/luxbot"
	if got := adapterConfig(cfg).DeviceDB; got != "postgres://bot:pw@db/luxbot" {
		t.Errorf("device db = %q", got)
	}

	cfg.Session.DeviceDB = "/data/device.db"
	if got := adapterConfig(cfg).DeviceDB; got != "/data/device.db" {
		t.Errorf("explicit device db overridden: %q", got)
	}
}

func TestMaskDSN(t *testing.T) {
	tests := map[string]string{
		"postgres://bot:secret@db:5432/x": "postgres://bot:****@db:5432/x",
		"redis://:pw@cache:6379/0":        "redis://:****@cache:6379/0",
		"postgres://db/x":                 "postgres://db/x",
		"/var/lib/device.db":              "/var/lib/device.db",
	}
	for in, want := range tests {
		if got := maskDSN(in); got != want {
			t.Errorf("maskDSN(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRedactMap(t *testing.T) {
	m := map[string]interface{}{
		"web": map[string]interface{}{"token": "abcdefghijkl"},
		"storage": map[string]interface{}{
			"postgres": map[string]interface{}{"dsn": "postgres://u:p@h/db"},
			"redis":    map[string]interface{}{"password": "short"},
		},
		"telemetry": map[string]interface{}{"headers": map[string]interface{}{"x-api-key": "k"}},
	}
	redactMap(m)

	if got := m["web"].(map[string]interface{})["token"]; got != "abcd****ijkl" {
		t.Errorf("token = %v", got)
	}
	st := m["storage"].(map[string]interface{})
	if got := st["postgres"].(map[string]interface{})["dsn"]; got != "postgres://u:****@h/db" {
		t.Errorf("dsn = %v", got)
	}
	if got := st["redis"].(map[string]interface{})["password"]; got != "****" {
		t.Errorf("password = %v", got)
	}
	if got := m["telemetry"].(map[string]interface{})["headers"]; got != "****" {
		t.Errorf("headers = %v", got)
	}
}

func TestRedactState(t *testing.T) {
	st := store.NewAuthState()
	st.Creds["me"] = "1555@s.whatsapp.net"
	st.Creds["noiseKey"] = map[string]any{"private": "x"}
	st.Keys["pre-key"] = map[string]any{"1": "a", "2": "b"}
	st.Creds["device"] = map[string]any{"jid": "1555:1@s.whatsapp.net", "noise_key": "secret"}
	st.Keys["sessions"] = []any{map[string]any{}, map[string]any{}, map[string]any{}}

	out := redactState(st)
	creds := out["creds"].(map[string]any)
	if creds["me"] != "1555@s.whatsapp.net" || creds["noiseKey"] != "****" {
		t.Errorf("creds = %v", creds)
	}
	if creds["device"] != "****" {
		t.Errorf("device row not redacted: %v", creds["device"])
	}
	if out["keys"].(map[string]int)["sessions"] != 3 {
		t.Errorf("keys = %v", out["keys"])
	}
	if out["keys"].(map[string]int)["pre-key"] != 2 {
		t.Errorf("keys = %v", out["keys"])
	}
}

func TestPhoneHelpers(t *testing.T) {
	if got := digitsOnly("+1 (555) 123-4567"); got != "15551234567" {
		t.Errorf("digitsOnly = %q", got)
	}
	if validatePhone("123") == nil {
		t.Error("short number accepted")
	}
	if err := validatePhone("+1 555 123 4567"); err != nil {
		t.Error(err)
	}
}

type scriptedRunner struct {
	outcomes []session.Outcome
	calls    int
}

func (r *scriptedRunner) SessionID() string { return "main" }

func (r *scriptedRunner) Run(ctx context.Context) (session.Outcome, error) {
	o := r.outcomes[min(r.calls, len(r.outcomes)-1)]
	r.calls++
	switch o {
	case session.OutcomeChallengeTimeout:
		return o, session.ErrChallengeTimeout
	case session.OutcomeLoggedOut:
		return o, session.ErrLoggedOut
	}
	return o, ctx.Err()
}

func TestSuperviseSession_RestartsAfterChallengeTimeout(t *testing.T) {
	r := &scriptedRunner{outcomes: []session.Outcome{
		session.OutcomeChallengeTimeout,
		session.OutcomeChallengeTimeout,
		session.OutcomeLoggedOut,
	}}
	err := superviseSession(context.Background(), r, time.Millisecond)
	if !errors.Is(err, session.ErrLoggedOut) {
		t.Fatalf("err = %v, want logged out", err)
	}
	if r.calls != 3 {
		t.Errorf("runs = %d, want 3", r.calls)
	}
}

func TestSuperviseSession_StopsDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &scriptedRunner{outcomes: []session.Outcome{session.OutcomeChallengeTimeout}}
	done := make(chan error, 1)
	go func() { done <- superviseSession(ctx, r, time.Hour) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("err = %v, want nil on shutdown", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor ignored cancellation")
	}
	if r.calls != 1 {
		t.Errorf("runs = %d", r.calls)
	}
}
