package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// DefaultPath is used when neither --config nor LUXBOT_CONFIG is set.
const DefaultPath = "~/.luxbot/config.json"

// Load reads the JSON5 file at path on top of Default, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(ExpandHome(path))
	switch {
	case err == nil:
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.ApplyEnv(os.LookupEnv)
	cfg.Session.ID = NormalizeSessionID(cfg.Session.ID)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides file values with environment variables. Both the
// LUXBOT_* names and the short names used by existing deployments are read;
// LUXBOT_* wins when both are set.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	get := func(names ...string) (string, bool) {
		for _, n := range names {
			if v, ok := lookup(n); ok && v != "" {
				return v, true
			}
		}
		return "", false
	}

	if v, ok := get("LUXBOT_SESSION_ID", "SESSION_ID"); ok {
		c.Session.ID = v
	}
	if v, ok := get("LUXBOT_SESSION_BACKEND"); ok {
		c.Session.Backend = v
	}
	if v, ok := get("LUXBOT_PHONE_NUMBER", "PHONE_NUMBER"); ok {
		c.Session.PhoneNumber = v
	}
	if v, ok := get("LUXBOT_OWNER", "OWNER"); ok {
		c.Commands.Owners = splitList(v)
	}
	if v, ok := get("LUXBOT_PREFIX", "PREFIX"); ok {
		c.Commands.Prefix = v
	}
	if v, ok := get("LUXBOT_DATABASE_URL", "DATABASE_URL"); ok {
		c.Storage.Postgres.DSN = v
		if _, explicit := get("LUXBOT_SESSION_BACKEND"); !explicit {
			c.Session.Backend = "postgres"
		}
	}
	if v, ok := get("LUXBOT_S3_BUCKET", "S3_BUCKET"); ok {
		c.Storage.S3.Bucket = v
	}
	if v, ok := get("LUXBOT_S3_PREFIX", "S3_PREFIX"); ok {
		c.Storage.S3.Prefix = v
	}
	if v, ok := get("LUXBOT_S3_KEY", "S3_KEY"); ok {
		c.Storage.S3.Key = v
	}
	if v, ok := get("LUXBOT_S3_ENDPOINT", "S3_ENDPOINT"); ok {
		c.Storage.S3.Endpoint = v
	}
	if v, ok := get("LUXBOT_AWS_REGION", "AWS_REGION"); ok {
		c.Storage.S3.Region = v
	}
	if v, ok := get("LUXBOT_REDIS_URL", "REDIS_URL"); ok {
		c.Storage.Redis.URL = v
	}
	if v, ok := get("LUXBOT_LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := get("LUXBOT_RATE_LIMIT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.Limit = n
		}
	}
	if v, ok := get("LUXBOT_WEB_PORT", "PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Web.Port = n
			c.Web.Enabled = true
		}
	}
	if v, ok := get("LUXBOT_ENCRYPTION_KEY", "SESSION_ENCRYPTION_KEY"); ok {
		c.Storage.EncryptionKey = v
	}
	if v, ok := get("LUXBOT_WEB_TOKEN"); ok {
		c.Web.Token = v
	}
	if v, ok := get("LUXBOT_OTEL_ENDPOINT"); ok {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}
}

// Validate rejects enum values the runtime cannot act on.
func (c *Config) Validate() error {
	checks := []struct {
		key, value string
		allowed    []string
	}{
		{"session.backend", c.Session.Backend, []string{"file", "s3", "postgres", "sqlite", "redis"}},
		{"session.backoff", c.Session.Backoff, []string{"fixed", "exponential"}},
		{"session.on_logout", c.Session.OnLogout, []string{"keep", "delete"}},
		{"storage.file.layout", c.Storage.File.Layout, []string{"single", "multi"}},
		{"commands.fallback", c.Commands.Fallback, []string{"ignore", "echo"}},
		{"rate_limit.mode", c.RateLimit.Mode, []string{"reply", "silent"}},
	}
	for _, ch := range checks {
		if !slices.Contains(ch.allowed, ch.value) {
			return fmt.Errorf("config: %s must be one of %s, got %q", ch.key, strings.Join(ch.allowed, "|"), ch.value)
		}
	}
	if c.Commands.Prefix == "" {
		return errors.New("config: commands.prefix must not be empty")
	}
	if c.RateLimit.Limit > 0 && c.RateLimit.Window.Std() <= 0 {
		return errors.New("config: rate_limit.window must be positive when rate_limit.limit is set")
	}
	if c.Session.Backend == "s3" && c.Storage.S3.Bucket == "" {
		return errors.New("config: storage.s3.bucket is required for the s3 backend")
	}
	if c.Session.Backend == "postgres" && c.Storage.Postgres.DSN == "" {
		return errors.New("config: storage.postgres.dsn is required for the postgres backend")
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' || r == ';' }) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
