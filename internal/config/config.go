// Package config loads the luxbot configuration file (JSON5) and applies
// environment overrides.
package config

import (
	"time"
)

// Config is the root configuration.
type Config struct {
	Session   SessionConfig   `json:"session"`
	Storage   StorageConfig   `json:"storage"`
	Commands  CommandsConfig  `json:"commands"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Web       WebConfig       `json:"web"`
	Log       LogConfig       `json:"log"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

// SessionConfig drives the connection lifecycle manager.
type SessionConfig struct {
	ID                string   `json:"id"`
	Backend           string   `json:"backend"`             // file|s3|postgres|sqlite|redis
	ReconnectDelay    Duration `json:"reconnect_delay"`     // fixed delay, or the base of the exponential backoff
	MaxReconnectDelay Duration `json:"max_reconnect_delay"` // cap for exponential backoff
	Backoff           string   `json:"backoff"`             // fixed|exponential
	ChallengeTimeout  Duration `json:"challenge_timeout"`
	OnLogout          string   `json:"on_logout"` // keep|delete
	LogoutStatusCodes []int    `json:"logout_status_codes"`
	PreferPairingCode bool     `json:"prefer_pairing_code"`
	PhoneNumber       string   `json:"phone_number,omitempty"`
	DeviceDB          string   `json:"device_db"`         // whatsmeow working copy of the device keys (sqlite path or postgres dsn)
	KeySyncInterval   Duration `json:"key_sync_interval"` // how often device key changes are saved to the backend
	FallbackFile      string   `json:"fallback_file"`     // single-blob auth file used when bootstrap fails
	ClientName        string   `json:"client_name"`
}

type StorageConfig struct {
	File     FileStorageConfig     `json:"file"`
	S3       S3StorageConfig       `json:"s3"`
	Postgres PostgresStorageConfig `json:"postgres"`
	SQLite   SQLiteStorageConfig   `json:"sqlite"`
	Redis    RedisStorageConfig    `json:"redis"`

	// EncryptionKey seals stored credentials with AES-256-GCM: 32 raw bytes,
	// 64 hex chars or 44 base64 chars. Empty stores plaintext.
	EncryptionKey string      `json:"encryption_key,omitempty"`
	Retry         RetryConfig `json:"retry"`
}

// RetryConfig applies to the remote backends (s3, postgres, redis).
type RetryConfig struct {
	MaxRetries int      `json:"max_retries"`
	BaseDelay  Duration `json:"base_delay"`
	MaxDelay   Duration `json:"max_delay"`
}

type FileStorageConfig struct {
	Dir    string `json:"dir"`
	Layout string `json:"layout"` // single|multi
}

type S3StorageConfig struct {
	Bucket          string `json:"bucket"`
	Prefix          string `json:"prefix"`
	Key             string `json:"key,omitempty"`
	Region          string `json:"region,omitempty"`
	Endpoint        string `json:"endpoint,omitempty"`
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
	UsePathStyle    bool   `json:"use_path_style,omitempty"`
	Retain          int    `json:"retain,omitempty"`
}

type PostgresStorageConfig struct {
	DSN   string `json:"dsn"`
	Table string `json:"table,omitempty"`
}

type SQLiteStorageConfig struct {
	Path string `json:"path"`
}

type RedisStorageConfig struct {
	URL       string `json:"url,omitempty"`
	Addr      string `json:"addr,omitempty"`
	Password  string `json:"password,omitempty"`
	DB        int    `json:"db,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty"`
}

// CommandsConfig configures the dispatcher and the built-in commands.
type CommandsConfig struct {
	Prefix        string              `json:"prefix"`
	PrefixAliases []string            `json:"prefix_aliases,omitempty"`
	Owners        []string            `json:"owners"`
	Disabled      []string            `json:"disabled,omitempty"`
	Aliases       map[string][]string `json:"aliases,omitempty"` // command name -> extra aliases
	Fallback      string              `json:"fallback"`          // ignore|echo
	Timeout       Duration            `json:"timeout"`
	EvalEnabled   bool                `json:"eval_enabled"`
	EvalTimeout   Duration            `json:"eval_timeout"`
	DedupeTTL     Duration            `json:"dedupe_ttl"`
}

type RateLimitConfig struct {
	Limit  int      `json:"limit"`
	Window Duration `json:"window"`
	Mode   string   `json:"mode"` // reply|silent
}

type WebConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	RPM     int    `json:"rpm"`
	Burst   int    `json:"burst"`
	// Token, when set, is required as a bearer token or ?token= on every
	// route except /healthz.
	Token string `json:"token,omitempty"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // text|json
}

type TelemetryConfig struct {
	Enabled     bool              `json:"enabled"`
	Endpoint    string            `json:"endpoint"`
	Protocol    string            `json:"protocol"` // grpc|http
	Insecure    bool              `json:"insecure"`
	ServiceName string            `json:"service_name"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			ID:                "main",
			Backend:           "file",
			ReconnectDelay:    Duration(5 * time.Second),
			MaxReconnectDelay: Duration(2 * time.Minute),
			Backoff:           "fixed",
			ChallengeTimeout:  Duration(2 * time.Minute),
			OnLogout:          "keep",
			LogoutStatusCodes: []int{401},
			DeviceDB:          "~/.luxbot/device.db",
			KeySyncInterval:   Duration(30 * time.Second),
			FallbackFile:      "~/.luxbot/auth_info.json",
			ClientName:        "Chrome (Linux)",
		},
		Storage: StorageConfig{
			File:     FileStorageConfig{Dir: "~/.luxbot/sessions", Layout: "multi"},
			S3:       S3StorageConfig{Prefix: "wa-sessions", Retain: 3},
			Postgres: PostgresStorageConfig{Table: "wa_sessions"},
			SQLite:   SQLiteStorageConfig{Path: "~/.luxbot/sessions.db"},
			Redis:    RedisStorageConfig{KeyPrefix: "luxbot:session"},
			Retry: RetryConfig{
				MaxRetries: 3,
				BaseDelay:  Duration(500 * time.Millisecond),
				MaxDelay:   Duration(10 * time.Second),
			},
		},
		Commands: CommandsConfig{
			Prefix:      ".",
			Fallback:    "ignore",
			Timeout:     Duration(30 * time.Second),
			EvalTimeout: Duration(5 * time.Second),
			DedupeTTL:   Duration(10 * time.Minute),
		},
		RateLimit: RateLimitConfig{
			Limit:  20,
			Window: Duration(5 * time.Minute),
			Mode:   "reply",
		},
		Web: WebConfig{
			Host:  "127.0.0.1",
			Port:  8080,
			RPM:   60,
			Burst: 10,
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "luxbot",
		},
	}
}
