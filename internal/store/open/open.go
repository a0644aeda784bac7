// Package open builds the configured CredentialStore backend.
package open

import (
	"context"
	"fmt"
	"io"

	"github.com/nextlevelbuilder/luxbot/internal/config"
	"github.com/nextlevelbuilder/luxbot/internal/store"
	"github.com/nextlevelbuilder/luxbot/internal/store/file"
	"github.com/nextlevelbuilder/luxbot/internal/store/pg"
	redisstore "github.com/nextlevelbuilder/luxbot/internal/store/redis"
	"github.com/nextlevelbuilder/luxbot/internal/store/retry"
	s3store "github.com/nextlevelbuilder/luxbot/internal/store/s3"
	"github.com/nextlevelbuilder/luxbot/internal/store/secure"
	"github.com/nextlevelbuilder/luxbot/internal/store/sqlite"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Store opens the backend named by backend using the storage section of cfg.
// Remote backends retry failed calls; with an encryption key every backend
// stores sealed states. The returned closer releases connections held by
// the backend.
func Store(ctx context.Context, backend string, cfg config.StorageConfig) (store.CredentialStore, io.Closer, error) {
	st, closer, err := openBackend(ctx, backend, cfg)
	if err != nil {
		return nil, nil, err
	}
	if remote(backend) {
		st = retry.Wrap(st, retry.Config{
			MaxRetries: cfg.Retry.MaxRetries,
			BaseDelay:  cfg.Retry.BaseDelay.Std(),
			MaxDelay:   cfg.Retry.MaxDelay.Std(),
		})
	}
	st, err = secure.Wrap(st, cfg.EncryptionKey)
	if err != nil {
		closer.Close()
		return nil, nil, fmt.Errorf("storage encryption: %w", err)
	}
	return st, closer, nil
}

func remote(backend string) bool {
	switch backend {
	case store.BackendS3, store.BackendPostgres, store.BackendRedis:
		return true
	}
	return false
}

func openBackend(ctx context.Context, backend string, cfg config.StorageConfig) (store.CredentialStore, io.Closer, error) {
	switch backend {
	case store.BackendFile, "":
		return file.NewCredentialStore(config.ExpandHome(cfg.File.Dir), cfg.File.Layout), nopCloser{}, nil

	case store.BackendS3:
		s3cfg := s3store.Config{
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			Key:             cfg.S3.Key,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
			Retain:          cfg.S3.Retain,
		}
		client, err := s3store.NewClient(ctx, s3cfg)
		if err != nil {
			return nil, nil, err
		}
		s, err := s3store.New(client, s3cfg)
		if err != nil {
			return nil, nil, err
		}
		return s, nopCloser{}, nil

	case store.BackendPostgres:
		db, err := pg.OpenDB(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		s := pg.NewCredentialStore(db, cfg.Postgres.Table)
		if err := s.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return s, db, nil

	case store.BackendSQLite:
		s, err := sqlite.Open(ctx, config.ExpandHome(cfg.SQLite.Path))
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil

	case store.BackendRedis:
		opts, err := redisstore.Options(cfg.Redis.URL, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		client, err := redisstore.NewClient(ctx, opts)
		if err != nil {
			return nil, nil, err
		}
		return redisstore.NewCredentialStore(client, cfg.Redis.KeyPrefix), client, nil
	}
	return nil, nil, fmt.Errorf("unknown session backend %q", backend)
}
