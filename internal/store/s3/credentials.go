// Package s3 implements a CredentialStore on an S3-compatible bucket.
//
// Every Save uploads a new object <prefix>/<session>/auth-<unix-ms>.json;
// Load picks the configured exact key or, failing that, the most recently
// modified object under the session prefix.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/nextlevelbuilder/luxbot/internal/store"
)

const (
	defaultPrefix = "wa-sessions"
	defaultRetain = 3
)

// API is the subset of the S3 client the store needs.
type API interface {
	manager.UploadAPIClient
	awss3.ListObjectsV2APIClient
	GetObject(ctx context.Context, in *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	DeleteObjects(ctx context.Context, in *awss3.DeleteObjectsInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectsOutput, error)
}

// Config configures the bucket connection.
type Config struct {
	Bucket          string
	Prefix          string
	Key             string // exact object to load; empty = latest under the session prefix
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	Retain          int // snapshots kept per session after a save
}

// CredentialStore stores auth snapshots as JSON objects.
type CredentialStore struct {
	api      API
	uploader *manager.Uploader
	bucket   string
	prefix   string
	key      string
	retain   int
	now      func() time.Time
}

// NewClient builds an S3 client from cfg using the default AWS credential chain,
// overridden by static keys when both are set.
func NewClient(ctx context.Context, cfg Config) (*awss3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// New creates a store on top of an existing client.
func New(api API, cfg Config) (*CredentialStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 store: bucket is required")
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = defaultPrefix
	}
	retain := cfg.Retain
	if retain <= 0 {
		retain = defaultRetain
	}
	return &CredentialStore{
		api:      api,
		uploader: manager.NewUploader(api),
		bucket:   cfg.Bucket,
		prefix:   prefix,
		key:      cfg.Key,
		retain:   retain,
		now:      time.Now,
	}, nil
}

func (s *CredentialStore) sessionPrefix(sessionID string) string {
	return path.Join(s.prefix, sessionID) + "/"
}

func (s *CredentialStore) Load(ctx context.Context, sessionID string) (*store.AuthState, error) {
	if err := store.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	key := s.key
	if key == "" {
		objects, err := s.list(ctx, s.sessionPrefix(sessionID))
		if err != nil {
			return nil, err
		}
		if len(objects) == 0 {
			return nil, nil
		}
		key = objects[0].key
		slog.Debug("s3 store: selected latest snapshot", "session", sessionID, "key", key)
	}

	out, err := s.api.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", s.bucket, key, err)
	}
	st, err := store.DecodeAuthState(data)
	if err != nil {
		return nil, fmt.Errorf("parse s3://%s/%s: %w", s.bucket, key, err)
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

	key := fmt.Sprintf("%sauth-%d.json", s.sessionPrefix(sessionID), s.now().UnixMilli())
	_, err = s.uploader.Upload(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", s.bucket, key, err)
	}

	if err := s.prune(ctx, sessionID); err != nil {
		slog.Warn("s3 store: prune old snapshots failed", "session", sessionID, "error", err)
	}
	return nil
}

func (s *CredentialStore) Delete(ctx context.Context, sessionID string) error {
	if err := store.ValidateSessionID(sessionID); err != nil {
		return err
	}
	objects, err := s.list(ctx, s.sessionPrefix(sessionID))
	if err != nil {
		return err
	}
	return s.deleteObjects(ctx, objects)
}

// prune keeps the newest s.retain snapshots of a session.
func (s *CredentialStore) prune(ctx context.Context, sessionID string) error {
	objects, err := s.list(ctx, s.sessionPrefix(sessionID))
	if err != nil {
		return err
	}
	if len(objects) <= s.retain {
		return nil
	}
	return s.deleteObjects(ctx, objects[s.retain:])
}

type object struct {
	key      string
	modified time.Time
}

// list returns the objects under prefix, newest first.
func (s *CredentialStore) list(ctx context.Context, prefix string) ([]object, error) {
	var objects []object
	p := awss3.NewListObjectsV2Paginator(s.api, &awss3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", s.bucket, prefix, err)
		}
		for _, o := range page.Contents {
			key := aws.ToString(o.Key)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			objects = append(objects, object{key: key, modified: aws.ToTime(o.LastModified)})
		}
	}
	sort.Slice(objects, func(i, j int) bool {
		if objects[i].modified.Equal(objects[j].modified) {
			return objects[i].key > objects[j].key
		}
		return objects[i].modified.After(objects[j].modified)
	})
	return objects, nil
}

func (s *CredentialStore) deleteObjects(ctx context.Context, objects []object) error {
	if len(objects) == 0 {
		return nil
	}
	ids := make([]types.ObjectIdentifier, 0, len(objects))
	for _, o := range objects {
		ids = append(ids, types.ObjectIdentifier{Key: aws.String(o.key)})
	}
	_, err := s.api.DeleteObjects(ctx, &awss3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return fmt.Errorf("delete %d objects from s3://%s: %w", len(ids), s.bucket, err)
	}
	return nil
}

var _ store.CredentialStore = (*CredentialStore)(nil)
