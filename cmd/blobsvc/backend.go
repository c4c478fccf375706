package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jacktea/blobsvc/pkg/blob"
	"github.com/jacktea/blobsvc/pkg/cache"
)

// backendOptions is the flattened configuration for one storage backend.
type backendOptions struct {
	Kind string

	FSRoot   string
	FSFanout bool

	BoltPath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	S3 blob.S3Config

	BucketURL    string
	BucketPrefix string

	PostgresDSN   string
	PostgresTable string
}

// loadBackendOptions reads backend settings under prefix ("" for the
// primary backend, "mirror." for the secondary).
func loadBackendOptions(v *viper.Viper, prefix string, kindKey string) backendOptions {
	return backendOptions{
		Kind:          v.GetString(kindKey),
		FSRoot:        v.GetString(prefix + "fs.root"),
		FSFanout:      v.GetBool(prefix + "fs.fanout"),
		BoltPath:      v.GetString(prefix + "bolt.path"),
		RedisAddr:     v.GetString(prefix + "redis.addr"),
		RedisPassword: v.GetString(prefix + "redis.password"),
		RedisDB:       v.GetInt(prefix + "redis.db"),
		RedisPrefix:   v.GetString(prefix + "redis.prefix"),
		S3: blob.S3Config{
			Bucket:       v.GetString(prefix + "s3.bucket"),
			Prefix:       v.GetString(prefix + "s3.prefix"),
			Region:       v.GetString(prefix + "s3.region"),
			Endpoint:     v.GetString(prefix + "s3.endpoint"),
			AccessKey:    v.GetString(prefix + "s3.access_key"),
			SecretKey:    v.GetString(prefix + "s3.secret_key"),
			SessionToken: v.GetString(prefix + "s3.session_token"),
			PathStyle:    v.GetBool(prefix + "s3.path_style"),
		},
		BucketURL:     v.GetString(prefix + "bucket.url"),
		BucketPrefix:  v.GetString(prefix + "bucket.prefix"),
		PostgresDSN:   v.GetString(prefix + "postgres.dsn"),
		PostgresTable: v.GetString(prefix + "postgres.table"),
	}
}

// buildBackend opens the backend described by opts. Closers for any
// connections it opens are appended to closers.
func buildBackend(ctx context.Context, opts backendOptions, log *slog.Logger, closers *[]io.Closer) (blob.Backend, error) {
	track := func(c io.Closer) {
		if closers != nil {
			*closers = append(*closers, c)
		}
	}
	switch strings.ToLower(opts.Kind) {
	case "", "fs", "local":
		if opts.FSRoot == "" {
			return nil, errors.New("fs backend requires fs.root")
		}
		return blob.NewFSStore(opts.FSRoot, blob.FSOptions{Fanout: opts.FSFanout, Logger: log})
	case "memory", "mem":
		return blob.NewMemoryStore(), nil
	case "bolt", "boltdb":
		store, err := blob.NewBoltStore(blob.BoltConfig{Path: opts.BoltPath, Logger: log})
		if err != nil {
			return nil, err
		}
		track(store)
		return store, nil
	case "redis":
		store, err := blob.NewRedisStore(ctx, blob.RedisConfig{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
			Prefix:   opts.RedisPrefix,
			Logger:   log,
		})
		if err != nil {
			return nil, err
		}
		track(store)
		return store, nil
	case "s3":
		cfg := opts.S3
		cfg.Logger = log
		return blob.NewS3Store(cfg)
	case "bucket", "gocloud":
		store, err := blob.OpenBucketStore(ctx, opts.BucketURL, opts.BucketPrefix, log)
		if err != nil {
			return nil, err
		}
		track(store)
		return store, nil
	case "postgres", "pg":
		store, err := blob.NewPostgresStore(ctx, blob.PostgresConfig{
			DSN:    opts.PostgresDSN,
			Table:  opts.PostgresTable,
			Logger: log,
		})
		if err != nil {
			return nil, err
		}
		track(store)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", opts.Kind)
	}
}

// cacheOptions configures the optional read-through cache.
type cacheOptions struct {
	Entries int
	Bytes   int64
	TTL     time.Duration
}

// buildStack assembles primary backend, optional mirror and optional
// cache from v.
func buildStack(ctx context.Context, v *viper.Viper, log *slog.Logger, closers *[]io.Closer) (blob.Backend, error) {
	backend, err := buildBackend(ctx, loadBackendOptions(v, "", "backend"), log, closers)
	if err != nil {
		return nil, fmt.Errorf("backend: %w", err)
	}
	if kind := v.GetString("mirror.backend"); kind != "" {
		secondary, err := buildBackend(ctx, loadBackendOptions(v, "mirror.", "mirror.backend"), log, closers)
		if err != nil {
			return nil, fmt.Errorf("mirror backend: %w", err)
		}
		backend, err = blob.NewMirrorStore(backend, secondary, blob.MirrorOptions{
			CacheOnRead: v.GetBool("mirror.cache_on_read"),
			Logger:      log,
		})
		if err != nil {
			return nil, err
		}
	}
	co := cacheOptions{
		Entries: v.GetInt("cache.entries"),
		Bytes:   v.GetInt64("cache.bytes"),
		TTL:     v.GetDuration("cache.ttl"),
	}
	if co.Entries > 0 || co.Bytes > 0 {
		c := cache.New(cache.Options{Entries: co.Entries, MaxBytes: co.Bytes, TTL: co.TTL})
		if closers != nil {
			*closers = append(*closers, c)
		}
		backend = blob.NewCachedStore(backend, c)
	}
	return backend, nil
}
