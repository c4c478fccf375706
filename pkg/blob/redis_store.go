package blob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jacktea/blobsvc/pkg/xerrors"
)

// RedisConfig configures RedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix is prepended to every blob key, e.g. "blob:".
	Prefix      string
	DialTimeout time.Duration
	Logger      *slog.Logger
}

// RedisStore keeps each blob as a plain Redis string value.
type RedisStore struct {
	client *redis.Client
	prefix string
	log    *slog.Logger
}

// NewRedisStore connects to cfg.Addr and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis: addr is required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}
	return NewRedisStoreFromClient(client, cfg.Prefix, cfg.Logger), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string, log *slog.Logger) *RedisStore {
	if log == nil {
		log = slog.Default()
	}
	return &RedisStore{client: client, prefix: prefix, log: log}
}

func (r *RedisStore) Put(ctx context.Context, key string, data []byte) error {
	k, err := r.redisKey(key)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, k, data, 0).Err(); err != nil {
		r.log.Error("redis SET failed", slog.String("key", k), "err", err)
		return xerrors.Wrap(xerrors.KindStorage, "RedisStore.Put", key, err)
	}
	r.log.Debug("redis SET", slog.String("key", k), slog.Int("size", len(data)))
	return nil
}

func (r *RedisStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	k, err := r.redisKey(key)
	if err != nil {
		return nil, err
	}
	data, err := r.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound("RedisStore.Fetch", key)
	}
	if err != nil {
		r.log.Error("redis GET failed", slog.String("key", k), "err", err)
		return nil, xerrors.Wrap(xerrors.KindStorage, "RedisStore.Fetch", key, err)
	}
	return data, nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	k, err := r.redisKey(key)
	if err != nil {
		return err
	}
	n, err := r.client.Del(ctx, k).Result()
	if err != nil {
		r.log.Error("redis DEL failed", slog.String("key", k), "err", err)
		return xerrors.Wrap(xerrors.KindStorage, "RedisStore.Delete", key, err)
	}
	if n == 0 {
		return notFound("RedisStore.Delete", key)
	}
	return nil
}

// Close closes the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) redisKey(key string) (string, error) {
	clean, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return r.prefix + clean, nil
}
