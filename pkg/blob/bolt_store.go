package blob

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/jacktea/blobsvc/pkg/xerrors"
)

var defaultBoltBucket = []byte("blobs")

// BoltConfig configures the BoltDB-backed store.
type BoltConfig struct {
	Path    string
	Bucket  string
	NoSync  bool
	Timeout time.Duration
	Logger  *slog.Logger
}

// BoltStore persists blobs in a single BoltDB bucket keyed by blob key.
type BoltStore struct {
	db     *bolt.DB
	bucket []byte
	log    *slog.Logger
}

// NewBoltStore opens (or creates) the database at cfg.Path.
func NewBoltStore(cfg BoltConfig) (*BoltStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("boltdb: path is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 1 * time.Second
	}
	bucket := defaultBoltBucket
	if cfg.Bucket != "" {
		bucket = []byte(cfg.Bucket)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	opts := bolt.Options{
		Timeout: cfg.Timeout,
		NoSync:  cfg.NoSync,
	}
	db, err := bolt.Open(cfg.Path, 0o600, &opts)
	if err != nil {
		return nil, fmt.Errorf("boltdb: open: %w", err)
	}
	store := &BoltStore{db: db, bucket: bucket, log: log}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
			return fmt.Errorf("boltdb: create bucket %s: %w", bucket, err)
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (b *BoltStore) Put(ctx context.Context, key string, data []byte) error {
	clean, err := CleanKey(key)
	if err != nil {
		return err
	}
	err = b.db.Update(func(tx *bolt.Tx) error {
		// bolt rejects nil values; an empty blob is stored as a zero-length slice.
		return tx.Bucket(b.bucket).Put([]byte(clean), append([]byte{}, data...))
	})
	if err != nil {
		return xerrors.Wrap(xerrors.KindStorage, "BoltStore.Put", key, err)
	}
	b.log.Debug("stored blob in bolt", slog.String("key", clean), slog.Int("size", len(data)))
	return nil
}

func (b *BoltStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	clean, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = b.db.View(func(tx *bolt.Tx) error {
		v, ok := lookup(tx.Bucket(b.bucket), []byte(clean))
		if !ok {
			return notFound("BoltStore.Fetch", key)
		}
		// Values are only valid for the life of the transaction.
		data = append([]byte{}, v...)
		return nil
	})
	if err != nil {
		if xerrors.IsNotFound(err) {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.KindStorage, "BoltStore.Fetch", key, err)
	}
	return data, nil
}

func (b *BoltStore) Delete(ctx context.Context, key string) error {
	clean, err := CleanKey(key)
	if err != nil {
		return err
	}
	err = b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(b.bucket)
		if _, ok := lookup(bucket, []byte(clean)); !ok {
			return notFound("BoltStore.Delete", key)
		}
		return bucket.Delete([]byte(clean))
	})
	if err != nil {
		if xerrors.IsNotFound(err) {
			return err
		}
		return xerrors.Wrap(xerrors.KindStorage, "BoltStore.Delete", key, err)
	}
	return nil
}

// Close releases the database file lock.
func (b *BoltStore) Close() error {
	return b.db.Close()
}

// lookup distinguishes a stored empty value from a missing key, which
// Bucket.Get does not.
func lookup(bucket *bolt.Bucket, key []byte) ([]byte, bool) {
	k, v := bucket.Cursor().Seek(key)
	if k == nil || !bytes.Equal(k, key) {
		return nil, false
	}
	return v, true
}
