package blob

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	// Bucket URL schemes understood by OpenBucketStore.
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/jacktea/blobsvc/pkg/contentid"
	"github.com/jacktea/blobsvc/pkg/xerrors"
)

// BucketStore stores blobs in any portable Go CDK bucket: mem://,
// file:///dir, s3://bucket?region=... or gs://bucket.
type BucketStore struct {
	bucket *blob.Bucket
	prefix string
	log    *slog.Logger
}

// OpenBucketStore opens the bucket identified by url.
func OpenBucketStore(ctx context.Context, url, prefix string, log *slog.Logger) (*BucketStore, error) {
	if url == "" {
		return nil, fmt.Errorf("bucket: url is required")
	}
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("bucket: open %s: %w", url, err)
	}
	return NewBucketStore(bucket, prefix, log), nil
}

// NewBucketStore wraps an already opened bucket.
func NewBucketStore(bucket *blob.Bucket, prefix string, log *slog.Logger) *BucketStore {
	if log == nil {
		log = slog.Default()
	}
	return &BucketStore{bucket: bucket, prefix: strings.Trim(prefix, "/"), log: log}
}

func (b *BucketStore) Put(ctx context.Context, key string, data []byte) error {
	k, err := b.objectKey(key)
	if err != nil {
		return err
	}
	opts := &blob.WriterOptions{ContentType: contentid.MediaTypeFor(k)}
	if err := b.bucket.WriteAll(ctx, k, data, opts); err != nil {
		b.log.Error("bucket write failed", slog.String("key", k), "err", err)
		return xerrors.Wrap(xerrors.KindStorage, "BucketStore.Put", key, err)
	}
	return nil
}

func (b *BucketStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	k, err := b.objectKey(key)
	if err != nil {
		return nil, err
	}
	data, err := b.bucket.ReadAll(ctx, k)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, notFound("BucketStore.Fetch", key)
		}
		return nil, xerrors.Wrap(xerrors.KindStorage, "BucketStore.Fetch", key, err)
	}
	return data, nil
}

func (b *BucketStore) Delete(ctx context.Context, key string) error {
	k, err := b.objectKey(key)
	if err != nil {
		return err
	}
	if err := b.bucket.Delete(ctx, k); err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return notFound("BucketStore.Delete", key)
		}
		return xerrors.Wrap(xerrors.KindStorage, "BucketStore.Delete", key, err)
	}
	return nil
}

// Close releases the bucket.
func (b *BucketStore) Close() error {
	return b.bucket.Close()
}

func (b *BucketStore) objectKey(key string) (string, error) {
	clean, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	if b.prefix == "" {
		return clean, nil
	}
	return path.Join(b.prefix, clean), nil
}
