package blob

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jacktea/blobsvc/pkg/xerrors"
)

// MirrorOptions control mirror behaviour.
type MirrorOptions struct {
	// CacheOnRead copies blobs found only on the secondary back into the primary.
	CacheOnRead bool
	Logger      *slog.Logger
}

// MirrorStore writes every blob to two backends and reads from the
// primary first, falling back to the secondary.
type MirrorStore struct {
	primary   Backend
	secondary Backend
	opts      MirrorOptions
	log       *slog.Logger
}

// NewMirrorStore composes primary and secondary backends.
func NewMirrorStore(primary, secondary Backend, opts MirrorOptions) (*MirrorStore, error) {
	if primary == nil {
		return nil, fmt.Errorf("mirror: primary store required")
	}
	if secondary == nil {
		return nil, fmt.Errorf("mirror: secondary store required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &MirrorStore{primary: primary, secondary: secondary, opts: opts, log: log}, nil
}

func (m *MirrorStore) Put(ctx context.Context, key string, data []byte) error {
	if err := m.primary.Put(ctx, key, data); err != nil {
		return err
	}
	if err := m.secondary.Put(ctx, key, data); err != nil {
		return xerrors.Wrap(xerrors.KindOf(err), "MirrorStore.Put", key, err)
	}
	return nil
}

func (m *MirrorStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	data, err := m.primary.Fetch(ctx, key)
	if err == nil {
		return data, nil
	}
	if !xerrors.IsNotFound(err) {
		m.log.Warn("primary fetch failed, trying secondary", slog.String("key", key), "err", err)
	}
	data, err2 := m.secondary.Fetch(ctx, key)
	if err2 != nil {
		if xerrors.IsNotFound(err2) && !xerrors.IsNotFound(err) {
			return nil, err
		}
		return nil, err2
	}
	if m.opts.CacheOnRead {
		if err := m.primary.Put(ctx, key, data); err != nil {
			m.log.Warn("failed to refill primary", slog.String("key", key), "err", err)
		}
	}
	return data, nil
}

// Delete removes key from both backends. It reports NotFound only when
// neither backend held the key.
func (m *MirrorStore) Delete(ctx context.Context, key string) error {
	errPrimary := m.primary.Delete(ctx, key)
	errSecondary := m.secondary.Delete(ctx, key)
	switch {
	case errPrimary != nil && !xerrors.IsNotFound(errPrimary):
		return errPrimary
	case errSecondary != nil && !xerrors.IsNotFound(errSecondary):
		return errSecondary
	case errPrimary != nil && errSecondary != nil:
		return errPrimary
	}
	return nil
}
