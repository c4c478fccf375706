package blob

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacktea/blobsvc/pkg/xerrors"
)

func newTestRedisStore(t *testing.T, prefix string) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), RedisConfig{Addr: mr.Addr(), Prefix: prefix})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func TestRedisStoreContract(t *testing.T) {
	store, _ := newTestRedisStore(t, "blob:")
	runBackendContract(t, store)
	runConcurrentPuts(t, store)
}

func TestRedisStoreUsesPrefix(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t, "blob:")
	require.NoError(t, store.Put(ctx, "custom/id/a.txt", []byte("hi")))
	got, err := mr.Get("blob:custom/id/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hi", got)
}

func TestRedisStoreSurfacesServerErrors(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t, "")
	mr.SetError("ERR simulated failure")
	_, err := store.Fetch(ctx, "a.txt")
	require.Error(t, err)
	assert.Equal(t, xerrors.KindStorage, xerrors.KindOf(err))
}

func TestNewRedisStoreRequiresAddr(t *testing.T) {
	_, err := NewRedisStore(context.Background(), RedisConfig{})
	assert.Error(t, err)
}
