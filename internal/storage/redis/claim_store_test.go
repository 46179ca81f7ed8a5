package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PoE-Chain/internal/claim"
	xerrors "PoE-Chain/internal/errors"
)

func newTestStore(t *testing.T) (*ClaimStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewClaimStore(context.Background(), Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

var fp = claim.MustFingerprint([]byte{0x01, 0xff})

func TestClaimStoreInsertAndGet(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	rec := claim.Record{Owner: "alice", RegisteredAt: 42, Active: true}

	_, err := store.Get(ctx, fp)
	require.ErrorIs(t, err, claim.ErrRecordNotFound)

	require.NoError(t, store.Insert(ctx, fp, rec))
	require.ErrorIs(t, store.Insert(ctx, fp, rec), claim.ErrRecordExists)

	got, err := store.Get(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.Equal(t, "alice", mr.HGet("poe:claim:0x01ff", "owner"))
}

func TestClaimStoreSwap(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	prev := claim.Record{Owner: "alice", RegisteredAt: 1, Active: true}
	next := claim.Record{Owner: "bob", RegisteredAt: 1, Active: true}

	require.ErrorIs(t, store.Swap(ctx, fp, prev, next), claim.ErrRecordNotFound)
	require.NoError(t, store.Insert(ctx, fp, prev))
	require.NoError(t, store.Swap(ctx, fp, prev, next))
	require.ErrorIs(t, store.Swap(ctx, fp, prev, next), claim.ErrRecordStale)

	got, err := store.Get(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, next, got)
}

func TestClaimStoreCorruptRecord(t *testing.T) {
	store, mr := newTestStore(t)
	mr.HSet("poe:claim:0x01ff", "owner", "alice", "registered_at", "x", "active", "true")
	_, err := store.Get(context.Background(), fp)
	assert.Equal(t, xerrors.CodeStorageFailure, xerrors.CodeOf(err))
}

func TestClaimStoreUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	store := NewClaimStoreWithClient(client, "custom:")
	defer store.Close()

	_, err := store.Get(context.Background(), fp)
	assert.Equal(t, xerrors.CodeStorageFailure, xerrors.CodeOf(err))
	err = store.Insert(context.Background(), fp, claim.Record{Owner: "a"})
	assert.Equal(t, xerrors.CodeStorageFailure, xerrors.CodeOf(err))
}

func TestRegistryOverRedisStore(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	var now claim.TimePoint = 10
	registry, err := claim.NewRegistry(store, claim.ClockFunc(func(context.Context) (claim.TimePoint, error) { return now, nil }))
	require.NoError(t, err)

	_, err = registry.Create(ctx, fp, "alice")
	require.NoError(t, err)
	now = 12
	_, err = registry.Transfer(ctx, fp, "alice", "bob")
	require.NoError(t, err)
	rec, err := registry.Revoke(ctx, fp, "bob")
	require.NoError(t, err)
	assert.Equal(t, claim.Record{Owner: "bob", RegisteredAt: 12, Active: false}, rec)
}

func TestNewClaimStoreRequiresAddress(t *testing.T) {
	_, err := NewClaimStore(context.Background(), Config{})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}
