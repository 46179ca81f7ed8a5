package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PoE-Chain/internal/claim"
	"PoE-Chain/internal/clock"
)

type countingStore struct {
	*claim.MemoryStore
	gets atomic.Int32
}

func (s *countingStore) Get(ctx context.Context, fp claim.Fingerprint) (claim.Record, error) {
	s.gets.Add(1)
	return s.MemoryStore.Get(ctx, fp)
}

var fp = claim.MustFingerprint([]byte("cached"))

func TestStoreServesReadsFromCache(t *testing.T) {
	inner := &countingStore{MemoryStore: claim.NewMemoryStore()}
	store := New(inner, time.Minute)
	ctx := context.Background()
	rec := claim.Record{Owner: "alice", RegisteredAt: 1, Active: true}

	require.NoError(t, store.Insert(ctx, fp, rec))
	for i := 0; i < 3; i++ {
		got, err := store.Get(ctx, fp)
		require.NoError(t, err)
		assert.Equal(t, rec, got)
	}
	assert.Equal(t, int32(0), inner.gets.Load(), "insert writes through")
	assert.Equal(t, 1, store.Len())
}

func TestStoreDoesNotCacheMisses(t *testing.T) {
	inner := &countingStore{MemoryStore: claim.NewMemoryStore()}
	store := New(inner, time.Minute)
	ctx := context.Background()

	_, err := store.Get(ctx, fp)
	require.ErrorIs(t, err, claim.ErrRecordNotFound)
	require.NoError(t, inner.MemoryStore.Insert(ctx, fp, claim.Record{Owner: "bob"}))

	got, err := store.Get(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, claim.AccountID("bob"), got.Owner)
}

func TestStoreEvictsOnStaleSwap(t *testing.T) {
	inner := &countingStore{MemoryStore: claim.NewMemoryStore()}
	store := New(inner, time.Minute)
	ctx := context.Background()
	rec := claim.Record{Owner: "alice", RegisteredAt: 1, Active: true}
	require.NoError(t, store.Insert(ctx, fp, rec))

	changed := claim.Record{Owner: "bob", RegisteredAt: 1, Active: true}
	require.NoError(t, inner.MemoryStore.Swap(ctx, fp, rec, changed))

	err := store.Swap(ctx, fp, rec, claim.Record{Owner: "alice", RegisteredAt: 2})
	require.ErrorIs(t, err, claim.ErrRecordStale)

	got, err := store.Get(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, changed, got, "stale entry evicted and reloaded")
	require.NoError(t, store.Close())
}

func TestGetFreshBypassesCache(t *testing.T) {
	inner := &countingStore{MemoryStore: claim.NewMemoryStore()}
	store := New(inner, time.Minute)
	ctx := context.Background()
	rec := claim.Record{Owner: "alice", RegisteredAt: 1, Active: true}
	require.NoError(t, store.Insert(ctx, fp, rec))

	changed := claim.Record{Owner: "bob", RegisteredAt: 1, Active: true}
	require.NoError(t, inner.MemoryStore.Swap(ctx, fp, rec, changed))

	got, err := store.GetFresh(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, changed, got)
	assert.Equal(t, int32(1), inner.gets.Load())

	got, err = store.Get(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, changed, got, "fresh read refreshes the cache")
	assert.Equal(t, int32(1), inner.gets.Load())
}

// 两个进程各自持有缓存并共享同一底层存储。
func TestMutationsSeeWritesFromOtherProcesses(t *testing.T) {
	shared := claim.NewMemoryStore()
	clk := clock.NewCounter(1)
	ctx := context.Background()

	first, err := claim.NewRegistry(New(shared, time.Minute), clk)
	require.NoError(t, err)
	second, err := claim.NewRegistry(New(shared, time.Minute), clk)
	require.NoError(t, err)

	_, err = first.Create(ctx, fp, "alice")
	require.NoError(t, err)
	cached, err := first.Get(ctx, fp)
	require.NoError(t, err)
	require.Equal(t, claim.AccountID("alice"), cached.Owner)

	_, err = second.Transfer(ctx, fp, "alice", "bob")
	require.NoError(t, err)

	revoked, err := first.Revoke(ctx, fp, "bob")
	require.NoError(t, err)
	assert.False(t, revoked.Active)

	_, err = second.Revoke(ctx, fp, "bob")
	require.ErrorIs(t, err, claim.ErrProofAlreadyRevoked)
}
