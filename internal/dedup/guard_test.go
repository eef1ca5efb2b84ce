package dedup

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisGuard(t *testing.T, kind string) (*RedisGuard, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisGuard(rdb, kind), mr
}

// guardContract 两种实现共同遵守的行为
func guardContract(t *testing.T, g Guard) {
	ctx := context.Background()

	seen, err := g.CheckAndMark(ctx, "tx1", 100)
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = g.CheckAndMark(ctx, "tx1", 100)
	require.NoError(t, err)
	assert.True(t, seen)

	// 同一 txId 新时间戳视为新数据
	seen, err = g.CheckAndMark(ctx, "tx1", 200)
	require.NoError(t, err)
	assert.False(t, seen)

	has, err := g.Has(ctx, "tx1", 200)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = g.Has(ctx, "tx9", 200)
	require.NoError(t, err)
	assert.False(t, has)

	_, err = g.CheckAndMark(ctx, "tx2", 300)
	require.NoError(t, err)

	// cutoff > t 才删除
	_, err = g.Prune(ctx, 200)
	require.NoError(t, err)
	has, err = g.Has(ctx, "tx1", 200)
	require.NoError(t, err)
	assert.True(t, has)

	removed, err := g.Prune(ctx, 201)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, removed, 1)

	has, err = g.Has(ctx, "tx1", 200)
	require.NoError(t, err)
	assert.False(t, has)

	has, err = g.Has(ctx, "tx2", 300)
	require.NoError(t, err)
	assert.True(t, has)

	n, err := g.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryGuard(t *testing.T) {
	guardContract(t, NewMemoryGuard())
}

func TestRedisGuard(t *testing.T) {
	g, mr := newRedisGuard(t, "receipts")
	guardContract(t, g)
	assert.True(t, mr.Exists(KeyPrefix+"receipts"))
}

func TestMemoryGuard_Concurrent(t *testing.T) {
	g := NewMemoryGuard()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	firsts := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen, err := g.CheckAndMark(ctx, "same", 1)
			if err == nil && !seen {
				mu.Lock()
				firsts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, firsts)
}

func TestNewGuards(t *testing.T) {
	shared := NewMemoryGuard()
	_, err := NewGuards(shared, shared)
	assert.ErrorIs(t, err, ErrSharedGuard)

	_, err = NewGuards(nil, shared)
	assert.Error(t, err)

	guards, err := NewGuards(NewMemoryGuard(), NewMemoryGuard())
	require.NoError(t, err)

	ctx := context.Background()
	_, _ = guards.Receipts.CheckAndMark(ctx, "a", 10)
	_, _ = guards.OriginalTxs.CheckAndMark(ctx, "a", 10)
	_, _ = guards.OriginalTxs.CheckAndMark(ctx, "b", 50)

	r, o, err := guards.PruneAll(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, r)
	assert.Equal(t, 1, o)

	// 回执去重不影响原始交易
	seen, err := guards.Receipts.CheckAndMark(ctx, "b", 50)
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRedisGuards_Isolated(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	guards, err := NewGuards(NewRedisGuard(rdb, "receipts"), NewRedisGuard(rdb, "original-txs"))
	require.NoError(t, err)

	ctx := context.Background()
	seen, err := guards.Receipts.CheckAndMark(ctx, "tx", 1)
	require.NoError(t, err)
	assert.False(t, seen)
	seen, err = guards.OriginalTxs.CheckAndMark(ctx, "tx", 1)
	require.NoError(t, err)
	assert.False(t, seen)
}
