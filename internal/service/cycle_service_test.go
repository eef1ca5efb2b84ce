package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardeum/relayer-collector/internal/dedup"
	"github.com/shardeum/relayer-collector/internal/model"
	apperrors "github.com/shardeum/relayer-collector/pkg/errors"
)

func testCycle(counter int64, extra string) *model.Cycle {
	marker := fmt.Sprintf("marker-%d", counter)
	raw := fmt.Sprintf(`{"counter":%d,"marker":"%s","previous":"p","start":%d,"duration":60,"mode":"%s"}`,
		counter, marker, 1000+counter*60, extra)
	return &model.Cycle{Counter: counter, Marker: marker, Record: []byte(raw)}
}

func newTestGuards(t *testing.T) *dedup.Guards {
	g, err := dedup.NewGuards(dedup.NewMemoryGuard(), dedup.NewMemoryGuard())
	require.NoError(t, err)
	return g
}

func TestCycleService_InsertOrUpdate(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	guards := newTestGuards(t)
	events := make(chan model.CycleCommitted, 8)
	fwd := &recordingForwarder{}
	svc := NewCycleService(store, guards, fwd, 5*time.Minute, events)
	now := time.UnixMilli(10_000_000)
	svc.now = func() time.Time { return now }

	// 保留期之前的去重记录在新周期落库时清理
	_, err := guards.Receipts.CheckAndMark(ctx, "old", now.Add(-10*time.Minute).UnixMilli())
	require.NoError(t, err)
	_, err = guards.Receipts.CheckAndMark(ctx, "fresh", now.UnixMilli())
	require.NoError(t, err)

	require.NoError(t, svc.InsertOrUpdate(ctx, testCycle(3, "processing")))
	select {
	case ev := <-events:
		assert.Equal(t, model.CycleCommitted{Counter: 3, Start: 1180}, ev)
	default:
		t.Fatal("expected cycle committed event")
	}
	n, err := guards.Receipts.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// 相同内容不再触发事件
	require.NoError(t, svc.InsertOrUpdate(ctx, testCycle(3, "processing")))
	assert.Empty(t, events)

	// 内容变化时更新
	require.NoError(t, svc.InsertOrUpdate(ctx, testCycle(3, "shutdown")))
	assert.Empty(t, events)
	got, err := store.Cycles.GetByCounter(ctx, 3)
	require.NoError(t, err)
	assert.Contains(t, string(got.Record), "shutdown")

	assert.Len(t, fwd.cycles, 3)
}

func TestCycleService_InvalidCycle(t *testing.T) {
	ctx := context.Background()
	svc := NewCycleService(setupTestStore(t), nil, nil, time.Minute, nil)

	err := svc.InsertOrUpdate(ctx, &model.Cycle{Marker: "m", Record: []byte(`{"counter":-1,"marker":"m"}`)})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidCycle))

	err = svc.InsertOrUpdate(ctx, &model.Cycle{Record: []byte(`{"counter":1}`)})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidCycle))

	err = svc.InsertOrUpdate(ctx, &model.Cycle{Marker: "m", Record: []byte(`not json`)})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidCycle))
}

func TestCycleService_BulkInsert(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	events := make(chan model.CycleCommitted, 16)
	svc := NewCycleService(store, nil, nil, time.Minute, events)

	require.NoError(t, store.Cycles.Insert(ctx, testCycle(1, "old")))

	invalid := &model.Cycle{Marker: "bad", Record: []byte(`{"counter":-5,"marker":"bad"}`)}
	n, err := svc.BulkInsert(ctx, []*model.Cycle{testCycle(0, ""), testCycle(1, "new"), testCycle(2, ""), invalid}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, events, 2)

	got, err := store.Cycles.GetByCounter(ctx, 1)
	require.NoError(t, err)
	assert.Contains(t, string(got.Record), "old")

	// 覆盖模式写入已有周期但不重复发布事件
	n, err = svc.BulkInsert(ctx, []*model.Cycle{testCycle(1, "new")}, false)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, events, 2)
	got, err = store.Cycles.GetByCounter(ctx, 1)
	require.NoError(t, err)
	assert.Contains(t, string(got.Record), "new")

	total, err := store.Cycles.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

func TestCycleService_BulkInsertPrunesGuards(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	guards := newTestGuards(t)
	svc := NewCycleService(store, guards, nil, 5*time.Minute, nil)
	now := time.UnixMilli(10_000_000)
	svc.now = func() time.Time { return now }

	_, err := guards.OriginalTxs.CheckAndMark(ctx, "old", now.Add(-10*time.Minute).UnixMilli())
	require.NoError(t, err)
	_, err = guards.OriginalTxs.CheckAndMark(ctx, "fresh", now.UnixMilli())
	require.NoError(t, err)

	// 没有新周期时不清理
	require.NoError(t, store.Cycles.Insert(ctx, testCycle(0, "")))
	n, err := svc.BulkInsert(ctx, []*model.Cycle{testCycle(0, "")}, true)
	require.NoError(t, err)
	assert.Zero(t, n)
	size, err := guards.OriginalTxs.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, size)

	n, err = svc.BulkInsert(ctx, []*model.Cycle{testCycle(1, "")}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	size, err = guards.OriginalTxs.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}
