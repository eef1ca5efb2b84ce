// Package dedup 按 (txId, timestamp) 去重, 回执与原始交易各用一个实例
package dedup

import (
	"context"
	"errors"
	"sync"
)

// ErrSharedGuard 两类数据共用一个去重实例
var ErrSharedGuard = errors.New("dedup: receipts and original txs must not share a guard")

// Guard 去重器
type Guard interface {
	// CheckAndMark 原子地检查并记录, seen 为 true 表示重复投递
	CheckAndMark(ctx context.Context, txID string, timestamp int64) (seen bool, err error)
	Has(ctx context.Context, txID string, timestamp int64) (bool, error)
	// Prune 删除 timestamp < cutoff 的记录
	Prune(ctx context.Context, cutoff int64) (int, error)
	Len(ctx context.Context) (int, error)
}

// Guards 每类数据一个去重器
type Guards struct {
	Receipts    Guard
	OriginalTxs Guard
}

// NewGuards 组装去重器
func NewGuards(receipts, originalTxs Guard) (*Guards, error) {
	if receipts == nil || originalTxs == nil {
		return nil, errors.New("dedup: nil guard")
	}
	if receipts == originalTxs {
		return nil, ErrSharedGuard
	}
	return &Guards{Receipts: receipts, OriginalTxs: originalTxs}, nil
}

// PruneAll 两个去重器使用同一截止时间清理
func (g *Guards) PruneAll(ctx context.Context, cutoff int64) (receipts, originalTxs int, err error) {
	receipts, err = g.Receipts.Prune(ctx, cutoff)
	if err != nil {
		return 0, 0, err
	}
	originalTxs, err = g.OriginalTxs.Prune(ctx, cutoff)
	return receipts, originalTxs, err
}

// MemoryGuard 进程内去重, txId 映射到最近一次的 timestamp
type MemoryGuard struct {
	mu   sync.Mutex
	seen map[string]int64
}

// NewMemoryGuard 创建进程内去重器
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{seen: make(map[string]int64)}
}

func (g *MemoryGuard) CheckAndMark(_ context.Context, txID string, timestamp int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ts, ok := g.seen[txID]; ok && ts == timestamp {
		return true, nil
	}
	g.seen[txID] = timestamp
	return false, nil
}

func (g *MemoryGuard) Has(_ context.Context, txID string, timestamp int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ts, ok := g.seen[txID]
	return ok && ts == timestamp, nil
}

func (g *MemoryGuard) Prune(_ context.Context, cutoff int64) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	removed := 0
	for id, ts := range g.seen {
		if ts < cutoff {
			delete(g.seen, id)
			removed++
		}
	}
	return removed, nil
}

func (g *MemoryGuard) Len(_ context.Context) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen), nil
}
