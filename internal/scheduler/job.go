package scheduler

import (
	"context"
	"time"
)

// Job 任务接口
type Job interface {
	// Name 任务名称
	Name() string
	// Execute 执行任务
	Execute(ctx context.Context) error
	// Timeout 任务超时时间
	Timeout() time.Duration
	// LockTTL 分布式锁 TTL, 0 表示不加锁
	LockTTL() time.Duration
}

// BaseJob 基础任务实现
type BaseJob struct {
	name    string
	timeout time.Duration
	lockTTL time.Duration
}

// NewBaseJob 创建基础任务
func NewBaseJob(name string, timeout, lockTTL time.Duration) BaseJob {
	return BaseJob{name: name, timeout: timeout, lockTTL: lockTTL}
}

// Name 任务名称
func (j BaseJob) Name() string {
	return j.name
}

// Timeout 任务超时时间
func (j BaseJob) Timeout() time.Duration {
	return j.timeout
}

// LockTTL 锁的 TTL
func (j BaseJob) LockTTL() time.Duration {
	return j.lockTTL
}

// 任务名称
const (
	JobNameSyncPatch  = "sync-patch"
	JobNameDedupPrune = "dedup-prune"
)

// Patcher 补缺最近 N 个周期
type Patcher interface {
	Patch(ctx context.Context, lastN int64) error
}

// SyncPatchJob 定时补缺
type SyncPatchJob struct {
	BaseJob
	patcher Patcher
	cycles  int64
}

// NewSyncPatchJob 创建补缺任务
func NewSyncPatchJob(patcher Patcher, cycles int64) *SyncPatchJob {
	return &SyncPatchJob{
		BaseJob: NewBaseJob(JobNameSyncPatch, 5*time.Minute, 0),
		patcher: patcher,
		cycles:  cycles,
	}
}

// Execute 执行补缺
func (j *SyncPatchJob) Execute(ctx context.Context) error {
	return j.patcher.Patch(ctx, j.cycles)
}

// Pruner 清理过期去重记录
type Pruner interface {
	PruneGuards(ctx context.Context)
}

// DedupPruneJob 去重记录兜底清理
type DedupPruneJob struct {
	BaseJob
	pruner Pruner
}

// NewDedupPruneJob 创建清理任务, 共享去重存储时需要加锁
func NewDedupPruneJob(pruner Pruner, lockTTL time.Duration) *DedupPruneJob {
	return &DedupPruneJob{
		BaseJob: NewBaseJob(JobNameDedupPrune, 10*time.Second, lockTTL),
		pruner:  pruner,
	}
}

// Execute 执行清理
func (j *DedupPruneJob) Execute(ctx context.Context) error {
	j.pruner.PruneGuards(ctx)
	return nil
}
