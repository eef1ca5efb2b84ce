package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/shardeum/relayer-collector/internal/metrics"
	"github.com/shardeum/relayer-collector/pkg/logger"
)

// Scheduler 定时任务调度器
type Scheduler struct {
	cron        *cron.Cron
	lockManager *LockManager
	jobs        map[string]Job
	mu          sync.RWMutex
	running     sync.Map
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewScheduler 创建调度器, lockManager 为 nil 时任务不加分布式锁
func NewScheduler(lockManager *LockManager) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:        cron.New(cron.WithSeconds()),
		lockManager: lockManager,
		jobs:        make(map[string]Job),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// RegisterJob 注册任务, spec 为空时只注册不调度
func (s *Scheduler) RegisterJob(job Job, spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name()]; exists {
		return fmt.Errorf("job %s already registered", job.Name())
	}
	s.jobs[job.Name()] = job
	if spec == "" {
		logger.Info("job registered but disabled", zap.String("job", job.Name()))
		return nil
	}

	if _, err := s.cron.AddFunc(spec, func() { s.executeJob(job) }); err != nil {
		delete(s.jobs, job.Name())
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	logger.Info("job registered", zap.String("job", job.Name()), zap.String("cron", spec))
	return nil
}

// Start 启动调度器
func (s *Scheduler) Start() {
	s.cron.Start()
	logger.Info("scheduler started")
}

// Stop 停止调度器并等待执行中的任务
func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Info("scheduler stopped")
}

// TriggerJob 手动触发任务
func (s *Scheduler) TriggerJob(name string) error {
	s.mu.RLock()
	job, exists := s.jobs[name]
	s.mu.RUnlock()
	if !exists {
		return fmt.Errorf("job %s not found", name)
	}
	go s.executeJob(job)
	return nil
}

// executeJob 执行任务, 同名任务不重入
func (s *Scheduler) executeJob(job Job) {
	if _, busy := s.running.LoadOrStore(job.Name(), struct{}{}); busy {
		logger.Debug("job still running, skip", zap.String("job", job.Name()))
		metrics.RecordJob(job.Name(), "skipped", 0)
		return
	}
	defer s.running.Delete(job.Name())

	select {
	case <-s.ctx.Done():
		return
	default:
	}

	ctx, cancel := context.WithTimeout(s.ctx, job.Timeout())
	defer cancel()

	if s.lockManager != nil && job.LockTTL() > 0 {
		lock := s.lockManager.NewLock("job:"+job.Name(), job.LockTTL(), false)
		acquired, err := lock.TryLock(ctx)
		if err != nil {
			logger.Error("failed to acquire lock", zap.String("job", job.Name()), zap.Error(err))
			metrics.RecordJob(job.Name(), "failed", 0)
			return
		}
		if !acquired {
			logger.Debug("job is running on another instance", zap.String("job", job.Name()))
			metrics.RecordJob(job.Name(), "skipped", 0)
			return
		}
		defer func() {
			if err := lock.Unlock(context.Background()); err != nil {
				logger.Warn("failed to release lock", zap.String("job", job.Name()), zap.Error(err))
			}
		}()
	}

	start := time.Now()
	err := job.Execute(ctx)
	elapsed := time.Since(start)
	if err != nil {
		logger.Error("job failed",
			zap.String("job", job.Name()),
			zap.Duration("duration", elapsed),
			zap.Error(err))
		metrics.RecordJob(job.Name(), "failed", elapsed.Seconds())
		return
	}
	logger.Debug("job completed", zap.String("job", job.Name()), zap.Duration("duration", elapsed))
	metrics.RecordJob(job.Name(), "success", elapsed.Seconds())
}
