package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shardeum/relayer-collector/internal/model"
	"gorm.io/gorm"
)

var (
	ErrCycleNotFound = errors.New("cycle not found")
)

// CycleRepository 周期仓储接口
type CycleRepository interface {
	Insert(ctx context.Context, cycle *model.Cycle) error
	BulkUpsert(ctx context.Context, cycles []*model.Cycle) error
	UpdateByMarker(ctx context.Context, cycle *model.Cycle) error
	GetByMarker(ctx context.Context, marker string) (*model.Cycle, error)
	GetByCounter(ctx context.Context, counter int64) (*model.Cycle, error)
	ListBetween(ctx context.Context, start, end int64) ([]*model.Cycle, error)
	Latest(ctx context.Context, n int) ([]*model.Cycle, error)
	Count(ctx context.Context) (int64, error)
	MaxCounter(ctx context.Context) (int64, bool, error)
}

// cycleRepository 周期仓储实现
type cycleRepository struct {
	*Repository
}

// NewCycleRepository 创建周期仓储
func NewCycleRepository(db *gorm.DB) CycleRepository {
	return &cycleRepository{
		Repository: NewRepository(db),
	}
}

func (r *cycleRepository) Insert(ctx context.Context, cycle *model.Cycle) error {
	return r.DB(ctx).Create(cycle).Error
}

func (r *cycleRepository) BulkUpsert(ctx context.Context, cycles []*model.Cycle) error {
	return upsertAll(r.DB(ctx), cycles)
}

func (r *cycleRepository) UpdateByMarker(ctx context.Context, cycle *model.Cycle) error {
	result := r.DB(ctx).Model(&model.Cycle{}).
		Where("cycle_marker = ?", cycle.Marker).
		Updates(map[string]interface{}{
			"counter":      cycle.Counter,
			"cycle_record": string(cycle.Record),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCycleNotFound
	}
	return nil
}

func (r *cycleRepository) GetByMarker(ctx context.Context, marker string) (*model.Cycle, error) {
	var cycle model.Cycle
	err := r.DB(ctx).Where("cycle_marker = ?", marker).First(&cycle).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCycleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cycle, nil
}

func (r *cycleRepository) GetByCounter(ctx context.Context, counter int64) (*model.Cycle, error) {
	var cycle model.Cycle
	err := r.DB(ctx).Where("counter = ?", counter).First(&cycle).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCycleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cycle, nil
}

// ListBetween 闭区间, 按 counter 升序
func (r *cycleRepository) ListBetween(ctx context.Context, start, end int64) ([]*model.Cycle, error) {
	var cycles []*model.Cycle
	err := r.DB(ctx).
		Where("counter BETWEEN ? AND ?", start, end).
		Order("counter ASC").
		Find(&cycles).Error
	return cycles, err
}

// Latest 最近 n 个周期, 按 counter 降序
func (r *cycleRepository) Latest(ctx context.Context, n int) ([]*model.Cycle, error) {
	var cycles []*model.Cycle
	err := r.DB(ctx).Order("counter DESC").Limit(n).Find(&cycles).Error
	return cycles, err
}

func (r *cycleRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.DB(ctx).Model(&model.Cycle{}).Count(&count).Error
	return count, err
}

// MaxCounter 最大周期号, 无数据时 ok 为 false
func (r *cycleRepository) MaxCounter(ctx context.Context) (int64, bool, error) {
	var latest sql.NullInt64
	err := r.DB(ctx).Model(&model.Cycle{}).Select("MAX(counter)").Scan(&latest).Error
	if err != nil {
		return 0, false, err
	}
	if !latest.Valid {
		return 0, false, nil
	}
	return latest.Int64, true, nil
}
