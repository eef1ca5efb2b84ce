package repository

import (
	"context"
	"errors"

	"github.com/shardeum/relayer-collector/internal/model"
	"gorm.io/gorm"
)

var (
	ErrOriginalTxNotFound = errors.New("original tx not found")
)

// OriginalTxRepository 原始交易仓储接口
type OriginalTxRepository interface {
	BulkUpsert(ctx context.Context, items []*model.OriginalTxData) error
	BulkUpsertType2(ctx context.Context, items []*model.OriginalTxData2) error
	GetByID(ctx context.Context, txID string) (*model.OriginalTxData, error)
	GetType2ByID(ctx context.Context, txID string) (*model.OriginalTxData2, error)
	Exists(ctx context.Context, txID string) (bool, error)
	Count(ctx context.Context) (int64, error)
	CountByCycles(ctx context.Context, rng CycleRange) ([]model.CycleCount, error)
	LatestCycle(ctx context.Context) (int64, bool, error)
}

// originalTxRepository 原始交易仓储实现
type originalTxRepository struct {
	*Repository
}

// NewOriginalTxRepository 创建原始交易仓储
func NewOriginalTxRepository(db *gorm.DB) OriginalTxRepository {
	return &originalTxRepository{
		Repository: NewRepository(db),
	}
}

func (r *originalTxRepository) BulkUpsert(ctx context.Context, items []*model.OriginalTxData) error {
	return upsertAll(r.DB(ctx), items)
}

func (r *originalTxRepository) BulkUpsertType2(ctx context.Context, items []*model.OriginalTxData2) error {
	return upsertAll(r.DB(ctx), items)
}

func (r *originalTxRepository) GetByID(ctx context.Context, txID string) (*model.OriginalTxData, error) {
	var item model.OriginalTxData
	err := r.DB(ctx).Where("tx_id = ?", txID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOriginalTxNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *originalTxRepository) GetType2ByID(ctx context.Context, txID string) (*model.OriginalTxData2, error) {
	var item model.OriginalTxData2
	err := r.DB(ctx).Where("tx_id = ?", txID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOriginalTxNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *originalTxRepository) Exists(ctx context.Context, txID string) (bool, error) {
	var count int64
	err := r.DB(ctx).Model(&model.OriginalTxData{}).Where("tx_id = ?", txID).Limit(1).Count(&count).Error
	return count > 0, err
}

func (r *originalTxRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.DB(ctx).Model(&model.OriginalTxData{}).Count(&count).Error
	return count, err
}

func (r *originalTxRepository) CountByCycles(ctx context.Context, rng CycleRange) ([]model.CycleCount, error) {
	return countByCycles(r.DB(ctx), model.OriginalTxData{}.TableName(), rng)
}

func (r *originalTxRepository) LatestCycle(ctx context.Context) (int64, bool, error) {
	return maxCycle(r.DB(ctx), model.OriginalTxData{}.TableName())
}
