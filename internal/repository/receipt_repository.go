package repository

import (
	"context"
	"errors"

	"github.com/shardeum/relayer-collector/internal/model"
	"gorm.io/gorm"
)

var (
	ErrReceiptNotFound = errors.New("receipt not found")
)

// ReceiptRepository 回执仓储接口
type ReceiptRepository interface {
	BulkUpsert(ctx context.Context, receipts []*model.Receipt) error
	GetByID(ctx context.Context, receiptID string) (*model.Receipt, error)
	Exists(ctx context.Context, receiptID string) (bool, error)
	List(ctx context.Context, skip, limit int) ([]*model.Receipt, error)
	Count(ctx context.Context) (int64, error)
	CountByCycles(ctx context.Context, rng CycleRange) ([]model.CycleCount, error)
	LatestCycle(ctx context.Context) (int64, bool, error)
}

// receiptRepository 回执仓储实现
type receiptRepository struct {
	*Repository
}

// NewReceiptRepository 创建回执仓储
func NewReceiptRepository(db *gorm.DB) ReceiptRepository {
	return &receiptRepository{
		Repository: NewRepository(db),
	}
}

func (r *receiptRepository) BulkUpsert(ctx context.Context, receipts []*model.Receipt) error {
	return upsertAll(r.DB(ctx), receipts)
}

func (r *receiptRepository) GetByID(ctx context.Context, receiptID string) (*model.Receipt, error) {
	var receipt model.Receipt
	err := r.DB(ctx).Where("receipt_id = ?", receiptID).First(&receipt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrReceiptNotFound
	}
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (r *receiptRepository) Exists(ctx context.Context, receiptID string) (bool, error) {
	var count int64
	err := r.DB(ctx).Model(&model.Receipt{}).Where("receipt_id = ?", receiptID).Limit(1).Count(&count).Error
	return count > 0, err
}

// List 按 cycle、timestamp 升序分页
func (r *receiptRepository) List(ctx context.Context, skip, limit int) ([]*model.Receipt, error) {
	var receipts []*model.Receipt
	err := r.DB(ctx).
		Order("cycle ASC").
		Order("timestamp ASC").
		Order("receipt_id ASC").
		Offset(skip).
		Limit(limit).
		Find(&receipts).Error
	return receipts, err
}

func (r *receiptRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.DB(ctx).Model(&model.Receipt{}).Count(&count).Error
	return count, err
}

func (r *receiptRepository) CountByCycles(ctx context.Context, rng CycleRange) ([]model.CycleCount, error) {
	return countByCycles(r.DB(ctx), model.Receipt{}.TableName(), rng)
}

// LatestCycle 已存回执的最大周期
func (r *receiptRepository) LatestCycle(ctx context.Context) (int64, bool, error) {
	return maxCycle(r.DB(ctx), model.Receipt{}.TableName())
}
