package repository

import (
	"context"

	"github.com/shardeum/relayer-collector/internal/model"
	"gorm.io/gorm"
)

// HistoryRepository 账户历史状态仓储接口
type HistoryRepository interface {
	BulkUpsert(ctx context.Context, rows []*model.AccountHistoryState) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*model.AccountHistoryState, error)
	Count(ctx context.Context) (int64, error)
}

// historyRepository 账户历史状态仓储实现
type historyRepository struct {
	*Repository
}

// NewHistoryRepository 创建账户历史状态仓储
func NewHistoryRepository(db *gorm.DB) HistoryRepository {
	return &historyRepository{
		Repository: NewRepository(db),
	}
}

func (r *historyRepository) BulkUpsert(ctx context.Context, rows []*model.AccountHistoryState) error {
	return upsertAll(r.DB(ctx), rows)
}

// ListByAccount 按时间倒序
func (r *historyRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]*model.AccountHistoryState, error) {
	var rows []*model.AccountHistoryState
	err := r.DB(ctx).
		Where("account_id = ?", accountID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *historyRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.DB(ctx).Model(&model.AccountHistoryState{}).Count(&count).Error
	return count, err
}
