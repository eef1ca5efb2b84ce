package repository

import (
	"context"
	"errors"

	"github.com/shardeum/relayer-collector/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrBlockNotFound = errors.New("block not found")
)

// BlockRepository 合成区块仓储接口
type BlockRepository interface {
	// Upsert 按区块号覆盖, 重复构建结果一致
	Upsert(ctx context.Context, block *model.Block) error
	GetByNumber(ctx context.Context, number int64) (*model.Block, error)
	GetByHash(ctx context.Context, hash string) (*model.Block, error)
	Latest(ctx context.Context) (*model.Block, error)
	Count(ctx context.Context) (int64, error)
}

// blockRepository 合成区块仓储实现
type blockRepository struct {
	*Repository
}

// NewBlockRepository 创建合成区块仓储
func NewBlockRepository(db *gorm.DB) BlockRepository {
	return &blockRepository{
		Repository: NewRepository(db),
	}
}

func (r *blockRepository) Upsert(ctx context.Context, block *model.Block) error {
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "number"}},
		UpdateAll: true,
	}).Create(block).Error
}

func (r *blockRepository) GetByNumber(ctx context.Context, number int64) (*model.Block, error) {
	return r.first(ctx, "number = ?", number)
}

func (r *blockRepository) GetByHash(ctx context.Context, hash string) (*model.Block, error) {
	return r.first(ctx, "hash = ?", hash)
}

func (r *blockRepository) Latest(ctx context.Context) (*model.Block, error) {
	var block model.Block
	err := r.DB(ctx).Order("number DESC").First(&block).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBlockNotFound
	}
	if err != nil {
		return nil, err
	}
	return &block, nil
}

func (r *blockRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.DB(ctx).Model(&model.Block{}).Count(&count).Error
	return count, err
}

func (r *blockRepository) first(ctx context.Context, query string, arg interface{}) (*model.Block, error) {
	var block model.Block
	err := r.DB(ctx).Where(query, arg).First(&block).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBlockNotFound
	}
	if err != nil {
		return nil, err
	}
	return &block, nil
}
