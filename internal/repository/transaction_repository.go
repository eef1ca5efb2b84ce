package repository

import (
	"context"
	"errors"

	"github.com/shardeum/relayer-collector/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
)

// TransactionRepository 交易仓储接口
type TransactionRepository interface {
	Upsert(ctx context.Context, tx *model.Transaction) error
	BulkUpsert(ctx context.Context, txs []*model.Transaction) error
	GetByTxID(ctx context.Context, txID string) (*model.Transaction, error)
	Count(ctx context.Context) (int64, error)
	CountBetweenCycles(ctx context.Context, rng CycleRange) (int64, error)
	// ListByBlock 区块内计入交易根的交易, 按 timestamp、tx_id 升序
	ListByBlock(ctx context.Context, blockNumber int64) ([]*model.Transaction, error)

	BulkUpsertTokenTxs(ctx context.Context, txs []*model.TokenTx) error
	CountTokenTxs(ctx context.Context, txID string) (int64, error)
}

// transactionRepository 交易仓储实现
type transactionRepository struct {
	*Repository
}

// NewTransactionRepository 创建交易仓储
func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{
		Repository: NewRepository(db),
	}
}

func (r *transactionRepository) Upsert(ctx context.Context, tx *model.Transaction) error {
	return r.DB(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(tx).Error
}

func (r *transactionRepository) BulkUpsert(ctx context.Context, txs []*model.Transaction) error {
	return upsertAll(r.DB(ctx), txs)
}

func (r *transactionRepository) GetByTxID(ctx context.Context, txID string) (*model.Transaction, error) {
	var tx model.Transaction
	err := r.DB(ctx).Where("tx_id = ?", txID).First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *transactionRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.DB(ctx).Model(&model.Transaction{}).Count(&count).Error
	return count, err
}

func (r *transactionRepository) CountBetweenCycles(ctx context.Context, rng CycleRange) (int64, error) {
	var count int64
	err := r.DB(ctx).Model(&model.Transaction{}).
		Where("cycle BETWEEN ? AND ?", rng.Start, rng.End).
		Count(&count).Error
	return count, err
}

func (r *transactionRepository) ListByBlock(ctx context.Context, blockNumber int64) ([]*model.Transaction, error) {
	var txs []*model.Transaction
	err := r.DB(ctx).
		Where("block_number = ? AND transaction_type IN ?", blockNumber, model.BlockTransactionTypes).
		Order("timestamp ASC").
		Order("tx_id ASC").
		Find(&txs).Error
	return txs, err
}

func (r *transactionRepository) BulkUpsertTokenTxs(ctx context.Context, txs []*model.TokenTx) error {
	return upsertAll(r.DB(ctx), txs)
}

func (r *transactionRepository) CountTokenTxs(ctx context.Context, txID string) (int64, error) {
	var count int64
	err := r.DB(ctx).Model(&model.TokenTx{}).Where("tx_id = ?", txID).Count(&count).Error
	return count, err
}
