package repository

import (
	"context"

	"gorm.io/gorm"
)

// Store 全部仓储的聚合
type Store struct {
	*Repository

	Cycles       CycleRepository
	Receipts     ReceiptRepository
	OriginalTxs  OriginalTxRepository
	Accounts     AccountRepository
	Transactions TransactionRepository
	Blocks       BlockRepository
	History      HistoryRepository
}

// NewStore 基于同一连接创建全部仓储
func NewStore(db *gorm.DB) *Store {
	return &Store{
		Repository:   NewRepository(db),
		Cycles:       NewCycleRepository(db),
		Receipts:     NewReceiptRepository(db),
		OriginalTxs:  NewOriginalTxRepository(db),
		Accounts:     NewAccountRepository(db),
		Transactions: NewTransactionRepository(db),
		Blocks:       NewBlockRepository(db),
		History:      NewHistoryRepository(db),
	}
}

// Ping 检查数据库连通性
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
