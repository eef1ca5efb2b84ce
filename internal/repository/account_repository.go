package repository

import (
	"context"
	"errors"

	"github.com/shardeum/relayer-collector/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound = errors.New("account not found")
)

// AccountRepository 账户仓储接口
type AccountRepository interface {
	Insert(ctx context.Context, account *model.Account) error
	BulkUpsert(ctx context.Context, accounts []*model.Account) error
	// UpdateIfNewer 仅当库中时间戳更旧时覆盖 cycle/timestamp/account/hash, 返回是否更新
	UpdateIfNewer(ctx context.Context, account *model.Account) (bool, error)
	GetByID(ctx context.Context, accountID string) (*model.Account, error)
	GetByIDs(ctx context.Context, accountIDs []string) (map[string]*model.Account, error)
	Count(ctx context.Context) (int64, error)
	CountBetweenCycles(ctx context.Context, rng CycleRange) (int64, error)

	BulkUpsertTokens(ctx context.Context, tokens []*model.Token) error
	BulkUpsertEntries(ctx context.Context, entries []*model.AccountEntry) error
}

// accountRepository 账户仓储实现
type accountRepository struct {
	*Repository
}

// NewAccountRepository 创建账户仓储
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{
		Repository: NewRepository(db),
	}
}

func (r *accountRepository) Insert(ctx context.Context, account *model.Account) error {
	return r.DB(ctx).Create(account).Error
}

// BulkUpsert 冲突时仅覆盖时间戳更旧的行
func (r *accountRepository) BulkUpsert(ctx context.Context, accounts []*model.Account) error {
	if len(accounts) == 0 {
		return nil
	}
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		UpdateAll: true,
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "accounts.timestamp < excluded.timestamp"},
		}},
	}).CreateInBatches(accounts, writeBatchSize).Error
}

func (r *accountRepository) UpdateIfNewer(ctx context.Context, account *model.Account) (bool, error) {
	result := r.DB(ctx).Model(&model.Account{}).
		Where("account_id = ? AND timestamp < ?", account.AccountID, account.Timestamp).
		Select("cycle", "timestamp", "account", "hash").
		Updates(account)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *accountRepository) GetByID(ctx context.Context, accountID string) (*model.Account, error) {
	var account model.Account
	err := r.DB(ctx).Where("account_id = ?", accountID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) GetByIDs(ctx context.Context, accountIDs []string) (map[string]*model.Account, error) {
	out := make(map[string]*model.Account, len(accountIDs))
	if len(accountIDs) == 0 {
		return out, nil
	}
	var accounts []*model.Account
	if err := r.DB(ctx).Where("account_id IN ?", accountIDs).Find(&accounts).Error; err != nil {
		return nil, err
	}
	for _, a := range accounts {
		out[a.AccountID] = a
	}
	return out, nil
}

func (r *accountRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.DB(ctx).Model(&model.Account{}).Count(&count).Error
	return count, err
}

func (r *accountRepository) CountBetweenCycles(ctx context.Context, rng CycleRange) (int64, error) {
	var count int64
	err := r.DB(ctx).Model(&model.Account{}).
		Where("cycle BETWEEN ? AND ?", rng.Start, rng.End).
		Count(&count).Error
	return count, err
}

func (r *accountRepository) BulkUpsertTokens(ctx context.Context, tokens []*model.Token) error {
	return upsertAll(r.DB(ctx), tokens)
}

func (r *accountRepository) BulkUpsertEntries(ctx context.Context, entries []*model.AccountEntry) error {
	return upsertAll(r.DB(ctx), entries)
}
