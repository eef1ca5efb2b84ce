package distributor

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/shardeum/relayer-collector/internal/metrics"
	"github.com/shardeum/relayer-collector/internal/model"
	"github.com/shardeum/relayer-collector/pkg/errors"
	"github.com/shardeum/relayer-collector/pkg/logger"
)

// 查询类型
const (
	QueryTally = "tally"
	QueryCount = "count"
)

// Distributor 对账与补缺使用的分发器查询
type Distributor interface {
	Cycles(ctx context.Context, start, end int64) ([]json.RawMessage, error)
	Receipts(ctx context.Context, params Params) ([]*model.Receipt, error)
	OriginalTxs(ctx context.Context, params Params) ([]*model.OriginalTxData, error)
	ReceiptTally(ctx context.Context, startCycle, endCycle int64) ([]model.ReceiptTally, error)
	OriginalTxTally(ctx context.Context, startCycle, endCycle int64) ([]model.OriginalTxTally, error)
	ReceiptCount(ctx context.Context, startCycle, endCycle int64) (int64, error)
	OriginalTxCount(ctx context.Context, startCycle, endCycle int64) (int64, error)
	Accounts(ctx context.Context, startCycle, endCycle, page int64) ([]*model.AccountCopy, error)
	AccountsTotal(ctx context.Context, startCycle, endCycle int64) (int64, error)
	Transactions(ctx context.Context, startCycle, endCycle, page int64) ([]*model.AccountCopy, error)
	TransactionsTotal(ctx context.Context, startCycle, endCycle int64) (int64, error)
	TotalData(ctx context.Context) (*model.TotalData, error)
}

var _ Distributor = (*Client)(nil)

// field 从响应中取出指定字段, 字段缺失或为 null 视为空响应
func (c *Client) field(ctx context.Context, dataType DataType, params Params, key string, out interface{}) error {
	data, err := c.Query(ctx, dataType, params)
	if err != nil {
		return err
	}
	var resp map[string]json.RawMessage
	if err := json.Unmarshal(data, &resp); err != nil {
		return errors.WrapWithCause(errors.ErrEmptyResponse, err, "decode %s response", dataType)
	}
	raw, ok := resp[key]
	if !ok || string(raw) == "null" {
		return errors.Wrapf(errors.ErrEmptyResponse, "%s response has no %s", dataType, key)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.WrapWithCause(errors.ErrEmptyResponse, err, "decode %s.%s", dataType, key)
	}
	return nil
}

// items 逐条解码列表字段, 无法解码或为 null 的条目丢弃
func items[T any](ctx context.Context, c *Client, dataType DataType, params Params, key string) ([]*T, error) {
	var raws []json.RawMessage
	if err := c.field(ctx, dataType, params, key, &raws); err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(raws))
	for i, raw := range raws {
		var item *T
		if err := json.Unmarshal(raw, &item); err != nil || item == nil {
			metrics.RecordDropped(string(dataType), "malformed")
			logger.Warn("drop malformed item from distributor",
				zap.String("data_type", string(dataType)),
				zap.Int("index", i),
				zap.Error(err))
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

// Cycles 按周期号区间查询 cycle 记录
func (c *Client) Cycles(ctx context.Context, start, end int64) ([]json.RawMessage, error) {
	var out []json.RawMessage
	if err := c.field(ctx, DataTypeCycle, IndexRange(start, end), "cycleInfo", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Receipts 查询回执, 参数可以是序号区间或周期分页
func (c *Client) Receipts(ctx context.Context, params Params) ([]*model.Receipt, error) {
	return items[model.Receipt](ctx, c, DataTypeReceipt, params, "receipts")
}

// OriginalTxs 查询原始交易
func (c *Client) OriginalTxs(ctx context.Context, params Params) ([]*model.OriginalTxData, error) {
	return items[model.OriginalTxData](ctx, c, DataTypeOriginalTx, params, "originalTxs")
}

// ReceiptTally 每周期回执数
func (c *Client) ReceiptTally(ctx context.Context, startCycle, endCycle int64) ([]model.ReceiptTally, error) {
	var out []model.ReceiptTally
	params := CycleRange(startCycle, endCycle).WithType(QueryTally)
	if err := c.field(ctx, DataTypeReceipt, params, "receipts", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// OriginalTxTally 每周期原始交易数
func (c *Client) OriginalTxTally(ctx context.Context, startCycle, endCycle int64) ([]model.OriginalTxTally, error) {
	var out []model.OriginalTxTally
	params := CycleRange(startCycle, endCycle).WithType(QueryTally)
	if err := c.field(ctx, DataTypeOriginalTx, params, "originalTxs", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReceiptCount 周期区间内回执总数
func (c *Client) ReceiptCount(ctx context.Context, startCycle, endCycle int64) (int64, error) {
	var out int64
	params := CycleRange(startCycle, endCycle).WithType(QueryCount)
	if err := c.field(ctx, DataTypeReceipt, params, "receipts", &out); err != nil {
		return 0, err
	}
	return out, nil
}

// OriginalTxCount 周期区间内原始交易总数
func (c *Client) OriginalTxCount(ctx context.Context, startCycle, endCycle int64) (int64, error) {
	var out int64
	params := CycleRange(startCycle, endCycle).WithType(QueryCount)
	if err := c.field(ctx, DataTypeOriginalTx, params, "originalTxs", &out); err != nil {
		return 0, err
	}
	return out, nil
}

// Accounts 创世账户分页
func (c *Client) Accounts(ctx context.Context, startCycle, endCycle, page int64) ([]*model.AccountCopy, error) {
	params := CycleRange(startCycle, endCycle).WithPage(page)
	return items[model.AccountCopy](ctx, c, DataTypeAccount, params, "accounts")
}

// AccountsTotal 周期区间内账户总数
func (c *Client) AccountsTotal(ctx context.Context, startCycle, endCycle int64) (int64, error) {
	var out int64
	if err := c.field(ctx, DataTypeAccount, CycleRange(startCycle, endCycle), "totalAccounts", &out); err != nil {
		return 0, err
	}
	return out, nil
}

// Transactions 创世交易分页
func (c *Client) Transactions(ctx context.Context, startCycle, endCycle, page int64) ([]*model.AccountCopy, error) {
	params := CycleRange(startCycle, endCycle).WithPage(page)
	return items[model.AccountCopy](ctx, c, DataTypeTransaction, params, "transactions")
}

// TransactionsTotal 周期区间内交易总数
func (c *Client) TransactionsTotal(ctx context.Context, startCycle, endCycle int64) (int64, error) {
	var out int64
	if err := c.field(ctx, DataTypeTransaction, CycleRange(startCycle, endCycle), "totalTransactions", &out); err != nil {
		return 0, err
	}
	return out, nil
}

// TotalData 分发器各类数据总量
func (c *Client) TotalData(ctx context.Context) (*model.TotalData, error) {
	data, err := c.Query(ctx, DataTypeTotalData, Params{})
	if err != nil {
		return nil, err
	}
	var out model.TotalData
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.WrapWithCause(errors.ErrEmptyResponse, err, "decode totalData response")
	}
	return &out, nil
}
