// Package service 提供采集器的业务逻辑服务
package service

import (
	"context"
	"encoding/json"

	"github.com/shardeum/relayer-collector/internal/model"
)

// Forwarder 下游推送, 实现方不得阻塞调用方
type Forwarder interface {
	ForwardCycle(ctx context.Context, cycle *model.Cycle)
	ForwardReceipt(ctx context.Context, receipt *model.Receipt)
}

// MultiForwarder 依次推送给多个下游
type MultiForwarder []Forwarder

// ForwardCycle 推送周期
func (m MultiForwarder) ForwardCycle(ctx context.Context, cycle *model.Cycle) {
	for _, f := range m {
		f.ForwardCycle(ctx, cycle)
	}
}

// ForwardReceipt 推送回执
func (m MultiForwarder) ForwardReceipt(ctx context.Context, receipt *model.Receipt) {
	for _, f := range m {
		f.ForwardReceipt(ctx, receipt)
	}
}

// NopForwarder 不推送
type NopForwarder struct{}

func (NopForwarder) ForwardCycle(context.Context, *model.Cycle) {}
func (NopForwarder) ForwardReceipt(context.Context, *model.Receipt) {}

// ContractInfoSource 合约元数据查询
type ContractInfoSource interface {
	Resolve(ctx context.Context, address string) (json.RawMessage, model.ContractType, error)
}
