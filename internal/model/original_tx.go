package model

import (
	"encoding/json"
)

// OriginalTxData 原始提交交易
type OriginalTxData struct {
	TxID           string          `gorm:"column:tx_id;type:varchar(128);primaryKey" json:"txId"`
	Timestamp      int64           `gorm:"column:timestamp;type:bigint;index;not null" json:"timestamp"`
	Cycle          int64           `gorm:"column:cycle;type:bigint;index;not null" json:"cycle"`
	OriginalTxData json.RawMessage `gorm:"column:original_tx_data;type:jsonb;serializer:json;not null" json:"originalTxData"`
	Sign           json.RawMessage `gorm:"column:sign;type:jsonb;serializer:json" json:"sign,omitempty"`
}

// TableName 返回表名
func (OriginalTxData) TableName() string {
	return "original_txs_data"
}

// RawTx 原始交易载荷中的 tx 字段
type RawTx struct {
	Raw       string `json:"raw"`
	Timestamp int64  `json:"timestamp"`
}

// Payload 提取载荷中的 tx, 非 EVM 交易 Raw 为空
func (o *OriginalTxData) Payload() (*RawTx, error) {
	var body struct {
		Tx *RawTx `json:"tx"`
	}
	if err := json.Unmarshal(o.OriginalTxData, &body); err != nil {
		return nil, err
	}
	if body.Tx == nil {
		return &RawTx{}, nil
	}
	return body.Tx, nil
}

// OriginalTxData2 按类型检索的原始交易索引
type OriginalTxData2 struct {
	TxID            string          `gorm:"column:tx_id;type:varchar(128);primaryKey" json:"txId"`
	Timestamp       int64           `gorm:"column:timestamp;type:bigint;not null" json:"timestamp"`
	Cycle           int64           `gorm:"column:cycle;type:bigint;index;not null" json:"cycle"`
	TxHash          string          `gorm:"column:tx_hash;type:varchar(130);index;not null" json:"txHash"`
	TransactionType TransactionType `gorm:"column:transaction_type;type:int;index;not null" json:"transactionType"`
}

// TableName 返回表名
func (OriginalTxData2) TableName() string {
	return "original_txs_data2"
}
