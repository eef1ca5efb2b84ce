package model

import (
	"encoding/json"
)

// Receipt 交易回执
type Receipt struct {
	ReceiptID          string          `gorm:"column:receipt_id;type:varchar(128);primaryKey" json:"receiptId"`
	Tx                 TxInfo          `gorm:"column:tx;type:jsonb;serializer:json;not null" json:"tx"`
	Cycle              int64           `gorm:"column:cycle;type:bigint;index;not null" json:"cycle"`
	ApplyTimestamp     int64           `gorm:"column:apply_timestamp;type:bigint" json:"applyTimestamp"`
	Timestamp          int64           `gorm:"column:timestamp;type:bigint;index;not null" json:"timestamp"`
	SignedReceipt      *SignedReceipt  `gorm:"column:signed_receipt;type:jsonb;serializer:json" json:"signedReceipt,omitempty"`
	AfterStates        []AccountCopy   `gorm:"column:after_states;type:jsonb;serializer:json" json:"afterStates"`
	BeforeStates       []AccountCopy   `gorm:"column:before_states;type:jsonb;serializer:json" json:"beforeStates"`
	AppReceiptData     json.RawMessage `gorm:"column:app_receipt_data;type:jsonb;serializer:json" json:"appReceiptData"`
	ExecutionShardKey  string          `gorm:"column:execution_shard_key;type:varchar(128)" json:"executionShardKey"`
	GlobalModification bool            `gorm:"column:global_modification;type:boolean;not null;default:false" json:"globalModification"`
}

// TableName 返回表名
func (Receipt) TableName() string {
	return "receipts"
}

// TxInfo 回执中的交易信息
type TxInfo struct {
	TxID           string          `json:"txId"`
	Timestamp      int64           `json:"timestamp"`
	OriginalTxData json.RawMessage `json:"originalTxData,omitempty"`
}

// SignedReceipt 共识签名回执
type SignedReceipt struct {
	Proposal      Proposal        `json:"proposal"`
	ProposalHash  string          `json:"proposalHash,omitempty"`
	SignaturePack json.RawMessage `json:"signaturePack,omitempty"`
	VoteOffsets   json.RawMessage `json:"voteOffsets,omitempty"`
}

// Proposal 共识提案, 三个数组按下标对齐
type Proposal struct {
	Applied            bool     `json:"applied"`
	CantPreApply       bool     `json:"cant_preApply"`
	AccountIDs         []string `json:"accountIDs"`
	BeforeStateHashes  []string `json:"beforeStateHashes"`
	AfterStateHashes   []string `json:"afterStateHashes"`
	AppReceiptDataHash string   `json:"appReceiptDataHash,omitempty"`
	TxID               string   `json:"txid,omitempty"`
}

// AccountCopy 回执或创世数据中的账户快照
type AccountCopy struct {
	AccountID   string          `json:"accountId"`
	Data        json.RawMessage `json:"data"`
	Timestamp   int64           `json:"timestamp"`
	Hash        string          `json:"hash"`
	IsGlobal    bool            `json:"isGlobal"`
	CycleNumber int64           `json:"cycleNumber,omitempty"`
}

// WrappedAccount appReceiptData 的外层结构
type WrappedAccount struct {
	AccountID string          `json:"accountId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	StateID   string          `json:"stateId,omitempty"`
}

// TxID 回执交易 ID
func (r *Receipt) TxID() string {
	if r.Tx.TxID != "" {
		return r.Tx.TxID
	}
	return r.ReceiptID
}

// HistoryEligible 是否可生成账户历史状态
func (r *Receipt) HistoryEligible() bool {
	return !r.GlobalModification && r.SignedReceipt != nil && len(r.SignedReceipt.Proposal.AccountIDs) > 0
}
