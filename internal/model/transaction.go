package model

import (
	"encoding/json"
)

// Transaction 由回执类账户导出的交易
type Transaction struct {
	TxID              string          `gorm:"column:tx_id;type:varchar(128);primaryKey" json:"txId"`
	TxHash            string          `gorm:"column:tx_hash;type:varchar(130);primaryKey" json:"txHash"`
	Cycle             int64           `gorm:"column:cycle;type:bigint;index;not null" json:"cycle"`
	BlockNumber       int64           `gorm:"column:block_number;type:bigint;index" json:"blockNumber"`
	BlockHash         string          `gorm:"column:block_hash;type:varchar(66);index" json:"blockHash"`
	Timestamp         int64           `gorm:"column:timestamp;type:bigint;index;not null" json:"timestamp"`
	TransactionType   TransactionType `gorm:"column:transaction_type;type:int;index;not null" json:"transactionType"`
	TxFrom            string          `gorm:"column:tx_from;type:varchar(64);index" json:"txFrom"`
	TxTo              string          `gorm:"column:tx_to;type:varchar(64);index" json:"txTo"`
	Nominee           string          `gorm:"column:nominee;type:varchar(128)" json:"nominee,omitempty"`
	WrappedEVMAccount json.RawMessage `gorm:"column:wrapped_evm_account;type:jsonb;serializer:json" json:"wrappedEVMAccount"`
	OriginalTxData    json.RawMessage `gorm:"column:original_tx_data;type:jsonb;serializer:json" json:"originalTxData"`
}

// TableName 返回表名
func (Transaction) TableName() string {
	return "transactions"
}

// TokenTx 代币转账
type TokenTx struct {
	TxID            string          `gorm:"column:tx_id;type:varchar(128);primaryKey" json:"txId"`
	LogIndex        int             `gorm:"column:log_index;type:int;primaryKey" json:"logIndex"`
	TokenIndex      int             `gorm:"column:token_index;type:int;primaryKey" json:"tokenIndex"`
	TxHash          string          `gorm:"column:tx_hash;type:varchar(130);index;not null" json:"txHash"`
	Cycle           int64           `gorm:"column:cycle;type:bigint;index;not null" json:"cycle"`
	Timestamp       int64           `gorm:"column:timestamp;type:bigint;not null" json:"timestamp"`
	TokenType       TransactionType `gorm:"column:token_type;type:int;index;not null" json:"tokenType"`
	TokenFrom       string          `gorm:"column:token_from;type:varchar(64);index" json:"tokenFrom"`
	TokenTo         string          `gorm:"column:token_to;type:varchar(64);index" json:"tokenTo"`
	TokenOperator   string          `gorm:"column:token_operator;type:varchar(64)" json:"tokenOperator,omitempty"`
	ContractAddress string          `gorm:"column:contract_address;type:varchar(64);index;not null" json:"contractAddress"`
	TokenValue      string          `gorm:"column:token_value;type:varchar(130)" json:"tokenValue"`
	TokenID         string          `gorm:"column:token_id;type:varchar(130)" json:"tokenId,omitempty"`
	TokenEvent      string          `gorm:"column:token_event;type:varchar(64)" json:"tokenEvent"`
	TransactionFee  string          `gorm:"column:transaction_fee;type:varchar(130)" json:"transactionFee"`
	ContractInfo    json.RawMessage `gorm:"column:contract_info;type:jsonb;serializer:json" json:"contractInfo,omitempty"`
}

// TableName 返回表名
func (TokenTx) TableName() string {
	return "token_txs"
}
