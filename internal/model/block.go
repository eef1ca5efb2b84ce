package model

import (
	"encoding/json"
)

// Block 合成区块
type Block struct {
	Number           int64           `gorm:"column:number;type:bigint;primaryKey;autoIncrement:false" json:"number"`
	NumberHex        string          `gorm:"column:number_hex;type:varchar(32);not null" json:"numberHex"`
	Hash             string          `gorm:"column:hash;type:varchar(66);uniqueIndex;not null" json:"hash"`
	ParentHash       string          `gorm:"column:parent_hash;type:varchar(66);not null" json:"parentHash"`
	Timestamp        int64           `gorm:"column:timestamp;type:bigint;index;not null" json:"timestamp"` // 毫秒
	Cycle            int64           `gorm:"column:cycle;type:bigint;index;not null" json:"cycle"`
	TransactionsRoot string          `gorm:"column:transactions_root;type:varchar(66);not null" json:"transactionsRoot"`
	ReadableBlock    json.RawMessage `gorm:"column:readable_block;type:jsonb;serializer:json" json:"readableBlock"`
}

// TableName 返回表名
func (Block) TableName() string {
	return "blocks"
}

// ReadableBlock 以太坊 JSON-RPC 风格的区块头
type ReadableBlock struct {
	Difficulty       string   `json:"difficulty"`
	ExtraData        string   `json:"extraData"`
	GasLimit         string   `json:"gasLimit"`
	GasUsed          string   `json:"gasUsed"`
	Hash             string   `json:"hash"`
	LogsBloom        string   `json:"logsBloom"`
	Miner            string   `json:"miner"`
	MixHash          string   `json:"mixHash"`
	Nonce            string   `json:"nonce"`
	Number           string   `json:"number"`
	ParentHash       string   `json:"parentHash"`
	ReceiptsRoot     string   `json:"receiptsRoot"`
	Sha3Uncles       string   `json:"sha3Uncles"`
	Size             string   `json:"size"`
	StateRoot        string   `json:"stateRoot"`
	Timestamp        string   `json:"timestamp"`
	TotalDifficulty  string   `json:"totalDifficulty"`
	Transactions     []string `json:"transactions"`
	TransactionsRoot string   `json:"transactionsRoot"`
	Uncles           []string `json:"uncles"`
}
