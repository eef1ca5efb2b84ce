package model

// AccountHistoryState 账户状态变迁记录
type AccountHistoryState struct {
	AccountID       string `gorm:"column:account_id;type:varchar(128);primaryKey" json:"accountId"`
	Timestamp       int64  `gorm:"column:timestamp;type:bigint;primaryKey;autoIncrement:false" json:"timestamp"`
	BeforeStateHash string `gorm:"column:before_state_hash;type:varchar(128)" json:"beforeStateHash"`
	AfterStateHash  string `gorm:"column:after_state_hash;type:varchar(128)" json:"afterStateHash"`
	BlockNumber     int64  `gorm:"column:block_number;type:bigint;index" json:"blockNumber"`
	BlockHash       string `gorm:"column:block_hash;type:varchar(66)" json:"blockHash"`
	ReceiptID       string `gorm:"column:receipt_id;type:varchar(128);index" json:"receiptId"`
}

// TableName 返回表名
func (AccountHistoryState) TableName() string {
	return "account_history_state"
}

// HistoryFromProposal 由共识提案生成历史记录, 数组长度不一致时以 accountIDs 为准
func HistoryFromProposal(p *Proposal, timestamp, blockNumber int64, blockHash, receiptID string) []*AccountHistoryState {
	rows := make([]*AccountHistoryState, 0, len(p.AccountIDs))
	for i, id := range p.AccountIDs {
		row := &AccountHistoryState{
			AccountID:   id,
			Timestamp:   timestamp,
			BlockNumber: blockNumber,
			BlockHash:   blockHash,
			ReceiptID:   receiptID,
		}
		if i < len(p.BeforeStateHashes) {
			row.BeforeStateHash = p.BeforeStateHashes[i]
		}
		if i < len(p.AfterStateHashes) {
			row.AfterStateHash = p.AfterStateHashes[i]
		}
		rows = append(rows, row)
	}
	return rows
}
