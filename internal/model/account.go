package model

import (
	"encoding/json"
	"strings"
)

// EOACodeHash 外部账户 codeHash (空代码 keccak)
const EOACodeHash = "0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"

// ZeroAddress 零地址
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// Account 账户
type Account struct {
	AccountID    string          `gorm:"column:account_id;type:varchar(128);primaryKey" json:"accountId"`
	EthAddress   string          `gorm:"column:eth_address;type:varchar(128);index;not null" json:"ethAddress"`
	Cycle        int64           `gorm:"column:cycle;type:bigint;index;not null" json:"cycle"`
	Timestamp    int64           `gorm:"column:timestamp;type:bigint;not null" json:"timestamp"`
	AccountType  AccountType     `gorm:"column:account_type;type:int;index;not null" json:"accountType"`
	Account      json.RawMessage `gorm:"column:account;type:jsonb;serializer:json" json:"account"`
	Hash         string          `gorm:"column:hash;type:varchar(128)" json:"hash"`
	ContractInfo json.RawMessage `gorm:"column:contract_info;type:jsonb;serializer:json" json:"contractInfo,omitempty"`
	ContractType *ContractType   `gorm:"column:contract_type;type:int" json:"contractType,omitempty"`
	IsGlobal     bool            `gorm:"column:is_global;type:boolean;not null;default:false" json:"isGlobal"`
}

// TableName 返回表名
func (Account) TableName() string {
	return "accounts"
}

// AccountEntry 账户镜像, 只保留最新数据
type AccountEntry struct {
	AccountID string          `gorm:"column:account_id;type:varchar(128);primaryKey" json:"accountId"`
	Timestamp int64           `gorm:"column:timestamp;type:bigint;not null" json:"timestamp"`
	Data      json.RawMessage `gorm:"column:data;type:jsonb;serializer:json" json:"data"`
}

// TableName 返回表名
func (AccountEntry) TableName() string {
	return "accounts_entry"
}

// EntryOf 由账户生成镜像
func EntryOf(a *Account) *AccountEntry {
	return &AccountEntry{AccountID: a.AccountID, Timestamp: a.Timestamp, Data: a.Account}
}

// Token 地址持有的代币
type Token struct {
	EthAddress      string          `gorm:"column:eth_address;type:varchar(64);primaryKey" json:"ethAddress"`
	ContractAddress string          `gorm:"column:contract_address;type:varchar(64);primaryKey" json:"contractAddress"`
	TokenType       TransactionType `gorm:"column:token_type;type:int;not null" json:"tokenType"`
	TokenValue      string          `gorm:"column:token_value;type:varchar(128);not null" json:"tokenValue"`
}

// TableName 返回表名
func (Token) TableName() string {
	return "tokens"
}

// ContractInfo 合约元数据
type ContractInfo struct {
	Name        string `json:"name,omitempty"`
	Symbol      string `json:"symbol,omitempty"`
	Decimals    string `json:"decimals,omitempty"`
	TotalSupply string `json:"totalSupply,omitempty"`
	// TotalSupplyFormatted 按 decimals 换算后的总量
	TotalSupplyFormatted string `json:"totalSupplyFormatted,omitempty"`
}

// AccountIDFromAddress eth 地址转分片账户 ID (去 0x, 小写, 补 24 个 0)
func AccountIDFromAddress(addr string) string {
	a := strings.ToLower(addr)
	a = strings.TrimPrefix(a, "0x")
	return a + strings.Repeat("0", 24)
}

// DummyAccount 已被引用但尚未在链上创建的地址占位账户
func DummyAccount(addr string, cycle, timestamp int64) *Account {
	return &Account{
		AccountID:   AccountIDFromAddress(addr),
		EthAddress:  strings.ToLower(addr),
		Cycle:       cycle,
		Timestamp:   timestamp,
		AccountType: AccountTypeAccount,
		Account:     json.RawMessage(`{"nonce":"0","balance":"0"}`),
		Hash:        "0x",
	}
}
