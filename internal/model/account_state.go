package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AccountState 按账户类型区分的账户数据
type AccountState interface {
	Type() AccountType
}

// stateHeader 所有账户数据共有的字段
type stateHeader struct {
	AccountType AccountType `json:"accountType"`
	EthAddress  string      `json:"ethAddress"`
	Hash        string      `json:"hash"`
	Timestamp   int64       `json:"timestamp"`
}

// EVMAccountInfo EVM 账户主体
type EVMAccountInfo struct {
	Nonce       json.RawMessage `json:"nonce"`
	Balance     json.RawMessage `json:"balance"`
	StorageRoot Bytes           `json:"storageRoot"`
	CodeHash    Bytes           `json:"codeHash"`
}

// EVMAccountState 普通账户或合约账户
type EVMAccountState struct {
	stateHeader
	Account *EVMAccountInfo `json:"account"`
}

func (s *EVMAccountState) Type() AccountType { return AccountTypeAccount }

// IsContract codeHash 不是空代码哈希即为合约
func (s *EVMAccountState) IsContract() bool {
	if s.Account == nil || len(s.Account.CodeHash) == 0 {
		return false
	}
	return s.Account.CodeHash.Hex() != EOACodeHash
}

// ContractStorageState 合约存储槽
type ContractStorageState struct {
	stateHeader
	Key   string `json:"key"`
	Value Bytes  `json:"value"`
}

func (s *ContractStorageState) Type() AccountType { return AccountTypeContractStorage }

// ContractCodeState 合约代码
type ContractCodeState struct {
	stateHeader
	CodeHash Bytes `json:"codeHash"`
	CodeByte Bytes `json:"codeByte"`
}

func (s *ContractCodeState) Type() AccountType { return AccountTypeContractCode }

// ReceiptState 回执类账户
type ReceiptState struct {
	stateHeader
	TxID            string          `json:"txId"`
	TxFrom          string          `json:"txFrom"`
	AmountSpent     string          `json:"amountSpent"`
	ReadableReceipt ReadableReceipt `json:"readableReceipt"`
	kind            AccountType
}

func (s *ReceiptState) Type() AccountType { return s.kind }

// ReadableReceipt 以太坊风格的可读回执
type ReadableReceipt struct {
	BlockHash         string          `json:"blockHash"`
	BlockNumber       string          `json:"blockNumber"`
	ContractAddress   *string         `json:"contractAddress"`
	CumulativeGasUsed string          `json:"cumulativeGasUsed"`
	From              string          `json:"from"`
	To                *string         `json:"to"`
	GasUsed           string          `json:"gasUsed"`
	Logs              []LogEntry      `json:"logs"`
	Status            json.RawMessage `json:"status,omitempty"`
	TransactionHash   string          `json:"transactionHash"`
	TransactionIndex  string          `json:"transactionIndex"`
	Value             string          `json:"value"`
	Data              string          `json:"data"`
	StakeInfo         *StakeInfo      `json:"stakeInfo,omitempty"`
}

// BlockNumberInt 回执中的区块号
func (r *ReadableReceipt) BlockNumberInt() (int64, bool) {
	return ParseHexInt(r.BlockNumber)
}

// Recipient 接收方, 合约创建时取合约地址
func (r *ReadableReceipt) Recipient() string {
	if r.To != nil && *r.To != "" {
		return *r.To
	}
	if r.ContractAddress != nil {
		return *r.ContractAddress
	}
	return ""
}

// StakeInfo 质押信息
type StakeInfo struct {
	Nominee string `json:"nominee"`
	Stake   string `json:"stake,omitempty"`
	Reward  string `json:"reward,omitempty"`
}

// LogEntry EVM 日志
type LogEntry struct {
	Address  string   `json:"address"`
	Topics   []string `json:"topics"`
	Data     string   `json:"data"`
	LogIndex string   `json:"logIndex,omitempty"`
}

// NetworkAccountState 网络账户
type NetworkAccountState struct {
	stateHeader
	ID      string          `json:"id"`
	Current json.RawMessage `json:"current,omitempty"`
}

func (s *NetworkAccountState) Type() AccountType { return AccountTypeNetworkAccount }

// NodeAccountState 节点账户
type NodeAccountState struct {
	stateHeader
	ID        string          `json:"id"`
	Nominator string          `json:"nominator"`
	StakeLock json.RawMessage `json:"stakeLock,omitempty"`
	kind      AccountType
}

func (s *NodeAccountState) Type() AccountType { return s.kind }

// DevAccountState 开发者账户
type DevAccountState struct {
	stateHeader
	ID string `json:"id"`
}

func (s *DevAccountState) Type() AccountType { return AccountTypeDevAccount }

// OtherAccountState 采集器不解析的类型
type OtherAccountState struct {
	stateHeader
}

func (s *OtherAccountState) Type() AccountType { return s.AccountType }

// PeekAccountType 读取账户数据中的 accountType
func PeekAccountType(raw json.RawMessage) (AccountType, error) {
	var h struct {
		AccountType *AccountType `json:"accountType"`
	}
	if err := json.Unmarshal(raw, &h); err != nil {
		return 0, err
	}
	if h.AccountType == nil {
		return 0, fmt.Errorf("account data has no accountType")
	}
	return *h.AccountType, nil
}

// DecodeAccountState 按 accountType 解析账户数据
func DecodeAccountState(raw json.RawMessage) (AccountState, error) {
	t, err := PeekAccountType(raw)
	if err != nil {
		return nil, err
	}

	var st AccountState
	switch t {
	case AccountTypeAccount:
		st = &EVMAccountState{}
	case AccountTypeContractStorage:
		st = &ContractStorageState{}
	case AccountTypeContractCode:
		st = &ContractCodeState{}
	case AccountTypeReceipt, AccountTypeNodeRewardReceipt, AccountTypeStakeReceipt,
		AccountTypeUnstakeReceipt, AccountTypeInternalTxReceipt:
		st = &ReceiptState{kind: t}
	case AccountTypeNetworkAccount:
		st = &NetworkAccountState{}
	case AccountTypeNodeAccount, AccountTypeNodeAccount2:
		st = &NodeAccountState{kind: t}
	case AccountTypeDevAccount:
		st = &DevAccountState{}
	default:
		st = &OtherAccountState{}
	}
	if err := json.Unmarshal(raw, st); err != nil {
		return nil, fmt.Errorf("decode account type %d: %w", t, err)
	}
	return st, nil
}

// EthAddressOf 返回账户数据中的 eth 地址 (小写)
func EthAddressOf(st AccountState) string {
	switch s := st.(type) {
	case *EVMAccountState:
		return strings.ToLower(s.EthAddress)
	case *ContractStorageState:
		return strings.ToLower(s.EthAddress)
	case *ContractCodeState:
		return strings.ToLower(s.EthAddress)
	case *ReceiptState:
		return s.EthAddress
	}
	return ""
}
