package model

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// AccountType 账户类型
type AccountType int

const (
	AccountTypeAccount           AccountType = 0
	AccountTypeContractStorage   AccountType = 1
	AccountTypeContractCode      AccountType = 2
	AccountTypeReceipt           AccountType = 3
	AccountTypeNonceAccount      AccountType = 4
	AccountTypeNetworkAccount    AccountType = 5
	AccountTypeNodeAccount       AccountType = 6
	AccountTypeNodeRewardReceipt AccountType = 7
	AccountTypeDevAccount        AccountType = 8
	AccountTypeNodeAccount2      AccountType = 9
	AccountTypeStakeReceipt      AccountType = 10
	AccountTypeUnstakeReceipt    AccountType = 11
	AccountTypeInternalTxReceipt AccountType = 12
	AccountTypeSecureAccount     AccountType = 13
)

// AccountBucket 回执账户分类
type AccountBucket int

const (
	BucketUnknown AccountBucket = iota
	BucketEVM                   // 以 eth 地址为键
	BucketNetwork               // 以 accountId 代替地址
	BucketReceipt               // 生成交易行
)

// Bucket 返回账户类型所属分类
func (t AccountType) Bucket() AccountBucket {
	switch t {
	case AccountTypeAccount, AccountTypeContractStorage, AccountTypeContractCode:
		return BucketEVM
	case AccountTypeNetworkAccount, AccountTypeDevAccount, AccountTypeNodeAccount, AccountTypeNodeAccount2:
		return BucketNetwork
	case AccountTypeReceipt, AccountTypeNodeRewardReceipt, AccountTypeStakeReceipt,
		AccountTypeUnstakeReceipt, AccountTypeInternalTxReceipt:
		return BucketReceipt
	default:
		return BucketUnknown
	}
}

// TransactionType 返回回执类账户对应的交易类型
func (t AccountType) TransactionType() (TransactionType, bool) {
	switch t {
	case AccountTypeReceipt:
		return TransactionTypeReceipt, true
	case AccountTypeNodeRewardReceipt:
		return TransactionTypeNodeRewardReceipt, true
	case AccountTypeStakeReceipt:
		return TransactionTypeStakeReceipt, true
	case AccountTypeUnstakeReceipt:
		return TransactionTypeUnstakeReceipt, true
	case AccountTypeInternalTxReceipt:
		return TransactionTypeInternalTxReceipt, true
	}
	return 0, false
}

// TransactionType 交易类型
type TransactionType int

const (
	TransactionTypeReceipt           TransactionType = 0
	TransactionTypeNodeRewardReceipt TransactionType = 1
	TransactionTypeStakeReceipt      TransactionType = 2
	TransactionTypeUnstakeReceipt    TransactionType = 3
	TransactionTypeEVMInternal       TransactionType = 4
	TransactionTypeERC20             TransactionType = 5
	TransactionTypeERC721            TransactionType = 6
	TransactionTypeERC1155           TransactionType = 7
	TransactionTypeInternalTxReceipt TransactionType = 8
)

// BlockTransactionTypes 计入区块交易根的交易类型
var BlockTransactionTypes = []TransactionType{
	TransactionTypeReceipt,
	TransactionTypeStakeReceipt,
	TransactionTypeUnstakeReceipt,
}

// InternalTXType 内部交易类型
type InternalTXType int

const (
	InternalTXSetGlobalCodeBytes InternalTXType = 0
	InternalTXInitNetwork        InternalTXType = 1
	InternalTXNodeReward         InternalTXType = 2
	InternalTXChangeConfig       InternalTXType = 3
	InternalTXApplyChangeConfig  InternalTXType = 4
	InternalTXSetCertTime        InternalTXType = 5
	InternalTXStake              InternalTXType = 6
	InternalTXUnstake            InternalTXType = 7
	InternalTXInitRewardTimes    InternalTXType = 8
	InternalTXClaimReward        InternalTXType = 9
	InternalTXChangeNetworkParam InternalTXType = 10
	InternalTXApplyNetworkParam  InternalTXType = 11
	InternalTXPenalty            InternalTXType = 12
)

// ContractType 合约类型
type ContractType int

const (
	ContractTypeGeneric ContractType = 0
	ContractTypeERC20   ContractType = 1
	ContractTypeERC721  ContractType = 2
	ContractTypeERC1155 ContractType = 3
)

// TokenType 返回合约类型对应的代币交易类型
func (c ContractType) TokenType() TransactionType {
	switch c {
	case ContractTypeERC20:
		return TransactionTypeERC20
	case ContractTypeERC721:
		return TransactionTypeERC721
	case ContractTypeERC1155:
		return TransactionTypeERC1155
	}
	return TransactionTypeEVMInternal
}

// Bytes 兼容多种序列化形式的字节数组
// 支持 "0x.." 十六进制、数字数组、{"0":1,..} 下标对象、
// {"type":"Buffer","data":[..]} 与 {"dataType":"bh","data":"hex"}
type Bytes []byte

// Hex 返回 0x 前缀十六进制
func (b Bytes) Hex() string {
	return "0x" + hex.EncodeToString(b)
}

// MarshalJSON 统一输出十六进制字符串
func (b Bytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Hex())
}

// UnmarshalJSON 解析多种形式
func (b *Bytes) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*b = nil
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		return b.fromHex(s)
	case '[':
		var arr []int
		if err := json.Unmarshal(data, &arr); err != nil {
			return err
		}
		return b.fromInts(arr)
	case '{':
		var tagged struct {
			Type     string          `json:"type"`
			DataType string          `json:"dataType"`
			Data     json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(data, &tagged); err == nil && len(tagged.Data) > 0 {
			if tagged.DataType == "bh" {
				var s string
				if err := json.Unmarshal(tagged.Data, &s); err != nil {
					return err
				}
				return b.fromHex(s)
			}
			var arr []int
			if err := json.Unmarshal(tagged.Data, &arr); err != nil {
				return err
			}
			return b.fromInts(arr)
		}
		var indexed map[string]int
		if err := json.Unmarshal(data, &indexed); err != nil {
			return err
		}
		keys := make([]int, 0, len(indexed))
		for k := range indexed {
			i, err := strconv.Atoi(k)
			if err != nil {
				return fmt.Errorf("bytes: invalid index %q", k)
			}
			keys = append(keys, i)
		}
		sort.Ints(keys)
		arr := make([]int, len(keys))
		for i, k := range keys {
			arr[i] = indexed[strconv.Itoa(k)]
		}
		return b.fromInts(arr)
	}
	return fmt.Errorf("bytes: unsupported json %s", string(data))
}

func (b *Bytes) fromHex(s string) error {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	out, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	*b = out
	return nil
}

func (b *Bytes) fromInts(arr []int) error {
	out := make([]byte, len(arr))
	for i, v := range arr {
		if v < 0 || v > 255 {
			return fmt.Errorf("bytes: value %d out of range", v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

// CanonicalJSON 键排序的紧凑 JSON, 数字保持原文
func CanonicalJSON(raw []byte) ([]byte, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte("null"), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// JSONEqual 判断两段 JSON 语义是否相同
func JSONEqual(a, b []byte) bool {
	ca, err := CanonicalJSON(a)
	if err != nil {
		return false
	}
	cb, err := CanonicalJSON(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}

// ParseHexInt 解析十进制或 0x 十六进制整数
func ParseHexInt(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseInt(s[2:], 16, 64)
		return v, err == nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	return v, err == nil
}
