package decoder

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/shardeum/relayer-collector/internal/model"
)

// 代币事件签名
var (
	TopicTransfer       = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	TopicApproval       = crypto.Keccak256Hash([]byte("Approval(address,address,uint256)"))
	TopicApprovalForAll = crypto.Keccak256Hash([]byte("ApprovalForAll(address,address,bool)"))
	TopicTransferSingle = crypto.Keccak256Hash([]byte("TransferSingle(address,address,address,uint256,uint256)"))
	TopicTransferBatch  = crypto.Keccak256Hash([]byte("TransferBatch(address,address,address,uint256[],uint256[])"))
)

// BalanceSlot ERC-20 余额映射所在槽位
const BalanceSlot = 0

var batchArgs = func() abi.Arguments {
	arr, err := abi.NewType("uint256[]", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: arr}, {Type: arr}}
}()

// StorageMap 同一回执内的合约存储槽, 键为 槽位+合约地址
type StorageMap map[string]*model.ContractStorageState

func storageKey(slot, contract string) string {
	slot = strings.TrimPrefix(strings.ToLower(slot), "0x")
	return slot + strings.ToLower(contract)
}

// Put 记录一个存储槽
func (m StorageMap) Put(st *model.ContractStorageState) {
	m[storageKey(st.Key, st.EthAddress)] = st
}

// Get 按槽位与合约地址查找
func (m StorageMap) Get(slot, contract string) (*model.ContractStorageState, bool) {
	st, ok := m[storageKey(slot, contract)]
	return st, ok
}

// BalanceSlotKey holder 在余额映射中的存储键
func BalanceSlotKey(holder common.Address, slot int64) common.Hash {
	return crypto.Keccak256Hash(
		common.LeftPadBytes(holder.Bytes(), 32),
		common.LeftPadBytes(big.NewInt(slot).Bytes(), 32),
	)
}

// TokenTransfers 回执日志解析结果
type TokenTransfers struct {
	Txs []*model.TokenTx
	// Accounts 新交易涉及的地址, 小写去重
	Accounts []string
	Tokens   []*model.Token
}

// DecodeTokenTransfers 解析回执日志中的代币事件
// 返回的 TokenTx 只填充事件字段, 交易维度字段由调用方补齐
func DecodeTokenTransfers(receipt *model.ReadableReceipt, storage StorageMap, newTx bool) *TokenTransfers {
	out := &TokenTransfers{}
	seenAcc := make(map[string]struct{})
	seenToken := make(map[string]struct{})

	addAccount := func(addr string) {
		if !newTx || addr == "" {
			return
		}
		if _, ok := seenAcc[addr]; ok {
			return
		}
		seenAcc[addr] = struct{}{}
		out.Accounts = append(out.Accounts, addr)
	}
	addToken := func(holder, contract string) {
		if holder == model.ZeroAddress || storage == nil {
			return
		}
		key := holder + contract
		if _, ok := seenToken[key]; ok {
			return
		}
		slot := BalanceSlotKey(common.HexToAddress(holder), BalanceSlot)
		st, ok := storage.Get(slot.Hex(), contract)
		if !ok {
			return
		}
		seenToken[key] = struct{}{}
		out.Tokens = append(out.Tokens, &model.Token{
			EthAddress:      holder,
			ContractAddress: contract,
			TokenType:       model.TransactionTypeERC20,
			TokenValue:      hexutil.EncodeBig(storageValue(st.Value)),
		})
	}

	for i, log := range receipt.Logs {
		if len(log.Topics) == 0 {
			continue
		}
		logIndex := i
		if v, ok := model.ParseHexInt(log.LogIndex); ok {
			logIndex = int(v)
		}
		contract := strings.ToLower(log.Address)
		data := common.FromHex(log.Data)
		topic0 := common.HexToHash(log.Topics[0])

		base := model.TokenTx{LogIndex: logIndex, ContractAddress: contract}

		switch topic0 {
		case TopicTransfer, TopicApproval:
			if len(log.Topics) < 3 {
				continue
			}
			row := base
			row.TokenFrom = topicAddress(log.Topics[1])
			row.TokenTo = topicAddress(log.Topics[2])
			row.TokenEvent = "Transfer"
			if topic0 == TopicApproval {
				row.TokenEvent = "Approval"
			}
			if len(log.Topics) == 4 {
				row.TokenType = model.TransactionTypeERC721
				row.TokenID = hexutil.EncodeBig(common.HexToHash(log.Topics[3]).Big())
				row.TokenValue = "0x1"
			} else {
				row.TokenType = model.TransactionTypeERC20
				row.TokenValue = hexutil.EncodeBig(new(big.Int).SetBytes(data))
			}
			out.Txs = append(out.Txs, &row)
			addAccount(row.TokenFrom)
			addAccount(row.TokenTo)
			if row.TokenType == model.TransactionTypeERC20 && row.TokenEvent == "Transfer" {
				addToken(row.TokenFrom, contract)
				addToken(row.TokenTo, contract)
			}

		case TopicApprovalForAll:
			if len(log.Topics) < 3 {
				continue
			}
			row := base
			row.TokenType = model.TransactionTypeERC721
			row.TokenFrom = topicAddress(log.Topics[1])
			row.TokenTo = topicAddress(log.Topics[2])
			row.TokenOperator = row.TokenTo
			row.TokenEvent = "ApprovalForAll"
			row.TokenValue = hexutil.EncodeBig(new(big.Int).SetBytes(data))
			out.Txs = append(out.Txs, &row)
			addAccount(row.TokenFrom)
			addAccount(row.TokenTo)

		case TopicTransferSingle:
			if len(log.Topics) < 4 || len(data) < 64 {
				continue
			}
			row := base
			row.TokenType = model.TransactionTypeERC1155
			row.TokenOperator = topicAddress(log.Topics[1])
			row.TokenFrom = topicAddress(log.Topics[2])
			row.TokenTo = topicAddress(log.Topics[3])
			row.TokenEvent = "TransferSingle"
			row.TokenID = hexutil.EncodeBig(new(big.Int).SetBytes(data[:32]))
			row.TokenValue = hexutil.EncodeBig(new(big.Int).SetBytes(data[32:64]))
			out.Txs = append(out.Txs, &row)
			addAccount(row.TokenFrom)
			addAccount(row.TokenTo)

		case TopicTransferBatch:
			if len(log.Topics) < 4 {
				continue
			}
			ids, values, ok := unpackBatch(data)
			if !ok {
				continue
			}
			for j := range ids {
				row := base
				row.TokenIndex = j
				row.TokenType = model.TransactionTypeERC1155
				row.TokenOperator = topicAddress(log.Topics[1])
				row.TokenFrom = topicAddress(log.Topics[2])
				row.TokenTo = topicAddress(log.Topics[3])
				row.TokenEvent = "TransferBatch"
				row.TokenID = hexutil.EncodeBig(ids[j])
				row.TokenValue = hexutil.EncodeBig(values[j])
				out.Txs = append(out.Txs, &row)
			}
			addAccount(topicAddress(log.Topics[2]))
			addAccount(topicAddress(log.Topics[3]))
		}
	}
	return out
}

func topicAddress(topic string) string {
	return strings.ToLower(common.BytesToAddress(common.HexToHash(topic).Bytes()).Hex())
}

func unpackBatch(data []byte) ([]*big.Int, []*big.Int, bool) {
	vals, err := batchArgs.Unpack(data)
	if err != nil || len(vals) != 2 {
		return nil, nil, false
	}
	ids, ok1 := vals[0].([]*big.Int)
	values, ok2 := vals[1].([]*big.Int)
	if !ok1 || !ok2 || len(ids) != len(values) {
		return nil, nil, false
	}
	return ids, values, true
}

// storageValue 存储槽值为 RLP 编码的整数, 无法解码时按原始字节处理
func storageValue(v model.Bytes) *big.Int {
	var inner []byte
	if err := rlp.DecodeBytes(v, &inner); err == nil {
		return new(big.Int).SetBytes(inner)
	}
	return new(big.Int).SetBytes(v)
}
