package decoder

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardeum/relayer-collector/internal/model"
)

const (
	tokenContract = "0x00000000000000000000000000000000000000cc"
	holderA       = "0x00000000000000000000000000000000000000aa"
	holderB       = "0x00000000000000000000000000000000000000bb"
	operator      = "0x00000000000000000000000000000000000000dd"
)

func addrTopic(addr string) string {
	return common.BytesToHash(common.HexToAddress(addr).Bytes()).Hex()
}

func wordHex(v int64) string {
	return hexutil.Encode(common.LeftPadBytes(big.NewInt(v).Bytes(), 32))
}

func TestDecodeERC20Transfer(t *testing.T) {
	slot := BalanceSlotKey(common.HexToAddress(holderB), BalanceSlot)
	enc, err := rlp.EncodeToBytes(big.NewInt(500).Bytes())
	require.NoError(t, err)
	st := &model.ContractStorageState{Key: slot.Hex(), Value: enc}
	st.EthAddress = strings.ToUpper(tokenContract[:2]) + tokenContract[2:]
	storage := StorageMap{}
	storage.Put(st)

	receipt := &model.ReadableReceipt{Logs: []model.LogEntry{{
		Address:  tokenContract,
		Topics:   []string{TopicTransfer.Hex(), addrTopic(holderA), addrTopic(holderB)},
		Data:     wordHex(42),
		LogIndex: "0x3",
	}}}

	out := DecodeTokenTransfers(receipt, storage, true)
	require.Len(t, out.Txs, 1)
	tx := out.Txs[0]
	assert.Equal(t, 3, tx.LogIndex)
	assert.Equal(t, model.TransactionTypeERC20, tx.TokenType)
	assert.Equal(t, holderA, tx.TokenFrom)
	assert.Equal(t, holderB, tx.TokenTo)
	assert.Equal(t, "0x2a", tx.TokenValue)
	assert.Equal(t, "Transfer", tx.TokenEvent)
	assert.Equal(t, []string{holderA, holderB}, out.Accounts)

	// 只有 holderB 的余额槽在本回执中出现
	require.Len(t, out.Tokens, 1)
	assert.Equal(t, holderB, out.Tokens[0].EthAddress)
	assert.Equal(t, tokenContract, out.Tokens[0].ContractAddress)
	assert.Equal(t, "0x1f4", out.Tokens[0].TokenValue)

	// 已存在的交易不再收集账户
	out = DecodeTokenTransfers(receipt, storage, false)
	assert.Empty(t, out.Accounts)
	assert.Len(t, out.Tokens, 1)
}

func TestDecodeERC721(t *testing.T) {
	receipt := &model.ReadableReceipt{Logs: []model.LogEntry{
		{
			Address: tokenContract,
			Topics:  []string{TopicTransfer.Hex(), addrTopic(holderA), addrTopic(holderB), wordHex(7)},
		},
		{
			Address: tokenContract,
			Topics:  []string{TopicApprovalForAll.Hex(), addrTopic(holderA), addrTopic(operator)},
			Data:    wordHex(1),
		},
	}}

	out := DecodeTokenTransfers(receipt, nil, true)
	require.Len(t, out.Txs, 2)
	assert.Equal(t, model.TransactionTypeERC721, out.Txs[0].TokenType)
	assert.Equal(t, "0x7", out.Txs[0].TokenID)
	assert.Equal(t, 0, out.Txs[0].LogIndex)

	assert.Equal(t, "ApprovalForAll", out.Txs[1].TokenEvent)
	assert.Equal(t, operator, out.Txs[1].TokenOperator)
	assert.Equal(t, 1, out.Txs[1].LogIndex)
	assert.Equal(t, []string{holderA, holderB, operator}, out.Accounts)
	assert.Empty(t, out.Tokens)
}

func TestDecodeERC1155(t *testing.T) {
	batch, err := batchArgs.Pack(
		[]*big.Int{big.NewInt(1), big.NewInt(2)},
		[]*big.Int{big.NewInt(10), big.NewInt(20)},
	)
	require.NoError(t, err)

	receipt := &model.ReadableReceipt{Logs: []model.LogEntry{
		{
			Address: tokenContract,
			Topics:  []string{TopicTransferSingle.Hex(), addrTopic(operator), addrTopic(holderA), addrTopic(holderB)},
			Data:    wordHex(5) + strings.TrimPrefix(wordHex(9), "0x"),
		},
		{
			Address: tokenContract,
			Topics:  []string{TopicTransferBatch.Hex(), addrTopic(operator), addrTopic(holderA), addrTopic(holderB)},
			Data:    hexutil.Encode(batch),
		},
	}}

	out := DecodeTokenTransfers(receipt, nil, true)
	require.Len(t, out.Txs, 3)

	single := out.Txs[0]
	assert.Equal(t, model.TransactionTypeERC1155, single.TokenType)
	assert.Equal(t, "0x5", single.TokenID)
	assert.Equal(t, "0x9", single.TokenValue)
	assert.Equal(t, operator, single.TokenOperator)

	for i, row := range out.Txs[1:] {
		assert.Equal(t, 1, row.LogIndex)
		assert.Equal(t, i, row.TokenIndex)
		assert.Equal(t, "TransferBatch", row.TokenEvent)
	}
	assert.Equal(t, "0x2", out.Txs[2].TokenID)
	assert.Equal(t, "0x14", out.Txs[2].TokenValue)
	assert.Equal(t, []string{holderA, holderB}, out.Accounts)
}

func TestDecodeTokenTransfersSkipsMalformed(t *testing.T) {
	receipt := &model.ReadableReceipt{Logs: []model.LogEntry{
		{Address: tokenContract},
		{Address: tokenContract, Topics: []string{TopicTransfer.Hex(), addrTopic(holderA)}},
		{Address: tokenContract, Topics: []string{TopicTransferSingle.Hex(), addrTopic(operator), addrTopic(holderA), addrTopic(holderB)}, Data: "0x01"},
		{Address: tokenContract, Topics: []string{TopicTransferBatch.Hex(), addrTopic(operator), addrTopic(holderA), addrTopic(holderB)}, Data: "0x1234"},
		{Address: tokenContract, Topics: []string{common.HexToHash("0xabc").Hex()}},
	}}
	out := DecodeTokenTransfers(receipt, nil, true)
	assert.Empty(t, out.Txs)
	assert.Empty(t, out.Accounts)
}

func TestStorageValue(t *testing.T) {
	enc, err := rlp.EncodeToBytes(big.NewInt(256).Bytes())
	require.NoError(t, err)
	assert.Equal(t, int64(256), storageValue(enc).Int64())

	// 非 RLP 数据按原始字节解释
	assert.Equal(t, int64(0xc201), storageValue(model.Bytes{0xc2, 0x01}).Int64())
}
