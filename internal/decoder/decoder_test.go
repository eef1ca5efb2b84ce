package decoder

import (
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardeum/relayer-collector/internal/model"
	"github.com/shardeum/relayer-collector/pkg/errors"
)

var testChainID = big.NewInt(8082)

func signedRawTx(t *testing.T, key *ecdsa.PrivateKey, to common.Address, data []byte, dynamic bool) (*types.Transaction, string) {
	t.Helper()
	var inner types.TxData
	if dynamic {
		inner = &types.DynamicFeeTx{
			ChainID:   testChainID,
			Nonce:     1,
			GasTipCap: big.NewInt(1),
			GasFeeCap: big.NewInt(10),
			Gas:       21000,
			To:        &to,
			Value:     big.NewInt(5),
			Data:      data,
		}
	} else {
		inner = &types.LegacyTx{
			Nonce:    1,
			GasPrice: big.NewInt(10),
			Gas:      21000,
			To:       &to,
			Value:    big.NewInt(5),
			Data:     data,
		}
	}
	tx, err := types.SignTx(types.NewTx(inner), types.LatestSignerForChainID(testChainID), key)
	require.NoError(t, err)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return tx, hexutil.Encode(raw)
}

func TestDecodeEVMRawTx(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	for _, dynamic := range []bool{false, true} {
		signed, raw := signedRawTx(t, key, common.HexToAddress("0x1234"), nil, dynamic)

		tx, err := DecodeEVMRawTxHex(raw)
		require.NoError(t, err)
		assert.Equal(t, signed.Hash(), tx.Hash())

		// 无 0x 前缀
		tx, err = DecodeEVMRawTxHex(strings.TrimPrefix(raw, "0x"))
		require.NoError(t, err)
		assert.Equal(t, signed.Hash(), tx.Hash())
	}

	_, err = DecodeEVMRawTx(nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidPayload))
	_, err = DecodeEVMRawTxHex("0xzz")
	assert.True(t, errors.Is(err, errors.ErrInvalidPayload))
	_, err = DecodeEVMRawTxHex("0xdeadbeef")
	assert.True(t, errors.Is(err, errors.ErrInvalidPayload))
}

func TestClassifyInternalEVMTx(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	tests := []struct {
		name   string
		to     common.Address
		data   string
		want   model.TransactionType
		wantOK bool
	}{
		{"stake", StakeTargetAddress, `{"internalTXType":6,"nominee":"n"}`, model.TransactionTypeStakeReceipt, true},
		{"unstake", StakeTargetAddress, `{"internalTXType":7}`, model.TransactionTypeUnstakeReceipt, true},
		{"other internal", StakeTargetAddress, `{"internalTXType":9}`, 0, false},
		{"bad json", StakeTargetAddress, `not json`, 0, false},
		{"regular", common.HexToAddress("0x2"), `{"internalTXType":6}`, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, _ := signedRawTx(t, key, tt.to, []byte(tt.data), false)
			got, ok := ClassifyInternalEVMTx(tx)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeriveOriginalTxData2(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	signed, raw := signedRawTx(t, key, StakeTargetAddress, []byte(`{"internalTXType":6}`), false)
	o := &model.OriginalTxData{
		TxID:           "tx1",
		Timestamp:      10,
		Cycle:          2,
		OriginalTxData: json.RawMessage(`{"tx":{"raw":"` + raw + `","timestamp":10}}`),
	}
	d, err := DeriveOriginalTxData2(o)
	require.NoError(t, err)
	assert.Equal(t, signed.Hash().Hex(), d.TxHash)
	assert.Equal(t, model.TransactionTypeStakeReceipt, d.TransactionType)
	assert.Equal(t, int64(2), d.Cycle)

	signed, raw = signedRawTx(t, key, common.HexToAddress("0x99"), nil, true)
	o.OriginalTxData = json.RawMessage(`{"tx":{"raw":"` + raw + `"}}`)
	d, err = DeriveOriginalTxData2(o)
	require.NoError(t, err)
	assert.Equal(t, signed.Hash().Hex(), d.TxHash)
	assert.Equal(t, model.TransactionTypeReceipt, d.TransactionType)

	o.OriginalTxData = json.RawMessage(`{"internalTXType":2}`)
	d, err = DeriveOriginalTxData2(o)
	require.NoError(t, err)
	assert.Equal(t, "0xtx1", d.TxHash)
	assert.Equal(t, model.TransactionTypeInternalTxReceipt, d.TransactionType)

	o.OriginalTxData = json.RawMessage(`{"tx":{"raw":"0x01"}}`)
	_, err = DeriveOriginalTxData2(o)
	assert.True(t, errors.Is(err, errors.ErrInvalidPayload))

	o.OriginalTxData = json.RawMessage(`[1,2]`)
	_, err = DeriveOriginalTxData2(o)
	assert.True(t, errors.Is(err, errors.ErrInvalidPayload))
}
