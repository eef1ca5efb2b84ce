// Package decoder EVM 原始交易与回执日志解析
package decoder

import (
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/shardeum/relayer-collector/internal/model"
	"github.com/shardeum/relayer-collector/pkg/errors"
)

// StakeTargetAddress 质押类内部交易的目标地址
var StakeTargetAddress = common.HexToAddress("0x0000000000000000000000000000000000000001")

// DecodeEVMRawTx 解析签名交易 (legacy 或 typed envelope)
func DecodeEVMRawTx(raw []byte) (*types.Transaction, error) {
	if len(raw) == 0 {
		return nil, errors.Wrapf(errors.ErrInvalidPayload, "empty raw tx")
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, errors.WrapWithCause(errors.ErrInvalidPayload, err, "decode raw tx")
	}
	return tx, nil
}

// DecodeEVMRawTxHex 解析十六进制交易, 0x 前缀可选
func DecodeEVMRawTxHex(s string) (*types.Transaction, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	raw, err := hexutil.Decode(s)
	if err != nil {
		return nil, errors.WrapWithCause(errors.ErrInvalidPayload, err, "decode raw tx hex")
	}
	return DecodeEVMRawTx(raw)
}

// IsStakingEVMTx 目标地址为质押地址
func IsStakingEVMTx(tx *types.Transaction) bool {
	return tx.To() != nil && *tx.To() == StakeTargetAddress
}

// ClassifyInternalEVMTx 质押 / 解押交易分类, 其它交易 ok 为 false
func ClassifyInternalEVMTx(tx *types.Transaction) (model.TransactionType, bool) {
	if !IsStakingEVMTx(tx) {
		return 0, false
	}
	var blob struct {
		InternalTXType *model.InternalTXType `json:"internalTXType"`
	}
	if err := json.Unmarshal(tx.Data(), &blob); err != nil || blob.InternalTXType == nil {
		return 0, false
	}
	switch *blob.InternalTXType {
	case model.InternalTXStake:
		return model.TransactionTypeStakeReceipt, true
	case model.InternalTXUnstake:
		return model.TransactionTypeUnstakeReceipt, true
	}
	return 0, false
}
