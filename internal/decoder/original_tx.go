package decoder

import (
	"github.com/shardeum/relayer-collector/internal/model"
	"github.com/shardeum/relayer-collector/pkg/errors"
)

// DeriveOriginalTxData2 生成原始交易的类型索引
// EVM 交易取交易哈希, 其它交易以 "0x"+txId 作为哈希并记为内部交易
func DeriveOriginalTxData2(o *model.OriginalTxData) (*model.OriginalTxData2, error) {
	payload, err := o.Payload()
	if err != nil {
		return nil, errors.WrapWithCause(errors.ErrInvalidPayload, err, "original tx %s", o.TxID)
	}

	out := &model.OriginalTxData2{
		TxID:      o.TxID,
		Timestamp: o.Timestamp,
		Cycle:     o.Cycle,
	}
	if payload.Raw == "" {
		out.TxHash = "0x" + o.TxID
		out.TransactionType = model.TransactionTypeInternalTxReceipt
		return out, nil
	}

	tx, err := DecodeEVMRawTxHex(payload.Raw)
	if err != nil {
		return nil, err
	}
	out.TxHash = tx.Hash().Hex()
	out.TransactionType = model.TransactionTypeReceipt
	if IsStakingEVMTx(tx) {
		if t, ok := ClassifyInternalEVMTx(tx); ok {
			out.TransactionType = t
		}
	}
	return out, nil
}
