package model

// CycleCount 单个周期内某类数据的条数
type CycleCount struct {
	Cycle int64 `json:"cycle"`
	Count int64 `json:"count"`
}

// ReceiptTally 分发器回执计数
type ReceiptTally struct {
	Cycle    int64 `json:"cycle"`
	Receipts int64 `json:"receipts"`
}

// OriginalTxTally 分发器原始交易计数
type OriginalTxTally struct {
	Cycle           int64 `json:"cycle"`
	OriginalTxsData int64 `json:"originalTxsData"`
}

// TotalData 分发器数据总量
type TotalData struct {
	TotalCycles       int64 `json:"totalCycles"`
	TotalAccounts     int64 `json:"totalAccounts"`
	TotalTransactions int64 `json:"totalTransactions"`
	TotalReceipts     int64 `json:"totalReceipts"`
	TotalOriginalTxs  int64 `json:"totalOriginalTxs"`
}

// ReceiptCounts 转为通用计数
func ReceiptCounts(in []ReceiptTally) []CycleCount {
	out := make([]CycleCount, len(in))
	for i, t := range in {
		out[i] = CycleCount{Cycle: t.Cycle, Count: t.Receipts}
	}
	return out
}

// OriginalTxCounts 转为通用计数
func OriginalTxCounts(in []OriginalTxTally) []CycleCount {
	out := make([]CycleCount, len(in))
	for i, t := range in {
		out[i] = CycleCount{Cycle: t.Cycle, Count: t.OriginalTxsData}
	}
	return out
}
