// ========================================
// ReconciliationService 对账与补缺
// ========================================
//
// ## 分歧检测 (CompareWithOld*)
// 取本地最高周期之前 N 个周期的分发器计数, 与本地计数按顺序逐一比较,
// 从最旧的周期开始, 遇到第一个不一致即停止, 返回最后一个一致的周期
// 分发器无任何返回时报 ErrDivergence, 由调用方停止该类数据的同步
//
// ## 缺口修复 (Compare*CountByCycles + Download*ByCycle)
// 找出本地计数与分发器不同的周期, 按周期分页下载直到数量相等;
// 分发器返回空页时停止并记为差异, 避免分发器计数本身有误时死循环
//
// ## 区间追赶
// - DownloadTxsDataAndCycles: 按序号分页, 依次回执 / 原始交易 / 周期
// - Download*BetweenCycles:   按周期窗口分页, saveOnlyNew 时不覆盖已有数据
// 请求失败时停在当前位置返回错误, 下次触发时重试
//
// ## 创世数据
// 本地 0-5 周期的账户或交易为空时, 以 10000 条一页下载直到短页
// ========================================
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/shardeum/relayer-collector/internal/distributor"
	"github.com/shardeum/relayer-collector/internal/metrics"
	"github.com/shardeum/relayer-collector/internal/model"
	"github.com/shardeum/relayer-collector/internal/repository"
	apperrors "github.com/shardeum/relayer-collector/pkg/errors"
	"github.com/shardeum/relayer-collector/pkg/logger"
)

// 分页参数
const (
	DefaultLookbackCycles = 10
	indexPageSize         = 100
	cycleWindowSize       = 100
	cyclePageSize         = 1000
	receiptPageSize       = 100
	genesisPageSize       = 10000
	genesisStartCycle     = 0
	genesisEndCycle       = 5
)

// 数据类别
const (
	KindCycle      = "cycle"
	KindReceipt    = "receipt"
	KindOriginalTx = "original_tx"
)

// CompareResult 分歧检测结果
type CompareResult struct {
	Success      bool
	MatchedCycle int64
}

// SyncPositions 各类数据的序号位置或总量
type SyncPositions struct {
	Receipts    int64
	OriginalTxs int64
	Cycles      int64
}

// ReconciliationService 对账服务
type ReconciliationService struct {
	dist        distributor.Distributor
	store       *repository.Store
	receipts    *ReceiptIndexer
	originalTxs *OriginalTxIndexer
	cycles      *CycleService
	lookback    int64
}

// NewReconciliationService 创建对账服务
func NewReconciliationService(
	dist distributor.Distributor,
	store *repository.Store,
	receipts *ReceiptIndexer,
	originalTxs *OriginalTxIndexer,
	cycles *CycleService,
	lookback int64,
) *ReconciliationService {
	if lookback <= 0 {
		lookback = DefaultLookbackCycles
	}
	return &ReconciliationService{
		dist:        dist,
		store:       store,
		receipts:    receipts,
		originalTxs: originalTxs,
		cycles:      cycles,
		lookback:    lookback,
	}
}

// ========== 分歧检测 ==========

// CompareWithOldReceipts 比较最近 N 个周期的回执计数
func (s *ReconciliationService) CompareWithOldReceipts(ctx context.Context, lastCycle int64) (CompareResult, error) {
	start, end := s.window(lastCycle)
	remote, err := s.dist.ReceiptTally(ctx, start, end)
	if err != nil {
		metrics.DivergenceTotal.WithLabelValues(KindReceipt).Inc()
		return CompareResult{}, apperrors.WrapWithCause(apperrors.ErrDivergence, err,
			"fetch receipt tally for cycles %d-%d", start, end)
	}
	if len(remote) == 0 {
		metrics.DivergenceTotal.WithLabelValues(KindReceipt).Inc()
		return CompareResult{}, apperrors.Wrapf(apperrors.ErrDivergence,
			"distributor has no receipt tally for cycles %d-%d", start, end)
	}
	local, err := s.store.Receipts.CountByCycles(ctx, repository.CycleRange{Start: start, End: end})
	if err != nil {
		return CompareResult{}, fmt.Errorf("count local receipts: %w", err)
	}
	res, matched := compareTallies(model.ReceiptCounts(remote), local)
	return s.finishCompare(KindReceipt, res, matched, start, end)
}

// CompareWithOldOriginalTxs 比较最近 N 个周期的原始交易计数
func (s *ReconciliationService) CompareWithOldOriginalTxs(ctx context.Context, lastCycle int64) (CompareResult, error) {
	start, end := s.window(lastCycle)
	remote, err := s.dist.OriginalTxTally(ctx, start, end)
	if err != nil {
		metrics.DivergenceTotal.WithLabelValues(KindOriginalTx).Inc()
		return CompareResult{}, apperrors.WrapWithCause(apperrors.ErrDivergence, err,
			"fetch original tx tally for cycles %d-%d", start, end)
	}
	if len(remote) == 0 {
		metrics.DivergenceTotal.WithLabelValues(KindOriginalTx).Inc()
		return CompareResult{}, apperrors.Wrapf(apperrors.ErrDivergence,
			"distributor has no original tx tally for cycles %d-%d", start, end)
	}
	local, err := s.store.OriginalTxs.CountByCycles(ctx, repository.CycleRange{Start: start, End: end})
	if err != nil {
		return CompareResult{}, fmt.Errorf("count local original txs: %w", err)
	}
	res, matched := compareTallies(model.OriginalTxCounts(remote), local)
	return s.finishCompare(KindOriginalTx, res, matched, start, end)
}

// CompareWithOldCycles 比较最近 N 个周期的记录内容
func (s *ReconciliationService) CompareWithOldCycles(ctx context.Context, lastCounter int64) (CompareResult, error) {
	start := lastCounter - s.lookback
	if start < 0 {
		start = 0
	}
	raws, err := s.dist.Cycles(ctx, start, lastCounter-1)
	if err != nil {
		metrics.DivergenceTotal.WithLabelValues(KindCycle).Inc()
		return CompareResult{}, apperrors.WrapWithCause(apperrors.ErrDivergence, err,
			"fetch cycles %d-%d", start, lastCounter-1)
	}
	if len(raws) == 0 {
		metrics.DivergenceTotal.WithLabelValues(KindCycle).Inc()
		return CompareResult{}, apperrors.Wrapf(apperrors.ErrDivergence,
			"distributor has no cycles %d-%d", start, lastCounter-1)
	}
	local, err := s.store.Cycles.ListBetween(ctx, start, lastCounter+1)
	if err != nil {
		return CompareResult{}, fmt.Errorf("list local cycles: %w", err)
	}

	remote := make([]*model.Cycle, 0, len(raws))
	for _, raw := range raws {
		c, _, err := model.NewCycle(raw)
		if err != nil {
			continue
		}
		remote = append(remote, c)
	}
	sort.Slice(remote, func(i, j int) bool { return remote[i].Counter < remote[j].Counter })

	res := CompareResult{Success: true}
	matched := false
	for i, rc := range remote {
		if i >= len(local) || !model.JSONEqual(rc.Record, local[i].Record) {
			res.Success = false
			break
		}
		res.MatchedCycle = rc.Counter
		matched = true
	}
	return s.finishCompare(KindCycle, res, matched, start, lastCounter-1)
}

func (s *ReconciliationService) window(lastCycle int64) (int64, int64) {
	start := lastCycle - s.lookback
	if start < 0 {
		start = 0
	}
	return start, lastCycle
}

func (s *ReconciliationService) recordCompare(kind string, res CompareResult) {
	metrics.ReconcileMatchedCycle.WithLabelValues(kind).Set(float64(res.MatchedCycle))
	if !res.Success {
		metrics.DivergenceTotal.WithLabelValues(kind).Inc()
		logger.Warn("local data diverged from distributor",
			zap.String("kind", kind),
			zap.Int64("matched_cycle", res.MatchedCycle))
	}
}

// finishCompare 窗口内没有任何一致的周期时返回分歧错误
func (s *ReconciliationService) finishCompare(kind string, res CompareResult, matched bool, start, end int64) (CompareResult, error) {
	if !matched {
		metrics.DivergenceTotal.WithLabelValues(kind).Inc()
		return CompareResult{}, apperrors.Wrapf(apperrors.ErrDivergence,
			"no %s cycle agrees with distributor in cycles %d-%d", kind, start, end)
	}
	s.recordCompare(kind, res)
	return res, nil
}

// compareTallies 从旧到新逐一比较, 遇到第一个不一致即停止
// matched 表示至少有一个周期一致
func compareTallies(remote, local []model.CycleCount) (res CompareResult, matched bool) {
	for i, r := range remote {
		if i >= len(local) || local[i].Cycle != r.Cycle || local[i].Count != r.Count {
			return CompareResult{Success: false, MatchedCycle: res.MatchedCycle}, matched
		}
		res.MatchedCycle = r.Cycle
		matched = true
	}
	res.Success = true
	return res, matched
}

// ========== 缺口修复 ==========

// CompareReceiptsCountByCycles 返回本地计数缺失或不等的周期, 请求失败时返回 nil
func (s *ReconciliationService) CompareReceiptsCountByCycles(ctx context.Context, start, end int64) []model.CycleCount {
	remote, err := s.dist.ReceiptTally(ctx, start, end)
	if err != nil {
		logger.Warn("can't fetch receipts count between cycles",
			zap.Int64("start_cycle", start),
			zap.Int64("end_cycle", end),
			zap.Error(err))
		return nil
	}
	local, err := s.store.Receipts.CountByCycles(ctx, repository.CycleRange{Start: start, End: end})
	if err != nil {
		logger.Error("count local receipts failed", zap.Error(err))
		return nil
	}
	return unmatchedCycles(model.ReceiptCounts(remote), local)
}

// CompareOriginalTxsCountByCycles 返回本地计数缺失或不等的周期, 请求失败时返回 nil
func (s *ReconciliationService) CompareOriginalTxsCountByCycles(ctx context.Context, start, end int64) []model.CycleCount {
	remote, err := s.dist.OriginalTxTally(ctx, start, end)
	if err != nil {
		logger.Warn("can't fetch original txs count between cycles",
			zap.Int64("start_cycle", start),
			zap.Int64("end_cycle", end),
			zap.Error(err))
		return nil
	}
	local, err := s.store.OriginalTxs.CountByCycles(ctx, repository.CycleRange{Start: start, End: end})
	if err != nil {
		logger.Error("count local original txs failed", zap.Error(err))
		return nil
	}
	return unmatchedCycles(model.OriginalTxCounts(remote), local)
}

func unmatchedCycles(remote, local []model.CycleCount) []model.CycleCount {
	existing := make(map[int64]int64, len(local))
	for _, c := range local {
		existing[c.Cycle] = c.Count
	}
	var out []model.CycleCount
	for _, r := range remote {
		if n, ok := existing[r.Cycle]; !ok || n != r.Count {
			out = append(out, r)
		}
	}
	return out
}

// DownloadReceiptsByCycle 按周期补齐回执, 返回每个周期下载的条数
func (s *ReconciliationService) DownloadReceiptsByCycle(ctx context.Context, tallies []model.CycleCount) (map[int64]int64, error) {
	return s.downloadByCycle(ctx, KindReceipt, tallies, func(ctx context.Context, cycle, page int64) (int, error) {
		items, err := s.dist.Receipts(ctx, distributor.CycleRange(cycle, cycle).WithPage(page))
		if err != nil {
			return 0, err
		}
		if len(items) == 0 {
			return 0, nil
		}
		return len(items), s.receipts.ProcessReceipts(ctx, items, false)
	})
}

// DownloadOriginalTxsByCycle 按周期补齐原始交易, 返回每个周期下载的条数
func (s *ReconciliationService) DownloadOriginalTxsByCycle(ctx context.Context, tallies []model.CycleCount) (map[int64]int64, error) {
	return s.downloadByCycle(ctx, KindOriginalTx, tallies, func(ctx context.Context, cycle, page int64) (int, error) {
		items, err := s.dist.OriginalTxs(ctx, distributor.CycleRange(cycle, cycle).WithPage(page))
		if err != nil {
			return 0, err
		}
		if len(items) == 0 {
			return 0, nil
		}
		return len(items), s.originalTxs.ProcessOriginalTxs(ctx, items, false)
	})
}

// pageFunc 拉取并处理一页, 返回该页条数; 拉取失败返回分发器错误
type pageFunc func(ctx context.Context, cycle, page int64) (int, error)

func (s *ReconciliationService) downloadByCycle(ctx context.Context, kind string, tallies []model.CycleCount, fetch pageFunc) (map[int64]int64, error) {
	downloaded := make(map[int64]int64, len(tallies))
	for _, t := range tallies {
		metrics.GapRepairCyclesTotal.WithLabelValues(kind).Inc()
		var total int64
	pages:
		for page := int64(1); ; page++ {
			n, err := fetch(ctx, t.Cycle, page)
			switch {
			case apperrors.IsTransient(err):
				logger.Warn("can't fetch page of cycle",
					zap.String("kind", kind),
					zap.Int64("cycle", t.Cycle),
					zap.Int64("page", page),
					zap.Error(err))
				break pages
			case err != nil:
				downloaded[t.Cycle] = total
				return downloaded, fmt.Errorf("process %s page %d of cycle %d: %w", kind, page, t.Cycle, err)
			case n == 0:
				// 分发器计数偏大时以空页结束, 记为差异
				metrics.GapRepairDiscrepanciesTotal.WithLabelValues(kind).Inc()
				logger.Warn("got empty page before reaching distributor count",
					zap.String("kind", kind),
					zap.Int64("cycle", t.Cycle),
					zap.Int64("page", page),
					zap.Int64("downloaded", total),
					zap.Int64("expected", t.Count))
				break pages
			}
			total += int64(n)
			if total == t.Count {
				break
			}
		}
		downloaded[t.Cycle] = total
	}
	return downloaded, nil
}

// ========== 区间追赶 ==========

// DownloadTxsDataAndCycles 按序号从 from 追赶到 totals, 返回到达的位置
func (s *ReconciliationService) DownloadTxsDataAndCycles(ctx context.Context, totals, from SyncPositions) (SyncPositions, error) {
	pos := from
	var err error

	pos.Receipts, err = s.downloadByIndex(ctx, KindReceipt, from.Receipts, totals.Receipts, func(ctx context.Context, start, end int64) (int, error) {
		items, err := s.dist.Receipts(ctx, distributor.IndexRange(start, end))
		if err != nil {
			return 0, err
		}
		return len(items), s.receipts.ProcessReceipts(ctx, items, false)
	})
	if err != nil {
		return pos, err
	}

	pos.OriginalTxs, err = s.downloadByIndex(ctx, KindOriginalTx, from.OriginalTxs, totals.OriginalTxs, func(ctx context.Context, start, end int64) (int, error) {
		items, err := s.dist.OriginalTxs(ctx, distributor.IndexRange(start, end))
		if err != nil {
			return 0, err
		}
		return len(items), s.originalTxs.ProcessOriginalTxs(ctx, items, false)
	})
	if err != nil {
		return pos, err
	}

	pos.Cycles, err = s.downloadByIndex(ctx, KindCycle, from.Cycles, totals.Cycles, func(ctx context.Context, start, end int64) (int, error) {
		raws, err := s.dist.Cycles(ctx, start, end)
		if err != nil {
			return 0, err
		}
		_, err = s.cycles.BulkInsert(ctx, cyclesFromRaw(raws), false)
		return len(raws), err
	})
	if err != nil {
		return pos, err
	}

	logger.Info("sync cycles and txs data completed",
		zap.Int64("receipts", pos.Receipts),
		zap.Int64("original_txs", pos.OriginalTxs),
		zap.Int64("cycles", pos.Cycles))
	return pos, nil
}

// rangeFunc 拉取并处理 [start, end] 一页, 返回该页条数
type rangeFunc func(ctx context.Context, start, end int64) (int, error)

// downloadByIndex 序号分页 [start, start+100], 之后 start=end+1, 返回累计下载数
func (s *ReconciliationService) downloadByIndex(ctx context.Context, kind string, from, total int64, fetch rangeFunc) (int64, error) {
	downloaded := from
	start, end := from, from+indexPageSize
	for downloaded < total {
		if err := ctx.Err(); err != nil {
			return downloaded, err
		}
		n, err := fetch(ctx, start, end)
		if err != nil {
			logger.Warn("invalid download response",
				zap.String("kind", kind),
				zap.Int64("start", start),
				zap.Int64("end", end),
				zap.Error(err))
			return downloaded, fmt.Errorf("download %s %d-%d: %w", kind, start, end, err)
		}
		if n == 0 {
			logger.Warn("distributor returned empty page before total",
				zap.String("kind", kind),
				zap.Int64("start", start),
				zap.Int64("downloaded", downloaded),
				zap.Int64("total", total))
			return downloaded, nil
		}
		downloaded += int64(n)
		start = end + 1
		end += indexPageSize
	}
	logger.Info("download completed", zap.String("kind", kind), zap.Int64("downloaded", downloaded))
	return downloaded, nil
}

func cyclesFromRaw(raws []json.RawMessage) []*model.Cycle {
	out := make([]*model.Cycle, 0, len(raws))
	for _, raw := range raws {
		c, _, err := model.NewCycle(raw)
		if err != nil {
			metrics.RecordDropped(KindCycle, "malformed")
			logger.Warn("malformed cycle received", zap.ByteString("cycle", raw), zap.Error(err))
			continue
		}
		out = append(out, c)
	}
	return out
}

// DownloadCyclesBetweenCycles 以 1000 个为一页下载 [start, total] 的周期
func (s *ReconciliationService) DownloadCyclesBetweenCycles(ctx context.Context, start, total int64, saveOnlyNew bool) error {
	end := start + cyclePageSize
	for start <= total {
		if end > total {
			end = total
		}
		raws, err := s.dist.Cycles(ctx, start, end)
		if err != nil {
			return fmt.Errorf("download cycles %d-%d: %w", start, end, err)
		}
		if _, err := s.cycles.BulkInsert(ctx, cyclesFromRaw(raws), saveOnlyNew); err != nil {
			return err
		}
		start = end + 1
		end += cyclePageSize
	}
	logger.Info("download completed for cycles between counters", zap.Int64("total", total))
	return nil
}

// DownloadReceiptsBetweenCycles 以 100 个周期为窗口下载回执
func (s *ReconciliationService) DownloadReceiptsBetweenCycles(ctx context.Context, start, total int64, saveOnlyNew bool) error {
	return s.downloadBetweenCycles(ctx, KindReceipt, start, total, s.dist.ReceiptCount,
		func(ctx context.Context, params distributor.Params) error {
			items, err := s.dist.Receipts(ctx, params)
			if err != nil {
				return err
			}
			return s.receipts.ProcessReceipts(ctx, items, saveOnlyNew)
		})
}

// DownloadOriginalTxsBetweenCycles 以 100 个周期为窗口下载原始交易
func (s *ReconciliationService) DownloadOriginalTxsBetweenCycles(ctx context.Context, start, total int64, saveOnlyNew bool) error {
	return s.downloadBetweenCycles(ctx, KindOriginalTx, start, total, s.dist.OriginalTxCount,
		func(ctx context.Context, params distributor.Params) error {
			items, err := s.dist.OriginalTxs(ctx, params)
			if err != nil {
				return err
			}
			return s.originalTxs.ProcessOriginalTxs(ctx, items, saveOnlyNew)
		})
}

type countFunc func(ctx context.Context, startCycle, endCycle int64) (int64, error)

func (s *ReconciliationService) downloadBetweenCycles(
	ctx context.Context,
	kind string,
	start, total int64,
	count countFunc,
	fetch func(ctx context.Context, params distributor.Params) error,
) error {
	end := start + cycleWindowSize
	for start <= total {
		if end > total {
			end = total
		}
		n, err := count(ctx, start, end)
		if err != nil {
			return fmt.Errorf("count %s in cycles %d-%d: %w", kind, start, end, err)
		}
		pages := (n + receiptPageSize - 1) / receiptPageSize
		for page := int64(1); page <= pages; page++ {
			if err := fetch(ctx, distributor.CycleRange(start, end).WithPage(page)); err != nil {
				return fmt.Errorf("download %s page %d of cycles %d-%d: %w", kind, page, start, end, err)
			}
		}
		logger.Debug("downloaded cycles window",
			zap.String("kind", kind),
			zap.Int64("start_cycle", start),
			zap.Int64("end_cycle", end),
			zap.Int64("count", n))
		start = end + 1
		end += cycleWindowSize
	}
	return nil
}

// ========== 创世数据 ==========

// DownloadAndSyncGenesis 本地缺少创世账户或交易时下载
func (s *ReconciliationService) DownloadAndSyncGenesis(ctx context.Context) error {
	rng := repository.CycleRange{Start: genesisStartCycle, End: genesisEndCycle}
	accounts, err := s.store.Accounts.CountBetweenCycles(ctx, rng)
	if err != nil {
		return fmt.Errorf("count genesis accounts: %w", err)
	}
	txs, err := s.store.Transactions.CountBetweenCycles(ctx, rng)
	if err != nil {
		return fmt.Errorf("count genesis transactions: %w", err)
	}
	if accounts > 0 && txs > 0 {
		return nil
	}

	if accounts == 0 {
		if err := s.syncGenesisAccounts(ctx); err != nil {
			return err
		}
	}
	if txs == 0 {
		if err := s.syncGenesisTransactions(ctx); err != nil {
			return err
		}
	}
	logger.Info("sync genesis accounts and transaction receipts completed")
	return nil
}

func (s *ReconciliationService) syncGenesisAccounts(ctx context.Context) error {
	total, err := s.dist.AccountsTotal(ctx, genesisStartCycle, genesisEndCycle)
	if err != nil {
		return fmt.Errorf("query genesis accounts total: %w", err)
	}
	if total <= 0 {
		return nil
	}
	var receiptAccounts []*model.AccountCopy
	for page := int64(1); ; page++ {
		items, err := s.dist.Accounts(ctx, genesisStartCycle, genesisEndCycle, page)
		if err != nil {
			return fmt.Errorf("download genesis accounts page %d: %w", page, err)
		}
		txs, err := s.receipts.ProcessGenesisAccounts(ctx, items)
		if err != nil {
			return err
		}
		receiptAccounts = append(receiptAccounts, txs...)
		if len(items) < genesisPageSize {
			break
		}
	}
	return s.receipts.ProcessGenesisTransactions(ctx, receiptAccounts)
}

func (s *ReconciliationService) syncGenesisTransactions(ctx context.Context) error {
	total, err := s.dist.TransactionsTotal(ctx, genesisStartCycle, genesisEndCycle)
	if err != nil {
		return fmt.Errorf("query genesis transactions total: %w", err)
	}
	if total <= 0 {
		return nil
	}
	for page := int64(1); ; page++ {
		items, err := s.dist.Transactions(ctx, genesisStartCycle, genesisEndCycle, page)
		if err != nil {
			return fmt.Errorf("download genesis transactions page %d: %w", page, err)
		}
		if err := s.receipts.ProcessGenesisTransactions(ctx, items); err != nil {
			return err
		}
		if len(items) < genesisPageSize {
			return nil
		}
	}
}
