// ========================================
// BlockBuilder 合成区块
// ========================================
//
// 每个新 cycle 生成 cycle_duration / block_production_rate 个区块:
//   number    = init + counter*perCycle + i
//   timestamp = (cycle.start + i*rate) * 1000
//
// 区块头使用固定模板, 仅 parentHash / number / timestamp / transactionsRoot
// 随区块变化, 因此重复构建得到相同哈希, 按区块号覆盖写入即可
//
// 父区块不存在时跳过该区块并记录日志, 等待后续补齐
// ========================================
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/trie"
	"go.uber.org/zap"

	"github.com/shardeum/relayer-collector/internal/metrics"
	"github.com/shardeum/relayer-collector/internal/model"
	"github.com/shardeum/relayer-collector/internal/repository"
	"github.com/shardeum/relayer-collector/pkg/logger"
)

var (
	ErrBuilderAlreadyRunning = errors.New("block builder already running")
	ErrBuilderNotRunning     = errors.New("block builder not running")
)

// 区块头模板
var (
	templateDifficulty = big.NewInt(0x4ea3f27bc)
	templateGasLimit   = uint64(0x4a817c800)
	templateMiner      = common.HexToAddress("0xbb7b8287f3f0a933474a79eae42cbca977791171")
	templateExtra      = common.FromHex("0x476574682f4c5649562f76312e302e302f6c696e75782f676f312e342e32")
	templateMixHash    = common.HexToHash("0x4fffe9ae21f1c9e15207b1f472d5bbdd68c9595d461666602f2be20daf5e7843")
	templateNonce      = types.EncodeNonce(0x689056015818adbe)
)

const (
	templateSize            = "0x220"
	templateTotalDifficulty = "0x78ed983323d"
)

// BlockSettings 出块参数
type BlockSettings struct {
	InitBlockNumber int64
	BlocksPerCycle  int64
	ProductionRate  int64 // 秒
}

// BlockBuilder 按 cycle 生成合成区块
type BlockBuilder struct {
	store    *repository.Store
	settings BlockSettings
	events   <-chan model.CycleCommitted

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewBlockBuilder 创建区块构建器
func NewBlockBuilder(store *repository.Store, settings BlockSettings, events <-chan model.CycleCommitted) *BlockBuilder {
	return &BlockBuilder{
		store:    store,
		settings: settings,
		events:   events,
	}
}

// Start 启动事件消费
func (b *BlockBuilder) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return ErrBuilderAlreadyRunning
	}
	b.running = true
	b.stopCh = make(chan struct{})

	logger.Info("block builder starting",
		zap.Int64("blocks_per_cycle", b.settings.BlocksPerCycle),
		zap.Int64("init_block_number", b.settings.InitBlockNumber))

	b.wg.Add(1)
	go b.runLoop(ctx, b.stopCh)
	return nil
}

// Stop 停止并等待当前 cycle 处理完
func (b *BlockBuilder) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return ErrBuilderNotRunning
	}
	close(b.stopCh)
	b.running = false
	b.mu.Unlock()

	b.wg.Wait()
	logger.Info("block builder stopped")
	return nil
}

func (b *BlockBuilder) runLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case ev, ok := <-b.events:
			if !ok {
				return
			}
			if _, err := b.BuildBlocksForCycle(ctx, ev.Counter, ev.Start); err != nil {
				logger.Error("build blocks failed",
					zap.Int64("cycle", ev.Counter),
					zap.Error(err))
			}
		}
	}
}

// BuildBlocksForCycle 生成一个 cycle 的全部区块, 返回写入的区块数
func (b *BlockBuilder) BuildBlocksForCycle(ctx context.Context, counter, startSeconds int64) (int, error) {
	built := 0
	for i := int64(0); i < b.settings.BlocksPerCycle; i++ {
		number := b.settings.InitBlockNumber + counter*b.settings.BlocksPerCycle + i
		timestamp := (startSeconds + i*b.settings.ProductionRate) * 1000

		block, err := b.buildBlock(ctx, counter, number, timestamp)
		if errors.Is(err, repository.ErrBlockNotFound) {
			metrics.BlocksSkippedTotal.Inc()
			logger.Warn("parent block missing, skip block",
				zap.Int64("cycle", counter),
				zap.Int64("number", number))
			continue
		}
		if err != nil {
			return built, fmt.Errorf("build block %d: %w", number, err)
		}
		if err := b.store.Blocks.Upsert(ctx, block); err != nil {
			return built, fmt.Errorf("save block %d: %w", number, err)
		}
		metrics.RecordBlockBuilt(number)
		built++
	}
	logger.Debug("blocks built for cycle",
		zap.Int64("cycle", counter),
		zap.Int("built", built))
	return built, nil
}

func (b *BlockBuilder) buildBlock(ctx context.Context, counter, number, timestamp int64) (*model.Block, error) {
	// 起始区块的父哈希为零值
	parentHash := common.Hash{}
	if number > b.settings.InitBlockNumber {
		parent, err := b.store.Blocks.GetByNumber(ctx, number-1)
		if err != nil {
			return nil, err
		}
		parentHash = common.HexToHash(parent.Hash)
	}

	txs, err := b.store.Transactions.ListByBlock(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("list block transactions: %w", err)
	}
	hashes := make([]string, len(txs))
	for i, tx := range txs {
		hashes[i] = tx.TxHash
	}
	txRoot := TransactionsRoot(hashes)

	header := &types.Header{
		ParentHash:  parentHash,
		UncleHash:   types.EmptyUncleHash,
		Coinbase:    templateMiner,
		Root:        common.Hash{},
		TxHash:      txRoot,
		ReceiptHash: common.Hash{},
		Bloom:       types.Bloom{},
		Difficulty:  templateDifficulty,
		Number:      big.NewInt(number),
		GasLimit:    templateGasLimit,
		GasUsed:     0,
		Time:        uint64(timestamp / 1000),
		Extra:       templateExtra,
		MixDigest:   templateMixHash,
		Nonce:       templateNonce,
	}
	hash := header.Hash()

	readable := &model.ReadableBlock{
		Difficulty:       hexutil.EncodeBig(header.Difficulty),
		ExtraData:        hexutil.Encode(header.Extra),
		GasLimit:         hexutil.EncodeUint64(header.GasLimit),
		GasUsed:          hexutil.EncodeUint64(header.GasUsed),
		Hash:             hash.Hex(),
		LogsBloom:        hexutil.Encode(header.Bloom.Bytes()),
		Miner:            header.Coinbase.Hex(),
		MixHash:          header.MixDigest.Hex(),
		Nonce:            hexutil.Encode(header.Nonce[:]),
		Number:           hexutil.EncodeBig(header.Number),
		ParentHash:       header.ParentHash.Hex(),
		ReceiptsRoot:     header.ReceiptHash.Hex(),
		Sha3Uncles:       header.UncleHash.Hex(),
		Size:             templateSize,
		StateRoot:        header.Root.Hex(),
		Timestamp:        hexutil.EncodeUint64(header.Time),
		TotalDifficulty:  templateTotalDifficulty,
		Transactions:     hashes,
		TransactionsRoot: txRoot.Hex(),
		Uncles:           []string{},
	}
	raw, err := json.Marshal(readable)
	if err != nil {
		return nil, err
	}

	return &model.Block{
		Number:           number,
		NumberHex:        hexutil.EncodeBig(header.Number),
		Hash:             hash.Hex(),
		ParentHash:       parentHash.Hex(),
		Timestamp:        timestamp,
		Cycle:            counter,
		TransactionsRoot: txRoot.Hex(),
		ReadableBlock:    raw,
	}, nil
}

// txHashList 以交易哈希字符串为叶子的列表
type txHashList []string

func (l txHashList) Len() int { return len(l) }

func (l txHashList) EncodeIndex(i int, w *bytes.Buffer) {
	w.WriteString(l[i])
}

// TransactionsRoot 按 rlp(index) -> txHash 构建的交易树根
func TransactionsRoot(hashes []string) common.Hash {
	return types.DeriveSha(txHashList(hashes), trie.NewStackTrie(nil))
}
