package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/shardeum/relayer-collector/internal/model"
	"github.com/shardeum/relayer-collector/internal/repository"
	"github.com/shardeum/relayer-collector/internal/service"
	apperrors "github.com/shardeum/relayer-collector/pkg/errors"
	"github.com/shardeum/relayer-collector/pkg/logger"
)

// BlockQuerier 带可见延迟的区块查询
type BlockQuerier interface {
	GetByNumber(ctx context.Context, number int64) (*model.Block, error)
	GetByHash(ctx context.Context, hash string) (*model.Block, error)
	GetByTag(ctx context.Context, tag string) (*model.Block, error)
}

// BlockHandler 区块查询处理器
type BlockHandler struct {
	blocks BlockQuerier
}

// NewBlockHandler 创建区块查询处理器
func NewBlockHandler(blocks BlockQuerier) *BlockHandler {
	return &BlockHandler{blocks: blocks}
}

// GetBlock 按标签, 哈希或区块号 (十进制或 0x 十六进制) 查询
// GET /blocks/:id
func (h *BlockHandler) GetBlock(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	ctx := c.Request.Context()

	var (
		block *model.Block
		err   error
	)
	switch {
	case id == service.BlockTagLatest || id == service.BlockTagEarliest:
		block, err = h.blocks.GetByTag(ctx, id)
	case len(id) == 66 && strings.HasPrefix(id, "0x"):
		block, err = h.blocks.GetByHash(ctx, strings.ToLower(id))
	default:
		number, ok := parseBlockNumber(id)
		if !ok {
			BadRequest(c, "invalid block id "+id)
			return
		}
		block, err = h.blocks.GetByNumber(ctx, number)
	}

	if errors.Is(err, repository.ErrBlockNotFound) {
		Error(c, apperrors.ErrBlockNotVisible.WithDetail("id", id))
		return
	}
	if err != nil {
		logger.Error("query block failed", zap.String("id", id), zap.Error(err))
		Error(c, err)
		return
	}
	Success(c, block)
}

func parseBlockNumber(id string) (int64, bool) {
	if strings.HasPrefix(id, "0x") {
		n, err := hexutil.DecodeUint64(id)
		if err != nil || n > 1<<62 {
			return 0, false
		}
		return int64(n), true
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
