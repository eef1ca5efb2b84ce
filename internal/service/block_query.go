package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shardeum/relayer-collector/internal/model"
	"github.com/shardeum/relayer-collector/internal/repository"
)

// 区块标签
const (
	BlockTagLatest   = "latest"
	BlockTagEarliest = "earliest"
)

// maxLatestStepBack latest 标签向前查找可见区块的最大步数
const maxLatestStepBack = 1000

// IsVisible 区块时间戳不晚于 now-delay 才对外可见
func IsVisible(block *model.Block, now time.Time, delay time.Duration) bool {
	if block == nil {
		return false
	}
	return block.Timestamp <= now.Add(-delay).UnixMilli()
}

// BlockQueryService 带可见延迟的区块查询
type BlockQueryService struct {
	blocks   repository.BlockRepository
	delay    time.Duration
	earliest int64
	now      func() time.Time
}

// NewBlockQueryService 创建区块查询服务, earliest 为起始区块号
func NewBlockQueryService(blocks repository.BlockRepository, delay time.Duration, earliest int64) *BlockQueryService {
	return &BlockQueryService{blocks: blocks, delay: delay, earliest: earliest, now: time.Now}
}

func (s *BlockQueryService) visible(block *model.Block, err error) (*model.Block, error) {
	if err != nil {
		return nil, err
	}
	if !IsVisible(block, s.now(), s.delay) {
		return nil, repository.ErrBlockNotFound
	}
	return block, nil
}

// GetByNumber 按区块号查询
func (s *BlockQueryService) GetByNumber(ctx context.Context, number int64) (*model.Block, error) {
	return s.visible(s.blocks.GetByNumber(ctx, number))
}

// GetByHash 按区块哈希查询
func (s *BlockQueryService) GetByHash(ctx context.Context, hash string) (*model.Block, error) {
	return s.visible(s.blocks.GetByHash(ctx, hash))
}

// GetByTag earliest 为起始区块, latest 为最新的可见区块
func (s *BlockQueryService) GetByTag(ctx context.Context, tag string) (*model.Block, error) {
	switch tag {
	case BlockTagEarliest:
		return s.visible(s.blocks.GetByNumber(ctx, s.earliest))
	case BlockTagLatest:
		block, err := s.blocks.Latest(ctx)
		if err != nil {
			return nil, err
		}
		now := s.now()
		for step := 0; !IsVisible(block, now, s.delay); step++ {
			if step >= maxLatestStepBack || block.Number <= s.earliest {
				return nil, repository.ErrBlockNotFound
			}
			block, err = s.blocks.GetByNumber(ctx, block.Number-1)
			if errors.Is(err, repository.ErrBlockNotFound) {
				return nil, err
			}
			if err != nil {
				return nil, fmt.Errorf("query block: %w", err)
			}
		}
		return block, nil
	}
	return nil, fmt.Errorf("unknown block tag %q", tag)
}
