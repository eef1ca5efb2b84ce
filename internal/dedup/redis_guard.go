package dedup

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix 去重 ZSET 键前缀
const KeyPrefix = "relayer-collector:dedup:"

// RedisGuard 多实例共享的去重器
// 每类数据一个 ZSET, member 为 "txId:timestamp", score 为 timestamp
type RedisGuard struct {
	rdb redis.UniversalClient
	key string
}

// NewRedisGuard 创建 Redis 去重器, kind 区分数据类别
func NewRedisGuard(rdb redis.UniversalClient, kind string) *RedisGuard {
	return &RedisGuard{rdb: rdb, key: KeyPrefix + kind}
}

func member(txID string, timestamp int64) string {
	return txID + ":" + strconv.FormatInt(timestamp, 10)
}

// CheckAndMark ZADD NX 返回 0 即已存在
func (g *RedisGuard) CheckAndMark(ctx context.Context, txID string, timestamp int64) (bool, error) {
	added, err := g.rdb.ZAddNX(ctx, g.key, redis.Z{
		Score:  float64(timestamp),
		Member: member(txID, timestamp),
	}).Result()
	if err != nil {
		return false, fmt.Errorf("redis zadd: %w", err)
	}
	return added == 0, nil
}

func (g *RedisGuard) Has(ctx context.Context, txID string, timestamp int64) (bool, error) {
	err := g.rdb.ZScore(ctx, g.key, member(txID, timestamp)).Err()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis zscore: %w", err)
	}
	return true, nil
}

func (g *RedisGuard) Prune(ctx context.Context, cutoff int64) (int, error) {
	removed, err := g.rdb.ZRemRangeByScore(ctx, g.key, "-inf", "("+strconv.FormatInt(cutoff, 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zremrangebyscore: %w", err)
	}
	return int(removed), nil
}

func (g *RedisGuard) Len(ctx context.Context) (int, error) {
	n, err := g.rdb.ZCard(ctx, g.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcard: %w", err)
	}
	return int(n), nil
}
