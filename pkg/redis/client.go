// Package redis go-redis 客户端构建 (单机 / 集群)
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shardeum/relayer-collector/pkg/logger"
)

var (
	// ErrInvalidConfig 无效配置
	ErrInvalidConfig = errors.New("invalid redis configuration")
	// ErrConnectionFailed 连接失败
	ErrConnectionFailed = errors.New("redis connection failed")
)

// Mode Redis 模式
type Mode string

const (
	// ModeSingle 单机模式
	ModeSingle Mode = "single"
	// ModeCluster 集群模式
	ModeCluster Mode = "cluster"
)

// Config Redis 客户端配置
type Config struct {
	// Mode 为空时按地址数量推断
	Mode         Mode
	Addresses    []string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Mode:         ModeSingle,
		Addresses:    []string{"127.0.0.1:6379"},
		PoolSize:     20,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Validate 验证配置并补齐默认值
func (c *Config) Validate() error {
	if len(c.Addresses) == 0 {
		return fmt.Errorf("%w: addresses is empty", ErrInvalidConfig)
	}
	if c.Mode == "" {
		c.Mode = ModeSingle
		if len(c.Addresses) > 1 {
			c.Mode = ModeCluster
		}
	}
	switch c.Mode {
	case ModeSingle, ModeCluster:
	default:
		return fmt.Errorf("%w: invalid mode %s", ErrInvalidConfig, c.Mode)
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 20
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	return nil
}

// NewClient 创建客户端并测试连接
func NewClient(cfg *Config) (redis.UniversalClient, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var client redis.UniversalClient
	switch cfg.Mode {
	case ModeCluster:
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addresses,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	default:
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addresses[0],
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	logger.Info("redis client initialized",
		zap.String("mode", string(cfg.Mode)),
		zap.Strings("addresses", cfg.Addresses),
		zap.Int("pool_size", cfg.PoolSize),
	)
	return client, nil
}

// IsNilError 判断是否为键不存在
func IsNilError(err error) bool {
	return errors.Is(err, redis.Nil)
}
