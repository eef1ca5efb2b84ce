package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 采集器配置
type Config struct {
	Service     ServiceConfig     `yaml:"service" json:"service"`
	Collector   CollectorConfig   `yaml:"collector" json:"collector"`
	Distributor DistributorConfig `yaml:"distributor" json:"distributor"`
	Storage     StorageConfig     `yaml:"storage" json:"storage"`
	Redis       RedisConfig       `yaml:"redis" json:"redis"`
	Kafka       KafkaConfig       `yaml:"kafka" json:"kafka"`
	WebSocket   WebSocketConfig   `yaml:"websocket" json:"websocket"`
	Blocks      BlocksConfig      `yaml:"blocks" json:"blocks"`
	Process     ProcessConfig     `yaml:"process" json:"process"`
	Dedup       DedupConfig       `yaml:"dedup" json:"dedup"`
	Sync        SyncConfig        `yaml:"sync" json:"sync"`
	RPC         RPCConfig         `yaml:"rpc" json:"rpc"`
	Log         LogConfig         `yaml:"log" json:"log"`
}

// ServiceConfig 服务配置
type ServiceConfig struct {
	Name     string `yaml:"name" json:"name"`
	GRPCPort int    `yaml:"grpc_port" json:"grpc_port"`
	HTTPPort int    `yaml:"http_port" json:"http_port"`
	Env      string `yaml:"env" json:"env"`
}

// CollectorConfig 采集器身份 (ed25519 hex)
type CollectorConfig struct {
	PublicKey string `yaml:"public_key" json:"public_key"`
	SecretKey string `yaml:"secret_key" json:"-"`
	HashKey   string `yaml:"hash_key" json:"-"` // blake2b 密钥, 为空时不加密钥
}

// DistributorConfig 分发器配置
type DistributorConfig struct {
	URL       string  `yaml:"url" json:"url"`
	TimeoutMs int     `yaml:"timeout_ms" json:"timeout_ms"`
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"` // 每秒请求数, 0 为不限
	Burst     int     `yaml:"burst" json:"burst"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	Engine     string         `yaml:"engine" json:"engine"` // sqlite, postgres
	SqlitePath string         `yaml:"sqlite_path" json:"sqlite_path"`
	Postgres   PostgresConfig `yaml:"postgres" json:"postgres"`
	LogLevel   string         `yaml:"log_level" json:"log_level"` // silent, error, warn, info
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port"`
	Database        string `yaml:"database" json:"database"`
	User            string `yaml:"user" json:"user"`
	Password        string `yaml:"password" json:"-"`
	SSLMode         string `yaml:"ssl_mode" json:"ssl_mode"`
	MaxConnections  int    `yaml:"max_connections" json:"max_connections"`
	MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled   bool     `yaml:"enabled" json:"enabled"`
	Addresses []string `yaml:"addresses" json:"addresses"`
	Password  string   `yaml:"password" json:"-"`
	DB        int      `yaml:"db" json:"db"`
	PoolSize  int      `yaml:"pool_size" json:"pool_size"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Enabled         bool     `yaml:"enabled" json:"enabled"`
	Brokers         []string `yaml:"brokers" json:"brokers"`
	GroupID         string   `yaml:"group_id" json:"group_id"`
	ClientID        string   `yaml:"client_id" json:"client_id"`
	ConsumeLiveFeed bool     `yaml:"consume_live_feed" json:"consume_live_feed"`
	Publish         bool     `yaml:"publish" json:"publish"`
}

// WebSocketConfig 订阅推送配置
type WebSocketConfig struct {
	Enabled        bool   `yaml:"enabled" json:"enabled"`
	Path           string `yaml:"path" json:"path"`
	WriteTimeoutMs int    `yaml:"write_timeout_ms" json:"write_timeout_ms"`
	MaxClients     int    `yaml:"max_clients" json:"max_clients"`
}

// BlocksConfig 合成区块配置
type BlocksConfig struct {
	Enabled              bool  `yaml:"enabled" json:"enabled"`
	CycleDurationSeconds int64 `yaml:"cycle_duration_seconds" json:"cycle_duration_seconds"`
	BlockProductionRate  int64 `yaml:"block_production_rate" json:"block_production_rate"`
	InitBlockNumber      int64 `yaml:"init_block_number" json:"init_block_number"`
	QueryDelaySeconds    int64 `yaml:"query_delay_seconds" json:"query_delay_seconds"`
}

// ProcessConfig 回执处理开关
type ProcessConfig struct {
	IndexReceipt             bool `yaml:"index_receipt" json:"index_receipt"`
	IndexOriginalTxData      bool `yaml:"index_original_tx_data" json:"index_original_tx_data"`
	DecodeContractInfo       bool `yaml:"decode_contract_info" json:"decode_contract_info"`
	DecodeTokenTransfer      bool `yaml:"decode_token_transfer" json:"decode_token_transfer"`
	SaveAccountHistoryState  bool `yaml:"save_account_history_state" json:"save_account_history_state"`
	StoreReceiptBeforeStates bool `yaml:"store_receipt_before_states" json:"store_receipt_before_states"`
	AccountEntryMirror       bool `yaml:"account_entry_mirror" json:"account_entry_mirror"`
}

// DedupConfig 去重配置
type DedupConfig struct {
	Backend          string `yaml:"backend" json:"backend"` // memory, redis
	RetentionSeconds int64  `yaml:"retention_seconds" json:"retention_seconds"`
}

// SyncConfig 同步配置
type SyncConfig struct {
	Enabled        bool   `yaml:"enabled" json:"enabled"`
	StartupSync    bool   `yaml:"startup_sync" json:"startup_sync"`
	PatchCron      string `yaml:"patch_cron" json:"patch_cron"`
	PruneCron      string `yaml:"prune_cron" json:"prune_cron"`
	LookbackCycles int64  `yaml:"lookback_cycles" json:"lookback_cycles"`
	PatchCycles    int64  `yaml:"patch_cycles" json:"patch_cycles"`
}

// RPCConfig EVM JSON-RPC 配置
type RPCConfig struct {
	URL string `yaml:"url" json:"url"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Load 加载配置
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	content := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, err
	}

	setDefaults(&cfg)
	return &cfg, nil
}

// expandEnvVars 展开环境变量 ${VAR:default}
func expandEnvVars(s string) string {
	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "${")
		if start == -1 {
			break
		}
		end := strings.Index(rest[start:], "}")
		if end == -1 {
			break
		}
		end += start

		name, def, _ := strings.Cut(rest[start+2:end], ":")
		value := os.Getenv(name)
		if value == "" {
			value = def
		}

		b.WriteString(rest[:start])
		b.WriteString(value)
		rest = rest[end+1:]
	}
	b.WriteString(rest)
	return b.String()
}

// setDefaults 设置默认值
func setDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "relayer-collector"
	}
	if cfg.Service.GRPCPort == 0 {
		cfg.Service.GRPCPort = 50070
	}
	if cfg.Service.HTTPPort == 0 {
		cfg.Service.HTTPPort = 4444
	}
	if cfg.Service.Env == "" {
		cfg.Service.Env = "dev"
	}

	if cfg.Distributor.URL == "" {
		cfg.Distributor.URL = "http://127.0.0.1:6100"
	}
	if cfg.Distributor.TimeoutMs == 0 {
		cfg.Distributor.TimeoutMs = 45000
	}
	if cfg.Distributor.Burst == 0 {
		cfg.Distributor.Burst = 1
	}

	if cfg.Storage.Engine == "" {
		cfg.Storage.Engine = "sqlite"
	}
	if cfg.Storage.SqlitePath == "" {
		cfg.Storage.SqlitePath = "db/db.sqlite3"
	}
	if cfg.Storage.LogLevel == "" {
		cfg.Storage.LogLevel = "silent"
	}
	if cfg.Storage.Postgres.Port == 0 {
		cfg.Storage.Postgres.Port = 5432
	}
	if cfg.Storage.Postgres.SSLMode == "" {
		cfg.Storage.Postgres.SSLMode = "disable"
	}
	if cfg.Storage.Postgres.MaxConnections == 0 {
		cfg.Storage.Postgres.MaxConnections = 50
	}
	if cfg.Storage.Postgres.MaxIdleConns == 0 {
		cfg.Storage.Postgres.MaxIdleConns = 10
	}
	if cfg.Storage.Postgres.ConnMaxLifetime == 0 {
		cfg.Storage.Postgres.ConnMaxLifetime = 3600
	}

	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 20
	}

	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "relayer-collector"
	}
	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = "relayer-collector"
	}

	if cfg.WebSocket.Path == "" {
		cfg.WebSocket.Path = "/subscribe"
	}
	if cfg.WebSocket.WriteTimeoutMs == 0 {
		cfg.WebSocket.WriteTimeoutMs = 10000
	}
	if cfg.WebSocket.MaxClients == 0 {
		cfg.WebSocket.MaxClients = 1000
	}

	if cfg.Blocks.CycleDurationSeconds == 0 {
		cfg.Blocks.CycleDurationSeconds = 60
	}
	if cfg.Blocks.BlockProductionRate == 0 {
		cfg.Blocks.BlockProductionRate = 6
	}
	if cfg.Blocks.QueryDelaySeconds == 0 {
		cfg.Blocks.QueryDelaySeconds = cfg.Blocks.CycleDurationSeconds
	}

	if cfg.Dedup.Backend == "" {
		cfg.Dedup.Backend = "memory"
	}
	if cfg.Dedup.RetentionSeconds == 0 {
		cfg.Dedup.RetentionSeconds = 300
	}

	if cfg.Sync.PatchCron == "" {
		cfg.Sync.PatchCron = "0 * * * * *"
	}
	if cfg.Sync.PruneCron == "" {
		cfg.Sync.PruneCron = "*/30 * * * * *"
	}
	if cfg.Sync.LookbackCycles == 0 {
		cfg.Sync.LookbackCycles = 10
	}
	if cfg.Sync.PatchCycles == 0 {
		cfg.Sync.PatchCycles = 10
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// BlocksPerCycle 每个 cycle 的区块数
func (c *Config) BlocksPerCycle() int64 {
	if c.Blocks.BlockProductionRate <= 0 {
		return 0
	}
	return c.Blocks.CycleDurationSeconds / c.Blocks.BlockProductionRate
}

// BlockQueryDelay 区块对外可见延迟
func (c *Config) BlockQueryDelay() time.Duration {
	return time.Duration(c.Blocks.QueryDelaySeconds) * time.Second
}

// DistributorTimeout 分发器请求超时
func (c *Config) DistributorTimeout() time.Duration {
	return time.Duration(c.Distributor.TimeoutMs) * time.Millisecond
}

// DedupRetention 去重条目保留时长
func (c *Config) DedupRetention() time.Duration {
	return time.Duration(c.Dedup.RetentionSeconds) * time.Second
}

// GetEnvInt 获取环境变量整数值
func GetEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// GetEnvString 获取环境变量字符串值
func GetEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
