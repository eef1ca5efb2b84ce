package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shardeum/relayer-collector/internal/config"
	"github.com/shardeum/relayer-collector/internal/model"
	"github.com/shardeum/relayer-collector/migrations"
	"github.com/shardeum/relayer-collector/pkg/logger"
	"github.com/shardeum/relayer-collector/pkg/migrate"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// 存储引擎名称
const (
	EngineSqlite   = "sqlite"
	EnginePostgres = "postgres"
)

// Models 全部持久化模型, sqlite 引擎据此建表
var Models = []interface{}{
	&model.Cycle{},
	&model.Receipt{},
	&model.OriginalTxData{},
	&model.OriginalTxData2{},
	&model.Account{},
	&model.AccountEntry{},
	&model.Token{},
	&model.Transaction{},
	&model.TokenTx{},
	&model.Block{},
	&model.AccountHistoryState{},
}

// Engine 存储引擎, 启动时选定一次
type Engine interface {
	Name() string
	Dialector() gorm.Dialector
	Configure(db *gorm.DB) error
	Migrate(db *gorm.DB) error
}

// NewEngine 按配置选择存储引擎
func NewEngine(cfg *config.StorageConfig) (Engine, error) {
	switch cfg.Engine {
	case EngineSqlite, "":
		return &SqliteEngine{Path: cfg.SqlitePath}, nil
	case EnginePostgres:
		return &PostgresEngine{cfg: cfg.Postgres}, nil
	}
	return nil, fmt.Errorf("unsupported storage engine: %s", cfg.Engine)
}

// Open 打开数据库并完成连接池配置与建表
func Open(engine Engine, logLevel string) (*gorm.DB, error) {
	db, err := gorm.Open(engine.Dialector(), &gorm.Config{
		Logger: gormlogger.Default.LogMode(parseGormLogLevel(logLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if err := engine.Configure(db); err != nil {
		return nil, err
	}
	if err := engine.Migrate(db); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	logger.Info("database ready", zap.String("engine", engine.Name()))
	return db, nil
}

func parseGormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "error":
		return gormlogger.Error
	case "warn":
		return gormlogger.Warn
	case "info":
		return gormlogger.Info
	}
	return gormlogger.Silent
}

// SqliteEngine 单文件 sqlite
type SqliteEngine struct {
	Path string
}

func (e *SqliteEngine) Name() string { return EngineSqlite }

// Dialector 文件库开启 WAL 并预先创建目录, 内存库原样使用
func (e *SqliteEngine) Dialector() gorm.Dialector {
	if !e.inMemory() {
		if err := os.MkdirAll(filepath.Dir(e.Path), 0o755); err != nil {
			logger.Warn("create sqlite dir failed", zap.String("path", e.Path), zap.Error(err))
		}
	}
	return sqlite.Open(e.dsn())
}

func (e *SqliteEngine) inMemory() bool {
	return e.Path == "" || e.Path == ":memory:"
}

func (e *SqliteEngine) dsn() string {
	if e.inMemory() {
		return "file::memory:?cache=shared"
	}
	return "file:" + e.Path + "?_journal_mode=WAL&_busy_timeout=5000"
}

// Configure sqlite 只允许一个写连接
func (e *SqliteEngine) Configure(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(1)
	return nil
}

// Migrate 按模型建表
func (e *SqliteEngine) Migrate(db *gorm.DB) error {
	return db.AutoMigrate(Models...)
}

// PostgresEngine PostgreSQL
type PostgresEngine struct {
	cfg config.PostgresConfig
}

func (e *PostgresEngine) Name() string { return EnginePostgres }

func (e *PostgresEngine) Dialector() gorm.Dialector {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		e.cfg.Host,
		e.cfg.Port,
		e.cfg.User,
		e.cfg.Password,
		e.cfg.Database,
		e.cfg.SSLMode,
	)
	return postgres.Open(dsn)
}

func (e *PostgresEngine) Configure(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(e.cfg.MaxConnections)
	sqlDB.SetMaxIdleConns(e.cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(e.cfg.ConnMaxLifetime) * time.Second)
	return nil
}

// Migrate 执行嵌入的 SQL 迁移
func (e *PostgresEngine) Migrate(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return migrate.NewMigrator(sqlDB, "relayer_collector_migrations", logger.L()).Up(migrations.FS, ".")
}
