// Package migrate PostgreSQL 表结构迁移 (golang-migrate)
package migrate

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// Migrator 迁移器
type Migrator struct {
	db        *sql.DB
	logger    *zap.Logger
	tableName string
}

// NewMigrator 创建迁移器, tableName 为空时使用 golang-migrate 默认表
func NewMigrator(db *sql.DB, tableName string, logger *zap.Logger) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{db: db, logger: logger, tableName: tableName}
}

func (m *Migrator) instance(migrations fs.FS, path string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrations, path)
	if err != nil {
		return nil, fmt.Errorf("create migration source failed: %w", err)
	}
	driver, err := postgres.WithInstance(m.db, &postgres.Config{MigrationsTable: m.tableName})
	if err != nil {
		return nil, fmt.Errorf("create postgres driver failed: %w", err)
	}
	mg, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator failed: %w", err)
	}
	return mg, nil
}

// Up 执行全部未应用的迁移
func (m *Migrator) Up(migrations fs.FS, path string) error {
	mg, err := m.instance(migrations, path)
	if err != nil {
		return err
	}
	defer mg.Close()

	if err := mg.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info("schema up to date")
			return nil
		}
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := mg.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("get migration version failed: %w", err)
	}
	m.logger.Info("schema migrated", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

// Down 回滚一个版本
func (m *Migrator) Down(migrations fs.FS, path string) error {
	mg, err := m.instance(migrations, path)
	if err != nil {
		return err
	}
	defer mg.Close()

	if err := mg.Steps(-1); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("rollback failed: %w", err)
	}
	return nil
}
