package database

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kagari-lab/viewerqueue/config"
)

// InitDB 按配置选择驱动并建立连接。sqlite 时自动创建数据目录。
func InitDB(cfg *config.Config) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}

	switch cfg.Database.Driver {
	case "sqlite":
		if dir := filepath.Dir(cfg.Database.DSN); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		return gorm.Open(sqlite.Open(cfg.Database.DSN), gcfg)
	case "postgres":
		return gorm.Open(postgres.Open(cfg.Database.DSN), gcfg)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
}

// Close 释放底层连接池。
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
