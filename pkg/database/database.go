package database

import (
	"fmt"
	"log/slog"
	"sync"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	db     *gorm.DB
	models []interface{}
	mu     sync.Mutex
)

// Open 根据驱动名打开数据库连接
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	slog.Info("Database connected", "driver", driver)
	return conn, nil
}

// SetDatabase 设置全局数据库连接
func SetDatabase(conn *gorm.DB) {
	mu.Lock()
	defer mu.Unlock()
	db = conn
}

// Database 获取全局数据库连接
func Database() *gorm.DB {
	mu.Lock()
	defer mu.Unlock()
	if db == nil {
		panic("database not initialized")
	}
	return db
}

// RegisterAutoMigrateModels 注册需要自动迁移的模型，在各模型的 init 中调用
func RegisterAutoMigrateModels(m ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	models = append(models, m...)
}

// Migrate 对所有已注册的模型执行 AutoMigrate
func Migrate(conn *gorm.DB) error {
	mu.Lock()
	registered := append([]interface{}(nil), models...)
	mu.Unlock()

	if err := conn.AutoMigrate(registered...); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	slog.Info("Database migrated", "models", len(registered))
	return nil
}
