// Package database 负责初始化关系型数据库与 Redis 连接。
package database

import (
	"fmt"
	"line-smart-go/internal/config"
	"line-smart-go/pkg/log"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// dialector 根据驱动名选择 GORM 方言。
func dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "mysql":
		return mysql.Open(dsn), nil
	case "postgres":
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
}

// OpenSQL 建立 SQL 连接并配置连接池。
// 与启动期的其他依赖不同，持久化是可选的，因此这里返回错误而不是直接退出。
func OpenSQL(cfg config.SQLConfig) (*gorm.DB, error) {
	d, err := dialector(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(d, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	// 配置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(positiveOr(cfg.MaxIdleConns, 10))
	sqlDB.SetMaxOpenConns(positiveOr(cfg.MaxOpenConns, 100))
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Infof("%s database connected successfully", cfg.Driver)
	return db, nil
}

// InitSQL 初始化全局 DB，失败时保持 DB 为 nil。
func InitSQL(cfg config.SQLConfig) error {
	db, err := OpenSQL(cfg)
	if err != nil {
		return err
	}
	DB = db
	return nil
}

func positiveOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
