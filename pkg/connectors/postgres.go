// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package connectors

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/relayvoice/pkg/commons"
	"github.com/relayvoice/pkg/configs"
)

// PostgresConnector hands out gorm handles bound to a request context.
type PostgresConnector interface {
	DB(ctx context.Context) *gorm.DB
	Close() error
}

type postgresConnector struct {
	db     *gorm.DB
	logger commons.Logger
}

// NewPostgresConnector opens the connection pool described by cfg.
func NewPostgresConnector(cfg configs.PostgresConfig, logger commons.Logger) (PostgresConnector, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access underlying sql.DB: %w", err)
	}
	if cfg.MaxOpenConnection > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConnection)
	}
	if cfg.MaxIdealConnection > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdealConnection)
	}

	logger.Infof("connected to postgres: host=%s db=%s", cfg.Host, cfg.DbName)
	return &postgresConnector{db: db, logger: logger}, nil
}

// NewGormConnector wraps an already-open gorm handle. Used by tests to run
// the store against sqlite.
func NewGormConnector(db *gorm.DB, logger commons.Logger) PostgresConnector {
	return &postgresConnector{db: db, logger: logger}
}

func (c *postgresConnector) DB(ctx context.Context) *gorm.DB {
	return c.db.WithContext(ctx)
}

func (c *postgresConnector) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
