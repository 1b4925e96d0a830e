package postgres

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"valrtrader/config"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Client is the journal of tracked buckets and trading decisions. It is
// write-mostly: nothing in the trader reads it back into memory.
type Client struct {
	DB *gorm.DB
}

func open(dialector gorm.Dialector) (*Client, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	return &Client{DB: db}, nil
}

func NewClient(dsn string) (*Client, error) {
	c, err := open(postgres.Open(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return c, nil
}

// NewSQLiteClient opens (creating if needed) a sqlite database file.
func NewSQLiteClient(path string) (*Client, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
	}
	c, err := open(sqlite.Open(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	return c, nil
}

// Initialize connects to the configured backend and migrates the journal
// tables. For postgres the database is created first if it does not exist.
func Initialize(cfg config.StorageConfig, env string) (*Client, error) {
	var (
		client *Client
		err    error
	)
	switch cfg.Driver {
	case "sqlite":
		client, err = NewSQLiteClient(cfg.SQLitePath)
	case "postgres":
		if err := CreateDatabase(cfg.Postgres); err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
		client, err = NewClient(cfg.Postgres.DSN(env))
		if err == nil {
			err = client.configurePool(cfg.Postgres)
		}
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	if err := client.AutoMigrate(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return client, nil
}

func (c *Client) configurePool(cfg config.PostgresConfig) error {
	db, err := c.DB.DB()
	if err != nil {
		return err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return nil
}

func (c *Client) AutoMigrate() error {
	if err := c.DB.AutoMigrate(&BucketRecord{}, &SignalRecord{}); err != nil {
		return fmt.Errorf("auto-migrate journal tables: %w", err)
	}
	return nil
}

func (c *Client) IsHealthy(ctx context.Context) bool {
	db, err := c.DB.DB()
	if err != nil {
		return false
	}
	return db.PingContext(ctx) == nil
}

func (c *Client) Close() error {
	db, err := c.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to retrieve raw DB: %w", err)
	}
	return db.Close()
}
