package config

import (
	"fmt"
	"time"
)

// StorageConfig selects the optional decision journal backend.
type StorageConfig struct {
	Enabled    bool           `mapstructure:"enabled"`
	Driver     string         `mapstructure:"driver"` // "postgres" or "sqlite"
	SQLitePath string         `mapstructure:"sqlite_path"`
	Postgres   PostgresConfig `mapstructure:"postgres"`

	// Buckets older than this are pruned from the journal. Zero keeps everything.
	Retention time.Duration `mapstructure:"retention"`
}

// PostgresConfig defines the configuration for connecting to a PostgreSQL database.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	TimeZone string `mapstructure:"timezone"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`

	// Parameter Store names consulted in prod for host, user and password.
	HostParameter     string `mapstructure:"host_parameter"`
	UserParameter     string `mapstructure:"user_parameter"`
	PasswordParameter string `mapstructure:"password_parameter"`
}

// DSN builds the connection string. In prod the host and credentials come
// from Parameter Store when the corresponding parameter names are set.
func (cfg *PostgresConfig) DSN(env string) string {
	host, user, password := cfg.Host, cfg.User, cfg.Password
	if env == "prod" {
		host = parameterOr(cfg.HostParameter, host)
		user = parameterOr(cfg.UserParameter, user)
		password = parameterOr(cfg.PasswordParameter, password)
	}
	return cfg.dsn(host, user, password, cfg.DBName)
}

// AdminDSN points at the server's maintenance database, used to create DBName.
func (cfg *PostgresConfig) AdminDSN() string {
	return cfg.dsn(cfg.Host, cfg.User, cfg.Password, "postgres")
}

func (cfg *PostgresConfig) dsn(host, user, password, dbName string) string {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, cfg.Port, user, password, dbName, cfg.SSLMode,
	)

	if cfg.TimeZone != "" {
		dsn += fmt.Sprintf(" TimeZone=%s", cfg.TimeZone)
	}

	return dsn
}

func parameterOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	if v := getParameterStoreValue(name, true); v != "" {
		return v
	}
	return fallback
}
