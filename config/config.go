package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Valr     ValrConfig     `mapstructure:"valr"`
	Market   MarketConfig   `mapstructure:"market"`
	Strategy StrategyConfig `mapstructure:"strategy"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Storage  StorageConfig  `mapstructure:"storage"`
}

type ValrConfig struct {
	REST RESTConfig `mapstructure:"rest"`
	WS   WSConfig   `mapstructure:"ws"`
	Auth AuthConfig `mapstructure:"auth"`
}

type RESTConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type WSConfig struct {
	BaseURL              string          `mapstructure:"base_url"`
	TradePath            string          `mapstructure:"trade_path"`
	AccountPath          string          `mapstructure:"account_path"`
	HandshakeTimeout     time.Duration   `mapstructure:"handshake_timeout"`
	HeartbeatInterval    time.Duration   `mapstructure:"heartbeat_interval"`
	MaxHeartbeatFailures int             `mapstructure:"max_heartbeat_failures"`
	Reconnect            ReconnectConfig `mapstructure:"reconnect"`
}

// ReconnectConfig controls the per-session supervisor. A session itself never
// reconnects; the supervisor replaces a failed session with a fresh one.
type ReconnectConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	MinDelay time.Duration `mapstructure:"min_delay"`
	MaxDelay time.Duration `mapstructure:"max_delay"`
}

type AuthConfig struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`

	// Parameter Store names used when environment is "prod" and the
	// credentials above are empty.
	APIKeyParameter    string `mapstructure:"api_key_parameter"`
	APISecretParameter string `mapstructure:"api_secret_parameter"`
}

type MarketConfig struct {
	Pair                  string        `mapstructure:"pair"`
	BaseCurrency          string        `mapstructure:"base_currency"`
	QuoteCurrency         string        `mapstructure:"quote_currency"`
	TrackedPeriodSeconds  int           `mapstructure:"tracked_period_seconds"`
	BackfillPeriodSeconds int           `mapstructure:"backfill_period_seconds"`
	BackfillLookback      time.Duration `mapstructure:"backfill_lookback"`
	LoadOpenOrders        bool          `mapstructure:"load_open_orders"`
}

type StrategyConfig struct {
	Name       string `mapstructure:"name"`
	HalfWidth  int    `mapstructure:"half_width"`
	MaxBuckets int    `mapstructure:"max_buckets"`
}

// LogConfig configures the zap logger and its optional rotated file.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`

	// How often the trader logs store counts. Zero disables the report.
	StatsInterval time.Duration `mapstructure:"stats_interval"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load loads application configuration using Viper.
// A .env file in the working directory is applied to the process environment
// first, then config.yaml is read and overridden by environment variables
// (e.g. VALR_AUTH_API_KEY).
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")

	if dir := os.Getenv("VALRTRADER_CONFIG_DIR"); dir != "" {
		v.AddConfigPath(dir)
	}
	ex, _ := os.Executable()
	if strings.Contains(ex, "go-build") {
		pwd, _ := os.Getwd()
		v.AddConfigPath(filepath.Join(pwd, "../../config"))
	} else {
		v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
	}
	v.AddConfigPath("config")

	return load(v)
}

// LoadFile reads configuration from an explicit file path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	// Support environment variables with dot notation (e.g., VALR_WS_BASE_URL)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only sees keys viper already knows about.
	for _, key := range []string{"valr.auth.api_key", "valr.auth.api_secret"} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, &ConfigError{Field: "file", Err: fmt.Errorf("read config: %w", err)}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigError{Field: "file", Err: fmt.Errorf("unmarshal config: %w", err)}
	}

	if cfg.Log.Environment == "prod" {
		resolveAuthFromParameterStore(&cfg.Valr.Auth)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("valr.rest.base_url", "https://api.valr.com")
	v.SetDefault("valr.rest.timeout", 10*time.Second)

	v.SetDefault("valr.ws.base_url", "wss://api.valr.com")
	v.SetDefault("valr.ws.trade_path", "/ws/trade")
	v.SetDefault("valr.ws.account_path", "/ws/account")
	v.SetDefault("valr.ws.handshake_timeout", 10*time.Second)
	v.SetDefault("valr.ws.heartbeat_interval", 10*time.Second)
	v.SetDefault("valr.ws.max_heartbeat_failures", 3)
	v.SetDefault("valr.ws.reconnect.enabled", true)
	v.SetDefault("valr.ws.reconnect.min_delay", time.Second)
	v.SetDefault("valr.ws.reconnect.max_delay", time.Minute)

	v.SetDefault("market.tracked_period_seconds", 60)
	v.SetDefault("market.backfill_period_seconds", 300)
	v.SetDefault("market.backfill_lookback", time.Hour)

	v.SetDefault("strategy.name", "break_of_structure")
	v.SetDefault("strategy.half_width", 3)
	v.SetDefault("strategy.max_buckets", 1440)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.environment", "dev")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("log.stats_interval", 30*time.Second)

	v.SetDefault("metrics.addr", ":9102")

	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("storage.sqlite_path", "data/valrtrader.db")
	v.SetDefault("storage.postgres.port", 5432)
	v.SetDefault("storage.postgres.sslmode", "disable")
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	switch {
	case c.Valr.Auth.APIKey == "":
		return &ConfigError{Field: "valr.auth.api_key", Err: ErrMissing}
	case c.Valr.Auth.APISecret == "":
		return &ConfigError{Field: "valr.auth.api_secret", Err: ErrMissing}
	case c.Market.Pair == "":
		return &ConfigError{Field: "market.pair", Err: ErrMissing}
	case c.Valr.REST.BaseURL == "":
		return &ConfigError{Field: "valr.rest.base_url", Err: ErrMissing}
	case c.Valr.WS.BaseURL == "":
		return &ConfigError{Field: "valr.ws.base_url", Err: ErrMissing}
	case c.Valr.WS.HeartbeatInterval <= 0:
		return &ConfigError{Field: "valr.ws.heartbeat_interval", Err: ErrInvalid}
	case c.Strategy.HalfWidth < 1:
		return &ConfigError{Field: "strategy.half_width", Err: ErrInvalid}
	case c.Market.TrackedPeriodSeconds <= 0:
		return &ConfigError{Field: "market.tracked_period_seconds", Err: ErrInvalid}
	case c.Market.BackfillPeriodSeconds <= 0:
		return &ConfigError{Field: "market.backfill_period_seconds", Err: ErrInvalid}
	}
	if c.Storage.Enabled && c.Storage.Driver != "postgres" && c.Storage.Driver != "sqlite" {
		return &ConfigError{Field: "storage.driver", Err: fmt.Errorf("%w: %q", ErrInvalid, c.Storage.Driver)}
	}
	return nil
}

// ConfigError is a missing or invalid setting. It is always fatal at startup.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	ErrMissing = errors.New("required setting missing")
	ErrInvalid = errors.New("invalid setting")
)
