/*
config.go - Process configuration

PURPOSE:
  One Config for cmd/server and cmd/ledgerctl, loaded with viper from
  defaults, an optional ledger.yaml and LEDGER_* environment variables
  (in increasing precedence).

KEYS:
  PORT                            HTTP port (8080)
  DB_DRIVER                       sqlite | postgres (sqlite)
  DB_PATH                         sqlite file, ":memory:" allowed (ledger.db)
  POSTGRES_DSN                    used when DB_DRIVER=postgres
  LOG_LEVEL                       debug | info | warn | error (info)
  NATS_URL                        empty disables event publishing
  FX_CACHE_TTL                    FX rate cache lifetime (1h)
  PLATFORM_COLLECTIVE_ID          collective receiving tips and host fee shares (8686)
  DEFAULT_HOST_FEE_PERCENT        platform default (0)
  DEFAULT_HOST_FEE_SHARE_PERCENT  platform default (15)

EXAMPLE:
  LEDGER_DB_DRIVER=postgres LEDGER_POSTGRES_DSN=postgres://... ./server
*/
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/warp/ledger-engine/fees"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Port                       int           `mapstructure:"PORT"`
	DBDriver                   string        `mapstructure:"DB_DRIVER"`
	DBPath                     string        `mapstructure:"DB_PATH"`
	PostgresDSN                string        `mapstructure:"POSTGRES_DSN"`
	LogLevel                   string        `mapstructure:"LOG_LEVEL"`
	NATSURL                    string        `mapstructure:"NATS_URL"`
	FXCacheTTL                 time.Duration `mapstructure:"FX_CACHE_TTL"`
	PlatformCollectiveID       int64         `mapstructure:"PLATFORM_COLLECTIVE_ID"`
	DefaultHostFeePercent      float64       `mapstructure:"DEFAULT_HOST_FEE_PERCENT"`
	DefaultHostFeeSharePercent float64       `mapstructure:"DEFAULT_HOST_FEE_SHARE_PERCENT"`
}

var keys = []string{
	"PORT", "DB_DRIVER", "DB_PATH", "POSTGRES_DSN", "LOG_LEVEL", "NATS_URL",
	"FX_CACHE_TTL", "PLATFORM_COLLECTIVE_ID",
	"DEFAULT_HOST_FEE_PERCENT", "DEFAULT_HOST_FEE_SHARE_PERCENT",
}

// Load reads configuration. path names a YAML file; empty looks for
// ledger.yaml in the working directory and ./configs, and a missing file is
// not an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("PORT", 8080)
	v.SetDefault("DB_DRIVER", DriverSQLite)
	v.SetDefault("DB_PATH", "ledger.db")
	v.SetDefault("POSTGRES_DSN", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("NATS_URL", "")
	v.SetDefault("FX_CACHE_TTL", time.Hour)
	v.SetDefault("PLATFORM_COLLECTIVE_ID", 8686)
	v.SetDefault("DEFAULT_HOST_FEE_PERCENT", 0)
	v.SetDefault("DEFAULT_HOST_FEE_SHARE_PERCENT", 15)

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only covers keys viper already knows when unmarshalling.
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("bind %s: %w", k, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("ledger")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.DBDriver = strings.ToLower(cfg.DBDriver)
	return &cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			return errors.New("DB_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.PostgresDSN == "" {
			return errors.New("POSTGRES_DSN is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown DB_DRIVER %q (want %s or %s)", c.DBDriver, DriverSQLite, DriverPostgres)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.DefaultHostFeePercent < 0 || c.DefaultHostFeePercent > 100 {
		return fmt.Errorf("DEFAULT_HOST_FEE_PERCENT %v out of range", c.DefaultHostFeePercent)
	}
	if c.DefaultHostFeeSharePercent < 0 || c.DefaultHostFeeSharePercent > 100 {
		return fmt.Errorf("DEFAULT_HOST_FEE_SHARE_PERCENT %v out of range", c.DefaultHostFeeSharePercent)
	}
	return nil
}

// FeeDefaults are the platform-wide fallbacks of the fee resolver.
func (c *Config) FeeDefaults() fees.Defaults {
	return fees.Defaults{
		HostFeePercent:      decimal.NewFromFloat(c.DefaultHostFeePercent),
		HostFeeSharePercent: decimal.NewFromFloat(c.DefaultHostFeeSharePercent),
	}
}
