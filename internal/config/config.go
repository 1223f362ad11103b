package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Port                     string `mapstructure:"PORT"`
	Env                      string `mapstructure:"ENV"`
	LogLevel                 string `mapstructure:"LOG_LEVEL"`
	AllowedOrigin            string `mapstructure:"ALLOWED_ORIGIN"`
	StoreDriver              string `mapstructure:"STORE_DRIVER"`
	DatabaseURL              string `mapstructure:"DATABASE_URL"`
	SQLitePath               string `mapstructure:"SQLITE_PATH"`
	AutoMigrate              bool   `mapstructure:"AUTO_MIGRATE"`
	RedisAddr                string `mapstructure:"REDIS_ADDR"`
	RedisPassword            string `mapstructure:"REDIS_PASSWORD"`
	RedisDB                  int    `mapstructure:"REDIS_DB"`
	InventoryCacheTTLSeconds int    `mapstructure:"INVENTORY_CACHE_TTL_SECONDS"`
	StoreTimeoutSeconds      int    `mapstructure:"STORE_TIMEOUT_SECONDS"`
	ExpiryWarningDays        int    `mapstructure:"EXPIRY_WARNING_DAYS"`
	AuthSecret               string `mapstructure:"AUTH_SECRET"`
	AccessTokenTTLMinutes    int    `mapstructure:"ACCESS_TOKEN_TTL_MINUTES"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "ALLOWED_ORIGIN", "STORE_DRIVER", "DATABASE_URL",
	"SQLITE_PATH", "AUTO_MIGRATE", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
	"INVENTORY_CACHE_TTL_SECONDS", "STORE_TIMEOUT_SECONDS", "EXPIRY_WARNING_DAYS",
	"AUTH_SECRET", "ACCESS_TOKEN_TTL_MINUTES",
}

// Load reads .env when present, then the environment. AUTH_SECRET gets no
// default; the server refuses to start without one.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("SQLITE_PATH", "medstock.db")
	v.SetDefault("AUTO_MIGRATE", false)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("INVENTORY_CACHE_TTL_SECONDS", 60)
	v.SetDefault("STORE_TIMEOUT_SECONDS", 5)
	v.SetDefault("EXPIRY_WARNING_DAYS", 30)
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)

	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	// .env is optional.
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = DriverMemory
		if strings.TrimSpace(cfg.DatabaseURL) != "" {
			cfg.StoreDriver = DriverPostgres
		}
	}

	switch cfg.StoreDriver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return Config{}, fmt.Errorf("DATABASE_URL is required for STORE_DRIVER=postgres")
		}
	default:
		return Config{}, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	if cfg.InventoryCacheTTLSeconds < 1 {
		cfg.InventoryCacheTTLSeconds = 60
	}
	if cfg.StoreTimeoutSeconds < 1 {
		cfg.StoreTimeoutSeconds = 5
	}
	if cfg.ExpiryWarningDays < 1 {
		cfg.ExpiryWarningDays = 30
	}
	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}

	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsDev() bool {
	return c.Env == "development"
}

func (c Config) InventoryCacheTTL() time.Duration {
	return time.Duration(c.InventoryCacheTTLSeconds) * time.Second
}

func (c Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutSeconds) * time.Second
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}
