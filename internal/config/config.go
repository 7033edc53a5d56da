package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"github.com/ecosim/perps-engine/internal/asset"
	"github.com/ecosim/perps-engine/internal/quest"
	"github.com/ecosim/perps-engine/internal/sim"
)

// DefaultEnvFile is loaded, when present, before the environment is read.
const DefaultEnvFile = ".env"

// Config is the process configuration of the simulation service.
type Config struct {
	Port        string        `envconfig:"PORT" default:"8080"`
	DatabaseURL string        `envconfig:"DATABASE_URL"`
	RedisURL    string        `envconfig:"REDIS_URL"`
	RedisTTL    time.Duration `envconfig:"REDIS_TTL" default:"30s"`

	TickInterval         time.Duration   `envconfig:"TICK_INTERVAL" default:"2s"`
	HistoryCapacity      int             `envconfig:"HISTORY_CAPACITY" default:"50"`
	HistorySeedPoints    int             `envconfig:"HISTORY_SEED_POINTS" default:"20"`
	InitialBalance       decimal.Decimal `envconfig:"INITIAL_BALANCE" default:"10000"`
	LiquidationThreshold decimal.Decimal `envconfig:"LIQUIDATION_THRESHOLD" default:"-80"`
	MaxCollateral        decimal.Decimal `envconfig:"MAX_COLLATERAL" default:"0"`
	GroundSize           float64         `envconfig:"GROUND_SIZE" default:"30"`
	Seed                 int64           `envconfig:"SEED" default:"0"` // 0: seeded from the clock
	CatalogFile          string          `envconfig:"CATALOG_FILE"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads envFile if it exists, then the environment, and validates.
// An empty envFile skips the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Engine builds the engine configuration, reading CatalogFile when set.
func (c *Config) Engine() (sim.Config, error) {
	ec := sim.DefaultConfig()
	ec.InitialBalance = c.InitialBalance
	ec.TickInterval = c.TickInterval
	ec.HistoryCapacity = c.HistoryCapacity
	ec.HistorySeedPoints = c.HistorySeedPoints
	ec.LiquidationThreshold = c.LiquidationThreshold
	ec.MaxCollateral = c.MaxCollateral
	ec.GroundSize = c.GroundSize

	if c.CatalogFile == "" {
		return ec, nil
	}
	cat, err := LoadCatalogAndValidate(c.CatalogFile)
	if err != nil {
		return sim.Config{}, err
	}
	assets, err := asset.NewCatalog(cat.Assets)
	if err != nil {
		return sim.Config{}, err
	}
	ec.Assets = assets
	ec.Quests = quest.Reset(cat.Quests)
	return ec, nil
}
