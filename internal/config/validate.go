package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ecosim/perps-engine/internal/asset"
	"github.com/ecosim/perps-engine/internal/quest"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be positive, got %s", c.TickInterval)
	}
	if c.HistoryCapacity < 1 {
		return fmt.Errorf("HISTORY_CAPACITY must be >= 1, got %d", c.HistoryCapacity)
	}
	if c.HistorySeedPoints < 0 || c.HistorySeedPoints > c.HistoryCapacity {
		return fmt.Errorf("HISTORY_SEED_POINTS must be between 0 and %d, got %d", c.HistoryCapacity, c.HistorySeedPoints)
	}
	if c.InitialBalance.IsNegative() {
		return fmt.Errorf("INITIAL_BALANCE must be >= 0, got %s", c.InitialBalance)
	}
	if !c.LiquidationThreshold.IsNegative() {
		return fmt.Errorf("LIQUIDATION_THRESHOLD must be negative, got %s", c.LiquidationThreshold)
	}
	if c.MaxCollateral.IsNegative() {
		return fmt.Errorf("MAX_COLLATERAL must be >= 0, got %s", c.MaxCollateral)
	}
	if c.GroundSize <= 0 {
		return fmt.Errorf("GROUND_SIZE must be positive, got %g", c.GroundSize)
	}
	if c.RedisURL != "" && c.DatabaseURL == "" {
		return errors.New("REDIS_URL requires DATABASE_URL")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.LogLevel)
	}
	return nil
}

// Validate checks asset parameters and the quest board.
func (c *Catalog) Validate() error {
	if _, err := asset.NewCatalog(c.Assets); err != nil {
		return err
	}
	return quest.Validate(c.Quests)
}
