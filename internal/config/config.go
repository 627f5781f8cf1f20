// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/aristath/frontier/internal/modules/optimization"
	"github.com/aristath/frontier/internal/utils"
)

const dateLayout = "2006-01-02"

// Config holds application configuration
type Config struct {
	DataDir       string // Base directory for databases (always absolute)
	HistoryDBPath string // SQLite price history, defaults to DataDir/history.db
	LogLevel      string
	Port          int
	DevMode       bool
	Optimizer     OptimizerConfig
}

// OptimizerConfig holds pipeline defaults and the scheduled run
type OptimizerConfig struct {
	RiskFreeRate    float64
	TradingDays     int
	WeightCutoff    float64
	WeightPrecision int
	WeightLower     float64
	WeightUpper     float64
	ReturnsMethod   string
	RiskModel       string
	Budget          float64
	Symbols         []string  // Universe for scheduled runs; empty disables the job
	Start           time.Time // First date of history for scheduled runs; zero means all
	Schedule        string    // Cron expression with seconds
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("FRONTIER_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:       absDataDir,
		HistoryDBPath: getEnv("HISTORY_DB_PATH", filepath.Join(absDataDir, "history.db")),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		Port:          getEnvAsInt("PORT", 8001),
		DevMode:       getEnvAsBool("DEV_MODE", false),
		Optimizer: OptimizerConfig{
			RiskFreeRate:    getEnvAsFloat("RISK_FREE_RATE", optimization.DefaultRiskFreeRate),
			TradingDays:     getEnvAsInt("TRADING_DAYS_PER_YEAR", optimization.DefaultTradingPeriodsPerYear),
			WeightCutoff:    getEnvAsFloat("WEIGHT_CUTOFF", optimization.DefaultWeightCutoff),
			WeightPrecision: getEnvAsInt("WEIGHT_PRECISION", optimization.DefaultWeightPrecision),
			WeightLower:     getEnvAsFloat("WEIGHT_LOWER", 0),
			WeightUpper:     getEnvAsFloat("WEIGHT_UPPER", 1),
			ReturnsMethod:   getEnv("RETURNS_METHOD", string(optimization.MeanHistorical)),
			RiskModel:       getEnv("RISK_MODEL", string(optimization.SampleCovariance)),
			Budget:          getEnvAsFloat("DEFAULT_BUDGET", optimization.DefaultBudget),
			Symbols:         utils.ParseSymbols(getEnv("OPTIMIZER_SYMBOLS", "")),
			Schedule:        getEnv("OPTIMIZER_SCHEDULE", "0 0 22 * * 1-5"), // Weekdays after the close
		},
	}

	if start := getEnv("OPTIMIZER_START", ""); start != "" {
		t, err := time.Parse(dateLayout, start)
		if err != nil {
			return nil, fmt.Errorf("invalid OPTIMIZER_START %q: %w", start, err)
		}
		cfg.Optimizer.Start = t
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects inconsistent configuration
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}

	o := c.Optimizer
	if math.IsNaN(o.RiskFreeRate) || math.IsInf(o.RiskFreeRate, 0) {
		return fmt.Errorf("RISK_FREE_RATE must be finite")
	}
	if o.TradingDays <= 0 {
		return fmt.Errorf("TRADING_DAYS_PER_YEAR must be positive, got %d", o.TradingDays)
	}
	if o.WeightCutoff < 0 || o.WeightCutoff >= 1 {
		return fmt.Errorf("WEIGHT_CUTOFF must be in [0, 1), got %g", o.WeightCutoff)
	}
	if o.WeightPrecision < 0 {
		return fmt.Errorf("WEIGHT_PRECISION must not be negative, got %d", o.WeightPrecision)
	}
	if o.WeightLower > o.WeightUpper {
		return fmt.Errorf("WEIGHT_LOWER %g exceeds WEIGHT_UPPER %g", o.WeightLower, o.WeightUpper)
	}
	if o.Budget < 0 || math.IsNaN(o.Budget) || math.IsInf(o.Budget, 0) {
		return fmt.Errorf("DEFAULT_BUDGET must be a non-negative number, got %g", o.Budget)
	}
	if _, err := optimization.ParseReturnsMethod(o.ReturnsMethod); err != nil {
		return fmt.Errorf("RETURNS_METHOD: %w", err)
	}
	if _, err := optimization.ParseRiskModel(o.RiskModel); err != nil {
		return fmt.Errorf("RISK_MODEL: %w", err)
	}
	if len(o.Symbols) > 0 {
		if len(o.Symbols) < 2 {
			return fmt.Errorf("OPTIMIZER_SYMBOLS needs at least 2 symbols, got %d", len(o.Symbols))
		}
		parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		if _, err := parser.Parse(o.Schedule); err != nil {
			return fmt.Errorf("invalid OPTIMIZER_SCHEDULE %q: %w", o.Schedule, err)
		}
	}

	return nil
}

// OptimizerSettings converts the configuration into pipeline defaults
func (c *Config) OptimizerSettings() optimization.Settings {
	o := c.Optimizer
	settings := optimization.DefaultSettings()
	settings.RiskFreeRate = o.RiskFreeRate
	settings.PeriodsPerYear = o.TradingDays
	settings.WeightCutoff = o.WeightCutoff
	settings.WeightPrecision = o.WeightPrecision
	settings.Bounds = optimization.Bounds{Lower: o.WeightLower, Upper: o.WeightUpper}
	settings.Budget = o.Budget
	if method, err := optimization.ParseReturnsMethod(o.ReturnsMethod); err == nil {
		settings.ReturnsMethod = method
	}
	if model, err := optimization.ParseRiskModel(o.RiskModel); err == nil {
		settings.RiskModel = model
	}
	return settings
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
