// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Allocation policies selectable via ROTOR_POLICY.
const (
	PolicyMinimumVariance = "min_variance"
	PolicySharpe          = "sharpe"
	PolicyRiskTolerance   = "risk_tolerance"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for the local history database and backtest output
	LogLevel string
	Pretty   bool
	Port     int

	// Strategy parameters
	StartingCash   float64
	PeriodsPerYear float64
	Policy         string  // min_variance, sharpe, risk_tolerance
	RiskAversion   float64 // gamma for the risk_tolerance policy
	Trials         int     // Monte Carlo samples for the sharpe policy
	Seed           int64
	Period         int
	Smoothing      int
	ChangeLag      int

	// Universe selection
	Benchmark        string
	VolatilityIndex  string
	VolatilityCutoff float64
	LowVolQuadrants  []int // quadrants kept when the vol index is below the cutoff
	HighVolQuadrants []int

	// Alpaca credentials
	AlpacaKey     string
	AlpacaSecret  string
	AlpacaBaseURL string
	Watchlist     string // watchlist name on the trading account

	// Durable storage
	S3Bucket     string
	TrackerKey   string
	PositionsKey string
	TradesKey    string

	// Notifications
	SNSTopicARN string
	SMSNumber   string

	// Daemon
	CronSpec        string
	MemoryThreshold uint64 // RSS bytes above which a pass is aborted
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("ROTOR_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Pretty:   getEnvAsBool("LOG_PRETTY", false),
		Port:     getEnvAsInt("ROTOR_PORT", 8010),

		StartingCash:   getEnvAsFloat("ROTOR_STARTING_CASH", 10000),
		PeriodsPerYear: getEnvAsFloat("ROTOR_PERIODS_PER_YEAR", 252),
		Policy:         getEnv("ROTOR_POLICY", PolicyMinimumVariance),
		RiskAversion:   getEnvAsFloat("ROTOR_RISK_AVERSION", 5),
		Trials:         getEnvAsInt("ROTOR_MC_TRIALS", 10000),
		Seed:           int64(getEnvAsInt("ROTOR_MC_SEED", 1)),
		Period:         getEnvAsInt("ROTOR_PERIOD", 50),
		Smoothing:      getEnvAsInt("ROTOR_SMOOTHING", 50),
		ChangeLag:      getEnvAsInt("ROTOR_CHANGE_LAG", 10),

		Benchmark:        getEnv("ROTOR_BENCHMARK", "SPY"),
		VolatilityIndex:  getEnv("ROTOR_VOL_INDEX", "VIXY"),
		VolatilityCutoff: getEnvAsFloat("ROTOR_VOL_CUTOFF", 30),
		LowVolQuadrants:  getEnvAsIntSlice("ROTOR_LOW_VOL_QUADRANTS", []int{1, 4}),
		HighVolQuadrants: getEnvAsIntSlice("ROTOR_HIGH_VOL_QUADRANTS", []int{1}),

		AlpacaKey:     getEnv("APCA_API_KEY_ID", ""),
		AlpacaSecret:  getEnv("APCA_API_SECRET_KEY", ""),
		AlpacaBaseURL: getEnv("APCA_API_BASE_URL", "https://paper-api.alpaca.markets"),
		Watchlist:     getEnv("ROTOR_WATCHLIST", "rotation"),

		S3Bucket:     getEnv("ROTOR_S3_BUCKET", ""),
		TrackerKey:   getEnv("ROTOR_TRACKER_KEY", "tracker.csv"),
		PositionsKey: getEnv("ROTOR_POSITIONS_KEY", "positions.csv"),
		TradesKey:    getEnv("ROTOR_TRADES_KEY", "trades.csv"),

		SNSTopicARN: getEnv("ROTOR_SNS_TOPIC_ARN", ""),
		SMSNumber:   getEnv("ROTOR_SMS_NUMBER", ""),

		CronSpec:        getEnv("ROTOR_CRON", "30 15 * * MON-FRI"),
		MemoryThreshold: uint64(getEnvAsInt("ROTOR_MEMORY_THRESHOLD_MB", 512)) * 1024 * 1024,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	switch c.Policy {
	case PolicyMinimumVariance, PolicySharpe, PolicyRiskTolerance:
	default:
		return fmt.Errorf("unknown policy %q", c.Policy)
	}
	if c.Policy == PolicyRiskTolerance && c.RiskAversion == 0 {
		return fmt.Errorf("risk_tolerance policy requires a nonzero ROTOR_RISK_AVERSION")
	}
	for _, q := range append(append([]int{}, c.LowVolQuadrants...), c.HighVolQuadrants...) {
		if q < 1 || q > 4 {
			return fmt.Errorf("quadrant %d out of range 1..4", q)
		}
	}
	return nil
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

// getEnvAsIntSlice parses a comma-separated list of ints, e.g. "1,4".
func getEnvAsIntSlice(key string, defaultValue []int) []int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		intVal, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return defaultValue
		}
		out = append(out, intVal)
	}
	return out
}
