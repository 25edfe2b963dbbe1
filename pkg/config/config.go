package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the execution engine.
type Config struct {
	Port string

	// Terminal bridge
	BridgeURL   string
	UseMockFeed bool
	DryRun      bool

	// Mock feed
	MockSymbols []string
	MockSeed    int64

	// Account
	AccountRefreshSec    int
	DryRunInitialBalance float64

	// Strategies
	StrategyFile string

	// Command queue
	QueueCapacity int

	// Risk
	MaxDailyLoss        float64
	MaxDailyLossPercent float64
	MaxDrawdownPercent  float64
	MaxPositions        int
	MaxLotSize          float64
	MaxTotalExposure    float64
	MaxCorrelation      float64
	EventBlackoutHard   bool
	CalendarFeedURL     string

	// Emergency triggers
	EmergencyDailyLoss   float64
	EmergencyDrawdown    float64
	EmergencyLossStreak  int
	EmergencyCycleErrors int

	// Database
	DBPath string

	// Auth
	JWTSecret     string
	AdminUser     string
	AdminPassHash string // bcrypt hash; empty disables login
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:                 getEnv("PORT", "8090"),
		BridgeURL:            getEnv("BRIDGE_URL", "ws://localhost:9001/bridge"),
		UseMockFeed:          getEnv("USE_MOCK_FEED", "true") == "true",
		DryRun:               getEnv("DRY_RUN", "false") == "true",
		MockSymbols:          splitAndTrim(getEnv("MOCK_SYMBOLS", "EURUSD,GBPUSD")),
		MockSeed:             int64(getEnvInt("MOCK_SEED", 1)),
		AccountRefreshSec:    getEnvInt("ACCOUNT_REFRESH_SEC", 5),
		DryRunInitialBalance: getEnvFloat("DRY_RUN_INITIAL_BALANCE", 10000.0),
		StrategyFile:         getEnv("STRATEGY_FILE", ""),
		QueueCapacity:        getEnvInt("QUEUE_CAPACITY", 256),
		MaxDailyLoss:         getEnvFloat("MAX_DAILY_LOSS", 500),
		MaxDailyLossPercent:  getEnvFloat("MAX_DAILY_LOSS_PERCENT", 0.05),
		MaxDrawdownPercent:   getEnvFloat("MAX_DRAWDOWN_PERCENT", 0.20),
		MaxPositions:         getEnvInt("MAX_POSITIONS", 5),
		MaxLotSize:           getEnvFloat("MAX_LOT_SIZE", 1.0),
		MaxTotalExposure:     getEnvFloat("MAX_TOTAL_EXPOSURE", 1000000),
		MaxCorrelation:       getEnvFloat("MAX_CORRELATION", 0.85),
		EventBlackoutHard:    getEnv("EVENT_BLACKOUT_HARD", "false") == "true",
		CalendarFeedURL:      getEnv("CALENDAR_FEED_URL", ""),
		EmergencyDailyLoss:   getEnvFloat("EMERGENCY_DAILY_LOSS", 1000),
		EmergencyDrawdown:    getEnvFloat("EMERGENCY_DRAWDOWN", 0.25),
		EmergencyLossStreak:  getEnvInt("EMERGENCY_LOSS_STREAK", 5),
		EmergencyCycleErrors: getEnvInt("EMERGENCY_CYCLE_ERRORS", 30),
		DBPath:               getEnv("DB_PATH", "./data/executor.db"),
		JWTSecret:            getEnv("JWT_SECRET", "dev-secret"),
		AdminUser:            getEnv("ADMIN_USER", "admin"),
		AdminPassHash:        os.Getenv("ADMIN_PASS_HASH"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
