package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the trading client.
type Config struct {
	Port string

	// Binance Futures (USDT-M)
	BinanceTestnet   bool
	BinanceAPIKey    string
	BinanceAPISecret string
	Symbols          []string

	// Market data
	UseMockFeed bool

	// Execution
	DryRun bool

	// Reconciliation
	PollInterval    time.Duration
	ReconcileOnBoot bool

	// Audit database
	DBPath string

	// Trading parameters file (YAML); empty means built-in defaults.
	ParamsPath string

	// Auth
	JWTSecret string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:             getEnv("PORT", "8080"),
		BinanceTestnet:   getEnv("BINANCE_TESTNET", "false") == "true",
		BinanceAPIKey:    os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret: os.Getenv("BINANCE_API_SECRET"),
		Symbols:          splitAndTrim(getEnv("SYMBOLS", "BTCUSDT")),
		UseMockFeed:      getEnv("USE_MOCK_FEED", "false") == "true",
		DryRun:           getEnv("DRY_RUN", "false") == "true",
		PollInterval:     getEnvDuration("POLL_INTERVAL", 20*time.Second),
		ReconcileOnBoot:  getEnv("RECONCILE_ON_BOOT", "true") == "true",
		DBPath:           getEnv("DB_PATH", "./data/fadebot.db"),
		ParamsPath:       getEnv("PARAMS_PATH", ""),
		JWTSecret:        getEnv("JWT_SECRET", "dev-secret"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
