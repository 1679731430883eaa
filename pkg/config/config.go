package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"backtest-core/internal/backtest"
)

// Data source names accepted by DATA_SOURCE.
const (
	SourceBinance   = "binance"
	SourceCSV       = "csv"
	SourcePostgres  = "postgres"
	SourceSynthetic = "synthetic"
)

// Config holds environment-driven settings for the backtest service.
type Config struct {
	Port     string
	GRPCPort string

	// Database
	DBPath string

	// Price data
	DataSource     string // binance, csv, postgres, synthetic
	CSVDir         string
	PostgresDSN    string
	BinanceTestnet bool
	BinanceBaseURL string // overrides the mainnet/testnet endpoint when set
	PriceCache     bool

	// Logging
	LogLevel  string
	LogFormat string // text or json
	LogFile   string

	// Localization
	Language string // "en" or "zh"

	// Auth: an empty secret disables API authentication
	JWTSecret string

	// Result publication
	KafkaBrokers []string
	KafkaTopic   string

	// Sweeps
	SweepConcurrency int

	// Alerts on finished runs; zero disables a rule
	AlertMaxDrawdown float64
	AlertMaxLoss     float64

	// Backtest defaults
	InitialCapital float64
	CommissionRate float64
	TradeQuantity  int
	MACDFast       int
	MACDSlow       int
	MACDSignal     int
	RiskFreeRate   float64
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		GRPCPort:         getEnv("GRPC_PORT", "9090"),
		DBPath:           getEnv("DB_PATH", "./data/backtest.db"),
		DataSource:       strings.ToLower(getEnv("DATA_SOURCE", SourceBinance)),
		CSVDir:           getEnv("CSV_DIR", "./data/csv"),
		PostgresDSN:      os.Getenv("POSTGRES_DSN"),
		BinanceTestnet:   getEnv("BINANCE_TESTNET", "false") == "true",
		BinanceBaseURL:   os.Getenv("BINANCE_BASE_URL"),
		PriceCache:       getEnv("PRICE_CACHE", "true") == "true",
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(getEnv("LOG_FORMAT", "text")),
		LogFile:          os.Getenv("LOG_FILE"),
		Language:         getEnv("LANGUAGE", "en"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		KafkaBrokers:     splitAndTrim(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:       getEnv("KAFKA_TOPIC", "backtest.results"),
		SweepConcurrency: getEnvInt("SWEEP_CONCURRENCY", 4),
		AlertMaxDrawdown: getEnvFloat("ALERT_MAX_DRAWDOWN", 0.3),
		AlertMaxLoss:     getEnvFloat("ALERT_MAX_LOSS", 0.2),
		InitialCapital:   getEnvFloat("INITIAL_CAPITAL", 100000),
		CommissionRate:   getEnvFloat("COMMISSION_RATE", 0.001),
		TradeQuantity:    getEnvInt("TRADE_QUANTITY", 100),
		MACDFast:         getEnvInt("MACD_FAST", 12),
		MACDSlow:         getEnvInt("MACD_SLOW", 26),
		MACDSignal:       getEnvInt("MACD_SIGNAL", 9),
		RiskFreeRate:     getEnvFloat("RISK_FREE_RATE", 0.02),
	}

	switch cfg.DataSource {
	case SourceBinance, SourceCSV, SourceSynthetic:
	case SourcePostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("DATA_SOURCE=postgres requires POSTGRES_DSN")
		}
	default:
		return nil, fmt.Errorf("unknown DATA_SOURCE %q", cfg.DataSource)
	}
	if cfg.SweepConcurrency <= 0 {
		cfg.SweepConcurrency = 1
	}
	return cfg, nil
}

// BacktestDefaults builds a run config from the environment defaults.
func (c *Config) BacktestDefaults(symbol string, start, end time.Time) backtest.Config {
	bc := backtest.DefaultConfig(symbol, start, end)
	bc.InitialCapital = c.InitialCapital
	bc.CommissionRate = c.CommissionRate
	bc.TradeQuantity = c.TradeQuantity
	bc.MACDFast = c.MACDFast
	bc.MACDSlow = c.MACDSlow
	bc.MACDSignal = c.MACDSignal
	bc.RiskFreeRate = c.RiskFreeRate
	return bc
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

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
