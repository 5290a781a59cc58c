// Package config provides configuration loading and management for the application.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/yourorg/ophunt/internal/evaluate"
	"github.com/yourorg/ophunt/internal/validation"
)

// Config holds all application configuration. It is built once at process
// start and passed down; nothing below cmd/ reads the environment.
type Config struct {
	// HTTP server port
	Port string

	// Ticker used when a request does not name one
	DefaultTicker string

	// Market data provider to use (finnhub, alpaca)
	Provider string

	// Base URLs for the data providers
	FinnhubURL       string
	AlpacaDataURL    string
	AlpacaTradingURL string

	// Where provider credentials come from (env, ssm) and their names there
	CredentialSource  string
	AWSRegion         string
	FinnhubTokenParam string
	AlpacaKeyParam    string
	AlpacaSecretParam string

	// Outbound request settings
	RequestTimeout time.Duration
	ProviderRPS    float64

	// Inbound rate limiting for the HTTP server
	RateLimitRPS   float64
	RateLimitBurst int

	// Circuit breaker around provider calls
	BreakerFailures int
	BreakerCooldown time.Duration

	// OpenTelemetry endpoint for observability
	OtelEndpoint string

	LogFormat string
	LogLevel  string

	// Evaluation policy
	SpreadMaxAbsolute        float64
	SpreadMaxFraction        float64
	ExtrinsicCaptureFraction float64
	MinimumDifferential      *float64
	BuyBackMode              string
	FlatBuyBackDiscount      float64
}

// Default returns the configuration used when nothing is overridden
func Default() Config {
	return Config{
		Port:                     "8000",
		DefaultTicker:            "GME",
		Provider:                 "finnhub",
		FinnhubURL:               "https://finnhub.io/api/v1",
		AlpacaDataURL:            "https://data.alpaca.markets",
		AlpacaTradingURL:         "https://paper-api.alpaca.markets",
		CredentialSource:         "env",
		AWSRegion:                "us-west-2",
		FinnhubTokenParam:        "FINNHUB_TOKEN",
		AlpacaKeyParam:           "ALPACA_API_KEY",
		AlpacaSecretParam:        "ALPACA_SECRET_KEY",
		RequestTimeout:           30 * time.Second,
		ProviderRPS:              3,
		RateLimitRPS:             10,
		RateLimitBurst:           20,
		BreakerFailures:          3,
		BreakerCooldown:          time.Minute,
		LogFormat:                "text",
		LogLevel:                 "info",
		SpreadMaxAbsolute:        0.30,
		SpreadMaxFraction:        0.30,
		ExtrinsicCaptureFraction: 0.5,
		BuyBackMode:              string(evaluate.BuyBackExtrinsic),
		FlatBuyBackDiscount:      0.50,
	}
}

// Load creates a new Config from defaults, the optional YAML file, the
// optional .env file and finally environment variables.
func Load() Config {
	cfg := Default()

	path := GetEnvOrDefault("CONFIG_FILE", "config.yaml")
	if err := applyYAMLFile(&cfg, path); err != nil {
		logrus.Warnf("Ignoring config file %s: %v", path, err)
	}

	// .env never overrides variables already present in the environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logrus.Warnf("Ignoring .env file: %v", err)
	}

	applyEnv(&cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	cfg.Port = GetEnvOrDefault("PORT", cfg.Port)
	cfg.DefaultTicker = strings.ToUpper(GetEnvOrDefault("TICKER", cfg.DefaultTicker))
	cfg.Provider = strings.ToLower(GetEnvOrDefault("PROVIDER", cfg.Provider))
	cfg.FinnhubURL = GetEnvOrDefault("FINNHUB_URL", cfg.FinnhubURL)
	cfg.AlpacaDataURL = GetEnvOrDefault("ALPACA_DATA_URL", cfg.AlpacaDataURL)
	cfg.AlpacaTradingURL = GetEnvOrDefault("ALPACA_TRADING_URL", cfg.AlpacaTradingURL)
	cfg.CredentialSource = strings.ToLower(GetEnvOrDefault("CREDENTIAL_SOURCE", cfg.CredentialSource))
	cfg.AWSRegion = GetEnvOrDefault("AWS_REGION", cfg.AWSRegion)
	cfg.FinnhubTokenParam = GetEnvOrDefault("FINNHUB_TOKEN_PARAM", cfg.FinnhubTokenParam)
	cfg.AlpacaKeyParam = GetEnvOrDefault("ALPACA_KEY_PARAM", cfg.AlpacaKeyParam)
	cfg.AlpacaSecretParam = GetEnvOrDefault("ALPACA_SECRET_PARAM", cfg.AlpacaSecretParam)
	cfg.RequestTimeout = GetEnvAsDuration("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.ProviderRPS = GetEnvAsFloat("PROVIDER_RPS", cfg.ProviderRPS)
	cfg.RateLimitRPS = GetEnvAsFloat("RATE_LIMIT_RPS", cfg.RateLimitRPS)
	cfg.RateLimitBurst = GetEnvAsInt("RATE_LIMIT_BURST", cfg.RateLimitBurst)
	cfg.BreakerFailures = GetEnvAsInt("BREAKER_FAILURES", cfg.BreakerFailures)
	cfg.BreakerCooldown = GetEnvAsDuration("BREAKER_COOLDOWN", cfg.BreakerCooldown)
	cfg.OtelEndpoint = GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OtelEndpoint)
	cfg.LogFormat = strings.ToLower(GetEnvOrDefault("LOG_FORMAT", cfg.LogFormat))
	cfg.LogLevel = strings.ToLower(GetEnvOrDefault("LOG_LEVEL", cfg.LogLevel))
	cfg.SpreadMaxAbsolute = GetEnvAsFloat("SPREAD_MAX_ABS", cfg.SpreadMaxAbsolute)
	cfg.SpreadMaxFraction = GetEnvAsFloat("SPREAD_MAX_FRAC", cfg.SpreadMaxFraction)
	cfg.ExtrinsicCaptureFraction = GetEnvAsFloat("EXTRINSIC_CAPTURE_FRACTION", cfg.ExtrinsicCaptureFraction)
	cfg.MinimumDifferential = GetEnvAsFloatPtr("MIN_DIFFERENTIAL", cfg.MinimumDifferential)
	cfg.BuyBackMode = strings.ToLower(GetEnvOrDefault("BUYBACK_MODE", cfg.BuyBackMode))
	cfg.FlatBuyBackDiscount = GetEnvAsFloat("FLAT_BUYBACK_DISCOUNT", cfg.FlatBuyBackDiscount)
}

// Policy builds the evaluator policy from the configuration
func (c Config) Policy() evaluate.Policy {
	mode := evaluate.BuyBackMode(c.BuyBackMode)
	if mode != evaluate.BuyBackFlat {
		mode = evaluate.BuyBackExtrinsic
	}

	return evaluate.Policy{
		Gates: validation.Options{
			SpreadMaxAbsolute:   c.SpreadMaxAbsolute,
			SpreadMaxFraction:   c.SpreadMaxFraction,
			MinimumDifferential: c.MinimumDifferential,
		},
		ExtrinsicCaptureFraction: c.ExtrinsicCaptureFraction,
		BuyBack:                  mode,
		FlatBuyBackDiscount:      c.FlatBuyBackDiscount,
	}
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		logrus.Warnf("Invalid integer in %s, using default: %v", key, defaultValue)
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
		logrus.Warnf("Invalid float in %s, using default: %v", key, defaultValue)
	}
	return defaultValue
}

// GetEnvAsFloatPtr is GetEnvAsFloat for optional settings; an empty or
// "off" value clears the setting.
func GetEnvAsFloatPtr(key string, defaultValue *float64) *float64 {
	value, exists := GetEnv(key)
	if !exists {
		return defaultValue
	}
	if value == "" || strings.EqualFold(value, "off") {
		return nil
	}
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		logrus.Warnf("Invalid float in %s, keeping previous value", key)
		return defaultValue
	}
	return &floatValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		logrus.Warnf("Invalid duration in %s, using default: %v", key, defaultValue)
	}
	return defaultValue
}
