package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// YAMLConfig mirrors the subset of Config that may be set in config.yaml.
// Zero values leave the defaults in place, except in the policy block where
// only an absent key does.
type YAMLConfig struct {
	Port   string `yaml:"port"`
	Ticker string `yaml:"ticker"`

	Provider struct {
		Name             string  `yaml:"name"`
		FinnhubURL       string  `yaml:"finnhub_url"`
		AlpacaDataURL    string  `yaml:"alpaca_data_url"`
		AlpacaTradingURL string  `yaml:"alpaca_trading_url"`
		RequestTimeout   string  `yaml:"request_timeout"`
		RPS              float64 `yaml:"rps"`
	} `yaml:"provider"`

	Credentials struct {
		Source            string `yaml:"source"`
		AWSRegion         string `yaml:"aws_region"`
		FinnhubTokenParam string `yaml:"finnhub_token_param"`
		AlpacaKeyParam    string `yaml:"alpaca_key_param"`
		AlpacaSecretParam string `yaml:"alpaca_secret_param"`
	} `yaml:"credentials"`

	Server struct {
		RateLimitRPS   float64 `yaml:"rate_limit_rps"`
		RateLimitBurst int     `yaml:"rate_limit_burst"`
	} `yaml:"server"`

	Breaker struct {
		Failures int    `yaml:"failures"`
		Cooldown string `yaml:"cooldown"`
	} `yaml:"breaker"`

	Logging struct {
		Format string `yaml:"format"`
		Level  string `yaml:"level"`
	} `yaml:"logging"`

	Policy struct {
		SpreadMaxAbsolute        *float64 `yaml:"spread_max_abs"`
		SpreadMaxFraction        *float64 `yaml:"spread_max_frac"`
		ExtrinsicCaptureFraction *float64 `yaml:"extrinsic_capture_fraction"`
		MinimumDifferential      *float64 `yaml:"min_differential"`
		BuyBackMode              string   `yaml:"buyback_mode"`
		FlatBuyBackDiscount      *float64 `yaml:"flat_buyback_discount"`
	} `yaml:"policy"`
}

// applyYAMLFile overlays the file at path onto cfg. A missing file is not an error.
func applyYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var y YAMLConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return err
	}
	y.apply(cfg)
	return nil
}

func (y YAMLConfig) apply(cfg *Config) {
	setString(&cfg.Port, y.Port)
	setString(&cfg.DefaultTicker, strings.ToUpper(y.Ticker))

	setString(&cfg.Provider, strings.ToLower(y.Provider.Name))
	setString(&cfg.FinnhubURL, y.Provider.FinnhubURL)
	setString(&cfg.AlpacaDataURL, y.Provider.AlpacaDataURL)
	setString(&cfg.AlpacaTradingURL, y.Provider.AlpacaTradingURL)
	setDuration(&cfg.RequestTimeout, y.Provider.RequestTimeout)
	setFloat(&cfg.ProviderRPS, y.Provider.RPS)

	setString(&cfg.CredentialSource, strings.ToLower(y.Credentials.Source))
	setString(&cfg.AWSRegion, y.Credentials.AWSRegion)
	setString(&cfg.FinnhubTokenParam, y.Credentials.FinnhubTokenParam)
	setString(&cfg.AlpacaKeyParam, y.Credentials.AlpacaKeyParam)
	setString(&cfg.AlpacaSecretParam, y.Credentials.AlpacaSecretParam)

	setFloat(&cfg.RateLimitRPS, y.Server.RateLimitRPS)
	if y.Server.RateLimitBurst > 0 {
		cfg.RateLimitBurst = y.Server.RateLimitBurst
	}

	if y.Breaker.Failures > 0 {
		cfg.BreakerFailures = y.Breaker.Failures
	}
	setDuration(&cfg.BreakerCooldown, y.Breaker.Cooldown)

	setString(&cfg.LogFormat, strings.ToLower(y.Logging.Format))
	setString(&cfg.LogLevel, strings.ToLower(y.Logging.Level))

	setPolicyFloat(&cfg.SpreadMaxAbsolute, y.Policy.SpreadMaxAbsolute)
	setPolicyFloat(&cfg.SpreadMaxFraction, y.Policy.SpreadMaxFraction)
	setPolicyFloat(&cfg.ExtrinsicCaptureFraction, y.Policy.ExtrinsicCaptureFraction)
	if y.Policy.MinimumDifferential != nil {
		cfg.MinimumDifferential = y.Policy.MinimumDifferential
	}
	setString(&cfg.BuyBackMode, strings.ToLower(y.Policy.BuyBackMode))
	setPolicyFloat(&cfg.FlatBuyBackDiscount, y.Policy.FlatBuyBackDiscount)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if v > 0 {
		*dst = v
	}
}

// setPolicyFloat applies any non-negative value that is present, zero included
func setPolicyFloat(dst *float64, v *float64) {
	if v != nil && *v >= 0 {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v string) {
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}
