package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string                    `mapstructure:"environment"`
	LogLevel    string                    `mapstructure:"log_level"`
	Server      ServerConfig              `mapstructure:"server"`
	Redis       RedisConfig               `mapstructure:"redis"`
	Providers   map[string]ProviderConfig `mapstructure:"providers"`
	Breaker     BreakerConfig             `mapstructure:"breaker"`
	Aggregator  AggregatorConfig          `mapstructure:"aggregator"`
	Cache       CacheConfig               `mapstructure:"cache"`
	AI          AIConfig                  `mapstructure:"ai"`
	Warming     WarmingConfig             `mapstructure:"warming"`
	RateLimit   RateLimitConfig           `mapstructure:"rate_limit"`
	Telemetry   TelemetryConfig           `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ProviderConfig describes one upstream market data API.
type ProviderConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	BaseURL            string        `mapstructure:"base_url"`
	APIKey             string        `mapstructure:"api_key" json:"-" yaml:"-"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
	Timeout            time.Duration `mapstructure:"timeout"`
	Priority           int           `mapstructure:"priority"`
}

type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
	MaxCooldown      time.Duration `mapstructure:"max_cooldown"`
	QuotaWindow      time.Duration `mapstructure:"quota_window"`
}

type AggregatorConfig struct {
	ProviderTimeout    time.Duration `mapstructure:"provider_timeout"`
	Deadline           time.Duration `mapstructure:"deadline"`
	MaxRetries         int           `mapstructure:"max_retries"`
	RetryInitialDelay  time.Duration `mapstructure:"retry_initial_delay"`
	RetryMaxDelay      time.Duration `mapstructure:"retry_max_delay"`
	RetryBackoffFactor float64       `mapstructure:"retry_backoff_factor"`
	MaxConcurrency     int           `mapstructure:"max_concurrency"`
	Precedence         []string      `mapstructure:"precedence"`
}

type CacheConfig struct {
	IdentityTTL   time.Duration `mapstructure:"identity_ttl"`
	MarketTTL     time.Duration `mapstructure:"market_ttl"`
	ChartTTL      time.Duration `mapstructure:"chart_ttl"`
	AnswerTTL     time.Duration `mapstructure:"answer_ttl"`
	MarketSize    int           `mapstructure:"market_size"`
	ChartSize     int           `mapstructure:"chart_size"`
	MinRetention  time.Duration `mapstructure:"min_retention"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	RedisPrefix   string        `mapstructure:"redis_prefix"`
}

type AIConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type WarmingConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Assets  []string      `mapstructure:"assets"`
	Stagger time.Duration `mapstructure:"stagger"`
	// Zero disables the scheduled refresh.
	RefreshInterval      time.Duration `mapstructure:"refresh_interval"`
	ChartRefreshInterval time.Duration `mapstructure:"chart_refresh_interval"`
}

type RateLimitConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
}

type TelemetryConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
	SampleRate     float64 `mapstructure:"sample_rate"`
	LogExport      bool    `mapstructure:"log_export"`
}

// Provider names as they appear in configuration and in attribution.
const (
	ProviderCoinGecko     = "coingecko"
	ProviderCoinMarketCap = "coinmarketcap"
	ProviderCryptoCompare = "cryptocompare"
	ProviderCoinPaprika   = "coinpaprika"
)

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	// Set default values
	setDefaults(v)

	// Enable environment variable support
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// API keys are commonly provided under their vendor names
	bindings := map[string]string{
		"providers.coingecko.api_key":     "COINGECKO_API_KEY",
		"providers.coinmarketcap.api_key": "COINMARKETCAP_API_KEY",
		"providers.cryptocompare.api_key": "CRYPTOCOMPARE_API_KEY",
		"ai.base_url":                     "OLLAMA_BASE_URL",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s environment variable: %w", env, err)
		}
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks invariants the services rely on.
func (c *Config) Validate() error {
	if c.Aggregator.ProviderTimeout <= 0 {
		return fmt.Errorf("aggregator.provider_timeout must be positive, got %s", c.Aggregator.ProviderTimeout)
	}
	if c.Aggregator.Deadline < c.Aggregator.ProviderTimeout {
		return fmt.Errorf("aggregator.deadline (%s) must not be shorter than provider_timeout (%s)",
			c.Aggregator.Deadline, c.Aggregator.ProviderTimeout)
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be positive, got %d", c.Breaker.FailureThreshold)
	}
	if c.Breaker.MaxCooldown < c.Breaker.Cooldown {
		return fmt.Errorf("breaker.max_cooldown (%s) must not be shorter than cooldown (%s)",
			c.Breaker.MaxCooldown, c.Breaker.Cooldown)
	}
	for name, p := range c.Providers {
		if p.Enabled && p.BaseURL == "" {
			return fmt.Errorf("provider %s is enabled but has no base_url", name)
		}
		if p.Enabled && p.RateLimitPerMinute <= 0 {
			return fmt.Errorf("provider %s rate_limit_per_minute must be positive", name)
		}
	}
	if c.Cache.MarketTTL <= 0 || c.Cache.ChartTTL <= 0 {
		return fmt.Errorf("cache market_ttl and chart_ttl must be positive")
	}
	return nil
}

// EnabledProviders returns the enabled provider names ordered by priority.
func (c *Config) EnabledProviders() []string {
	names := make([]string, 0, len(c.Providers))
	for name, p := range c.Providers {
		if p.Enabled {
			names = append(names, name)
		}
	}
	sort.SliceStable(names, func(i, j int) bool {
		pi, pj := c.Providers[names[i]].Priority, c.Providers[names[j]].Priority
		if pi != pj {
			return pi < pj
		}
		return names[i] < names[j]
	})
	return names
}

// RedisAddr returns host:port for the Redis connection.
func (r RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func setDefaults(v *viper.Viper) {
	// Environment
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Providers
	v.SetDefault("providers.coingecko.enabled", true)
	v.SetDefault("providers.coingecko.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("providers.coingecko.api_key", "")
	v.SetDefault("providers.coingecko.rate_limit_per_minute", 30)
	v.SetDefault("providers.coingecko.timeout", "3s")
	v.SetDefault("providers.coingecko.priority", 1)

	v.SetDefault("providers.coinmarketcap.enabled", true)
	v.SetDefault("providers.coinmarketcap.base_url", "https://pro-api.coinmarketcap.com")
	v.SetDefault("providers.coinmarketcap.api_key", "")
	v.SetDefault("providers.coinmarketcap.rate_limit_per_minute", 10)
	v.SetDefault("providers.coinmarketcap.timeout", "3s")
	v.SetDefault("providers.coinmarketcap.priority", 2)

	v.SetDefault("providers.cryptocompare.enabled", true)
	v.SetDefault("providers.cryptocompare.base_url", "https://min-api.cryptocompare.com")
	v.SetDefault("providers.cryptocompare.api_key", "")
	v.SetDefault("providers.cryptocompare.rate_limit_per_minute", 100)
	v.SetDefault("providers.cryptocompare.timeout", "3s")
	v.SetDefault("providers.cryptocompare.priority", 3)

	v.SetDefault("providers.coinpaprika.enabled", true)
	v.SetDefault("providers.coinpaprika.base_url", "https://api.coinpaprika.com/v1")
	v.SetDefault("providers.coinpaprika.api_key", "")
	v.SetDefault("providers.coinpaprika.rate_limit_per_minute", 25)
	v.SetDefault("providers.coinpaprika.timeout", "3s")
	v.SetDefault("providers.coinpaprika.priority", 4)

	// Circuit breaker
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.cooldown", "2m")
	v.SetDefault("breaker.max_cooldown", "10m")
	v.SetDefault("breaker.quota_window", "1m")

	// Aggregator
	v.SetDefault("aggregator.provider_timeout", "3s")
	v.SetDefault("aggregator.deadline", "8s")
	v.SetDefault("aggregator.max_retries", 1)
	v.SetDefault("aggregator.retry_initial_delay", "200ms")
	v.SetDefault("aggregator.retry_max_delay", "1s")
	v.SetDefault("aggregator.retry_backoff_factor", 2.0)
	v.SetDefault("aggregator.max_concurrency", 0)
	v.SetDefault("aggregator.precedence", []string{
		ProviderCoinGecko, ProviderCoinMarketCap, ProviderCryptoCompare, ProviderCoinPaprika,
	})

	// Cache
	v.SetDefault("cache.identity_ttl", "0s")
	v.SetDefault("cache.market_ttl", "60s")
	v.SetDefault("cache.chart_ttl", "10m")
	v.SetDefault("cache.answer_ttl", "5m")
	v.SetDefault("cache.market_size", 200)
	v.SetDefault("cache.chart_size", 100)
	v.SetDefault("cache.min_retention", "5s")
	v.SetDefault("cache.sweep_interval", "1m")
	v.SetDefault("cache.redis_prefix", "crypto_insight:")

	// AI
	v.SetDefault("ai.enabled", true)
	v.SetDefault("ai.base_url", "http://localhost:11434")
	v.SetDefault("ai.model", "llama3.1:8b")
	v.SetDefault("ai.timeout", "30s")

	// Cache warming
	v.SetDefault("warming.enabled", true)
	v.SetDefault("warming.assets", []string{
		"bitcoin", "ethereum", "binancecoin", "ripple", "cardano",
		"solana", "avalanche", "polkadot", "dogecoin", "chainlink",
	})
	v.SetDefault("warming.stagger", "2s")
	v.SetDefault("warming.refresh_interval", "2m")
	v.SetDefault("warming.chart_refresh_interval", "5m")

	// Inbound rate limiting
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 5.0)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("rate_limit.cleanup_interval", "10m")

	// Telemetry
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "crypto-insight-go")
	v.SetDefault("telemetry.service_version", "1.0.0")
	v.SetDefault("telemetry.sample_rate", 0.2)
	v.SetDefault("telemetry.log_export", false)
}
