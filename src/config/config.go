package config

import (
	"fmt"
	"os"

	"trading-gateway/src/models"

	"gopkg.in/yaml.v3"
)

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// Default returns the built-in configuration used when no YAML file is given.
func Default() *Config {
	return &Config{MConfig: &models.MConfig{
		Name:      "trading-gateway",
		Host:      "0.0.0.0",
		Port:      8082,
		LogLevel:  "INFO",
		JWTSecret: "trading-gateway-demo-secret",
		Session: models.MSessionConfig{
			TTLMs:             30000,
			SweepIntervalSecs: 5,
		},
		QoS: models.MQoSConfig{
			BaseRetryMs:  100,
			MaxBackoffMs: 2000,
			MaxRetry:     5,
		},
		Idempotency: models.MIdemConfig{
			TTLMs:             300000,
			SweepIntervalSecs: 30,
		},
		RateLimit: models.MRateConfig{
			OrderIntervalMs: 1000,
		},
		Storage: models.MStorageConfig{
			OrderLogPath: "orders.db",
		},
		Market: models.MMarketConfig{
			TickIntervalMs: 1000,
			Symbols: []models.MSymbolConfig{
				{Code: "ETH-USD", BasePrice: 2500.0, Volatility: 0.003, BaseVolume: 30000, VolumeVar: 15000},
				{Code: "BTC-USD", BasePrice: 45000.0, Volatility: 0.002, BaseVolume: 50000, VolumeVar: 20000},
				{Code: "ADA-USD", BasePrice: 0.45, Volatility: 0.004, BaseVolume: 10000, VolumeVar: 5000},
				{Code: "SOL-USD", BasePrice: 95.0, Volatility: 0.004, BaseVolume: 10000, VolumeVar: 5000},
				{Code: "DOGE-USD", BasePrice: 0.08, Volatility: 0.005, BaseVolume: 80000, VolumeVar: 30000},
				{Code: "AVAX-USD", BasePrice: 25.0, Volatility: 0.004, BaseVolume: 15000, VolumeVar: 8000},
				{Code: "MATIC-USD", BasePrice: 0.75, Volatility: 0.005, BaseVolume: 25000, VolumeVar: 12000},
				{Code: "LINK-USD", BasePrice: 12.5, Volatility: 0.003, BaseVolume: 20000, VolumeVar: 10000},
			},
		},
	}}
}

// -----------------------------------------------------------------------------

// NewConfig creates a new MConfig instance from YAML file
func NewConfig(configPath string) (*Config, error) {
	// 1. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	// 2. Unmarshal data into the models struct
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	config := &Config{MConfig: &modelConfig}

	// 3. Validate the loaded configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}

	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d", c.Port)
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("jwt_secret cannot be empty")
	}

	if c.Session.TTLMs <= 0 {
		return fmt.Errorf("session ttl must be greater than 0")
	}

	if c.QoS.BaseRetryMs <= 0 {
		return fmt.Errorf("qos base retry must be greater than 0")
	}
	if c.QoS.MaxBackoffMs < c.QoS.BaseRetryMs {
		return fmt.Errorf("qos max backoff must be >= base retry")
	}
	if c.QoS.MaxRetry < 0 {
		return fmt.Errorf("qos max retry cannot be negative")
	}

	if c.Idempotency.TTLMs <= 0 {
		return fmt.Errorf("idempotency ttl must be greater than 0")
	}

	if c.RateLimit.OrderIntervalMs < 0 {
		return fmt.Errorf("rate limit interval cannot be negative")
	}

	if c.Market.TickIntervalMs <= 0 {
		return fmt.Errorf("market tick interval must be greater than 0")
	}
	for i, sym := range c.Market.Symbols {
		if sym.Code == "" {
			return fmt.Errorf("market symbol %d must have a code", i)
		}
		if sym.BasePrice <= 0 {
			return fmt.Errorf("market symbol '%s' must have a positive base price", sym.Code)
		}
	}

	return nil
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	// 1. Marshal the struct to YAML
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// 2. Write to file (0644 permissions)
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}

// -----------------------------------------------------------------------------

// SymbolCodes returns the configured market symbol codes in declaration order.
func (c *Config) SymbolCodes() []string {
	codes := make([]string, 0, len(c.Market.Symbols))
	for _, s := range c.Market.Symbols {
		codes = append(codes, s.Code)
	}
	return codes
}
