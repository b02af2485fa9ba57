package models

// MConfig Structure
type MConfig struct {
	Name        string         `yaml:"name"`
	Host        string         `yaml:"host"`
	Port        int            `yaml:"port"`
	LogLevel    string         `yaml:"log_level"`
	JWTSecret   string         `yaml:"jwt_secret"`
	Session     MSessionConfig `yaml:"session"`
	QoS         MQoSConfig     `yaml:"qos"`
	Idempotency MIdemConfig    `yaml:"idempotency"`
	RateLimit   MRateConfig    `yaml:"rate_limit"`
	Storage     MStorageConfig `yaml:"storage"`
	Market      MMarketConfig  `yaml:"market"`
}

type MSessionConfig struct {
	TTLMs             int64 `yaml:"ttl_ms"`
	SweepIntervalSecs int   `yaml:"sweep_interval_seconds"`
}

type MQoSConfig struct {
	BaseRetryMs  int64 `yaml:"base_retry_ms"`
	MaxBackoffMs int64 `yaml:"max_backoff_ms"`
	MaxRetry     int   `yaml:"max_retry"`
}

type MIdemConfig struct {
	TTLMs             int64 `yaml:"ttl_ms"`
	SweepIntervalSecs int   `yaml:"sweep_interval_seconds"`
}

type MRateConfig struct {
	OrderIntervalMs int64 `yaml:"order_interval_ms"`
}

type MStorageConfig struct {
	OrderLogPath       string `yaml:"order_log_path"`
	DBConnectionString string `yaml:"db_connection_string"`
}

type MMarketConfig struct {
	TickIntervalMs int64           `yaml:"tick_interval_ms"`
	Symbols        []MSymbolConfig `yaml:"symbols"`
}

type MSymbolConfig struct {
	Code       string  `yaml:"code"`
	BasePrice  float64 `yaml:"base_price"`
	Volatility float64 `yaml:"volatility"`
	BaseVolume int     `yaml:"base_volume"`
	VolumeVar  int     `yaml:"volume_variation"`
}
