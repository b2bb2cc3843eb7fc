package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

var (
	ServiceName    = "order-execution-engine"
	ServiceVersion = ""
)

var (
	Env *EnvConfig
)

type EnvConfig struct {
	Env                     string                 `mapstructure:"env"`
	Log                     LogConfig              `mapstructure:"log"`
	GracefulShutdownTimeout time.Duration          `mapstructure:"graceful_shutdown_timeout"`
	Port                    map[string]string      `mapstructure:"port"`
	Redis                   map[string]RedisConfig `mapstructure:"redis"`
	NatsJetstream           NatsJetstreamConfig    `mapstructure:"nats_jetstream"`
	OrderEngine             OrderEngineConfig      `mapstructure:"order_engine"`
	Venues                  []VenueConfig          `mapstructure:"venues"`
	Market                  MarketConfig           `mapstructure:"market"`
	Execution               ExecutionConfig        `mapstructure:"execution"`
	Stream                  StreamConfig           `mapstructure:"stream"`
}

type NatsJetstreamConfig struct {
	URL             string                   `mapstructure:"url"`
	MaxRetries      int                      `mapstructure:"max_retries"`
	ReconnectFactor float64                  `mapstructure:"reconnect_factor"`
	MinJitter       time.Duration            `mapstructure:"min_jitter"`
	MaxJitter       time.Duration            `mapstructure:"max_jitter"`
	TimeoutHandler  map[string]time.Duration `mapstructure:"timeout_handler"`
}

type LogConfig struct {
	ShowCaller bool   `mapstructure:"show_caller"`
	LogLevel   string `mapstructure:"log_level"`
}

type RedisConfig struct {
	CacheDSN        string        `mapstructure:"cache_dsn"`
	MaxRetry        int           `mapstructure:"max_retry"`
	ReconnectFactor float64       `mapstructure:"reconnect_factor"`
	MinJitter       time.Duration `mapstructure:"min_jitter"`
	MaxJitter       time.Duration `mapstructure:"max_jitter"`
}

// OrderEngineConfig drives the job queue and the lifecycle coordinator.
type OrderEngineConfig struct {
	QueueDriver       string        `mapstructure:"queue_driver"` // jetstream | memory
	StoreDriver       string        `mapstructure:"store_driver"` // redis | memory
	WorkerConcurrency int           `mapstructure:"worker_concurrency"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	ProcessingLockTTL time.Duration `mapstructure:"processing_lock_ttl"`
	BuildingDelayMin  time.Duration `mapstructure:"building_delay_min"`
	BuildingDelayMax  time.Duration `mapstructure:"building_delay_max"`
}

type VenueConfig struct {
	Name          string          `mapstructure:"name"`
	Fee           decimal.Decimal `mapstructure:"fee"`            // fraction, e.g. 0.003 for 0.3%
	PriceVariance decimal.Decimal `mapstructure:"price_variance"` // fraction around the base price
	MinLatency    time.Duration   `mapstructure:"min_latency"`
	MaxLatency    time.Duration   `mapstructure:"max_latency"`
	Timeout       time.Duration   `mapstructure:"timeout"`
	MinLiquidity  decimal.Decimal `mapstructure:"min_liquidity"`
	MaxLiquidity  decimal.Decimal `mapstructure:"max_liquidity"`
	FailureRate   float64         `mapstructure:"failure_rate"`
}

type MarketConfig struct {
	BasePrices   map[string]decimal.Decimal `mapstructure:"base_prices"` // keyed by "TOKENIN/TOKENOUT"
	DefaultPrice decimal.Decimal            `mapstructure:"default_price"`
}

type ExecutionConfig struct {
	MinLatency  time.Duration   `mapstructure:"min_latency"`
	MaxLatency  time.Duration   `mapstructure:"max_latency"`
	MaxSlippage decimal.Decimal `mapstructure:"max_slippage"`
	FailureRate float64         `mapstructure:"failure_rate"`
}

type StreamConfig struct {
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	GraceDelay          time.Duration `mapstructure:"grace_delay"`
	DefaultPollInterval time.Duration `mapstructure:"default_poll_interval"`
}

func LoadConfig(configPath string) error {
	viper.Reset()

	configPath = strings.TrimSpace(configPath)
	if configPath == "" {
		viper.SetConfigName("config")
		viper.SetConfigType("yml")
		viper.AddConfigPath(".")
	} else {
		ext := strings.ToLower(filepath.Ext(configPath))
		if ext == ".yml" || ext == ".yaml" {
			viper.SetConfigFile(configPath)
		} else {
			viper.SetConfigName(filepath.Base(configPath))
			viper.SetConfigType("yml")
			configDir := filepath.Dir(configPath)
			if configDir == "." || configDir == "" {
				viper.AddConfigPath(".")
			} else {
				viper.AddConfigPath(configDir)
			}
		}
	}

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	setDefaults()

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	err = viper.Unmarshal(&Env, viper.DecodeHook(decimalDecodeHook()))
	if err != nil {
		return fmt.Errorf("failed to unmarshal config file: %w", err)
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("env", "development")
	viper.SetDefault("log.log_level", "info")
	viper.SetDefault("graceful_shutdown_timeout", 10*time.Second)

	viper.SetDefault("order_engine.queue_driver", "jetstream")
	viper.SetDefault("order_engine.store_driver", "redis")
	viper.SetDefault("order_engine.worker_concurrency", 10)
	viper.SetDefault("order_engine.max_attempts", 3)
	viper.SetDefault("order_engine.initial_backoff", time.Second)
	viper.SetDefault("order_engine.max_backoff", 30*time.Second)
	viper.SetDefault("order_engine.processing_lock_ttl", 2*time.Minute)
	viper.SetDefault("order_engine.building_delay_min", 100*time.Millisecond)
	viper.SetDefault("order_engine.building_delay_max", 500*time.Millisecond)

	viper.SetDefault("market.default_price", "1")

	viper.SetDefault("execution.min_latency", 2*time.Second)
	viper.SetDefault("execution.max_latency", 3*time.Second)
	viper.SetDefault("execution.max_slippage", "0.005")

	viper.SetDefault("stream.poll_interval", time.Second)
	viper.SetDefault("stream.grace_delay", 500*time.Millisecond)
	viper.SetDefault("stream.default_poll_interval", time.Second)
}
