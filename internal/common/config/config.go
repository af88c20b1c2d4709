package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/database"
	"gopkg.in/yaml.v3"
)

const (
	DefaultHoldDuration     = 5 * time.Minute
	DefaultSweepInterval    = 60 * time.Second
	DefaultSweepWorkers     = 8
	DefaultSweepItemTimeout = 10 * time.Second
	DefaultMetricsAddr      = ":9090"
	DefaultLogLevel         = "info"
	configFileEnvKey        = "SBCNTR_CONFIG_FILE"
	enableTracingEnvKey     = "SBCNTR_ENABLE_TRACING"
	xraySDKDisabledEnvKey   = "AWS_XRAY_SDK_DISABLED"
	defaultDBHost           = "localhost"
	defaultDBPort           = 5432
	defaultDBUserName       = "sbcntrapp"
	defaultDBPassword       = "password"
	defaultDBName           = "sbcntrapp"
)

type Config struct {
	DB  database.Config `yaml:"db"`
	SFN struct {
		TaskToken string `yaml:"-"`
	} `yaml:"-"`
	EnableTracing bool `yaml:"-"`

	Reservation ReservationConfig `yaml:"reservation"`
	Reconciler  ReconcilerConfig  `yaml:"reconciler"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Log         LogConfig         `yaml:"log"`
}

// ReservationConfig は仮押さえの設定です
type ReservationConfig struct {
	HoldDuration time.Duration `yaml:"hold_duration"`
}

// ReconcilerConfig は期限切れスイープの設定です
type ReconcilerConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Workers     int           `yaml:"workers"`
	ItemTimeout time.Duration `yaml:"item_timeout"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// LoadConfig は設定を読み込みます
// デフォルト値 → 設定ファイル(SBCNTR_CONFIG_FILE) → 環境変数 の順に上書きします
func LoadConfig(taskToken string) (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv(configFileEnvKey); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.DB = database.Config{
		Host:     getEnvOrDefault("DB_HOST", cfg.DB.Host),
		Port:     getEnvAsIntOrDefault("DB_PORT", cfg.DB.Port),
		UserName: getEnvOrDefault("DB_USERNAME", cfg.DB.UserName),
		Password: getEnvOrDefault("DB_PASSWORD", cfg.DB.Password),
		DBName:   getEnvOrDefault("DB_NAME", cfg.DB.DBName),
		SSLMode:  getEnvOrDefault("DB_SSL_MODE", cfg.DB.SSLMode),
		Migrate:  getEnvAsBoolOrDefault("DB_MIGRATE", cfg.DB.Migrate),
	}
	cfg.SFN.TaskToken = taskToken

	cfg.Reservation.HoldDuration = getEnvAsDurationOrDefault("HOLD_DURATION", cfg.Reservation.HoldDuration)
	cfg.Reconciler.Interval = getEnvAsDurationOrDefault("SWEEP_INTERVAL", cfg.Reconciler.Interval)
	cfg.Reconciler.Workers = getEnvAsIntOrDefault("SWEEP_WORKERS", cfg.Reconciler.Workers)
	cfg.Reconciler.ItemTimeout = getEnvAsDurationOrDefault("SWEEP_ITEM_TIMEOUT", cfg.Reconciler.ItemTimeout)
	cfg.Metrics.Addr = getEnvOrDefault("METRICS_ADDR", cfg.Metrics.Addr)
	cfg.Log.Level = getEnvOrDefault("LOG_LEVEL", cfg.Log.Level)

	// 環境変数[SBCNTR_ENABLE_TRACING]を見てトレースを有効にする。対応しているTracingはAWS_XRAYのみ。
	// 環境変数[AWS_XRAY_SDK_DISABLED]がtrueの場合は必ずトレースを無効にする。
	enableKey := os.Getenv(enableTracingEnvKey)
	if !sdkDisabled() && (strings.ToLower(enableKey) == "true" || enableKey == "1") {
		os.Setenv(xraySDKDisabledEnvKey, "FALSE")
		cfg.EnableTracing = true
	} else {
		os.Setenv(xraySDKDisabledEnvKey, "TRUE")
		cfg.EnableTracing = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		DB: database.Config{
			Host:     defaultDBHost,
			Port:     defaultDBPort,
			UserName: defaultDBUserName,
			Password: defaultDBPassword,
			DBName:   defaultDBName,
		},
		Reservation: ReservationConfig{HoldDuration: DefaultHoldDuration},
		Reconciler: ReconcilerConfig{
			Interval:    DefaultSweepInterval,
			Workers:     DefaultSweepWorkers,
			ItemTimeout: DefaultSweepItemTimeout,
		},
		Metrics: MetricsConfig{Addr: DefaultMetricsAddr},
		Log:     LogConfig{Level: DefaultLogLevel},
	}
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate は設定値の整合性をチェックします
func (c *Config) Validate() error {
	if c.Reservation.HoldDuration <= 0 {
		return fmt.Errorf("hold duration must be positive: %v", c.Reservation.HoldDuration)
	}
	if c.Reconciler.Interval <= 0 {
		return fmt.Errorf("sweep interval must be positive: %v", c.Reconciler.Interval)
	}
	if c.Reconciler.Workers <= 0 {
		return fmt.Errorf("sweep workers must be positive: %d", c.Reconciler.Workers)
	}
	if c.Reconciler.ItemTimeout <= 0 {
		return fmt.Errorf("sweep item timeout must be positive: %v", c.Reconciler.ItemTimeout)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	log.Info().Str("key", key).Msg("Environment variable is not set, using default value")
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Warn().Str("key", key).Msg("Environment variable is not a valid integer, using default value")
	}
	return defaultValue
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
		log.Warn().Str("key", key).Msg("Environment variable is not a valid bool, using default value")
	}
	return defaultValue
}

func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Warn().Str("key", key).Msg("Environment variable is not a valid duration, using default value")
	}
	return defaultValue
}

// Check if SDK is disabled
func sdkDisabled() bool {
	disableKey := os.Getenv(xraySDKDisabledEnvKey)
	return strings.ToLower(disableKey) == "true"
}
