// Package config loads all service configuration from the environment.
// LoadAll reports every problem at once instead of failing on the first,
// so a botched deploy shows the full list in one log line.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Gateway   GatewayConfig
	Dispatch  DispatchConfig
	Scheduler SchedulerConfig
	Redis     RedisConfig
	Intake    IntakeConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	PostgresURL string
}

type GatewayConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

type DispatchConfig struct {
	MaxAttempts int
	BatchSize   int
	Concurrency int
}

type SchedulerConfig struct {
	Interval time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type IntakeConfig struct {
	Enabled bool
	URL     string
	Queue   string
}

func LoadAll() (*Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	postgresURL, err := requireEnv("POSTGRES_URL")
	collect(err)

	gatewayURL, err := requireEnv("GATEWAY_URL")
	collect(err)

	gatewayTimeout, err := getEnvInt("GATEWAY_TIMEOUT_SECONDS", 10)
	collect(err)

	maxAttempts, err := getEnvInt("DISPATCH_MAX_ATTEMPTS", 3)
	collect(err)

	batchSize, err := getEnvInt("DISPATCH_BATCH_SIZE", 50)
	collect(err)

	concurrency, err := getEnvInt("DISPATCH_CONCURRENCY", 4)
	collect(err)

	intervalSeconds, err := getEnvInt("SCHED_INTERVAL_SECONDS", 30)
	collect(err)

	redisCfg, err := loadRedisConfig()
	collect(err)

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			PostgresURL: postgresURL,
		},
		Gateway: GatewayConfig{
			URL:     gatewayURL,
			APIKey:  os.Getenv("GATEWAY_API_KEY"),
			Timeout: time.Duration(gatewayTimeout) * time.Second,
		},
		Dispatch: DispatchConfig{
			MaxAttempts: maxAttempts,
			BatchSize:   batchSize,
			Concurrency: concurrency,
		},
		Scheduler: SchedulerConfig{
			Interval: time.Duration(intervalSeconds) * time.Second,
		},
		Redis:  redisCfg,
		Intake: loadIntakeConfig(),
	}

	errs = append(errs, validate(cfg)...)

	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	db, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return RedisConfig{}, err
	}
	ttlSeconds, err := getEnvInt("REDIS_TTL_SECONDS", 86400)
	if err != nil {
		return RedisConfig{}, err
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttlSeconds) * time.Second,
	}, nil
}

func loadIntakeConfig() IntakeConfig {
	url := os.Getenv("AMQP_URL")
	if url == "" {
		return IntakeConfig{Enabled: false}
	}

	return IntakeConfig{
		Enabled: true,
		URL:     url,
		Queue:   getEnv("AMQP_QUEUE", "lead-decisions"),
	}
}

func validate(cfg *Config) []error {
	var errs []error
	if cfg.Dispatch.MaxAttempts <= 0 {
		errs = append(errs, errors.New("DISPATCH_MAX_ATTEMPTS must be > 0"))
	}
	if cfg.Dispatch.BatchSize <= 0 {
		errs = append(errs, errors.New("DISPATCH_BATCH_SIZE must be > 0"))
	}
	if cfg.Dispatch.Concurrency <= 0 {
		errs = append(errs, errors.New("DISPATCH_CONCURRENCY must be > 0"))
	}
	if cfg.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("SCHED_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Gateway.Timeout <= 0 {
		errs = append(errs, errors.New("GATEWAY_TIMEOUT_SECONDS must be > 0"))
	}
	return errs
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid int for env %s: %q", key, v)
	}
	return i, nil
}

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}
