package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config top-level struct; one file per service, same shape everywhere.
type Config struct {
	Service     string            `yaml:"service"`
	LogLevel    string            `yaml:"logLevel"`
	Server      ServerConfig      `yaml:"server"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Redis       RedisConfig       `yaml:"redis"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	RateLimit   RateLimitConfig   `yaml:"ratelimit"`
	Consumer    ConsumerConfig    `yaml:"consumer"`
	Outbox      OutboxConfig      `yaml:"outbox"`
	Guardrail   GuardrailConfig   `yaml:"guardrail"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// ConsumerConfig bounds the message handler pool and the retry budget before
// a message is parked on the dead-letter topic.
type ConsumerConfig struct {
	Concurrency    int `yaml:"concurrency"`
	MaxRetries     int `yaml:"maxRetries"`
	RetryBackoffMs int `yaml:"retryBackoffMs"`
}

type OutboxConfig struct {
	PollIntervalMs int `yaml:"pollIntervalMs"`
	BatchSize      int `yaml:"batchSize"`
}

type GuardrailConfig struct {
	Enabled              bool   `yaml:"enabled"`
	FailOpen             bool   `yaml:"failOpen"`
	KeyPrefix            string `yaml:"keyPrefix"`
	MaxInFlightPerSKU    int    `yaml:"maxInFlightPerSku"`
	InFlightTTLSeconds   int    `yaml:"inFlightTtlSeconds"`
	HotSKUWindowSeconds  int    `yaml:"hotSkuWindowSeconds"`
	HotSKUEnterThreshold int    `yaml:"hotSkuEnterThreshold"`
	HotSKUExitThreshold  int    `yaml:"hotSkuExitThreshold"`
	HotSKUTTLSeconds     int    `yaml:"hotSkuTtlSeconds"`
}

type ConcurrencyConfig struct {
	Mode   string       `yaml:"mode"`
	Hybrid HybridConfig `yaml:"hybrid"`
}

type HybridConfig struct {
	Enabled                        bool `yaml:"enabled"`
	CanaryPercent                  int  `yaml:"canaryPercent"`
	LowStockThreshold              int  `yaml:"lowStockThreshold"`
	ConservativeOnGuardrailFailure bool `yaml:"conservativeOnGuardrailFailure"`
}

// RetryBackoff returns the configured backoff with a fallback default.
func (c ConsumerConfig) RetryBackoff() time.Duration {
	if c.RetryBackoffMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.RetryBackoffMs) * time.Millisecond
}

// Load reads a yaml config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}
	return &cfg, nil
}
