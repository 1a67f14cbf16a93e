package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	DataDir     string            `json:"dataDir" yaml:"dataDir"`
	HTTP        ListenConfig      `json:"http" yaml:"http"`
	GRPC        ListenConfig      `json:"grpc" yaml:"grpc"`
	Transport   string            `json:"transport" yaml:"transport" validate:"oneof=pebble memory"`
	Fsync       string            `json:"fsync" yaml:"fsync" validate:"oneof=always interval never"`
	Secret      string            `json:"secret" yaml:"secret" validate:"required,min=16"`
	Log         LogConfig         `json:"log" yaml:"log"`
	Consumers   []ConsumerBinding `json:"consumers" yaml:"consumers" validate:"dive"`
	Consumer    ConsumerConfig    `json:"consumer" yaml:"consumer"`
	Gateway     GatewayConfig     `json:"gateway" yaml:"gateway"`
	Idempotency IdempotencyConfig `json:"idempotency" yaml:"idempotency"`
	Retention   RetentionConfig   `json:"retention" yaml:"retention"`
	Tracing     TracingConfig     `json:"tracing" yaml:"tracing"`
}

// ListenConfig is a server listen address. An empty Addr disables the server.
type ListenConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// LogConfig selects log level and format.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" validate:"oneof=debug info warn warning error fatal"`
	Format string `json:"format" yaml:"format" validate:"oneof=text json"`
}

// ConsumerBinding starts one consumer of group on topic. An empty Consumer
// gets a generated name.
type ConsumerBinding struct {
	Topic    string `json:"topic" yaml:"topic" validate:"required"`
	Group    string `json:"group" yaml:"group" validate:"required"`
	Consumer string `json:"consumer,omitempty" yaml:"consumer,omitempty"`
	// FanOut forwards handled events to WebSocket subscribers. When unset,
	// only the first group bound to a topic fans out so subscribers see each
	// event once.
	FanOut *bool `json:"fanOut,omitempty" yaml:"fanOut,omitempty"`
}

// ConsumerConfig tunes every consumer group runtime.
type ConsumerConfig struct {
	MaxDeliveries     int   `json:"maxDeliveries" yaml:"maxDeliveries" validate:"gte=1"`
	ReadCount         int   `json:"readCount" yaml:"readCount" validate:"gte=1"`
	BlockMs           int64 `json:"blockMs" yaml:"blockMs" validate:"gte=0"`
	ClaimIdleMs       int64 `json:"claimIdleMs" yaml:"claimIdleMs" validate:"gte=0"`
	SweepIntervalMs   int64 `json:"sweepIntervalMs" yaml:"sweepIntervalMs" validate:"gt=0"`
	ShutdownTimeoutMs int64 `json:"shutdownTimeoutMs" yaml:"shutdownTimeoutMs" validate:"gt=0"`
}

// GatewayConfig tunes the WebSocket fan-out gateway.
type GatewayConfig struct {
	QueueDepth     int      `json:"queueDepth" yaml:"queueDepth" validate:"gte=1"`
	PingIntervalMs int64    `json:"pingIntervalMs" yaml:"pingIntervalMs" validate:"gt=0"`
	PongWaitMs     int64    `json:"pongWaitMs" yaml:"pongWaitMs" validate:"gtfield=PingIntervalMs"`
	JWTSecret      string   `json:"jwtSecret" yaml:"jwtSecret"`
	AllowedOrigins []string `json:"allowedOrigins" yaml:"allowedOrigins"`
}

// IdempotencyConfig selects the idempotency store and its timings.
type IdempotencyConfig struct {
	Store            string `json:"store" yaml:"store" validate:"oneof=pebble memory postgres"`
	PostgresDSN      string `json:"postgresDSN" yaml:"postgresDSN" validate:"required_if=Store postgres"`
	TTLSeconds       int64  `json:"ttlSeconds" yaml:"ttlSeconds" validate:"gt=0"`
	FailedTTLSeconds int64  `json:"failedTtlSeconds" yaml:"failedTtlSeconds" validate:"gte=0"`
	WaitTimeoutMs    int64  `json:"waitTimeoutMs" yaml:"waitTimeoutMs" validate:"gt=0"`
	FailMode         string `json:"failMode" yaml:"failMode" validate:"oneof=open closed"`
}

// RetentionConfig bounds stream size. Zero disables a limit.
type RetentionConfig struct {
	MaxAgeMs   int64 `json:"maxAgeMs" yaml:"maxAgeMs" validate:"gte=0"`
	MaxBytes   int64 `json:"maxBytes" yaml:"maxBytes" validate:"gte=0"`
	IntervalMs int64 `json:"intervalMs" yaml:"intervalMs" validate:"gt=0"`
}

// TracingConfig enables the stdout span exporter.
type TracingConfig struct {
	Stdout bool `json:"stdout" yaml:"stdout"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		DataDir:   DefaultDataDir(),
		HTTP:      ListenConfig{Addr: ":8080"},
		GRPC:      ListenConfig{Addr: ":50051"},
		Transport: "pebble",
		Fsync:     "always",
		Log:       LogConfig{Level: "info", Format: "text"},
		Consumer: ConsumerConfig{
			MaxDeliveries:     5,
			ReadCount:         10,
			BlockMs:           1000,
			ClaimIdleMs:       30_000,
			SweepIntervalMs:   30_000,
			ShutdownTimeoutMs: 10_000,
		},
		Gateway: GatewayConfig{
			QueueDepth:     100,
			PingIntervalMs: 30_000,
			PongWaitMs:     60_000,
		},
		Idempotency: IdempotencyConfig{
			Store:            "pebble",
			TTLSeconds:       24 * 60 * 60,
			FailedTTLSeconds: 60 * 60,
			WaitTimeoutMs:    5000,
			FailMode:         "open",
		},
		Retention: RetentionConfig{
			MaxAgeMs:   7 * 24 * 60 * 60 * 1000,
			IntervalMs: 60_000,
		},
	}
}

// Load reads configuration from a JSON or YAML file (by extension) over the
// defaults. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	default:
		err = json.Unmarshal(b, &cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// GatewaySecret is the JWT secret, falling back to the signing secret.
func (c Config) GatewaySecret() string {
	if c.Gateway.JWTSecret != "" {
		return c.Gateway.JWTSecret
	}
	return c.Secret
}

func ms(v int64) time.Duration { return time.Duration(v) * time.Millisecond }

// Block is the consumer read block duration.
func (c ConsumerConfig) Block() time.Duration { return ms(c.BlockMs) }

// ClaimIdle is the minimum idle time before a pending entry is claimed.
func (c ConsumerConfig) ClaimIdle() time.Duration { return ms(c.ClaimIdleMs) }

func (c ConsumerConfig) SweepInterval() time.Duration   { return ms(c.SweepIntervalMs) }
func (c ConsumerConfig) ShutdownTimeout() time.Duration { return ms(c.ShutdownTimeoutMs) }

func (c GatewayConfig) PingInterval() time.Duration { return ms(c.PingIntervalMs) }
func (c GatewayConfig) PongWait() time.Duration     { return ms(c.PongWaitMs) }

func (c IdempotencyConfig) TTL() time.Duration { return time.Duration(c.TTLSeconds) * time.Second }
func (c IdempotencyConfig) FailedTTL() time.Duration {
	return time.Duration(c.FailedTTLSeconds) * time.Second
}
func (c IdempotencyConfig) WaitTimeout() time.Duration { return ms(c.WaitTimeoutMs) }

func (c RetentionConfig) MaxAge() time.Duration   { return ms(c.MaxAgeMs) }
func (c RetentionConfig) Interval() time.Duration { return ms(c.IntervalMs) }
