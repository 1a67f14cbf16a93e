package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every configuration variable.
const EnvPrefix = "EVENT_BUS_"

// LoadDotEnv loads variables from path (".env" when empty) without
// overriding ones already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// FromEnv overlays EVENT_BUS_* environment variables onto cfg. Malformed
// numbers and booleans are ignored.
func FromEnv(cfg *Config) {
	str := func(name string, dst *string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	i64 := func(name string, dst *int64) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}
	num := func(name string, dst *int) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str("DATA_DIR", &cfg.DataDir)
	str("HTTP_ADDR", &cfg.HTTP.Addr)
	str("GRPC_ADDR", &cfg.GRPC.Addr)
	str("TRANSPORT", &cfg.Transport)
	str("FSYNC", &cfg.Fsync)
	str("SECRET", &cfg.Secret)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)

	num("MAX_DELIVERIES", &cfg.Consumer.MaxDeliveries)
	num("READ_COUNT", &cfg.Consumer.ReadCount)
	i64("BLOCK_MS", &cfg.Consumer.BlockMs)
	i64("CLAIM_IDLE_MS", &cfg.Consumer.ClaimIdleMs)
	i64("SWEEP_INTERVAL_MS", &cfg.Consumer.SweepIntervalMs)
	i64("SHUTDOWN_TIMEOUT_MS", &cfg.Consumer.ShutdownTimeoutMs)

	num("WS_QUEUE_DEPTH", &cfg.Gateway.QueueDepth)
	i64("WS_PING_INTERVAL_MS", &cfg.Gateway.PingIntervalMs)
	i64("WS_PONG_WAIT_MS", &cfg.Gateway.PongWaitMs)
	str("JWT_SECRET", &cfg.Gateway.JWTSecret)
	if v := os.Getenv(EnvPrefix + "WS_ALLOWED_ORIGINS"); v != "" {
		cfg.Gateway.AllowedOrigins = splitList(v)
	}

	str("IDEMPOTENCY_STORE", &cfg.Idempotency.Store)
	str("IDEMPOTENCY_POSTGRES_DSN", &cfg.Idempotency.PostgresDSN)
	i64("IDEMPOTENCY_TTL_SECONDS", &cfg.Idempotency.TTLSeconds)
	i64("IDEMPOTENCY_FAILED_TTL_SECONDS", &cfg.Idempotency.FailedTTLSeconds)
	i64("IDEMPOTENCY_WAIT_TIMEOUT_MS", &cfg.Idempotency.WaitTimeoutMs)
	str("IDEMPOTENCY_FAIL_MODE", &cfg.Idempotency.FailMode)

	i64("RETENTION_MAX_AGE_MS", &cfg.Retention.MaxAgeMs)
	i64("RETENTION_MAX_BYTES", &cfg.Retention.MaxBytes)
	i64("RETENTION_INTERVAL_MS", &cfg.Retention.IntervalMs)

	if v := os.Getenv(EnvPrefix + "TRACING_STDOUT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Tracing.Stdout = b
		}
	}
	// EVENT_BUS_CONSUMERS=topic:group[:consumer],...
	if v := os.Getenv(EnvPrefix + "CONSUMERS"); v != "" {
		cfg.Consumers = nil
		for _, item := range splitList(v) {
			parts := strings.Split(item, ":")
			if len(parts) < 2 {
				continue
			}
			b := ConsumerBinding{Topic: parts[0], Group: parts[1]}
			if len(parts) > 2 {
				b.Consumer = parts[2]
			}
			cfg.Consumers = append(cfg.Consumers, b)
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
