package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef"

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Transport != "pebble" || cfg.Fsync != "always" {
		t.Fatalf("transport defaults: %+v", cfg)
	}
	if cfg.Consumer.MaxDeliveries != 5 || cfg.Consumer.ReadCount != 10 {
		t.Fatalf("consumer defaults: %+v", cfg.Consumer)
	}
	if cfg.Gateway.QueueDepth != 100 {
		t.Fatalf("queue depth default: %d", cfg.Gateway.QueueDepth)
	}
	if cfg.Idempotency.WaitTimeout() != 5*time.Second || cfg.Idempotency.TTL() != 24*time.Hour {
		t.Fatalf("idempotency defaults: %+v", cfg.Idempotency)
	}
	if cfg.Idempotency.FailMode != "open" {
		t.Fatalf("fail mode default: %s", cfg.Idempotency.FailMode)
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "secret") {
		t.Fatalf("expected missing secret error, got %v", err)
	}
	cfg.Secret = testSecret
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func write(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadJSON(t *testing.T) {
	p := write(t, "bus.json", `{"transport":"memory","secret":"`+testSecret+`","consumer":{"maxDeliveries":3},"consumers":[{"topic":"finbot.events","group":"analytics"}]}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Transport != "memory" || cfg.Consumer.MaxDeliveries != 3 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Consumer.ReadCount != 10 {
		t.Fatalf("defaults lost: %d", cfg.Consumer.ReadCount)
	}
	if len(cfg.Consumers) != 1 || cfg.Consumers[0].Group != "analytics" {
		t.Fatalf("consumers: %+v", cfg.Consumers)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	p := write(t, "bus.yaml", `
secret: `+testSecret+`
http:
  addr: ":9090"
idempotency:
  store: postgres
  postgresDSN: postgres://bus@localhost/bus
  failMode: closed
gateway:
  queueDepth: 10
  allowedOrigins: ["https://app.example.com"]
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":9090" || cfg.Idempotency.Store != "postgres" || cfg.Idempotency.FailMode != "closed" {
		t.Fatalf("yaml not applied: %+v", cfg)
	}
	if cfg.Gateway.QueueDepth != 10 || len(cfg.Gateway.AllowedOrigins) != 1 {
		t.Fatalf("gateway: %+v", cfg.Gateway)
	}
	if cfg.Gateway.PingIntervalMs != 30_000 {
		t.Fatalf("defaults lost: %+v", cfg.Gateway)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected read error")
	}
	if _, err := Load(write(t, "bad.yaml", "consumer: [")); err == nil {
		t.Fatalf("expected parse error")
	}
	cfg, err := Load("")
	if err != nil || cfg.Transport != "pebble" {
		t.Fatalf("empty path should give defaults: %v", err)
	}
}

func TestValidateReportsFields(t *testing.T) {
	cfg := Default()
	cfg.Secret = testSecret
	cfg.Transport = "kafka"
	cfg.Idempotency.Store = "postgres"
	cfg.Idempotency.FailMode = "maybe"
	cfg.Consumers = []ConsumerBinding{{Topic: "t"}}
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"transport", "postgresDSN", "failMode", "consumers[0].group"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %q in %v", want, err)
		}
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("EVENT_BUS_TRANSPORT", "memory")
	t.Setenv("EVENT_BUS_SECRET", testSecret)
	t.Setenv("EVENT_BUS_MAX_DELIVERIES", "7")
	t.Setenv("EVENT_BUS_BLOCK_MS", "250")
	t.Setenv("EVENT_BUS_READ_COUNT", "oops")
	t.Setenv("EVENT_BUS_WS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("EVENT_BUS_IDEMPOTENCY_FAIL_MODE", "closed")
	t.Setenv("EVENT_BUS_TRACING_STDOUT", "true")
	t.Setenv("EVENT_BUS_CONSUMERS", "finbot.events:analytics, mubot.events:quality:worker-1, broken")

	cfg := Default()
	FromEnv(&cfg)
	if cfg.Transport != "memory" || cfg.Secret != testSecret {
		t.Fatalf("strings: %+v", cfg)
	}
	if cfg.Consumer.MaxDeliveries != 7 || cfg.Consumer.Block() != 250*time.Millisecond {
		t.Fatalf("numbers: %+v", cfg.Consumer)
	}
	if cfg.Consumer.ReadCount != 10 {
		t.Fatalf("malformed value should be ignored: %d", cfg.Consumer.ReadCount)
	}
	if len(cfg.Gateway.AllowedOrigins) != 2 || cfg.Gateway.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("origins: %v", cfg.Gateway.AllowedOrigins)
	}
	if cfg.Idempotency.FailMode != "closed" || !cfg.Tracing.Stdout {
		t.Fatalf("idempotency/tracing: %+v %+v", cfg.Idempotency, cfg.Tracing)
	}
	if len(cfg.Consumers) != 2 || cfg.Consumers[1].Consumer != "worker-1" {
		t.Fatalf("consumers: %+v", cfg.Consumers)
	}
}

func TestLoadDotEnv(t *testing.T) {
	p := write(t, ".env", "EVENT_BUS_TEST_DOTENV=from-file\nEVENT_BUS_TEST_KEEP=from-file\n")
	t.Setenv("EVENT_BUS_TEST_KEEP", "from-env")
	t.Cleanup(func() { os.Unsetenv("EVENT_BUS_TEST_DOTENV") })
	if err := LoadDotEnv(p); err != nil {
		t.Fatalf("load: %v", err)
	}
	if os.Getenv("EVENT_BUS_TEST_DOTENV") != "from-file" {
		t.Fatalf("dotenv value not loaded")
	}
	if os.Getenv("EVENT_BUS_TEST_KEEP") != "from-env" {
		t.Fatalf("existing variable overridden")
	}
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "none.env")); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}
}

func TestGatewaySecretFallback(t *testing.T) {
	cfg := Default()
	cfg.Secret = "signing"
	if cfg.GatewaySecret() != "signing" {
		t.Fatalf("expected fallback")
	}
	cfg.Gateway.JWTSecret = "jwt"
	if cfg.GatewaySecret() != "jwt" {
		t.Fatalf("expected jwt secret")
	}
}
