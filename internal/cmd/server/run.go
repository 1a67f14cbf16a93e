package serverrun

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/auth"
	cfgpkg "github.com/tlgselvi/desewebv5-gitops-sub006/internal/config"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/consumer"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/envelope"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/gateway"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/metrics"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/producer"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/runtime"
	grpcserver "github.com/tlgselvi/desewebv5-gitops-sub006/internal/server/grpc"
	httpserver "github.com/tlgselvi/desewebv5-gitops-sub006/internal/server/http"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/server/http/controllers"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/telemetry"
	logpkg "github.com/tlgselvi/desewebv5-gitops-sub006/pkg/log"
)

const gatewayCloseTimeout = 5 * time.Second

type Options struct {
	Config cfgpkg.Config
	// ConfigPath, when set, is watched; log level changes apply live.
	ConfigPath string
	// Logger overrides the logger built from Config.Log.
	Logger logpkg.Logger
	// Registry overrides the default event registry.
	Registry *envelope.Registry
	// Handlers are bound on every configured consumer. Registered types
	// without one only fan out to the gateway.
	Handlers map[string]consumer.Handler
	// HTTPListener replaces listening on Config.HTTP.Addr. Tests only.
	HTTPListener net.Listener
}

func buildLogger(cfg cfgpkg.LogConfig) logpkg.Logger {
	logger, err := logpkg.ApplyConfig(&logpkg.Config{Level: cfg.Level, Format: cfg.Format})
	if err != nil {
		lvl := logpkg.InfoLevel
		if l, e := logpkg.ParseLevel(cfg.Level); e == nil {
			lvl = l
		}
		logger = logpkg.NewLogger(logpkg.WithLevel(lvl), logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}
	return logger
}

func consumerOptions(cfg cfgpkg.Config) consumer.Options {
	o := consumer.DefaultOptions()
	c := cfg.Consumer
	o.ReadCount = c.ReadCount
	o.Block = c.Block()
	o.MaxDeliveries = c.MaxDeliveries
	o.ClaimIdle = c.ClaimIdle()
	o.SweepInterval = c.SweepInterval()
	o.ShutdownTimeout = c.ShutdownTimeout()
	o.IdempotencyTTL = cfg.Idempotency.TTL()
	return o
}

func fanOutOnly(context.Context, *envelope.Event) error { return nil }

// fanOutBindings decides which bindings broadcast to the gateway. An explicit
// FanOut wins. For a topic with no explicit fanOut: true, the first group
// bound to it fans out, with all of its members since the group splits
// entries between them.
func fanOutBindings(bindings []cfgpkg.ConsumerBinding) []bool {
	explicit := make(map[string]bool)
	for _, b := range bindings {
		if b.FanOut != nil && *b.FanOut {
			explicit[b.Topic] = true
		}
	}
	owner := make(map[string]string)
	for _, b := range bindings {
		if b.FanOut != nil || explicit[b.Topic] {
			continue
		}
		if _, ok := owner[b.Topic]; !ok {
			owner[b.Topic] = b.Group
		}
	}
	out := make([]bool, len(bindings))
	for i, b := range bindings {
		if b.FanOut != nil {
			out[i] = *b.FanOut
			continue
		}
		g, ok := owner[b.Topic]
		out[i] = ok && g == b.Group
	}
	return out
}

// Run starts the bus and blocks until ctx is cancelled or a signal
// arrives. Shutdown order: servers, consumers, gateway, janitor, storage.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if cfg.DataDir == "" {
		cfg.DataDir = cfgpkg.DefaultDataDir()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	procLogger := opts.Logger
	if procLogger == nil {
		procLogger = buildLogger(cfg.Log)
		logpkg.RedirectStdLog(procLogger)
	}

	shutdownTracing, err := telemetry.Setup(telemetry.Config{Stdout: cfg.Tracing.Stdout, ServiceName: "eventbus"})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(tctx)
	}()

	m := metrics.New(nil)
	rt, err := runtime.Open(sctx, runtime.Options{Config: cfg, Logger: procLogger, Metrics: m})
	if err != nil {
		return err
	}
	defer rt.Close()

	env, err := envelope.New(opts.Registry, []byte(cfg.Secret))
	if err != nil {
		return err
	}
	jwtManager, err := auth.NewJWTManager(cfg.GatewaySecret())
	if err != nil {
		return err
	}
	prod := producer.New(rt.Transport(), env, producer.WithLogger(procLogger), producer.WithMetrics(m))
	guard := rt.NewGuard()
	gw := gateway.New(gateway.Options{
		QueueDepth:     cfg.Gateway.QueueDepth,
		PingInterval:   cfg.Gateway.PingInterval(),
		PongWait:       cfg.Gateway.PongWait(),
		AllowedOrigins: cfg.Gateway.AllowedOrigins,
		Logger:         procLogger,
		Metrics:        m,
	})

	procLogger.Info("Starting event bus",
		logpkg.Str("grpc", cfg.GRPC.Addr),
		logpkg.Str("http", cfg.HTTP.Addr),
		logpkg.Str("transport", cfg.Transport),
		logpkg.Str("idempotency_store", cfg.Idempotency.Store),
		logpkg.Str("fail_mode", cfg.Idempotency.FailMode),
		logpkg.Int("consumers", len(cfg.Consumers)),
		logpkg.Str("level", cfg.Log.Level),
		logpkg.Str("format", cfg.Log.Format),
	)

	// Consumers outlive sctx so Stop decides when in-flight work ends.
	cctx, cancelConsumers := context.WithCancel(context.WithoutCancel(sctx))
	defer cancelConsumers()
	consumers := make([]*consumer.Consumer, 0, len(cfg.Consumers))
	stopConsumers := func() {
		for _, c := range consumers {
			if err := c.Stop(); err != nil {
				procLogger.Warn("consumer stop", logpkg.Err(err))
			}
		}
	}
	fanOut := fanOutBindings(cfg.Consumers)
	for i, b := range cfg.Consumers {
		copts := []consumer.Option{
			consumer.WithOptions(consumerOptions(cfg)),
			consumer.WithLogger(procLogger),
			consumer.WithMetrics(m),
		}
		if fanOut[i] {
			copts = append(copts, consumer.WithFanOut(gw))
		}
		c := consumer.New(rt.Transport(), env, guard, copts...)
		for _, t := range env.Registry().Types() {
			h := opts.Handlers[t]
			if h == nil {
				h = fanOutOnly
			}
			if err := c.OnEvent(t, h); err != nil {
				stopConsumers()
				return err
			}
		}
		if err := c.Start(cctx, b.Topic, b.Group, b.Consumer); err != nil {
			stopConsumers()
			return err
		}
		consumers = append(consumers, c)
	}
	statuses := func() []consumer.Status {
		out := make([]consumer.Status, len(consumers))
		for i, c := range consumers {
			out[i] = c.Status()
		}
		return out
	}

	hsrv := httpserver.New(httpserver.Options{
		Deps: controllers.Deps{
			Runtime:   rt,
			Producer:  prod,
			Guard:     guard,
			Metrics:   m,
			Consumers: statuses,
			Logger:    procLogger,
		},
		Gateway:        gw,
		Authenticator:  jwtManager,
		AllowedOrigins: cfg.Gateway.AllowedOrigins,
	})
	var gsrv *grpcserver.Server
	if cfg.GRPC.Addr != "" {
		gsrv = grpcserver.New(rt, statuses, procLogger)
	}

	var watcher *cfgpkg.Watcher
	if opts.ConfigPath != "" {
		watcher, err = cfgpkg.NewWatcher(opts.ConfigPath, procLogger)
		if err != nil {
			procLogger.Warn("config watch disabled", logpkg.Err(err))
		} else {
			watcher.OnChange(func(c cfgpkg.Config) {
				if lvl, err := logpkg.ParseLevel(c.Log.Level); err == nil {
					procLogger.SetLevel(lvl)
					procLogger.Info("log level changed", logpkg.Str("level", c.Log.Level))
				}
			})
			defer watcher.Close()
		}
	}

	jctx, cancelJanitor := context.WithCancel(sctx)
	var janitor sync.WaitGroup
	janitor.Add(1)
	go func() {
		defer janitor.Done()
		rt.RunJanitor(jctx)
	}()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	if gsrv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := gsrv.ListenAndServe(sctx, cfg.GRPC.Addr); err != nil && sctx.Err() == nil {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}
	if opts.HTTPListener != nil || cfg.HTTP.Addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			if opts.HTTPListener != nil {
				err = hsrv.Serve(sctx, opts.HTTPListener)
			} else {
				err = hsrv.ListenAndServe(sctx, cfg.HTTP.Addr)
			}
			if err != nil && sctx.Err() == nil {
				errCh <- fmt.Errorf("http: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-sctx.Done():
	case runErr = <-errCh:
		procLogger.Error("server failed", logpkg.Err(runErr))
		stop()
	}

	// Servers first so no new publishes or sockets arrive.
	if gsrv != nil {
		gsrv.Close()
	}
	hsrv.Close()
	wg.Wait()

	stopConsumers()

	gctx, cancel := context.WithTimeout(context.Background(), gatewayCloseTimeout)
	if err := gw.Close(gctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		procLogger.Warn("gateway close", logpkg.Err(err))
	}
	cancel()

	cancelJanitor()
	janitor.Wait()
	procLogger.Info("event bus stopped")
	return runErr
}
