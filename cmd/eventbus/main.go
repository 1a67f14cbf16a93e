package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	clientcmd "github.com/tlgselvi/desewebv5-gitops-sub006/internal/cmd/client"
	serverrun "github.com/tlgselvi/desewebv5-gitops-sub006/internal/cmd/server"
	cfgpkg "github.com/tlgselvi/desewebv5-gitops-sub006/internal/config"
	logpkg "github.com/tlgselvi/desewebv5-gitops-sub006/pkg/log"
)

func main() {
	// Respect EVENT_BUS_LOG_LEVEL for both CLI and server start output
	level := os.Getenv(cfgpkg.EnvPrefix + "LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)

	rootCmd := clientcmd.NewRoot(apiURL)
	rootCmd.Short = "Event bus runtime CLI"
	rootCmd.Long = "eventbus runs the event bus server and talks to a running one."
	rootCmd.SilenceUsage = true

	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the event bus (HTTP, WebSocket and gRPC)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			envFile, _ := cmd.Flags().GetString("env-file")

			if err := cfgpkg.LoadDotEnv(envFile); err != nil {
				return err
			}
			cfg := cfgpkg.Default()
			if configPath != "" {
				logger.Info("loading config", logpkg.Str("path", configPath))
				loaded, err := cfgpkg.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			cfgpkg.FromEnv(&cfg)
			applyFlags(cmd, &cfg)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := serverrun.Run(ctx, serverrun.Options{
				Config:     cfg,
				ConfigPath: configPath,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	serverStartCmd.Flags().String("config", os.Getenv(cfgpkg.EnvPrefix+"CONFIG"), "Config file (JSON or YAML); reloaded on change")
	serverStartCmd.Flags().String("env-file", ".env", "dotenv file read before the environment (missing is fine)")
	serverStartCmd.Flags().String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	serverStartCmd.Flags().String("http", "", "HTTP listen address (API + WebSocket), default :8080")
	serverStartCmd.Flags().String("grpc", "", "gRPC listen address, default :50051")
	serverStartCmd.Flags().String("transport", "", "Stream transport: pebble|memory")
	serverStartCmd.Flags().String("fsync", "", "Fsync mode: always|interval|never")
	serverStartCmd.Flags().String("log-level", "", "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", "", "Log format: text|json")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// applyFlags lets explicitly set flags win over file and environment.
func applyFlags(cmd *cobra.Command, cfg *cfgpkg.Config) {
	str := func(name string, dst *string) {
		if cmd.Flags().Changed(name) {
			*dst, _ = cmd.Flags().GetString(name)
		}
	}
	str("data-dir", &cfg.DataDir)
	str("http", &cfg.HTTP.Addr)
	str("grpc", &cfg.GRPC.Addr)
	str("transport", &cfg.Transport)
	str("fsync", &cfg.Fsync)
	str("log-level", &cfg.Log.Level)
	str("log-format", &cfg.Log.Format)
}

func apiURL() string {
	if v := os.Getenv(cfgpkg.EnvPrefix + "HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}
