// Package serverrun composes the event bus process: storage, producer,
// consumer groups, the WebSocket gateway, the HTTP and gRPC servers and
// the retention janitor.
//
// Example:
//
//	cfg, _ := config.Load("/etc/eventbus.yaml")
//	config.FromEnv(&cfg)
//	_ = serverrun.Run(ctx, serverrun.Options{Config: cfg, ConfigPath: "/etc/eventbus.yaml"})
package serverrun
