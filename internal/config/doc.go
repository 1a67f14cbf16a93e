// Package config loads event bus configuration. Default() is the baseline;
// Load overlays a JSON or YAML file, FromEnv overlays EVENT_BUS_* variables
// (optionally seeded from a .env file by LoadDotEnv) and Validate checks the
// result. Watcher reloads the file on change.
//
// Example:
//
//	_ = config.LoadDotEnv("")
//	cfg, err := config.Load("/etc/eventbus.yaml")
//	if err != nil {
//	    return err
//	}
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
package config
