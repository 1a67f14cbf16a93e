package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// DataDirEnv overrides the computed default data directory.
const DataDirEnv = EnvPrefix + "DATA_DIR"

// DefaultDataDir picks where the Pebble store (event log, consumer groups,
// idempotency records) lives when the config does not say. Order:
// EVENT_BUS_DATA_DIR, $XDG_DATA_HOME/eventbus, /var/lib/eventbus for root or
// when it already exists, the OS application-data dir, ~/.eventbus, ./data.
func DefaultDataDir() string {
	if dir := os.Getenv(DataDirEnv); dir != "" {
		return dir
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "eventbus")
	}
	if runtime.GOOS == "linux" {
		// /var/lib is only usable by a service account or root.
		if isDir("/var/lib/eventbus") || (os.Geteuid() == 0 && isDir("/var/lib")) {
			return "/var/lib/eventbus"
		}
	}

	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./data"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "EventBus")
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, "EventBus")
		}
		return filepath.Join(home, "AppData", "Local", "EventBus")
	}
	return filepath.Join(home, ".eventbus")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
