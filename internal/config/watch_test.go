package config

import (
	"os"
	"testing"
	"time"
)

func TestWatcherReloads(t *testing.T) {
	p := write(t, "bus.yaml", "secret: "+testSecret+"\nlog:\n  level: info\n")
	w, err := NewWatcher(p, nil)
	if err != nil {
		t.Fatalf("watcher: %v", err)
	}
	defer w.Close()
	if w.Config().Log.Level != "info" {
		t.Fatalf("initial level: %s", w.Config().Log.Level)
	}

	got := make(chan Config, 4)
	w.OnChange(func(c Config) { got <- c })

	// Invalid content is rejected and keeps the previous config.
	if err := os.WriteFile(p, []byte("secret: short\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if w.Config().Secret != testSecret {
		t.Fatalf("invalid config applied")
	}

	if err := os.WriteFile(p, []byte("secret: "+testSecret+"\nlog:\n  level: debug\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.After(3 * time.Second)
	for {
		select {
		case c := <-got:
			if c.Log.Level == "debug" {
				if w.Config().Log.Level != "debug" {
					t.Fatalf("current not updated")
				}
				return
			}
		case <-deadline:
			t.Fatalf("no reload observed")
		}
	}
}

func TestWatcherRejectsInvalidInitialFile(t *testing.T) {
	p := write(t, "bus.json", `{"transport":"kafka"}`)
	if _, err := NewWatcher(p, nil); err == nil {
		t.Fatalf("expected validation error")
	}
}
