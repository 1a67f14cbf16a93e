package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/tlgselvi/desewebv5-gitops-sub006/pkg/log"
)

// Watcher reloads a config file when it changes and hands each valid
// result to the registered callbacks. Invalid files keep the previous
// config.
type Watcher struct {
	path   string
	logger log.Logger

	mu       sync.RWMutex
	current  Config
	onChange []func(Config)

	fw   *fsnotify.Watcher
	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatcher loads path once and starts watching it. The directory is
// watched so editors that replace the file are seen too.
func NewWatcher(path string, logger log.Logger) (*Watcher, error) {
	cfg, err := loadFull(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", path, err)
	}
	if logger == nil {
		logger = log.NewLogger(log.WithOutput(log.NullOutput{}))
	}
	w := &Watcher{
		path:    path,
		logger:  logger.With(log.Component("config")),
		current: cfg,
		fw:      fw,
		done:    make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func loadFull(path string) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return Config{}, err
	}
	FromEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Config returns the latest valid config.
func (w *Watcher) Config() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers fn for every successful reload.
func (w *Watcher) OnChange(fn func(Config)) {
	w.mu.Lock()
	w.onChange = append(w.onChange, fn)
	w.mu.Unlock()
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	target := filepath.Clean(w.path)
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			w.reload()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", log.Err(err))
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := loadFull(w.path)
	if err != nil {
		w.logger.Warn("config reload rejected", log.Str("path", w.path), log.Err(err))
		return
	}
	w.mu.Lock()
	w.current = cfg
	callbacks := make([]func(Config), len(w.onChange))
	copy(callbacks, w.onChange)
	w.mu.Unlock()
	w.logger.Info("config reloaded", log.Str("path", w.path))
	for _, fn := range callbacks {
		fn(cfg)
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
	}
	close(w.done)
	err := w.fw.Close()
	w.wg.Wait()
	return err
}
