package config

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// HotReloadConfig tunes the watcher's debounce behaviour.
type HotReloadConfig struct {
	WatchInterval time.Duration
	CooldownTime  time.Duration
}

// DefaultHotReloadConfig matches the teacher's defaults.
func DefaultHotReloadConfig() HotReloadConfig {
	return HotReloadConfig{WatchInterval: time.Second, CooldownTime: 5 * time.Second}
}

// Watcher reloads AppConfig on file-write events and hands the caller a
// re-validated config with api credentials and price.method pinned to their
// original startup values, per spec.md §9's "credentials and estimator
// method require a restart" design note. Grounded on
// internal/config/hot_reload.go's fsnotify watcher and stopChan/doneChan
// shutdown idiom.
type Watcher struct {
	cfg     HotReloadConfig
	path    string
	watcher *fsnotify.Watcher

	mu         sync.Mutex
	lastReload time.Time
	pinned     AppConfig

	stopChan chan struct{}
	doneChan chan struct{}
}

// NewWatcher opens an fsnotify watch on path. initial is the config loaded
// at startup; its api section and price.method are preserved across every
// subsequent reload regardless of what the file on disk says.
func NewWatcher(path string, initial AppConfig, cfg HotReloadConfig) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{
		cfg:      cfg,
		path:     path,
		watcher:  fw,
		pinned:   initial,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// Start watches for write/create events and invokes onUpdate with the
// reloaded, re-validated, pinned-field config. Runs until Stop is called.
func (w *Watcher) Start(onUpdate func(AppConfig)) {
	go w.watch(onUpdate)
}

// Stop closes the underlying fsnotify watcher and waits for the watch loop
// to exit.
func (w *Watcher) Stop() error {
	close(w.stopChan)
	<-w.doneChan
	return w.watcher.Close()
}

func (w *Watcher) watch(onUpdate func(AppConfig)) {
	defer close(w.doneChan)
	for {
		select {
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				w.handleChange(onUpdate)
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) handleChange(onUpdate func(AppConfig)) {
	w.mu.Lock()
	if time.Since(w.lastReload) < w.cfg.CooldownTime {
		w.mu.Unlock()
		return
	}
	w.lastReload = time.Now()
	pinned := w.pinned
	w.mu.Unlock()

	cfg, err := Load(w.path)
	if err != nil {
		return
	}
	cfg.API = pinned.API
	cfg.Price.Method = pinned.Price.Method
	if err := Validate(cfg); err != nil {
		return
	}
	if onUpdate != nil {
		onUpdate(cfg)
	}
}
