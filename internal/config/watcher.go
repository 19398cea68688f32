package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const defaultPollInterval = 5 * time.Second

// ChangeFunc receives a newly loaded config together with what changed
// relative to the previous one. It is never called for edits that do not
// change any setting (comments, formatting, key order).
type ChangeFunc func(next *Config, d ConfigDiff)

// Watcher polls a config file and hands valid changes to a [ChangeFunc].
// Invalid edits are logged and counted; the previous config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc
	logger   *slog.Logger

	mu      sync.Mutex
	current *Config
	stamp   fileStamp

	rejected atomic.Int64
}

// fileStamp identifies one version of the watched file.
type fileStamp struct {
	mtime time.Time
	size  int64
	sum   [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger sets the logger. Defaults to [slog.Default].
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// NewWatcher loads path once and returns a watcher for it. Polling starts
// when [Watcher.Run] is called.
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: defaultPollInterval,
		onChange: onChange,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, stamp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current = cfg
	w.stamp = stamp
	return w, nil
}

// Current returns the most recently accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Rejected reports how many changed file versions failed to load or validate.
func (w *Watcher) Rejected() int64 { return w.rejected.Load() }

// Run polls until ctx is done and then returns ctx.Err().
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Warn("config watcher: stat failed", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	prev := w.stamp
	w.mu.Unlock()
	if info.ModTime().Equal(prev.mtime) && info.Size() == prev.size {
		return
	}

	cfg, stamp, err := w.read()
	if err != nil {
		// Remember the stamp so a broken file is reported once, not every tick.
		w.mu.Lock()
		w.stamp.mtime, w.stamp.size = info.ModTime(), info.Size()
		w.mu.Unlock()
		w.rejected.Add(1)
		w.logger.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	old := w.current
	sameBytes := stamp.sum == w.stamp.sum
	w.stamp = stamp
	if sameBytes {
		w.mu.Unlock()
		return
	}
	d := Diff(old, cfg)
	if d.Empty() {
		w.mu.Unlock()
		w.logger.Debug("config watcher: file changed without setting changes", "path", w.path)
		return
	}
	w.current = cfg
	w.mu.Unlock()

	w.logger.Info("config watcher: configuration reloaded",
		"path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"view_changed", d.ViewChanged,
		"restart_required", d.RestartRequired,
	)
	if w.onChange != nil {
		w.onChange(cfg, d)
	}
}

// read loads and validates the file and stamps the bytes it parsed.
func (w *Watcher) read() (*Config, fileStamp, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileStamp{}, err
	}
	return cfg, fileStamp{mtime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}, nil
}
