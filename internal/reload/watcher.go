// Package reload provides configuration hot-reload via file polling and signal handling.
package reload

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const defaultPollInterval = 5 * time.Second

// WatcherConfig configures the file watcher.
type WatcherConfig struct {
	// ConfigPath is the path to the configuration file to watch.
	ConfigPath string

	// Companions are extra files whose changes also require a reload,
	// such as the .env file read next to the config. Missing files are
	// tracked too: creating one counts as a change.
	Companions []string

	// PollInterval is how often to check for file changes.
	// Defaults to 5 seconds if zero.
	PollInterval time.Duration
}

// EventType describes the type of file change event.
type EventType string

const (
	// EventModified indicates a watched file was created or modified.
	EventModified EventType = "modified"
	// EventRemoved indicates a companion file disappeared.
	EventRemoved EventType = "removed"
)

// Event represents a file change notification.
type Event struct {
	Type       EventType
	ConfigPath string
	// Path is the file that changed: ConfigPath or one of the companions.
	Path string
}

// stamp identifies one version of a file.
type stamp struct {
	mod  time.Time
	size int64
}

func statStamp(path string) (stamp, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return stamp{}, false
	}
	return stamp{mod: info.ModTime(), size: info.Size()}, true
}

// Watcher polls a configuration file and its companions for modifications.
type Watcher struct {
	cfg     WatcherConfig
	events  chan Event
	stop    chan struct{}
	stopped chan struct{}

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewWatcher creates a new file watcher.
func NewWatcher(cfg WatcherConfig) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Watcher{
		cfg:     cfg,
		events:  make(chan Event, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start begins polling. Only the first call starts the goroutine.
func (w *Watcher) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		w.started.Store(true)
		go w.poll(ctx)
	})
}

// Events returns the channel of file change events. At most one event is
// buffered; changes seen while it is pending are coalesced into it.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Stop stops the watcher and waits for the polling goroutine to exit.
// Safe to call multiple times and before Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
	if w.started.Load() {
		<-w.stopped
	}
}

func (w *Watcher) paths() []string {
	return append([]string{w.cfg.ConfigPath}, w.cfg.Companions...)
}

func (w *Watcher) poll(ctx context.Context) {
	defer close(w.stopped)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	seen := make(map[string]stamp)
	for _, p := range w.paths() {
		if s, ok := statStamp(p); ok {
			seen[p] = s
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			if evt, changed := w.scan(seen); changed {
				select {
				case w.events <- evt:
				default:
				}
			}
		}
	}
}

// scan updates seen and reports the first change found. The config file
// itself vanishing is ignored: editors often replace it in two steps.
func (w *Watcher) scan(seen map[string]stamp) (Event, bool) {
	var (
		evt     Event
		changed bool
	)
	for i, p := range w.paths() {
		cur, ok := statStamp(p)
		prev, had := seen[p]
		var typ EventType
		switch {
		case ok && (!had || cur != prev):
			seen[p] = cur
			typ = EventModified
		case !ok && had && i > 0:
			delete(seen, p)
			typ = EventRemoved
		default:
			continue
		}
		if !changed {
			evt = Event{Type: typ, ConfigPath: w.cfg.ConfigPath, Path: p}
			changed = true
		}
	}
	return evt, changed
}
