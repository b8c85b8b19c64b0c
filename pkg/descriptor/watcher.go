package descriptor

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/odvcencio/cardhost/pkg/logging"
)

// Watcher rescans a Registry when anything under its applications directory
// changes. Filesystem events are debounced: an install touching many files
// triggers a single rescan once the burst settles.
type Watcher struct {
	registry *Registry
	log      *logging.Logger
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu   sync.Mutex
	subs []func()

	done chan struct{}
	once sync.Once
}

// NewWatcher starts watching the registry's directory. The returned Watcher
// runs until Close.
func NewWatcher(registry *Registry, log *logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(registry.Dir()); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &Watcher{
		registry: registry,
		log:      log,
		watcher:  fsw,
		debounce: 250 * time.Millisecond,
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Subscribe registers fn to run after every rescan triggered by a change.
func (w *Watcher) Subscribe(fn func()) {
	w.mu.Lock()
	w.subs = append(w.subs, fn)
	w.mu.Unlock()
}

// Close stops the watch loop.
func (w *Watcher) Close() error {
	w.once.Do(func() { close(w.done) })
	return w.watcher.Close()
}

func (w *Watcher) run() {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn(logging.CategoryDescriptor, "watch_error", "applications watch error", map[string]any{
				"error": err.Error(),
			})
		case <-fire:
			timer = nil
			fire = nil
			if err := w.registry.Rescan(); err != nil {
				w.log.Warn(logging.CategoryDescriptor, "rescan_failed", "applications rescan failed", map[string]any{
					"error": err.Error(),
				})
				continue
			}
			w.log.Info(logging.CategoryDescriptor, "rescanned", "applications directory rescanned", map[string]any{
				"apps": w.registry.Len(),
			})
			w.mu.Lock()
			subs := make([]func(), len(w.subs))
			copy(subs, w.subs)
			w.mu.Unlock()
			for _, fn := range subs {
				fn()
			}
		}
	}
}

// WaitForApp polls the registry until appID appears or ctx ends. Intended
// for tests and tooling, not the hot path.
func (w *Watcher) WaitForApp(ctx context.Context, appID string) (Description, error) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if desc, ok := w.registry.Get(appID); ok {
			return desc, nil
		}
		select {
		case <-ctx.Done():
			return Description{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
