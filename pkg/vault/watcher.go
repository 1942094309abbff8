package vault

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sentinelops/sentinel/pkg/telemetry"
)

// Watcher signals vault changes so the scheduler can scan ahead of its
// next poll tick. Polling remains the correctness mechanism; the watcher
// is purely a latency optimization.
type Watcher struct {
	fsw      *fsnotify.Watcher
	changes  chan struct{}
	debounce time.Duration
	log      *telemetry.Logger
}

// NewWatcher watches the Pending and Approved containers of v. Events are
// debounced so a burst of file operations yields one signal.
func NewWatcher(v *FS, debounce time.Duration, log *telemetry.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating vault watcher: %w", err)
	}
	for _, c := range []Container{Pending, Approved} {
		if err := fsw.Add(v.dir(c)); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watching %s: %w", c, err)
		}
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		fsw:      fsw,
		changes:  make(chan struct{}, 1),
		debounce: debounce,
		log:      log,
	}, nil
}

// Changes delivers at most one pending signal; receivers that are busy
// scanning simply coalesce further changes into the next signal.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// Run processes filesystem events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !relevant(event) {
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

		case <-fire:
			timer = nil
			fire = nil
			select {
			case w.changes <- struct{}{}:
			default:
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.log != nil {
				w.log.WithError(err).Warn("vault watcher error")
			}

		case <-ctx.Done():
			return
		}
	}
}

// Close releases the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// relevant filters out temp-file churn from our own atomic writes.
func relevant(event fsnotify.Event) bool {
	if strings.HasSuffix(event.Name, ".tmp") {
		return false
	}
	return event.Op&(fsnotify.Create|fsnotify.Rename|fsnotify.Write|fsnotify.Remove) != 0
}
