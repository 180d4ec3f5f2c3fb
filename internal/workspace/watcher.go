package workspace

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the canonical config when files under its directory
// change. Editors fire bursts of events per save, so changes are
// debounced before a reload is attempted. A reload that fails (parse
// error, version regression) is logged and the previous snapshot stays
// in effect.
type Watcher struct {
	canonical *Canonical
	watcher   *fsnotify.Watcher
	debounce  time.Duration

	mu        sync.Mutex
	callbacks []func(*Snapshot)
	stopCh    chan struct{}
	stopped   bool
}

// NewWatcher creates a watcher over the canonical config directory.
func NewWatcher(canonical *Canonical) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fw.Add(canonical.dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", canonical.dir, err)
	}

	return &Watcher{
		canonical: canonical,
		watcher:   fw,
		debounce:  500 * time.Millisecond,
		stopCh:    make(chan struct{}),
	}, nil
}

// OnChange registers a callback invoked after every successful reload
// that advanced a version. Callbacks run in their own goroutines.
func (w *Watcher) OnChange(fn func(*Snapshot)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Watch blocks processing filesystem events until ctx is cancelled or
// Stop is called.
func (w *Watcher) Watch(ctx context.Context) {
	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			log.Printf("Canonical config change detected: %s", filepath.Base(event.Name))
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerCh = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
		case <-timerCh:
			timer = nil
			timerCh = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("ERROR: Canonical config watcher: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	before := w.canonical.Snapshot()
	snap, err := w.canonical.Reload()
	if err != nil {
		log.Printf("ERROR: Canonical config reload rejected, keeping previous snapshot: %v", err)
		return
	}
	if snap.PromptVersion == before.PromptVersion && snap.DocumentVersion == before.DocumentVersion {
		return
	}

	w.mu.Lock()
	callbacks := append([]func(*Snapshot){}, w.callbacks...)
	w.mu.Unlock()

	for _, fn := range callbacks {
		go func(fn func(*Snapshot)) {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("ERROR: Canonical config callback panicked: %v", r)
				}
			}()
			fn(snap)
		}(fn)
	}
}

// Stop terminates the watch loop and releases the fsnotify watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	close(w.stopCh)
	w.watcher.Close()
}
