package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultDebounce is how long the watcher waits for a burst of events to settle.
const defaultDebounce = 500 * time.Millisecond

// ChangeEvent reports a collection file changed by something other than this process.
type ChangeEvent struct {
	Collection Collection
	Op         fsnotify.Op
	At         time.Time
}

// Watcher logs edits made to collection files outside the running process,
// such as an operator restoring a backup by hand. Writes made through the
// FileStore it watches are recognised and ignored.
type Watcher struct {
	store    *FileStore
	debounce time.Duration
	logger   *slog.Logger
	fsw      *fsnotify.Watcher

	pendingMu sync.Mutex
	pending   map[Collection]ChangeEvent

	events chan ChangeEvent
}

// NewWatcher creates a watcher on the store's data directory.
// A zero debounce uses the default of 500ms.
func NewWatcher(store *FileStore, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(store.Dir()); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", store.Dir(), err)
	}

	return &Watcher{
		store:    store,
		debounce: debounce,
		logger:   logger,
		fsw:      fsw,
		pending:  make(map[Collection]ChangeEvent),
		events:   make(chan ChangeEvent, 16),
	}, nil
}

// Events returns external change notifications. The channel is closed when Run returns.
func (w *Watcher) Events() <-chan ChangeEvent {
	return w.events
}

// Run processes file system events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)
	defer w.fsw.Close()

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	w.logger.Info("Watching data directory", "dir", w.store.Dir())

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("Watcher error", "error", err)

		case <-ticker.C:
			w.flush()
		}
	}
}

// handleEvent records a pending change for collection files.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	c, ok := collectionFromPath(event.Name)
	if !ok {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	prev := w.pending[c]
	w.pending[c] = ChangeEvent{Collection: c, Op: prev.Op | event.Op, At: time.Now()}
}

// flush emits pending changes that have settled and did not come from the store.
func (w *Watcher) flush() {
	w.pendingMu.Lock()
	ready := make([]ChangeEvent, 0, len(w.pending))
	for c, ev := range w.pending {
		if time.Since(ev.At) < w.debounce {
			continue
		}
		delete(w.pending, c)
		ready = append(ready, ev)
	}
	w.pendingMu.Unlock()

	for _, ev := range ready {
		if w.store.holdsOwnWrite(ev.Collection) {
			continue
		}
		w.logger.Warn("Collection changed on disk outside visatrack",
			"collection", ev.Collection,
			"op", ev.Op.String())
		select {
		case w.events <- ev:
		default:
		}
	}
}

// collectionFromPath maps <dir>/<name>.json to a collection name.
// renameio temp files and other files are ignored.
func collectionFromPath(path string) (Collection, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, ".json") || strings.HasPrefix(base, ".") {
		return "", false
	}
	c := Collection(strings.TrimSuffix(base, ".json"))
	switch c {
	case CollectionSettings, CollectionApplicants:
		return c, true
	default:
		return "", false
	}
}
