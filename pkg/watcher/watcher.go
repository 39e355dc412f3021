// Package watcher turns fsnotify events under the library root into book
// events. Writes are debounced: a file is reported only once its size and
// modification time stop changing for the settle delay.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shelfopds/shelfopds/pkg/models"
)

type Watcher struct {
	log     logger.Logger
	opts    Options
	watcher *fsnotify.Watcher

	pending map[string]*pendingEvent
	// dirs tracks watched directories so a removal can be told apart from a
	// removed file.
	dirs map[string]struct{}
	mu   sync.Mutex

	events chan Event
	// emitMu keeps Stop from closing events while a settle timer is sending.
	emitMu   sync.RWMutex
	closed   bool
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// pendingEvent tracks a file that may still be changing
type pendingEvent struct {
	size    int64
	modTime time.Time
	timer   *time.Timer
}

func New(log logger.Logger, opts Options) (*Watcher, error) {
	opts.setDefaults()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}

	return &Watcher{
		log:     log,
		opts:    opts,
		watcher: fsw,
		pending: make(map[string]*pendingEvent),
		dirs:    make(map[string]struct{}),
		events:  make(chan Event, 100),
		done:    make(chan struct{}),
	}, nil
}

// Watch recursively adds a directory tree.
func (w *Watcher) Watch(root string) error {
	root = filepath.Clean(root)
	info, err := os.Stat(root)
	if err != nil {
		return errors.Wrap(err, "failed to stat watch root")
	}
	if !info.IsDir() {
		return errors.Errorf("watch root %s is not a directory", root)
	}
	w.watchDir(root)
	return nil
}

func (w *Watcher) watchDir(root string) {
	_ = filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			w.log.Warn("failed to access path", logger.Data{"path": p, "error": err.Error()})
			return nil
		}
		if p != root && w.opts.shouldIgnore(p) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(p); err != nil {
			w.log.Err(err).Error("failed to add watch", logger.Data{"path": p})
			return nil
		}
		w.mu.Lock()
		w.dirs[p] = struct{}{}
		w.mu.Unlock()
		return nil
	})
}

// Start processes events until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.wg.Add(1)
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.done:
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Err(err).Warn("file watcher error")
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	path := event.Name
	if w.opts.shouldIgnore(path) {
		return
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			// Files copied in along with the directory may predate the watch.
			w.watchDir(path)
			w.settleTree(path)
			return
		}
	}

	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		w.cancelPending(path)
		w.mu.Lock()
		_, wasDir := w.dirs[path]
		delete(w.dirs, path)
		w.mu.Unlock()
		switch {
		case wasDir:
			w.emit(Event{Type: FolderDeleted, Path: path})
		case models.FormatFromPath(path) != "":
			w.emit(Event{Type: BookDeleted, Path: path})
		}
		return
	}

	if event.Op&(fsnotify.Write|fsnotify.Create) != 0 && models.FormatFromPath(path) != "" {
		w.startSettling(path)
	}
}

func (w *Watcher) settleTree(root string) {
	_ = filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || w.opts.shouldIgnore(p) {
			return nil
		}
		if models.FormatFromPath(p) != "" {
			w.startSettling(p)
		}
		return nil
	})
}

func (w *Watcher) startSettling(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if pending, exists := w.pending[path]; exists {
		pending.timer.Stop()
	}

	info, err := os.Stat(path)
	if err != nil {
		delete(w.pending, path)
		return
	}

	pending := &pendingEvent{size: info.Size(), modTime: info.ModTime()}
	pending.timer = time.AfterFunc(w.opts.SettleDelay, func() {
		w.checkSettled(path)
	})
	w.pending[path] = pending
}

func (w *Watcher) checkSettled(path string) {
	w.mu.Lock()
	pending, exists := w.pending[path]
	if !exists {
		w.mu.Unlock()
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		delete(w.pending, path)
		w.mu.Unlock()
		w.emit(Event{Type: BookDeleted, Path: path})
		return
	}

	if info.Size() != pending.size || !info.ModTime().Equal(pending.modTime) {
		pending.size = info.Size()
		pending.modTime = info.ModTime()
		pending.timer = time.AfterFunc(w.opts.SettleDelay, func() {
			w.checkSettled(path)
		})
		w.mu.Unlock()
		return
	}

	delete(w.pending, path)
	w.mu.Unlock()

	w.emit(w.classify(path, info))
}

// classify decides what a settled book file is without parsing it.
func (w *Watcher) classify(path string, info os.FileInfo) Event {
	format := models.FormatFromPath(path)
	if info.Size() == 0 || (w.opts.MaxFileSize > 0 && info.Size() > w.opts.MaxFileSize) {
		return Event{Type: FileSkipped, Path: path, Count: 1}
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return Event{Type: FileSkipped, Path: path, Count: 1}
	}
	if !matchesFormat(mtype, path, format) {
		return Event{Type: InvalidBook, Path: path}
	}
	return Event{Type: BookAdded, Path: path, Format: format}
}

func matchesFormat(mtype *mimetype.MIME, path, format string) bool {
	want := "application/zip"
	if format == models.FormatFB2 && !models.IsZippedFB2(path) {
		want = "text/plain"
	}
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is(want) || (want == "text/plain" && m.Is("text/xml")) {
			return true
		}
	}
	return false
}

func (w *Watcher) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if pending, exists := w.pending[path]; exists {
		pending.timer.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) emit(event Event) {
	w.emitMu.RLock()
	defer w.emitMu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.events <- event:
	case <-w.done:
	}
}

// Events returns the events channel. It is closed by Stop.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Stop releases the fsnotify watcher and closes the events channel.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)

		w.mu.Lock()
		for _, pending := range w.pending {
			pending.timer.Stop()
		}
		clear(w.pending)
		w.mu.Unlock()

		err = w.watcher.Close()
		w.wg.Wait()

		w.emitMu.Lock()
		w.closed = true
		close(w.events)
		w.emitMu.Unlock()
	})
	return errors.WithStack(err)
}
