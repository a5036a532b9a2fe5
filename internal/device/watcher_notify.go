package device

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WatchOption configures a Watcher implementation.
type WatchOption func(*watchOptions)

type watchOptions struct {
	log *zap.Logger
}

// WithWatchLogger sets the watcher's logger.
func WithWatchLogger(l *zap.Logger) WatchOption {
	return func(o *watchOptions) {
		if l != nil {
			o.log = l
		}
	}
}

func newWatchOptions(opts []WatchOption) watchOptions {
	o := watchOptions{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NotifyWatcher watches a directory tree with fsnotify. inotify is not
// recursive, so every subdirectory gets its own watch; directories created
// later are added as they appear.
type NotifyWatcher struct {
	log    *zap.Logger
	events chan WatchEvent
	errors chan error
	done   chan struct{}

	mu        sync.Mutex
	fs        *fsnotify.Watcher
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewNotifyWatcher returns an unstarted fsnotify watcher.
func NewNotifyWatcher(opts ...WatchOption) *NotifyWatcher {
	o := newWatchOptions(opts)
	return &NotifyWatcher{
		log:    o.log,
		events: make(chan WatchEvent),
		errors: make(chan error),
		done:   make(chan struct{}),
	}
}

func (w *NotifyWatcher) Events() <-chan WatchEvent { return w.events }

func (w *NotifyWatcher) Errors() <-chan error { return w.errors }

// Start watches root and all of its subdirectories.
func (w *NotifyWatcher) Start(root string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fs != nil {
		return errors.New("watcher already started")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fs = fw

	if err := w.addTree(root, nil); err != nil {
		fw.Close()
		w.fs = nil
		return err
	}

	w.wg.Add(1)
	go w.run(fw)
	return nil
}

// Close stops the watcher and closes its channels.
func (w *NotifyWatcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		fw := w.fs
		w.mu.Unlock()
		if fw != nil {
			err = fw.Close()
		}
		w.wg.Wait()
		close(w.events)
		close(w.errors)
	})
	return err
}

// addTree adds a watch on dir and every directory below it. Files found
// along the way are passed to found.
func (w *NotifyWatcher) addTree(dir string, found func(path string)) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			w.log.Debug("skipping unreadable entry", zap.String("path", path), zap.Error(err))
			return nil
		}
		if !d.IsDir() {
			if found != nil {
				found(path)
			}
			return nil
		}
		if err := w.fs.Add(path); err != nil {
			if path == dir {
				return err
			}
			w.log.Warn("cannot watch directory", zap.String("path", path), zap.Error(err))
		}
		return nil
	})
}

func (w *NotifyWatcher) run(fw *fsnotify.Watcher) {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			case <-w.done:
				return
			}
		}
	}
}

func (w *NotifyWatcher) handle(ev fsnotify.Event) {
	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Lstat(ev.Name)
		if err == nil && info.IsDir() {
			// Entries may have been created before the watch was in place.
			w.mu.Lock()
			err := w.addTree(ev.Name, func(path string) {
				w.emit(WatchEvent{Op: Created, Path: path})
			})
			w.mu.Unlock()
			if err != nil {
				w.log.Warn("cannot watch new directory", zap.String("path", ev.Name), zap.Error(err))
			}
			return
		}
		w.emit(WatchEvent{Op: Created, Path: ev.Name})
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.emit(WatchEvent{Op: Deleted, Path: ev.Name})
	}
}

func (w *NotifyWatcher) emit(ev WatchEvent) {
	select {
	case w.events <- ev:
	case <-w.done:
	}
}
