package device

import (
	"errors"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval is the PollWatcher rescan period.
const DefaultPollInterval = 500 * time.Millisecond

// PollWatcher detects changes by rescanning the tree on a ticker and
// diffing against the previous scan. It works where inotify is unavailable,
// for example on a bind-mounted /dev inside a container.
type PollWatcher struct {
	log      *zap.Logger
	interval time.Duration
	events   chan WatchEvent
	errors   chan error
	done     chan struct{}

	mu        sync.Mutex
	started   bool
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewPollWatcher returns an unstarted watcher rescanning every interval.
func NewPollWatcher(interval time.Duration, opts ...WatchOption) *PollWatcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	o := newWatchOptions(opts)
	return &PollWatcher{
		log:      o.log,
		interval: interval,
		events:   make(chan WatchEvent),
		errors:   make(chan error),
		done:     make(chan struct{}),
	}
}

func (w *PollWatcher) Events() <-chan WatchEvent { return w.events }

func (w *PollWatcher) Errors() <-chan error { return w.errors }

// Start takes the baseline snapshot of root and begins polling. Entries
// present at Start are not reported.
func (w *PollWatcher) Start(root string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return errors.New("watcher already started")
	}
	last, err := snapshot(root)
	if err != nil {
		return err
	}
	w.started = true

	w.wg.Add(1)
	go w.run(root, last)
	return nil
}

// Close stops polling and closes the channels.
func (w *PollWatcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
		close(w.events)
		close(w.errors)
	})
	return nil
}

func (w *PollWatcher) run(root string, last map[string]struct{}) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			current, err := snapshot(root)
			if err != nil {
				select {
				case w.errors <- err:
				case <-w.done:
					return
				}
				continue
			}
			for _, ev := range diff(last, current) {
				select {
				case w.events <- ev:
				case <-w.done:
					return
				}
			}
			last = current
		}
	}
}

// snapshot lists every non-directory entry under root.
func snapshot(root string) (map[string]struct{}, error) {
	files := make(map[string]struct{})
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			files[path] = struct{}{}
		}
		return nil
	})
	return files, err
}

// diff reports deletions before creations, each group sorted by path, so
// a node replaced between two polls is seen as removed then re-added.
func diff(prev, next map[string]struct{}) []WatchEvent {
	var deleted, created []string
	for p := range prev {
		if _, ok := next[p]; !ok {
			deleted = append(deleted, p)
		}
	}
	for p := range next {
		if _, ok := prev[p]; !ok {
			created = append(created, p)
		}
	}
	sort.Strings(deleted)
	sort.Strings(created)

	out := make([]WatchEvent, 0, len(deleted)+len(created))
	for _, p := range deleted {
		out = append(out, WatchEvent{Op: Deleted, Path: p})
	}
	for _, p := range created {
		out = append(out, WatchEvent{Op: Created, Path: p})
	}
	return out
}
