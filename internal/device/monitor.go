// Package device tracks USB device nodes appearing and disappearing under a
// dev directory and raises presence notifications for them.
package device

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/dhavalsavalia/devlink/internal/descriptor"
	"github.com/dhavalsavalia/devlink/internal/notify"
)

// DefaultDir is where Linux exposes usbfs device nodes.
const DefaultDir = "/dev/bus/usb"

var (
	// ErrNoDirectory is returned by New when the watched path is not a directory.
	ErrNoDirectory = errors.New("not a directory")
	// ErrWatcherStopped is reported on Err when the watcher dies while enabled.
	ErrWatcherStopped = errors.New("watcher stopped")
)

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.log = l
		}
	}
}

// WithWatcher replaces the default fsnotify watcher.
func WithWatcher(w Watcher) Option {
	return func(m *Monitor) {
		m.watcher = w
	}
}

// WithParser replaces the descriptor parser used to identify nodes.
func WithParser(fn func(path string) (descriptor.Identity, bool)) Option {
	return func(m *Monitor) {
		m.parse = fn
	}
}

// Monitor keeps a table of device nodes under a directory and notifies
// subscribers when a node arrives or is removed. Nodes present when the
// monitor is enabled are recorded silently.
type Monitor struct {
	dir     string
	log     *zap.Logger
	watcher Watcher
	parse   func(string) (descriptor.Identity, bool)
	devices *table
	subs    notify.Registry[Event]
	errc    chan error

	// Paths recorded by the last scan and not yet confirmed by the watcher.
	// Touched only by Enable and the event loop, never both at once.
	seeded map[string]struct{}

	mu      sync.Mutex
	started bool
	enabled bool
	stop    chan struct{}
	done    chan struct{}
}

// New returns a disabled Monitor for dir.
func New(dir string, opts ...Option) (*Monitor, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNoDirectory, dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNoDirectory, dir)
	}

	m := &Monitor{
		dir:     dir,
		log:     zap.NewNop(),
		parse:   descriptor.ParseFile,
		devices: newTable(),
		errc:    make(chan error, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.Named("monitor")
	if m.watcher == nil {
		m.watcher = NewNotifyWatcher(WithWatchLogger(m.log))
	}
	return m, nil
}

// Dir returns the watched directory.
func (m *Monitor) Dir() string {
	return m.dir
}

// Subscribe registers fn for presence events. Handlers run on the monitor
// goroutine in registration order and must not call Disable or Close.
func (m *Monitor) Subscribe(fn func(Event)) (cancel func()) {
	return m.subs.Add(fn)
}

// Devices returns the current table sorted by path.
func (m *Monitor) Devices() []Entry {
	return m.devices.entries()
}

// Err reports a fatal watcher failure. At most one value is sent.
func (m *Monitor) Err() <-chan error {
	return m.errc
}

// Enable rescans the directory and starts reacting to changes. Enabling an
// enabled monitor does nothing.
func (m *Monitor) Enable() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.enabled {
		return nil
	}
	if !m.started {
		if err := m.watcher.Start(m.dir); err != nil {
			return fmt.Errorf("cannot watch %s: %w", m.dir, err)
		}
		m.started = true
	}
	m.drain()

	m.devices.clear()
	m.seeded = make(map[string]struct{})
	if err := m.scan(); err != nil {
		return fmt.Errorf("cannot scan %s: %w", m.dir, err)
	}

	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.enabled = true
	go m.run(m.stop, m.done)
	return nil
}

// Disable stops reacting to changes and waits for the event loop to exit.
// The device table is left as it is.
func (m *Monitor) Disable() {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return
	}
	m.enabled = false
	close(m.stop)
	done := m.done
	m.mu.Unlock()

	<-done
}

// Close disables the monitor and stops the watcher.
func (m *Monitor) Close() error {
	m.Disable()
	return m.watcher.Close()
}

// drain discards changes queued while the monitor was disabled; the scan
// that follows supersedes them.
func (m *Monitor) drain() {
	for {
		select {
		case _, ok := <-m.watcher.Events():
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (m *Monitor) scan() error {
	return filepath.WalkDir(m.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == m.dir {
				return err
			}
			m.log.Debug("skipping unreadable entry", zap.String("path", path), zap.Error(err))
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() && d.Type()&fs.ModeDevice == 0 {
			return nil
		}
		id, ok := m.parse(path)
		if !ok {
			return nil
		}
		p := canonical(path)
		if m.devices.add(p, id) {
			m.seeded[p] = struct{}{}
			m.log.Debug("discovered device", zap.String("path", p), zap.Stringer("id", id))
		}
		return nil
	})
}

func (m *Monitor) run(stop, done chan struct{}) {
	defer close(done)

	errs := m.watcher.Errors()
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-m.watcher.Events():
			if !ok {
				m.log.Error("device watcher stopped unexpectedly", zap.String("dir", m.dir))
				m.report(ErrWatcherStopped)
				return
			}
			m.handle(ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			m.log.Error("device watcher error", zap.Error(err))
		}
	}
}

func (m *Monitor) handle(ev WatchEvent) {
	path := canonical(ev.Path)

	switch ev.Op {
	case Created:
		id, ok := m.parse(ev.Path)
		if !ok {
			return
		}
		if !m.devices.add(path, id) {
			// A node created between watcher start and scan is reported twice.
			if _, ok := m.seeded[path]; ok {
				delete(m.seeded, path)
				m.log.Debug("device already seeded by scan", zap.String("path", path), zap.Stringer("id", id))
				return
			}
			m.log.Error("device already registered", zap.String("path", path), zap.Stringer("id", id))
			return
		}
		m.log.Debug("device arrived", zap.String("path", path), zap.Stringer("id", id))
		m.subs.Emit(Event{Kind: Arrival, Path: path, Identity: id})
	case Deleted:
		delete(m.seeded, path)
		id, ok := m.devices.remove(path)
		if !ok {
			return
		}
		m.log.Debug("device removed", zap.String("path", path), zap.Stringer("id", id))
		m.subs.Emit(Event{Kind: Removal, Path: path, Identity: id})
	}
}

func (m *Monitor) report(err error) {
	select {
	case m.errc <- err:
	default:
	}
}
