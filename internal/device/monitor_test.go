package device

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dhavalsavalia/devlink/internal/descriptor"
)

var (
	testID  = descriptor.Identity{VendorID: 0x1234, ProductID: 0x5678}
	otherID = descriptor.Identity{VendorID: 0x1d6b, ProductID: 0x0002}
)

// fakeWatcher is a synthetic change source driven by the test.
type fakeWatcher struct {
	events  chan WatchEvent
	errors  chan error
	started int
	closed  bool
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{
		events: make(chan WatchEvent),
		errors: make(chan error),
	}
}

func (w *fakeWatcher) Start(string) error        { w.started++; return nil }
func (w *fakeWatcher) Events() <-chan WatchEvent { return w.events }
func (w *fakeWatcher) Errors() <-chan error      { return w.errors }
func (w *fakeWatcher) Close() error              { w.closed = true; return nil }

// writeDevice writes a descriptor for id at dir/name and returns the path.
func writeDevice(t *testing.T, dir, name string, id descriptor.Identity) string {
	t.Helper()

	data, err := descriptor.DeviceDescriptor{
		Length:         descriptor.Size,
		DescriptorType: descriptor.TypeDevice,
		VendorID:       id.VendorID,
		ProductID:      id.ProductID,
	}.MarshalBinary()
	require.NoError(t, err)

	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

// recorder collects events delivered on the monitor goroutine.
type recorder struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newRecorder(m *Monitor) *recorder {
	r := &recorder{ch: make(chan Event, 16)}
	m.Subscribe(func(ev Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
		r.ch <- ev
	})
	return r
}

func (r *recorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newTestMonitor(t *testing.T, opts ...Option) (*Monitor, *fakeWatcher, string) {
	t.Helper()

	dir := t.TempDir()
	w := newFakeWatcher()
	m, err := New(dir, append([]Option{WithWatcher(w)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m, w, dir
}

func TestNew_NotADirectory(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"))
	require.ErrorIs(t, err, ErrNoDirectory)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	_, err = New(file)
	require.ErrorIs(t, err, ErrNoDirectory)
}

func TestMonitor_EnableScansSilently(t *testing.T) {
	m, w, dir := newTestMonitor(t)
	writeDevice(t, dir, "001/001", otherID)
	writeDevice(t, dir, "001/002", testID)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "garbage"), []byte{1, 2, 3}, 0644))

	rec := newRecorder(m)
	require.NoError(t, m.Enable())
	assert.Equal(t, 1, w.started)

	want := []Entry{
		{Path: canonical(filepath.Join(dir, "001/001")), Identity: otherID},
		{Path: canonical(filepath.Join(dir, "001/002")), Identity: testID},
	}
	if diff := cmp.Diff(want, m.Devices()); diff != "" {
		t.Errorf("Devices() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 0, rec.count())
}

func TestMonitor_ArrivalAndRemoval(t *testing.T) {
	m, w, dir := newTestMonitor(t)
	rec := newRecorder(m)
	require.NoError(t, m.Enable())

	path := writeDevice(t, dir, "002/005", testID)
	w.events <- WatchEvent{Op: Created, Path: path}

	ev := rec.next(t)
	assert.Equal(t, Arrival, ev.Kind)
	assert.Equal(t, testID, ev.Identity)
	assert.Equal(t, canonical(path), ev.Path)

	// The node is already gone when the deletion is reported.
	require.NoError(t, os.Remove(path))
	w.events <- WatchEvent{Op: Deleted, Path: path}

	ev = rec.next(t)
	assert.Equal(t, Removal, ev.Kind)
	assert.Equal(t, testID, ev.Identity)
	assert.Empty(t, m.Devices())
}

func TestMonitor_UnparseableCreateIgnored(t *testing.T) {
	m, w, dir := newTestMonitor(t)
	rec := newRecorder(m)
	require.NoError(t, m.Enable())

	garbage := filepath.Join(dir, "garbage")
	require.NoError(t, os.WriteFile(garbage, []byte{1, 2, 3}, 0644))
	w.events <- WatchEvent{Op: Created, Path: garbage}

	// A following valid event proves the garbage one was consumed.
	path := writeDevice(t, dir, "001", testID)
	w.events <- WatchEvent{Op: Created, Path: path}

	ev := rec.next(t)
	assert.Equal(t, canonical(path), ev.Path)
	assert.Equal(t, 1, rec.count())
}

func TestMonitor_UnknownDeleteIgnored(t *testing.T) {
	m, w, dir := newTestMonitor(t)
	rec := newRecorder(m)
	require.NoError(t, m.Enable())

	w.events <- WatchEvent{Op: Deleted, Path: filepath.Join(dir, "never-seen")}

	path := writeDevice(t, dir, "001", testID)
	w.events <- WatchEvent{Op: Created, Path: path}

	ev := rec.next(t)
	assert.Equal(t, Arrival, ev.Kind)
	assert.Equal(t, 1, rec.count())
}

func TestMonitor_DuplicateArrivalRejected(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	m, w, dir := newTestMonitor(t, WithLogger(zap.New(core)))
	rec := newRecorder(m)
	require.NoError(t, m.Enable())

	path := writeDevice(t, dir, "001", testID)
	w.events <- WatchEvent{Op: Created, Path: path}
	rec.next(t)

	w.events <- WatchEvent{Op: Created, Path: path}
	w.events <- WatchEvent{Op: Deleted, Path: path}

	ev := rec.next(t)
	assert.Equal(t, Removal, ev.Kind)
	assert.Equal(t, 2, rec.count())
	assert.Equal(t, 1, logs.FilterMessage("device already registered").Len())
}

func TestMonitor_ScannedNodeReportedAgain(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	m, w, dir := newTestMonitor(t, WithLogger(zap.New(core)))
	path := writeDevice(t, dir, "001", testID)

	rec := newRecorder(m)
	require.NoError(t, m.Enable())

	// The watcher saw the node appear before the scan picked it up.
	w.events <- WatchEvent{Op: Created, Path: path}
	require.NoError(t, os.Remove(path))
	w.events <- WatchEvent{Op: Deleted, Path: path}

	ev := rec.next(t)
	assert.Equal(t, Removal, ev.Kind)
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, 0, logs.FilterLevelExact(zap.ErrorLevel).Len())
	assert.Equal(t, 1, logs.FilterMessage("device already seeded by scan").Len())
}

func TestMonitor_DisabledIgnoresEvents(t *testing.T) {
	m, w, dir := newTestMonitor(t)
	rec := newRecorder(m)
	require.NoError(t, m.Enable())
	m.Disable()
	m.Disable()

	path := writeDevice(t, dir, "001", testID)
	select {
	case w.events <- WatchEvent{Op: Created, Path: path}:
		t.Fatal("disabled monitor consumed an event")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 0, rec.count())
}

func TestMonitor_ReenableRescans(t *testing.T) {
	m, _, dir := newTestMonitor(t)
	require.NoError(t, m.Enable())
	require.NoError(t, m.Enable())
	assert.Empty(t, m.Devices())

	m.Disable()
	path := writeDevice(t, dir, "001", testID)
	require.NoError(t, m.Enable())

	if diff := cmp.Diff([]Entry{{Path: canonical(path), Identity: testID}}, m.Devices()); diff != "" {
		t.Errorf("Devices() mismatch (-want +got):\n%s", diff)
	}
}

func TestMonitor_OnlyCorrelatedRemovals(t *testing.T) {
	// Arrival and removal are reported for each identity separately.
	m, w, dir := newTestMonitor(t)
	rec := newRecorder(m)
	require.NoError(t, m.Enable())

	a := writeDevice(t, dir, "001", testID)
	b := writeDevice(t, dir, "002", otherID)
	w.events <- WatchEvent{Op: Created, Path: a}
	w.events <- WatchEvent{Op: Created, Path: b}
	rec.next(t)
	rec.next(t)

	w.events <- WatchEvent{Op: Deleted, Path: b}
	ev := rec.next(t)
	assert.Equal(t, Removal, ev.Kind)
	assert.Equal(t, otherID, ev.Identity)
	assert.Len(t, m.Devices(), 1)
}

func TestMonitor_WatcherStopped(t *testing.T) {
	m, w, _ := newTestMonitor(t)
	require.NoError(t, m.Enable())

	close(w.events)

	select {
	case err := <-m.Err():
		assert.True(t, errors.Is(err, ErrWatcherStopped))
	case <-time.After(2 * time.Second):
		t.Fatal("no error reported after watcher stopped")
	}
}

func TestMonitor_CustomParser(t *testing.T) {
	parsed := make(chan string, 4)
	m, w, dir := newTestMonitor(t, WithParser(func(path string) (descriptor.Identity, bool) {
		parsed <- path
		return testID, true
	}))
	rec := newRecorder(m)
	require.NoError(t, m.Enable())

	path := filepath.Join(dir, "anything")
	w.events <- WatchEvent{Op: Created, Path: path}

	assert.Equal(t, path, <-parsed)
	assert.Equal(t, testID, rec.next(t).Identity)
}

func TestMonitor_CloseStopsWatcher(t *testing.T) {
	m, w, _ := newTestMonitor(t)
	require.NoError(t, m.Enable())
	require.NoError(t, m.Close())
	assert.True(t, w.closed)
}

func TestCanonical(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(t.TempDir(), "link")
	require.NoError(t, os.Symlink(dir, link))

	assert.Equal(t, canonical(filepath.Join(dir, "001")), canonical(filepath.Join(link, "001")))
	assert.Equal(t, canonical(filepath.Join(dir, "001")), canonical(filepath.Join(dir, "x", "..", "001")))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "arrival", Arrival.String())
	assert.Equal(t, "removal", Removal.String())
	assert.Equal(t, "created", Created.String())
	assert.Equal(t, "deleted", Deleted.String())
}
