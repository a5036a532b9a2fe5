package comm

import (
	"context"
	"sync"
	"time"

	"github.com/dhavalsavalia/devlink/internal/notify"
)

// fakeDelegate records every call the Service makes.
type fakeDelegate struct {
	mu       sync.Mutex
	startErr error
	sendErr  error
	panicOn  string
	block    chan struct{} // Start waits on it when non-nil
	entered  chan struct{} // closed when Start begins
	started  int
	closed   int
	sent     []Message
	subs     notify.Registry[Message]
}

func (f *fakeDelegate) Start(ctx context.Context) error {
	f.mu.Lock()
	f.started++
	block, entered := f.block, f.entered
	f.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.panicOn == "start" {
		panic("delegate start")
	}
	return f.startErr
}

func (f *fakeDelegate) Send(_ context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeDelegate) Subscribe(fn func(Message)) func() {
	return f.subs.Add(fn)
}

func (f *fakeDelegate) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeDelegate) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeDelegate) deliver(msg Message) {
	f.subs.Emit(msg)
}

// fakeFactory hands out delegates built by next, or plain ones.
type fakeFactory struct {
	mu        sync.Mutex
	next      func(n int) (*fakeDelegate, error)
	delegates []*fakeDelegate
	calls     int
}

func (f *fakeFactory) build() (Delegate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.next == nil {
		d := &fakeDelegate{}
		f.delegates = append(f.delegates, d)
		return d, nil
	}
	d, err := f.next(f.calls)
	if err != nil {
		return nil, err
	}
	f.delegates = append(f.delegates, d)
	return d, nil
}

func (f *fakeFactory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFactory) last() *fakeDelegate {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.delegates) == 0 {
		return nil
	}
	return f.delegates[len(f.delegates)-1]
}

// stateLog collects state transitions.
type stateLog struct {
	mu     sync.Mutex
	states []State
}

func watchStates(s *Service) *stateLog {
	l := &stateLog{}
	s.OnStateChange(func(st State) {
		l.mu.Lock()
		l.states = append(l.states, st)
		l.mu.Unlock()
	})
	return l
}

func (l *stateLog) get() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

func (l *stateLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = nil
}

// fakeTimer fires immediately and records every requested wait. With hold
// set it never fires.
type fakeTimer struct {
	mu     sync.Mutex
	hold   bool
	delays []time.Duration
	c      chan time.Time
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{c: make(chan time.Time, 1)}
}

func (t *fakeTimer) Start(d time.Duration) {
	t.mu.Lock()
	t.delays = append(t.delays, d)
	hold := t.hold
	t.mu.Unlock()
	if !hold {
		t.c <- time.Now()
	}
}

func (t *fakeTimer) Stop() {}

func (t *fakeTimer) C() <-chan time.Time { return t.c }

func (t *fakeTimer) waits() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.delays...)
}

// readerDelegate delivers messages from its own reader goroutine and joins
// that goroutine on Close, like a transport reading from a device node.
type readerDelegate struct {
	fakeDelegate
	in   chan Message
	quit chan struct{}
	wg   sync.WaitGroup
}

func newReaderDelegate() *readerDelegate {
	return &readerDelegate{in: make(chan Message), quit: make(chan struct{})}
}

func (r *readerDelegate) Start(ctx context.Context) error {
	if err := r.fakeDelegate.Start(ctx); err != nil {
		return err
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.quit:
				return
			case msg := <-r.in:
				r.subs.Emit(msg)
			}
		}
	}()
	return nil
}

func (r *readerDelegate) Close() error {
	close(r.quit)
	r.wg.Wait()
	return r.fakeDelegate.Close()
}
