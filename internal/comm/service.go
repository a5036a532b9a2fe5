// Package comm implements a restartable communication service: a state
// machine that owns a single delegate connection to a device and
// serializes start, stop, restart and send operations against it.
package comm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dhavalsavalia/devlink/internal/notify"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrNotEstablished is returned by Send while the service is not Up.
	ErrNotEstablished = errors.New("communication not established")
	// ErrAlreadyStarted is returned by Start unless the service is Down.
	ErrAlreadyStarted = errors.New("communication already started")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("service closed")
	// ErrMonitor is returned by DeviceService.Start when presence
	// monitoring cannot be enabled.
	ErrMonitor = errors.New("presence monitor unavailable")
)

// Service owns at most one Delegate and exposes it through a small state
// machine. All state-changing operations are serialized by an async lock
// whose acquisition honors context cancellation.
//
// State handlers run synchronously while the lock is held; they must not call
// back into the Service on the same goroutine. Message handlers run on a
// per-session goroutine and may call Send, Terminate or TryRestart.
type Service struct {
	factory Factory
	log     *zap.Logger
	lock    *semaphore.Weighted

	// Guarded by lock.
	current     Delegate
	unsubscribe func()
	dispatch    *dispatcher

	mu      sync.Mutex
	state   State
	session string
	closed  bool

	stateHandlers   notify.Registry[State]
	messageHandlers notify.Registry[Message]
}

// NewService returns a Service in the Down state. factory is called once
// per (re)start to build a fresh delegate.
func NewService(factory Factory, opts ...Option) (*Service, error) {
	if factory == nil {
		return nil, errors.New("comm: factory is required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Service{
		factory: factory,
		log:     o.log.Named("service"),
		lock:    semaphore.NewWeighted(1),
		state:   Down,
	}, nil
}

// State returns the current state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Session returns the id of the current Up period, or "" when not Up.
func (s *Service) Session() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// OnStateChange registers fn for every committed state change, including
// transitional states.
func (s *Service) OnStateChange(fn func(State)) (cancel func()) {
	return s.stateHandlers.Add(fn)
}

// Subscribe registers fn for every message received from the device while
// the service is Up.
func (s *Service) Subscribe(fn func(Message)) (cancel func()) {
	return s.messageHandlers.Add(fn)
}

// Start builds and starts a delegate. It fails with ErrAlreadyStarted
// unless the service is Down.
func (s *Service) Start(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	if s.State() != Down {
		return ErrAlreadyStarted
	}
	return s.start(ctx, Starting)
}

// TryRestart releases the current delegate, if any, and starts a new one.
func (s *Service) TryRestart(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	s.terminate()
	return s.start(ctx, Restarting)
}

// Terminate releases the current delegate and settles Down. It is a no-op
// when already Down.
func (s *Service) Terminate(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	s.terminate()
	return nil
}

// Send forwards msg to the live delegate. A transport failure terminates
// the connection; the caller decides whether to restart.
func (s *Service) Send(ctx context.Context, msg Message) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	if s.State() != Up {
		return ErrNotEstablished
	}
	if err := s.current.Send(ctx, msg); err != nil {
		s.log.Error("send failed", zap.Int("id", msg.ID), zap.Error(err))
		s.terminate()
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Close terminates the connection and rejects all further operations with
// ErrClosed. Closing twice is a no-op.
func (s *Service) Close() error {
	if err := s.lock.Acquire(context.Background(), 1); err != nil {
		return err
	}
	defer s.lock.Release(1)

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil
	}

	s.terminate()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Service) acquire(ctx context.Context) error {
	if err := s.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		s.lock.Release(1)
		return ErrClosed
	}
	return nil
}

// release restores a stable state before giving up the lock. It runs on
// every exit path, panics included.
func (s *Service) release() {
	defer s.lock.Release(1)

	if st := s.State(); !st.Stable() {
		s.log.Error("operation left service in transitional state", zap.Stringer("state", st))
		s.terminate()
	}
}

// start runs the build/start/subscribe sequence from Down. Must hold lock.
func (s *Service) start(ctx context.Context, via State) error {
	s.setState(via)

	d, err := s.factory()
	if err != nil {
		s.log.Error("cannot create delegate", zap.Error(err))
		s.terminate()
		return fmt.Errorf("create delegate: %w", err)
	}
	s.current = d

	if err := d.Start(ctx); err != nil {
		s.log.Error("cannot start delegate", zap.Error(err))
		s.terminate()
		return fmt.Errorf("start delegate: %w", err)
	}
	q := newDispatcher(s.messageHandlers.Emit)
	s.dispatch = q
	s.unsubscribe = d.Subscribe(q.push)

	s.mu.Lock()
	s.session = uuid.NewString()
	s.mu.Unlock()
	s.setState(Up)
	return nil
}

// terminate releases the delegate and settles Down. Must hold lock.
func (s *Service) terminate() {
	if s.State() == Down {
		return
	}
	s.setState(Terminating)

	unsubscribe, q, d := s.unsubscribe, s.dispatch, s.current
	s.unsubscribe, s.dispatch, s.current = nil, nil, nil
	if unsubscribe != nil {
		unsubscribe()
	}
	if q != nil {
		q.close()
	}
	if d != nil {
		if err := d.Close(); err != nil {
			s.log.Error("cannot release delegate", zap.Error(err))
		}
	}

	s.mu.Lock()
	s.session = ""
	s.mu.Unlock()
	s.setState(Down)
}

func (s *Service) setState(next State) {
	s.mu.Lock()
	prev := s.state
	if prev == next {
		s.mu.Unlock()
		return
	}
	s.state = next
	session := s.session
	s.mu.Unlock()

	fields := []zap.Field{zap.Stringer("from", prev), zap.Stringer("to", next)}
	if session != "" {
		fields = append(fields, zap.String("session", session))
	}
	if next.Stable() {
		s.log.Info("state changed", fields...)
	} else {
		s.log.Debug("state changed", fields...)
	}
	s.stateHandlers.Emit(next)
}
