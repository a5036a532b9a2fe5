package comm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/dhavalsavalia/devlink/internal/descriptor"
	"github.com/dhavalsavalia/devlink/internal/device"
)

// IdentityFactory builds a delegate bound to one device identity.
type IdentityFactory func(descriptor.Identity) (Delegate, error)

// Notifier is the presence source a DeviceService reacts to.
// *device.Monitor satisfies it.
type Notifier interface {
	Enable() error
	Disable()
	Subscribe(fn func(device.Event)) (cancel func())
}

// DeviceService is a Service bound to a single device identity. It tears
// the connection down when the device is removed and retries with
// exponential backoff when it comes back.
type DeviceService struct {
	*Service

	id      descriptor.Identity
	monitor Notifier
	log     *zap.Logger
	opts    options

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	closed      bool
	unsubscribe func()
	stopRetry   context.CancelFunc
	retryDone   chan struct{}
}

// NewDeviceService returns a Down service for id. Delegates are built by
// factory; monitor supplies arrival and removal events.
func NewDeviceService(id descriptor.Identity, factory IdentityFactory, monitor Notifier, opts ...Option) (*DeviceService, error) {
	if factory == nil {
		return nil, errors.New("comm: factory is required")
	}
	if monitor == nil {
		return nil, errors.New("comm: monitor is required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.attempts < 1 {
		return nil, fmt.Errorf("comm: attempts must be at least 1, got %d", o.attempts)
	}
	if o.initialDelay <= 0 {
		return nil, fmt.Errorf("comm: initial delay must be positive, got %s", o.initialDelay)
	}
	if o.maxDelay < o.initialDelay {
		o.maxDelay = o.initialDelay
	}

	log := o.log.With(zap.Stringer("device", id))
	svc, err := NewService(func() (Delegate, error) { return factory(id) }, WithLogger(log))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &DeviceService{
		Service: svc,
		id:      id,
		monitor: monitor,
		log:     log.Named("restart"),
		opts:    o,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Identity returns the tracked device identity.
func (d *DeviceService) Identity() descriptor.Identity {
	return d.id
}

// Start enables the monitor and makes the first connection attempt. When
// that attempt fails the service stays subscribed, so a later arrival of
// the device still brings it up.
func (d *DeviceService) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.unsubscribe == nil {
		d.unsubscribe = d.monitor.Subscribe(d.handle)
		if err := d.monitor.Enable(); err != nil {
			d.unsubscribe()
			d.unsubscribe = nil
			d.mu.Unlock()
			return fmt.Errorf("%w: %w", ErrMonitor, err)
		}
	}
	d.mu.Unlock()

	return d.Service.Start(ctx)
}

// Close stops reacting to presence events, cancels a pending retry and
// closes the underlying Service.
func (d *DeviceService) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	unsubscribe := d.unsubscribe
	d.unsubscribe = nil
	d.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
		d.monitor.Disable()
	}
	d.cancelRetry()
	d.cancel()
	return d.Service.Close()
}

func (d *DeviceService) handle(ev device.Event) {
	if ev.Identity != d.id {
		return
	}

	switch ev.Kind {
	case device.Removal:
		d.log.Debug("device removed", zap.String("path", ev.Path))
		d.cancelRetry()
		if d.State() == Down {
			return
		}
		err := d.Terminate(d.ctx)
		if err != nil && !errors.Is(err, ErrClosed) && !errors.Is(err, context.Canceled) {
			d.log.Error("cannot terminate after removal", zap.Error(err))
		}
	case device.Arrival:
		d.log.Debug("device arrived", zap.String("path", ev.Path))
		if d.State() != Down {
			return
		}
		d.startRetry()
	}
}

// startRetry launches the retry loop unless one is already running.
func (d *DeviceService) startRetry() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed || d.retryDone != nil {
		return
	}
	ctx, cancel := context.WithCancel(d.ctx)
	done := make(chan struct{})
	d.stopRetry, d.retryDone = cancel, done

	go func() {
		defer close(done)
		defer func() {
			d.mu.Lock()
			if d.retryDone == done {
				d.stopRetry, d.retryDone = nil, nil
			}
			d.mu.Unlock()
			cancel()
		}()
		d.retry(ctx)
	}()
}

// cancelRetry stops the retry loop, if any, and waits for it to exit.
func (d *DeviceService) cancelRetry() {
	d.mu.Lock()
	cancel, done := d.stopRetry, d.retryDone
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (d *DeviceService) newBackOff(ctx context.Context) backoff.BackOffContext {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     d.opts.initialDelay,
		RandomizationFactor: 0,
		Multiplier:          backoffMultiplier,
		MaxInterval:         d.opts.maxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(d.opts.attempts-1)), ctx)
}

// retry calls TryRestart until it succeeds, the attempt budget runs out or
// ctx is cancelled. The service lock is only held during each attempt.
func (d *DeviceService) retry(ctx context.Context) {
	attempt := 0
	op := func() error {
		attempt++
		if d.State() == Up {
			return nil
		}
		err := d.TryRestart(ctx)
		if errors.Is(err, ErrClosed) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		d.log.Debug("restart attempt failed",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotifyWithTimer(op, d.newBackOff(ctx), notify, d.opts.timer)
	switch {
	case err == nil:
		d.log.Info("device reconnected", zap.Int("attempts", attempt))
	case ctx.Err() != nil, errors.Is(err, ErrClosed):
		d.log.Debug("restart cancelled", zap.Int("attempts", attempt))
	default:
		d.log.Warn("giving up on device restart", zap.Int("attempts", attempt), zap.Error(err))
	}
}
