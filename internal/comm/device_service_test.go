package comm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dhavalsavalia/devlink/internal/descriptor"
	"github.com/dhavalsavalia/devlink/internal/device"
	"github.com/dhavalsavalia/devlink/internal/notify"
)

var (
	trackedID = descriptor.Identity{VendorID: 0x1234, ProductID: 0x5678}
	strayID   = descriptor.Identity{VendorID: 0x0bda, ProductID: 0x8153}
)

// fakeNotifier delivers presence events on the test goroutine.
type fakeNotifier struct {
	mu        sync.Mutex
	enableErr error
	enabled   int
	disabled  int
	subs      notify.Registry[device.Event]
}

func (n *fakeNotifier) Enable() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled++
	return n.enableErr
}

func (n *fakeNotifier) Disable() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.disabled++
}

func (n *fakeNotifier) Subscribe(fn func(device.Event)) func() {
	return n.subs.Add(fn)
}

func (n *fakeNotifier) arrive(id descriptor.Identity) {
	n.subs.Emit(device.Event{Kind: device.Arrival, Path: "/dev/bus/usb/001/002", Identity: id})
}

func (n *fakeNotifier) remove(id descriptor.Identity) {
	n.subs.Emit(device.Event{Kind: device.Removal, Path: "/dev/bus/usb/001/002", Identity: id})
}

type deviceFixture struct {
	svc      *DeviceService
	factory  *fakeFactory
	notifier *fakeNotifier
	timer    *fakeTimer
	ids      []descriptor.Identity
}

func newDeviceFixture(t *testing.T, f *fakeFactory, opts ...Option) *deviceFixture {
	t.Helper()

	fx := &deviceFixture{factory: f, notifier: &fakeNotifier{}, timer: newFakeTimer()}
	var mu sync.Mutex
	build := func(id descriptor.Identity) (Delegate, error) {
		mu.Lock()
		fx.ids = append(fx.ids, id)
		mu.Unlock()
		return f.build()
	}
	svc, err := NewDeviceService(trackedID, build, fx.notifier, append([]Option{withTimer(fx.timer)}, opts...)...)
	require.NoError(t, err)
	fx.svc = svc
	t.Cleanup(func() { svc.Close() })
	return fx
}

// waitRetry blocks until the current retry loop, if any, has finished.
func (fx *deviceFixture) waitRetry(t *testing.T) {
	t.Helper()

	fx.svc.mu.Lock()
	done := fx.svc.retryDone
	fx.svc.mu.Unlock()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("retry loop did not finish")
	}
}

func alwaysFail(err error) *fakeFactory {
	return &fakeFactory{next: func(int) (*fakeDelegate, error) { return nil, err }}
}

func TestNewDeviceService_Validation(t *testing.T) {
	build := func(descriptor.Identity) (Delegate, error) { return &fakeDelegate{}, nil }

	_, err := NewDeviceService(trackedID, nil, &fakeNotifier{})
	require.Error(t, err)
	_, err = NewDeviceService(trackedID, build, nil)
	require.Error(t, err)
	_, err = NewDeviceService(trackedID, build, &fakeNotifier{}, WithAttempts(0))
	require.Error(t, err)
	_, err = NewDeviceService(trackedID, build, &fakeNotifier{}, WithInitialDelay(0))
	require.Error(t, err)
}

func TestDeviceService_Start(t *testing.T) {
	fx := newDeviceFixture(t, &fakeFactory{})

	require.NoError(t, fx.svc.Start(context.Background()))
	assert.Equal(t, Up, fx.svc.State())
	assert.Equal(t, 1, fx.notifier.enabled)
	assert.Equal(t, 1, fx.notifier.subs.Len())
	assert.Equal(t, []descriptor.Identity{trackedID}, fx.ids)
	assert.Equal(t, trackedID, fx.svc.Identity())
}

func TestDeviceService_StartMonitorFailure(t *testing.T) {
	fx := newDeviceFixture(t, &fakeFactory{})
	fx.notifier.enableErr = errors.New("inotify limit")

	err := fx.svc.Start(context.Background())
	require.ErrorIs(t, err, ErrMonitor)
	assert.Equal(t, Down, fx.svc.State())
	assert.Equal(t, 0, fx.notifier.subs.Len())
	assert.Equal(t, 0, fx.factory.callCount())
}

func TestDeviceService_RemovalTerminates(t *testing.T) {
	fx := newDeviceFixture(t, &fakeFactory{})
	require.NoError(t, fx.svc.Start(context.Background()))
	d := fx.factory.last()

	fx.notifier.remove(trackedID)

	assert.Equal(t, Down, fx.svc.State())
	assert.Equal(t, 1, d.closeCount())
}

func TestDeviceService_IgnoresOtherDevices(t *testing.T) {
	fx := newDeviceFixture(t, &fakeFactory{})
	require.NoError(t, fx.svc.Start(context.Background()))

	fx.notifier.remove(strayID)
	assert.Equal(t, Up, fx.svc.State())

	require.NoError(t, fx.svc.Terminate(context.Background()))
	fx.notifier.arrive(strayID)
	fx.waitRetry(t)
	assert.Equal(t, Down, fx.svc.State())
	assert.Equal(t, 1, fx.factory.callCount())
}

func TestDeviceService_ArrivalWhileUpIgnored(t *testing.T) {
	fx := newDeviceFixture(t, &fakeFactory{})
	require.NoError(t, fx.svc.Start(context.Background()))

	fx.notifier.arrive(trackedID)
	fx.waitRetry(t)
	assert.Equal(t, 1, fx.factory.callCount())
	assert.Equal(t, Up, fx.svc.State())
}

func TestDeviceService_ArrivalRestarts(t *testing.T) {
	fx := newDeviceFixture(t, &fakeFactory{})
	require.NoError(t, fx.svc.Start(context.Background()))
	fx.notifier.remove(trackedID)
	require.Equal(t, Down, fx.svc.State())

	fx.notifier.arrive(trackedID)
	fx.waitRetry(t)

	assert.Equal(t, Up, fx.svc.State())
	assert.Equal(t, 2, fx.factory.callCount())
	assert.Empty(t, fx.timer.waits())
}

func TestDeviceService_StartFailureThenArrival(t *testing.T) {
	f := &fakeFactory{next: func(n int) (*fakeDelegate, error) {
		if n == 1 {
			return nil, errors.New("not plugged in")
		}
		return &fakeDelegate{}, nil
	}}
	fx := newDeviceFixture(t, f)

	require.Error(t, fx.svc.Start(context.Background()))
	assert.Equal(t, Down, fx.svc.State())

	fx.notifier.arrive(trackedID)
	fx.waitRetry(t)
	assert.Equal(t, Up, fx.svc.State())
}

func TestDeviceService_BackoffSequence(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	fx := newDeviceFixture(t, alwaysFail(errors.New("busy")), WithLogger(zap.New(core)))
	require.Error(t, fx.svc.Start(context.Background()))

	fx.notifier.arrive(trackedID)
	fx.waitRetry(t)

	// One initial start plus exactly four restart attempts.
	assert.Equal(t, 5, fx.factory.callCount())
	assert.Equal(t, []time.Duration{
		250 * time.Millisecond,
		500 * time.Millisecond,
		1000 * time.Millisecond,
	}, fx.timer.waits())
	assert.Equal(t, Down, fx.svc.State())
	assert.Equal(t, 1, logs.FilterMessage("giving up on device restart").Len())
}

func TestDeviceService_BackoffCapped(t *testing.T) {
	fx := newDeviceFixture(t, alwaysFail(errors.New("busy")),
		WithAttempts(5),
		WithMaxDelay(600*time.Millisecond),
	)
	fx.notifier.arrive(trackedID)
	fx.waitRetry(t)

	assert.Equal(t, 5, fx.factory.callCount())
	assert.Equal(t, []time.Duration{
		250 * time.Millisecond,
		500 * time.Millisecond,
		600 * time.Millisecond,
		600 * time.Millisecond,
	}, fx.timer.waits())
}

func TestDeviceService_RetrySucceedsMidway(t *testing.T) {
	f := &fakeFactory{next: func(n int) (*fakeDelegate, error) {
		if n < 3 {
			return nil, errors.New("busy")
		}
		return &fakeDelegate{}, nil
	}}
	fx := newDeviceFixture(t, f)

	fx.notifier.arrive(trackedID)
	fx.waitRetry(t)

	assert.Equal(t, Up, fx.svc.State())
	assert.Equal(t, 3, f.callCount())
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 500 * time.Millisecond}, fx.timer.waits())
}

func TestDeviceService_RemovalCancelsRetry(t *testing.T) {
	fx := newDeviceFixture(t, alwaysFail(errors.New("busy")))
	fx.timer.hold = true

	fx.notifier.arrive(trackedID)
	require.Eventually(t, func() bool { return len(fx.timer.waits()) == 1 }, time.Second, time.Millisecond)

	fx.notifier.remove(trackedID)
	fx.waitRetry(t)

	assert.Equal(t, 1, fx.factory.callCount())
	assert.Equal(t, Down, fx.svc.State())
}

func TestDeviceService_SingleRetryLoop(t *testing.T) {
	fx := newDeviceFixture(t, alwaysFail(errors.New("busy")))
	fx.timer.hold = true

	fx.notifier.arrive(trackedID)
	require.Eventually(t, func() bool { return len(fx.timer.waits()) == 1 }, time.Second, time.Millisecond)
	fx.notifier.arrive(trackedID)

	// The second arrival did not start another loop.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, fx.factory.callCount())
}

func TestDeviceService_Close(t *testing.T) {
	fx := newDeviceFixture(t, &fakeFactory{})
	require.NoError(t, fx.svc.Start(context.Background()))
	d := fx.factory.last()

	require.NoError(t, fx.svc.Close())
	require.NoError(t, fx.svc.Close())

	assert.Equal(t, Down, fx.svc.State())
	assert.Equal(t, 1, d.closeCount())
	assert.Equal(t, 1, fx.notifier.disabled)
	assert.Equal(t, 0, fx.notifier.subs.Len())
	require.ErrorIs(t, fx.svc.Start(context.Background()), ErrClosed)
}

func TestDeviceService_CloseCancelsRetry(t *testing.T) {
	fx := newDeviceFixture(t, alwaysFail(errors.New("busy")))
	fx.timer.hold = true

	fx.notifier.arrive(trackedID)
	require.Eventually(t, func() bool { return len(fx.timer.waits()) == 1 }, time.Second, time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- fx.svc.Close() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on retry loop")
	}
	fx.waitRetry(t)
	assert.Equal(t, 1, fx.factory.callCount())
}
