//go:build linux && !(mips || mipsle || mips64 || mips64le || ppc64 || ppc64le)

package usbfs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/dhavalsavalia/devlink/internal/comm"
	"github.com/dhavalsavalia/devlink/internal/descriptor"
	"github.com/dhavalsavalia/devlink/internal/notify"
)

// Conn is a usbfs connection to the first device matching an identity.
// A Conn is started once and closed once; the owning service builds a new
// one for every reconnection.
type Conn struct {
	id   descriptor.Identity
	opts options
	log  *zap.Logger
	subs notify.Registry[comm.Message]

	mu      sync.Mutex
	fd      int
	path    string
	claimed bool
	closed  bool
	stop    chan struct{}
	done    chan struct{}
}

// New returns an unstarted connection for id.
func New(id descriptor.Identity, opts ...Option) *Conn {
	o := newOptions(opts)
	return &Conn{
		id:   id,
		opts: o,
		log:  o.log.With(zap.Stringer("device", id)),
		fd:   -1,
	}
}

// Path returns the device node in use, or "" before Start.
func (c *Conn) Path() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path
}

// Subscribe registers fn for every frame received on the IN endpoint.
func (c *Conn) Subscribe(fn func(comm.Message)) (cancel func()) {
	return c.subs.Add(fn)
}

// Start opens the device node, selects configuration 1, claims the
// interface and starts receiving.
func (c *Conn) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrNotStarted
	}
	if c.fd >= 0 {
		return errors.New("usbfs: already started")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := Find(c.opts.dir, c.id)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("cannot open %s: %w", path, err)
	}

	// EBUSY means a configuration is already active and an interface of it
	// is bound, which is the normal state for an enumerated device.
	if err := setConfiguration(fd, configuration); err != nil && !errors.Is(err, unix.EBUSY) {
		unix.Close(fd)
		return fmt.Errorf("cannot set configuration %d: %w", configuration, mapErrno(err))
	}
	if err := ctx.Err(); err != nil {
		unix.Close(fd)
		return err
	}
	if err := claimInterface(fd, c.opts.iface); err != nil {
		unix.Close(fd)
		return fmt.Errorf("cannot claim interface %d: %w", c.opts.iface, mapErrno(err))
	}

	c.fd, c.path, c.claimed = fd, path, true
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.receive(fd, c.stop, c.done)

	c.log.Info("device opened", zap.String("path", path), zap.Uint8("interface", c.opts.iface))
	return nil
}

// Send writes msg as one frame to the OUT endpoint.
func (c *Conn) Send(ctx context.Context, msg comm.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame, err := comm.EncodeFrame(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	fd := c.fd
	c.mu.Unlock()
	if fd < 0 {
		return ErrNotStarted
	}

	buf := make([]byte, comm.FrameSize)
	copy(buf, frame[:])
	n, err := bulk(fd, c.opts.out, buf, c.opts.timeout)
	if err != nil {
		return fmt.Errorf("bulk write to 0x%02x: %w", c.opts.out, mapErrno(err))
	}
	if n != len(buf) {
		return fmt.Errorf("bulk write to 0x%02x: short write %d of %d bytes", c.opts.out, n, len(buf))
	}
	return nil
}

// Close stops receiving, releases the interface, resets the device and
// closes the node. Calling Close more than once is allowed.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	fd, claimed, stop, done := c.fd, c.claimed, c.stop, c.done
	c.mu.Unlock()

	if fd < 0 {
		return nil
	}

	close(stop)
	<-done

	var errs []error
	if claimed {
		if err := releaseInterface(fd, c.opts.iface); err != nil && !gone(err) {
			errs = append(errs, fmt.Errorf("release interface: %w", err))
		}
	}
	if err := resetDevice(fd); err != nil && !gone(err) {
		errs = append(errs, fmt.Errorf("reset: %w", err))
	}
	if err := unix.Close(fd); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}

	c.mu.Lock()
	c.fd, c.claimed = -1, false
	c.mu.Unlock()

	c.log.Info("device closed", zap.String("path", c.path))
	return errors.Join(errs...)
}

// receive reads frames from the IN endpoint until stop is closed or the
// device disappears. Each read is bounded by the transfer timeout so stop
// is noticed promptly.
func (c *Conn) receive(fd int, stop, done chan struct{}) {
	defer close(done)

	buf := make([]byte, comm.FrameSize)
	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := bulk(fd, c.opts.in, buf, c.opts.timeout)
		switch {
		case errors.Is(err, unix.ETIMEDOUT), errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
			continue
		case gone(err):
			c.log.Debug("receive stopped: device gone", zap.Error(err))
			return
		case err != nil:
			c.log.Error("bulk read failed", zap.Uint8("endpoint", c.opts.in), zap.Error(err))
			select {
			case <-stop:
				return
			case <-time.After(c.opts.timeout):
			}
			continue
		}

		msg, err := comm.DecodeFrame(buf[:n])
		if err != nil {
			c.log.Debug("dropping malformed frame", zap.Int("bytes", n), zap.Error(err))
			continue
		}
		c.subs.Emit(msg)
	}
}

// gone reports errors meaning the device was unplugged.
func gone(err error) bool {
	return errors.Is(err, unix.ENODEV) || errors.Is(err, unix.ESHUTDOWN) || errors.Is(err, unix.ENOENT)
}

func mapErrno(err error) error {
	if gone(err) {
		return fmt.Errorf("%w: %w", ErrDisconnected, err)
	}
	return err
}
