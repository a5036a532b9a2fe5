// Package usbfs is a comm.Delegate that talks to a device through the Linux
// usbfs interface: it claims one interface and exchanges 64-byte frames over
// a pair of bulk endpoints.
package usbfs

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/dhavalsavalia/devlink/internal/descriptor"
)

var (
	// ErrNotFound is returned by Start when no node matches the identity.
	ErrNotFound = errors.New("device not found")
	// ErrDisconnected is returned when the device went away mid-transfer.
	ErrDisconnected = errors.New("device disconnected")
	// ErrNotStarted is returned by Send before Start or after Close.
	ErrNotStarted = errors.New("connection not started")
	// ErrUnsupported is returned by Start on platforms without usbfs.
	ErrUnsupported = errors.New("usbfs is not supported on this platform")
)

// Defaults matching a vendor-class device with one bulk IN/OUT pair.
const (
	DefaultDir         = "/dev/bus/usb"
	DefaultInterface   = 0
	DefaultEndpointIn  = 0x81
	DefaultEndpointOut = 0x01
	DefaultTimeout     = time.Second
	configuration      = 1
)

type options struct {
	dir     string
	iface   uint8
	in      uint8
	out     uint8
	timeout time.Duration
	log     *zap.Logger
}

// Option configures a Conn.
type Option func(*options)

// WithDir sets the directory searched for device nodes.
func WithDir(dir string) Option {
	return func(o *options) {
		o.dir = dir
	}
}

// WithInterface sets the interface number to claim.
func WithInterface(n uint8) Option {
	return func(o *options) {
		o.iface = n
	}
}

// WithEndpoints sets the bulk IN and OUT endpoint addresses.
func WithEndpoints(in, out uint8) Option {
	return func(o *options) {
		o.in, o.out = in, out
	}
}

// WithTimeout bounds a single bulk transfer.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		dir:     DefaultDir,
		iface:   DefaultInterface,
		in:      DefaultEndpointIn,
		out:     DefaultEndpointOut,
		timeout: DefaultTimeout,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.log = o.log.Named("usbfs")
	return o
}

// Find returns the first node under dir, in lexical order, whose device
// descriptor carries id.
func Find(dir string, id descriptor.Identity) (string, error) {
	var found string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if got, ok := descriptor.ParseFile(path); ok && got == id {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("cannot search %s: %w", dir, err)
	}
	if found == "" {
		return "", fmt.Errorf("%w: %s under %s", ErrNotFound, id, dir)
	}
	return found, nil
}
