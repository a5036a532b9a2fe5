//go:build !linux || mips || mipsle || mips64 || mips64le || ppc64 || ppc64le

package usbfs

import (
	"context"

	"github.com/dhavalsavalia/devlink/internal/comm"
	"github.com/dhavalsavalia/devlink/internal/descriptor"
	"github.com/dhavalsavalia/devlink/internal/notify"
)

// Conn is a placeholder on platforms without a supported usbfs; Start
// always fails with ErrUnsupported.
type Conn struct {
	id   descriptor.Identity
	opts options
	subs notify.Registry[comm.Message]
}

// New returns a connection whose Start fails with ErrUnsupported.
func New(id descriptor.Identity, opts ...Option) *Conn {
	return &Conn{id: id, opts: newOptions(opts)}
}

func (c *Conn) Path() string { return "" }

func (c *Conn) Subscribe(fn func(comm.Message)) (cancel func()) {
	return c.subs.Add(fn)
}

func (c *Conn) Start(context.Context) error { return ErrUnsupported }

func (c *Conn) Send(context.Context, comm.Message) error { return ErrNotStarted }

func (c *Conn) Close() error { return nil }
