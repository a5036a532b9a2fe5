package ui

import (
	"sync"

	"github.com/dhavalsavalia/devlink/internal/comm"
	"github.com/dhavalsavalia/devlink/internal/device"
)

// Update is a change pushed into the terminal view.
type Update interface {
	update()
}

// StateUpdate reports a link state transition.
type StateUpdate struct {
	State   comm.State
	Session string
}

// DeviceUpdate reports a presence event.
type DeviceUpdate struct {
	Event device.Event
}

// MessageUpdate reports a message received from the device.
type MessageUpdate struct {
	Message comm.Message
}

// ErrorUpdate reports a failure outside any user action.
type ErrorUpdate struct {
	Err error
}

func (StateUpdate) update()   {}
func (DeviceUpdate) update()  {}
func (MessageUpdate) update() {}
func (ErrorUpdate) update()   {}

// Feed carries updates from service callbacks to the view. Publish blocks
// until the view takes the update or the feed is closed, so callbacks
// never outlive the program.
type Feed struct {
	ch        chan Update
	done      chan struct{}
	closeOnce sync.Once
}

// NewFeed returns a feed buffering up to size updates.
func NewFeed(size int) *Feed {
	return &Feed{
		ch:   make(chan Update, size),
		done: make(chan struct{}),
	}
}

// Publish queues u. It returns false once the feed is closed.
func (f *Feed) Publish(u Update) bool {
	select {
	case <-f.done:
		return false
	default:
	}
	select {
	case f.ch <- u:
		return true
	case <-f.done:
		return false
	}
}

// Updates is the channel the view reads from.
func (f *Feed) Updates() <-chan Update {
	return f.ch
}

// Close releases blocked publishers. The update channel stays open.
func (f *Feed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
