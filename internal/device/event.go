package device

import (
	"github.com/dhavalsavalia/devlink/internal/descriptor"
)

// Kind distinguishes arrival from removal.
type Kind int

const (
	// Arrival is raised when a new device node is observed.
	Arrival Kind = iota + 1
	// Removal is raised when a previously observed device node disappears.
	Removal
)

func (k Kind) String() string {
	switch k {
	case Arrival:
		return "arrival"
	case Removal:
		return "removal"
	default:
		return "unknown"
	}
}

// Event is a presence notification for one device node.
type Event struct {
	Kind     Kind
	Path     string
	Identity descriptor.Identity
}

// Op is a raw filesystem change reported by a Watcher.
type Op int

const (
	// Created reports a new entry.
	Created Op = iota + 1
	// Deleted reports a removed or renamed-away entry.
	Deleted
)

func (o Op) String() string {
	switch o {
	case Created:
		return "created"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// WatchEvent is a single change observed under the watched root.
type WatchEvent struct {
	Op   Op
	Path string
}

// Watcher reports file creation and deletion under a directory tree.
type Watcher interface {
	// Start begins watching root and everything below it.
	Start(root string) error
	// Events delivers changes. It is closed when the watcher stops.
	Events() <-chan WatchEvent
	// Errors delivers non-fatal watch errors.
	Errors() <-chan error
	// Close stops the watcher.
	Close() error
}
