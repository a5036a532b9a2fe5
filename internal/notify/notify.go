// Package notify provides an ordered registry of synchronous callbacks.
package notify

import (
	"sync"
)

// Registry holds callbacks for values of type T. The zero value is ready to
// use. Emit calls every callback on the caller's goroutine, in registration
// order; callbacks added or removed during Emit take effect on the next call.
type Registry[T any] struct {
	mu    sync.Mutex
	next  uint64
	order []uint64
	fns   map[uint64]func(T)
}

// Add registers fn and returns a func that removes it. The returned func
// may be called any number of times.
func (r *Registry[T]) Add(fn func(T)) (cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fns == nil {
		r.fns = make(map[uint64]func(T))
	}
	id := r.next
	r.next++
	r.order = append(r.order, id)
	r.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(id) })
	}
}

func (r *Registry[T]) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.fns, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of registered callbacks.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Emit calls every registered callback with v.
func (r *Registry[T]) Emit(v T) {
	r.mu.Lock()
	fns := make([]func(T), 0, len(r.order))
	for _, id := range r.order {
		fns = append(fns, r.fns[id])
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}
