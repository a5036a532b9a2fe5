package comm

import "sync"

// dispatcher hands delegate messages to subscribers on its own goroutine so
// that handlers may call back into the Service. One dispatcher serves one
// Up session; close drops whatever is still queued.
type dispatcher struct {
	emit func(Message)

	mu      sync.Mutex
	queue   []Message
	stopped bool

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

func newDispatcher(emit func(Message)) *dispatcher {
	q := &dispatcher{
		emit: emit,
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
	go q.run()
	return q
}

// push queues msg without blocking the delegate's reader.
func (q *dispatcher) push(msg Message) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.queue = append(q.queue, msg)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// close stops delivery. It does not wait for a handler already running.
func (q *dispatcher) close() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.stopped = true
		q.queue = nil
		q.mu.Unlock()
		close(q.stop)
	})
}

func (q *dispatcher) run() {
	for {
		select {
		case <-q.stop:
			return
		case <-q.wake:
		}
		for {
			msg, ok := q.pop()
			if !ok {
				break
			}
			q.emit(msg)
		}
	}
}

func (q *dispatcher) pop() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped || len(q.queue) == 0 {
		return Message{}, false
	}
	msg := q.queue[0]
	q.queue = q.queue[1:]
	return msg, true
}
