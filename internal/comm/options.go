package comm

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Restart policy defaults.
const (
	DefaultInitialDelay = 250 * time.Millisecond
	DefaultMaxDelay     = 8 * time.Second
	DefaultAttempts     = 4
)

const backoffMultiplier = 2

type options struct {
	log          *zap.Logger
	initialDelay time.Duration
	maxDelay     time.Duration
	attempts     int
	timer        backoff.Timer
}

func defaultOptions() options {
	return options{
		log:          zap.NewNop(),
		initialDelay: DefaultInitialDelay,
		maxDelay:     DefaultMaxDelay,
		attempts:     DefaultAttempts,
	}
}

// Option configures a Service or DeviceService.
type Option func(*options)

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithInitialDelay sets the wait after the first failed restart attempt.
// Each further wait doubles.
func WithInitialDelay(d time.Duration) Option {
	return func(o *options) {
		o.initialDelay = d
	}
}

// WithMaxDelay caps the wait between restart attempts.
func WithMaxDelay(d time.Duration) Option {
	return func(o *options) {
		o.maxDelay = d
	}
}

// WithAttempts sets the total number of restart attempts made after a
// device arrives, including the first one.
func WithAttempts(n int) Option {
	return func(o *options) {
		o.attempts = n
	}
}

// withTimer replaces the timer driving backoff waits.
func withTimer(t backoff.Timer) Option {
	return func(o *options) {
		o.timer = t
	}
}
