// Package resilience guards calls to the embedding, completion and source
// APIs with circuit breakers and rate limiters.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/portfolio-chat/portfolio-chat/pkg/fn"
)

// State of a circuit breaker.
type State int

const (
	StateClosed   State = iota // normal operation
	StateOpen                  // rejecting calls
	StateHalfOpen              // allowing a trial call
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerOpts configures a Breaker.
type BreakerOpts struct {
	// Name identifies the guarded dependency in logs and metrics.
	Name string
	// FailThreshold is how many consecutive failures trip the breaker.
	FailThreshold int
	// Timeout is how long the breaker stays open before a trial call is allowed.
	Timeout time.Duration
	// HalfOpenMax is the number of trial calls allowed while half-open.
	HalfOpenMax int
	// IsFailure decides whether an error counts against the breaker.
	// Nil counts every error except context cancellation.
	IsFailure func(error) bool
	// OnStateChange is called, outside the lock, after every transition.
	OnStateChange func(name string, from, to State)
}

// DefaultBreakerOpts is used for zero fields.
var DefaultBreakerOpts = BreakerOpts{
	FailThreshold: 5,
	Timeout:       30 * time.Second,
	HalfOpenMax:   1,
}

// Breaker is a consecutive-failure circuit breaker.
type Breaker struct {
	mu            sync.Mutex
	opts          BreakerOpts
	state         State
	failures      int
	openedAt      time.Time
	halfOpenCount int
	now           func() time.Time
}

// NewBreaker creates a circuit breaker with the given options.
func NewBreaker(opts BreakerOpts) *Breaker {
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = DefaultBreakerOpts.FailThreshold
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultBreakerOpts.Timeout
	}
	if opts.HalfOpenMax <= 0 {
		opts.HalfOpenMax = DefaultBreakerOpts.HalfOpenMax
	}
	if opts.IsFailure == nil {
		opts.IsFailure = countsAsFailure
	}
	return &Breaker{opts: opts, now: time.Now}
}

func countsAsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// Name returns the configured breaker name.
func (b *Breaker) Name() string { return b.opts.Name }

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	st, changed := b.currentState()
	b.mu.Unlock()
	if changed {
		b.notify(StateOpen, StateHalfOpen)
	}
	return st
}

// currentState moves open to half-open once the timeout elapsed. Must hold mu.
func (b *Breaker) currentState() (State, bool) {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.opts.Timeout {
		b.state = StateHalfOpen
		b.halfOpenCount = 0
		return b.state, true
	}
	return b.state, false
}

// Call executes f through the circuit breaker.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	_, err := CallResult(b, ctx, func(ctx context.Context) fn.Result[struct{}] {
		return fn.FromPair(struct{}{}, f(ctx))
	}).Unwrap()
	return err
}

// admit reserves a slot for a call or reports that the breaker is open.
func (b *Breaker) admit() error {
	b.mu.Lock()
	st, changed := b.currentState()
	var err error
	switch st {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		if b.halfOpenCount >= b.opts.HalfOpenMax {
			err = ErrCircuitOpen
		} else {
			b.halfOpenCount++
		}
	}
	b.mu.Unlock()
	if changed {
		b.notify(StateOpen, StateHalfOpen)
	}
	return err
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	from := b.state
	if err != nil && b.opts.IsFailure(err) {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.opts.FailThreshold {
			b.state = StateOpen
			b.openedAt = b.now()
			b.failures = 0
			b.halfOpenCount = 0
		}
	} else {
		if b.state == StateHalfOpen {
			b.state = StateClosed
		}
		b.failures = 0
	}
	to := b.state
	b.mu.Unlock()
	if from != to {
		b.notify(from, to)
	}
}

func (b *Breaker) notify(from, to State) {
	if b.opts.OnStateChange != nil {
		b.opts.OnStateChange(b.opts.Name, from, to)
	}
}

// CallResult runs f through the breaker and returns its result unchanged,
// or ErrCircuitOpen without calling f.
func CallResult[T any](b *Breaker, ctx context.Context, f func(context.Context) fn.Result[T]) fn.Result[T] {
	if err := b.admit(); err != nil {
		return fn.Err[T](err)
	}
	result := f(ctx)
	_, err := result.Unwrap()
	b.record(err)
	return result
}
