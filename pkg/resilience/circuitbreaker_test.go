package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/portfolio-chat/portfolio-chat/pkg/fn"
)

var errUpstream = errors.New("openai: 503 service unavailable")

// fakeClock drives the breaker timeout without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := NewBreaker(BreakerOpts{Name: "openai-embed", FailThreshold: threshold, Timeout: 30 * time.Second})
	b.now = clock.now
	return b, clock
}

func failN(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		_ = b.Call(context.Background(), func(context.Context) error { return errUpstream })
	}
}

func TestBreakerDefaults(t *testing.T) {
	b := NewBreaker(BreakerOpts{Name: "openai-chat"})
	if b.Name() != "openai-chat" || b.State() != StateClosed {
		t.Fatalf("name=%s state=%s", b.Name(), b.State())
	}
	if b.opts.FailThreshold != 5 || b.opts.Timeout != 30*time.Second || b.opts.HalfOpenMax != 1 {
		t.Fatalf("defaults not applied: %+v", b.opts)
	}
	for s, want := range map[State]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open", State(9): "unknown"} {
		if s.String() != want {
			t.Errorf("State(%d) = %s", s, s.String())
		}
	}
}

func TestBreakerOpensOnConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(3)

	failN(b, 2)
	_ = b.Call(context.Background(), func(context.Context) error { return nil })
	failN(b, 2)
	if b.State() != StateClosed {
		t.Fatal("a success in between must reset the count")
	}

	failN(b, 1)
	if b.State() != StateOpen {
		t.Fatalf("state = %s", b.State())
	}
	called := false
	err := b.Call(context.Background(), func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("open breaker must reject without calling: err=%v called=%v", err, called)
	}
}

func TestBreakerTrialCall(t *testing.T) {
	tests := []struct {
		name  string
		trial error
		want  State
	}{
		{"success closes", nil, StateClosed},
		{"failure reopens", errUpstream, StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, clock := newTestBreaker(2)
			failN(b, 2)

			clock.advance(29 * time.Second)
			if b.State() != StateOpen {
				t.Fatal("opened too early")
			}
			clock.advance(time.Second)
			if b.State() != StateHalfOpen {
				t.Fatalf("state = %s", b.State())
			}

			_ = b.Call(context.Background(), func(context.Context) error { return tt.trial })
			if b.State() != tt.want {
				t.Fatalf("state = %s, want %s", b.State(), tt.want)
			}
		})
	}
}

func TestBreakerHalfOpenAdmitsOneTrial(t *testing.T) {
	b, clock := newTestBreaker(1)
	failN(b, 1)
	clock.advance(time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = b.Call(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	if err := b.Call(context.Background(), func(context.Context) error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second trial err = %v", err)
	}
	close(release)
}

func TestBreakerFailureClassification(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 1})
	_ = b.Call(context.Background(), func(context.Context) error { return fmt.Errorf("embed: %w", context.Canceled) })
	if b.State() != StateClosed {
		t.Fatal("cancellation must not count")
	}

	errBadRequest := errors.New("400 bad request")
	b = NewBreaker(BreakerOpts{FailThreshold: 1, IsFailure: func(err error) bool { return !errors.Is(err, errBadRequest) }})
	_ = b.Call(context.Background(), func(context.Context) error { return errBadRequest })
	if b.State() != StateClosed {
		t.Fatal("client errors must not trip the breaker")
	}
	_ = b.Call(context.Background(), func(context.Context) error { return errUpstream })
	if b.State() != StateOpen {
		t.Fatal("upstream errors must trip the breaker")
	}
}

func TestCallResult(t *testing.T) {
	b, _ := newTestBreaker(1)
	vec, err := CallResult(b, context.Background(), func(context.Context) fn.Result[[]float32] {
		return fn.Ok([]float32{0.1, 0.2})
	}).Unwrap()
	if err != nil || len(vec) != 2 {
		t.Fatalf("vec=%v err=%v", vec, err)
	}

	_, err = CallResult(b, context.Background(), func(context.Context) fn.Result[[]float32] {
		return fn.Err[[]float32](errUpstream)
	}).Unwrap()
	if !errors.Is(err, errUpstream) {
		t.Fatalf("err = %v", err)
	}
	if _, err := CallResult(b, context.Background(), func(context.Context) fn.Result[[]float32] {
		t.Fatal("must not run while open")
		return fn.Ok[[]float32](nil)
	}).Unwrap(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v", err)
	}
}

func TestBreakerOnStateChange(t *testing.T) {
	type transition struct {
		name     string
		from, to State
	}
	var seen []transition
	clock := &fakeClock{t: time.Unix(0, 0)}
	b := NewBreaker(BreakerOpts{
		Name:          "openai-chat",
		FailThreshold: 1,
		Timeout:       time.Second,
		OnStateChange: func(name string, from, to State) { seen = append(seen, transition{name, from, to}) },
	})
	b.now = clock.now

	failN(b, 1)
	clock.advance(time.Second)
	_ = b.Call(context.Background(), func(context.Context) error { return nil })

	want := []transition{
		{"openai-chat", StateClosed, StateOpen},
		{"openai-chat", StateOpen, StateHalfOpen},
		{"openai-chat", StateHalfOpen, StateClosed},
	}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, seen[i], want[i])
		}
	}
}
