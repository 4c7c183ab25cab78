package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"

	"github.com/portfolio-chat/portfolio-chat/pkg/natsutil"
)

const (
	// DefaultRefreshSubject receives RefreshRequest messages.
	DefaultRefreshSubject = "portfolio.refresh"
	// DefaultEventsSubject receives an Event after every run.
	DefaultEventsSubject = "portfolio.ingested"
	// DefaultInterval is how often Watcher refreshes the live sources.
	DefaultInterval = 6 * time.Hour
)

// RefreshRequest asks a watcher for a run. An empty Mode means dynamic.
type RefreshRequest struct {
	Mode        Mode   `json:"mode"`
	Recreate    bool   `json:"recreate,omitempty"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// Event reports the outcome of one run. It is published after every run and
// sent back as the reply to a RefreshRequest.
type Event struct {
	ID         string            `json:"id"`
	Mode       Mode              `json:"mode"`
	Collection string            `json:"collection"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Documents  int               `json:"documents"`
	Chunks     int               `json:"chunks"`
	BySource   map[string]int    `json:"by_source,omitempty"`
	ByType     map[string]int    `json:"by_type,omitempty"`
	Failures   map[string]string `json:"failures,omitempty"`
	DurationMS int64             `json:"duration_ms"`
	At         time.Time         `json:"at"`
}

// NewEvent builds the event for a finished run.
func NewEvent(sum Summary, err error, at time.Time) Event {
	e := Event{
		ID:         uuid.NewString(),
		Mode:       sum.Mode,
		Collection: sum.Collection,
		Success:    err == nil,
		Documents:  sum.Documents,
		Chunks:     sum.Chunks,
		BySource:   sum.BySource,
		ByType:     sum.ByType,
		Failures:   sum.Failures(),
		DurationMS: sum.Duration.Milliseconds(),
		At:         at.UTC(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// Runner runs one write. *Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, mode Mode, recreate bool) (Summary, error)
}

// Watcher refreshes the index on a timer and on demand over NATS.
type Watcher struct {
	Runner Runner
	// Conn is optional. Without it the watcher only runs on the timer and
	// publishes nothing.
	Conn           *nats.Conn
	RefreshSubject string
	EventsSubject  string
	// Interval of zero disables the timer.
	Interval   time.Duration
	RunOnStart bool
	Logger     *slog.Logger
	Clock      func() time.Time
}

// Run blocks until ctx is cancelled. Runs never overlap: timer runs happen on
// this goroutine and triggered runs on the subscription's, and the pipeline
// serializes writes.
func (w *Watcher) Run(ctx context.Context) error {
	log := w.logger()

	if w.Conn != nil && w.RefreshSubject != "" {
		sub, err := natsutil.Handle(w.Conn, w.RefreshSubject, func(mctx context.Context, req RefreshRequest) Event {
			rctx := trace.ContextWithSpanContext(ctx, trace.SpanContextFromContext(mctx))
			log.Info("refresh requested", "mode", req.Mode, "requested_by", req.RequestedBy)
			return w.RunOnce(rctx, req)
		})
		if err != nil {
			return err
		}
		defer func() { _ = sub.Unsubscribe() }()
		log.Info("listening for refresh requests", "subject", w.RefreshSubject)
	}

	var tick <-chan time.Time
	if w.Interval > 0 {
		t := time.NewTicker(w.Interval)
		defer t.Stop()
		tick = t.C
	}

	if w.RunOnStart {
		w.RunOnce(ctx, RefreshRequest{Mode: ModeDynamic, RequestedBy: "startup"})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			w.RunOnce(ctx, RefreshRequest{Mode: ModeDynamic, RequestedBy: "timer"})
		}
	}
}

// RunOnce performs one run and publishes its event.
func (w *Watcher) RunOnce(ctx context.Context, req RefreshRequest) Event {
	mode := req.Mode
	if mode == "" {
		mode = ModeDynamic
	}
	sum, err := w.Runner.Run(ctx, mode, req.Recreate)
	ev := NewEvent(sum, err, w.now())
	w.publish(ctx, ev)
	return ev
}

func (w *Watcher) publish(ctx context.Context, ev Event) {
	if w.Conn == nil || w.EventsSubject == "" {
		return
	}
	if err := natsutil.Publish(ctx, w.Conn, w.EventsSubject, ev); err != nil {
		w.logger().Warn("publish ingest event", "subject", w.EventsSubject, "err", err)
	}
}

func (w *Watcher) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

func (w *Watcher) now() time.Time {
	if w.Clock != nil {
		return w.Clock()
	}
	return time.Now()
}

// PublishEvent publishes the event of a finished run on subject. A nil conn
// is a no-op.
func PublishEvent(ctx context.Context, nc *nats.Conn, subject string, sum Summary, runErr error) error {
	if nc == nil || subject == "" {
		return nil
	}
	return natsutil.Publish(ctx, nc, subject, NewEvent(sum, runErr, time.Now()))
}
