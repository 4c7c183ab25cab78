// Package metrics is a small in-process metrics registry rendered in the
// Prometheus text exposition format. Series are addressed by name, with
// labels folded into the name by WithLabels.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuckets suit request latencies in seconds, from a cached lookup up
// to a slow completion.
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Counter only goes up.
type Counter struct{ n atomic.Int64 }

func (c *Counter) Inc()         { c.n.Add(1) }
func (c *Counter) Add(n int64)  { c.n.Add(n) }
func (c *Counter) Value() int64 { return c.n.Load() }

// Gauge holds a float64 that can be set or adjusted.
type Gauge struct{ bits atomic.Uint64 }

func (g *Gauge) Set(v float64)  { g.bits.Store(math.Float64bits(v)) }
func (g *Gauge) Value() float64 { return math.Float64frombits(g.bits.Load()) }
func (g *Gauge) Inc()           { g.Add(1) }
func (g *Gauge) Dec()           { g.Add(-1) }

// Add adjusts the gauge by delta with a CAS loop.
func (g *Gauge) Add(delta float64) {
	for {
		cur := g.bits.Load()
		if g.bits.CompareAndSwap(cur, math.Float64bits(math.Float64frombits(cur)+delta)) {
			return
		}
	}
}

// Histogram counts observations into fixed upper bounds.
type Histogram struct {
	bounds []float64

	mu     sync.Mutex
	hits   []uint64 // per bound, not cumulative
	total  float64
	events uint64
}

func newHistogram(bounds []float64) *Histogram {
	sorted := append([]float64(nil), bounds...)
	sort.Float64s(sorted)
	return &Histogram{bounds: sorted, hits: make([]uint64, len(sorted))}
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	i := sort.SearchFloat64s(h.bounds, v)
	h.mu.Lock()
	h.total += v
	h.events++
	if i < len(h.hits) {
		h.hits[i]++
	}
	h.mu.Unlock()
}

// Since observes the seconds elapsed since start.
func (h *Histogram) Since(start time.Time) { h.Observe(time.Since(start).Seconds()) }

func (h *Histogram) snapshot() (bounds []float64, hits []uint64, sum float64, count uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bounds, append([]uint64(nil), h.hits...), h.total, h.events
}

type kind string

const (
	kindCounter   kind = "counter"
	kindGauge     kind = "gauge"
	kindHistogram kind = "histogram"
)

// family groups every labelled series sharing one metric name.
type family struct {
	kind   kind
	help   string
	series map[string]any // label set -> *Counter, *Gauge or *Histogram
}

// Registry owns metric families in registration order.
type Registry struct {
	mu       sync.RWMutex
	families map[string]*family
	order    []string
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{families: make(map[string]*family)}
}

// lookup returns the series for name, creating it with mk on first use.
// Reusing a name with a different kind panics.
func lookup[T any](r *Registry, name, help string, k kind, mk func() T) T {
	base, labels := splitName(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.families[base]
	if !ok {
		f = &family{kind: k, series: make(map[string]any)}
		r.families[base] = f
		r.order = append(r.order, base)
	}
	if f.kind != k {
		panic(fmt.Sprintf("metrics: %s is a %s, not a %s", base, f.kind, k))
	}
	if f.help == "" {
		f.help = help
	}
	if s, ok := f.series[labels]; ok {
		return s.(T)
	}
	s := mk()
	f.series[labels] = s
	return s
}

// Counter returns the counter called name, creating it if needed.
func (r *Registry) Counter(name, help string) *Counter {
	return lookup(r, name, help, kindCounter, func() *Counter { return &Counter{} })
}

// Gauge returns the gauge called name, creating it if needed.
func (r *Registry) Gauge(name, help string) *Gauge {
	return lookup(r, name, help, kindGauge, func() *Gauge { return &Gauge{} })
}

// Histogram returns the histogram called name, creating it with buckets (or
// DefaultBuckets when nil) if needed.
func (r *Registry) Histogram(name, help string, buckets []float64) *Histogram {
	if buckets == nil {
		buckets = DefaultBuckets
	}
	return lookup(r, name, help, kindHistogram, func() *Histogram { return newHistogram(buckets) })
}

var escapeLabel = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

// WithLabels folds label pairs into a series name:
// WithLabels("x_total", "source", "blog") is `x_total{source="blog"}`.
// An odd number of kvs leaves name unchanged.
func WithLabels(name string, kvs ...string) string {
	if len(kvs) == 0 || len(kvs)%2 == 1 {
		return name
	}
	pairs := make([]string, 0, len(kvs)/2)
	for i := 0; i < len(kvs); i += 2 {
		pairs = append(pairs, kvs[i]+`="`+escapeLabel.Replace(kvs[i+1])+`"`)
	}
	return name + "{" + strings.Join(pairs, ",") + "}"
}

// splitName separates `x{a="b"}` into "x" and `a="b"`.
func splitName(name string) (base, labels string) {
	i := strings.IndexByte(name, '{')
	if i < 0 {
		return name, ""
	}
	return name[:i], strings.TrimSuffix(name[i+1:], "}")
}

func braces(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}

// Render writes every family in registration order, series sorted by label
// set.
func (r *Registry) Render() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	for _, base := range r.order {
		f := r.families[base]
		if f.help != "" {
			fmt.Fprintf(&b, "# HELP %s %s\n", base, f.help)
		}
		fmt.Fprintf(&b, "# TYPE %s %s\n", base, f.kind)

		sets := make([]string, 0, len(f.series))
		for labels := range f.series {
			sets = append(sets, labels)
		}
		sort.Strings(sets)
		for _, labels := range sets {
			switch s := f.series[labels].(type) {
			case *Counter:
				fmt.Fprintf(&b, "%s%s %d\n", base, braces(labels), s.Value())
			case *Gauge:
				fmt.Fprintf(&b, "%s%s %g\n", base, braces(labels), s.Value())
			case *Histogram:
				writeHistogram(&b, base, labels, s)
			}
		}
	}
	return b.String()
}

func writeHistogram(b *strings.Builder, base, labels string, h *Histogram) {
	bounds, hits, sum, count := h.snapshot()
	extra := ""
	if labels != "" {
		extra = "," + labels
	}
	var running uint64
	for i, le := range bounds {
		running += hits[i]
		fmt.Fprintf(b, "%s_bucket{le=\"%g\"%s} %d\n", base, le, extra, running)
	}
	fmt.Fprintf(b, "%s_bucket{le=\"+Inf\"%s} %d\n", base, extra, count)
	fmt.Fprintf(b, "%s_sum%s %g\n", base, braces(labels), sum)
	fmt.Fprintf(b, "%s_count%s %d\n", base, braces(labels), count)
}

// Handler serves Render as text/plain.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = io.WriteString(w, r.Render())
	})
}

// Serve exposes /metrics on addr and shuts down gracefully once ctx ends.
func (r *Registry) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok\n")
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	served := make(chan error, 1)
	go func() { served <- srv.ListenAndServe() }()

	select {
	case err := <-served:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-served; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ServeAsync runs Serve on port in the background, logging its failure.
// Port zero or below disables the endpoint.
func (r *Registry) ServeAsync(ctx context.Context, port int, log *slog.Logger) {
	if port <= 0 {
		return
	}
	if log == nil {
		log = slog.Default()
	}
	go func() {
		if err := r.Serve(ctx, fmt.Sprintf(":%d", port)); err != nil {
			log.Error("metrics endpoint stopped", "port", port, "err", err)
		}
	}()
}
