package metrics

import "time"

// Metric names recorded by the ingestion pipeline and the chat service.
const (
	DocumentsLoadedTotal = "portfolio_documents_loaded_total"
	LoaderFailuresTotal  = "portfolio_loader_failures_total"
	ChunksWrittenTotal   = "portfolio_chunks_written_total"
	IngestRunsTotal      = "portfolio_ingest_runs_total"
	EmbedSeconds         = "portfolio_embed_duration_seconds"
	UpsertSeconds        = "portfolio_upsert_duration_seconds"
	ChatRequestsTotal    = "portfolio_chat_requests_total"
	ChatFailuresTotal    = "portfolio_chat_failures_total"
	ChatRejectedTotal    = "portfolio_chat_rejected_total"
	ChatSeconds          = "portfolio_chat_duration_seconds"
	BreakerStateGauge    = "portfolio_breaker_state"
	CollectionPoints     = "portfolio_collection_points"
)

// Portfolio records domain metrics into a Registry. A nil *Portfolio is a
// valid no-op recorder.
type Portfolio struct {
	reg *Registry
}

// NewPortfolio returns a recorder backed by reg.
func NewPortfolio(reg *Registry) *Portfolio {
	if reg == nil {
		return nil
	}
	return &Portfolio{reg: reg}
}

// Registry returns the backing registry.
func (p *Portfolio) Registry() *Registry {
	if p == nil {
		return nil
	}
	return p.reg
}

// DocumentsLoaded adds n documents loaded from source.
func (p *Portfolio) DocumentsLoaded(source string, n int) {
	if p == nil {
		return
	}
	p.reg.Counter(WithLabels(DocumentsLoadedTotal, "source", source), "Documents produced by each loader").Add(int64(n))
}

// LoaderFailed counts a loader whose call failed (not merely unconfigured).
func (p *Portfolio) LoaderFailed(loader string) {
	if p == nil {
		return
	}
	p.reg.Counter(WithLabels(LoaderFailuresTotal, "loader", loader), "Loader calls that failed").Inc()
}

// ChunksWritten adds n chunks upserted into the index.
func (p *Portfolio) ChunksWritten(n int) {
	if p == nil {
		return
	}
	p.reg.Counter(ChunksWrittenTotal, "Chunks upserted into the vector index").Add(int64(n))
}

// IngestRun counts one ingest or update run by mode and outcome.
func (p *Portfolio) IngestRun(mode string, err error) {
	if p == nil {
		return
	}
	p.reg.Counter(WithLabels(IngestRunsTotal, "mode", mode, "result", result(err)), "Ingestion runs").Inc()
}

// ObserveEmbed records the time spent embedding one run's chunks.
func (p *Portfolio) ObserveEmbed(d time.Duration) {
	if p == nil {
		return
	}
	p.reg.Histogram(EmbedSeconds, "Embedding latency per run", nil).Observe(d.Seconds())
}

// ObserveUpsert records the time spent writing one run's points.
func (p *Portfolio) ObserveUpsert(d time.Duration) {
	if p == nil {
		return
	}
	p.reg.Histogram(UpsertSeconds, "Vector upsert latency per run", nil).Observe(d.Seconds())
}

// ChatRequest records one answered chat request.
func (p *Portfolio) ChatRequest(success bool, d time.Duration) {
	if p == nil {
		return
	}
	p.reg.Counter(ChatRequestsTotal, "Chat requests answered").Inc()
	if !success {
		p.reg.Counter(ChatFailuresTotal, "Chat requests that returned success=false").Inc()
	}
	p.reg.Histogram(ChatSeconds, "Chat request latency", nil).Observe(d.Seconds())
}

// ChatRejected counts a request refused before answering.
func (p *Portfolio) ChatRejected(reason string) {
	if p == nil {
		return
	}
	p.reg.Counter(WithLabels(ChatRejectedTotal, "reason", reason), "Chat requests rejected before answering").Inc()
}

// BreakerState sets the state gauge of the named circuit breaker
// (0 closed, 1 open, 2 half-open).
func (p *Portfolio) BreakerState(name string, state int) {
	if p == nil {
		return
	}
	p.reg.Gauge(WithLabels(BreakerStateGauge, "breaker", name), "Circuit breaker state").Set(float64(state))
}

// CollectionSize sets the last observed point count of the collection.
func (p *Portfolio) CollectionSize(collection string, points uint64) {
	if p == nil {
		return
	}
	p.reg.Gauge(WithLabels(CollectionPoints, "collection", collection), "Points in the vector collection").Set(float64(points))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
