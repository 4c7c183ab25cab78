// Package ingest provides the ingestion pipeline that loads portfolio
// sources, chunks and embeds them, and writes them into the vector index.
//
// Two write modes exist. Ingest rebuilds the whole collection from every
// registered loader. UpdateDynamic refreshes only the live sources
// (repositories and articles) by replacing their points. Both are
// serialized: at most one write runs at a time per pipeline.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/portfolio-chat/portfolio-chat/engine/domain"
	"github.com/portfolio-chat/portfolio-chat/engine/loader"
	"github.com/portfolio-chat/portfolio-chat/engine/semantic"
	"github.com/portfolio-chat/portfolio-chat/pkg/fn"
	"github.com/portfolio-chat/portfolio-chat/pkg/metrics"
)

const (
	// EmbedBatchSize is the max chunks per embedding request.
	EmbedBatchSize = 100
	// UpsertBatchSize is the max points per upsert call.
	UpsertBatchSize = 100
)

// Mode names a write run.
type Mode string

const (
	ModeFull    Mode = "full"
	ModeDynamic Mode = "dynamic"
)

// Embedder turns texts into vectors of a fixed dimension.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Index is the subset of the vector store the pipeline writes through.
type Index interface {
	Collection() string
	CollectionExists(ctx context.Context) (bool, error)
	CreateCollection(ctx context.Context, dims int) error
	DeleteCollection(ctx context.Context) error
	Stats(ctx context.Context) (semantic.Stats, error)
	Upsert(ctx context.Context, records []semantic.VectorRecord) error
	DeleteBySources(ctx context.Context, sources ...string) error
}

// Splitter chunks documents.
type Splitter interface {
	Split(docs []domain.Document) []domain.Chunk
}

// Projector mirrors loaded documents into a secondary store. Failures are
// logged and never fail a run.
type Projector interface {
	Project(ctx context.Context, docs []domain.Document) error
}

// Deps holds the external dependencies for the ingestion pipeline.
type Deps struct {
	Embedder Embedder
	Index    Index
	Splitter Splitter
	Graph    Projector          // optional
	Metrics  *metrics.Portfolio // optional
	Logger   *slog.Logger
	Clock    func() time.Time
}

type registration struct {
	name   string
	loader loader.Loader
}

// Pipeline owns the loader registry and the write path.
type Pipeline struct {
	deps Deps
	log  *slog.Logger

	mu      sync.RWMutex
	loaders []registration

	writeMu sync.Mutex
}

// New validates deps and returns an empty pipeline.
func New(deps Deps) (*Pipeline, error) {
	switch {
	case deps.Embedder == nil:
		return nil, errors.New("ingest: embedder is required")
	case deps.Index == nil:
		return nil, errors.New("ingest: index is required")
	case deps.Splitter == nil:
		return nil, errors.New("ingest: splitter is required")
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{deps: deps, log: log.With("component", "ingest")}, nil
}

// Register adds l under name. Registering an existing name replaces the
// loader but keeps its original position.
func (p *Pipeline) Register(name string, l loader.Loader) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, r := range p.loaders {
		if r.name == name {
			p.loaders[i].loader = l
			return
		}
	}
	p.loaders = append(p.loaders, registration{name: name, loader: l})
}

// Loaders returns the registered names in registration order.
func (p *Pipeline) Loaders() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return fn.Map(p.loaders, func(r registration) string { return r.name })
}

// Collection returns the target collection name.
func (p *Pipeline) Collection() string { return p.deps.Index.Collection() }

func (p *Pipeline) snapshot(keep func(name string) bool) []registration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return fn.Filter(p.loaders, func(r registration) bool { return keep(r.name) })
}

// LoadAll runs every registered loader concurrently and concatenates their
// documents in registration order. A failing loader is logged and skipped.
func (p *Pipeline) LoadAll(ctx context.Context) ([]domain.Document, []domain.LoadReport) {
	return p.load(ctx, p.snapshot(func(string) bool { return true }))
}

// LoadDynamic is LoadAll restricted to the live sources.
func (p *Pipeline) LoadDynamic(ctx context.Context) ([]domain.Document, []domain.LoadReport) {
	return p.load(ctx, p.snapshot(func(name string) bool { return domain.Source(name).IsDynamic() }))
}

type loaded struct {
	docs   []domain.Document
	report domain.LoadReport
}

func (p *Pipeline) load(ctx context.Context, regs []registration) ([]domain.Document, []domain.LoadReport) {
	results := fn.ParMapResult(regs, 0, func(r registration) fn.Result[loaded] {
		return fn.Ok(p.runLoader(ctx, r))
	})

	var docs []domain.Document
	reports := make([]domain.LoadReport, 0, len(results))
	for _, res := range results {
		l, _ := res.Unwrap()
		docs = append(docs, l.docs...)
		reports = append(reports, l.report)
	}
	return docs, reports
}

func (p *Pipeline) runLoader(ctx context.Context, r registration) (out loaded) {
	start := p.deps.Clock()
	out.report.Loader = r.name
	defer func() {
		if rec := recover(); rec != nil {
			out.docs = nil
			out.report.Documents = 0
			out.report.Err = fmt.Errorf("%s: panic: %v: %w", r.name, rec, domain.ErrSourceUnavailable)
		}
		out.report.Duration = p.deps.Clock().Sub(start)
		p.logReport(out.report)
	}()

	docs, err := r.loader.Load(ctx)
	if err != nil {
		out.report.Err = err
		out.report.Skipped = domain.IsSoft(err)
		return out
	}

	valid := make([]domain.Document, 0, len(docs))
	for _, d := range docs {
		if verr := domain.ValidateDocument(d); verr != nil {
			p.log.Warn("dropping invalid document", "loader", r.name, "err", verr)
			continue
		}
		valid = append(valid, d)
	}
	out.docs = valid
	out.report.Documents = len(valid)
	return out
}

func (p *Pipeline) logReport(r domain.LoadReport) {
	switch {
	case r.Err == nil:
		p.log.Info("loader done", "loader", r.Loader, "count", r.Documents, "duration", r.Duration)
		p.deps.Metrics.DocumentsLoaded(r.Loader, r.Documents)
	case r.Skipped:
		p.log.Warn("loader skipped", "loader", r.Loader, "err", r.Err)
	default:
		p.log.Warn("loader failed", "loader", r.Loader, "err", r.Err)
		p.deps.Metrics.LoaderFailed(r.Loader)
	}
}

// SetupCollection prepares the collection at the embedder's dimension. With
// recreate set, an existing collection is dropped first. An existing
// collection with a different vector size fails with
// domain.ErrDimensionMismatch.
func (p *Pipeline) SetupCollection(ctx context.Context, recreate bool) error {
	idx := p.deps.Index
	dim := p.deps.Embedder.Dimension()

	exists, err := idx.CollectionExists(ctx)
	if err != nil {
		return fmt.Errorf("ingest: setup collection: %w", err)
	}
	if exists && recreate {
		p.log.Info("dropping collection", "collection", idx.Collection())
		if err := idx.DeleteCollection(ctx); err != nil {
			return fmt.Errorf("ingest: setup collection: %w", err)
		}
		exists = false
	}
	if !exists {
		p.log.Info("creating collection", "collection", idx.Collection(), "dimension", dim)
		if err := idx.CreateCollection(ctx, dim); err != nil {
			return fmt.Errorf("ingest: setup collection: %w", err)
		}
		return nil
	}

	st, err := idx.Stats(ctx)
	if err != nil {
		return fmt.Errorf("ingest: setup collection: %w", err)
	}
	if st.VectorSize != 0 && st.VectorSize != uint64(dim) {
		return fmt.Errorf("ingest: collection %q has vector size %d, embedder produces %d: %w",
			idx.Collection(), st.VectorSize, dim, domain.ErrDimensionMismatch)
	}
	return nil
}

// Ingest rebuilds the collection from every registered loader. When no
// loader yields a document it returns domain.ErrNoDocuments and leaves the
// index untouched.
func (p *Pipeline) Ingest(ctx context.Context, recreate bool) (Summary, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	start := p.deps.Clock()
	sum := Summary{Mode: ModeFull, Collection: p.Collection()}
	err := p.ingest(ctx, recreate, &sum)
	sum.Duration = p.deps.Clock().Sub(start)
	p.finish(sum, err)
	return sum, err
}

func (p *Pipeline) ingest(ctx context.Context, recreate bool, sum *Summary) error {
	docs, reports := p.LoadAll(ctx)
	sum.Reports = reports
	if len(docs) == 0 {
		return fmt.Errorf("ingest: %w", domain.ErrNoDocuments)
	}
	if err := p.SetupCollection(ctx, recreate); err != nil {
		return err
	}

	chunks := p.deps.Splitter.Split(docs)
	sum.count(docs, chunks)

	write := fn.Then(
		fn.Then(LoggedTap[[]domain.Chunk]("embed", p.log), p.embedStage()),
		fn.Then(LoggedTap[[]semantic.VectorRecord]("upsert", p.log), p.upsertStage()),
	)
	if _, err := write(ctx, chunks).Unwrap(); err != nil {
		return err
	}
	p.project(ctx, docs)
	return nil
}

// UpdateDynamic refreshes the live sources: it loads and embeds them, then
// deletes every existing point from those sources and upserts the
// replacements. Nothing is deleted when the live loaders yield no document.
func (p *Pipeline) UpdateDynamic(ctx context.Context) (Summary, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	start := p.deps.Clock()
	sum := Summary{Mode: ModeDynamic, Collection: p.Collection()}
	err := p.updateDynamic(ctx, &sum)
	sum.Duration = p.deps.Clock().Sub(start)
	p.finish(sum, err)
	return sum, err
}

func (p *Pipeline) updateDynamic(ctx context.Context, sum *Summary) error {
	docs, reports := p.LoadDynamic(ctx)
	sum.Reports = reports
	if len(docs) == 0 {
		return fmt.Errorf("ingest: dynamic update: %w", domain.ErrNoDocuments)
	}

	chunks := p.deps.Splitter.Split(docs)
	sum.count(docs, chunks)

	records, err := fn.Then(LoggedTap[[]domain.Chunk]("embed", p.log), p.embedStage())(ctx, chunks).Unwrap()
	if err != nil {
		return err
	}
	if err := p.SetupCollection(ctx, false); err != nil {
		return err
	}

	sources := fn.Map(domain.DynamicSources, func(s domain.Source) string { return string(s) })
	if err := p.deps.Index.DeleteBySources(ctx, sources...); err != nil {
		return fmt.Errorf("ingest: delete dynamic points: %w", err)
	}
	p.log.Info("deleted dynamic points", "sources", sources)

	if _, err := p.upsertStage()(ctx, records).Unwrap(); err != nil {
		return err
	}
	p.project(ctx, docs)
	return nil
}

// Run dispatches to Ingest (without recreate) or UpdateDynamic.
func (p *Pipeline) Run(ctx context.Context, mode Mode, recreate bool) (Summary, error) {
	switch mode {
	case ModeFull:
		return p.Ingest(ctx, recreate)
	case ModeDynamic, "":
		return p.UpdateDynamic(ctx)
	default:
		return Summary{Mode: mode}, fmt.Errorf("ingest: unknown mode %q", mode)
	}
}

func (p *Pipeline) embedStage() fn.Stage[[]domain.Chunk, []semantic.VectorRecord] {
	return fn.Traced("ingest.embed", func(ctx context.Context, chunks []domain.Chunk) fn.Result[[]semantic.VectorRecord] {
		start := time.Now()
		defer func() { p.deps.Metrics.ObserveEmbed(time.Since(start)) }()

		records := make([]semantic.VectorRecord, 0, len(chunks))
		for _, batch := range fn.Chunk(chunks, EmbedBatchSize) {
			texts := fn.Map(batch, func(c domain.Chunk) string { return c.Content })
			vecs, err := p.deps.Embedder.Embed(ctx, texts)
			if err != nil {
				return fn.Err[[]semantic.VectorRecord](fmt.Errorf("ingest: embed batch: %w", err))
			}
			if len(vecs) != len(batch) {
				return fn.Errf[[]semantic.VectorRecord]("ingest: embed batch: got %d vectors for %d chunks", len(vecs), len(batch))
			}
			for i, c := range batch {
				records = append(records, toRecord(c, vecs[i]))
			}
		}
		return fn.Ok(records)
	})
}

func (p *Pipeline) upsertStage() fn.Stage[[]semantic.VectorRecord, int] {
	return fn.Traced("ingest.upsert", func(ctx context.Context, records []semantic.VectorRecord) fn.Result[int] {
		start := time.Now()
		defer func() { p.deps.Metrics.ObserveUpsert(time.Since(start)) }()

		for _, batch := range fn.Chunk(records, UpsertBatchSize) {
			if err := p.deps.Index.Upsert(ctx, batch); err != nil {
				return fn.Err[int](fmt.Errorf("ingest: vector upsert: %w", err))
			}
		}
		p.deps.Metrics.ChunksWritten(len(records))
		return fn.Ok(len(records))
	})
}

func (p *Pipeline) project(ctx context.Context, docs []domain.Document) {
	if p.deps.Graph == nil {
		return
	}
	if err := p.deps.Graph.Project(ctx, docs); err != nil {
		p.log.Warn("graph projection failed", "err", err)
	}
}

func (p *Pipeline) finish(sum Summary, err error) {
	p.deps.Metrics.IngestRun(string(sum.Mode), err)
	if err != nil {
		p.log.Error("run failed", "mode", sum.Mode, "err", err, "duration", sum.Duration)
		return
	}
	p.log.Info("run done",
		"mode", sum.Mode,
		"collection", sum.Collection,
		"documents", sum.Documents,
		"chunks", sum.Chunks,
		"duration", sum.Duration,
	)
}

// PointID returns the deterministic point ID of a chunk.
func PointID(c domain.Chunk) string {
	docID, _ := c.Metadata[domain.KeyDocID].(string)
	if docID == "" {
		docID = domain.DocID(c)
	}
	key := fmt.Sprintf("%s|%v", docID, c.Metadata[domain.KeyChunkIndex])
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}

func toRecord(c domain.Chunk, vec []float32) semantic.VectorRecord {
	payload := make(map[string]any, len(c.Metadata)+1)
	for k, v := range c.Metadata {
		payload[k] = v
	}
	payload[semantic.PayloadContent] = c.Content
	return semantic.VectorRecord{ID: PointID(c), Embedding: vec, Payload: payload}
}

// LoggedTap returns a stage that logs entry/exit with duration.
func LoggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return func(ctx context.Context, t T) fn.Result[T] {
		log.Debug("stage.enter", "stage", name)
		start := time.Now()
		defer func() {
			log.Debug("stage.exit", "stage", name, "duration", time.Since(start))
		}()
		return fn.Ok(t)
	}
}
