// Package rag answers questions about the portfolio. It embeds the question,
// retrieves the closest chunks above a score threshold, optionally adds
// facts from the profile graph, and asks the chat model to answer from that
// context only.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/portfolio-chat/portfolio-chat/engine/domain"
	"github.com/portfolio-chat/portfolio-chat/engine/graph"
	"github.com/portfolio-chat/portfolio-chat/engine/semantic"
	"github.com/portfolio-chat/portfolio-chat/pkg/openai"
)

// PreviewLength is the number of characters of each source returned to the
// caller.
const PreviewLength = 200

// QueryEmbedder embeds a single question.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Searcher abstracts Qdrant similarity search.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, topK int, threshold float32) ([]semantic.SearchResult, error)
}

// Completer calls the chat model.
type Completer interface {
	Complete(ctx context.Context, p openai.Prompt) (string, error)
}

// IndexInspector reports on the collection for health checks.
type IndexInspector interface {
	Collection() string
	CollectionExists(ctx context.Context) (bool, error)
	Stats(ctx context.Context) (semantic.Stats, error)
}

// TokenCounter sizes the prompt context.
type TokenCounter interface {
	Count(text string) int
	Truncate(text string, limit int) string
}

// GraphEnricher optionally adds profile-graph facts to the context.
type GraphEnricher interface {
	RelatedFacts(ctx context.Context, keywords []string, limit int) ([]graph.Fact, error)
}

// Options configures retrieval and prompt assembly.
type Options struct {
	TopK           int
	ScoreThreshold float32
	// ContextTokenBudget caps the retrieved context; 0 disables the cap.
	ContextTokenBudget int
	OwnerName          string
	SearchTimeout      time.Duration
	// CompleteTimeout bounds the single completion call.
	CompleteTimeout time.Duration
	UseGraph        bool
	GraphFactLimit  int
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		TopK:               4,
		ScoreThreshold:     0.7,
		ContextTokenBudget: 3000,
		OwnerName:          "the portfolio owner",
		SearchTimeout:      10 * time.Second,
		CompleteTimeout:    30 * time.Second,
		UseGraph:           true,
		GraphFactLimit:     graph.DefaultFactLimit,
	}
}

// Deps are the collaborators of an Answerer. Tokens and Graph are optional.
type Deps struct {
	Embedder  QueryEmbedder
	Searcher  Searcher
	Completer Completer
	Index     IndexInspector
	Tokens    TokenCounter
	Graph     GraphEnricher
	Logger    *slog.Logger
}

// Answerer is the retrieval-augmented question answerer.
type Answerer struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
}

// New creates an Answerer.
func New(deps Deps, opts Options) (*Answerer, error) {
	if deps.Embedder == nil || deps.Searcher == nil || deps.Completer == nil {
		return nil, errors.New("rag: embedder, searcher and completer are required")
	}
	def := DefaultOptions()
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.ScoreThreshold < 0 {
		opts.ScoreThreshold = 0
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = def.SearchTimeout
	}
	if opts.CompleteTimeout <= 0 {
		opts.CompleteTimeout = def.CompleteTimeout
	}
	if opts.GraphFactLimit <= 0 {
		opts.GraphFactLimit = def.GraphFactLimit
	}
	if strings.TrimSpace(opts.OwnerName) == "" {
		opts.OwnerName = def.OwnerName
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Answerer{deps: deps, opts: opts, logger: logger}, nil
}

// Source is a cited chunk: a content preview and its metadata.
type Source struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// Result is the answer envelope. Failures are reported in it, never raised.
type Result struct {
	Response string   `json:"response"`
	Sources  []Source `json:"sources"`
	Success  bool     `json:"success"`
	Error    string   `json:"error,omitempty"`
}

func failure(err error) Result {
	return Result{
		Response: "I apologize, but I encountered an error: " + err.Error(),
		Sources:  []Source{},
		Success:  false,
		Error:    err.Error(),
	}
}

// Query answers question. It always returns a Result; on any failure the
// Result carries Success false and the error text.
func (a *Answerer) Query(ctx context.Context, question string) Result {
	start := time.Now()
	res, err := a.answer(ctx, strings.TrimSpace(question))
	if err != nil {
		a.logger.Error("rag query failed", "err", err, "duration", time.Since(start))
		return failure(err)
	}
	a.logger.Info("rag query done", "sources", len(res.Sources), "duration", time.Since(start))
	return res
}

func (a *Answerer) answer(ctx context.Context, question string) (Result, error) {
	if err := domain.ValidateQuestion(question); err != nil {
		return Result{}, err
	}

	hits, err := a.retrieve(ctx, question)
	if err != nil {
		return Result{}, err
	}
	hits = a.fitBudget(hits)

	parts := make([]string, 0, len(hits)+1)
	for _, h := range hits {
		parts = append(parts, h.Content)
	}
	if facts := a.enrich(ctx, question); facts != "" {
		parts = append(parts, facts)
	}

	cctx, cancel := context.WithTimeout(ctx, a.opts.CompleteTimeout)
	defer cancel()
	reply, err := a.deps.Completer.Complete(cctx, buildPrompt(a.opts.OwnerName, strings.Join(parts, "\n\n"), question))
	if err != nil {
		return Result{}, fmt.Errorf("rag: complete: %w", err)
	}

	sources := make([]Source, 0, len(hits))
	for _, h := range hits {
		md := h.Meta
		if md == nil {
			md = map[string]any{}
		}
		sources = append(sources, Source{Content: preview(h.source), Metadata: md})
	}
	return Result{Response: reply, Sources: sources, Success: true}, nil
}

type hit struct {
	semantic.SearchResult
	// source is the untruncated chunk text used for the preview.
	source string
}

func (a *Answerer) retrieve(ctx context.Context, question string) ([]hit, error) {
	sctx, cancel := context.WithTimeout(ctx, a.opts.SearchTimeout)
	defer cancel()

	emb, err := a.deps.Embedder.EmbedQuery(sctx, question)
	if err != nil {
		return nil, fmt.Errorf("rag: embed query: %w", err)
	}
	results, err := a.deps.Searcher.Search(sctx, emb, a.opts.TopK, a.opts.ScoreThreshold)
	if err != nil {
		return nil, fmt.Errorf("rag: semantic search: %w", err)
	}

	hits := make([]hit, 0, len(results))
	for _, r := range results {
		if r.Score < a.opts.ScoreThreshold {
			continue
		}
		hits = append(hits, hit{SearchResult: r, source: r.Content})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > a.opts.TopK {
		hits = hits[:a.opts.TopK]
	}
	a.logger.Debug("rag retrieved", "candidates", len(results), "kept", len(hits))
	return hits, nil
}

// fitBudget drops the lowest-ranked hits until the context fits the token
// budget. A single hit over budget is truncated instead of dropped.
func (a *Answerer) fitBudget(hits []hit) []hit {
	budget := a.opts.ContextTokenBudget
	if a.deps.Tokens == nil || budget <= 0 || len(hits) == 0 {
		return hits
	}
	used := 0
	for i, h := range hits {
		n := a.deps.Tokens.Count(h.Content)
		if i > 0 {
			n += a.deps.Tokens.Count("\n\n")
		}
		if used+n > budget {
			if i == 0 {
				hits[0].Content = a.deps.Tokens.Truncate(h.Content, budget)
				return hits[:1]
			}
			a.logger.Debug("rag context over budget", "kept", i, "dropped", len(hits)-i, "budget", budget)
			return hits[:i]
		}
		used += n
	}
	return hits
}

// enrich returns graph facts for the question's keywords. Failures are
// logged and skipped.
func (a *Answerer) enrich(ctx context.Context, question string) string {
	if !a.opts.UseGraph || a.deps.Graph == nil {
		return ""
	}
	keywords := extractKeywords(question)
	if len(keywords) == 0 {
		return ""
	}

	gctx, cancel := context.WithTimeout(ctx, a.opts.SearchTimeout)
	defer cancel()
	facts, err := a.deps.Graph.RelatedFacts(gctx, keywords, a.opts.GraphFactLimit)
	if err != nil {
		a.logger.Warn("rag: graph enrichment failed, continuing without", "err", err)
		return ""
	}
	if len(facts) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Related facts from the profile graph:\n")
	for _, f := range facts {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	return strings.TrimRight(b.String(), "\n")
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= PreviewLength {
		return content
	}
	return string(runes[:PreviewLength]) + "..."
}

// extractKeywords does simple keyword extraction from a question.
func extractKeywords(question string) []string {
	// Simple approach: split on spaces, filter short/stop words.
	stopWords := map[string]bool{
		"the": true, "a": true, "an": true, "is": true, "are": true,
		"was": true, "were": true, "be": true, "been": true, "being": true,
		"have": true, "has": true, "had": true, "do": true, "does": true,
		"did": true, "will": true, "would": true, "could": true, "should": true,
		"may": true, "might": true, "can": true, "shall": true, "to": true,
		"of": true, "in": true, "for": true, "on": true, "with": true,
		"at": true, "by": true, "from": true, "as": true, "into": true,
		"through": true, "during": true, "before": true, "after": true,
		"what": true, "where": true, "when": true, "how": true, "which": true,
		"who": true, "whom": true, "this": true, "that": true, "these": true,
		"those": true, "i": true, "me": true, "my": true, "it": true,
		"its": true, "and": true, "but": true, "or": true, "not": true,
		"you": true, "your": true, "tell": true, "about": true, "any": true,
		"his": true, "her": true, "their": true, "they": true, "them": true,
	}

	words := strings.Fields(strings.ToLower(question))
	var keywords []string
	for _, w := range words {
		w = strings.Trim(w, "?.,!;:'\"()")
		if len(w) > 2 && !stopWords[w] {
			keywords = append(keywords, w)
		}
	}
	return keywords
}
