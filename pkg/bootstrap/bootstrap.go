// Package bootstrap assembles the components shared by the binaries from a
// loaded configuration: the Qdrant index, the OpenAI clients, the optional
// profile graph, the ingestion pipeline and the answerer.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/portfolio-chat/portfolio-chat/engine/chunk"
	"github.com/portfolio-chat/portfolio-chat/engine/graph"
	"github.com/portfolio-chat/portfolio-chat/engine/ingest"
	"github.com/portfolio-chat/portfolio-chat/engine/loader"
	"github.com/portfolio-chat/portfolio-chat/engine/rag"
	"github.com/portfolio-chat/portfolio-chat/engine/semantic"
	"github.com/portfolio-chat/portfolio-chat/pkg/config"
	"github.com/portfolio-chat/portfolio-chat/pkg/metrics"
	"github.com/portfolio-chat/portfolio-chat/pkg/openai"
	"github.com/portfolio-chat/portfolio-chat/pkg/resilience"
)

// TokenEncoding sizes prompt context for the OpenAI chat models.
const TokenEncoding = "cl100k_base"

// Runtime holds the connected components. Graph is nil unless NEO4J_URL is
// set and reachable.
type Runtime struct {
	Config    *config.Config
	Log       *slog.Logger
	Metrics   *metrics.Portfolio
	Store     *semantic.VectorStore
	Embedder  *openai.Embedder
	Completer *openai.Completer
	Tokens    *openai.TokenCounter
	Graph     *graph.Store

	closers []func()
}

// New connects everything cfg names. Qdrant is dialed lazily, so only bad
// settings fail here. An unreachable graph is logged and left out.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Runtime, error) {
	rt := &Runtime{
		Config:  cfg,
		Log:     log,
		Metrics: metrics.NewPortfolio(metrics.New()),
		Tokens:  openai.NewTokenCounter(TokenEncoding),
	}

	addr, useTLS, err := cfg.QdrantTarget()
	if err != nil {
		return nil, err
	}
	store, err := semantic.New(semantic.Options{Addr: addr, APIKey: cfg.QdrantAPIKey, TLS: useTLS}, cfg.CollectionName)
	if err != nil {
		return nil, err
	}
	rt.Store = store
	rt.closers = append(rt.closers, func() { _ = store.Close() })

	opts := openai.Options{
		APIKey:     cfg.OpenAIAPIKey,
		BaseURL:    cfg.OpenAIBaseURL,
		Timeout:    cfg.ExternalTimeout,
		MaxRetries: 2,
	}
	embedOpts := opts
	embedOpts.Breaker = rt.breaker("openai-embed")
	rt.Embedder, err = openai.NewEmbedder(embedOpts, cfg.EmbeddingModel, cfg.EmbeddingDimension)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("bootstrap: embedder: %w", err)
	}
	chatOpts := opts
	chatOpts.Breaker = rt.breaker("openai-chat")
	rt.Completer, err = openai.NewCompleter(chatOpts, cfg.LLMModel, cfg.LLMTemperature, cfg.LLMMaxTokens)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("bootstrap: completer: %w", err)
	}

	if cfg.Neo4jURL != "" {
		driver, err := graph.Connect(ctx, cfg.Neo4jURL, cfg.Neo4jUser, cfg.Neo4jPass)
		if err != nil {
			log.Warn("profile graph unavailable, continuing without it", "url", cfg.Neo4jURL, "err", err)
		} else {
			rt.Graph = graph.New(driver, cfg.OwnerName, log)
			rt.closers = append(rt.closers, func() { _ = driver.Close(context.Background()) })
		}
	}
	return rt, nil
}

func (rt *Runtime) breaker(name string) *resilience.Breaker {
	return resilience.NewBreaker(resilience.BreakerOpts{
		Name:          name,
		FailThreshold: 5,
		Timeout:       resilience.DefaultBreakerOpts.Timeout,
		IsFailure:     openai.IsTransient,
		OnStateChange: func(name string, from, to resilience.State) {
			rt.Log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			rt.Metrics.BreakerState(name, int(to))
		},
	})
}

// Pipeline builds the ingestion pipeline with every source loader
// registered.
func (rt *Runtime) Pipeline() (*ingest.Pipeline, error) {
	cfg := rt.Config
	splitter, err := chunk.New(chunk.Options{Size: cfg.ChunkSize, Overlap: cfg.ChunkOverlap})
	if err != nil {
		return nil, err
	}
	deps := ingest.Deps{
		Embedder: rt.Embedder,
		Index:    rt.Store,
		Splitter: splitter,
		Metrics:  rt.Metrics,
		Logger:   rt.Log,
	}
	if rt.Graph != nil {
		deps.Graph = rt.Graph
	}
	p, err := ingest.New(deps)
	if err != nil {
		return nil, err
	}
	p.Register(loader.NameResume, loader.NewResumeLoader(cfg.ResumePath, cfg.ResumeTextPath))
	p.Register(loader.NameProfile, loader.NewProfileConfigLoader(cfg.PortfolioConfigPath, rt.Log))
	p.Register(loader.NameGitHub, loader.NewRepositoryLoader(cfg.GitHubUsername, cfg.GitHubToken, loader.WithMaxRepos(cfg.MaxRepos)))
	p.Register(loader.NameBlog, loader.NewArticleLoader(cfg.DevToUsername, cfg.MaxArticles))
	return p, nil
}

// Answerer builds the question answerer. Graph enrichment is on whenever a
// graph is connected.
func (rt *Runtime) Answerer() (*rag.Answerer, error) {
	cfg := rt.Config
	deps := rag.Deps{
		Embedder:  rt.Embedder,
		Searcher:  rt.Store,
		Completer: rt.Completer,
		Index:     rt.Store,
		Tokens:    rt.Tokens,
		Logger:    rt.Log,
	}
	if rt.Graph != nil {
		deps.Graph = rt.Graph
	}
	opts := rag.DefaultOptions()
	opts.TopK = cfg.RetrieverK
	opts.ScoreThreshold = cfg.ScoreThreshold
	opts.ContextTokenBudget = cfg.ContextTokenBudget
	opts.OwnerName = cfg.OwnerName
	opts.SearchTimeout = cfg.ExternalTimeout
	opts.CompleteTimeout = cfg.ExternalTimeout
	opts.UseGraph = rt.Graph != nil
	return rag.New(deps, opts)
}

// Close releases connections in reverse order of creation.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
