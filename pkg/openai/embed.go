package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"

	"github.com/portfolio-chat/portfolio-chat/pkg/fn"
	"github.com/portfolio-chat/portfolio-chat/pkg/resilience"
)

// Embedder turns text into fixed-size vectors.
type Embedder struct {
	client    openai.Client
	model     string
	dimension int
	timeout   time.Duration
	breaker   *resilience.Breaker
}

// NewEmbedder creates an Embedder. A zero dimension uses the model default.
func NewEmbedder(opts Options, model string, dimension int) (*Embedder, error) {
	c, err := opts.client()
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = DefaultEmbeddingModel
	}
	if dimension <= 0 {
		dimension = DefaultEmbeddingDimension
	}
	return &Embedder{
		client:    c,
		model:     model,
		dimension: dimension,
		timeout:   opts.timeout(),
		breaker:   opts.breaker("openai-embed"),
	}, nil
}

func (e *Embedder) Model() string  { return e.model }
func (e *Embedder) Dimension() int { return e.dimension }

// Embed returns one vector per text, in input order. Inputs above
// MaxBatchSize are split into several requests.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for i, batch := range fn.Chunk(texts, MaxBatchSize) {
		vecs, err := e.embedBatch(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("openai: embed batch %d: %w", i, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// EmbedQuery embeds a single question.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Model:      openai.EmbeddingModel(e.model),
		Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Dimensions: openai.Int(int64(e.dimension)),
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	r := resilience.CallResult(e.breaker, ctx, func(ctx context.Context) fn.Result[*openai.CreateEmbeddingResponse] {
		return fn.FromPair(e.client.Embeddings.New(ctx, params))
	})
	resp, err := r.Unwrap()
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", ErrEmptyResponse, len(resp.Data), len(texts))
	}

	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		idx := int(d.Index)
		if idx < 0 || idx >= len(vecs) {
			return nil, fmt.Errorf("openai: embedding index %d out of range", idx)
		}
		if len(d.Embedding) != e.dimension {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrDimension, len(d.Embedding), e.dimension)
		}
		v := make([]float32, len(d.Embedding))
		for j, x := range d.Embedding {
			v[j] = float32(x)
		}
		vecs[idx] = v
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("%w: missing embedding %d", ErrEmptyResponse, i)
		}
	}
	return vecs, nil
}
