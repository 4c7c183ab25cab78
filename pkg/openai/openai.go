// Package openai wraps the OpenAI SDK for the two calls the system makes:
// batch embeddings and single-turn chat completions. Both are guarded by a
// circuit breaker.
package openai

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/portfolio-chat/portfolio-chat/pkg/resilience"
)

const (
	DefaultEmbeddingModel     = "text-embedding-3-small"
	DefaultEmbeddingDimension = 1536
	DefaultChatModel          = "gpt-4o-mini"
	DefaultTimeout            = 30 * time.Second

	// MaxBatchSize is the largest input list sent in one embeddings request.
	MaxBatchSize = 100
)

var (
	ErrAPIKeyNotSet  = errors.New("openai: api key not set")
	ErrEmptyResponse = errors.New("openai: empty response")
	ErrDimension     = errors.New("openai: unexpected embedding dimension")
)

// Options configures the SDK client shared by Embedder and Completer.
type Options struct {
	APIKey  string
	BaseURL string
	// Timeout bounds every Embed batch and Complete call, SDK retries
	// included. Zero means DefaultTimeout.
	Timeout time.Duration
	// MaxRetries is passed to the SDK, which retries 429 and 5xx itself.
	MaxRetries int
	HTTPClient *http.Client
	Breaker    *resilience.Breaker
}

func (o Options) client() (openai.Client, error) {
	if o.APIKey == "" {
		return openai.Client{}, ErrAPIKeyNotSet
	}
	opts := []option.RequestOption{
		option.WithAPIKey(o.APIKey),
		option.WithRequestTimeout(o.timeout()),
		option.WithMaxRetries(o.MaxRetries),
	}
	if o.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(o.BaseURL))
	}
	if o.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(o.HTTPClient))
	}
	return openai.NewClient(opts...), nil
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

func (o Options) breaker(name string) *resilience.Breaker {
	if o.Breaker != nil {
		return o.Breaker
	}
	return resilience.NewBreaker(resilience.BreakerOpts{
		Name:          name,
		FailThreshold: 5,
		Timeout:       30 * time.Second,
		IsFailure:     IsTransient,
	})
}

// IsTransient reports whether err is worth tripping a breaker over:
// rate limits, server errors and transport failures. Bad requests and
// auth failures are not.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return !errors.Is(err, ErrDimension) && !errors.Is(err, ErrEmptyResponse)
}

// StatusCode returns the HTTP status of an API error, or 0.
func StatusCode(err error) int {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
