package openai

import (
	"context"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"

	"github.com/portfolio-chat/portfolio-chat/pkg/fn"
	"github.com/portfolio-chat/portfolio-chat/pkg/resilience"
)

// Prompt is a single-turn chat request.
type Prompt struct {
	System string
	User   string
}

// Completer generates answers with a chat model.
type Completer struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	breaker     *resilience.Breaker
}

// NewCompleter creates a Completer. maxTokens <= 0 leaves the limit to the API.
func NewCompleter(opts Options, model string, temperature float64, maxTokens int) (*Completer, error) {
	c, err := opts.client()
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = DefaultChatModel
	}
	return &Completer{
		client:      c,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		timeout:     opts.timeout(),
		breaker:     opts.breaker("openai-chat"),
	}, nil
}

func (c *Completer) Model() string { return c.model }

// Complete returns the text of the first choice.
func (c *Completer) Complete(ctx context.Context, p Prompt) (string, error) {
	var msgs []openai.ChatCompletionMessageParamUnion
	if p.System != "" {
		msgs = append(msgs, openai.SystemMessage(p.System))
	}
	msgs = append(msgs, openai.UserMessage(p.User))

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.model),
		Messages:    msgs,
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.maxTokens))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	r := resilience.CallResult(c.breaker, ctx, func(ctx context.Context) fn.Result[*openai.ChatCompletion] {
		return fn.FromPair(c.client.Chat.Completions.New(ctx, params))
	})
	completion, err := r.Unwrap()
	if err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return completion.Choices[0].Message.Content, nil
}
