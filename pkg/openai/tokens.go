package openai

import (
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding matches the embedding and gpt-4o-mini tokenizers closely
// enough for budgeting.
const DefaultEncoding = "cl100k_base"

// TokenCounter counts tokens with tiktoken. The encoding is loaded lazily;
// if it cannot be loaded, counts fall back to one token per four runes.
type TokenCounter struct {
	name string
	once sync.Once
	enc  *tiktoken.Tiktoken
	load func(string) (*tiktoken.Tiktoken, error)
}

// NewTokenCounter creates a counter for the named encoding.
func NewTokenCounter(encoding string) *TokenCounter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &TokenCounter{name: encoding, load: tiktoken.GetEncoding}
}

func (t *TokenCounter) encoding() *tiktoken.Tiktoken {
	t.once.Do(func() {
		if t.load == nil {
			return
		}
		enc, err := t.load(t.name)
		if err != nil {
			slog.Warn("tokens: encoding unavailable, estimating", "encoding", t.name, "err", err)
			return
		}
		t.enc = enc
	})
	return t.enc
}

// Count returns the number of tokens in text.
func (t *TokenCounter) Count(text string) int {
	if enc := t.encoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return (utf8.RuneCountInString(text) + 3) / 4
}

// Truncate cuts text to at most limit tokens.
func (t *TokenCounter) Truncate(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if enc := t.encoding(); enc != nil {
		toks := enc.Encode(text, nil, nil)
		if len(toks) <= limit {
			return text
		}
		return enc.Decode(toks[:limit])
	}
	runes := []rune(text)
	if len(runes) <= limit*4 {
		return text
	}
	return string(runes[:limit*4])
}
