package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/portfolio-chat/portfolio-chat/engine/domain"
	"github.com/portfolio-chat/portfolio-chat/pkg/fn"
	"github.com/portfolio-chat/portfolio-chat/pkg/resilience"
)

const (
	// DefaultMaxArticles is the number of articles requested.
	DefaultMaxArticles = 5
	// DefaultDevToURL is the public articles endpoint.
	DefaultDevToURL = "https://dev.to/api/articles"
)

// ArticleLoader lists a dev.to author's published articles.
type ArticleLoader struct {
	Username    string
	MaxArticles int
	BaseURL     string
	Retry       fn.RetryOpts
	Clock       Clock
	// Limiter paces requests, retries included.
	Limiter *resilience.Limiter

	client *http.Client
}

// NewArticleLoader creates an ArticleLoader for username.
func NewArticleLoader(username string, maxArticles int) *ArticleLoader {
	if maxArticles <= 0 {
		maxArticles = DefaultMaxArticles
	}
	return &ArticleLoader{
		Username:    username,
		MaxArticles: maxArticles,
		BaseURL:     DefaultDevToURL,
		Retry: fn.RetryOpts{
			MaxAttempts: 3,
			InitialWait: 500 * time.Millisecond,
			MaxWait:     4 * time.Second,
			Jitter:      true,
			OnRetry: func(attempt int, err error, wait time.Duration) {
				slog.Warn("blog: retrying article listing", "attempt", attempt, "wait", wait, "err", err)
			},
		},
		Limiter: resilience.Every(time.Second, 3),
		client:  defaultHTTPClient(DefaultTimeout),
	}
}

func (l *ArticleLoader) Name() string { return NameBlog }

type devToArticle struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	URL         string  `json:"url"`
	TagList     tagList `json:"tag_list"`
	PublishedAt string  `json:"published_at"`
	ReadingTime int     `json:"reading_time_minutes"`
}

// Load fetches up to MaxArticles articles, retrying transient failures.
func (l *ArticleLoader) Load(ctx context.Context) ([]domain.Document, error) {
	if l.Username == "" {
		return nil, fmt.Errorf("blog: no username configured: %w", domain.ErrSourceNotFound)
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	articles, err := fn.Retry(ctx, l.Retry, l.fetch).Unwrap()
	if err != nil {
		return nil, err
	}
	if len(articles) > l.MaxArticles {
		articles = articles[:l.MaxArticles]
	}

	now := l.Clock.now()
	docs := make([]domain.Document, 0, len(articles))
	for _, a := range articles {
		docs = append(docs, articleDocument(a, now))
	}
	return docs, nil
}

// tagList decodes tag_list in either of the shapes the API returns: a JSON
// array on listings, a comma-separated string on single articles.
type tagList []string

func (t *tagList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*t = list
		return nil
	}
	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return fmt.Errorf("tag_list: %w", err)
	}
	*t = nil
	for _, tag := range strings.Split(joined, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			*t = append(*t, tag)
		}
	}
	return nil
}

func (l *ArticleLoader) fetch(ctx context.Context) fn.Result[[]devToArticle] {
	if l.Limiter != nil {
		if err := l.Limiter.Wait(ctx); err != nil {
			return fn.Err[[]devToArticle](fn.Permanent(fmt.Errorf("blog: rate limit wait: %w: %w", domain.ErrSourceUnavailable, err)))
		}
	}
	q := url.Values{}
	q.Set("username", l.Username)
	q.Set("per_page", strconv.Itoa(l.MaxArticles))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return fn.Err[[]devToArticle](fn.Permanent(fmt.Errorf("blog: build request: %w", err)))
	}
	req.Header.Set("Accept", "application/json")

	client := l.client
	if client == nil {
		client = defaultHTTPClient(DefaultTimeout)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fn.Errf[[]devToArticle]("blog: request: %w: %w", domain.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fn.Err[[]devToArticle](fn.Permanent(fmt.Errorf("blog: user %q: %w", l.Username, domain.ErrSourceNotFound)))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fn.Errf[[]devToArticle]("blog: status %d: %w", resp.StatusCode, domain.ErrSourceUnavailable)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fn.Err[[]devToArticle](fn.Permanent(fmt.Errorf("blog: status %d: %s: %w",
			resp.StatusCode, strings.TrimSpace(string(body)), domain.ErrSourceUnavailable)))
	}

	var articles []devToArticle
	if err := json.NewDecoder(resp.Body).Decode(&articles); err != nil {
		return fn.Err[[]devToArticle](fn.Permanent(fmt.Errorf("blog: decode: %w: %w", domain.ErrSourceUnavailable, err)))
	}
	return fn.Ok(articles)
}

func articleDocument(a devToArticle, now time.Time) domain.Document {
	title := a.Title
	if title == "" {
		title = "Unknown"
	}
	tags := strings.Join(a.TagList, ", ")
	content := "Blog Article: " + title + "\n" + a.Description +
		"\nTags: " + tags +
		"\nReading Time: " + strconv.Itoa(a.ReadingTime) + " minutes"

	return domain.NewDocument(content, domain.SourceBlog, domain.TypeArticle, domain.Metadata{
		domain.KeyTitle:       title,
		domain.KeyURL:         a.URL,
		domain.KeyTags:        tags,
		domain.KeyPublishedAt: a.PublishedAt,
		domain.KeyReadingTime: a.ReadingTime,
	}, now)
}
