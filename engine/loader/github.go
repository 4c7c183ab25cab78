package loader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"

	"github.com/portfolio-chat/portfolio-chat/engine/domain"
	"github.com/portfolio-chat/portfolio-chat/pkg/resilience"
)

// DefaultMaxRepos is the number of most recently updated repositories kept.
const DefaultMaxRepos = 4

// RepositoryLoader lists a user's public repositories on GitHub.
type RepositoryLoader struct {
	Username string
	MaxRepos int
	Clock    Clock

	client  *gh.Client
	limiter *resilience.Limiter
}

// RepositoryOption configures a RepositoryLoader.
type RepositoryOption func(*RepositoryLoader)

// WithGitHubClient replaces the API client, mainly for tests.
func WithGitHubClient(c *gh.Client) RepositoryOption {
	return func(l *RepositoryLoader) { l.client = c }
}

// WithMaxRepos overrides DefaultMaxRepos.
func WithMaxRepos(n int) RepositoryOption {
	return func(l *RepositoryLoader) {
		if n > 0 {
			l.MaxRepos = n
		}
	}
}

// NewRepositoryLoader creates a loader for username. A non-empty token
// authenticates requests, which raises the API quota.
func NewRepositoryLoader(username, token string, opts ...RepositoryOption) *RepositoryLoader {
	l := &RepositoryLoader{
		Username: username,
		MaxRepos: DefaultMaxRepos,
		limiter:  resilience.Every(time.Second, 2),
	}
	for _, o := range opts {
		o(l)
	}
	if l.client == nil {
		hc := defaultHTTPClient(DefaultTimeout)
		if token != "" {
			hc = oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
			hc.Timeout = DefaultTimeout
		}
		l.client = gh.NewClient(hc)
	}
	return l
}

func (l *RepositoryLoader) Name() string { return NameGitHub }

// Load fetches non-fork repositories, newest update first, truncated to MaxRepos.
func (l *RepositoryLoader) Load(ctx context.Context) ([]domain.Document, error) {
	if l.Username == "" {
		return nil, fmt.Errorf("github: no username configured: %w", domain.ErrSourceNotFound)
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	repos, err := l.list(ctx)
	if err != nil {
		return nil, err
	}

	now := l.Clock.now()
	docs := make([]domain.Document, 0, len(repos))
	for _, r := range repos {
		docs = append(docs, repoDocument(r, now))
	}
	return docs, nil
}

func (l *RepositoryLoader) list(ctx context.Context) ([]*gh.Repository, error) {
	opts := &gh.RepositoryListByUserOptions{
		Type:        "owner",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	var kept []*gh.Repository
	for {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("github: rate limit wait: %w: %w", domain.ErrSourceUnavailable, err)
		}
		page, resp, err := l.client.Repositories.ListByUser(ctx, l.Username, opts)
		if err != nil {
			return nil, wrapGitHubError(l.Username, err)
		}
		for _, r := range page {
			if !r.GetFork() {
				kept = append(kept, r)
			}
		}
		// Pages arrive newest first (sort=updated), so once MaxRepos
		// non-forks are in hand later pages can only hold older ones.
		if len(kept) >= l.MaxRepos || resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	// Order the kept set by updated_at whatever order the pages used.
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].GetUpdatedAt().After(kept[j].GetUpdatedAt().Time)
	})
	if len(kept) > l.MaxRepos {
		kept = kept[:l.MaxRepos]
	}
	return kept, nil
}

func wrapGitHubError(user string, err error) error {
	var rle *gh.RateLimitError
	if errors.As(err, &rle) {
		return fmt.Errorf("github: rate limited until %s: %w: %w", rle.Rate.Reset.Time.Format(time.RFC3339), domain.ErrSourceUnavailable, err)
	}
	var er *gh.ErrorResponse
	if errors.As(err, &er) && er.Response != nil && er.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("github: user %q: %w", user, domain.ErrSourceNotFound)
	}
	return fmt.Errorf("github: list repositories: %w: %w", domain.ErrSourceUnavailable, err)
}

func repoDocument(r *gh.Repository, now time.Time) domain.Document {
	description := r.GetDescription()
	if description == "" {
		description = "No description available"
	}
	language := r.GetLanguage()
	if language == "" {
		language = "Unknown"
	}
	content := "GitHub Project: " + r.GetName() +
		"\nDescription: " + description +
		"\nPrimary Language: " + language +
		"\nStars: " + strconv.Itoa(r.GetStargazersCount())

	meta := domain.Metadata{
		domain.KeyRepoName: r.GetName(),
		domain.KeyRepoURL:  r.GetHTMLURL(),
		domain.KeyLanguage: language,
		domain.KeyStars:    r.GetStargazersCount(),
	}
	if ts := r.GetUpdatedAt(); !ts.IsZero() {
		meta[domain.KeyUpdatedAt] = ts.UTC().Format(time.RFC3339)
	}
	return domain.NewDocument(content, domain.SourceGitHub, domain.TypeProject, meta, now)
}
