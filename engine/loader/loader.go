// Package loader provides the source loaders that turn external content
// (résumé, profile configuration, repository listings, blog articles) into
// normalized documents.
//
// Every loader fails soft with respect to the others: an absent source
// returns an error wrapping domain.ErrSourceNotFound, and a source that is
// configured but unreachable returns one wrapping domain.ErrSourceUnavailable.
// The ingestion pipeline logs both and carries on.
package loader

import (
	"context"
	"net/http"
	"time"

	"github.com/portfolio-chat/portfolio-chat/engine/domain"
)

// Loader fetches raw content from one source and emits documents.
type Loader interface {
	Name() string
	Load(ctx context.Context) ([]domain.Document, error)
}

// Names under which the standard loaders register.
const (
	NameResume  = "resume"
	NameProfile = "portfolio_config"
	NameGitHub  = "github"
	NameBlog    = "blog"
)

// DefaultTimeout bounds every external call made by a loader.
const DefaultTimeout = 10 * time.Second

// Clock returns the load timestamp stamped onto documents.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}

func defaultHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}
