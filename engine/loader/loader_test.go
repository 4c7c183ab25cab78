package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	gh "github.com/google/go-github/v80/github"

	"github.com/portfolio-chat/portfolio-chat/engine/domain"
	"github.com/portfolio-chat/portfolio-chat/pkg/fn"
	"github.com/portfolio-chat/portfolio-chat/pkg/resilience"
)

var fixedClock Clock = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

// ---------------------------------------------------------------------------
// Resume
// ---------------------------------------------------------------------------

func TestResume_PDFContentStream(t *testing.T) {
	dir := t.TempDir()
	pdfPath := writeFile(t, dir, "resume.pdf", "%PDF-1.4\n1 0 obj\n<< /Length 44 >>\nstream\nBT /F1 12 Tf (Jane Doe \\(Go\\)) Tj ET\nendstream\nendobj\n%%EOF\n")

	l := NewResumeLoader(pdfPath, "")
	l.Clock = fixedClock
	docs, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 page, got %d", len(docs))
	}
	d := docs[0]
	if d.Content != "Jane Doe (Go)" {
		t.Errorf("content = %q", d.Content)
	}
	if d.Metadata.Type() != domain.TypeResumePDF || d.Metadata[domain.KeyPage] != 1 {
		t.Errorf("metadata = %v", d.Metadata)
	}
	if d.Metadata.String(domain.KeyFilePath) != pdfPath {
		t.Errorf("file_path = %v", d.Metadata[domain.KeyFilePath])
	}
}

func TestResume_TextFallback(t *testing.T) {
	dir := t.TempDir()
	textPath := writeFile(t, dir, "resume.txt", "  Senior engineer.\n")

	l := NewResumeLoader(filepath.Join(dir, "missing.pdf"), textPath)
	docs, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(docs) != 1 || docs[0].Content != "Senior engineer." {
		t.Fatalf("docs = %+v", docs)
	}
	if docs[0].Metadata.Type() != domain.TypeResumeText {
		t.Errorf("type = %v", docs[0].Metadata.Type())
	}
}

func TestResume_Missing(t *testing.T) {
	dir := t.TempDir()
	l := NewResumeLoader(filepath.Join(dir, "a.pdf"), filepath.Join(dir, "a.txt"))
	docs, err := l.Load(context.Background())
	if !errors.Is(err, domain.ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound, got %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("expected no documents, got %d", len(docs))
	}

	_, err = NewResumeLoader("", "").Load(context.Background())
	if !errors.Is(err, domain.ErrSourceNotFound) {
		t.Fatalf("unconfigured loader: got %v", err)
	}
}

func TestResume_EmptyText(t *testing.T) {
	textPath := writeFile(t, t.TempDir(), "resume.txt", "   \n")
	docs, err := NewResumeLoader("", textPath).Load(context.Background())
	if err != nil || len(docs) != 0 {
		t.Fatalf("docs=%d err=%v", len(docs), err)
	}
}

func TestResume_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewResumeLoader("x.pdf", "").Load(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
}

func TestScanPDFText_NestedParens(t *testing.T) {
	got := scanPDFText([]byte(`BT (a (nested) word) Tj (line\nbreak) Tj ET (outside) Tj`))
	if got != "a (nested) word line\nbreak" {
		t.Fatalf("got %q", got)
	}
}

// ---------------------------------------------------------------------------
// Profile config
// ---------------------------------------------------------------------------

const profileSrc = `const CONFIG = {
  skills: ['Go', 'Postgres'],
  experiences: [{ company: 'Acme', position: 'Engineer', from: '2020', to: '2022' }],
  educations: [{ institution: 'MIT', degree: 'BSc', from: '2012', to: '2016' }],
  projects: { external: { projects: [{ title: 'CLI', description: 'A tool', link: 'https://x.dev' }] } },
};`

func TestProfile_AllSections(t *testing.T) {
	p := writeFile(t, t.TempDir(), "gitprofile.config.ts", profileSrc)
	l := NewProfileConfigLoader(p, quietLogger())
	l.Clock = fixedClock

	docs, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	byType := map[domain.Type]int{}
	for _, d := range docs {
		byType[d.Metadata.Type()]++
	}
	for _, typ := range []domain.Type{domain.TypeSkills, domain.TypeExperience, domain.TypeEducation, domain.TypeExternalProject} {
		if byType[typ] != 1 {
			t.Errorf("%s: expected 1 document, got %d", typ, byType[typ])
		}
	}
	for _, d := range docs {
		if d.Metadata.Source() != domain.SourcePortfolioConfig {
			t.Errorf("source = %v", d.Metadata.Source())
		}
	}
}

func TestProfile_BrokenSectionIsolated(t *testing.T) {
	src := `{
  skills: ['Go'],
  experiences: [{ company: 'Acme', position: 'Eng' ],
  educations: [{ institution: 'MIT', degree: 'BSc' }],
}`
	p := writeFile(t, t.TempDir(), "cfg.ts", src)
	docs, err := NewProfileConfigLoader(p, quietLogger()).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected skills + education only, got %d", len(docs))
	}
	for _, d := range docs {
		if d.Metadata.Type() == domain.TypeExperience {
			t.Fatal("broken experiences section should yield nothing")
		}
	}
}

func TestProfile_Missing(t *testing.T) {
	_, err := NewProfileConfigLoader(filepath.Join(t.TempDir(), "nope.ts"), quietLogger()).Load(context.Background())
	if !errors.Is(err, domain.ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound, got %v", err)
	}
}

func TestProfile_UnlexableSectionIsIsolated(t *testing.T) {
	p := writeFile(t, t.TempDir(), "cfg.ts", `const CONFIG = {
  skills: ['Go', 'Python'],
  experiences: [
    { company: 'Acme', position: 'Engineer, from: '2020', to: '2022' },
  ],
  educations: [{ institution: 'MIT', degree: 'BSc', from: '2014', to: '2018' }],
};`)
	docs, err := NewProfileConfigLoader(p, quietLogger()).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	types := map[domain.Type]int{}
	for _, d := range docs {
		types[d.Metadata.Type()]++
	}
	if types[domain.TypeSkills] != 1 || types[domain.TypeEducation] != 1 || types[domain.TypeExperience] != 0 {
		t.Fatalf("types = %v", types)
	}
}

// ---------------------------------------------------------------------------
// GitHub
// ---------------------------------------------------------------------------

func githubServer(t *testing.T, h http.HandlerFunc) *gh.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := gh.NewClient(nil)
	u, err := url.Parse(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	c.BaseURL = u
	return c
}

func TestRepository_FilterSortTruncate(t *testing.T) {
	client := githubServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/octo/repos" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("sort") != "updated" {
			t.Errorf("sort = %q", r.URL.Query().Get("sort"))
		}
		repos := []map[string]any{
			{"name": "old", "updated_at": "2021-01-01T00:00:00Z", "language": "Go", "stargazers_count": 1, "html_url": "https://github.com/octo/old"},
			{"name": "forked", "fork": true, "updated_at": "2025-01-01T00:00:00Z"},
			{"name": "newest", "description": "The newest one", "updated_at": "2024-06-01T00:00:00Z", "language": "Rust", "stargazers_count": 42, "html_url": "https://github.com/octo/newest"},
			{"name": "forked-too", "fork": true, "updated_at": "2024-12-01T00:00:00Z"},
			{"name": "middle", "updated_at": "2023-01-01T00:00:00Z"},
			{"name": "vendored", "fork": true, "updated_at": "2024-09-01T00:00:00Z"},
		}
		_ = json.NewEncoder(w).Encode(repos)
	})

	l := NewRepositoryLoader("octo", "", WithGitHubClient(client), WithMaxRepos(2))
	l.Clock = fixedClock
	docs, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 repos, got %d", len(docs))
	}
	if docs[0].Metadata.String(domain.KeyRepoName) != "newest" || docs[1].Metadata.String(domain.KeyRepoName) != "middle" {
		t.Fatalf("order = %v, %v", docs[0].Metadata[domain.KeyRepoName], docs[1].Metadata[domain.KeyRepoName])
	}
	want := "GitHub Project: newest\nDescription: The newest one\nPrimary Language: Rust\nStars: 42"
	if docs[0].Content != want {
		t.Errorf("content = %q", docs[0].Content)
	}
	if docs[1].Content != "GitHub Project: middle\nDescription: No description available\nPrimary Language: Unknown\nStars: 0" {
		t.Errorf("defaults not applied: %q", docs[1].Content)
	}
	if docs[0].Metadata.String(domain.KeyUpdatedAt) != "2024-06-01T00:00:00Z" {
		t.Errorf("updated_at = %v", docs[0].Metadata[domain.KeyUpdatedAt])
	}
	if docs[0].Metadata.Source() != domain.SourceGitHub || docs[0].Metadata.Type() != domain.TypeProject {
		t.Errorf("tags = %v/%v", docs[0].Metadata.Source(), docs[0].Metadata.Type())
	}
}

func TestRepository_StopsPagingOnceFull(t *testing.T) {
	var pages atomic.Int32
	client := githubServer(t, func(w http.ResponseWriter, r *http.Request) {
		pages.Add(1)
		if r.URL.Query().Get("page") == "2" {
			t.Error("second page requested after MaxRepos non-forks were found")
		}
		w.Header().Set("Link", fmt.Sprintf(`<http://%s/users/octo/repos?page=2>; rel="next"`, r.Host))
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"name": "a", "updated_at": "2024-03-01T00:00:00Z"},
			{"name": "fork", "fork": true, "updated_at": "2024-02-15T00:00:00Z"},
			{"name": "b", "updated_at": "2024-02-01T00:00:00Z"},
		})
	})

	docs, err := NewRepositoryLoader("octo", "", WithGitHubClient(client), WithMaxRepos(2)).Load(context.Background())
	if err != nil || len(docs) != 2 {
		t.Fatalf("docs=%d err=%v", len(docs), err)
	}
	if pages.Load() != 1 {
		t.Fatalf("pages = %d", pages.Load())
	}
}

func TestRepository_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unknown user", http.StatusNotFound, domain.ErrSourceNotFound},
		{"server error", http.StatusBadGateway, domain.ErrSourceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := githubServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"message":"nope"}`)
			})
			docs, err := NewRepositoryLoader("octo", "", WithGitHubClient(client)).Load(context.Background())
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if len(docs) != 0 {
				t.Fatalf("expected no docs, got %d", len(docs))
			}
		})
	}
}

func TestRepository_NoUsername(t *testing.T) {
	_, err := NewRepositoryLoader("", "").Load(context.Background())
	if !errors.Is(err, domain.ErrSourceNotFound) {
		t.Fatalf("got %v", err)
	}
}

// ---------------------------------------------------------------------------
// dev.to
// ---------------------------------------------------------------------------

func articleLoader(srvURL string) *ArticleLoader {
	l := NewArticleLoader("octo", 2)
	l.BaseURL = srvURL
	l.Retry = fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: time.Millisecond}
	l.Clock = fixedClock
	return l
}

func TestArticle_Load(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("username"); got != "octo" {
			t.Errorf("username = %q", got)
		}
		if got := r.URL.Query().Get("per_page"); got != "2" {
			t.Errorf("per_page = %q", got)
		}
		fmt.Fprint(w, `[
			{"title":"Go generics","description":"A tour","url":"https://dev.to/octo/go","tag_list":["go","generics"],"published_at":"2024-02-01T00:00:00Z","reading_time_minutes":7},
			{"title":"Second","description":"","url":"https://dev.to/octo/2","tag_list":[],"reading_time_minutes":1},
			{"title":"Third","url":"https://dev.to/octo/3"}
		]`)
	}))
	defer srv.Close()

	docs, err := articleLoader(srv.URL).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected truncation to 2, got %d", len(docs))
	}
	want := "Blog Article: Go generics\nA tour\nTags: go, generics\nReading Time: 7 minutes"
	if docs[0].Content != want {
		t.Errorf("content = %q", docs[0].Content)
	}
	m := docs[0].Metadata
	if m.String(domain.KeyURL) != "https://dev.to/octo/go" || m[domain.KeyReadingTime] != 7 || m.String(domain.KeyTags) != "go, generics" {
		t.Errorf("metadata = %v", m)
	}
	if m.Source() != domain.SourceBlog || m.Type() != domain.TypeArticle {
		t.Errorf("tags = %v/%v", m.Source(), m.Type())
	}
}

func TestArticle_TagListShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"array", `["go","cli"]`, "go, cli"},
		{"string", `"go, cli ,"`, "go, cli"},
		{"empty string", `""`, ""},
		{"null", `null`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintf(w, `[{"title":"T","description":"D","tag_list":%s,"reading_time_minutes":3}]`, tt.raw)
			}))
			defer srv.Close()

			docs, err := articleLoader(srv.URL).Load(context.Background())
			if err != nil || len(docs) != 1 {
				t.Fatalf("docs=%d err=%v", len(docs), err)
			}
			if got := docs[0].Metadata.String(domain.KeyTags); got != tt.want {
				t.Fatalf("tags = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestArticle_LimiterPacesRequests(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	l := articleLoader(srv.URL)
	l.Limiter = resilience.Every(time.Hour, 1)
	if !l.Limiter.Allow() {
		t.Fatal("fresh limiter should admit one request")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := l.Load(ctx)
	if !errors.Is(err, domain.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("an exhausted limiter must hold requests back, got %d calls", calls.Load())
	}
}

func TestArticle_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `[{"title":"Ok","reading_time_minutes":2}]`)
	}))
	defer srv.Close()

	docs, err := articleLoader(srv.URL).Load(context.Background())
	if err != nil || len(docs) != 1 {
		t.Fatalf("docs=%d err=%v", len(docs), err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestArticle_NotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := articleLoader(srv.URL).Load(context.Background())
	if !errors.Is(err, domain.ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("404 should not be retried, got %d calls", calls.Load())
	}
}

func TestArticle_PersistentFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := articleLoader(srv.URL).Load(context.Background())
	if !errors.Is(err, domain.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}
