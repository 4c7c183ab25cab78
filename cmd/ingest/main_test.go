package main

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/urfave/cli/v3"

	"github.com/portfolio-chat/portfolio-chat/engine/domain"
	"github.com/portfolio-chat/portfolio-chat/engine/ingest"
	"github.com/portfolio-chat/portfolio-chat/engine/semantic"
	"github.com/portfolio-chat/portfolio-chat/pkg/natsutil"
)

type pagedScroller struct {
	pages   [][]semantic.SearchResult
	offsets []string
	err     error
}

func (p *pagedScroller) Scroll(_ context.Context, _ uint32, offset string, _ *semantic.Filter) (semantic.Page, error) {
	p.offsets = append(p.offsets, offset)
	if p.err != nil {
		return semantic.Page{}, p.err
	}
	i := 0
	if offset != "" {
		i, _ = strconv.Atoi(offset)
	}
	page := semantic.Page{Points: p.pages[i]}
	if i+1 < len(p.pages) {
		page.Next = strconv.Itoa(i + 1)
	}
	return page, nil
}

func point(source, typ string) semantic.SearchResult {
	return semantic.SearchResult{
		Content: source + " " + typ,
		Meta:    map[string]any{domain.KeySource: source, domain.KeyType: typ},
	}
}

func TestCollectBreakdown(t *testing.T) {
	s := &pagedScroller{pages: [][]semantic.SearchResult{
		{point("resume", "resume"), point("github", "project")},
		{point("github", "project"), point("blog", "article"), {Content: "untagged"}},
	}}
	b, err := collectBreakdown(context.Background(), s, 2)
	if err != nil {
		t.Fatal(err)
	}
	if b.Total != 5 || b.BySource["github"] != 2 || b.ByType["article"] != 1 || b.BySource["unknown"] != 1 {
		t.Fatalf("breakdown = %+v", b)
	}
	if len(b.Samples) != 2 {
		t.Fatalf("samples = %d", len(b.Samples))
	}
	if len(s.offsets) != 2 || s.offsets[1] != "1" {
		t.Fatalf("offsets = %v", s.offsets)
	}
}

func TestCollectBreakdown_Error(t *testing.T) {
	_, err := collectBreakdown(context.Background(), &pagedScroller{err: errors.New("unavailable")}, 0)
	if err == nil || !strings.Contains(err.Error(), "stats: scroll") {
		t.Fatalf("err = %v", err)
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	sum := ingest.Summary{
		Mode:       ingest.ModeFull,
		Collection: "portfolio-chat",
		Documents:  3,
		Chunks:     7,
		BySource:   map[string]int{"resume": 1, "github": 2},
		Reports: []domain.LoadReport{
			{Loader: "blog", Skipped: true, Err: domain.ErrSourceUnavailable},
			{Loader: "github", Err: errors.New("rate limited")},
		},
	}
	printSummary(&buf, sum, nil)
	out := buf.String()
	for _, want := range []string{"full run complete", "Chunks:     7", "github               2", "skipped blog", "FAILED  github: rate limited"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	printSummary(&buf, ingest.Summary{Mode: ingest.ModeDynamic}, domain.ErrNoDocuments)
	if !strings.Contains(buf.String(), "dynamic run FAILED") {
		t.Fatalf("summary = %s", buf.String())
	}
}

func TestPrintStats(t *testing.T) {
	var buf bytes.Buffer
	printStats(&buf, semantic.Stats{Collection: "c", Status: "green", Points: 4, VectorSize: 1536},
		breakdown{BySource: map[string]int{"blog": 4}, Samples: []semantic.SearchResult{point("blog", "article")}})
	out := buf.String()
	for _, want := range []string{"Status:          green", "Vector size:     1536", "Sample 1 [blog/article]"} {
		if !strings.Contains(out, want) {
			t.Errorf("stats missing %q:\n%s", want, out)
		}
	}
}

func TestNewAppCommands(t *testing.T) {
	app := newApp()
	var names []string
	for _, c := range app.Commands {
		names = append(names, c.Name)
	}
	if got := strings.Join(names, ","); got != "ingest,update,stats,ask,watch,trigger" {
		t.Fatalf("commands = %s", got)
	}
}

func startTestNATS(t *testing.T) (*nats.Conn, string) {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc, srv.ClientURL()
}

func setTestEnv(t *testing.T, natsURL string) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("QDRANT_URL", "localhost:6334")
	t.Setenv("QDRANT_INSECURE", "true")
	t.Setenv("NATS_URL", natsURL)
	t.Setenv("LOG_LEVEL", "error")
}

func runApp(args ...string) error {
	app := newApp()
	app.ExitErrHandler = func(context.Context, *cli.Command, error) {}
	return app.Run(context.Background(), append([]string{"ingest"}, args...))
}

func TestTrigger(t *testing.T) {
	nc, url := startTestNATS(t)
	setTestEnv(t, url)

	got := make(chan ingest.RefreshRequest, 1)
	_, err := natsutil.Handle(nc, "portfolio.refresh", func(_ context.Context, req ingest.RefreshRequest) ingest.Event {
		got <- req
		return ingest.Event{ID: "run-1", Mode: req.Mode, Success: true, Documents: 4, Chunks: 9}
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := runApp("trigger", "--mode", "full", "--recreate", "--timeout", "5s"); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	req := <-got
	if req.Mode != ingest.ModeFull || !req.Recreate || !strings.HasPrefix(req.RequestedBy, "cli@") {
		t.Fatalf("request = %+v", req)
	}
}

func TestTrigger_FailedRunExitsNonZero(t *testing.T) {
	nc, url := startTestNATS(t)
	setTestEnv(t, url)
	_, err := natsutil.Handle(nc, "portfolio.refresh", func(_ context.Context, req ingest.RefreshRequest) ingest.Event {
		return ingest.Event{Mode: req.Mode, Error: "no documents"}
	})
	if err != nil {
		t.Fatal(err)
	}

	err = runApp("trigger", "--timeout", "5s")
	var exit cli.ExitCoder
	if !errors.As(err, &exit) || exit.ExitCode() != 1 {
		t.Fatalf("err = %v", err)
	}
}

func TestTrigger_RejectsUnknownMode(t *testing.T) {
	setTestEnv(t, "nats://127.0.0.1:1")
	if err := runApp("trigger", "--mode", "partial"); err == nil || !strings.Contains(err.Error(), "unknown mode") {
		t.Fatalf("err = %v", err)
	}
}
