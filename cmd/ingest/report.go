package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/portfolio-chat/portfolio-chat/engine/domain"
	"github.com/portfolio-chat/portfolio-chat/engine/ingest"
	"github.com/portfolio-chat/portfolio-chat/engine/semantic"
)

const scrollPage = 256

type scroller interface {
	Scroll(ctx context.Context, limit uint32, offset string, f *semantic.Filter) (semantic.Page, error)
}

// breakdown counts every stored point by its source and type tags.
type breakdown struct {
	Total    int
	BySource map[string]int
	ByType   map[string]int
	Samples  []semantic.SearchResult
}

func collectBreakdown(ctx context.Context, s scroller, samples int) (breakdown, error) {
	b := breakdown{BySource: make(map[string]int), ByType: make(map[string]int)}
	offset := ""
	for {
		page, err := s.Scroll(ctx, scrollPage, offset, nil)
		if err != nil {
			return b, fmt.Errorf("stats: scroll: %w", err)
		}
		for _, p := range page.Points {
			b.Total++
			b.BySource[tag(p.Meta, domain.KeySource)]++
			b.ByType[tag(p.Meta, domain.KeyType)]++
			if len(b.Samples) < samples {
				b.Samples = append(b.Samples, p)
			}
		}
		if page.Next == "" || len(page.Points) == 0 {
			return b, nil
		}
		offset = page.Next
	}
}

func tag(meta map[string]any, key string) string {
	if s, ok := meta[key].(string); ok && s != "" {
		return s
	}
	return "unknown"
}

func rule(w io.Writer) { fmt.Fprintln(w, strings.Repeat("=", 60)) }

func printCounts(w io.Writer, title string, m map[string]int) {
	if len(m) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", title)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-20s %d\n", k, m[k])
	}
}

func printSummary(w io.Writer, sum ingest.Summary, runErr error) {
	rule(w)
	if runErr != nil {
		fmt.Fprintf(w, "%s run FAILED: %v\n", sum.Mode, runErr)
	} else {
		fmt.Fprintf(w, "%s run complete\n", sum.Mode)
	}
	rule(w)
	fmt.Fprintf(w, "Collection: %s\n", sum.Collection)
	fmt.Fprintf(w, "Documents:  %d\n", sum.Documents)
	fmt.Fprintf(w, "Chunks:     %d\n", sum.Chunks)
	printCounts(w, "By source", sum.BySource)
	printCounts(w, "By type", sum.ByType)
	for _, r := range sum.Reports {
		switch {
		case r.Skipped:
			fmt.Fprintf(w, "  skipped %s: %v\n", r.Loader, r.Err)
		case r.Failed():
			fmt.Fprintf(w, "  FAILED  %s: %v\n", r.Loader, r.Err)
		}
	}
	if sum.Duration > 0 {
		fmt.Fprintf(w, "Duration:   %s\n", sum.Duration.Round(time.Millisecond))
	}
}

func printStats(w io.Writer, st semantic.Stats, b breakdown) {
	rule(w)
	fmt.Fprintf(w, "Collection: %s\n", st.Collection)
	rule(w)
	fmt.Fprintf(w, "Status:          %s\n", st.Status)
	fmt.Fprintf(w, "Points:          %d\n", st.Points)
	fmt.Fprintf(w, "Indexed vectors: %d\n", st.IndexedVectors)
	fmt.Fprintf(w, "Vector size:     %d\n", st.VectorSize)
	printCounts(w, "By source", b.BySource)
	printCounts(w, "By type", b.ByType)
	for i, p := range b.Samples {
		content := p.Content
		if r := []rune(content); len(r) > 150 {
			content = string(r[:150]) + "..."
		}
		fmt.Fprintf(w, "\nSample %d [%s/%s]\n%s\n", i+1, tag(p.Meta, domain.KeySource), tag(p.Meta, domain.KeyType), content)
	}
}

func printEvent(w io.Writer, ev ingest.Event) {
	status := "ok"
	if !ev.Success {
		status = "FAILED: " + ev.Error
	}
	fmt.Fprintf(w, "%s run %s on %s: %s\n", ev.Mode, ev.ID, ev.Collection, status)
	fmt.Fprintf(w, "Documents: %d  Chunks: %d\n", ev.Documents, ev.Chunks)
	printCounts(w, "By source", ev.BySource)
	for loader, msg := range ev.Failures {
		fmt.Fprintf(w, "  FAILED  %s: %s\n", loader, msg)
	}
}
