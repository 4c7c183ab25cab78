// Command backfill rebuilds the profile graph in Neo4j from the chunks already
// stored in Qdrant, without reloading any source. Chunks are regrouped into
// their documents by doc_id and projected exactly as a fresh ingest would.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/portfolio-chat/portfolio-chat/engine/domain"
	"github.com/portfolio-chat/portfolio-chat/engine/graph"
	"github.com/portfolio-chat/portfolio-chat/engine/semantic"
	"github.com/portfolio-chat/portfolio-chat/pkg/bootstrap"
	"github.com/portfolio-chat/portfolio-chat/pkg/config"
	"github.com/portfolio-chat/portfolio-chat/pkg/fn"
)

const scrollPage = 256

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	log := cfg.Logger(os.Stderr)
	slog.SetDefault(log)

	if err := run(ctx, cfg, log); err != nil {
		log.Error("backfill failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if cfg.Neo4jURL == "" {
		return fmt.Errorf("NEO4J_URL is not set")
	}
	rt, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()
	if rt.Graph == nil {
		return fmt.Errorf("neo4j at %s is unreachable", cfg.Neo4jURL)
	}

	points, err := scrollAll(ctx, rt.Store)
	if err != nil {
		return err
	}
	docs := regroup(points)
	log.Info("rebuilt documents from qdrant", "points", len(points), "documents", len(docs))
	if len(docs) == 0 {
		return fmt.Errorf("collection %s: %w", cfg.CollectionName, domain.ErrNoDocuments)
	}

	if err := rt.Graph.Project(ctx, docs); err != nil {
		return err
	}

	nodes, err := rt.Graph.NodeCounts(ctx)
	if err != nil {
		return err
	}
	rels, err := rt.Graph.RelationshipCounts(ctx)
	if err != nil {
		return err
	}
	printCounts("Nodes", nodes)
	printCounts("Relationships", rels)
	if p, err := rt.Graph.Person(ctx); err == nil {
		fmt.Printf("Owner node: %s (%s)\n", p.Name, p.ID)
	}
	skills, err := rt.Graph.Nodes(ctx, graph.LabelSkill, 20)
	if err != nil {
		return err
	}
	if len(skills) > 0 {
		fmt.Printf("Skills: %s\n", strings.Join(fn.Map(skills, func(n graph.Node) string { return n.Name }), ", "))
	}
	return nil
}

type scroller interface {
	Scroll(ctx context.Context, limit uint32, offset string, f *semantic.Filter) (semantic.Page, error)
}

func scrollAll(ctx context.Context, s scroller) ([]semantic.SearchResult, error) {
	var all []semantic.SearchResult
	offset := ""
	for {
		page, err := s.Scroll(ctx, scrollPage, offset, nil)
		if err != nil {
			return nil, fmt.Errorf("backfill: scroll: %w", err)
		}
		all = append(all, page.Points...)
		if page.Next == "" || len(page.Points) == 0 {
			return all, nil
		}
		offset = page.Next
	}
}

// regroup joins chunks sharing a doc_id back into one document, in chunk
// order. Chunk bookkeeping keys are dropped from the metadata. Points
// without a doc_id stand alone.
func regroup(points []semantic.SearchResult) []domain.Document {
	type group struct {
		meta   domain.Metadata
		chunks []semantic.SearchResult
	}
	groups := make(map[string]*group)
	var order []string
	for i, p := range points {
		id, _ := p.Meta[domain.KeyDocID].(string)
		if id == "" {
			id = fmt.Sprintf("point:%d", i)
		}
		g, ok := groups[id]
		if !ok {
			g = &group{meta: make(domain.Metadata, len(p.Meta))}
			for k, v := range p.Meta {
				switch k {
				case domain.KeyDocID, domain.KeyChunkIndex, domain.KeyChunkCount, semantic.PayloadContent:
				default:
					g.meta[k] = v
				}
			}
			groups[id] = g
			order = append(order, id)
		}
		g.chunks = append(g.chunks, p)
	}

	docs := make([]domain.Document, 0, len(order))
	for _, id := range order {
		g := groups[id]
		sort.SliceStable(g.chunks, func(i, j int) bool {
			return chunkIndex(g.chunks[i]) < chunkIndex(g.chunks[j])
		})
		parts := make([]string, len(g.chunks))
		for i, c := range g.chunks {
			parts[i] = c.Content
		}
		docs = append(docs, domain.Document{Content: strings.Join(parts, "\n"), Metadata: g.meta})
	}
	return docs
}

func chunkIndex(p semantic.SearchResult) int64 {
	switch v := p.Meta[domain.KeyChunkIndex].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

func printCounts(title string, m map[string]int64) {
	fmt.Printf("%s:\n", title)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-15s %d\n", k, m[k])
	}
}
