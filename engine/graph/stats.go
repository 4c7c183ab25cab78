package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/portfolio-chat/portfolio-chat/pkg/repo"
)

// NodeCounts returns how many nodes carry each label.
func (s *Store) NodeCounts(ctx context.Context) (map[string]int64, error) {
	return s.tally(ctx, "nodes", `MATCH (n) RETURN labels(n)[0] AS key, count(*) AS total`)
}

// RelationshipCounts returns how many relationships exist of each type.
func (s *Store) RelationshipCounts(ctx context.Context) (map[string]int64, error) {
	return s.tally(ctx, "relationships", `MATCH ()-[r]->() RETURN type(r) AS key, count(*) AS total`)
}

func (s *Store) tally(ctx context.Context, what, cypher string) (map[string]int64, error) {
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return nil, fmt.Errorf("graph: count %s: %w", what, err)
	}
	out := map[string]int64{}
	for res.Next(ctx) {
		rec := res.Record()
		key, _, kerr := neo4j.GetRecordValue[string](rec, "key")
		total, _, terr := neo4j.GetRecordValue[int64](rec, "total")
		if kerr == nil && terr == nil {
			out[key] = total
		}
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("graph: count %s: %w", what, err)
	}
	return out, nil
}

// Nodes lists up to limit nodes of one label, ordered by ID.
func (s *Store) Nodes(ctx context.Context, label string, limit int) ([]Node, error) {
	r := repo.NewNeo4jRepo[Node, string](s.opener, sanitizeLabel(label), nodeFromRecord)
	nodes, err := r.List(ctx, repo.ListOpts{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("graph: %w", err)
	}
	return nodes, nil
}
