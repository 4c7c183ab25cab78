package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/portfolio-chat/portfolio-chat/engine/domain"
	"github.com/portfolio-chat/portfolio-chat/pkg/repo"
)

// DefaultFactLimit caps RelatedFacts when the caller passes no limit.
const DefaultFactLimit = 10

// Store writes document projections to Neo4j and reads facts back.
type Store struct {
	opener repo.Opener
	owner  string
	people *repo.Neo4jRepo[Node, string]
	log    *slog.Logger
}

// Connect dials Neo4j and verifies connectivity. Empty user means no auth.
func Connect(ctx context.Context, url, user, pass string) (neo4j.DriverWithContext, error) {
	auth := neo4j.NoAuth()
	if user != "" {
		auth = neo4j.BasicAuth(user, pass, "")
	}
	driver, err := neo4j.NewDriverWithContext(url, auth)
	if err != nil {
		return nil, fmt.Errorf("graph: connect: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("graph: verify: %w", err)
	}
	return driver, nil
}

// New creates a Store on a live driver.
func New(driver neo4j.DriverWithContext, owner string, log *slog.Logger) *Store {
	return NewWithOpener(repo.DriverOpener(driver), owner, log)
}

// NewWithOpener creates a Store on any session opener.
func NewWithOpener(opener repo.Opener, owner string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		opener: opener,
		owner:  owner,
		people: repo.NewNeo4jRepo[Node, string](opener, LabelPerson, nodeFromRecord),
		log:    log,
	}
}

// Person returns the owner node.
func (s *Store) Person(ctx context.Context) (Node, error) {
	return s.people.Get(ctx, OwnerID)
}

// Project merges the projection of docs into the graph in one write
// transaction. Nodes are keyed on ID so repeated runs converge.
func (s *Store) Project(ctx context.Context, docs []domain.Document) error {
	p := Build(s.owner, docs)

	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx repo.Runner) (any, error) {
		return nil, writeProjection(ctx, tx, p)
	})
	if err != nil {
		return fmt.Errorf("graph: project: %w", err)
	}
	s.log.Info("graph projected", "nodes", len(p.Nodes), "edges", len(p.Edges), "replaced", p.Replace)
	return nil
}

func writeProjection(ctx context.Context, tx repo.Runner, p Projection) error {
	byLabel := map[string][]map[string]any{}
	for _, n := range p.Nodes {
		byLabel[n.Label] = append(byLabel[n.Label], map[string]any{
			"id": n.ID, "name": n.Name, "props": orEmpty(n.Props),
		})
	}
	for _, label := range sortedKeys(byLabel) {
		cypher := fmt.Sprintf(`UNWIND $rows AS row
			MERGE (n:%s {id: row.id})
			SET n += row.props, n.name = row.name`, sanitizeLabel(label))
		if _, err := tx.Run(ctx, cypher, map[string]any{"rows": byLabel[label]}); err != nil {
			return fmt.Errorf("merge %s: %w", label, err)
		}
	}

	keep := map[string][]string{}
	for _, n := range p.Nodes {
		keep[n.Label] = append(keep[n.Label], n.ID)
	}
	for _, label := range p.Replace {
		l := sanitizeLabel(label)
		cypher := fmt.Sprintf(`MATCH (n:%s) WHERE NOT n.id IN $ids DETACH DELETE n`, l)
		if _, err := tx.Run(ctx, cypher, map[string]any{"ids": keep[label]}); err != nil {
			return fmt.Errorf("prune %s: %w", label, err)
		}
		// outgoing edges are rebuilt below
		if _, err := tx.Run(ctx, fmt.Sprintf(`MATCH (n:%s)-[r]->() DELETE r`, l), nil); err != nil {
			return fmt.Errorf("reset %s: %w", label, err)
		}
	}

	byType := map[string][]map[string]any{}
	for _, e := range p.Edges {
		byType[e.Type] = append(byType[e.Type], map[string]any{
			"from": e.From, "to": e.To, "props": orEmpty(e.Props),
		})
	}
	for _, rel := range sortedKeys(byType) {
		cypher := fmt.Sprintf(`UNWIND $rows AS row
			MATCH (a {id: row.from}), (b {id: row.to})
			MERGE (a)-[r:%s]->(b)
			SET r += row.props`, sanitizeRelType(rel))
		if _, err := tx.Run(ctx, cypher, map[string]any{"rows": byType[rel]}); err != nil {
			return fmt.Errorf("link %s: %w", rel, err)
		}
	}

	if len(p.Replace) == 0 {
		return nil
	}
	// tags and languages only hang off replaceable nodes
	_, err := tx.Run(ctx, `MATCH (n) WHERE (n:Tag OR n:Language) AND NOT (n)--() DELETE n`, nil)
	if err != nil {
		return fmt.Errorf("prune orphans: %w", err)
	}
	return nil
}

// RelatedFacts returns relationships where either end's name contains one of
// keywords, case-insensitively.
func (s *Store) RelatedFacts(ctx context.Context, keywords []string, limit int) ([]Fact, error) {
	kws := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			kws = append(kws, k)
		}
	}
	if len(kws) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultFactLimit
	}

	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (a)-[r]->(b)
		WHERE any(k IN $keywords WHERE toLower(a.name) CONTAINS k OR toLower(b.name) CONTAINS k)
		RETURN a.name AS from, labels(a)[0] AS from_label, type(r) AS rel,
		       b.name AS to, labels(b)[0] AS to_label
		ORDER BY from, rel, to
		LIMIT $limit`
	res, err := sess.Run(ctx, cypher, map[string]any{"keywords": kws, "limit": int64(limit)})
	if err != nil {
		return nil, fmt.Errorf("graph: related facts: %w", err)
	}

	var facts []Fact
	for res.Next(ctx) {
		rec := res.Record()
		var f Fact
		f.From, _, _ = neo4j.GetRecordValue[string](rec, "from")
		f.FromLabel, _, _ = neo4j.GetRecordValue[string](rec, "from_label")
		f.Rel, _, _ = neo4j.GetRecordValue[string](rec, "rel")
		f.To, _, _ = neo4j.GetRecordValue[string](rec, "to")
		f.ToLabel, _, _ = neo4j.GetRecordValue[string](rec, "to_label")
		facts = append(facts, f)
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("graph: related facts: %w", err)
	}
	return facts, nil
}

func nodeFromRecord(rec *neo4j.Record) (Node, error) {
	raw, ok := rec.Get("n")
	if !ok {
		return Node{}, fmt.Errorf("graph: record has no node")
	}
	dn, ok := raw.(neo4j.Node)
	if !ok {
		return Node{}, fmt.Errorf("graph: unexpected %T in record", raw)
	}
	n := Node{Props: map[string]any{}}
	if len(dn.Labels) > 0 {
		n.Label = dn.Labels[0]
	}
	for k, v := range dn.Props {
		switch k {
		case "id":
			n.ID, _ = v.(string)
		case "name":
			n.Name, _ = v.(string)
		default:
			n.Props[k] = v
		}
	}
	return n, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func identChars(t string) []byte {
	safe := make([]byte, 0, len(t))
	for i := range t {
		c := t[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			safe = append(safe, c)
		}
	}
	return safe
}

func sanitizeRelType(t string) string {
	safe := identChars(t)
	if len(safe) == 0 {
		return "RELATED_TO"
	}
	// Uppercase for Neo4j convention
	for i := range safe {
		if safe[i] >= 'a' && safe[i] <= 'z' {
			safe[i] -= 32
		}
	}
	return string(safe)
}

func sanitizeLabel(l string) string {
	safe := identChars(l)
	if len(safe) == 0 {
		return "Entity"
	}
	return string(safe)
}
