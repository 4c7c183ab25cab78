package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// ErrNotFound is returned by Get when no node matches.
var ErrNotFound = errors.New("repo: not found")

// Result is the minimal interface needed from a neo4j result.
type Result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// Runner runs a single Cypher statement.
type Runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (Result, error)
}

// Session is the minimal interface needed from a neo4j session.
type Session interface {
	Runner
	ExecuteWrite(ctx context.Context, work func(tx Runner) (any, error)) (any, error)
	Close(ctx context.Context) error
}

// Opener opens sessions. DriverOpener adapts a real driver; tests supply fakes.
type Opener interface {
	OpenSession(ctx context.Context) Session
}

type driverOpener struct {
	driver neo4j.DriverWithContext
}

// DriverOpener adapts driver to Opener.
func DriverOpener(driver neo4j.DriverWithContext) Opener {
	return driverOpener{driver: driver}
}

func (o driverOpener) OpenSession(ctx context.Context) Session {
	return &sessionAdapter{sess: o.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

type sessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (Result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *sessionAdapter) ExecuteWrite(ctx context.Context, work func(tx Runner) (any, error)) (any, error) {
	return a.sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return work(txAdapter{tx: tx})
	})
}

func (a *sessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

type txAdapter struct {
	tx neo4j.ManagedTransaction
}

func (t txAdapter) Run(ctx context.Context, cypher string, params map[string]any) (Result, error) {
	return t.tx.Run(ctx, cypher, params)
}

// Neo4jRepo reads the nodes carrying one label. Nodes are ordered and looked
// up by their "id" property.
type Neo4jRepo[T any, ID comparable] struct {
	opener     Opener
	label      string
	fromRecord func(*neo4j.Record) (T, error)
}

// NewNeo4jRepo creates a reader for label. fromRecord decodes the node bound
// to "n".
func NewNeo4jRepo[T any, ID comparable](opener Opener, label string, fromRecord func(*neo4j.Record) (T, error)) *Neo4jRepo[T, ID] {
	return &Neo4jRepo[T, ID]{opener: opener, label: label, fromRecord: fromRecord}
}

var _ Reader[any, string] = (*Neo4jRepo[any, string])(nil)

// Label returns the node label the repository reads.
func (r *Neo4jRepo[T, ID]) Label() string { return r.label }

// Get returns the node whose id is id, or ErrNotFound.
func (r *Neo4jRepo[T, ID]) Get(ctx context.Context, id ID) (T, error) {
	var zero T
	sess := r.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, fmt.Sprintf("MATCH (n:%s {id: $id}) RETURN n", r.label), map[string]any{"id": id})
	if err != nil {
		return zero, fmt.Errorf("repo: get %s: %w", r.label, err)
	}
	if !res.Next(ctx) {
		if err := res.Err(); err != nil {
			return zero, fmt.Errorf("repo: get %s: %w", r.label, err)
		}
		return zero, fmt.Errorf("%w: %s %v", ErrNotFound, r.label, id)
	}
	return r.fromRecord(res.Record())
}

// List returns one page of nodes ordered by id.
func (r *Neo4jRepo[T, ID]) List(ctx context.Context, opts ListOpts) ([]T, error) {
	sess := r.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	cypher := fmt.Sprintf("MATCH (n:%s) RETURN n ORDER BY n.id SKIP $offset LIMIT $limit", r.label)
	res, err := sess.Run(ctx, cypher, map[string]any{"offset": int64(opts.Offset), "limit": int64(limit)})
	if err != nil {
		return nil, fmt.Errorf("repo: list %s: %w", r.label, err)
	}

	var items []T
	for res.Next(ctx) {
		item, err := r.fromRecord(res.Record())
		if err != nil {
			return nil, fmt.Errorf("repo: list %s: %w", r.label, err)
		}
		items = append(items, item)
	}
	return items, res.Err()
}

// Count returns the number of nodes with the label.
func (r *Neo4jRepo[T, ID]) Count(ctx context.Context) (int64, error) {
	sess := r.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, fmt.Sprintf("MATCH (n:%s) RETURN count(n) AS c", r.label), nil)
	if err != nil {
		return 0, fmt.Errorf("repo: count %s: %w", r.label, err)
	}
	if !res.Next(ctx) {
		return 0, res.Err()
	}
	c, _, err := neo4j.GetRecordValue[int64](res.Record(), "c")
	return c, err
}
