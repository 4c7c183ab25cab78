// Package repo reads typed nodes out of Neo4j. Queries go through a narrow
// session abstraction so callers can be tested against fakes.
package repo

import "context"

// DefaultListLimit bounds List when ListOpts.Limit is zero.
const DefaultListLimit = 100

// Reader looks up entities of one kind by ID and pages through them.
type Reader[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	Count(ctx context.Context) (int64, error)
}

// ListOpts pages a List call.
type ListOpts struct {
	Offset int
	Limit  int
}
