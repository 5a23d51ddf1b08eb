package ports

import (
	"context"

	"github.com/stackctl/stackctl/internal/domain/graph"
)

// PersistentGraphStore loads/saves the prior graph from object storage and
// diffs it against the current graph to derive implicit destructions
// (spec §3 "Persistent graph object", §4.4 step 6).
type PersistentGraphStore interface {
	Load(ctx context.Context, key string) (*graph.Graph, error)
	Save(ctx context.Context, key string, g *graph.Graph, lockToken string) error
}

// Lock is the persistent-graph lock capability (spec §9 "Persistent graph
// lock"): acquire/release/renew with a TTL, re-architected from the
// source's bespoke implementation into a well-defined capability.
type Lock interface {
	Acquire(ctx context.Context, key string, ttl int64) (token string, err error)
	Release(ctx context.Context, key, token string) error
	Renew(ctx context.Context, key, token string, ttl int64) error
}
