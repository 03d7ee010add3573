// Package dependency computes the transitive closure of dependents for a
// set of changed TypedIds: ways referencing changed nodes, relations
// referencing changed ways or other relations. It is a pure function over
// ElementLog's parents_of index, bounded by a configured nesting depth and
// protected against relation membership cycles by a visited set.
package dependency

import (
	"context"
	"sort"

	"osmcore.dev/elementlog"
	"osmcore.dev/idcodec"
	"osmcore.dev/store"
)

// Resolver computes dependents against a snapshot or transaction exposing
// ElementLog's parents_of lookups.
type Resolver struct {
	maxDepth int
}

// New builds a Resolver bounded by maxDepth.
func New(maxDepth int) *Resolver {
	return &Resolver{maxDepth: maxDepth}
}

// Dependents computes, for every typed_id in seed, the set of ways and
// relations that transitively depend on it, along with the minimal depth at
// which each is reached. Depth 1 is a direct parent of a seed id; depth 2 a
// parent of a depth-1 entry, and so on, bounded by maxDepth (or the
// Resolver's configured default if maxDepth <= 0).
func (r *Resolver) Dependents(ctx context.Context, txn store.Txn, seed []idcodec.TypedId, maxDepth int) (map[idcodec.TypedId]int, error) {
	if maxDepth <= 0 {
		maxDepth = r.maxDepth
	}

	depth := make(map[idcodec.TypedId]int)
	visited := make(map[idcodec.TypedId]bool, len(seed))
	for _, id := range seed {
		visited[id] = true
	}

	frontier := append([]idcodec.TypedId(nil), seed...)
	for d := 1; d <= maxDepth && len(frontier) > 0; d++ {
		var next []idcodec.TypedId
		for _, id := range frontier {
			parents, err := elementlog.ParentsOf(ctx, txn, id)
			if err != nil {
				return nil, err
			}
			for _, p := range parents {
				if visited[p] {
					continue // already reached at an equal-or-lower depth, or a cycle
				}
				visited[p] = true
				depth[p] = d
				next = append(next, p)
			}
		}
		frontier = next
	}
	return depth, nil
}

// Ordered returns the keys of depth sorted by (depth ascending, TypedId
// ascending), the order dependents must be rebuilt in.
func Ordered(depth map[idcodec.TypedId]int) []idcodec.TypedId {
	out := make([]idcodec.TypedId, 0, len(depth))
	for id := range depth {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := depth[out[i]], depth[out[j]]
		if di != dj {
			return di < dj
		}
		return out[i] < out[j]
	})
	return out
}
