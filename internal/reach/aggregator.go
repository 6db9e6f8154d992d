// Package reach computes and caches downstream impact aggregates: people
// recruited, distinct voters contacted, and the weighted action score of a
// person's subtree.
package reach

import (
	"context"
	"fmt"
	"log"
	"time"

	"powerfive/api/internal/graph"
	"powerfive/api/internal/store"
)

// Graph is the slice of the graph store the aggregator and cache need.
type Graph interface {
	ChildrenOf(ctx context.Context, personID string) ([]string, error)
	AncestorsOf(ctx context.Context, personID string) ([]string, error)
}

// LedgerReader reads per-person ledger aggregates.
type LedgerReader interface {
	ActionWeightSum(ctx context.Context, personID string) (float64, error)
	VoterIDsContactedBy(ctx context.Context, personID string) ([]string, error)
}

// Aggregator recomputes reach from current graph and ledger state. It is a
// pure reader: safe to call repeatedly and concurrently.
type Aggregator struct {
	graph  Graph
	ledger LedgerReader
	now    func() time.Time
}

func NewAggregator(g Graph, l LedgerReader) *Aggregator {
	return &Aggregator{graph: g, ledger: l, now: time.Now}
}

// Compute walks the subtree rooted at personID breadth-first, visiting each
// descendant exactly once. The visited set is a guard, not an expected path:
// revisiting a node means the forest invariant is broken and the walk aborts
// with graph.ErrIntegrity.
func (a *Aggregator) Compute(ctx context.Context, personID string) (store.ReachSnapshot, error) {
	visited := map[string]struct{}{personID: {}}
	queue := []string{personID}

	var score float64
	voters := make(map[string]struct{})
	people := 0

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		weight, err := a.ledger.ActionWeightSum(ctx, current)
		if err != nil {
			return store.ReachSnapshot{}, fmt.Errorf("weight sum for %s: %w", current, err)
		}
		score += weight

		ids, err := a.ledger.VoterIDsContactedBy(ctx, current)
		if err != nil {
			return store.ReachSnapshot{}, fmt.Errorf("voters for %s: %w", current, err)
		}
		for _, id := range ids {
			voters[id] = struct{}{}
		}

		children, err := a.graph.ChildrenOf(ctx, current)
		if err != nil {
			return store.ReachSnapshot{}, err
		}
		for _, child := range children {
			if _, dup := visited[child]; dup {
				log.Printf("reach: INTEGRITY %s reached twice in subtree of %s", child, personID)
				return store.ReachSnapshot{}, graph.ErrIntegrity
			}
			visited[child] = struct{}{}
			people++
			queue = append(queue, child)
		}
	}

	return store.ReachSnapshot{
		PersonID:         personID,
		DownstreamPeople: people,
		DownstreamVoters: len(voters),
		WeightedScore:    score,
		ComputedAt:       a.now(),
	}, nil
}
