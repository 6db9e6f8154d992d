package reach

import (
	"context"
	"fmt"
	"sync"

	"powerfive/api/internal/store"
)

// Generations tracks the per-person dirty generation. Bump must be an
// additive atomic increment: concurrent bumps from unrelated mutations may
// never be lost, so last-writer-wins storage is not an implementation option.
type Generations interface {
	Bump(ctx context.Context, personID string) error
	Current(ctx context.Context, personID string) (int64, error)
}

// Snapshots stores computed reach values.
type Snapshots interface {
	Snapshot(ctx context.Context, personID string) (store.ReachSnapshot, bool, error)
	SaveSnapshot(ctx context.Context, snap store.ReachSnapshot) error
}

// Cache serves reach reads. Recomputation is lazy: mutation only bumps
// generations (O(depth)), and the first read after a mutation pays for the
// recompute.
type Cache struct {
	gens  Generations
	snaps Snapshots
	agg   *Aggregator
	graph Graph
}

func NewCache(gens Generations, snaps Snapshots, agg *Aggregator, g Graph) *Cache {
	return &Cache{gens: gens, snaps: snaps, agg: agg, graph: g}
}

// Get returns a snapshot whose generation matches the person's current dirty
// generation, recomputing when the cached one is stale or missing. The
// generation tag is read before the aggregator runs, so a snapshot can look
// staler than it is (harmless, it recomputes next read) but never fresher.
func (c *Cache) Get(ctx context.Context, personID string) (store.ReachSnapshot, error) {
	gen, err := c.gens.Current(ctx, personID)
	if err != nil {
		return store.ReachSnapshot{}, fmt.Errorf("read generation for %s: %w", personID, err)
	}
	snap, ok, err := c.snaps.Snapshot(ctx, personID)
	if err != nil {
		return store.ReachSnapshot{}, fmt.Errorf("read snapshot for %s: %w", personID, err)
	}
	if ok && snap.Generation == gen {
		return snap, nil
	}

	computed, err := c.agg.Compute(ctx, personID)
	if err != nil {
		return store.ReachSnapshot{}, err
	}
	computed.Generation = gen
	if err := c.snaps.SaveSnapshot(ctx, computed); err != nil {
		return store.ReachSnapshot{}, fmt.Errorf("save snapshot for %s: %w", personID, err)
	}
	return computed, nil
}

// Invalidate bumps the dirty generation of personID and every ancestor. Cost
// is proportional to tree depth, never to subtree size.
func (c *Cache) Invalidate(ctx context.Context, personID string) error {
	ancestors, err := c.graph.AncestorsOf(ctx, personID)
	if err != nil {
		return err
	}
	for _, id := range append([]string{personID}, ancestors...) {
		if err := c.gens.Bump(ctx, id); err != nil {
			return fmt.Errorf("bump generation for %s: %w", id, err)
		}
	}
	return nil
}

// MemoryGenerations keeps dirty generations in-process.
type MemoryGenerations struct {
	mu   sync.Mutex
	gens map[string]int64
}

func NewMemoryGenerations() *MemoryGenerations {
	return &MemoryGenerations{gens: make(map[string]int64)}
}

func (m *MemoryGenerations) Bump(_ context.Context, personID string) error {
	m.mu.Lock()
	m.gens[personID]++
	m.mu.Unlock()
	return nil
}

func (m *MemoryGenerations) Current(_ context.Context, personID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gens[personID], nil
}

// MemorySnapshots keeps computed snapshots in-process.
type MemorySnapshots struct {
	mu    sync.RWMutex
	snaps map[string]store.ReachSnapshot
}

func NewMemorySnapshots() *MemorySnapshots {
	return &MemorySnapshots{snaps: make(map[string]store.ReachSnapshot)}
}

func (m *MemorySnapshots) Snapshot(_ context.Context, personID string) (store.ReachSnapshot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snaps[personID]
	return snap, ok, nil
}

func (m *MemorySnapshots) SaveSnapshot(_ context.Context, snap store.ReachSnapshot) error {
	m.mu.Lock()
	m.snaps[snap.PersonID] = snap
	m.mu.Unlock()
	return nil
}
