// Package graph owns the referral forest. Every edge in the system is created
// here so the slot, single-parent and cycle invariants are enforced on one
// code path regardless of whether the caller is an invite consumption or a
// direct administrative link.
package graph

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"sync"

	"powerfive/api/internal/store"
	"powerfive/api/internal/util"
)

// MaxChildren is the branching cap: each person may recruit at most five
// direct downstream people.
const MaxChildren = 5

var (
	ErrSlotFull        = errors.New("parent has no open slot")
	ErrAlreadyParented = errors.New("child already has a parent")
	ErrCycle           = errors.New("link would create a cycle")
	ErrPersonNotFound  = errors.New("person not found")
	// ErrIntegrity means a structural invariant was found broken after the
	// fact. It signals a bug, not contention, and is logged loudly.
	ErrIntegrity = errors.New("referral graph integrity violation")
)

const lockStripes = 64

// LinkStore is the persistence surface the graph needs. Implementations must
// make InsertLink fail on a duplicate child id even if the caller's checks
// raced (unique index in Postgres, map check in memory).
type LinkStore interface {
	PersonExists(ctx context.Context, personID string) (bool, error)
	ParentLink(ctx context.Context, childID string) (store.Link, bool, error)
	ChildLinks(ctx context.Context, parentID string) ([]store.Link, error)
	InsertLink(ctx context.Context, link store.Link) error
}

// Store creates and reads referral edges.
type Store struct {
	links    LinkStore
	locks    [lockStripes]sync.Mutex
	onMutate func(ctx context.Context, personID string)
}

func New(links LinkStore) *Store {
	return &Store{links: links}
}

// OnMutate registers the invalidation hook fired after a successful edge
// insert, with the new edge's parent id. Wiring happens once at startup.
func (s *Store) OnMutate(fn func(ctx context.Context, personID string)) {
	s.onMutate = fn
}

func (s *Store) stripeIndex(id string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return h.Sum32() % lockStripes
}

// lockEndpoints takes the stripes covering both endpoints, lower index first.
// Holding both serializes opposite-direction calls on the same pair, so
// CreateEdge(a,b) and CreateEdge(b,a) cannot both pass their checks.
func (s *Store) lockEndpoints(parentID, childID string) func() {
	pi, ci := s.stripeIndex(parentID), s.stripeIndex(childID)
	if pi == ci {
		s.locks[pi].Lock()
		return s.locks[pi].Unlock
	}
	lo, hi := pi, ci
	if lo > hi {
		lo, hi = hi, lo
	}
	s.locks[lo].Lock()
	s.locks[hi].Lock()
	return func() {
		s.locks[hi].Unlock()
		s.locks[lo].Unlock()
	}
}

// CreateEdge links child under parent. The slot count check, the cycle walk
// and the insert run with both endpoints' stripes held so two racing callers
// cannot both observe an open slot and both fill it, nor link the same pair
// in opposite directions.
func (s *Store) CreateEdge(ctx context.Context, parentID, childID string) (store.Link, error) {
	if parentID == childID {
		return store.Link{}, ErrCycle
	}
	for _, id := range []string{parentID, childID} {
		ok, err := s.links.PersonExists(ctx, id)
		if err != nil {
			return store.Link{}, fmt.Errorf("check person %s: %w", id, err)
		}
		if !ok {
			return store.Link{}, fmt.Errorf("person %s: %w", id, ErrPersonNotFound)
		}
	}

	unlock := s.lockEndpoints(parentID, childID)
	defer unlock()

	if _, ok, err := s.links.ParentLink(ctx, childID); err != nil {
		return store.Link{}, fmt.Errorf("check parent of %s: %w", childID, err)
	} else if ok {
		return store.Link{}, ErrAlreadyParented
	}

	children, err := s.links.ChildLinks(ctx, parentID)
	if err != nil {
		return store.Link{}, fmt.Errorf("count children of %s: %w", parentID, err)
	}
	if len(children) >= MaxChildren {
		return store.Link{}, ErrSlotFull
	}

	// A new edge closes a cycle exactly when the child is already an
	// ancestor of the parent, i.e. the parent sits in the child's subtree.
	ancestors, err := s.AncestorsOf(ctx, parentID)
	if err != nil {
		return store.Link{}, err
	}
	for _, id := range ancestors {
		if id == childID {
			return store.Link{}, ErrCycle
		}
	}

	link := store.Link{
		ID:       util.NewID("lnk"),
		ParentID: parentID,
		ChildID:  childID,
	}
	if err := s.links.InsertLink(ctx, link); err != nil {
		// The store backstops can still fire when another process raced us.
		switch {
		case errors.Is(err, store.ErrDuplicateChild):
			return store.Link{}, ErrAlreadyParented
		case errors.Is(err, store.ErrSlotExhausted):
			return store.Link{}, ErrSlotFull
		case errors.Is(err, store.ErrReverseLinkExists):
			return store.Link{}, ErrCycle
		}
		return store.Link{}, fmt.Errorf("insert link %s->%s: %w", parentID, childID, err)
	}

	if s.onMutate != nil {
		s.onMutate(ctx, parentID)
	}
	return link, nil
}

// AncestorsOf returns the chain from the immediate parent up to the root.
// Revisiting an id during the walk means a cycle slipped past the creation
// guards, which is reported as ErrIntegrity.
func (s *Store) AncestorsOf(ctx context.Context, personID string) ([]string, error) {
	var chain []string
	seen := map[string]struct{}{personID: {}}
	current := personID
	for {
		link, ok, err := s.links.ParentLink(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("ancestor walk at %s: %w", current, err)
		}
		if !ok {
			return chain, nil
		}
		if _, dup := seen[link.ParentID]; dup {
			log.Printf("graph: INTEGRITY cycle at %s while walking ancestors of %s (chain %v)", link.ParentID, personID, chain)
			return nil, ErrIntegrity
		}
		seen[link.ParentID] = struct{}{}
		chain = append(chain, link.ParentID)
		current = link.ParentID
	}
}

// ChildrenOf returns the ids of the direct children of personID.
func (s *Store) ChildrenOf(ctx context.Context, personID string) ([]string, error) {
	links, err := s.links.ChildLinks(ctx, personID)
	if err != nil {
		return nil, fmt.Errorf("children of %s: %w", personID, err)
	}
	ids := make([]string, 0, len(links))
	for _, l := range links {
		ids = append(ids, l.ChildID)
	}
	return ids, nil
}

// Edge reports the link between parentID and childID, if one exists.
func (s *Store) Edge(ctx context.Context, parentID, childID string) (store.Link, bool, error) {
	link, ok, err := s.links.ParentLink(ctx, childID)
	if err != nil {
		return store.Link{}, false, fmt.Errorf("edge %s->%s: %w", parentID, childID, err)
	}
	if !ok || link.ParentID != parentID {
		return store.Link{}, false, nil
	}
	return link, true, nil
}

// OpenSlots reports how many direct recruit slots personID still has.
func (s *Store) OpenSlots(ctx context.Context, personID string) (int, error) {
	links, err := s.links.ChildLinks(ctx, personID)
	if err != nil {
		return 0, fmt.Errorf("children of %s: %w", personID, err)
	}
	open := MaxChildren - len(links)
	if open < 0 {
		log.Printf("graph: INTEGRITY %s has %d children, cap is %d", personID, len(links), MaxChildren)
		return 0, ErrIntegrity
	}
	return open, nil
}
