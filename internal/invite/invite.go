// Package invite runs the Power of 5 invite state machine: pending ->
// claimed -> consumed, with expiry and revocation as terminal side exits.
// Consumption is the only path that turns an invite into a graph edge.
package invite

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"powerfive/api/internal/auth"
	"powerfive/api/internal/graph"
	"powerfive/api/internal/store"
	"powerfive/api/internal/util"
)

var (
	ErrNotFound        = errors.New("invite not found")
	ErrAlreadyClaimed  = errors.New("invite already claimed")
	ErrAlreadyConsumed = errors.New("invite already consumed")
	ErrExpired         = errors.New("invite expired")
	ErrRevoked         = errors.New("invite revoked")
	ErrNotIssuer       = errors.New("only the issuer can revoke an invite")
)

// Store is the persistence surface for invites. Transition is a
// compare-and-set: it moves the invite from one status to another only if the
// stored status still matches, reporting whether the swap happened.
type Store interface {
	InsertInvite(ctx context.Context, inv store.Invite) error
	InviteByTokenHash(ctx context.Context, tokenHash string) (store.Invite, bool, error)
	TransitionInvite(ctx context.Context, id, from, to, consumedBy string, consumedAt *time.Time) (bool, error)
}

// Graph is the slice of the graph store the manager needs.
type Graph interface {
	CreateEdge(ctx context.Context, parentID, childID string) (store.Link, error)
	OpenSlots(ctx context.Context, personID string) (int, error)
	Edge(ctx context.Context, parentID, childID string) (store.Link, bool, error)
}

const tokenStripes = 64

// Manager owns invite state transitions and delegates edge creation to the
// graph store. Consumes of the same token are serialized in-process by a
// striped per-token lock so a retry never observes the winner mid-edge.
type Manager struct {
	store Store
	graph Graph
	ttl   time.Duration
	now   func() time.Time
	locks [tokenStripes]sync.Mutex
}

func NewManager(st Store, g Graph, ttl time.Duration) *Manager {
	return &Manager{store: st, graph: g, ttl: ttl, now: time.Now}
}

// WithClock swaps the time source, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Issued is returned from Issue. Token is the raw invite token, available
// exactly once; only its hash is stored.
type Issued struct {
	Invite store.Invite
	Token  string
}

// Issue creates a pending invite for issuerID. The open-slot check here is
// advisory (slots can fill between issuance and consumption); the binding
// check happens again inside CreateEdge at consumption.
func (m *Manager) Issue(ctx context.Context, issuerID, channel, destination string) (Issued, error) {
	open, err := m.graph.OpenSlots(ctx, issuerID)
	if err != nil {
		return Issued{}, err
	}
	if open == 0 {
		return Issued{}, graph.ErrSlotFull
	}

	token, err := util.NewToken()
	if err != nil {
		return Issued{}, fmt.Errorf("generate invite token: %w", err)
	}
	now := m.now()
	inv := store.Invite{
		ID:          util.NewID("inv"),
		TokenHash:   auth.HashToken(token),
		IssuerID:    issuerID,
		Status:      store.InvitePending,
		Channel:     normalizeChannel(channel),
		Destination: destination,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.ttl),
	}
	if err := m.store.InsertInvite(ctx, inv); err != nil {
		return Issued{}, fmt.Errorf("insert invite: %w", err)
	}
	return Issued{Invite: inv, Token: token}, nil
}

// Claim reserves intent on a pending invite. It does not touch the graph.
func (m *Manager) Claim(ctx context.Context, token string) (store.Invite, error) {
	inv, err := m.lookup(ctx, token)
	if err != nil {
		return store.Invite{}, err
	}
	switch inv.Status {
	case store.InviteConsumed:
		return store.Invite{}, ErrAlreadyConsumed
	case store.InviteRevoked:
		return store.Invite{}, ErrRevoked
	case store.InviteExpired:
		return store.Invite{}, ErrExpired
	case store.InviteClaimed:
		return inv, nil
	}
	ok, err := m.store.TransitionInvite(ctx, inv.ID, store.InvitePending, store.InviteClaimed, "", nil)
	if err != nil {
		return store.Invite{}, fmt.Errorf("claim invite %s: %w", inv.ID, err)
	}
	if !ok {
		// Lost the race; report whatever state won.
		return m.Claim(ctx, token)
	}
	inv.Status = store.InviteClaimed
	return inv, nil
}

func (m *Manager) tokenLock(tokenHash string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tokenHash))
	return &m.locks[h.Sum32()%tokenStripes]
}

// Consume turns the invite into an edge issuer -> personID. Exactly one
// concurrent call per token can win the status compare-and-set; if edge
// creation then fails, the invite is rolled back to its prior status and the
// graph error is surfaced as-is. Re-consuming with the original consumer is
// idempotent and returns the existing edge.
func (m *Manager) Consume(ctx context.Context, token, personID string) (store.Link, error) {
	mu := m.tokenLock(auth.HashToken(token))
	mu.Lock()
	defer mu.Unlock()

	for {
		link, retry, err := m.consumeOnce(ctx, token, personID)
		if !retry {
			return link, err
		}
	}
}

func (m *Manager) consumeOnce(ctx context.Context, token, personID string) (store.Link, bool, error) {
	inv, err := m.lookup(ctx, token)
	if err != nil {
		return store.Link{}, false, err
	}
	switch inv.Status {
	case store.InviteConsumed:
		return m.consumedResult(ctx, inv, personID)
	case store.InviteRevoked:
		return store.Link{}, false, ErrRevoked
	case store.InviteExpired:
		return store.Link{}, false, ErrExpired
	}

	prior := inv.Status
	now := m.now()
	ok, err := m.store.TransitionInvite(ctx, inv.ID, prior, store.InviteConsumed, personID, &now)
	if err != nil {
		return store.Link{}, false, fmt.Errorf("consume invite %s: %w", inv.ID, err)
	}
	if !ok {
		// Another consume (or a claim) moved the invite first. Re-read and
		// settle: the original consumer still gets an idempotent answer.
		fresh, found, err := m.store.InviteByTokenHash(ctx, inv.TokenHash)
		if err != nil {
			return store.Link{}, false, fmt.Errorf("reread invite %s: %w", inv.ID, err)
		}
		if !found {
			return store.Link{}, false, ErrNotFound
		}
		if fresh.Status == store.InviteConsumed {
			return m.consumedResult(ctx, fresh, personID)
		}
		return store.Link{}, true, nil
	}

	link, err := m.graph.CreateEdge(ctx, inv.IssuerID, personID)
	if err != nil {
		// Undo the status transition so the invite can be retried or expire.
		if _, rbErr := m.store.TransitionInvite(ctx, inv.ID, store.InviteConsumed, prior, "", nil); rbErr != nil {
			return store.Link{}, false, fmt.Errorf("rollback invite %s after %v: %w", inv.ID, err, rbErr)
		}
		return store.Link{}, false, err
	}
	return link, false, nil
}

// Revoke moves a pending invite to revoked. Issuer-initiated only; a claimed
// invite is past the point of withdrawal because someone is acting on it.
func (m *Manager) Revoke(ctx context.Context, token, issuerID string) error {
	inv, err := m.lookup(ctx, token)
	if err != nil {
		return err
	}
	if inv.IssuerID != issuerID {
		return ErrNotIssuer
	}
	switch inv.Status {
	case store.InviteClaimed:
		return ErrAlreadyClaimed
	case store.InviteConsumed:
		return ErrAlreadyConsumed
	case store.InviteExpired:
		return ErrExpired
	case store.InviteRevoked:
		return nil
	}
	ok, err := m.store.TransitionInvite(ctx, inv.ID, inv.Status, store.InviteRevoked, "", nil)
	if err != nil {
		return fmt.Errorf("revoke invite %s: %w", inv.ID, err)
	}
	if !ok {
		return m.Revoke(ctx, token, issuerID)
	}
	return nil
}

// lookup resolves a raw token and applies lazy expiry: a pending or claimed
// invite past its horizon is flipped to expired on first touch.
func (m *Manager) lookup(ctx context.Context, token string) (store.Invite, error) {
	inv, found, err := m.store.InviteByTokenHash(ctx, auth.HashToken(token))
	if err != nil {
		return store.Invite{}, fmt.Errorf("lookup invite: %w", err)
	}
	if !found {
		return store.Invite{}, ErrNotFound
	}
	if (inv.Status == store.InvitePending || inv.Status == store.InviteClaimed) && m.now().After(inv.ExpiresAt) {
		if _, err := m.store.TransitionInvite(ctx, inv.ID, inv.Status, store.InviteExpired, "", nil); err != nil {
			return store.Invite{}, fmt.Errorf("expire invite %s: %w", inv.ID, err)
		}
		inv.Status = store.InviteExpired
	}
	return inv, nil
}

const (
	edgeSettleAttempts = 8
	edgeSettleWait     = 25 * time.Millisecond
)

// consumedResult settles a consume that found the invite already consumed.
// The winner inserts the edge after its status CAS, so another process can
// observe the consumed status before the edge lands; a missing edge gets a
// short settle window before the state is judged. The in-process case never
// waits here because Consume serializes per token.
func (m *Manager) consumedResult(ctx context.Context, inv store.Invite, personID string) (store.Link, bool, error) {
	if inv.ConsumedBy != personID {
		return store.Link{}, false, ErrAlreadyConsumed
	}
	for attempt := 0; ; attempt++ {
		link, found, err := m.graph.Edge(ctx, inv.IssuerID, personID)
		if err != nil {
			return store.Link{}, false, err
		}
		if found {
			return link, false, nil
		}
		if attempt >= edgeSettleAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return store.Link{}, false, ctx.Err()
		case <-time.After(edgeSettleWait):
		}
	}

	// Still no edge. If the winner rolled back in the meantime the token is
	// up for grabs again; a consumed invite with no edge past the settle
	// window is genuine corruption.
	fresh, found, err := m.store.InviteByTokenHash(ctx, inv.TokenHash)
	if err != nil {
		return store.Link{}, false, fmt.Errorf("reread invite %s: %w", inv.ID, err)
	}
	if !found {
		return store.Link{}, false, ErrNotFound
	}
	if fresh.Status != store.InviteConsumed {
		return store.Link{}, true, nil
	}
	return store.Link{}, false, graph.ErrIntegrity
}

func normalizeChannel(raw string) string {
	switch raw {
	case "email", "e-mail":
		return "email"
	case "sms", "text":
		return "sms"
	case "discord", "dm", "":
		return "discord"
	}
	return raw
}
