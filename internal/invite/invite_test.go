package invite

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"powerfive/api/internal/graph"
	"powerfive/api/internal/store"
)

type fixture struct {
	mem     *store.MemoryStore
	graph   *graph.Store
	manager *Manager
	clock   *fakeClock
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func mustIssue(t *testing.T, f *fixture, issuerID string) Issued {
	t.Helper()
	issued, err := f.manager.Issue(context.Background(), issuerID, "email", "")
	if err != nil {
		t.Fatalf("Issue(%s) error = %v", issuerID, err)
	}
	return issued
}

func newFixture(t *testing.T, people ...string) *fixture {
	t.Helper()
	mem := store.NewMemoryStore()
	for _, id := range people {
		if err := mem.InsertPerson(context.Background(), store.Person{ID: id, Name: "Person " + id}); err != nil {
			t.Fatalf("insert person %s: %v", id, err)
		}
	}
	g := graph.New(mem)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(mem, g, 7*24*time.Hour).WithClock(clock.Now)
	return &fixture{mem: mem, graph: g, manager: m, clock: clock}
}

func TestIssueCreatesPendingInviteWithRawTokenOnce(t *testing.T) {
	f := newFixture(t, "issuer")

	issued, err := f.manager.Issue(context.Background(), "issuer", "email", "pat@example.org")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if issued.Token == "" {
		t.Fatal("raw token missing")
	}
	if issued.Invite.TokenHash == issued.Token {
		t.Fatal("raw token must not be stored as its own hash")
	}
	if issued.Invite.Status != store.InvitePending {
		t.Fatalf("status = %q, want pending", issued.Invite.Status)
	}
	if got := issued.Invite.ExpiresAt.Sub(issued.Invite.CreatedAt); got != 7*24*time.Hour {
		t.Fatalf("ttl = %v, want 168h", got)
	}
}

func TestIssueFailsWhenAllSlotsFilled(t *testing.T) {
	people := []string{"issuer"}
	for i := 0; i < graph.MaxChildren; i++ {
		people = append(people, fmt.Sprintf("c%d", i))
	}
	f := newFixture(t, people...)
	for i := 0; i < graph.MaxChildren; i++ {
		if _, err := f.graph.CreateEdge(context.Background(), "issuer", fmt.Sprintf("c%d", i)); err != nil {
			t.Fatalf("fill slot %d: %v", i, err)
		}
	}

	_, err := f.manager.Issue(context.Background(), "issuer", "email", "")
	if !errors.Is(err, graph.ErrSlotFull) {
		t.Fatalf("Issue() with full slots: got %v, want ErrSlotFull", err)
	}
}

func TestClaimMovesPendingToClaimed(t *testing.T) {
	f := newFixture(t, "issuer")
	issued, _ := f.manager.Issue(context.Background(), "issuer", "email", "")

	inv, err := f.manager.Claim(context.Background(), issued.Token)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if inv.Status != store.InviteClaimed {
		t.Fatalf("status = %q, want claimed", inv.Status)
	}

	// Claiming an already claimed invite is a no-op, not an error.
	again, err := f.manager.Claim(context.Background(), issued.Token)
	if err != nil {
		t.Fatalf("second Claim() error = %v", err)
	}
	if again.Status != store.InviteClaimed {
		t.Fatalf("second claim status = %q, want claimed", again.Status)
	}
}

func TestConsumeCreatesEdgeAndIsIdempotentForSameConsumer(t *testing.T) {
	f := newFixture(t, "issuer", "joiner", "other")
	issued, _ := f.manager.Issue(context.Background(), "issuer", "email", "")

	link, err := f.manager.Consume(context.Background(), issued.Token, "joiner")
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if link.ParentID != "issuer" || link.ChildID != "joiner" {
		t.Fatalf("unexpected link: %+v", link)
	}

	again, err := f.manager.Consume(context.Background(), issued.Token, "joiner")
	if err != nil {
		t.Fatalf("repeat Consume() error = %v", err)
	}
	if again.ID != link.ID {
		t.Fatalf("repeat consume returned a different edge: %+v vs %+v", again, link)
	}

	if _, err := f.manager.Consume(context.Background(), issued.Token, "other"); !errors.Is(err, ErrAlreadyConsumed) {
		t.Fatalf("consume by other person: got %v, want ErrAlreadyConsumed", err)
	}
}

func TestConsumeRollsBackWhenEdgeCreationFails(t *testing.T) {
	people := []string{"issuer", "joiner"}
	for i := 0; i < graph.MaxChildren; i++ {
		people = append(people, fmt.Sprintf("c%d", i))
	}
	f := newFixture(t, people...)

	// Issue while one slot is still open, then fill it behind the invite's
	// back so consumption hits the binding check.
	for i := 0; i < graph.MaxChildren-1; i++ {
		if _, err := f.graph.CreateEdge(context.Background(), "issuer", fmt.Sprintf("c%d", i)); err != nil {
			t.Fatalf("fill slot %d: %v", i, err)
		}
	}
	issued, err := f.manager.Issue(context.Background(), "issuer", "email", "")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := f.graph.CreateEdge(context.Background(), "issuer", fmt.Sprintf("c%d", graph.MaxChildren-1)); err != nil {
		t.Fatalf("fill last slot: %v", err)
	}

	if _, err := f.manager.Consume(context.Background(), issued.Token, "joiner"); !errors.Is(err, graph.ErrSlotFull) {
		t.Fatalf("Consume() into full parent: got %v, want ErrSlotFull", err)
	}

	// The failed consume must roll the invite back so its state is still
	// pending, not stuck consumed without an edge.
	inv, err := f.manager.Claim(context.Background(), issued.Token)
	if err != nil {
		t.Fatalf("Claim() after rollback error = %v", err)
	}
	if inv.Status != store.InviteClaimed {
		t.Fatalf("post-rollback status = %q, want claimed", inv.Status)
	}
}

func TestExpiryIsAppliedLazily(t *testing.T) {
	f := newFixture(t, "issuer", "joiner")
	issued, _ := f.manager.Issue(context.Background(), "issuer", "email", "")

	f.clock.Advance(7*24*time.Hour + time.Minute)

	if _, err := f.manager.Claim(context.Background(), issued.Token); !errors.Is(err, ErrExpired) {
		t.Fatalf("Claim() after ttl: got %v, want ErrExpired", err)
	}
	if _, err := f.manager.Consume(context.Background(), issued.Token, "joiner"); !errors.Is(err, ErrExpired) {
		t.Fatalf("Consume() after ttl: got %v, want ErrExpired", err)
	}
}

func TestRevokeIsIssuerOnly(t *testing.T) {
	f := newFixture(t, "issuer", "joiner")
	issued, _ := f.manager.Issue(context.Background(), "issuer", "email", "")

	if err := f.manager.Revoke(context.Background(), issued.Token, "joiner"); !errors.Is(err, ErrNotIssuer) {
		t.Fatalf("Revoke() by stranger: got %v, want ErrNotIssuer", err)
	}
	if err := f.manager.Revoke(context.Background(), issued.Token, "issuer"); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	// Revoking twice is a no-op.
	if err := f.manager.Revoke(context.Background(), issued.Token, "issuer"); err != nil {
		t.Fatalf("second Revoke() error = %v", err)
	}

	if _, err := f.manager.Claim(context.Background(), issued.Token); !errors.Is(err, ErrRevoked) {
		t.Fatalf("Claim() after revoke: got %v, want ErrRevoked", err)
	}
	if _, err := f.manager.Consume(context.Background(), issued.Token, "joiner"); !errors.Is(err, ErrRevoked) {
		t.Fatalf("Consume() after revoke: got %v, want ErrRevoked", err)
	}
}

func TestRevokeConsumedInviteFails(t *testing.T) {
	f := newFixture(t, "issuer", "joiner")
	issued, _ := f.manager.Issue(context.Background(), "issuer", "email", "")
	if _, err := f.manager.Consume(context.Background(), issued.Token, "joiner"); err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if err := f.manager.Revoke(context.Background(), issued.Token, "issuer"); !errors.Is(err, ErrAlreadyConsumed) {
		t.Fatalf("Revoke() consumed: got %v, want ErrAlreadyConsumed", err)
	}
}

func TestUnknownTokenIsNotFound(t *testing.T) {
	f := newFixture(t, "issuer")
	if _, err := f.manager.Claim(context.Background(), "no-such-token"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Claim() unknown token: got %v, want ErrNotFound", err)
	}
}

func TestNormalizeChannel(t *testing.T) {
	cases := map[string]string{
		"email":   "email",
		"e-mail":  "email",
		"sms":     "sms",
		"text":    "sms",
		"discord": "discord",
		"dm":      "discord",
		"":        "discord",
		"carrier": "carrier",
	}
	for in, want := range cases {
		if got := normalizeChannel(in); got != want {
			t.Errorf("normalizeChannel(%q) = %q, want %q", in, got, want)
		}
	}
}

// gatedGraph delegates to a real graph store but parks CreateEdge on a
// channel, so tests can hold a consume mid-edge.
type gatedGraph struct {
	inner   *graph.Store
	entered chan struct{}
	release chan struct{}
}

func (g *gatedGraph) CreateEdge(ctx context.Context, parentID, childID string) (store.Link, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.inner.CreateEdge(ctx, parentID, childID)
}

func (g *gatedGraph) OpenSlots(ctx context.Context, personID string) (int, error) {
	return g.inner.OpenSlots(ctx, personID)
}

func (g *gatedGraph) Edge(ctx context.Context, parentID, childID string) (store.Link, bool, error) {
	return g.inner.Edge(ctx, parentID, childID)
}

func TestSameConsumerRetryWhileEdgeInFlight(t *testing.T) {
	f := newFixture(t, "issuer", "joiner")
	gated := &gatedGraph{
		inner:   f.graph,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	manager := NewManager(f.mem, gated, 7*24*time.Hour).WithClock(f.clock.Now)

	issued, err := manager.Issue(context.Background(), "issuer", "email", "")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	type result struct {
		link store.Link
		err  error
	}
	results := make(chan result, 2)

	go func() {
		link, err := manager.Consume(context.Background(), issued.Token, "joiner")
		results <- result{link, err}
	}()
	<-gated.entered // first consume has won the CAS and is inside CreateEdge

	go func() {
		link, err := manager.Consume(context.Background(), issued.Token, "joiner")
		results <- result{link, err}
	}()
	close(gated.release)

	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			t.Fatalf("consume %d: error = %v", i, r.err)
		}
		if r.link.ParentID != "issuer" || r.link.ChildID != "joiner" {
			t.Fatalf("consume %d: unexpected edge %+v", i, r.link)
		}
	}
}

func TestConcurrentConsumesExactlyOneWinner(t *testing.T) {
	const contenders = 8
	people := []string{"issuer"}
	for i := 0; i < contenders; i++ {
		people = append(people, fmt.Sprintf("p%d", i))
	}
	f := newFixture(t, people...)

	issued, err := f.manager.Issue(context.Background(), "issuer", "email", "")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.manager.Consume(context.Background(), issued.Token, fmt.Sprintf("p%d", i))
		}(i)
	}
	wg.Wait()

	wins := 0
	for i, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadyConsumed):
		default:
			t.Fatalf("consumer p%d: unexpected error %v", i, err)
		}
	}
	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1 (errs %v)", wins, errs)
	}
}

func TestConcurrentConsumesRaceForLastSlot(t *testing.T) {
	people := []string{"issuer", "late1", "late2"}
	for i := 0; i < graph.MaxChildren-1; i++ {
		people = append(people, fmt.Sprintf("c%d", i))
	}
	f := newFixture(t, people...)
	for i := 0; i < graph.MaxChildren-1; i++ {
		if _, err := f.graph.CreateEdge(context.Background(), "issuer", fmt.Sprintf("c%d", i)); err != nil {
			t.Fatalf("fill slot %d: %v", i, err)
		}
	}

	first, err := f.manager.Issue(context.Background(), "issuer", "email", "")
	if err != nil {
		t.Fatalf("Issue() first: %v", err)
	}
	second, err := f.manager.Issue(context.Background(), "issuer", "email", "")
	if err != nil {
		t.Fatalf("Issue() second: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = f.manager.Consume(context.Background(), first.Token, "late1")
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = f.manager.Consume(context.Background(), second.Token, "late2")
	}()
	wg.Wait()

	wins, slotFull := 0, 0
	for i, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, graph.ErrSlotFull):
			slotFull++
		default:
			t.Fatalf("consume %d: unexpected error %v", i, err)
		}
	}
	if wins != 1 || slotFull != 1 {
		t.Fatalf("wins = %d slotFull = %d, want 1 and 1 (errs %v)", wins, slotFull, errs)
	}

	open, err := f.graph.OpenSlots(context.Background(), "issuer")
	if err != nil {
		t.Fatalf("OpenSlots() error = %v", err)
	}
	if open != 0 {
		t.Fatalf("open slots = %d, want 0", open)
	}
}

func TestRevokeClaimedInviteFails(t *testing.T) {
	f := newFixture(t, "issuer", "joiner")
	issued := mustIssue(t, f, "issuer")
	if _, err := f.manager.Claim(context.Background(), issued.Token); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	if err := f.manager.Revoke(context.Background(), issued.Token, "issuer"); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("Revoke() claimed: got %v, want ErrAlreadyClaimed", err)
	}

	// The claim stands; consumption still goes through.
	if _, err := f.manager.Consume(context.Background(), issued.Token, "joiner"); err != nil {
		t.Fatalf("Consume() after failed revoke: %v", err)
	}
}
