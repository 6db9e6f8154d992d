package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrDuplicateChild is returned by InsertLink when the child already has a
// parent edge, matching the unique index the Postgres schema enforces.
var ErrDuplicateChild = errors.New("child already linked")

// MemoryStore is an in-process implementation of the persistence surface.
// It backs the engine tests and DB-less runs, and mirrors the atomicity the
// Postgres store gets from row locks and conditional updates: every
// read-modify-write here happens under one mutex.
type MemoryStore struct {
	mu          sync.RWMutex
	people      map[string]Person
	linksByID   map[string]Link
	parentOf    map[string]Link   // childID -> link
	childrenOf  map[string][]Link // parentID -> links, insertion order
	invites     map[string]Invite // id -> invite
	inviteByKey map[string]string // token hash -> id
	actions     []ImpactAction
	contacts    []VoterContact
	rules       map[string]ImpactRule
	counties    map[string]County
	modules     map[string]TrainingModule
	completions []TrainingCompletion
	users       map[string]User // keyed by email
	snapshots   map[string]ReachSnapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		people:      make(map[string]Person),
		linksByID:   make(map[string]Link),
		parentOf:    make(map[string]Link),
		childrenOf:  make(map[string][]Link),
		invites:     make(map[string]Invite),
		inviteByKey: make(map[string]string),
		rules:       make(map[string]ImpactRule),
		counties:    make(map[string]County),
		modules:     make(map[string]TrainingModule),
		users:       make(map[string]User),
		snapshots:   make(map[string]ReachSnapshot),
	}
}

// ---- people ----

func (m *MemoryStore) InsertPerson(_ context.Context, p Person) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	m.people[p.ID] = p
	return nil
}

func (m *MemoryStore) GetPerson(_ context.Context, id string) (Person, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.people[id]
	return p, ok, nil
}

func (m *MemoryStore) ListPeople(_ context.Context) ([]Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Person, 0, len(m.people))
	for _, p := range m.people {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrackingNumber < out[j].TrackingNumber })
	return out, nil
}

func (m *MemoryStore) PersonExists(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.people[id]
	return ok, nil
}

func (m *MemoryStore) DeactivatePerson(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.people[id]
	if !ok {
		return nil
	}
	p.DeactivatedAt = &at
	m.people[id] = p
	return nil
}

// ---- links ----

func (m *MemoryStore) ParentLink(_ context.Context, childID string) (Link, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	link, ok := m.parentOf[childID]
	return link, ok, nil
}

func (m *MemoryStore) ChildLinks(_ context.Context, parentID string) ([]Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	links := m.childrenOf[parentID]
	out := make([]Link, len(links))
	copy(out, links)
	return out, nil
}

func (m *MemoryStore) InsertLink(_ context.Context, link Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.parentOf[link.ChildID]; taken {
		return ErrDuplicateChild
	}
	if back, ok := m.parentOf[link.ParentID]; ok && back.ParentID == link.ChildID {
		return ErrReverseLinkExists
	}
	if len(m.childrenOf[link.ParentID]) >= maxChildrenPerParent {
		return ErrSlotExhausted
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now()
	}
	m.linksByID[link.ID] = link
	m.parentOf[link.ChildID] = link
	m.childrenOf[link.ParentID] = append(m.childrenOf[link.ParentID], link)
	return nil
}

// ---- invites ----

func (m *MemoryStore) InsertInvite(_ context.Context, inv Invite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invites[inv.ID] = inv
	m.inviteByKey[inv.TokenHash] = inv.ID
	return nil
}

func (m *MemoryStore) InviteByTokenHash(_ context.Context, tokenHash string) (Invite, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.inviteByKey[tokenHash]
	if !ok {
		return Invite{}, false, nil
	}
	return m.invites[id], true, nil
}

// TransitionInvite is the compare-and-set primitive invite consumption relies
// on: the status swap only happens when the stored status still equals from.
func (m *MemoryStore) TransitionInvite(_ context.Context, id, from, to, consumedBy string, consumedAt *time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invites[id]
	if !ok || inv.Status != from {
		return false, nil
	}
	inv.Status = to
	inv.ConsumedBy = consumedBy
	inv.ConsumedAt = consumedAt
	m.invites[id] = inv
	return true, nil
}

func (m *MemoryStore) InvitesByIssuer(_ context.Context, issuerID string) ([]Invite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Invite
	for _, inv := range m.invites {
		if inv.IssuerID == issuerID {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---- ledger ----

func (m *MemoryStore) RuleFor(_ context.Context, actionType string) (ImpactRule, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rule, ok := m.rules[actionType]
	return rule, ok, nil
}

func (m *MemoryStore) UpsertRule(_ context.Context, rule ImpactRule) error {
	m.mu.Lock()
	m.rules[rule.ActionType] = rule
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Rules(_ context.Context) ([]ImpactRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ImpactRule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActionType < out[j].ActionType })
	return out, nil
}

func (m *MemoryStore) InsertAction(_ context.Context, action ImpactAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now()
	}
	m.actions = append(m.actions, action)
	return nil
}

func (m *MemoryStore) InsertVoterContact(_ context.Context, contact VoterContact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = time.Now()
	}
	m.contacts = append(m.contacts, contact)
	return nil
}

func (m *MemoryStore) ActionWeightSum(_ context.Context, personID string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sum float64
	for _, a := range m.actions {
		if a.PersonID == personID {
			sum += a.Weight
		}
	}
	return sum, nil
}

func (m *MemoryStore) VoterIDsContactedBy(_ context.Context, personID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, c := range m.contacts {
		if c.ContactedBy != personID {
			continue
		}
		if _, dup := seen[c.VoterID]; dup {
			continue
		}
		seen[c.VoterID] = struct{}{}
		out = append(out, c.VoterID)
	}
	return out, nil
}

// ---- reach snapshots ----

func (m *MemoryStore) Snapshot(_ context.Context, personID string) (ReachSnapshot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snapshots[personID]
	return snap, ok, nil
}

func (m *MemoryStore) SaveSnapshot(_ context.Context, snap ReachSnapshot) error {
	m.mu.Lock()
	m.snapshots[snap.PersonID] = snap
	m.mu.Unlock()
	return nil
}

// ---- catalogs ----

func (m *MemoryStore) UpsertCounty(_ context.Context, c County) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	m.counties[c.ID] = c
	return nil
}

func (m *MemoryStore) ListCounties(_ context.Context) ([]County, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]County, 0, len(m.counties))
	for _, c := range m.counties {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) UpsertTrainingModule(_ context.Context, mod TrainingModule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mod.CreatedAt.IsZero() {
		mod.CreatedAt = time.Now()
	}
	m.modules[mod.ID] = mod
	return nil
}

func (m *MemoryStore) ListTrainingModules(_ context.Context) ([]TrainingModule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TrainingModule, 0, len(m.modules))
	for _, mod := range m.modules {
		out = append(out, mod)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out, nil
}

func (m *MemoryStore) InsertTrainingCompletion(_ context.Context, tc TrainingCompletion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.completions {
		if existing.PersonID == tc.PersonID && existing.ModuleID == tc.ModuleID {
			return nil
		}
	}
	m.completions = append(m.completions, tc)
	return nil
}

func (m *MemoryStore) TrainingCompletions(_ context.Context, personID string) ([]TrainingCompletion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []TrainingCompletion
	for _, tc := range m.completions {
		if tc.PersonID == personID {
			out = append(out, tc)
		}
	}
	return out, nil
}

// ---- organizer accounts ----

func (m *MemoryStore) CreateUser(_ context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	m.users[u.Email] = u
	return nil
}

func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[email]
	return u, ok, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
