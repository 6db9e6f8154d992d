// Package ledger is the append-only record of scored actions and voter
// contacts. Entries are never updated or deleted; a correction is a new entry
// with a negative weight.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"powerfive/api/internal/store"
	"powerfive/api/internal/util"
)

var ErrUnknownActionType = errors.New("no impact rule for action type")

// Store is the persistence surface for the ledger.
type Store interface {
	RuleFor(ctx context.Context, actionType string) (store.ImpactRule, bool, error)
	UpsertRule(ctx context.Context, rule store.ImpactRule) error
	Rules(ctx context.Context) ([]store.ImpactRule, error)
	InsertAction(ctx context.Context, action store.ImpactAction) error
	InsertVoterContact(ctx context.Context, contact store.VoterContact) error
}

// Ledger appends impact actions and voter contacts and notifies the cache.
type Ledger struct {
	store    Store
	now      func() time.Time
	onMutate func(ctx context.Context, personID string)
}

func New(st Store) *Ledger {
	return &Ledger{store: st, now: time.Now}
}

// OnMutate registers the invalidation hook fired with the acting person's id
// after every append.
func (l *Ledger) OnMutate(fn func(ctx context.Context, personID string)) {
	l.onMutate = fn
}

// WithClock swaps the time source, for tests.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// LogAction appends one action with the weight the active rule carries right
// now. Later rule edits never touch the stored weight.
func (l *Ledger) LogAction(ctx context.Context, personID, actionType string, occurredAt time.Time) (store.ImpactAction, error) {
	rule, ok, err := l.store.RuleFor(ctx, actionType)
	if err != nil {
		return store.ImpactAction{}, fmt.Errorf("rule for %s: %w", actionType, err)
	}
	if !ok {
		return store.ImpactAction{}, fmt.Errorf("%s: %w", actionType, ErrUnknownActionType)
	}
	if occurredAt.IsZero() {
		occurredAt = l.now()
	}
	action := store.ImpactAction{
		ID:         util.NewID("act"),
		PersonID:   personID,
		ActionType: actionType,
		Weight:     rule.Weight,
		OccurredAt: occurredAt,
	}
	if err := l.store.InsertAction(ctx, action); err != nil {
		return store.ImpactAction{}, fmt.Errorf("insert action: %w", err)
	}
	if l.onMutate != nil {
		l.onMutate(ctx, personID)
	}
	return action, nil
}

// LogVoterContact appends one voter contact. The same voter may be contacted
// by many people; deduplication belongs to the aggregator, not the ledger.
func (l *Ledger) LogVoterContact(ctx context.Context, personID, voterID, county string, occurredAt time.Time) (store.VoterContact, error) {
	if occurredAt.IsZero() {
		occurredAt = l.now()
	}
	contact := store.VoterContact{
		ID:          util.NewID("vct"),
		VoterID:     voterID,
		ContactedBy: personID,
		County:      county,
		OccurredAt:  occurredAt,
	}
	if err := l.store.InsertVoterContact(ctx, contact); err != nil {
		return store.VoterContact{}, fmt.Errorf("insert voter contact: %w", err)
	}
	if l.onMutate != nil {
		l.onMutate(ctx, personID)
	}
	return contact, nil
}

// PutRule sets the weight applied to future actions of actionType. Existing
// ledger rows keep the weight they were logged with.
func (l *Ledger) PutRule(ctx context.Context, actionType string, weight float64, notes string) (store.ImpactRule, error) {
	if actionType == "" {
		return store.ImpactRule{}, errors.New("action type is required")
	}
	rule := store.ImpactRule{
		ActionType: actionType,
		Weight:     weight,
		Notes:      notes,
		UpdatedAt:  l.now(),
	}
	if err := l.store.UpsertRule(ctx, rule); err != nil {
		return store.ImpactRule{}, fmt.Errorf("upsert rule %s: %w", actionType, err)
	}
	return rule, nil
}

// Rules lists the current rule table.
func (l *Ledger) Rules(ctx context.Context) ([]store.ImpactRule, error) {
	rules, err := l.store.Rules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return rules, nil
}
