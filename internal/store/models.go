package store

import "time"

// Person is an identity node in the referral forest. People are created on
// first contact (invite consumption, registration, or admin insert) and are
// deactivated, never deleted.
type Person struct {
	ID               string
	TrackingNumber   string
	Name             string
	Email            string
	Phone            string
	DiscordUserID    string
	Stage            string
	County           string
	Region           string
	AllowTracking    bool
	AllowLeaderboard bool
	DeactivatedAt    *time.Time
	CreatedAt        time.Time
}

// Link is a recruitment edge parent -> child. A child appears in at most one
// link and a parent in at most five. Links are immutable once created.
type Link struct {
	ID        string
	ParentID  string
	ChildID   string
	CreatedAt time.Time
}

// Invite statuses. Consumed, expired and revoked are terminal.
const (
	InvitePending  = "pending"
	InviteClaimed  = "claimed"
	InviteConsumed = "consumed"
	InviteExpired  = "expired"
	InviteRevoked  = "revoked"
)

// Invite is a one-shot onboarding stub. Only the sha256 hash of the token is
// stored; the raw token is returned once at issuance.
type Invite struct {
	ID          string
	TokenHash   string
	IssuerID    string
	Status      string
	Channel     string
	Destination string
	ConsumedBy  string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	ConsumedAt  *time.Time
}

// ImpactAction is one ledger row. Weight is frozen at log time so later rule
// changes never rewrite history.
type ImpactAction struct {
	ID         string
	PersonID   string
	ActionType string
	Weight     float64
	OccurredAt time.Time
	CreatedAt  time.Time
}

// ImpactRule maps an action type to the weight applied to new actions.
type ImpactRule struct {
	ActionType string
	Weight     float64
	Notes      string
	UpdatedAt  time.Time
}

// VoterContact attributes a voter to the person who contacted them. The same
// voter may be contacted by many people; reach counts each voter once per
// subtree.
type VoterContact struct {
	ID          string
	VoterID     string
	ContactedBy string
	County      string
	OccurredAt  time.Time
	CreatedAt   time.Time
}

// ReachSnapshot is a cached aggregate for one person, tagged with the dirty
// generation that was current when it was computed.
type ReachSnapshot struct {
	PersonID         string
	Generation       int64
	DownstreamPeople int
	DownstreamVoters int
	WeightedScore    float64
	ComputedAt       time.Time
}

// County is catalog data for geographic placement.
type County struct {
	ID        string
	Name      string
	Region    string
	Fips      string
	CreatedAt time.Time
}

// TrainingModule is catalog data for the onboarding curriculum.
type TrainingModule struct {
	ID        string
	Title     string
	Summary   string
	SortOrder int
	CreatedAt time.Time
}

// TrainingCompletion records that a person finished a module.
type TrainingCompletion struct {
	PersonID    string
	ModuleID    string
	CompletedAt time.Time
}

// User is an organizer account for the admin surface.
type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}
