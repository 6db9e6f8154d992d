package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrSlotExhausted is returned by InsertLink when the parent's slot count is
// already at the branching cap. The graph store checks the cap first under
// its own lock; this is the cross-process backstop.
var ErrSlotExhausted = errors.New("parent slot count exhausted")

// ErrReverseLinkExists is returned by InsertLink when the same pair is
// already linked in the opposite direction, which would close a two-node
// cycle. Another cross-process backstop behind the graph store's own walk.
var ErrReverseLinkExists = errors.New("reverse link already exists")

const maxChildrenPerParent = 5

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- people ----

func (s *PostgresStore) InsertPerson(ctx context.Context, p Person) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO people (id, tracking_number, name, email, phone, discord_user_id, stage, county, region, allow_tracking, allow_leaderboard)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`, p.ID, p.TrackingNumber, p.Name, p.Email, p.Phone, p.DiscordUserID, p.Stage, p.County, p.Region, p.AllowTracking, p.AllowLeaderboard)
	if err != nil {
		return fmt.Errorf("insert person: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPerson(ctx context.Context, id string) (Person, bool, error) {
	var p Person
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tracking_number, name, email, phone, discord_user_id, stage, county, region, allow_tracking, allow_leaderboard, deactivated_at, created_at
		FROM people WHERE id=$1
	`, id).Scan(&p.ID, &p.TrackingNumber, &p.Name, &p.Email, &p.Phone, &p.DiscordUserID, &p.Stage, &p.County, &p.Region, &p.AllowTracking, &p.AllowLeaderboard, &p.DeactivatedAt, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Person{}, false, nil
	}
	if err != nil {
		return Person{}, false, fmt.Errorf("get person: %w", err)
	}
	return p, true, nil
}

func (s *PostgresStore) ListPeople(ctx context.Context) ([]Person, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tracking_number, name, email, phone, discord_user_id, stage, county, region, allow_tracking, allow_leaderboard, deactivated_at, created_at
		FROM people
		ORDER BY tracking_number
	`)
	if err != nil {
		return nil, fmt.Errorf("list people: %w", err)
	}
	defer rows.Close()

	items := make([]Person, 0)
	for rows.Next() {
		var p Person
		if err := rows.Scan(&p.ID, &p.TrackingNumber, &p.Name, &p.Email, &p.Phone, &p.DiscordUserID, &p.Stage, &p.County, &p.Region, &p.AllowTracking, &p.AllowLeaderboard, &p.DeactivatedAt, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate people: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) PersonExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM people WHERE id=$1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check person: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) DeactivatePerson(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE people SET deactivated_at=$2 WHERE id=$1 AND deactivated_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("deactivate person: %w", err)
	}
	return nil
}

// ---- links ----

func (s *PostgresStore) ParentLink(ctx context.Context, childID string) (Link, bool, error) {
	var link Link
	err := s.db.QueryRowContext(ctx, `
		SELECT id, parent_id, child_id, created_at FROM power_links WHERE child_id=$1
	`, childID).Scan(&link.ID, &link.ParentID, &link.ChildID, &link.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Link{}, false, nil
	}
	if err != nil {
		return Link{}, false, fmt.Errorf("parent link: %w", err)
	}
	return link, true, nil
}

func (s *PostgresStore) ChildLinks(ctx context.Context, parentID string) ([]Link, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_id, child_id, created_at FROM power_links WHERE parent_id=$1 ORDER BY created_at
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("child links: %w", err)
	}
	defer rows.Close()

	items := make([]Link, 0)
	for rows.Next() {
		var link Link
		if err := rows.Scan(&link.ID, &link.ParentID, &link.ChildID, &link.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		items = append(items, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}
	return items, nil
}

// InsertLink inserts one edge inside a transaction that locks both endpoints'
// people rows first, in sorted id order so concurrent transactions on the
// same pair cannot deadlock and opposite-direction inserts serialize. With
// the rows held the slot count cannot change between the check and the
// insert even across processes. The unique index on child_id is the
// single-parent backstop.
func (s *PostgresStore) InsertLink(ctx context.Context, link Link) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin link tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM people WHERE id IN ($1, $2) ORDER BY id FOR UPDATE
	`, link.ParentID, link.ChildID)
	if err != nil {
		return fmt.Errorf("lock endpoint rows: %w", err)
	}
	locked := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan endpoint row: %w", err)
		}
		locked++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("lock endpoint rows: %w", err)
	}
	if locked != 2 {
		return fmt.Errorf("lock endpoint rows: %d of 2 people found", locked)
	}

	var back string
	if err := tx.QueryRowContext(ctx, `
		SELECT id FROM power_links WHERE parent_id=$1 AND child_id=$2
	`, link.ChildID, link.ParentID).Scan(&back); err == nil {
		return ErrReverseLinkExists
	} else if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check reverse link: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM power_links WHERE parent_id=$1`, link.ParentID).Scan(&count); err != nil {
		return fmt.Errorf("count children: %w", err)
	}
	if count >= maxChildrenPerParent {
		return ErrSlotExhausted
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO power_links (id, parent_id, child_id) VALUES ($1, $2, $3)
	`, link.ID, link.ParentID, link.ChildID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateChild
		}
		return fmt.Errorf("insert link: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit link tx: %w", err)
	}
	return nil
}

// ---- invites ----

func (s *PostgresStore) InsertInvite(ctx context.Context, inv Invite) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO power_invites (id, token_hash, issuer_id, status, channel, destination, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, inv.ID, inv.TokenHash, inv.IssuerID, inv.Status, inv.Channel, inv.Destination, inv.CreatedAt, inv.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert invite: %w", err)
	}
	return nil
}

func (s *PostgresStore) InviteByTokenHash(ctx context.Context, tokenHash string) (Invite, bool, error) {
	var inv Invite
	var consumedBy sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, token_hash, issuer_id, status, channel, destination, consumed_by, created_at, expires_at, consumed_at
		FROM power_invites WHERE token_hash=$1
	`, tokenHash).Scan(&inv.ID, &inv.TokenHash, &inv.IssuerID, &inv.Status, &inv.Channel, &inv.Destination, &consumedBy, &inv.CreatedAt, &inv.ExpiresAt, &inv.ConsumedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Invite{}, false, nil
	}
	if err != nil {
		return Invite{}, false, fmt.Errorf("lookup invite: %w", err)
	}
	inv.ConsumedBy = consumedBy.String
	return inv, true, nil
}

// TransitionInvite performs the status compare-and-set as a conditional
// UPDATE: the swap happened only when a row was affected.
func (s *PostgresStore) TransitionInvite(ctx context.Context, id, from, to, consumedBy string, consumedAt *time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE power_invites SET status=$3, consumed_by=NULLIF($4, ''), consumed_at=$5
		WHERE id=$1 AND status=$2
	`, id, from, to, consumedBy, consumedAt)
	if err != nil {
		return false, fmt.Errorf("transition invite: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition invite rows: %w", err)
	}
	return affected == 1, nil
}

func (s *PostgresStore) InvitesByIssuer(ctx context.Context, issuerID string) ([]Invite, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, token_hash, issuer_id, status, channel, destination, consumed_by, created_at, expires_at, consumed_at
		FROM power_invites WHERE issuer_id=$1 ORDER BY created_at
	`, issuerID)
	if err != nil {
		return nil, fmt.Errorf("invites by issuer: %w", err)
	}
	defer rows.Close()

	items := make([]Invite, 0)
	for rows.Next() {
		var inv Invite
		var consumedBy sql.NullString
		if err := rows.Scan(&inv.ID, &inv.TokenHash, &inv.IssuerID, &inv.Status, &inv.Channel, &inv.Destination, &consumedBy, &inv.CreatedAt, &inv.ExpiresAt, &inv.ConsumedAt); err != nil {
			return nil, fmt.Errorf("scan invite: %w", err)
		}
		inv.ConsumedBy = consumedBy.String
		items = append(items, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invites: %w", err)
	}
	return items, nil
}

// ---- ledger ----

func (s *PostgresStore) RuleFor(ctx context.Context, actionType string) (ImpactRule, bool, error) {
	var rule ImpactRule
	err := s.db.QueryRowContext(ctx, `
		SELECT action_type, weight, notes, updated_at FROM impact_rules WHERE action_type=$1
	`, actionType).Scan(&rule.ActionType, &rule.Weight, &rule.Notes, &rule.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ImpactRule{}, false, nil
	}
	if err != nil {
		return ImpactRule{}, false, fmt.Errorf("rule for %s: %w", actionType, err)
	}
	return rule, true, nil
}

func (s *PostgresStore) UpsertRule(ctx context.Context, rule ImpactRule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO impact_rules (action_type, weight, notes, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (action_type) DO UPDATE SET weight=EXCLUDED.weight, notes=EXCLUDED.notes, updated_at=EXCLUDED.updated_at
	`, rule.ActionType, rule.Weight, rule.Notes, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert rule: %w", err)
	}
	return nil
}

func (s *PostgresStore) Rules(ctx context.Context) ([]ImpactRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT action_type, weight, notes, updated_at FROM impact_rules ORDER BY action_type
	`)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	items := make([]ImpactRule, 0)
	for rows.Next() {
		var rule ImpactRule
		if err := rows.Scan(&rule.ActionType, &rule.Weight, &rule.Notes, &rule.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		items = append(items, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertAction(ctx context.Context, action ImpactAction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO impact_actions (id, person_id, action_type, weight, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`, action.ID, action.PersonID, action.ActionType, action.Weight, action.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertVoterContact(ctx context.Context, contact VoterContact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO voter_contacts (id, voter_id, contacted_by, county, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`, contact.ID, contact.VoterID, contact.ContactedBy, contact.County, contact.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert voter contact: %w", err)
	}
	return nil
}

func (s *PostgresStore) ActionWeightSum(ctx context.Context, personID string) (float64, error) {
	var sum float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(weight), 0) FROM impact_actions WHERE person_id=$1
	`, personID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("action weight sum: %w", err)
	}
	return sum, nil
}

func (s *PostgresStore) VoterIDsContactedBy(ctx context.Context, personID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT voter_id FROM voter_contacts WHERE contacted_by=$1
	`, personID)
	if err != nil {
		return nil, fmt.Errorf("voters contacted by: %w", err)
	}
	defer rows.Close()

	items := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan voter id: %w", err)
		}
		items = append(items, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate voter ids: %w", err)
	}
	return items, nil
}

// ---- reach snapshots + generations ----

func (s *PostgresStore) Snapshot(ctx context.Context, personID string) (ReachSnapshot, bool, error) {
	var snap ReachSnapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT person_id, generation, downstream_people, downstream_voters, weighted_score, computed_at
		FROM reach_snapshots WHERE person_id=$1
	`, personID).Scan(&snap.PersonID, &snap.Generation, &snap.DownstreamPeople, &snap.DownstreamVoters, &snap.WeightedScore, &snap.ComputedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ReachSnapshot{}, false, nil
	}
	if err != nil {
		return ReachSnapshot{}, false, fmt.Errorf("read snapshot: %w", err)
	}
	return snap, true, nil
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap ReachSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reach_snapshots (person_id, generation, downstream_people, downstream_voters, weighted_score, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (person_id) DO UPDATE SET generation=EXCLUDED.generation, downstream_people=EXCLUDED.downstream_people,
			downstream_voters=EXCLUDED.downstream_voters, weighted_score=EXCLUDED.weighted_score, computed_at=EXCLUDED.computed_at
	`, snap.PersonID, snap.Generation, snap.DownstreamPeople, snap.DownstreamVoters, snap.WeightedScore, snap.ComputedAt)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Bump increments the person's dirty generation. The additive UPDATE keeps
// concurrent bumps from unrelated mutations from being lost.
func (s *PostgresStore) Bump(ctx context.Context, personID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reach_generations (person_id, generation) VALUES ($1, 1)
		ON CONFLICT (person_id) DO UPDATE SET generation = reach_generations.generation + 1
	`, personID)
	if err != nil {
		return fmt.Errorf("bump generation: %w", err)
	}
	return nil
}

// Current reads the person's dirty generation; people never invalidated are
// at generation zero.
func (s *PostgresStore) Current(ctx context.Context, personID string) (int64, error) {
	var gen int64
	err := s.db.QueryRowContext(ctx, `SELECT generation FROM reach_generations WHERE person_id=$1`, personID).Scan(&gen)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("current generation: %w", err)
	}
	return gen, nil
}

// ---- catalogs ----

func (s *PostgresStore) UpsertCounty(ctx context.Context, c County) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO counties (id, name, region, fips)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, region=EXCLUDED.region, fips=EXCLUDED.fips
	`, c.ID, c.Name, c.Region, c.Fips)
	if err != nil {
		return fmt.Errorf("upsert county: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCounties(ctx context.Context) ([]County, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, region, fips, created_at FROM counties ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list counties: %w", err)
	}
	defer rows.Close()

	items := make([]County, 0)
	for rows.Next() {
		var c County
		if err := rows.Scan(&c.ID, &c.Name, &c.Region, &c.Fips, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan county: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counties: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpsertTrainingModule(ctx context.Context, mod TrainingModule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO training_modules (id, title, summary, sort_order)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, summary=EXCLUDED.summary, sort_order=EXCLUDED.sort_order
	`, mod.ID, mod.Title, mod.Summary, mod.SortOrder)
	if err != nil {
		return fmt.Errorf("upsert training module: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTrainingModules(ctx context.Context) ([]TrainingModule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, summary, sort_order, created_at FROM training_modules ORDER BY sort_order`)
	if err != nil {
		return nil, fmt.Errorf("list training modules: %w", err)
	}
	defer rows.Close()

	items := make([]TrainingModule, 0)
	for rows.Next() {
		var mod TrainingModule
		if err := rows.Scan(&mod.ID, &mod.Title, &mod.Summary, &mod.SortOrder, &mod.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan training module: %w", err)
		}
		items = append(items, mod)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate training modules: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertTrainingCompletion(ctx context.Context, tc TrainingCompletion) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO training_completions (person_id, module_id, completed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (person_id, module_id) DO NOTHING
	`, tc.PersonID, tc.ModuleID, tc.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert training completion: %w", err)
	}
	return nil
}

func (s *PostgresStore) TrainingCompletions(ctx context.Context, personID string) ([]TrainingCompletion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT person_id, module_id, completed_at FROM training_completions WHERE person_id=$1 ORDER BY completed_at
	`, personID)
	if err != nil {
		return nil, fmt.Errorf("training completions: %w", err)
	}
	defer rows.Close()

	items := make([]TrainingCompletion, 0)
	for rows.Next() {
		var tc TrainingCompletion
		if err := rows.Scan(&tc.PersonID, &tc.ModuleID, &tc.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan training completion: %w", err)
		}
		items = append(items, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate training completions: %w", err)
	}
	return items, nil
}

// ---- organizer accounts ----

func (s *PostgresStore) CreateUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
	`, u.ID, u.DisplayName, u.Email, u.PasswordHash, u.Role)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, bool, error) {
	var u User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, created_at FROM users WHERE email=$1
	`, email).Scan(&u.ID, &u.DisplayName, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, fmt.Errorf("get user: %w", err)
	}
	return u, true, nil
}
