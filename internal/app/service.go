package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"powerfive/api/internal/auth"
	"powerfive/api/internal/authpw"
	"powerfive/api/internal/config"
	"powerfive/api/internal/email"
	"powerfive/api/internal/export"
	"powerfive/api/internal/graph"
	"powerfive/api/internal/invite"
	"powerfive/api/internal/ledger"
	"powerfive/api/internal/rbac"
	"powerfive/api/internal/search"
	"powerfive/api/internal/store"
	"powerfive/api/internal/util"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	Role      string
	ExpiresAt time.Time
}

type PersonInput struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	DiscordUserID string `json:"discordUserId"`
	County        string `json:"county"`
	Region        string `json:"region"`
}

type InviteIssued struct {
	InviteID  string    `json:"inviteId"`
	Token     string    `json:"token"`
	Channel   string    `json:"channel"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type EdgeCreated struct {
	LinkID    string    `json:"linkId"`
	ParentID  string    `json:"parentId"`
	ChildID   string    `json:"childId"`
	CreatedAt time.Time `json:"createdAt"`
}

type Reach struct {
	PersonID              string    `json:"personId"`
	DownstreamPeopleCount int       `json:"downstreamPeopleCount"`
	DownstreamVoterCount  int       `json:"downstreamVoterCount"`
	WeightedScore         float64   `json:"weightedScore"`
	ComputedAt            time.Time `json:"computedAt"`
}

type LeaderboardEntry struct {
	PersonID         string  `json:"personId"`
	Name             string  `json:"name"`
	TrackingNumber   string  `json:"trackingNumber"`
	WeightedScore    float64 `json:"weightedScore"`
	DownstreamPeople int     `json:"downstreamPeople"`
}

// dataStore is the slice of the persistence layer the service touches
// directly; the engine packages carry their own narrower interfaces.
type dataStore interface {
	InsertPerson(ctx context.Context, p store.Person) error
	GetPerson(ctx context.Context, id string) (store.Person, bool, error)
	ListPeople(ctx context.Context) ([]store.Person, error)
	DeactivatePerson(ctx context.Context, id string, at time.Time) error
	InvitesByIssuer(ctx context.Context, issuerID string) ([]store.Invite, error)
	UpsertCounty(ctx context.Context, c store.County) error
	ListCounties(ctx context.Context) ([]store.County, error)
	UpsertTrainingModule(ctx context.Context, mod store.TrainingModule) error
	ListTrainingModules(ctx context.Context) ([]store.TrainingModule, error)
	InsertTrainingCompletion(ctx context.Context, tc store.TrainingCompletion) error
	TrainingCompletions(ctx context.Context, personID string) ([]store.TrainingCompletion, error)
	Ping(ctx context.Context) error
}

type inviteManager interface {
	Issue(ctx context.Context, issuerID, channel, destination string) (invite.Issued, error)
	Claim(ctx context.Context, token string) (store.Invite, error)
	Consume(ctx context.Context, token, personID string) (store.Link, error)
	Revoke(ctx context.Context, token, issuerID string) error
}

type graphStore interface {
	CreateEdge(ctx context.Context, parentID, childID string) (store.Link, error)
	AncestorsOf(ctx context.Context, personID string) ([]string, error)
	ChildrenOf(ctx context.Context, personID string) ([]string, error)
	OpenSlots(ctx context.Context, personID string) (int, error)
}

type impactLedger interface {
	LogAction(ctx context.Context, personID, actionType string, occurredAt time.Time) (store.ImpactAction, error)
	LogVoterContact(ctx context.Context, personID, voterID, county string, occurredAt time.Time) (store.VoterContact, error)
	PutRule(ctx context.Context, actionType string, weight float64, notes string) (store.ImpactRule, error)
	Rules(ctx context.Context) ([]store.ImpactRule, error)
}

type reachCache interface {
	Get(ctx context.Context, personID string) (store.ReachSnapshot, error)
	Invalidate(ctx context.Context, personID string) error
}

// Service is the facade the transport layer talks to. It wires the invite
// manager, graph store, ledger and reach cache together and translates
// engine sentinel errors into DomainErrors.
type Service struct {
	cfg      config.Config
	store    dataStore
	invites  inviteManager
	graph    graphStore
	ledger   impactLedger
	reach    reachCache
	accounts *authpw.Service
	searcher *search.Service
	exporter *export.Service
	mailer   *email.Service
}

func New(cfg config.Config, st dataStore, invites inviteManager, g graphStore, l impactLedger, r reachCache, accounts *authpw.Service, searcher *search.Service) *Service {
	s := &Service{
		cfg:      cfg,
		store:    st,
		invites:  invites,
		graph:    g,
		ledger:   l,
		reach:    r,
		accounts: accounts,
		searcher: searcher,
	}
	s.exporter = export.NewService(exportSource{s})
	return s
}

// WithMailer enables invite mail delivery.
func (s *Service) WithMailer(m *email.Service) *Service {
	s.mailer = m
	return s
}

// exportSource adapts the service for the report exporter.
type exportSource struct {
	s *Service
}

func (e exportSource) GetPerson(ctx context.Context, id string) (store.Person, error) {
	return e.s.GetPerson(ctx, id)
}

func (e exportSource) ChildrenOf(ctx context.Context, id string) ([]string, error) {
	return e.s.graph.ChildrenOf(ctx, id)
}

func (e exportSource) Reach(ctx context.Context, id string) (store.ReachSnapshot, error) {
	return e.s.reach.Get(ctx, id)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ---- organizer sessions ----

func (s *Service) SignUp(ctx context.Context, email, password, displayName, role string) (Session, error) {
	user, err := s.accounts.SignUp(ctx, authpw.SignUpRequest{
		Email:       email,
		Password:    password,
		DisplayName: displayName,
		Role:        role,
	})
	if err != nil {
		if errors.Is(err, authpw.ErrEmailTaken) {
			return Session{}, domainError(http.StatusConflict, "EMAIL_TAKEN", "email already registered", nil)
		}
		return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	return s.sessionFor(user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.accounts.SignIn(ctx, email, password)
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidCredentials) {
			return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password", nil)
		}
		return Session{}, err
	}
	return s.sessionFor(user)
}

func (s *Service) sessionFor(user store.User) (Session, error) {
	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_TOKEN", "invalid or expired token", nil)
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Role:      claims.Role,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// ---- people ----

func (s *Service) CreatePerson(ctx context.Context, input PersonInput) (store.Person, error) {
	if strings.TrimSpace(input.Name) == "" {
		return store.Person{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	person := store.Person{
		ID:               util.NewID("psn"),
		TrackingNumber:   util.NewTrackingNumber(),
		Name:             strings.TrimSpace(input.Name),
		Email:            input.Email,
		Phone:            input.Phone,
		DiscordUserID:    input.DiscordUserID,
		Stage:            "observer",
		County:           input.County,
		Region:           input.Region,
		AllowTracking:    true,
		AllowLeaderboard: true,
	}
	if err := s.store.InsertPerson(ctx, person); err != nil {
		return store.Person{}, err
	}
	if s.searcher != nil {
		s.searcher.IndexPerson(search.PersonRecord{
			ID:             person.ID,
			Name:           person.Name,
			TrackingNumber: person.TrackingNumber,
			County:         person.County,
			Stage:          person.Stage,
		})
	}
	return person, nil
}

func (s *Service) GetPerson(ctx context.Context, id string) (store.Person, error) {
	person, found, err := s.store.GetPerson(ctx, id)
	if err != nil {
		return store.Person{}, err
	}
	if !found {
		return store.Person{}, domainError(http.StatusNotFound, "NOT_FOUND", "person not found", nil)
	}
	return person, nil
}

func (s *Service) ListPeople(ctx context.Context) ([]store.Person, error) {
	return s.store.ListPeople(ctx)
}

func (s *Service) DeactivatePerson(ctx context.Context, id string) error {
	if _, err := s.GetPerson(ctx, id); err != nil {
		return err
	}
	return s.store.DeactivatePerson(ctx, id, time.Now())
}

// ---- invites ----

func (s *Service) IssueInvite(ctx context.Context, issuerID, channel, destination string) (InviteIssued, error) {
	issued, err := s.invites.Issue(ctx, issuerID, channel, destination)
	if err != nil {
		return InviteIssued{}, s.mapEngineError(err)
	}
	s.deliverInvite(ctx, issuerID, issued)
	return InviteIssued{
		InviteID:  issued.Invite.ID,
		Token:     issued.Token,
		Channel:   issued.Invite.Channel,
		ExpiresAt: issued.Invite.ExpiresAt,
	}, nil
}

// deliverInvite mails the invite link when the channel is email. Delivery is
// best effort; issuance already succeeded.
func (s *Service) deliverInvite(ctx context.Context, issuerID string, issued invite.Issued) {
	if s.mailer == nil || !s.mailer.IsConfigured() {
		return
	}
	if issued.Invite.Channel != "email" || issued.Invite.Destination == "" {
		return
	}
	issuerName := "A Power of 5 organizer"
	if issuer, found, err := s.store.GetPerson(ctx, issuerID); err == nil && found {
		issuerName = issuer.Name
	}
	inviteURL := s.cfg.InviteBaseURL + "?token=" + issued.Token
	go func() {
		if err := s.mailer.SendInvite(issued.Invite.Destination, issuerName, inviteURL, issued.Invite.ExpiresAt); err != nil {
			log.Printf("app: send invite mail for %s: %v", issued.Invite.ID, err)
		}
	}()
}

func (s *Service) ClaimInvite(ctx context.Context, token string) (store.Invite, error) {
	inv, err := s.invites.Claim(ctx, token)
	if err != nil {
		return store.Invite{}, s.mapEngineError(err)
	}
	return inv, nil
}

func (s *Service) ConsumeInvite(ctx context.Context, token, personID string) (EdgeCreated, error) {
	if _, err := s.GetPerson(ctx, personID); err != nil {
		return EdgeCreated{}, err
	}
	link, err := s.invites.Consume(ctx, token, personID)
	if err != nil {
		return EdgeCreated{}, s.mapEngineError(err)
	}
	return edgeCreated(link), nil
}

func (s *Service) RevokeInvite(ctx context.Context, token, issuerID string) error {
	if err := s.invites.Revoke(ctx, token, issuerID); err != nil {
		return s.mapEngineError(err)
	}
	return nil
}

func (s *Service) ListInvites(ctx context.Context, issuerID string) ([]store.Invite, error) {
	invites, err := s.store.InvitesByIssuer(ctx, issuerID)
	if err != nil {
		return nil, err
	}
	// The raw token is shown once at issuance; hashes stay server-side.
	for i := range invites {
		invites[i].TokenHash = ""
	}
	return invites, nil
}

// ---- graph ----

func (s *Service) LinkDirect(ctx context.Context, parentID, childID string) (EdgeCreated, error) {
	link, err := s.graph.CreateEdge(ctx, parentID, childID)
	if err != nil {
		return EdgeCreated{}, s.mapEngineError(err)
	}
	return edgeCreated(link), nil
}

func (s *Service) OpenSlots(ctx context.Context, personID string) (int, error) {
	open, err := s.graph.OpenSlots(ctx, personID)
	if err != nil {
		return 0, s.mapEngineError(err)
	}
	return open, nil
}

// ---- ledger ----

func (s *Service) LogImpactAction(ctx context.Context, personID, actionType string, occurredAt time.Time) (store.ImpactAction, error) {
	if _, err := s.GetPerson(ctx, personID); err != nil {
		return store.ImpactAction{}, err
	}
	action, err := s.ledger.LogAction(ctx, personID, actionType, occurredAt)
	if err != nil {
		return store.ImpactAction{}, s.mapEngineError(err)
	}
	return action, nil
}

func (s *Service) LogVoterContact(ctx context.Context, personID, voterID, county string, occurredAt time.Time) (store.VoterContact, error) {
	if strings.TrimSpace(voterID) == "" {
		return store.VoterContact{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "voterId is required", nil)
	}
	if _, err := s.GetPerson(ctx, personID); err != nil {
		return store.VoterContact{}, err
	}
	contact, err := s.ledger.LogVoterContact(ctx, personID, voterID, county, occurredAt)
	if err != nil {
		return store.VoterContact{}, s.mapEngineError(err)
	}
	if s.searcher != nil {
		s.searcher.IndexVoterContact(search.VoterRecord{
			ID:      contact.ID,
			VoterID: contact.VoterID,
			County:  contact.County,
		})
	}
	return contact, nil
}

func (s *Service) PutImpactRule(ctx context.Context, actionType string, weight float64, notes string) (store.ImpactRule, error) {
	rule, err := s.ledger.PutRule(ctx, actionType, weight, notes)
	if err != nil {
		return store.ImpactRule{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	return rule, nil
}

func (s *Service) ListImpactRules(ctx context.Context) ([]store.ImpactRule, error) {
	return s.ledger.Rules(ctx)
}

// ---- reach ----

func (s *Service) GetReach(ctx context.Context, personID string) (Reach, error) {
	if _, err := s.GetPerson(ctx, personID); err != nil {
		return Reach{}, err
	}
	snap, err := s.reach.Get(ctx, personID)
	if err != nil {
		return Reach{}, s.mapEngineError(err)
	}
	return Reach{
		PersonID:              personID,
		DownstreamPeopleCount: snap.DownstreamPeople,
		DownstreamVoterCount:  snap.DownstreamVoters,
		WeightedScore:         snap.WeightedScore,
		ComputedAt:            snap.ComputedAt,
	}, nil
}

// Leaderboard ranks opted-in people by weighted reach. Reads go through the
// snapshot cache, so a quiet leaderboard poll is cheap.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	people, err := s.store.ListPeople(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]LeaderboardEntry, 0, len(people))
	for _, p := range people {
		if !p.AllowLeaderboard || p.DeactivatedAt != nil {
			continue
		}
		snap, err := s.reach.Get(ctx, p.ID)
		if err != nil {
			return nil, s.mapEngineError(err)
		}
		entries = append(entries, LeaderboardEntry{
			PersonID:         p.ID,
			Name:             p.Name,
			TrackingNumber:   p.TrackingNumber,
			WeightedScore:    snap.WeightedScore,
			DownstreamPeople: snap.DownstreamPeople,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].WeightedScore != entries[j].WeightedScore {
			return entries[i].WeightedScore > entries[j].WeightedScore
		}
		return entries[i].DownstreamPeople > entries[j].DownstreamPeople
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// ---- catalogs ----

func (s *Service) UpsertCounty(ctx context.Context, c store.County) (store.County, error) {
	if strings.TrimSpace(c.Name) == "" {
		return store.County{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if c.ID == "" {
		c.ID = util.NewID("cty")
	}
	if err := s.store.UpsertCounty(ctx, c); err != nil {
		return store.County{}, err
	}
	return c, nil
}

func (s *Service) ListCounties(ctx context.Context) ([]store.County, error) {
	return s.store.ListCounties(ctx)
}

func (s *Service) UpsertTrainingModule(ctx context.Context, mod store.TrainingModule) (store.TrainingModule, error) {
	if strings.TrimSpace(mod.Title) == "" {
		return store.TrainingModule{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if mod.ID == "" {
		mod.ID = util.NewID("trn")
	}
	if err := s.store.UpsertTrainingModule(ctx, mod); err != nil {
		return store.TrainingModule{}, err
	}
	return mod, nil
}

func (s *Service) ListTrainingModules(ctx context.Context) ([]store.TrainingModule, error) {
	return s.store.ListTrainingModules(ctx)
}

func (s *Service) CompleteTraining(ctx context.Context, personID, moduleID string) error {
	if _, err := s.GetPerson(ctx, personID); err != nil {
		return err
	}
	return s.store.InsertTrainingCompletion(ctx, store.TrainingCompletion{
		PersonID:    personID,
		ModuleID:    moduleID,
		CompletedAt: time.Now(),
	})
}

func (s *Service) TrainingCompletions(ctx context.Context, personID string) ([]store.TrainingCompletion, error) {
	return s.store.TrainingCompletions(ctx, personID)
}

// ---- search and reports ----

func (s *Service) Search(ctx context.Context, q search.Query) (search.Response, error) {
	if s.searcher == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "search is not configured", nil)
	}
	return s.searcher.Search(q), nil
}

func (s *Service) ExportReach(ctx context.Context, personID string, format export.Format) (*export.Result, error) {
	if _, err := s.GetPerson(ctx, personID); err != nil {
		return nil, err
	}
	result, err := s.exporter.Export(ctx, export.Request{PersonID: personID, Format: format})
	if err != nil {
		switch {
		case errors.Is(err, export.ErrUnsupportedFormat):
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be csv or pdf", nil)
		case errors.Is(err, export.ErrPDFDependencyMissing):
			return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "pdf rendering is not available", nil)
		}
		return nil, s.mapEngineError(err)
	}
	return result, nil
}

// mapEngineError translates engine sentinels into DomainErrors. Integrity
// violations are the one kind that indicates a bug rather than contention,
// so they get logged with full context and come back as a 500.
func (s *Service) mapEngineError(err error) error {
	var de *DomainError
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, graph.ErrSlotFull):
		return domainError(http.StatusConflict, "SLOT_FULL", "all five recruit slots are filled", nil)
	case errors.Is(err, graph.ErrAlreadyParented):
		return domainError(http.StatusConflict, "ALREADY_PARENTED", "person already has a recruiter", nil)
	case errors.Is(err, graph.ErrCycle):
		return domainError(http.StatusConflict, "CYCLE_DETECTED", "link would make a person their own ancestor", nil)
	case errors.Is(err, graph.ErrPersonNotFound):
		return domainError(http.StatusNotFound, "NOT_FOUND", "person not found", nil)
	case errors.Is(err, invite.ErrNotFound):
		return domainError(http.StatusNotFound, "NOT_FOUND", "invite not found", nil)
	case errors.Is(err, invite.ErrAlreadyClaimed):
		return domainError(http.StatusConflict, "ALREADY_CLAIMED", "invite already claimed", nil)
	case errors.Is(err, invite.ErrAlreadyConsumed):
		return domainError(http.StatusConflict, "ALREADY_CONSUMED", "invite already consumed", nil)
	case errors.Is(err, invite.ErrExpired):
		return domainError(http.StatusGone, "EXPIRED", "invite expired", nil)
	case errors.Is(err, invite.ErrRevoked):
		return domainError(http.StatusGone, "INVITE_REVOKED", "invite revoked", nil)
	case errors.Is(err, invite.ErrNotIssuer):
		return domainError(http.StatusForbidden, "FORBIDDEN", "only the issuer can revoke an invite", nil)
	case errors.Is(err, ledger.ErrUnknownActionType):
		return domainError(http.StatusUnprocessableEntity, "UNKNOWN_ACTION_TYPE", "no impact rule for action type", nil)
	case errors.Is(err, graph.ErrIntegrity):
		log.Printf("app: GRAPH_INTEGRITY %v", err)
		return domainError(http.StatusInternalServerError, "GRAPH_INTEGRITY", "referral graph invariant violated", nil)
	}
	return err
}

func edgeCreated(link store.Link) EdgeCreated {
	return EdgeCreated{
		LinkID:    link.ID,
		ParentID:  link.ParentID,
		ChildID:   link.ChildID,
		CreatedAt: link.CreatedAt,
	}
}

// CanAct reports whether the session's role allows the action.
func (s *Service) CanAct(session Session, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(session.Role), action)
}
