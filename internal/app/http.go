package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"powerfive/api/internal/auth"
	"powerfive/api/internal/export"
	"powerfive/api/internal/rbac"
	"powerfive/api/internal/search"
	"powerfive/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes, no session required.
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleSignUp(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleSignIn(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userName":      session.UserName,
			"userId":        session.UserID,
			"role":          session.Role,
		})
		return
	}

	// Invite claim and consume are reached from the invite link itself, so
	// the token in the body is the credential.
	if r.Method == http.MethodPost && r.URL.Path == "/api/invites/claim" {
		var body struct {
			Token string `json:"token"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		inv, err := s.service.ClaimInvite(r.Context(), body.Token)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, inviteJSON(inv))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/invites/consume" {
		var body struct {
			Token    string `json:"token"`
			PersonID string `json:"personId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if strings.TrimSpace(body.PersonID) == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "personId is required", nil)
			return
		}
		edge, err := s.service.ConsumeInvite(r.Context(), body.Token, body.PersonID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, edge)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	parts := splitPath(r.URL.Path)

	// /api/people and subresources.
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "people" {
		s.handlePeople(w, r, session, parts)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/invites" {
		if !s.service.CanAct(session, rbac.ActionInvite) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body struct {
			IssuerID    string `json:"issuerId"`
			Channel     string `json:"channel"`
			Destination string `json:"destination"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		issued, err := s.service.IssueInvite(r.Context(), body.IssuerID, body.Channel, body.Destination)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, issued)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/invites/revoke" {
		if !s.service.CanAct(session, rbac.ActionInvite) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body struct {
			Token    string `json:"token"`
			IssuerID string `json:"issuerId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.RevokeInvite(r.Context(), body.Token, body.IssuerID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/links" {
		if !s.service.CanAct(session, rbac.ActionLink) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body struct {
			ParentID string `json:"parentId"`
			ChildID  string `json:"childId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		edge, err := s.service.LinkDirect(r.Context(), body.ParentID, body.ChildID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, edge)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/impact/actions" {
		if !s.service.CanAct(session, rbac.ActionLogImpact) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body struct {
			PersonID   string `json:"personId"`
			ActionType string `json:"actionType"`
			OccurredAt string `json:"occurredAt"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		occurredAt, err := parseOccurredAt(body.OccurredAt)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "occurredAt must be RFC 3339", nil)
			return
		}
		action, err := s.service.LogImpactAction(r.Context(), body.PersonID, body.ActionType, occurredAt)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, actionJSON(action))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/voters/contacts" {
		if !s.service.CanAct(session, rbac.ActionLogImpact) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body struct {
			PersonID   string `json:"personId"`
			VoterID    string `json:"voterId"`
			County     string `json:"county"`
			OccurredAt string `json:"occurredAt"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		occurredAt, err := parseOccurredAt(body.OccurredAt)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "occurredAt must be RFC 3339", nil)
			return
		}
		contact, err := s.service.LogVoterContact(r.Context(), body.PersonID, body.VoterID, body.County, occurredAt)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, contactJSON(contact))
		return
	}

	if r.URL.Path == "/api/impact/rules" {
		switch r.Method {
		case http.MethodGet:
			rules, err := s.service.ListImpactRules(r.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list rules", nil)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
			return
		case http.MethodPut:
			if !s.service.CanAct(session, rbac.ActionAdmin) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
				return
			}
			var body struct {
				ActionType string  `json:"actionType"`
				Weight     float64 `json:"weight"`
				Notes      string  `json:"notes"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			rule, err := s.service.PutImpactRule(r.Context(), body.ActionType, body.Weight, body.Notes)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/leaderboard" {
		limit, err := queryInt(r, "limit", 20)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		entries, err := s.service.Leaderboard(r.Context(), limit)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"leaderboard": entries})
		return
	}

	if r.URL.Path == "/api/counties" {
		switch r.Method {
		case http.MethodGet:
			counties, err := s.service.ListCounties(r.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list counties", nil)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"counties": counties})
			return
		case http.MethodPost:
			if !s.service.CanAct(session, rbac.ActionAdmin) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
				return
			}
			var body store.County
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			county, err := s.service.UpsertCounty(r.Context(), body)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, county)
			return
		}
	}

	if r.URL.Path == "/api/training" {
		switch r.Method {
		case http.MethodGet:
			modules, err := s.service.ListTrainingModules(r.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list training modules", nil)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"modules": modules})
			return
		case http.MethodPost:
			if !s.service.CanAct(session, rbac.ActionAdmin) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
				return
			}
			var body store.TrainingModule
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			module, err := s.service.UpsertTrainingModule(r.Context(), body)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, module)
			return
		}
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		q := search.Query{
			Text:         strings.TrimSpace(r.URL.Query().Get("q")),
			FilterType:   search.ResultType(strings.TrimSpace(r.URL.Query().Get("type"))),
			FilterCounty: strings.TrimSpace(r.URL.Query().Get("county")),
		}
		var err error
		if q.Limit, err = queryInt(r, "limit", 20); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		if q.Offset, err = queryInt(r, "offset", 0); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
			return
		}
		payload, err := s.service.Search(r.Context(), q)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	// GET /api/reports/reach/{personID}?format=csv|pdf
	if r.Method == http.MethodGet && len(parts) == 4 && parts[0] == "api" && parts[1] == "reports" && parts[2] == "reach" {
		format := export.Format(r.URL.Query().Get("format"))
		if format == "" {
			format = export.FormatCSV
		}
		result, err := s.service.ExportReach(r.Context(), parts[3], format)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handlePeople(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if !s.service.CanAct(session, rbac.ActionRead) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}

	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			people, err := s.service.ListPeople(r.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list people", nil)
				return
			}
			items := make([]map[string]any, 0, len(people))
			for _, p := range people {
				items = append(items, personJSON(p))
			}
			writeJSON(w, http.StatusOK, map[string]any{"people": items})
			return
		case http.MethodPost:
			var body PersonInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			person, err := s.service.CreatePerson(r.Context(), body)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, personJSON(person))
			return
		}
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	personID := parts[2]

	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			person, err := s.service.GetPerson(r.Context(), personID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, personJSON(person))
			return
		case http.MethodDelete:
			if !s.service.CanAct(session, rbac.ActionAdmin) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
				return
			}
			if err := s.service.DeactivatePerson(r.Context(), personID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if len(parts) == 4 && r.Method == http.MethodGet {
		switch parts[3] {
		case "reach":
			reach, err := s.service.GetReach(r.Context(), personID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, reach)
			return
		case "slots":
			open, err := s.service.OpenSlots(r.Context(), personID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"personId": personID, "openSlots": open})
			return
		case "invites":
			invites, err := s.service.ListInvites(r.Context(), personID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list invites", nil)
				return
			}
			items := make([]map[string]any, 0, len(invites))
			for _, inv := range invites {
				items = append(items, inviteJSON(inv))
			}
			writeJSON(w, http.StatusOK, map[string]any{"invites": items})
			return
		case "training":
			completions, err := s.service.TrainingCompletions(r.Context(), personID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list completions", nil)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"completions": completions})
			return
		}
	}

	// POST /api/people/{id}/training/{moduleID}
	if len(parts) == 5 && r.Method == http.MethodPost && parts[3] == "training" {
		if err := s.service.CompleteTraining(r.Context(), personID, parts[4]); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
		Role        string `json:"role"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.SignUp(r.Context(), body.Email, body.Password, body.DisplayName, body.Role)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, sessionJSON(session))
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, sessionJSON(session))
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func parseOccurredAt(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Now(), nil
	}
	return time.Parse(time.RFC3339, raw)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func sessionJSON(session Session) map[string]any {
	return map[string]any{
		"token":     session.Token,
		"userId":    session.UserID,
		"userName":  session.UserName,
		"role":      session.Role,
		"expiresAt": session.ExpiresAt,
	}
}

func personJSON(p store.Person) map[string]any {
	out := map[string]any{
		"id":               p.ID,
		"trackingNumber":   p.TrackingNumber,
		"name":             p.Name,
		"stage":            p.Stage,
		"county":           p.County,
		"region":           p.Region,
		"allowTracking":    p.AllowTracking,
		"allowLeaderboard": p.AllowLeaderboard,
		"createdAt":        p.CreatedAt,
	}
	if p.DeactivatedAt != nil {
		out["deactivatedAt"] = p.DeactivatedAt
	}
	return out
}

func inviteJSON(inv store.Invite) map[string]any {
	return map[string]any{
		"id":          inv.ID,
		"issuerId":    inv.IssuerID,
		"channel":     inv.Channel,
		"destination": inv.Destination,
		"status":      inv.Status,
		"expiresAt":   inv.ExpiresAt,
		"createdAt":   inv.CreatedAt,
	}
}

func actionJSON(a store.ImpactAction) map[string]any {
	return map[string]any{
		"id":         a.ID,
		"personId":   a.PersonID,
		"actionType": a.ActionType,
		"weight":     a.Weight,
		"occurredAt": a.OccurredAt,
		"createdAt":  a.CreatedAt,
	}
}

func contactJSON(c store.VoterContact) map[string]any {
	return map[string]any{
		"id":          c.ID,
		"voterId":     c.VoterID,
		"contactedBy": c.ContactedBy,
		"county":      c.County,
		"occurredAt":  c.OccurredAt,
		"createdAt":   c.CreatedAt,
	}
}
