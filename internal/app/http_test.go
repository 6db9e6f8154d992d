package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

type httpFixture struct {
	t      *testing.T
	server *httptest.Server
}

func newHTTPFixture(t *testing.T) *httpFixture {
	t.Helper()
	service, _ := newTestService(t)
	server := httptest.NewServer(NewHTTPServer(service, "*").Handler())
	t.Cleanup(server.Close)
	return &httpFixture{t: t, server: server}
}

// do issues a JSON request and decodes the JSON response body into a map.
func (f *httpFixture) do(method, path, token string, body any) (int, map[string]any) {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			f.t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	if err != nil {
		f.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.server.Client().Do(req)
	if err != nil {
		f.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		f.t.Fatalf("%s %s: decode response: %v", method, path, err)
	}
	return resp.StatusCode, decoded
}

func (f *httpFixture) signUp(email, role string) string {
	f.t.Helper()
	status, body := f.do(http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email":       email,
		"password":    "long-enough-password",
		"displayName": "Test " + role,
		"role":        role,
	})
	if status != http.StatusCreated {
		f.t.Fatalf("signup %s: status = %d body = %v", email, status, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		f.t.Fatalf("signup %s: no token in %v", email, body)
	}
	return token
}

func (f *httpFixture) createPerson(token, name string) string {
	f.t.Helper()
	status, body := f.do(http.MethodPost, "/api/people", token, map[string]any{"name": name})
	if status != http.StatusCreated {
		f.t.Fatalf("create person %s: status = %d body = %v", name, status, body)
	}
	id, _ := body["id"].(string)
	if id == "" {
		f.t.Fatalf("create person %s: no id in %v", name, body)
	}
	return id
}

func TestHealthAndReadyEndpoints(t *testing.T) {
	f := newHTTPFixture(t)

	status, body := f.do(http.MethodGet, "/api/health", "", nil)
	if status != http.StatusOK || body["ok"] != true {
		t.Fatalf("health: status = %d body = %v", status, body)
	}

	status, body = f.do(http.MethodGet, "/api/ready", "", nil)
	if status != http.StatusOK || body["status"] != "ready" {
		t.Fatalf("ready: status = %d body = %v", status, body)
	}
}

func TestRequestsWithoutBearerAreRejected(t *testing.T) {
	f := newHTTPFixture(t)

	status, body := f.do(http.MethodGet, "/api/people", "", nil)
	if status != http.StatusUnauthorized || body["code"] != "UNAUTHORIZED" {
		t.Fatalf("status = %d body = %v", status, body)
	}

	status, _ = f.do(http.MethodGet, "/api/people", "not-a-real-token", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("garbage token: status = %d", status)
	}
}

func TestSessionEndpointReflectsAuthState(t *testing.T) {
	f := newHTTPFixture(t)

	status, body := f.do(http.MethodGet, "/api/session", "", nil)
	if status != http.StatusOK || body["authenticated"] != false {
		t.Fatalf("anonymous session: status = %d body = %v", status, body)
	}

	token := f.signUp("org@example.org", "organizer")
	status, body = f.do(http.MethodGet, "/api/session", token, nil)
	if status != http.StatusOK || body["authenticated"] != true || body["role"] != "organizer" {
		t.Fatalf("authenticated session: status = %d body = %v", status, body)
	}
}

func TestInviteFlowOverHTTP(t *testing.T) {
	f := newHTTPFixture(t)
	admin := f.signUp("admin@example.org", "admin")

	issuerID := f.createPerson(admin, "Issuer")
	joinerID := f.createPerson(admin, "Joiner")

	status, body := f.do(http.MethodPost, "/api/invites", admin, map[string]any{
		"issuerId": issuerID,
		"channel":  "email",
	})
	if status != http.StatusCreated {
		t.Fatalf("issue: status = %d body = %v", status, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("issue: no raw token in %v", body)
	}

	// Claim and consume need no session; the invite token is the credential.
	status, body = f.do(http.MethodPost, "/api/invites/claim", "", map[string]any{"token": token})
	if status != http.StatusOK || body["status"] != "claimed" {
		t.Fatalf("claim: status = %d body = %v", status, body)
	}

	status, body = f.do(http.MethodPost, "/api/invites/consume", "", map[string]any{
		"token":    token,
		"personId": joinerID,
	})
	if status != http.StatusOK {
		t.Fatalf("consume: status = %d body = %v", status, body)
	}
	if body["parentId"] != issuerID || body["childId"] != joinerID {
		t.Fatalf("consume: unexpected edge %v", body)
	}

	status, body = f.do(http.MethodGet, "/api/people/"+issuerID+"/slots", admin, nil)
	if status != http.StatusOK || body["openSlots"] != float64(4) {
		t.Fatalf("slots: status = %d body = %v", status, body)
	}
}

func TestImpactAndReachOverHTTP(t *testing.T) {
	f := newHTTPFixture(t)
	admin := f.signUp("admin@example.org", "admin")

	parentID := f.createPerson(admin, "Parent")
	childID := f.createPerson(admin, "Child")

	status, body := f.do(http.MethodPost, "/api/links", admin, map[string]any{
		"parentId": parentID,
		"childId":  childID,
	})
	if status != http.StatusCreated {
		t.Fatalf("link: status = %d body = %v", status, body)
	}

	status, body = f.do(http.MethodPut, "/api/impact/rules", admin, map[string]any{
		"actionType": "doorKnock",
		"weight":     2,
	})
	if status != http.StatusOK {
		t.Fatalf("put rule: status = %d body = %v", status, body)
	}

	status, body = f.do(http.MethodPost, "/api/impact/actions", admin, map[string]any{
		"personId":   childID,
		"actionType": "doorKnock",
	})
	if status != http.StatusCreated || body["weight"] != float64(2) {
		t.Fatalf("log action: status = %d body = %v", status, body)
	}

	status, body = f.do(http.MethodPost, "/api/voters/contacts", admin, map[string]any{
		"personId": childID,
		"voterId":  "WI-0001",
		"county":   "Dane",
	})
	if status != http.StatusCreated {
		t.Fatalf("log contact: status = %d body = %v", status, body)
	}

	status, body = f.do(http.MethodGet, "/api/people/"+parentID+"/reach", admin, nil)
	if status != http.StatusOK {
		t.Fatalf("reach: status = %d body = %v", status, body)
	}
	if body["weightedScore"] != float64(2) || body["downstreamPeopleCount"] != float64(1) || body["downstreamVoterCount"] != float64(1) {
		t.Fatalf("reach body = %v", body)
	}

	status, body = f.do(http.MethodGet, "/api/leaderboard?limit=5", admin, nil)
	if status != http.StatusOK {
		t.Fatalf("leaderboard: status = %d body = %v", status, body)
	}
	entries, _ := body["leaderboard"].([]any)
	if len(entries) == 0 {
		t.Fatalf("leaderboard empty: %v", body)
	}
	top, _ := entries[0].(map[string]any)
	if top["personId"] != parentID && top["personId"] != childID {
		t.Fatalf("unexpected leaderboard top: %v", top)
	}
}

func TestRoleGatesOverHTTP(t *testing.T) {
	f := newHTTPFixture(t)
	admin := f.signUp("admin@example.org", "admin")
	volunteer := f.signUp("vol@example.org", "volunteer")

	parentID := f.createPerson(admin, "Parent")
	childID := f.createPerson(admin, "Child")

	// Volunteers cannot link directly or administer rules.
	status, body := f.do(http.MethodPost, "/api/links", volunteer, map[string]any{
		"parentId": parentID,
		"childId":  childID,
	})
	if status != http.StatusForbidden || body["code"] != "FORBIDDEN" {
		t.Fatalf("volunteer link: status = %d body = %v", status, body)
	}

	status, _ = f.do(http.MethodPut, "/api/impact/rules", volunteer, map[string]any{
		"actionType": "doorKnock",
		"weight":     2,
	})
	if status != http.StatusForbidden {
		t.Fatalf("volunteer put rule: status = %d", status)
	}

	status, _ = f.do(http.MethodDelete, "/api/people/"+childID, volunteer, nil)
	if status != http.StatusForbidden {
		t.Fatalf("volunteer delete person: status = %d", status)
	}

	// But they can read and issue invites.
	status, _ = f.do(http.MethodGet, "/api/people", volunteer, nil)
	if status != http.StatusOK {
		t.Fatalf("volunteer list people: status = %d", status)
	}
	status, _ = f.do(http.MethodPost, "/api/invites", volunteer, map[string]any{
		"issuerId": parentID,
		"channel":  "discord",
	})
	if status != http.StatusCreated {
		t.Fatalf("volunteer issue invite: status = %d", status)
	}
}

func TestDomainErrorsSurfaceOverHTTP(t *testing.T) {
	f := newHTTPFixture(t)
	admin := f.signUp("admin@example.org", "admin")

	rootID := f.createPerson(admin, "Root")
	for i := 0; i < 5; i++ {
		childID := f.createPerson(admin, fmt.Sprintf("Child %d", i))
		status, body := f.do(http.MethodPost, "/api/links", admin, map[string]any{
			"parentId": rootID,
			"childId":  childID,
		})
		if status != http.StatusCreated {
			t.Fatalf("link %d: status = %d body = %v", i, status, body)
		}
	}

	sixthID := f.createPerson(admin, "Sixth")
	status, body := f.do(http.MethodPost, "/api/links", admin, map[string]any{
		"parentId": rootID,
		"childId":  sixthID,
	})
	if status != http.StatusConflict || body["code"] != "SLOT_FULL" {
		t.Fatalf("sixth link: status = %d body = %v", status, body)
	}

	status, body = f.do(http.MethodGet, "/api/people/psn_missing/reach", admin, nil)
	if status != http.StatusNotFound || body["code"] != "NOT_FOUND" {
		t.Fatalf("missing person reach: status = %d body = %v", status, body)
	}

	status, body = f.do(http.MethodPost, "/api/invites/claim", "", map[string]any{"token": "bogus.token"})
	if status != http.StatusNotFound || body["code"] != "NOT_FOUND" {
		t.Fatalf("bogus claim: status = %d body = %v", status, body)
	}
}

func TestUnknownRoutesReturn404(t *testing.T) {
	f := newHTTPFixture(t)
	admin := f.signUp("admin@example.org", "admin")

	status, body := f.do(http.MethodGet, "/api/nope", admin, nil)
	if status != http.StatusNotFound || body["code"] != "NOT_FOUND" {
		t.Fatalf("status = %d body = %v", status, body)
	}
}

func TestRequestIDEchoedOnResponses(t *testing.T) {
	f := newHTTPFixture(t)

	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/api/health", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Request-ID", "req-test-123")
	resp, err := f.server.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "req-test-123" {
		t.Fatalf("X-Request-ID = %q, want req-test-123", got)
	}
}
