package search

import "testing"

func TestSearchWithoutBackendsReturnsEmpty(t *testing.T) {
	svc := NewService(nil, nil)
	resp := svc.Search(Query{Text: "jordan"})
	if resp.Total != 0 {
		t.Fatalf("total = %d, want 0", resp.Total)
	}
	if resp.Results == nil {
		t.Fatal("results should be an empty slice, not nil")
	}
	if resp.Query != "jordan" {
		t.Fatalf("query = %q", resp.Query)
	}
}

func TestIndexCallsAreNoOpsWithoutMeili(t *testing.T) {
	svc := NewService(nil, nil)
	// Must not panic or spawn goroutines against a nil client.
	svc.IndexPerson(PersonRecord{ID: "psn_1", Name: "Jordan"})
	svc.IndexVoterContact(VoterRecord{ID: "vc_1", VoterID: "WI-0001"})
}

func TestNonNil(t *testing.T) {
	if got := nonNil(nil); got == nil || len(got) != 0 {
		t.Fatalf("nonNil(nil) = %v", got)
	}
	in := []Result{{ID: "psn_1"}}
	if got := nonNil(in); len(got) != 1 || got[0].ID != "psn_1" {
		t.Fatalf("nonNil(in) = %v", got)
	}
}
