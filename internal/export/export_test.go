package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"powerfive/api/internal/store"
)

type fakeSource struct {
	people   map[string]store.Person
	children map[string][]string
	reach    map[string]store.ReachSnapshot
	err      error
}

func (f *fakeSource) GetPerson(_ context.Context, id string) (store.Person, error) {
	if f.err != nil {
		return store.Person{}, f.err
	}
	p, ok := f.people[id]
	if !ok {
		return store.Person{}, errors.New("person not found")
	}
	return p, nil
}

func (f *fakeSource) ChildrenOf(_ context.Context, id string) ([]string, error) {
	return f.children[id], nil
}

func (f *fakeSource) Reach(_ context.Context, id string) (store.ReachSnapshot, error) {
	return f.reach[id], nil
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		people: map[string]store.Person{
			"psn_root": {ID: "psn_root", Name: "Jordan Root", TrackingNumber: "TN-100", County: "Dane", Stage: "organizer"},
			"psn_kid1": {ID: "psn_kid1", Name: "Kid One", TrackingNumber: "TN-101", County: "Dane", Stage: "observer"},
			"psn_kid2": {ID: "psn_kid2", Name: "Kid Two", TrackingNumber: "TN-102", County: "Rock", Stage: "observer"},
		},
		children: map[string][]string{
			"psn_root": {"psn_kid1", "psn_kid2"},
		},
		reach: map[string]store.ReachSnapshot{
			"psn_root": {PersonID: "psn_root", DownstreamPeople: 2, DownstreamVoters: 3, WeightedScore: 7.5, Generation: 4, ComputedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
			"psn_kid1": {PersonID: "psn_kid1", DownstreamPeople: 0, DownstreamVoters: 2, WeightedScore: 5},
			"psn_kid2": {PersonID: "psn_kid2", DownstreamPeople: 0, DownstreamVoters: 1, WeightedScore: 2.5},
		},
	}
}

func TestExportCSV(t *testing.T) {
	svc := NewService(newFakeSource())
	result, err := svc.Export(context.Background(), Request{PersonID: "psn_root", Format: FormatCSV})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.MimeType != "text/csv" {
		t.Fatalf("mime type = %q", result.MimeType)
	}
	if result.Filename != "Jordan-Root-reach.csv" {
		t.Fatalf("filename = %q", result.Filename)
	}

	lines := strings.Split(strings.TrimSpace(string(result.Data)), "\n")
	if len(lines) != 4 {
		t.Fatalf("lines = %d, want header + 3 rows:\n%s", len(lines), result.Data)
	}
	if lines[0] != "person_id,name,tracking_number,county,stage,downstream_people,downstream_voters,weighted_score" {
		t.Fatalf("header = %q", lines[0])
	}
	if lines[1] != "psn_root,Jordan Root,TN-100,Dane,organizer,2,3,7.5" {
		t.Fatalf("subject row = %q", lines[1])
	}
	if lines[3] != "psn_kid2,Kid Two,TN-102,Rock,observer,0,1,2.5" {
		t.Fatalf("child row = %q", lines[3])
	}
}

func TestExportUnknownFormat(t *testing.T) {
	svc := NewService(newFakeSource())
	_, err := svc.Export(context.Background(), Request{PersonID: "psn_root", Format: Format("xml")})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestExportSourceErrorPropagates(t *testing.T) {
	src := newFakeSource()
	src.err = errors.New("store down")
	svc := NewService(src)
	_, err := svc.Export(context.Background(), Request{PersonID: "psn_root", Format: FormatCSV})
	if err == nil || !strings.Contains(err.Error(), "store down") {
		t.Fatalf("error = %v, want wrapped store error", err)
	}
}

func TestRenderReportHTML(t *testing.T) {
	svc := NewService(newFakeSource())
	report, err := svc.buildReport(context.Background(), "psn_root")
	if err != nil {
		t.Fatalf("buildReport() error = %v", err)
	}
	html, err := renderReportHTML(report)
	if err != nil {
		t.Fatalf("renderReportHTML() error = %v", err)
	}
	for _, want := range []string{"Jordan Root", "TN-100", "Kid Two", "7.5"} {
		if !strings.Contains(html, want) {
			t.Fatalf("html missing %q", want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Jordan Root", "Jordan-Root"},
		{"a/b\\c:d", "abcd"},
		{"", "report"},
		{"  ", "--"},
		{strings.Repeat("x", 60), strings.Repeat("x", 50)},
	}
	for _, tc := range cases {
		if got := sanitizeFilename(tc.in); got != tc.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPercentEncode(t *testing.T) {
	if got := percentEncode("a b"); got != "a%20b" {
		t.Fatalf("percentEncode(a b) = %q", got)
	}
	if got := percentEncode("<html>"); got != "%3Chtml%3E" {
		t.Fatalf("percentEncode(<html>) = %q", got)
	}
}
