package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/meilisearch/meilisearch-go"
)

const (
	indexPeople = "powerfive_people"
	indexVoters = "powerfive_voters"
)

// Meili wraps a Meilisearch client with a background health check so the
// service can fall back to PG FTS when the search host is down.
type Meili struct {
	client  meilisearch.ServiceManager
	healthy atomic.Bool
}

// NewMeili connects to Meilisearch and configures the indexes. The returned
// Meili starts a health loop that flips availability as the host comes and
// goes.
func NewMeili(url, masterKey string) (*Meili, error) {
	client := meilisearch.New(url, meilisearch.WithAPIKey(masterKey))
	m := &Meili{client: client}

	if client.IsHealthy() {
		m.healthy.Store(true)
		if err := m.configureIndexes(); err != nil {
			return nil, fmt.Errorf("configure indexes: %w", err)
		}
	} else {
		log.Printf("search: meilisearch unreachable at %s, will retry in background", url)
	}

	go m.healthLoop()
	return m, nil
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		was := m.healthy.Load()
		now := m.client.IsHealthy()
		if now && !was {
			if err := m.configureIndexes(); err != nil {
				log.Printf("search: configure indexes after recovery: %v", err)
				continue
			}
			log.Printf("search: meilisearch is back")
		}
		if !now && was {
			log.Printf("search: meilisearch went away, falling back to pgfts")
		}
		m.healthy.Store(now)
	}
}

func (m *Meili) configureIndexes() error {
	people := m.client.Index(indexPeople)
	if _, err := people.UpdateSearchableAttributes(&[]string{"name", "trackingNumber", "county"}); err != nil {
		return fmt.Errorf("people searchable attributes: %w", err)
	}
	if _, err := people.UpdateFilterableAttributes(&[]interface{}{"county", "stage"}); err != nil {
		return fmt.Errorf("people filterable attributes: %w", err)
	}

	voters := m.client.Index(indexVoters)
	if _, err := voters.UpdateSearchableAttributes(&[]string{"voterId", "county"}); err != nil {
		return fmt.Errorf("voters searchable attributes: %w", err)
	}
	if _, err := voters.UpdateFilterableAttributes(&[]interface{}{"county"}); err != nil {
		return fmt.Errorf("voters filterable attributes: %w", err)
	}
	return nil
}

// IndexPerson upserts one person document.
func (m *Meili) IndexPerson(p PersonRecord) error {
	if _, err := m.client.Index(indexPeople).AddDocuments([]PersonRecord{p}, nil); err != nil {
		return fmt.Errorf("add person document: %w", err)
	}
	return nil
}

// IndexVoterContact upserts one voter contact document.
func (m *Meili) IndexVoterContact(v VoterRecord) error {
	if _, err := m.client.Index(indexVoters).AddDocuments([]VoterRecord{v}, nil); err != nil {
		return fmt.Errorf("add voter document: %w", err)
	}
	return nil
}

// DeletePerson removes a person from the index.
func (m *Meili) DeletePerson(id string) error {
	if _, err := m.client.Index(indexPeople).DeleteDocument(id, nil); err != nil {
		return fmt.Errorf("delete person document: %w", err)
	}
	return nil
}

// Search runs a multi-search across the requested indexes.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	limit := int64(q.Limit)
	if limit <= 0 {
		limit = 20
	}

	var filter string
	if q.FilterCounty != "" {
		filter = fmt.Sprintf("county = %q", q.FilterCounty)
	}

	var queries []*meilisearch.SearchRequest
	if q.FilterType == "" || q.FilterType == ResultPerson {
		queries = append(queries, &meilisearch.SearchRequest{
			IndexUID: indexPeople,
			Query:    q.Text,
			Limit:    limit,
			Offset:   int64(q.Offset),
			Filter:   filter,
		})
	}
	if q.FilterType == "" || q.FilterType == ResultVoter {
		queries = append(queries, &meilisearch.SearchRequest{
			IndexUID: indexVoters,
			Query:    q.Text,
			Limit:    limit,
			Offset:   int64(q.Offset),
			Filter:   filter,
		})
	}

	resp, err := m.client.MultiSearch(&meilisearch.MultiSearchRequest{Queries: queries})
	if err != nil {
		return nil, 0, fmt.Errorf("multi search: %w", err)
	}

	var results []Result
	total := 0
	for _, r := range resp.Results {
		total += int(r.EstimatedTotalHits)
		for _, hit := range r.Hits {
			res, err := hitToResult(r.IndexUID, hit)
			if err != nil {
				log.Printf("search: decode hit from %s: %v", r.IndexUID, err)
				continue
			}
			results = append(results, res)
		}
	}
	return results, total, nil
}

func hitToResult(indexUID string, hit interface{}) (Result, error) {
	raw, err := json.Marshal(hit)
	if err != nil {
		return Result{}, err
	}
	switch indexUID {
	case indexPeople:
		var p PersonRecord
		if err := json.Unmarshal(raw, &p); err != nil {
			return Result{}, err
		}
		snippet := p.TrackingNumber
		if p.Stage != "" {
			snippet = strings.TrimSpace(snippet + " " + p.Stage)
		}
		return Result{Type: ResultPerson, ID: p.ID, Title: p.Name, Snippet: snippet, County: p.County}, nil
	case indexVoters:
		var v VoterRecord
		if err := json.Unmarshal(raw, &v); err != nil {
			return Result{}, err
		}
		return Result{Type: ResultVoter, ID: v.ID, Title: v.VoterID, Snippet: "voter contact", County: v.County}, nil
	}
	return Result{}, fmt.Errorf("unknown index %q", indexUID)
}
