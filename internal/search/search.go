package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultPerson ResultType = "person"
	ResultVoter  ResultType = "voter"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	County  string     `json:"county,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text         string
	FilterType   ResultType // empty = all types
	FilterCounty string
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// PersonRecord is the data we index for a person.
type PersonRecord struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	TrackingNumber string `json:"trackingNumber"`
	County         string `json:"county"`
	Stage          string `json:"stage"`
}

// VoterRecord is the data we index for a voter contact.
type VoterRecord struct {
	ID      string `json:"id"`
	VoterID string `json:"voterId"`
	County  string `json:"county"`
}
