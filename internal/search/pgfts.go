package search

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PgFTS is the Postgres full-text fallback used when Meilisearch is down or
// not configured.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy reports whether the database is reachable.
func (p *PgFTS) Healthy() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return p.db.PingContext(ctx) == nil
}

// Search runs a ranked tsquery over people and voter contacts.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
WITH hits AS (
    SELECT 'person' AS type, id, name AS title,
           coalesce(tracking_number, '') || ' ' || coalesce(stage, '') AS snippet,
           coalesce(county, '') AS county,
           ts_rank(to_tsvector('simple', name || ' ' || coalesce(tracking_number, '') || ' ' || coalesce(county, '')),
                   plainto_tsquery('simple', $1)) AS rank
    FROM people
    WHERE ($2 = '' OR $2 = 'person')
      AND ($3 = '' OR county = $3)
      AND to_tsvector('simple', name || ' ' || coalesce(tracking_number, '') || ' ' || coalesce(county, ''))
          @@ plainto_tsquery('simple', $1)
    UNION ALL
    SELECT 'voter' AS type, id, voter_id AS title,
           'voter contact' AS snippet,
           coalesce(county, '') AS county,
           ts_rank(to_tsvector('simple', voter_id || ' ' || coalesce(county, '')),
                   plainto_tsquery('simple', $1)) AS rank
    FROM voter_contacts
    WHERE ($2 = '' OR $2 = 'voter')
      AND ($3 = '' OR county = $3)
      AND to_tsvector('simple', voter_id || ' ' || coalesce(county, ''))
          @@ plainto_tsquery('simple', $1)
)
SELECT type, id, title, snippet, county, count(*) OVER () AS total
FROM hits
ORDER BY rank DESC, title ASC
LIMIT $4 OFFSET $5`

	rows, err := p.db.QueryContext(ctx, query, q.Text, string(q.FilterType), q.FilterCounty, limit, q.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	total := 0
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Type, &r.ID, &r.Title, &r.Snippet, &r.County, &total); err != nil {
			return nil, 0, fmt.Errorf("scan fts row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate fts rows: %w", err)
	}
	return results, total, nil
}
