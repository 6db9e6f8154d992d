package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"powerfive/api/internal/store"
)

// DataSource is the slice of the application the exporter needs: people and
// their cached reach figures.
type DataSource interface {
	GetPerson(ctx context.Context, id string) (store.Person, error)
	ChildrenOf(ctx context.Context, id string) ([]string, error)
	Reach(ctx context.Context, id string) (store.ReachSnapshot, error)
}

// Service assembles and renders reach reports.
type Service struct {
	source DataSource
	now    func() time.Time
}

func NewService(source DataSource) *Service {
	return &Service{source: source, now: time.Now}
}

// Export builds the reach report for a person and renders it in the
// requested format.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	report, err := s.buildReport(ctx, req.PersonID)
	if err != nil {
		return nil, err
	}

	switch req.Format {
	case FormatCSV:
		return renderCSV(report)
	case FormatPDF:
		html, err := renderReportHTML(report)
		if err != nil {
			return nil, fmt.Errorf("render report html: %w", err)
		}
		return renderPDF(html, report.Subject.Name)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, req.Format)
	}
}

func (s *Service) buildReport(ctx context.Context, personID string) (Report, error) {
	subject, err := s.reportRow(ctx, personID)
	if err != nil {
		return Report{}, err
	}

	rootReach, err := s.source.Reach(ctx, personID)
	if err != nil {
		return Report{}, fmt.Errorf("reach for %s: %w", personID, err)
	}

	childIDs, err := s.source.ChildrenOf(ctx, personID)
	if err != nil {
		return Report{}, fmt.Errorf("children of %s: %w", personID, err)
	}

	children := make([]ReportPerson, 0, len(childIDs))
	for _, id := range childIDs {
		row, err := s.reportRow(ctx, id)
		if err != nil {
			return Report{}, err
		}
		children = append(children, row)
	}

	return Report{
		Subject:     subject,
		Children:    children,
		Generation:  rootReach.Generation,
		ComputedAt:  rootReach.ComputedAt,
		GeneratedAt: s.now(),
	}, nil
}

func (s *Service) reportRow(ctx context.Context, id string) (ReportPerson, error) {
	p, err := s.source.GetPerson(ctx, id)
	if err != nil {
		return ReportPerson{}, fmt.Errorf("get person %s: %w", id, err)
	}
	snap, err := s.source.Reach(ctx, id)
	if err != nil {
		return ReportPerson{}, fmt.Errorf("reach for %s: %w", id, err)
	}
	return ReportPerson{
		ID:               p.ID,
		Name:             p.Name,
		TrackingNumber:   p.TrackingNumber,
		County:           p.County,
		Stage:            p.Stage,
		DownstreamPeople: snap.DownstreamPeople,
		DownstreamVoters: snap.DownstreamVoters,
		WeightedScore:    snap.WeightedScore,
	}, nil
}

func renderCSV(report Report) (*Result, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"person_id", "name", "tracking_number", "county", "stage",
		"downstream_people", "downstream_voters", "weighted_score"}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	rows := append([]ReportPerson{report.Subject}, report.Children...)
	for _, r := range rows {
		record := []string{
			r.ID, r.Name, r.TrackingNumber, r.County, r.Stage,
			strconv.Itoa(r.DownstreamPeople),
			strconv.Itoa(r.DownstreamVoters),
			strconv.FormatFloat(r.WeightedScore, 'f', -1, 64),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}

	return &Result{
		Data:     buf.Bytes(),
		Filename: sanitizeFilename(report.Subject.Name) + "-reach.csv",
		MimeType: "text/csv",
	}, nil
}
