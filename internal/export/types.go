// Package export renders downstream reach reports as CSV or PDF.
package export

import (
	"errors"
	"time"
)

// Format is the export output format.
type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

// Request describes a reach report to generate.
type Request struct {
	PersonID string
	Format   Format
}

// Result is the rendered report.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// ReportPerson is one row of the report, the subject or one of their
// direct children.
type ReportPerson struct {
	ID               string
	Name             string
	TrackingNumber   string
	County           string
	Stage            string
	DownstreamPeople int
	DownstreamVoters int
	WeightedScore    float64
}

// Report is the assembled reach report before rendering.
type Report struct {
	Subject     ReportPerson
	Children    []ReportPerson
	Generation  int64
	ComputedAt  time.Time
	GeneratedAt time.Time
}

var (
	// ErrPDFDependencyMissing indicates headless Chrome is not installed.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrUnsupportedFormat indicates an unknown export format was requested.
	ErrUnsupportedFormat = errors.New("unsupported export format")
)
