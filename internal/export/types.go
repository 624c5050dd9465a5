// Package export renders a generated artifact as a downloadable file.
package export

import (
	"errors"
	"time"
)

// Format is the export output format.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatHTML Format = "html"
)

// Request describes one artifact export.
type Request struct {
	Kind        string // story or study_guide
	Title       string
	ProjectName string
	Author      string
	ContentHTML string // already-sanitized artifact HTML
	CreatedAt   time.Time
	Format      Format
}

// Result is the finished export payload.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// ErrPDFDependencyMissing indicates the headless browser is not installed.
var ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
