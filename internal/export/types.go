// Package export renders a node subtree to portable formats.
package export

import "errors"

// Format represents the export output format
type Format string

const (
	FormatHTML     Format = "html"
	FormatMarkdown Format = "markdown"
	FormatPDF      Format = "pdf"
)

// Request contains parameters for an export operation
type Request struct {
	OwnerID string
	NodeID  string
	Format  Format
}

// Node is the slice of a tree node the exporter renders. Depth is the
// distance from the exported root, which is depth 0.
type Node struct {
	ID        string
	Kind      string
	Title     string
	Body      string
	Encrypted bool
	Depth     int
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrUnsupportedFormat indicates the requested format is unknown.
	ErrUnsupportedFormat = errors.New("export format unsupported")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
