package export

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// encryptedPlaceholder stands in for bodies the server cannot read.
const encryptedPlaceholder = "[encrypted content]"

// NodeSource loads the subtree to export, root first, depth-first.
type NodeSource interface {
	ExportSubtree(ctx context.Context, ownerID, nodeID string) ([]Node, error)
}

// Service renders subtrees into export formats.
type Service struct {
	source NodeSource
}

// NewService creates a new export service
func NewService(source NodeSource) *Service {
	return &Service{source: source}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	nodes, err := s.source.ExportSubtree(ctx, req.OwnerID, req.NodeID)
	if err != nil {
		return nil, fmt.Errorf("load subtree: %w", err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("load subtree: empty result")
	}
	root := nodes[0]

	switch req.Format {
	case FormatMarkdown:
		data := renderMarkdown(nodes)
		return &Result{
			Data:     []byte(data),
			Filename: sanitizeFilename(root.Title) + ".md",
			MimeType: "text/markdown; charset=utf-8",
		}, nil
	case FormatHTML:
		html, err := renderHTML(nodes)
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(root.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		html, err := renderHTML(nodes)
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		return exportPDF(html, root.Title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}

func renderHTML(nodes []Node) (string, error) {
	root := nodes[0]
	data := TemplateData{
		Title:      root.Title,
		ExportedAt: time.Now(),
		Sections:   make([]TemplateSection, 0, len(nodes)),
	}
	for _, n := range nodes {
		body := n.Body
		if n.Encrypted {
			body = ""
		}
		data.Sections = append(data.Sections, TemplateSection{
			HeadingLevel: headingLevel(n.Depth),
			Kind:         n.Kind,
			Title:        n.Title,
			BodyHTML:     bodyToHTML(body),
			Encrypted:    n.Encrypted,
		})
	}
	return RenderOutlineHTML(data)
}

func renderMarkdown(nodes []Node) string {
	var b strings.Builder
	for i, n := range nodes {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(strings.Repeat("#", headingLevel(n.Depth)))
		b.WriteString(" ")
		b.WriteString(n.Title)
		b.WriteString("\n")
		switch {
		case n.Encrypted:
			b.WriteString("\n_" + encryptedPlaceholder + "_\n")
		case strings.TrimSpace(n.Body) != "":
			b.WriteString("\n" + strings.TrimRight(n.Body, "\n") + "\n")
		}
	}
	return b.String()
}

// headingLevel maps subtree depth to h1..h6.
func headingLevel(depth int) int {
	level := depth + 1
	if level > 6 {
		level = 6
	}
	return level
}
