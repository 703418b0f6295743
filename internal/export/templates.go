package export

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var outlineTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"heading": headingHTML,
	}

	templateContent, err := templateFS.ReadFile("templates/outline.html")
	if err != nil {
		// Fallback to built-in template if file not found
		outlineTemplate = template.Must(template.New("outline").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	outlineTemplate = template.Must(template.New("outline").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for outline template rendering
type TemplateData struct {
	Title      string
	ExportedAt time.Time
	Sections   []TemplateSection
}

// TemplateSection is one node of the subtree, in depth-first order.
type TemplateSection struct {
	HeadingLevel int
	Kind         string
	Title        string
	BodyHTML     template.HTML
	Encrypted    bool
}

// RenderOutlineHTML renders the outline template with provided data
func RenderOutlineHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := outlineTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// headingHTML builds a heading tag; template actions cannot appear in
// tag names, so the tag is assembled here.
func headingHTML(level int, title string) template.HTML {
	if level < 1 {
		level = 1
	}
	if level > 6 {
		level = 6
	}
	return template.HTML(fmt.Sprintf("<h%d>%s</h%d>", level, html.EscapeString(title), level))
}

// bodyToHTML turns plain text into paragraphs. Blank lines split
// paragraphs, single newlines become line breaks, everything is
// escaped first.
func bodyToHTML(body string) template.HTML {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return ""
	}

	normalized := strings.ReplaceAll(trimmed, "\r\n", "\n")
	paragraphs := strings.Split(normalized, "\n\n")

	var b strings.Builder
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		b.WriteString("<p>")
		lines := strings.Split(p, "\n")
		for i, line := range lines {
			if i > 0 {
				b.WriteString("<br>")
			}
			b.WriteString(html.EscapeString(line))
		}
		b.WriteString("</p>")
	}
	return template.HTML(b.String())
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Georgia, serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .encrypted { color: #888; font-style: italic; }
  </style>
</head>
<body>
  <div class="meta">Exported {{formatDate .ExportedAt "Jan 2, 2006"}}</div>
  {{range .Sections}}
  {{heading .HeadingLevel .Title}}
  {{if .Encrypted}}<p class="encrypted">[encrypted content]</p>{{else}}{{.BodyHTML}}{{end}}
  {{end}}
</body>
</html>`
