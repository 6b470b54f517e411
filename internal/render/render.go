// Package render builds outreach emails. Rendering is pure: the same Input
// always yields byte-identical output, so a preview matches the real send.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"os"
	"strings"
)

//go:embed templates/outreach.html
var templates embed.FS

// DefaultAuthorName addresses recipients without a known name.
const DefaultAuthorName = "Fellow Researcher"

type Input struct {
	AuthorName string `json:"author_name"`
	PaperTitle string `json:"paper_title"`
	Venue      string `json:"paper_venue,omitempty"`
	Year       *int   `json:"paper_year,omitempty"`
	Citations  *int   `json:"paper_citations,omitempty"`
}

type Output struct {
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

type Renderer struct {
	tmpl        *template.Template
	senderName  string
	senderEmail string
}

// New parses the built-in template, or the file at path when non-empty.
func New(path, senderName, senderEmail string) (*Renderer, error) {
	var (
		src []byte
		err error
	)
	if path != "" {
		src, err = os.ReadFile(path)
	} else {
		src, err = templates.ReadFile("templates/outreach.html")
	}
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}
	t, err := template.New("outreach").Option("missingkey=error").Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return &Renderer{tmpl: t, senderName: senderName, senderEmail: senderEmail}, nil
}

type view struct {
	AuthorName  string
	PaperTitle  string
	Venue       string
	Year        int
	Citations   int
	SenderName  string
	SenderEmail string
}

// Render fills the template. Absent venue, year and citations drop their
// sentence fragments instead of leaving placeholders.
func (r *Renderer) Render(in Input) (Output, error) {
	v := view{
		AuthorName:  strings.TrimSpace(in.AuthorName),
		PaperTitle:  strings.TrimSpace(in.PaperTitle),
		Venue:       strings.TrimSpace(in.Venue),
		SenderName:  r.senderName,
		SenderEmail: r.senderEmail,
	}
	if v.AuthorName == "" {
		v.AuthorName = DefaultAuthorName
	}
	if v.PaperTitle == "" {
		v.PaperTitle = "your recent work"
	}
	if in.Year != nil && *in.Year > 0 {
		v.Year = *in.Year
	}
	if in.Citations != nil && *in.Citations > 0 {
		v.Citations = *in.Citations
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, v); err != nil {
		return Output{}, fmt.Errorf("render template: %w", err)
	}
	return Output{Subject: DefaultSubject(in.PaperTitle), HTML: buf.String()}, nil
}

// DefaultSubject is used when the caller supplies no subject.
func DefaultSubject(title string) string {
	title = strings.Join(strings.Fields(title), " ")
	if title == "" {
		return "Question about your research"
	}
	return fmt.Sprintf("Question about your paper “%s”", title)
}
