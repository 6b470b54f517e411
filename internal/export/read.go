package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"scholardock/pkg/models"
)

var ErrMissingTitle = errors.New("csv has no title column")

// ReadCSV parses a file written by WriteCSV back into articles. Columns are
// matched by header name so hand-edited files with reordered or missing
// columns still load. Ids are not carried over.
func ReadCSV(r io.Reader) ([]models.Article, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	first, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	cols := make(map[string]int, len(first))
	for i, name := range first {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := cols["title"]; !ok {
		return nil, ErrMissingTitle
	}

	var out []models.Article
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		get := func(key string) string {
			i, ok := cols[key]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		title := get("title")
		if title == "" {
			continue
		}
		a := models.Article{
			Title:          title,
			Authors:        get("authors"),
			Venue:          get("venue"),
			Publisher:      get("publisher"),
			URL:            get("url"),
			PDFURL:         get("pdf_url"),
			Description:    get("description"),
			AuthorEmails:   parseAuthorEmails(get("author_emails")),
			FallbackEmails: splitList(get("fallback_emails")),
		}
		if a.Year, err = parseOptInt(get("year")); err != nil {
			return nil, fmt.Errorf("line %d: year: %w", line, err)
		}
		if a.Citations, err = parseOptInt(get("citations")); err != nil {
			return nil, fmt.Errorf("line %d: citations: %w", line, err)
		}
		if raw := get("citations_per_year"); raw != "" {
			if a.CitationsPerYear, err = strconv.ParseFloat(raw, 64); err != nil {
				return nil, fmt.Errorf("line %d: citations_per_year: %w", line, err)
			}
		}
		out = append(out, a)
	}
	return out, nil
}

func parseOptInt(raw string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ";") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseAuthorEmails reverses authorEmails. Entries without angle brackets are
// taken as a bare address.
func parseAuthorEmails(raw string) []models.AuthorEmail {
	var out []models.AuthorEmail
	for _, p := range splitList(raw) {
		name, addr := "", p
		if open := strings.LastIndex(p, "<"); open >= 0 && strings.HasSuffix(p, ">") {
			name = strings.TrimSpace(p[:open])
			addr = strings.TrimSpace(p[open+1 : len(p)-1])
		}
		if addr == "" {
			continue
		}
		out = append(out, models.AuthorEmail{
			Name:   name,
			Email:  models.StringPtr(addr),
			Source: models.SourceHomepage,
		})
	}
	return out
}
