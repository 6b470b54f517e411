// Package export writes the articles of a search in the formats the
// download endpoint and the export command offer.
package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"scholardock/pkg/models"
)

var ErrUnknownFormat = errors.New("unknown export format")

type Format string

const (
	FormatCSV    Format = "csv"
	FormatJSON   Format = "json"
	FormatExcel  Format = "excel"
	FormatBibTeX Format = "bibtex"
)

// ParseFormat accepts the format names and common aliases; empty is CSV.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	case "excel", "xlsx":
		return FormatExcel, nil
	case "bibtex", "bib":
		return FormatBibTeX, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatExcel:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatBibTeX:
		return "text/plain; charset=utf-8"
	default:
		return "text/csv; charset=utf-8"
	}
}

func (f Format) Extension() string {
	switch f {
	case FormatExcel:
		return "xlsx"
	case FormatBibTeX:
		return "bib"
	default:
		return string(f)
	}
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Filename is scholar_results_<keyword>.<ext> with the keyword made safe
// for a Content-Disposition header.
func Filename(keyword string, f Format) string {
	k := strings.Trim(unsafeName.ReplaceAllString(strings.TrimSpace(keyword), "_"), "_")
	if k == "" {
		k = "search"
	}
	return fmt.Sprintf("scholar_results_%s.%s", k, f.Extension())
}

// Write encodes articles to w.
func Write(w io.Writer, f Format, articles []models.Article) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, articles)
	case FormatJSON:
		return WriteJSON(w, articles)
	case FormatExcel:
		return WriteExcel(w, articles)
	case FormatBibTeX:
		return WriteBibTeX(w, articles)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
}

var header = []string{
	"id", "title", "authors", "venue", "publisher", "year", "citations",
	"citations_per_year", "url", "pdf_url", "extraction_state", "author_emails",
	"fallback_emails", "description",
}

func row(a models.Article) []string {
	return []string{
		strconv.FormatInt(a.ID, 10),
		a.Title,
		a.Authors,
		a.Venue,
		a.Publisher,
		optInt(a.Year),
		optInt(a.Citations),
		strconv.FormatFloat(a.CitationsPerYear, 'f', 2, 64),
		a.URL,
		a.PDFURL,
		string(a.ExtractionState),
		authorEmails(a.AuthorEmails),
		strings.Join(a.FallbackEmails, "; "),
		a.Description,
	}
}

// authorEmails renders "Name <addr>" pairs, skipping authors without one.
func authorEmails(list []models.AuthorEmail) string {
	parts := make([]string, 0, len(list))
	for _, e := range list {
		if !e.HasEmail() {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s <%s>", e.Name, e.Address()))
	}
	return strings.Join(parts, "; ")
}

func optInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func WriteCSV(w io.Writer, articles []models.Article) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, a := range articles {
		if err := cw.Write(row(a)); err != nil {
			return fmt.Errorf("write csv row %d: %w", a.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func WriteJSON(w io.Writer, articles []models.Article) error {
	if articles == nil {
		articles = []models.Article{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(articles); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

const sheetName = "Articles"

func WriteExcel(w io.Writer, articles []models.Article) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := setRow(f, 1, header); err != nil {
		return err
	}
	for i, a := range articles {
		if err := setRow(f, i+2, row(a)); err != nil {
			return err
		}
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, n int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}
	vals := make([]any, len(values))
	for i, v := range values {
		vals[i] = v
	}
	if err := f.SetSheetRow(sheetName, cell, &vals); err != nil {
		return fmt.Errorf("set row %d: %w", n, err)
	}
	return nil
}

// WriteBibTeX emits one @article entry per paper, omitting empty fields.
func WriteBibTeX(w io.Writer, articles []models.Article) error {
	var b strings.Builder
	for i, a := range articles {
		authors := a.Authors
		if authors == "" {
			authors = "Unknown"
		}
		fields := [][2]string{
			{"title", a.Title},
			{"author", authors},
			{"year", optInt(a.Year)},
			{"journal", a.Venue},
			{"publisher", a.Publisher},
			{"url", a.URL},
			{"abstract", a.Description},
		}
		fmt.Fprintf(&b, "@article{article%d,\n", i+1)
		for _, kv := range fields {
			if kv[1] == "" {
				continue
			}
			fmt.Fprintf(&b, " %s = {%s},\n", kv[0], bibEscape(kv[1]))
		}
		b.WriteString("}\n\n")
	}
	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write bibtex: %w", err)
	}
	return nil
}

var bibReplacer = strings.NewReplacer("{", `\{`, "}", `\}`, "\n", " ")

func bibEscape(s string) string {
	return bibReplacer.Replace(s)
}
