package models

import (
	"strings"
	"time"
	"unicode"
)

// EmailSource records where an author email came from.
type EmailSource string

const (
	SourceHomepage         EmailSource = "homepage"
	SourceDocumentFallback EmailSource = "document_fallback"
	SourceNotExtracted     EmailSource = "not_extracted"
)

// ExtractionState is the per-article lifecycle of email extraction.
type ExtractionState string

const (
	ExtractionNotStarted ExtractionState = "not_started"
	ExtractionInProgress ExtractionState = "in_progress"
	ExtractionDone       ExtractionState = "done"
	ExtractionFailed     ExtractionState = "failed"
)

// AuthorLink is one author as listed by the search provider.
// ProfileURL points at the author's index profile page, HomepageURL at a
// personal site when the provider already knows it.
type AuthorLink struct {
	Name        string `json:"name"`
	HomepageURL string `json:"homepage_url,omitempty"`
	ProfileURL  string `json:"profile_url,omitempty"`
}

// AuthorEmail is the extraction outcome for one author. A nil Email with a
// concrete Source means the author was looked up and nothing was found.
type AuthorEmail struct {
	Name     string      `json:"name"`
	Email    *string     `json:"email"`
	Source   EmailSource `json:"source"`
	Homepage string      `json:"homepage,omitempty"`
}

// HasEmail reports whether the entry carries an address.
func (a AuthorEmail) HasEmail() bool {
	return a.Email != nil && strings.TrimSpace(*a.Email) != ""
}

// Address returns the email or "".
func (a AuthorEmail) Address() string {
	if a.Email == nil {
		return ""
	}
	return strings.TrimSpace(*a.Email)
}

// StringPtr is a small helper for optional fields.
func StringPtr(s string) *string { return &s }

type Article struct {
	ID               int64           `json:"id"`
	SearchID         int64           `json:"search_id"`
	Title            string          `json:"title"`
	Authors          string          `json:"authors,omitempty"`
	AuthorLinks      []AuthorLink    `json:"author_links"`
	AuthorEmails     []AuthorEmail   `json:"author_emails,omitempty"`
	FallbackEmails   []string        `json:"fallback_emails,omitempty"`
	ExtractionState  ExtractionState `json:"extraction_state"`
	ExtractionError  string          `json:"extraction_error,omitempty"`
	Venue            string          `json:"venue,omitempty"`
	Publisher        string          `json:"publisher,omitempty"`
	Year             *int            `json:"year,omitempty"`
	Citations        *int            `json:"citations,omitempty"`
	CitationsPerYear float64         `json:"citations_per_year"`
	Description      string          `json:"description,omitempty"`
	URL              string          `json:"url,omitempty"`
	PDFURL           string          `json:"pdf_url,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// PaperIdentity is the dedup key of the article across searches.
func (a Article) PaperIdentity() string {
	return NormalizeTitle(a.Title)
}

// NormalizeTitle lowercases, drops punctuation and collapses whitespace so
// the same paper found by two searches maps to one identity.
func NormalizeTitle(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(s))

	prevSpace := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			prevSpace = false
			continue
		}
		if !prevSpace {
			b.WriteRune(' ')
			prevSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

type Search struct {
	ID           int64     `json:"id"`
	Keyword      string    `json:"keyword"`
	StartYear    *int      `json:"start_year,omitempty"`
	EndYear      *int      `json:"end_year,omitempty"`
	TotalResults int       `json:"total_results"`
	CreatedAt    time.Time `json:"created_at"`
	Articles     []Article `json:"articles,omitempty"`
}
