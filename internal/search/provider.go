package search

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"scholardock/internal/netgate"
	"scholardock/pkg/models"
)

// Query is what a provider is asked for.
type Query struct {
	Keyword    string
	NumResults int
	StartYear  *int
	EndYear    *int
}

// Provider is one external literature index. Implementations map their own
// response format into models.Article.
type Provider interface {
	Name() string
	Search(ctx context.Context, q Query) ([]models.Article, error)
}

// Fetcher is the subset of the network gate a provider needs.
type Fetcher interface {
	Available(ctx context.Context) error
	Fetch(ctx context.Context, rawURL string, maxBytes int64) (*netgate.Page, error)
}

// HTTPProvider queries a JSON search endpoint:
//
//	GET {BaseURL}/search?q=...&num=50&start_year=2019&end_year=2024
//	{"results": [{"title": "...", "authors": "...", "author_links": [...],
//	  "venue": "...", "year": 2021, "citations": 12, "url": "...", ...}]}
type HTTPProvider struct {
	BaseURL string
	Fetch   Fetcher
	// MaxBytes caps the response body.
	MaxBytes int64
	now      func() time.Time
}

func NewHTTPProvider(baseURL string, fetch Fetcher) *HTTPProvider {
	return &HTTPProvider{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Fetch:    fetch,
		MaxBytes: 16 << 20,
		now:      time.Now,
	}
}

func (p *HTTPProvider) Name() string { return "http" }

type providerResult struct {
	Title            string              `json:"title"`
	Authors          string              `json:"authors"`
	AuthorLinks      []models.AuthorLink `json:"author_links"`
	Venue            string              `json:"venue"`
	Publisher        string              `json:"publisher"`
	Year             *int                `json:"year"`
	Citations        *int                `json:"citations"`
	CitationsPerYear float64             `json:"citations_per_year"`
	Description      string              `json:"description"`
	URL              string              `json:"url"`
	PDFURL           string              `json:"pdf_url"`
}

func (p *HTTPProvider) Search(ctx context.Context, q Query) ([]models.Article, error) {
	if err := p.Fetch.Available(ctx); err != nil {
		return nil, err
	}

	u, err := url.Parse(p.BaseURL + "/search")
	if err != nil {
		return nil, fmt.Errorf("%s: parse base url: %w", p.Name(), err)
	}
	v := u.Query()
	v.Set("q", q.Keyword)
	if q.NumResults > 0 {
		v.Set("num", strconv.Itoa(q.NumResults))
	}
	if q.StartYear != nil {
		v.Set("start_year", strconv.Itoa(*q.StartYear))
	}
	if q.EndYear != nil {
		v.Set("end_year", strconv.Itoa(*q.EndYear))
	}
	u.RawQuery = v.Encode()

	page, err := p.Fetch.Fetch(ctx, u.String(), p.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("%s: fetch: %w", p.Name(), err)
	}

	var body struct {
		Results []providerResult `json:"results"`
	}
	if err := json.Unmarshal(page.Body, &body); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", p.Name(), err)
	}

	out := make([]models.Article, 0, len(body.Results))
	for _, r := range body.Results {
		title := strings.TrimSpace(r.Title)
		if title == "" {
			continue
		}
		a := models.Article{
			Title:            title,
			Authors:          strings.TrimSpace(r.Authors),
			AuthorLinks:      r.AuthorLinks,
			Venue:            strings.TrimSpace(r.Venue),
			Publisher:        strings.TrimSpace(r.Publisher),
			CitationsPerYear: r.CitationsPerYear,
			Description:      strings.TrimSpace(r.Description),
			URL:              r.URL,
			PDFURL:           r.PDFURL,
		}
		if r.Year != nil && *r.Year > 0 {
			a.Year = r.Year
		}
		if r.Citations != nil && *r.Citations >= 0 {
			a.Citations = r.Citations
		}
		if a.CitationsPerYear == 0 && a.Citations != nil && a.Year != nil {
			a.CitationsPerYear = citationsPerYear(*a.Citations, *a.Year, p.now())
		}
		out = append(out, a)
	}
	return out, nil
}

// citationsPerYear divides by at least one year and rounds to two places.
func citationsPerYear(citations, year int, now time.Time) float64 {
	if citations <= 0 || year <= 0 {
		return 0
	}
	years := now.Year() - year
	if years < 1 {
		years = 1
	}
	return math.Round(float64(citations)/float64(years)*100) / 100
}
