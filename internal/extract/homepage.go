package extract

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"scholardock/internal/netgate"
	"scholardock/pkg/models"
)

var githubPagesRe = regexp.MustCompile(`https?://[a-zA-Z0-9\-_.]+\.github\.io/?`)

var excludedHomepageHosts = []string{
	"google.com", "gmail.com", "googleusercontent.com", "gstatic.com",
	"facebook.com", "twitter.com", "x.com", "linkedin.com",
	"researchgate.net", "orcid.org",
}

// Fetcher is the subset of the network gate extraction needs.
type Fetcher interface {
	Available(ctx context.Context) error
	Fetch(ctx context.Context, rawURL string, maxBytes int64) (*netgate.Page, error)
}

// parseHTML turns a fetched page into a goquery document. Broken markup is
// not an error; the parser is lenient.
func parseHTML(page *netgate.Page) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", page.URL, err)
	}
	doc.Url = page.URL
	return doc, nil
}

// personalHomepage reports whether raw is the root of a GitHub Pages site
// that is not one of the index or social hosts.
func personalHomepage(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range excludedHomepageHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return "", false
		}
	}
	if !strings.HasSuffix(host, ".github.io") {
		return "", false
	}
	if p := strings.Trim(u.Path, "/"); p != "" {
		return "", false
	}
	return u.Scheme + "://" + host + "/", true
}

// homepageFromProfile picks the first personal homepage linked from an
// author's index profile. Anchors are checked before raw page text.
func homepageFromProfile(doc *goquery.Document, raw []byte) string {
	var found string
	doc.Find(`a[href]`).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if hp, ok := personalHomepage(href); ok {
			found = hp
			return false
		}
		return true
	})
	if found != "" {
		return found
	}
	for _, m := range githubPagesRe.FindAll(raw, -1) {
		if hp, ok := personalHomepage(string(m)); ok {
			return hp
		}
	}
	return ""
}

// resolveHomepage returns the author's homepage, fetching the profile page
// when only the profile is known. The parsed profile is returned for later
// document discovery. An empty homepage with nil error means the profile
// has no usable link.
func (w *Worker) resolveHomepage(ctx context.Context, link models.AuthorLink) (string, *goquery.Document, error) {
	if link.HomepageURL != "" {
		return link.HomepageURL, nil, nil
	}
	if link.ProfileURL == "" {
		return "", nil, nil
	}
	page, err := w.fetch.Fetch(ctx, link.ProfileURL, w.cfg.MaxPageBytes)
	if err != nil {
		return "", nil, fmt.Errorf("fetch profile: %w", err)
	}
	doc, err := parseHTML(page)
	if err != nil {
		return "", nil, nil
	}
	return homepageFromProfile(doc, page.Body), doc, nil
}

// homepageEmails fetches the homepage and scans it.
func (w *Worker) homepageEmails(ctx context.Context, homepage string) ([]string, error) {
	page, err := w.fetch.Fetch(ctx, homepage, w.cfg.MaxPageBytes)
	if err != nil {
		return nil, fmt.Errorf("fetch homepage: %w", err)
	}
	doc, err := parseHTML(page)
	if err != nil {
		return nil, nil
	}
	return ScanHTML(doc), nil
}
