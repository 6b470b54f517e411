package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"scholardock/pkg/logger"
	"scholardock/pkg/models"
)

// DocumentReader turns a downloaded full-text document into plain text of
// its leading pages.
type DocumentReader interface {
	LeadingText(data []byte) (string, error)
}

var errNotPDF = errors.New("not a pdf document")

// PDFReader trims the document to its leading pages with pdfcpu and reads
// their text with a font-aware decoder, so CID fonts with ToUnicode maps
// come out as real characters.
type PDFReader struct {
	// Pages is a pdfcpu page selection such as "1" or "1-2".
	Pages string
}

func (p PDFReader) LeadingText(data []byte) (string, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\r\n\t "), []byte("%PDF")) {
		return "", errNotPDF
	}
	pages := p.Pages
	if pages == "" {
		pages = "1"
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	conf.WriteObjectStream = false
	conf.WriteXRefStream = false
	var trimmed bytes.Buffer
	if err := api.Trim(bytes.NewReader(data), &trimmed, []string{pages}, conf); err == nil {
		if text, err := plainText(trimmed.Bytes(), 0); err == nil {
			return text, nil
		}
	}
	// pdfcpu rejects some files the text reader still handles
	return plainText(data, lastPage(pages))
}

// plainText decodes the text of the first maxPages pages, all pages when
// maxPages is zero.
func plainText(data []byte, maxPages int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("read pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	n := r.NumPage()
	if maxPages > 0 && maxPages < n {
		n = maxPages
	}

	fonts := make(map[string]*pdf.Font)
	var b strings.Builder
	for i := 1; i <= n; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		for _, name := range page.Fonts() {
			if _, ok := fonts[name]; !ok {
				f := page.Font(name)
				fonts[name] = &f
			}
		}
		t, err := page.GetPlainText(fonts)
		if err != nil {
			return b.String(), fmt.Errorf("page %d text: %w", i, err)
		}
		b.WriteString(t)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// lastPage is the highest page number named in a selection like "1-2,4".
func lastPage(sel string) int {
	last := 0
	for _, part := range strings.FieldsFunc(sel, func(r rune) bool { return r == ',' || r == '-' }) {
		if n, err := strconv.Atoi(strings.TrimSpace(part)); err == nil && n > last {
			last = n
		}
	}
	if last == 0 {
		return 1
	}
	return last
}

// pdfLinks collects citation_pdf_url meta tags and PDF-looking anchors.
func pdfLinks(doc *goquery.Document) []string {
	var out []string
	doc.Find(`meta[name="citation_pdf_url"]`).Each(func(_ int, m *goquery.Selection) {
		if v, ok := m.Attr("content"); ok {
			out = append(out, absoluteURL(doc.Url, v))
		}
	})
	doc.Find(`a[href]`).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		low := strings.ToLower(href)
		if strings.Contains(low, ".pdf") || strings.Contains(low, "arxiv.org/pdf") {
			out = append(out, absoluteURL(doc.Url, href))
		}
	})
	return out
}

func absoluteURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if base != nil && !u.IsAbs() {
		return base.ResolveReference(u).String()
	}
	return u.String()
}

// documentCandidates lists full-text URLs for the article: its own pdf
// link first, then links found on the landing page and on profile pages
// already fetched during the homepage pass.
func (w *Worker) documentCandidates(ctx context.Context, a models.Article, profiles []*goquery.Document) ([]string, error) {
	var urls []string
	if a.PDFURL != "" {
		urls = append(urls, a.PDFURL)
	}

	var landingErr error
	if a.URL != "" && !strings.HasSuffix(strings.ToLower(a.URL), ".pdf") {
		page, err := w.fetch.Fetch(ctx, a.URL, w.cfg.MaxPageBytes)
		if err != nil {
			landingErr = fmt.Errorf("fetch landing page: %w", err)
		} else if doc, err := parseHTML(page); err == nil {
			urls = append(urls, pdfLinks(doc)...)
		}
	} else if a.URL != "" {
		urls = append(urls, a.URL)
	}
	for _, doc := range profiles {
		urls = append(urls, pdfLinks(doc)...)
	}

	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
		if len(out) == w.cfg.MaxDocumentCandidates {
			break
		}
	}
	if len(out) == 0 && landingErr != nil {
		return nil, landingErr
	}
	return out, nil
}

// documentEmails downloads candidates in order until enough unique
// addresses were found. It errors only when every candidate failed.
func (w *Worker) documentEmails(ctx context.Context, log logger.Logger, candidates []string) ([]string, error) {
	set := newEmailSet()
	var failures int
	var lastErr error
	for _, u := range candidates {
		if ctx.Err() != nil {
			return set.list(), ctx.Err()
		}
		page, err := w.fetch.Fetch(ctx, u, w.cfg.MaxDocumentBytes)
		if err != nil {
			failures++
			lastErr = err
			log.Debug("document download failed", logger.String("url", u), logger.Error(err))
			continue
		}
		text, err := w.docs.LeadingText(page.Body)
		if err != nil {
			// unreadable documents count as empty, not as a failed source
			log.Debug("document unreadable", logger.String("url", u), logger.Error(err))
			continue
		}
		for _, e := range ScanText(text) {
			if len(set.list()) >= w.cfg.MaxFallbackEmails {
				break
			}
			set.add(e)
		}
		if len(set.list()) >= w.cfg.MaxFallbackEmails {
			break
		}
	}
	if failures > 0 && failures == len(candidates) {
		return nil, fmt.Errorf("all %d documents failed: %w", failures, lastErr)
	}
	return set.list(), nil
}
