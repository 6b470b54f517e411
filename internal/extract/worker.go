// Package extract resolves author emails for one article: a homepage pass
// per author, then at most one document fallback pass per article.
package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"scholardock/internal/netgate"
	"scholardock/pkg/logger"
	"scholardock/pkg/models"
	"scholardock/pkg/utils"
)

// ErrAllSourcesFailed means every attempted fetch errored. Finding nothing
// is not an error.
var ErrAllSourcesFailed = errors.New("all extraction sources failed")

// Extractor is what the extraction manager schedules.
type Extractor interface {
	Extract(ctx context.Context, a models.Article) (Result, error)
}

type Result struct {
	Emails   []models.AuthorEmail
	Fallback []string
}

type Config struct {
	MaxPageBytes          int64
	MaxDocumentBytes      int64
	MaxDocumentCandidates int
	MaxFallbackEmails     int
}

// ConfigFrom maps the extraction section of the app config.
func ConfigFrom(c utils.ExtractionConfig) Config {
	return Config{
		MaxPageBytes:          4 << 20,
		MaxDocumentBytes:      c.MaxDocumentBytes,
		MaxDocumentCandidates: c.MaxDocumentCandidates,
		MaxFallbackEmails:     c.MaxFallbackEmails,
	}
}

type Worker struct {
	fetch Fetcher
	docs  DocumentReader
	cfg   Config
	log   logger.Logger
}

func NewWorker(fetch Fetcher, docs DocumentReader, cfg Config, log logger.Logger) *Worker {
	if log == nil {
		log = logger.NewNop()
	}
	if docs == nil {
		docs = PDFReader{}
	}
	if cfg.MaxPageBytes <= 0 {
		cfg.MaxPageBytes = 4 << 20
	}
	if cfg.MaxDocumentBytes <= 0 {
		cfg.MaxDocumentBytes = 20 << 20
	}
	if cfg.MaxDocumentCandidates <= 0 {
		cfg.MaxDocumentCandidates = 5
	}
	if cfg.MaxFallbackEmails <= 0 {
		cfg.MaxFallbackEmails = 3
	}
	return &Worker{fetch: fetch, docs: docs, cfg: cfg, log: log}
}

// Extract returns one AuthorEmail per author link, in link order. It fails
// fast with netgate.ErrNetworkUnavailable when the gate is down, and with
// ErrAllSourcesFailed only when every attempted source errored.
func (w *Worker) Extract(ctx context.Context, a models.Article) (Result, error) {
	log := w.log.With(logger.Int64("article_id", a.ID))

	if err := w.fetch.Available(ctx); err != nil {
		return Result{}, err
	}

	out := make([]models.AuthorEmail, len(a.AuthorLinks))
	assigned := make(map[string]bool)
	var profiles []*goquery.Document
	var attempts, failures int
	var lastErr error

	for i, link := range a.AuthorLinks {
		out[i] = models.AuthorEmail{Name: link.Name, Source: models.SourceNotExtracted}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}

		homepage, profile, err := w.resolveHomepage(ctx, link)
		if profile != nil {
			profiles = append(profiles, profile)
		}
		if err != nil {
			attempts++
			failures++
			lastErr = err
			log.Debug("profile lookup failed", logger.String("author", link.Name), logger.Error(err))
			continue
		}
		if homepage == "" {
			continue
		}
		out[i].Homepage = homepage

		attempts++
		emails, err := w.homepageEmails(ctx, homepage)
		if err != nil {
			failures++
			lastErr = err
			log.Debug("homepage fetch failed", logger.String("author", link.Name), logger.Error(err))
			continue
		}
		for _, e := range emails {
			if assigned[e] {
				continue
			}
			assigned[e] = true
			out[i].Email = models.StringPtr(e)
			out[i].Source = models.SourceHomepage
			log.Debug("homepage email found", logger.String("author", link.Name), logger.String("source", string(models.SourceHomepage)))
			break
		}
	}

	var unresolved []string
	for _, ae := range out {
		if !ae.HasEmail() {
			unresolved = append(unresolved, ae.Name)
		}
	}

	var fallback []string
	if len(unresolved) > 0 {
		found, tried, err := w.fallbackPass(ctx, log, a, profiles)
		if tried {
			attempts++
		}
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			failures++
			lastErr = err
			log.Debug("document fallback failed", logger.Error(err))
		}

		var fresh []string
		for _, e := range found {
			if !assigned[e] {
				fresh = append(fresh, e)
			}
		}
		matched, residue := MatchAuthors(unresolved, fresh)
		for _, m := range matched {
			for i := range out {
				if out[i].Name == m.Author && !out[i].HasEmail() {
					out[i].Email = models.StringPtr(m.Email)
					out[i].Source = models.SourceDocumentFallback
					break
				}
			}
		}
		fallback = residue
	}

	if attempts > 0 && failures == attempts {
		return Result{}, fmt.Errorf("%w: %v", ErrAllSourcesFailed, lastErr)
	}
	return Result{Emails: out, Fallback: fallback}, nil
}

// fallbackPass runs the document fallback once. tried is false when no
// candidate document could even be looked for.
func (w *Worker) fallbackPass(ctx context.Context, log logger.Logger, a models.Article, profiles []*goquery.Document) ([]string, bool, error) {
	if a.PDFURL == "" && a.URL == "" && len(profiles) == 0 {
		return nil, false, nil
	}
	candidates, err := w.documentCandidates(ctx, a, profiles)
	if err != nil {
		return nil, true, err
	}
	if len(candidates) == 0 {
		return nil, a.URL != "", nil
	}
	emails, err := w.documentEmails(ctx, log, candidates)
	return emails, true, err
}

var _ Fetcher = (*netgate.Gate)(nil)
