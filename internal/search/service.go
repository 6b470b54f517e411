package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"scholardock/pkg/logger"
	"scholardock/pkg/models"
)

var (
	ErrEmptyKeyword  = errors.New("keyword is required")
	ErrInvalidRange  = errors.New("start_year is after end_year")
	ErrNoProviders   = errors.New("no search providers configured")
	ErrProviderFails = errors.New("all search providers failed")
)

const (
	SortCitations        = "citations"
	SortCitationsPerYear = "citations_per_year"
	SortYear             = "year"
)

// Store is the part of the article store a search writes to.
type Store interface {
	CreateSearch(ctx context.Context, s models.Search) (int64, error)
	SaveArticles(ctx context.Context, searchID int64, articles []models.Article) error
	DeleteSearch(ctx context.Context, id int64) (bool, error)
	GetSearch(ctx context.Context, id int64) (*models.Search, error)
}

// Seen answers and records whether a paper appeared in an earlier search.
type Seen interface {
	HasPaper(ctx context.Context, paperIdentity string) (bool, error)
	RecordSearchPapers(ctx context.Context, searchID int64, identities []string) error
}

type Request struct {
	Keyword           string `json:"keyword" binding:"required"`
	NumResults        int    `json:"num_results"`
	StartYear         *int   `json:"start_year"`
	EndYear           *int   `json:"end_year"`
	SortBy            string `json:"sort_by"`
	FilterByTitle     bool   `json:"filter_by_title"`
	ExcludeDuplicates bool   `json:"exclude_duplicates"`
}

type Service struct {
	Providers []Provider
	Store     Store
	Seen      Seen
	Log       logger.Logger
	Timeout   time.Duration
	now       func() time.Time
}

func NewService(store Store, seen Seen, log logger.Logger, timeout time.Duration, providers ...Provider) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		Providers: providers,
		Store:     store,
		Seen:      seen,
		Log:       log,
		Timeout:   timeout,
		now:       time.Now,
	}
}

// Run executes one search end to end and returns the persisted Search with
// its articles in final order.
func (s *Service) Run(ctx context.Context, req Request) (*models.Search, error) {
	req.Keyword = strings.TrimSpace(req.Keyword)
	if req.Keyword == "" {
		return nil, ErrEmptyKeyword
	}
	if req.StartYear != nil && req.EndYear != nil && *req.StartYear > *req.EndYear {
		return nil, ErrInvalidRange
	}
	if len(s.Providers) == 0 {
		return nil, ErrNoProviders
	}
	if req.NumResults <= 0 {
		req.NumResults = 20
	}

	search := models.Search{
		Keyword:   req.Keyword,
		StartYear: req.StartYear,
		EndYear:   req.EndYear,
		CreatedAt: s.now().UTC(),
	}
	id, err := s.Store.CreateSearch(ctx, search)
	if err != nil {
		return nil, fmt.Errorf("create search: %w", err)
	}
	search.ID = id
	log := s.Log.With(logger.Int64("search_id", id), logger.String("keyword", req.Keyword))

	articles, err := s.collect(ctx, log, Query{
		Keyword:    req.Keyword,
		NumResults: req.NumResults,
		StartYear:  req.StartYear,
		EndYear:    req.EndYear,
	})
	if err != nil {
		s.discard(id, log)
		return nil, err
	}

	if req.FilterByTitle {
		articles = filterByTitle(articles, req.Keyword)
	}
	if req.ExcludeDuplicates {
		if articles, err = s.excludeSeen(ctx, articles); err != nil {
			s.discard(id, log)
			return nil, err
		}
	}

	now := s.now()
	for i := range articles {
		if articles[i].CitationsPerYear == 0 && articles[i].Citations != nil && articles[i].Year != nil {
			articles[i].CitationsPerYear = citationsPerYear(*articles[i].Citations, *articles[i].Year, now)
		}
	}
	sortArticles(articles, req.SortBy)
	if len(articles) > req.NumResults {
		articles = articles[:req.NumResults]
	}

	if err := s.Store.SaveArticles(ctx, id, articles); err != nil {
		s.discard(id, log)
		return nil, fmt.Errorf("save articles: %w", err)
	}

	identities := make([]string, len(articles))
	for i, a := range articles {
		identities[i] = a.PaperIdentity()
	}
	// a search whose papers are not marked seen would leak into later
	// exclude-duplicates runs
	if err := s.Seen.RecordSearchPapers(ctx, id, identities); err != nil {
		s.discard(id, log)
		return nil, fmt.Errorf("record seen papers: %w", err)
	}

	search.TotalResults = len(articles)
	search.Articles = articles
	log.Info("search completed", logger.Int("results", len(articles)))
	return &search, nil
}

func (s *Service) collect(ctx context.Context, log logger.Logger, q Query) ([]models.Article, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	var (
		lists   [][]models.Article
		lastErr error
	)
	for _, p := range s.Providers {
		found, err := p.Search(ctx, q)
		if err != nil {
			// one broken provider should not sink the search
			log.Warn("provider failed", logger.String("provider", p.Name()), logger.Error(err))
			lastErr = err
			continue
		}
		log.Debug("provider results", logger.String("provider", p.Name()), logger.Int("count", len(found)))
		lists = append(lists, found)
	}
	if len(lists) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrProviderFails, lastErr)
	}
	return mergeResults(lists...), nil
}

func (s *Service) excludeSeen(ctx context.Context, articles []models.Article) ([]models.Article, error) {
	out := articles[:0]
	for _, a := range articles {
		seen, err := s.Seen.HasPaper(ctx, a.PaperIdentity())
		if err != nil {
			return nil, fmt.Errorf("check seen paper: %w", err)
		}
		if !seen {
			out = append(out, a)
		}
	}
	return out, nil
}

// discard removes a half-created search so failed runs leave no history row.
func (s *Service) discard(id int64, log logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.Store.DeleteSearch(ctx, id); err != nil {
		log.Warn("discard search failed", logger.Error(err))
	}
}

// filterByTitle keeps articles whose title contains every keyword term.
func filterByTitle(articles []models.Article, keyword string) []models.Article {
	terms := strings.Fields(models.NormalizeTitle(keyword))
	if len(terms) == 0 {
		return articles
	}
	out := articles[:0]
	for _, a := range articles {
		title := " " + a.PaperIdentity() + " "
		keep := true
		for _, t := range terms {
			if !strings.Contains(title, t) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, a)
		}
	}
	return out
}

// sortArticles orders descending by the chosen key; unknown keys keep
// provider order. Missing values sort last.
func sortArticles(articles []models.Article, by string) {
	var key func(a models.Article) (float64, bool)
	switch by {
	case SortCitations:
		key = func(a models.Article) (float64, bool) {
			if a.Citations == nil {
				return 0, false
			}
			return float64(*a.Citations), true
		}
	case SortCitationsPerYear:
		key = func(a models.Article) (float64, bool) { return a.CitationsPerYear, true }
	case SortYear:
		key = func(a models.Article) (float64, bool) {
			if a.Year == nil {
				return 0, false
			}
			return float64(*a.Year), true
		}
	default:
		return
	}
	sort.SliceStable(articles, func(i, j int) bool {
		vi, oki := key(articles[i])
		vj, okj := key(articles[j])
		if oki != okj {
			return oki
		}
		return vi > vj
	})
}
