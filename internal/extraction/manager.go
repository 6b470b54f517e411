// Package extraction owns per-article extraction state. It schedules the
// extract worker for one article or for a whole search and persists every
// outcome before reporting it.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"scholardock/internal/extract"
	"scholardock/pkg/logger"
	"scholardock/pkg/metrics"
	"scholardock/pkg/models"
)

var (
	ErrArticleNotFound = errors.New("article not found")
	ErrNoAuthorLinks   = errors.New("article has no author links")
	ErrClosed          = errors.New("extraction manager closed")
)

const interruptedReason = "interrupted by shutdown"

// Store is the part of the article store the manager reads and writes.
type Store interface {
	GetArticle(ctx context.Context, id int64) (*models.Article, error)
	ListArticles(ctx context.Context, searchID int64) ([]models.Article, error)
	SetExtractionState(ctx context.Context, id int64, state models.ExtractionState, errMsg string) error
	SaveExtraction(ctx context.Context, id int64, emails []models.AuthorEmail, fallback []string) error
	FailInterruptedExtractions(ctx context.Context, reason string) (int64, error)
}

type Config struct {
	Concurrency    int
	ArticleTimeout time.Duration
}

type Manager struct {
	store   Store
	worker  extract.Extractor
	cfg     Config
	log     logger.Logger
	metrics *metrics.Metrics

	flights singleflight.Group

	// bg outlives request contexts so a dropped caller never strands an
	// article in_progress. wg counts every attempt and ExtractAll run.
	bg     context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

func NewManager(store Store, worker extract.Extractor, cfg Config, log logger.Logger, m *metrics.Metrics) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 4
	}
	if cfg.ArticleTimeout <= 0 {
		cfg.ArticleTimeout = 3 * time.Minute
	}
	bg, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:   store,
		worker:  worker,
		cfg:     cfg,
		log:     log,
		metrics: m,
		bg:      bg,
		cancel:  cancel,
	}
}

// ExtractOne runs extraction for one article and returns the stored
// result. Concurrent calls for the same article share one attempt.
func (m *Manager) ExtractOne(ctx context.Context, articleID int64) (*models.Article, error) {
	ch := m.flights.DoChan(strconv.FormatInt(articleID, 10), func() (any, error) {
		if !m.track() {
			return nil, ErrClosed
		}
		defer m.wg.Done()
		return m.run(articleID)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		a := res.Val.(*models.Article)
		return a, nil
	case <-ctx.Done():
		// the attempt keeps running and will still persist its outcome
		return nil, ctx.Err()
	}
}

func (m *Manager) run(articleID int64) (*models.Article, error) {
	log := m.log.With(logger.Int64("article_id", articleID))

	ctx, cancel := context.WithTimeout(m.bg, m.cfg.ArticleTimeout)
	defer cancel()

	a, err := m.store.GetArticle(ctx, articleID)
	if err != nil {
		return nil, fmt.Errorf("get article: %w", err)
	}
	if a == nil {
		return nil, ErrArticleNotFound
	}
	if len(a.AuthorLinks) == 0 {
		if err := m.store.SetExtractionState(ctx, articleID, models.ExtractionFailed, ErrNoAuthorLinks.Error()); err != nil {
			return nil, fmt.Errorf("set state: %w", err)
		}
		m.observe(models.ExtractionFailed)
		return nil, ErrNoAuthorLinks
	}

	if err := m.store.SetExtractionState(ctx, articleID, models.ExtractionInProgress, ""); err != nil {
		return nil, fmt.Errorf("set state: %w", err)
	}
	if m.metrics != nil {
		m.metrics.ExtractionsInFlight.Inc()
		defer m.metrics.ExtractionsInFlight.Dec()
	}

	started := time.Now()
	res, exErr := m.worker.Extract(ctx, *a)

	// terminal writes must land even if the attempt timed out
	wctx, wcancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer wcancel()

	if exErr != nil {
		log.Warn("extraction failed", logger.Error(exErr), logger.Duration("took", time.Since(started)))
		if err := m.store.SetExtractionState(wctx, articleID, models.ExtractionFailed, exErr.Error()); err != nil {
			log.Error("persist failed state", logger.Error(err))
		}
		m.observe(models.ExtractionFailed)
		return nil, fmt.Errorf("extract article %d: %w", articleID, exErr)
	}

	if err := m.store.SaveExtraction(wctx, articleID, res.Emails, res.Fallback); err != nil {
		log.Error("persist extraction", logger.Error(err))
		_ = m.store.SetExtractionState(wctx, articleID, models.ExtractionFailed, err.Error())
		m.observe(models.ExtractionFailed)
		return nil, fmt.Errorf("save extraction: %w", err)
	}
	m.observe(models.ExtractionDone)

	found := 0
	for _, e := range res.Emails {
		if e.HasEmail() {
			found++
		}
	}
	log.Info("extraction done",
		logger.Int("authors", len(res.Emails)),
		logger.Int("found", found),
		logger.Int("fallback", len(res.Fallback)),
		logger.Duration("took", time.Since(started)))

	out, err := m.store.GetArticle(wctx, articleID)
	if err != nil {
		return nil, fmt.Errorf("reload article: %w", err)
	}
	if out == nil {
		return nil, ErrArticleNotFound
	}
	return out, nil
}

func (m *Manager) observe(state models.ExtractionState) {
	if m.metrics != nil {
		m.metrics.Extractions.WithLabelValues(string(state)).Inc()
	}
}

// ExtractAll schedules every article of the search that has author links
// and returns without waiting. With skipDone, articles already done are
// left alone. At most Concurrency extractions run at once.
func (m *Manager) ExtractAll(ctx context.Context, searchID int64, skipDone bool) (int, error) {
	articles, err := m.store.ListArticles(ctx, searchID)
	if err != nil {
		return 0, fmt.Errorf("list articles: %w", err)
	}

	ids := make([]int64, 0, len(articles))
	for _, a := range articles {
		if len(a.AuthorLinks) == 0 {
			continue
		}
		if skipDone && a.ExtractionState == models.ExtractionDone {
			continue
		}
		ids = append(ids, a.ID)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	log := m.log.With(logger.Int64("search_id", searchID))
	log.Info("extract all scheduled", logger.Int("articles", len(ids)), logger.Int("concurrency", m.cfg.Concurrency))

	if !m.track() {
		return 0, ErrClosed
	}
	go func() {
		defer m.wg.Done()

		g, gctx := errgroup.WithContext(m.bg)
		g.SetLimit(m.cfg.Concurrency)

		var mu sync.Mutex
		var failed int
		for _, id := range ids {
			id := id
			g.Go(func() error {
				if _, err := m.ExtractOne(gctx, id); err != nil {
					mu.Lock()
					failed++
					mu.Unlock()
				}
				// one article failing never stops the rest
				return nil
			})
		}
		_ = g.Wait()
		log.Info("extract all finished", logger.Int("articles", len(ids)), logger.Int("failed", failed))
	}()
	return len(ids), nil
}

// StateView is what callers poll.
type StateView struct {
	ArticleID      int64                  `json:"article_id"`
	State          models.ExtractionState `json:"state"`
	Error          string                 `json:"error,omitempty"`
	AuthorEmails   []models.AuthorEmail   `json:"author_emails"`
	FallbackEmails []string               `json:"fallback_emails"`
}

func (m *Manager) State(ctx context.Context, articleID int64) (*StateView, error) {
	a, err := m.store.GetArticle(ctx, articleID)
	if err != nil {
		return nil, fmt.Errorf("get article: %w", err)
	}
	if a == nil {
		return nil, ErrArticleNotFound
	}
	return &StateView{
		ArticleID:      a.ID,
		State:          a.ExtractionState,
		Error:          a.ExtractionError,
		AuthorEmails:   a.AuthorEmails,
		FallbackEmails: a.FallbackEmails,
	}, nil
}

// Wait blocks until background ExtractAll runs have finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// track registers background work unless the manager is closing.
func (m *Manager) track() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.wg.Add(1)
	return true
}

// Close cancels background work and waits for every attempt, including
// ones whose callers already gave up. Articles caught mid-run are moved to
// failed before Close returns.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()
	m.wg.Wait()
}

// FailInterrupted marks articles left in_progress by a previous process as
// failed. Call it at startup, before any extraction is scheduled.
func (m *Manager) FailInterrupted(ctx context.Context) (int, error) {
	n, err := m.store.FailInterruptedExtractions(ctx, interruptedReason)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.log.Warn("failed interrupted extractions", logger.Int64("articles", n))
	}
	return int(n), nil
}
