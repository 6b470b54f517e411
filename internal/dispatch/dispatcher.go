// Package dispatch runs outreach batches: it collects the recipients of a
// search, skips anyone already contacted, sends through the mail gateway
// with retries and reports every step to the progress channel.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"scholardock/internal/contacted"
	"scholardock/internal/mail"
	"scholardock/internal/render"
	"scholardock/internal/store"
	"scholardock/pkg/logger"
	"scholardock/pkg/metrics"
	"scholardock/pkg/models"
	"scholardock/pkg/utils"
)

var (
	// ErrSetup marks a batch rejected before it was created.
	ErrSetup                = errors.New("batch setup failed")
	ErrNoIncludeFlags       = errors.New("no recipient source selected")
	ErrGatewayNotConfigured = errors.New("mail gateway unusable")
	// ErrRecordFailed marks a delivered message the contacted registry could
	// not store after every retry. The outcome is still sent.
	ErrRecordFailed         = errors.New("record contacted failed")
)

const (
	stepSending  = "batch_sending"
	stepComplete = "batch_complete"
)

type Articles interface {
	GetSearch(ctx context.Context, id int64) (*models.Search, error)
	ListArticles(ctx context.Context, searchID int64) ([]models.Article, error)
}

type Registry interface {
	HasRecipient(ctx context.Context, email string) (bool, error)
	HasPair(ctx context.Context, email, paperIdentity string) (bool, error)
	Record(ctx context.Context, email, paperIdentity, batchID string) error
}

type Publisher interface {
	Open(snap models.Snapshot)
	Publish(ev models.ProgressEvent) (models.ProgressEvent, error)
}

type Renderer interface {
	Render(in render.Input) (render.Output, error)
}

type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	SendTimeout    time.Duration
	// RatePerMinute caps send attempts across all batches; 0 is unlimited.
	RatePerMinute float64
	Burst         int
	DedupScope    string
}

func ConfigFrom(d utils.DispatchConfig, m utils.MailConfig) Config {
	return Config{
		MaxAttempts:    d.MaxAttempts,
		InitialBackoff: d.InitialBackoff,
		MaxBackoff:     d.MaxBackoff,
		Multiplier:     d.BackoffMultiplier,
		SendTimeout:    m.SendTimeout,
		RatePerMinute:  d.SendRatePerMinute,
		Burst:          d.SendBurst,
		DedupScope:     d.DedupScope,
	}
}

type Deps struct {
	Articles Articles
	Jobs     *JobRepo
	Registry Registry
	Gateway  mail.Gateway
	Renderer Renderer
	Progress Publisher
	Log      logger.Logger
	Metrics  *metrics.Metrics
}

type Dispatcher struct {
	articles Articles
	jobs     *JobRepo
	registry Registry
	gateway  mail.Gateway
	renderer Renderer
	progress Publisher
	log      logger.Logger
	metrics  *metrics.Metrics

	cfg     Config
	locks   *contacted.KeyedMutex
	limiter *rate.Limiter

	mu      sync.Mutex
	running map[int64]string // search id -> batch id

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDispatcher(deps Deps, cfg Config) *Dispatcher {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.DedupScope == "" {
		cfg.DedupScope = utils.DedupRecipient
	}
	limit := rate.Inf
	if cfg.RatePerMinute > 0 {
		limit = rate.Limit(cfg.RatePerMinute / 60)
	}
	if deps.Log == nil {
		deps.Log = logger.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		articles: deps.Articles,
		jobs:     deps.Jobs,
		registry: deps.Registry,
		gateway:  deps.Gateway,
		renderer: deps.Renderer,
		progress: deps.Progress,
		log:      deps.Log,
		metrics:  deps.Metrics,
		cfg:      cfg,
		locks:    contacted.NewKeyedMutex(),
		limiter:  rate.NewLimiter(limit, cfg.Burst),
		running:  make(map[int64]string),
		ctx:      ctx,
		cancel:   cancel,
	}
}

type Request struct {
	SearchID              int64  `json:"search_id"`
	Subject               string `json:"subject"`
	IncludeHomepageEmails bool   `json:"include_homepage_emails"`
	IncludeFallbackEmails bool   `json:"include_fallback_emails"`
}

// StartBatch validates the request, creates the job and returns it while
// sending continues in the background. A search with a batch still running
// gets that batch back instead of a second one.
func (d *Dispatcher) StartBatch(ctx context.Context, req Request) (*models.BatchJob, error) {
	if !req.IncludeHomepageEmails && !req.IncludeFallbackEmails {
		return nil, fmt.Errorf("%w: %w", ErrSetup, ErrNoIncludeFlags)
	}
	if job, err := d.runningJob(ctx, req.SearchID); job != nil || err != nil {
		return job, err
	}

	search, err := d.articles.GetSearch(ctx, req.SearchID)
	if err != nil {
		return nil, fmt.Errorf("load search: %w", err)
	}
	if search == nil {
		return nil, fmt.Errorf("%w: %w", ErrSetup, store.ErrSearchNotFound)
	}
	if err := d.gateway.Verify(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w: %v", ErrSetup, ErrGatewayNotConfigured, err)
	}
	articles, err := d.articles.ListArticles(ctx, req.SearchID)
	if err != nil {
		return nil, fmt.Errorf("load articles: %w", err)
	}
	recipients := BuildRecipients(articles, req.IncludeHomepageEmails, req.IncludeFallbackEmails)

	job := models.BatchJob{
		ID:                    uuid.NewString(),
		SearchID:              req.SearchID,
		Subject:               req.Subject,
		IncludeHomepageEmails: req.IncludeHomepageEmails,
		IncludeFallbackEmails: req.IncludeFallbackEmails,
		Status:                models.BatchRunning,
		Total:                 len(recipients),
		CreatedAt:             time.Now().UTC(),
	}

	d.mu.Lock()
	if id, ok := d.running[req.SearchID]; ok {
		d.mu.Unlock()
		return d.jobs.Get(ctx, id)
	}
	if err := d.jobs.Create(ctx, job); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	d.running[req.SearchID] = job.ID
	d.progress.Open(models.Snapshot{BatchID: job.ID, Status: job.Status, Total: job.Total})
	d.wg.Add(1)
	d.mu.Unlock()

	go d.run(job, recipients)
	return &job, nil
}

func (d *Dispatcher) runningJob(ctx context.Context, searchID int64) (*models.BatchJob, error) {
	d.mu.Lock()
	id, ok := d.running[searchID]
	d.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return d.jobs.Get(ctx, id)
}

// Get returns nil, nil for an unknown batch.
func (d *Dispatcher) Get(ctx context.Context, id string) (*models.BatchJob, error) {
	return d.jobs.Get(ctx, id)
}

func (d *Dispatcher) List(ctx context.Context, searchID int64) ([]models.BatchJob, error) {
	return d.jobs.ListBySearch(ctx, searchID)
}

// Recover fails batches a previous process left running.
func (d *Dispatcher) Recover(ctx context.Context) error {
	n, err := d.jobs.FailInterrupted(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		d.log.Warn("marked interrupted batches failed", logger.Int64("count", n))
	}
	return nil
}

// Wait blocks until every running batch has finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Close interrupts running batches and waits for them to record their state.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}

func (d *Dispatcher) run(job models.BatchJob, recipients []Recipient) {
	defer d.wg.Done()
	ctx := d.ctx
	log := d.log.With(logger.String("batch_id", job.ID), logger.Int64("search_id", job.SearchID))
	log.Info("batch started", logger.Int("total", job.Total))

	if job.Total > 0 {
		d.publishProgress(job, log)
	}
	unrecorded := 0
	for _, r := range recipients {
		if ctx.Err() != nil {
			d.finish(job, models.BatchFailed, "interrupted by shutdown", log)
			return
		}
		o, err := d.deliver(ctx, job.ID, job.Subject, r, true, log)
		switch o {
		case outcomeSent:
			job.Sent++
			if errors.Is(err, ErrRecordFailed) {
				unrecorded++
			}
		case outcomeSkipped:
			job.Skipped++
		default:
			job.FailedCount++
		}
		// counters are durable before observers hear about them
		if err := d.jobs.UpdateCounts(context.WithoutCancel(ctx), job); err != nil {
			log.Error("persist batch counts failed", logger.Error(err))
		}
		d.publishProgress(job, log)
	}
	msg := ""
	if unrecorded > 0 {
		msg = fmt.Sprintf("%d sent recipient(s) missing from the contacted registry", unrecorded)
	}
	d.finish(job, models.BatchCompleted, msg, log)
}

func (d *Dispatcher) publishProgress(job models.BatchJob, log logger.Logger) {
	processed := job.Processed()
	_, err := d.progress.Publish(models.ProgressEvent{
		Type:    models.EventProgress,
		BatchID: job.ID,
		Progress: &models.ProgressPayload{
			Step:        stepSending,
			Title:       "Sending emails",
			Description: fmt.Sprintf("sent %d/%d", job.Sent, job.Total),
			Percent:     models.Percent(processed, job.Total),
			Total:       job.Total,
			Processed:   processed,
			Sent:        job.Sent,
			Failed:      job.FailedCount,
			Skipped:     job.Skipped,
		},
	})
	if err != nil {
		log.Warn("publish progress failed", logger.Error(err))
	}
}

func (d *Dispatcher) finish(job models.BatchJob, status models.BatchStatus, msg string, log logger.Logger) {
	now := time.Now().UTC()
	job.Status = status
	job.Error = msg
	job.FinishedAt = &now
	if err := d.jobs.Finish(context.Background(), job); err != nil {
		log.Error("persist batch result failed", logger.Error(err))
	}

	d.mu.Lock()
	if d.running[job.SearchID] == job.ID {
		delete(d.running, job.SearchID)
	}
	d.mu.Unlock()

	d.metrics.Batches.WithLabelValues(string(status)).Inc()
	_, err := d.progress.Publish(models.ProgressEvent{
		Type:    models.EventCompletion,
		BatchID: job.ID,
		Progress: &models.ProgressPayload{
			Step:        stepComplete,
			Title:       "Batch finished",
			Description: fmt.Sprintf("sent %d/%d", job.Sent, job.Total),
			Percent:     100,
			Total:       job.Total,
			Processed:   job.Processed(),
			Sent:        job.Sent,
			Failed:      job.FailedCount,
			Skipped:     job.Skipped,
		},
		Completion: &models.CompletionPayload{
			Status: status,
			Result: models.BatchResult{Total: job.Total, Sent: job.Sent, Failed: job.FailedCount, Skipped: job.Skipped},
			Error:  msg,
		},
	})
	if err != nil {
		log.Warn("publish completion failed", logger.Error(err))
	}
	log.Info("batch finished",
		logger.String("status", string(status)),
		logger.Int("sent", job.Sent),
		logger.Int("failed", job.FailedCount),
		logger.Int("skipped", job.Skipped),
	)
}

type outcome string

const (
	outcomeSent    outcome = "sent"
	outcomeFailed  outcome = "failed"
	outcomeSkipped outcome = "skipped"
)

// deliver handles one recipient under its address lock so two batches can
// never both pass the registry check for the same person.
func (d *Dispatcher) deliver(ctx context.Context, batchID, subject string, r Recipient, dedup bool, log logger.Logger) (outcome, error) {
	addr := contacted.NormalizeEmail(r.Email)
	log = log.With(logger.String("recipient", addr), logger.Int64("article_id", r.ArticleID))

	unlock := d.locks.Lock(addr)
	defer unlock()

	o, err := d.attempt(ctx, batchID, subject, addr, r, dedup, log)
	d.metrics.Emails.WithLabelValues(string(o)).Inc()
	return o, err
}

func (d *Dispatcher) attempt(ctx context.Context, batchID, subject, addr string, r Recipient, dedup bool, log logger.Logger) (outcome, error) {
	if dedup {
		seen, err := d.alreadyContacted(ctx, addr, r.PaperIdentity)
		if err != nil {
			log.Error("registry lookup failed", logger.Error(err))
			return outcomeFailed, err
		}
		if seen {
			log.Debug("recipient already contacted")
			return outcomeSkipped, nil
		}
	}

	out, err := d.renderer.Render(r.input())
	if err != nil {
		log.Error("render failed", logger.Error(err))
		return outcomeFailed, err
	}
	if subject == "" {
		subject = out.Subject
	}
	msg := mail.Message{To: addr, ToName: r.Name, Subject: subject, HTML: out.HTML}
	if err := d.send(ctx, msg, log); err != nil {
		log.Warn("send failed", logger.Error(err))
		return outcomeFailed, err
	}

	log.Info("email sent", logger.String("source", string(r.Source)))
	if err := d.record(ctx, addr, r.PaperIdentity, batchID, log); err != nil {
		// the message is gone already; counting it failed would invite a resend
		log.Error("record contacted failed", logger.Error(err))
		return outcomeSent, fmt.Errorf("%w: %w", ErrRecordFailed, err)
	}
	return outcomeSent, nil
}

// record stores a delivered pair with the send backoff. It outlives ctx so a
// shutdown mid-batch still records what already went out.
func (d *Dispatcher) record(ctx context.Context, addr, paper, batchID string, log logger.Logger) error {
	rctx := context.WithoutCancel(ctx)
	attempt := 0
	op := func() error {
		attempt++
		err := d.registry.Record(rctx, addr, paper, batchID)
		if err != nil {
			log.Warn("record contacted attempt failed", logger.Int("attempt", attempt), logger.Error(err))
		}
		return err
	}
	return backoff.Retry(op, d.newBackOff(rctx))
}

func (d *Dispatcher) alreadyContacted(ctx context.Context, addr, paper string) (bool, error) {
	if d.cfg.DedupScope == utils.DedupPaper {
		return d.registry.HasPair(ctx, addr, paper)
	}
	return d.registry.HasRecipient(ctx, addr)
}

// send retries transient failures with exponential backoff. Every attempt
// waits on the shared limiter and has its own timeout.
func (d *Dispatcher) send(ctx context.Context, msg mail.Message, log logger.Logger) error {
	attempt := 0
	op := func() error {
		attempt++
		if err := d.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		actx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		defer cancel()

		err := d.gateway.Send(actx, msg)
		switch {
		case err == nil:
			return nil
		case mail.IsTransient(err) && ctx.Err() == nil:
			log.Warn("transient send failure", logger.Int("attempt", attempt), logger.Error(err))
			return err
		default:
			return backoff.Permanent(err)
		}
	}
	return backoff.Retry(op, d.newBackOff(ctx))
}

func (d *Dispatcher) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.InitialBackoff
	b.MaxInterval = d.cfg.MaxBackoff
	b.Multiplier = d.cfg.Multiplier
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(d.cfg.MaxAttempts-1)), ctx)
}

// SingleRequest sends one email outside any batch.
type SingleRequest struct {
	To         string `json:"to" binding:"required"`
	Name       string `json:"name"`
	PaperTitle string `json:"paper_title"`
	Venue      string `json:"paper_venue"`
	Year       *int   `json:"paper_year"`
	Citations  *int   `json:"paper_citations"`
	Subject    string `json:"subject"`
	// Force sends even when the registry already lists the recipient.
	Force bool `json:"force"`
}

type SingleResult struct {
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

func (d *Dispatcher) SendOne(ctx context.Context, req SingleRequest) (SingleResult, error) {
	if !mail.ValidAddress(req.To) {
		return SingleResult{}, fmt.Errorf("%w: invalid address %q", ErrSetup, req.To)
	}
	r := Recipient{
		Email:         req.To,
		Name:          req.Name,
		PaperIdentity: models.NormalizeTitle(req.PaperTitle),
		PaperTitle:    req.PaperTitle,
		Venue:         req.Venue,
		Year:          req.Year,
		Citations:     req.Citations,
	}
	o, err := d.deliver(ctx, "", req.Subject, r, !req.Force, d.log)
	res := SingleResult{Outcome: string(o)}
	if err != nil {
		res.Error = err.Error()
	}
	return res, nil
}
