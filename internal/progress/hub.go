// Package progress fans batch events out to any number of observers.
//
// Events for one batch are numbered and delivered to every current
// subscriber in order. Publishing never waits on a subscriber; each one has
// its own queue drained by a pump goroutine. A subscriber that falls too far
// behind is evicted and can rejoin with a fresh snapshot.
package progress

import (
	"errors"
	"sync"
	"time"

	"scholardock/pkg/logger"
	"scholardock/pkg/metrics"
	"scholardock/pkg/models"
)

var ErrUnknownBatch = errors.New("unknown batch")

const (
	defaultMaxPending = 1024
	defaultRetain     = 10 * time.Minute
)

type Config struct {
	// MaxPending bounds the undelivered events queued for one subscriber.
	MaxPending int
	// Retain keeps a finished batch joinable for late observers.
	Retain time.Duration
}

type Hub struct {
	mu      sync.Mutex
	batches map[string]*batch
	cfg     Config
	log     logger.Logger
	metrics *metrics.Metrics
}

type batch struct {
	seq        uint64
	snapshot   models.Snapshot
	subs       map[*subscriber]struct{}
	completion *models.ProgressEvent
}

func NewHub(cfg Config, log logger.Logger, m *metrics.Metrics) *Hub {
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = defaultMaxPending
	}
	if cfg.Retain <= 0 {
		cfg.Retain = defaultRetain
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Hub{batches: make(map[string]*batch), cfg: cfg, log: log, metrics: m}
}

// Open registers a batch before its first event. Reopening a live batch is
// a no-op.
func (h *Hub) Open(snap models.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok := h.batches[snap.BatchID]; ok && b.completion == nil {
		return
	}
	if snap.Status == "" {
		snap.Status = models.BatchRunning
	}
	h.batches[snap.BatchID] = &batch{snapshot: snap, subs: make(map[*subscriber]struct{})}
}

// Publish stamps ev with the next sequence number and queues it for every
// subscriber. A completion event closes all streams after delivery.
func (h *Hub) Publish(ev models.ProgressEvent) (models.ProgressEvent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.batches[ev.BatchID]
	if !ok {
		return ev, ErrUnknownBatch
	}
	if b.completion != nil {
		return ev, errors.New("batch already completed")
	}

	b.seq++
	ev.Seq = b.seq
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	apply(&b.snapshot, ev)

	for s := range b.subs {
		if !s.push(ev) {
			h.log.Warn("progress subscriber evicted", logger.String("batch_id", ev.BatchID), logger.Int("pending", h.cfg.MaxPending))
			delete(b.subs, s)
			s.stop()
		}
	}

	if ev.IsCompletion() {
		done := ev
		b.completion = &done
		for s := range b.subs {
			s.finish()
		}
		b.subs = make(map[*subscriber]struct{})
		id := ev.BatchID
		time.AfterFunc(h.cfg.Retain, func() { h.forget(id, b) })
	}
	return ev, nil
}

func (h *Hub) forget(id string, b *batch) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.batches[id] == b {
		delete(h.batches, id)
	}
}

// Subscription is one observer's view. Snapshot reflects every event with
// Seq up to Snapshot.Seq; Events yields everything after it.
type Subscription struct {
	Snapshot models.ProgressEvent
	Events   <-chan models.ProgressEvent

	sub *subscriber
	hub *Hub
	id  string
}

// Close unsubscribes. It never affects the batch itself.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	if b, ok := s.hub.batches[s.id]; ok {
		delete(b.subs, s.sub)
	}
	s.hub.mu.Unlock()
	s.sub.stop()
}

func (h *Hub) Subscribe(batchID string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.batches[batchID]
	if !ok {
		return nil, ErrUnknownBatch
	}

	snap := b.snapshot
	s := newSubscriber(h.cfg.MaxPending)
	if b.completion != nil {
		s.push(*b.completion)
		s.finish()
	} else {
		b.subs[s] = struct{}{}
	}

	if h.metrics != nil {
		h.metrics.Subscribers.Inc()
	}
	go func() {
		s.run()
		if h.metrics != nil {
			h.metrics.Subscribers.Dec()
		}
	}()

	return &Subscription{
		Snapshot: models.ProgressEvent{
			Type:     models.EventSnapshot,
			BatchID:  batchID,
			Seq:      b.seq,
			Snapshot: &snap,
			At:       time.Now().UTC(),
		},
		Events: s.out,
		sub:    s,
		hub:    h,
		id:     batchID,
	}, nil
}

// Snapshot returns the aggregate state of a known batch.
func (h *Hub) Snapshot(batchID string) (models.Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.batches[batchID]
	if !ok {
		return models.Snapshot{}, false
	}
	return b.snapshot, true
}

// Subscribers counts live observers of a batch.
func (h *Hub) Subscribers(batchID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok := h.batches[batchID]; ok {
		return len(b.subs)
	}
	return 0
}

func apply(s *models.Snapshot, ev models.ProgressEvent) {
	switch {
	case ev.Completion != nil:
		r := ev.Completion.Result
		s.Total, s.Sent, s.Failed, s.Skipped = r.Total, r.Sent, r.Failed, r.Skipped
		s.Percent = models.Percent(r.Sent+r.Failed+r.Skipped, r.Total)
		s.Status = ev.Completion.Status
	case ev.Progress != nil:
		p := ev.Progress
		s.Total, s.Sent, s.Failed, s.Skipped = p.Total, p.Sent, p.Failed, p.Skipped
		s.Percent = p.Percent
		s.Status = models.BatchRunning
	}
}
