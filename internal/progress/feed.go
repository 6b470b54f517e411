package progress

import (
	"context"
	"errors"
	"time"

	"scholardock/pkg/models"
)

// ErrEvicted ends a live stream whose observer fell too far behind. The
// observer can join again for a fresh snapshot.
var ErrEvicted = errors.New("subscriber evicted")

// BatchSource loads batches the hub no longer holds, e.g. after a restart.
type BatchSource interface {
	Get(ctx context.Context, id string) (*models.BatchJob, error)
}

// Replay rebuilds the stream a late observer of a stored batch would see:
// the snapshot, then the completion when the batch has finished.
func Replay(job models.BatchJob) []models.ProgressEvent {
	now := time.Now().UTC()
	snap := models.Snapshot{
		BatchID: job.ID,
		Status:  job.Status,
		Total:   job.Total,
		Sent:    job.Sent,
		Failed:  job.FailedCount,
		Skipped: job.Skipped,
		Percent: models.Percent(job.Processed(), job.Total),
	}
	out := []models.ProgressEvent{{Type: models.EventSnapshot, BatchID: job.ID, Snapshot: &snap, At: now}}
	if job.Status.Terminal() {
		out = append(out, models.ProgressEvent{
			Type:    models.EventCompletion,
			BatchID: job.ID,
			Completion: &models.CompletionPayload{
				Status: job.Status,
				Result: models.BatchResult{Total: job.Total, Sent: job.Sent, Failed: job.FailedCount, Skipped: job.Skipped},
				Error:  job.Error,
			},
			At: now,
		})
	}
	return out
}

// Feed is one observer's stream, either live from the hub or replayed from
// the stored job. Transports resolve it before committing to a response.
type Feed struct {
	sub    *Subscription
	replay []models.ProgressEvent
}

// Join subscribes to a live batch, falling back to source for batches the
// hub has dropped. Unknown batches return ErrUnknownBatch.
func Join(ctx context.Context, hub *Hub, source BatchSource, id string) (*Feed, error) {
	sub, err := hub.Subscribe(id)
	if err == nil {
		return &Feed{sub: sub}, nil
	}
	if !errors.Is(err, ErrUnknownBatch) || source == nil {
		return nil, err
	}
	job, err := source.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrUnknownBatch
	}
	return &Feed{replay: Replay(*job)}, nil
}

// Run hands every event to emit in order: the snapshot first, the
// completion last. It returns nil once the stream ends normally, the emit
// error if delivery fails, ErrEvicted when the hub dropped a lagging
// observer, or ctx.Err() when the observer goes away.
func (f *Feed) Run(ctx context.Context, emit func(models.ProgressEvent) error) error {
	if f.sub == nil {
		for _, ev := range f.replay {
			if err := emit(ev); err != nil {
				return err
			}
		}
		return nil
	}
	defer f.sub.Close()

	if err := emit(f.sub.Snapshot); err != nil {
		return err
	}
	completed := false
	for {
		select {
		case ev, ok := <-f.sub.Events:
			if !ok {
				if !completed {
					return ErrEvicted
				}
				return nil
			}
			if err := emit(ev); err != nil {
				return err
			}
			completed = ev.IsCompletion()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close releases the subscription when Run is never called.
func (f *Feed) Close() {
	if f.sub != nil {
		f.sub.Close()
	}
}
