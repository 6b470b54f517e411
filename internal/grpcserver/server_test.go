package grpcserver

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"scholardock/internal/dispatch"
	"scholardock/internal/extraction"
	"scholardock/internal/progress"
	"scholardock/internal/store"
	"scholardock/pkg/logger"
	"scholardock/pkg/models"
)

type stubBatches struct {
	mu   sync.Mutex
	jobs map[string]*models.BatchJob
	err  error
}

func (s *stubBatches) StartBatch(_ context.Context, req dispatch.Request) (*models.BatchJob, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job := &models.BatchJob{ID: "b-new", SearchID: req.SearchID, Subject: req.Subject, Status: models.BatchRunning}
	s.jobs[job.ID] = job
	return job, nil
}

func (s *stubBatches) Get(_ context.Context, id string) (*models.BatchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id], nil
}

type stubExtractions struct{}

func (stubExtractions) ExtractOne(_ context.Context, id int64) (*models.Article, error) {
	if id == 404 {
		return nil, extraction.ErrArticleNotFound
	}
	return &models.Article{ID: id, Title: "Graph Nets", ExtractionState: models.ExtractionDone}, nil
}

func (stubExtractions) State(_ context.Context, id int64) (*extraction.StateView, error) {
	return &extraction.StateView{ArticleID: id, State: models.ExtractionInProgress}, nil
}

func startServer(t *testing.T, batches *stubBatches, hub *progress.Hub) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(UnaryLogging(logger.NewNop())),
		grpc.ChainStreamInterceptor(StreamLogging(logger.NewNop())),
	)
	RegisterPipelineServer(srv, NewServer(batches, stubExtractions{}, hub))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestUnaryCalls(t *testing.T) {
	t.Parallel()
	batches := &stubBatches{jobs: map[string]*models.BatchJob{}}
	c := startServer(t, batches, progress.NewHub(progress.Config{}, logger.NewNop(), nil))
	ctx := context.Background()

	job, err := c.StartBatch(ctx, StartBatchRequest{SearchID: 3, Subject: "hi", IncludeHomepageEmails: true})
	require.NoError(t, err)
	assert.Equal(t, "b-new", job.ID)
	assert.Equal(t, int64(3), job.SearchID)

	got, err := c.GetBatch(ctx, "b-new")
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Subject)

	_, err = c.GetBatch(ctx, "nope")
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = c.StartBatch(ctx, StartBatchRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	a, err := c.ExtractArticle(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "Graph Nets", a.Title)

	_, err = c.ExtractArticle(ctx, 404)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestStartBatch_ErrorMapping(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		want codes.Code
	}{
		{dispatch.ErrSetup, codes.InvalidArgument},
		{store.ErrSearchNotFound, codes.NotFound},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{assert.AnError, codes.Internal},
	}
	for _, tc := range cases {
		c := startServer(t, &stubBatches{jobs: map[string]*models.BatchJob{}, err: tc.err}, progress.NewHub(progress.Config{}, logger.NewNop(), nil))
		_, err := c.StartBatch(context.Background(), StartBatchRequest{SearchID: 1})
		assert.Equal(t, tc.want, status.Code(err), tc.err.Error())
	}
}

func TestWatchBatch_LiveStream(t *testing.T) {
	t.Parallel()
	hub := progress.NewHub(progress.Config{}, logger.NewNop(), nil)
	hub.Open(models.Snapshot{BatchID: "live", Status: models.BatchRunning, Total: 2})
	c := startServer(t, &stubBatches{jobs: map[string]*models.BatchJob{}}, hub)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		events []models.ProgressEvent
		errCh  = make(chan error, 1)
	)
	go func() {
		errCh <- c.WatchBatch(ctx, "live", func(ev models.ProgressEvent) error {
			events = append(events, ev)
			return nil
		})
	}()

	require.Eventually(t, func() bool { return hub.Subscribers("live") == 1 }, 2*time.Second, 10*time.Millisecond)
	for i := 1; i <= 2; i++ {
		_, err := hub.Publish(models.ProgressEvent{
			Type:     models.EventProgress,
			BatchID:  "live",
			Progress: &models.ProgressPayload{Step: "batch_sending", Total: 2, Processed: i, Sent: i},
		})
		require.NoError(t, err)
	}
	_, err := hub.Publish(models.ProgressEvent{
		Type:       models.EventCompletion,
		BatchID:    "live",
		Completion: &models.CompletionPayload{Status: models.BatchCompleted, Result: models.BatchResult{Total: 2, Sent: 2}},
	})
	require.NoError(t, err)

	require.NoError(t, <-errCh)
	require.Len(t, events, 4)
	assert.Equal(t, models.EventSnapshot, events[0].Type)
	assert.Equal(t, models.EventCompletion, events[3].Type)
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Seq, events[i-1].Seq)
	}
}

func TestWatchBatch_StoredAndMissing(t *testing.T) {
	t.Parallel()
	batches := &stubBatches{jobs: map[string]*models.BatchJob{
		"old": {ID: "old", Status: models.BatchFailed, Total: 2, Sent: 1, Error: "interrupted by shutdown"},
	}}
	c := startServer(t, batches, progress.NewHub(progress.Config{}, logger.NewNop(), nil))

	var events []models.ProgressEvent
	err := c.WatchBatch(context.Background(), "old", func(ev models.ProgressEvent) error {
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "interrupted by shutdown", events[1].Completion.Error)

	err = c.WatchBatch(context.Background(), "missing", func(models.ProgressEvent) error { return nil })
	assert.Equal(t, codes.NotFound, status.Code(err))
}
