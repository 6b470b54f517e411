package extraction

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scholardock/internal/extract"
	"scholardock/internal/netgate"
	"scholardock/internal/store"
	"scholardock/pkg/database"
	"scholardock/pkg/logger"
	"scholardock/pkg/metrics"
	"scholardock/pkg/models"
)

type fakeExtractor struct {
	calls   int32
	active  int32
	max     int32
	release chan struct{}
	started chan struct{}
	result  func(call int32, a models.Article) (extract.Result, error)
}

func (f *fakeExtractor) Extract(ctx context.Context, a models.Article) (extract.Result, error) {
	n := atomic.AddInt32(&f.calls, 1)
	cur := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		m := atomic.LoadInt32(&f.max)
		if cur <= m || atomic.CompareAndSwapInt32(&f.max, m, cur) {
			break
		}
	}
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return extract.Result{}, ctx.Err()
		}
	}
	if f.result != nil {
		return f.result(n, a)
	}
	return found(a, "homepage"), nil
}

// found gives every author an address derived from their name.
func found(a models.Article, tag string) extract.Result {
	out := make([]models.AuthorEmail, 0, len(a.AuthorLinks))
	for i, l := range a.AuthorLinks {
		out = append(out, models.AuthorEmail{
			Name:   l.Name,
			Email:  models.StringPtr(fmt.Sprintf("%s%d@uni.edu", tag, i)),
			Source: models.SourceHomepage,
		})
	}
	return extract.Result{Emails: out}
}

func newTestStore(t *testing.T) *store.Repo {
	t.Helper()
	db, err := database.OpenAndMigrate(database.Config{Path: filepath.Join(t.TempDir(), "extraction.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return store.NewRepo(db)
}

func seed(t *testing.T, repo *store.Repo, n int, links int) (int64, []int64) {
	t.Helper()
	ctx := context.Background()
	searchID, err := repo.CreateSearch(ctx, models.Search{Keyword: "k"})
	require.NoError(t, err)

	articles := make([]models.Article, n)
	for i := range articles {
		articles[i].Title = fmt.Sprintf("Paper %d", i)
		for j := 0; j < links; j++ {
			articles[i].AuthorLinks = append(articles[i].AuthorLinks, models.AuthorLink{Name: fmt.Sprintf("Author %d", j)})
		}
	}
	require.NoError(t, repo.SaveArticles(ctx, searchID, articles))

	ids := make([]int64, n)
	for i, a := range articles {
		ids[i] = a.ID
	}
	return searchID, ids
}

func newManager(repo *store.Repo, ex extract.Extractor, concurrency int) *Manager {
	return NewManager(repo, ex, Config{Concurrency: concurrency, ArticleTimeout: 5 * time.Second}, logger.NewNop(), metrics.New())
}

func TestExtractOne_Done(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	_, ids := seed(t, repo, 1, 2)
	m := newManager(repo, &fakeExtractor{}, 2)
	defer m.Close()

	a, err := m.ExtractOne(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionDone, a.ExtractionState)
	require.Len(t, a.AuthorEmails, 2)
	assert.Equal(t, "homepage0@uni.edu", a.AuthorEmails[0].Address())

	st, err := m.State(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionDone, st.State)
}

func TestExtractOne_FailureIsTerminal(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	_, ids := seed(t, repo, 1, 1)
	ex := &fakeExtractor{result: func(int32, models.Article) (extract.Result, error) {
		return extract.Result{}, fmt.Errorf("gate: %w", netgate.ErrNetworkUnavailable)
	}}
	m := newManager(repo, ex, 1)
	defer m.Close()

	_, err := m.ExtractOne(context.Background(), ids[0])
	assert.ErrorIs(t, err, netgate.ErrNetworkUnavailable)

	st, err := m.State(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionFailed, st.State)
	assert.Contains(t, st.Error, "network unavailable")
}

func TestClose_WaitsForAbandonedAttempt(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	_, ids := seed(t, repo, 1, 1)
	ex := &fakeExtractor{release: make(chan struct{}), started: make(chan struct{}, 1)}
	m := newManager(repo, ex, 1)

	reqCtx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := m.ExtractOne(reqCtx, ids[0])
		errCh <- err
	}()
	<-ex.started
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	m.Close()

	st, err := m.State(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionFailed, st.State, "close must not return before the attempt persists its outcome")

	_, err = m.ExtractOne(context.Background(), ids[0])
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFailInterrupted(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	_, ids := seed(t, repo, 2, 1)
	ctx := context.Background()
	require.NoError(t, repo.SetExtractionState(ctx, ids[0], models.ExtractionInProgress, ""))
	require.NoError(t, repo.SaveExtraction(ctx, ids[1], nil, nil))

	m := newManager(repo, &fakeExtractor{}, 1)
	defer m.Close()

	n, err := m.FailInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, err := m.State(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionFailed, st.State)
	assert.Equal(t, "interrupted by shutdown", st.Error)

	st, err = m.State(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionDone, st.State)
}

func TestExtractOne_ReplacesNotAccumulates(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	_, ids := seed(t, repo, 1, 3)
	ex := &fakeExtractor{result: func(call int32, a models.Article) (extract.Result, error) {
		return found(a, fmt.Sprintf("run%d-", call)), nil
	}}
	m := newManager(repo, ex, 1)
	defer m.Close()

	_, err := m.ExtractOne(context.Background(), ids[0])
	require.NoError(t, err)
	a, err := m.ExtractOne(context.Background(), ids[0])
	require.NoError(t, err)

	require.Len(t, a.AuthorEmails, 3)
	names := map[string]bool{}
	for _, e := range a.AuthorEmails {
		assert.False(t, names[e.Name], "duplicate entry for %s", e.Name)
		names[e.Name] = true
		assert.Contains(t, e.Address(), "run2-")
	}
}

func TestExtractOne_ConcurrentCallsShareOneAttempt(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	_, ids := seed(t, repo, 1, 1)
	ex := &fakeExtractor{release: make(chan struct{}), started: make(chan struct{}, 1)}
	m := newManager(repo, ex, 4)
	defer m.Close()

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.ExtractOne(context.Background(), ids[0])
			errs <- err
		}()
	}

	<-ex.started
	time.Sleep(50 * time.Millisecond)
	close(ex.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&ex.calls))
}

func TestExtractOne_MissingAndLinkless(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	_, ids := seed(t, repo, 1, 0)
	m := newManager(repo, &fakeExtractor{}, 1)
	defer m.Close()

	_, err := m.ExtractOne(context.Background(), 424242)
	assert.ErrorIs(t, err, ErrArticleNotFound)

	_, err = m.ExtractOne(context.Background(), ids[0])
	assert.ErrorIs(t, err, ErrNoAuthorLinks)
	st, err := m.State(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionFailed, st.State)
}

func TestExtractAll_BoundedAndFireAndForget(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	searchID, ids := seed(t, repo, 6, 1)
	ex := &fakeExtractor{release: make(chan struct{})}
	m := newManager(repo, ex, 2)
	defer m.Close()

	n, err := m.ExtractAll(context.Background(), searchID, false)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	// returned while every worker is still blocked
	time.Sleep(30 * time.Millisecond)
	assert.LessOrEqual(t, atomic.LoadInt32(&ex.active), int32(2))

	close(ex.release)
	m.Wait()

	assert.Equal(t, int32(6), atomic.LoadInt32(&ex.calls))
	assert.LessOrEqual(t, atomic.LoadInt32(&ex.max), int32(2))
	for _, id := range ids {
		st, err := m.State(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, models.ExtractionDone, st.State)
	}

	n, err = m.ExtractAll(context.Background(), searchID, true)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHandler(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)

	repo := newTestStore(t)
	searchID, ids := seed(t, repo, 2, 1)
	m := newManager(repo, &fakeExtractor{}, 1)
	defer m.Close()

	r := gin.New()
	NewHandler(m).RegisterRoutes(r.Group("/api"))

	do := func(method, path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
		return w
	}

	assert.Equal(t, http.StatusOK, do(http.MethodPost, fmt.Sprintf("/api/articles/%d/extract", ids[0])).Code)
	assert.Equal(t, http.StatusNotFound, do(http.MethodPost, "/api/articles/999/extract").Code)
	assert.Equal(t, http.StatusBadRequest, do(http.MethodGet, "/api/articles/abc/extraction").Code)
	assert.Equal(t, http.StatusOK, do(http.MethodGet, fmt.Sprintf("/api/articles/%d/extraction", ids[0])).Code)

	w := do(http.MethodPost, fmt.Sprintf("/api/searches/%d/extract?skip_done=1", searchID))
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), `"scheduled":1`)
	m.Wait()
}
