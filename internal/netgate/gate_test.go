package netgate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scholardock/pkg/logger"
	"scholardock/pkg/utils"
)

func newGate(t *testing.T, probeURL string, ttl time.Duration) *Gate {
	t.Helper()
	g, err := New(utils.NetworkConfig{
		ProbeURL:     probeURL,
		ProbeTimeout: time.Second,
		StatusTTL:    ttl,
		FetchTimeout: time.Second,
		UserAgent:    "scholardock-test",
	}, logger.NewNop())
	require.NoError(t, err)
	return g
}

func TestAvailable_ProbeOK(t *testing.T) {
	t.Parallel()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "scholardock-test", r.Header.Get("User-Agent"))
	}))
	defer srv.Close()

	g := newGate(t, srv.URL, time.Minute)
	require.NoError(t, g.Available(context.Background()))
	require.NoError(t, g.Available(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "second call should use the cached status")

	g.Invalidate()
	require.NoError(t, g.Available(context.Background()))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestAvailable_ProbeDown(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	g := newGate(t, srv.URL, time.Minute)
	err := g.Available(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetworkUnavailable)

	st := g.Status(context.Background())
	assert.False(t, st.Available)
	assert.Contains(t, st.Error, "502")
}

func TestAvailable_UnreachableProbe(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	g := newGate(t, url, 0)
	assert.ErrorIs(t, g.Available(context.Background()), ErrNetworkUnavailable)
}

func TestAvailable_CallerTimeoutIsNotCached(t *testing.T) {
	t.Parallel()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	g := newGate(t, srv.URL, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.Available(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrNetworkUnavailable)

	require.NoError(t, g.Available(context.Background()))
	assert.True(t, g.Status(context.Background()).Available)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "the detached check is shared, not restarted")
}

func TestAvailable_NoProbeConfigured(t *testing.T) {
	t.Parallel()
	g := newGate(t, "", 0)
	assert.NoError(t, g.Available(context.Background()))
}

func TestNew_RejectsBadProxy(t *testing.T) {
	t.Parallel()
	_, err := New(utils.NetworkConfig{ProxyURL: "not a proxy"}, nil)
	assert.Error(t, err)

	g, err := New(utils.NetworkConfig{ProxyURL: "http://user:pw@127.0.0.1:3128"}, nil)
	require.NoError(t, err)
	st := g.Status(context.Background())
	assert.True(t, st.ProxyConfigured)
	assert.NotContains(t, st.Proxy, "pw")
}

func TestFetch(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/old":
			http.Redirect(w, r, "/page", http.StatusFound)
		case "/page":
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html>0123456789</html>"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	g := newGate(t, "", 0)

	page, err := g.Fetch(context.Background(), srv.URL+"/old", 10)
	require.NoError(t, err)
	assert.Equal(t, "/page", page.URL.Path)
	assert.Equal(t, "text/html", page.ContentType)
	assert.Len(t, page.Body, 10)

	_, err = g.Fetch(context.Background(), srv.URL+"/missing", 0)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
}

func TestHandler_Status(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := gin.New()
	NewHandler(newGate(t, srv.URL, time.Minute)).RegisterRoutes(r.Group(""))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/proxy/status?refresh=1", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var st Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.False(t, st.Available)
}
