package mail

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scholardock/pkg/utils"
)

func TestIsTransient(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient send error", &SendError{Recipient: "a@b.c", Transient: true, Err: errors.New("451")}, true},
		{"permanent send error", &SendError{Recipient: "a@b.c", Err: errors.New("550")}, false},
		{"wrapped transient", fmt.Errorf("attempt 1: %w", &SendError{Transient: true, Err: errors.New("421")}), true},
		{"deadline", fmt.Errorf("send: %w", context.DeadlineExceeded), true},
		{"net op", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestSendError_Is(t *testing.T) {
	t.Parallel()
	tr := &SendError{Recipient: "x@y.z", Transient: true, Err: errors.New("busy")}
	assert.ErrorIs(t, tr, ErrTransient)
	assert.NotErrorIs(t, tr, ErrPermanent)
	assert.Contains(t, tr.Error(), "transient")

	pe := &SendError{Recipient: "x@y.z", Err: errors.New("no such user")}
	assert.ErrorIs(t, pe, ErrPermanent)
}

func TestValidAddress(t *testing.T) {
	t.Parallel()
	assert.True(t, ValidAddress("a@b.edu"))
	assert.False(t, ValidAddress("@b.edu"))
	assert.False(t, ValidAddress("a@"))
	assert.False(t, ValidAddress("a b@c.d"))
}

func TestSMTP_NotConfigured(t *testing.T) {
	t.Parallel()
	s := NewSMTP(utils.MailConfig{}, nil)
	assert.ErrorIs(t, s.Verify(context.Background()), ErrNotConfigured)
	assert.ErrorIs(t, s.Send(context.Background(), Message{To: "a@b.edu"}), ErrNotConfigured)

	err := s.Send(context.Background(), Message{To: "bogus"})
	assert.ErrorIs(t, err, ErrPermanent)
}

func TestFake_ScriptedFailures(t *testing.T) {
	t.Parallel()
	f := NewFake()
	f.FailWith("A@x.edu", &SendError{Transient: true, Err: errors.New("421")})

	err := f.Send(context.Background(), Message{To: "a@x.edu"})
	assert.True(t, IsTransient(err))
	require.NoError(t, f.Send(context.Background(), Message{To: "a@x.edu"}))
	assert.Equal(t, 2, f.Attempts("a@X.edu"))
	assert.Len(t, f.Sent(), 1)
}

func TestHandler_Config(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)

	do := func(g Gateway) int {
		r := gin.New()
		NewHandler(g, "me@lab.org").RegisterRoutes(r.Group("/api"))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/email/config", nil))
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do(NewFake()))
	bad := NewFake()
	bad.VerifyErr = errors.New("535 authentication failed")
	assert.Equal(t, http.StatusBadGateway, do(bad))
	assert.Equal(t, http.StatusServiceUnavailable, do(NewSMTP(utils.MailConfig{}, nil)))
}
