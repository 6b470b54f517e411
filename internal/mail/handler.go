package mail

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	Gateway Gateway
	From    string
}

func NewHandler(g Gateway, from string) *Handler {
	return &Handler{Gateway: g, From: from}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/email/config", h.config)
}

// config dials and authenticates so a bad password surfaces before a batch.
func (h *Handler) config(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	if err := h.Gateway.Verify(ctx); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, ErrNotConfigured) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"ok": false, "from": h.From, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "from": h.From})
}
