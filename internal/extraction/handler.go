package extraction

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"scholardock/internal/netgate"
)

type Handler struct {
	Manager *Manager
}

func NewHandler(m *Manager) *Handler {
	return &Handler{Manager: m}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/articles/:id/extract", h.extractOne) // synchronous, returns the article
	rg.GET("/articles/:id/extraction", h.state)    // poll
	rg.POST("/searches/:id/extract", h.extractAll) // fire-and-forget
}

func (h *Handler) extractOne(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	a, err := h.Manager.ExtractOne(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) state(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	st, err := h.Manager.State(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) extractAll(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	skipDone := c.Query("skip_done") == "1" || c.Query("skip_done") == "true"
	n, err := h.Manager.ExtractAll(c.Request.Context(), id, skipDone)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "schedule failed"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"search_id": id, "scheduled": n})
}

func paramID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrArticleNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNoAuthorLinks):
		return http.StatusBadRequest
	case errors.Is(err, netgate.ErrNetworkUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
