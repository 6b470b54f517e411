package dispatch

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"scholardock/internal/store"
)

type Handler struct {
	Dispatcher *Dispatcher
}

func NewHandler(d *Dispatcher) *Handler {
	return &Handler{Dispatcher: d}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/searches/:id/batches", h.start)
	rg.GET("/searches/:id/batches", h.list)
	rg.GET("/batches/:id", h.get)
	rg.POST("/email/send", h.sendOne)
}

type startReq struct {
	Subject               string `json:"subject"`
	IncludeHomepageEmails bool   `json:"include_homepage_emails"`
	IncludeFallbackEmails bool   `json:"include_fallback_emails"`
}

func (h *Handler) start(c *gin.Context) {
	searchID, ok := searchParam(c)
	if !ok {
		return
	}
	var req startReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	job, err := h.Dispatcher.StartBatch(c.Request.Context(), Request{
		SearchID:              searchID,
		Subject:               req.Subject,
		IncludeHomepageEmails: req.IncludeHomepageEmails,
		IncludeFallbackEmails: req.IncludeFallbackEmails,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (h *Handler) list(c *gin.Context) {
	searchID, ok := searchParam(c)
	if !ok {
		return
	}
	jobs, err := h.Dispatcher.List(c.Request.Context(), searchID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, jobs)
}

func (h *Handler) get(c *gin.Context) {
	job, err := h.Dispatcher.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *Handler) sendOne(c *gin.Context) {
	var req SingleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	res, err := h.Dispatcher.SendOne(c.Request.Context(), req)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	status := http.StatusOK
	if res.Outcome == string(outcomeFailed) {
		status = http.StatusBadGateway
	}
	c.JSON(status, res)
}

func searchParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrSearchNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrSetup):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
