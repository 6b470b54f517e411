package search

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"scholardock/internal/netgate"
	"scholardock/internal/store"
)

type Handler struct {
	Service *Service
	Repo    *store.Repo
}

func NewHandler(s *Service, repo *store.Repo) *Handler {
	return &Handler{Service: s, Repo: repo}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/searches", h.run)
	rg.GET("/searches", h.list)
	rg.GET("/searches/:id", h.get)
	rg.DELETE("/searches/:id", h.delete)
}

func (h *Handler) run(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	s, err := h.Service.Run(c.Request.Context(), req)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h *Handler) list(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	items, err := h.Repo.ListSearches(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) get(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	s, err := h.Repo.GetSearch(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	if s == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "search not found"})
		return
	}
	if s.Articles, err = h.Repo.ListArticles(ctx, id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) delete(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	deleted, err := h.Repo.DeleteSearch(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "search not found"})
		return
	}
	c.Status(http.StatusNoContent)
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
	case errors.Is(err, ErrEmptyKeyword), errors.Is(err, ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, netgate.ErrNetworkUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrProviderFails):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
