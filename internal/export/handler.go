package export

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"scholardock/internal/store"
)

type Handler struct {
	Repo *store.Repo
}

func NewHandler(repo *store.Repo) *Handler {
	return &Handler{Repo: repo}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/searches/:id/export", h.export)
}

func (h *Handler) export(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	format, err := ParseFormat(c.Query("format"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid export format"})
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
	articles, err := h.Repo.ListArticles(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}

	// buffer so an encoding error can still produce a JSON error response
	var buf bytes.Buffer
	if err := Write(&buf, format, articles); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrUnknownFormat) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": "export failed"})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, Filename(s.Keyword, format)))
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}
