package contacted

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	Registry *Registry
}

func NewHandler(r *Registry) *Handler {
	return &Handler{Registry: r}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/contacted", h.list)
}

func (h *Handler) list(c *gin.Context) {
	limit, offset := Page(parseInt(c.Query("limit"), defaultListLimit), parseInt(c.Query("offset"), 0))

	records, total, err := h.Registry.List(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": records, "total": total, "limit": limit, "offset": offset})
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
