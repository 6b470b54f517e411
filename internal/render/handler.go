package render

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	Renderer *Renderer
}

func NewHandler(r *Renderer) *Handler {
	return &Handler{Renderer: r}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/email/preview", h.preview)
}

type previewRequest struct {
	Input
	Subject string `json:"subject"`
}

func (h *Handler) preview(c *gin.Context) {
	var req previewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	out, err := h.Renderer.Render(req.Input)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "render failed"})
		return
	}
	if req.Subject != "" {
		out.Subject = req.Subject
	}
	c.JSON(http.StatusOK, out)
}
