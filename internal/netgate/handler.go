package netgate

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	Gate *Gate
}

func NewHandler(g *Gate) *Handler {
	return &Handler{Gate: g}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/proxy/status", h.status)
}

// status re-probes when ?refresh=1 is passed.
func (h *Handler) status(c *gin.Context) {
	if c.Query("refresh") == "1" {
		h.Gate.Invalidate()
	}
	st := h.Gate.Status(c.Request.Context())
	code := http.StatusOK
	if !st.Available {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, st)
}
