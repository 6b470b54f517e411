package progress

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"scholardock/pkg/models"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler streams one batch: a snapshot message first, then every later
// event in order. The connection closes normally after the completion event;
// an evicted observer gets CloseTryAgainLater instead.
func WSHandler(hub *Hub, source BatchSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.Param("id"))
		if id == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "batch id is required"})
			return
		}

		feed, err := Join(c.Request.Context(), hub, source, id)
		if err != nil {
			if errors.Is(err, ErrUnknownBatch) {
				c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			feed.Close()
			return
		}
		defer ws.Close()

		// the read side only exists to notice the observer leaving
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			defer cancel()
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		err = feed.Run(ctx, func(ev models.ProgressEvent) error {
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			return ws.WriteJSON(ev)
		})
		if msg := closeMessage(err); msg != nil {
			_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		}
	}
}

// closeMessage picks the close frame for how a feed ended. Nil means the
// connection is already unusable.
func closeMessage(err error) []byte {
	switch {
	case err == nil:
		return websocket.FormatCloseMessage(websocket.CloseNormalClosure, "batch finished")
	case errors.Is(err, ErrEvicted):
		return websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscriber lagged, rejoin")
	default:
		return nil
	}
}
