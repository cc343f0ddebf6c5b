package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"medistream/dto"
	"medistream/entities"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type liveMessage struct {
	Type    string              `json:"type"`
	Session *entities.Stream    `json:"session,omitempty"`
	Chunks  []dto.ResolvedChunk `json:"chunks,omitempty"`
}

// Live streams session and chunk snapshots to a viewer over a websocket.
// Both store subscriptions are released when the socket closes; nothing is
// delivered after teardown.
func (h *Handler) Live(c *gin.Context) {
	streamId, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stream id"})
		return
	}

	ctx := c.Request.Context()
	sessSub, err := h.Store.SubscribeSession(ctx, streamId)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to subscribe"})
		return
	}
	defer sessSub.Unsubscribe()

	chunkSub, err := h.Store.SubscribeChunks(ctx, streamId)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to subscribe"})
		return
	}
	defer chunkSub.Unsubscribe()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Reader exists only to observe the close handshake.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case stream, ok := <-sessSub.C():
			if !ok {
				return
			}
			if err := conn.WriteJSON(liveMessage{Type: dto.EventKindSession, Session: stream}); err != nil {
				return
			}
		case chunks, ok := <-chunkSub.C():
			if !ok {
				return
			}
			resolved := make([]dto.ResolvedChunk, 0, len(chunks))
			for _, chunk := range chunks {
				url, err := h.Blobs.ResolveLocator(ctx, chunk.StoragePath)
				if err != nil {
					zerolog.Ctx(ctx).Warn().Err(err).Int("order", chunk.Order).Msg("failed to resolve chunk locator")
					continue
				}
				resolved = append(resolved, dto.ResolvedChunk{
					ChunkId:    chunk.ID,
					Order:      chunk.Order,
					URL:        url,
					CapturedAt: chunk.CapturedAt.UnixMilli(),
				})
			}
			if err := conn.WriteJSON(liveMessage{Type: dto.EventKindChunks, Chunks: resolved}); err != nil {
				return
			}
		case <-closed:
			return
		case <-ctx.Done():
			return
		}
	}
}
