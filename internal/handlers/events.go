package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/harborgrid/beacon/pkg/apierr"
	"github.com/harborgrid/beacon/pkg/cursor"
	"github.com/harborgrid/beacon/pkg/models"
)

type publishRequest struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// PublishEvent handles POST /events.
func (h *Handlers) PublishEvent(c *gin.Context) {
	auth := h.auth(c)

	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apierr.Wrap(apierr.CodeInvalidPayload, "request body undecodable", err))
		return
	}

	result, err := h.publisher.Publish(c.Request.Context(), auth, req.Topic, req.Payload)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type replayItem struct {
	Event  models.Event `json:"event"`
	Cursor string       `json:"cursor"`
}

type replayResponse struct {
	Items      []replayItem `json:"items"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

// ReplayEvents handles GET /events/replay.
func (h *Handlers) ReplayEvents(c *gin.Context) {
	auth := h.auth(c)

	cur, err := cursor.Decode(c.Query("cursor"))
	if err != nil {
		h.respondError(c, apierr.Wrap(apierr.CodeInvalidPayload, "cursor undecodable", err))
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.respondError(c, apierr.New(apierr.CodeInvalidPayload, "limit must be a non-negative integer"))
			return
		}
	}

	batch, err := h.replayer.Replay(c.Request.Context(), auth, c.Query("topic"), cur, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := replayResponse{Items: make([]replayItem, 0, len(batch.Items)), NextCursor: batch.Next}
	for _, item := range batch.Items {
		resp.Items = append(resp.Items, replayItem{Event: item.Event, Cursor: item.Cursor.Encode()})
	}
	c.JSON(http.StatusOK, resp)
}
