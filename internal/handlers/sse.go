package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/harborgrid/beacon/internal/registry"
	"github.com/harborgrid/beacon/pkg/apierr"
	"github.com/harborgrid/beacon/pkg/cursor"
)

const sseHeartbeatPeriod = 30 * time.Second

// sseEventFrame is the data payload of an `event:` frame. The SSE id field
// echoes the event id; the resume cursor rides inside the payload.
type sseEventFrame struct {
	Event  interface{} `json:"event"`
	Cursor string      `json:"cursor,omitempty"`
}

// ServeSSE handles GET /sse. The event stream uses named frames: connected,
// event, error, heartbeat. A reconnecting client resumes with `?cursor=`
// (from any event frame's payload) or with Last-Event-ID, which carries the
// last delivered event id; either way the gap is replayed before going live.
func (h *Handlers) ServeSSE(c *gin.Context) {
	auth := h.auth(c)
	if err := h.requireSubscribe(auth); err != nil {
		h.respondError(c, err)
		return
	}

	project, err := h.store.ProjectByID(c.Request.Context(), auth.TenantID, auth.ProjectID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	topics, err := subscriptionTopics(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	resume, err := h.sseResumePoint(c, auth.TenantID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		h.respondError(c, apierr.New(apierr.CodeInternal, "response writer does not support streaming"))
		return
	}

	// Register before replaying the gap so no event falls between the
	// backlog read and the live tail. Duplicates across the seam are
	// filtered by sequence below.
	session, err := h.registry.Register(auth.TenantID, auth.ProjectID, topics, project.Limits.MaxConnections)
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer func() {
		h.registry.Unregister(session.ID)
		h.trackSessionMinutes(session)
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	writeSSE(c, "connected", "", map[string]string{"connection_id": session.ID})
	flusher.Flush()

	var lastSeq uint64
	if resume != nil {
		// Resume strictly after the acknowledged cursor.
		batch, err := h.replayer.Replay(c.Request.Context(), auth, "", &cursor.Cursor{Sequence: resume.Sequence + 1, Timestamp: resume.Timestamp}, replayBacklogLimit)
		if err != nil {
			writeSSE(c, "error", "", apierr.ToEnvelope(err, c.GetString("request_id")).Error)
			flusher.Flush()
			return
		}
		for _, item := range batch.Items {
			if !topicWanted(session, item.Event.Topic) {
				continue
			}
			writeSSE(c, "event", item.Event.ID, sseEventFrame{Event: item.Event, Cursor: item.Cursor.Encode()})
			lastSeq = item.Event.Sequence
		}
		flusher.Flush()
	}

	heartbeat := time.NewTicker(sseHeartbeatPeriod)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case out, open := <-session.Out():
			if !open {
				return
			}
			if out.Err != "" {
				writeSSE(c, "error", "", map[string]string{"message": out.Err})
				flusher.Flush()
				return
			}
			if out.Event == nil || out.Event.Sequence <= lastSeq {
				continue
			}
			lastSeq = out.Event.Sequence
			writeSSE(c, "event", out.Event.ID, sseEventFrame{Event: out.Event, Cursor: envelopeCursor(out.Event)})
			flusher.Flush()
		case <-heartbeat.C:
			writeSSE(c, "heartbeat", "", map[string]int64{"ts": time.Now().Unix()})
			flusher.Flush()
		}
	}
}

// replayBacklogLimit bounds the reconnect gap replay.
const replayBacklogLimit = 500

func topicWanted(session *registry.Session, topic string) bool {
	return session.Matches(topic)
}

func writeSSE(c *gin.Context, event, id string, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		return
	}
	if id != "" {
		fmt.Fprintf(c.Writer, "id: %s\n", id)
	}
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, body)
}

func envelopeCursor(env *registry.Envelope) string {
	if env.Sequence == 0 {
		return ""
	}
	return cursor.Cursor{Sequence: env.Sequence, Timestamp: env.Timestamp}.Encode()
}

// sseResumePoint resolves where a reconnecting stream picks up. An explicit
// `?cursor=` wins; otherwise Last-Event-ID carries the last delivered event
// id, resolved to its sequence through the event metadata table. Metadata is
// best effort, so an unresolvable id degrades to live-only rather than
// failing the stream.
func (h *Handlers) sseResumePoint(c *gin.Context, tenantID string) (*cursor.Cursor, error) {
	if encoded := c.Query("cursor"); encoded != "" {
		cur, err := cursor.Decode(encoded)
		if err != nil {
			return nil, apierr.Wrap(apierr.CodeInvalidPayload, "cursor undecodable", err)
		}
		return cur, nil
	}
	lastID := c.GetHeader("Last-Event-ID")
	if lastID == "" {
		return nil, nil
	}
	seq, err := h.store.EventSequenceByID(c.Request.Context(), tenantID, lastID)
	if err != nil {
		h.logger.WithField("last_event_id", lastID).Debug("Last-Event-ID unresolvable, serving live tail only")
		return nil, nil
	}
	return &cursor.Cursor{Sequence: seq, Timestamp: time.Now().UTC()}, nil
}
