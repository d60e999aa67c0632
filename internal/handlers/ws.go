package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/harborgrid/beacon/internal/registry"
	"github.com/harborgrid/beacon/pkg/apierr"
	"github.com/harborgrid/beacon/pkg/logging"
	"github.com/harborgrid/beacon/pkg/models"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Credential checks already ran in the auth middleware; browser origin
	// policy is not the isolation boundary here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClientFrame is the client-to-server message union.
type wsClientFrame struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics,omitempty"`
}

// wsServerFrame is the server-to-client message union.
type wsServerFrame struct {
	Type         string          `json:"type"`
	ConnectionID string          `json:"connection_id,omitempty"`
	ID           string          `json:"id,omitempty"`
	Topic        string          `json:"topic,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	PublishedAt  *time.Time      `json:"published_at,omitempty"`
	Cursor       string          `json:"cursor,omitempty"`
	Message      string          `json:"message,omitempty"`
}

// ServeWebSocket handles GET /ws.
func (h *Handlers) ServeWebSocket(c *gin.Context) {
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

	session, err := h.registry.Register(auth.TenantID, auth.ProjectID, topics, project.Limits.MaxConnections)
	if err != nil {
		h.respondError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.registry.Unregister(session.ID)
		h.logger.WithError(err).Debug("WebSocket upgrade failed")
		return
	}

	h.logger.WithFields(logging.Fields{
		"session_id": session.ID,
		"tenant_id":  auth.TenantID,
		"project_id": auth.ProjectID,
	}).Debug("WebSocket session opened")

	go h.wsWriteLoop(conn, session)
	h.wsReadLoop(conn, session)
}

// wsReadLoop owns the connection's read side and the session lifetime.
func (h *Handlers) wsReadLoop(conn *websocket.Conn, session *registry.Session) {
	defer func() {
		h.registry.Unregister(session.ID)
		h.trackSessionMinutes(session)
		_ = conn.Close()
	}()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var frame wsClientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		switch frame.Type {
		case "Subscribe":
			topics, err := parseTopicList(frame.Topics)
			if err != nil {
				continue
			}
			_ = h.registry.UpdateSubscriptions(session.ID, topics, nil)
		case "Unsubscribe":
			_ = h.registry.UpdateSubscriptions(session.ID, nil, frame.Topics)
		case "Ping":
			// Answered by the write loop to keep a single writer.
			session.TrySend(nil)
		}
	}
}

// wsWriteLoop is the single writer on the connection. It drains the session
// queue, answers pings and sends protocol keepalives.
func (h *Handlers) wsWriteLoop(conn *websocket.Conn, session *registry.Session) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	h.writeFrame(conn, wsServerFrame{Type: "Connected", ConnectionID: session.ID})

	for {
		select {
		case out, ok := <-session.Out():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
				return
			}
			switch {
			case out.Err != "":
				h.writeFrame(conn, wsServerFrame{Type: "Error", Message: out.Err})
			case out.Event != nil:
				h.writeFrame(conn, eventFrame(out.Event))
			default:
				h.writeFrame(conn, wsServerFrame{Type: "Pong"})
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handlers) writeFrame(conn *websocket.Conn, frame wsServerFrame) {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(frame); err != nil {
		_ = conn.Close()
	}
}

func eventFrame(env *registry.Envelope) wsServerFrame {
	publishedAt := env.PublishedAt
	return wsServerFrame{
		Type:        "Event",
		ID:          env.ID,
		Topic:       env.Topic,
		Payload:     env.Payload,
		PublishedAt: &publishedAt,
		Cursor:      envelopeCursor(env),
	}
}

// subscriptionTopics reads the requested topic filters. The primary form is
// `?topics=a,b`; repeated `?topic=` parameters are also accepted.
func subscriptionTopics(c *gin.Context) ([]string, error) {
	raw := c.QueryArray("topic")
	if list := c.Query("topics"); list != "" {
		raw = append(raw, strings.Split(list, ",")...)
	}
	return parseTopicList(raw)
}

func parseTopicList(topics []string) ([]string, error) {
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if err := validateSubscriptionTopic(t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// trackSessionMinutes charges connection time when a streaming session ends.
// Partial minutes round up; even an instant connection costs one.
func (h *Handlers) trackSessionMinutes(session *registry.Session) {
	h.quota.Track(session.TenantID, session.ProjectID, models.MetricWebSocketMinutes,
		sessionMinutes(session.CreatedAt, time.Now().UTC()))
}

func sessionMinutes(start, end time.Time) int64 {
	d := end.Sub(start)
	if d <= 0 {
		return 1
	}
	mins := int64((d + time.Minute - 1) / time.Minute)
	if mins < 1 {
		mins = 1
	}
	return mins
}

func validateSubscriptionTopic(topic string) error {
	if len(topic) > 255 {
		return apierr.New(apierr.CodeInvalidTopic, "topic exceeds 255 bytes")
	}
	for i := 0; i < len(topic); i++ {
		c := topic[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '.' || c == '_' || c == '-':
		default:
			return apierr.Newf(apierr.CodeInvalidTopic, "topic contains invalid character %q", c)
		}
	}
	return nil
}
