package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/harborgrid/beacon/internal/registry"
	"github.com/harborgrid/beacon/pkg/apierr"
	"github.com/harborgrid/beacon/pkg/cursor"
	"github.com/harborgrid/beacon/pkg/logging"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func requestContext(t *testing.T, target string, header map[string]string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		c.Request.Header.Set(k, v)
	}
	return c, w
}

func TestExtractCredential(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header map[string]string
		want   string
	}{
		{"bearer", "/events", map[string]string{"Authorization": "Bearer tok-1"}, "tok-1"},
		{"api key scheme", "/events", map[string]string{"Authorization": "ApiKey bk_abc"}, "bk_abc"},
		{"bare header", "/events", map[string]string{"Authorization": "bk_raw"}, "bk_raw"},
		{"query fallback", "/sse?access_token=bk_q", nil, "bk_q"},
		{"header wins over query", "/sse?access_token=bk_q", map[string]string{"Authorization": "Bearer tok-2"}, "tok-2"},
		{"nothing", "/events", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := requestContext(t, tt.target, tt.header)
			if got := extractCredential(c); got != tt.want {
				t.Fatalf("extractCredential = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRespondErrorStatusMapping(t *testing.T) {
	h := &Handlers{logger: logging.NewLogger()}

	tests := []struct {
		err    error
		status int
	}{
		{apierr.New(apierr.CodeInvalidToken, "bad token"), http.StatusUnauthorized},
		{apierr.New(apierr.CodeInsufficientScope, "no"), http.StatusForbidden},
		{apierr.New(apierr.CodeNotFound, "gone"), http.StatusNotFound},
		{apierr.New(apierr.CodeRateLimited, "slow down"), http.StatusTooManyRequests},
		{apierr.New(apierr.CodePayloadTooLarge, "too big"), http.StatusRequestEntityTooLarge},
		{apierr.New(apierr.CodeInternal, "boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		c, w := requestContext(t, "/events", nil)
		h.respondError(c, tt.err)
		if w.Code != tt.status {
			t.Fatalf("%v: status = %d, want %d", tt.err, w.Code, tt.status)
		}
		if !strings.Contains(w.Body.String(), `"error"`) {
			t.Fatalf("body missing error envelope: %s", w.Body.String())
		}
	}
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	h := &Handlers{logger: logging.NewLogger()}
	c, w := requestContext(t, "/events", nil)

	h.respondError(c, apierr.New(apierr.CodeInternal, "pq: connection refused on 10.0.0.5"))
	if strings.Contains(w.Body.String(), "10.0.0.5") {
		t.Fatalf("internal detail leaked: %s", w.Body.String())
	}
}

func TestWriteSSEFraming(t *testing.T) {
	c, w := requestContext(t, "/sse", nil)

	writeSSE(c, "event", "cursor-1", map[string]string{"id": "e1"})
	got := w.Body.String()
	want := "id: cursor-1\nevent: event\ndata: {\"id\":\"e1\"}\n\n"
	if got != want {
		t.Fatalf("frame = %q, want %q", got, want)
	}

	w.Body.Reset()
	writeSSE(c, "heartbeat", "", map[string]int64{"ts": 1})
	if strings.HasPrefix(w.Body.String(), "id:") {
		t.Fatalf("idless frame carries an id: %q", w.Body.String())
	}
}

func TestEnvelopeCursorRoundTrip(t *testing.T) {
	ts := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	env := &registry.Envelope{ID: "e1", Sequence: 42, Timestamp: ts}

	encoded := envelopeCursor(env)
	if encoded == "" {
		t.Fatal("sequenced envelope must yield a cursor")
	}
	cur, err := cursor.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cur.Sequence != 42 {
		t.Fatalf("sequence = %d, want 42", cur.Sequence)
	}

	if envelopeCursor(&registry.Envelope{ID: "e2"}) != "" {
		t.Fatal("unsequenced envelope must not fabricate a cursor")
	}
}

func TestSubscriptionTopics(t *testing.T) {
	tests := []struct {
		name   string
		target string
		want   []string
	}{
		{"comma list", "/sse?topics=orders,user.created", []string{"orders", "user.created"}},
		{"repeated params", "/sse?topic=orders&topic=refunds", []string{"orders", "refunds"}},
		{"both forms", "/sse?topic=orders&topics=refunds,audits", []string{"orders", "refunds", "audits"}},
		{"spaces and empties", "/sse?topics=orders,%20refunds%20,,", []string{"orders", "refunds"}},
		{"none", "/sse", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := requestContext(t, tt.target, nil)
			got, err := subscriptionTopics(c)
			if err != nil {
				t.Fatalf("subscriptionTopics: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("topics = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("topics = %v, want %v", got, tt.want)
				}
			}
		})
	}

	c, _ := requestContext(t, "/sse?topics=orders,bad%20topic", nil)
	if _, err := subscriptionTopics(c); apierr.CodeOf(err) != apierr.CodeInvalidTopic {
		t.Fatalf("invalid comma token: %v", err)
	}
}

func TestSSEEventFrameCarriesIDAndCursor(t *testing.T) {
	ts := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	env := &registry.Envelope{ID: "e1", Topic: "orders", Sequence: 7, Timestamp: ts}
	c, w := requestContext(t, "/sse", nil)

	writeSSE(c, "event", env.ID, sseEventFrame{Event: env, Cursor: envelopeCursor(env)})

	got := w.Body.String()
	if !strings.HasPrefix(got, "id: e1\n") {
		t.Fatalf("SSE id must echo the event id: %q", got)
	}
	if !strings.Contains(got, `"cursor":"`) {
		t.Fatalf("resume cursor missing from payload: %q", got)
	}
}

func TestSessionMinutes(t *testing.T) {
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		dur  time.Duration
		want int64
	}{
		{0, 1},
		{10 * time.Second, 1},
		{time.Minute, 1},
		{time.Minute + time.Second, 2},
		{90 * time.Minute, 90},
	}
	for _, tt := range tests {
		if got := sessionMinutes(base, base.Add(tt.dur)); got != tt.want {
			t.Fatalf("sessionMinutes(%v) = %d, want %d", tt.dur, got, tt.want)
		}
	}
}

func TestParseTopicList(t *testing.T) {
	topics, err := parseTopicList([]string{"orders", "", "user.created"})
	if err != nil {
		t.Fatalf("parseTopicList: %v", err)
	}
	if len(topics) != 2 || topics[0] != "orders" || topics[1] != "user.created" {
		t.Fatalf("topics = %v", topics)
	}

	for _, bad := range []string{"orders!", "a b", strings.Repeat("x", 256), "events.*"} {
		if _, err := parseTopicList([]string{bad}); apierr.CodeOf(err) != apierr.CodeInvalidTopic {
			t.Fatalf("topic %q: %v", bad, err)
		}
	}
}
