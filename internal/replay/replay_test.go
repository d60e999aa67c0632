package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/harborgrid/beacon/internal/eventlog"
	"github.com/harborgrid/beacon/internal/gate"
	"github.com/harborgrid/beacon/pkg/apierr"
	"github.com/harborgrid/beacon/pkg/cursor"
	"github.com/harborgrid/beacon/pkg/models"
)

const (
	testTenant  = "11111111-aaaa-4bbb-8ccc-222222222222"
	testProject = "33333333-dddd-4eee-8fff-444444444444"
)

func testAuth(scopes ...models.Scope) *gate.AuthContext {
	return &gate.AuthContext{
		TenantID:  testTenant,
		ProjectID: testProject,
		Scopes:    models.NewScopeSet(scopes...),
		Tenant:    &models.Tenant{ID: testTenant, Status: models.TenantActive},
	}
}

func seedLog(t *testing.T, n int) *eventlog.MemoryLog {
	t.Helper()
	log := eventlog.NewMemoryLog("test", 0)
	for i := 1; i <= n; i++ {
		subject, err := eventlog.Subject(testTenant, testProject, "orders")
		if err != nil {
			t.Fatalf("Subject: %v", err)
		}
		headers := map[string]string{
			eventlog.HeaderEventID:     fmt.Sprintf("e%d", i),
			eventlog.HeaderTopic:       "orders",
			eventlog.HeaderPublishedAt: time.Now().UTC().Format(time.RFC3339Nano),
		}
		if _, err := log.Append(context.Background(), subject, headers, []byte(fmt.Sprintf(`{"n":%d}`, i))); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	return log
}

func TestReplayFromStartWithLimit(t *testing.T) {
	engine := New(seedLog(t, 3))
	auth := testAuth(models.ScopeEventsSubscribe)

	batch, err := engine.Replay(context.Background(), auth, "", nil, 2)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(batch.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(batch.Items))
	}
	if batch.Items[0].Event.ID != "e1" || batch.Items[1].Event.ID != "e2" {
		t.Fatalf("order wrong: %s, %s", batch.Items[0].Event.ID, batch.Items[1].Event.ID)
	}
	if batch.Items[0].Event.Sequence >= batch.Items[1].Event.Sequence {
		t.Fatal("sequences must increase")
	}
}

func TestReplayResumeIsDeterministic(t *testing.T) {
	engine := New(seedLog(t, 3))
	auth := testAuth(models.ScopeEventsSubscribe)
	ctx := context.Background()

	first, err := engine.Replay(ctx, auth, "", nil, 2)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	// Resuming at an item's own cursor re-reads from that event, so a
	// repeated request yields byte-identical history.
	again, err := engine.Replay(ctx, auth, "", &first.Items[0].Cursor, 2)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if len(again.Items) != 2 || again.Items[0].Event.ID != "e1" || again.Items[1].Event.ID != "e2" {
		t.Fatalf("resume not deterministic: %+v", again.Items)
	}
	if string(again.Items[0].Event.Payload) != string(first.Items[0].Event.Payload) {
		t.Fatal("payload differs across identical replays")
	}

	// The batch's next cursor continues past the last item.
	next, err := cursor.Decode(first.Next)
	if err != nil {
		t.Fatalf("Decode next: %v", err)
	}
	rest, err := engine.Replay(ctx, auth, "", next, 10)
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	if len(rest.Items) != 1 || rest.Items[0].Event.ID != "e3" {
		t.Fatalf("continuation = %+v", rest.Items)
	}
}

func TestReplayTopicFilter(t *testing.T) {
	log := eventlog.NewMemoryLog("test", 0)
	ctx := context.Background()
	for i, topic := range []string{"orders", "refunds", "orders"} {
		subject, _ := eventlog.Subject(testTenant, testProject, topic)
		headers := map[string]string{
			eventlog.HeaderEventID: fmt.Sprintf("e%d", i+1),
			eventlog.HeaderTopic:   topic,
		}
		if _, err := log.Append(ctx, subject, headers, json.RawMessage(`{}`)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	engine := New(log)
	batch, err := engine.Replay(ctx, testAuth(models.ScopeEventsSubscribe), "orders", nil, 10)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(batch.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(batch.Items))
	}
	for _, item := range batch.Items {
		if item.Event.Topic != "orders" {
			t.Fatalf("foreign topic leaked: %s", item.Event.Topic)
		}
	}
}

func TestReplayAuthorization(t *testing.T) {
	engine := New(seedLog(t, 1))
	ctx := context.Background()

	_, err := engine.Replay(ctx, testAuth(models.ScopeEventsPublish), "", nil, 10)
	if apierr.CodeOf(err) != apierr.CodeInsufficientScope {
		t.Fatalf("missing scope: %v", err)
	}

	suspended := testAuth(models.ScopeEventsSubscribe)
	suspended.Tenant.Status = models.TenantSuspended
	if _, err := engine.Replay(ctx, suspended, "", nil, 10); apierr.CodeOf(err) != apierr.CodeTenantSuspended {
		t.Fatalf("suspended tenant: %v", err)
	}

	if _, err := engine.Replay(ctx, testAuth(models.ScopeEventsSubscribe), "orders.*", nil, 10); apierr.CodeOf(err) != apierr.CodeInvalidTopic {
		t.Fatalf("wildcard topic: %v", err)
	}

	long := strings.Repeat("a", 256)
	if _, err := engine.Replay(ctx, testAuth(models.ScopeEventsSubscribe), long, nil, 10); apierr.CodeOf(err) != apierr.CodeInvalidTopic {
		t.Fatalf("overlong topic: %v", err)
	}
}

func TestReplayEmptyBatchEchoesCursor(t *testing.T) {
	engine := New(seedLog(t, 2))
	auth := testAuth(models.ScopeEventsSubscribe)

	cur := &cursor.Cursor{Sequence: 100, Timestamp: time.Now()}
	batch, err := engine.Replay(context.Background(), auth, "", cur, 10)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(batch.Items) != 0 {
		t.Fatalf("items = %d, want 0", len(batch.Items))
	}
	if batch.Next != cur.Encode() {
		t.Fatal("empty batch must echo the request cursor")
	}
}

func TestReplayLimitDefaults(t *testing.T) {
	engine := New(seedLog(t, DefaultLimit+5))
	auth := testAuth(models.ScopeEventsSubscribe)

	batch, err := engine.Replay(context.Background(), auth, "", nil, 0)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(batch.Items) != DefaultLimit {
		t.Fatalf("items = %d, want default %d", len(batch.Items), DefaultLimit)
	}
}
