package observer

import (
	"context"
	"testing"
)

func TestMultiFansOutInOrder(t *testing.T) {
	a := &Recorder{}
	b := &Recorder{}
	m := Multi{a, Nop{}, b}

	m.Observe(context.Background(), Event{Kind: KindKillSwitch, TenantID: "t1"})
	m.Observe(context.Background(), Event{Kind: KindRateLimited, TenantID: "t1"})

	for _, rec := range []*Recorder{a, b} {
		events := rec.Events()
		if len(events) != 2 {
			t.Fatalf("events = %d, want 2", len(events))
		}
		if events[0].Kind != KindKillSwitch || events[1].Kind != KindRateLimited {
			t.Fatalf("order = %s, %s", events[0].Kind, events[1].Kind)
		}
	}
}

func TestRecorderStampsMissingTime(t *testing.T) {
	rec := &Recorder{}
	rec.Observe(context.Background(), Event{Kind: KindEventDropped})

	if rec.Events()[0].At.IsZero() {
		t.Fatal("recorder must stamp events with no timestamp")
	}
	if rec.CountKind(KindEventDropped) != 1 || rec.CountKind(KindKillSwitch) != 0 {
		t.Fatal("CountKind miscounts")
	}
}
