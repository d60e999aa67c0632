package eventlog

import "testing"

func TestSubjectWellFormed(t *testing.T) {
	subject, err := Subject("11111111-aaaa-4bbb-8ccc-222222222222", "33333333-dddd-4eee-8fff-444444444444", "user.created")
	if err != nil {
		t.Fatalf("Subject: %v", err)
	}
	tenant, project, topic, ok := SplitSubject(subject)
	if !ok {
		t.Fatalf("SplitSubject failed on %q", subject)
	}
	if tenant != "11111111-aaaa-4bbb-8ccc-222222222222" || project != "33333333-dddd-4eee-8fff-444444444444" || topic != "user.created" {
		t.Fatalf("roundtrip lost identity: %s %s %s", tenant, project, topic)
	}
}

func TestSubjectRejectsUnsafeIdentifiers(t *testing.T) {
	for _, tt := range []struct{ tenant, project string }{
		{"", "p1"},
		{"t1", ""},
		{"t1.evil", "p1"},
		{"t1", "p*"},
		{"T1", "p1"},
		{"t1 ", "p1"},
	} {
		if _, err := Subject(tt.tenant, tt.project, "orders"); err == nil {
			t.Fatalf("Subject(%q, %q) accepted unsafe identifier", tt.tenant, tt.project)
		}
	}
}

func TestMatchFilter(t *testing.T) {
	tests := []struct {
		filter, subject string
		want            bool
	}{
		{"events.>", "events.t1.p1.orders", true},
		{"events.t1.p1.>", "events.t1.p1.orders", true},
		{"events.t1.p1.>", "events.t1.p1.user.created", true},
		{"events.t1.p1.>", "events.t2.p1.orders", false},
		{"events.t1.p1.orders", "events.t1.p1.orders", true},
		{"events.t1.p1.orders", "events.t1.p1.orders.paid", false},
		{"events.t1.*.orders", "events.t1.p9.orders", true},
		{"events.t1.*.orders", "events.t1.p9.refunds", false},
		{"events.>", "events", false},
		{"events.t1.p1.user.created", "events.t1.p1.user.created", true},
	}
	for _, tt := range tests {
		if got := matchFilter(tt.filter, tt.subject); got != tt.want {
			t.Fatalf("matchFilter(%q, %q) = %v, want %v", tt.filter, tt.subject, got, tt.want)
		}
	}
}
