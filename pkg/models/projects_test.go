package models

import "testing"

func TestEffectiveMaxPayload(t *testing.T) {
	tests := []struct {
		name  string
		limit int64
		want  int64
	}{
		{"unset falls back to platform cap", 0, HardMaxPayloadSize},
		{"project may tighten", 64 * 1024, 64 * 1024},
		{"project cannot loosen past the cap", 10 << 20, HardMaxPayloadSize},
		{"negative treated as unset", -1, HardMaxPayloadSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := ProjectLimits{MaxPayloadSize: tt.limit}
			if got := l.EffectiveMaxPayload(); got != tt.want {
				t.Fatalf("EffectiveMaxPayload() = %d, want %d", got, tt.want)
			}
		})
	}
}
