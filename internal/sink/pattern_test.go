package sink

import (
	"testing"
	"time"
)

func TestPatternRender(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	tests := []struct {
		name    string
		pattern Pattern
		msg     string
		want    string
	}{
		{"raw", PatternRaw, "temp=21.5", "temp=21.5"},
		{"diagnostic", PatternDiagnostic, "temp=21.5", "2026-03-14 09:26:53 | INFO | temp=21.5"},
		{"literal text kept", Pattern("plc: {msg}"), "ok", "plc: ok"},
		{"unknown tokens untouched", Pattern("{msg} {nope}"), "x", "x {nope}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.pattern.Render(ts, "INFO", tt.msg)
			if got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}
