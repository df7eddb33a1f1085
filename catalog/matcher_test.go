package catalog

import "testing"

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"order:created", "order:created", true},
		{"order:created", "order:updated", false},
		{"order:*", "order:created", true},
		{"order:*", "order:updated", true},
		{"order:*", "menu:updated", false},
		{"order:*", "order:item:added", false}, // single segment only
		{"order:*:added", "order:item:added", true},
		{"*", "anything", true},
		{"*", "order:created", true},
		{"*:created", "order:created", true},
		{"order:created", "order", false},
	}

	for _, tt := range tests {
		if got := Match(tt.pattern, tt.topic); got != tt.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.topic, got, tt.want)
		}
	}
}
