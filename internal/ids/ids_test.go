package ids

import (
	"testing"
	"time"
)

func TestNewIsWellFormed(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := New()
		if len(id) != 26 {
			t.Fatalf("unexpected id length: %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestAtSortsByTimestamp(t *testing.T) {
	early := At(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	late := At(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	if early >= late {
		t.Fatalf("ids not time-ordered: %q >= %q", early, late)
	}
}
