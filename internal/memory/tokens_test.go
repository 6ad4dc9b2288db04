package memory

import "testing"

func TestHeuristicCounter(t *testing.T) {
	c := HeuristicCounter{}

	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},            // floor at 1
		{"abcd", 1},         // 4 * 0.25
		{"abcdefgh", 2},     // 8 * 0.25
		{"你好", 1},           // 2 * 0.5
		{"你好世界", 2},         // 4 * 0.5
		{"hi你好", 1},         // 2*0.25 + 2*0.5 = 1.5 -> 1
		{"hello 你好世界", 3},   // 6*0.25 + 4*0.5 = 3.5 -> 3
	}

	for _, tt := range tests {
		if got := c.Count(tt.text); got != tt.want {
			t.Errorf("Count(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestHeuristicCounterMonotonic(t *testing.T) {
	c := HeuristicCounter{}
	prev := 0
	text := ""
	for i := 0; i < 50; i++ {
		text += "词语 and words "
		n := c.Count(text)
		if n < prev {
			t.Fatalf("count decreased from %d to %d at length %d", prev, n, len(text))
		}
		prev = n
	}
}

func TestTiktokenCounterFallsBack(t *testing.T) {
	c := NewTiktokenCounter("definitely-not-a-model")
	if got := c.Count("abcd"); got != 1 {
		t.Errorf("fallback Count = %d, want heuristic 1", got)
	}
	if got := c.Count(""); got != 0 {
		t.Errorf("Count(\"\") = %d, want 0", got)
	}
}
