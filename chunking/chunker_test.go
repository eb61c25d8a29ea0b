package chunking

import (
	"strings"
	"testing"
)

func TestSplitOverlappingWindows(t *testing.T) {
	text := "a1 a2 a3 a4. b1 b2 b3 b4.\n\nc1 c2 c3 c4. d1 d2 d3 d4."
	got := New(10, 4).Split(text)
	want := []string{
		"a1 a2 a3 a4. b1 b2 b3 b4.",
		"b1 b2 b3 b4. c1 c2 c3 c4.",
		"c1 c2 c3 c4. d1 d2 d3 d4.",
	}
	if len(got) != len(want) {
		t.Fatalf("Split() = %q, want %d chunks", got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitWithoutOverlap(t *testing.T) {
	got := New(8, 0).Split("a1 a2 a3 a4. b1 b2 b3 b4. c1 c2.")
	if len(got) != 2 || got[1] != "c1 c2." {
		t.Errorf("Split() = %q", got)
	}
}

func TestSplitLongSentence(t *testing.T) {
	got := New(3, 0).Split("w1 w2 w3 w4 w5 w6 w7.")
	want := []string{"w1 w2 w3", "w4 w5 w6", "w7."}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("Split() = %q, want %q", got, want)
	}
}

func TestSplitRespectsWindow(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 200; i++ {
		sb.WriteString("The tribunal considered the evidence in detail. ")
	}
	c := New(50, 10)
	chunks := c.Split(sb.String())
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if n := len(strings.Fields(ch)); n > 50 {
			t.Errorf("chunk %d has %d tokens", i, n)
		}
	}
}

func TestSplitBlank(t *testing.T) {
	if got := New(10, 2).Split("  \n\n "); len(got) != 0 {
		t.Errorf("Split(blank) = %q", got)
	}
}

func TestNewNormalisesOptions(t *testing.T) {
	c := New(0, 900)
	if c.size != DefaultSize || c.overlap != 0 {
		t.Errorf("size=%d overlap=%d", c.size, c.overlap)
	}
}
