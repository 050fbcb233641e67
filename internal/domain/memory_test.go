package domain

import (
	"strings"
	"testing"
)

func TestNewMemoryID_Shape(t *testing.T) {
	for _, mt := range AllMemoryTypes() {
		id := NewMemoryID(mt)
		parts := strings.Split(id, "_")
		if len(parts) != 3 {
			t.Fatalf("id %q has %d segments, want 3", id, len(parts))
		}
		if parts[0] != mt.IDPrefix() {
			t.Fatalf("id %q prefix %q, want %q", id, parts[0], mt.IDPrefix())
		}
		if len(parts[2]) != 9 {
			t.Fatalf("id %q random segment length %d, want 9", id, len(parts[2]))
		}
		if MemoryTypeOfID(id) != mt {
			t.Fatalf("type not recoverable from %q", id)
		}
	}
}

func TestMemoryTypeOfID_Unknown(t *testing.T) {
	if got := MemoryTypeOfID("xx_123_abc"); got != "" {
		t.Fatalf("unknown prefix resolved to %q", got)
	}
}

func TestInitialImportance(t *testing.T) {
	cases := map[MemoryType]float64{
		MemoryTypeWorking:    0.8,
		MemoryTypeEpisodic:   0.5,
		MemoryTypeSemantic:   0.7,
		MemoryTypeProcedural: 0.8,
	}
	for mt, want := range cases {
		if got := mt.InitialImportance(); got != want {
			t.Fatalf("%s importance %f, want %f", mt, got, want)
		}
	}
}

func TestDecays(t *testing.T) {
	if !MemoryTypeWorking.Decays() || !MemoryTypeEpisodic.Decays() {
		t.Fatal("working and episodic memories must decay")
	}
	if MemoryTypeSemantic.Decays() || MemoryTypeProcedural.Decays() {
		t.Fatal("semantic and procedural memories must not decay")
	}
}

func TestTruncateID(t *testing.T) {
	if got := TruncateID("user-1234567890"); got != "user-123" {
		t.Fatalf("truncated to %q", got)
	}
	if got := TruncateID("short"); got != "short" {
		t.Fatalf("short id changed to %q", got)
	}
}

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("a", 40), 10},
	}
	for _, c := range cases {
		if got := EstimateTokens(c.text); got != c.want {
			t.Fatalf("EstimateTokens(%q) = %d, want %d", c.text, got, c.want)
		}
	}
}
