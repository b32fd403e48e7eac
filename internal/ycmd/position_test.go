package ycmd

import "testing"

func TestLineIndexOffsets(t *testing.T) {
	ix := NewLineIndex("one\ntwo\nthree")

	if got := ix.LineCount(); got != 3 {
		t.Fatalf("LineCount = %d, want 3", got)
	}

	tests := []struct {
		line, col int
		want      int
	}{
		{1, 1, 0},
		{1, 4, 3},
		{2, 1, 4},
		{2, 4, 7},
		{3, 1, 8},
		{3, 6, 13},
		// Column 0 means start of buffer.
		{2, 0, 0},
		// Clamped.
		{1, 99, 3},
		{99, 1, 8},
	}
	for _, tt := range tests {
		loc := Location{FilePath: "/tmp/x", LineNum: tt.line, ColumnNum: tt.col}
		if got := ix.OffsetFor(loc); got != tt.want {
			t.Errorf("OffsetFor(%d:%d) = %d, want %d", tt.line, tt.col, got, tt.want)
		}
	}
}

func TestLineIndexLocationAt(t *testing.T) {
	ix := NewLineIndex("one\ntwo\nthree")

	tests := []struct {
		offset    int
		line, col int
	}{
		{0, 1, 1},
		{3, 1, 4},
		{4, 2, 1},
		{8, 3, 1},
		{13, 3, 6},
		{-1, 1, 1},
		{99, 3, 6},
	}
	for _, tt := range tests {
		got := ix.LocationAt("/tmp/x", tt.offset)
		if got.LineNum != tt.line || got.ColumnNum != tt.col {
			t.Errorf("LocationAt(%d) = %d:%d, want %d:%d",
				tt.offset, got.LineNum, got.ColumnNum, tt.line, tt.col)
		}
	}
}

func TestLineIndexRoundTrip(t *testing.T) {
	content := "alpha\nβeta\n\nlast line"
	ix := NewLineIndex(content)

	for off := 0; off <= len(content); off++ {
		loc := ix.LocationAt("/tmp/x", off)
		if got := ix.OffsetFor(loc); got != off {
			t.Fatalf("round trip offset %d: got %d (via %d:%d)",
				off, got, loc.LineNum, loc.ColumnNum)
		}
	}
}

func TestSegmentHelpers(t *testing.T) {
	tests := []struct {
		text  string
		count int
		last  string
	}{
		{"", 1, ""},
		{"abc", 1, "abc"},
		{"a\nb", 2, "b"},
		{"a\nb\n", 3, ""},
	}
	for _, tt := range tests {
		if got := segmentCount(tt.text); got != tt.count {
			t.Errorf("segmentCount(%q) = %d, want %d", tt.text, got, tt.count)
		}
		if got := lastSegment(tt.text); got != tt.last {
			t.Errorf("lastSegment(%q) = %q, want %q", tt.text, got, tt.last)
		}
	}
}
