package ycmd

import "strings"

// LineIndex supports conversions between byte offsets and 1-based
// (line, column) locations over a fixed snapshot of buffer text.
// Columns count bytes, matching the server's column semantics.
type LineIndex struct {
	content string
	starts  []int // byte offset of each line start
}

// NewLineIndex builds an index over content.
func NewLineIndex(content string) *LineIndex {
	starts := []int{0}
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &LineIndex{content: content, starts: starts}
}

// LineCount returns the number of lines.
func (ix *LineIndex) LineCount() int {
	return len(ix.starts)
}

// LineStart returns the byte offset of a 1-based line's first byte.
func (ix *LineIndex) LineStart(line int) int {
	if line < 1 {
		return 0
	}
	if line > len(ix.starts) {
		return len(ix.content)
	}
	return ix.starts[line-1]
}

// Line returns the content of a 1-based line, without its newline.
func (ix *LineIndex) Line(line int) string {
	if line < 1 || line > len(ix.starts) {
		return ""
	}
	start := ix.starts[line-1]
	end := len(ix.content)
	if line < len(ix.starts) {
		end = ix.starts[line] - 1
	}
	return ix.content[start:end]
}

// OffsetFor converts a Location to a byte offset. Column 0 is treated as
// the start of the buffer; columns >= 1 are 1-based byte offsets within
// the line. Out-of-range values are clamped.
func (ix *LineIndex) OffsetFor(loc Location) int {
	if loc.ColumnNum == 0 {
		return 0
	}

	line := loc.LineNum
	if line < 1 {
		line = 1
	}
	if line > len(ix.starts) {
		line = len(ix.starts)
	}

	off := ix.starts[line-1] + loc.ColumnNum - 1

	lineEnd := len(ix.content)
	if line < len(ix.starts) {
		lineEnd = ix.starts[line] - 1
	}
	if off > lineEnd {
		off = lineEnd
	}
	return off
}

// LocationAt converts a byte offset to a 1-based Location with the given
// file path. Out-of-range offsets are clamped.
func (ix *LineIndex) LocationAt(path string, offset int) Location {
	if offset < 0 {
		offset = 0
	}
	if offset > len(ix.content) {
		offset = len(ix.content)
	}

	// Binary search over line starts.
	lo, hi := 0, len(ix.starts)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if ix.starts[mid] <= offset {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	return Location{
		FilePath:  path,
		LineNum:   lo + 1,
		ColumnNum: offset - ix.starts[lo] + 1,
	}
}

// segmentCount returns the number of newline-separated segments in text.
// Empty text counts as one empty segment.
func segmentCount(text string) int {
	return strings.Count(text, "\n") + 1
}

// lastSegment returns the text after the final newline.
func lastSegment(text string) string {
	if i := strings.LastIndexByte(text, '\n'); i >= 0 {
		return text[i+1:]
	}
	return text
}
