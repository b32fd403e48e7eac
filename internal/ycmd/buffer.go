package ycmd

import (
	"fmt"
	"strings"
)

// Buffer is the abstract line-oriented text buffer the client synchronizes
// with the server. Editor integrations implement it over their own buffer
// types; LineBuffer is an in-memory implementation.
//
// Lines are 1-based. Columns are 1-based byte offsets within a line; a
// range's end column is exclusive.
type Buffer interface {
	// FilePath returns the absolute path backing the buffer.
	FilePath() string

	// Filetypes returns the buffer's filetype identifiers (e.g. "go").
	Filetypes() []string

	// Contents returns the full buffer text.
	Contents() string

	// LineCount returns the number of lines.
	LineCount() int

	// Line returns the content of a 1-based line, without its newline.
	Line(n int) string

	// Replace deletes the half-open range [start, end) and inserts text
	// in its place. Coordinates are 1-based (line, column) pairs.
	Replace(startLine, startCol, endLine, endCol int, text string) error
}

// LineBuffer is an in-memory Buffer backed by a slice of lines.
type LineBuffer struct {
	path      string
	filetypes []string
	lines     []string
}

// NewLineBuffer creates a buffer for path with the given contents.
func NewLineBuffer(path string, filetypes []string, contents string) *LineBuffer {
	return &LineBuffer{
		path:      path,
		filetypes: filetypes,
		lines:     strings.Split(contents, "\n"),
	}
}

// FilePath returns the path backing the buffer.
func (b *LineBuffer) FilePath() string { return b.path }

// Filetypes returns the buffer's filetype identifiers.
func (b *LineBuffer) Filetypes() []string { return b.filetypes }

// Contents returns the full buffer text.
func (b *LineBuffer) Contents() string { return strings.Join(b.lines, "\n") }

// LineCount returns the number of lines.
func (b *LineBuffer) LineCount() int { return len(b.lines) }

// Line returns the content of a 1-based line.
func (b *LineBuffer) Line(n int) string {
	if n < 1 || n > len(b.lines) {
		return ""
	}
	return b.lines[n-1]
}

// SetContents replaces the whole buffer text.
func (b *LineBuffer) SetContents(contents string) {
	b.lines = strings.Split(contents, "\n")
}

// Replace deletes the half-open range [start, end) and inserts text.
func (b *LineBuffer) Replace(startLine, startCol, endLine, endCol int, text string) error {
	if startLine < 1 || startLine > len(b.lines) {
		return fmt.Errorf("start line %d out of range [1, %d]", startLine, len(b.lines))
	}
	if endLine < startLine || endLine > len(b.lines) {
		return fmt.Errorf("end line %d out of range [%d, %d]", endLine, startLine, len(b.lines))
	}

	startText := b.lines[startLine-1]
	endText := b.lines[endLine-1]

	if startCol < 1 || startCol > len(startText)+1 {
		return fmt.Errorf("start column %d out of range on line %d", startCol, startLine)
	}
	if endCol < 1 || endCol > len(endText)+1 {
		return fmt.Errorf("end column %d out of range on line %d", endCol, endLine)
	}
	if startLine == endLine && endCol < startCol {
		return fmt.Errorf("end column %d before start column %d", endCol, startCol)
	}

	prefix := startText[:startCol-1]
	suffix := endText[endCol-1:]
	segments := strings.Split(prefix+text+suffix, "\n")

	replaced := make([]string, 0, len(b.lines)-(endLine-startLine+1)+len(segments))
	replaced = append(replaced, b.lines[:startLine-1]...)
	replaced = append(replaced, segments...)
	replaced = append(replaced, b.lines[endLine:]...)
	b.lines = replaced

	return nil
}
