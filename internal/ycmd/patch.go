package ycmd

import (
	"fmt"
	"sort"
)

// GroupChunksByFile splits a fix-it's chunks by target file, preserving
// relative order within each group.
func GroupChunksByFile(chunks []Chunk) map[string][]Chunk {
	groups := make(map[string][]Chunk)
	for _, c := range chunks {
		path := c.Range.Start.FilePath
		groups[path] = append(groups[path], c)
	}
	return groups
}

// ApplyChunks applies a set of replacement chunks to one buffer. Chunk
// coordinates refer to the buffer as it was before any chunk applied;
// chunks are sorted into document order and later chunks are rebased
// against the line and column drift introduced by earlier ones.
func ApplyChunks(buf Buffer, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	ordered := make([]Chunk, len(chunks))
	copy(ordered, chunks)
	// Stable: server order breaks ties between chunks at one position.
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i].Range.Start, ordered[j].Range.Start
		if a.LineNum != b.LineNum {
			return a.LineNum < b.LineNum
		}
		return a.ColumnNum < b.ColumnNum
	})

	lineDelta := 0
	charDelta := 0
	lastEndLine := -1

	for _, c := range ordered {
		start, end := c.Range.Start, c.Range.End
		if end.LineNum < start.LineNum ||
			(end.LineNum == start.LineNum && end.ColumnNum < start.ColumnNum) {
			return fmt.Errorf("chunk range ends before it starts: %d:%d before %d:%d",
				end.LineNum, end.ColumnNum, start.LineNum, start.ColumnNum)
		}

		// Column drift only carries within a single original line.
		if start.LineNum != lastEndLine {
			charDelta = 0
		}

		startLine := start.LineNum + lineDelta
		startCol := start.ColumnNum + charDelta
		endLine := end.LineNum + lineDelta
		endCol := end.ColumnNum
		if end.LineNum == start.LineNum {
			endCol += charDelta
		}

		if err := buf.Replace(startLine, startCol, endLine, endCol, c.ReplacementText); err != nil {
			return fmt.Errorf("applying chunk at %d:%d: %w", start.LineNum, start.ColumnNum, err)
		}

		segments := segmentCount(c.ReplacementText)
		lineDelta += (segments - 1) - (end.LineNum - start.LineNum)

		if segments > 1 {
			// The replacement tail starts a fresh line, so drift for text
			// after the chunk restarts from column one of that line.
			charDelta = len(lastSegment(c.ReplacementText)) + 1 - end.ColumnNum
		} else {
			// Span width comes from the original coordinates: the rebased
			// start already carries prior drift, so differencing rebased
			// columns would fold that drift in a second time.
			charDelta += len(lastSegment(c.ReplacementText)) - (end.ColumnNum - start.ColumnNum)
		}

		lastEndLine = end.LineNum
	}
	return nil
}
