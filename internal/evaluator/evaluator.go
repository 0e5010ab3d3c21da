package evaluator

// Line evaluator for 5x5 bingo cards.
// Marks are packed into a 25-bit row-major mask and compared against the
// twelve winning line masks, so every call site checks exactly the same set.

import (
	"fmt"
	"math/bits"

	"github.com/lox/bingoforbots/internal/card"
)

// LineKind identifies the orientation of a winning line.
type LineKind uint8

const (
	Row LineKind = iota
	Column
	Diagonal
)

// String returns the lowercase name of the line kind.
func (k LineKind) String() string {
	switch k {
	case Row:
		return "row"
	case Column:
		return "column"
	case Diagonal:
		return "diagonal"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind by name for JSON payloads.
func (k LineKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *LineKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "row":
		*k = Row
	case "column":
		*k = Column
	case "diagonal":
		*k = Diagonal
	default:
		return fmt.Errorf("unknown line kind %q", b)
	}
	return nil
}

// Line is a complete row, column or diagonal. For diagonals, Index 0 runs
// top-left to bottom-right and Index 1 runs top-right to bottom-left.
type Line struct {
	Kind  LineKind `json:"kind"`
	Index int      `json:"index"`
}

func (l Line) String() string {
	return fmt.Sprintf("%s %d", l.Kind, l.Index)
}

// Cells returns the row-major cell indices that make up the line.
func (l Line) Cells() []int {
	cells := make([]int, 0, card.Size)
	for i := range card.Size {
		switch l.Kind {
		case Row:
			cells = append(cells, l.Index*card.Size+i)
		case Column:
			cells = append(cells, i*card.Size+l.Index)
		case Diagonal:
			if l.Index == 0 {
				cells = append(cells, i*card.Size+i)
			} else {
				cells = append(cells, i*card.Size+(card.Size-1-i))
			}
		}
	}
	return cells
}

type lineMask struct {
	line Line
	mask uint32
}

// lines is evaluated in order: rows, then columns, then diagonals.
var lines = buildLines()

func buildLines() []lineMask {
	out := make([]lineMask, 0, 2*card.Size+2)
	add := func(l Line) {
		var mask uint32
		for _, idx := range l.Cells() {
			mask |= 1 << idx
		}
		out = append(out, lineMask{line: l, mask: mask})
	}
	for i := range card.Size {
		add(Line{Kind: Row, Index: i})
	}
	for i := range card.Size {
		add(Line{Kind: Column, Index: i})
	}
	add(Line{Kind: Diagonal, Index: 0})
	add(Line{Kind: Diagonal, Index: 1})
	return out
}

// Check reports whether any row, column or diagonal is fully marked.
func Check(m card.Marks) bool {
	_, ok := FirstLine(m)
	return ok
}

// FirstLine returns the first complete line in evaluation order.
func FirstLine(m card.Marks) (Line, bool) {
	marked := m.Bits()
	for _, lm := range lines {
		if marked&lm.mask == lm.mask {
			return lm.line, true
		}
	}
	return Line{}, false
}

// Lines returns every complete line.
func Lines(m card.Marks) []Line {
	marked := m.Bits()
	var out []Line
	for _, lm := range lines {
		if marked&lm.mask == lm.mask {
			out = append(out, lm.line)
		}
	}
	return out
}

// Missing returns, for the line closest to completion, how many cells are
// still unmarked. It is zero when Check is true.
func Missing(m card.Marks) int {
	marked := m.Bits()
	best := card.Size
	for _, lm := range lines {
		need := card.Size - bits.OnesCount32(marked&lm.mask)
		if need < best {
			best = need
		}
	}
	return best
}
