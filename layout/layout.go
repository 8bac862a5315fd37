// Package layout renders the physical run layout of an arena as a string of
// symbols, one per block, and parses such strings back into runs.
//
// With DefaultSymbols an arena of eleven blocks holding one reserved run of
// two blocks followed by a free run of eight blocks renders as
//
//	HXXb.......
//
// The first symbol stands for the bookkeeping block.
package layout

import (
	"fmt"
	"iter"
	"strings"

	"github.com/dacapoday/blockalloc"
)

// Symbols selects the byte printed for each kind of block.
type Symbols struct {
	Header byte // bookkeeping block
	Begin  byte // first block of a free run
	Unused byte // remaining blocks of a free run
	Used   byte // every block of a reserved run
}

var DefaultSymbols = Symbols{Header: 'H', Begin: 'b', Unused: '.', Used: 'X'}

func (sym Symbols) valid() bool {
	return sym.Begin != sym.Unused && sym.Begin != sym.Used && sym.Unused != sym.Used
}

// Render writes one symbol per block of runs, which must be given in
// address order. The result is one byte longer than the sum of the run
// counts.
func Render(runs iter.Seq[blockalloc.Run], sym Symbols) string {
	var sb strings.Builder
	sb.WriteByte(sym.Header)
	for run := range runs {
		if run.Count == 0 {
			continue
		}
		if run.Status == blockalloc.Reserved {
			repeat(&sb, sym.Used, int(run.Count))
			continue
		}
		sb.WriteByte(sym.Begin)
		repeat(&sb, sym.Unused, int(run.Count)-1)
	}
	return sb.String()
}

// repeat writes c n times as a raw byte. Symbols above 0x7f must not be
// widened to UTF-8.
func repeat(sb *strings.Builder, c byte, n int) {
	sb.Grow(n)
	for range n {
		sb.WriteByte(c)
	}
}

// Parse is the inverse of Render. Adjacent reserved runs cannot be told
// apart in a layout string, so each maximal stretch of used symbols comes
// back as a single reserved run.
func Parse(s string, sym Symbols) ([]blockalloc.Run, error) {
	if !sym.valid() {
		return nil, fmt.Errorf("%w: symbols %q %q %q are not distinct", blockalloc.ErrBadLayout, sym.Begin, sym.Unused, sym.Used)
	}
	if len(s) == 0 || s[0] != sym.Header {
		return nil, fmt.Errorf("%w: missing header symbol %q", blockalloc.ErrBadLayout, sym.Header)
	}

	var runs []blockalloc.Run
	for i := 1; i < len(s); {
		var run blockalloc.Run
		run.Index = uint32(i)
		switch s[i] {
		case sym.Begin:
			run.Status = blockalloc.Free
			i++
			for i < len(s) && s[i] == sym.Unused {
				i++
			}
		case sym.Used:
			run.Status = blockalloc.Reserved
			for i < len(s) && s[i] == sym.Used {
				i++
			}
		default:
			return nil, fmt.Errorf("%w: unexpected %q at block %d", blockalloc.ErrBadLayout, s[i], i)
		}
		run.Count = uint32(i) - run.Index
		runs = append(runs, run)
	}
	return runs, nil
}
