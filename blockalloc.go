// Package blockalloc defines the shared vocabulary of the fixed-arena block
// allocators in this module.
//
// Two implementations live in sub-packages:
//
//   - singly: address-ordered singly linked free list, coalescing on Release.
//   - doubly: circular doubly linked free list with a sentinel block,
//     coalescing lazily while Acquire scans.
//
// Both manage a single byte arena split into fixed-size blocks. A run is a
// header block followed by zero or more payload blocks; the header records
// the run's Status and block count.
package blockalloc

import "fmt"

// Allocator is the minimum surface shared by every allocator variant.
//
// Implementations are not safe for concurrent use.
type Allocator interface {
	// Acquire reserves a run large enough for size payload bytes and
	// returns the payload offset. It fails with ErrOutOfMemory when no
	// free run is large enough.
	Acquire(size int) (Ptr, error)

	// Release returns the run owning p to the free list.
	// Pointers that do not name a reserved run are ignored.
	Release(p Ptr)

	// VisualizeLayout renders one symbol per arena block.
	VisualizeLayout(header, begin, unused, used byte) string
}

// Ptr is the byte offset of a payload inside an arena.
// The zero Ptr never refers to a payload.
type Ptr int

// Nil is the zero Ptr.
const Nil Ptr = 0

// Status is the state recorded in a run header.
type Status uint8

const (
	Free Status = iota
	Reserved
)

func (s Status) String() string {
	switch s {
	case Free:
		return "free"
	case Reserved:
		return "reserved"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Run describes Count contiguous blocks starting at block Index.
type Run struct {
	Index  uint32
	Count  uint32
	Status Status
}

// End returns the index of the first block after the run.
func (r Run) End() uint32 { return r.Index + r.Count }

// Stats is a snapshot of arena occupancy.
type Stats struct {
	BlockSize      int // Bytes per block
	TotalBlocks    int // Blocks in the arena, bookkeeping block included
	UsedBlocks     int // Blocks in reserved runs
	FreeBlocks     int // Blocks in free runs
	FreeRuns       int // Number of free runs
	LargestFreeRun int // Blocks in the largest free run
}

// Utilization returns the ratio of used to allocatable blocks (0.0 to 1.0).
func (s Stats) Utilization() float64 {
	usable := s.UsedBlocks + s.FreeBlocks
	if usable == 0 {
		return 0
	}
	return float64(s.UsedBlocks) / float64(usable)
}
