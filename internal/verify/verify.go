// Package verify checks the structural invariants of an arena and its free
// list. It is used by the allocators' Verify methods and by tests.
package verify

import (
	"fmt"
	"iter"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/dacapoday/blockalloc"
	"github.com/dacapoday/blockalloc/internal/block"
)

// Policy selects the checks that depend on the allocator variant.
type Policy struct {
	// Ascending requires the free list to be in strictly ascending
	// address order.
	Ascending bool

	// Coalesced requires that no two address-adjacent runs are both free.
	Coalesced bool
}

// Check walks the arena by header stepping and the free list by its
// links. It reports the first violated invariant wrapped in
// blockalloc.ErrCorrupt. Reserved runs must match the arena's held set.
func Check(arena *block.Arena, free iter.Seq[block.Index], policy Policy) error {
	if arena.Closed() {
		return blockalloc.ErrClosed
	}
	total := arena.Total()

	covered := roaring.New()
	starts := roaring.New()
	reserved := roaring.New()
	prevFree := false
	for run := range arena.Runs() {
		if run.End() > total {
			return corrupt("run %d+%d ends past block %d", run.Index, run.Count, total)
		}
		covered.AddRange(uint64(run.Index), uint64(run.End()))
		if run.Status != blockalloc.Free {
			reserved.Add(run.Index)
			prevFree = false
			continue
		}
		if policy.Coalesced && prevFree {
			return corrupt("free run %d follows another free run", run.Index)
		}
		starts.Add(run.Index)
		prevFree = true
	}
	if n := covered.GetCardinality(); n != uint64(total-1) {
		return corrupt("runs cover %d of %d blocks", n, total-1)
	}

	if held := arena.HeldRuns(); !held.Equals(reserved) {
		return corrupt("reserved runs %v, held runs %v", reserved.ToArray(), held.ToArray())
	}

	listed := roaring.New()
	var last block.Index
	steps := 0
	for i := range free {
		if steps++; steps > int(total) {
			return corrupt("free list longer than the arena")
		}
		if i == 0 || !arena.InBounds(i) {
			return corrupt("free list links to block %d outside [1, %d)", i, total)
		}
		if !listed.CheckedAdd(i) {
			return corrupt("free list visits block %d twice", i)
		}
		if !starts.Contains(i) {
			return corrupt("free list member %d is not a free run", i)
		}
		if policy.Ascending && i <= last {
			return corrupt("free list not ascending at block %d after %d", i, last)
		}
		last = i
	}

	if !listed.Equals(starts) {
		missing := roaring.AndNot(starts, listed)
		return corrupt("free runs %v are not on the free list", missing.ToArray())
	}
	return nil
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", blockalloc.ErrCorrupt, fmt.Sprintf(format, args...))
}

// CheckRing verifies that the circular list closed by sentinel has
// consistent back links and returns to the sentinel.
func CheckRing(arena *block.Arena, sentinel block.Index) error {
	if arena.Closed() {
		return blockalloc.ErrClosed
	}
	total := arena.Total()
	prev := sentinel
	i := arena.Next(sentinel)
	for steps := block.Index(0); ; steps++ {
		if steps > total {
			return corrupt("free list does not return to the sentinel")
		}
		if !arena.InBounds(i) {
			return corrupt("block %d links to %d outside the arena", prev, i)
		}
		if got := arena.Prev(i); got != prev {
			return corrupt("block %d has prev %d, want %d", i, got, prev)
		}
		if i == sentinel {
			return nil
		}
		prev, i = i, arena.Next(i)
	}
}
