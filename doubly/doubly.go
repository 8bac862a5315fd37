// Package doubly implements a first-fit block allocator whose free runs form
// a circular doubly linked list closed by a sentinel block.
//
// Release is O(1): the run is pushed right after the sentinel and nothing is
// merged. Coalescing is deferred to Acquire, which absorbs every free
// physical successor of each run it visits before testing whether the run
// is large enough. Adjacent free runs therefore persist until a scan walks
// past them.
//
// An Allocator is not safe for concurrent use.
package doubly

import (
	"fmt"
	"iter"

	"github.com/dacapoday/blockalloc"
	"github.com/dacapoday/blockalloc/internal/block"
	"github.com/dacapoday/blockalloc/internal/verify"
	"github.com/dacapoday/blockalloc/layout"
)

type Ptr = blockalloc.Ptr

// sentinel is the permanently reserved bookkeeping block closing the list.
const sentinel block.Index = 0

type Allocator struct {
	arena   *block.Arena
	log     *blockalloc.Logger
	metrics blockalloc.MetricsCollector
	used    int
}

var _ blockalloc.Allocator = (*Allocator)(nil)

// New creates an allocator for capacity payload bytes. The arena holds
// ceil(capacity/blockSize) blocks in a single free run plus the sentinel.
func New(capacity int, opts ...blockalloc.Option) (*Allocator, error) {
	o, err := blockalloc.NewOptions(opts...)
	if err != nil {
		return nil, fmt.Errorf("doubly.New: %w", err)
	}
	arena, err := block.New(capacity, o.BlockSize, o.Mmap)
	if err != nil {
		return nil, fmt.Errorf("doubly.New: %w", err)
	}

	a := &Allocator{
		arena:   arena,
		log:     o.Logger.WithVariant("doubly"),
		metrics: o.Metrics,
	}
	first := block.Index(1)
	arena.SetHeader(first, blockalloc.Free, arena.Total()-1)
	a.insertAfter(first, sentinel)
	return a, nil
}

// Close releases the arena. Every Ptr handed out becomes invalid.
func (a *Allocator) Close() error {
	if err := a.arena.Close(); err != nil {
		return fmt.Errorf("doubly.Close: %w", err)
	}
	return nil
}

func (a *Allocator) unlink(i block.Index) {
	arena := a.arena
	next, prev := arena.Next(i), arena.Prev(i)
	arena.SetPrev(next, prev)
	arena.SetNext(prev, next)
}

func (a *Allocator) insertAfter(i, prev block.Index) {
	arena := a.arena
	next := arena.Next(prev)
	arena.SetPrev(next, i)
	arena.SetNext(i, next)
	arena.SetPrev(i, prev)
	arena.SetNext(prev, i)
}

// coalesce absorbs every free run that physically follows i.
func (a *Allocator) coalesce(i block.Index) {
	arena := a.arena
	merged := 0
	for next := i + arena.Count(i); arena.InBounds(next) && arena.Status(next) == blockalloc.Free; next = i + arena.Count(i) {
		arena.SetCount(i, arena.Count(i)+arena.Count(next))
		a.unlink(next)
		merged++
	}
	if merged > 0 {
		a.metrics.RecordCoalesce(merged)
	}
}

// Coalesce walks the whole free list and merges every free run with its
// free physical successors, leaving no two adjacent runs free.
func (a *Allocator) Coalesce() {
	if a.arena.Closed() {
		return
	}
	for i := a.arena.Next(sentinel); i != sentinel; i = a.arena.Next(i) {
		a.coalesce(i)
	}
}

// Acquire reserves the first run, after coalescing, with room for size
// payload bytes. A remainder is pushed to the front of the free list.
func (a *Allocator) Acquire(size int) (p Ptr, err error) {
	need := 0
	defer func() {
		a.metrics.RecordAcquire(need, err)
		a.log.LogAcquire(size, need, p, err)
	}()

	if a.arena.Closed() {
		return blockalloc.Nil, blockalloc.ErrClosed
	}
	if size < 0 {
		return blockalloc.Nil, fmt.Errorf("acquire %d bytes: %w", size, blockalloc.ErrOutOfRange)
	}
	if size >= int(a.arena.Total())*a.arena.BlockSize() {
		// No run can fit, but the scan still merges every run it visits.
		a.Coalesce()
		return blockalloc.Nil, fmt.Errorf("acquire %d bytes: %w", size, blockalloc.ErrOutOfMemory)
	}
	need = a.arena.Blocks(size)

	arena := a.arena
	blocks := block.Index(need)
	node := arena.Next(sentinel)
	for node != sentinel {
		a.coalesce(node)
		if arena.Count(node) >= blocks {
			break
		}
		node = arena.Next(node)
	}
	if node == sentinel {
		return blockalloc.Nil, fmt.Errorf("acquire %d bytes (%d blocks): %w", size, need, blockalloc.ErrOutOfMemory)
	}

	arena.SetStatus(node, blockalloc.Reserved)
	if count := arena.Count(node); count > blocks {
		rest := node + blocks
		arena.SetHeader(rest, blockalloc.Free, count-blocks)
		a.insertAfter(rest, sentinel)
		arena.SetCount(node, blocks)
		a.metrics.RecordSplit()
	}
	a.unlink(node)
	arena.Hold(node)
	a.used += need
	return arena.Payload(node), nil
}

// Release pushes the run owning p to the front of the free list without
// merging. Pointers that do not name a reserved run are ignored.
func (a *Allocator) Release(p Ptr) {
	_ = a.TryRelease(p)
}

// TryRelease is Release reporting ignored pointers as ErrInvalidRelease.
func (a *Allocator) TryRelease(p Ptr) error {
	if a.arena.Closed() {
		return blockalloc.ErrClosed
	}
	i, ok := a.reserved(p)
	if !ok {
		err := fmt.Errorf("release %d: %w", p, blockalloc.ErrInvalidRelease)
		a.log.LogRelease(p, 0, err)
		return err
	}

	count := int(a.arena.Count(i))
	a.insertAfter(i, sentinel)
	a.arena.SetStatus(i, blockalloc.Free)
	a.arena.Unhold(i)
	a.used -= count

	a.metrics.RecordRelease(count)
	a.log.LogRelease(p, count, nil)
	return nil
}

func (a *Allocator) reserved(p Ptr) (block.Index, bool) {
	i, ok := a.arena.HeaderOf(p)
	if !ok || !a.arena.Held(i) {
		return 0, false
	}
	status, count := a.arena.Header(i)
	if status != blockalloc.Reserved || count == 0 || count > a.arena.Total()-i {
		return 0, false
	}
	return i, true
}

// Bytes returns the payload of the reserved run at p, or nil.
func (a *Allocator) Bytes(p Ptr) []byte {
	if a.arena.Closed() {
		return nil
	}
	i, ok := a.reserved(p)
	if !ok {
		return nil
	}
	return a.arena.Bytes(i)
}

func (a *Allocator) BlockSize() int { return a.arena.BlockSize() }

// UsedBlocks returns the number of blocks in reserved runs.
func (a *Allocator) UsedBlocks() int { return a.used }

func (a *Allocator) Stats() blockalloc.Stats { return a.arena.Stats() }

// Runs yields every run in address order.
func (a *Allocator) Runs() iter.Seq[blockalloc.Run] { return a.arena.Runs() }

// FreeList yields the free runs in list order, most recently freed first.
func (a *Allocator) FreeList() iter.Seq[blockalloc.Run] {
	return func(yield func(blockalloc.Run) bool) {
		if a.arena.Closed() {
			return
		}
		for i := range a.freeIndices() {
			if !a.arena.InBounds(i) || !yield(blockalloc.Run{Index: i, Count: a.arena.Count(i), Status: a.arena.Status(i)}) {
				return
			}
		}
	}
}

func (a *Allocator) freeIndices() iter.Seq[block.Index] {
	return func(yield func(block.Index) bool) {
		arena := a.arena
		for i, n := arena.Next(sentinel), block.Index(0); i != sentinel && n < arena.Total(); i, n = arena.Next(i), n+1 {
			if !yield(i) || !arena.InBounds(i) {
				return
			}
		}
	}
}

// Link is one node of the free list as seen from its link fields.
type Link struct {
	Index, Prev, Next uint32
}

// Links yields the sentinel followed by every free list node in list order.
func (a *Allocator) Links() iter.Seq[Link] {
	return func(yield func(Link) bool) {
		if a.arena.Closed() {
			return
		}
		arena := a.arena
		if !yield(Link{Index: sentinel, Prev: arena.Prev(sentinel), Next: arena.Next(sentinel)}) {
			return
		}
		for i := range a.freeIndices() {
			if !arena.InBounds(i) || !yield(Link{Index: i, Prev: arena.Prev(i), Next: arena.Next(i)}) {
				return
			}
		}
	}
}

// Verify checks the arena partition, the free list membership and the
// back links. Adjacent free runs are allowed until a scan merges them.
func (a *Allocator) Verify() error {
	if err := verify.Check(a.arena, a.freeIndices(), verify.Policy{}); err != nil {
		return err
	}
	return verify.CheckRing(a.arena, sentinel)
}

// VisualizeLayout renders the arena with one symbol per block.
func (a *Allocator) VisualizeLayout(header, begin, unused, used byte) string {
	if a.arena.Closed() {
		return ""
	}
	return layout.Render(a.arena.Runs(), layout.Symbols{Header: header, Begin: begin, Unused: unused, Used: used})
}

func (a *Allocator) String() string {
	sym := layout.DefaultSymbols
	return a.VisualizeLayout(sym.Header, sym.Begin, sym.Unused, sym.Used)
}
