// Package singly implements a first-fit block allocator whose free runs form
// a singly linked list in ascending address order.
//
// Coalescing is eager: Release merges the returned run with a free
// neighbour on either side before it returns, and Acquire never merges.
// Fragmentation therefore shows up immediately as ErrOutOfMemory even when
// enough free blocks exist in total.
//
// An Allocator is not safe for concurrent use.
package singly

import (
	"fmt"
	"iter"

	"github.com/dacapoday/blockalloc"
	"github.com/dacapoday/blockalloc/internal/block"
	"github.com/dacapoday/blockalloc/internal/verify"
	"github.com/dacapoday/blockalloc/layout"
)

type Ptr = blockalloc.Ptr

// anchor is the bookkeeping block. Its next link is the list head and
// index 0 doubles as the list terminator.
const anchor block.Index = 0

type Allocator struct {
	arena   *block.Arena
	log     *blockalloc.Logger
	metrics blockalloc.MetricsCollector
	used    int
}

var _ blockalloc.Allocator = (*Allocator)(nil)

// New creates an allocator for capacity payload bytes. The arena holds
// ceil(capacity/blockSize) blocks in a single free run plus one
// bookkeeping block.
func New(capacity int, opts ...blockalloc.Option) (*Allocator, error) {
	o, err := blockalloc.NewOptions(opts...)
	if err != nil {
		return nil, fmt.Errorf("singly.New: %w", err)
	}
	arena, err := block.New(capacity, o.BlockSize, o.Mmap)
	if err != nil {
		return nil, fmt.Errorf("singly.New: %w", err)
	}

	first := block.Index(1)
	arena.SetHeader(first, blockalloc.Free, arena.Total()-1)
	arena.SetNext(first, anchor)
	arena.SetNext(anchor, first)

	return &Allocator{
		arena:   arena,
		log:     o.Logger.WithVariant("singly"),
		metrics: o.Metrics,
	}, nil
}

// Close releases the arena. Every Ptr handed out becomes invalid.
func (a *Allocator) Close() error {
	if err := a.arena.Close(); err != nil {
		return fmt.Errorf("singly.Close: %w", err)
	}
	return nil
}

// Acquire reserves the first free run with room for size payload bytes.
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
		return blockalloc.Nil, fmt.Errorf("acquire %d bytes: %w", size, blockalloc.ErrOutOfMemory)
	}
	need = a.arena.Blocks(size)

	arena := a.arena
	blocks := block.Index(need)
	prev, node := anchor, arena.Next(anchor)
	for node != anchor && arena.Count(node) < blocks {
		prev, node = node, arena.Next(node)
	}
	if node == anchor {
		return blockalloc.Nil, fmt.Errorf("acquire %d bytes (%d blocks): %w", size, need, blockalloc.ErrOutOfMemory)
	}

	if count := arena.Count(node); count > blocks {
		rest := node + blocks
		arena.SetHeader(rest, blockalloc.Free, count-blocks)
		arena.SetNext(rest, arena.Next(node))
		arena.SetNext(prev, rest)
		a.metrics.RecordSplit()
	} else {
		arena.SetNext(prev, arena.Next(node))
	}
	arena.SetHeader(node, blockalloc.Reserved, blocks)
	arena.Hold(node)
	a.used += need
	return arena.Payload(node), nil
}

// Release returns the run owning p to the free list, merging it with free
// neighbours. Pointers that do not name a reserved run are ignored.
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

	arena := a.arena
	count := arena.Count(i)
	arena.SetStatus(i, blockalloc.Free)
	arena.Unhold(i)
	a.used -= int(count)

	prev, next := anchor, arena.Next(anchor)
	for next != anchor && next < i {
		prev, next = next, arena.Next(next)
	}

	merged := 0
	run := i
	if prev != anchor && prev+arena.Count(prev) == i {
		arena.SetCount(prev, arena.Count(prev)+count)
		run = prev
		merged++
	} else {
		arena.SetNext(i, next)
		arena.SetNext(prev, i)
	}
	if next != anchor && run+arena.Count(run) == next {
		arena.SetCount(run, arena.Count(run)+arena.Count(next))
		arena.SetNext(run, arena.Next(next))
		merged++
	}

	if merged > 0 {
		a.metrics.RecordCoalesce(merged)
	}
	a.metrics.RecordRelease(int(count))
	a.log.LogRelease(p, int(count), nil)
	return nil
}

// reserved resolves p to the header of a reserved run.
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

// BlockSize returns the block size in bytes.
func (a *Allocator) BlockSize() int { return a.arena.BlockSize() }

// UsedBlocks returns the number of blocks in reserved runs.
func (a *Allocator) UsedBlocks() int { return a.used }

// Stats walks the arena and summarises its runs.
func (a *Allocator) Stats() blockalloc.Stats { return a.arena.Stats() }

// Runs yields every run in address order.
func (a *Allocator) Runs() iter.Seq[blockalloc.Run] { return a.arena.Runs() }

// FreeList yields the free runs in list order, which is address order.
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
		for i, n := arena.Next(anchor), block.Index(0); i != anchor && n < arena.Total(); i, n = arena.Next(i), n+1 {
			if !yield(i) || !arena.InBounds(i) {
				return
			}
		}
	}
}

// Verify checks the arena partition and the free list. Coalescing happens
// on every Release, so no two adjacent runs may be free.
func (a *Allocator) Verify() error {
	return verify.Check(a.arena, a.freeIndices(), verify.Policy{Ascending: true, Coalesced: true})
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
