// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// Package block owns the arena shared by the allocator variants: a byte
// buffer split into fixed-size blocks, the header word at the start of each
// run and the intrusive link fields stored in free runs.
//
// Layout of the first block of a run:
//
//	[0:8)   header: bit 63 status (1 = reserved), bits 0..62 block count
//	[8:12)  next link (free runs only)
//	[12:16) prev link (free runs only, doubly linked variant)
//
// Block 0 is bookkeeping: it is permanently reserved, has count 0 and its
// link fields anchor the free list.
package block

import (
	"encoding/binary"
	"fmt"
	"iter"
	"math"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/dacapoday/blockalloc"
)

type Index = uint32
type Ptr = blockalloc.Ptr
type Status = blockalloc.Status
type Run = blockalloc.Run

const (
	HeaderSize = blockalloc.HeaderSize
	nextOffset = HeaderSize
	prevOffset = HeaderSize + 4
	statusBit  = uint64(1) << 63
)

type Arena struct {
	buf   []byte
	size  int
	total Index
	free  func([]byte) error

	// held records the first block of every reserved run handed out.
	// Headers live in caller-writable memory, so a header alone does not
	// prove that a run starts at a block.
	held *roaring.Bitmap
}

// New allocates an arena able to hold capacity payload bytes plus the
// bookkeeping block, i.e. ceil(capacity/blockSize)+1 blocks.
func New(capacity, blockSize int, mmap bool) (*Arena, error) {
	if capacity <= 0 || capacity > math.MaxInt-2*blockSize {
		return nil, fmt.Errorf("%d is %w", capacity, blockalloc.ErrInvalidCapacity)
	}
	n := (capacity + 2*blockSize - 1) / blockSize
	if n > math.MaxUint32 || n > math.MaxInt/blockSize {
		return nil, fmt.Errorf("%d blocks: %w", n, blockalloc.ErrInvalidCapacity)
	}

	buf, free, err := allocate(n*blockSize, mmap)
	if err != nil {
		return nil, err
	}

	arena := &Arena{
		buf:   buf,
		size:  blockSize,
		total: Index(n),
		free:  free,
		held:  roaring.New(),
	}
	arena.putHeader(0, blockalloc.Reserved, 0)
	arena.SetNext(0, 0)
	arena.SetPrev(0, 0)
	return arena, nil
}

// Close releases the buffer. The arena must not be used afterwards.
func (arena *Arena) Close() (err error) {
	if arena.buf == nil {
		return nil
	}
	if arena.free != nil {
		err = arena.free(arena.buf)
	}
	arena.buf = nil
	arena.held.Clear()
	return
}

func (arena *Arena) Closed() bool { return arena.buf == nil }

func (arena *Arena) BlockSize() int { return arena.size }

// Total returns the number of blocks, bookkeeping block included.
func (arena *Arena) Total() Index { return arena.total }

// InBounds reports whether i names a block inside the arena. Indices at or
// past the end mean "no neighbour" and are never dereferenced.
func (arena *Arena) InBounds(i Index) bool { return i < arena.total }

func (arena *Arena) offset(i Index) int { return int(i) * arena.size }

func (arena *Arena) word(i Index) uint64 {
	return binary.LittleEndian.Uint64(arena.buf[arena.offset(i):])
}

func (arena *Arena) Status(i Index) Status {
	if arena.word(i)&statusBit != 0 {
		return blockalloc.Reserved
	}
	return blockalloc.Free
}

func (arena *Arena) Count(i Index) Index {
	return Index(arena.word(i) &^ statusBit)
}

func (arena *Arena) Header(i Index) (Status, Index) {
	return arena.Status(i), arena.Count(i)
}

// SetHeader writes the header of the run starting at block i.
func (arena *Arena) SetHeader(i Index, status Status, count Index) {
	assertRun("block.SetHeader", i, count, arena.total)
	arena.putHeader(i, status, count)
}

func (arena *Arena) SetStatus(i Index, status Status) {
	arena.putHeader(i, status, arena.Count(i))
}

func (arena *Arena) SetCount(i Index, count Index) {
	assertRun("block.SetCount", i, count, arena.total)
	arena.putHeader(i, arena.Status(i), count)
}

func (arena *Arena) putHeader(i Index, status Status, count Index) {
	w := uint64(count)
	if status == blockalloc.Reserved {
		w |= statusBit
	}
	binary.LittleEndian.PutUint64(arena.buf[arena.offset(i):], w)
}

func (arena *Arena) Next(i Index) Index {
	return binary.LittleEndian.Uint32(arena.buf[arena.offset(i)+nextOffset:])
}

func (arena *Arena) SetNext(i, next Index) {
	binary.LittleEndian.PutUint32(arena.buf[arena.offset(i)+nextOffset:], next)
}

func (arena *Arena) Prev(i Index) Index {
	return binary.LittleEndian.Uint32(arena.buf[arena.offset(i)+prevOffset:])
}

func (arena *Arena) SetPrev(i, prev Index) {
	binary.LittleEndian.PutUint32(arena.buf[arena.offset(i)+prevOffset:], prev)
}

// Hold records i as the start of a run handed out to a caller.
func (arena *Arena) Hold(i Index) { arena.held.Add(i) }

// Unhold forgets i. It reports whether i was held.
func (arena *Arena) Unhold(i Index) bool { return arena.held.CheckedRemove(i) }

// Held reports whether i starts a run handed out to a caller.
func (arena *Arena) Held(i Index) bool { return arena.held.Contains(i) }

// HeldRuns returns a copy of the held run starts.
func (arena *Arena) HeldRuns() *roaring.Bitmap { return arena.held.Clone() }

// Blocks converts a payload size to a run length.
func (arena *Arena) Blocks(size int) int {
	return blockalloc.BytesToBlocks(size, arena.size)
}

// Payload returns the payload offset of the run starting at block i.
func (arena *Arena) Payload(i Index) Ptr {
	return Ptr(arena.offset(i) + HeaderSize)
}

// HeaderOf maps a payload offset back to its header block. It rejects
// offsets outside the payload region and offsets that are not exactly one
// header past a block boundary.
func (arena *Arena) HeaderOf(p Ptr) (Index, bool) {
	off := int(p) - HeaderSize
	if off < arena.size || off >= len(arena.buf) || off%arena.size != 0 {
		return 0, false
	}
	return Index(off / arena.size), true
}

// Bytes returns the payload of the run starting at block i. The slice
// capacity ends at the run boundary.
func (arena *Arena) Bytes(i Index) []byte {
	start := arena.offset(i) + HeaderSize
	end := arena.offset(min(i+arena.Count(i), arena.total))
	if end < start {
		return nil
	}
	return arena.buf[start:end:end]
}

// Runs walks the arena in address order by header stepping, starting after
// the bookkeeping block. A zero count stops the walk.
func (arena *Arena) Runs() iter.Seq[Run] {
	return func(yield func(Run) bool) {
		if arena.buf == nil {
			return
		}
		for i := Index(1); i < arena.total; {
			status, count := arena.Header(i)
			if count == 0 {
				return
			}
			if !yield(Run{Index: i, Count: count, Status: status}) {
				return
			}
			if count > arena.total-i {
				return
			}
			i += count
		}
	}
}

// Stats summarises the runs of the arena.
func (arena *Arena) Stats() (stats blockalloc.Stats) {
	stats.BlockSize = arena.size
	stats.TotalBlocks = int(arena.total)
	for run := range arena.Runs() {
		if run.Status == blockalloc.Reserved {
			stats.UsedBlocks += int(run.Count)
			continue
		}
		stats.FreeBlocks += int(run.Count)
		stats.FreeRuns++
		stats.LargestFreeRun = max(stats.LargestFreeRun, int(run.Count))
	}
	return
}
