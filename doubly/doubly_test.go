package doubly

import (
	"bytes"
	"encoding/binary"
	"log/slog"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dacapoday/blockalloc"
	"github.com/dacapoday/blockalloc/internal/verify"
)

func newTestAllocator(t *testing.T, capacity int, opts ...blockalloc.Option) *Allocator {
	t.Helper()
	a, err := New(capacity, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func acquire(t *testing.T, a *Allocator, size int) Ptr {
	t.Helper()
	p, err := a.Acquire(size)
	require.NoError(t, err)
	require.NotEqual(t, blockalloc.Nil, p)
	require.NoError(t, a.Verify())
	return p
}

func coalesced(t *testing.T, a *Allocator) {
	t.Helper()
	require.NoError(t, verify.Check(a.arena, a.freeIndices(), verify.Policy{Coalesced: true}))
}

func freeStarts(a *Allocator) []uint32 {
	var starts []uint32
	for run := range a.FreeList() {
		starts = append(starts, run.Index)
	}
	return starts
}

func TestNewLayout(t *testing.T) {
	a := newTestAllocator(t, 160)
	require.Equal(t, "Hb.........", a.String())
	require.NoError(t, a.Verify())
	require.Equal(t, []Link{
		{Index: 0, Prev: 1, Next: 1},
		{Index: 1, Prev: 0, Next: 0},
	}, slices.Collect(a.Links()))
}

func TestNewErrors(t *testing.T) {
	_, err := New(-5)
	require.ErrorIs(t, err, blockalloc.ErrInvalidCapacity)

	_, err = New(160, blockalloc.WithBlockSize(8192))
	require.ErrorIs(t, err, blockalloc.ErrInvalidBlockSize)
}

func TestAcquireSplitsFront(t *testing.T) {
	a := newTestAllocator(t, 160)
	p := acquire(t, a, 16)
	require.Equal(t, "HXXb.......", a.String())
	require.Equal(t, blockalloc.Ptr(16+blockalloc.HeaderSize), p)
	require.Equal(t, []uint32{3}, freeStarts(a))
}

func TestReleaseDefersCoalescing(t *testing.T) {
	a := newTestAllocator(t, 160)

	pa := acquire(t, a, 16)
	pb := acquire(t, a, 32)
	require.Equal(t, "HXXXXXb....", a.String())

	a.Release(pa)
	require.NoError(t, a.Verify())
	require.Equal(t, "Hb.XXXb....", a.String())

	a.Release(pb)
	require.NoError(t, a.Verify())
	require.Equal(t, "Hb.b..b....", a.String())
	require.Equal(t, []uint32{3, 1, 6}, freeStarts(a))

	// The scan visits pb's run first, absorbs its successor, then pa's run
	// absorbs everything after it.
	p := acquire(t, a, 10*16-blockalloc.HeaderSize)
	require.Equal(t, "HXXXXXXXXXX", a.String())
	require.Equal(t, pa, p)
	require.Empty(t, freeStarts(a))
}

func TestScanStopsAtFirstFit(t *testing.T) {
	a := newTestAllocator(t, 160)
	pa := acquire(t, a, 16)
	pb := acquire(t, a, 32)
	a.Release(pa)
	a.Release(pb)

	// pb's run merges with the tail and satisfies the request; pa's run
	// is never visited and stays separate.
	acquire(t, a, 0)
	require.Equal(t, "Hb.Xb......", a.String())
	require.Equal(t, []uint32{4, 1}, freeStarts(a))
	coalesced(t, a)
}

func TestRoundTripAfterCoalesce(t *testing.T) {
	for _, size := range []int{0, 1, 8, 9, 16, 100, 152} {
		a := newTestAllocator(t, 160)
		before := a.String()
		a.Release(acquire(t, a, size))
		require.NoError(t, a.Verify())
		require.Equal(t, 10, a.Stats().FreeBlocks)

		a.Coalesce()
		require.NoError(t, a.Verify())
		require.Equal(t, before, a.String(), "size %d", size)
	}
}

func TestExactFitLeavesSentinelOnly(t *testing.T) {
	a := newTestAllocator(t, 160)
	p := acquire(t, a, 152)
	require.Equal(t, "HXXXXXXXXXX", a.String())
	require.Equal(t, []Link{{Index: 0, Prev: 0, Next: 0}}, slices.Collect(a.Links()))

	_, err := a.Acquire(0)
	require.ErrorIs(t, err, blockalloc.ErrOutOfMemory)

	a.Release(p)
	require.Equal(t, "Hb.........", a.String())
}

func TestOutOfMemoryAfterCoalescing(t *testing.T) {
	a := newTestAllocator(t, 160)
	ptrs := make([]Ptr, 10)
	for i := range ptrs {
		ptrs[i] = acquire(t, a, 8)
	}
	for i := 0; i < len(ptrs); i += 2 {
		a.Release(ptrs[i])
	}
	require.Equal(t, "HbXbXbXbXbX", a.String())

	_, err := a.Acquire(9)
	require.ErrorIs(t, err, blockalloc.ErrOutOfMemory)
	require.Equal(t, "HbXbXbXbXbX", a.String())
	require.NoError(t, a.Verify())

	a.Release(ptrs[1])
	require.Equal(t, "HbbbXbXbXbX", a.String())

	p := acquire(t, a, 40)
	require.Equal(t, "HXXXXbXbXbX", a.String())
	require.Equal(t, ptrs[0], p)
}

func TestLazyMergeSatisfiesLargeRequest(t *testing.T) {
	a := newTestAllocator(t, 160)
	ptrs := make([]Ptr, 10)
	for i := range ptrs {
		ptrs[i] = acquire(t, a, 8)
	}
	for _, p := range ptrs {
		a.Release(p)
	}
	require.Equal(t, "Hbbbbbbbbbb", a.String())
	require.NoError(t, a.Verify())
	require.Error(t, verify.Check(a.arena, a.freeIndices(), verify.Policy{Coalesced: true}))

	var m blockalloc.BasicMetricsCollector
	a.metrics = &m
	acquire(t, a, 152)
	require.Equal(t, "HXXXXXXXXXX", a.String())
	require.EqualValues(t, 9, m.Coalesced.Load())
}

func TestAcquireTooLarge(t *testing.T) {
	a := newTestAllocator(t, 160)
	for _, size := range []int{153, 1 << 40} {
		_, err := a.Acquire(size)
		require.ErrorIs(t, err, blockalloc.ErrOutOfMemory)
	}
	_, err := a.Acquire(-1)
	require.ErrorIs(t, err, blockalloc.ErrOutOfRange)
	require.Equal(t, "Hb.........", a.String())
}

func TestTryReleaseRejects(t *testing.T) {
	a := newTestAllocator(t, 160)
	p := acquire(t, a, 16)
	q := acquire(t, a, 16)
	before := a.String()

	for _, bad := range []Ptr{
		blockalloc.Nil,
		p + 1,
		p + 16,
		blockalloc.Ptr(5*16 + blockalloc.HeaderSize),
		blockalloc.Ptr(11*16 + blockalloc.HeaderSize),
		1 << 30,
	} {
		require.ErrorIs(t, a.TryRelease(bad), blockalloc.ErrInvalidRelease, "ptr %d", bad)
		a.Release(bad)
		require.Equal(t, before, a.String())
	}

	require.NoError(t, a.TryRelease(q))
	require.ErrorIs(t, a.TryRelease(q), blockalloc.ErrInvalidRelease)
	require.NoError(t, a.Verify())
	require.NoError(t, a.TryRelease(p))
	require.Equal(t, []uint32{1, 3, 5}, freeStarts(a))
}

func TestLinksFollowReleaseOrder(t *testing.T) {
	a := newTestAllocator(t, 160)
	p := acquire(t, a, 8)
	q := acquire(t, a, 8)
	acquire(t, a, 8)
	a.Release(p)
	a.Release(q)

	links := slices.Collect(a.Links())
	require.Equal(t, []Link{
		{Index: 0, Prev: 4, Next: 2},
		{Index: 2, Prev: 0, Next: 1},
		{Index: 1, Prev: 2, Next: 4},
		{Index: 4, Prev: 1, Next: 0},
	}, links)
}

func TestBytesDoNotOverlap(t *testing.T) {
	a := newTestAllocator(t, 160)
	p := acquire(t, a, 20)
	q := acquire(t, a, 40)

	bp, bq := a.Bytes(p), a.Bytes(q)
	require.Len(t, bp, 24)
	require.Len(t, bq, 40)
	for i := range bp {
		bp[i] = 0xAA
	}
	for i := range bq {
		bq[i] = 0xBB
	}
	require.NoError(t, a.Verify())

	a.Release(p)
	require.Nil(t, a.Bytes(p))
	require.Equal(t, bytes.Repeat([]byte{0xBB}, len(bq)), bq)
}

func TestClosed(t *testing.T) {
	a, err := New(160, blockalloc.WithMmap(true))
	require.NoError(t, err)
	p := acquire(t, a, 16)
	require.NoError(t, a.Close())

	_, err = a.Acquire(16)
	require.ErrorIs(t, err, blockalloc.ErrClosed)
	require.ErrorIs(t, a.TryRelease(p), blockalloc.ErrClosed)
	a.Release(p)
	a.Coalesce()
	require.Empty(t, a.String())
	require.Empty(t, slices.Collect(a.Links()))
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := blockalloc.NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	a := newTestAllocator(t, 160, blockalloc.WithLogger(logger))

	_, err := a.Acquire(1000)
	require.Error(t, err)
	a.Release(7)

	out := buf.String()
	require.Contains(t, out, `"allocator":"doubly"`)
	require.Contains(t, out, `"msg":"acquire failed"`)
	require.Contains(t, out, `"msg":"release ignored"`)
}

func TestRandomOperationsKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	a := newTestAllocator(t, 4096)
	total := a.Stats().TotalBlocks

	var held []Ptr
	for step := range 2000 {
		switch {
		case len(held) > 0 && rng.IntN(2) == 0:
			k := rng.IntN(len(held))
			a.Release(held[k])
			held = slices.Delete(held, k, k+1)
		case rng.IntN(50) == 0:
			a.Coalesce()
			coalesced(t, a)
		default:
			size := rng.IntN(200)
			p, err := a.Acquire(size)
			if err != nil {
				require.ErrorIs(t, err, blockalloc.ErrOutOfMemory)
				// The failed scan visited every free run, so the list is
				// fully coalesced.
				coalesced(t, a)
				require.Less(t, a.Stats().LargestFreeRun, blockalloc.BytesToBlocks(size, 16))
			} else {
				require.GreaterOrEqual(t, len(a.Bytes(p)), size)
				held = append(held, p)
			}
		}

		require.NoError(t, a.Verify(), "step %d", step)
		require.Len(t, a.String(), total)
		require.Equal(t, a.Stats().UsedBlocks, a.UsedBlocks())
	}

	for _, p := range held {
		a.Release(p)
	}
	a.Coalesce()
	require.Equal(t, 1, a.Stats().FreeRuns)
	require.Equal(t, total-1, a.Stats().FreeBlocks)
}

func TestTryReleaseRejectsForgedHeader(t *testing.T) {
	a := newTestAllocator(t, 160)
	p := acquire(t, a, 40)
	before := a.String()
	require.Equal(t, "HXXXb......", before)

	// Block 2 lies inside p's payload; make it look like a reserved run.
	binary.LittleEndian.PutUint64(a.Bytes(p)[8:16], 1<<63|1)

	require.ErrorIs(t, a.TryRelease(p+16), blockalloc.ErrInvalidRelease)
	require.Nil(t, a.Bytes(p+16))
	require.Equal(t, before, a.String())
	require.NoError(t, a.Verify())

	require.NoError(t, a.TryRelease(p))
	require.NoError(t, a.Verify())
}

func TestVisualizeLayoutHighByteSymbols(t *testing.T) {
	a := newTestAllocator(t, 160)
	acquire(t, a, 16)

	s := a.VisualizeLayout('H', 0xB0, 0xB1, 0xDB)
	require.Len(t, s, 11)
	require.Equal(t, []byte{'H', 0xDB, 0xDB, 0xB0, 0xB1, 0xB1, 0xB1, 0xB1, 0xB1, 0xB1, 0xB1}, []byte(s))
}

func TestOversizedAcquireStillCoalesces(t *testing.T) {
	a := newTestAllocator(t, 160)
	pa := acquire(t, a, 16)
	pb := acquire(t, a, 32)
	a.Release(pa)
	a.Release(pb)
	require.Equal(t, "Hb.b..b....", a.String())

	_, err := a.Acquire(1000)
	require.ErrorIs(t, err, blockalloc.ErrOutOfMemory)
	require.Equal(t, "Hb.........", a.String())
	require.NoError(t, a.Verify())
}
