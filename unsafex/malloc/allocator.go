package malloc

import (
	"fmt"
	"math/bits"
	"sync"
	"unsafe"

	"github.com/bytedance/gopkg/lang/dirtmake"
)

const wordSize = int(unsafe.Sizeof(uintptr(0)))

// Allocator is a buddy-system allocator over a single fixed-size
// arena. Block bookkeeping lives entirely in a side table (track);
// the arena itself carries no per-allocation metadata.
//
// Allocate and Free are guarded by a single critical section (mu).
// On a hosted target that's a mutex, as here; a bare-metal build would
// swap it for an interrupt-disable scope without changing the
// algorithm below.
type Allocator struct {
	mu sync.Mutex

	heap     []byte
	heapBase unsafe.Pointer
	track    []byte

	log2Min  int
	log2Heap int

	blockSize int
	nBlocks   int
}

// New creates an allocator that owns a freshly allocated heap of
// 2^log2Heap bytes, tracked in blocks of 2^log2Min bytes.
func New(log2Min, log2Heap int) (*Allocator, error) {
	return newAllocator(log2Min, log2Heap, nil)
}

// NewWithArena creates an allocator over a caller-supplied arena.
// len(arena) must already be a power of two; log2Heap is derived from
// it. The caller retains responsibility for the arena's word
// alignment (construction fails otherwise).
func NewWithArena(log2Min int, arena []byte) (*Allocator, error) {
	n := len(arena)
	if n == 0 || n&(n-1) != 0 {
		return nil, fmt.Errorf("malloc: arena length %d is not a power of two", n)
	}
	return newAllocator(log2Min, bits.TrailingZeros(uint(n)), arena)
}

func newAllocator(log2Min, log2Heap int, arena []byte) (*Allocator, error) {
	if log2Min < 0 || log2Heap < 0 {
		return nil, fmt.Errorf("malloc: log2Min and log2Heap must be non-negative")
	}
	if log2Min >= log2Heap {
		return nil, fmt.Errorf("malloc: log2Min (%d) must be < log2Heap (%d)", log2Min, log2Heap)
	}

	heapSize := 1 << log2Heap
	blockSize := 1 << log2Min
	nBlocks := 1 << (log2Heap - log2Min)

	if arena == nil {
		// Heap content is unspecified until written, so skip the
		// zero-fill make() would otherwise perform.
		arena = dirtmake.Bytes(heapSize, heapSize)
	} else if len(arena) != heapSize {
		return nil, fmt.Errorf("malloc: arena length %d does not match 2^log2Heap (%d)", len(arena), heapSize)
	}

	base := unsafe.Pointer(&arena[0])
	if uintptr(base)%uintptr(wordSize) != 0 {
		return nil, fmt.Errorf("malloc: heap base is not word-aligned")
	}

	a := &Allocator{
		heap:      arena,
		heapBase:  base,
		track:     make([]byte, trackBytes(nBlocks)),
		log2Min:   log2Min,
		log2Heap:  log2Heap,
		blockSize: blockSize,
		nBlocks:   nBlocks,
	}
	// The whole heap starts as a single free region.
	a.setEnd(nBlocks-1, true)
	return a, nil
}

// HeapBase returns the address of the first byte of the managed heap.
func (a *Allocator) HeapBase() unsafe.Pointer { return a.heapBase }

// MinBlockSize returns the minimum allocation granularity in bytes.
func (a *Allocator) MinBlockSize() int { return a.blockSize }

// HeapSize returns the total number of managed bytes.
func (a *Allocator) HeapSize() int { return len(a.heap) }

// String reports the allocator's configured sizes, for %v and logging.
func (a *Allocator) String() string {
	return fmt.Sprintf("malloc: heap size %d (2^%d); minimum allocation %d (2^%d)",
		len(a.heap), a.log2Heap, a.blockSize, a.log2Min)
}

// UsedBytes returns the number of bytes currently in-use. O(NBLOCKS);
// intended for tests and diagnostics, not the allocation hot path.
func (a *Allocator) UsedBytes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	used := 0
	for i := 0; i < a.nBlocks; i++ {
		if a.isUsed(i) {
			used++
		}
	}
	return used * a.blockSize
}

// alignUp rounds x up to the next multiple of k (k a power of two).
func alignUp(x, k int) int {
	return (x + k - 1) &^ (k - 1)
}

// orderForBlocks returns the smallest power of two >= blocks.
func orderForBlocks(blocks int) int {
	if blocks <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(blocks-1))
}

// Allocate returns a slice addressing at least cb bytes, naturally
// aligned to the size of the region carved for it, or nil if no
// sufficiently large free region exists. cb == 0 is treated as a
// request for the smallest block, except that it fails outright if the
// heap currently has no free region at all.
func (a *Allocator) Allocate(cb int) []byte {
	if cb < 0 || cb > len(a.heap) {
		return nil
	}

	need := cb
	if need < a.blockSize {
		need = a.blockSize
	}
	cblkReq := orderForBlocks((need + a.blockSize - 1) / a.blockSize)

	a.mu.Lock()
	defer a.mu.Unlock()

	start, size := a.bestFitLocked(cblkReq)
	if size == 0 {
		return nil
	}

	a.splitLocked(start, size, cblkReq)
	for i := start; i < start+cblkReq; i++ {
		a.setUsed(i, true)
	}

	a.debugCheckInvariants()

	ptr := unsafe.Add(a.heapBase, start*a.blockSize)
	region := unsafe.Slice((*byte)(ptr), cblkReq*a.blockSize)
	return region[:cb]
}

// bestFitLocked scans the tracking table for the smallest free region
// of at least cblkReq blocks, ties broken by lowest address. Candidate
// starts are restricted to cblkReq-aligned block indices: since every
// free region's size is a power of two and its start is aligned to its
// own size (invariant 3), any region of size >= cblkReq already starts
// on a cblkReq-aligned boundary, so no qualifying region is ever
// skipped by the realignment below.
func (a *Allocator) bestFitLocked(cblkReq int) (start, size int) {
	bestStart, bestSize := 0, 0
	iblkStart, iblk := 0, 0
	for bestSize != cblkReq && iblk < a.nBlocks {
		switch {
		case !a.isUsed(iblk) && !a.isEnd(iblk):
			iblk++
		case !a.isUsed(iblk):
			// End of the free span [iblkStart, iblk]; accept if it fits
			// and is strictly smaller than the best seen so far.
			spanSize := iblk - iblkStart + 1
			if spanSize >= cblkReq && (bestSize == 0 || spanSize < bestSize) {
				bestStart, bestSize = iblkStart, spanSize
			}
			iblkStart = alignUp(iblk+1, cblkReq)
			iblk = iblkStart
		default:
			// In-use block: restart the scan at the next position that
			// could still yield a cblkReq-aligned candidate.
			iblkStart = alignUp(iblk+1, cblkReq)
			iblk = iblkStart
		}
	}
	return bestStart, bestSize
}

// splitLocked halves the free region [start, start+size) until it is
// exactly cblkReq blocks, marking the end of each freshly split lower
// half. Splitting is purely logical: only end bits change.
func (a *Allocator) splitLocked(start, size, cblkReq int) {
	for size > cblkReq {
		size >>= 1
		a.setEnd(start+size-1, true)
	}
}

// Free returns block, a slice previously returned by Allocate, to the
// allocator, coalescing with free buddies until it can't anymore.
// Panics if block does not belong to this allocator's heap, or if it
// names a region that is not currently in-use (double free).
func (a *Allocator) Free(block []byte) {
	data := unsafe.SliceData(block)
	if data == nil {
		return
	}
	offset := int(uintptr(unsafe.Pointer(data)) - uintptr(a.heapBase))

	a.mu.Lock()
	defer a.mu.Unlock()
	a.freeAtOffsetLocked(offset)
	a.debugCheckInvariants()
}

// FreeAt is the offset-based sibling of Free, for callers holding a
// raw block offset (relative to HeapBase) rather than the original
// slice — e.g. one recovered from persisted state rather than from a
// live Allocate call.
func (a *Allocator) FreeAt(offset int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.freeAtOffsetLocked(offset)
	a.debugCheckInvariants()
}

func (a *Allocator) freeAtOffsetLocked(offset int) {
	if offset < 0 || offset >= len(a.heap) {
		panic("malloc: free of out-of-range pointer")
	}
	if offset%a.blockSize != 0 {
		panic("malloc: free of misaligned pointer")
	}
	iblk := offset / a.blockSize
	if !a.isUsed(iblk) {
		panic("malloc: double free or invalid pointer")
	}

	// Clear the in-use bit across the region, locating its end.
	i := iblk
	for {
		a.setUsed(i, false)
		if a.isEnd(i) {
			break
		}
		i++
	}
	start := iblk
	size := i - iblk + 1

	// Coalesce with free buddies while possible.
	for size < a.nBlocks {
		buddy := start ^ size
		free := true
		for j := buddy; j < buddy+size; j++ {
			if a.isUsed(j) {
				free = false
				break
			}
		}
		if !free {
			break
		}
		lower := start
		if buddy < start {
			lower = buddy
		}
		a.setEnd(lower+size-1, false)
		start = lower
		size <<= 1
	}
}

// StartOffsetOf returns the start offset (relative to HeapBase) of the
// region containing the block-offset p, or -1 if p is out of range.
// For p inside a free region the result is unspecified, but safe —
// this never mutates the tracking table.
func (a *Allocator) StartOffsetOf(p int) int {
	if p < 0 || p >= len(a.heap) {
		return -1
	}
	iblk := p / a.blockSize
	for iblk > 0 && !a.isEnd(iblk-1) {
		iblk--
	}
	return iblk * a.blockSize
}

// StartOf returns the full region slice for any interior pointer into
// a live allocation, so that StartOf(p[o:]) starts at the same address
// as p for any 0 <= o < len(p); its length is the region's size, which
// may exceed len(p). Returns nil if p does not point into the heap.
func (a *Allocator) StartOf(p []byte) []byte {
	data := unsafe.SliceData(p)
	if data == nil {
		return nil
	}
	offset := int(uintptr(unsafe.Pointer(data)) - uintptr(a.heapBase))
	start := a.StartOffsetOf(offset)
	if start < 0 {
		return nil
	}

	iblk := start / a.blockSize
	end := iblk
	for !a.isEnd(end) {
		end++
	}
	size := (end - iblk + 1) * a.blockSize

	ptr := unsafe.Add(a.heapBase, start)
	return unsafe.Slice((*byte)(ptr), size)
}
