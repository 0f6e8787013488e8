package malloc

import (
	"math/rand"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestAllocator builds a 16-byte-block, 1024-byte-heap allocator
// (64 blocks) shared by the scenario tests below.
func newTestAllocator(t *testing.T) *Allocator {
	t.Helper()
	a, err := New(4, 10)
	require.NoError(t, err)
	return a
}

func ptrOffset(a *Allocator, p []byte) int {
	data := unsafe.SliceData(p)
	return int(uintptr(unsafe.Pointer(data)) - uintptr(a.HeapBase()))
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		log2Min  int
		log2Heap int
		wantErr  bool
	}{
		{"valid", 4, 10, false},
		{"min_equals_heap", 10, 10, true},
		{"min_greater_than_heap", 11, 10, true},
		{"negative_min", -1, 10, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(tt.log2Min, tt.log2Heap)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 0, a.UsedBytes())
		})
	}
}

func TestNewWithArena(t *testing.T) {
	_, err := NewWithArena(4, make([]byte, 1024))
	require.NoError(t, err)

	_, err = NewWithArena(4, make([]byte, 1000))
	assert.Error(t, err, "1000 is not a power of two")
}

// S1 — linear fill.
func TestLinearFill(t *testing.T) {
	for _, cb := range []int{16, 1, 15, 0} {
		a := newTestAllocator(t)
		n := a.HeapSize() / a.MinBlockSize()
		var live [][]byte
		for i := 0; i < n; i++ {
			p := a.Allocate(cb)
			require.NotNil(t, p, "cb=%d i=%d", cb, i)
			assert.Equal(t, i*a.MinBlockSize(), ptrOffset(a, p), "cb=%d i=%d", cb, i)
			live = append(live, p)
		}
		assert.Equal(t, a.HeapSize(), a.UsedBytes())
		assert.Nil(t, a.Allocate(0))
		for _, p := range live {
			a.Free(p)
		}
		assert.Equal(t, 0, a.UsedBytes())
	}
}

// S2 — uniform fills, doubling sizes.
func TestUniformFillsDoublingSizes(t *testing.T) {
	for _, cb := range []int{1024, 512, 256, 128, 64, 32, 16} {
		a := newTestAllocator(t)
		n := a.HeapSize() / cb
		var live [][]byte
		for i := 0; i < n; i++ {
			p := a.Allocate(cb)
			require.NotNil(t, p, "cb=%d i=%d", cb, i)
			assert.Equal(t, i*cb, ptrOffset(a, p))
			live = append(live, p)
		}
		assert.Nil(t, a.Allocate(cb))
		for _, p := range live {
			a.Free(p)
		}
		assert.Equal(t, 0, a.UsedBytes())
	}
}

// S3 — basic alignment.
func TestBasicAlign(t *testing.T) {
	a := newTestAllocator(t)
	p1 := a.Allocate(a.MinBlockSize())
	require.NotNil(t, p1)
	assert.Equal(t, 0, ptrOffset(a, p1))

	cb := a.MinBlockSize() * 8
	p2 := a.Allocate(cb)
	require.NotNil(t, p2)
	assert.Equal(t, 0, ptrOffset(a, p2)%cb)

	a.Free(p1)
	a.Free(p2)
}

// S4 — coalesce under reverse-order free.
func TestCoalesceReverseOrderFree(t *testing.T) {
	a := newTestAllocator(t)
	cb := a.MinBlockSize()
	n := a.HeapSize() / cb
	live := make([][]byte, n)
	for i := 0; i < n; i++ {
		live[i] = a.Allocate(cb)
		require.NotNil(t, live[i])
	}
	for i := n - 1; i >= 0; i-- {
		a.Free(live[i])
	}
	p := a.Allocate(a.HeapSize())
	require.NotNil(t, p)
	assert.Equal(t, 0, ptrOffset(a, p))
	a.Free(p)
}

// S5 — non-uniform, best-fit.
func TestNonUniformBestFit(t *testing.T) {
	a := newTestAllocator(t)
	sizes := []int{1, 17, 33, 2, 58, 14, 500, 120, 15, 3, 40}
	var live [][]byte
	for i, cb := range sizes {
		p := a.Allocate(cb)
		require.NotNil(t, p, "cb=%d", cb)
		b := byte(i + 1)
		for j := range p {
			p[j] = b
		}
		live = append(live, p)
	}
	assert.Nil(t, a.Allocate(256))
	for i, p := range live {
		b := byte(i + 1)
		for j := range p {
			assert.Equal(t, b, p[j], "allocation %d byte %d corrupted", i, j)
		}
		a.Free(p)
	}
	assert.Equal(t, 0, a.UsedBytes())
}

// S6 — monotone ladder.
func TestMonotoneLadder(t *testing.T) {
	a := newTestAllocator(t)
	sizes := []int{16, 32, 64, 128, 256, 512}
	var live [][]byte
	for _, cb := range sizes {
		p := a.Allocate(cb)
		require.NotNil(t, p, "cb=%d", cb)
		assert.Equal(t, 0, ptrOffset(a, p)%cb)
		live = append(live, p)
	}
	assert.Equal(t, a.HeapSize()-a.MinBlockSize(), a.UsedBytes())
	for _, cb := range []int{32, 64, 128, 256, 512, 1024} {
		assert.Nil(t, a.Allocate(cb))
	}
	for _, p := range live {
		a.Free(p)
	}
}

// S7 — StartOf round-trip over a non-uniform allocation sequence.
func TestStartOfRoundTrip(t *testing.T) {
	a := newTestAllocator(t)
	sizes := []int{511, 17, 14, 99, 32}
	var live [][]byte
	for _, cb := range sizes {
		p := a.Allocate(cb)
		require.NotNil(t, p, "cb=%d", cb)
		live = append(live, p)
	}
	for i, p := range live {
		for o := 0; o < sizes[i]; o++ {
			got := a.StartOf(p[o:])
			require.NotNil(t, got)
			assert.Equal(t, ptrOffset(a, p), ptrOffset(a, got), "cb=%d offset=%d", sizes[i], o)
		}
	}
	for _, p := range live {
		a.Free(p)
	}
}

func TestAllocateZeroOnFullHeap(t *testing.T) {
	a := newTestAllocator(t)
	p := a.Allocate(a.HeapSize())
	require.NotNil(t, p)
	assert.Nil(t, a.Allocate(0))
	a.Free(p)
	assert.NotNil(t, a.Allocate(0))
}

func TestAllocateLargerThanHeap(t *testing.T) {
	a := newTestAllocator(t)
	assert.Nil(t, a.Allocate(a.HeapSize()+1))
}

func TestFreePanicsOnDoubleFree(t *testing.T) {
	a := newTestAllocator(t)
	p := a.Allocate(16)
	require.NotNil(t, p)
	a.Free(p)
	assert.Panics(t, func() { a.Free(p) })
}

func TestFreePanicsOnOutOfRangePointer(t *testing.T) {
	a := newTestAllocator(t)
	bogus := make([]byte, 16)
	assert.Panics(t, func() { a.Free(bogus) })
}

func TestFreeNilIsNoop(t *testing.T) {
	a := newTestAllocator(t)
	assert.NotPanics(t, func() { a.Free(nil) })
}

func TestCoalesceCompletenessRandomOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	a := newTestAllocator(t)
	cb := a.MinBlockSize()
	n := a.HeapSize() / cb
	live := make([][]byte, n)
	for i := 0; i < n; i++ {
		live[i] = a.Allocate(cb)
		require.NotNil(t, live[i])
	}
	rng.Shuffle(n, func(i, j int) { live[i], live[j] = live[j], live[i] })
	for _, p := range live {
		a.Free(p)
	}
	p := a.Allocate(a.HeapSize())
	require.NotNil(t, p)
	assert.Equal(t, 0, ptrOffset(a, p))
}

func TestFreeAtOffset(t *testing.T) {
	a := newTestAllocator(t)
	p := a.Allocate(16)
	require.NotNil(t, p)
	a.FreeAt(ptrOffset(a, p))
	assert.Equal(t, 0, a.UsedBytes())
}

func TestWritePreservation(t *testing.T) {
	a := newTestAllocator(t)
	p := a.Allocate(64)
	require.NotNil(t, p)
	for i := range p {
		p[i] = byte(i)
	}
	other := a.Allocate(64)
	require.NotNil(t, other)
	for i := range p {
		assert.Equal(t, byte(i), p[i])
	}
	a.Free(p)
	a.Free(other)
}
