//go:build malloc_debug

package malloc

// debugCheckInvariants walks the whole tracking table and panics if
// any structural invariant is violated: every block in a region must
// share the region's in-use bit, only the last block may carry the
// end bit, every region's size must be a power of two, and every
// region's start must be aligned to its own size. O(NBLOCKS); never
// built into ship binaries.
func (a *Allocator) debugCheckInvariants() {
	i := 0
	for i < a.nBlocks {
		start := i
		used := a.isUsed(i)
		for {
			if a.isUsed(i) != used {
				panic("malloc: region does not share a uniform in-use bit")
			}
			if a.isEnd(i) {
				break
			}
			i++
		}
		size := i - start + 1
		if size&(size-1) != 0 {
			panic("malloc: region size is not a power of two")
		}
		if start%size != 0 {
			panic("malloc: region start is not buddy-aligned")
		}
		i++
	}
}
