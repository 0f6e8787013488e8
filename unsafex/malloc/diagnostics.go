package malloc

import (
	"io"

	"github.com/dmrobins-alloc/buddymalloc/unsafex"
)

// RenderState writes a two-line rendering of the tracking table to w:
// a usage map ('X' in-use, ' ' free) and an end-marker map ('|' end of
// region, ' ' otherwise), one character per block. Exact glyphs are
// implementation-defined; stability across versions is not promised.
// Intended for manual inspection, not machine parsing.
func (a *Allocator) RenderState(w io.Writer) error {
	a.mu.Lock()
	state := a.renderLocked()
	a.mu.Unlock()

	_, err := io.WriteString(w, state)
	return err
}

func (a *Allocator) renderLocked() string {
	buf := make([]byte, 2*a.nBlocks+2)
	for i := 0; i < a.nBlocks; i++ {
		if a.isUsed(i) {
			buf[i] = 'X'
		} else {
			buf[i] = ' '
		}
	}
	buf[a.nBlocks] = '\n'
	for i := 0; i < a.nBlocks; i++ {
		if a.isEnd(i) {
			buf[a.nBlocks+1+i] = '|'
		} else {
			buf[a.nBlocks+1+i] = ' '
		}
	}
	buf[2*a.nBlocks+1] = '\n'
	// Converting via unsafex avoids the copy string(buf) would make;
	// buf is never written to again after this point.
	return unsafex.BinaryToString(buf)
}
