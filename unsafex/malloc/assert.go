//go:build !malloc_debug

package malloc

// debugCheckInvariants is a no-op in ship builds. Build with
// -tags malloc_debug to enable the full tracking-table walk in
// assert_debug.go.
func (a *Allocator) debugCheckInvariants() {}
