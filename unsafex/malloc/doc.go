// Package malloc implements a buddy-system memory allocator over a
// single, fixed-size arena.
//
// Unlike a general-purpose allocator, block bookkeeping is kept entirely
// in a side table (two bits per minimum-size block: in-use and
// end-of-region) rather than in headers inside the arena itself. This
// keeps allocations tightly packed and naturally aligned to their own
// size, at the cost of a fixed, separately-sized tracking array.
//
// The allocator favors deterministic fragmentation behavior over raw
// throughput: Allocate performs a best-fit scan of the tracking table,
// splitting the smallest free region that satisfies a request; Free
// coalesces with free buddies eagerly. Both hold a single mutex for
// their duration and, once they hold it, run to completion without
// blocking or yielding.
package malloc
