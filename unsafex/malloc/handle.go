package malloc

import "unsafe"

// noCopy lets go vet's -copylocks check flag accidental copies of a
// type that is meant to have exactly one owner at a time — the usual
// Go stand-in for a move-only type. See sync.WaitGroup for the same
// trick applied to a different type.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Handle pairs a raw allocation with the Allocator that produced it,
// freeing it automatically when Free is called. It adds no metadata
// to the managed region — it is only a slice header and a pointer.
//
// A Handle with no allocation (the zero value, or one from AllocHandle
// when Allocate fails) is empty: Free on it does nothing. Handle is exclusive-ownership only;
// copy it with Take, not assignment.
type Handle struct {
	_     noCopy
	mem   []byte
	alloc *Allocator
}

// AllocHandle allocates cb bytes and wraps the result in a Handle. The
// Handle is empty if the allocation failed.
func (a *Allocator) AllocHandle(cb int) Handle {
	return Handle{mem: a.Allocate(cb), alloc: a}
}

// Attach wraps a raw allocation p, previously returned by a.Allocate,
// in a Handle. Attaching a pointer produced by a different allocator
// is a programming error: a later Free will panic.
func Attach(a *Allocator, p []byte) Handle {
	return Handle{mem: p, alloc: a}
}

// Valid reports whether h wraps a live allocation.
func (h *Handle) Valid() bool {
	return unsafe.SliceData(h.mem) != nil
}

// Bytes returns the wrapped allocation, or nil if h is empty.
func (h *Handle) Bytes() []byte { return h.mem }

// Free returns the wrapped allocation to its allocator, if any, and
// empties h. Safe to call more than once.
func (h *Handle) Free() {
	if h.alloc == nil {
		return
	}
	h.alloc.Free(h.mem)
	h.mem = nil
	h.alloc = nil
}

// Take transfers ownership of the wrapped allocation to the returned
// Handle, leaving h empty — the nearest Go analogue to std::move.
func (h *Handle) Take() Handle {
	mem, alloc := h.mem, h.alloc
	h.mem = nil
	h.alloc = nil
	return Handle{mem: mem, alloc: alloc}
}

// TypedHandle is the typed-array variant of Handle: it addresses N
// elements of T within a single allocation sized N * sizeof(T).
type TypedHandle[T any] struct {
	_ noCopy
	h Handle
	n int
}

// AllocTyped allocates space for n elements of T and wraps it.
func AllocTyped[T any](a *Allocator, n int) TypedHandle[T] {
	var zero T
	return TypedHandle[T]{h: a.AllocHandle(n * int(unsafe.Sizeof(zero))), n: n}
}

// AttachTyped wraps a raw allocation p — sized for n elements of T and
// produced by a — as a TypedHandle.
func AttachTyped[T any](a *Allocator, p []byte, n int) TypedHandle[T] {
	return TypedHandle[T]{h: Attach(a, p), n: n}
}

// Valid reports whether t wraps a live allocation.
func (t *TypedHandle[T]) Valid() bool { return t.h.Valid() }

// Slice returns the wrapped elements, or nil if t is empty.
func (t *TypedHandle[T]) Slice() []T {
	data := unsafe.SliceData(t.h.mem)
	if data == nil {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(data)), t.n)
}

// Free returns the wrapped allocation to its allocator and empties t.
func (t *TypedHandle[T]) Free() { t.h.Free() }

// Take transfers ownership to the returned TypedHandle, emptying t.
func (t *TypedHandle[T]) Take() TypedHandle[T] {
	return TypedHandle[T]{h: t.h.Take(), n: t.n}
}
