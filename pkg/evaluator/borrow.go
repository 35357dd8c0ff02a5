package evaluator

import (
	"unicode/utf8"

	"github.com/AnneHtowardshaway/rust-study/pkg/runtime"
)

// handle is the scoped acquisition behind a reference. It remembers the frame
// it was created in; once that frame is popped the reference is dangling.
type handle struct {
	id        uint64
	slot      SlotID
	exclusive bool
	depth     int
	serial    uint64
	released  bool
	ended     bool

	sliced bool
	lo, hi int
}

// Ref is a shared borrow of a slot.
type Ref struct {
	h *handle
}

func (r *Ref) BorrowID() uint64 { return r.h.id }
func (r *Ref) Exclusive() bool  { return false }

// Slot returns the borrowed slot.
func (r *Ref) Slot() SlotID { return r.h.slot }

// Value wraps the reference so it can be bound to a name.
func (r *Ref) Value() runtime.RefValue { return runtime.RefValue{Borrow: r} }

// MutRef is an exclusive borrow of a slot.
type MutRef struct {
	h *handle
}

func (m *MutRef) BorrowID() uint64 { return m.h.id }
func (m *MutRef) Exclusive() bool  { return true }

// Slot returns the borrowed slot.
func (m *MutRef) Slot() SlotID { return m.h.slot }

// Value wraps the reference so it can be bound to a name.
func (m *MutRef) Value() runtime.RefValue { return runtime.RefValue{Borrow: m} }

func handleOf(b runtime.Borrow) *handle {
	switch ref := b.(type) {
	case *Ref:
		if ref != nil {
			return ref.h
		}
	case *MutRef:
		if ref != nil {
			return ref.h
		}
	}
	return nil
}

func (e *Evaluator) newHandle(slot *Slot, exclusive bool) *handle {
	e.nextBorrow++
	f := e.top()
	h := &handle{
		id:        e.nextBorrow,
		slot:      slot.ID,
		exclusive: exclusive,
		depth:     e.Depth(),
		serial:    f.serial,
	}
	f.handles = append(f.handles, h)
	return h
}

// frameLive reports whether the frame a handle was created in is still open.
func (e *Evaluator) frameLive(h *handle) bool {
	return h.depth < len(e.scopes) && e.scopes[h.depth].serial == h.serial
}

func (e *Evaluator) release(h *handle) {
	if h.released {
		return
	}
	h.released = true
	e.slots[h.slot].release(h.exclusive)
}

// heldHandles lists the borrow handles reachable from v.
func heldHandles(v runtime.Value) []*handle {
	var out []*handle
	var walk func(runtime.Value)
	walk = func(v runtime.Value) {
		switch val := v.(type) {
		case runtime.RefValue:
			if h := handleOf(val.Borrow); h != nil {
				out = append(out, h)
			}
		case *runtime.TupleValue:
			for _, el := range val.Elements {
				walk(el)
			}
		case *runtime.ArrayValue:
			for _, el := range val.Elements {
				walk(el)
			}
		}
	}
	walk(v)
	return out
}

// releaseHeld ends every borrow reachable from v and returns their ids.
func (e *Evaluator) releaseHeld(v runtime.Value) []uint64 {
	var ids []uint64
	for _, h := range heldHandles(v) {
		if !h.released {
			e.release(h)
			ids = append(ids, h.id)
		}
	}
	return ids
}

// copyValue duplicates the value bound to name for a new owner. Shared
// references inside it are borrowed again in the current scope, so each copy
// ends independently. A mutable reference can only be moved.
func (e *Evaluator) copyValue(name string, v runtime.Value) (runtime.Value, error) {
	for _, h := range heldHandles(v) {
		if h.exclusive {
			return nil, newError(BorrowConflict, name, "cannot copy `%s`: it holds a mutable borrow of `%s`, which can only be moved", name, e.slots[h.slot].Name)
		}
		if err := e.checkLive(h); err != nil {
			return nil, err
		}
	}
	return e.reborrow(v), nil
}

func (e *Evaluator) reborrow(v runtime.Value) runtime.Value {
	switch val := v.(type) {
	case runtime.RefValue:
		h := handleOf(val.Borrow)
		if h == nil {
			return val
		}
		slot := e.slots[h.slot]
		slot.acquireShared()
		fresh := e.newHandle(slot, false)
		fresh.sliced, fresh.lo, fresh.hi = h.sliced, h.lo, h.hi
		return runtime.RefValue{Borrow: &Ref{h: fresh}}
	case *runtime.TupleValue:
		return &runtime.TupleValue{Elements: e.reborrowAll(val.Elements)}
	case *runtime.ArrayValue:
		return &runtime.ArrayValue{Elements: e.reborrowAll(val.Elements), Heap: val.Heap}
	default:
		return runtime.Clone(v)
	}
}

func (e *Evaluator) reborrowAll(elems []runtime.Value) []runtime.Value {
	out := make([]runtime.Value, len(elems))
	for i, el := range elems {
		out[i] = e.reborrow(el)
	}
	return out
}

// Borrow takes a shared borrow of name.
func (e *Evaluator) Borrow(name string) (*Ref, error) {
	slot, err := e.resolveLive(name)
	if err == nil && !slot.acquireShared() {
		err = newError(BorrowConflict, name, "cannot borrow `%s` as immutable because it is also borrowed as mutable", name)
	}
	e.trace("borrow", name, err)
	if err != nil {
		return nil, err
	}
	return &Ref{h: e.newHandle(slot, false)}, nil
}

// BorrowMut takes the exclusive borrow of name.
func (e *Evaluator) BorrowMut(name string) (*MutRef, error) {
	slot, err := e.resolveLive(name)
	switch {
	case err != nil:
	case !slot.Mutable:
		err = newError(ImmutableBinding, name, "cannot borrow `%s` as mutable, as it is not declared as mutable", name)
	case !slot.acquireExclusive():
		err = newError(BorrowConflict, name, "cannot borrow `%s` as mutable because it is already borrowed (%s)", name, slot.Borrow)
	}
	e.trace("borrow_mut", name, err)
	if err != nil {
		return nil, err
	}
	return &MutRef{h: e.newHandle(slot, true)}, nil
}

// BorrowSlice takes a shared borrow of the [lo, hi) window of a string or
// array. A negative hi means the end of the value.
func (e *Evaluator) BorrowSlice(name string, lo, hi int) (*Ref, error) {
	slot, err := e.resolveLive(name)
	if err == nil {
		lo, hi, err = sliceBounds(name, slot.Value, lo, hi)
	}
	if err == nil && !slot.acquireShared() {
		err = newError(BorrowConflict, name, "cannot borrow `%s` as immutable because it is also borrowed as mutable", name)
	}
	e.trace("borrow_slice", name, err)
	if err != nil {
		return nil, err
	}
	h := e.newHandle(slot, false)
	h.sliced, h.lo, h.hi = true, lo, hi
	return &Ref{h: h}, nil
}

func sliceBounds(name string, v runtime.Value, lo, hi int) (int, int, error) {
	var length int
	switch val := v.(type) {
	case runtime.StringValue:
		length = len(val.Val)
		if hi < 0 {
			hi = length
		}
		if lo >= 0 && hi <= length && lo <= hi && (!charBoundary(val.Val, lo) || !charBoundary(val.Val, hi)) {
			return 0, 0, newError(SliceOutOfRange, name, "byte range %d..%d of `%s` is not on a char boundary", lo, hi, name)
		}
	case *runtime.ArrayValue:
		length = len(val.Elements)
	default:
		return 0, 0, newError(SliceOutOfRange, name, "cannot slice `%s` of kind %s", name, v.Kind())
	}
	if hi < 0 {
		hi = length
	}
	if lo < 0 || lo > hi || hi > length {
		return 0, 0, newError(SliceOutOfRange, name, "range %d..%d out of bounds for `%s` of length %d", lo, hi, name, length)
	}
	return lo, hi, nil
}

func charBoundary(s string, i int) bool {
	return i == 0 || i == len(s) || utf8.RuneStart(s[i])
}

// EndBorrow releases a shared borrow. Ending an already released borrow is a
// no-op while its scope is open; once the scope is gone it is dangling.
func (e *Evaluator) EndBorrow(r *Ref) error {
	if r == nil {
		return e.end(nil, "end_borrow")
	}
	return e.end(r.h, "end_borrow")
}

// EndBorrowMut releases an exclusive borrow.
func (e *Evaluator) EndBorrowMut(m *MutRef) error {
	if m == nil {
		return e.end(nil, "end_borrow_mut")
	}
	return e.end(m.h, "end_borrow_mut")
}

// Release ends either kind of borrow.
func (e *Evaluator) Release(b runtime.Borrow) error {
	return e.end(handleOf(b), "release")
}

func (e *Evaluator) end(h *handle, op string) error {
	var err error
	switch {
	case h == nil:
		err = newError(DanglingReference, "", "invalid reference")
	case !e.frameLive(h):
		err = newError(DanglingReference, e.slots[h.slot].Name, "borrow #%d of `%s` outlived the scope it was created in", h.id, e.slots[h.slot].Name)
	default:
		if !h.released {
			h.ended = true
			e.release(h)
		}
	}
	e.trace(op, "", err)
	return err
}

func (e *Evaluator) checkLive(h *handle) error {
	if h == nil {
		return newError(DanglingReference, "", "invalid reference")
	}
	name := e.slots[h.slot].Name
	if !e.frameLive(h) {
		return newError(DanglingReference, name, "borrow #%d of `%s` outlived the scope it was created in", h.id, name)
	}
	if h.released {
		return newError(DanglingReference, name, "borrow #%d of `%s` was already released", h.id, name)
	}
	return nil
}

// Load reads the value behind a reference.
func (e *Evaluator) Load(b runtime.Borrow) (runtime.Value, error) {
	h := handleOf(b)
	err := e.checkLive(h)
	e.trace("load", "", err)
	if err != nil {
		return nil, err
	}
	v := e.slots[h.slot].Value
	if h.sliced {
		switch val := v.(type) {
		case runtime.StringValue:
			return runtime.StringValue{Val: val.Val[h.lo:h.hi], Static: true}, nil
		case *runtime.ArrayValue:
			return &runtime.ArrayValue{Elements: cloneElements(val.Elements[h.lo:h.hi])}, nil
		}
	}
	return runtime.Clone(v), nil
}

func cloneElements(elems []runtime.Value) []runtime.Value {
	out := make([]runtime.Value, len(elems))
	for i, el := range elems {
		out[i] = runtime.Clone(el)
	}
	return out
}

// Store writes through an exclusive reference.
func (e *Evaluator) Store(m *MutRef, value runtime.Value) error {
	var h *handle
	if m != nil {
		h = m.h
	}
	err := e.checkLive(h)
	e.trace("store", "", err)
	if err != nil {
		return err
	}
	slot := e.slots[h.slot]
	if !slot.Moved {
		e.releaseHeld(slot.Value)
	}
	slot.Value = value
	slot.Moved = false
	return nil
}
