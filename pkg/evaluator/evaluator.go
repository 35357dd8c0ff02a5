package evaluator

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/AnneHtowardshaway/rust-study/pkg/runtime"
)

type frame struct {
	serial  uint64
	slots   []SlotID
	names   map[string]SlotID
	handles []*handle
}

// Evaluator tracks lexical scopes over an arena of slots. It is not safe for
// concurrent use.
type Evaluator struct {
	scopes     []*frame
	slots      []*Slot
	nextSerial uint64
	nextBorrow uint64
	log        zerolog.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger routes per-operation trace events to logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Evaluator) {
		e.log = logger
	}
}

// New constructs an evaluator with only the root scope open.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	e.pushFrame()
	return e
}

// Depth returns the index of the innermost scope; the root scope is 0.
func (e *Evaluator) Depth() int {
	return len(e.scopes) - 1
}

func (e *Evaluator) top() *frame {
	return e.scopes[len(e.scopes)-1]
}

func (e *Evaluator) pushFrame() {
	e.nextSerial++
	e.scopes = append(e.scopes, &frame{
		serial: e.nextSerial,
		names:  make(map[string]SlotID),
	})
}

func (e *Evaluator) trace(op, name string, err error) {
	evt := e.log.Trace().Str("op", op).Int("depth", e.Depth())
	if name != "" {
		evt = evt.Str("name", name)
	}
	if err != nil {
		evt = evt.Err(err)
	}
	evt.Msg(op)
}

// Slot returns a snapshot of the slot with the given id.
func (e *Evaluator) Slot(id SlotID) (Slot, bool) {
	if id < 0 || int(id) >= len(e.slots) {
		return Slot{}, false
	}
	return *e.slots[id], true
}

// Resolve finds the slot a name currently refers to, searching outward from
// the innermost scope.
func (e *Evaluator) Resolve(name string) (SlotID, error) {
	slot, err := e.resolve(name)
	if err != nil {
		return -1, err
	}
	return slot.ID, nil
}

func (e *Evaluator) resolve(name string) (*Slot, error) {
	for i := len(e.scopes) - 1; i >= 0; i-- {
		if id, ok := e.scopes[i].names[name]; ok {
			return e.slots[id], nil
		}
	}
	return nil, newError(UnboundName, name, "cannot find value `%s` in this scope", name)
}

func (e *Evaluator) resolveLive(name string) (*Slot, error) {
	slot, err := e.resolve(name)
	if err != nil {
		return nil, err
	}
	if slot.Moved {
		return nil, newError(UseAfterMove, name, "use of moved value `%s`", name)
	}
	return slot, nil
}

// Bind creates a slot for value in the innermost scope. A previous binding of
// the same name in that scope stays alive but is no longer reachable by name.
func (e *Evaluator) Bind(name string, value runtime.Value, mutable bool) SlotID {
	id := SlotID(len(e.slots))
	e.slots = append(e.slots, &Slot{
		ID:      id,
		Name:    name,
		Value:   value,
		Mutable: mutable,
		Depth:   e.Depth(),
	})
	f := e.top()
	f.slots = append(f.slots, id)
	f.names[name] = id
	e.log.Trace().Str("op", "bind").Str("name", name).Int("slot", int(id)).Int("depth", e.Depth()).Bool("mutable", mutable).Msg("bind")
	return id
}

// Read returns a copy of the value bound to name without consuming it.
// Shared references in the value are borrowed again for the copy; a value
// holding a mutable reference cannot be copied and fails BorrowConflict.
func (e *Evaluator) Read(name string) (runtime.Value, error) {
	return e.copyOut("read", name)
}

// Clone returns a deep copy of the bound value. The source stays usable.
func (e *Evaluator) Clone(name string) (runtime.Value, error) {
	return e.copyOut("clone", name)
}

func (e *Evaluator) copyOut(op, name string) (runtime.Value, error) {
	slot, err := e.usable(name)
	var v runtime.Value
	if err == nil {
		v, err = e.copyValue(name, slot.Value)
	}
	e.trace(op, name, err)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Peek returns the value bound to name with the same checks as Read but
// without taking new borrows. References in the result are the binding's own,
// so it is for inspection and must not be bound to another name.
func (e *Evaluator) Peek(name string) (runtime.Value, error) {
	slot, err := e.usable(name)
	e.trace("peek", name, err)
	if err != nil {
		return nil, err
	}
	return runtime.Clone(slot.Value), nil
}

func (e *Evaluator) usable(name string) (*Slot, error) {
	slot, err := e.resolveLive(name)
	if err == nil && slot.Borrow.Kind == BorrowExclusive {
		err = newError(BorrowConflict, name, "cannot use `%s` because it is mutably borrowed", name)
	}
	return slot, err
}

// MoveOut returns the bound value. Non-copy values leave the slot marked
// moved; copy values leave it untouched.
func (e *Evaluator) MoveOut(name string) (runtime.Value, error) {
	slot, err := e.resolveLive(name)
	if err == nil && slot.Borrow.Kind != BorrowFree {
		err = newError(CannotMoveBorrowed, name, "cannot move out of `%s` because it is borrowed (%s)", name, slot.Borrow)
	}
	e.trace("move_out", name, err)
	if err != nil {
		return nil, err
	}
	if runtime.IsCopy(slot.Value) {
		return runtime.Clone(slot.Value), nil
	}
	slot.Moved = true
	return slot.Value, nil
}

// Assign replaces the value of a mutable binding and clears its moved flag.
func (e *Evaluator) Assign(name string, value runtime.Value) error {
	slot, err := e.resolve(name)
	switch {
	case err != nil:
	case !slot.Mutable:
		err = newError(ImmutableBinding, name, "cannot assign twice to immutable variable `%s`", name)
	case slot.Borrow.Kind != BorrowFree:
		err = newError(BorrowConflict, name, "cannot assign to `%s` because it is borrowed (%s)", name, slot.Borrow)
	}
	e.trace("assign", name, err)
	if err != nil {
		return err
	}
	if !slot.Moved {
		e.releaseHeld(slot.Value)
	}
	slot.Value = value
	slot.Moved = false
	return nil
}

// EnterScope opens a nested lexical scope.
func (e *Evaluator) EnterScope() {
	e.pushFrame()
	e.trace("enter_scope", "", nil)
}

// Drop records one step of a scope exit: either a slot going away or a
// borrow handle released because its creation scope ended.
type Drop struct {
	Slot   SlotID
	Name   string
	Value  runtime.Value
	Moved  bool
	Borrow uint64
}

// ExitScope closes the innermost scope. Slots are dropped in reverse binding
// order, releasing the borrows their values held, and then any borrow created
// in the scope that is still outstanding is released. Exiting the root scope
// means the caller's enter/exit sequence is corrupt and panics.
func (e *Evaluator) ExitScope() []Drop {
	if len(e.scopes) <= 1 {
		panic("evaluator: exit_scope called on the root scope")
	}
	f := e.top()
	drops := make([]Drop, 0, len(f.slots))
	for i := len(f.slots) - 1; i >= 0; i-- {
		slot := e.slots[f.slots[i]]
		if !slot.Moved {
			e.releaseHeld(slot.Value)
		}
		slot.Dropped = true
		drops = append(drops, Drop{Slot: slot.ID, Name: slot.Name, Value: slot.Value, Moved: slot.Moved})
	}
	for _, h := range f.handles {
		if h.released {
			continue
		}
		e.release(h)
		drops = append(drops, Drop{Slot: h.slot, Name: e.slots[h.slot].Name, Borrow: h.id})
	}
	e.trace("exit_scope", "", nil)
	e.scopes = e.scopes[:len(e.scopes)-1]
	return drops
}

// Binding describes a name visible from the innermost scope.
type Binding struct {
	Name  string
	Depth int
	Slot  Slot
}

// Bindings lists the visible bindings, innermost scope first and most recent
// binding first within a scope.
func (e *Evaluator) Bindings() []Binding {
	seen := make(map[string]bool)
	var out []Binding
	for depth := len(e.scopes) - 1; depth >= 0; depth-- {
		f := e.scopes[depth]
		for i := len(f.slots) - 1; i >= 0; i-- {
			slot := e.slots[f.slots[i]]
			if seen[slot.Name] || f.names[slot.Name] != slot.ID {
				continue
			}
			seen[slot.Name] = true
			out = append(out, Binding{Name: slot.Name, Depth: depth, Slot: *slot})
		}
	}
	return out
}

// Verify cross-checks every slot's borrow state against the outstanding
// borrow handles and the bindings that hold them.
func (e *Evaluator) Verify() error {
	shared := make(map[SlotID]int)
	exclusive := make(map[SlotID]int)
	for _, f := range e.scopes {
		for _, h := range f.handles {
			if h.released {
				continue
			}
			if h.exclusive {
				exclusive[h.slot]++
			} else {
				shared[h.slot]++
			}
		}
	}
	for _, slot := range e.slots {
		s, x := shared[slot.ID], exclusive[slot.ID]
		if s > 0 && x > 0 {
			return fmt.Errorf("evaluator: slot %d (%s) has %d shared and %d exclusive borrows", slot.ID, slot.Name, s, x)
		}
		if x > 1 {
			return fmt.Errorf("evaluator: slot %d (%s) has %d exclusive borrows", slot.ID, slot.Name, x)
		}
		var want BorrowState
		switch {
		case x == 1:
			want = BorrowState{Kind: BorrowExclusive, Count: 1}
		case s > 0:
			want = BorrowState{Kind: BorrowShared, Count: s}
		}
		if slot.Borrow != want {
			return fmt.Errorf("evaluator: slot %d (%s) borrow state %s, outstanding handles imply %s", slot.ID, slot.Name, slot.Borrow, want)
		}
		if slot.Dropped && slot.Borrow.Kind != BorrowFree {
			return fmt.Errorf("evaluator: dropped slot %d (%s) is still borrowed", slot.ID, slot.Name)
		}
	}
	return e.verifyHolders()
}

// verifyHolders checks that an exclusive borrow has at most one live owner
// and that no live owner holds a borrow some other binding released.
func (e *Evaluator) verifyHolders() error {
	owner := make(map[*handle]*Slot)
	for _, slot := range e.slots {
		if slot.Dropped || slot.Moved {
			continue
		}
		for _, h := range heldHandles(slot.Value) {
			target := e.slots[h.slot].Name
			if h.released && !h.ended && e.frameLive(h) {
				return fmt.Errorf("evaluator: `%s` holds borrow #%d of `%s`, which was released by another owner", slot.Name, h.id, target)
			}
			if prev, ok := owner[h]; ok && h.exclusive {
				return fmt.Errorf("evaluator: mutable borrow #%d of `%s` is held by both `%s` and `%s`", h.id, target, prev.Name, slot.Name)
			}
			owner[h] = slot
		}
	}
	return nil
}
