package evaluator

import (
	"fmt"

	"github.com/AnneHtowardshaway/rust-study/pkg/runtime"
)

// SlotID indexes the evaluator's slot arena.
type SlotID int

// BorrowKind is the tri-state of a slot's borrow bookkeeping.
type BorrowKind int

const (
	BorrowFree BorrowKind = iota
	BorrowShared
	BorrowExclusive
)

// BorrowState records how a slot is currently borrowed. Count is the number of
// shared borrows and is 1 for an exclusive borrow.
type BorrowState struct {
	Kind  BorrowKind
	Count int
}

func (b BorrowState) String() string {
	switch b.Kind {
	case BorrowShared:
		return fmt.Sprintf("shared(%d)", b.Count)
	case BorrowExclusive:
		return "exclusive"
	default:
		return "free"
	}
}

// Slot is an arena cell holding one value plus its move and borrow metadata.
type Slot struct {
	ID      SlotID
	Name    string
	Value   runtime.Value
	Mutable bool
	Moved   bool
	Borrow  BorrowState
	Depth   int
	Dropped bool
}

func (s *Slot) acquireShared() bool {
	switch s.Borrow.Kind {
	case BorrowFree:
		s.Borrow = BorrowState{Kind: BorrowShared, Count: 1}
	case BorrowShared:
		s.Borrow.Count++
	default:
		return false
	}
	return true
}

func (s *Slot) acquireExclusive() bool {
	if s.Borrow.Kind != BorrowFree {
		return false
	}
	s.Borrow = BorrowState{Kind: BorrowExclusive, Count: 1}
	return true
}

func (s *Slot) release(exclusive bool) {
	switch {
	case exclusive && s.Borrow.Kind == BorrowExclusive:
		s.Borrow = BorrowState{}
	case !exclusive && s.Borrow.Kind == BorrowShared:
		s.Borrow.Count--
		if s.Borrow.Count == 0 {
			s.Borrow = BorrowState{}
		}
	default:
		panic(fmt.Sprintf("evaluator: release of %s borrow on slot %d in state %s", borrowLabel(exclusive), s.ID, s.Borrow))
	}
}

func borrowLabel(exclusive bool) string {
	if exclusive {
		return "exclusive"
	}
	return "shared"
}
