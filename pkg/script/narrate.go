package script

import (
	"fmt"
	"io"
	"strings"

	"github.com/AnneHtowardshaway/rust-study/pkg/evaluator"
	"github.com/AnneHtowardshaway/rust-study/pkg/runtime"
)

// Narrator renders outcomes as human-readable commentary.
type Narrator struct {
	w            io.Writer
	onlyFailures bool
}

// NewNarrator writes to w. With onlyFailures set, only steps that missed
// their expectation are reported.
func NewNarrator(w io.Writer, onlyFailures bool) *Narrator {
	return &Narrator{w: w, onlyFailures: onlyFailures}
}

// Report narrates a whole script run and ends with a summary line.
func (n *Narrator) Report(rep *Report) {
	if n.onlyFailures {
		for _, sec := range rep.Sections {
			for _, o := range sec.Outcomes {
				if !o.Failed() {
					continue
				}
				fmt.Fprintf(n.w, "%s: %s: %s: %s\n", displayPath(rep.Path), sec.Title, Describe(o), o.Mismatch)
			}
		}
		return
	}
	if rep.Title != "" {
		fmt.Fprintf(n.w, "=== %s ===\n", rep.Title)
	}
	for _, sec := range rep.Sections {
		if sec.Title != "" && sec.Title != rep.Title {
			fmt.Fprintf(n.w, "\n--- %s ---\n", sec.Title)
		}
		for _, o := range sec.Outcomes {
			n.Outcome(o)
		}
	}
	fmt.Fprintf(n.w, "\n%d steps, %d mismatches\n", rep.Steps(), rep.Failures())
}

// Outcome narrates a single step.
func (n *Narrator) Outcome(o Outcome) {
	if n.onlyFailures && !o.Failed() {
		return
	}
	for _, line := range Narrate(o) {
		fmt.Fprintln(n.w, line)
	}
}

// Narrate returns the lines describing an outcome, indented by scope depth.
func Narrate(o Outcome) []string {
	indent := strings.Repeat("  ", o.Depth)
	var lines []string
	head := Describe(o)
	switch {
	case o.Err != nil && o.Rejected():
		lines = append(lines, fmt.Sprintf("%s%s  // rejected as expected: %v", indent, head, o.Err))
	case o.Err != nil:
		lines = append(lines, fmt.Sprintf("%s%s  // error: %v", indent, head, o.Err))
	default:
		lines = append(lines, indent+head)
	}
	for _, d := range o.Drops {
		lines = append(lines, indent+"  "+describeDrop(d))
	}
	if o.Failed() {
		lines = append(lines, fmt.Sprintf("%s  !! MISMATCH: %s", indent, o.Mismatch))
	}
	return lines
}

// Describe summarises what a step did, in Rust-like notation.
func Describe(o Outcome) string {
	s := o.Step
	ok := o.Err == nil
	switch s.Op {
	case OpBind:
		return fmt.Sprintf("let %s%s = %s;  // %s", mutPrefix(s.Mutable), s.Name, debugValue(o.Value), runtime.Describe(o.Value))
	case OpRead:
		if ok {
			return fmt.Sprintf("%s -> %s", s.Name, runtime.Format(o.Value))
		}
		return "use " + s.Name
	case OpMove:
		target := s.Into
		if !ok {
			return fmt.Sprintf("move %s", s.Name)
		}
		if runtime.IsCopy(o.Value) {
			if target == "" {
				return fmt.Sprintf("copy %s  // %s stays valid", s.Name, s.Name)
			}
			return fmt.Sprintf("let %s%s = %s;  // copied, %s stays valid", mutPrefix(s.Mutable), target, s.Name, s.Name)
		}
		if target == "" {
			return fmt.Sprintf("move %s  // %s is no longer valid", s.Name, s.Name)
		}
		return fmt.Sprintf("let %s%s = %s;  // moved, %s is no longer valid", mutPrefix(s.Mutable), target, s.Name, s.Name)
	case OpClone:
		if s.Into == "" {
			return fmt.Sprintf("%s.clone()", s.Name)
		}
		return fmt.Sprintf("let %s%s = %s.clone();", mutPrefix(s.Mutable), s.Into, s.Name)
	case OpBorrow, OpBorrowMut, OpSlice:
		expr := "&" + s.Name
		if s.Op == OpBorrowMut {
			expr = "&mut " + s.Name
		}
		if s.Op == OpSlice {
			expr = fmt.Sprintf("&%s[%s]", s.Name, rangeText(s.Range))
		}
		if ok {
			if ref, isRef := o.Value.(runtime.RefValue); isRef && ref.Borrow != nil {
				expr = fmt.Sprintf("%s  // borrow #%d", expr, ref.Borrow.BorrowID())
			}
		}
		switch {
		case s.Into != "":
			return fmt.Sprintf("let %s%s = %s", mutPrefix(s.Mutable), s.Into, expr)
		case s.Ref != "":
			return fmt.Sprintf("%s = %s", s.Ref, expr)
		}
		return expr
	case OpEndBorrow:
		return fmt.Sprintf("// last use of %s, borrow ends", s.Ref)
	case OpDeref:
		if ok {
			return fmt.Sprintf("*%s -> %s", s.Ref, runtime.Format(o.Value))
		}
		return "*" + s.Ref
	case OpStore:
		return fmt.Sprintf("*%s = %s;", s.Ref, debugValue(o.Value))
	case OpAssign:
		if s.Ref != "" {
			return fmt.Sprintf("%s = %s;", s.Name, s.Ref)
		}
		return fmt.Sprintf("%s = %s;", s.Name, debugValue(o.Value))
	case OpDestructure:
		src := s.Name
		if src == "" {
			src = debugValue(o.Value)
		}
		return fmt.Sprintf("let %s(%s) = %s;", mutPrefix(s.Mutable), strings.Join(s.Names, ", "), src)
	case OpEnter:
		return "{"
	case OpExit:
		return "}"
	case OpSay:
		return "// " + s.Text
	}
	return s.Op
}

func describeDrop(d evaluator.Drop) string {
	switch {
	case d.Borrow != 0:
		return fmt.Sprintf("// borrow #%d of %s released at end of scope", d.Borrow, d.Name)
	case d.Moved:
		return fmt.Sprintf("// %s goes out of scope; it was moved, nothing to drop", d.Name)
	default:
		return fmt.Sprintf("// %s goes out of scope and is dropped (%s)", d.Name, runtime.Debug(d.Value))
	}
}

func mutPrefix(mutable bool) string {
	if mutable {
		return "mut "
	}
	return ""
}

func debugValue(v runtime.Value) string {
	if v == nil {
		return "_"
	}
	return runtime.Debug(v)
}

func rangeText(r []int) string {
	switch len(r) {
	case 1:
		return fmt.Sprintf("%d..", r[0])
	case 2:
		if r[1] < 0 {
			return fmt.Sprintf("%d..", r[0])
		}
		return fmt.Sprintf("%d..%d", r[0], r[1])
	}
	return ".."
}
