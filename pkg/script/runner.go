package script

import (
	"fmt"
	"strings"

	"github.com/AnneHtowardshaway/rust-study/pkg/evaluator"
	"github.com/AnneHtowardshaway/rust-study/pkg/runtime"
)

// StepError reports a malformed step or call sequence, as opposed to a rule
// the evaluator rejected.
type StepError struct {
	Op      string
	Line    int
	Message string
}

func (e *StepError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s (line %d): %s", e.Op, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Outcome is the result of executing one step.
type Outcome struct {
	Step     Step
	Depth    int
	Slot     evaluator.SlotID
	Value    runtime.Value
	Err      error
	Drops    []evaluator.Drop
	Mismatch string
}

// Failed reports whether the step did not behave as the script expected.
func (o Outcome) Failed() bool { return o.Mismatch != "" }

// Rejected reports whether the step failed exactly as the script expected.
func (o Outcome) Rejected() bool { return o.Step.Expect != "" && o.Err != nil && o.Mismatch == "" }

// SectionReport holds the outcomes of one section.
type SectionReport struct {
	Title    string
	Outcomes []Outcome
}

// Report holds the outcomes of a whole script.
type Report struct {
	Title    string
	Path     string
	Sections []SectionReport
}

// Failures counts outcomes whose expectations were not met.
func (r *Report) Failures() int {
	n := 0
	for _, sec := range r.Sections {
		for _, o := range sec.Outcomes {
			if o.Failed() {
				n++
			}
		}
	}
	return n
}

// Steps counts every executed outcome.
func (r *Report) Steps() int {
	n := 0
	for _, sec := range r.Sections {
		n += len(sec.Outcomes)
	}
	return n
}

// Runner executes steps against an evaluator. References taken with a `ref`
// name but not bound to a variable are held by the runner until ended.
type Runner struct {
	opts  []evaluator.Option
	ev    *evaluator.Evaluator
	temps map[string]runtime.Borrow
}

// NewRunner constructs a runner; opts configure every evaluator it creates.
func NewRunner(opts ...evaluator.Option) *Runner {
	r := &Runner{opts: opts}
	r.Reset()
	return r
}

// Reset discards all state and starts over with a fresh evaluator.
func (r *Runner) Reset() {
	r.ev = evaluator.New(r.opts...)
	r.temps = make(map[string]runtime.Borrow)
}

// Evaluator exposes the current evaluator.
func (r *Runner) Evaluator() *evaluator.Evaluator {
	return r.ev
}

// Run executes every section of s, each against a fresh evaluator. Scopes a
// section leaves open are closed at its end.
func (r *Runner) Run(s *Script) *Report {
	rep := &Report{Title: s.Title, Path: s.Path}
	for _, sec := range s.Sections {
		r.Reset()
		sr := SectionReport{Title: sec.Title}
		sr.Outcomes = r.runSteps(sec.Steps)
		sr.Outcomes = append(sr.Outcomes, r.Unwind()...)
		rep.Sections = append(rep.Sections, sr)
	}
	return rep
}

// Unwind exits every scope above the root.
func (r *Runner) Unwind() []Outcome {
	var out []Outcome
	for r.ev.Depth() > 0 {
		out = append(out, r.exec(Step{Op: OpExit}))
	}
	return out
}

// Exec runs one step. A scope step expands into its enter, body and exit
// outcomes.
func (r *Runner) Exec(step Step) []Outcome {
	if step.Op != OpScope {
		return []Outcome{r.exec(step)}
	}
	base := r.ev.Depth()
	out := []Outcome{r.exec(Step{Op: OpEnter, Line: step.Line})}
	out = append(out, r.runSteps(step.Steps)...)
	for r.ev.Depth() > base {
		out = append(out, r.exec(Step{Op: OpExit, Line: step.Line}))
	}
	return out
}

// runSteps executes steps in order. Steps that share a source line form one
// statement: once one of them is rejected as expected, the rest of that
// statement is skipped.
func (r *Runner) runSteps(steps []Step) []Outcome {
	var out []Outcome
	stopped := 0
	for _, step := range steps {
		if stopped != 0 && step.Line == stopped {
			continue
		}
		stopped = 0
		outs := r.Exec(step)
		out = append(out, outs...)
		if step.Op != OpScope && step.Line != 0 && outs[len(outs)-1].Rejected() {
			stopped = step.Line
		}
	}
	return out
}

func (r *Runner) exec(step Step) Outcome {
	o := Outcome{Step: step, Depth: r.ev.Depth(), Slot: -1}
	if problems := step.problems(); len(problems) > 0 {
		o.Err = &StepError{Op: step.Op, Line: step.Line, Message: strings.Join(problems, "; ")}
		o.Mismatch = o.Err.Error()
		return o
	}

	ev := r.ev
	switch step.Op {
	case OpBind:
		o.Value = runtime.Clone(step.Value.Value)
		o.Slot = ev.Bind(step.Name, o.Value, step.Mutable)
	case OpRead:
		o.Value, o.Err = r.read(step.Name)
	case OpMove, OpClone:
		take := ev.MoveOut
		if step.Op == OpClone {
			take = ev.Clone
		}
		o.Value, o.Err = take(step.Name)
		if o.Err == nil && step.Into != "" {
			o.Slot = ev.Bind(step.Into, o.Value, step.Mutable)
		}
	case OpBorrow, OpBorrowMut, OpSlice:
		var b runtime.Borrow
		b, o.Err = r.borrow(step)
		if o.Err == nil {
			o.Value = runtime.RefValue{Borrow: b}
			o.Slot, o.Err = r.hold(step, b)
		}
	case OpEndBorrow:
		var b runtime.Borrow
		if b, o.Err = r.lookupRef(step); o.Err == nil {
			o.Err = ev.Release(b)
		}
	case OpDeref:
		var b runtime.Borrow
		if b, o.Err = r.lookupRef(step); o.Err == nil {
			o.Value, o.Err = ev.Load(b)
		}
	case OpStore:
		var b runtime.Borrow
		if b, o.Err = r.lookupRef(step); o.Err == nil {
			m, ok := b.(*evaluator.MutRef)
			if !ok {
				o.Err = &evaluator.Error{Kind: evaluator.ImmutableBinding, Name: step.Ref, Message: fmt.Sprintf("cannot assign through `%s`, which is a shared reference", step.Ref)}
			} else {
				o.Value = runtime.Clone(step.Value.Value)
				o.Err = ev.Store(m, o.Value)
			}
		}
	case OpAssign:
		if step.Ref == "" {
			o.Value = runtime.Clone(step.Value.Value)
			o.Err = ev.Assign(step.Name, o.Value)
			break
		}
		// Hand a held reference over to a variable.
		b, ok := r.temps[step.Ref]
		if !ok {
			o.Err = &StepError{Op: step.Op, Line: step.Line, Message: fmt.Sprintf("no held reference named `%s`", step.Ref)}
			break
		}
		o.Value = runtime.RefValue{Borrow: b}
		if o.Err = ev.Assign(step.Name, o.Value); o.Err == nil {
			delete(r.temps, step.Ref)
		}
	case OpDestructure:
		src := runtime.Value(nil)
		if step.Value != nil {
			src = runtime.Clone(step.Value.Value)
		} else {
			src, o.Err = ev.MoveOut(step.Name)
		}
		if o.Err == nil {
			o.Value = src
			_, o.Err = ev.BindPattern(step.Names, src, step.Mutable)
		}
	case OpEnter:
		ev.EnterScope()
	case OpExit:
		if ev.Depth() == 0 {
			o.Err = &StepError{Op: step.Op, Line: step.Line, Message: "no open scope to exit"}
		} else {
			o.Drops = ev.ExitScope()
		}
	case OpSay, OpScope:
	}

	r.check(&o)
	if err := ev.Verify(); err != nil {
		o.Err = err
		o.Mismatch = "internal: " + err.Error()
	}
	return o
}

// read returns the value of a binding, following it when it holds a reference.
func (r *Runner) read(name string) (runtime.Value, error) {
	v, err := r.ev.Peek(name)
	if err != nil {
		return nil, err
	}
	if ref, ok := v.(runtime.RefValue); ok {
		return r.ev.Load(ref.Borrow)
	}
	return v, nil
}

func (r *Runner) borrow(step Step) (runtime.Borrow, error) {
	switch step.Op {
	case OpBorrowMut:
		m, err := r.ev.BorrowMut(step.Name)
		if err != nil {
			return nil, err
		}
		return m, nil
	case OpSlice:
		hi := -1
		if len(step.Range) == 2 {
			hi = step.Range[1]
		}
		ref, err := r.ev.BorrowSlice(step.Name, step.Range[0], hi)
		if err != nil {
			return nil, err
		}
		return ref, nil
	default:
		ref, err := r.ev.Borrow(step.Name)
		if err != nil {
			return nil, err
		}
		return ref, nil
	}
}

// hold keeps a fresh borrow alive: bound to a variable, held under a ref
// name, or released straight away when the step names neither.
func (r *Runner) hold(step Step, b runtime.Borrow) (evaluator.SlotID, error) {
	switch {
	case step.Into != "":
		return r.ev.Bind(step.Into, runtime.RefValue{Borrow: b}, step.Mutable), nil
	case step.Ref != "":
		r.temps[step.Ref] = b
		return -1, nil
	default:
		return -1, r.ev.Release(b)
	}
}

func (r *Runner) lookupRef(step Step) (runtime.Borrow, error) {
	if b, ok := r.temps[step.Ref]; ok {
		return b, nil
	}
	v, err := r.ev.Peek(step.Ref)
	if err != nil {
		return nil, err
	}
	ref, ok := v.(runtime.RefValue)
	if !ok {
		return nil, &StepError{Op: step.Op, Line: step.Line, Message: fmt.Sprintf("`%s` is not a reference (%s)", step.Ref, runtime.Describe(v))}
	}
	return ref.Borrow, nil
}

func (r *Runner) check(o *Outcome) {
	step := o.Step
	if step.Expect != "" {
		want, _ := evaluator.ParseErrorKind(step.Expect)
		got, isEval := evaluator.KindOf(o.Err)
		switch {
		case o.Err == nil:
			o.Mismatch = fmt.Sprintf("expected %s, but the step succeeded", want)
		case !isEval || got != want:
			o.Mismatch = fmt.Sprintf("expected %s, got: %v", want, o.Err)
		}
		return
	}
	if o.Err != nil {
		o.Mismatch = "unexpected error: " + o.Err.Error()
		return
	}
	if step.Want != nil && !runtime.Equal(o.Value, step.Want.Value) {
		o.Mismatch = fmt.Sprintf("got %s, want %s", runtime.Debug(o.Value), runtime.Debug(step.Want.Value))
	}
}
