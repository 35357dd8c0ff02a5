package evaluator

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/AnneHtowardshaway/rust-study/pkg/runtime"
)

func owned(s string) runtime.Value { return runtime.StringValue{Val: s} }

func intVal(n int64) runtime.Value { return runtime.NewInteger(n, "") }

func expectKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil error", kind)
	}
	got, ok := KindOf(err)
	if !ok || got != kind {
		t.Fatalf("expected %s, got %v", kind, err)
	}
}

func mustVerify(t *testing.T, e *Evaluator) {
	t.Helper()
	if err := e.Verify(); err != nil {
		t.Fatalf("invariant violated: %v", err)
	}
}

func TestMoveThenReadFails(t *testing.T) {
	e := New()
	e.Bind("s", owned("hello"), false)
	v, err := e.MoveOut("s")
	if err != nil {
		t.Fatalf("MoveOut: %v", err)
	}
	if got := v.(runtime.StringValue).Val; got != "hello" {
		t.Fatalf("moved value = %q", got)
	}
	_, err = e.Read("s")
	expectKind(t, err, UseAfterMove)
	_, err = e.Borrow("s")
	expectKind(t, err, UseAfterMove)
	_, err = e.MoveOut("s")
	expectKind(t, err, UseAfterMove)
	if !errors.Is(err, ErrUseAfterMove) {
		t.Fatalf("errors.Is should match the sentinel: %v", err)
	}
}

func TestMoveOfCopyValueKeepsBinding(t *testing.T) {
	e := New()
	id := e.Bind("x", intVal(5), false)
	for i := 0; i < 3; i++ {
		if _, err := e.MoveOut("x"); err != nil {
			t.Fatalf("MoveOut #%d: %v", i, err)
		}
	}
	slot, _ := e.Slot(id)
	if slot.Moved {
		t.Fatalf("copy value should never set moved")
	}
	if _, err := e.Read("x"); err != nil {
		t.Fatalf("Read after copy move: %v", err)
	}
}

func TestStaticStringCopies(t *testing.T) {
	e := New()
	e.Bind("s", runtime.StringValue{Val: "hi", Static: true}, false)
	if _, err := e.MoveOut("s"); err != nil {
		t.Fatalf("MoveOut: %v", err)
	}
	if _, err := e.Read("s"); err != nil {
		t.Fatalf("static string literal should stay readable: %v", err)
	}
}

func TestShadowingInSameScope(t *testing.T) {
	e := New()
	first := e.Bind("x", intVal(5), false)
	second := e.Bind("x", intVal(6), false)
	if first == second {
		t.Fatalf("shadowing must allocate a new slot")
	}
	v, err := e.Read("x")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !runtime.Equal(v, intVal(6)) {
		t.Fatalf("expected shadowed value 6, got %s", runtime.Debug(v))
	}
	if slot, _ := e.Slot(first); slot.Dropped {
		t.Fatalf("shadowed slot must stay alive until scope exit")
	}
}

func TestInnerShadowRestoresOuterBinding(t *testing.T) {
	e := New()
	e.Bind("x", intVal(5), false)
	e.EnterScope()
	e.Bind("x", owned("inner"), false)
	v, _ := e.Read("x")
	if runtime.Format(v) != "inner" {
		t.Fatalf("inner read = %s", runtime.Debug(v))
	}
	e.ExitScope()
	v, err := e.Read("x")
	if err != nil {
		t.Fatalf("Read after exit: %v", err)
	}
	if !runtime.Equal(v, intVal(5)) {
		t.Fatalf("outer binding not restored: %s", runtime.Debug(v))
	}
}

func TestAssignRules(t *testing.T) {
	values := []runtime.Value{
		intVal(1),
		owned("s"),
		&runtime.TupleValue{Elements: []runtime.Value{intVal(1), owned("x")}},
		&runtime.ArrayValue{Elements: []runtime.Value{intVal(1)}},
	}
	for _, v := range values {
		e := New()
		e.Bind("x", v, false)
		expectKind(t, e.Assign("x", intVal(2)), ImmutableBinding)
	}

	e := New()
	e.Bind("y", intVal(5), true)
	if err := e.Assign("y", intVal(6)); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	r, err := e.Borrow("y")
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	expectKind(t, e.Assign("y", intVal(7)), BorrowConflict)
	if err := e.EndBorrow(r); err != nil {
		t.Fatalf("EndBorrow: %v", err)
	}
	if err := e.Assign("y", intVal(7)); err != nil {
		t.Fatalf("Assign after release: %v", err)
	}
	expectKind(t, e.Assign("missing", intVal(1)), UnboundName)
}

func TestAssignClearsMoved(t *testing.T) {
	e := New()
	e.Bind("s", owned("a"), true)
	if _, err := e.MoveOut("s"); err != nil {
		t.Fatalf("MoveOut: %v", err)
	}
	if err := e.Assign("s", owned("b")); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	v, err := e.Read("s")
	if err != nil || runtime.Format(v) != "b" {
		t.Fatalf("Read after reassign = %v, %v", v, err)
	}
}

func TestBorrowMutConflictsWithSharedBorrow(t *testing.T) {
	e := New()
	e.Bind("s", owned("hello"), true)
	r, err := e.Borrow("s")
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	_, err = e.BorrowMut("s")
	expectKind(t, err, BorrowConflict)
	mustVerify(t, e)
	if err := e.EndBorrow(r); err != nil {
		t.Fatalf("EndBorrow: %v", err)
	}
	m, err := e.BorrowMut("s")
	if err != nil {
		t.Fatalf("BorrowMut after release: %v", err)
	}
	mustVerify(t, e)
	_, err = e.Borrow("s")
	expectKind(t, err, BorrowConflict)
	_, err = e.BorrowMut("s")
	expectKind(t, err, BorrowConflict)
	_, err = e.Read("s")
	expectKind(t, err, BorrowConflict)
	if err := e.EndBorrowMut(m); err != nil {
		t.Fatalf("EndBorrowMut: %v", err)
	}
	mustVerify(t, e)
}

func TestManySharedBorrows(t *testing.T) {
	e := New()
	id := e.Bind("s", owned("hello"), false)
	var refs []*Ref
	for i := 0; i < 3; i++ {
		r, err := e.Borrow("s")
		if err != nil {
			t.Fatalf("Borrow #%d: %v", i, err)
		}
		refs = append(refs, r)
	}
	slot, _ := e.Slot(id)
	if slot.Borrow != (BorrowState{Kind: BorrowShared, Count: 3}) {
		t.Fatalf("borrow state = %s", slot.Borrow)
	}
	for _, r := range refs {
		v, err := e.Load(r)
		if err != nil || runtime.Format(v) != "hello" {
			t.Fatalf("Load = %v, %v", v, err)
		}
		if err := e.EndBorrow(r); err != nil {
			t.Fatalf("EndBorrow: %v", err)
		}
		mustVerify(t, e)
	}
	slot, _ = e.Slot(id)
	if slot.Borrow.Kind != BorrowFree {
		t.Fatalf("expected free after releases, got %s", slot.Borrow)
	}
}

func TestBorrowMutRequiresMutableBinding(t *testing.T) {
	e := New()
	e.Bind("s", owned("x"), false)
	_, err := e.BorrowMut("s")
	expectKind(t, err, ImmutableBinding)
}

func TestCannotMoveBorrowed(t *testing.T) {
	e := New()
	e.Bind("s", owned("x"), false)
	r, _ := e.Borrow("s")
	_, err := e.MoveOut("s")
	expectKind(t, err, CannotMoveBorrowed)
	_ = e.EndBorrow(r)
	if _, err := e.MoveOut("s"); err != nil {
		t.Fatalf("MoveOut after release: %v", err)
	}
}

func TestDanglingReferenceAfterScopeExit(t *testing.T) {
	e := New()
	e.EnterScope()
	e.Bind("x", intVal(5), false)
	r, err := e.Borrow("x")
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	e.ExitScope()
	_, err = e.Load(r)
	expectKind(t, err, DanglingReference)
	expectKind(t, e.EndBorrow(r), DanglingReference)

	// Re-entering a scope at the same depth must not revive the reference.
	e.EnterScope()
	e.Bind("x", intVal(6), false)
	_, err = e.Load(r)
	expectKind(t, err, DanglingReference)
	mustVerify(t, e)
}

func TestScopeExitReleasesOuterBorrows(t *testing.T) {
	e := New()
	id := e.Bind("s", owned("hello"), true)
	e.EnterScope()
	r1, _ := e.Borrow("s")
	e.Bind("r1", r1.Value(), false)
	r2, _ := e.Borrow("s")
	e.Bind("r2", r2.Value(), false)
	_, err := e.BorrowMut("s")
	expectKind(t, err, BorrowConflict)
	drops := e.ExitScope()
	if len(drops) != 2 || drops[0].Name != "r2" || drops[1].Name != "r1" {
		t.Fatalf("unexpected drop order %#v", drops)
	}
	slot, _ := e.Slot(id)
	if slot.Borrow.Kind != BorrowFree {
		t.Fatalf("outer slot still borrowed: %s", slot.Borrow)
	}
	if _, err := e.BorrowMut("s"); err != nil {
		t.Fatalf("BorrowMut after scope exit: %v", err)
	}
	mustVerify(t, e)
}

func TestExitScopeReleasesTemporaryBorrows(t *testing.T) {
	e := New()
	e.Bind("s", owned("x"), true)
	e.EnterScope()
	m, err := e.BorrowMut("s")
	if err != nil {
		t.Fatalf("BorrowMut: %v", err)
	}
	drops := e.ExitScope()
	if len(drops) != 1 || drops[0].Borrow != m.BorrowID() {
		t.Fatalf("expected auto-released borrow, got %#v", drops)
	}
	if _, err := e.Borrow("s"); err != nil {
		t.Fatalf("Borrow after auto-release: %v", err)
	}
}

func TestDropOrderIsReverseBindingOrder(t *testing.T) {
	e := New()
	e.EnterScope()
	e.Bind("a", intVal(1), false)
	e.Bind("b", intVal(2), false)
	e.Bind("a", intVal(3), false)
	drops := e.ExitScope()
	var names []string
	for _, d := range drops {
		names = append(names, d.Name)
	}
	if got := strings.Join(names, ","); got != "a,b,a" {
		t.Fatalf("drop order = %s", got)
	}
	if !runtime.Equal(drops[0].Value, intVal(3)) {
		t.Fatalf("first drop should be the shadowing slot")
	}
}

func TestExitRootScopePanics(t *testing.T) {
	e := New()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic when exiting the root scope")
		}
	}()
	e.ExitScope()
}

func TestStoreThroughMutRef(t *testing.T) {
	e := New()
	e.Bind("s", owned("hello"), true)
	m, err := e.BorrowMut("s")
	if err != nil {
		t.Fatalf("BorrowMut: %v", err)
	}
	if err := e.Store(m, owned("hello, world")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := e.EndBorrowMut(m); err != nil {
		t.Fatalf("EndBorrowMut: %v", err)
	}
	expectKind(t, e.Store(m, owned("again")), DanglingReference)
	v, _ := e.Read("s")
	if runtime.Format(v) != "hello, world" {
		t.Fatalf("value after store = %s", runtime.Debug(v))
	}
}

func TestBorrowSlice(t *testing.T) {
	e := New()
	e.Bind("s", owned("hello world"), false)
	hello, err := e.BorrowSlice("s", 0, 5)
	if err != nil {
		t.Fatalf("BorrowSlice: %v", err)
	}
	world, err := e.BorrowSlice("s", 6, -1)
	if err != nil {
		t.Fatalf("BorrowSlice open end: %v", err)
	}
	for ref, want := range map[*Ref]string{hello: "hello", world: "world"} {
		v, err := e.Load(ref)
		if err != nil || runtime.Format(v) != want {
			t.Fatalf("Load slice = %v, %v; want %s", v, err, want)
		}
	}
	_, err = e.BorrowSlice("s", 3, 99)
	expectKind(t, err, SliceOutOfRange)

	e.Bind("a", &runtime.ArrayValue{Elements: []runtime.Value{intVal(1), intVal(2), intVal(3), intVal(4), intVal(5)}}, false)
	part, err := e.BorrowSlice("a", 1, 3)
	if err != nil {
		t.Fatalf("BorrowSlice array: %v", err)
	}
	v, _ := e.Load(part)
	if runtime.Format(v) != "[2, 3]" {
		t.Fatalf("array slice = %s", runtime.Format(v))
	}

	e.Bind("c", owned("中文"), false)
	_, err = e.BorrowSlice("c", 0, 1)
	expectKind(t, err, SliceOutOfRange)
	e.Bind("n", intVal(1), false)
	_, err = e.BorrowSlice("n", 0, 1)
	expectKind(t, err, SliceOutOfRange)
	mustVerify(t, e)
}

func TestBindPattern(t *testing.T) {
	e := New()
	tup := &runtime.TupleValue{Elements: []runtime.Value{intVal(500), runtime.FloatValue{Val: 6.4}, runtime.NewInteger(1, runtime.IntegerU8)}}
	ids, err := e.BindPattern([]string{"x", "y", "z"}, tup, false)
	if err != nil || len(ids) != 3 {
		t.Fatalf("BindPattern = %v, %v", ids, err)
	}
	v, _ := e.Read("y")
	if runtime.Format(v) != "6.4" {
		t.Fatalf("y = %s", runtime.Format(v))
	}

	arr := &runtime.ArrayValue{Elements: []runtime.Value{intVal(1), intVal(2), intVal(3), intVal(4), intVal(5)}}
	ids, err = e.BindPattern([]string{"first", "_", ".."}, arr, false)
	if err != nil || len(ids) != 1 {
		t.Fatalf("BindPattern with rest = %v, %v", ids, err)
	}
	if _, err := e.Read("_"); err == nil {
		t.Fatalf("wildcard must not bind")
	}

	_, err = e.BindPattern([]string{"a", "b"}, tup, false)
	expectKind(t, err, PatternMismatch)
	_, err = e.BindPattern([]string{"a", "..", "b"}, arr, false)
	expectKind(t, err, PatternMismatch)
	_, err = e.BindPattern([]string{"a"}, intVal(1), false)
	expectKind(t, err, PatternMismatch)
}

func TestBindingsShowVisibleNames(t *testing.T) {
	e := New()
	e.Bind("outer", intVal(1), false)
	e.Bind("x", intVal(1), false)
	e.EnterScope()
	e.Bind("x", intVal(2), true)
	got := e.Bindings()
	if len(got) != 2 {
		t.Fatalf("bindings = %#v", got)
	}
	if got[0].Name != "x" || got[0].Depth != 1 || !got[0].Slot.Mutable {
		t.Fatalf("innermost binding = %#v", got[0])
	}
	if got[1].Name != "outer" {
		t.Fatalf("outer binding = %#v", got[1])
	}
}

func TestTraceLogging(t *testing.T) {
	var buf bytes.Buffer
	e := New(WithLogger(zerolog.New(&buf).Level(zerolog.TraceLevel)))
	e.Bind("s", owned("x"), false)
	_, _ = e.MoveOut("s")
	_, _ = e.Read("s")
	out := buf.String()
	for _, want := range []string{`"op":"bind"`, `"op":"move_out"`, `"op":"read"`, "UseAfterMove"} {
		if !strings.Contains(out, want) {
			t.Fatalf("trace output missing %s:\n%s", want, out)
		}
	}
}

func TestCloneOfMutRefIsRejected(t *testing.T) {
	e := New()
	e.Bind("s", owned("hello"), true)
	m, err := e.BorrowMut("s")
	if err != nil {
		t.Fatalf("BorrowMut: %v", err)
	}
	e.Bind("m", m.Value(), false)

	_, err = e.Clone("m")
	expectKind(t, err, BorrowConflict)
	_, err = e.Read("m")
	expectKind(t, err, BorrowConflict)
	pair := &runtime.TupleValue{Elements: []runtime.Value{intVal(1), m.Value()}}
	e.Bind("pair", pair, false)
	_, err = e.Clone("pair")
	expectKind(t, err, BorrowConflict)
	if err := e.Verify(); err == nil {
		t.Fatalf("expected Verify to reject a mutable borrow held by two bindings")
	}

	v, err := e.Peek("m")
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if ref, ok := v.(runtime.RefValue); !ok || ref.Borrow.BorrowID() != m.BorrowID() {
		t.Fatalf("Peek = %s, want the binding's own reference", runtime.Debug(v))
	}
}

func TestCopiedSharedRefEndsIndependently(t *testing.T) {
	e := New()
	e.Bind("x", owned("hello"), true)
	r, err := e.Borrow("x")
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	e.Bind("r", r.Value(), false)

	e.EnterScope()
	v, err := e.Clone("r")
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	copied, ok := v.(runtime.RefValue)
	if !ok || copied.Borrow.BorrowID() == r.BorrowID() {
		t.Fatalf("Clone should take a fresh borrow, got %s", runtime.Debug(v))
	}
	e.Bind("r2", v, false)
	if got := e.slots[0].Borrow; got.Kind != BorrowShared || got.Count != 2 {
		t.Fatalf("x borrow state = %s, want shared(2)", got)
	}
	mustVerify(t, e)
	e.ExitScope()
	mustVerify(t, e)

	if got := e.slots[0].Borrow; got.Kind != BorrowShared || got.Count != 1 {
		t.Fatalf("x borrow state after exit = %s, want shared(1)", got)
	}
	if loaded, err := e.Load(r); err != nil || runtime.Format(loaded) != "hello" {
		t.Fatalf("Load(r) = %v, %v", loaded, err)
	}
	_, err = e.BorrowMut("x")
	expectKind(t, err, BorrowConflict)

	if err := e.EndBorrow(r); err != nil {
		t.Fatalf("EndBorrow: %v", err)
	}
	mustVerify(t, e)
	_, err = e.Read("r")
	expectKind(t, err, DanglingReference)
	if _, err := e.BorrowMut("x"); err != nil {
		t.Fatalf("BorrowMut after the last shared borrow ended: %v", err)
	}
}

func TestCopiedSliceKeepsItsWindow(t *testing.T) {
	e := New()
	e.Bind("s", owned("hello world"), false)
	word, err := e.BorrowSlice("s", 6, -1)
	if err != nil {
		t.Fatalf("BorrowSlice: %v", err)
	}
	e.Bind("word", &runtime.TupleValue{Elements: []runtime.Value{word.Value()}}, false)
	v, err := e.Read("word")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	tup := v.(*runtime.TupleValue)
	loaded, err := e.Load(tup.Elements[0].(runtime.RefValue).Borrow)
	if err != nil || runtime.Format(loaded) != "world" {
		t.Fatalf("Load copied slice = %v, %v", loaded, err)
	}
	mustVerify(t, e)
}

func TestVerifyRejectsBorrowReleasedByAlias(t *testing.T) {
	e := New()
	e.Bind("x", owned("hello"), false)
	r, err := e.Borrow("x")
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	e.Bind("r", r.Value(), false)
	e.EnterScope()
	// Binding the same handle twice bypasses Clone; dropping the alias
	// releases the outer binding's borrow.
	e.Bind("alias", r.Value(), false)
	e.ExitScope()
	err = e.Verify()
	if err == nil || !strings.Contains(err.Error(), "released by another owner") {
		t.Fatalf("Verify = %v", err)
	}
}
