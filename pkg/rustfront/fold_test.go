package rustfront

import (
	"testing"

	"github.com/AnneHtowardshaway/rust-study/pkg/runtime"
)

func owned(s string) runtime.Value { return runtime.StringValue{Val: s} }

func TestArith(t *testing.T) {
	i := func(n int64) runtime.Value { return runtime.NewInteger(n, "") }
	cases := []struct {
		op   string
		a, b runtime.Value
		want string
	}{
		{"+", i(2), i(3), "5"},
		{"-", i(2), i(3), "-1"},
		{"*", runtime.NewInteger(4, runtime.IntegerU8), i(3), "12"},
		{"/", i(7), i(2), "3"},
		{"%", i(7), i(2), "1"},
		{"<<", i(1), i(4), "16"},
		{"<", i(1), i(4), "true"},
		{"==", owned("a"), owned("a"), "true"},
		{"+", owned("foo"), runtime.StringValue{Val: "bar", Static: true}, `"foobar"`},
		{"&&", runtime.BoolValue{Val: true}, runtime.BoolValue{}, "false"},
		{"*", runtime.FloatValue{Val: 1.5}, runtime.FloatValue{Val: 2}, "3.0"},
		{">=", runtime.CharValue{Val: 'b'}, runtime.CharValue{Val: 'a'}, "true"},
	}
	for _, tc := range cases {
		got := arith(tc.op, tc.a, tc.b)
		if got == nil || runtime.Debug(got) != tc.want {
			t.Fatalf("%s %s %s: got %s, want %s", runtime.Debug(tc.a), tc.op, runtime.Debug(tc.b), runtime.Debug(got), tc.want)
		}
	}
	if got := arith("*", runtime.NewInteger(4, runtime.IntegerU8), i(3)); runtime.Describe(got) != "u8, copy" {
		t.Fatalf("expected the suffix to carry over, got %s", runtime.Describe(got))
	}
	for _, unknown := range []runtime.Value{
		arith("/", i(1), i(0)),
		arith("+", i(1), nil),
		arith("+", i(1), owned("x")),
	} {
		if unknown != nil {
			t.Fatalf("expected an unknown result, got %s", runtime.Debug(unknown))
		}
	}
}

func TestSliceOf(t *testing.T) {
	s := sliceOf(owned("hello world"), []int{6, -1})
	if runtime.Debug(s) != `"world"` || !runtime.IsCopy(s) {
		t.Fatalf("expected a &str slice, got %s (%s)", runtime.Debug(s), runtime.Describe(s))
	}
	arr := &runtime.ArrayValue{Elements: []runtime.Value{runtime.NewInteger(1, ""), runtime.NewInteger(2, ""), runtime.NewInteger(3, "")}, Heap: true}
	if got := sliceOf(arr, []int{1, 3}); runtime.Debug(got) != "[2, 3]" {
		t.Fatalf("got %s", runtime.Debug(got))
	}
	if sliceOf(owned("abc"), []int{2, 9}) != nil {
		t.Fatalf("expected an out of range slice to be unknown")
	}
	if got := sliceOf(owned("héllo"), []int{0, 2}); got != nil {
		t.Fatalf("expected a slice inside a char to be unknown, got %s", runtime.Debug(got))
	}
	if got := sliceOf(owned("héllo"), []int{1, 3}); runtime.Debug(got) != `"é"` {
		t.Fatalf("got %s", runtime.Debug(got))
	}
}

func TestMutateAndPure(t *testing.T) {
	next, _ := mutate("push_str", owned("hello"), []runtime.Value{runtime.StringValue{Val: ", world", Static: true}})
	if runtime.Debug(next) != `"hello, world"` {
		t.Fatalf("push_str: got %s", runtime.Debug(next))
	}
	next, popped := mutate("pop", owned("abc"), nil)
	if runtime.Debug(next) != `"ab"` || !runtime.Equal(popped, runtime.CharValue{Val: 'c'}) {
		t.Fatalf("pop: got %s and %s", runtime.Debug(next), runtime.Debug(popped))
	}
	vec := &runtime.ArrayValue{Elements: []runtime.Value{runtime.NewInteger(1, "")}, Heap: true}
	next, _ = mutate("push", vec, []runtime.Value{runtime.NewInteger(2, "")})
	if runtime.Debug(next) != "[1, 2]" || runtime.IsCopy(next) || len(vec.Elements) != 1 {
		t.Fatalf("push: got %s, original %s", runtime.Debug(next), runtime.Debug(vec))
	}
	if next, _ := mutate("frobnicate", vec, nil); next != nil {
		t.Fatalf("expected an unknown method to be unknown")
	}

	if got := pure("len", owned("héllo"), nil); !runtime.Equal(got, runtime.NewInteger(6, runtime.IntegerUsize)) {
		t.Fatalf("len counts bytes, got %s", runtime.Debug(got))
	}
	if got := pure("to_string", runtime.StringValue{Val: "x", Static: true}, nil); runtime.IsCopy(got) {
		t.Fatalf("to_string should produce an owned String")
	}
	if got := pure("contains", owned("teapot"), []runtime.Value{owned("pot")}); !runtime.Equal(got, runtime.BoolValue{Val: true}) {
		t.Fatalf("contains: got %s", runtime.Debug(got))
	}
}

func TestCastTo(t *testing.T) {
	if got := castTo(runtime.FloatValue{Val: 3.9}, "u8"); runtime.Debug(got) != "3" {
		t.Fatalf("got %s", runtime.Debug(got))
	}
	if got := castTo(runtime.NewInteger(300, ""), "u8"); got != nil {
		t.Fatalf("expected an out of range cast to be unknown, got %s", runtime.Debug(got))
	}
	if got := castTo(runtime.NewInteger(97, runtime.IntegerU8), "char"); !runtime.Equal(got, runtime.CharValue{Val: 'a'}) {
		t.Fatalf("got %s", runtime.Debug(got))
	}
}

func TestRenderFormat(t *testing.T) {
	named := map[string]runtime.Value{"name": owned("ferris")}
	capture := func(n string) runtime.Value { return named[n] }
	cases := []struct {
		tmpl string
		args []runtime.Value
		want string
	}{
		{"{} + {} = {}", []runtime.Value{runtime.NewInteger(1, ""), runtime.NewInteger(2, ""), runtime.NewInteger(3, "")}, "1 + 2 = 3"},
		{"{:?}", []runtime.Value{owned("q")}, `"q"`},
		{"{1} {0}", []runtime.Value{owned("a"), owned("b")}, "b a"},
		{"hi {name}!", nil, "hi ferris!"},
		{"{{literal}}", nil, "{literal}"},
		{"{:.2}", []runtime.Value{runtime.FloatValue{Val: 3.14159}}, "3.14"},
		{"{} {}", []runtime.Value{nil}, "? ?"},
	}
	for _, tc := range cases {
		if got := renderFormat(tc.tmpl, tc.args, capture); got != tc.want {
			t.Fatalf("%q: got %q, want %q", tc.tmpl, got, tc.want)
		}
	}
}

func TestCaptures(t *testing.T) {
	got := captures(`"{x} and {y:?} but not {{z}} or {0} or {}"`)
	if len(got) != 2 || got[0] != "x" || got[1] != "y" {
		t.Fatalf("got %v", got)
	}
}
