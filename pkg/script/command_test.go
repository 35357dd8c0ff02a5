package script

import (
	"testing"

	"github.com/AnneHtowardshaway/rust-study/pkg/runtime"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		line string
		want Step
	}{
		{"let s = hello", Step{Op: OpBind, Name: "s"}},
		{"let mut v = [1, 2]", Step{Op: OpBind, Name: "v", Mutable: true}},
		{"bind n 5", Step{Op: OpBind, Name: "n"}},
		{"read s", Step{Op: OpRead, Name: "s"}},
		{"move s -> t", Step{Op: OpMove, Name: "s", Into: "t"}},
		{"move s", Step{Op: OpMove, Name: "s"}},
		{"clone s -> c", Step{Op: OpClone, Name: "s", Into: "c"}},
		{"borrow s -> r", Step{Op: OpBorrow, Name: "s", Into: "r"}},
		{"borrow_mut s", Step{Op: OpBorrowMut, Name: "s"}},
		{"borrow-mut s -> m", Step{Op: OpBorrowMut, Name: "s", Into: "m"}},
		{"slice s 0 5 -> hello", Step{Op: OpSlice, Name: "s", Range: []int{0, 5}, Into: "hello"}},
		{"slice s 6 _", Step{Op: OpSlice, Name: "s", Range: []int{6, -1}}},
		{"end r", Step{Op: OpEndBorrow, Ref: "r"}},
		{"deref r", Step{Op: OpDeref, Ref: "r"}},
		{"store m 7", Step{Op: OpStore, Ref: "m"}},
		{"assign x = 3", Step{Op: OpAssign, Name: "x"}},
		{"x = 3", Step{Op: OpAssign, Name: "x"}},
		{"destructure a b <- pair", Step{Op: OpDestructure, Names: []string{"a", "b"}, Name: "pair"}},
		{"destructure a _ = {tuple: [1, 2]}", Step{Op: OpDestructure, Names: []string{"a", "_"}}},
		{"{", Step{Op: OpEnter}},
		{"exit", Step{Op: OpExit}},
		{"say hello there", Step{Op: OpSay, Text: "hello there"}},
	}
	for _, tc := range cases {
		got, err := ParseCommand(tc.line)
		if err != nil {
			t.Fatalf("%q: %v", tc.line, err)
		}
		if got.Op != tc.want.Op || got.Name != tc.want.Name || got.Into != tc.want.Into ||
			got.Ref != tc.want.Ref || got.Mutable != tc.want.Mutable || got.Text != tc.want.Text {
			t.Fatalf("%q: got %+v, want %+v", tc.line, got, tc.want)
		}
		if len(got.Names) != len(tc.want.Names) || len(got.Range) != len(tc.want.Range) {
			t.Fatalf("%q: got names %v range %v", tc.line, got.Names, got.Range)
		}
		for i := range got.Range {
			if got.Range[i] != tc.want.Range[i] {
				t.Fatalf("%q: range %v, want %v", tc.line, got.Range, tc.want.Range)
			}
		}
		if len(got.problems()) != 0 {
			t.Fatalf("%q: parsed step is invalid: %v", tc.line, got.problems())
		}
	}
}

func TestParseCommandValues(t *testing.T) {
	step, err := ParseCommand(`let s = {str: "hi there"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := runtime.StringValue{Val: "hi there", Static: true}
	if !runtime.Equal(step.Value.Value, want) || !runtime.IsCopy(step.Value.Value) {
		t.Fatalf("got %s", runtime.Debug(step.Value.Value))
	}
	step, err = ParseCommand("store m [1, 2]")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if step.Value.Value.Kind() != runtime.KindArray {
		t.Fatalf("expected array, got %s", step.Value.Value.Kind())
	}
}

func TestParseCommandErrors(t *testing.T) {
	for _, line := range []string{
		"",
		"teleport s",
		"read",
		"move 9lives",
		"let = 5",
		"let x",
		"slice s",
		"slice s a b",
		"end",
		"say",
		"destructure a b",
	} {
		if _, err := ParseCommand(line); err == nil {
			t.Fatalf("%q: expected error", line)
		}
	}
}

func TestCommandsDriveRunner(t *testing.T) {
	r := NewRunner()
	lines := []string{
		"let mut s = hello",
		"borrow_mut s -> m",
		"store m world",
		"end m",
		"read s",
	}
	var last Outcome
	for _, line := range lines {
		step, err := ParseCommand(line)
		if err != nil {
			t.Fatalf("%q: %v", line, err)
		}
		outs := r.Exec(step)
		last = outs[len(outs)-1]
		if last.Err != nil {
			t.Fatalf("%q: %v", line, last.Err)
		}
	}
	if runtime.Format(last.Value) != "world" {
		t.Fatalf("expected world, got %s", runtime.Debug(last.Value))
	}
}
