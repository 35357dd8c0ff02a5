package script

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseCommand turns one REPL line into a step. Values are YAML flow text.
//
//	let [mut] NAME = VALUE      bind
//	NAME = VALUE                assign
//	read NAME                   move NAME [-> TARGET]      clone NAME [-> TARGET]
//	borrow NAME [-> REF]        borrow_mut NAME [-> REF]   slice NAME LO [HI] [-> REF]
//	end REF                     deref REF                  store REF VALUE
//	destructure A B .. <- NAME  destructure A B = VALUE
//	enter | {                   exit | }                   say TEXT
func ParseCommand(line string) (Step, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Step{}, fmt.Errorf("empty command")
	}
	switch line {
	case "{", "enter":
		return Step{Op: OpEnter}, nil
	case "}", "exit":
		return Step{Op: OpExit}, nil
	}

	head, rest := splitWord(line)
	switch head {
	case "let", OpBind:
		return parseLet(rest)
	case OpRead:
		return oneName(OpRead, rest)
	case OpMove, OpClone:
		name, into := splitArrow(rest)
		step, err := oneName(head, name)
		step.Into = into
		return step, err
	case OpBorrow, OpBorrowMut, "borrow-mut":
		if head == "borrow-mut" {
			head = OpBorrowMut
		}
		name, into := splitArrow(rest)
		step, err := oneName(head, name)
		step.Into = into
		return step, err
	case OpSlice:
		return parseSlice(rest)
	case "end", OpEndBorrow:
		return oneRef(OpEndBorrow, rest)
	case OpDeref:
		return oneRef(OpDeref, rest)
	case OpStore:
		ref, valueText := splitWord(rest)
		value, err := parseSpec(valueText)
		if err != nil {
			return Step{}, err
		}
		return Step{Op: OpStore, Ref: ref, Value: value}, nil
	case OpAssign:
		name, valueText := splitWord(rest)
		valueText = strings.TrimPrefix(strings.TrimSpace(valueText), "=")
		value, err := parseSpec(valueText)
		if err != nil {
			return Step{}, err
		}
		return Step{Op: OpAssign, Name: name, Value: value}, nil
	case OpDestructure:
		return parseDestructure(rest)
	case OpSay:
		if rest == "" {
			return Step{}, fmt.Errorf("say needs text")
		}
		return Step{Op: OpSay, Text: rest}, nil
	}

	if name, valueText, ok := strings.Cut(line, "="); ok && isIdent(strings.TrimSpace(name)) {
		value, err := parseSpec(valueText)
		if err != nil {
			return Step{}, err
		}
		return Step{Op: OpAssign, Name: strings.TrimSpace(name), Value: value}, nil
	}
	return Step{}, fmt.Errorf("unknown command %q", head)
}

func splitWord(s string) (string, string) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i], strings.TrimSpace(s[i+1:])
	}
	return s, ""
}

func splitArrow(s string) (string, string) {
	if before, after, ok := strings.Cut(s, "->"); ok {
		return strings.TrimSpace(before), strings.TrimSpace(after)
	}
	return strings.TrimSpace(s), ""
}

func oneName(op, rest string) (Step, error) {
	name := strings.TrimSpace(rest)
	if !isIdent(name) {
		return Step{Op: op}, fmt.Errorf("%s expects a variable name, got %q", op, name)
	}
	return Step{Op: op, Name: name}, nil
}

func oneRef(op, rest string) (Step, error) {
	ref := strings.TrimSpace(rest)
	if !isIdent(ref) {
		return Step{}, fmt.Errorf("%s expects a reference name, got %q", op, ref)
	}
	return Step{Op: op, Ref: ref}, nil
}

func parseLet(rest string) (Step, error) {
	mutable := false
	if word, tail := splitWord(rest); word == "mut" {
		mutable, rest = true, tail
	}
	name, valueText, ok := strings.Cut(rest, "=")
	if !ok {
		// bind NAME VALUE
		name, valueText = splitWord(rest)
	}
	name = strings.TrimSpace(name)
	if !isIdent(name) {
		return Step{}, fmt.Errorf("let expects a variable name, got %q", name)
	}
	value, err := parseSpec(valueText)
	if err != nil {
		return Step{}, err
	}
	return Step{Op: OpBind, Name: name, Value: value, Mutable: mutable}, nil
}

func parseSlice(rest string) (Step, error) {
	args, into := splitArrow(rest)
	fields := strings.Fields(args)
	if len(fields) < 2 || len(fields) > 3 {
		return Step{}, fmt.Errorf("slice expects NAME LO [HI]")
	}
	step := Step{Op: OpSlice, Name: fields[0], Into: into}
	for _, f := range fields[1:] {
		if f == "_" {
			step.Range = append(step.Range, -1)
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			return Step{}, fmt.Errorf("slice bound %q: %w", f, err)
		}
		step.Range = append(step.Range, n)
	}
	return step, nil
}

func parseDestructure(rest string) (Step, error) {
	if names, src, ok := strings.Cut(rest, "<-"); ok {
		return Step{Op: OpDestructure, Names: strings.Fields(names), Name: strings.TrimSpace(src)}, nil
	}
	names, valueText, ok := strings.Cut(rest, "=")
	if !ok {
		return Step{}, fmt.Errorf("destructure expects `NAMES <- SOURCE` or `NAMES = VALUE`")
	}
	value, err := parseSpec(valueText)
	if err != nil {
		return Step{}, err
	}
	return Step{Op: OpDestructure, Names: strings.Fields(names), Value: value}, nil
}

func parseSpec(text string) (*ValueSpec, error) {
	v, err := ParseValue(text)
	if err != nil {
		return nil, err
	}
	return Spec(v), nil
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
