package rustfront

import (
	"strconv"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/AnneHtowardshaway/rust-study/pkg/runtime"
	"github.com/AnneHtowardshaway/rust-study/pkg/script"
)

// macroArgs splits a token tree into its comma separated arguments. sep is
// ";" for the `vec![x; n]` form.
func macroArgs(tree *sitter.Node) (groups [][]*sitter.Node, sep string) {
	if tree == nil || tree.ChildCount() < 2 {
		return nil, ""
	}
	var cur []*sitter.Node
	for i := uint(1); i+1 < tree.ChildCount(); i++ {
		c := tree.Child(i)
		if c == nil || isComment(c) {
			continue
		}
		switch c.Kind() {
		case ",", ";":
			if sep == "" || c.Kind() == ";" {
				sep = c.Kind()
			}
			groups = append(groups, cur)
			cur = nil
			continue
		}
		cur = append(cur, c)
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
	}
	return groups, sep
}

func tokenTree(n *sitter.Node) *sitter.Node {
	for i := uint(0); i < n.ChildCount(); i++ {
		if c := n.Child(i); c != nil && c.Kind() == "token_tree" {
			return c
		}
	}
	return nil
}

// macro lowers the standard macros that touch bindings. Formatting macros
// read their arguments and the printed text becomes a note in the script.
func (l *lowerer) macro(n *sitter.Node) (runtime.Value, error) {
	name := l.text(n.ChildByFieldName("macro"))
	if i := strings.LastIndex(name, "::"); i >= 0 {
		name = name[i+2:]
	}
	args, sep := macroArgs(tokenTree(n))
	switch name {
	case "println", "print", "eprintln", "eprint":
		out, err := l.format(args)
		if err != nil {
			return nil, err
		}
		l.emit(script.Step{Op: script.OpSay, Text: "prints: " + out})
		return runtime.UnitValue{}, nil
	case "format":
		out, err := l.format(args)
		if err != nil {
			return nil, err
		}
		return runtime.StringValue{Val: out}, nil
	case "write", "writeln":
		if len(args) > 0 {
			args = args[1:]
		}
		if _, err := l.format(args); err != nil {
			return nil, err
		}
		return nil, nil
	case "panic", "unreachable", "todo", "unimplemented":
		out, err := l.format(args)
		if err != nil {
			return nil, err
		}
		l.warn(n, "%s! would abort here; later statements are still simulated", name)
		l.emit(script.Step{Op: script.OpSay, Text: strings.TrimSpace(name + "! " + out)})
		return nil, nil
	case "assert", "assert_eq", "assert_ne", "debug_assert", "debug_assert_eq", "debug_assert_ne":
		vals := make([]runtime.Value, 0, len(args))
		for _, g := range args {
			v, err := l.macroArg(g, false)
			if err != nil {
				return nil, err
			}
			vals = append(vals, v)
		}
		if strings.HasSuffix(name, "_eq") && len(vals) >= 2 && vals[0] != nil && vals[1] != nil && !runtime.Equal(vals[0], vals[1]) {
			l.warn(n, "assertion would fail: %s != %s", runtime.Debug(vals[0]), runtime.Debug(vals[1]))
		}
		return runtime.UnitValue{}, nil
	case "vec":
		return l.vecMacro(n, args, sep)
	case "dbg":
		var last runtime.Value
		for _, g := range args {
			v, err := l.macroArg(g, true)
			if err != nil {
				return nil, err
			}
			last = v
		}
		return last, nil
	}
	l.warn(n, "macro %s! is not simulated", name)
	return nil, nil
}

func (l *lowerer) vecMacro(n *sitter.Node, args [][]*sitter.Node, sep string) (runtime.Value, error) {
	if sep == ";" && len(args) == 2 {
		v, err := l.macroArg(args[0], true)
		if err != nil {
			return nil, err
		}
		var count runtime.Value
		if len(args[1]) == 1 {
			count, _ = l.literal(args[1][0], "usize")
			if count == nil && args[1][0].Kind() == "identifier" {
				count = l.readName(l.text(args[1][0]))
			}
		}
		k, ok := intOf(count)
		if v == nil || !ok || k < 0 || k > 1<<16 {
			l.warn(n, "contents of `%s` are not computed", abbreviate(l.text(n)))
			return &runtime.ArrayValue{Heap: true}, nil
		}
		elems := make([]runtime.Value, k)
		for i := range elems {
			elems[i] = runtime.Clone(v)
		}
		return &runtime.ArrayValue{Elements: elems, Heap: true}, nil
	}
	elems := make([]runtime.Value, 0, len(args))
	complete := true
	for _, g := range args {
		v, err := l.macroArg(g, true)
		if err != nil {
			return nil, err
		}
		if v == nil {
			complete = false
		}
		elems = append(elems, v)
	}
	if !complete {
		l.warn(n, "contents of `%s` are not computed", abbreviate(l.text(n)))
		return &runtime.ArrayValue{Heap: true}, nil
	}
	return &runtime.ArrayValue{Elements: elems, Heap: true}, nil
}

// readName emits a read of a binding and returns its value if known.
func (l *lowerer) readName(name string) runtime.Value {
	loc := l.lookup(name)
	if loc == nil {
		if c, ok := l.consts[name]; ok {
			return c
		}
	}
	if l.rejected(loc) {
		return nil
	}
	l.emit(script.Step{Op: script.OpRead, Name: name})
	return knownOf(loc)
}

// macroArg lowers one macro argument from its raw tokens. Only simple shapes
// are understood; for anything else every binding mentioned is read.
func (l *lowerer) macroArg(toks []*sitter.Node, consume bool) (runtime.Value, error) {
	switch {
	case len(toks) == 1:
		if toks[0].Kind() == "identifier" {
			if consume {
				return l.eval(toks[0], "")
			}
			return l.readName(l.text(toks[0])), nil
		}
		v, err := l.literal(toks[0], "")
		if err != nil {
			return nil, wrapParseError(toks[0], err)
		}
		if v != nil {
			return v, nil
		}
	case len(toks) == 2 && toks[1].Kind() == "identifier":
		name := l.text(toks[1])
		switch toks[0].Kind() {
		case "&":
			return l.readName(name), nil
		case "*":
			if loc := l.lookup(name); loc != nil && loc.target != nil {
				l.emit(script.Step{Op: script.OpDeref, Ref: name})
				return knownOf(loc), nil
			}
			return l.readName(name), nil
		}
	case len(toks) == 2 && toks[0].Kind() == "-":
		switch toks[1].Kind() {
		case "integer_literal", "float_literal":
			v, err := parseNumber(l.text(toks[1]), "", true)
			if err != nil {
				return nil, wrapParseError(toks[1], err)
			}
			return v, nil
		}
	case len(toks) == 3 && toks[0].Kind() == "identifier" && toks[1].Kind() == "." && toks[2].Kind() == "integer_literal":
		base := l.readName(l.text(toks[0]))
		if i, ok := intOf(mustNumber(l.text(toks[2]))); ok {
			return elementAt(base, i), nil
		}
		return nil, nil
	case len(toks) == 4 && toks[0].Kind() == "identifier" && toks[1].Kind() == "." && toks[2].Kind() == "identifier" &&
		toks[3].Kind() == "token_tree" && toks[3].NamedChildCount() == 0:
		base := l.readName(l.text(toks[0]))
		return pure(l.text(toks[2]), base, nil), nil
	}
	for i, t := range toks {
		if t.Kind() != "identifier" {
			continue
		}
		if i > 0 && toks[i-1].Kind() == "." {
			continue
		}
		if i+1 < len(toks) && (toks[i+1].Kind() == "!" || toks[i+1].Kind() == "token_tree" || toks[i+1].Kind() == "::") {
			continue
		}
		if l.lookup(l.text(t)) != nil {
			l.readName(l.text(t))
		}
	}
	return nil, nil
}

// format lowers the arguments of a formatting macro and renders the output.
// Values that are not known print as `?`.
func (l *lowerer) format(args [][]*sitter.Node) (string, error) {
	if len(args) == 0 {
		return "", nil
	}
	first := args[0]
	if len(first) != 1 || (first[0].Kind() != "string_literal" && first[0].Kind() != "raw_string_literal") {
		for _, g := range args {
			if _, err := l.macroArg(g, false); err != nil {
				return "", err
			}
		}
		return "?", nil
	}
	tmpl, err := unquote(l.text(first[0]))
	if err != nil {
		return "", wrapParseError(first[0], err)
	}
	var positional []runtime.Value
	named := make(map[string]runtime.Value)
	for _, g := range args[1:] {
		if len(g) > 2 && g[0].Kind() == "identifier" && g[1].Kind() == "=" {
			v, err := l.macroArg(g[2:], false)
			if err != nil {
				return "", err
			}
			named[l.text(g[0])] = v
			continue
		}
		v, err := l.macroArg(g, false)
		if err != nil {
			return "", err
		}
		positional = append(positional, v)
	}
	return renderFormat(tmpl, positional, func(name string) runtime.Value {
		if v, ok := named[name]; ok {
			return v
		}
		return l.readName(name)
	}), nil
}

// renderFormat expands `{}`, `{:?}`, `{0}` and `{name}` placeholders. capture
// resolves names that are not positional.
func renderFormat(tmpl string, positional []runtime.Value, capture func(string) runtime.Value) string {
	var b strings.Builder
	next := 0
	for i := 0; i < len(tmpl); i++ {
		ch := tmpl[i]
		switch {
		case ch == '{' && i+1 < len(tmpl) && tmpl[i+1] == '{':
			b.WriteByte('{')
			i++
			continue
		case ch == '}' && i+1 < len(tmpl) && tmpl[i+1] == '}':
			b.WriteByte('}')
			i++
			continue
		case ch != '{':
			b.WriteByte(ch)
			continue
		}
		end := strings.IndexByte(tmpl[i:], '}')
		if end < 0 {
			b.WriteString(tmpl[i:])
			break
		}
		arg, spec, _ := strings.Cut(tmpl[i+1:i+end], ":")
		i += end

		var v runtime.Value
		switch {
		case arg == "":
			if next < len(positional) {
				v = positional[next]
			}
			next++
		case arg[0] >= '0' && arg[0] <= '9':
			if idx, err := strconv.Atoi(arg); err == nil && idx < len(positional) {
				v = positional[idx]
			}
		default:
			v = capture(arg)
		}
		b.WriteString(formatValue(v, spec))
	}
	return b.String()
}

func formatValue(v runtime.Value, spec string) string {
	if v == nil {
		return "?"
	}
	if _, prec, ok := strings.Cut(spec, "."); ok {
		if f, isFloat := v.(runtime.FloatValue); isFloat {
			if n, err := strconv.Atoi(strings.TrimRight(prec, "?")); err == nil {
				return strconv.FormatFloat(f.Val, 'f', n, 64)
			}
		}
	}
	if strings.Contains(spec, "?") {
		return runtime.Debug(v)
	}
	return runtime.Format(v)
}
