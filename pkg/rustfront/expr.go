package rustfront

import (
	"fmt"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/AnneHtowardshaway/rust-study/pkg/runtime"
	"github.com/AnneHtowardshaway/rust-study/pkg/script"
)

func numericHint(typ string) string {
	if _, ok := runtime.ParseIntegerType(typ); ok || typ == "f32" || typ == "f64" {
		return typ
	}
	return ""
}

// literal converts a literal node, or returns nil when n is not one.
func (l *lowerer) literal(n *sitter.Node, hint string) (runtime.Value, error) {
	switch n.Kind() {
	case "integer_literal", "float_literal":
		return parseNumber(l.text(n), numericHint(hint), false)
	case "string_literal", "raw_string_literal":
		s, err := unquote(l.text(n))
		if err != nil {
			return nil, fmt.Errorf("invalid string literal: %w", err)
		}
		return runtime.StringValue{Val: s, Static: true}, nil
	case "char_literal":
		return parseChar(l.text(n))
	case "boolean_literal":
		return runtime.BoolValue{Val: l.text(n) == "true"}, nil
	case "unit_expression":
		return runtime.UnitValue{}, nil
	case "negative_literal":
		return parseNumber(strings.TrimPrefix(l.text(n), "-"), numericHint(hint), true)
	case "unary_expression":
		if operand := firstNamed(n); operand != nil && n.Child(0).Kind() == "-" {
			switch operand.Kind() {
			case "integer_literal", "float_literal":
				return parseNumber(l.text(operand), numericHint(hint), true)
			}
		}
	}
	return nil, nil
}

// peek computes the value of a constant expression without emitting steps.
func (l *lowerer) peek(n *sitter.Node, hint string) (runtime.Value, error) {
	if n == nil {
		return nil, nil
	}
	if v, err := l.literal(n, hint); v != nil || err != nil {
		return v, err
	}
	switch n.Kind() {
	case "identifier":
		if c, ok := l.consts[n.Utf8Text(l.src)]; ok {
			return c, nil
		}
		return knownOf(l.lookup(l.text(n))), nil
	case "parenthesized_expression":
		return l.peek(firstNamed(n), hint)
	case "binary_expression":
		a, err := l.peek(n.ChildByFieldName("left"), hint)
		if err != nil || a == nil {
			return nil, err
		}
		b, err := l.peek(n.ChildByFieldName("right"), hint)
		if err != nil || b == nil {
			return nil, err
		}
		return arith(l.text(n.ChildByFieldName("operator")), a, b), nil
	case "tuple_expression", "array_expression":
		var elems []runtime.Value
		for _, c := range namedChildren(n) {
			v, err := l.peek(c, "")
			if err != nil || v == nil {
				return nil, err
			}
			elems = append(elems, v)
		}
		if n.Kind() == "tuple_expression" {
			return &runtime.TupleValue{Elements: elems}, nil
		}
		return &runtime.ArrayValue{Elements: elems}, nil
	}
	return nil, nil
}

// eval lowers an expression whose value is consumed: named places are moved
// out. It returns the value when it can be computed.
func (l *lowerer) eval(n *sitter.Node, hint string) (runtime.Value, error) {
	if n == nil {
		return nil, nil
	}
	v, err := l.literal(n, hint)
	if err != nil {
		return nil, wrapParseError(n, err)
	}
	if v != nil {
		return v, nil
	}
	switch n.Kind() {
	case "identifier":
		name := l.text(n)
		loc := l.lookup(name)
		if loc == nil {
			if c, ok := l.consts[name]; ok {
				return runtime.Clone(c), nil
			}
		}
		if l.rejected(loc) {
			return nil, nil
		}
		l.emit(script.Step{Op: script.OpMove, Name: name})
		return runtime.Clone(knownOf(loc)), nil
	case "parenthesized_expression":
		return l.eval(firstNamed(n), hint)
	case "unary_expression":
		return l.unary(n, hint)
	case "tuple_expression":
		return l.evalElements(n, typeElements(hint), true)
	case "array_expression":
		if length := n.ChildByFieldName("length"); length != nil {
			return l.repeatArray(n, length, hint)
		}
		return l.evalElements(n, typeElements(hint), false)
	case "binary_expression":
		return l.binary(n, hint)
	case "call_expression":
		return l.call(n, hint)
	case "macro_invocation":
		return l.macro(n)
	case "reference_expression":
		return l.refValue(n)
	case "index_expression", "field_expression":
		return l.use(n)
	case "block":
		return l.lowerScope(n)
	case "type_cast_expression":
		inner, err := l.use(n.ChildByFieldName("value"))
		if err != nil {
			return nil, err
		}
		return castTo(inner, normalizeType(l.text(n.ChildByFieldName("type")))), nil
	case "if_expression", "match_expression", "loop_expression", "while_expression", "for_expression", "closure_expression":
		l.skip(n, "%s is not simulated", kindLabel(n.Kind()))
		return nil, nil
	case "try_expression":
		_, err := l.eval(firstNamed(n), "")
		return nil, err
	}
	l.warn(n, "%s is not simulated", kindLabel(n.Kind()))
	return nil, nil
}

// use lowers an expression that is only read: named places are read, not
// moved. It returns the value when it can be computed.
func (l *lowerer) use(n *sitter.Node) (runtime.Value, error) {
	if n == nil {
		return nil, nil
	}
	switch n.Kind() {
	case "identifier":
		return l.readName(l.text(n)), nil
	case "parenthesized_expression":
		return l.use(firstNamed(n))
	case "field_expression":
		base, err := l.use(n.ChildByFieldName("value"))
		if err != nil {
			return nil, err
		}
		field := n.ChildByFieldName("field")
		if field != nil && field.Kind() == "integer_literal" {
			if i, ok := intOf(mustNumber(l.text(field))); ok {
				return elementAt(base, i), nil
			}
		}
		return nil, nil
	case "index_expression":
		items := namedChildren(n)
		if len(items) != 2 {
			return nil, nil
		}
		base, err := l.use(items[0])
		if err != nil {
			return nil, err
		}
		idx, err := l.use(items[1])
		if err != nil {
			return nil, err
		}
		if i, ok := intOf(idx); ok {
			return elementAt(base, i), nil
		}
		return nil, nil
	case "unary_expression":
		return l.unary(n, "")
	}
	return l.eval(n, "")
}

func mustNumber(text string) runtime.Value {
	v, _ := parseNumber(text, "", false)
	return v
}

func (l *lowerer) unary(n *sitter.Node, hint string) (runtime.Value, error) {
	operand := firstNamed(n)
	switch n.Child(0).Kind() {
	case "*":
		if ref := derefTarget(l, n); ref != "" {
			l.emit(script.Step{Op: script.OpDeref, Ref: ref})
			return runtime.Clone(knownOf(l.lookup(ref))), nil
		}
		return l.use(operand)
	case "-":
		v, err := l.use(operand)
		if err != nil {
			return nil, err
		}
		return arith("-", zeroLike(v), v), nil
	case "!":
		v, err := l.use(operand)
		if err != nil {
			return nil, err
		}
		if b, ok := v.(runtime.BoolValue); ok {
			return runtime.BoolValue{Val: !b.Val}, nil
		}
		return nil, nil
	}
	return l.use(operand)
}

func (l *lowerer) evalElements(n *sitter.Node, hints []string, tuple bool) (runtime.Value, error) {
	items := namedChildren(n)
	elems := make([]runtime.Value, 0, len(items))
	complete := true
	for i, c := range items {
		hint := ""
		switch {
		case tuple && i < len(hints):
			hint = hints[i]
		case !tuple && len(hints) == 1:
			hint = hints[0]
		}
		v, err := l.eval(c, hint)
		if err != nil {
			return nil, err
		}
		if v == nil {
			complete = false
			continue
		}
		elems = append(elems, v)
	}
	if !complete {
		return nil, nil
	}
	if tuple {
		return &runtime.TupleValue{Elements: elems}, nil
	}
	return &runtime.ArrayValue{Elements: elems}, nil
}

func (l *lowerer) repeatArray(n, length *sitter.Node, hint string) (runtime.Value, error) {
	elemHint := ""
	if parts := typeElements(hint); len(parts) == 1 {
		elemHint = parts[0]
	}
	v, err := l.eval(firstNamed(n), elemHint)
	if err != nil {
		return nil, err
	}
	count, err := l.peek(length, "usize")
	if err != nil {
		return nil, wrapParseError(length, err)
	}
	k, ok := intOf(count)
	if v == nil || !ok || k > 1<<16 {
		return nil, nil
	}
	elems := make([]runtime.Value, k)
	for i := range elems {
		elems[i] = runtime.Clone(v)
	}
	return &runtime.ArrayValue{Elements: elems}, nil
}

func (l *lowerer) binary(n *sitter.Node, hint string) (runtime.Value, error) {
	op := l.text(n.ChildByFieldName("operator"))
	left, right := n.ChildByFieldName("left"), n.ChildByFieldName("right")
	var (
		a   runtime.Value
		err error
	)
	// String + &str consumes the left operand.
	if s, ok := l.peekOwnedString(left); op == "+" && ok {
		a, err = l.eval(left, hint)
		if a == nil {
			a = s
		}
	} else {
		a, err = l.useHinted(left, hint)
	}
	if err != nil {
		return nil, err
	}
	b, err := l.useHinted(right, hint)
	if err != nil {
		return nil, err
	}
	v := arith(op, a, b)
	if iv, ok := v.(runtime.IntegerValue); ok {
		if err := runtime.CheckIntegerRange(iv); err != nil {
			l.warn(n, "arithmetic overflow: %v", err)
			return nil, nil
		}
	}
	return v, nil
}

func (l *lowerer) useHinted(n *sitter.Node, hint string) (runtime.Value, error) {
	if v, err := l.literal(n, hint); v != nil || err != nil {
		if err != nil {
			return nil, wrapParseError(n, err)
		}
		return v, nil
	}
	return l.use(n)
}

func (l *lowerer) peekOwnedString(n *sitter.Node) (runtime.StringValue, bool) {
	if n == nil || n.Kind() != "identifier" {
		return runtime.StringValue{}, false
	}
	s, ok := knownOf(l.lookup(l.text(n))).(runtime.StringValue)
	return s, ok && !s.Static
}

// refValue lowers `&x` used as a temporary: the borrow ends right away and the
// borrowed value is returned.
func (l *lowerer) refValue(n *sitter.Node) (runtime.Value, error) {
	inner := n.ChildByFieldName("value")
	exclusive := hasChildKind(n, "mutable_specifier")
	if inner == nil {
		return nil, nil
	}
	switch inner.Kind() {
	case "identifier":
		op := script.OpBorrow
		if exclusive {
			op = script.OpBorrowMut
		}
		l.emit(script.Step{Op: op, Name: l.text(inner)})
		return runtime.Clone(knownOf(l.lookup(l.text(inner)))), nil
	case "index_expression":
		if base, rng, ok := l.sliceRange(inner); ok && base.Kind() == "identifier" {
			l.emit(script.Step{Op: script.OpSlice, Name: l.text(base), Range: rng})
			return sliceOf(knownOf(l.lookup(l.text(base))), rng), nil
		}
	}
	return l.eval(inner, "")
}

// methodParts splits `recv.method(..)` into its receiver and method name.
func (l *lowerer) methodParts(call *sitter.Node) (*sitter.Node, string) {
	fn := call.ChildByFieldName("function")
	if fn != nil && fn.Kind() == "generic_function" {
		fn = fn.ChildByFieldName("function")
	}
	if fn == nil || fn.Kind() != "field_expression" {
		return nil, ""
	}
	return fn.ChildByFieldName("value"), l.text(fn.ChildByFieldName("field"))
}

func (l *lowerer) call(n *sitter.Node, hint string) (runtime.Value, error) {
	args := namedChildren(n.ChildByFieldName("arguments"))
	if recv, method := l.methodParts(n); recv != nil {
		return l.method(recv, method, args)
	}
	fn := n.ChildByFieldName("function")
	switch fn.Kind() {
	case "identifier":
		if target, ok := l.fns[l.text(fn)]; ok {
			return l.inline(n, target, args)
		}
	case "scoped_identifier":
		switch l.text(fn) {
		case "String::from":
			if len(args) == 1 {
				v, err := l.eval(args[0], "")
				if err != nil {
					return nil, err
				}
				if s, ok := v.(runtime.StringValue); ok {
					return runtime.StringValue{Val: s.Val}, nil
				}
				return runtime.StringValue{}, nil
			}
		case "String::new":
			return runtime.StringValue{}, nil
		case "Vec::new", "Vec::with_capacity":
			for _, arg := range args {
				if _, err := l.eval(arg, ""); err != nil {
					return nil, err
				}
			}
			return &runtime.ArrayValue{Heap: true}, nil
		case "Box::new":
			if len(args) == 1 {
				return l.eval(args[0], hint)
			}
		}
	}
	for _, arg := range args {
		if _, err := l.eval(arg, ""); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// inline expands a call to a local function: arguments are bound to the
// parameters in a fresh scope and the body is lowered inside it.
func (l *lowerer) inline(call *sitter.Node, fn *function, args []*sitter.Node) (runtime.Value, error) {
	if len(args) != len(fn.params) {
		return nil, wrapParseError(call, fmt.Errorf("function %s takes %d arguments but %d were supplied", fn.name, len(fn.params), len(args)))
	}
	result := func(v runtime.Value) runtime.Value {
		if v != nil {
			return v
		}
		if z, ok := runtime.ZeroForType(fn.ret); ok {
			return z
		}
		return nil
	}
	if l.inlining >= maxInline || fn.body == nil {
		l.warn(call, "call to %s is not expanded", fn.name)
		for _, arg := range args {
			if _, err := l.eval(arg, ""); err != nil {
				return nil, err
			}
		}
		return result(nil), nil
	}

	line := l.line
	var (
		binds    []script.Step
		locals   []*local
		reborrow []*local
	)
	for i, p := range fn.params {
		step, loc, restore, err := l.bindArgument(p, args[i])
		if err != nil {
			return nil, err
		}
		binds = append(binds, step)
		locals = append(locals, loc)
		if restore != nil {
			reborrow = append(reborrow, restore)
		}
	}

	l.emit(script.Step{Op: script.OpSay, Text: fmt.Sprintf("call %s", abbreviate(l.text(call)))})
	l.openScope(true, fn.body.EndByte())
	for i, step := range binds {
		l.emit(step)
		l.declare(locals[i])
	}
	l.inlining++
	ret, err := l.lowerBlock(fn.body)
	l.inlining--
	if err != nil {
		return nil, err
	}
	escaping := l.escapingRef(fn.body)
	l.line = line
	l.closeScope(line)
	if escaping != "" {
		l.emit(script.Step{Op: script.OpDeref, Ref: escaping})
	}
	for _, r := range reborrow {
		l.emit(script.Step{Op: script.OpBorrowMut, Name: r.target.name, Into: r.name, Mutable: r.mutable})
		l.declare(r)
	}
	return result(ret), nil
}

// escapingRef handles a body whose result borrows one of its own locals. The
// borrow is held past the end of the callee's scope, and the returned name
// refers to it.
func (l *lowerer) escapingRef(body *sitter.Node) string {
	items := namedChildren(body)
	if len(items) == 0 {
		return ""
	}
	tail := items[len(items)-1]
	if isReturn(tail) {
		tail = firstNamed(firstNamed(tail))
	} else if !isTailExpression(tail) {
		return ""
	}
	if tail == nil || tail.Kind() != "reference_expression" {
		return ""
	}
	inner := tail.ChildByFieldName("value")
	if inner == nil || inner.Kind() != "identifier" {
		return ""
	}
	loc := l.lookup(l.text(inner))
	if loc == nil || loc.target != nil {
		return ""
	}
	tmp := l.tempName()
	l.emit(script.Step{Op: script.OpBorrow, Name: loc.name, Ref: tmp})
	return tmp
}

// bindArgument prepares the step that binds one parameter. Passing on an
// exclusive reference ends the caller's borrow for the duration of the call;
// the returned local is re-borrowed afterwards.
func (l *lowerer) bindArgument(p param, arg *sitter.Node) (script.Step, *local, *local, error) {
	loc := &local{name: p.name, mutable: p.mutable}
	if p.ref {
		loc.exclusive = p.exclusive
		switch arg.Kind() {
		case "reference_expression":
			inner := arg.ChildByFieldName("value")
			if inner == nil {
				break
			}
			switch inner.Kind() {
			case "identifier":
				op := script.OpBorrow
				if hasChildKind(arg, "mutable_specifier") {
					op = script.OpBorrowMut
				}
				loc.target = l.lookup(l.text(inner))
				return script.Step{Op: op, Name: l.text(inner), Into: p.name, Mutable: p.mutable}, loc, nil, nil
			case "index_expression":
				if base, rng, ok := l.sliceRange(inner); ok && base.Kind() == "identifier" {
					loc.target, loc.rng = l.lookup(l.text(base)), rng
					loc.known = sliceOf(knownOf(loc.target), rng)
					return script.Step{Op: script.OpSlice, Name: l.text(base), Range: rng, Into: p.name, Mutable: p.mutable}, loc, nil, nil
				}
			}
		case "identifier":
			src := l.lookup(l.text(arg))
			if src != nil && src.target != nil {
				loc.target, loc.known, loc.rng = src.target, src.known, src.rng
				if !src.exclusive {
					return copyRef(src, p.name, p.mutable), loc, nil, nil
				}
				l.emit(script.Step{Op: script.OpEndBorrow, Ref: src.name})
				return script.Step{Op: script.OpBorrowMut, Name: src.target.name, Into: p.name, Mutable: p.mutable}, loc, src, nil
			}
		}
	}
	if arg.Kind() == "identifier" {
		if src := l.lookup(l.text(arg)); src != nil {
			loc.known, loc.target, loc.exclusive = src.known, src.target, src.exclusive
			return script.Step{Op: script.OpMove, Name: src.name, Into: p.name, Mutable: p.mutable}, loc, nil, nil
		}
	}
	v, err := l.eval(arg, p.typ)
	if err != nil {
		return script.Step{}, nil, nil, err
	}
	bound, err := l.settle(arg, v, p.typ)
	if err != nil {
		return script.Step{}, nil, nil, err
	}
	if v != nil {
		loc.known = bound
	}
	return script.Step{Op: script.OpBind, Name: p.name, Value: script.Spec(bound), Mutable: p.mutable}, loc, nil, nil
}

var mutatingMethods = map[string]bool{
	"push_str": true, "push": true, "clear": true, "insert": true, "pop": true,
	"truncate": true, "sort": true, "reverse": true, "remove": true, "extend": true,
	"append": true, "retain": true, "dedup": true, "drain": true, "insert_str": true,
	"make_ascii_uppercase": true, "make_ascii_lowercase": true,
}

// method lowers `recv.name(args)`. A method that needs `&mut self` borrows
// the receiver exclusively; any other method borrows it shared.
func (l *lowerer) method(recv *sitter.Node, name string, args []*sitter.Node) (runtime.Value, error) {
	argVals := make([]runtime.Value, len(args))
	for i, arg := range args {
		v, err := l.eval(arg, "")
		if err != nil {
			return nil, err
		}
		argVals[i] = v
	}

	if recv.Kind() != "identifier" {
		v, err := l.eval(recv, "")
		if err != nil {
			return nil, err
		}
		if mutatingMethods[name] {
			_, result := mutate(name, v, argVals)
			return result, nil
		}
		return pure(name, v, argVals), nil
	}

	recvName := l.text(recv)
	loc := l.lookup(recvName)
	if l.rejected(loc) {
		return nil, nil
	}
	if loc == nil {
		if c, ok := l.consts[recvName]; ok {
			return pure(name, c, argVals), nil
		}
		l.emit(script.Step{Op: script.OpRead, Name: recvName})
		return nil, nil
	}

	if !mutatingMethods[name] {
		if loc.target != nil {
			l.emit(script.Step{Op: script.OpRead, Name: recvName})
		} else if name == "clone" || name == "to_owned" {
			l.emit(script.Step{Op: script.OpClone, Name: recvName})
		} else {
			l.emit(script.Step{Op: script.OpBorrow, Name: recvName})
		}
		return pure(name, loc.value(), argVals), nil
	}

	next, result := mutate(name, loc.value(), argVals)
	if loc.target != nil {
		stored := next
		if stored == nil {
			stored = zeroLike(loc.value())
		}
		l.emit(script.Step{Op: script.OpStore, Ref: recvName, Value: script.Spec(stored)})
		if loc.exclusive {
			loc.target.known = next
		}
		return result, nil
	}
	if next == nil || !loc.mutable {
		l.emit(script.Step{Op: script.OpBorrowMut, Name: recvName})
		loc.known = next
		return result, nil
	}
	tmp := l.tempName()
	l.emit(script.Step{Op: script.OpBorrowMut, Name: recvName, Ref: tmp})
	l.emit(script.Step{Op: script.OpStore, Ref: tmp, Value: script.Spec(next)})
	l.emit(script.Step{Op: script.OpEndBorrow, Ref: tmp})
	loc.known = next
	return result, nil
}
