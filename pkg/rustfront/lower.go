package rustfront

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/AnneHtowardshaway/rust-study/pkg/evaluator"
	"github.com/AnneHtowardshaway/rust-study/pkg/runtime"
	"github.com/AnneHtowardshaway/rust-study/pkg/script"
)

// maxInline bounds how deep calls to local functions are expanded.
const maxInline = 8

// local is what the lowerer knows about a binding at this point of the
// program. known is nil when the value could not be computed statically.
type local struct {
	name      string
	mutable   bool
	deferred  bool
	target    *local
	exclusive bool
	known     runtime.Value
	rng       []int
	line      int
	// ended is set once the reference it holds has been released or moved
	// away; dropped once its scope has closed.
	ended   bool
	dropped bool
}

// value returns the value a binding denotes, looking through references.
func (l *local) value() runtime.Value {
	if l.known != nil || l.target == nil {
		return l.known
	}
	return l.target.known
}

type param struct {
	name      string
	mutable   bool
	typ       string
	ref       bool
	exclusive bool
}

type function struct {
	name    string
	params  []param
	ret     string
	body    *sitter.Node
	callees []string
}

type frame struct {
	locals  map[string]*local
	barrier bool
	end     uint
}

type lowerer struct {
	src      []byte
	fns      map[string]*function
	order    []*function
	consts   map[string]runtime.Value
	frames   []*frame
	out      [][]script.Step
	line     int
	warnings []Warning
	expects  map[int]evaluator.ErrorKind
	matched  map[int]bool
	inlining int
	temps    int
	uses     map[string][]uint
}

func newLowerer(src []byte) *lowerer {
	return &lowerer{
		src:     src,
		fns:     make(map[string]*function),
		consts:  make(map[string]runtime.Value),
		expects: make(map[int]evaluator.ErrorKind),
		matched: make(map[int]bool),
		uses:    make(map[string][]uint),
	}
}

func (l *lowerer) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Utf8Text(l.src)
}

func namedChildren(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	out := make([]*sitter.Node, 0, n.NamedChildCount())
	for i := uint(0); i < n.NamedChildCount(); i++ {
		c := n.NamedChild(i)
		if c == nil || isComment(c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func isComment(n *sitter.Node) bool {
	switch n.Kind() {
	case "line_comment", "block_comment":
		return true
	}
	return false
}

func hasChildKind(n *sitter.Node, kind string) bool {
	for i := uint(0); i < n.ChildCount(); i++ {
		if c := n.Child(i); c != nil && c.Kind() == kind {
			return true
		}
	}
	return false
}

func kindLabel(kind string) string {
	kind = strings.TrimSuffix(strings.TrimSuffix(kind, "_expression"), "_item")
	return strings.ReplaceAll(kind, "_", " ")
}

func (l *lowerer) warn(n *sitter.Node, format string, args ...any) {
	l.warnings = append(l.warnings, Warning{Location: locationForNode(n), Message: fmt.Sprintf(format, args...)})
}

// skip records a construct the evaluator cannot simulate, both as a warning
// and as a note in the lowered script.
func (l *lowerer) skip(n *sitter.Node, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.warn(n, "%s", msg)
	l.emit(script.Step{Op: script.OpSay, Text: "skipped: " + msg})
}

func (l *lowerer) setLine(n *sitter.Node) {
	l.line = int(n.StartPosition().Row) + 1
}

func (l *lowerer) emit(step script.Step) {
	if step.Line == 0 {
		step.Line = l.line
	}
	top := len(l.out) - 1
	l.out[top] = append(l.out[top], step)
}

func (l *lowerer) tempName() string {
	l.temps++
	return fmt.Sprintf("tmp#%d", l.temps)
}

// openScope starts a nested scope whose source text ends at byte end.
func (l *lowerer) openScope(barrier bool, end uint) {
	l.out = append(l.out, nil)
	l.frames = append(l.frames, &frame{locals: make(map[string]*local), barrier: barrier, end: end})
}

func (l *lowerer) closeScope(line int) {
	steps := l.out[len(l.out)-1]
	for _, loc := range l.frames[len(l.frames)-1].locals {
		loc.dropped = true
	}
	l.out = l.out[:len(l.out)-1]
	l.frames = l.frames[:len(l.frames)-1]
	l.emit(script.Step{Op: script.OpScope, Steps: steps, Line: line})
}

func (l *lowerer) lookup(name string) *local {
	for i := len(l.frames) - 1; i >= 0; i-- {
		if loc, ok := l.frames[i].locals[name]; ok {
			return loc
		}
		if l.frames[i].barrier {
			break
		}
	}
	return nil
}

func (l *lowerer) declare(loc *local) {
	if loc.line == 0 {
		loc.line = l.line
	}
	l.frames[len(l.frames)-1].locals[loc.name] = loc
}

// rejected reports whether loc was introduced by a statement that is
// expected to fail, so the binding never came into existence.
func (l *lowerer) rejected(loc *local) bool {
	if loc == nil {
		return false
	}
	_, ok := l.expects[loc.line]
	return ok
}

// collectUses indexes where each name is mentioned, including `{name}`
// captures inside format strings.
func (l *lowerer) collectUses(root *sitter.Node) {
	walkNodes(root, func(n *sitter.Node) {
		switch n.Kind() {
		case "identifier":
			name := l.text(n)
			l.uses[name] = append(l.uses[name], n.StartByte())
		case "string_literal":
			if p := n.Parent(); p == nil || p.Kind() != "token_tree" {
				return
			}
			for _, name := range captures(l.text(n)) {
				l.uses[name] = append(l.uses[name], n.StartByte())
			}
		}
	})
	for name := range l.uses {
		slices.Sort(l.uses[name])
	}
}

// captures lists the names used as `{name}` placeholders in a format string.
func captures(s string) []string {
	var names []string
	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}
		if i+1 < len(s) && s[i+1] == '{' {
			i++
			continue
		}
		j := i + 1
		for j < len(s) && (s[j] == '_' || s[j] >= 'a' && s[j] <= 'z' || s[j] >= 'A' && s[j] <= 'Z' || j > i+1 && s[j] >= '0' && s[j] <= '9') {
			j++
		}
		if j > i+1 && j < len(s) && (s[j] == '}' || s[j] == ':') {
			names = append(names, s[i+1:j])
		}
		i = j - 1
	}
	return names
}

func (l *lowerer) usedBetween(name string, from, to uint) bool {
	for _, at := range l.uses[name] {
		if at >= from && at < to {
			return true
		}
	}
	return false
}

// endBorrows releases references that are not mentioned again before their
// scope ends, so a borrow lasts until its last use rather than to the end of
// the block.
func (l *lowerer) endBorrows(after uint) {
	for i := len(l.frames) - 1; i >= 0; i-- {
		f := l.frames[i]
		names := make([]string, 0, len(f.locals))
		for name := range f.locals {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			loc := f.locals[name]
			if loc.target == nil || loc.ended || loc.deferred || loc.target.dropped {
				continue
			}
			if _, failing := l.expects[loc.line]; failing {
				continue
			}
			if l.usedBetween(name, after, f.end) {
				continue
			}
			l.emit(script.Step{Op: script.OpEndBorrow, Ref: name})
			loc.ended = true
		}
		if f.barrier {
			break
		}
	}
}

// lowerFile declares every item, then lowers each parameterless function
// that nothing else calls into its own section. Called functions are
// expanded at their call sites.
func (l *lowerer) lowerFile(root *sitter.Node) ([]script.Section, error) {
	for _, node := range namedChildren(root) {
		switch node.Kind() {
		case "function_item":
			l.declareFunction(node)
		case "const_item", "static_item":
			if err := l.declareConst(node); err != nil {
				return nil, err
			}
		case "attribute_item", "inner_attribute_item", "use_declaration":
		default:
			l.warn(node, "top-level %s is ignored", kindLabel(node.Kind()))
		}
	}
	l.collectAnnotations(root)
	l.collectUses(root)

	var sections []script.Section
	called := l.called()
	for _, fn := range l.order {
		if len(fn.params) > 0 || fn.body == nil || called[fn.name] {
			continue
		}
		sec, err := l.lowerSection(fn)
		if err != nil {
			return nil, err
		}
		sections = append(sections, sec)
	}
	if len(sections) == 0 {
		return nil, &ParseError{Message: "no function without parameters to run", Location: locationForNode(root)}
	}
	for i := range sections {
		l.applyExpectations(sections[i].Steps)
	}
	var unmatched []int
	for line := range l.expects {
		if !l.matched[line] {
			unmatched = append(unmatched, line)
		}
	}
	sort.Ints(unmatched)
	for _, line := range unmatched {
		l.warnings = append(l.warnings, Warning{Location: SourceLocation{Line: line, Column: 1}, Message: "error annotation matches no statement"})
	}
	return sections, nil
}

// called collects the functions that some other function calls.
func (l *lowerer) called() map[string]bool {
	out := make(map[string]bool)
	for _, fn := range l.order {
		for _, name := range fn.callees {
			if name != fn.name {
				out[name] = true
			}
		}
	}
	return out
}

func (l *lowerer) declareFunction(node *sitter.Node) {
	fn := &function{
		name: l.text(node.ChildByFieldName("name")),
		ret:  normalizeType(l.text(node.ChildByFieldName("return_type"))),
		body: node.ChildByFieldName("body"),
	}
	for _, p := range namedChildren(node.ChildByFieldName("parameters")) {
		if p.Kind() != "parameter" {
			l.warn(p, "function %s: %s parameters are not supported", fn.name, kindLabel(p.Kind()))
			return
		}
		prm := param{}
		pattern := p.ChildByFieldName("pattern")
		switch {
		case pattern == nil:
		case pattern.Kind() == "identifier":
			prm.name = l.text(pattern)
		case pattern.Kind() == "mut_pattern":
			prm.mutable = true
			for _, c := range namedChildren(pattern) {
				if c.Kind() == "identifier" {
					prm.name = l.text(c)
				}
			}
		}
		if prm.name == "" {
			l.warn(p, "function %s: only simple parameter names are supported", fn.name)
			return
		}
		typeNode := p.ChildByFieldName("type")
		prm.typ = normalizeType(l.text(typeNode))
		if typeNode != nil && typeNode.Kind() == "reference_type" {
			prm.ref = true
			prm.exclusive = hasChildKind(typeNode, "mutable_specifier")
		}
		fn.params = append(fn.params, prm)
	}
	walkNodes(fn.body, func(n *sitter.Node) {
		if n.Kind() != "call_expression" {
			return
		}
		if f := n.ChildByFieldName("function"); f != nil && f.Kind() == "identifier" {
			fn.callees = append(fn.callees, l.text(f))
		}
	})
	if _, dup := l.fns[fn.name]; !dup {
		l.order = append(l.order, fn)
	}
	l.fns[fn.name] = fn
}

func (l *lowerer) declareConst(node *sitter.Node) error {
	name := l.text(node.ChildByFieldName("name"))
	typ := normalizeType(l.text(node.ChildByFieldName("type")))
	v, err := l.peek(node.ChildByFieldName("value"), typ)
	if err != nil {
		return wrapParseError(node, err)
	}
	if v == nil {
		l.warn(node, "value of constant %s is not computed", name)
		return nil
	}
	l.consts[name] = settleType(v, typ)
	return nil
}

func (l *lowerer) lowerSection(fn *function) (script.Section, error) {
	l.frames = []*frame{{locals: make(map[string]*local), barrier: true, end: fn.body.EndByte()}}
	l.out = [][]script.Step{nil}
	if _, err := l.lowerBlock(fn.body); err != nil {
		return script.Section{}, err
	}
	return script.Section{Title: fn.name, Steps: l.out[0]}, nil
}

// lowerBlock lowers the statements of a block into the current scope and
// returns the value of its tail expression, if known.
func (l *lowerer) lowerBlock(block *sitter.Node) (runtime.Value, error) {
	items := namedChildren(block)
	var result runtime.Value
	for i, node := range items {
		l.setLine(node)
		last := i == len(items)-1
		switch {
		case last && isTailExpression(node):
			v, err := l.eval(node, "")
			if err != nil {
				return nil, err
			}
			result = v
		case last && isReturn(node):
			if value := firstNamed(firstNamed(node)); value != nil {
				v, err := l.eval(value, "")
				if err != nil {
					return nil, err
				}
				result = v
			}
		default:
			if err := l.lowerStatement(node); err != nil {
				return nil, err
			}
			l.endBorrows(node.EndByte())
		}
	}
	return result, nil
}

func isReturn(n *sitter.Node) bool {
	if n.Kind() != "expression_statement" {
		return false
	}
	inner := firstNamed(n)
	return inner != nil && inner.Kind() == "return_expression"
}

func firstNamed(n *sitter.Node) *sitter.Node {
	if items := namedChildren(n); len(items) > 0 {
		return items[0]
	}
	return nil
}

func isTailExpression(n *sitter.Node) bool {
	switch n.Kind() {
	case "let_declaration", "expression_statement", "empty_statement", "const_item", "static_item",
		"function_item", "struct_item", "enum_item", "impl_item", "use_declaration", "trait_item",
		"type_item", "mod_item", "macro_definition", "attribute_item":
		return false
	}
	return true
}

func (l *lowerer) lowerStatement(node *sitter.Node) error {
	switch node.Kind() {
	case "let_declaration":
		return l.lowerLet(node)
	case "expression_statement":
		if child := firstNamed(node); child != nil {
			return l.exprStatement(child)
		}
	case "const_item", "static_item":
		return l.lowerLocalConst(node)
	case "function_item":
		l.declareFunction(node)
	case "empty_statement", "attribute_item":
	case "struct_item", "enum_item", "impl_item", "use_declaration", "trait_item", "type_item", "mod_item", "macro_definition":
		l.skip(node, "%s declarations are not simulated", kindLabel(node.Kind()))
	default:
		return l.exprStatement(node)
	}
	return nil
}

func (l *lowerer) exprStatement(node *sitter.Node) error {
	switch node.Kind() {
	case "assignment_expression":
		return l.lowerAssign(node)
	case "compound_assignment_expr":
		return l.lowerCompoundAssign(node)
	case "block":
		_, err := l.lowerScope(node)
		return err
	case "if_expression", "match_expression", "for_expression", "while_expression", "loop_expression",
		"return_expression", "closure_expression", "break_expression", "continue_expression":
		l.skip(node, "%s is not simulated", kindLabel(node.Kind()))
		return nil
	}
	_, err := l.eval(node, "")
	return err
}

func (l *lowerer) lowerScope(block *sitter.Node) (runtime.Value, error) {
	line := l.line
	l.openScope(false, block.EndByte())
	v, err := l.lowerBlock(block)
	if err != nil {
		return nil, err
	}
	l.line = line
	l.closeScope(line)
	return v, nil
}

func (l *lowerer) lowerLocalConst(node *sitter.Node) error {
	name := l.text(node.ChildByFieldName("name"))
	typ := normalizeType(l.text(node.ChildByFieldName("type")))
	v, err := l.peek(node.ChildByFieldName("value"), typ)
	if err != nil {
		return wrapParseError(node, err)
	}
	if v == nil {
		l.skip(node, "value of constant %s is not computed", name)
		return nil
	}
	v = settleType(v, typ)
	l.emit(script.Step{Op: script.OpBind, Name: name, Value: script.Spec(v)})
	l.declare(&local{name: name, known: v})
	return nil
}

func (l *lowerer) lowerLet(node *sitter.Node) error {
	pattern := node.ChildByFieldName("pattern")
	value := node.ChildByFieldName("value")
	typ := normalizeType(l.text(node.ChildByFieldName("type")))
	mutable := hasChildKind(node, "mutable_specifier")
	if pattern == nil {
		return wrapParseError(node, fmt.Errorf("let without a pattern"))
	}
	if node.ChildByFieldName("alternative") != nil {
		l.skip(node, "let-else is not simulated")
		return nil
	}
	switch pattern.Kind() {
	case "identifier":
		return l.letName(node, l.text(pattern), mutable, typ, value)
	case "mut_pattern":
		for _, c := range namedChildren(pattern) {
			if c.Kind() == "identifier" {
				return l.letName(node, l.text(c), true, typ, value)
			}
		}
	case "tuple_pattern", "slice_pattern":
		return l.letPattern(pattern, mutable, value)
	case "_":
		if value != nil {
			_, err := l.use(value)
			return err
		}
		return nil
	}
	l.skip(node, "%s patterns are not simulated", kindLabel(pattern.Kind()))
	return nil
}

func (l *lowerer) letName(node *sitter.Node, name string, mutable bool, typ string, value *sitter.Node) error {
	loc := &local{name: name, mutable: mutable}
	if value == nil {
		// `let r;` is bound now and initialised by its first assignment.
		placeholder := runtime.Value(runtime.UnitValue{})
		if z, ok := runtime.ZeroForType(typ); ok && typ != "" {
			placeholder = z
		}
		l.emit(script.Step{Op: script.OpBind, Name: name, Value: script.Spec(placeholder), Mutable: true})
		loc.mutable, loc.deferred = true, true
		l.declare(loc)
		return nil
	}

	switch value.Kind() {
	case "identifier":
		src := l.lookup(l.text(value))
		if src != nil && src.target != nil && !src.exclusive {
			l.emit(copyRef(src, name, mutable))
			loc.known, loc.target, loc.rng = src.known, src.target, src.rng
			l.declare(loc)
			return nil
		}
		if src != nil {
			l.emit(script.Step{Op: script.OpMove, Name: src.name, Into: name, Mutable: mutable})
			loc.known, loc.target, loc.exclusive = src.known, src.target, src.exclusive
			src.ended = true
			l.declare(loc)
			return nil
		}
	case "reference_expression":
		done, err := l.letBorrow(loc, value)
		if done || err != nil {
			return err
		}
	case "call_expression":
		if recv, method := l.methodParts(value); recv != nil && recv.Kind() == "identifier" && (method == "clone" || method == "to_owned") {
			if src := l.lookup(l.text(recv)); src != nil && src.target == nil {
				l.emit(script.Step{Op: script.OpClone, Name: src.name, Into: name, Mutable: mutable})
				loc.known = runtime.Clone(src.known)
				l.declare(loc)
				return nil
			}
		}
	}

	v, err := l.eval(value, typ)
	if err != nil {
		return err
	}
	bound, err := l.settle(value, v, typ)
	if err != nil {
		return err
	}
	l.emit(script.Step{Op: script.OpBind, Name: name, Value: script.Spec(bound), Mutable: mutable})
	if v != nil {
		loc.known = bound
	}
	l.declare(loc)
	return nil
}

// settle applies a declared type to a computed value, or picks a placeholder
// of that type when the value is unknown.
func (l *lowerer) settle(node *sitter.Node, v runtime.Value, typ string) (runtime.Value, error) {
	if v == nil {
		l.warn(node, "value of `%s` is not computed; using a placeholder", abbreviate(l.text(node)))
		if z, ok := runtime.ZeroForType(typ); ok {
			return z, nil
		}
		return runtime.UnitValue{}, nil
	}
	v = settleType(v, typ)
	if iv, ok := v.(runtime.IntegerValue); ok {
		if err := runtime.CheckIntegerRange(iv); err != nil {
			return nil, wrapParseError(node, err)
		}
	}
	return v, nil
}

func settleType(v runtime.Value, typ string) runtime.Value {
	switch val := v.(type) {
	case runtime.IntegerValue:
		if it, ok := runtime.ParseIntegerType(typ); ok && val.TypeSuffix == "" {
			val.TypeSuffix = it
			return val
		}
	case runtime.FloatValue:
		if typ == "f32" {
			val.TypeSuffix = runtime.FloatF32
			return val
		}
	case *runtime.TupleValue:
		if parts := typeElements(typ); len(parts) == len(val.Elements) {
			elems := make([]runtime.Value, len(val.Elements))
			for i, el := range val.Elements {
				elems[i] = settleType(el, parts[i])
			}
			return &runtime.TupleValue{Elements: elems}
		}
	case *runtime.ArrayValue:
		if parts := typeElements(typ); len(parts) == 1 {
			elems := make([]runtime.Value, len(val.Elements))
			for i, el := range val.Elements {
				elems[i] = settleType(el, parts[0])
			}
			return &runtime.ArrayValue{Elements: elems, Heap: val.Heap}
		}
	}
	return v
}

// typeElements splits `(A, B)` into its members and `[T; N]` or `Vec<T>` into
// the element type.
func typeElements(typ string) []string {
	typ = strings.TrimSpace(typ)
	switch {
	case strings.HasPrefix(typ, "(") && strings.HasSuffix(typ, ")"):
		return splitTopLevel(typ[1:len(typ)-1], ',')
	case strings.HasPrefix(typ, "[") && strings.HasSuffix(typ, "]"):
		parts := splitTopLevel(typ[1:len(typ)-1], ';')
		return parts[:1]
	case strings.HasPrefix(typ, "Vec<") && strings.HasSuffix(typ, ">"):
		return []string{strings.TrimSpace(typ[4 : len(typ)-1])}
	}
	return nil
}

func splitTopLevel(s string, sep rune) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(', '[', '<':
			depth++
		case ')', ']', '>':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" || len(parts) == 0 {
		parts = append(parts, rest)
	}
	return parts
}

// normalizeType drops lifetimes so `&'a str` reads as `&str`.
func normalizeType(typ string) string {
	typ = strings.TrimSpace(typ)
	for {
		i := strings.Index(typ, "'")
		if i < 0 {
			return typ
		}
		end := i + 1
		for end < len(typ) && (typ[end] == '_' || typ[end] >= 'a' && typ[end] <= 'z' || typ[end] >= 'A' && typ[end] <= 'Z' || typ[end] >= '0' && typ[end] <= '9') {
			end++
		}
		for end < len(typ) && typ[end] == ' ' {
			end++
		}
		typ = typ[:i] + typ[end:]
	}
}

func abbreviate(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 40 {
		return s[:37] + "..."
	}
	return s
}

func (l *lowerer) letBorrow(loc *local, ref *sitter.Node) (bool, error) {
	inner := ref.ChildByFieldName("value")
	exclusive := hasChildKind(ref, "mutable_specifier")
	if inner == nil {
		return false, nil
	}
	switch inner.Kind() {
	case "identifier":
		op := script.OpBorrow
		if exclusive {
			op = script.OpBorrowMut
		}
		src := l.text(inner)
		l.emit(script.Step{Op: op, Name: src, Into: loc.name, Mutable: loc.mutable})
		loc.target, loc.exclusive = l.lookup(src), exclusive
		l.declare(loc)
		return true, nil
	case "index_expression":
		base, rng, ok := l.sliceRange(inner)
		if !ok || base.Kind() != "identifier" {
			return false, nil
		}
		src := l.lookup(l.text(base))
		l.emit(script.Step{Op: script.OpSlice, Name: l.text(base), Range: rng, Into: loc.name, Mutable: loc.mutable})
		loc.target, loc.rng = src, rng
		if src != nil {
			loc.known = sliceOf(src.value(), rng)
		}
		l.declare(loc)
		return true, nil
	}
	return false, nil
}

// sliceRange reads `base[lo..hi]`. Bounds that are not constants fall back to
// the open end with a warning.
func (l *lowerer) sliceRange(idx *sitter.Node) (*sitter.Node, []int, bool) {
	items := namedChildren(idx)
	if len(items) != 2 || items[1].Kind() != "range_expression" {
		return nil, nil, false
	}
	lo, hi := 0, -1
	seenOp, inclusive := false, false
	rng := items[1]
	for i := uint(0); i < rng.ChildCount(); i++ {
		c := rng.Child(i)
		if c == nil || isComment(c) {
			continue
		}
		if !c.IsNamed() {
			switch c.Kind() {
			case "..", "..=", "...":
				seenOp, inclusive = true, c.Kind() != ".."
			}
			continue
		}
		v, _ := l.peek(c, "usize")
		n, ok := intOf(v)
		if !ok {
			l.warn(c, "slice bound `%s` is not a constant", l.text(c))
			continue
		}
		if !seenOp {
			lo = n
		} else {
			hi = n
			if inclusive {
				hi++
			}
		}
	}
	return items[0], []int{lo, hi}, true
}

func (l *lowerer) letPattern(pattern *sitter.Node, mutable bool, value *sitter.Node) error {
	var names []string
	for i := uint(0); i < pattern.ChildCount(); i++ {
		c := pattern.Child(i)
		if c == nil || isComment(c) {
			continue
		}
		switch c.Kind() {
		case "(", ")", "[", "]", ",":
		case "identifier":
			names = append(names, l.text(c))
		case "_":
			names = append(names, evaluator.PatternWildcard)
		case "remaining_field_pattern":
			names = append(names, evaluator.PatternRest)
		case "mut_pattern":
			mutable = true
			for _, id := range namedChildren(c) {
				if id.Kind() == "identifier" {
					names = append(names, l.text(id))
				}
			}
		default:
			l.skip(pattern, "nested %s patterns are not simulated", kindLabel(c.Kind()))
			return nil
		}
	}

	step := script.Step{Op: script.OpDestructure, Names: names, Mutable: mutable}
	var known runtime.Value
	if value.Kind() == "identifier" && l.lookup(l.text(value)) != nil {
		src := l.lookup(l.text(value))
		step.Name = src.name
		known = src.value()
	} else {
		v, err := l.eval(value, "")
		if err != nil {
			return err
		}
		known = v
		if v == nil {
			l.warn(value, "value of `%s` is not computed; using a placeholder", abbreviate(l.text(value)))
			v = placeholderTuple(names)
		}
		step.Value = script.Spec(v)
	}
	l.emit(step)

	elems := elementsOf(known)
	for i, name := range names {
		if name == evaluator.PatternWildcard || name == evaluator.PatternRest {
			continue
		}
		loc := &local{name: name, mutable: mutable}
		if i < len(elems) {
			loc.known = elems[i]
		}
		l.declare(loc)
	}
	return nil
}

func placeholderTuple(names []string) runtime.Value {
	var elems []runtime.Value
	for _, n := range names {
		if n != evaluator.PatternRest {
			elems = append(elems, runtime.UnitValue{})
		}
	}
	return &runtime.TupleValue{Elements: elems}
}

func (l *lowerer) lowerAssign(node *sitter.Node) error {
	left, right := node.ChildByFieldName("left"), node.ChildByFieldName("right")
	switch left.Kind() {
	case "identifier":
		name := l.text(left)
		loc := l.lookup(name)
		if loc != nil && loc.deferred && right.Kind() == "reference_expression" {
			inner := right.ChildByFieldName("value")
			if inner != nil && inner.Kind() == "identifier" {
				exclusive := hasChildKind(right, "mutable_specifier")
				op := script.OpBorrow
				if exclusive {
					op = script.OpBorrowMut
				}
				tmp := l.tempName()
				l.emit(script.Step{Op: op, Name: l.text(inner), Ref: tmp})
				l.emit(script.Step{Op: script.OpAssign, Name: name, Ref: tmp})
				loc.target, loc.exclusive, loc.known, loc.deferred, loc.ended = l.lookup(l.text(inner)), exclusive, nil, false, false
				loc.line = l.line
				return nil
			}
		}
		v, err := l.eval(right, hintFor(loc))
		if err != nil {
			return err
		}
		assigned := v
		if assigned == nil {
			l.warn(right, "value of `%s` is not computed; using a placeholder", abbreviate(l.text(right)))
			assigned = zeroLike(knownOf(loc))
		}
		l.emit(script.Step{Op: script.OpAssign, Name: name, Value: script.Spec(assigned)})
		if loc != nil {
			loc.known, loc.target, loc.deferred = v, nil, false
		}
		return nil
	case "unary_expression":
		ref := derefTarget(l, left)
		if ref == "" {
			break
		}
		loc := l.lookup(ref)
		var target *local
		if loc != nil {
			target = loc.target
		}
		v, err := l.eval(right, hintFor(target))
		if err != nil {
			return err
		}
		stored := v
		if stored == nil {
			stored = zeroLike(knownOf(target))
		}
		l.emit(script.Step{Op: script.OpStore, Ref: ref, Value: script.Spec(stored)})
		if target != nil {
			target.known = v
		}
		return nil
	case "field_expression", "index_expression":
		if base := firstNamed(left); base != nil && base.Kind() == "identifier" {
			if _, err := l.eval(right, ""); err != nil {
				return err
			}
			l.emit(script.Step{Op: script.OpBorrowMut, Name: l.text(base)})
			if loc := l.lookup(l.text(base)); loc != nil {
				loc.known = nil
			}
			return nil
		}
	}
	l.skip(node, "assignment to `%s` is not simulated", abbreviate(l.text(left)))
	return nil
}

func (l *lowerer) lowerCompoundAssign(node *sitter.Node) error {
	left, right := node.ChildByFieldName("left"), node.ChildByFieldName("right")
	op := strings.TrimSuffix(l.text(node.ChildByFieldName("operator")), "=")
	rv, err := l.use(right)
	if err != nil {
		return err
	}
	switch left.Kind() {
	case "identifier":
		name := l.text(left)
		loc := l.lookup(name)
		l.emit(script.Step{Op: script.OpRead, Name: name})
		next := arith(op, knownOf(loc), rv)
		assigned := next
		if assigned == nil {
			assigned = zeroLike(knownOf(loc))
		}
		l.emit(script.Step{Op: script.OpAssign, Name: name, Value: script.Spec(assigned)})
		if loc != nil {
			loc.known = next
		}
		return nil
	case "unary_expression":
		ref := derefTarget(l, left)
		if ref == "" {
			break
		}
		var target *local
		if loc := l.lookup(ref); loc != nil {
			target = loc.target
		}
		l.emit(script.Step{Op: script.OpDeref, Ref: ref})
		next := arith(op, knownOf(target), rv)
		stored := next
		if stored == nil {
			stored = zeroLike(knownOf(target))
		}
		l.emit(script.Step{Op: script.OpStore, Ref: ref, Value: script.Spec(stored)})
		if target != nil {
			target.known = next
		}
		return nil
	}
	l.skip(node, "compound assignment to `%s` is not simulated", abbreviate(l.text(left)))
	return nil
}

// copyRef duplicates a shared reference by borrowing its target again, the
// way a `&T` is copied.
func copyRef(src *local, into string, mutable bool) script.Step {
	if src.rng != nil {
		return script.Step{Op: script.OpSlice, Name: src.target.name, Range: src.rng, Into: into, Mutable: mutable}
	}
	return script.Step{Op: script.OpBorrow, Name: src.target.name, Into: into, Mutable: mutable}
}

// derefTarget returns NAME for a `*NAME` expression.
func derefTarget(l *lowerer, n *sitter.Node) string {
	if n.Kind() != "unary_expression" || n.ChildCount() < 2 || n.Child(0).Kind() != "*" {
		return ""
	}
	operand := firstNamed(n)
	if operand == nil || operand.Kind() != "identifier" {
		return ""
	}
	return l.text(operand)
}

func knownOf(loc *local) runtime.Value {
	if loc == nil {
		return nil
	}
	return loc.value()
}

func hintFor(loc *local) string {
	switch v := knownOf(loc).(type) {
	case runtime.IntegerValue:
		return string(v.TypeSuffix)
	case runtime.FloatValue:
		return string(v.TypeSuffix)
	}
	return ""
}

// collectAnnotations reads `//~ ERROR Kind` comments. Each `^` after the
// tilde moves the annotation one line up.
func (l *lowerer) collectAnnotations(root *sitter.Node) {
	walkNodes(root, func(n *sitter.Node) {
		if n.Kind() != "line_comment" {
			return
		}
		text := strings.TrimPrefix(l.text(n), "//")
		if !strings.HasPrefix(text, "~") {
			return
		}
		text = strings.TrimPrefix(text, "~")
		line := int(n.StartPosition().Row) + 1
		for strings.HasPrefix(text, "^") {
			line--
			text = text[1:]
		}
		fields := strings.Fields(text)
		if len(fields) > 0 && strings.EqualFold(fields[0], "ERROR") {
			fields = fields[1:]
		}
		if len(fields) == 0 {
			l.warn(n, "error annotation names no error kind")
			return
		}
		kind, ok := annotationKind(fields[0])
		if !ok {
			l.warn(n, "unknown error kind %q in annotation", fields[0])
			return
		}
		l.expects[line] = kind
	})
}

// rustcCodes maps compiler error codes onto evaluator error kinds.
var rustcCodes = map[string]evaluator.ErrorKind{
	"E0425": evaluator.UnboundName,
	"E0382": evaluator.UseAfterMove,
	"E0499": evaluator.BorrowConflict,
	"E0502": evaluator.BorrowConflict,
	"E0505": evaluator.CannotMoveBorrowed,
	"E0384": evaluator.ImmutableBinding,
	"E0596": evaluator.ImmutableBinding,
	"E0594": evaluator.ImmutableBinding,
	"E0597": evaluator.DanglingReference,
	"E0106": evaluator.DanglingReference,
	"E0515": evaluator.DanglingReference,
}

func annotationKind(word string) (evaluator.ErrorKind, bool) {
	word = strings.Trim(word, "[]():,")
	if kind, ok := rustcCodes[strings.ToUpper(word)]; ok {
		return kind, true
	}
	return evaluator.ParseErrorKind(word)
}

// raisers lists the steps that can fail with each kind of error.
var raisers = map[evaluator.ErrorKind][]string{
	evaluator.UseAfterMove:       {script.OpRead, script.OpMove, script.OpClone, script.OpBorrow, script.OpBorrowMut, script.OpSlice, script.OpDestructure},
	evaluator.BorrowConflict:     {script.OpRead, script.OpClone, script.OpBorrow, script.OpBorrowMut, script.OpSlice, script.OpAssign, script.OpStore},
	evaluator.CannotMoveBorrowed: {script.OpMove, script.OpDestructure},
	evaluator.ImmutableBinding:   {script.OpAssign, script.OpBorrowMut, script.OpStore},
	evaluator.DanglingReference:  {script.OpRead, script.OpClone, script.OpDeref, script.OpStore, script.OpEndBorrow},
	evaluator.SliceOutOfRange:    {script.OpSlice},
	evaluator.PatternMismatch:    {script.OpDestructure},
}

// applyExpectations attaches each annotation to the first step lowered from
// its line that can raise the expected error, or to the line's last step.
func (l *lowerer) applyExpectations(steps []script.Step) {
	byLine := make(map[int][]*script.Step)
	var walk func([]script.Step)
	walk = func(steps []script.Step) {
		for i := range steps {
			step := &steps[i]
			if _, ok := l.expects[step.Line]; ok && step.Op != script.OpScope && step.Op != script.OpSay {
				byLine[step.Line] = append(byLine[step.Line], step)
			}
			walk(step.Steps)
		}
	}
	walk(steps)
	for line, candidates := range byLine {
		kind := l.expects[line]
		chosen := candidates[len(candidates)-1]
		ops := raisers[kind]
		for _, step := range candidates {
			if len(ops) == 0 || slices.Contains(ops, step.Op) {
				chosen = step
				break
			}
		}
		chosen.Expect = kind.String()
		l.matched[line] = true
	}
}
