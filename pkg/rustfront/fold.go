package rustfront

import (
	"math"
	"math/big"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/AnneHtowardshaway/rust-study/pkg/runtime"
)

// Constant folding over the values the lowerer tracks. Every helper returns
// nil when the result cannot be computed, and callers treat nil as unknown.

func arith(op string, a, b runtime.Value) runtime.Value {
	if a == nil || b == nil {
		return nil
	}
	switch x := a.(type) {
	case runtime.IntegerValue:
		y, ok := b.(runtime.IntegerValue)
		if !ok || x.Val == nil || y.Val == nil {
			return nil
		}
		return integerOp(op, x, y)
	case runtime.FloatValue:
		y, ok := b.(runtime.FloatValue)
		if !ok {
			return nil
		}
		return floatOp(op, x, y)
	case runtime.StringValue:
		y, ok := b.(runtime.StringValue)
		if !ok {
			return nil
		}
		switch op {
		case "+":
			return runtime.StringValue{Val: x.Val + y.Val}
		case "==":
			return runtime.BoolValue{Val: x.Val == y.Val}
		case "!=":
			return runtime.BoolValue{Val: x.Val != y.Val}
		case "<":
			return runtime.BoolValue{Val: x.Val < y.Val}
		case ">":
			return runtime.BoolValue{Val: x.Val > y.Val}
		}
	case runtime.BoolValue:
		y, ok := b.(runtime.BoolValue)
		if !ok {
			return nil
		}
		switch op {
		case "&&", "&":
			return runtime.BoolValue{Val: x.Val && y.Val}
		case "||", "|":
			return runtime.BoolValue{Val: x.Val || y.Val}
		case "^", "!=":
			return runtime.BoolValue{Val: x.Val != y.Val}
		case "==":
			return runtime.BoolValue{Val: x.Val == y.Val}
		}
	case runtime.CharValue:
		y, ok := b.(runtime.CharValue)
		if !ok {
			return nil
		}
		if cmp, ok := compare(op, int(x.Val)-int(y.Val)); ok {
			return cmp
		}
	}
	return nil
}

func compare(op string, c int) (runtime.Value, bool) {
	switch op {
	case "==":
		return runtime.BoolValue{Val: c == 0}, true
	case "!=":
		return runtime.BoolValue{Val: c != 0}, true
	case "<":
		return runtime.BoolValue{Val: c < 0}, true
	case "<=":
		return runtime.BoolValue{Val: c <= 0}, true
	case ">":
		return runtime.BoolValue{Val: c > 0}, true
	case ">=":
		return runtime.BoolValue{Val: c >= 0}, true
	}
	return nil, false
}

func integerOp(op string, x, y runtime.IntegerValue) runtime.Value {
	if cmp, ok := compare(op, x.Val.Cmp(y.Val)); ok {
		return cmp
	}
	suffix := x.TypeSuffix
	if suffix == "" {
		suffix = y.TypeSuffix
	}
	n := new(big.Int)
	switch op {
	case "+":
		n.Add(x.Val, y.Val)
	case "-":
		n.Sub(x.Val, y.Val)
	case "*":
		n.Mul(x.Val, y.Val)
	case "/":
		if y.Val.Sign() == 0 {
			return nil
		}
		n.Quo(x.Val, y.Val)
	case "%":
		if y.Val.Sign() == 0 {
			return nil
		}
		n.Rem(x.Val, y.Val)
	case "&":
		n.And(x.Val, y.Val)
	case "|":
		n.Or(x.Val, y.Val)
	case "^":
		n.Xor(x.Val, y.Val)
	case "<<", ">>":
		if !y.Val.IsUint64() || y.Val.Uint64() > 127 {
			return nil
		}
		if op == "<<" {
			n.Lsh(x.Val, uint(y.Val.Uint64()))
		} else {
			n.Rsh(x.Val, uint(y.Val.Uint64()))
		}
		suffix = x.TypeSuffix
	default:
		return nil
	}
	return runtime.IntegerValue{Val: n, TypeSuffix: suffix}
}

func floatOp(op string, x, y runtime.FloatValue) runtime.Value {
	suffix := x.TypeSuffix
	if suffix == "" {
		suffix = y.TypeSuffix
	}
	var f float64
	switch op {
	case "+":
		f = x.Val + y.Val
	case "-":
		f = x.Val - y.Val
	case "*":
		f = x.Val * y.Val
	case "/":
		f = x.Val / y.Val
	case "%":
		f = math.Mod(x.Val, y.Val)
	default:
		c := 0
		switch {
		case x.Val < y.Val:
			c = -1
		case x.Val > y.Val:
			c = 1
		}
		if cmp, ok := compare(op, c); ok {
			return cmp
		}
		return nil
	}
	return runtime.FloatValue{Val: f, TypeSuffix: suffix}
}

// zeroLike returns a placeholder of the same type as v.
func zeroLike(v runtime.Value) runtime.Value {
	switch val := v.(type) {
	case runtime.IntegerValue:
		return runtime.NewInteger(0, val.TypeSuffix)
	case runtime.FloatValue:
		return runtime.FloatValue{TypeSuffix: val.TypeSuffix}
	case runtime.StringValue:
		return runtime.StringValue{Static: val.Static}
	case runtime.BoolValue:
		return runtime.BoolValue{}
	case runtime.CharValue:
		return runtime.CharValue{}
	case *runtime.TupleValue:
		elems := make([]runtime.Value, len(val.Elements))
		for i, el := range val.Elements {
			elems[i] = zeroLike(el)
		}
		return &runtime.TupleValue{Elements: elems}
	case *runtime.ArrayValue:
		return &runtime.ArrayValue{Heap: val.Heap}
	}
	return runtime.UnitValue{}
}

func intOf(v runtime.Value) (int, bool) {
	iv, ok := v.(runtime.IntegerValue)
	if !ok || iv.Val == nil || !iv.Val.IsInt64() {
		return 0, false
	}
	n := iv.Val.Int64()
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, false
	}
	return int(n), true
}

func onCharBoundary(s string, i int) bool {
	return i == 0 || i == len(s) || utf8.RuneStart(s[i])
}

func usize(n int) runtime.Value {
	return runtime.NewInteger(int64(n), runtime.IntegerUsize)
}

// sliceOf computes `v[lo..hi]`. A negative hi means the open end. Slicing a
// string yields a `&str`.
func sliceOf(v runtime.Value, rng []int) runtime.Value {
	if len(rng) != 2 {
		return nil
	}
	lo, hi := rng[0], rng[1]
	switch val := v.(type) {
	case runtime.StringValue:
		if hi < 0 {
			hi = len(val.Val)
		}
		if lo < 0 || lo > hi || hi > len(val.Val) || !onCharBoundary(val.Val, lo) || !onCharBoundary(val.Val, hi) {
			return nil
		}
		return runtime.StringValue{Val: val.Val[lo:hi], Static: true}
	case *runtime.ArrayValue:
		if hi < 0 {
			hi = len(val.Elements)
		}
		if lo < 0 || lo > hi || hi > len(val.Elements) {
			return nil
		}
		elems := make([]runtime.Value, 0, hi-lo)
		for _, el := range val.Elements[lo:hi] {
			elems = append(elems, runtime.Clone(el))
		}
		return &runtime.ArrayValue{Elements: elems}
	}
	return nil
}

func elementsOf(v runtime.Value) []runtime.Value {
	switch val := v.(type) {
	case *runtime.TupleValue:
		return val.Elements
	case *runtime.ArrayValue:
		return val.Elements
	}
	return nil
}

func elementAt(v runtime.Value, i int) runtime.Value {
	elems := elementsOf(v)
	if i < 0 || i >= len(elems) {
		return nil
	}
	return elems[i]
}

// castTo applies `as T` for the primitive conversions.
func castTo(v runtime.Value, typ string) runtime.Value {
	if it, ok := runtime.ParseIntegerType(typ); ok {
		var n *big.Int
		switch val := v.(type) {
		case runtime.IntegerValue:
			n = val.Val
		case runtime.FloatValue:
			n, _ = big.NewFloat(math.Trunc(val.Val)).Int(nil)
		case runtime.CharValue:
			n = big.NewInt(int64(val.Val))
		case runtime.BoolValue:
			if val.Val {
				n = big.NewInt(1)
			} else {
				n = big.NewInt(0)
			}
		}
		if n == nil {
			return nil
		}
		out := runtime.IntegerValue{Val: new(big.Int).Set(n), TypeSuffix: it}
		if runtime.CheckIntegerRange(out) != nil {
			return nil
		}
		return out
	}
	switch typ {
	case "f32", "f64":
		var f float64
		switch val := v.(type) {
		case runtime.IntegerValue:
			f, _ = new(big.Float).SetInt(val.Val).Float64()
		case runtime.FloatValue:
			f = val.Val
		default:
			return nil
		}
		return runtime.FloatValue{Val: f, TypeSuffix: runtime.FloatType(typ)}
	case "char":
		if iv, ok := v.(runtime.IntegerValue); ok && iv.Val.IsInt64() && iv.Val.Int64() < 256 && iv.Val.Sign() >= 0 {
			return runtime.CharValue{Val: rune(iv.Val.Int64())}
		}
	}
	return nil
}

// pure folds a method that only reads its receiver.
func pure(name string, recv runtime.Value, args []runtime.Value) runtime.Value {
	switch name {
	case "clone", "to_owned", "to_string", "into":
		if s, ok := recv.(runtime.StringValue); ok {
			return runtime.StringValue{Val: s.Val}
		}
		if name == "to_string" && recv != nil {
			return runtime.StringValue{Val: runtime.Format(recv)}
		}
		return runtime.Clone(recv)
	}
	switch val := recv.(type) {
	case runtime.StringValue:
		switch name {
		case "len":
			return usize(len(val.Val))
		case "is_empty":
			return runtime.BoolValue{Val: val.Val == ""}
		case "as_str", "trim", "trim_start", "trim_end":
			s := val.Val
			switch name {
			case "trim":
				s = strings.TrimSpace(s)
			case "trim_start":
				s = strings.TrimLeft(s, " \t\r\n")
			case "trim_end":
				s = strings.TrimRight(s, " \t\r\n")
			}
			return runtime.StringValue{Val: s, Static: true}
		case "to_uppercase", "to_ascii_uppercase":
			return runtime.StringValue{Val: strings.ToUpper(val.Val)}
		case "to_lowercase", "to_ascii_lowercase":
			return runtime.StringValue{Val: strings.ToLower(val.Val)}
		case "capacity":
			return usize(len(val.Val))
		case "contains", "starts_with", "ends_with":
			if len(args) != 1 {
				return nil
			}
			arg, ok := args[0].(runtime.StringValue)
			if !ok {
				return nil
			}
			switch name {
			case "contains":
				return runtime.BoolValue{Val: strings.Contains(val.Val, arg.Val)}
			case "starts_with":
				return runtime.BoolValue{Val: strings.HasPrefix(val.Val, arg.Val)}
			}
			return runtime.BoolValue{Val: strings.HasSuffix(val.Val, arg.Val)}
		}
	case *runtime.ArrayValue:
		switch name {
		case "len":
			return usize(len(val.Elements))
		case "is_empty":
			return runtime.BoolValue{Val: len(val.Elements) == 0}
		case "to_vec":
			return &runtime.ArrayValue{Elements: elementsOf(runtime.Clone(val)), Heap: true}
		}
	case runtime.IntegerValue:
		switch name {
		case "abs":
			return runtime.IntegerValue{Val: new(big.Int).Abs(val.Val), TypeSuffix: val.TypeSuffix}
		case "pow":
			if len(args) == 1 {
				if e, ok := intOf(args[0]); ok && e >= 0 && e < 128 {
					return runtime.IntegerValue{Val: new(big.Int).Exp(val.Val, big.NewInt(int64(e)), nil), TypeSuffix: val.TypeSuffix}
				}
			}
		}
	}
	return nil
}

// mutate folds a method that needs `&mut self`. It returns the receiver after
// the call and the call's result.
func mutate(name string, recv runtime.Value, args []runtime.Value) (runtime.Value, runtime.Value) {
	switch val := recv.(type) {
	case runtime.StringValue:
		s := val.Val
		switch name {
		case "push_str":
			if len(args) == 1 {
				if arg, ok := args[0].(runtime.StringValue); ok {
					return runtime.StringValue{Val: s + arg.Val}, runtime.UnitValue{}
				}
			}
		case "push":
			if len(args) == 1 {
				if ch, ok := args[0].(runtime.CharValue); ok {
					return runtime.StringValue{Val: s + string(ch.Val)}, runtime.UnitValue{}
				}
			}
		case "insert_str":
			if len(args) == 2 {
				idx, okIdx := intOf(args[0])
				arg, okArg := args[1].(runtime.StringValue)
				if okIdx && okArg && idx >= 0 && idx <= len(s) {
					return runtime.StringValue{Val: s[:idx] + arg.Val + s[idx:]}, runtime.UnitValue{}
				}
			}
		case "clear":
			return runtime.StringValue{}, runtime.UnitValue{}
		case "truncate":
			if len(args) == 1 {
				if n, ok := intOf(args[0]); ok && n >= 0 {
					return runtime.StringValue{Val: s[:min(n, len(s))]}, runtime.UnitValue{}
				}
			}
		case "pop":
			if s == "" {
				return val, nil
			}
			r, size := utf8.DecodeLastRuneInString(s)
			return runtime.StringValue{Val: s[:len(s)-size]}, runtime.CharValue{Val: r}
		case "make_ascii_uppercase":
			return runtime.StringValue{Val: strings.ToUpper(s)}, runtime.UnitValue{}
		case "make_ascii_lowercase":
			return runtime.StringValue{Val: strings.ToLower(s)}, runtime.UnitValue{}
		}
	case *runtime.ArrayValue:
		elems := slices.Clone(val.Elements)
		switch name {
		case "push":
			if len(args) == 1 && args[0] != nil {
				return &runtime.ArrayValue{Elements: append(elems, args[0]), Heap: val.Heap}, runtime.UnitValue{}
			}
		case "clear":
			return &runtime.ArrayValue{Heap: val.Heap}, runtime.UnitValue{}
		case "pop":
			if len(elems) == 0 {
				return val, nil
			}
			return &runtime.ArrayValue{Elements: elems[:len(elems)-1], Heap: val.Heap}, elems[len(elems)-1]
		case "reverse":
			slices.Reverse(elems)
			return &runtime.ArrayValue{Elements: elems, Heap: val.Heap}, runtime.UnitValue{}
		case "truncate":
			if len(args) == 1 {
				if n, ok := intOf(args[0]); ok && n >= 0 {
					return &runtime.ArrayValue{Elements: elems[:min(n, len(elems))], Heap: val.Heap}, runtime.UnitValue{}
				}
			}
		case "insert":
			if len(args) == 2 && args[1] != nil {
				if idx, ok := intOf(args[0]); ok && idx >= 0 && idx <= len(elems) {
					return &runtime.ArrayValue{Elements: slices.Insert(elems, idx, args[1]), Heap: val.Heap}, runtime.UnitValue{}
				}
			}
		case "remove":
			if len(args) == 1 {
				if idx, ok := intOf(args[0]); ok && idx >= 0 && idx < len(elems) {
					removed := elems[idx]
					return &runtime.ArrayValue{Elements: slices.Delete(elems, idx, idx+1), Heap: val.Heap}, removed
				}
			}
		}
	}
	return nil, nil
}
