package runtime

import (
	"strconv"
	"strings"
)

// Format renders a value the way a println! with {} would. Nested strings and
// chars are quoted as {:?} does.
func Format(v Value) string {
	switch val := v.(type) {
	case StringValue:
		return val.Val
	case CharValue:
		return string(val.Val)
	default:
		return Debug(v)
	}
}

// Debug renders a value the way {:?} would.
func Debug(v Value) string {
	switch val := v.(type) {
	case nil:
		return "<nil>"
	case StringValue:
		return strconv.Quote(val.Val)
	case CharValue:
		return strconv.QuoteRune(val.Val)
	case BoolValue:
		return strconv.FormatBool(val.Val)
	case UnitValue:
		return "()"
	case IntegerValue:
		if val.Val == nil {
			return "0"
		}
		return val.Val.String()
	case FloatValue:
		bits := 64
		if val.TypeSuffix == FloatF32 {
			bits = 32
		}
		s := strconv.FormatFloat(val.Val, 'f', -1, bits)
		if !strings.ContainsAny(s, ".eEnN") {
			s += ".0"
		}
		return s
	case *TupleValue:
		parts := debugAll(val.Elements)
		if len(parts) == 1 {
			return "(" + parts[0] + ",)"
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case *ArrayValue:
		return "[" + strings.Join(debugAll(val.Elements), ", ") + "]"
	case RefValue:
		if val.Borrow == nil {
			return "&<invalid>"
		}
		prefix := "&"
		if val.Borrow.Exclusive() {
			prefix = "&mut "
		}
		return prefix + "#" + strconv.FormatUint(val.Borrow.BorrowID(), 10)
	default:
		return "<" + v.Kind().String() + ">"
	}
}

func debugAll(elems []Value) []string {
	parts := make([]string, len(elems))
	for i, el := range elems {
		parts[i] = Debug(el)
	}
	return parts
}

// Describe names the kind of a value together with its copy semantics.
func Describe(v Value) string {
	if v == nil {
		return "nil"
	}
	kind := v.Kind().String()
	switch val := v.(type) {
	case IntegerValue:
		kind = string(suffixOrDefault(val.TypeSuffix))
	case FloatValue:
		if val.TypeSuffix == "" {
			kind = string(FloatF64)
		} else {
			kind = string(val.TypeSuffix)
		}
	case StringValue:
		if val.Static {
			kind = "&str"
		} else {
			kind = "String"
		}
	case *ArrayValue:
		if val.Heap {
			kind = "Vec"
		}
	}
	if IsCopy(v) {
		return kind + ", copy"
	}
	return kind + ", move"
}
