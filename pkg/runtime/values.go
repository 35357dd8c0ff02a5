package runtime

import (
	"fmt"
	"math/big"
	"strings"
)

// Kind identifies the runtime value category.
type Kind int

const (
	KindString Kind = iota
	KindBool
	KindChar
	KindUnit
	KindInteger
	KindFloat
	KindTuple
	KindArray
	KindRef
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindChar:
		return "char"
	case KindUnit:
		return "unit"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindTuple:
		return "tuple"
	case KindArray:
		return "array"
	case KindRef:
		return "ref"
	default:
		return fmt.Sprintf("unknown_kind_%d", int(k))
	}
}

// Value is the shared behaviour for all runtime values.
type Value interface {
	Kind() Kind
}

//-----------------------------------------------------------------------------
// Scalars
//-----------------------------------------------------------------------------

// StringValue is an owned string unless Static is set, in which case it models
// a string literal and copies freely.
type StringValue struct {
	Val    string
	Static bool
}

func (v StringValue) Kind() Kind { return KindString }

type BoolValue struct {
	Val bool
}

func (v BoolValue) Kind() Kind { return KindBool }

type CharValue struct {
	Val rune
}

func (v CharValue) Kind() Kind { return KindChar }

type UnitValue struct{}

func (UnitValue) Kind() Kind { return KindUnit }

// Integer sub-types mirror the Rust suffix set.
type IntegerType string

const (
	IntegerI8    IntegerType = "i8"
	IntegerI16   IntegerType = "i16"
	IntegerI32   IntegerType = "i32"
	IntegerI64   IntegerType = "i64"
	IntegerI128  IntegerType = "i128"
	IntegerIsize IntegerType = "isize"
	IntegerU8    IntegerType = "u8"
	IntegerU16   IntegerType = "u16"
	IntegerU32   IntegerType = "u32"
	IntegerU64   IntegerType = "u64"
	IntegerU128  IntegerType = "u128"
	IntegerUsize IntegerType = "usize"
)

type IntegerValue struct {
	Val        *big.Int
	TypeSuffix IntegerType
}

func (v IntegerValue) Kind() Kind { return KindInteger }

// NewInteger builds an integer value with the given suffix (empty means i32).
func NewInteger(n int64, suffix IntegerType) IntegerValue {
	return IntegerValue{Val: big.NewInt(n), TypeSuffix: suffix}
}

// Float sub-types.
type FloatType string

const (
	FloatF32 FloatType = "f32"
	FloatF64 FloatType = "f64"
)

type FloatValue struct {
	Val        float64
	TypeSuffix FloatType
}

func (v FloatValue) Kind() Kind { return KindFloat }

//-----------------------------------------------------------------------------
// Compound values
//-----------------------------------------------------------------------------

type TupleValue struct {
	Elements []Value
}

func (v *TupleValue) Kind() Kind { return KindTuple }

// ArrayValue is a fixed array, or a Vec when Heap is set. A Vec owns its
// buffer and is never Copy.
type ArrayValue struct {
	Elements []Value
	Heap     bool
}

func (v *ArrayValue) Kind() Kind { return KindArray }

//-----------------------------------------------------------------------------
// References
//-----------------------------------------------------------------------------

// Borrow is the handle behind a reference value. The evaluator owns the
// concrete implementations.
type Borrow interface {
	BorrowID() uint64
	Exclusive() bool
}

// RefValue stores a borrow handle so it can live in a binding.
type RefValue struct {
	Borrow Borrow
}

func (v RefValue) Kind() Kind { return KindRef }

//-----------------------------------------------------------------------------
// Semantics helpers
//-----------------------------------------------------------------------------

// IsCopy reports whether using v duplicates it instead of moving it.
func IsCopy(v Value) bool {
	switch val := v.(type) {
	case nil:
		return true
	case StringValue:
		return val.Static
	case BoolValue, CharValue, UnitValue, IntegerValue, FloatValue:
		return true
	case *TupleValue:
		return allCopy(val.Elements)
	case *ArrayValue:
		return !val.Heap && allCopy(val.Elements)
	default:
		return false
	}
}

func allCopy(elems []Value) bool {
	for _, el := range elems {
		if !IsCopy(el) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of v. Reference values share their handle.
func Clone(v Value) Value {
	switch val := v.(type) {
	case IntegerValue:
		if val.Val == nil {
			return val
		}
		return IntegerValue{Val: new(big.Int).Set(val.Val), TypeSuffix: val.TypeSuffix}
	case *TupleValue:
		return &TupleValue{Elements: cloneAll(val.Elements)}
	case *ArrayValue:
		return &ArrayValue{Elements: cloneAll(val.Elements), Heap: val.Heap}
	default:
		return v
	}
}

func cloneAll(elems []Value) []Value {
	out := make([]Value, len(elems))
	for i, el := range elems {
		out[i] = Clone(el)
	}
	return out
}

// Equal compares two values structurally. References compare by handle.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case StringValue:
		return av.Val == b.(StringValue).Val
	case BoolValue:
		return av.Val == b.(BoolValue).Val
	case CharValue:
		return av.Val == b.(CharValue).Val
	case UnitValue:
		return true
	case IntegerValue:
		bv := b.(IntegerValue)
		if av.Val == nil || bv.Val == nil {
			return av.Val == bv.Val
		}
		return av.Val.Cmp(bv.Val) == 0
	case FloatValue:
		return av.Val == b.(FloatValue).Val
	case *TupleValue:
		return equalAll(av.Elements, b.(*TupleValue).Elements)
	case *ArrayValue:
		return equalAll(av.Elements, b.(*ArrayValue).Elements)
	case RefValue:
		bv := b.(RefValue)
		if av.Borrow == nil || bv.Borrow == nil {
			return av.Borrow == bv.Borrow
		}
		return av.Borrow.BorrowID() == bv.Borrow.BorrowID()
	}
	return false
}

func equalAll(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

//-----------------------------------------------------------------------------
// Integer ranges
//-----------------------------------------------------------------------------

func integerBounds(suffix IntegerType) (min, max *big.Int) {
	signed := func(bits uint) (*big.Int, *big.Int) {
		limit := new(big.Int).Lsh(big.NewInt(1), bits-1)
		return new(big.Int).Neg(limit), new(big.Int).Sub(limit, big.NewInt(1))
	}
	unsigned := func(bits uint) (*big.Int, *big.Int) {
		limit := new(big.Int).Lsh(big.NewInt(1), bits)
		return big.NewInt(0), new(big.Int).Sub(limit, big.NewInt(1))
	}
	switch suffix {
	case IntegerI8:
		return signed(8)
	case IntegerI16:
		return signed(16)
	case IntegerI32, "":
		return signed(32)
	case IntegerI64, IntegerIsize:
		return signed(64)
	case IntegerI128:
		return signed(128)
	case IntegerU8:
		return unsigned(8)
	case IntegerU16:
		return unsigned(16)
	case IntegerU32:
		return unsigned(32)
	case IntegerU64, IntegerUsize:
		return unsigned(64)
	case IntegerU128:
		return unsigned(128)
	}
	return nil, nil
}

// CheckIntegerRange reports whether the integer fits its declared width.
func CheckIntegerRange(v IntegerValue) error {
	if v.Val == nil {
		return fmt.Errorf("integer: missing value")
	}
	min, max := integerBounds(v.TypeSuffix)
	if min == nil {
		return fmt.Errorf("integer: unknown type %q", v.TypeSuffix)
	}
	if v.Val.Cmp(min) < 0 || v.Val.Cmp(max) > 0 {
		return fmt.Errorf("integer: %s out of range for %s (%s..=%s)", v.Val, suffixOrDefault(v.TypeSuffix), min, max)
	}
	return nil
}

func suffixOrDefault(s IntegerType) IntegerType {
	if s == "" {
		return IntegerI32
	}
	return s
}

// ParseIntegerType maps a type name to an integer suffix.
func ParseIntegerType(name string) (IntegerType, bool) {
	switch t := IntegerType(strings.TrimSpace(name)); t {
	case IntegerI8, IntegerI16, IntegerI32, IntegerI64, IntegerI128, IntegerIsize,
		IntegerU8, IntegerU16, IntegerU32, IntegerU64, IntegerU128, IntegerUsize:
		return t, true
	}
	return "", false
}

// ZeroForType returns a placeholder value for a Rust type name. It is used when
// only the type of a result is known.
func ZeroForType(name string) (Value, bool) {
	name = strings.TrimSpace(name)
	if suffix, ok := ParseIntegerType(name); ok {
		return NewInteger(0, suffix), true
	}
	switch name {
	case "f32":
		return FloatValue{TypeSuffix: FloatF32}, true
	case "f64":
		return FloatValue{TypeSuffix: FloatF64}, true
	case "bool":
		return BoolValue{}, true
	case "char":
		return CharValue{}, true
	case "String":
		return StringValue{}, true
	case "&str", "&'static str":
		return StringValue{Static: true}, true
	case "()", "":
		return UnitValue{}, true
	}
	return nil, false
}
