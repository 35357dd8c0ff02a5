package evaluator

import (
	"github.com/AnneHtowardshaway/rust-study/pkg/runtime"
)

const (
	// PatternWildcard skips one element.
	PatternWildcard = "_"
	// PatternRest ignores the remaining elements; only valid last.
	PatternRest = ".."
)

// BindPattern destructures a tuple or array into one binding per name.
func (e *Evaluator) BindPattern(names []string, value runtime.Value, mutable bool) ([]SlotID, error) {
	var elems []runtime.Value
	switch val := value.(type) {
	case *runtime.TupleValue:
		elems = val.Elements
	case *runtime.ArrayValue:
		elems = val.Elements
	default:
		err := newError(PatternMismatch, "", "cannot destructure a value of kind %s", kindName(value))
		e.trace("bind_pattern", "", err)
		return nil, err
	}

	fixed := names
	rest := false
	if n := len(names); n > 0 && names[n-1] == PatternRest {
		fixed, rest = names[:n-1], true
	}
	var err error
	for _, name := range fixed {
		if name == PatternRest {
			err = newError(PatternMismatch, "", "`..` can only be used once, at the end of a pattern")
		}
	}
	if err == nil && ((rest && len(fixed) > len(elems)) || (!rest && len(fixed) != len(elems))) {
		err = newError(PatternMismatch, "", "expected %d elements, found %d", len(fixed), len(elems))
	}
	e.trace("bind_pattern", "", err)
	if err != nil {
		return nil, err
	}

	ids := make([]SlotID, 0, len(fixed))
	for i, name := range fixed {
		if name == PatternWildcard {
			continue
		}
		ids = append(ids, e.Bind(name, elems[i], mutable))
	}
	return ids, nil
}

func kindName(v runtime.Value) string {
	if v == nil {
		return "nil"
	}
	return v.Kind().String()
}
