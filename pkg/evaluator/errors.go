package evaluator

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies evaluator failures.
type ErrorKind int

const (
	UnboundName ErrorKind = iota + 1
	UseAfterMove
	BorrowConflict
	CannotMoveBorrowed
	ImmutableBinding
	DanglingReference
	SliceOutOfRange
	PatternMismatch
)

var errorKindNames = map[ErrorKind]string{
	UnboundName:        "UnboundName",
	UseAfterMove:       "UseAfterMove",
	BorrowConflict:     "BorrowConflict",
	CannotMoveBorrowed: "CannotMoveBorrowed",
	ImmutableBinding:   "ImmutableBinding",
	DanglingReference:  "DanglingReference",
	SliceOutOfRange:    "SliceOutOfRange",
	PatternMismatch:    "PatternMismatch",
}

func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// ParseErrorKind accepts both CamelCase and snake_case kind names.
func ParseErrorKind(s string) (ErrorKind, bool) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
	for kind, name := range errorKindNames {
		if strings.ToLower(name) == norm {
			return kind, true
		}
	}
	return 0, false
}

// Error is the typed failure returned by every evaluator operation.
type Error struct {
	Kind    ErrorKind
	Name    string
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Name != "" {
		return fmt.Sprintf("%s: `%s`", e.Kind, e.Name)
	}
	return e.Kind.String()
}

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrUnboundName        = &Error{Kind: UnboundName}
	ErrUseAfterMove       = &Error{Kind: UseAfterMove}
	ErrBorrowConflict     = &Error{Kind: BorrowConflict}
	ErrCannotMoveBorrowed = &Error{Kind: CannotMoveBorrowed}
	ErrImmutableBinding   = &Error{Kind: ImmutableBinding}
	ErrDanglingReference  = &Error{Kind: DanglingReference}
	ErrSliceOutOfRange    = &Error{Kind: SliceOutOfRange}
	ErrPatternMismatch    = &Error{Kind: PatternMismatch}
)

// KindOf extracts the evaluator error kind from err, if any.
func KindOf(err error) (ErrorKind, bool) {
	var evalErr *Error
	if errors.As(err, &evalErr) {
		return evalErr.Kind, true
	}
	return 0, false
}

func newError(kind ErrorKind, name, format string, args ...any) *Error {
	return &Error{Kind: kind, Name: name, Message: fmt.Sprintf(format, args...)}
}
