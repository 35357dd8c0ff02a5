package rustfront

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// SourceLocation is a 1-based source span.
type SourceLocation struct {
	Line      int
	Column    int
	EndLine   int
	EndColumn int
}

func (l SourceLocation) String() string {
	if l.Line == 0 {
		return "?"
	}
	return fmt.Sprintf("%d:%d", l.Line, l.Column)
}

// ParseError is a syntax error or a construct the front end refuses to lower.
type ParseError struct {
	Path     string
	Message  string
	Location SourceLocation
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Location, e.Message)
	}
	return fmt.Sprintf("%s:%s: %s", e.Path, e.Location, e.Message)
}

// Warning notes a construct that was skipped while lowering.
type Warning struct {
	Location SourceLocation
	Message  string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Location, w.Message)
}

func wrapParseError(node *sitter.Node, err error) error {
	if err == nil {
		return nil
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return parseErr
	}
	if node == nil {
		return err
	}
	return &ParseError{Message: err.Error(), Location: locationForNode(node)}
}

func syntaxError(root *sitter.Node) *ParseError {
	bad := firstNode(root, (*sitter.Node).IsMissing)
	expected := ""
	if bad != nil {
		expected = describeKind(bad.Kind())
	} else {
		bad = firstNode(root, (*sitter.Node).IsError)
	}
	if bad == nil {
		bad = root
	}
	msg := "syntax error"
	if expected != "" {
		msg = "syntax error: expected " + expected
	}
	return &ParseError{Message: msg, Location: locationForNode(bad)}
}

func locationForNode(node *sitter.Node) SourceLocation {
	if node == nil {
		return SourceLocation{}
	}
	start, end := node.StartPosition(), node.EndPosition()
	return SourceLocation{
		Line:      int(start.Row) + 1,
		Column:    int(start.Column) + 1,
		EndLine:   int(end.Row) + 1,
		EndColumn: int(end.Column) + 1,
	}
}

// firstNode returns the earliest node in source order matching pred.
func firstNode(root *sitter.Node, pred func(*sitter.Node) bool) *sitter.Node {
	var best *sitter.Node
	walkNodes(root, func(node *sitter.Node) {
		if !pred(node) {
			return
		}
		if best == nil || node.StartByte() < best.StartByte() {
			best = node
		}
	})
	return best
}

func walkNodes(root *sitter.Node, visit func(node *sitter.Node)) {
	if root == nil {
		return
	}
	visit(root)
	for i := uint(0); i < root.ChildCount(); i++ {
		if child := root.Child(i); child != nil {
			walkNodes(child, visit)
		}
	}
}

func describeKind(kind string) string {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return "token"
	}
	for _, r := range kind {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return strings.ReplaceAll(kind, "_", " ")
		}
	}
	return fmt.Sprintf("'%s'", kind)
}
