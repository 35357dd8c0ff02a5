package script

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AnneHtowardshaway/rust-study/pkg/evaluator"
)

// Step operations.
const (
	OpBind        = "bind"
	OpRead        = "read"
	OpMove        = "move"
	OpClone       = "clone"
	OpBorrow      = "borrow"
	OpBorrowMut   = "borrow_mut"
	OpSlice       = "slice"
	OpEndBorrow   = "end_borrow"
	OpDeref       = "deref"
	OpStore       = "store"
	OpAssign      = "assign"
	OpDestructure = "destructure"
	OpScope       = "scope"
	OpEnter       = "enter"
	OpExit        = "exit"
	OpSay         = "say"
)

// Script is a teaching script: named sections of evaluator steps. Each
// section runs against a fresh evaluator.
type Script struct {
	Path        string    `yaml:"-"`
	Title       string    `yaml:"title"`
	Description string    `yaml:"description,omitempty"`
	Steps       []Step    `yaml:"steps,omitempty"`
	Sections    []Section `yaml:"sections,omitempty"`
}

// Section groups the steps of one demonstration.
type Section struct {
	Title string `yaml:"title"`
	Steps []Step `yaml:"steps"`
}

// Step is a single evaluator call plus the outcome the script expects.
type Step struct {
	Op      string     `yaml:"op"`
	Name    string     `yaml:"name,omitempty"`
	Names   []string   `yaml:"names,omitempty"`
	Into    string     `yaml:"into,omitempty"`
	Ref     string     `yaml:"ref,omitempty"`
	Value   *ValueSpec `yaml:"value,omitempty"`
	Mutable bool       `yaml:"mutable,omitempty"`
	Range   []int      `yaml:"range,omitempty"`
	Steps   []Step     `yaml:"steps,omitempty"`
	Text    string     `yaml:"text,omitempty"`
	Expect  string     `yaml:"expect,omitempty"`
	Want    *ValueSpec `yaml:"want,omitempty"`
	Line    int        `yaml:"line,omitempty"`
}

// ValidationError aggregates script validation failures.
type ValidationError struct {
	Path   string
	Issues []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	if e.Path != "" {
		fmt.Fprintf(&b, "script %s: validation failed:", e.Path)
	} else {
		b.WriteString("script: validation failed:")
	}
	for _, issue := range e.Issues {
		b.WriteString("\n- ")
		b.WriteString(issue)
	}
	return b.String()
}

// LoadScript parses and validates a YAML script from disk.
func LoadScript(path string) (*Script, error) {
	if path == "" {
		return nil, fmt.Errorf("script: empty path")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("script: resolve %s: %w", path, err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("script: read %s: %w", absPath, err)
	}
	return ParseScript(data, absPath)
}

// ParseScript decodes a script from YAML. Unknown fields are rejected.
func ParseScript(data []byte, path string) (*Script, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var s Script
	if err := decoder.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("script: %s is empty", displayPath(path))
		}
		return nil, fmt.Errorf("script: parse %s: %w", displayPath(path), err)
	}
	s.Path = path
	s.normalize()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func displayPath(path string) string {
	if path == "" {
		return "<input>"
	}
	return path
}

func (s *Script) normalize() {
	s.Title = strings.TrimSpace(s.Title)
	if len(s.Steps) > 0 {
		lead := Section{Title: s.Title, Steps: s.Steps}
		s.Sections = append([]Section{lead}, s.Sections...)
		s.Steps = nil
	}
	if s.Title == "" && s.Path != "" {
		s.Title = strings.TrimSuffix(filepath.Base(s.Path), filepath.Ext(s.Path))
	}
}

// Validate checks every step for a known op and the fields it requires.
func (s *Script) Validate() error {
	var issues []string
	if len(s.Sections) == 0 {
		issues = append(issues, "script has no steps")
	}
	for i, sec := range s.Sections {
		label := sec.Title
		if label == "" {
			label = fmt.Sprintf("section %d", i+1)
		}
		validateSteps(label, sec.Steps, &issues)
	}
	if len(issues) > 0 {
		return &ValidationError{Path: s.Path, Issues: issues}
	}
	return nil
}

func validateSteps(label string, steps []Step, issues *[]string) {
	for i, step := range steps {
		where := fmt.Sprintf("%s: step %d (%s)", label, i+1, step.Op)
		if step.Line > 0 {
			where = fmt.Sprintf("%s: line %d (%s)", label, step.Line, step.Op)
		}
		for _, problem := range step.problems() {
			*issues = append(*issues, where+": "+problem)
		}
		if step.Op == OpScope {
			validateSteps(where, step.Steps, issues)
		}
	}
}

func (s Step) problems() []string {
	var out []string
	need := func(ok bool, msg string) {
		if !ok {
			out = append(out, msg)
		}
	}
	switch s.Op {
	case OpBind:
		need(s.Name != "", "name is required")
		need(s.Value != nil, "value is required")
	case OpRead, OpMove, OpClone, OpBorrow, OpBorrowMut:
		need(s.Name != "", "name is required")
	case OpSlice:
		need(s.Name != "", "name is required")
		need(len(s.Range) == 1 || len(s.Range) == 2, "range must be [lo] or [lo, hi]")
	case OpEndBorrow, OpDeref:
		need(s.Ref != "", "ref is required")
	case OpStore:
		need(s.Ref != "", "ref is required")
		need(s.Value != nil, "value is required")
	case OpAssign:
		need(s.Name != "", "name is required")
		need((s.Value != nil) != (s.Ref != ""), "exactly one of value or ref is required")
	case OpDestructure:
		need(len(s.Names) > 0, "names are required")
		need((s.Name != "") != (s.Value != nil), "exactly one of name or value is required")
	case OpSay:
		need(s.Text != "", "text is required")
	case OpScope, OpEnter, OpExit:
	case "":
		out = append(out, "op is required")
	default:
		out = append(out, fmt.Sprintf("unknown op %q", s.Op))
	}
	if s.Expect != "" {
		if _, ok := evaluator.ParseErrorKind(s.Expect); !ok {
			out = append(out, fmt.Sprintf("unknown expected error kind %q", s.Expect))
		}
	}
	return out
}

// Encode writes the script as YAML.
func (s *Script) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("script: encode: %w", err)
	}
	return enc.Close()
}
