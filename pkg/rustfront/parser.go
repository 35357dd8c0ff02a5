package rustfront

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"

	"github.com/AnneHtowardshaway/rust-study/pkg/script"
)

// Parser wraps a tree-sitter parser configured for Rust.
type Parser struct {
	parser *sitter.Parser
}

// NewParser constructs a parser with the Rust grammar loaded.
func NewParser() (*Parser, error) {
	lang := sitter.NewLanguage(tree_sitter_rust.Language())
	if lang == nil {
		return nil, fmt.Errorf("rustfront: rust language not available")
	}
	p := sitter.NewParser()
	if err := p.SetLanguage(lang); err != nil {
		p.Close()
		return nil, fmt.Errorf("rustfront: %w", err)
	}
	return &Parser{parser: p}, nil
}

// Close releases parser resources.
func (p *Parser) Close() {
	if p == nil || p.parser == nil {
		return
	}
	p.parser.Close()
}

// Program is a Rust source file lowered to an evaluator script.
type Program struct {
	Script   *script.Script
	Warnings []Warning
}

// Lower parses source and lowers every parameterless function into a script
// section. Constructs outside the ownership subset become warnings.
func (p *Parser) Lower(source []byte, path string) (*Program, error) {
	if p == nil || p.parser == nil {
		return nil, fmt.Errorf("rustfront: nil parser")
	}
	tree := p.parser.Parse(source, nil)
	if tree == nil {
		return nil, fmt.Errorf("rustfront: parse %s: no tree", path)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil || root.Kind() != "source_file" {
		return nil, &ParseError{Path: path, Message: "unexpected root node"}
	}
	if root.HasError() {
		err := syntaxError(root)
		err.Path = path
		return nil, err
	}

	l := newLowerer(source)
	sections, err := l.lowerFile(root)
	if err != nil {
		var parseErr *ParseError
		if errors.As(err, &parseErr) {
			parseErr.Path = path
		}
		return nil, err
	}

	title := ""
	if path != "" {
		title = filepath.Base(path)
	}
	s := &script.Script{Path: path, Title: title, Sections: sections}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("rustfront: lowered script is invalid: %w", err)
	}
	return &Program{Script: s, Warnings: l.warnings}, nil
}

// LowerFile reads and lowers a Rust source file.
func LowerFile(path string) (*Program, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rustfront: read %s: %w", path, err)
	}
	p, err := NewParser()
	if err != nil {
		return nil, err
	}
	defer p.Close()
	return p.Lower(source, path)
}
