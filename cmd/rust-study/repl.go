package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/peterh/liner"

	"github.com/AnneHtowardshaway/rust-study/pkg/evaluator"
	"github.com/AnneHtowardshaway/rust-study/pkg/runtime"
	"github.com/AnneHtowardshaway/rust-study/pkg/script"
)

const (
	historyFile = ".rust_study_history"
	replPrompt  = "rs> "
)

func runRepl(args []string, opts cliOptions) int {
	if len(args) > 0 {
		fmt.Fprintf(os.Stderr, "rust-study repl does not take arguments (received %s)\n", strings.Join(args, " "))
		return 1
	}
	fmt.Fprintln(os.Stdout, "rust-study repl. Type `help` for commands, `quit` to leave.")

	ln := liner.NewLiner()
	ln.SetCtrlCAborts(true)

	var once sync.Once
	finish := func() {
		once.Do(func() {
			saveHistory(ln)
			ln.Close()
		})
	}
	defer finish()
	loadHistory(ln)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigc)
	done := make(chan struct{})
	defer close(done)
	go watchSignals(sigc, done, func() {
		finish()
		os.Exit(130)
	})

	session := newReplSession(os.Stdout, opts)
	for {
		line, err := ln.Prompt(session.prompt())
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(os.Stdout)
			return 0
		}
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "repl: %v\n", err)
			return 1
		}
		if strings.TrimSpace(line) != "" {
			ln.AppendHistory(line)
		}
		if !session.handle(line) {
			return 0
		}
	}
}

// watchSignals calls onSignal when a signal arrives before done is closed.
func watchSignals(sigc <-chan os.Signal, done <-chan struct{}, onSignal func()) {
	select {
	case <-sigc:
		onSignal()
	case <-done:
	}
}

func historyPath() (string, bool) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false
	}
	return filepath.Join(home, historyFile), true
}

func loadHistory(ln *liner.State) {
	path, ok := historyPath()
	if !ok {
		return
	}
	if f, err := os.Open(path); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
}

func saveHistory(ln *liner.State) {
	path, ok := historyPath()
	if !ok {
		return
	}
	if f, err := os.Create(path); err == nil {
		_, _ = ln.WriteHistory(f)
		_ = f.Close()
	}
}

// replSession runs one command per line against a persistent evaluator.
type replSession struct {
	out      io.Writer
	runner   *script.Runner
	narrator *script.Narrator
}

func newReplSession(out io.Writer, opts cliOptions) *replSession {
	return &replSession{
		out:      out,
		runner:   script.NewRunner(opts.evaluatorOptions()...),
		narrator: script.NewNarrator(out, false),
	}
}

func (s *replSession) prompt() string {
	if depth := s.runner.Evaluator().Depth(); depth > 0 {
		return fmt.Sprintf("rs%s> ", strings.Repeat("{", depth))
	}
	return replPrompt
}

// handle executes one line and reports whether the session continues.
func (s *replSession) handle(line string) bool {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return true
	case "quit", ":quit", ":q":
		return false
	case "help", ":help", "?":
		printReplHelp(s.out)
		return true
	case "env", ":env":
		s.printEnv()
		return true
	case "reset", ":reset":
		s.runner.Reset()
		fmt.Fprintln(s.out, "// state cleared")
		return true
	}
	step, err := script.ParseCommand(line)
	if err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
		return true
	}
	for _, o := range s.runner.Exec(step) {
		s.narrator.Outcome(o)
	}
	return true
}

func (s *replSession) printEnv() {
	bindings := s.runner.Evaluator().Bindings()
	if len(bindings) == 0 {
		fmt.Fprintln(s.out, "// no bindings")
		return
	}
	for _, b := range bindings {
		fmt.Fprintln(s.out, formatBinding(b))
	}
}

func formatBinding(b evaluator.Binding) string {
	var flags []string
	if b.Slot.Moved {
		flags = append(flags, "moved")
	}
	if b.Slot.Borrow.Kind != evaluator.BorrowFree {
		flags = append(flags, "borrowed "+b.Slot.Borrow.String())
	}
	value := "_"
	if b.Slot.Value != nil && !b.Slot.Moved {
		value = runtime.Debug(b.Slot.Value)
	}
	text := fmt.Sprintf("%s%s%s = %s", strings.Repeat("  ", b.Depth), mutPrefix(b.Slot.Mutable), b.Name, value)
	if b.Slot.Value != nil {
		text += "  // " + runtime.Describe(b.Slot.Value)
	}
	if len(flags) > 0 {
		text += ", " + strings.Join(flags, ", ")
	}
	return text
}

func mutPrefix(mutable bool) string {
	if mutable {
		return "mut "
	}
	return ""
}

func printReplHelp(w io.Writer) {
	fmt.Fprint(w, `Commands (values are YAML flow text, e.g. "hi", 5, {string: hi}, [1, 2]):
  let [mut] NAME = VALUE       bind a new variable
  NAME = VALUE                 assign to a mutable variable
  read NAME                    use a variable
  move NAME [-> TARGET]        move (or copy) a value out
  clone NAME [-> TARGET]       deep copy without moving
  borrow NAME [-> REF]         shared borrow
  borrow_mut NAME [-> REF]     exclusive borrow
  slice NAME LO [HI] [-> REF]  borrow part of a string or array
  end REF                      end a borrow
  deref REF                    read through a reference
  store REF VALUE              write through a mutable reference
  destructure A B <- NAME      bind the parts of a tuple or array
  enter | {                    open a scope
  exit | }                     close the innermost scope
  say TEXT                     add a note
  env                          list visible bindings
  reset                        start over
  quit                         leave
`)
}
