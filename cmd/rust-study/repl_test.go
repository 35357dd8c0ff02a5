package main

import (
	"bytes"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestReplSessionRunsCommands(t *testing.T) {
	var out bytes.Buffer
	session := newReplSession(&out, cliOptions{})

	lines := []string{
		`let mut s = "hello"`,
		"borrow s -> r",
		"borrow_mut s",
		"end r",
		"{",
		"let n = 5",
		"env",
	}
	for _, line := range lines {
		if !session.handle(line) {
			t.Fatalf("session ended on %q", line)
		}
	}
	if got := session.prompt(); got != "rs{> " {
		t.Fatalf("prompt = %q", got)
	}
	if !session.handle("}") || session.prompt() != replPrompt {
		t.Fatalf("exit should return to the root prompt")
	}

	text := out.String()
	for _, want := range []string{
		`let mut s = "hello";`,
		"error: ",
		"BorrowConflict",
		"  n = 5  // i32",
		`mut s = "hello"  // String`,
		"n goes out of scope",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
	if session.handle("quit") {
		t.Fatalf("quit should end the session")
	}
}

func TestReplSessionReportsBadInput(t *testing.T) {
	var out bytes.Buffer
	session := newReplSession(&out, cliOptions{})
	session.handle("frob x")
	session.handle("env")
	session.handle("help")
	text := out.String()
	if !strings.Contains(text, `error: unknown command "frob"`) {
		t.Fatalf("missing parse error:\n%s", text)
	}
	if !strings.Contains(text, "// no bindings") || !strings.Contains(text, "borrow_mut NAME") {
		t.Fatalf("missing env or help output:\n%s", text)
	}
}

func TestReplResetClearsState(t *testing.T) {
	var out bytes.Buffer
	session := newReplSession(&out, cliOptions{})
	session.handle("let x = 1")
	session.handle("reset")
	out.Reset()
	session.handle("read x")
	if !strings.Contains(out.String(), "UnboundName") {
		t.Fatalf("read after reset should fail:\n%s", out.String())
	}
}

func TestFormatBindingFlags(t *testing.T) {
	var out bytes.Buffer
	session := newReplSession(&out, cliOptions{})
	session.handle(`let s = "hi"`)
	session.handle("move s -> t")
	bindings := session.runner.Evaluator().Bindings()
	var moved string
	for _, b := range bindings {
		if b.Name == "s" {
			moved = formatBinding(b)
		}
	}
	if !strings.HasSuffix(moved, ", moved") || !strings.HasPrefix(moved, "s = _") {
		t.Fatalf("formatBinding = %q", moved)
	}
}

func TestWatchSignalsStopsWhenDone(t *testing.T) {
	sigc := make(chan os.Signal, 1)
	done := make(chan struct{})
	returned := make(chan struct{})
	called := false
	go func() {
		watchSignals(sigc, done, func() { called = true })
		close(returned)
	}()
	close(done)
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatalf("watchSignals did not return after done was closed")
	}
	if called {
		t.Fatalf("onSignal ran without a signal")
	}
}

func TestWatchSignalsRunsHandler(t *testing.T) {
	sigc := make(chan os.Signal, 1)
	fired := make(chan struct{})
	sigc <- syscall.SIGTERM
	go watchSignals(sigc, make(chan struct{}), func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatalf("onSignal was not called")
	}
}
