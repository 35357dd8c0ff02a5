package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

const moveScript = `
title: moves
steps:
  - {op: bind, name: s1, value: hello}
  - {op: move, name: s1, into: s2}
  - {op: read, name: s1, expect: UseAfterMove}
  - {op: read, name: s2, want: hello}
`

const brokenScript = `
title: broken
steps:
  - {op: bind, name: s1, value: hello}
  - {op: move, name: s1, into: s2}
  - {op: read, name: s1}
`

func TestVersionCommand(t *testing.T) {
	code, stdout, _ := captureCLI(t, []string{"version"})
	if code != 0 {
		t.Fatalf("version exited %d", code)
	}
	if strings.TrimSpace(stdout) != cliToolVersion {
		t.Fatalf("version output %q", stdout)
	}
}

func TestUnknownCommand(t *testing.T) {
	code, _, stderr := captureCLI(t, []string{"frobnicate"})
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr, `unknown command "frobnicate"`) || !strings.Contains(stderr, "Usage:") {
		t.Fatalf("stderr %q", stderr)
	}
}

func TestParseGlobalFlags(t *testing.T) {
	cases := []struct {
		args      []string
		trace     bool
		quiet     bool
		remaining string
		wantErr   bool
	}{
		{args: []string{"run", "a.yml"}, remaining: "run a.yml"},
		{args: []string{"--trace", "run", "a.yml"}, trace: true, remaining: "run a.yml"},
		{args: []string{"check", "-q"}, quiet: true, remaining: "check"},
		{args: []string{"run", "--", "--trace"}, remaining: "run --trace"},
		{args: []string{"--trace=yes", "run"}, wantErr: true},
	}
	for _, tc := range cases {
		opts, remaining, err := parseGlobalFlags(tc.args)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%v: expected error", tc.args)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%v: %v", tc.args, err)
		}
		if opts.trace != tc.trace || opts.quiet != tc.quiet {
			t.Fatalf("%v: opts = %+v", tc.args, opts)
		}
		if got := strings.Join(remaining, " "); got != tc.remaining {
			t.Fatalf("%v: remaining = %q, want %q", tc.args, got, tc.remaining)
		}
	}
}

func TestRunNarratesScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "moves.yml")
	writeFile(t, path, moveScript)

	code, stdout, stderr := captureCLI(t, []string{"run", path})
	if code != 0 {
		t.Fatalf("run exited %d (stderr: %q, stdout: %q)", code, stderr, stdout)
	}
	for _, want := range []string{"=== moves ===", "rejected as expected", "4 steps, 0 mismatches"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("stdout missing %q:\n%s", want, stdout)
		}
	}
}

func TestRunAcceptsBarePath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "moves.yml"), moveScript)
	chdir(t, dir)

	if code, _, stderr := captureCLI(t, []string{"./moves.yml"}); code != 0 {
		t.Fatalf("bare path exited %d (stderr: %q)", code, stderr)
	}
}

func TestCheckReportsOnlyMismatches(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yml")
	bad := filepath.Join(dir, "bad.yml")
	writeFile(t, good, moveScript)
	writeFile(t, bad, brokenScript)

	code, stdout, _ := captureCLI(t, []string{"check", good, bad})
	if code != 1 {
		t.Fatalf("expected exit 1, got %d:\n%s", code, stdout)
	}
	if !strings.Contains(stdout, "ok  "+good) {
		t.Fatalf("missing ok line for good script:\n%s", stdout)
	}
	if !strings.Contains(stdout, "broken: use s1: unexpected error") {
		t.Fatalf("missing mismatch for bad script:\n%s", stdout)
	}
	if strings.Contains(stdout, "let s1") {
		t.Fatalf("check should not narrate passing steps:\n%s", stdout)
	}
	if !strings.Contains(stdout, "2 lessons checked, 1 mismatches") {
		t.Fatalf("missing summary:\n%s", stdout)
	}
}

func TestRunLowersRustSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "moves.rs")
	writeFile(t, path, `
fn main() {
    let s1 = String::from("hello");
    let s2 = s1;
    println!("{}", s1); //~ ERROR E0382
    println!("{}", s2);
}
`)
	code, stdout, stderr := captureCLI(t, []string{"run", path})
	if code != 0 {
		t.Fatalf("run exited %d (stderr: %q)\n%s", code, stderr, stdout)
	}
	if !strings.Contains(stdout, "rejected as expected") || !strings.Contains(stdout, "prints: hello") {
		t.Fatalf("unexpected narration:\n%s", stdout)
	}

	code, stdout, _ = captureCLI(t, []string{"lower", path})
	if code != 0 {
		t.Fatalf("lower exited %d", code)
	}
	for _, want := range []string{"op: move", "expect: UseAfterMove", "sections:"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("lowered YAML missing %q:\n%s", want, stdout)
		}
	}
}

func TestLowerRejectsNonRust(t *testing.T) {
	code, _, stderr := captureCLI(t, []string{"lower", "lesson.yml"})
	if code != 1 || !strings.Contains(stderr, "not a Rust source file") {
		t.Fatalf("code %d, stderr %q", code, stderr)
	}
}

func TestTraceLoggerWritesEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := newTraceLogger(&buf)
	logger.Trace().Str("op", "bind").Str("name", "x").Msg("evaluator")
	out := buf.String()
	if !strings.Contains(out, "op=bind") || !strings.Contains(out, "name=x") {
		t.Fatalf("trace output %q", out)
	}
}

func TestBundledLessonsPass(t *testing.T) {
	chdir(t, filepath.Join("..", "..", "lessons"))
	code, stdout, stderr := captureCLI(t, []string{"--quiet", "check"})
	if code != 0 {
		t.Fatalf("check exited %d (stderr: %q)\n%s", code, stderr, stdout)
	}
	if !strings.Contains(stdout, "4 lessons checked, 0 mismatches") {
		t.Fatalf("check output %q", stdout)
	}
}
