package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/AnneHtowardshaway/rust-study/pkg/driver"
	"github.com/AnneHtowardshaway/rust-study/pkg/rustfront"
	"github.com/AnneHtowardshaway/rust-study/pkg/script"
)

// runLesson narrates one lesson (run) or checks lessons for expectation
// mismatches (check). With no arguments check covers every manifest lesson.
func runLesson(args []string, opts cliOptions, onlyFailures bool) int {
	label := "rust-study run"
	if onlyFailures {
		label = "rust-study check"
	}
	targets := args
	switch {
	case !onlyFailures && len(args) != 1:
		fmt.Fprintf(os.Stderr, "%s expects exactly one lesson, script or Rust file\n", label)
		return 1
	case onlyFailures && len(args) == 0:
		names, err := manifestLessons()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", label, err)
			return 1
		}
		targets = names
	}

	runner := script.NewRunner(opts.evaluatorOptions()...)
	narrator := script.NewNarrator(os.Stdout, onlyFailures)
	failures := 0
	broken := false
	for _, target := range targets {
		s, warnings, err := loadTarget(target)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", label, err)
			broken = true
			continue
		}
		if !opts.quiet {
			for _, w := range warnings {
				fmt.Fprintf(os.Stderr, "warning: %s\n", w)
			}
		}
		rep := runner.Run(s)
		narrator.Report(rep)
		failures += rep.Failures()
		if onlyFailures && !opts.quiet && rep.Failures() == 0 {
			fmt.Fprintf(os.Stdout, "ok  %s (%d steps)\n", target, rep.Steps())
		}
	}
	if onlyFailures && len(targets) > 1 {
		fmt.Fprintf(os.Stdout, "%d lessons checked, %d mismatches\n", len(targets), failures)
	}
	if broken || failures > 0 {
		return 1
	}
	return 0
}

func runLower(args []string, opts cliOptions) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "rust-study lower expects exactly one .rs file")
		return 1
	}
	if filepath.Ext(args[0]) != ".rs" {
		fmt.Fprintf(os.Stderr, "rust-study lower: %s is not a Rust source file\n", args[0])
		return 1
	}
	prog, err := rustfront.LowerFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "rust-study lower: %v\n", err)
		return 1
	}
	if !opts.quiet {
		for _, w := range prog.Warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", w)
		}
	}
	if err := prog.Script.Encode(os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "rust-study lower: %v\n", err)
		return 1
	}
	return 0
}

// loadTarget accepts a script path, a Rust source path or a lesson name from
// the nearest lessons.yml.
func loadTarget(target string) (*script.Script, []rustfront.Warning, error) {
	path := target
	if !driver.IsLessonFile(target) {
		lesson, err := locateLesson(target)
		if err != nil {
			return nil, nil, err
		}
		path = lesson.Path
	}
	if strings.EqualFold(filepath.Ext(path), ".rs") {
		prog, err := rustfront.LowerFile(path)
		if err != nil {
			return nil, nil, err
		}
		return prog.Script, prog.Warnings, nil
	}
	s, err := script.LoadScript(path)
	return s, nil, err
}

func locateLesson(name string) (driver.Lesson, error) {
	manifest, lock, err := loadProject(".")
	if err != nil {
		return driver.Lesson{}, err
	}
	home, err := driver.Home()
	if err != nil {
		return driver.Lesson{}, err
	}
	return manifest.Locate(name, lock, home)
}

func manifestLessons() ([]string, error) {
	manifest, _, err := loadProject(".")
	if err != nil {
		return nil, err
	}
	return manifest.LessonOrder, nil
}

// loadProject finds the manifest above start and its lockfile, if any.
func loadProject(start string) (*driver.Manifest, *driver.Lockfile, error) {
	path, err := driver.FindManifest(start)
	if err != nil {
		return nil, nil, err
	}
	manifest, err := driver.LoadManifest(path)
	if err != nil {
		return nil, nil, err
	}
	lock, err := driver.LoadLockfile(filepath.Join(manifest.Dir(), driver.LockFile))
	switch {
	case err == nil:
		return manifest, lock, nil
	case errors.Is(err, os.ErrNotExist):
		return manifest, nil, nil
	default:
		return nil, nil, fmt.Errorf("failed to read lockfile: %w", err)
	}
}

func looksLikePathCandidate(arg string) bool {
	if arg == "" {
		return false
	}
	if strings.ContainsAny(arg, `/\`) || strings.HasPrefix(arg, ".") {
		return true
	}
	return driver.IsLessonFile(arg)
}
