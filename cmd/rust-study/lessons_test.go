package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AnneHtowardshaway/rust-study/pkg/driver"
)

const borrowScript = `
title: borrowing
steps:
  - {op: bind, name: s, value: hello, mutable: true}
  - {op: borrow, name: s, into: r1}
  - {op: borrow_mut, name: s, expect: BorrowConflict}
  - {op: end_borrow, ref: r1}
  - {op: borrow_mut, name: s, into: r2}
`

func setupLessonProject(t *testing.T) (project, commit, cache string) {
	t.Helper()
	root := t.TempDir()
	remote := filepath.Join(root, "remote")
	writeFile(t, filepath.Join(remote, "ch04", "borrowing.yml"), borrowScript)
	commit = initGitRepo(t, remote)
	tagGitRepo(t, remote, "v1", commit)

	project = filepath.Join(root, "book")
	writeFile(t, filepath.Join(project, "local.yml"), moveScript)
	writeFile(t, filepath.Join(project, driver.ManifestFile), `
name: book
lessons:
  local: local.yml
  remote:
    source: lessons
    path: ch04/borrowing.yml
sources:
  lessons:
    git: `+remote+`
    tag: v1
`)
	cache = filepath.Join(root, "cache")
	t.Setenv(driver.HomeEnv, cache)
	chdir(t, project)
	return project, commit, cache
}

func TestLessonsInstallPinsGitSource(t *testing.T) {
	project, commit, cache := setupLessonProject(t)

	code, stdout, stderr := captureCLI(t, []string{"lessons", "list"})
	if code != 0 || !strings.Contains(stdout, "remote\t(not installed)") {
		t.Fatalf("list before install: code %d, stdout %q, stderr %q", code, stdout, stderr)
	}

	code, stdout, stderr = captureCLI(t, []string{"lessons", "install"})
	if code != 0 {
		t.Fatalf("lessons install exited %d (stderr: %q)", code, stderr)
	}
	if !strings.Contains(stdout, "Created lessons.lock") {
		t.Fatalf("install output %q", stdout)
	}

	lock, err := driver.LoadLockfile(filepath.Join(project, driver.LockFile))
	if err != nil {
		t.Fatalf("LoadLockfile: %v", err)
	}
	pinned := lock.Find("lessons")
	if pinned == nil {
		t.Fatalf("lock missing source: %#v", lock.Sources)
	}
	if pinned.Commit != commit || pinned.Version != "v1@"+commit || pinned.Checksum == "" {
		t.Fatalf("lock entry unexpected: %#v", pinned)
	}
	checkout := driver.CheckoutDir(cache, "lessons", pinned.Version)
	if _, err := os.Stat(filepath.Join(checkout, "ch04", "borrowing.yml")); err != nil {
		t.Fatalf("expected checkout at %s: %v", checkout, err)
	}

	code, stdout, _ = captureCLI(t, []string{"lessons", "install"})
	if code != 0 || !strings.Contains(stdout, "lessons: up to date") || !strings.Contains(stdout, "already up to date") {
		t.Fatalf("second install: code %d, stdout %q", code, stdout)
	}

	code, stdout, _ = captureCLI(t, []string{"lessons", "list"})
	if code != 0 || !strings.Contains(stdout, "local\tlocal.yml") || !strings.Contains(stdout, "[lessons]") {
		t.Fatalf("list after install: code %d, stdout %q", code, stdout)
	}
}

func TestLessonsInstallRestoresEditedCheckout(t *testing.T) {
	project, _, cache := setupLessonProject(t)
	if code, _, stderr := captureCLI(t, []string{"--quiet", "lessons", "install"}); code != 0 {
		t.Fatalf("lessons install exited %d (stderr: %q)", code, stderr)
	}
	lock, err := driver.LoadLockfile(filepath.Join(project, driver.LockFile))
	if err != nil {
		t.Fatalf("LoadLockfile: %v", err)
	}
	pinned := lock.Find("lessons")
	lesson := filepath.Join(driver.CheckoutDir(cache, "lessons", pinned.Version), "ch04", "borrowing.yml")
	writeFile(t, lesson, "title: edited\nsteps: []\n")

	code, stdout, stderr := captureCLI(t, []string{"lessons", "install"})
	if code != 0 {
		t.Fatalf("reinstall exited %d (stderr: %q)", code, stderr)
	}
	if strings.Contains(stdout, "lessons: up to date") {
		t.Fatalf("edited checkout reported as current: %q", stdout)
	}
	data, err := os.ReadFile(lesson)
	if err != nil {
		t.Fatalf("read lesson: %v", err)
	}
	if !strings.Contains(string(data), "title: borrowing") {
		t.Fatalf("checkout was not restored:\n%s", data)
	}
}

func TestRunAndCheckManifestLessons(t *testing.T) {
	setupLessonProject(t)
	if code, _, stderr := captureCLI(t, []string{"--quiet", "lessons", "install"}); code != 0 {
		t.Fatalf("lessons install exited %d (stderr: %q)", code, stderr)
	}

	code, stdout, stderr := captureCLI(t, []string{"run", "remote"})
	if code != 0 {
		t.Fatalf("run remote exited %d (stderr: %q)", code, stderr)
	}
	if !strings.Contains(stdout, "=== borrowing ===") || !strings.Contains(stdout, "rejected as expected") {
		t.Fatalf("run output %q", stdout)
	}

	code, stdout, stderr = captureCLI(t, []string{"check"})
	if code != 0 {
		t.Fatalf("check exited %d (stderr: %q)\n%s", code, stderr, stdout)
	}
	if !strings.Contains(stdout, "2 lessons checked, 0 mismatches") {
		t.Fatalf("check output %q", stdout)
	}
}

func TestRunUnknownLesson(t *testing.T) {
	setupLessonProject(t)
	code, _, stderr := captureCLI(t, []string{"run", "nope"})
	if code != 1 || !strings.Contains(stderr, `lesson "nope" is not declared`) {
		t.Fatalf("code %d, stderr %q", code, stderr)
	}
}

func TestLessonsRequiresSubcommand(t *testing.T) {
	if code, _, stderr := captureCLI(t, []string{"lessons"}); code != 1 || !strings.Contains(stderr, "requires a subcommand") {
		t.Fatalf("code %d, stderr %q", code, stderr)
	}
	if code, _, stderr := captureCLI(t, []string{"lessons", "update"}); code != 1 || !strings.Contains(stderr, "unknown lessons subcommand") {
		t.Fatalf("code %d, stderr %q", code, stderr)
	}
}
