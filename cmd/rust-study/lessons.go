package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/AnneHtowardshaway/rust-study/pkg/driver"
)

func runLessons(args []string, opts cliOptions) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "rust-study lessons requires a subcommand (install, list)")
		return 1
	}
	if len(args) > 1 {
		fmt.Fprintf(os.Stderr, "rust-study lessons %s does not take arguments (received %s)\n", args[0], strings.Join(args[1:], " "))
		return 1
	}
	switch args[0] {
	case "install":
		return runLessonsInstall(opts)
	case "list":
		return runLessonsList()
	default:
		fmt.Fprintf(os.Stderr, "unknown lessons subcommand %q\n", args[0])
		return 1
	}
}

func runLessonsInstall(opts cliOptions) int {
	manifestPath, err := driver.FindManifest(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to locate %s: %v\n", driver.ManifestFile, err)
		return 1
	}
	manifest, err := driver.LoadManifest(manifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read manifest: %v\n", err)
		return 1
	}
	home, err := driver.Home()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to resolve %s: %v\n", driver.HomeEnv, err)
		return 1
	}

	say := func(format string, args ...any) {
		if !opts.quiet {
			fmt.Fprintf(os.Stdout, format, args...)
		}
	}
	say("Manifest: %s\n", manifest.Path)
	say("Sources: %d\n", len(manifest.Sources))
	say("Cache directory: %s\n", home)

	lockPath := filepath.Join(manifest.Dir(), driver.LockFile)
	lock, err := driver.LoadLockfile(lockPath)
	lockCreated := false
	switch {
	case err == nil:
		if lock.Root != manifest.Name {
			fmt.Fprintf(os.Stderr, "lockfile root %q does not match manifest name %q\n", lock.Root, manifest.Name)
			return 1
		}
	case errors.Is(err, os.ErrNotExist):
		lock = driver.NewLockfile(manifest.Name, cliToolVersion)
		lockCreated = true
	default:
		fmt.Fprintf(os.Stderr, "failed to read lockfile: %v\n", err)
		return 1
	}
	lock.Path = lockPath
	lock.Tool = cliToolVersion

	changed := lock.Retain(manifest.Sources)
	names := make([]string, 0, len(manifest.Sources))
	for name := range manifest.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		spec := manifest.Sources[name]
		if pinned := lock.Find(name); pinned != nil && sourceCurrent(pinned, spec, home) {
			say("%s: up to date at %s\n", name, pinned.Version)
			continue
		}
		locked, err := lessonSource{name: name, spec: spec, home: home}.install()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to fetch lessons: %v\n", err)
			return 1
		}
		if lock.Put(locked) {
			changed = true
		}
		say("%s: %s\n", name, locked.Version)
	}

	if changed || lockCreated {
		action := "Updated"
		if lockCreated {
			action = "Created"
		}
		if err := driver.WriteLockfile(lock, lockPath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write lockfile: %v\n", err)
			return 1
		}
		say("%s %s: %s\n", action, driver.LockFile, lock.Path)
	} else {
		say("%s already up to date: %s\n", driver.LockFile, lock.Path)
	}

	lessons, err := manifest.Resolve(lock, home)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	for _, lesson := range lessons {
		if _, err := os.Stat(lesson.Path); err != nil {
			fmt.Fprintf(os.Stderr, "lesson %q: %v\n", lesson.Name, err)
			return 1
		}
	}
	say("Lessons installed.\n")
	return 0
}

// sourceCurrent reports whether a pinned checkout still matches the manifest
// and its lesson files are unchanged in the cache.
func sourceCurrent(pinned *driver.LockedSource, spec *driver.SourceSpec, home string) bool {
	if !spec.Pins(pinned) {
		return false
	}
	sum, err := lessonChecksum(driver.CheckoutDir(home, pinned.Name, pinned.Version))
	return err == nil && sum == pinned.Checksum
}

func runLessonsList() int {
	manifest, lock, err := loadProject(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read manifest: %v\n", err)
		return 1
	}
	home, err := driver.Home()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to resolve %s: %v\n", driver.HomeEnv, err)
		return 1
	}
	for _, name := range manifest.LessonOrder {
		lesson, err := manifest.Locate(name, lock, home)
		if err != nil {
			fmt.Fprintf(os.Stdout, "%s\t(not installed)\n", name)
			continue
		}
		where := lesson.Path
		if rel, relErr := filepath.Rel(manifest.Dir(), lesson.Path); relErr == nil && !strings.HasPrefix(rel, "..") {
			where = rel
		}
		if lesson.Source != "" {
			where = fmt.Sprintf("%s [%s]", where, lesson.Source)
		}
		fmt.Fprintf(os.Stdout, "%s\t%s\n", name, filepath.ToSlash(where))
	}
	return 0
}
