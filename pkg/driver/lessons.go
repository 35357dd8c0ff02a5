package driver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HomeEnv overrides the cache directory used for git lesson sources.
const HomeEnv = "RUST_STUDY_HOME"

// Lesson is a lesson whose file has been located on disk.
type Lesson struct {
	Name   string
	Source string
	Path   string
}

// Home resolves the cache directory: $RUST_STUDY_HOME, else ~/.rust-study.
func Home() (string, error) {
	if home := strings.TrimSpace(os.Getenv(HomeEnv)); home != "" {
		abs, err := filepath.Abs(home)
		if err != nil {
			return "", fmt.Errorf("resolve %s %q: %w", HomeEnv, home, err)
		}
		return abs, nil
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}
	return filepath.Join(userHome, ".rust-study"), nil
}

// SourceDir is where checkouts of a source are kept under home.
func SourceDir(home, source string) string {
	return filepath.Join(home, "src", sanitizeSegment(source))
}

// CheckoutDir is the checkout of one pinned version of a source.
func CheckoutDir(home, source, version string) string {
	return filepath.Join(SourceDir(home, source), SanitizePathSegment(version))
}

// Pin returns the label a source is pinned under (its rev, tag or branch)
// and the git revision that resolves it in a fresh clone.
func (s *SourceSpec) Pin() (label, revision string) {
	switch {
	case strings.TrimSpace(s.Rev) != "":
		label = strings.TrimSpace(s.Rev)
		return label, label
	case strings.TrimSpace(s.Tag) != "":
		label = strings.TrimSpace(s.Tag)
		return label, "refs/tags/" + label
	case strings.TrimSpace(s.Branch) != "":
		label = strings.TrimSpace(s.Branch)
		return label, "refs/remotes/origin/" + label
	}
	return "", ""
}

// PinnedVersion names the checkout of label resolved to commit.
func PinnedVersion(label, commit string) string {
	if label == "" || label == commit {
		return commit
	}
	return label + "@" + commit
}

// Pins reports whether locked was installed from s as it is declared now.
func (s *SourceSpec) Pins(locked *LockedSource) bool {
	label, _ := s.Pin()
	if locked == nil || label == "" || locked.Git != strings.TrimSpace(s.Git) {
		return false
	}
	return locked.Version == label || strings.HasPrefix(locked.Version, label+"@")
}

// Resolve locates every lesson in manifest order. Lessons from git sources
// require an entry in lock.
func (m *Manifest) Resolve(lock *Lockfile, home string) ([]Lesson, error) {
	out := make([]Lesson, 0, len(m.LessonOrder))
	for _, name := range m.LessonOrder {
		lesson, err := m.Locate(name, lock, home)
		if err != nil {
			return nil, err
		}
		out = append(out, lesson)
	}
	return out, nil
}

// Locate resolves a single lesson by name.
func (m *Manifest) Locate(name string, lock *Lockfile, home string) (Lesson, error) {
	spec, ok := m.FindLesson(name)
	if !ok {
		return Lesson{}, fmt.Errorf("lesson %q is not declared in %s", name, m.Path)
	}
	if spec.Source == "" {
		path := spec.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(m.Dir(), path)
		}
		return Lesson{Name: spec.Name, Path: path}, nil
	}
	pinned := lock.Find(spec.Source)
	if pinned == nil {
		return Lesson{}, fmt.Errorf("lesson %q: source %q is not installed; run `rust-study lessons install`", spec.Name, spec.Source)
	}
	return Lesson{
		Name:   spec.Name,
		Source: spec.Source,
		Path:   filepath.Join(CheckoutDir(home, spec.Source, pinned.Version), spec.Path),
	}, nil
}

// SanitizePathSegment makes a revision descriptor safe to use as a directory
// name.
func SanitizePathSegment(segment string) string {
	segment = strings.TrimSpace(segment)
	switch segment {
	case "":
		return "head"
	case ".", "..":
		return "_"
	}
	var b strings.Builder
	for _, r := range segment {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
