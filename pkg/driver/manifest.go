package driver

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the file name looked up by the CLI.
const ManifestFile = "lessons.yml"

// Manifest represents the parsed contents of lessons.yml.
type Manifest struct {
	Path        string
	Name        string
	Lessons     map[string]*LessonSpec
	LessonOrder []string
	Sources     map[string]*SourceSpec
}

// LessonSpec locates one lesson. Path is relative to the manifest directory,
// or to the checkout root when Source names a git source.
type LessonSpec struct {
	Name   string
	Path   string
	Source string
}

// SourceSpec describes a git repository of lessons.
type SourceSpec struct {
	Git    string `yaml:"git"`
	Rev    string `yaml:"rev"`
	Tag    string `yaml:"tag"`
	Branch string `yaml:"branch"`
}

// ValidationError aggregates manifest validation failures.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "manifest: invalid configuration"
	}
	var b strings.Builder
	b.WriteString("manifest validation failed:")
	for _, issue := range e.Issues {
		b.WriteString("\n- ")
		b.WriteString(issue)
	}
	return b.String()
}

// ErrManifestNotFound is returned by FindManifest when no lessons.yml exists
// in the start directory or any parent.
var ErrManifestNotFound = errors.New(ManifestFile + " not found")

// LoadManifest parses lessons.yml from disk, returning a validated manifest.
func LoadManifest(path string) (*Manifest, error) {
	if path == "" {
		return nil, fmt.Errorf("manifest: empty path")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: resolve %s: %w", path, err)
	}
	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("manifest: open %s: %w", absPath, err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)

	var raw manifestFile
	if err := decoder.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("manifest: %s is empty", absPath)
		}
		return nil, fmt.Errorf("manifest: parse %s: %w", absPath, err)
	}

	manifest := raw.toManifest(absPath)
	if err := manifest.validate(); err != nil {
		return nil, err
	}
	return manifest, nil
}

// FindManifest walks from start towards the filesystem root looking for
// lessons.yml.
func FindManifest(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolve start directory %q: %w", start, err)
	}
	if info, statErr := os.Stat(dir); statErr == nil && !info.IsDir() {
		dir = filepath.Dir(dir)
	}
	origin := dir
	for {
		candidate := filepath.Join(dir, ManifestFile)
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, nil
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no %s found from %s upwards: %w", ManifestFile, origin, ErrManifestNotFound)
		}
		dir = parent
	}
}

func (m *Manifest) validate() error {
	var errs ValidationError
	if m.Name == "" {
		errs.Issues = append(errs.Issues, "name must be provided")
	}
	if len(m.LessonOrder) == 0 {
		errs.Issues = append(errs.Issues, "lessons must list at least one lesson")
	}
	seen := make(map[string]bool, len(m.LessonOrder))
	for _, name := range m.LessonOrder {
		lesson := m.Lessons[name]
		if seen[name] {
			errs.Issues = append(errs.Issues, fmt.Sprintf("lesson %q is declared twice", name))
			continue
		}
		seen[name] = true
		if lesson.Path == "" {
			errs.Issues = append(errs.Issues, fmt.Sprintf("lessons.%s: path must be provided", name))
		} else if !IsLessonFile(lesson.Path) {
			errs.Issues = append(errs.Issues, fmt.Sprintf("lessons.%s: %q is not a .yml, .yaml or .rs file", name, lesson.Path))
		}
		if lesson.Source != "" {
			if _, ok := m.Sources[lesson.Source]; !ok {
				errs.Issues = append(errs.Issues, fmt.Sprintf("lessons.%s: unknown source %q", name, lesson.Source))
			}
			if filepath.IsAbs(lesson.Path) {
				errs.Issues = append(errs.Issues, fmt.Sprintf("lessons.%s: paths inside a source must be relative", name))
			}
		}
	}
	for name, src := range m.Sources {
		if src == nil {
			errs.Issues = append(errs.Issues, fmt.Sprintf("sources.%s: must be a mapping", name))
			continue
		}
		for _, issue := range src.validate() {
			errs.Issues = append(errs.Issues, fmt.Sprintf("sources.%s: %s", name, issue))
		}
	}
	if len(errs.Issues) > 0 {
		return &errs
	}
	return nil
}

func (s *SourceSpec) validate() []string {
	var errs []string
	if s.Git == "" {
		errs = append(errs, "git URL required")
	}
	pins := 0
	for _, v := range []string{s.Rev, s.Tag, s.Branch} {
		if v != "" {
			pins++
		}
	}
	switch {
	case pins == 0:
		errs = append(errs, "git sources require rev, tag, or branch")
	case pins > 1:
		errs = append(errs, "specify only one of rev, tag, or branch")
	}
	return errs
}

// IsLessonFile reports whether path names a lesson script or Rust source.
func IsLessonFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml", ".rs":
		return true
	}
	return false
}

// FindLesson looks up a lesson by sanitized or original name.
func (m *Manifest) FindLesson(name string) (*LessonSpec, bool) {
	if m == nil {
		return nil, false
	}
	lesson, ok := m.Lessons[sanitizeSegment(name)]
	return lesson, ok && lesson != nil
}

// Dir is the directory holding the manifest.
func (m *Manifest) Dir() string {
	return filepath.Dir(m.Path)
}

type manifestFile struct {
	Name    string                 `yaml:"name"`
	Lessons lessonMap              `yaml:"lessons"`
	Sources map[string]*SourceSpec `yaml:"sources"`
}

type lessonYAML struct {
	Path   string `yaml:"path"`
	Source string `yaml:"source"`
}

// lessonMap keeps lessons in manifest order.
type lessonMap struct {
	items []lessonMapEntry
}

type lessonMapEntry struct {
	name string
	spec lessonYAML
}

func (lm *lessonMap) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode && value.Tag == "!!null" {
		lm.items = nil
		return nil
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("manifest: lessons must be a mapping")
	}
	items := make([]lessonMapEntry, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		keyNode := value.Content[i]
		valueNode := value.Content[i+1]

		var key string
		if err := keyNode.Decode(&key); err != nil {
			return err
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return fmt.Errorf("manifest: lessons must not use empty keys")
		}
		var entry lessonYAML
		if valueNode.Kind == yaml.ScalarNode {
			entry.Path = valueNode.Value
		} else if err := valueNode.Decode(&entry); err != nil {
			return fmt.Errorf("manifest: lesson %q: %w", key, err)
		}
		items = append(items, lessonMapEntry{name: key, spec: entry})
	}
	lm.items = items
	return nil
}

func (mf manifestFile) toManifest(path string) *Manifest {
	result := &Manifest{
		Path:        path,
		Name:        sanitizeSegment(mf.Name),
		Lessons:     make(map[string]*LessonSpec, len(mf.Lessons.items)),
		LessonOrder: make([]string, 0, len(mf.Lessons.items)),
		Sources:     make(map[string]*SourceSpec, len(mf.Sources)),
	}
	for name, src := range mf.Sources {
		key := sanitizeSegment(name)
		if src == nil {
			result.Sources[key] = nil
			continue
		}
		result.Sources[key] = &SourceSpec{
			Git:    strings.TrimSpace(src.Git),
			Rev:    strings.TrimSpace(src.Rev),
			Tag:    strings.TrimSpace(src.Tag),
			Branch: strings.TrimSpace(src.Branch),
		}
	}
	for _, item := range mf.Lessons.items {
		key := sanitizeSegment(item.name)
		source := strings.TrimSpace(item.spec.Source)
		if source != "" {
			source = sanitizeSegment(source)
		}
		result.LessonOrder = append(result.LessonOrder, key)
		if _, dup := result.Lessons[key]; dup {
			continue
		}
		result.Lessons[key] = &LessonSpec{
			Name:   key,
			Path:   filepath.FromSlash(strings.TrimSpace(item.spec.Path)),
			Source: source,
		}
	}
	return result
}

// sanitizeSegment lowercases a name and folds anything outside [a-z0-9_]
// to an underscore.
func sanitizeSegment(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
