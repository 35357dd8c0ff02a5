package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/AnneHtowardshaway/rust-study/pkg/driver"
)

// lessonSource is one git source of lessons declared in the manifest.
type lessonSource struct {
	name string
	spec *driver.SourceSpec
	home string
}

// install pins the source to a commit and puts a fresh checkout of that
// commit under the cache, replacing whatever was there for the same version.
func (s lessonSource) install() (*driver.LockedSource, error) {
	label, revision := s.spec.Pin()
	if revision == "" {
		return nil, fmt.Errorf("source %q: nothing to pin; set rev, tag or branch", s.name)
	}
	staging, repo, err := s.clone()
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	hash, err := repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		return nil, fmt.Errorf("source %q: resolve %s: %w", s.name, label, err)
	}
	locked := &driver.LockedSource{
		Name:    s.name,
		Git:     s.spec.Git,
		Commit:  hash.String(),
		Version: driver.PinnedVersion(label, hash.String()),
	}

	dir := driver.CheckoutDir(s.home, s.name, locked.Version)
	if err := os.RemoveAll(dir); err != nil {
		return nil, err
	}
	if err := s.place(repo, *hash, staging, dir); err != nil {
		return nil, err
	}

	if locked.Checksum, err = lessonChecksum(dir); err != nil {
		return nil, fmt.Errorf("source %q: checksum: %w", s.name, err)
	}
	return locked, nil
}

// clone fetches the repository without checking anything out into a staging
// directory next to the source's checkouts.
func (s lessonSource) clone() (string, *git.Repository, error) {
	parent := driver.SourceDir(s.home, s.name)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", nil, err
	}
	staging, err := os.MkdirTemp(parent, ".fetch-*")
	if err != nil {
		return "", nil, err
	}
	repo, err := git.PlainClone(staging, false, &git.CloneOptions{URL: s.spec.Git, NoCheckout: true})
	if err != nil {
		_ = os.RemoveAll(staging)
		return "", nil, fmt.Errorf("source %q: git clone %s: %w", s.name, s.spec.Git, err)
	}
	return staging, repo, nil
}

// place checks out commit in the staging clone and moves it to dir.
func (s lessonSource) place(repo *git.Repository, commit plumbing.Hash, staging, dir string) error {
	worktree, err := repo.Worktree()
	if err != nil {
		return err
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Hash: commit, Force: true}); err != nil {
		return fmt.Errorf("source %q: checkout %s: %w", s.name, commit, err)
	}
	return os.Rename(staging, dir)
}

// lessonChecksum hashes the lesson files of a checkout, names and contents,
// so edits to anything a lesson can load are noticed.
func lessonChecksum(dir string) (string, error) {
	h := sha256.New()
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !driver.IsLessonFile(p) {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		fmt.Fprintf(h, "%s\x00%d\x00", filepath.ToSlash(rel), len(data))
		h.Write(data)
		return nil
	})
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
