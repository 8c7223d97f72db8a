// Package adapter contains parsing, filesystem and storage adapters for the
// semtaint CLI.
package adapter

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"semtaint.dev/pkg/semtaint/internal/model"
)

// ErrNoRuleFiles is returned when the given paths contain no rule file.
var ErrNoRuleFiles = errors.New("no rule files found")

const recursiveSuffix = "/..."

// RuleFile is a discovered rule file.
type RuleFile struct {
	Path model.Path
	// RuleSet is the path relative to the scanned root without extension.
	RuleSet string
}

// RuleFSAdapter abstracts filesystem access for the domain layer so the
// workflow can be tested without touching the disk.
//
//nolint:interfacebloat // Keeps workflow logic decoupled from os/fs.
type RuleFSAdapter interface {
	// Find resolves path arguments to rule files. A directory is scanned
	// non-recursively unless it ends in "/...". Files matching one of the
	// exclude globs are skipped.
	Find(roots []model.Path, exclude []string) ([]RuleFile, error)

	// Walk traverses root. When recursive is false it stays in root.
	Walk(root model.Path, recursive bool, fn FilepathWalkFunc) error

	// ReadFile loads a file.
	ReadFile(path model.Path) ([]byte, error)

	// HashFile returns the SHA-256 fingerprint of a file.
	HashFile(path model.Path) (string, error)

	// FileInfo returns metadata for a path.
	FileInfo(path model.Path) (os.FileInfo, error)

	// WriteFile writes content, creating parent directories.
	WriteFile(path model.Path, content []byte, perm os.FileMode) error

	// RelPath returns the relative path from base to target.
	RelPath(base, target model.Path) (model.Path, error)

	// JoinPath joins path elements into a single path.
	JoinPath(elem ...string) model.Path
}

// FilepathWalkFunc mirrors the callback shape used by filepath.Walk.
type FilepathWalkFunc func(path string, info os.FileInfo, err error) error

// LocalRuleFSAdapter implements RuleFSAdapter on the local disk.
type LocalRuleFSAdapter struct{}

// NewLocalRuleFSAdapter constructs a LocalRuleFSAdapter.
func NewLocalRuleFSAdapter() *LocalRuleFSAdapter {
	return &LocalRuleFSAdapter{}
}

// Find resolves path arguments to rule files sorted by path.
func (a *LocalRuleFSAdapter) Find(roots []model.Path, exclude []string) ([]RuleFile, error) {
	if len(roots) == 0 {
		roots = []model.Path{"."}
	}

	seen := make(map[model.Path]bool)

	var files []RuleFile

	for _, root := range roots {
		found, err := a.find(root, exclude)
		if err != nil {
			return nil, err
		}

		for _, f := range found {
			if seen[f.Path] {
				continue
			}

			seen[f.Path] = true
			files = append(files, f)
		}
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %v", ErrNoRuleFiles, roots)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	return files, nil
}

func (a *LocalRuleFSAdapter) find(root model.Path, exclude []string) ([]RuleFile, error) {
	dir := string(root)
	recursive := strings.HasSuffix(dir, recursiveSuffix)

	if recursive {
		dir = strings.TrimSuffix(dir, recursiveSuffix)
		if dir == "" {
			dir = "."
		}
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", dir, err)
	}

	if !info.IsDir() {
		if !isRuleFile(dir) || excluded(filepath.Base(dir), exclude) {
			return nil, nil
		}

		return []RuleFile{{Path: model.Path(dir), RuleSet: ruleSetName(filepath.Base(dir))}}, nil
	}

	var files []RuleFile

	err = a.Walk(model.Path(dir), recursive, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() || !isRuleFile(path) {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		if excluded(filepath.ToSlash(rel), exclude) {
			return nil
		}

		files = append(files, RuleFile{Path: model.Path(path), RuleSet: ruleSetName(rel)})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}

	return files, nil
}

func isRuleFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}

	return false
}

// excluded matches rel and its base name against every glob.
func excluded(rel string, globs []string) bool {
	base := filepath.Base(rel)

	for _, g := range globs {
		if ok, _ := filepath.Match(g, rel); ok {
			return true
		}

		if ok, _ := filepath.Match(g, base); ok {
			return true
		}
	}

	return false
}

func ruleSetName(rel string) string {
	rel = filepath.ToSlash(rel)
	return strings.TrimSuffix(rel, filepath.Ext(rel))
}

// Walk iterates over files under root, optionally descending into subdirectories.
func (a *LocalRuleFSAdapter) Walk(root model.Path, recursive bool, fn FilepathWalkFunc) error {
	rootStr := string(root)

	return filepath.Walk(rootStr, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return fn(path, info, err)
		}

		if info.IsDir() && path != rootStr {
			if !recursive || strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}
		}

		return fn(path, info, nil)
	})
}

// ReadFile loads file contents from disk.
func (a *LocalRuleFSAdapter) ReadFile(path model.Path) ([]byte, error) {
	return os.ReadFile(string(path))
}

// HashFile returns the SHA-256 hash of the file at the provided path.
func (a *LocalRuleFSAdapter) HashFile(path model.Path) (string, error) {
	f, err := os.Open(string(path))
	if err != nil {
		return "", err
	}

	defer func() {
		_ = f.Close()
	}()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// FileInfo returns os.FileInfo metadata for the given path.
func (a *LocalRuleFSAdapter) FileInfo(path model.Path) (os.FileInfo, error) {
	return os.Stat(string(path))
}

// WriteFile writes content to a file, creating its directory first.
func (a *LocalRuleFSAdapter) WriteFile(path model.Path, content []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(string(path)), 0o750); err != nil {
		return err
	}

	return os.WriteFile(string(path), content, perm)
}

// RelPath returns the relative path from base to target.
func (a *LocalRuleFSAdapter) RelPath(base, target model.Path) (model.Path, error) {
	rel, err := filepath.Rel(string(base), string(target))
	if err != nil {
		return "", err
	}

	return model.Path(rel), nil
}

// JoinPath joins path elements into a single path.
func (a *LocalRuleFSAdapter) JoinPath(elem ...string) model.Path {
	return model.Path(filepath.Join(elem...))
}
