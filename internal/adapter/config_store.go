package adapter

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pmezard/go-difflib/difflib"

	"semtaint.dev/pkg/semtaint/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	configSuffix      = ".config.json"
	diagnosticsSuffix = ".diagnostics.json"
)

// ConfigStore persists the documents produced for each rule set.
type ConfigStore interface {
	SaveConfig(dir model.Path, ruleSet string, cfg model.TaintConfig) (model.Path, error)
	WriteConfig(path model.Path, cfg model.TaintConfig) error
	LoadConfig(path model.Path) (model.TaintConfig, error)
	SaveDiagnostics(dir model.Path, diags model.FileDiagnostics) (model.Path, error)
	LoadDiagnostics(path model.Path) (model.FileDiagnostics, error)
	// ListDiagnostics returns every diagnostics document under dir.
	ListDiagnostics(dir model.Path) ([]model.FileDiagnostics, error)
	// Merge concatenates the rule lists of several configs and drops
	// duplicate rules.
	Merge(paths []model.Path) (model.TaintConfig, error)
	// Diff renders a unified diff between two configs.
	Diff(a, b model.Path) (string, error)
}

type jsonConfigStore struct {
	fs RuleFSAdapter
}

// NewJSONConfigStore returns a ConfigStore writing indented JSON through fs.
func NewJSONConfigStore(fs RuleFSAdapter) ConfigStore {
	return &jsonConfigStore{fs: fs}
}

// documentPath flattens a rule set name such as java/sqli into one file
// name.
func documentPath(fs RuleFSAdapter, dir model.Path, ruleSet, suffix string) model.Path {
	name := strings.ReplaceAll(ruleSet, "/", ".")
	return fs.JoinPath(string(dir), name+suffix)
}

func (s *jsonConfigStore) save(path model.Path, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}

	if err := s.fs.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}

func (s *jsonConfigStore) load(path model.Path, v any) error {
	data, err := s.fs.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}

	return nil
}

func (s *jsonConfigStore) SaveConfig(dir model.Path, ruleSet string, cfg model.TaintConfig) (model.Path, error) {
	path := documentPath(s.fs, dir, ruleSet, configSuffix)
	return path, s.save(path, cfg)
}

func (s *jsonConfigStore) WriteConfig(path model.Path, cfg model.TaintConfig) error {
	return s.save(path, cfg)
}

func (s *jsonConfigStore) LoadConfig(path model.Path) (model.TaintConfig, error) {
	var cfg model.TaintConfig
	err := s.load(path, &cfg)

	return cfg, err
}

func (s *jsonConfigStore) SaveDiagnostics(dir model.Path, diags model.FileDiagnostics) (model.Path, error) {
	path := documentPath(s.fs, dir, diags.RuleSet, diagnosticsSuffix)
	return path, s.save(path, diags)
}

func (s *jsonConfigStore) LoadDiagnostics(path model.Path) (model.FileDiagnostics, error) {
	var diags model.FileDiagnostics
	err := s.load(path, &diags)

	return diags, err
}

func (s *jsonConfigStore) ListDiagnostics(dir model.Path) ([]model.FileDiagnostics, error) {
	var out []model.FileDiagnostics

	err := s.fs.Walk(dir, false, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() || !strings.HasSuffix(filepath.Base(path), diagnosticsSuffix) {
			return nil
		}

		diags, err := s.LoadDiagnostics(model.Path(path))
		if err != nil {
			return err
		}

		out = append(out, diags)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list diagnostics in %s: %w", dir, err)
	}

	return out, nil
}

func (s *jsonConfigStore) Merge(paths []model.Path) (model.TaintConfig, error) {
	var merged model.TaintConfig

	for _, p := range paths {
		cfg, err := s.LoadConfig(p)
		if err != nil {
			return model.TaintConfig{}, err
		}

		merged.Append(cfg)
	}

	merged.Dedup()

	return merged, nil
}

func (s *jsonConfigStore) Diff(a, b model.Path) (string, error) {
	left, err := s.canonical(a)
	if err != nil {
		return "", err
	}

	right, err := s.canonical(b)
	if err != nil {
		return "", err
	}

	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(left),
		B:        difflib.SplitLines(right),
		FromFile: string(a),
		ToFile:   string(b),
		Context:  3,
	})
}

// canonical re-encodes a config so that formatting and session ids do not
// show up as differences.
func (s *jsonConfigStore) canonical(path model.Path) (string, error) {
	cfg, err := s.LoadConfig(path)
	if err != nil {
		return "", err
	}

	cfg.Session = ""

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", path, err)
	}

	return string(data) + "\n", nil
}
