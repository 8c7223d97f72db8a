package adapter

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"semtaint.dev/pkg/semtaint/internal/model"
)

func TestLocalRuleFSAdapter_Walk(t *testing.T) {
	t.Run("non recursive skips nested files", func(t *testing.T) {
		adapter := NewLocalRuleFSAdapter()

		root := t.TempDir()
		writeTestFile(t, filepath.Join(root, "rules.yaml"), "rules: []\n")

		nestedDir := filepath.Join(root, "nested")
		mustMkdir(t, nestedDir)
		writeTestFile(t, filepath.Join(nestedDir, "child.yaml"), "rules: []\n")

		var visited []string
		err := adapter.Walk(model.Path(root), false, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			visited = append(visited, path)
			return nil
		})
		if err != nil {
			t.Fatalf("Walk() error = %v", err)
		}

		for _, forbidden := range []string{nestedDir, filepath.Join(nestedDir, "child.yaml")} {
			if containsPath(visited, forbidden) {
				t.Fatalf("Walk() unexpectedly visited %s when recursive is false", forbidden)
			}
		}

		if !containsPath(visited, filepath.Join(root, "rules.yaml")) {
			t.Fatalf("Walk() did not visit top-level file")
		}
	})

	t.Run("recursive skips hidden directories", func(t *testing.T) {
		adapter := NewLocalRuleFSAdapter()

		root := t.TempDir()
		nestedDir := filepath.Join(root, "nested")
		hiddenDir := filepath.Join(root, ".semtaint")
		mustMkdir(t, nestedDir)
		mustMkdir(t, hiddenDir)

		child := filepath.Join(nestedDir, "child.yaml")
		writeTestFile(t, child, "rules: []\n")
		writeTestFile(t, filepath.Join(hiddenDir, "out.yaml"), "rules: []\n")

		var visited []string
		err := adapter.Walk(model.Path(root), true, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			visited = append(visited, path)
			return nil
		})
		if err != nil {
			t.Fatalf("Walk() error = %v", err)
		}

		if !containsPath(visited, child) {
			t.Fatalf("Walk() did not visit nested file when recursive")
		}

		if containsPath(visited, filepath.Join(hiddenDir, "out.yaml")) {
			t.Fatalf("Walk() visited a hidden directory")
		}
	})
}

func TestLocalRuleFSAdapter_Find(t *testing.T) {
	root := t.TempDir()
	mustMkdir(t, filepath.Join(root, "java"))
	mustMkdir(t, filepath.Join(root, "java", "lang"))

	writeTestFile(t, filepath.Join(root, "top.yaml"), "rules: []\n")
	writeTestFile(t, filepath.Join(root, "notes.txt"), "ignored\n")
	writeTestFile(t, filepath.Join(root, "java", "sqli.yml"), "rules: []\n")
	writeTestFile(t, filepath.Join(root, "java", "lang", "cmdi.yaml"), "rules: []\n")
	writeTestFile(t, filepath.Join(root, "java", "lang", "draft_test.yaml"), "rules: []\n")

	tests := []struct {
		name    string
		roots   []model.Path
		exclude []string
		want    []RuleFile
	}{
		{
			name:  "plain directory is not recursive",
			roots: []model.Path{model.Path(root)},
			want:  []RuleFile{{Path: model.Path(filepath.Join(root, "top.yaml")), RuleSet: "top"}},
		},
		{
			name:    "recursive directory with exclusions",
			roots:   []model.Path{model.Path(root + "/...")},
			exclude: []string{"*_test.yaml", "top.yaml"},
			want: []RuleFile{
				{Path: model.Path(filepath.Join(root, "java", "lang", "cmdi.yaml")), RuleSet: "java/lang/cmdi"},
				{Path: model.Path(filepath.Join(root, "java", "sqli.yml")), RuleSet: "java/sqli"},
			},
		},
		{
			name:  "single file",
			roots: []model.Path{model.Path(filepath.Join(root, "java", "sqli.yml"))},
			want:  []RuleFile{{Path: model.Path(filepath.Join(root, "java", "sqli.yml")), RuleSet: "sqli"}},
		},
		{
			name: "duplicates are reported once",
			roots: []model.Path{
				model.Path(filepath.Join(root, "top.yaml")),
				model.Path(root),
			},
			want: []RuleFile{{Path: model.Path(filepath.Join(root, "top.yaml")), RuleSet: "top"}},
		},
	}

	adapter := NewLocalRuleFSAdapter()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := adapter.Find(tt.roots, tt.exclude)
			if err != nil {
				t.Fatalf("Find() error = %v", err)
			}

			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Fatalf("Find() = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("no rule files", func(t *testing.T) {
		empty := t.TempDir()

		_, err := adapter.Find([]model.Path{model.Path(empty)}, nil)
		if !errors.Is(err, ErrNoRuleFiles) {
			t.Fatalf("Find() error = %v, want ErrNoRuleFiles", err)
		}
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := adapter.Find([]model.Path{model.Path(filepath.Join(root, "missing"))}, nil)
		if err == nil || errors.Is(err, ErrNoRuleFiles) {
			t.Fatalf("Find() error = %v, want stat failure", err)
		}
	})
}

func TestLocalRuleFSAdapter_ReadHashWrite(t *testing.T) {
	adapter := NewLocalRuleFSAdapter()

	root := t.TempDir()
	path := model.Path(filepath.Join(root, "out", "nested", "config.json"))
	content := []byte(`{"sink":[]}`)

	if err := adapter.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	data, err := adapter.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	if string(data) != string(content) {
		t.Fatalf("ReadFile() = %q, want %q", data, content)
	}

	hash, err := adapter.HashFile(path)
	if err != nil {
		t.Fatalf("HashFile() error = %v", err)
	}

	if want := fmt.Sprintf("%x", sha256.Sum256(content)); hash != want {
		t.Fatalf("HashFile() = %s, want %s", hash, want)
	}

	info, err := adapter.FileInfo(path)
	if err != nil {
		t.Fatalf("FileInfo() error = %v", err)
	}

	if info.IsDir() {
		t.Fatalf("FileInfo() reported a directory")
	}
}

func TestLocalRuleFSAdapter_PathHelpers(t *testing.T) {
	adapter := NewLocalRuleFSAdapter()

	base := model.Path("/tmp/rules")
	target := model.Path("/tmp/rules/java/sqli.yaml")

	rel, err := adapter.RelPath(base, target)
	if err != nil {
		t.Fatalf("RelPath() error = %v", err)
	}

	if string(rel) != filepath.Join("java", "sqli.yaml") {
		t.Fatalf("RelPath() = %s, want %s", rel, filepath.Join("java", "sqli.yaml"))
	}

	joined := adapter.JoinPath("/tmp", "rules", "java", "sqli.yaml")
	if string(joined) != filepath.Join("/tmp", "rules", "java", "sqli.yaml") {
		t.Fatalf("JoinPath() = %s, want %s", joined, filepath.Join("/tmp", "rules", "java", "sqli.yaml"))
	}
}

func writeTestFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func mustMkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatalf("failed to create dir %s: %v", path, err)
	}
}

func containsPath(paths []string, target string) bool {
	for _, p := range paths {
		if p == target {
			return true
		}
	}

	return false
}
