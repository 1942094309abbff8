package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromFileRego(t *testing.T) {
	loader := NewLoader(nil)

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "weekend-freeze.rego")

	regoContent := `package sentinel.handbook.weekend

# Blocks social posts during the release freeze

import rego.v1

deny contains violation if {
	input.action.type == "social_post"
	violation := {"message": "FLAGGED: Release freeze", "severity": "warning"}
}`

	if err := os.WriteFile(policyFile, []byte(regoContent), 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	policy, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("loadFromFile() error = %v", err)
	}

	if policy.Name != "weekend-freeze" {
		t.Errorf("name = %q, want weekend-freeze", policy.Name)
	}
	if policy.Rego != regoContent {
		t.Error("rego content does not match the file")
	}
	if !policy.Enabled {
		t.Error("overlay policies should be enabled by default")
	}
	if policy.Severity != SeverityWarning {
		t.Errorf("severity = %q, want the warning default", policy.Severity)
	}
	if policy.Description != "Blocks social posts during the release freeze" {
		t.Errorf("description = %q", policy.Description)
	}
}

func TestLoadFromFileJSON(t *testing.T) {
	loader := NewLoader(nil)

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "overlay.json")

	policy := Policy{
		Name:        "json-overlay",
		Description: "An overlay defined in JSON",
		Rego:        "package sentinel.handbook.json\nimport rego.v1\ndeny contains v if { false; v := {} }",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"test"},
	}

	data, err := json.Marshal(policy)
	if err != nil {
		t.Fatalf("failed to marshal policy: %v", err)
	}
	if err := os.WriteFile(policyFile, data, 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	loaded, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("loadFromFile() error = %v", err)
	}

	if loaded.Name != policy.Name {
		t.Errorf("name = %q, want %q", loaded.Name, policy.Name)
	}
	if loaded.Severity != policy.Severity {
		t.Errorf("severity = %q, want %q", loaded.Severity, policy.Severity)
	}
	if loaded.CreatedAt.IsZero() {
		t.Error("CreatedAt default should be applied")
	}
}

func TestLoadFromDirectory(t *testing.T) {
	loader := NewLoader(nil)

	tmpDir := t.TempDir()
	policies := map[string]string{
		"one.rego": "package sentinel.handbook.one\nimport rego.v1\ndeny contains v if { false; v := {} }",
		"two.rego": "package sentinel.handbook.two\nimport rego.v1\ndeny contains v if { false; v := {} }",
	}
	for filename, content := range policies {
		if err := os.WriteFile(filepath.Join(tmpDir, filename), []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write test file: %v", err)
		}
	}
	// Non-policy files in the vault directory are ignored.
	if err := os.WriteFile(filepath.Join(tmpDir, "README.md"), []byte("# Policies"), 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	loaded, err := loader.loadFromDirectory(context.Background(), tmpDir)
	if err != nil {
		t.Fatalf("loadFromDirectory() error = %v", err)
	}
	if len(loaded) != len(policies) {
		t.Errorf("loaded %d policies, want %d", len(loaded), len(policies))
	}
}

func TestLoadFromDirectorySkipsBadFiles(t *testing.T) {
	loader := NewLoader(nil)

	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "good.rego"),
		[]byte("package sentinel.handbook.good\nimport rego.v1\ndeny contains v if { false; v := {} }"), 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "broken.json"), []byte("not json"), 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	loaded, err := loader.loadFromDirectory(context.Background(), tmpDir)
	if err != nil {
		t.Fatalf("loadFromDirectory() error = %v", err)
	}
	if len(loaded) != 1 || loaded[0].Name != "good" {
		t.Errorf("loaded = %+v, want only the good policy", loaded)
	}
}

func TestLoadFromPaths(t *testing.T) {
	loader := NewLoader(nil)

	tmpDir := t.TempDir()
	dir1 := filepath.Join(tmpDir, "dir1")
	if err := os.Mkdir(dir1, 0o755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir1, "one.rego"),
		[]byte("package sentinel.handbook.one\nimport rego.v1\ndeny contains v if { false; v := {} }"), 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	file1 := filepath.Join(tmpDir, "two.rego")
	if err := os.WriteFile(file1,
		[]byte("package sentinel.handbook.two\nimport rego.v1\ndeny contains v if { false; v := {} }"), 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	loaded, err := loader.LoadFromPaths(context.Background(), []string{dir1, file1})
	if err != nil {
		t.Fatalf("LoadFromPaths() error = %v", err)
	}
	if len(loaded) != 2 {
		t.Errorf("loaded %d policies, want 2", len(loaded))
	}
}

func TestExtractDescription(t *testing.T) {
	loader := NewLoader(nil)

	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{
			name: "single line comment",
			content: `# Flags payments over budget
package sentinel.handbook.budget`,
			expected: "Flags payments over budget",
		},
		{
			name: "multi line comments",
			content: `# Flags payments over budget
# during the fiscal close
package sentinel.handbook.budget`,
			expected: "Flags payments over budget during the fiscal close",
		},
		{
			name: "no comments",
			content: `package sentinel.handbook.budget
import rego.v1`,
			expected: "",
		},
		{
			name: "comments with empty lines",
			content: `# First line
#
# Second line
package sentinel.handbook.budget`,
			expected: "First line Second line",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := loader.extractDescription(tt.content); got != tt.expected {
				t.Errorf("extractDescription() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestClearCache(t *testing.T) {
	loader := NewLoader(nil)

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "cached.rego")
	if err := os.WriteFile(policyFile,
		[]byte("package sentinel.handbook.cached\nimport rego.v1\ndeny contains v if { false; v := {} }"), 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	if _, err := loader.loadFromFile(context.Background(), policyFile); err != nil {
		t.Fatalf("loadFromFile() error = %v", err)
	}
	if len(loader.cache) != 1 {
		t.Errorf("cache entries = %d, want 1", len(loader.cache))
	}

	loader.ClearCache()
	if len(loader.cache) != 0 {
		t.Errorf("cache entries after clear = %d, want 0", len(loader.cache))
	}
}

func TestLoadFromFileUnsupportedType(t *testing.T) {
	loader := NewLoader(nil)

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "notes.txt")
	if err := os.WriteFile(policyFile, []byte("not a policy"), 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	if _, err := loader.loadFromFile(context.Background(), policyFile); err == nil {
		t.Error("expected error for unsupported file type")
	}
}

func TestLoadFromPathNonExistent(t *testing.T) {
	loader := NewLoader(nil)

	if _, err := loader.loadFromPath(context.Background(), "/nonexistent/path"); err == nil {
		t.Error("expected error for non-existent path")
	}
}
