// Package envfile renders and writes the per-worktree environment file.
package envfile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Render produces the full file content for a branch: a generated
// marker followed by KEY=VALUE lines in sorted key order. The file is
// always replaced whole, never merged.
func Render(branch string, values map[string]string) []byte {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b bytes.Buffer
	fmt.Fprintf(&b, "# Generated by vibetree for branch '%s' - do not edit\n", branch)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, values[k])
	}
	return b.Bytes()
}

// Write regenerates the env file at path. An existing file with
// identical content is left untouched so repeated reconciliation
// passes do not dirty mtimes. Reports whether the file was written.
func Write(path, branch string, values map[string]string) (bool, error) {
	content := Render(branch, values)

	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, content) {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return false, fmt.Errorf("writing env file: %w", err)
	}
	return true, nil
}
