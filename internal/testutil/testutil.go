// Package testutil provides testing utilities for autodev tests.
package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// WriteFile writes content to path, creating parent directories, and
// returns path.
func WriteFile(t *testing.T, path, content string) string {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

// IsolateConfigHome points XDG_CONFIG_HOME at a fresh directory so a
// developer's own config file cannot leak into the test. It returns a
// scratch directory the test may use for anything else.
func IsolateConfigHome(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	return dir
}

// ParseJSONLines decodes newline-delimited JSON objects, such as log
// files. Blank lines are ignored.
func ParseJSONLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()

	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("failed to parse JSON line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

// ReadJSONLines reads path and decodes it with ParseJSONLines.
func ReadJSONLines(t *testing.T, path string) []map[string]any {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return ParseJSONLines(t, data)
}

// Messages returns the "msg" field of each entry, in order.
func Messages(entries []map[string]any) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		msg, _ := e["msg"].(string)
		out = append(out, msg)
	}
	return out
}
