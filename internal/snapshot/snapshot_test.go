package snapshot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestCapture(t *testing.T) {
	tmpDir := t.TempDir()
	createTestWorkspace(t, tmpDir)

	manifest, err := Capture(tmpDir, "results")
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}

	if !strings.HasPrefix(manifest.SnapshotID, "snap-") || len(manifest.SnapshotID) != len("snap-")+12 {
		t.Errorf("SnapshotID = %q, want snap- plus 12 hex chars", manifest.SnapshotID)
	}
	if !manifest.CreatedAt.After(time.Now().Add(-1 * time.Minute)) {
		t.Error("CreatedAt is not recent")
	}

	var paths []string
	for _, f := range manifest.Files {
		paths = append(paths, f.Path)
		if !strings.HasPrefix(f.SHA256, "sha256:") {
			t.Errorf("%s: SHA256 = %q, want sha256: prefix", f.Path, f.SHA256)
		}
	}

	want := []string{".env.example", "README.md", "src/main.go", "src/subdir/helper.go"}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("captured paths mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshotIDDeterminism(t *testing.T) {
	tmpDir := t.TempDir()
	createTestWorkspace(t, tmpDir)

	first, err := Capture(tmpDir)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	second, err := Capture(tmpDir)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}

	if first.SnapshotID != second.SnapshotID {
		t.Errorf("snapshot IDs differ: %s vs %s", first.SnapshotID, second.SnapshotID)
	}
}

func TestDiff(t *testing.T) {
	tmpDir := t.TempDir()
	createTestWorkspace(t, tmpDir)

	before, err := Capture(tmpDir, "results")
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}

	writeFile(t, tmpDir, "src/main.go", "package main\n\nfunc main() {}\n")
	writeFile(t, tmpDir, "docs/USAGE.md", "# Usage\n")
	writeFile(t, tmpDir, "results/run.json", "{}")
	if err := os.Remove(filepath.Join(tmpDir, "src/subdir/helper.go")); err != nil {
		t.Fatalf("remove: %v", err)
	}

	after, err := Capture(tmpDir, "results")
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if after.SnapshotID == before.SnapshotID {
		t.Error("snapshot ID should change with content")
	}

	want := Delta{
		Created:  []string{"docs/USAGE.md"},
		Modified: []string{"src/main.go"},
		Deleted:  []string{"src/subdir/helper.go"},
	}
	if diff := cmp.Diff(want, Diff(before, after)); diff != "" {
		t.Errorf("Diff mismatch (-want +got):\n%s", diff)
	}
}

func TestDiffUnchanged(t *testing.T) {
	tmpDir := t.TempDir()
	createTestWorkspace(t, tmpDir)

	m, err := Capture(tmpDir)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}

	d := Diff(m, m)
	if !d.Empty() {
		t.Errorf("expected empty delta, got %+v", d)
	}
	if d.Created == nil || d.Modified == nil || d.Deleted == nil {
		t.Error("delta lists should be empty, not nil, so they encode as []")
	}
}

func TestCaptureEmptyWorkspace(t *testing.T) {
	m, err := Capture(t.TempDir())
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if len(m.Files) != 0 {
		t.Errorf("expected no files, got %d", len(m.Files))
	}
}

func writeFile(t *testing.T, root, path, content string) {
	t.Helper()

	fullPath := filepath.Join(root, path)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0700); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(fullPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write file %s: %v", path, err)
	}
}

func createTestWorkspace(t *testing.T, root string) {
	t.Helper()

	files := map[string]string{
		"src/main.go":          "package main\n",
		"src/subdir/helper.go": "package subdir\n",
		"README.md":            "# Project\n",
		".env.example":         "KEY=\n",

		".git/config":         "[core]\n",
		"node_modules/pkg.js": "module.exports = {}\n",
		"results/old.json":    "{}",
	}

	for path, content := range files {
		writeFile(t, root, path, content)
	}
}
