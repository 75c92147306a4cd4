// Package fsutil provides durable file writes and path containment checks.
package fsutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AtomicWrite replaces path with data. The bytes go to a hidden temp file in
// the same directory, which is synced and renamed over path, and the
// directory is synced after the rename. Missing parents are created 0700 and
// the file ends up 0600.
func AtomicWrite(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	return syncDir(dir)
}

// AtomicWriteJSON writes v as indented JSON with a trailing newline.
// Readers of the file see either the previous snapshot or the new one.
func AtomicWriteJSON(path string, v any) error {
	if v == nil {
		return errors.New("cannot write nil value")
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return AtomicWrite(path, append(data, '\n'))
}

func syncDir(path string) error {
	dir, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open directory %s: %w", path, err)
	}
	defer dir.Close()

	if err := dir.Sync(); err != nil {
		return fmt.Errorf("failed to sync directory %s: %w", path, err)
	}
	return nil
}

// ResolveWithin resolves relative against root and rejects results that leave it,
// either lexically or through a symlink. root must exist.
func ResolveWithin(root, relative string) (string, error) {
	if filepath.IsAbs(relative) {
		return "", fmt.Errorf("absolute paths not allowed: %s", relative)
	}

	rootAbs, err := filepath.Abs(root)
	if err == nil {
		rootAbs, err = filepath.EvalSymlinks(rootAbs)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve root %s: %w", root, err)
	}

	target := filepath.Join(rootAbs, relative)
	if outside(rootAbs, target) {
		return "", fmt.Errorf("path escapes %s: %s", root, relative)
	}

	if _, err := os.Lstat(target); err != nil {
		// Not created yet; the lexical check is all there is.
		return target, nil
	}
	resolved, err := filepath.EvalSymlinks(target)
	if err != nil {
		return "", fmt.Errorf("failed to resolve symlinks: %w", err)
	}
	if outside(rootAbs, resolved) {
		return "", fmt.Errorf("symlink escapes %s: %s", root, relative)
	}
	return resolved, nil
}

func outside(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
