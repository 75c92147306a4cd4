// Package snapshot captures content manifests of a workspace and diffs them.
// It backs file-change summaries for workspaces where git cannot be used.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FileInfo represents a single file in the manifest
type FileInfo struct {
	Path   string    `json:"path"`
	SHA256 string    `json:"sha256"`
	Size   int64     `json:"size"`
	Mtime  time.Time `json:"mtime"`
}

// Manifest represents a workspace snapshot
type Manifest struct {
	SnapshotID string     `json:"snapshot_id"`
	CreatedAt  time.Time  `json:"created_at"`
	Files      []FileInfo `json:"files"`
}

// Delta lists workspace-relative paths that changed between two manifests
type Delta struct {
	Created  []string `json:"created"`
	Modified []string `json:"modified"`
	Deleted  []string `json:"deleted"`
}

// Empty reports whether nothing changed
func (d Delta) Empty() bool {
	return len(d.Created) == 0 && len(d.Modified) == 0 && len(d.Deleted) == 0
}

// alwaysExcluded are directory names never tracked
var alwaysExcluded = map[string]bool{
	".git":         true,
	"node_modules": true,
	".cache":       true,
}

// Capture walks root and hashes every regular file. exclude holds
// root-relative slash paths of directories to skip, such as the results dir.
func Capture(root string, exclude ...string) (*Manifest, error) {
	skip := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		skip[strings.Trim(filepath.ToSlash(filepath.Clean(e)), "/")] = true
	}

	var files []FileInfo
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("failed to compute relative path: %w", err)
		}
		relPath = filepath.ToSlash(relPath)

		if d.IsDir() {
			if path != root && (alwaysExcluded[d.Name()] || skip[relPath]) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", relPath, err)
		}
		hash, err := hashFile(path)
		if err != nil {
			return fmt.Errorf("failed to compute checksum for %s: %w", relPath, err)
		}

		files = append(files, FileInfo{
			Path:   relPath,
			SHA256: hash,
			Size:   info.Size(),
			Mtime:  info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	// Sorted so the snapshot ID does not depend on walk order.
	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})

	manifest := &Manifest{
		CreatedAt: time.Now().UTC(),
		Files:     files,
	}
	manifest.SnapshotID, err = computeSnapshotID(files)
	if err != nil {
		return nil, err
	}
	return manifest, nil
}

// Diff compares two manifests by content hash
func Diff(before, after *Manifest) Delta {
	old := make(map[string]string, len(before.Files))
	for _, f := range before.Files {
		old[f.Path] = f.SHA256
	}

	d := Delta{Created: []string{}, Modified: []string{}, Deleted: []string{}}
	for _, f := range after.Files {
		prev, ok := old[f.Path]
		switch {
		case !ok:
			d.Created = append(d.Created, f.Path)
		case prev != f.SHA256:
			d.Modified = append(d.Modified, f.Path)
		}
		delete(old, f.Path)
	}
	for path := range old {
		d.Deleted = append(d.Deleted, path)
	}
	sort.Strings(d.Deleted)
	return d
}

// computeSnapshotID is "snap-" + the first 12 hex chars of the file list hash
func computeSnapshotID(files []FileInfo) (string, error) {
	type entry struct {
		Path   string `json:"path"`
		SHA256 string `json:"sha256"`
	}
	entries := make([]entry, len(files))
	for i, f := range files {
		entries[i] = entry{Path: f.Path, SHA256: f.SHA256}
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("failed to encode manifest: %w", err)
	}
	sum := sha256.Sum256(data)
	return "snap-" + hex.EncodeToString(sum[:])[:12], nil
}

func hashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return "sha256:" + hex.EncodeToString(hasher.Sum(nil)), nil
}
