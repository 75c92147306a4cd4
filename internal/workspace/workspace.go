// Package workspace validates the directory a run operates in and summarizes
// the file changes a run made to it.
package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/iambrandonn/planact/internal/snapshot"
)

var (
	// ErrNotDirectory means the workspace path is missing or not a directory.
	ErrNotDirectory = errors.New("workspace is not a directory")
	// ErrNotWritable means files cannot be created in the workspace.
	ErrNotWritable = errors.New("workspace is not writable")
)

// FileChanges lists workspace-relative paths created, modified and deleted during a run
type FileChanges = snapshot.Delta

// Validate checks that path is an existing, writable directory and returns its absolute form
func Validate(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace %s: %w", path, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s does not exist", ErrNotDirectory, abs)
		}
		return "", fmt.Errorf("failed to stat workspace %s: %w", abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotDirectory, abs)
	}

	probe, err := os.CreateTemp(abs, ".planact-probe-*")
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrNotWritable, abs, err)
	}
	probe.Close()
	os.Remove(probe.Name())

	return abs, nil
}

// EnsureGit initializes a git repository in root if there is none.
// It reports whether a repository is available afterwards; a missing git
// binary is not an error.
func EnsureGit(ctx context.Context, root string, logger *slog.Logger) (bool, error) {
	if _, err := exec.LookPath("git"); err != nil {
		logger.Warn("git not found, file changes will be computed from a manifest diff")
		return false, nil
	}

	// The workspace must be its own repository so status paths are relative to it.
	if _, err := os.Stat(filepath.Join(root, ".git")); err == nil {
		return true, nil
	}

	logger.Info("initializing git repository", "workspace", root)
	if _, err := runGit(ctx, root, "init"); err != nil {
		return false, fmt.Errorf("failed to initialize git repository: %w", err)
	}
	return true, nil
}

// CountEntries returns the number of entries in the workspace root
func CountEntries(root string) (int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return 0, fmt.Errorf("failed to list workspace: %w", err)
	}
	return len(entries), nil
}

// Inspector computes the file changes of one run
type Inspector struct {
	root     string
	exclude  []string
	useGit   bool
	baseline *snapshot.Manifest
	logger   *slog.Logger
}

// NewInspector prepares change tracking for root. Without git a content
// manifest is captured now and diffed later. exclude holds root-relative
// directories whose contents are never reported.
func NewInspector(root string, useGit bool, exclude []string, logger *slog.Logger) *Inspector {
	i := &Inspector{
		root:    root,
		exclude: exclude,
		useGit:  useGit,
		logger:  logger.With("component", "workspace"),
	}
	if !useGit {
		m, err := snapshot.Capture(root, exclude...)
		if err != nil {
			i.logger.Warn("failed to capture baseline manifest", "error", err)
		}
		i.baseline = m
	}
	return i
}

// Changes summarizes what changed in the workspace
func (i *Inspector) Changes(ctx context.Context) (FileChanges, error) {
	if i.useGit {
		out, err := runGit(ctx, i.root, "status", "--porcelain=v1", "--untracked-files=all", "--no-renames")
		if err == nil {
			return i.filter(parsePorcelain(out)), nil
		}
		i.logger.Warn("git status failed", "error", err)
		if i.baseline == nil {
			return emptyChanges(), err
		}
	}

	if i.baseline == nil {
		return emptyChanges(), fmt.Errorf("no baseline manifest for %s", i.root)
	}
	current, err := snapshot.Capture(i.root, i.exclude...)
	if err != nil {
		return emptyChanges(), err
	}
	return snapshot.Diff(i.baseline, current), nil
}

// parsePorcelain maps `git status --porcelain=v1` lines onto change lists
func parsePorcelain(out string) FileChanges {
	changes := emptyChanges()

	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		code, path := line[:2], strings.Trim(line[3:], `"`)

		switch {
		case code == "??" || code[0] == 'A':
			changes.Created = append(changes.Created, path)
		case code[0] == 'D' || code[1] == 'D':
			changes.Deleted = append(changes.Deleted, path)
		default:
			changes.Modified = append(changes.Modified, path)
		}
	}

	sort.Strings(changes.Created)
	sort.Strings(changes.Modified)
	sort.Strings(changes.Deleted)
	return changes
}

func (i *Inspector) filter(c FileChanges) FileChanges {
	keep := func(paths []string) []string {
		out := []string{}
		for _, p := range paths {
			if !i.excluded(p) {
				out = append(out, p)
			}
		}
		return out
	}
	return FileChanges{
		Created:  keep(c.Created),
		Modified: keep(c.Modified),
		Deleted:  keep(c.Deleted),
	}
}

func (i *Inspector) excluded(path string) bool {
	for _, e := range i.exclude {
		e = strings.Trim(filepath.ToSlash(e), "/")
		if path == e || strings.HasPrefix(path, e+"/") {
			return true
		}
	}
	return false
}

func emptyChanges() FileChanges {
	return FileChanges{Created: []string{}, Modified: []string{}, Deleted: []string{}}
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		text := strings.TrimSpace(stderr.String())
		if text == "" {
			text = err.Error()
		}
		return "", fmt.Errorf("git %s failed in %s: %s", strings.Join(args, " "), dir, text)
	}
	return stdout.String(), nil
}
