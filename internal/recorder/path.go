package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iambrandonn/planact/internal/fsutil"
)

// DefaultMaxTaskChars caps the task-derived part of a generated filename
const DefaultMaxTaskChars = 50

// ErrInvalidFilename means a requested results filename would land outside the results directory
var ErrInvalidFilename = errors.New("invalid results filename")

// Filename derives a results filename from the task text: every character
// outside [a-zA-Z0-9] becomes "_", the result is lowercased, capped at
// maxChars and suffixed with the start timestamp.
func Filename(task string, maxChars int, now time.Time) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxTaskChars
	}

	var b strings.Builder
	for _, r := range task {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteByte('_')
		}
	}
	sanitized := b.String()
	if len(sanitized) > maxChars {
		sanitized = sanitized[:maxChars]
	}

	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(now.UTC().Format("2006-01-02T15:04:05.000Z"))
	return fmt.Sprintf("%s_%s.json", sanitized, stamp)
}

// ResultsPath returns the snapshot path for a run inside dir, creating dir.
// requested, when set, is used as the filename with a ".json" suffix enforced
// and must stay inside dir.
func ResultsPath(dir, task, requested string, maxChars int, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create results directory: %w", err)
	}

	name := Filename(task, maxChars, now)
	if requested != "" {
		name = requested
		if !strings.HasSuffix(name, ".json") {
			name += ".json"
		}
	}

	path, err := fsutil.ResolveWithin(dir, name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidFilename, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("failed to create results directory: %w", err)
	}
	return path, nil
}

// SidecarPath returns a file next to the snapshot sharing its base name,
// for example "<name>.events.ndjson".
func SidecarPath(snapshotPath, suffix string) string {
	return strings.TrimSuffix(snapshotPath, ".json") + suffix
}
