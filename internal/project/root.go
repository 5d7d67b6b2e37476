package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ConfigNames lists the file names recognised as a project configuration,
// in lookup order.
var ConfigNames = []string{"quire.toml", "quire.yaml", "quire.yml"}

// FindConfig walks up from startDir to locate a project configuration file.
func FindConfig(startDir string) (path string, ok bool, err error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		for _, name := range ConfigNames {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, true, nil
			} else if !errors.Is(err, os.ErrNotExist) {
				return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// PathWithin reports whether path lies strictly inside root.
func PathWithin(root, path string) bool {
	if root == "" || path == "" {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !startsWithParent(rel)
}

func startsWithParent(rel string) bool {
	return len(rel) >= 3 && rel[:2] == ".." && os.IsPathSeparator(rel[2])
}
