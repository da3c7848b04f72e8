package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathValidator confines template, import and output paths to the workspace directory
type PathValidator struct {
	workspace string
}

// NewPathValidator creates a validator for the workspace directory. The directory does not
// have to exist yet.
func NewPathValidator(workspace string) (*PathValidator, error) {
	if workspace == "" {
		return nil, fmt.Errorf("workspace directory cannot be empty")
	}

	abs, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace directory: %w", err)
	}
	return &PathValidator{workspace: filepath.Clean(abs)}, nil
}

// Workspace returns the absolute workspace directory
func (v *PathValidator) Workspace() string {
	return v.workspace
}

// Resolve turns path into an absolute path inside the workspace. Relative paths are taken
// relative to the workspace. Null bytes are stripped before resolving.
func (v *PathValidator) Resolve(path string) (string, error) {
	path = strings.ReplaceAll(path, "\x00", "")
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(v.workspace, path)
	}
	abs := filepath.Clean(path)

	if err := v.ValidatePath(abs); err != nil {
		return "", err
	}
	return abs, nil
}

// ValidatePath checks that an absolute path lies inside the workspace, following symlinks
func (v *PathValidator) ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	within, err := v.IsPathWithinWorkspace(path)
	if err != nil {
		return fmt.Errorf("path validation failed: %w", err)
	}
	if !within {
		return fmt.Errorf("path is outside the workspace: %s", path)
	}
	return nil
}

// IsPathWithinWorkspace reports whether path, and the file it links to if it is a symlink, lie
// inside the workspace
func (v *PathValidator) IsPathWithinWorkspace(path string) (bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, fmt.Errorf("failed to resolve path: %w", err)
	}
	clean := filepath.Clean(abs)

	realPath := clean
	if info, err := os.Lstat(clean); err == nil && info.Mode()&os.ModeSymlink != 0 {
		if resolved, err := filepath.EvalSymlinks(clean); err == nil {
			realPath = resolved
		}
	}

	dirs := []string{v.workspace}
	if resolved, err := filepath.EvalSymlinks(v.workspace); err == nil && resolved != v.workspace {
		dirs = append(dirs, resolved)
	}

	inside := func(p string) bool {
		for _, dir := range dirs {
			if p == dir || strings.HasPrefix(p, dir+string(filepath.Separator)) {
				return true
			}
		}
		return false
	}

	return inside(clean) && inside(realPath), nil
}
