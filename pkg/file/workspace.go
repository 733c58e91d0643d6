package file

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Workspace is a private temporary directory for one unit of work.
// Cleanup removes everything written into it and is safe to call twice.
type Workspace struct {
	dir string
}

func NewWorkspace(parent string, pattern string) (*Workspace, error) {
	if strings.TrimSpace(pattern) == "" {
		pattern = "vidsub-*"
	}
	dir, err := os.MkdirTemp(parent, pattern)
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{dir: dir}, nil
}

func (w *Workspace) Dir() string {
	return w.dir
}

// Path joins name onto the workspace, refusing names that escape it.
func (w *Workspace) Path(name string) (string, error) {
	clean := filepath.Clean(name)
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid workspace file name %q", name)
	}
	return filepath.Join(w.dir, clean), nil
}

func (w *Workspace) WriteFile(name string, data []byte) (string, error) {
	path, err := w.Path(name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return path, nil
}

func (w *Workspace) ReadFile(name string) ([]byte, error) {
	path, err := w.Path(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func (w *Workspace) Cleanup() error {
	if w == nil || w.dir == "" {
		return nil
	}
	return os.RemoveAll(w.dir)
}
