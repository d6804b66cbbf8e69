package assembly

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	silentVideoName   = "silent_video.mp4"
	combinedAudioName = "combined_audio.m4a"
)

// Workspace is a scratch directory owned by a single assembly request.
type Workspace struct {
	dir string
}

// NewWorkspace creates a fresh, uniquely named directory under root.
// An empty root uses the system temp directory.
func NewWorkspace(root string) (*Workspace, error) {
	if root != "" {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("create workspace root: %w", err)
		}
	}
	dir, err := os.MkdirTemp(root, "asm-*")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{dir: dir}, nil
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string {
	return w.dir
}

// Path returns the path of name inside the workspace.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, name)
}

// SegmentPath returns the output path of the segment at position i.
func (w *Workspace) SegmentPath(i int) string {
	return w.Path(fmt.Sprintf("segment_%03d.mp4", i))
}

// Remove deletes the workspace and everything in it.
func (w *Workspace) Remove() error {
	return os.RemoveAll(w.dir)
}
