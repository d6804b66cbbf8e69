package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrS3NotConfigured is returned when S3 operations are attempted
	// without proper configuration.
	ErrS3NotConfigured = errors.New("S3 storage is not configured")

	// ErrOutsideRoot is returned when asked to remove a directory that this
	// storage did not create.
	ErrOutsideRoot = errors.New("path is outside the storage root")
)

const (
	inputsDir  = "inputs"
	outputsDir = "outputs"
)

// LocalStorage implements Storage on local disk. Uploads go to
// <root>/inputs/<request dir>/ and finished videos to <root>/outputs/.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates a LocalStorage rooted at root, creating it if needed.
// An empty root uses a directory under os.TempDir().
func NewLocalStorage(root string) (*LocalStorage, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "video-assembly")
	}

	for _, dir := range []string{root, filepath.Join(root, inputsDir), filepath.Join(root, outputsDir)} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	return &LocalStorage{root: root}, nil
}

// TempDir returns the storage root.
func (s *LocalStorage) TempDir() string {
	return s.root
}

// NewInputDir implements Storage.
func (s *LocalStorage) NewInputDir(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context cancelled: %w", err)
	}

	dir, err := os.MkdirTemp(filepath.Join(s.root, inputsDir), "req-*")
	if err != nil {
		return "", fmt.Errorf("create input directory: %w", err)
	}
	return dir, nil
}

// SaveTemp implements Storage. The file is named <stem>_<random><ext>.
func (s *LocalStorage) SaveTemp(ctx context.Context, dir, name string, data io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context cancelled: %w", err)
	}

	stem, ext := splitName(name)
	f, err := os.CreateTemp(dir, stem+"_*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	fileName := f.Name()
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(fileName)
		return "", fmt.Errorf("write temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(fileName)
		return "", fmt.Errorf("close temp file: %w", err)
	}

	return fileName, nil
}

// OutputPath implements Storage.
func (s *LocalStorage) OutputPath(name string) (string, error) {
	stem, ext := splitName(name)
	if ext == "" {
		ext = ".mp4"
	}
	dir := filepath.Join(s.root, outputsDir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	return filepath.Join(dir, stem+ext), nil
}

// LoadTemp implements Storage.
func (s *LocalStorage) LoadTemp(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	f, err := os.Open(path) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return nil, fmt.Errorf("open temp file: %w", err)
	}

	return f, nil
}

// CleanupTemp implements Storage, returning the first error encountered.
func (s *LocalStorage) CleanupTemp(_ context.Context, paths []string) error {
	var firstErr error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove temp file %s: %w", p, err)
			}
		}
	}
	return firstErr
}

// CleanupDir implements Storage. Cleanup runs even when ctx is already
// cancelled, since it usually follows a cancelled request.
func (s *LocalStorage) CleanupDir(_ context.Context, dir string) error {
	if dir == "" {
		return nil
	}
	rel, err := filepath.Rel(s.root, dir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("%w: %s", ErrOutsideRoot, dir)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove directory %s: %w", dir, err)
	}
	return nil
}

// UploadToS3 is not supported by LocalStorage and returns ErrS3NotConfigured.
func (s *LocalStorage) UploadToS3(_ context.Context, _, _ string, _ io.Reader) (string, error) {
	return "", ErrS3NotConfigured
}

// splitName reduces a client-supplied file name to a safe stem and a
// lower-case extension.
func splitName(name string) (stem, ext string) {
	base := filepath.Base(filepath.Clean("/" + name))
	ext = strings.ToLower(filepath.Ext(base))
	stem = strings.TrimSuffix(base, filepath.Ext(base))

	stem = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, stem)
	if stem == "" || strings.Trim(stem, "_") == "" {
		stem = "file"
	}
	if len(ext) > 8 || strings.ContainsAny(ext, "*/\\") {
		ext = ""
	}
	return stem, ext
}

// Compile-time check that LocalStorage implements Storage.
var _ Storage = (*LocalStorage)(nil)
