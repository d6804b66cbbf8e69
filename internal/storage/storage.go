// Package storage holds uploaded inputs and finished videos on local disk and
// optionally publishes videos to S3.
package storage

import (
	"context"
	"io"
)

// Storage defines the interface for request-scoped files and video delivery.
type Storage interface {
	// NewInputDir creates an empty directory for one request's uploads.
	NewInputDir(ctx context.Context) (dir string, err error)

	// SaveTemp writes data to a new file inside dir and returns its path.
	// The name is a hint; its extension is preserved so ffmpeg can pick a
	// demuxer from it.
	SaveTemp(ctx context.Context, dir, name string, data io.Reader) (path string, err error)

	// OutputPath returns the path at which the video named name should be
	// written. The parent directory exists when it returns.
	OutputPath(name string) (string, error)

	// LoadTemp opens a stored file for reading.
	// The caller is responsible for closing the returned ReadCloser.
	LoadTemp(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupTemp removes the specified files.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// CleanupDir removes a directory created by NewInputDir and its contents.
	CleanupDir(ctx context.Context, dir string) error

	// UploadToS3 uploads data to S3 and returns its URL.
	// Returns ErrS3NotConfigured if S3 is not configured.
	UploadToS3(ctx context.Context, key, contentType string, data io.Reader) (url string, err error)
}
