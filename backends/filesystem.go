package backends

import (
	"context"
	"os"
)

// FilesystemWiper removes a local store directory.
type FilesystemWiper struct {
	path string
}

// NewFilesystemWiper creates a filesystem wiper.
func NewFilesystemWiper(cfg FilesystemConfig) *FilesystemWiper {
	return &FilesystemWiper{path: cfg.Path}
}

// Wipe removes the store directory and everything under it.
func (f *FilesystemWiper) Wipe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.RemoveAll(f.path); err != nil {
		return &BackendError{Backend: "filesystem", Op: "remove " + f.path, Err: err}
	}
	return nil
}

// Name returns the backend name
func (f *FilesystemWiper) Name() string {
	return "filesystem"
}

// Close is a no-op.
func (f *FilesystemWiper) Close() error {
	return nil
}
