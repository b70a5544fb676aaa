package filesync

import (
	"context"
	"io"
)

// ReadOnlyFileSystem wraps a FileSystem to prevent all write operations.
// The sync engine wraps every source in one so that a bug can never
// mutate the tree being copied from.
//
//	src := filesync.ReadOnly(fs)
//	err := src.Delete(ctx, "a.txt") // wraps ErrReadOnly
type ReadOnlyFileSystem struct {
	fs FileSystem

	// OnWriteAttempt, when set, is called with the operation and path of
	// each rejected write, before ErrReadOnly is returned.
	OnWriteAttempt func(op, path string)
}

// ReadOnly returns a read-only view of fs.
func ReadOnly(fs FileSystem) *ReadOnlyFileSystem {
	if ro, ok := fs.(*ReadOnlyFileSystem); ok {
		return ro
	}
	return &ReadOnlyFileSystem{fs: fs}
}

// Unwrap returns the underlying FileSystem
func (r *ReadOnlyFileSystem) Unwrap() FileSystem {
	return r.fs
}

func (r *ReadOnlyFileSystem) readOnlyError(op, path string) error {
	if r.OnWriteAttempt != nil {
		r.OnWriteAttempt(op, path)
	}
	return &PathError{Op: op, Path: path, Err: ErrReadOnly}
}

// Read implements FileReader
func (r *ReadOnlyFileSystem) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	return r.fs.Read(ctx, path)
}

// Stat implements FileReader
func (r *ReadOnlyFileSystem) Stat(ctx context.Context, path string) (*ObjectInfo, error) {
	return r.fs.Stat(ctx, path)
}

// DirExists implements FileReader
func (r *ReadOnlyFileSystem) DirExists(ctx context.Context, path string) (bool, error) {
	return r.fs.DirExists(ctx, path)
}

// List implements FileReader
func (r *ReadOnlyFileSystem) List(ctx context.Context, prefix string, recursive bool, fn ListFunc) error {
	return r.fs.List(ctx, prefix, recursive, fn)
}

// Write always fails with ErrReadOnly
func (r *ReadOnlyFileSystem) Write(ctx context.Context, path string, content io.Reader, options ...Option) error {
	return r.readOnlyError("write", path)
}

// Delete always fails with ErrReadOnly
func (r *ReadOnlyFileSystem) Delete(ctx context.Context, path string) error {
	return r.readOnlyError("delete", path)
}

// CopyTo forwards to the wrapped backend; copying out of a read-only
// source does not modify it.
func (r *ReadOnlyFileSystem) CopyTo(ctx context.Context, srcPath string, dst FileSystem, dstPath string, options ...Option) error {
	c, ok := r.fs.(CanCopy)
	if !ok {
		return &PathError{Op: "copy", Path: srcPath, Err: ErrNotSupported}
	}
	return c.CopyTo(ctx, srcPath, dst, dstPath, options...)
}

// Checksums forwards to the wrapped backend, or streams the content when
// it has no native support.
func (r *ReadOnlyFileSystem) Checksums(ctx context.Context, path string, algorithms []ChecksumAlgorithm) (map[ChecksumAlgorithm]string, error) {
	return FileChecksums(ctx, r.fs, path, algorithms)
}

// Close closes the wrapped backend if it holds resources.
func (r *ReadOnlyFileSystem) Close() error {
	if c, ok := r.fs.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
