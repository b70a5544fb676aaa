package local

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobeaver/filesync"
)

// Adapter provides a local filesystem implementation of filesync.FileSystem
// rooted at a directory. Paths reported by List use the OS separator.
type Adapter struct {
	root string
}

// New creates a new local filesystem adapter. The root does not have to
// exist yet; it is created by the first Write.
func New(root string) (*Adapter, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	return &Adapter{
		root: absRoot,
	}, nil
}

// Root returns the absolute root directory.
func (a *Adapter) Root() string {
	return a.root
}

// resolve maps a root-relative path onto the filesystem.
func (a *Adapter) resolve(op, path string) (string, error) {
	fullPath := filepath.Join(a.root, filepath.Clean(filepath.FromSlash(path)))
	if !isPathUnderRoot(a.root, fullPath) {
		return "", &filesync.PathError{
			Op:   op,
			Path: path,
			Err:  filesync.ErrNotAllowed,
		}
	}
	return fullPath, nil
}

// Write implements filesync.FileWriter. Content is written to a temporary
// file next to the target and renamed into place.
func (a *Adapter) Write(ctx context.Context, path string, content io.Reader, options ...filesync.Option) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	fullPath, err := a.resolve("write", path)
	if err != nil {
		return err
	}

	// Ensure the directory exists
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return mapOSError("write", path, err)
	}

	tmp, err := os.CreateTemp(dir, ".filesync-*")
	if err != nil {
		return mapOSError("write", path, err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return mapOSError("write", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return mapOSError("write", path, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return mapOSError("write", path, err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		os.Remove(tmpName)
		return mapOSError("write", path, err)
	}

	return nil
}

// Read implements filesync.FileReader
func (a *Adapter) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	fullPath, err := a.resolve("read", path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		return nil, mapOSError("read", path, err)
	}

	return f, nil
}

// Delete implements filesync.FileWriter
func (a *Adapter) Delete(ctx context.Context, path string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	fullPath, err := a.resolve("delete", path)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil {
		return mapOSError("delete", path, err)
	}

	return nil
}

// DirExists implements filesync.FileReader
func (a *Adapter) DirExists(ctx context.Context, path string) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	fullPath, err := a.resolve("direxists", path)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, mapOSError("direxists", path, err)
	}

	return info.IsDir(), nil
}

// Stat implements filesync.FileReader. Symbolic links are followed; the
// returned info has Symlink set.
func (a *Adapter) Stat(ctx context.Context, path string) (*filesync.ObjectInfo, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	fullPath, err := a.resolve("stat", path)
	if err != nil {
		return nil, err
	}

	info, err := os.Lstat(fullPath)
	if err != nil {
		return nil, mapOSError("stat", path, err)
	}

	obj, ok := a.objectInfo(fullPath, path, info)
	if !ok {
		return nil, &filesync.PathError{Op: "stat", Path: path, Err: filesync.ErrNotSupported}
	}
	return &obj, nil
}

// objectInfo converts a lstat result. It reports false for sockets, pipes
// and devices, which have no object store counterpart.
func (a *Adapter) objectInfo(fullPath, relPath string, info os.FileInfo) (filesync.ObjectInfo, bool) {
	obj := filesync.ObjectInfo{
		Path:    relPath,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}

	if info.Mode()&os.ModeSymlink != 0 {
		obj.Symlink = true
		target, err := os.Stat(fullPath)
		if err != nil {
			// Dangling link: report it so that copying it fails visibly.
			obj.Size = 0
			return obj, true
		}
		info = target
		obj.Size = target.Size()
		obj.ModTime = target.ModTime()
		obj.IsDir = target.IsDir()
	}

	if !info.IsDir() && !info.Mode().IsRegular() {
		return obj, false
	}
	if !obj.IsDir {
		obj.ContentType = filesync.DetectContentType(fullPath)
	}
	return obj, true
}

// List implements filesync.FileReader. A missing root lists as an error
// wrapping ErrNotExist.
func (a *Adapter) List(ctx context.Context, prefix string, recursive bool, fn filesync.ListFunc) error {
	fullPath, err := a.resolve("list", prefix)
	if err != nil {
		return err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return mapOSError("list", prefix, err)
	}
	if !info.IsDir() {
		return &filesync.PathError{Op: "list", Path: prefix, Err: filesync.ErrNotDir}
	}

	if !recursive {
		entries, err := os.ReadDir(fullPath)
		if err != nil {
			return mapOSError("list", prefix, err)
		}
		for _, entry := range entries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			entryPath := filepath.Join(fullPath, entry.Name())
			relPath := filepath.Join(filepath.FromSlash(prefix), entry.Name())
			info, err := entry.Info()
			if err != nil {
				if os.IsNotExist(err) {
					if err := fn(vanished(relPath)); err != nil {
						return err
					}
					continue
				}
				return mapOSError("list", prefix, err)
			}
			obj, ok := a.objectInfo(entryPath, relPath, info)
			if !ok {
				continue
			}
			if err := fn(obj); err != nil {
				return err
			}
		}
		return nil
	}

	// WalkDir does not descend into symlinked directories.
	var stopErr error
	err = filepath.WalkDir(fullPath, func(walkPath string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && walkPath != fullPath {
				return a.reportVanished(walkPath, fn, &stopErr)
			}
			return err
		}
		if walkPath == fullPath {
			return nil
		}

		if err := ctx.Err(); err != nil {
			stopErr = err
			return err
		}

		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return a.reportVanished(walkPath, fn, &stopErr)
			}
			return err
		}

		relPath, err := filepath.Rel(a.root, walkPath)
		if err != nil {
			return err
		}

		obj, ok := a.objectInfo(walkPath, relPath, info)
		if !ok || obj.IsDir {
			return nil
		}
		if err := fn(obj); err != nil {
			stopErr = err
			return err
		}
		return nil
	})
	if stopErr != nil {
		return stopErr
	}
	if err != nil {
		return mapOSError("list", prefix, err)
	}

	return nil
}

// reportVanished hands fn an entry that disappeared during a walk. An
// error from fn is kept in stopErr so that List returns it unwrapped.
func (a *Adapter) reportVanished(walkPath string, fn filesync.ListFunc, stopErr *error) error {
	relPath, err := filepath.Rel(a.root, walkPath)
	if err != nil {
		return err
	}
	if err := fn(vanished(relPath)); err != nil {
		*stopErr = err
		return err
	}
	return nil
}

// vanished describes an entry that was enumerated but no longer exists.
func vanished(relPath string) filesync.ObjectInfo {
	return filesync.ObjectInfo{Path: relPath, Vanished: true}
}

// Checksums implements filesync.CanChecksum by hashing the file in one pass.
func (a *Adapter) Checksums(ctx context.Context, path string, algorithms []filesync.ChecksumAlgorithm) (map[filesync.ChecksumAlgorithm]string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	fullPath, err := a.resolve("checksums", path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		return nil, mapOSError("checksums", path, err)
	}
	defer file.Close()

	digests, err := filesync.CalculateChecksums(file, algorithms)
	if err != nil {
		return nil, &filesync.PathError{Op: "checksums", Path: path, Err: err}
	}

	out := make(map[filesync.ChecksumAlgorithm]string, len(digests))
	for algo := range digests {
		out[algo] = digests.Base64(algo)
	}
	return out, nil
}

func isPathUnderRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}

	return !filepath.IsAbs(rel) && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// mapOSError maps os errors to filesync errors
func mapOSError(op, path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		err = filesync.ErrNotExist
	case errors.Is(err, fs.ErrPermission):
		err = filesync.ErrPermission
	}
	return &filesync.PathError{Op: op, Path: path, Err: err}
}
