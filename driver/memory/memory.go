package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/gobeaver/filesync"
)

// memoryObject represents an object stored in memory
type memoryObject struct {
	content     []byte
	contentType string
	metadata    map[string]string
	cacheCtl    string
	modTime     time.Time
	generation  int64
	crc32c      string
	md5         string
	acl         []string
}

// Adapter provides an in-memory object store implementing
// filesync.FileSystem. Keys are flat, "/" separated, and may end in "/"
// like the directory placeholders written by cloud console tools.
type Adapter struct {
	mu         sync.RWMutex
	objects    map[string]*memoryObject
	maxSize    int64 // Maximum total storage size (0 = unlimited)
	size       int64 // Current total size
	generation int64
	cfg        Config
}

// Config holds configuration for the memory adapter
type Config struct {
	// MaxSize is the maximum total storage size in bytes (0 = unlimited)
	MaxSize int64

	// NoMD5 and NoCRC32C hide the corresponding digest from Stat and List,
	// mimicking multipart uploads and composite objects.
	NoMD5    bool
	NoCRC32C bool
}

// New creates a new in-memory object store
func New(cfg ...Config) *Adapter {
	a := &Adapter{
		objects: make(map[string]*memoryObject),
	}
	if len(cfg) > 0 {
		a.cfg = cfg[0]
		a.maxSize = cfg[0].MaxSize
	}
	return a
}

func normalizePath(path string) string {
	return strings.TrimPrefix(path, "/")
}

func (a *Adapter) put(path string, data []byte, opts *filesync.Options, acl []string) error {
	digests, err := filesync.CalculateChecksums(bytes.NewReader(data), []filesync.ChecksumAlgorithm{
		filesync.ChecksumCRC32C, filesync.ChecksumMD5,
	})
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	newSize := a.size + int64(len(data))
	if existing, exists := a.objects[path]; exists {
		newSize -= int64(len(existing.content))
	}
	if a.maxSize > 0 && newSize > a.maxSize {
		return fmt.Errorf("store full: %d bytes exceeds limit of %d", newSize, a.maxSize)
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = filesync.DetectContentType(path)
	}

	a.generation++
	a.objects[path] = &memoryObject{
		content:     data,
		contentType: contentType,
		metadata:    maps.Clone(opts.Metadata),
		cacheCtl:    opts.CacheControl,
		modTime:     time.Now(),
		generation:  a.generation,
		crc32c:      digests.Base64(filesync.ChecksumCRC32C),
		md5:         digests.Base64(filesync.ChecksumMD5),
		acl:         acl,
	}
	a.size = newSize
	return nil
}

// Write implements filesync.FileWriter
func (a *Adapter) Write(ctx context.Context, path string, content io.Reader, options ...filesync.Option) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	path = normalizePath(path)
	if path == "" {
		return &filesync.PathError{Op: "write", Path: path, Err: filesync.ErrInvalidName}
	}

	data, err := io.ReadAll(content)
	if err != nil {
		return &filesync.PathError{Op: "write", Path: path, Err: err}
	}

	if err := a.put(path, data, filesync.ApplyOptions(options...), nil); err != nil {
		return &filesync.PathError{Op: "write", Path: path, Err: err}
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

	path = normalizePath(path)

	a.mu.RLock()
	defer a.mu.RUnlock()

	obj, exists := a.objects[path]
	if !exists {
		return nil, &filesync.PathError{Op: "read", Path: path, Err: filesync.ErrNotExist}
	}

	return io.NopCloser(bytes.NewReader(obj.content)), nil
}

// Delete implements filesync.FileWriter
func (a *Adapter) Delete(ctx context.Context, path string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	path = normalizePath(path)

	a.mu.Lock()
	defer a.mu.Unlock()

	obj, exists := a.objects[path]
	if !exists {
		return &filesync.PathError{Op: "delete", Path: path, Err: filesync.ErrNotExist}
	}

	a.size -= int64(len(obj.content))
	delete(a.objects, path)
	return nil
}

// DirExists implements filesync.FileReader. The bucket root always exists;
// any other prefix exists when at least one key lies below it.
func (a *Adapter) DirExists(ctx context.Context, path string) (bool, error) {
	dir := strings.TrimSuffix(normalizePath(path), "/")
	if dir == "" {
		return true, nil
	}
	dir += "/"

	a.mu.RLock()
	defer a.mu.RUnlock()

	for key := range a.objects {
		if strings.HasPrefix(key, dir) {
			return true, nil
		}
	}
	return false, nil
}

func (a *Adapter) info(key string, obj *memoryObject) filesync.ObjectInfo {
	info := filesync.ObjectInfo{
		Path:        key,
		Size:        int64(len(obj.content)),
		ModTime:     obj.modTime,
		ContentType: obj.contentType,
		Generation:  obj.generation,

		Metadata:     maps.Clone(obj.metadata),
		CacheControl: obj.cacheCtl,
	}
	if !a.cfg.NoCRC32C {
		info.CRC32C = obj.crc32c
	}
	if !a.cfg.NoMD5 {
		info.MD5 = obj.md5
	}
	return info
}

// Stat implements filesync.FileReader
func (a *Adapter) Stat(ctx context.Context, path string) (*filesync.ObjectInfo, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	path = normalizePath(path)

	a.mu.RLock()
	defer a.mu.RUnlock()

	obj, exists := a.objects[path]
	if !exists {
		return nil, &filesync.PathError{Op: "stat", Path: path, Err: filesync.ErrNotExist}
	}

	info := a.info(path, obj)
	return &info, nil
}

// List implements filesync.FileReader. Objects are reported in no
// particular order. Without recursion, keys below the next "/" are folded
// into a single directory entry.
func (a *Adapter) List(ctx context.Context, prefix string, recursive bool, fn filesync.ListFunc) error {
	prefix = normalizePath(prefix)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	// Snapshot so that fn may call back into the adapter.
	a.mu.RLock()
	var infos []filesync.ObjectInfo
	seenDirs := make(map[string]bool)
	for key, obj := range a.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := key[len(prefix):]
		if rest == "" {
			// The placeholder named by the prefix itself is not a child.
			continue
		}
		if !recursive {
			if i := strings.IndexByte(rest, '/'); i >= 0 && i < len(rest)-1 {
				dir := prefix + rest[:i]
				if !seenDirs[dir] {
					seenDirs[dir] = true
					infos = append(infos, filesync.ObjectInfo{Path: dir, IsDir: true})
				}
				continue
			}
		}
		infos = append(infos, a.info(key, obj))
	}
	a.mu.RUnlock()

	for _, info := range infos {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := fn(info); err != nil {
			return err
		}
	}
	return nil
}

// CopyTo implements filesync.CanCopy between memory stores.
func (a *Adapter) CopyTo(ctx context.Context, srcPath string, dst filesync.FileSystem, dstPath string, options ...filesync.Option) error {
	target, ok := dst.(*Adapter)
	if !ok {
		return &filesync.PathError{Op: "copy", Path: srcPath, Err: filesync.ErrNotSupported}
	}

	srcPath = normalizePath(srcPath)

	a.mu.RLock()
	obj, exists := a.objects[srcPath]
	var data []byte
	var acl []string
	var contentType, cacheCtl string
	var metadata map[string]string
	if exists {
		data = append([]byte(nil), obj.content...)
		acl = append([]string(nil), obj.acl...)
		contentType = obj.contentType
		cacheCtl = obj.cacheCtl
		metadata = obj.metadata
	}
	a.mu.RUnlock()

	if !exists {
		return &filesync.PathError{Op: "copy", Path: srcPath, Err: filesync.ErrNotExist}
	}

	opts := filesync.ApplyOptions(options...)
	if opts.ContentType == "" {
		opts.ContentType = contentType
	}
	if opts.Metadata == nil {
		opts.Metadata = metadata
	}
	if opts.CacheControl == "" {
		opts.CacheControl = cacheCtl
	}
	if !opts.PreserveACL {
		acl = nil
	}

	if err := target.put(normalizePath(dstPath), data, opts, acl); err != nil {
		return &filesync.PathError{Op: "copy", Path: dstPath, Err: err}
	}
	return nil
}

// SetACL replaces the ACL entries of an object.
func (a *Adapter) SetACL(path string, acl []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	obj, exists := a.objects[normalizePath(path)]
	if !exists {
		return &filesync.PathError{Op: "setacl", Path: path, Err: filesync.ErrNotExist}
	}
	obj.acl = append([]string(nil), acl...)
	return nil
}

// ACL returns the ACL entries of an object.
func (a *Adapter) ACL(path string) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	obj, exists := a.objects[normalizePath(path)]
	if !exists {
		return nil, &filesync.PathError{Op: "acl", Path: path, Err: filesync.ErrNotExist}
	}
	return append([]string(nil), obj.acl...), nil
}

// Keys returns all stored keys.
func (a *Adapter) Keys() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	keys := make([]string, 0, len(a.objects))
	for k := range a.objects {
		keys = append(keys, k)
	}
	return keys
}

// Size returns the current total storage size
func (a *Adapter) Size() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.size
}

// Clear removes all objects
func (a *Adapter) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects = make(map[string]*memoryObject)
	a.size = 0
}
