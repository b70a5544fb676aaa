package filesync

import (
	"context"
	"io"
	"time"
)

// ObjectInfo describes a single file or object as reported by a backend.
type ObjectInfo struct {
	// Path is relative to the root the FileSystem was opened on and always
	// uses "/" as separator.
	Path        string
	Size        int64
	ModTime     time.Time
	IsDir       bool
	ContentType string

	// CRC32C and MD5 are base64-encoded raw digests; empty when the backend
	// does not report them (composite objects, multipart uploads, local files).
	CRC32C string
	MD5    string

	// Metadata and CacheControl are the user metadata and Cache-Control
	// header stored with cloud objects. Only Stat is required to fill them.
	Metadata     map[string]string
	CacheControl string

	// Generation identifies the object version on backends that support it.
	Generation int64

	// Symlink is set by the local driver for symbolic links.
	Symlink bool

	// Unsupported marks objects that cannot be read without extra steps,
	// such as archived S3 storage classes.
	Unsupported bool

	// Vanished marks an entry that was enumerated but removed before it
	// could be inspected. Only Path is set.
	Vanished bool
}

// HasChecksum reports whether any digest is known for the object.
func (o ObjectInfo) HasChecksum() bool {
	return o.CRC32C != "" || o.MD5 != ""
}

// ListFunc is called once per object during a listing. Returning an error
// stops the listing and is returned by List.
type ListFunc func(ObjectInfo) error

// FileReader provides the read side of a storage backend.
type FileReader interface {
	// Read opens the object at path for reading.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Stat returns information about the object at path.
	Stat(ctx context.Context, path string) (*ObjectInfo, error)

	// DirExists reports whether path names a directory, or a prefix with at
	// least one object below it.
	DirExists(ctx context.Context, path string) (bool, error)

	// List streams the objects under prefix. Directories are not reported
	// when recursive is set.
	List(ctx context.Context, prefix string, recursive bool, fn ListFunc) error
}

// FileWriter provides the write side of a storage backend.
type FileWriter interface {
	// Write stores the content at path, replacing any existing object.
	Write(ctx context.Context, path string, content io.Reader, options ...Option) error

	// Delete removes the object at path.
	Delete(ctx context.Context, path string) error
}

// FileSystem is a full read/write storage backend.
type FileSystem interface {
	FileReader
	FileWriter
}

// ChecksumAlgorithm names a digest supported by NewHasher.
type ChecksumAlgorithm string

const (
	ChecksumMD5    ChecksumAlgorithm = "md5"
	ChecksumSHA1   ChecksumAlgorithm = "sha1"
	ChecksumSHA256 ChecksumAlgorithm = "sha256"
	ChecksumSHA512 ChecksumAlgorithm = "sha512"
	ChecksumCRC32  ChecksumAlgorithm = "crc32"
	ChecksumCRC32C ChecksumAlgorithm = "crc32c"
	ChecksumXXHash ChecksumAlgorithm = "xxhash"
)

// ============================================================================
// Optional Capability Interfaces
// ============================================================================

// CanCopy is implemented by backends with a server-side copy. CopyTo returns
// an error wrapping ErrNotSupported when dst is not a compatible backend, in
// which case callers fall back to streaming the content.
type CanCopy interface {
	CopyTo(ctx context.Context, srcPath string, dst FileSystem, dstPath string, options ...Option) error
}

// CanChecksum is implemented by backends that can compute digests without
// the caller streaming the content.
type CanChecksum interface {
	// Checksums returns base64-encoded digests keyed by algorithm.
	Checksums(ctx context.Context, path string, algorithms []ChecksumAlgorithm) (map[ChecksumAlgorithm]string, error)
}
