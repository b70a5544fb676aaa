package filesync

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// URL schemes understood by the registry.
const (
	SchemeFile  = "file"
	SchemeGCS   = "gs"
	SchemeS3    = "s3"
	SchemeAzure = "az"
	SchemeSFTP  = "sftp"
	SchemeMem   = "mem"
)

// StorageURL names a local path or a cloud bucket/object.
//
// For cloud schemes Bucket holds the bucket, container or host and Object
// the object name (or prefix) inside it. For local paths Bucket is empty
// and Object holds the filesystem path.
type StorageURL struct {
	Scheme string
	Bucket string
	Object string
}

// ParseURL parses a storage URL string. Strings without a scheme are local
// paths. The stream URL "-" is rejected.
func ParseURL(raw string) (*StorageURL, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty url", ErrInvalidURL)
	}
	if raw == "-" {
		return nil, fmt.Errorf("%w: streams are not supported here", ErrInvalidURL)
	}

	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return &StorageURL{Scheme: SchemeFile, Object: raw}, nil
	}

	scheme = strings.ToLower(scheme)
	switch scheme {
	case SchemeFile:
		if rest == "" {
			return nil, fmt.Errorf("%w: %s has no path", ErrInvalidURL, raw)
		}
		return &StorageURL{Scheme: SchemeFile, Object: rest}, nil
	case SchemeGCS, SchemeS3, SchemeAzure, SchemeSFTP, SchemeMem:
	default:
		return nil, fmt.Errorf("%w: unrecognized scheme %q", ErrInvalidURL, scheme)
	}

	bucket, object, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return nil, fmt.Errorf("%w: %s has no bucket", ErrInvalidURL, raw)
	}
	return &StorageURL{Scheme: scheme, Bucket: bucket, Object: object}, nil
}

// MustParseURL is like ParseURL but panics on error.
func MustParseURL(raw string) *StorageURL {
	u, err := ParseURL(raw)
	if err != nil {
		panic(err)
	}
	return u
}

// IsFileURL reports whether u names a local path.
func (u *StorageURL) IsFileURL() bool {
	return u.Scheme == SchemeFile
}

// IsCloudURL reports whether u names a bucket or object.
func (u *StorageURL) IsCloudURL() bool {
	return !u.IsFileURL()
}

// IsBucket reports whether u names a whole bucket.
func (u *StorageURL) IsBucket() bool {
	return u.IsCloudURL() && strings.Trim(u.Object, "/") == ""
}

// Delimiter returns the path separator used by the backend.
func (u *StorageURL) Delimiter() byte {
	if u.IsFileURL() {
		return os.PathSeparator
	}
	return '/'
}

// Join appends a "/"-separated relative path.
func (u *StorageURL) Join(rel string) *StorageURL {
	out := *u
	if rel == "" {
		return &out
	}
	if u.IsFileURL() {
		out.Object = filepath.Join(u.Object, filepath.FromSlash(rel))
		return &out
	}
	base := strings.TrimSuffix(u.Object, "/")
	if base == "" {
		out.Object = rel
	} else {
		out.Object = base + "/" + rel
	}
	return &out
}

// String implements fmt.Stringer
func (u *StorageURL) String() string {
	if u.IsFileURL() {
		return u.Object
	}
	if u.Object == "" {
		return u.Scheme + "://" + u.Bucket
	}
	return u.Scheme + "://" + u.Bucket + "/" + u.Object
}

// Equal reports whether both URLs name the same location, ignoring a
// trailing delimiter.
func (u *StorageURL) Equal(o *StorageURL) bool {
	if u.Scheme != o.Scheme || u.Bucket != o.Bucket {
		return false
	}
	if u.IsFileURL() {
		a, errA := filepath.Abs(u.Object)
		b, errB := filepath.Abs(o.Object)
		return errA == nil && errB == nil && a == b
	}
	return strings.TrimSuffix(u.Object, "/") == strings.TrimSuffix(o.Object, "/")
}
