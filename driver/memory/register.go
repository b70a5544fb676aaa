package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/gobeaver/filesync"
)

var (
	bucketsMu sync.Mutex
	buckets   = make(map[string]*Adapter)
)

// NewBucket creates (or replaces) the named bucket reachable as mem://name.
func NewBucket(name string, cfg ...Config) *Adapter {
	bucketsMu.Lock()
	defer bucketsMu.Unlock()

	a := New(cfg...)
	buckets[name] = a
	return a
}

// Bucket returns the named bucket, or nil if it does not exist.
func Bucket(name string) *Adapter {
	bucketsMu.Lock()
	defer bucketsMu.Unlock()
	return buckets[name]
}

// Reset drops all named buckets.
func Reset() {
	bucketsMu.Lock()
	defer bucketsMu.Unlock()
	buckets = make(map[string]*Adapter)
}

func init() {
	filesync.RegisterDriver(filesync.SchemeMem, func(ctx context.Context, u *filesync.StorageURL, cfg *filesync.Config) (filesync.FileSystem, error) {
		a := Bucket(u.Bucket)
		if a == nil {
			return nil, &filesync.PathError{
				Op:   "open",
				Path: u.String(),
				Err:  fmt.Errorf("bucket %s: %w", u.Bucket, filesync.ErrNotExist),
			}
		}
		return a, nil
	})
}
