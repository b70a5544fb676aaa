package gcs

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/gobeaver/filesync"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// Adapter provides a Google Cloud Storage implementation of
// filesync.FileSystem rooted at a bucket.
type Adapter struct {
	client *storage.Client
	bucket string
}

// New creates a new GCS filesystem adapter
func New(client *storage.Client, bucket string) *Adapter {
	return &Adapter{
		client: client,
		bucket: bucket,
	}
}

// Bucket returns the bucket name
func (a *Adapter) Bucket() string {
	return a.bucket
}

// Write implements filesync.FileWriter
func (a *Adapter) Write(ctx context.Context, filePath string, content io.Reader, options ...filesync.Option) error {
	opts := filesync.ApplyOptions(options...)

	writer := a.client.Bucket(a.bucket).Object(filePath).NewWriter(ctx)

	if opts.ContentType != "" {
		writer.ContentType = opts.ContentType
	} else {
		writer.ContentType = filesync.DetectContentType(filePath)
	}
	if opts.CacheControl != "" {
		writer.CacheControl = opts.CacheControl
	}
	if len(opts.Metadata) > 0 {
		writer.Metadata = opts.Metadata
	}

	if _, err := io.Copy(writer, content); err != nil {
		writer.Close()
		return mapGCSError("write", filePath, err)
	}

	// Close completes the upload
	if err := writer.Close(); err != nil {
		return mapGCSError("write", filePath, err)
	}

	return nil
}

// Read implements filesync.FileReader
func (a *Adapter) Read(ctx context.Context, filePath string) (io.ReadCloser, error) {
	reader, err := a.client.Bucket(a.bucket).Object(filePath).NewReader(ctx)
	if err != nil {
		return nil, mapGCSError("read", filePath, err)
	}

	return reader, nil
}

// Delete implements filesync.FileWriter
func (a *Adapter) Delete(ctx context.Context, filePath string) error {
	if err := a.client.Bucket(a.bucket).Object(filePath).Delete(ctx); err != nil {
		return mapGCSError("delete", filePath, err)
	}

	return nil
}

// DirExists implements filesync.FileReader. An empty path checks that the
// bucket exists.
func (a *Adapter) DirExists(ctx context.Context, dirPath string) (bool, error) {
	bkt := a.client.Bucket(a.bucket)

	dirPrefix := strings.TrimSuffix(dirPath, "/")
	if dirPrefix == "" {
		if _, err := bkt.Attrs(ctx); err != nil {
			if errors.Is(err, storage.ErrBucketNotExist) {
				return false, nil
			}
			return false, mapGCSError("direxists", a.bucket, err)
		}
		return true, nil
	}

	it := bkt.Objects(ctx, &storage.Query{Prefix: dirPrefix + "/"})
	_, err := it.Next()
	if err == iterator.Done {
		return false, nil
	}
	if err != nil {
		return false, mapGCSError("direxists", dirPath, err)
	}

	return true, nil
}

// Stat implements filesync.FileReader
func (a *Adapter) Stat(ctx context.Context, filePath string) (*filesync.ObjectInfo, error) {
	attrs, err := a.client.Bucket(a.bucket).Object(filePath).Attrs(ctx)
	if err != nil {
		return nil, mapGCSError("stat", filePath, err)
	}

	info := objectInfo(attrs)
	return &info, nil
}

// List implements filesync.FileReader
func (a *Adapter) List(ctx context.Context, prefix string, recursive bool, fn filesync.ListFunc) error {
	listPrefix := prefix
	if listPrefix != "" && !strings.HasSuffix(listPrefix, "/") {
		listPrefix += "/"
	}

	query := &storage.Query{Prefix: listPrefix}
	if !recursive {
		query.Delimiter = "/"
	}

	it := a.client.Bucket(a.bucket).Objects(ctx, query)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return mapGCSError("list", prefix, err)
		}

		// Synthetic directory entry from the delimiter
		if attrs.Prefix != "" {
			if err := fn(filesync.ObjectInfo{Path: strings.TrimSuffix(attrs.Prefix, "/"), IsDir: true}); err != nil {
				return err
			}
			continue
		}

		if err := fn(objectInfo(attrs)); err != nil {
			return err
		}
	}
}

// CopyTo implements filesync.CanCopy using CopierFrom. Copies across
// buckets are supported as long as both adapters are GCS.
func (a *Adapter) CopyTo(ctx context.Context, srcPath string, dst filesync.FileSystem, dstPath string, options ...filesync.Option) error {
	target, ok := dst.(*Adapter)
	if !ok {
		return &filesync.PathError{Op: "copy", Path: srcPath, Err: filesync.ErrNotSupported}
	}
	opts := filesync.ApplyOptions(options...)

	srcObj := a.client.Bucket(a.bucket).Object(srcPath)
	copier := target.client.Bucket(target.bucket).Object(dstPath).CopierFrom(srcObj)

	if opts.PreserveACL {
		acl, err := srcObj.ACL().List(ctx)
		if err != nil {
			return mapGCSError("copy", srcPath, err)
		}
		copier.ACL = acl
	}
	if opts.ContentType != "" {
		copier.ContentType = opts.ContentType
	}

	if _, err := copier.Run(ctx); err != nil {
		return mapGCSError("copy", srcPath, err)
	}

	return nil
}

// Close releases the underlying client
func (a *Adapter) Close() error {
	return a.client.Close()
}

func objectInfo(attrs *storage.ObjectAttrs) filesync.ObjectInfo {
	info := filesync.ObjectInfo{
		Path:        attrs.Name,
		Size:        attrs.Size,
		ModTime:     attrs.Updated,
		ContentType: attrs.ContentType,
		Generation:  attrs.Generation,
		CRC32C:      encodeCRC32C(attrs.CRC32C),

		Metadata:     attrs.Metadata,
		CacheControl: attrs.CacheControl,
	}
	// Composite objects carry no MD5.
	if len(attrs.MD5) > 0 {
		info.MD5 = base64.StdEncoding.EncodeToString(attrs.MD5)
	}
	return info
}

// encodeCRC32C renders a CRC32C the way the JSON API does: base64 of the
// big-endian checksum.
func encodeCRC32C(crc uint32) string {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], crc)
	return base64.StdEncoding.EncodeToString(buf[:])
}

// mapGCSError maps GCS errors to filesync errors
func mapGCSError(op, path string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return &filesync.PathError{Op: op, Path: path, Err: filesync.ErrNotExist}
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return &filesync.PathError{Op: op, Path: path, Err: filesync.ErrNotExist}
		case http.StatusForbidden, http.StatusUnauthorized:
			return &filesync.PathError{Op: op, Path: path, Err: filesync.ErrPermission}
		}
	}

	return &filesync.PathError{Op: op, Path: path, Err: err}
}
