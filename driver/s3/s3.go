package s3

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/gobeaver/filesync"
)

// Adapter provides an S3 implementation of filesync.FileSystem rooted at a
// bucket.
type Adapter struct {
	client *s3.Client
	bucket string
}

// New creates a new S3 filesystem adapter
func New(client *s3.Client, bucket string) *Adapter {
	return &Adapter{
		client: client,
		bucket: bucket,
	}
}

// Bucket returns the bucket name
func (a *Adapter) Bucket() string {
	return a.bucket
}

// Write implements filesync.FileWriter. Readers of unknown length are
// spooled to a temporary file so that PutObject gets a seekable body.
func (a *Adapter) Write(ctx context.Context, filePath string, content io.Reader, options ...filesync.Option) error {
	opts := filesync.ApplyOptions(options...)

	body, contentLength, cleanup, err := seekableBody(content)
	if err != nil {
		return filesync.WrapPathErr("write", filePath, err)
	}
	defer cleanup()

	input := &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(filePath),
		Body:          body,
		ContentLength: aws.Int64(contentLength),
	}

	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	} else {
		input.ContentType = aws.String(filesync.DetectContentType(filePath))
	}
	if opts.CacheControl != "" {
		input.CacheControl = aws.String(opts.CacheControl)
	}
	if len(opts.Metadata) > 0 {
		metadata := make(map[string]string, len(opts.Metadata))
		for k, v := range opts.Metadata {
			metadata[k] = v
		}
		input.Metadata = metadata
	}

	if _, err := a.client.PutObject(ctx, input); err != nil {
		return mapS3Error("write", filePath, err)
	}

	return nil
}

// seekableBody returns a seekable reader over content and its length.
func seekableBody(content io.Reader) (io.ReadSeeker, int64, func(), error) {
	noop := func() {}

	switch r := content.(type) {
	case *bytes.Reader:
		return r, int64(r.Len()), noop, nil
	case *strings.Reader:
		return r, int64(r.Len()), noop, nil
	case io.ReadSeeker:
		pos, err := r.Seek(0, io.SeekCurrent)
		if err == nil {
			end, err := r.Seek(0, io.SeekEnd)
			if err == nil {
				if _, err := r.Seek(pos, io.SeekStart); err == nil {
					return r, end - pos, noop, nil
				}
			}
		}
	}

	tmp, err := os.CreateTemp("", "filesync-s3-*")
	if err != nil {
		return nil, 0, noop, err
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}

	n, err := io.Copy(tmp, content)
	if err != nil {
		cleanup()
		return nil, 0, noop, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, 0, noop, err
	}

	return tmp, n, cleanup, nil
}

// Read implements filesync.FileReader
func (a *Adapter) Read(ctx context.Context, filePath string) (io.ReadCloser, error) {
	resp, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(filePath),
	})
	if err != nil {
		return nil, mapS3Error("read", filePath, err)
	}

	return resp.Body, nil
}

// Delete implements filesync.FileWriter. S3 reports success for missing
// keys, so a HeadObject first turns that case into ErrNotExist.
func (a *Adapter) Delete(ctx context.Context, filePath string) error {
	if _, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(filePath),
	}); err != nil {
		return mapS3Error("delete", filePath, err)
	}

	if _, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(filePath),
	}); err != nil {
		return mapS3Error("delete", filePath, err)
	}

	return nil
}

// DirExists implements filesync.FileReader. An empty path checks that the
// bucket exists.
func (a *Adapter) DirExists(ctx context.Context, dirPath string) (bool, error) {
	key := strings.TrimSuffix(dirPath, "/")
	if key == "" {
		_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
		if err != nil {
			if filesync.IsNotExist(mapS3Error("direxists", a.bucket, err)) {
				return false, nil
			}
			return false, mapS3Error("direxists", a.bucket, err)
		}
		return true, nil
	}

	resp, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(a.bucket),
		Prefix:  aws.String(key + "/"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, mapS3Error("direxists", dirPath, err)
	}

	return len(resp.Contents) > 0 || len(resp.CommonPrefixes) > 0, nil
}

// Stat implements filesync.FileReader
func (a *Adapter) Stat(ctx context.Context, filePath string) (*filesync.ObjectInfo, error) {
	resp, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(filePath),
	})
	if err != nil {
		return nil, mapS3Error("stat", filePath, err)
	}

	return &filesync.ObjectInfo{
		Path:        filePath,
		Size:        aws.ToInt64(resp.ContentLength),
		ModTime:     aws.ToTime(resp.LastModified),
		ContentType: aws.ToString(resp.ContentType),
		MD5:         md5FromETag(aws.ToString(resp.ETag)),
		Unsupported: archived(string(resp.StorageClass)),

		Metadata:     resp.Metadata,
		CacheControl: aws.ToString(resp.CacheControl),
	}, nil
}

// List implements filesync.FileReader
func (a *Adapter) List(ctx context.Context, prefix string, recursive bool, fn filesync.ListFunc) error {
	listPrefix := prefix
	if listPrefix != "" && !strings.HasSuffix(listPrefix, "/") {
		listPrefix += "/"
	}

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(listPrefix),
	}
	if !recursive {
		input.Delimiter = aws.String("/")
	}

	paginator := s3.NewListObjectsV2Paginator(a.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return mapS3Error("list", prefix, err)
		}

		for _, p := range page.CommonPrefixes {
			dir := strings.TrimSuffix(aws.ToString(p.Prefix), "/")
			if err := fn(filesync.ObjectInfo{Path: dir, IsDir: true}); err != nil {
				return err
			}
		}

		for _, obj := range page.Contents {
			info := filesync.ObjectInfo{
				Path:        aws.ToString(obj.Key),
				Size:        aws.ToInt64(obj.Size),
				ModTime:     aws.ToTime(obj.LastModified),
				MD5:         md5FromETag(aws.ToString(obj.ETag)),
				Unsupported: archived(string(obj.StorageClass)),
			}
			if err := fn(info); err != nil {
				return err
			}
		}
	}

	return nil
}

// CopyTo implements filesync.CanCopy using CopyObject, across buckets when
// both adapters are S3.
func (a *Adapter) CopyTo(ctx context.Context, srcPath string, dst filesync.FileSystem, dstPath string, options ...filesync.Option) error {
	target, ok := dst.(*Adapter)
	if !ok {
		return &filesync.PathError{Op: "copy", Path: srcPath, Err: filesync.ErrNotSupported}
	}
	opts := filesync.ApplyOptions(options...)

	// CopySource is "bucket/key" with the key URL-escaped
	copySource := fmt.Sprintf("%s/%s", a.bucket, url.PathEscape(srcPath))

	_, err := target.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(target.bucket),
		CopySource: aws.String(copySource),
		Key:        aws.String(dstPath),
	})
	if err != nil {
		return mapS3Error("copy", srcPath, err)
	}

	if !opts.PreserveACL {
		return nil
	}

	acl, err := a.client.GetObjectAcl(ctx, &s3.GetObjectAclInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(srcPath),
	})
	if err != nil {
		return mapS3Error("copy", srcPath, err)
	}
	_, err = target.client.PutObjectAcl(ctx, &s3.PutObjectAclInput{
		Bucket: aws.String(target.bucket),
		Key:    aws.String(dstPath),
		AccessControlPolicy: &types.AccessControlPolicy{
			Grants: acl.Grants,
			Owner:  acl.Owner,
		},
	})
	if err != nil {
		return mapS3Error("copy", dstPath, err)
	}

	return nil
}

// md5FromETag returns the base64 MD5 carried by a single-part upload ETag.
// Multipart ETags ("<hash>-<parts>") are not content digests.
func md5FromETag(etag string) string {
	etag = strings.Trim(etag, `"`)
	if len(etag) != 32 || strings.Contains(etag, "-") {
		return ""
	}
	raw, err := hex.DecodeString(etag)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// archived reports storage classes whose objects must be restored before
// they can be read.
func archived(storageClass string) bool {
	switch storageClass {
	case "GLACIER", "DEEP_ARCHIVE":
		return true
	}
	return false
}

// mapS3Error maps S3 errors to filesync errors
func mapS3Error(op, filePath string, err error) error {
	var nsk *types.NoSuchKey
	var notFound *types.NotFound
	var noBucket *types.NoSuchBucket

	if errors.As(err, &nsk) || errors.As(err, &notFound) || errors.As(err, &noBucket) {
		return filesync.WrapPathErr(op, filePath, filesync.ErrNotExist)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "Forbidden":
			return filesync.WrapPathErr(op, filePath, filesync.ErrPermission)
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return filesync.WrapPathErr(op, filePath, filesync.ErrNotExist)
		}
	}

	return filesync.WrapPathErr(op, filePath, err)
}
