package azure

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
	"github.com/gobeaver/filesync"
)

// copyPollInterval is how often a pending server-side copy is checked.
var copyPollInterval = 500 * time.Millisecond

// Adapter provides an Azure Blob Storage implementation of
// filesync.FileSystem rooted at a container.
type Adapter struct {
	client        *azblob.Client
	containerName string
}

// New creates a new Azure filesystem adapter
func New(client *azblob.Client, containerName string) *Adapter {
	return &Adapter{
		client:        client,
		containerName: containerName,
	}
}

func (a *Adapter) containerClient() *container.Client {
	return a.client.ServiceClient().NewContainerClient(a.containerName)
}

// Write implements filesync.FileWriter
func (a *Adapter) Write(ctx context.Context, filePath string, content io.Reader, options ...filesync.Option) error {
	opts := filesync.ApplyOptions(options...)

	contentType := opts.ContentType
	if contentType == "" {
		contentType = filesync.DetectContentType(filePath)
	}

	uploadOpts := &azblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: &contentType,
		},
	}
	if opts.CacheControl != "" {
		uploadOpts.HTTPHeaders.BlobCacheControl = &opts.CacheControl
	}
	if len(opts.Metadata) > 0 {
		metadata := make(map[string]*string, len(opts.Metadata))
		for k, v := range opts.Metadata {
			val := v
			metadata[k] = &val
		}
		uploadOpts.Metadata = metadata
	}

	if _, err := a.client.UploadStream(ctx, a.containerName, filePath, content, uploadOpts); err != nil {
		return mapAzureError("write", filePath, err)
	}

	return nil
}

// Read implements filesync.FileReader
func (a *Adapter) Read(ctx context.Context, filePath string) (io.ReadCloser, error) {
	resp, err := a.client.DownloadStream(ctx, a.containerName, filePath, nil)
	if err != nil {
		return nil, mapAzureError("read", filePath, err)
	}

	return resp.Body, nil
}

// Delete implements filesync.FileWriter
func (a *Adapter) Delete(ctx context.Context, filePath string) error {
	if _, err := a.client.DeleteBlob(ctx, a.containerName, filePath, nil); err != nil {
		return mapAzureError("delete", filePath, err)
	}

	return nil
}

// DirExists implements filesync.FileReader. An empty path checks that the
// container exists.
func (a *Adapter) DirExists(ctx context.Context, dirPath string) (bool, error) {
	dirPrefix := strings.TrimSuffix(dirPath, "/")
	if dirPrefix == "" {
		if _, err := a.containerClient().GetProperties(ctx, nil); err != nil {
			if bloberror.HasCode(err, bloberror.ContainerNotFound) {
				return false, nil
			}
			return false, mapAzureError("direxists", a.containerName, err)
		}
		return true, nil
	}

	dirPrefix += "/"
	pager := a.containerClient().NewListBlobsFlatPager(&container.ListBlobsFlatOptions{
		Prefix:     &dirPrefix,
		MaxResults: ptr(int32(1)),
	})

	if pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return false, mapAzureError("direxists", dirPath, err)
		}
		return len(resp.Segment.BlobItems) > 0, nil
	}

	return false, nil
}

// ptr is a helper function to create a pointer to a value
func ptr[T any](v T) *T {
	return &v
}

// Stat implements filesync.FileReader
func (a *Adapter) Stat(ctx context.Context, filePath string) (*filesync.ObjectInfo, error) {
	props, err := a.containerClient().NewBlobClient(filePath).GetProperties(ctx, nil)
	if err != nil {
		return nil, mapAzureError("stat", filePath, err)
	}

	info := &filesync.ObjectInfo{
		Path:         filePath,
		Size:         deref(props.ContentLength),
		ModTime:      deref(props.LastModified),
		ContentType:  deref(props.ContentType),
		MD5:          encodeMD5(props.ContentMD5),
		CacheControl: deref(props.CacheControl),
	}
	if len(props.Metadata) > 0 {
		info.Metadata = make(map[string]string, len(props.Metadata))
		for k, v := range props.Metadata {
			info.Metadata[k] = deref(v)
		}
	}
	if props.AccessTier != nil {
		info.Unsupported = blob.AccessTier(*props.AccessTier) == blob.AccessTierArchive
	}
	return info, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// List implements filesync.FileReader
func (a *Adapter) List(ctx context.Context, prefix string, recursive bool, fn filesync.ListFunc) error {
	listPrefix := prefix
	if listPrefix != "" && !strings.HasSuffix(listPrefix, "/") {
		listPrefix += "/"
	}

	if recursive {
		pager := a.client.NewListBlobsFlatPager(a.containerName, &azblob.ListBlobsFlatOptions{
			Prefix: &listPrefix,
		})
		for pager.More() {
			resp, err := pager.NextPage(ctx)
			if err != nil {
				return mapAzureError("list", prefix, err)
			}
			for _, item := range resp.Segment.BlobItems {
				if err := a.emit(item, fn); err != nil {
					return err
				}
			}
		}
		return nil
	}

	pager := a.containerClient().NewListBlobsHierarchyPager("/", &container.ListBlobsHierarchyOptions{
		Prefix: &listPrefix,
	})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return mapAzureError("list", prefix, err)
		}
		for _, p := range resp.Segment.BlobPrefixes {
			if p.Name == nil {
				continue
			}
			if err := fn(filesync.ObjectInfo{Path: strings.TrimSuffix(*p.Name, "/"), IsDir: true}); err != nil {
				return err
			}
		}
		for _, item := range resp.Segment.BlobItems {
			if err := a.emit(item, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Adapter) emit(item *container.BlobItem, fn filesync.ListFunc) error {
	if item.Name == nil {
		return nil
	}
	info := filesync.ObjectInfo{Path: *item.Name}
	if p := item.Properties; p != nil {
		info.Size = deref(p.ContentLength)
		info.ModTime = deref(p.LastModified)
		info.ContentType = deref(p.ContentType)
		info.MD5 = encodeMD5(p.ContentMD5)
		info.Unsupported = p.AccessTier != nil && *p.AccessTier == blob.AccessTierArchive
	}
	return fn(info)
}

// CopyTo implements filesync.CanCopy using StartCopyFromURL and waits for
// the copy to finish.
func (a *Adapter) CopyTo(ctx context.Context, srcPath string, dst filesync.FileSystem, dstPath string, options ...filesync.Option) error {
	target, ok := dst.(*Adapter)
	if !ok {
		return &filesync.PathError{Op: "copy", Path: srcPath, Err: filesync.ErrNotSupported}
	}

	srcBlob := a.containerClient().NewBlobClient(srcPath)

	// A SAS is needed unless the source is public; it can only be signed
	// when the client holds a shared key.
	srcURL, err := srcBlob.GetSASURL(sas.BlobPermissions{Read: true}, time.Now().Add(15*time.Minute), nil)
	if err != nil {
		srcURL = srcBlob.URL()
	}

	dstBlob := target.containerClient().NewBlobClient(dstPath)
	if _, err := dstBlob.StartCopyFromURL(ctx, srcURL, nil); err != nil {
		return mapAzureError("copy", srcPath, err)
	}

	for {
		props, err := dstBlob.GetProperties(ctx, nil)
		if err != nil {
			return mapAzureError("copy", dstPath, err)
		}
		if props.CopyStatus == nil || *props.CopyStatus != blob.CopyStatusTypePending {
			if props.CopyStatus != nil && *props.CopyStatus != blob.CopyStatusTypeSuccess {
				return &filesync.PathError{Op: "copy", Path: dstPath, Err: errors.New(string(*props.CopyStatus) + ": " + deref(props.CopyStatusDescription))}
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(copyPollInterval):
		}
	}
}

func encodeMD5(sum []byte) string {
	if len(sum) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(sum)
}

// mapAzureError maps Azure errors to filesync errors
func mapAzureError(op, path string, err error) error {
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return &filesync.PathError{Op: op, Path: path, Err: filesync.ErrNotExist}
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		if respErr.StatusCode == http.StatusNotFound {
			return &filesync.PathError{Op: op, Path: path, Err: filesync.ErrNotExist}
		}
		if respErr.StatusCode == http.StatusForbidden {
			return &filesync.PathError{Op: op, Path: path, Err: filesync.ErrPermission}
		}
	}

	return &filesync.PathError{Op: op, Path: path, Err: err}
}
