package rsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/gobeaver/filesync"
)

// errVanished marks a source object that disappeared after it was listed.
var errVanished = errors.New("source no longer exists")

// Transfer is the Executor that copies and removes objects between two
// FileSystems.
//
// Copies between two roots of the same cloud backend use the backend's
// server-side copy. Everything else is streamed and validated against the
// digests the source listing reported.
type Transfer struct {
	src    filesync.FileReader
	dst    filesync.FileSystem
	srcURL *filesync.StorageURL
	dstURL *filesync.StorageURL

	preserveACL     bool
	skipUnsupported bool
	continueOnError bool
	maxRetries      int
	log             logrus.FieldLogger

	// newBackOff returns the retry policy for one operation.
	newBackOff func() backoff.BackOff

	aclOnce sync.Once
}

// NewTransfer creates a Transfer between the two roots.
func NewTransfer(src filesync.FileReader, dst filesync.FileSystem, srcURL, dstURL *filesync.StorageURL, opts Options) *Transfer {
	return &Transfer{
		src:             src,
		dst:             dst,
		srcURL:          srcURL,
		dstURL:          dstURL,
		preserveACL:     opts.PreserveACL,
		skipUnsupported: opts.SkipUnsupported,
		continueOnError: opts.ContinueOnError,
		maxRetries:      opts.MaxRetries,
		log:             opts.logger(),
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
}

// Apply implements Executor
func (t *Transfer) Apply(ctx context.Context, a Action) error {
	switch a.Kind {
	case ActionCopy:
		return t.copy(ctx, a)
	case ActionRemove:
		return t.remove(ctx, a)
	default:
		return fmt.Errorf("unexpected action %v", a.Kind)
	}
}

func (t *Transfer) copy(ctx context.Context, a Action) error {
	if t.skipUnsupported {
		info, err := t.src.Stat(ctx, a.Src)
		if err == nil && info.Unsupported {
			t.log.Infof("Skipping item %s with unsupported object type", a.SrcURL)
			return ErrSkipped
		}
	}

	t.log.Infof("Copying %s to %s", a.SrcURL, a.DstURL)

	err := t.retry(ctx, func() error {
		return t.copyOnce(ctx, a)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, errVanished) && t.continueOnError {
		t.log.Warnf("Skipping %s: it was removed after being listed", a.SrcURL)
		return ErrSkipped
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	return &TransferError{Src: a.SrcURL, Dst: a.DstURL, Err: err}
}

func (t *Transfer) copyOnce(ctx context.Context, a Action) error {
	if t.native() {
		if c, ok := t.src.(filesync.CanCopy); ok {
			var opts []filesync.Option
			if t.preserveACL {
				opts = append(opts, filesync.WithPreserveACL(true))
			}
			err := c.CopyTo(ctx, a.Src, t.dst, a.Dst, opts...)
			if err == nil || !errors.Is(err, filesync.ErrNotSupported) {
				return t.checkVanished(ctx, a, err)
			}
		}
	}

	if t.preserveACL {
		t.aclOnce.Do(func() {
			t.log.Debugf("ACLs are only preserved on server-side copies between %s buckets", t.dstURL.Scheme)
		})
	}
	return t.stream(ctx, a)
}

// sourceAttrs carries the source object's content type, metadata and
// Cache-Control over to a streamed cloud to cloud copy.
func (t *Transfer) sourceAttrs(ctx context.Context, a Action) ([]filesync.Option, error) {
	info, err := t.src.Stat(ctx, a.Src)
	if err != nil {
		if filesync.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %w", errVanished, err)
		}
		return nil, err
	}
	var opts []filesync.Option
	if info.ContentType != "" {
		opts = append(opts, filesync.WithContentType(info.ContentType))
	}
	if len(info.Metadata) > 0 {
		opts = append(opts, filesync.WithMetadata(info.Metadata))
	}
	if info.CacheControl != "" {
		opts = append(opts, filesync.WithCacheControl(info.CacheControl))
	}
	return opts, nil
}

// native reports whether both roots live on the same cloud backend.
func (t *Transfer) native() bool {
	return t.srcURL.IsCloudURL() && t.srcURL.Scheme == t.dstURL.Scheme
}

// stream copies a through the process, hashing the bytes on the way.
func (t *Transfer) stream(ctx context.Context, a Action) error {
	rc, err := t.src.Read(ctx, a.Src)
	if err != nil {
		if filesync.IsNotExist(err) {
			return fmt.Errorf("%w: %w", errVanished, err)
		}
		return err
	}
	defer rc.Close()

	hasher, err := filesync.NewMultiHasher(filesync.ChecksumMD5, filesync.ChecksumCRC32C)
	if err != nil {
		return err
	}
	counter := &countingWriter{}
	body := io.TeeReader(rc, io.MultiWriter(hasher, counter))

	contentType, body, err := filesync.SniffContentType(a.Path, body)
	if err != nil {
		return filesync.WrapPathErr("read", a.Src, err)
	}

	opts := []filesync.Option{filesync.WithContentType(contentType)}
	if t.srcURL.IsCloudURL() && t.dstURL.IsCloudURL() {
		attrs, err := t.sourceAttrs(ctx, a)
		if err != nil {
			return err
		}
		opts = append(opts, attrs...)
	}

	if err := t.dst.Write(ctx, a.Dst, body, opts...); err != nil {
		return err
	}

	if err := validate(a.Source, counter.n, hasher.Sum()); err != nil {
		if derr := t.dst.Delete(ctx, a.Dst); derr != nil && !filesync.IsNotExist(derr) {
			t.log.Warnf("Could not remove corrupted %s: %v", a.DstURL, derr)
		}
		return err
	}
	return nil
}

// validate compares what was copied with what the source listing reported.
func validate(want Entry, n int64, got filesync.Digests) error {
	if n != want.Size {
		return fmt.Errorf("%w: copied %d bytes, listing reported %d", filesync.ErrChecksumMismatch, n, want.Size)
	}
	if want.MD5 != "" {
		if sum := got.Base64(filesync.ChecksumMD5); sum != want.MD5 {
			return fmt.Errorf("%w: md5 %s, expected %s", filesync.ErrChecksumMismatch, sum, want.MD5)
		}
		return nil
	}
	if want.CRC32C != "" {
		if sum := got.Base64(filesync.ChecksumCRC32C); sum != want.CRC32C {
			return fmt.Errorf("%w: crc32c %s, expected %s", filesync.ErrChecksumMismatch, sum, want.CRC32C)
		}
	}
	return nil
}

// checkVanished tags a not-found error from a server-side copy when the
// source is what went missing.
func (t *Transfer) checkVanished(ctx context.Context, a Action, err error) error {
	if err == nil || !filesync.IsNotExist(err) {
		return err
	}
	if _, serr := t.src.Stat(ctx, a.Src); filesync.IsNotExist(serr) {
		return fmt.Errorf("%w: %w", errVanished, err)
	}
	return err
}

func (t *Transfer) remove(ctx context.Context, a Action) error {
	t.log.Infof("Removing %s", a.DstURL)

	err := t.retry(ctx, func() error {
		return t.dst.Delete(ctx, a.Dst)
	})
	if err == nil || filesync.IsNotExist(err) {
		// Already gone is the state we wanted.
		return nil
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	return &DeleteError{Path: a.DstURL, Err: err}
}

// retry runs op until it succeeds, fails permanently or the retry budget
// is spent.
func (t *Transfer) retry(ctx context.Context, op func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(t.newBackOff(), uint64(max(t.maxRetries, 0))), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if permanent(err) {
			return backoff.Permanent(err)
		}
		t.log.Debugf("Retrying after transient error: %v", err)
		return err
	}, b)
}

// permanent reports errors that a retry cannot fix.
func permanent(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, errVanished):
		return true
	case filesync.IsNotExist(err), filesync.IsPermission(err):
		return true
	case errors.Is(err, filesync.ErrChecksumMismatch),
		errors.Is(err, filesync.ErrReadOnly),
		errors.Is(err, filesync.ErrNotSupported),
		errors.Is(err, filesync.ErrNotAllowed),
		errors.Is(err, filesync.ErrInvalidName):
		return true
	}
	return false
}

type countingWriter struct {
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}
