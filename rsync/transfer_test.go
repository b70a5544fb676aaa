package rsync

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobeaver/filesync"
	"github.com/gobeaver/filesync/driver/local"
	"github.com/gobeaver/filesync/driver/memory"
)

// flakyFS fails the first writes and can flag objects as unsupported.
type flakyFS struct {
	filesync.FileSystem
	writeFailures atomic.Int32
	unsupported   map[string]bool
}

func (f *flakyFS) Write(ctx context.Context, path string, r io.Reader, opts ...filesync.Option) error {
	if f.writeFailures.Add(-1) >= 0 {
		return errors.New("connection reset")
	}
	return f.FileSystem.Write(ctx, path, r, opts...)
}

func (f *flakyFS) Stat(ctx context.Context, path string) (*filesync.ObjectInfo, error) {
	info, err := f.FileSystem.Stat(ctx, path)
	if err != nil {
		return nil, err
	}
	info.Unsupported = f.unsupported[path]
	return info, nil
}

func newTestTransfer(src filesync.FileReader, dst filesync.FileSystem, srcURL, dstURL string, opts Options) *Transfer {
	if opts.Logger == nil {
		opts.Logger, _ = newTestLogger()
	}
	tr := NewTransfer(src, dst, filesync.MustParseURL(srcURL), filesync.MustParseURL(dstURL), opts)
	tr.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return tr
}

func copyAction(path string, source Entry) Action {
	return Action{
		Kind:   ActionCopy,
		Path:   path,
		Src:    path,
		Dst:    path,
		SrcURL: "src/" + path,
		DstURL: "dst/" + path,
		Source: source,
	}
}

func TestTransferStreamsAndValidates(t *testing.T) {
	ctx := context.Background()
	src := memory.New()
	putObjects(t, src, map[string]string{"a.txt": "abc"})

	dir := t.TempDir()
	dst, err := local.New(dir)
	require.NoError(t, err)

	tr := newTestTransfer(filesync.ReadOnly(src), dst, "mem://src", dir, Options{})
	require.NoError(t, tr.Apply(ctx, copyAction("a.txt", Entry{Path: "a.txt", Size: 3, MD5: md5ABC, CRC32C: crc32cABC})))
	assert.Equal(t, map[string]string{"a.txt": "abc"}, readTree(t, dir))
}

func TestTransferChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	src := memory.New()
	putObjects(t, src, map[string]string{"a.txt": "abc"})
	dir := t.TempDir()
	dst, err := local.New(dir)
	require.NoError(t, err)

	tests := []struct {
		name   string
		source Entry
	}{
		{"md5", Entry{Path: "a.txt", Size: 3, MD5: md5XYZ}},
		{"crc32c", Entry{Path: "a.txt", Size: 3, CRC32C: "AAAAAA=="}},
		{"size", Entry{Path: "a.txt", Size: 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTransfer(filesync.ReadOnly(src), dst, "mem://src", dir, Options{MaxRetries: 3})
			err := tr.Apply(ctx, copyAction("a.txt", tt.source))

			var terr *TransferError
			require.True(t, errors.As(err, &terr), "got %v", err)
			assert.ErrorIs(t, err, filesync.ErrChecksumMismatch)
			assert.Empty(t, readTree(t, dir), "corrupted copy must be removed")
		})
	}
}

func TestTransferNativeCopy(t *testing.T) {
	ctx := context.Background()
	src := memory.New()
	putObjects(t, src, map[string]string{"a.txt": "abc"})
	require.NoError(t, src.SetACL("a.txt", []string{"allUsers:READER"}))

	t.Run("preserve acl", func(t *testing.T) {
		dst := memory.New()
		tr := newTestTransfer(filesync.ReadOnly(src), dst, "mem://src", "mem://dst", Options{PreserveACL: true})
		require.NoError(t, tr.Apply(ctx, copyAction("a.txt", Entry{Path: "a.txt", Size: 3})))

		acl, err := dst.ACL("a.txt")
		require.NoError(t, err)
		assert.Equal(t, []string{"allUsers:READER"}, acl)
	})

	t.Run("default acl", func(t *testing.T) {
		dst := memory.New()
		tr := newTestTransfer(filesync.ReadOnly(src), dst, "mem://src", "mem://dst", Options{})
		require.NoError(t, tr.Apply(ctx, copyAction("a.txt", Entry{Path: "a.txt", Size: 3})))

		acl, err := dst.ACL("a.txt")
		require.NoError(t, err)
		assert.Empty(t, acl)
	})

	t.Run("acl is dropped when streaming", func(t *testing.T) {
		dir := t.TempDir()
		dst, err := local.New(dir)
		require.NoError(t, err)

		log, hook := newTestLogger()
		tr := newTestTransfer(filesync.ReadOnly(src), dst, "mem://src", dir, Options{PreserveACL: true, Logger: log})
		require.NoError(t, tr.Apply(ctx, copyAction("a.txt", Entry{Path: "a.txt", Size: 3})))
		require.NoError(t, tr.Apply(ctx, copyAction("a.txt", Entry{Path: "a.txt", Size: 3})))

		n := 0
		for _, m := range messages(hook, logrus.DebugLevel) {
			if strings.Contains(m, "ACLs are only preserved") {
				n++
			}
		}
		assert.Equal(t, 1, n)
	})
}

func TestTransferCarriesObjectAttributes(t *testing.T) {
	ctx := context.Background()
	src := memory.New()
	require.NoError(t, src.Write(ctx, "a.txt", strings.NewReader("abc"),
		filesync.WithContentType("text/csv"),
		filesync.WithMetadata(map[string]string{"owner": "ops"}),
		filesync.WithCacheControl("no-cache")))
	source := Entry{Path: "a.txt", Size: 3, MD5: md5ABC, CRC32C: crc32cABC}

	t.Run("streamed between clouds", func(t *testing.T) {
		dst := memory.New()
		tr := newTestTransfer(filesync.ReadOnly(src), dst, "s3://src", "gs://dst", Options{})
		require.False(t, tr.native())
		require.NoError(t, tr.Apply(ctx, copyAction("a.txt", source)))

		info, err := dst.Stat(ctx, "a.txt")
		require.NoError(t, err)
		assert.Equal(t, "text/csv", info.ContentType)
		assert.Equal(t, map[string]string{"owner": "ops"}, info.Metadata)
		assert.Equal(t, "no-cache", info.CacheControl)
	})

	t.Run("server-side copy", func(t *testing.T) {
		dst := memory.New()
		tr := newTestTransfer(filesync.ReadOnly(src), dst, "mem://src", "mem://dst", Options{})
		require.NoError(t, tr.Apply(ctx, copyAction("a.txt", source)))

		info, err := dst.Stat(ctx, "a.txt")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"owner": "ops"}, info.Metadata)
		assert.Equal(t, "no-cache", info.CacheControl)
	})

	t.Run("cloud to local", func(t *testing.T) {
		dir := t.TempDir()
		dst, err := local.New(dir)
		require.NoError(t, err)
		tr := newTestTransfer(filesync.ReadOnly(src), dst, "s3://src", dir, Options{})
		require.NoError(t, tr.Apply(ctx, copyAction("a.txt", source)))
		assert.Equal(t, map[string]string{"a.txt": "abc"}, readTree(t, dir))
	})
}

func TestTransferRetries(t *testing.T) {
	ctx := context.Background()
	src := memory.New()
	putObjects(t, src, map[string]string{"a.txt": "abc"})
	action := copyAction("a.txt", Entry{Path: "a.txt", Size: 3, MD5: md5ABC})

	t.Run("transient errors are retried", func(t *testing.T) {
		dst := &flakyFS{FileSystem: memory.New()}
		dst.writeFailures.Store(2)

		tr := newTestTransfer(filesync.ReadOnly(src), dst, "mem://src", "file:///unused", Options{MaxRetries: 3})
		require.NoError(t, tr.Apply(ctx, action))
	})

	t.Run("retry budget is bounded", func(t *testing.T) {
		dst := &flakyFS{FileSystem: memory.New()}
		dst.writeFailures.Store(5)

		tr := newTestTransfer(filesync.ReadOnly(src), dst, "mem://src", "file:///unused", Options{MaxRetries: 1})
		err := tr.Apply(ctx, action)

		var terr *TransferError
		require.True(t, errors.As(err, &terr), "got %v", err)
		assert.Contains(t, err.Error(), "connection reset")
		assert.EqualValues(t, 3, dst.writeFailures.Load())
	})
}

func TestTransferVanishedSource(t *testing.T) {
	ctx := context.Background()
	action := copyAction("gone.txt", Entry{Path: "gone.txt", Size: 3})

	t.Run("fails without continue", func(t *testing.T) {
		tr := newTestTransfer(memory.New(), memory.New(), "mem://src", "/tmp/dst", Options{})
		err := tr.Apply(ctx, action)

		var terr *TransferError
		require.True(t, errors.As(err, &terr), "got %v", err)
		assert.True(t, filesync.IsNotExist(err))
	})

	t.Run("skipped with continue", func(t *testing.T) {
		log, hook := newTestLogger()
		tr := newTestTransfer(memory.New(), memory.New(), "mem://src", "/tmp/dst", Options{ContinueOnError: true, Logger: log})
		err := tr.Apply(ctx, action)

		assert.ErrorIs(t, err, ErrSkipped)
		assert.True(t, containsMessage(hook, logrus.WarnLevel, "removed after being listed"))
	})
}

func TestTransferSkipUnsupported(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	putObjects(t, mem, map[string]string{"cold.bin": "abc"})
	src := &flakyFS{FileSystem: mem, unsupported: map[string]bool{"cold.bin": true}}

	dst := memory.New()
	tr := newTestTransfer(src, dst, "s3://src", "mem://dst", Options{SkipUnsupported: true})
	err := tr.Apply(ctx, copyAction("cold.bin", Entry{Path: "cold.bin", Size: 3}))
	assert.ErrorIs(t, err, ErrSkipped)
	assert.Empty(t, dst.Keys())
}

func TestTransferRemove(t *testing.T) {
	ctx := context.Background()
	dst := memory.New()
	putObjects(t, dst, map[string]string{"a": "abc"})
	tr := newTestTransfer(memory.New(), dst, "mem://src", "mem://dst", Options{})

	remove := Action{Kind: ActionRemove, Path: "a", Dst: "a", DstURL: "mem://dst/a"}
	require.NoError(t, tr.Apply(ctx, remove))
	assert.Empty(t, dst.Keys())

	// Already gone is fine.
	require.NoError(t, tr.Apply(ctx, remove))

	ro := newTestTransfer(memory.New(), filesync.ReadOnly(memory.New()), "mem://src", "mem://dst", Options{MaxRetries: 3})
	err := ro.Apply(ctx, remove)
	var derr *DeleteError
	require.True(t, errors.As(err, &derr), "got %v", err)
	assert.ErrorIs(t, err, filesync.ErrReadOnly)
}
