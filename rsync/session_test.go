package rsync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobeaver/filesync"
	"github.com/gobeaver/filesync/driver/local"
	"github.com/gobeaver/filesync/driver/memory"
)

type sessionFixture struct {
	t      *testing.T
	tmp    string
	logger *logrus.Logger
}

func newFixture(t *testing.T) *sessionFixture {
	log, _ := newTestLogger()
	return &sessionFixture{t: t, tmp: t.TempDir(), logger: log}
}

func (f *sessionFixture) options(opts Options) Options {
	opts.TempDir = f.tmp
	opts.BatchSize = 2
	opts.Logger = f.logger
	return opts
}

func (f *sessionFixture) run(src, dst filesync.FileSystem, srcURL, dstURL string, opts Options) (Summary, error) {
	s := NewSession(src, dst, filesync.MustParseURL(srcURL), filesync.MustParseURL(dstURL), f.options(opts))
	return s.Run(context.Background())
}

func (f *sessionFixture) assertTempClean() {
	entries, err := os.ReadDir(f.tmp)
	require.NoError(f.t, err)
	assert.Empty(f.t, entries, "temporary files left behind")
}

func localFS(t *testing.T, dir string) *local.Adapter {
	fs, err := local.New(dir)
	require.NoError(t, err)
	return fs
}

func TestSessionMemoryToMemory(t *testing.T) {
	f := newFixture(t)
	src, dst := memory.New(), memory.New()
	putObjects(t, src, map[string]string{
		"a.txt":         "abc",
		"b.txt":         "hello",
		"dir/c.txt":     "world",
		"dir/sub/d.txt": "xyz",
		"dir/":          "",
	})
	putObjects(t, dst, map[string]string{
		"b.txt":     "HELLO",
		"extra.txt": "old",
		"keep/":     "",
	})

	summary, err := f.run(src, dst, "mem://src", "mem://dst", Options{Recursive: true, DeleteExtras: true})
	require.NoError(t, err)
	assert.EqualValues(t, 4, summary.Copied)
	assert.EqualValues(t, 1, summary.Removed)
	assert.EqualValues(t, 3+5+5+3, summary.Bytes)

	want := readBucket(t, src)
	delete(want, "dir/")
	want["keep/"] = ""
	assert.Equal(t, want, readBucket(t, dst))
	f.assertTempClean()

	// Second pass has nothing to do.
	summary, err = f.run(src, dst, "mem://src", "mem://dst", Options{Recursive: true, DeleteExtras: true})
	require.NoError(t, err)
	assert.Equal(t, Summary{}, summary)
	f.assertTempClean()
}

func TestSessionLocalToLocal(t *testing.T) {
	f := newFixture(t)
	srcDir := t.TempDir()
	dstDir := t.TempDir()
	writeFiles(t, srcDir, map[string]string{
		"a.txt":       "abc",
		"sub/b.txt":   "hello",
		"sub/c d.txt": "with space",
	})

	src, dst := localFS(t, srcDir), localFS(t, dstDir)
	opts := Options{Recursive: true, DeleteExtras: true}

	_, err := f.run(src, dst, srcDir, dstDir, opts)
	require.NoError(t, err)
	assert.Equal(t, readTree(t, srcDir), readTree(t, dstDir))

	// Same size, different content: only found with checksums.
	writeFiles(t, srcDir, map[string]string{"a.txt": "xyz"})

	summary, err := f.run(src, dst, srcDir, dstDir, opts)
	require.NoError(t, err)
	assert.Zero(t, summary.Copied)

	opts.ComputeChecksums = true
	summary, err = f.run(src, dst, srcDir, dstDir, opts)
	require.NoError(t, err)
	assert.EqualValues(t, 1, summary.Copied)
	assert.Equal(t, readTree(t, srcDir), readTree(t, dstDir))

	summary, err = f.run(src, dst, srcDir, dstDir, opts)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, summary)
	f.assertTempClean()
}

func TestSessionMissingLocalDestination(t *testing.T) {
	f := newFixture(t)
	src := memory.New()
	putObjects(t, src, map[string]string{"a.txt": "abc"})
	dstDir := filepath.Join(t.TempDir(), "does", "not", "exist")

	summary, err := f.run(src, localFS(t, dstDir), "mem://src", dstDir, Options{Recursive: true})
	assert.True(t, IsArgumentError(err), "got %v", err)
	assert.Contains(t, err.Error(), "does not name a directory")
	assert.Equal(t, Summary{}, summary)
	assert.NoDirExists(t, dstDir)
	f.assertTempClean()
}

func TestSessionLocalAndCloud(t *testing.T) {
	f := newFixture(t)
	srcDir := t.TempDir()
	writeFiles(t, srcDir, map[string]string{
		"a.txt":         "abc",
		"photos/x.jpg":  "jpeg",
		"photos/y.jpg":  "jpeg2",
		"notes/todo.md": "# todo",
	})

	bucket := memory.New()
	_, err := f.run(localFS(t, srcDir), bucket, srcDir, "mem://bucket/backup", Options{Recursive: true})
	require.NoError(t, err)

	got := readBucket(t, bucket)
	assert.Equal(t, map[string]string{
		"backup/a.txt":         "abc",
		"backup/photos/x.jpg":  "jpeg",
		"backup/photos/y.jpg":  "jpeg2",
		"backup/notes/todo.md": "# todo",
	}, got)

	// And back down, without recursion.
	dstDir := t.TempDir()
	summary, err := f.run(bucket, localFS(t, dstDir), "mem://bucket/backup", dstDir, Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, summary.Copied)
	assert.Equal(t, map[string]string{"a.txt": "abc"}, readTree(t, dstDir))

	// Local copies have no stored hashes; the cloud side's crc32c is
	// matched against a computed one.
	summary, err = f.run(bucket, localFS(t, dstDir), "mem://bucket/backup", dstDir, Options{ComputeChecksums: true})
	require.NoError(t, err)
	assert.Zero(t, summary.Copied)
	f.assertTempClean()
}

func TestSessionDryRun(t *testing.T) {
	f := newFixture(t)
	src, dst := memory.New(), memory.New()
	putObjects(t, src, map[string]string{"new.txt": "abc"})
	putObjects(t, dst, map[string]string{"old.txt": "abc"})

	summary, err := f.run(src, dst, "mem://src", "mem://dst", Options{Recursive: true, DeleteExtras: true, DryRun: true})
	require.NoError(t, err)
	assert.EqualValues(t, 1, summary.Copied)
	assert.EqualValues(t, 1, summary.Removed)
	assert.Equal(t, map[string]string{"old.txt": "abc"}, readBucket(t, dst))
}

func TestSessionPlaceholderOnDestination(t *testing.T) {
	f := newFixture(t)
	src, dst := memory.New(), memory.New()
	putObjects(t, src, map[string]string{"a": "abc"})
	putObjects(t, dst, map[string]string{"a": "abc", "dir/": ""})

	var seen []Action
	s := NewSession(src, dst, filesync.MustParseURL("mem://src"), filesync.MustParseURL("mem://dst"),
		f.options(Options{Recursive: true, DeleteExtras: true}))
	s.Executor = executorFunc(func(ctx context.Context, a Action) error {
		seen = append(seen, a)
		return nil
	})

	_, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, seen)
	assert.ElementsMatch(t, []string{"a", "dir/"}, dst.Keys())
}

func TestSessionPreserveACL(t *testing.T) {
	f := newFixture(t)
	src, dst := memory.New(), memory.New()
	putObjects(t, src, map[string]string{"public.html": "<html>"})
	require.NoError(t, src.SetACL("public.html", []string{"allUsers:READER"}))

	_, err := f.run(src, dst, "mem://src", "mem://dst", Options{Recursive: true, PreserveACL: true})
	require.NoError(t, err)

	acl, err := dst.ACL("public.html")
	require.NoError(t, err)
	assert.Equal(t, []string{"allUsers:READER"}, acl)
}

func TestSessionFailures(t *testing.T) {
	f := newFixture(t)
	src, dst := memory.New(), memory.New()
	putObjects(t, src, map[string]string{"a": "1", "b": "2", "c": "3"})

	failing := executorFunc(func(ctx context.Context, a Action) error {
		if a.Path == "b" {
			return &TransferError{Src: a.SrcURL, Dst: a.DstURL, Err: errors.New("quota exceeded")}
		}
		return nil
	})

	t.Run("continue on error", func(t *testing.T) {
		sink := &recordingSink{}
		s := NewSession(src, dst, filesync.MustParseURL("mem://src"), filesync.MustParseURL("mem://dst"),
			f.options(Options{Recursive: true, ContinueOnError: true}))
		s.Executor = failing
		s.Sink = sink

		summary, err := s.Run(context.Background())
		var ferr *FailureError
		require.True(t, errors.As(err, &ferr), "got %v", err)
		assert.EqualValues(t, 1, ferr.Count)
		assert.EqualValues(t, 1, summary.Failures)
		assert.EqualValues(t, 2, summary.Copied)
		assert.Equal(t, []string{"b"}, sink.failed)
		assert.Equal(t, "1 file/object could not be copied/removed", err.Error())
	})

	t.Run("abort", func(t *testing.T) {
		s := NewSession(src, dst, filesync.MustParseURL("mem://src"), filesync.MustParseURL("mem://dst"),
			f.options(Options{Recursive: true}))
		s.Executor = failing

		summary, err := s.Run(context.Background())
		var abort *AbortError
		require.True(t, errors.As(err, &abort), "got %v", err)
		assert.EqualValues(t, 1, summary.Failures)
		assert.EqualValues(t, 1, summary.Copied)
	})

	f.assertTempClean()
}

func TestSessionArgumentErrors(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a": "abc", "file": "x"})
	inner := filepath.Join(dir, "inner")

	tests := []struct {
		name   string
		src    filesync.FileSystem
		dst    filesync.FileSystem
		srcURL string
		dstURL string
		opts   Options
	}{
		{"same root", localFS(t, dir), localFS(t, dir), dir, dir + string(filepath.Separator), Options{}},
		{"destination inside source", localFS(t, dir), localFS(t, inner), dir, inner, Options{}},
		{"source inside destination with delete", localFS(t, inner), localFS(t, dir), inner, dir, Options{DeleteExtras: true}},
		{"missing source", localFS(t, inner), memory.New(), inner, "mem://dst", Options{}},
		{"source is a file", localFS(t, filepath.Join(dir, "file")), memory.New(), filepath.Join(dir, "file"), "mem://dst", Options{}},
		{"destination is a file", memory.New(), localFS(t, filepath.Join(dir, "file")), "mem://src", filepath.Join(dir, "file"), Options{}},
		{"empty cloud prefix", memory.New(), memory.New(), "mem://src/nothing", "mem://dst", Options{}},
		{"same bucket prefix", memory.New(), memory.New(), "mem://b/x", "mem://b/x/y", Options{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.run(tt.src, tt.dst, tt.srcURL, tt.dstURL, tt.opts)
			assert.True(t, IsArgumentError(err), "got %v", err)
		})
	}
	f.assertTempClean()
}

func TestSessionCancelled(t *testing.T) {
	f := newFixture(t)
	src, dst := memory.New(), memory.New()
	putObjects(t, src, map[string]string{"a": "1", "b": "2", "c": "3"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewSession(src, dst, filesync.MustParseURL("mem://src"), filesync.MustParseURL("mem://dst"),
		f.options(Options{Recursive: true}))
	_, err := s.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, dst.Keys())
	f.assertTempClean()
}

func TestSessionSourceIsNeverWritten(t *testing.T) {
	f := newFixture(t)
	src := memory.New()
	putObjects(t, src, map[string]string{"a": "abc"})

	s := NewSession(src, memory.New(), filesync.MustParseURL("mem://src"), filesync.MustParseURL("mem://dst"),
		f.options(Options{Recursive: true}))
	err := s.src.Delete(context.Background(), "a")
	assert.ErrorIs(t, err, filesync.ErrReadOnly)
	assert.Equal(t, []string{"a"}, src.Keys())
}

func TestSummaryString(t *testing.T) {
	s := Summary{Copied: 3, Removed: 1, Bytes: 0}
	assert.Contains(t, s.String(), "Copied 3 objects (0 B)")
	assert.Contains(t, s.String(), "removed 1")
	assert.NotContains(t, s.String(), "failed")

	s.Failures = 2
	s.Skipped = 1
	assert.Contains(t, s.String(), "skipped 1")
	assert.Contains(t, s.String(), "2 failed")
}

func TestSummaryStringUnits(t *testing.T) {
	tests := []struct {
		summary Summary
		want    string
	}{
		{Summary{Copied: 1, Bytes: 3}, "Copied 1 object (3 B), removed 0"},
		{Summary{Copied: 2, Bytes: 1023}, "Copied 2 objects (1023 B), removed 0"},
		{Summary{Copied: 2, Bytes: 1536}, "Copied 2 objects (1.5 KiB), removed 0"},
		{Summary{Copied: 4, Bytes: 3 << 20, Removed: 1}, "Copied 4 objects (3 MiB), removed 1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.summary.String())
	}
}

type executorFunc func(ctx context.Context, a Action) error

func (f executorFunc) Apply(ctx context.Context, a Action) error { return f(ctx, a) }
