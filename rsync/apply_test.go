package rsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobeaver/filesync"
	"github.com/gobeaver/filesync/driver/local"
	"github.com/gobeaver/filesync/driver/memory"
)

// fakeExecutor records actions and fails the ones listed in fail.
type fakeExecutor struct {
	mu      sync.Mutex
	applied []string
	fail    map[string]error
	delay   time.Duration

	running atomic.Int32
	peak    atomic.Int32
}

func (f *fakeExecutor) Apply(ctx context.Context, a Action) error {
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, a.Path)
	return f.fail[a.Path]
}

func (f *fakeExecutor) Applied() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.applied...)
}

// recordingSink collects failures.
type recordingSink struct {
	mu     sync.Mutex
	failed []string
}

func (r *recordingSink) Record(a Action, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, a.Path)
}

func copyActions(names ...string) []Action {
	out := make([]Action, len(names))
	for i, n := range names {
		out[i] = Action{
			Kind:   ActionCopy,
			Path:   n,
			Src:    n,
			Dst:    n,
			SrcURL: "mem://src/" + n,
			DstURL: "mem://dst/" + n,
			Source: Entry{Path: n, Size: 10},
		}
	}
	return out
}

func emitAll(actions []Action) func(context.Context, func(Action) error) error {
	return func(ctx context.Context, emit func(Action) error) error {
		for _, a := range actions {
			if err := emit(a); err != nil {
				return err
			}
		}
		return nil
	}
}

func newTestApplier(exec Executor, sink FailureSink, opts Options) *Applier {
	if opts.Logger == nil {
		opts.Logger, _ = newTestLogger()
	}
	return NewApplier(exec, sink, memory.New(), filesync.MustParseURL("mem://src"), opts)
}

func TestApplierSequential(t *testing.T) {
	exec := &fakeExecutor{}
	a := newTestApplier(exec, NewFailureCounter(nil), Options{})

	require.NoError(t, a.Run(context.Background(), emitAll(copyActions("a", "b", "c"))))
	assert.Equal(t, []string{"a", "b", "c"}, exec.Applied())

	s := a.Summary()
	assert.EqualValues(t, 3, s.Copied)
	assert.EqualValues(t, 30, s.Bytes)
}

func TestApplierDryRun(t *testing.T) {
	exec := &fakeExecutor{}
	log, hook := newTestLogger()
	a := newTestApplier(exec, NewFailureCounter(log), Options{DryRun: true, Logger: log})

	actions := copyActions("a")
	actions = append(actions, Action{Kind: ActionRemove, Path: "z", Dst: "z", DstURL: "mem://dst/z"})
	require.NoError(t, a.Run(context.Background(), emitAll(actions)))

	assert.Empty(t, exec.Applied())
	infos := messages(hook, logrus.InfoLevel)
	assert.Contains(t, infos, "Would copy mem://src/a to mem://dst/a")
	assert.Contains(t, infos, "Would remove mem://dst/z")

	s := a.Summary()
	assert.EqualValues(t, 1, s.Copied)
	assert.EqualValues(t, 1, s.Removed)
}

func TestApplierContinueOnError(t *testing.T) {
	exec := &fakeExecutor{fail: map[string]error{"b": errors.New("network down")}}
	counter := NewFailureCounter(nil)
	a := newTestApplier(exec, counter, Options{ContinueOnError: true})

	require.NoError(t, a.Run(context.Background(), emitAll(copyActions("a", "b", "c"))))
	assert.Equal(t, []string{"a", "b", "c"}, exec.Applied())
	assert.EqualValues(t, 1, counter.Count())
	assert.EqualValues(t, 2, a.Summary().Copied)
}

func TestApplierAbort(t *testing.T) {
	boom := errors.New("network down")
	exec := &fakeExecutor{fail: map[string]error{"b": boom}}
	sink := &recordingSink{}
	a := newTestApplier(exec, sink, Options{})

	err := a.Run(context.Background(), emitAll(copyActions("a", "b", "c", "d")))

	var abort *AbortError
	require.True(t, errors.As(err, &abort), "got %v", err)
	assert.Equal(t, "b", abort.Action.Path)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a", "b"}, exec.Applied())
	assert.Equal(t, []string{"b"}, sink.failed)
}

func TestApplierParallel(t *testing.T) {
	exec := &fakeExecutor{delay: 5 * time.Millisecond, fail: map[string]error{"n07": errors.New("x")}}
	counter := NewFailureCounter(nil)
	a := newTestApplier(exec, counter, Options{Workers: 4, ContinueOnError: true})

	var names []string
	for i := 0; i < 20; i++ {
		names = append(names, fmt.Sprintf("n%02d", i))
	}
	require.NoError(t, a.Run(context.Background(), emitAll(copyActions(names...))))

	assert.ElementsMatch(t, names, exec.Applied())
	assert.LessOrEqual(t, exec.peak.Load(), int32(4))
	assert.EqualValues(t, 1, counter.Count())
	assert.EqualValues(t, 19, a.Summary().Copied)
}

func TestApplierSkipped(t *testing.T) {
	exec := &fakeExecutor{fail: map[string]error{"a": ErrSkipped}}
	counter := NewFailureCounter(nil)
	a := newTestApplier(exec, counter, Options{})

	require.NoError(t, a.Run(context.Background(), emitAll(copyActions("a", "b"))))
	assert.Zero(t, counter.Count())
	assert.EqualValues(t, 1, a.Summary().Skipped)
	assert.EqualValues(t, 1, a.Summary().Copied)
}

func TestApplierSymlinkFilter(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"target.txt": "abc"})
	if err := os.Symlink(filepath.Join(dir, "target.txt"), filepath.Join(dir, "link.txt")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
	fs, err := local.New(dir)
	require.NoError(t, err)

	exec := &fakeExecutor{}
	log, hook := newTestLogger()
	a := NewApplier(exec, NewFailureCounter(log), fs, filesync.MustParseURL(dir), Options{ExcludeSymlinks: true, Logger: log})

	require.NoError(t, a.Run(context.Background(), emitAll(copyActions("link.txt", "target.txt"))))
	assert.Equal(t, []string{"target.txt"}, exec.Applied())
	assert.EqualValues(t, 1, a.Summary().Skipped)
	assert.True(t, containsMessage(hook, logrus.InfoLevel, "Skipping symbolic link"))
}

func TestApplierCancelled(t *testing.T) {
	exec := &fakeExecutor{}
	counter := NewFailureCounter(nil)
	a := newTestApplier(exec, counter, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := a.Run(ctx, emitAll(copyActions("a", "b")))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, exec.Applied())
	assert.Zero(t, counter.Count())
}
