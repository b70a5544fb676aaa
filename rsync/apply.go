package rsync

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/gobeaver/filesync"
)

// ErrSkipped is returned by an Executor that deliberately left an action
// undone, such as an unsupported source object under SkipUnsupported.
var ErrSkipped = errors.New("skipped")

// Executor performs one action against the backends.
type Executor interface {
	Apply(ctx context.Context, a Action) error
}

// FailureSink receives every failed action. Record may be called from
// several goroutines at once.
type FailureSink interface {
	Record(a Action, err error)
}

// FailureCounter is a FailureSink that logs and counts failures.
type FailureCounter struct {
	n   atomic.Int64
	log logrus.FieldLogger
}

// NewFailureCounter creates a FailureCounter logging to log, or to the
// standard logger when log is nil.
func NewFailureCounter(log logrus.FieldLogger) *FailureCounter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &FailureCounter{log: log}
}

// Record implements FailureSink
func (c *FailureCounter) Record(a Action, err error) {
	c.n.Add(1)
	c.log.Error(err)
}

// Count returns the number of failures recorded so far.
func (c *FailureCounter) Count() int64 {
	return c.n.Load()
}

// Applier runs actions through an Executor, one at a time or on a bounded
// pool of goroutines.
type Applier struct {
	exec Executor
	sink FailureSink

	src    filesync.FileReader
	srcURL *filesync.StorageURL

	workers         int
	dryRun          bool
	continueOnError bool
	excludeSymlinks bool
	log             logrus.FieldLogger

	copied  atomic.Int64
	removed atomic.Int64
	bytes   atomic.Int64
	skipped atomic.Int64
}

// NewApplier creates an Applier. src and srcURL are used to re-check
// symlinks just before copying.
func NewApplier(exec Executor, sink FailureSink, src filesync.FileReader, srcURL *filesync.StorageURL, opts Options) *Applier {
	return &Applier{
		exec:            exec,
		sink:            sink,
		src:             src,
		srcURL:          srcURL,
		workers:         opts.Workers,
		dryRun:          opts.DryRun,
		continueOnError: opts.ContinueOnError,
		excludeSymlinks: opts.ExcludeSymlinks,
		log:             opts.logger(),
	}
}

// Run applies every action produce emits. produce is called on the
// calling goroutine; with more than one worker the actions run
// concurrently and in no particular order.
//
// Without ContinueOnError the first failure stops the pass and Run returns
// an *AbortError; actions already running are allowed to finish.
func (a *Applier) Run(ctx context.Context, produce func(ctx context.Context, emit func(Action) error) error) error {
	g, gctx := errgroup.WithContext(ctx)
	if a.workers > 1 {
		g.SetLimit(a.workers)
	} else {
		g.SetLimit(1)
	}

	err := produce(gctx, func(act Action) error {
		if err := gctx.Err(); err != nil {
			return err
		}
		if !a.admit(gctx, act) {
			a.skipped.Add(1)
			return nil
		}
		g.Go(func() error {
			// The pass may have been aborted while this task waited for a slot.
			if err := gctx.Err(); err != nil {
				return err
			}
			return a.apply(gctx, act)
		})
		return nil
	})

	if werr := g.Wait(); werr != nil {
		return werr
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

// admit drops copies of local symlinks when they are excluded. The listing
// already filtered them; a link may have been created since.
func (a *Applier) admit(ctx context.Context, act Action) bool {
	if act.Kind != ActionCopy || !a.excludeSymlinks || !a.srcURL.IsFileURL() {
		return true
	}
	info, err := a.src.Stat(ctx, act.Src)
	if err != nil || !info.Symlink {
		return true
	}
	a.log.Infof("Skipping symbolic link %s...", act.SrcURL)
	return false
}

func (a *Applier) apply(ctx context.Context, act Action) error {
	if a.dryRun {
		if act.Kind == ActionRemove {
			a.log.Infof("Would remove %s", act.DstURL)
			a.removed.Add(1)
		} else {
			a.log.Infof("Would copy %s to %s", act.SrcURL, act.DstURL)
			a.copied.Add(1)
			a.bytes.Add(act.Source.Size)
		}
		return nil
	}

	err := a.exec.Apply(ctx, act)
	switch {
	case err == nil:
		if act.Kind == ActionRemove {
			a.removed.Add(1)
		} else {
			a.copied.Add(1)
			a.bytes.Add(act.Source.Size)
		}
		return nil
	case errors.Is(err, ErrSkipped):
		a.skipped.Add(1)
		return nil
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		// Cancelled by an abort or a signal, not a failure of this action.
		return err
	}

	a.sink.Record(act, err)
	if !a.continueOnError {
		return &AbortError{Action: act, Err: err}
	}
	return nil
}

// Summary returns the counts so far. Failures is filled in by the caller.
func (a *Applier) Summary() Summary {
	return Summary{
		Copied:  a.copied.Load(),
		Removed: a.removed.Load(),
		Bytes:   a.bytes.Load(),
		Skipped: a.skipped.Load(),
	}
}
