package rsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/midbel/sizefmt"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/gobeaver/filesync"
)

// Summary reports what a session did.
type Summary struct {
	Copied   int64
	Removed  int64
	Bytes    int64
	Failures int64
	Skipped  int64
}

func (s Summary) String() string {
	msg := fmt.Sprintf("Copied %s (%s), removed %d", plural(s.Copied, "object"), formatBytes(s.Bytes), s.Removed)
	if s.Skipped > 0 {
		msg += fmt.Sprintf(", skipped %d", s.Skipped)
	}
	if s.Failures > 0 {
		msg += fmt.Sprintf(", %d failed", s.Failures)
	}
	return msg
}

func plural(n int64, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

// formatBytes renders n with a binary unit suffix: "3 B", "1.5 KiB".
func formatBytes(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	s := sizefmt.FormatIEC(float64(n), true)
	return s[:len(s)-2] + " " + s[len(s)-2:] + "B"
}

// Session makes the tree below one root match the tree below another.
//
//	s := rsync.NewSession(srcFS, dstFS, srcURL, dstURL, opts)
//	summary, err := s.Run(ctx)
//
// The source is only ever read. Temporary listings are removed when Run
// returns, whatever the outcome.
type Session struct {
	src    filesync.FileSystem
	dst    filesync.FileSystem
	srcURL *filesync.StorageURL
	dstURL *filesync.StorageURL
	opts   Options
	log    logrus.FieldLogger

	// Executor applies the actions; nil means a Transfer between the roots.
	Executor Executor

	// Sink receives failed actions; nil means a FailureCounter.
	Sink FailureSink
}

// NewSession creates a Session. srcFS and dstFS must have been opened for
// srcURL and dstURL.
func NewSession(srcFS, dstFS filesync.FileSystem, srcURL, dstURL *filesync.StorageURL, opts Options) *Session {
	return &Session{
		src:    filesync.ReadOnly(srcFS),
		dst:    dstFS,
		srcURL: srcURL,
		dstURL: dstURL,
		opts:   opts,
		log:    opts.logger(),
	}
}

// Run lists both roots, computes the differences and applies them. A
// non-nil error with a zero Summary means nothing was attempted. When the
// pass completed but some actions failed, Run returns a *FailureError.
func (s *Session) Run(ctx context.Context) (Summary, error) {
	if err := s.checkRoots(ctx); err != nil {
		return Summary{}, err
	}

	tmp, err := os.MkdirTemp(s.opts.TempDir, "filesync-rsync-")
	if err != nil {
		return Summary{}, fmt.Errorf("creating temporary directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	s.log.Info("Building synchronization state...")
	srcList := filepath.Join(tmp, "src-sorted")
	dstList := filepath.Join(tmp, "dst-sorted")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.buildListing(gctx, s.src, s.srcURL, "source", tmp, srcList)
	})
	g.Go(func() error {
		return s.buildListing(gctx, s.dst, s.dstURL, "destination", tmp, dstList)
	})
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	srcFile, err := os.Open(srcList)
	if err != nil {
		return Summary{}, err
	}
	defer srcFile.Close()
	dstFile, err := os.Open(dstList)
	if err != nil {
		return Summary{}, err
	}
	defer dstFile.Close()

	exec := s.Executor
	if exec == nil {
		exec = NewTransfer(s.src, s.dst, s.srcURL, s.dstURL, s.opts)
	}
	counter := NewFailureCounter(s.log)
	sink := FailureSink(counter)
	if s.Sink != nil {
		sink = teeSink{counter, s.Sink}
	}

	oracle := NewOracle(s.src, s.dst, s.srcURL, s.dstURL, s.opts)
	gen := NewGenerator(srcFile, dstFile, s.srcURL, s.dstURL, oracle, s.opts)
	applier := NewApplier(exec, sink, s.src, s.srcURL, s.opts)

	s.log.Info("Starting synchronization")
	err = applier.Run(ctx, gen.Run)

	summary := applier.Summary()
	summary.Failures = counter.Count()
	if err != nil {
		return summary, err
	}
	if summary.Failures > 0 {
		return summary, &FailureError{Count: summary.Failures}
	}
	return summary, nil
}

// buildListing lists one root into a sorted listing file at out.
func (s *Session) buildListing(ctx context.Context, fs filesync.FileReader, root *filesync.StorageURL, desc string, tmp, out string) error {
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()

	p, err := NewProducer(fs, root, desc, s.opts)
	if err != nil {
		return err
	}

	sorter := NewSorter(tmp, s.opts.BatchSize)
	defer sorter.Close()

	n, err := p.Produce(ctx, func(e Entry) error {
		return sorter.Add(e.Encode())
	})
	if err != nil {
		return err
	}
	s.log.Debugf("Listed %d entries from %s %s", n, desc, root)

	if err := sorter.Merge(ctx, f); err != nil {
		return err
	}
	return f.Close()
}

// checkRoots validates both roots before anything is listed. Both must
// name an existing directory, bucket, or bucket subdirectory, except that
// a destination below an existing bucket may be empty.
func (s *Session) checkRoots(ctx context.Context) error {
	if s.srcURL.Equal(s.dstURL) {
		return &ArgumentError{Msg: fmt.Sprintf("source and destination are the same (%s)", s.srcURL)}
	}
	if within(s.dstURL, s.srcURL) {
		return &ArgumentError{Msg: fmt.Sprintf("destination %s is inside source %s", s.dstURL, s.srcURL)}
	}
	if s.opts.DeleteExtras && within(s.srcURL, s.dstURL) {
		return &ArgumentError{Msg: fmt.Sprintf("source %s is inside destination %s and would be removed by -d", s.srcURL, s.dstURL)}
	}

	ok, err := s.src.DirExists(ctx, listRoot(s.srcURL))
	if err != nil {
		return fmt.Errorf("checking %s: %w", s.srcURL, err)
	}
	if !ok {
		return notContainer(s.srcURL)
	}

	// A local destination must already be a directory. For a cloud
	// destination only the bucket has to exist; the copies create the
	// subdirectory.
	ok, err = s.dst.DirExists(ctx, "")
	if err != nil {
		return fmt.Errorf("checking %s: %w", s.dstURL, err)
	}
	if !ok {
		return notContainer(s.dstURL)
	}
	return nil
}

func notContainer(u *filesync.StorageURL) error {
	return &ArgumentError{Msg: fmt.Sprintf("arg (%s) does not name a directory, bucket, or bucket subdir", u)}
}

// within reports whether inner lies below outer on the same backend.
func within(inner, outer *filesync.StorageURL) bool {
	if inner.Scheme != outer.Scheme || inner.Bucket != outer.Bucket {
		return false
	}
	if inner.IsFileURL() {
		return nested(outer.Object, inner.Object)
	}
	o := strings.Trim(outer.Object, "/")
	i := strings.Trim(inner.Object, "/")
	if o == i {
		return false
	}
	return o == "" || strings.HasPrefix(i, o+"/")
}

// nested reports whether local path inner lies below outer.
func nested(outer, inner string) bool {
	o, err := filepath.Abs(outer)
	if err != nil {
		return false
	}
	i, err := filepath.Abs(inner)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(o, i)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// teeSink records into a counter and a caller-supplied sink.
type teeSink struct {
	counter *FailureCounter
	next    FailureSink
}

func (t teeSink) Record(a Action, err error) {
	t.counter.Record(a, err)
	t.next.Record(a, err)
}

// IsArgumentError reports whether err is, or wraps, an *ArgumentError.
func IsArgumentError(err error) bool {
	var ae *ArgumentError
	return errors.As(err, &ae)
}
