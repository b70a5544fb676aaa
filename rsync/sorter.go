package rsync

import (
	"bufio"
	"container/heap"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"syscall"
)

// DefaultBatchSize is the number of lines sorted in memory before a chunk
// is spilled to disk.
const DefaultBatchSize = 32000

// Sorter is an external merge sort over newline-terminated lines. Lines
// are pushed with Add; Merge writes them in byte order. Memory use is
// bounded by the batch size; everything beyond it lives in chunk files
// under dir until Close.
//
// A Sorter is not safe for concurrent use.
type Sorter struct {
	dir       string
	batchSize int
	maxChunks int

	batch  []string
	chunks []string
}

// NewSorter creates a Sorter spilling chunks into dir.
func NewSorter(dir string, batchSize int) *Sorter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Sorter{
		dir:       dir,
		batchSize: batchSize,
		maxChunks: chunkLimit(),
	}
}

// Add queues one line, spilling a sorted chunk when the batch is full.
func (s *Sorter) Add(line string) error {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	s.batch = append(s.batch, line)
	if len(s.batch) >= s.batchSize {
		return s.spill()
	}
	return nil
}

// Chunks returns the number of chunk files written so far.
func (s *Sorter) Chunks() int {
	return len(s.chunks)
}

func (s *Sorter) spill() error {
	if len(s.batch) == 0 {
		return nil
	}
	if s.maxChunks > 0 && len(s.chunks) >= s.maxChunks {
		return s.tooManyChunks(nil)
	}

	sort.Strings(s.batch)

	f, err := os.CreateTemp(s.dir, "chunk-*")
	if err != nil {
		if errors.Is(err, syscall.EMFILE) {
			return s.tooManyChunks(err)
		}
		return fmt.Errorf("creating sort chunk: %w", err)
	}
	s.chunks = append(s.chunks, f.Name())

	w := bufio.NewWriter(f)
	for _, line := range s.batch {
		if _, err := w.WriteString(line); err != nil {
			f.Close()
			return fmt.Errorf("writing sort chunk: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("writing sort chunk: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing sort chunk: %w", err)
	}

	s.batch = s.batch[:0]
	return nil
}

func (s *Sorter) tooManyChunks(err error) error {
	return &ConfigurationError{
		Msg: fmt.Sprintf("synchronization failed because too many open file handles were needed while "+
			"sorting listings (%d chunk files); raise FILESYNC_SORT_BATCH_SIZE (currently %d) so that fewer "+
			"chunks are needed", len(s.chunks)+1, s.batchSize),
		Err: err,
	}
}

// Merge writes every added line to w in ascending byte order. Duplicates
// are kept.
func (s *Sorter) Merge(ctx context.Context, w io.Writer) error {
	bw := bufio.NewWriter(w)

	// Everything fit in one batch: no chunk files needed.
	if len(s.chunks) == 0 {
		sort.Strings(s.batch)
		for _, line := range s.batch {
			if _, err := bw.WriteString(line); err != nil {
				return err
			}
		}
		s.batch = s.batch[:0]
		return bw.Flush()
	}

	if err := s.spill(); err != nil {
		return err
	}

	h := make(cursorHeap, 0, len(s.chunks))
	defer func() {
		for _, c := range h {
			c.f.Close()
		}
	}()

	for _, name := range s.chunks {
		f, err := os.Open(name)
		if err != nil {
			if errors.Is(err, syscall.EMFILE) {
				return s.tooManyChunks(err)
			}
			return fmt.Errorf("opening sort chunk: %w", err)
		}
		c := &cursor{f: f, r: bufio.NewReader(f)}
		ok, err := c.next()
		if err != nil {
			f.Close()
			return err
		}
		if !ok {
			f.Close()
			continue
		}
		h = append(h, c)
	}
	heap.Init(&h)

	for h.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		c := h[0]
		if _, err := bw.WriteString(c.line); err != nil {
			return err
		}

		ok, err := c.next()
		if err != nil {
			return err
		}
		if ok {
			heap.Fix(&h, 0)
		} else {
			c.f.Close()
			heap.Pop(&h)
		}
	}

	return bw.Flush()
}

// Close removes all chunk files. It is safe to call more than once.
func (s *Sorter) Close() error {
	var errs []error
	for _, name := range s.chunks {
		if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	s.chunks = nil
	s.batch = nil
	return errors.Join(errs...)
}

// cursor is the read position in one chunk.
type cursor struct {
	f    *os.File
	r    *bufio.Reader
	line string
}

func (c *cursor) next() (bool, error) {
	line, err := c.r.ReadString('\n')
	if err == io.EOF {
		if line == "" {
			return false, nil
		}
		line += "\n"
	} else if err != nil {
		return false, fmt.Errorf("reading sort chunk: %w", err)
	}
	c.line = line
	return true, nil
}

type cursorHeap []*cursor

func (h cursorHeap) Len() int           { return len(h) }
func (h cursorHeap) Less(i, j int) bool { return h[i].line < h[j].line }
func (h cursorHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *cursorHeap) Push(x any) { *h = append(*h, x.(*cursor)) }

func (h *cursorHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}
