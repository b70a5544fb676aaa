package rsync

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/gobeaver/filesync"
)

// ActionKind tells a Copy from a Remove.
type ActionKind int

const (
	ActionCopy ActionKind = iota
	ActionRemove
)

func (k ActionKind) String() string {
	switch k {
	case ActionCopy:
		return "copy"
	case ActionRemove:
		return "remove"
	default:
		return fmt.Sprintf("ActionKind(%d)", int(k))
	}
}

// Action is one step of a synchronization plan.
type Action struct {
	Kind ActionKind

	// Path is the "/"-separated path relative to both roots.
	Path string

	// Src and Dst are backend paths as understood by the source and
	// destination FileSystems. Src is empty for removals.
	Src string
	Dst string

	// SrcURL and DstURL are full URLs, for messages.
	SrcURL string
	DstURL string

	// Source is the listing entry of the object being copied. Its digests
	// are the ones a streamed copy is validated against.
	Source Entry
}

func (a Action) String() string {
	if a.Kind == ActionRemove {
		return "remove " + a.DstURL
	}
	return "copy " + a.SrcURL + " to " + a.DstURL
}

// Generator merge-joins two sorted listings into actions. It keeps a
// single pending entry per side, so memory use does not depend on the
// listing sizes.
type Generator struct {
	src, dst       *listingReader
	srcURL, dstURL *filesync.StorageURL
	oracle         *Oracle
	deleteExtras   bool

	// Stats for the finished pass.
	Compared int64
	Differed int64
}

// NewGenerator creates a Generator over two listings sorted by Sorter.
func NewGenerator(src, dst io.Reader, srcURL, dstURL *filesync.StorageURL, oracle *Oracle, opts Options) *Generator {
	return &Generator{
		src:          newListingReader(src),
		dst:          newListingReader(dst),
		srcURL:       srcURL,
		dstURL:       dstURL,
		oracle:       oracle,
		deleteExtras: opts.DeleteExtras,
	}
}

// Run emits the actions in path order. It stops at the first error from
// emit or from reading a listing.
func (g *Generator) Run(ctx context.Context, emit func(Action) error) error {
	var src, dst *Entry
	var err error

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if src == nil {
			if src, err = g.src.next(); err != nil {
				return err
			}
		}
		if dst == nil {
			if dst, err = g.dst.next(); err != nil {
				return err
			}
		}

		switch {
		case src == nil && dst == nil:
			return nil

		case src == nil:
			// Source exhausted: whatever is left on the destination is extra.
			if !g.deleteExtras {
				return nil
			}
			if err := emit(g.remove(dst)); err != nil {
				return err
			}
			dst = nil

		case dst == nil:
			if err := emit(g.copy(src, containerPath(g.dstURL, src.Path))); err != nil {
				return err
			}
			src = nil

		default:
			sk, dk := src.Key(), dst.Key()
			switch {
			case sk < dk:
				if err := emit(g.copy(src, containerPath(g.dstURL, src.Path))); err != nil {
					return err
				}
				src = nil
			case sk > dk:
				if g.deleteExtras {
					if err := emit(g.remove(dst)); err != nil {
						return err
					}
				}
				dst = nil
			default:
				g.Compared++
				if g.oracle.Compare(ctx, src, dst) == Differ {
					g.Differed++
					if err := emit(g.copy(src, containerPath(g.dstURL, dst.Path))); err != nil {
						return err
					}
				}
				src, dst = nil, nil
			}
		}
	}
}

func (g *Generator) copy(src *Entry, dstPath string) Action {
	return Action{
		Kind:   ActionCopy,
		Path:   src.Path,
		Src:    containerPath(g.srcURL, src.Path),
		Dst:    dstPath,
		SrcURL: displayURL(g.srcURL, src.Path),
		DstURL: displayURL(g.dstURL, src.Path),
		Source: *src,
	}
}

func (g *Generator) remove(dst *Entry) Action {
	return Action{
		Kind:   ActionRemove,
		Path:   dst.Path,
		Dst:    containerPath(g.dstURL, dst.Path),
		DstURL: displayURL(g.dstURL, dst.Path),
	}
}

// listingReader decodes one sorted listing.
type listingReader struct {
	r *bufio.Reader
}

func newListingReader(r io.Reader) *listingReader {
	return &listingReader{r: bufio.NewReader(r)}
}

// next returns the following entry, or nil at the end of the listing.
func (l *listingReader) next() (*Entry, error) {
	line, err := l.r.ReadString('\n')
	if err == io.EOF {
		if line == "" {
			return nil, nil
		}
	} else if err != nil {
		return nil, fmt.Errorf("reading sorted listing: %w", err)
	}

	e, err := DecodeEntry(line)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
