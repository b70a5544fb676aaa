package rsync

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
	"github.com/sirupsen/logrus"

	"github.com/gobeaver/filesync"
)

// progressInterval is the number of entries between listing heartbeats.
const progressInterval = 10000

// folderSuffix marks directory placeholders written by some S3 tools.
const folderSuffix = "_$folder$"

// Producer lists one synchronization root and turns what it finds into
// entries relative to that root.
type Producer struct {
	fs   filesync.FileReader
	root *filesync.StorageURL
	desc string

	recursive       bool
	excludeSymlinks bool
	exclude         *regexp.Regexp
	continueOnError bool
	log             logrus.FieldLogger

	base    string
	matcher glob.Glob
}

// NewProducer creates a Producer for root. desc names the side in log
// messages ("source" or "destination").
func NewProducer(fs filesync.FileReader, root *filesync.StorageURL, desc string, opts Options) (*Producer, error) {
	base := strings.TrimSuffix(filepath.ToSlash(root.String()), "/")
	pattern := glob.QuoteMeta(base) + "/*"
	if opts.Recursive {
		pattern = glob.QuoteMeta(base) + "/**"
	}
	matcher, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, &ArgumentError{Msg: fmt.Sprintf("cannot list %s", root), Err: err}
	}

	return &Producer{
		fs:              fs,
		root:            root,
		desc:            desc,
		recursive:       opts.Recursive,
		excludeSymlinks: opts.ExcludeSymlinks,
		exclude:         opts.Exclude,
		continueOnError: opts.ContinueOnError,
		log:             opts.logger(),
		base:            base,
		matcher:         matcher,
	}, nil
}

// Produce enumerates the root and calls emit once per surviving entry, in
// backend order. It returns the number of entries emitted.
//
// An entry removed while the root is being listed fails the listing,
// unless ContinueOnError is set, in which case it is skipped with a
// warning.
func (p *Producer) Produce(ctx context.Context, emit func(Entry) error) (int64, error) {
	var n int64
	err := p.fs.List(ctx, listRoot(p.root), p.recursive, func(obj filesync.ObjectInfo) error {
		if obj.Vanished {
			if !p.continueOnError {
				return &filesync.PathError{Op: "list", Path: obj.Path, Err: filesync.ErrNotExist}
			}
			p.log.Warnf("Skipping %s in %s %s: it was removed while listing", obj.Path, p.desc, p.root)
			return nil
		}

		entry, ok := p.accept(obj)
		if !ok {
			return nil
		}
		if err := emit(entry); err != nil {
			return err
		}
		n++
		if n%progressInterval == 0 {
			p.log.Infof("At %s listing %d...", p.desc, n)
		}
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("listing %s %s: %w", p.desc, p.root, err)
	}
	return n, nil
}

// accept applies the listing filters to one object.
func (p *Producer) accept(obj filesync.ObjectInfo) (Entry, bool) {
	if obj.IsDir {
		return Entry{}, false
	}

	if p.root.IsCloudURL() && isPlaceholder(obj) {
		p.log.Debugf("Skipping cloud sub-directory placeholder object %s", obj.Path)
		return Entry{}, false
	}

	rel, ok := RelativePath(listRoot(p.root), obj.Path, p.root.Delimiter())
	if !ok {
		p.log.Debugf("Skipping %s outside of %s", obj.Path, p.root)
		return Entry{}, false
	}
	if !p.matcher.Match(p.base + "/" + rel) {
		return Entry{}, false
	}

	if p.excludeSymlinks && obj.Symlink {
		p.log.Debugf("Skipping symbolic link %s", displayURL(p.root, rel))
		return Entry{}, false
	}
	if p.exclude != nil && p.exclude.MatchString(rel) {
		p.log.Debugf("Excluding %s", displayURL(p.root, rel))
		return Entry{}, false
	}

	return Entry{
		Path:   rel,
		Size:   obj.Size,
		CRC32C: obj.CRC32C,
		MD5:    obj.MD5,
	}, true
}

// isPlaceholder reports whether obj is an empty object standing in for a
// directory, as created by web consoles and some S3 tools.
func isPlaceholder(obj filesync.ObjectInfo) bool {
	if strings.HasSuffix(obj.Path, folderSuffix) {
		return true
	}
	return obj.Size == 0 && strings.HasSuffix(obj.Path, "/")
}
