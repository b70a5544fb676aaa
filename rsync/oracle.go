package rsync

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/gobeaver/filesync"
)

// largeFile is the size above which checksum computation is announced.
const largeFile = 10 << 20

// Verdict is the outcome of comparing two entries.
type Verdict int

const (
	Match Verdict = iota
	Differ
)

func (v Verdict) String() string {
	if v == Match {
		return "match"
	}
	return "differ"
}

// Oracle decides whether a source and a destination entry with the same
// relative path hold the same content. It reads local content only when
// asked to compute checksums, and never re-reads cloud objects.
type Oracle struct {
	src, dst         filesync.FileReader
	srcURL, dstURL   *filesync.StorageURL
	computeChecksums bool
	log              logrus.FieldLogger
}

// NewOracle creates an Oracle for the given roots.
func NewOracle(src, dst filesync.FileReader, srcURL, dstURL *filesync.StorageURL, opts Options) *Oracle {
	return &Oracle{
		src:              src,
		dst:              dst,
		srcURL:           srcURL,
		dstURL:           dstURL,
		computeChecksums: opts.ComputeChecksums,
		log:              opts.logger(),
	}
}

// Compare returns Match or Differ. Sizes are compared first; then md5 if
// both sides have one, else crc32c. Without a common digest the sizes
// decide and a warning is logged. Computed digests are stored in src and
// dst so that a following copy can validate against them.
func (o *Oracle) Compare(ctx context.Context, src, dst *Entry) Verdict {
	if src.Size != dst.Size {
		return Differ
	}

	if o.computeChecksums {
		if err := o.fillChecksums(ctx, src, dst); err != nil {
			o.log.Warnf("Could not compute checksum for %s: %v", src.Path, err)
			return Differ
		}
	}

	if src.MD5 != "" && dst.MD5 != "" {
		o.log.Debugf("Comparing md5 for %s and %s", o.srcName(src), o.dstName(dst))
		return verdict(src.MD5 == dst.MD5)
	}
	if src.CRC32C != "" && dst.CRC32C != "" {
		o.log.Debugf("Comparing crc32c for %s and %s", o.srcName(src), o.dstName(dst))
		return verdict(src.CRC32C == dst.CRC32C)
	}

	warned := o.warnIfMissingHash(o.srcURL, o.srcName(src), src)
	if o.warnIfMissingHash(o.dstURL, o.dstName(dst), dst) {
		warned = true
	}
	if !warned && hasHash(src) && hasHash(dst) {
		o.log.Warnf("Found no common hash type to validate %s against %s. Integrity cannot be assured without hashes.",
			o.srcName(src), o.dstName(dst))
	}
	return Match
}

// fillChecksums computes a local digest that the other side can be
// compared against. A local file is hashed with crc32c when the other side
// carries crc32c or is local too, and with md5 when the other side only
// carries md5.
func (o *Oracle) fillChecksums(ctx context.Context, src, dst *Entry) error {
	if o.srcURL.IsFileURL() {
		switch {
		case src.CRC32C == "" && (dst.CRC32C != "" || o.dstURL.IsFileURL()):
			sum, err := o.compute(ctx, o.src, o.srcURL, src, filesync.ChecksumCRC32C)
			if err != nil {
				return err
			}
			src.CRC32C = sum
		case src.MD5 == "" && dst.CRC32C == "" && dst.MD5 != "":
			sum, err := o.compute(ctx, o.src, o.srcURL, src, filesync.ChecksumMD5)
			if err != nil {
				return err
			}
			src.MD5 = sum
		}
	}

	if o.dstURL.IsFileURL() {
		switch {
		case dst.CRC32C == "" && src.CRC32C != "":
			sum, err := o.compute(ctx, o.dst, o.dstURL, dst, filesync.ChecksumCRC32C)
			if err != nil {
				return err
			}
			dst.CRC32C = sum
		case dst.MD5 == "" && src.CRC32C == "" && src.MD5 != "":
			sum, err := o.compute(ctx, o.dst, o.dstURL, dst, filesync.ChecksumMD5)
			if err != nil {
				return err
			}
			dst.MD5 = sum
		}
	}
	return nil
}

func (o *Oracle) compute(ctx context.Context, fs filesync.FileReader, root *filesync.StorageURL, e *Entry, algo filesync.ChecksumAlgorithm) (string, error) {
	if e.Size > largeFile {
		o.log.Infof("Computing %s for %s...", strings.ToUpper(string(algo)), displayURL(root, e.Path))
	}
	sums, err := filesync.FileChecksums(ctx, fs, containerPath(root, e.Path), []filesync.ChecksumAlgorithm{algo})
	if err != nil {
		return "", err
	}
	return sums[algo], nil
}

// warnIfMissingHash warns about a cloud object that reports no digest at
// all, such as a composite object or an S3 multipart upload.
func (o *Oracle) warnIfMissingHash(root *filesync.StorageURL, name string, e *Entry) bool {
	if root.IsFileURL() || hasHash(e) {
		return false
	}
	o.log.Warnf("Found no hashes to validate %s. Integrity cannot be assured without hashes.", name)
	return true
}

func (o *Oracle) srcName(e *Entry) string { return displayURL(o.srcURL, e.Path) }
func (o *Oracle) dstName(e *Entry) string { return displayURL(o.dstURL, e.Path) }

func hasHash(e *Entry) bool {
	return e.CRC32C != "" || e.MD5 != ""
}

func verdict(equal bool) Verdict {
	if equal {
		return Match
	}
	return Differ
}
