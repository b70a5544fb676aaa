package rsync

import (
	"fmt"
	"regexp"

	"github.com/sirupsen/logrus"

	"github.com/gobeaver/filesync"
)

// Options configures a synchronization session.
type Options struct {
	// Recursive descends into subdirectories of the roots.
	Recursive bool

	// DeleteExtras removes destination objects missing from the source.
	DeleteExtras bool

	// ComputeChecksums hashes local files when sizes match and only one
	// side reports a digest.
	ComputeChecksums bool

	// PreserveACL copies ACLs on server-side cloud copies.
	PreserveACL bool

	DryRun          bool
	ContinueOnError bool
	ExcludeSymlinks bool

	// SkipUnsupported skips source objects that cannot be read directly,
	// such as archived S3 objects, instead of failing on them.
	SkipUnsupported bool

	// Exclude drops entries whose relative path it matches. Build it with
	// ParseExclude.
	Exclude *regexp.Regexp

	// Workers is the apply-phase parallelism; 0 or 1 applies actions one
	// at a time.
	Workers int

	// BatchSize is the external sort batch size.
	BatchSize int

	// TempDir holds the sorted listings; empty means the OS default.
	TempDir string

	// MaxRetries bounds transfer retries of transient errors.
	MaxRetries int

	Logger logrus.FieldLogger
}

// OptionsFromConfig returns Options carrying the tuning values of cfg.
func OptionsFromConfig(cfg *filesync.Config) Options {
	return Options{
		BatchSize:  cfg.SortBatchSize,
		TempDir:    cfg.TempDir,
		MaxRetries: cfg.MaxRetries,
	}
}

func (o Options) logger() logrus.FieldLogger {
	if o.Logger != nil {
		return o.Logger
	}
	return logrus.StandardLogger()
}

// ParseExclude compiles an exclusion pattern. The pattern is matched at the
// start of the relative path only, so `\.git/` excludes the top-level .git
// directory and `.*\.tmp$` any .tmp file.
func ParseExclude(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, &ArgumentError{Msg: "invalid blank exclude filter"}
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)`)
	if err != nil {
		return nil, &ArgumentError{Msg: fmt.Sprintf("invalid exclude filter (%s)", pattern), Err: err}
	}
	return re, nil
}
