package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gobeaver/filesync"
	"github.com/gobeaver/filesync/rsync"
)

type syncFlags struct {
	checksums       bool
	continueOnError bool
	deleteExtras    bool
	excludeSymlinks bool
	dryRun          bool
	preserveACL     bool
	recursive       bool
	skipUnsupported bool
	exclude         string
	excludeSet      bool
}

var syncOpts syncFlags

var syncCmd = &cobra.Command{
	Use:   "sync [flags] SRC DST",
	Short: "Make the contents of DST match SRC",
	Long: `Copies new and changed objects from SRC to DST and, with -d, removes
objects from DST that are absent from SRC. Objects are compared by size and
then by MD5 or CRC32C where both sides report one.

SRC and DST are local directories or cloud URLs such as gs://bucket/dir.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 2 {
			return &rsync.ArgumentError{Msg: fmt.Sprintf("sync requires a source and a destination, got %d argument(s)", len(args))}
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		srcURL, dstURL, err := parseSyncArgs(args)
		if err != nil {
			return err
		}
		syncOpts.excludeSet = cmd.Flags().Changed("exclude")
		opts, err := syncOpts.options(cfg)
		if err != nil {
			return err
		}

		src, err := filesync.Open(ctx, srcURL, cfg)
		if err != nil {
			return fmt.Errorf("opening %s: %w", srcURL, err)
		}
		defer closeFS(src)

		dst, err := filesync.Open(ctx, dstURL, cfg)
		if err != nil {
			return fmt.Errorf("opening %s: %w", dstURL, err)
		}
		defer closeFS(dst)

		summary, err := rsync.NewSession(src, dst, srcURL, dstURL, opts).Run(ctx)
		if !rsync.IsArgumentError(err) {
			log.Info(summary.String())
		}
		return err
	},
}

func parseSyncArgs(args []string) (*filesync.StorageURL, *filesync.StorageURL, error) {
	srcURL, err := filesync.ParseURL(args[0])
	if err != nil {
		return nil, nil, &rsync.ArgumentError{Msg: "invalid source", Err: err}
	}
	dstURL, err := filesync.ParseURL(args[1])
	if err != nil {
		return nil, nil, &rsync.ArgumentError{Msg: "invalid destination", Err: err}
	}
	return srcURL, dstURL, nil
}

func (f syncFlags) options(cfg *filesync.Config) (rsync.Options, error) {
	opts := rsync.OptionsFromConfig(cfg)
	opts.Recursive = f.recursive
	opts.DeleteExtras = f.deleteExtras
	opts.ComputeChecksums = f.checksums
	opts.PreserveACL = f.preserveACL
	opts.DryRun = f.dryRun
	opts.ContinueOnError = f.continueOnError
	opts.ExcludeSymlinks = f.excludeSymlinks
	opts.SkipUnsupported = f.skipUnsupported
	opts.Logger = log

	if parallel {
		opts.Workers = cfg.ParallelWorkers
		opts.ContinueOnError = true
	}

	if f.excludeSet {
		re, err := rsync.ParseExclude(f.exclude)
		if err != nil {
			return opts, err
		}
		opts.Exclude = re
	}
	return opts, nil
}

func closeFS(fs filesync.FileSystem) {
	if c, ok := fs.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			log.WithError(err).Debug("closing backend")
		}
	}
}

func init() {
	flags := syncCmd.Flags()
	flags.BoolVarP(&syncOpts.checksums, "checksum", "c", false, "Compute checksums of local files when sizes match and no common hash exists")
	flags.BoolVarP(&syncOpts.continueOnError, "continue", "C", false, "Continue after a failed copy or removal")
	flags.BoolVarP(&syncOpts.deleteExtras, "delete", "d", false, "Delete destination objects not present in the source")
	flags.BoolVarP(&syncOpts.excludeSymlinks, "exclude-symlinks", "e", false, "Skip symbolic links")
	flags.BoolVarP(&syncOpts.dryRun, "dry-run", "n", false, "Log what would be copied or removed without doing it")
	flags.BoolVarP(&syncOpts.preserveACL, "preserve-acl", "p", false, "Preserve ACLs on cloud-to-cloud copies")
	flags.BoolVarP(&syncOpts.recursive, "recursive", "r", false, "Synchronize subdirectories")
	flags.BoolVarP(&syncOpts.recursive, "Recursive", "R", false, "Same as -r")
	flags.BoolVarP(&syncOpts.skipUnsupported, "skip-unsupported", "U", false, "Skip objects with unsupported storage classes")
	flags.StringVarP(&syncOpts.exclude, "exclude", "x", "", "Exclude paths matching this regular expression (anchored at the start)")
	_ = flags.MarkHidden("Recursive")

	rootCmd.AddCommand(syncCmd)
}
