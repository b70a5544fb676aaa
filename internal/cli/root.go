package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gobeaver/filesync"
	"github.com/gobeaver/filesync/rsync"
)

var (
	parallel bool
	debug    bool
	quiet    bool

	cfg *filesync.Config
	log = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "filesync",
	Short: "filesync keeps a destination tree identical to a source tree",
	Long: `A synchronization tool for local directories and cloud buckets
(gs://, s3://, az://, sftp://). Listings are sorted on disk so that trees
with millions of objects can be compared in bounded memory.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = filesync.LoadConfig()
		if err != nil {
			return &rsync.ConfigurationError{Msg: "loading configuration", Err: err}
		}
		setupLogging(cmd.ErrOrStderr())
		return nil
	},
}

func setupLogging(w io.Writer) {
	log.SetOutput(w)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	switch {
	case debug:
		log.SetLevel(logrus.DebugLevel)
	case quiet:
		log.SetLevel(logrus.WarnLevel)
	default:
		log.SetLevel(cfg.Level())
	}
}

// Execute runs the command tree and exits non-zero on failure. SIGINT and
// SIGTERM cancel the running command so its temporary files are removed.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cmd, err := rootCmd.ExecuteContextC(ctx)
	stop()
	if err != nil {
		reportError(os.Stderr, cmd, err)
		os.Exit(1)
	}
}

func reportError(w io.Writer, cmd *cobra.Command, err error) {
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(w, "CommandException: interrupted")
		return
	}
	fmt.Fprintf(w, "CommandException: %v\n", err)
	if rsync.IsArgumentError(err) && cmd != nil {
		fmt.Fprintf(w, "Usage: %s\n", cmd.UseLine())
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&parallel, "parallel", "m", false, "Apply changes in parallel (implies -C for sync)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "D", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Only log warnings and errors")
}
