package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/gobeaver/filesync"
	"github.com/gobeaver/filesync/rsync"
)

type hashFlags struct {
	crc32cOnly bool
	md5Only    bool
	hex        bool
	xxhash     bool
}

var hashOpts hashFlags

var hashCmd = &cobra.Command{
	Use:   "hash [flags] FILE_OR_URL...",
	Short: "Print the checksums used to compare objects",
	Long: `Prints the CRC32C and MD5 of local files and cloud objects in the
encoding the sync command compares them in. Cloud objects report their
stored hashes; anything missing is computed by reading the content.

The -m switch is the global parallel flag, so MD5-only output is selected
with --md5.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return &rsync.ArgumentError{Msg: "hash requires at least one file or URL"}
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, arg := range args {
			if err := hashOpts.run(cmd.Context(), cmd.OutOrStdout(), arg); err != nil {
				return err
			}
		}
		return nil
	},
}

func (f hashFlags) algorithms() []filesync.ChecksumAlgorithm {
	var algos []filesync.ChecksumAlgorithm
	if f.crc32cOnly || !f.md5Only {
		algos = append(algos, filesync.ChecksumCRC32C)
	}
	if f.md5Only || !f.crc32cOnly {
		algos = append(algos, filesync.ChecksumMD5)
	}
	if f.xxhash {
		algos = append(algos, filesync.ChecksumXXHash)
	}
	return algos
}

func (f hashFlags) run(ctx context.Context, w io.Writer, arg string) error {
	u, err := filesync.ParseURL(arg)
	if err != nil {
		return &rsync.ArgumentError{Msg: "invalid argument", Err: err}
	}

	// Local files are opened through their parent directory; cloud drivers
	// are rooted at the bucket.
	root := &filesync.StorageURL{Scheme: u.Scheme, Bucket: u.Bucket}
	object := u.Object
	if u.IsFileURL() {
		root.Object = filepath.Dir(u.Object)
		object = filepath.Base(u.Object)
	}

	fs, err := filesync.Open(ctx, root, cfg)
	if err != nil {
		return fmt.Errorf("opening %s: %w", arg, err)
	}
	defer closeFS(fs)

	info, err := fs.Stat(ctx, object)
	if err != nil {
		return fmt.Errorf("no such file or object: %s: %w", arg, err)
	}
	if info.IsDir {
		return &rsync.ArgumentError{Msg: fmt.Sprintf("%s is a directory", arg)}
	}

	sums := map[filesync.ChecksumAlgorithm]string{
		filesync.ChecksumCRC32C: info.CRC32C,
		filesync.ChecksumMD5:    info.MD5,
	}

	algos := f.algorithms()
	var missing []filesync.ChecksumAlgorithm
	for _, algo := range algos {
		if sums[algo] == "" {
			missing = append(missing, algo)
		}
	}
	if len(missing) > 0 {
		if info.Size > 10<<20 {
			log.Infof("Computing hashes for %s...", arg)
		}
		rc, err := fs.Read(ctx, object)
		if err != nil {
			return fmt.Errorf("reading %s: %w", arg, err)
		}
		digests, err := filesync.CalculateChecksums(rc, missing)
		rc.Close()
		if err != nil {
			return fmt.Errorf("hashing %s: %w", arg, err)
		}
		for _, algo := range missing {
			sums[algo] = digests.Base64(algo)
		}
	}

	return f.print(w, arg, algos, sums)
}

func (f hashFlags) print(w io.Writer, name string, algos []filesync.ChecksumAlgorithm, sums map[filesync.ChecksumAlgorithm]string) error {
	encoding := "base64"
	if f.hex {
		encoding = "hex"
	}
	fmt.Fprintf(w, "Hashes [%s] for %s:\n", encoding, name)

	for _, algo := range algos {
		value := sums[algo]
		// xxhash has no stored form and is always shown in hex.
		if f.hex || algo == filesync.ChecksumXXHash {
			h, err := filesync.Base64ToHex(value)
			if err != nil {
				return fmt.Errorf("decoding %s of %s: %w", algo, name, err)
			}
			value = h
		}
		fmt.Fprintf(w, "\tHash (%s):\t\t%s\n", algo, value)
	}
	return nil
}

func init() {
	flags := hashCmd.Flags()
	flags.BoolVarP(&hashOpts.crc32cOnly, "crc32c", "c", false, "Only print the CRC32C hash")
	flags.BoolVar(&hashOpts.md5Only, "md5", false, "Only print the MD5 hash")
	flags.BoolVarP(&hashOpts.hex, "hex", "h", false, "Print hashes in hex instead of base64")
	flags.BoolVar(&hashOpts.xxhash, "xxhash", false, "Also print the xxhash64 digest")

	rootCmd.AddCommand(hashCmd)
}
