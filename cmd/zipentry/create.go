package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meigma/zipentry"
	"github.com/meigma/zipentry/stream"
)

type createFlags struct {
	stream     bool
	zip64      string
	encrypt    string
	level      int
	store      bool
	comment    string
	ntfsTimes  bool
	unixTimes  bool
	bufferSize int
}

func newCreateCmd(a *app) *cobra.Command {
	var f createFlags
	cmd := &cobra.Command{
		Use:   "create <archive> <dir>",
		Short: "Create an archive from a directory",
		Long: `Create an archive from the contents of a directory.

Use "-" as the archive to write to standard output. Standard output and
--stream produce a streamed archive: sizes and CRCs follow each entry in a
data descriptor instead of being patched into its header.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCreate(cmd, args[0], args[1], f)
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&f.stream, "stream", false, "write without seeking back")
	flags.StringVar(&f.zip64, "zip64", "auto", "ZIP64 policy (never, auto, always)")
	flags.StringVar(&f.encrypt, "encrypt", "none", "encryption (none, weak, aes128, aes256)")
	flags.IntVar(&f.level, "level", -1, "deflate level (-1 for default, 1-9)")
	flags.BoolVar(&f.store, "store", false, "store entries without compression")
	flags.StringVar(&f.comment, "comment", "", "archive comment")
	flags.BoolVar(&f.ntfsTimes, "ntfs-times", true, "record NTFS timestamps")
	flags.BoolVar(&f.unixTimes, "unix-times", false, "record extended Unix timestamps")
	flags.IntVar(&f.bufferSize, "buffer-size", 0, "copy buffer size in bytes")
	return cmd
}

func (a *app) runCreate(cmd *cobra.Command, archive, dir string, f createFlags) error {
	policy, err := parseZip64(f.zip64)
	if err != nil {
		return err
	}
	enc, err := parseEncryption(f.encrypt)
	if err != nil {
		return err
	}
	if enc != zipentry.EncryptionNone && a.password() == "" {
		return fmt.Errorf("--encrypt %s requires a password", enc)
	}

	wopts := []zipentry.WriterOption{
		zipentry.WithZip64(policy),
		zipentry.WithLogger(a.logger),
		zipentry.WithComment(f.comment),
		zipentry.WithNTFSTimes(f.ntfsTimes),
		zipentry.WithUnixTimes(f.unixTimes),
		zipentry.WithBufferSize(f.bufferSize),
	}
	if f.level >= 0 {
		wopts = append(wopts, zipentry.WithCompressionLevel(f.level))
	}
	if f.store {
		wopts = append(wopts, zipentry.WithCompression(zipentry.Store))
	}
	opts := []zipentry.CreateOption{zipentry.CreateWithWriterOptions(wopts...)}
	if enc != zipentry.EncryptionNone {
		opts = append(opts, zipentry.CreateWithEncryption(enc, a.password()))
	}

	ctx := cmd.Context()
	switch {
	case archive == "-":
		return zipentry.Create(ctx, dir, stream.Forward(cmd.OutOrStdout()), opts...)
	case f.stream:
		return createStreamed(cmd, archive, dir, opts)
	default:
		if err := zipentry.CreateFile(ctx, archive, dir, opts...); err != nil {
			return err
		}
		a.logger.Info("archive created", "archive", archive, "dir", dir)
		return nil
	}
}

func createStreamed(cmd *cobra.Command, archive, dir string, opts []zipentry.CreateOption) (err error) {
	out, err := os.Create(archive) //nolint:gosec // User-provided path is intentional
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close archive: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(archive) //nolint:errcheck // best-effort cleanup
		}
	}()
	return zipentry.Create(cmd.Context(), dir, stream.Forward(out), opts...)
}
