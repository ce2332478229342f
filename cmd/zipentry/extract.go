package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meigma/zipentry/internal/extract"
)

type extractFlags struct {
	dest          string
	overwrite     bool
	preserveMode  bool
	preserveTimes bool
}

func newExtractCmd(a *app) *cobra.Command {
	var f extractFlags
	cmd := &cobra.Command{
		Use:   "extract <archive|url>",
		Short: "Extract an archive into a directory",
		Long: `Extract an archive into a directory.

Each file is written to a temporary file and only renamed into place once its
content has passed integrity checks. Entry names that would escape the
destination are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runExtract(cmd, args[0], f)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&f.dest, "dest", "d", ".", "destination directory")
	flags.BoolVar(&f.overwrite, "overwrite", false, "replace existing files")
	flags.BoolVar(&f.preserveMode, "preserve-mode", true, "apply stored Unix permissions")
	flags.BoolVar(&f.preserveTimes, "preserve-times", true, "apply stored modification times")
	return cmd
}

func (a *app) runExtract(cmd *cobra.Command, archive string, f extractFlags) error {
	af, entries, err := openArchive(cmd.Context(), archive, a.logger)
	if err != nil {
		return err
	}
	defer af.Close()

	sink, err := extract.NewFileSink(f.dest,
		extract.WithOverwrite(f.overwrite),
		extract.WithPreserveMode(f.preserveMode),
		extract.WithPreserveTimes(f.preserveTimes))
	if err != nil {
		return err
	}
	defer sink.Close()

	p := extract.NewProcessor(af, extract.WithPassword(a.password()), extract.WithProcessorLogger(a.logger))
	stats, err := p.Process(cmd.Context(), entries, sink)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "extracted %d files, %d directories (%d bytes), skipped %d\n",
		stats.Files, stats.Directories, stats.TotalBytes, stats.Skipped)
	return nil
}
