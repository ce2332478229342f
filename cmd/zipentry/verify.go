package main

import (
	"context"
	"fmt"

	"github.com/opencontainers/go-digest"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/meigma/zipentry/internal/extract"
)

type verifyResult struct {
	archive string
	stats   extract.ProcessStats
	err     error
}

func newVerifyCmd(a *app) *cobra.Command {
	var jobs int
	cmd := &cobra.Command{
		Use:   "verify <archive|url>...",
		Short: "Check the integrity of archives",
		Long: `Decompress every entry of each archive and check CRCs, sizes and, for
AES entries, authentication codes. Archives are verified concurrently.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runVerify(cmd, args, jobs)
		},
	}
	cmd.Flags().IntVar(&jobs, "jobs", 4, "number of archives verified at once")
	return cmd
}

func (a *app) runVerify(cmd *cobra.Command, archives []string, jobs int) error {
	results := make([]verifyResult, len(archives))

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(max(jobs, 1))
	for i, archive := range archives {
		g.Go(func() error {
			stats, err := a.verifyArchive(ctx, archive)
			results[i] = verifyResult{archive: archive, stats: stats, err: err}
			// Keep going so every archive gets a verdict; cancellation
			// still propagates through ctx.
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var failed int
	for _, r := range results {
		if r.err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s: %v\n", r.archive, r.err)
			continue
		}
		fmt.Fprintf(out, "OK   %s (%d files, %d bytes)\n", r.archive, r.stats.Files, r.stats.TotalBytes)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d archives failed verification", failed, len(archives))
	}
	return nil
}

func (a *app) verifyArchive(ctx context.Context, archive string) (extract.ProcessStats, error) {
	af, entries, err := openArchive(ctx, archive, a.logger)
	if err != nil {
		return extract.ProcessStats{}, err
	}
	defer af.Close()

	files, size := entrySummary(entries)
	a.logger.Debug("verifying archive", "archive", archive, "files", files, "bytes", size)

	p := extract.NewProcessor(af, extract.WithPassword(a.password()), extract.WithProcessorLogger(a.logger))
	return p.Process(ctx, entries, extract.NewDigestSink(digest.Canonical))
}
