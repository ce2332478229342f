package main

import (
	_ "crypto/sha256" // register digest algorithms
	_ "crypto/sha512"
	"fmt"
	"text/tabwriter"

	"github.com/opencontainers/go-digest"
	"github.com/spf13/cobra"

	"github.com/meigma/zipentry/internal/extract"
)

const timeLayout = "2006-01-02 15:04:05"

func newInspectCmd(a *app) *cobra.Command {
	var alg string
	cmd := &cobra.Command{
		Use:   "inspect <archive|url>",
		Short: "List the entries of an archive",
		Long: `List the entries of an archive by walking its local headers.

With --digest, every file is decompressed, checked against its CRC and
hashed with the named algorithm (sha256, sha384 or sha512).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runInspect(cmd, args[0], alg)
		},
	}
	cmd.Flags().StringVar(&alg, "digest", "", "hash file content with this algorithm")
	return cmd
}

func (a *app) runInspect(cmd *cobra.Command, archive, alg string) error {
	af, entries, err := openArchive(cmd.Context(), archive, a.logger)
	if err != nil {
		return err
	}
	defer af.Close()

	var sink *extract.DigestSink
	if alg != "" {
		algorithm := digest.Algorithm(alg)
		if !algorithm.Available() {
			return fmt.Errorf("unknown digest algorithm %q", alg)
		}
		sink = extract.NewDigestSink(algorithm)
		p := extract.NewProcessor(af, extract.WithPassword(a.password()), extract.WithProcessorLogger(a.logger))
		if _, err := p.Process(cmd.Context(), entries, sink); err != nil {
			return err
		}
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tMETHOD\tENCRYPTION\tSIZE\tCOMPRESSED\tCRC32\tMODIFIED\tZIP64\tDIGEST")
	for _, e := range entries {
		d := "-"
		if sink != nil {
			if v, ok := sink.Digest(e.Name); ok {
				d = v.String()
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%08x\t%s\t%t\t%s\n",
			e.Name,
			e.Method,
			e.Encryption,
			e.UncompressedSize,
			e.CompressedSize,
			e.CRC32,
			e.ModTime().Format(timeLayout),
			e.InputUsedZip64,
			d)
	}
	return tw.Flush()
}
