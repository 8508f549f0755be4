package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"voicelog/internal/daemonrun"
	"voicelog/internal/workflow"
)

func newOnceCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single ingestion cycle and exit",
		Long: "Run a single ingestion cycle in the foreground without the daemon.\n" +
			"Exits with status 1 when any file failed.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			summary, err := daemonrun.Once(cmd.Context(), cfg, daemonrun.Options{LogLevel: logLevel})
			if err != nil {
				return err
			}
			if asJSON {
				if err := writeJSON(cmd, summary); err != nil {
					return err
				}
			} else {
				printSummary(cmd.OutOrStdout(), summary)
			}
			if summary.HasFailures() {
				return &exitCodeError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the cycle summary as JSON")
	return cmd
}

func printSummary(out io.Writer, summary workflow.Summary) {
	switch {
	case summary.VolumeAbsent:
		fmt.Fprintln(out, "Recorder volume not mounted; nothing to do")
		return
	case summary.Interrupted:
		fmt.Fprintln(out, "Cycle interrupted")
	}
	fmt.Fprintf(out, "Scanned %d, ingested %d, skipped %d, delete retried %d\n",
		summary.Scanned, summary.Ingested, summary.Skipped, summary.DeleteRetried)
	fmt.Fprintf(out, "Processed %d, failed %d in %s\n",
		summary.Processed, summary.Failed, summary.Duration.Round(time.Millisecond))
}
