package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"voicelog/internal/config"
	"voicelog/internal/fileutil"
	"voicelog/internal/ipc"
	"voicelog/internal/ledger"
)

func newLedgerCommand(ctx *commandContext) *cobra.Command {
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and repair the ingestion ledger",
	}
	ledgerCmd.AddCommand(newLedgerListCommand(ctx))
	ledgerCmd.AddCommand(newLedgerShowCommand(ctx))
	ledgerCmd.AddCommand(newLedgerRetryCommand(ctx))
	ledgerCmd.AddCommand(newLedgerExportCommand(ctx))
	return ledgerCmd
}

func newLedgerListCommand(ctx *commandContext) *cobra.Command {
	var format string
	var failedOnly bool
	var awaitingDelete bool
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ingested recordings",
		RunE: func(cmd *cobra.Command, args []string) error {
			format = strings.ToLower(strings.TrimSpace(format))
			if format != "table" && format != "json" && format != "yaml" {
				return fmt.Errorf("unsupported format %q (use table, json or yaml)", format)
			}
			req := ipc.LedgerListRequest{FailedOnly: failedOnly, AwaitingDelete: awaitingDelete, Limit: limit}
			entries, err := listEntries(cmd.Context(), ctx, req)
			if err != nil {
				return err
			}
			switch format {
			case "json":
				return writeJSON(cmd, entries)
			case "yaml":
				return writeYAML(cmd, entries)
			}
			stdout := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(stdout, "Ledger is empty")
				return nil
			}
			fmt.Fprint(stdout, renderTable(
				[]string{"Identity", "Size", "Ingested", "Source", "Transcribe", "Summarize"},
				buildLedgerRows(entries),
				[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
				shouldColorize(stdout),
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table, json or yaml")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "Only show recordings with a failed stage")
	cmd.Flags().BoolVar(&awaitingDelete, "awaiting-delete", false, "Only show recordings still present on the recorder")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of entries")
	return cmd
}

func newLedgerShowCommand(ctx *commandContext) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show <identity>",
		Short: "Show one ledger entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, err := showEntry(cmd.Context(), ctx, args[0])
			if err != nil {
				return err
			}
			if strings.EqualFold(strings.TrimSpace(format), "json") {
				return writeJSON(cmd, entry)
			}
			return writeYAML(cmd, entry)
		},
	}
	cmd.Flags().StringVar(&format, "format", "yaml", "Output format: yaml or json")
	return cmd
}

func newLedgerRetryCommand(ctx *commandContext) *cobra.Command {
	var stageName string
	cmd := &cobra.Command{
		Use:   "retry <identity>",
		Short: "Reset a failed stage so the next cycle runs it again",
		Long: "Reset a stage of one recording so the next cycle runs it again.\n" +
			"Without --stage every failed stage is reset. Dependent stages are reset too.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.LedgerRetry(ipc.LedgerRetryRequest{
					Identity: args[0],
					Stage:    strings.TrimSpace(stageName),
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(resp.Reset) == 0 {
					fmt.Fprintln(out, "Nothing to reset")
					return nil
				}
				fmt.Fprintf(out, "Reset %s; the next cycle will run them\n", strings.Join(resp.Reset, ", "))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stageName, "stage", "", "Stage to reset (transcribe or summarize)")
	return cmd
}

func newLedgerExportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file.json|file.yaml>",
		Short: "Write a snapshot of the whole ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := config.ExpandPath(args[0])
			if err != nil {
				return fmt.Errorf("resolve export path: %w", err)
			}
			ext := strings.ToLower(filepath.Ext(target))
			if ext != ".json" && ext != ".yaml" && ext != ".yml" {
				return fmt.Errorf("unsupported export extension %q (use .json or .yaml)", filepath.Ext(target))
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ledger.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if ext == ".json" {
				err = store.Export(cmd.Context(), target)
			} else {
				err = exportYAML(cmd.Context(), store, target)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported ledger to %s\n", target)
			return nil
		},
	}
}

func exportYAML(ctx context.Context, store *ledger.Store, target string) error {
	snapshot, err := store.Snapshot(ctx)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode ledger snapshot: %w", err)
	}
	if err := fileutil.WriteFileAtomic(target, data, 0o644); err != nil {
		return fmt.Errorf("write ledger snapshot: %w", err)
	}
	return nil
}

// listEntries asks the daemon and reads the ledger file directly when no
// daemon is running.
func listEntries(cmdCtx context.Context, ctx *commandContext, req ipc.LedgerListRequest) ([]*ledger.Entry, error) {
	var entries []*ledger.Entry
	err := ctx.withClient(func(client *ipc.Client) error {
		resp, callErr := client.LedgerList(req)
		if callErr != nil {
			return callErr
		}
		entries = resp.Entries
		return nil
	})
	if !errors.Is(err, errDaemonNotRunning) {
		return entries, err
	}
	err = withOfflineLedger(ctx, func(store *ledger.Store) error {
		var listErr error
		entries, listErr = store.List(cmdCtx, ledger.Filter{
			FailedOnly:     req.FailedOnly,
			AwaitingDelete: req.AwaitingDelete,
			Limit:          req.Limit,
		})
		return listErr
	})
	return entries, err
}

func showEntry(cmdCtx context.Context, ctx *commandContext, identity string) (*ledger.Entry, error) {
	var entry *ledger.Entry
	err := ctx.withClient(func(client *ipc.Client) error {
		resp, callErr := client.LedgerShow(identity)
		if callErr != nil {
			return callErr
		}
		entry = resp.Entry
		return nil
	})
	if !errors.Is(err, errDaemonNotRunning) {
		return entry, err
	}
	err = withOfflineLedger(ctx, func(store *ledger.Store) error {
		var getErr error
		entry, getErr = store.Get(cmdCtx, identity)
		return getErr
	})
	return entry, err
}

func withOfflineLedger(ctx *commandContext, fn func(*ledger.Store) error) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfg.LedgerPath()); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no ledger at %s yet", cfg.LedgerPath())
		}
		return err
	}
	store, err := ledger.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func buildLedgerRows(entries []*ledger.Entry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		source := "deleted"
		if entry.SourceDeletedAt == nil {
			source = "awaiting delete"
		}
		rows = append(rows, []string{
			entry.SourceIdentity,
			formatBytes(entry.SourceSize),
			entry.IngestedAt.Local().Format(time.DateTime),
			source,
			stageCell(entry, config.StageTranscribe),
			stageCell(entry, config.StageSummarize),
		})
	}
	return rows
}

func stageCell(entry *ledger.Entry, name string) string {
	result, ok := entry.Stages[name]
	if !ok || result.State == "" {
		return "-"
	}
	if result.State == ledger.StateFailed && result.ErrorKind != "" {
		return fmt.Sprintf("%s (%s)", result.State, result.ErrorKind)
	}
	return string(result.State)
}

func formatBytes(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}
