package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"voicelog/internal/daemonctl"
	"voicelog/internal/ipc"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var asJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, cycle, recorder and ledger status",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			var resp *ipc.StatusResponse
			err := ctx.withClient(func(client *ipc.Client) error {
				var callErr error
				resp, callErr = client.Status()
				return callErr
			})
			if errors.Is(err, errDaemonNotRunning) {
				if asJSON {
					return writeJSON(cmd, map[string]bool{"running": false})
				}
				fmt.Fprintln(stdout, renderStatusLine("Daemon", statusError, "Not running", shouldColorize(stdout)))
				return nil
			}
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, resp.Status)
			}

			st := resp.Status
			colorize := shouldColorize(stdout)
			printSection := func(title string, lines []string) {
				for _, line := range renderSectionHeader(title, colorize) {
					fmt.Fprintln(stdout, line)
				}
				for _, line := range lines {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintln(stdout)
			}
			printSection("Daemon", daemonLines(st, colorize))
			printSection("Cycle", cycleLines(st.Cycle, colorize))
			printSection("Recorder", []string{recorderLine(st.Recorder, colorize)})
			printSection("Stages", stageLines(st, colorize))

			for _, line := range renderSectionHeader("Ledger", colorize) {
				fmt.Fprintln(stdout, line)
			}
			if st.LedgerError != "" {
				fmt.Fprintln(stdout, renderStatusLine("Ledger", statusError, st.LedgerError, colorize))
				return nil
			}
			fmt.Fprintln(stdout, renderStatusLine("Recordings", statusInfo, fmt.Sprintf("%d", st.Ledger.Entries), colorize))
			if st.Ledger.AwaitingDelete > 0 {
				fmt.Fprintln(stdout, renderStatusLine("Awaiting delete", statusWarn, fmt.Sprintf("%d", st.Ledger.AwaitingDelete), colorize))
			}
			rows := ledgerStatsRows(st)
			if len(rows) == 0 {
				return nil
			}
			fmt.Fprint(stdout, renderTable([]string{"Stage", "Succeeded", "Failed"}, rows,
				[]columnAlignment{alignLeft, alignRight, alignRight}, colorize))
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw status as JSON")

	pauseCmd := &cobra.Command{
		Use:   "pause",
		Short: "Stop scheduled cycles until resumed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.Pause(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Scheduling paused")
				return nil
			})
		},
	}

	resumeCmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume scheduled cycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.Resume(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Scheduling resumed")
				return nil
			})
		},
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Ask the daemon to run a cycle now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.RunOnce()
				if err != nil {
					return err
				}
				message := strings.TrimSpace(resp.Message)
				if message == "" {
					message = "Cycle requested"
				}
				fmt.Fprintln(cmd.OutOrStdout(), message)
				return nil
			})
		},
	}

	var startDiagnostic bool
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the voicelog daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			result, err := daemonctl.EnsureStarted(ctx.socketPath(), exe, daemonLaunchOptions(ctx, startDiagnostic), 10*time.Second)
			if err != nil {
				return err
			}
			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintf(stdout, "Daemon started (pid %d)\n", result.PID)
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			}
			return nil
		},
	}
	startCmd.Flags().BoolVar(&startDiagnostic, "diagnostic", false, "Enable diagnostic mode with separate DEBUG logs")

	var stopGrace time.Duration
	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the voicelog daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.socketPath(), ctx.configValue(), stopGrace)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Daemon did not exit within %s; killed pid %d\n", stopGrace, result.PID)
				return nil
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}
	stopCmd.Flags().DurationVar(&stopGrace, "grace", 30*time.Second, "How long to wait before killing the daemon")

	var restartDiagnostic bool
	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the voicelog daemon, picking up configuration changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			result, err := daemonctl.Restart(ctx.socketPath(), ctx.configValue(), exe,
				daemonLaunchOptions(ctx, restartDiagnostic), stopGrace, 10*time.Second)
			if err != nil {
				return err
			}
			if result.WasRunning {
				if result.Stop.ForcedKill && result.Stop.PID > 0 {
					fmt.Fprintf(stdout, "Killed daemon process (pid %d)\n", result.Stop.PID)
				}
				fmt.Fprintln(stdout, "Daemon stopped")
			}
			fmt.Fprintf(stdout, "Daemon restarted (pid %d)\n", result.Start.PID)
			return nil
		},
	}
	restartCmd.Flags().BoolVar(&restartDiagnostic, "diagnostic", false, "Enable diagnostic mode with separate DEBUG logs")
	restartCmd.Flags().DurationVar(&stopGrace, "grace", 30*time.Second, "How long to wait before killing the daemon")

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd, pauseCmd, resumeCmd, runCmd}
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext, diagnostic bool) daemonctl.LaunchOptions {
	return daemonctl.LaunchOptions{
		Diagnostic: diagnostic,
		SocketPath: ctx.socketFlagValue(),
		ConfigPath: ctx.configFlagValue(),
	}
}
