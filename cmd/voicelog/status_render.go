package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"voicelog/internal/config"
	"voicelog/internal/daemon"
	"voicelog/internal/recorder"
	"voicelog/internal/status"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := statusKindLabel(kind)
	if message != "" {
		statusText = fmt.Sprintf("[%s] %s", statusText, message)
	} else {
		statusText = fmt.Sprintf("[%s]", statusText)
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func daemonLines(st daemon.Status, colorize bool) []string {
	lines := make([]string, 0, 6)
	if st.Running {
		detail := fmt.Sprintf("Running (pid %d)", st.PID)
		if st.StartedAt != nil {
			detail += fmt.Sprintf(", up %s", time.Since(*st.StartedAt).Round(time.Second))
		}
		lines = append(lines, renderStatusLine("Daemon", statusOK, detail, colorize))
	} else {
		lines = append(lines, renderStatusLine("Daemon", statusWarn, fmt.Sprintf("Starting (pid %d)", st.PID), colorize))
	}
	if st.Paused {
		lines = append(lines, renderStatusLine("Scheduling", statusWarn, "Paused (manual runs still allowed)", colorize))
	} else {
		lines = append(lines, renderStatusLine("Scheduling", statusOK, "Active", colorize))
	}
	if st.APIAddress != "" {
		lines = append(lines, renderStatusLine("HTTP API", statusInfo, st.APIAddress, colorize))
	}
	lines = append(lines, renderStatusLine("Ledger", statusInfo, st.LedgerPath, colorize))
	if st.LogPath != "" {
		lines = append(lines, renderStatusLine("Log", statusInfo, st.LogPath, colorize))
	}
	return lines
}

func cycleLines(cycle status.CycleState, colorize bool) []string {
	lines := make([]string, 0, 6)
	kind := statusInfo
	switch cycle.Phase {
	case status.PhaseComplete:
		kind = statusOK
	case status.PhaseError:
		kind = statusError
	case status.PhaseVolumeAbsent:
		kind = statusWarn
	}
	phase := string(cycle.Phase)
	if cycle.Running {
		phase = fmt.Sprintf("%s (%d%%)", phase, cycle.Progress)
	}
	lines = append(lines, renderStatusLine("Phase", kind, phase, colorize))
	if cycle.CurrentFile != "" {
		lines = append(lines, renderStatusLine("Current file", statusInfo, cycle.CurrentFile, colorize))
	}
	if cycle.Message != "" {
		lines = append(lines, renderStatusLine("Message", statusInfo, cycle.Message, colorize))
	}
	if cycle.LastError != nil {
		detail := fmt.Sprintf("%s: %s", cycle.LastError.Kind, cycle.LastError.Message)
		if cycle.LastError.Hint != "" {
			detail += " (" + cycle.LastError.Hint + ")"
		}
		lines = append(lines, renderStatusLine("Last error", statusError, detail, colorize))
	}
	for _, failure := range cycle.Failures {
		detail := fmt.Sprintf("%s %s: %s", failure.Phase, failure.Kind, failure.Message)
		lines = append(lines, renderStatusLine(failure.File, statusError, detail, colorize))
	}
	if last := cycle.LastCycle; last != nil {
		detail := fmt.Sprintf("%s via %s at %s: copied %d, stages %d, failures %d",
			last.Phase, last.Trigger, last.FinishedAt.Local().Format(time.DateTime), last.Copied, last.Stages, last.Failures)
		lines = append(lines, renderStatusLine("Last cycle", statusInfo, detail, colorize))
	}
	return lines
}

func recorderLine(rec recorder.Status, colorize bool) string {
	switch {
	case !rec.Enabled:
		return renderStatusLine("Recorder", statusInfo, "Disabled", colorize)
	case rec.Running:
		return renderStatusLine("Recorder", statusOK, fmt.Sprintf("Running (pid %d, restarts %d)", rec.PID, rec.Restarts), colorize)
	case rec.LastError != "":
		return renderStatusLine("Recorder", statusError, rec.LastError, colorize)
	default:
		detail := fmt.Sprintf("Restarting (restarts %d)", rec.Restarts)
		if rec.LastExit != nil {
			detail = fmt.Sprintf("Exited with code %d, restarts %d", rec.LastExit.Code, rec.Restarts)
		}
		return renderStatusLine("Recorder", statusWarn, detail, colorize)
	}
}

func stageLines(st daemon.Status, colorize bool) []string {
	lines := make([]string, 0, len(st.Stages))
	for _, health := range st.Stages {
		if health.Ready {
			lines = append(lines, renderStatusLine(health.Name, statusOK, "Ready", colorize))
			continue
		}
		detail := strings.TrimSpace(health.Detail)
		if detail == "" {
			detail = "not ready"
		}
		lines = append(lines, renderStatusLine(health.Name, statusError, detail, colorize))
	}
	return lines
}

// ledgerStatsRows returns one row per stage with succeeded and failed counts.
func ledgerStatsRows(st daemon.Status) [][]string {
	names := make(map[string]struct{})
	for name := range st.Ledger.Succeeded {
		names[name] = struct{}{}
	}
	for name := range st.Ledger.Failed {
		names[name] = struct{}{}
	}
	ordered := make([]string, 0, len(names))
	for name := range names {
		ordered = append(ordered, name)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return stageOrder(ordered[i]) < stageOrder(ordered[j])
	})
	rows := make([][]string, 0, len(ordered))
	for _, name := range ordered {
		rows = append(rows, []string{
			name,
			fmt.Sprintf("%d", st.Ledger.Succeeded[name]),
			fmt.Sprintf("%d", st.Ledger.Failed[name]),
		})
	}
	return rows
}

func stageOrder(name string) int {
	switch name {
	case config.StageTranscribe:
		return 0
	case config.StageSummarize:
		return 1
	default:
		return 2
	}
}
