package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"voicelog/internal/config"
	"voicelog/internal/fileutil"
	"voicelog/internal/ledger"
	"voicelog/internal/logging"
	"voicelog/internal/services"
	"voicelog/internal/stage"
	"voicelog/internal/supervise"
)

// Stage runs whisper-cli for one recording and stores the text transcript.
type Stage struct {
	cliPath        string
	modelPath      string
	language       string
	extraArgs      []string
	timeout        time.Duration
	transcriptDir  string
	diagnosticsDir string
	workDir        string
	logger         *slog.Logger
}

var _ stage.Handler = (*Stage)(nil)

// New constructs the transcription stage from configuration.
func New(cfg *config.Config, logger *slog.Logger) *Stage {
	return &Stage{
		cliPath:        cfg.Whisper.CLIPath,
		modelPath:      cfg.Whisper.ModelPath,
		language:       cfg.Whisper.Language,
		extraArgs:      append([]string(nil), cfg.Whisper.ExtraArgs...),
		timeout:        cfg.WhisperTimeout(),
		transcriptDir:  cfg.TranscriptDir(),
		diagnosticsDir: cfg.DiagnosticsDir(),
		workDir:        cfg.StagingDir(),
		logger:         logging.NewComponentLogger(logger, "transcribe"),
	}
}

// Name implements stage.Handler.
func (s *Stage) Name() string { return config.StageTranscribe }

// Prerequisite implements stage.Handler.
func (s *Stage) Prerequisite() string { return "" }

// Command returns the whisper-cli invocation for audio writing to
// outputBase.txt.
func (s *Stage) Command(audio, outputBase string) supervise.Command {
	args := []string{
		"-m", s.modelPath,
		"-f", audio,
		"-of", outputBase,
		"-otxt",
		"-l", s.language,
	}
	args = append(args, s.extraArgs...)
	return supervise.Command{Path: s.cliPath, Args: args}
}

// Run transcribes entry.LocalPath. Success requires a zero exit status and
// a transcript with visible text; anything else is reported with the tool
// output retained in the diagnostics directory.
func (s *Stage) Run(ctx context.Context, entry *ledger.Entry) (string, error) {
	logger := logging.WithContext(ctx, s.logger)
	if _, err := os.Stat(entry.LocalPath); err != nil {
		return "", services.Wrap(services.ErrTranscribe, "transcribe", "input", "local audio missing", err)
	}
	if err := os.MkdirAll(s.workDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrTranscribe, "transcribe", "prepare", "create work directory", err)
	}

	outputBase := filepath.Join(s.workDir, "transcribe-"+uuid.NewString())
	produced := outputBase + ".txt"
	defer os.Remove(produced)

	cmd := s.Command(entry.LocalPath, outputBase)
	logger.Debug("running whisper", logging.String("command", cmd.String()))
	result, runErr := cmd.Run(ctx, s.timeout)
	if runErr != nil {
		if ctx.Err() != nil {
			return "", runErr
		}
		return "", s.fail(entry, cmd, result, "whisper-cli failed", runErr)
	}

	data, err := os.ReadFile(produced)
	if err != nil {
		return "", s.fail(entry, cmd, result, "whisper-cli produced no transcript", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", s.fail(entry, cmd, result, "transcript is empty", nil)
	}

	out := stage.OutputPath(s.transcriptDir, entry, ".txt")
	if err := os.MkdirAll(s.transcriptDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrTranscribe, "transcribe", "store", "create transcript directory", err)
	}
	if err := fileutil.WriteFileAtomic(out, []byte(text+"\n"), 0o644); err != nil {
		return "", services.Wrap(services.ErrTranscribe, "transcribe", "store", "write transcript", err)
	}
	logger.Info("transcript written",
		logging.String("transcript", out),
		logging.Int("chars", len([]rune(text))),
		logging.Duration("elapsed", result.Duration),
		logging.String(logging.FieldEventType, "transcribe_complete"),
	)
	return out, nil
}

func (s *Stage) fail(entry *ledger.Entry, cmd supervise.Command, result supervise.Result, message string, cause error) error {
	err := services.Wrap(services.ErrTranscribe, "transcribe", "whisper", message, cause)
	detail := stage.DiagnosticPath(s.diagnosticsDir, entry, config.StageTranscribe)
	if writeErr := writeDiagnostic(detail, cmd, result, cause); writeErr != nil {
		s.logger.Debug("failed to retain transcription diagnostics", logging.Error(writeErr))
		return err
	}
	return services.WithHint(services.WithDetailPath(err, detail), "inspect the diagnostic log, then run `voicelog ledger retry`")
}

func writeDiagnostic(path string, cmd supervise.Command, result supervise.Result, cause error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "command: %s\n", cmd.String())
	fmt.Fprintf(&buf, "exit_code: %d\n", result.ExitCode)
	fmt.Fprintf(&buf, "duration: %s\n", result.Duration.Round(time.Millisecond))
	fmt.Fprintf(&buf, "timed_out: %t\n", result.TimedOut)
	if cause != nil {
		fmt.Fprintf(&buf, "error: %v\n", cause)
	}
	buf.WriteString("--- output ---\n")
	buf.Write(result.Output)
	return fileutil.WriteFileAtomic(path, buf.Bytes(), 0o644)
}

// HealthCheck verifies the whisper binary and model are present.
func (s *Stage) HealthCheck(context.Context) stage.Health {
	info, err := os.Stat(s.cliPath)
	if err != nil {
		return stage.Unhealthy(s.Name(), fmt.Sprintf("whisper cli not found: %s", s.cliPath))
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return stage.Unhealthy(s.Name(), fmt.Sprintf("whisper cli is not executable: %s", s.cliPath))
	}
	if _, err := os.Stat(s.modelPath); err != nil {
		return stage.Unhealthy(s.Name(), fmt.Sprintf("whisper model not found: %s", s.modelPath))
	}
	return stage.Healthy(s.Name())
}
