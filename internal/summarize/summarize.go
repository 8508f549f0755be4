package summarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"voicelog/internal/config"
	"voicelog/internal/fileutil"
	"voicelog/internal/ledger"
	"voicelog/internal/logging"
	"voicelog/internal/services"
	"voicelog/internal/stage"
	"voicelog/internal/supervise"
)

const (
	defaultRetryBaseDelay = time.Second
	defaultRetryMaxDelay  = 30 * time.Second
)

// Stage summarizes a stored transcript and writes the result as markdown.
type Stage struct {
	provider      Provider
	systemPrompt  string
	model         string
	policy        supervise.Policy
	limiter       *rate.Limiter
	transcriptDir string
	summaryDir    string
	apiKeySet     bool
	logger        *slog.Logger
}

var _ stage.Handler = (*Stage)(nil)

// Option customizes the stage.
type Option func(*options)

type options struct {
	provider   Provider
	httpClient *http.Client
	sleep      func(context.Context, time.Duration) error
}

// WithProvider replaces the provider selected from configuration.
func WithProvider(p Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithHTTPClient overrides the HTTP client used by built-in providers.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithSleep overrides how retry delays are waited out.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(o *options) { o.sleep = sleep }
}

// New constructs the summary stage. The provider is resolved eagerly so that
// configuration mistakes surface at startup.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Stage, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	provider := o.provider
	if provider == nil {
		var err error
		provider, err = NewProvider(ctx, cfg.Summarizer, o.httpClient)
		if err != nil {
			return nil, err
		}
	}

	limit := rate.Inf
	if rpm := cfg.Summarizer.RequestsPerMinute; rpm > 0 {
		limit = rate.Every(time.Minute / time.Duration(rpm))
	}

	return &Stage{
		provider:     provider,
		systemPrompt: cfg.Summarizer.SystemPrompt,
		model:        cfg.Summarizer.Model,
		policy: supervise.Policy{
			Timeout:   cfg.SummarizerTimeout(),
			Attempts:  cfg.Summarizer.RetryAttempts,
			BaseDelay: defaultRetryBaseDelay,
			MaxDelay:  defaultRetryMaxDelay,
			Sleep:     o.sleep,
		},
		limiter:       rate.NewLimiter(limit, 1),
		transcriptDir: cfg.TranscriptDir(),
		summaryDir:    cfg.SummaryDir(),
		apiKeySet:     cfg.Summarizer.APIKey != "",
		logger:        logging.NewComponentLogger(logger, "summarize"),
	}, nil
}

// Name implements stage.Handler.
func (s *Stage) Name() string { return config.StageSummarize }

// Prerequisite implements stage.Handler.
func (s *Stage) Prerequisite() string { return config.StageTranscribe }

// Run summarizes the transcript recorded for entry. The transcript is only
// read; a failed summary never alters it.
func (s *Stage) Run(ctx context.Context, entry *ledger.Entry) (string, error) {
	logger := logging.WithContext(ctx, s.logger)

	transcriptPath := entry.Stage(config.StageTranscribe).OutputPath
	if transcriptPath == "" {
		transcriptPath = stage.OutputPath(s.transcriptDir, entry, ".txt")
	}
	data, err := os.ReadFile(transcriptPath)
	if err != nil {
		return "", services.Wrap(services.ErrSummarize, "summarize", "input", "read transcript", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", services.Wrap(services.ErrSummarize, "summarize", "input", "transcript is empty", nil)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}

	var summary string
	attempt := 0
	err = supervise.Retry(ctx, s.policy, retryable, func(attemptCtx context.Context) error {
		attempt++
		out, callErr := s.provider.Summarize(attemptCtx, s.systemPrompt, text)
		if callErr != nil {
			logger.Debug("summary attempt failed",
				logging.Int("attempt", attempt),
				logging.Error(callErr),
			)
			return callErr
		}
		summary = out
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", s.wrapFailure(err, attempt)
	}

	out := stage.OutputPath(s.summaryDir, entry, ".md")
	if err := os.MkdirAll(s.summaryDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrSummarize, "summarize", "store", "create summary directory", err)
	}
	if err := fileutil.WriteFileAtomic(out, []byte(summary+"\n"), 0o644); err != nil {
		return "", services.Wrap(services.ErrSummarize, "summarize", "store", "write summary", err)
	}
	logger.Info("summary written",
		logging.String("summary", out),
		logging.String("provider", s.provider.Name()),
		logging.Int("attempts", attempt),
		logging.String(logging.FieldEventType, "summarize_complete"),
	)
	return out, nil
}

func (s *Stage) wrapFailure(err error, attempts int) error {
	message := fmt.Sprintf("%s request failed after %d attempt(s)", s.provider.Name(), attempts)
	if errors.Is(err, context.DeadlineExceeded) {
		err = services.Wrap(services.ErrTimeout, "summarize", "request", "provider did not answer in time", err)
	}
	wrapped := services.Wrap(services.ErrSummarize, "summarize", "request", message, err)
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) && (statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden) {
		return services.WithHint(wrapped, "check summarizer provider, endpoint and api key")
	}
	return wrapped
}

// HealthCheck reports configuration readiness without calling the provider.
func (s *Stage) HealthCheck(context.Context) stage.Health {
	if !s.apiKeySet {
		return stage.Unhealthy(s.Name(), "summarizer api key not configured")
	}
	if s.model == "" {
		return stage.Unhealthy(s.Name(), "summarizer model not configured")
	}
	return stage.Health{Name: s.Name(), Ready: true, Detail: s.provider.Name() + " " + s.model}
}
