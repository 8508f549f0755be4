package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"voicelog/internal/config"
)

const userAgent = "voicelog/0.1"

// CycleReport carries the counts shown in a cycle notification.
type CycleReport struct {
	Trigger   string
	Ingested  int
	Processed int
	Failed    int
	Duration  time.Duration
}

// Service defines the notification surface exposed to the workflow.
type Service interface {
	NotifyCycleCompleted(ctx context.Context, report CycleReport) error
	NotifyCycleAborted(ctx context.Context, err error) error
	NotifyRecorderStopped(ctx context.Context, detail string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint:  topic,
		client:    &http.Client{Timeout: timeout},
		onSuccess: cfg.Notifications.NotifyOnSuccess,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	onSuccess bool
}

func (n *ntfyService) NotifyCycleCompleted(ctx context.Context, report CycleReport) error {
	if report.Failed == 0 && !n.onSuccess {
		return nil
	}
	duration := report.Duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}

	data := payload{
		title:   "voicelog - Recordings Ingested",
		message: fmt.Sprintf("Ingested %d, processed %d in %s", report.Ingested, report.Processed, duration),
		tags:    []string{"voicelog", "cycle", "completed"},
	}
	if report.Failed > 0 {
		data.title = "voicelog - Cycle Complete (with errors)"
		data.message = fmt.Sprintf("Ingested %d, processed %d, failed %d in %s\nRun `voicelog ledger list --failed` for details",
			report.Ingested, report.Processed, report.Failed, duration)
		data.tags = []string{"voicelog", "cycle", "warning"}
		data.priority = "high"
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyCycleAborted(ctx context.Context, err error) error {
	message := "unknown error"
	if err != nil {
		message = strings.TrimSpace(err.Error())
	}
	data := payload{
		title:    "voicelog - Cycle Aborted",
		message:  "Ingestion stopped: " + message,
		tags:     []string{"voicelog", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRecorderStopped(ctx context.Context, detail string) error {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		detail = "exited"
	}
	data := payload{
		title:    "voicelog - Recorder Stopped",
		message:  "Recorder process " + detail + "; restarting with backoff",
		tags:     []string{"voicelog", "recorder", "warning"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "voicelog - Test",
		message:  "Notification system test",
		tags:     []string{"voicelog", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyCycleCompleted(context.Context, CycleReport) error { return nil }
func (noopService) NotifyCycleAborted(context.Context, error) error         { return nil }
func (noopService) NotifyRecorderStopped(context.Context, string) error     { return nil }
func (noopService) TestNotification(context.Context) error                  { return nil }
