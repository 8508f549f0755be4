package summarize_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"voicelog/internal/config"
	"voicelog/internal/ledger"
	"voicelog/internal/services"
	"voicelog/internal/summarize"
	"voicelog/internal/testsupport"
)

const transcriptText = "今日は会議の内容を確認しました。"

func transcribedEntry(t *testing.T, cfg *config.Config) *ledger.Entry {
	t.Helper()
	transcript := filepath.Join(cfg.TranscriptDir(), "20250101_090000_REC001.txt")
	if err := os.MkdirAll(filepath.Dir(transcript), 0o755); err != nil {
		t.Fatalf("mkdir transcripts: %v", err)
	}
	if err := os.WriteFile(transcript, []byte(transcriptText+"\n"), 0o644); err != nil {
		t.Fatalf("write transcript: %v", err)
	}
	return &ledger.Entry{
		SourceIdentity: "REC001.wav|10|1",
		LocalPath:      filepath.Join(cfg.RawDir(), "20250101_090000_REC001.wav"),
		Stages: map[string]ledger.StageResult{
			config.StageTranscribe: ledger.Succeeded(transcript, time.Now()),
		},
	}
}

func noSleep(context.Context, time.Duration) error { return nil }

func newStage(t *testing.T, cfg *config.Config) *summarize.Stage {
	t.Helper()
	s, err := summarize.New(context.Background(), cfg, nil, summarize.WithSleep(noSleep))
	if err != nil {
		t.Fatalf("summarize.New: %v", err)
	}
	return s
}

func TestOpenAICompatibleSummary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected authorization %q", got)
		}
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.Model != "test-model" || len(body.Messages) != 2 || body.Messages[1].Content != transcriptText {
			t.Errorf("unexpected request %+v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{
				"message": map[string]any{"content": []any{
					map[string]any{"type": "text", "text": "- 要点"},
					map[string]any{"type": "text", "text": "- TODO"},
				}},
			}},
		})
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithSummarizer(config.ProviderOpenAI, server.URL))
	entry := transcribedEntry(t, cfg)

	out, err := newStage(t, cfg).Run(context.Background(), entry)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != filepath.Join(cfg.SummaryDir(), "20250101_090000_REC001.md") {
		t.Fatalf("unexpected summary path %q", out)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if string(data) != "- 要点\n- TODO\n" {
		t.Fatalf("unexpected summary %q", data)
	}
}

func TestAnthropicSummary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" || r.Header.Get("anthropic-version") != "2023-06-01" {
			t.Errorf("missing anthropic headers: %v", r.Header)
		}
		var body struct {
			MaxTokens int    `json:"max_tokens"`
			System    string `json:"system"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.MaxTokens != 1200 || body.System == "" {
			t.Errorf("unexpected request %+v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []any{map[string]any{"type": "text", "text": "summary text"}},
		})
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithSummarizer(config.ProviderAnthropic, server.URL))
	out, err := newStage(t, cfg).Run(context.Background(), transcribedEntry(t, cfg))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	data, _ := os.ReadFile(out)
	if strings.TrimSpace(string(data)) != "summary text" {
		t.Fatalf("unexpected summary %q", data)
	}
}

func TestGeminiSummary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "test-model:generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{
					"role":  "model",
					"parts": []any{map[string]any{"text": "gemini summary"}},
				},
			}},
		})
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithSummarizer(config.ProviderGemini, server.URL))
	out, err := newStage(t, cfg).Run(context.Background(), transcribedEntry(t, cfg))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	data, _ := os.ReadFile(out)
	if strings.TrimSpace(string(data)) != "gemini summary" {
		t.Fatalf("unexpected summary %q", data)
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": "ok"}}},
		})
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithSummarizer(config.ProviderOpenRouter, server.URL))
	cfg.Summarizer.RetryAttempts = 3
	var slept []time.Duration
	s, err := summarize.New(context.Background(), cfg, nil, summarize.WithSleep(func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}))
	if err != nil {
		t.Fatalf("summarize.New: %v", err)
	}
	if _, err := s.Run(context.Background(), transcribedEntry(t, cfg)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected 2 requests, got %d", hits.Load())
	}
	if len(slept) != 1 || slept[0] != time.Second {
		t.Fatalf("expected Retry-After delay, got %v", slept)
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, `{"error":"bad key"}`, http.StatusForbidden)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithSummarizer(config.ProviderOpenAI, server.URL))
	cfg.Summarizer.RetryAttempts = 3
	entry := transcribedEntry(t, cfg)

	_, err := newStage(t, cfg).Run(context.Background(), entry)
	if !errors.Is(err, services.ErrSummarize) {
		t.Fatalf("expected summarize error, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected a single request, got %d", hits.Load())
	}
	if !strings.Contains(err.Error(), "403 Forbidden") || services.Hint(err) == "" {
		t.Fatalf("expected 403 hint, got %v (hint %q)", err, services.Hint(err))
	}
	data, _ := os.ReadFile(entry.Stage(config.StageTranscribe).OutputPath)
	if strings.TrimSpace(string(data)) != transcriptText {
		t.Fatal("transcript must be untouched by a failed summary")
	}
	if _, err := os.Stat(filepath.Join(cfg.SummaryDir(), "20250101_090000_REC001.md")); !os.IsNotExist(err) {
		t.Fatal("no summary may be written on failure")
	}
}

func TestMalformedResponseFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>gateway</html>"))
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithSummarizer(config.ProviderOpenAI, server.URL))
	_, err := newStage(t, cfg).Run(context.Background(), transcribedEntry(t, cfg))
	if !errors.Is(err, services.ErrSummarize) || !strings.Contains(err.Error(), "malformed") {
		t.Fatalf("expected malformed summarize error, got %v", err)
	}
}

func TestProviderTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithSummarizer(config.ProviderOpenAI, server.URL))
	cfg.Summarizer.TimeoutSeconds = 1
	_, err := newStage(t, cfg).Run(context.Background(), transcribedEntry(t, cfg))
	if services.Kind(err) != "timeout" || !errors.Is(err, services.ErrSummarize) {
		t.Fatalf("expected summarize timeout, got %v", err)
	}
}

func TestMissingTranscript(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithSummarizer(config.ProviderOpenAI, "http://127.0.0.1:1"))
	entry := &ledger.Entry{LocalPath: filepath.Join(cfg.RawDir(), "gone.wav")}
	if _, err := newStage(t, cfg).Run(context.Background(), entry); !errors.Is(err, services.ErrSummarize) {
		t.Fatalf("expected summarize error, got %v", err)
	}
}

func TestUnsupportedProvider(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithSummarizer("carrier-pigeon", "http://example.invalid"))
	if _, err := summarize.New(context.Background(), cfg, nil); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithSummarizer(config.ProviderOpenAI, "http://127.0.0.1:1"))
	if health := newStage(t, cfg).HealthCheck(context.Background()); !health.Ready {
		t.Fatalf("expected ready, got %+v", health)
	}
	cfg.Summarizer.APIKey = ""
	if health := newStage(t, cfg).HealthCheck(context.Background()); health.Ready {
		t.Fatal("expected unhealthy without api key")
	}
}
