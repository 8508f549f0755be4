package summarize

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"voicelog/internal/config"
)

const anthropicVersion = "2023-06-01"

type anthropicProvider struct {
	endpoint  string
	model     string
	apiKey    string
	maxTokens int
	client    *http.Client
}

func newAnthropicProvider(cfg config.Summarizer, client *http.Client) *anthropicProvider {
	return &anthropicProvider{
		endpoint:  cfg.Endpoint,
		model:     cfg.Model,
		apiKey:    cfg.APIKey,
		maxTokens: cfg.MaxTokens,
		client:    client,
	}
}

func (p *anthropicProvider) Name() string { return config.ProviderAnthropic }

type anthropicRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system,omitempty"`
	Messages  []chatMessage `json:"messages"`
}

type anthropicResponse struct {
	Content    []textPart `json:"content"`
	StopReason string     `json:"stop_reason"`
}

func (p *anthropicProvider) Summarize(ctx context.Context, systemPrompt, text string) (string, error) {
	payload := anthropicRequest{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		System:    systemPrompt,
		Messages:  []chatMessage{{Role: "user", Content: text}},
	}
	var resp anthropicResponse
	if err := postJSON(ctx, p.client, p.Name(), p.endpoint, map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": anthropicVersion,
	}, payload, &resp); err != nil {
		return "", err
	}
	content := strings.TrimSpace(joinParts(resp.Content))
	if content == "" {
		return "", fmt.Errorf("%s: %w (stop_reason=%q)", p.Name(), errEmptyResponse, resp.StopReason)
	}
	return content, nil
}
