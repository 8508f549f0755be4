package summarize

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"voicelog/internal/config"
	"voicelog/internal/services"
)

// Provider sends transcript text to a summarization service.
type Provider interface {
	Name() string
	Summarize(ctx context.Context, systemPrompt, text string) (string, error)
}

// NewProvider selects the provider implementation named by cfg.Provider.
func NewProvider(ctx context.Context, cfg config.Summarizer, client *http.Client) (Provider, error) {
	if client == nil {
		client = &http.Client{}
	}
	switch cfg.Provider {
	case config.ProviderOpenAI, config.ProviderOpenRouter, config.ProviderCloudflare:
		return newChatProvider(cfg, client), nil
	case config.ProviderAnthropic:
		return newAnthropicProvider(cfg, client), nil
	case config.ProviderGemini:
		return newGeminiProvider(ctx, cfg, client)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "summarize", "provider",
			fmt.Sprintf("unsupported provider %q", cfg.Provider), nil)
	}
}

// chatProvider speaks the OpenAI chat completions format shared by OpenAI,
// OpenRouter and the Cloudflare AI Gateway compat endpoint.
type chatProvider struct {
	name     string
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
}

func newChatProvider(cfg config.Summarizer, client *http.Client) *chatProvider {
	model := cfg.Model
	if isCloudflareCompat(cfg.Endpoint) && !strings.Contains(model, "/") {
		model = "openai/" + model
	}
	return &chatProvider{
		name:     cfg.Provider,
		endpoint: cfg.Endpoint,
		model:    model,
		apiKey:   cfg.APIKey,
		client:   client,
	}
}

func (p *chatProvider) Name() string { return p.name }

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content contentValue `json:"content"`
			Refusal string       `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (p *chatProvider) Summarize(ctx context.Context, systemPrompt, text string) (string, error) {
	payload := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: text},
		},
	}
	var resp chatResponse
	if err := postJSON(ctx, p.client, p.name, p.endpoint, map[string]string{
		"Authorization": "Bearer " + p.apiKey,
	}, payload, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", &malformedError{Provider: p.name, Err: fmt.Errorf("no choices")}
	}
	content := strings.TrimSpace(string(resp.Choices[0].Message.Content))
	if content == "" {
		if refusal := strings.TrimSpace(resp.Choices[0].Message.Refusal); refusal != "" {
			return "", fmt.Errorf("%s: model refused: %s", p.name, refusal)
		}
		return "", fmt.Errorf("%s: %w (finish_reason=%q)", p.name, errEmptyResponse, resp.Choices[0].FinishReason)
	}
	return content, nil
}

func isCloudflareCompat(endpoint string) bool {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return false
	}
	return parsed.Host == "gateway.ai.cloudflare.com" && strings.Contains(parsed.Path, "/compat")
}
