package summarize

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"voicelog/internal/config"
)

const geminiTemperature = 0.2

type geminiProvider struct {
	model  string
	client *genai.Client
}

func newGeminiProvider(ctx context.Context, cfg config.Summarizer, httpClient *http.Client) (*geminiProvider, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if cfg.Endpoint != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &geminiProvider{model: cfg.Model, client: client}, nil
}

func (p *geminiProvider) Name() string { return config.ProviderGemini }

func (p *geminiProvider) Summarize(ctx context.Context, systemPrompt, text string) (string, error) {
	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](geminiTemperature),
	}
	if systemPrompt != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	result, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(text), genCfg)
	if err != nil {
		return "", fmt.Errorf("gemini: generate content: %w", err)
	}
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini: %w", errEmptyResponse)
	}
	texts := make([]string, 0, len(result.Candidates[0].Content.Parts))
	for _, part := range result.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	content := strings.TrimSpace(strings.Join(texts, "\n"))
	if content == "" {
		return "", fmt.Errorf("gemini: %w", errEmptyResponse)
	}
	return content, nil
}
