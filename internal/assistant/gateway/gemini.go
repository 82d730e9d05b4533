package gateway

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiGateway calls the Gemini API through the genai SDK.
type GeminiGateway struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

func NewGemini(ctx context.Context, cfg Config) (*GeminiGateway, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	genCfg := &genai.GenerateContentConfig{}
	if cfg.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(cfg.MaxTokens)
	}
	if cfg.Temperature > 0 {
		genCfg.Temperature = genai.Ptr(float32(cfg.Temperature))
	}

	return &GeminiGateway{client: client, model: cfg.Model, config: genCfg}, nil
}

func (g *GeminiGateway) Generate(ctx context.Context, userPrompt, systemInstruction string) (string, error) {
	// Copy so concurrent calls never share a SystemInstruction.
	callCfg := *g.config
	if systemInstruction != "" {
		callCfg.SystemInstruction = genai.NewContentFromText(systemInstruction, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromText(userPrompt, genai.RoleUser)},
		&callCfg,
	)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
