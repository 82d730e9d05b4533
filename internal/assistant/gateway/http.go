package gateway

import (
	"context"
	"strings"

	httpclient "hostel-assistant/internal/common/http"
)

type generateRequest struct {
	Prompt            string  `json:"prompt"`
	SystemInstruction string  `json:"systemInstruction,omitempty"`
	MaxTokens         int     `json:"max_tokens,omitempty"`
	Temperature       float64 `json:"temperature"`
}

type generateResponse struct {
	Text string `json:"text"`
}

// HTTPGateway posts to a generation service exposing POST /api/ai/generate.
type HTTPGateway struct {
	client  *httpclient.Client
	baseURL string
	config  Config
}

func NewHTTP(cfg Config) *HTTPGateway {
	return &HTTPGateway{
		// Deadlines come from the request context.
		client:  httpclient.NewClient(0),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		config:  cfg,
	}
}

func (g *HTTPGateway) Generate(ctx context.Context, userPrompt, systemInstruction string) (string, error) {
	var out generateResponse
	err := g.client.PostJSON(ctx, g.baseURL+"/api/ai/generate", generateRequest{
		Prompt:            userPrompt,
		SystemInstruction: systemInstruction,
		MaxTokens:         g.config.MaxTokens,
		Temperature:       g.config.Temperature,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.Text, nil
}
