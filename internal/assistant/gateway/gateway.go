// Package gateway sends one prompt with a system instruction to the
// configured language model and returns its text.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"hostel-assistant/internal/common/config"
	"hostel-assistant/internal/common/logger"
	"hostel-assistant/internal/common/metrics"
)

var (
	ErrGatewayFailed = errors.New("GATEWAY_FAILED")
	ErrEmptyResponse = errors.New("EMPTY_RESPONSE")
)

// Gateway is a one-shot, stateless text generation call. Every failure is
// returned wrapped in ErrGatewayFailed and is never retried here.
type Gateway interface {
	Generate(ctx context.Context, userPrompt, systemInstruction string) (string, error)
}

type Config struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

func ConfigFrom(cfg config.LLMConfig) Config {
	return Config{
		Provider:    cfg.Provider,
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Timeout:     config.GetDuration(cfg.Timeout),
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}
}

// New builds the provider named in cfg and wraps it with timing, metrics
// and error normalization.
func New(ctx context.Context, cfg Config, log logger.Logger) (Gateway, error) {
	var (
		provider Gateway
		err      error
	)
	switch cfg.Provider {
	case "gemini":
		provider, err = NewGemini(ctx, cfg)
	case "http":
		provider = NewHTTP(cfg)
	default:
		err = fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return Instrument(provider, cfg.Provider, cfg.Timeout, log), nil
}

type instrumented struct {
	next     Gateway
	provider string
	timeout  time.Duration
	logger   logger.Logger
}

// Instrument applies the per-call timeout and records every call.
func Instrument(next Gateway, provider string, timeout time.Duration, log logger.Logger) Gateway {
	return &instrumented{
		next:     next,
		provider: provider,
		timeout:  timeout,
		logger:   log.With(map[string]interface{}{"component": "gateway", "provider": provider}),
	}
}

func (g *instrumented) Generate(ctx context.Context, userPrompt, systemInstruction string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := g.next.Generate(ctx, userPrompt, systemInstruction)
	elapsed := time.Since(start)
	metrics.GatewayDuration.WithLabelValues(g.provider).Observe(elapsed.Seconds())

	if err == nil && strings.TrimSpace(text) == "" {
		err = ErrEmptyResponse
	}
	if err != nil {
		metrics.GatewayCalls.WithLabelValues(g.provider, "error").Inc()
		g.logger.Error("language model call failed", map[string]interface{}{
			"error":      err.Error(),
			"durationMs": elapsed.Milliseconds(),
		})
		if errors.Is(err, ErrGatewayFailed) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrGatewayFailed, err)
	}

	metrics.GatewayCalls.WithLabelValues(g.provider, "ok").Inc()
	g.logger.Debug("language model call completed", map[string]interface{}{
		"durationMs":  elapsed.Milliseconds(),
		"promptChars": len(userPrompt),
		"replyChars":  len(text),
	})
	return text, nil
}
