package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

func (c *GeminiConfig) Validate() error {
	if c.APIKey == "" {
		return errors.New("gemini API key cannot be empty")
	}
	if c.Model == "" {
		c.Model = "gemini-2.0-flash"
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	return nil
}

// GeminiClient turns prompt text into generated content with one
// GenerateContent call per invocation.
type GeminiClient struct {
	cfg    GeminiConfig
	client *genai.Client
}

func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("new gemini client failed: %w", err)
	}

	return &GeminiClient{cfg: cfg, client: client}, nil
}

func (g *GeminiClient) Generate(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New("prompt text is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, genai.Text(text), nil)
	if err != nil {
		return "", fmt.Errorf("gemini API call failed: %w", err)
	}

	out := strings.TrimSpace(resp.Text())
	if out == "" {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("gemini blocked prompt: %s", resp.PromptFeedback.BlockReason)
		}
		return "", errors.New("gemini returned no content")
	}
	return out, nil
}
