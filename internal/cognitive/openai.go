package cognitive

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sungwon/mail-dispatch/internal/azure"
)

const (
	defaultOpenAIAPIVersion = "2024-06-01"
	defaultMaxTokens        = 800
)

// OpenAIConfig configures an OpenAIClient. Model is the deployment name.
type OpenAIConfig struct {
	Credentials
	Model      string
	APIVersion string
	MaxTokens  int
}

// OpenAIClient generates text with an Azure OpenAI chat deployment.
type OpenAIClient struct {
	cfg    OpenAIConfig
	client azure.HTTPClient
}

// NewOpenAIClient creates a client. Endpoint, key and model are required.
func NewOpenAIClient(cfg OpenAIConfig, client azure.HTTPClient) (*OpenAIClient, error) {
	if err := cfg.Credentials.validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("%w: model deployment name is empty", ErrNotConfigured)
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultOpenAIAPIVersion
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return &OpenAIClient{cfg: cfg, client: client}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// GenerateText returns the first choice's content, trimmed. An empty string
// means the model produced nothing.
func (c *OpenAIClient) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	req := chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		MaxTokens: c.cfg.MaxTokens,
	}

	var resp chatResponse
	endpoint := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		c.cfg.baseURL(), url.PathEscape(c.cfg.Model), c.cfg.APIVersion)
	if err := postJSON(ctx, c.client, "openai", endpoint, "api-key", c.cfg.Key, req, &resp); err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
