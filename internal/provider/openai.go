// Package provider implements the AI backend adapters. Each adapter hides one
// wire format behind the schemas.Provider interface; transport-level failures
// are retried with exponential backoff inside SendRequest, HTTP status errors
// are not.
package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagepilot/api/schemas"
	"github.com/xkilldash9x/pagepilot/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultOpenAIEndpoint = "https://api.openai.com/v1/chat/completions"

// OpenAIProvider speaks the OpenAI-compatible chat-completion dialect, which
// also covers the many local and hosted servers exposing the same surface.
type OpenAIProvider struct {
	cfg        config.ProviderConfig
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ schemas.Provider = (*OpenAIProvider)(nil)

func NewOpenAIProvider(cfg config.ProviderConfig, logger *zap.Logger) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, &schemas.ProviderAuthError{Provider: "openai"}
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultOpenAIEndpoint
	}
	return &OpenAIProvider{
		cfg:        cfg,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: cfg.APITimeout},
		logger:     logger.Named("provider.openai"),
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model            string          `json:"model"`
	Messages         []openAIMessage `json:"messages"`
	MaxTokens        int             `json:"max_tokens"`
	Temperature      float64         `json:"temperature"`
	TopP             float64         `json:"top_p"`
	FrequencyPenalty float64         `json:"frequency_penalty"`
	PresencePenalty  float64         `json:"presence_penalty"`
	Stream           bool            `json:"stream"`
}

// openAIResponse covers both the standard shape and the degraded variants
// some compatible servers emit.
type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Text string `json:"text"`
	} `json:"choices"`
	Content string `json:"content"`
	Message string `json:"message"`
	Model   string `json:"model"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *OpenAIProvider) BuildRequest(prompt schemas.PromptPair) ([]byte, error) {
	payload := openAIRequest{
		Model: p.cfg.Model,
		Messages: []openAIMessage{
			{Role: "system", Content: prompt.SystemPrompt},
			{Role: "user", Content: prompt.UserPrompt},
		},
		MaxTokens:        p.cfg.MaxTokens,
		Temperature:      p.cfg.Temperature,
		TopP:             p.cfg.TopP,
		FrequencyPenalty: p.cfg.FrequencyPenalty,
		PresencePenalty:  p.cfg.PresencePenalty,
		Stream:           false,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}
	return body, nil
}

func (p *OpenAIProvider) SendRequest(ctx context.Context, body []byte) ([]byte, error) {
	return sendWithRetry(ctx, p.logger, p.httpClient, p.cfg.MaxRetryElapsed, p.Name(),
		func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
			return req, nil
		})
}

// ParseResponse reads the primary content path and falls back through the
// shapes non-conforming servers emit.
func (p *OpenAIProvider) ParseResponse(raw []byte) (schemas.ModelReply, error) {
	var payload openAIResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return schemas.ModelReply{}, fmt.Errorf("failed to decode response payload: %w", err)
	}

	content := ""
	switch {
	case len(payload.Choices) > 0 && payload.Choices[0].Message.Content != "":
		content = payload.Choices[0].Message.Content
	case payload.Content != "":
		content = payload.Content
	case len(payload.Choices) > 0 && payload.Choices[0].Text != "":
		content = payload.Choices[0].Text
	case payload.Message != "":
		content = payload.Message
	default:
		return schemas.ModelReply{}, fmt.Errorf("response carries no content in any known field")
	}

	model := payload.Model
	if model == "" {
		model = p.cfg.Model
	}
	return schemas.ModelReply{
		Content: content,
		Model:   model,
		Usage: schemas.Usage{
			InputTokens:  payload.Usage.PromptTokens,
			OutputTokens: payload.Usage.CompletionTokens,
			TotalTokens:  payload.Usage.TotalTokens,
		},
	}, nil
}

func (p *OpenAIProvider) TestConnection(ctx context.Context) schemas.ConnectionStatus {
	return probeConnection(ctx, p, p.cfg.Model)
}

// sendWithRetry runs one HTTP exchange under exponential backoff. Network
// failures retry until the elapsed budget runs out; any non-2xx status is a
// permanent *ProviderHTTPError.
func sendWithRetry(ctx context.Context, logger *zap.Logger, client *http.Client,
	maxElapsed time.Duration, providerName string,
	newRequest func(ctx context.Context) (*http.Request, error)) ([]byte, error) {

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxElapsed
	b.MaxInterval = 10 * time.Second

	var respBody []byte
	operation := func() error {
		req, err := newRequest(ctx)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}

		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			logger.Warn("Network error during provider request, retrying...", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return backoff.Permanent(&schemas.ProviderHTTPError{
				Provider:   providerName,
				StatusCode: resp.StatusCode,
				Body:       strings.TrimSpace(string(body)),
			})
		}

		logger.Debug("Provider request complete",
			zap.Duration("duration", time.Since(start)),
			zap.Int("status", resp.StatusCode),
			zap.Int("bodyBytes", len(body)))
		respBody = body
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return respBody, nil
}

// probeConnection performs a minimal generation round trip shared by both
// adapters.
func probeConnection(ctx context.Context, p schemas.Provider, model string) schemas.ConnectionStatus {
	body, err := p.BuildRequest(schemas.PromptPair{
		SystemPrompt: "Reply with the single word: ok",
		UserPrompt:   "ok?",
	})
	if err != nil {
		return schemas.ConnectionStatus{Success: false, Message: err.Error(), Model: model}
	}
	raw, err := p.SendRequest(ctx, body)
	if err != nil {
		return schemas.ConnectionStatus{Success: false, Message: err.Error(), Model: model}
	}
	reply, err := p.ParseResponse(raw)
	if err != nil {
		return schemas.ConnectionStatus{Success: false, Message: err.Error(), Model: model}
	}
	if reply.Model != "" {
		model = reply.Model
	}
	return schemas.ConnectionStatus{Success: true, Message: "connection verified", Model: model}
}
