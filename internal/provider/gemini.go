package provider

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pagepilot/api/schemas"
	"github.com/xkilldash9x/pagepilot/internal/config"
)

const defaultGeminiEndpointFmt = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"

// GeminiProvider speaks the generateContent dialect. The model is instructed
// to return bare JSON, but the adapter still strips fences and digs out the
// first balanced object because that instruction is routinely ignored.
type GeminiProvider struct {
	cfg        config.ProviderConfig
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ schemas.Provider = (*GeminiProvider)(nil)

func NewGeminiProvider(cfg config.ProviderConfig, logger *zap.Logger) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, &schemas.ProviderAuthError{Provider: "gemini"}
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf(defaultGeminiEndpointFmt, cfg.Model)
	}
	return &GeminiProvider{
		cfg:        cfg,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: cfg.APITimeout},
		logger:     logger.Named("provider.gemini"),
	}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	TopP             float64 `json:"topP,omitempty"`
	TopK             int     `json:"topK,omitempty"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
	SafetySettings    []geminiSafetySetting  `json:"safetySettings,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

func (p *GeminiProvider) BuildRequest(prompt schemas.PromptPair) ([]byte, error) {
	system := prompt.SystemPrompt +
		"\n\nRespond with raw JSON only. Do not wrap the response in markdown code fences."

	payload := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: prompt.UserPrompt}}},
		},
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: system}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:      p.cfg.Temperature,
			TopP:             p.cfg.TopP,
			TopK:             p.cfg.TopK,
			MaxOutputTokens:  p.cfg.MaxTokens,
			ResponseMimeType: "application/json",
		},
		SafetySettings: p.safetySettings(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}
	return body, nil
}

func (p *GeminiProvider) safetySettings() []geminiSafetySetting {
	settings := make([]geminiSafetySetting, 0, len(p.cfg.SafetyFilters))
	for category, threshold := range p.cfg.SafetyFilters {
		settings = append(settings, geminiSafetySetting{Category: category, Threshold: threshold})
	}
	return settings
}

func (p *GeminiProvider) SendRequest(ctx context.Context, body []byte) ([]byte, error) {
	return sendWithRetry(ctx, p.logger, p.httpClient, p.cfg.MaxRetryElapsed, p.Name(),
		func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("x-goog-api-key", p.cfg.APIKey)
			return req, nil
		})
}

func (p *GeminiProvider) ParseResponse(raw []byte) (schemas.ModelReply, error) {
	var payload geminiResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return schemas.ModelReply{}, fmt.Errorf("failed to decode response payload: %w", err)
	}
	if len(payload.Candidates) == 0 {
		return schemas.ModelReply{}, fmt.Errorf("response carries no candidates")
	}
	candidate := payload.Candidates[0]
	if len(candidate.Content.Parts) == 0 {
		return schemas.ModelReply{}, fmt.Errorf("response carries empty content parts (finishReason %s)", candidate.FinishReason)
	}

	content := cleanGeneratedText(candidate.Content.Parts[0].Text)
	model := payload.ModelVersion
	if model == "" {
		model = p.cfg.Model
	}
	return schemas.ModelReply{
		Content: content,
		Model:   model,
		Usage: schemas.Usage{
			InputTokens:  payload.UsageMetadata.PromptTokenCount,
			OutputTokens: payload.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  payload.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

func (p *GeminiProvider) TestConnection(ctx context.Context) schemas.ConnectionStatus {
	return probeConnection(ctx, p, p.cfg.Model)
}

// cleanGeneratedText strips markdown fences and, when prose still surrounds
// the payload, extracts the first balanced JSON object.
func cleanGeneratedText(text string) string {
	trimmed := strings.TrimSpace(text)

	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}

	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return trimmed
	}
	if obj := firstBalancedObject(trimmed); obj != "" {
		return obj
	}
	return trimmed
}

// firstBalancedObject scans for the first top-level {...} with balanced
// braces, respecting string literals and escapes.
func firstBalancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}
