package schemas

import "context"

// PromptPair is one immutable system/user prompt set, built fresh per call.
// The orchestrator retains it only for token estimation.
type PromptPair struct {
	SystemPrompt string `json:"systemPrompt"`
	UserPrompt   string `json:"userPrompt"`
}

// Usage is the token accounting for a single provider call. Estimated is set
// when the provider omitted counts and the meter had to approximate.
type Usage struct {
	InputTokens  int  `json:"inputTokens"`
	OutputTokens int  `json:"outputTokens"`
	TotalTokens  int  `json:"totalTokens"`
	Estimated    bool `json:"estimated,omitempty"`
}

// Empty reports whether the provider returned no usage information at all.
func (u Usage) Empty() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0 && u.TotalTokens == 0
}

// ModelReply is the provider-neutral result of one generation call.
type ModelReply struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
	Model   string `json:"model"`
}

// ConnectionStatus is the result of a provider connectivity probe.
type ConnectionStatus struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Model   string `json:"model"`
}

// Provider is the uniform capability hiding a specific AI backend's wire
// format. Implementations form a closed variant set (OpenAI-compatible chat
// completion, Gemini generateContent, ...); adding a backend means adding a
// variant, not editing a dispatch switch.
type Provider interface {
	// Name identifies the backend for logging and cache diagnostics.
	Name() string
	// BuildRequest serialises a prompt pair into the backend's request body.
	BuildRequest(prompt PromptPair) ([]byte, error)
	// SendRequest performs the HTTP exchange and returns the raw response
	// body. Any non-success status surfaces as a *ProviderHTTPError carrying
	// the status and body text.
	SendRequest(ctx context.Context, body []byte) ([]byte, error)
	// ParseResponse extracts the generated content, usage counts and model
	// name from a raw response body.
	ParseResponse(raw []byte) (ModelReply, error)
	// TestConnection performs a minimal round trip to verify credentials and
	// reachability.
	TestConnection(ctx context.Context) ConnectionStatus
}
