package orchestrator

import (
	"math"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagepilot/api/schemas"
)

// charsPerToken is the estimation fallback when no encoder is available:
// ceil(len/3.5) tracks English prose closely enough for budgeting.
const charsPerToken = 3.5

// UsageTotals is the cumulative accounting across a run.
type UsageTotals struct {
	Calls        int  `json:"calls"`
	InputTokens  int  `json:"inputTokens"`
	OutputTokens int  `json:"outputTokens"`
	TotalTokens  int  `json:"totalTokens"`
	Estimated    bool `json:"estimated"`
}

// usageMeter accumulates per-call token usage, estimating whenever the
// provider omits counts. The tiktoken encoder loads lazily and may be absent
// offline; the character heuristic covers that case.
type usageMeter struct {
	mu      sync.Mutex
	encoder *tiktoken.Tiktoken
	totals  UsageTotals
	logger  *zap.Logger
}

func newUsageMeter(logger *zap.Logger) *usageMeter {
	m := &usageMeter{logger: logger}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		// Offline or unpacked environment; the character heuristic takes over.
		logger.Debug("Token encoder unavailable, using character heuristic", zap.Error(err))
	} else {
		m.encoder = enc
	}
	return m
}

// account records one call. When the provider omitted usage, both sides are
// estimated from the text and flagged as such. The returned Usage is what was
// recorded.
func (m *usageMeter) account(prompt schemas.PromptPair, content string, reported schemas.Usage) schemas.Usage {
	usage := reported
	if usage.Empty() {
		usage = schemas.Usage{
			InputTokens:  m.countTokens(prompt.SystemPrompt) + m.countTokens(prompt.UserPrompt),
			OutputTokens: m.countTokens(content),
			Estimated:    true,
		}
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	} else if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.totals.Calls++
	m.totals.InputTokens += usage.InputTokens
	m.totals.OutputTokens += usage.OutputTokens
	m.totals.TotalTokens += usage.TotalTokens
	if usage.Estimated {
		m.totals.Estimated = true
	}
	return usage
}

func (m *usageMeter) countTokens(text string) int {
	if text == "" {
		return 0
	}
	if m.encoder != nil {
		return len(m.encoder.Encode(text, nil, nil))
	}
	return int(math.Ceil(float64(len(text)) / charsPerToken))
}

func (m *usageMeter) snapshot() UsageTotals {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals
}
