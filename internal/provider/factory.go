package provider

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pagepilot/api/schemas"
	"github.com/xkilldash9x/pagepilot/internal/config"
)

// New builds the configured backend adapter. The variant set is closed;
// adding a backend means adding a constructor here.
func New(cfg config.ProviderConfig, logger *zap.Logger) (schemas.Provider, error) {
	switch cfg.Backend {
	case config.BackendOpenAI:
		return NewOpenAIProvider(cfg, logger)
	case config.BackendGemini:
		return NewGeminiProvider(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown provider backend %q. Supported: [%s, %s]",
			cfg.Backend, config.BackendOpenAI, config.BackendGemini)
	}
}
