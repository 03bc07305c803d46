package processor

import (
	"fmt"

	"github.com/cassiomorais/leadflow/internal/infrastructure/config"
	"github.com/cassiomorais/leadflow/internal/infrastructure/resilience"
)

// New builds the configured processor behind the processor breaker.
func New(cfg config.PaymentConfig, resilienceCfg config.ExecutorConfig, registry *resilience.Registry) (Gateway, error) {
	var gw Gateway
	switch cfg.Provider {
	case "stripe":
		gw = NewStripeProcessor(cfg.StripeSecretKey, cfg.WebhookSecret, cfg.WebhookTolerance)
	case "mock", "":
		gw = NewMockProcessor(cfg.WebhookSecret, cfg.WebhookTolerance)
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
	}
	return NewGuarded(gw, registry.Executor(resilience.DownstreamProcessor, resilienceCfg)), nil
}
