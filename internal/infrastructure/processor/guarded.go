package processor

import (
	"context"

	"github.com/cassiomorais/leadflow/internal/infrastructure/resilience"
)

// Guarded sends every processor call through a breaker-guarded executor.
// Checkout already runs inside a retried transaction, so the executor is
// normally configured for a single attempt.
type Guarded struct {
	next Gateway
	exec *resilience.Executor
	cfg  resilience.Config
}

func NewGuarded(next Gateway, exec *resilience.Executor) *Guarded {
	return &Guarded{next: next, exec: exec, cfg: exec.Defaults()}
}

func (g *Guarded) Name() string { return g.next.Name() }

func (g *Guarded) CreateCustomer(ctx context.Context, p CustomerParams) (string, error) {
	return resilience.Execute(ctx, g.exec, g.cfg, func(ctx context.Context) (string, error) {
		return g.next.CreateCustomer(ctx, p)
	})
}

func (g *Guarded) CreateCheckoutSession(ctx context.Context, p SessionParams) (*Session, error) {
	return resilience.Execute(ctx, g.exec, g.cfg, func(ctx context.Context) (*Session, error) {
		return g.next.CreateCheckoutSession(ctx, p)
	})
}

func (g *Guarded) ExpireCheckoutSession(ctx context.Context, sessionID string) error {
	return g.exec.Do(ctx, g.cfg, func(ctx context.Context) error {
		return g.next.ExpireCheckoutSession(ctx, sessionID)
	})
}

func (g *Guarded) GetCheckoutSession(ctx context.Context, sessionID string) (*Session, error) {
	return resilience.Execute(ctx, g.exec, g.cfg, func(ctx context.Context) (*Session, error) {
		return g.next.GetCheckoutSession(ctx, sessionID)
	})
}

// ParseEvent is local work and bypasses the breaker.
func (g *Guarded) ParseEvent(payload []byte, signature string) (*Event, error) {
	return g.next.ParseEvent(payload, signature)
}
