package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// GateConfig configures the confirmation gate.
type GateConfig struct {
	// ConfirmExpiry bounds how long a batch may sit in
	// awaiting_confirmation before it is auto-expired. Zero disables
	// expiry entirely: an unconfirmed batch then waits indefinitely.
	// Default: 0 (disabled)
	ConfirmExpiry time.Duration

	// SweepInterval is how often the gate checks for expired batches.
	// Only relevant when ConfirmExpiry is set.
	// Default: 30s
	SweepInterval time.Duration
}

// DefaultGateConfig returns the default gate configuration.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		ConfirmExpiry: 0,
		SweepInterval: 30 * time.Second,
	}
}

// Gate owns confirmation expiry. Confirm/Reject themselves are registry
// transitions; the gate contributes the single-threaded sweep loop that
// expires stale awaiting batches when an expiry is configured.
type Gate struct {
	registry *Registry
	config   GateConfig
	logger   *zap.Logger
}

// NewGate creates a gate over the registry.
func NewGate(registry *Registry, cfg GateConfig, logger *zap.Logger) *Gate {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultGateConfig().SweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{registry: registry, config: cfg, logger: logger}
}

// ConfirmExpiry returns the configured expiry window (zero when disabled).
func (g *Gate) ConfirmExpiry() time.Duration {
	return g.config.ConfirmExpiry
}

// Run sweeps for expired awaiting batches until ctx is cancelled. With
// expiry disabled it returns immediately.
func (g *Gate) Run(ctx context.Context) error {
	if g.config.ConfirmExpiry <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(g.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			expired := g.registry.ExpireStale(now.UTC())
			for _, id := range expired {
				g.logger.Info("confirmation window expired, batch discarded",
					zap.String("batch_id", id),
					zap.Duration("expiry", g.config.ConfirmExpiry))
			}
		}
	}
}
