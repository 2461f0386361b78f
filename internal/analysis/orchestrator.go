package analysis

import (
	"context"
	"log/slog"
	"time"
)

// Orchestrator tries providers in fixed priority order and falls back to the
// deterministic rule-based heuristic when every configured provider fails.
// Its Assess never returns an error: in a system that alerts on mental-health
// risk, losing an assessment because an upstream API is down is worse than
// returning a conservative heuristic one.
type Orchestrator struct {
	providers []Provider
	fallback  RuleBased
	timeout   time.Duration
	logger    *slog.Logger
}

// NewOrchestrator constructs an Orchestrator over the given providers, in
// priority order. The slice may be empty — every call then goes straight to
// the rule-based fallback. timeout bounds each individual provider call.
func NewOrchestrator(providers []Provider, timeout time.Duration, logger *slog.Logger) *Orchestrator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Orchestrator{
		providers: providers,
		fallback:  NewRuleBased(),
		timeout:   timeout,
		logger:    logger,
	}
}

// Assess runs the provider chain. Each provider call is bounded by the
// configured timeout; any failure (network error, malformed response, missing
// credentials, timeout) is logged and the next provider is tried. The
// rule-based fallback terminates the chain and cannot fail.
//
// Every provider result passes through Normalize inside the provider itself,
// so the returned Assessment is always structurally complete.
func (o *Orchestrator) Assess(ctx context.Context, in Input) Assessment {
	for _, p := range o.providers {
		callCtx, cancel := context.WithTimeout(ctx, o.timeout)
		result, err := p.Assess(callCtx, in)
		cancel()

		if err == nil {
			o.logger.Debug("analysis: provider succeeded",
				"provider", p.Name(),
				"assessment", result.Describe(),
			)
			return result
		}

		o.logger.Warn("analysis: provider failed, trying next",
			"provider", p.Name(),
			"error", err,
		)
	}

	result, _ := o.fallback.Assess(ctx, in) // rule-based never fails
	o.logger.Info("analysis: using rule-based fallback",
		"assessment", result.Describe(),
		"providers_tried", len(o.providers),
	)
	return result
}
