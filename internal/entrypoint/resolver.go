// Package entrypoint decides whether the application module is loaded
// through a factory call or as a ready-made instance.
package entrypoint

import (
	"context"
	"fmt"

	"github.com/psantana5/launchgate/pkg/logging"
)

// Spec names the candidates to look for.
type Spec struct {
	Module   string
	Factory  string
	Instance string
}

func (s Spec) withDefaults() Spec {
	if s.Module == "" {
		s.Module = "app"
	}
	if s.Factory == "" {
		s.Factory = "create_app"
	}
	if s.Instance == "" {
		s.Instance = "app"
	}
	return s
}

// Resolution is the decision plus how it was reached. Fallback is set when
// introspection failed and the instance target was chosen by default.
type Resolution struct {
	Target   Target
	Fallback bool
	Reason   string
}

// Resolver picks the target. It never fails.
type Resolver struct {
	introspector Introspector
	logger       *logging.Logger
}

// NewResolver creates a resolver. A nil introspector always selects the
// instance.
func NewResolver(in Introspector, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Resolver{introspector: in, logger: logger}
}

// Resolve returns the factory target when the module defines a callable
// factory, and the instance target otherwise.
func (r *Resolver) Resolve(ctx context.Context, spec Spec) (res Resolution) {
	spec = spec.withDefaults()
	instance := Target{Kind: DirectInstance, Module: spec.Module, Symbol: spec.Instance}

	defer func() {
		if p := recover(); p != nil {
			res = Resolution{Target: instance, Fallback: true, Reason: fmt.Sprintf("introspection panicked: %v", p)}
			r.logger.Warn("Entry point detection failed, using instance", map[string]interface{}{
				"target": res.Target.String(),
				"reason": res.Reason,
			})
		}
	}()

	if r.introspector == nil {
		res = Resolution{Target: instance, Reason: "introspection disabled"}
		r.logger.Info("Using application instance", map[string]interface{}{"target": res.Target.String()})
		return res
	}

	found, err := r.introspector.HasSymbol(ctx, spec.Module, spec.Factory)
	switch {
	case err != nil:
		res = Resolution{Target: instance, Fallback: true, Reason: err.Error()}
		r.logger.Warn("Entry point detection failed, using instance", map[string]interface{}{
			"target": res.Target.String(),
			"reason": res.Reason,
		})
	case found:
		res = Resolution{
			Target: Target{Kind: FactoryInvocation, Module: spec.Module, Symbol: spec.Factory},
			Reason: fmt.Sprintf("%s defines %s", spec.Module, spec.Factory),
		}
		r.logger.Info("Using application factory", map[string]interface{}{"target": res.Target.String()})
	default:
		res = Resolution{Target: instance, Reason: fmt.Sprintf("%s has no %s", spec.Module, spec.Factory)}
		r.logger.Info("Using application instance", map[string]interface{}{"target": res.Target.String()})
	}
	return res
}
