package supervisor

import (
	"github.com/thushan/olla/internal/core/domain"
	"github.com/thushan/olla/internal/util/pattern"
)

// StaticPolicy is a config-driven ModelPolicy: a map of model name to
// quota cost tier, and model name (or a glob, e.g. "grok-4*") to token
// pool name. Neither ModelService.get(model).cost nor
// ModelService.pool_candidates_for_model had a retrievable source file
// in the reference implementation (see DESIGN.md's Component H entry),
// so this is an inferred config hook rather than a port: operators
// populate it from the same model catalogue the gateway's config file
// already carries (SPEC_FULL.md §10).
type StaticPolicy struct {
	HighEffortModels map[string]bool
	PoolByModel      map[string]string
	DefaultPool      string
}

func (p StaticPolicy) EffortFor(model string) domain.Effort {
	if p.HighEffortModels[model] {
		return domain.EffortHigh
	}
	for glob, high := range p.HighEffortModels {
		if high && pattern.MatchesGlob(model, glob) {
			return domain.EffortHigh
		}
	}
	return domain.EffortLow
}

func (p StaticPolicy) PoolFor(model string) string {
	if pool, ok := p.PoolByModel[model]; ok && pool != "" {
		return pool
	}
	for glob, pool := range p.PoolByModel {
		if pool != "" && pattern.MatchesGlob(model, glob) {
			return pool
		}
	}
	if p.DefaultPool != "" {
		return p.DefaultPool
	}
	return "ssoBasic"
}
