package retry

import (
	"context"
	"time"

	"github.com/thushan/olla/internal/core/domain"
	"github.com/thushan/olla/internal/core/ports"
)

// Config carries the retry bound and cooldown seconds the orchestrator
// applies directly (the token pool owns the cooldown table itself; this
// is only the "how long" knob it hands the pool).
type Config struct {
	MaxRetry             int
	Cooldown429QuotaSec  int
	Cooldown429EmptySec  int
}

func (c Config) withDefaults() Config {
	if c.MaxRetry == 0 {
		c.MaxRetry = 3
	}
	if c.Cooldown429QuotaSec == 0 {
		c.Cooldown429QuotaSec = 3600
	}
	if c.Cooldown429EmptySec == 0 {
		c.Cooldown429EmptySec = 36000
	}
	return c
}

// Attempt is the request closure the orchestrator drives once per
// candidate token; it returns either a result or an *domain.UpstreamError
// (or a generic error for non-upstream failures).
type Attempt func(ctx context.Context, token *domain.Token) (result interface{}, err error)

// Orchestrator drives the bounded cross-token retry loop of §4.D.
type Orchestrator struct {
	pool     ports.TokenPool
	cfg      Config
	breakers *Registry
}

func New(pool ports.TokenPool, cfg Config, breakers *Registry) *Orchestrator {
	return &Orchestrator{pool: pool, cfg: cfg.withDefaults(), breakers: breakers}
}

// Run executes attempt against up to cfg.MaxRetry distinct tokens from
// poolName, honouring a preferred token (the one pinned to the caller's
// conversation context) first, per §4.D's selection preference. effort
// is the quota cost charged to the winning token on success (the
// Request Supervisor derives it from the model's cost tier, mirroring
// ChatService.completions's EffortType.HIGH/LOW lookup).
func (o *Orchestrator) Run(ctx context.Context, poolName string, preferred *domain.Token, upstreamName string, effort domain.Effort, attempt Attempt) (interface{}, error) {
	o.pool.TickErrorCooldowns()

	var breaker *Breaker
	if o.breakers != nil && upstreamName != "" {
		breaker = o.breakers.GetOrCreate(upstreamName)
		if !breaker.Allow() {
			return nil, &domain.CircuitBreakerOpenError{Upstream: upstreamName}
		}
	}

	tried := make(map[string]struct{})
	var lastErr error
	refreshedOnce := false

	for i := 0; i < o.cfg.MaxRetry; i++ {
		token := o.pickToken(poolName, preferred, tried, &refreshedOnce)
		if token == nil {
			break
		}
		tried[token.Value] = struct{}{}

		result, err := attempt(ctx, token)
		if err == nil {
			if breaker != nil {
				breaker.RecordSuccess()
			}
			o.pool.Consume(token.Value, effort)
			return result, nil
		}

		lastErr = err
		uerr, _ := err.(*domain.UpstreamError)

		switch Classify(uerr, err) {
		case ClassifyRateLimited:
			hasQuota := HasQuota(uerr)
			seconds := o.cfg.Cooldown429EmptySec
			if hasQuota {
				seconds = o.cfg.Cooldown429QuotaSec
			}
			o.pool.ApplyCooldown(token.Value, domain.TokenCooling, time.Now().Add(time.Duration(seconds)*time.Second))
			continue
		case ClassifyAuthInvalid:
			o.pool.RecordAuthFailure(token.Value)
			if breaker != nil {
				breaker.RecordFailure()
			}
			return nil, err
		case ClassifyRetryableError:
			o.pool.RecordFailure(token.Value, uerr.Status)
			if breaker != nil {
				breaker.RecordFailure()
			}
			continue
		default:
			if breaker != nil {
				breaker.RecordFailure()
			}
			return nil, err
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, &domain.RateLimitError{Code: "rate_limit_exceeded"}
}

// pickToken ports pick_token's preference order: preferred-if-untried,
// else first ACTIVE candidate from the pool, else (once, only if no
// token has been excluded yet) a refresh_cooling() last-chance retry.
func (o *Orchestrator) pickToken(poolName string, preferred *domain.Token, tried map[string]struct{}, refreshedOnce *bool) *domain.Token {
	if preferred != nil {
		if _, already := tried[preferred.Value]; !already {
			return preferred
		}
	}

	if tok, ok := o.pool.Select(poolName, tried); ok {
		return tok
	}

	if len(tried) == 0 && !*refreshedOnce {
		*refreshedOnce = true
		o.pool.RefreshCooling()
		if tok, ok := o.pool.Select(poolName, tried); ok {
			return tok
		}
	}
	return nil
}
