package retry

import (
	"context"
	"testing"

	"github.com/thushan/olla/internal/adapter/tokenpool"
	"github.com/thushan/olla/internal/core/domain"
)

// pins Testable Property 10 (retry bound) and scenario S2 (token
// rotation on 429 with quota).
func TestOrchestrator_RotatesOnRateLimitWithQuota(t *testing.T) {
	pool := tokenpool.New(tokenpool.Config{SaveDelayMs: 0}, nil, nil)
	t1 := &domain.Token{Value: "T1", Pool: "ssoBasic", Quota: 10, Status: domain.TokenActive}
	pool.Add("ssoBasic", t1)
	pool.Add("ssoBasic", &domain.Token{Value: "T2", Pool: "ssoBasic", Quota: 10, Status: domain.TokenActive})

	o := New(pool, Config{MaxRetry: 3}, nil)

	calls := 0
	remaining := 5
	result, err := o.Run(context.Background(), "ssoBasic", t1, "", domain.EffortLow, func(ctx context.Context, tok *domain.Token) (interface{}, error) {
		calls++
		if tok.Value == "T1" {
			return nil, &domain.UpstreamError{Status: 429, RemainingReq: &remaining}
		}
		return "ok-from-" + tok.Value, nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if result != "ok-from-T2" {
		t.Fatalf("expected success from T2, got %v", result)
	}

	toks := pool.List("ssoBasic")
	for _, tok := range toks {
		if tok.Value == "T1" && tok.Status != domain.TokenCooling {
			t.Fatal("expected T1 to be COOLING after 429-with-quota")
		}
		if tok.Value == "T2" && tok.Quota != 9 {
			t.Fatalf("expected T2 quota consumed to 9, got %d", tok.Quota)
		}
	}
}

func TestOrchestrator_AuthErrorSurfacesImmediately(t *testing.T) {
	pool := tokenpool.New(tokenpool.Config{SaveDelayMs: 0}, nil, nil)
	pool.Add("ssoBasic", &domain.Token{Value: "T1", Pool: "ssoBasic", Quota: 10, Status: domain.TokenActive})
	pool.Add("ssoBasic", &domain.Token{Value: "T2", Pool: "ssoBasic", Quota: 10, Status: domain.TokenActive})

	o := New(pool, Config{MaxRetry: 3}, nil)

	calls := 0
	_, err := o.Run(context.Background(), "ssoBasic", nil, "", domain.EffortLow, func(ctx context.Context, tok *domain.Token) (interface{}, error) {
		calls++
		return nil, &domain.UpstreamError{Status: 401}
	})
	if err == nil {
		t.Fatal("expected 401 to surface")
	}
	if calls != 1 {
		t.Fatalf("expected exactly one attempt on auth error, got %d", calls)
	}
}

func TestOrchestrator_ExhaustionYieldsSyntheticRateLimit(t *testing.T) {
	pool := tokenpool.New(tokenpool.Config{SaveDelayMs: 0}, nil, nil)
	o := New(pool, Config{MaxRetry: 3}, nil)

	_, err := o.Run(context.Background(), "empty", nil, "", domain.EffortLow, func(ctx context.Context, tok *domain.Token) (interface{}, error) {
		t.Fatal("attempt should never be called with no candidates")
		return nil, nil
	})
	if _, ok := err.(*domain.RateLimitError); !ok {
		t.Fatalf("expected synthetic RateLimitError, got %T: %v", err, err)
	}
}

func TestOrchestrator_RespectsMaxRetryBound(t *testing.T) {
	pool := tokenpool.New(tokenpool.Config{SaveDelayMs: 0}, nil, nil)
	for i := 0; i < 5; i++ {
		pool.Add("ssoBasic", &domain.Token{Value: string(rune('A' + i)), Pool: "ssoBasic", Quota: 10, Status: domain.TokenActive})
	}
	o := New(pool, Config{MaxRetry: 2}, nil)

	calls := 0
	_, err := o.Run(context.Background(), "ssoBasic", nil, "", domain.EffortLow, func(ctx context.Context, tok *domain.Token) (interface{}, error) {
		calls++
		return nil, &domain.UpstreamError{Status: 500}
	})
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if calls != 2 {
		t.Fatalf("expected at most MaxRetry=2 attempts, got %d", calls)
	}
}

// pins §4.A's count-based thaw: "decrement on each pool-wide request
// until 0, then re-ACTIVATE" — Run ticks the cooling counter exactly
// once per call regardless of how many cross-token attempts it makes
// internally.
func TestOrchestrator_RunTicksErrorCooldownsOncePerCall(t *testing.T) {
	pool := tokenpool.New(tokenpool.Config{SaveDelayMs: 0, FailThreshold: 1, CooldownErrorReqs: 2}, nil, nil)
	t1 := &domain.Token{Value: "T1", Pool: "ssoBasic", Quota: 10, Status: domain.TokenActive}
	pool.Add("ssoBasic", t1)
	pool.Add("ssoBasic", &domain.Token{Value: "T2", Pool: "ssoBasic", Quota: 10, Status: domain.TokenActive})

	o := New(pool, Config{MaxRetry: 3}, nil)

	// T1 fails and enters COOLING with a 2-request thaw counter; T2
	// succeeds so the overall exchange still returns ok.
	_, err := o.Run(context.Background(), "ssoBasic", t1, "", domain.EffortLow, func(ctx context.Context, tok *domain.Token) (interface{}, error) {
		if tok.Value == "T1" {
			return nil, &domain.UpstreamError{Status: 500}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}

	// The tick happens at the top of Run, before this call's own
	// attempts, so the failure recorded above isn't ticked down until
	// the *next* Run call: one call = one tick, regardless of how many
	// attempts ran inside the call that caused the failure.
	succeedViaT2 := func(ctx context.Context, tok *domain.Token) (interface{}, error) { return "ok", nil }

	if _, err := o.Run(context.Background(), "ssoBasic", nil, "", domain.EffortLow, succeedViaT2); err != nil {
		t.Fatalf("expected second call to succeed via T2: %v", err)
	}
	if recovered := pool.RefreshCooling(); recovered != 0 {
		t.Fatalf("expected T1 still cooling after one post-failure tick, got %d recovered", recovered)
	}

	if _, err := o.Run(context.Background(), "ssoBasic", nil, "", domain.EffortLow, succeedViaT2); err != nil {
		t.Fatalf("expected third call to succeed via T2: %v", err)
	}
	if recovered := pool.RefreshCooling(); recovered != 1 {
		t.Fatalf("expected T1 to thaw after CooldownErrorReqs=2 post-failure ticks, got %d recovered", recovered)
	}
}
