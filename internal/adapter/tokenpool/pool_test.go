package tokenpool

import (
	"testing"
	"time"

	"github.com/thushan/olla/internal/core/domain"
)

func newTestPool() *Pool {
	return New(Config{SaveDelayMs: 0}, nil, nil)
}

// pins Testable Property 1: select(pool, exclude) returns none or a
// token with status=ACTIVE and (quota>0 or quota==-1), never excluded.
func TestSelect_ReturnsActiveTokenWithQuota(t *testing.T) {
	p := newTestPool()
	p.Add("ssoBasic", &domain.Token{Value: "t1", Pool: "ssoBasic", Quota: 10, Status: domain.TokenActive})
	p.Add("ssoBasic", &domain.Token{Value: "t2", Pool: "ssoBasic", Quota: 0, Status: domain.TokenActive})

	tok, ok := p.Select("ssoBasic", nil)
	if !ok {
		t.Fatal("expected a token")
	}
	if tok.Value != "t1" {
		t.Fatalf("expected largest-quota bucket to win, got %s", tok.Value)
	}
}

func TestSelect_ExcludesAsRequested(t *testing.T) {
	p := newTestPool()
	p.Add("ssoBasic", &domain.Token{Value: "t1", Pool: "ssoBasic", Quota: 10, Status: domain.TokenActive})

	_, ok := p.Select("ssoBasic", map[string]struct{}{"t1": {}})
	if ok {
		t.Fatal("expected no candidate once the only token is excluded")
	}
}

func TestSelect_UnknownQuotaIsSelectable(t *testing.T) {
	p := newTestPool()
	p.Add("ssoBasic", &domain.Token{Value: "t1", Pool: "ssoBasic", Quota: domain.UnknownQuota, Status: domain.TokenActive})

	tok, ok := p.Select("ssoBasic", nil)
	if !ok || tok.Value != "t1" {
		t.Fatal("expected quota==-1 token to be selectable per DESIGN.md Open Question (a)")
	}
}

func TestSelect_CoolingTokenNotSelectable(t *testing.T) {
	p := newTestPool()
	p.Add("ssoBasic", &domain.Token{Value: "t1", Pool: "ssoBasic", Quota: 10, Status: domain.TokenActive})
	p.ApplyCooldown("t1", domain.TokenCooling, time.Now().Add(time.Hour))

	_, ok := p.Select("ssoBasic", nil)
	if ok {
		t.Fatal("expected cooling token to be absent from selection")
	}
}

// Testable Property 2: consume(t, low) decreases quota by 1, high by 4,
// quota never below 0.
func TestConsume_QuotaMonotonicity(t *testing.T) {
	p := newTestPool()
	p.Add("ssoBasic", &domain.Token{Value: "t1", Pool: "ssoBasic", Quota: 3, Status: domain.TokenActive})

	p.Consume("t1", domain.EffortHigh)
	toks := p.List("ssoBasic")
	if toks[0].Quota != 0 {
		t.Fatalf("expected quota clamped at 0, got %d", toks[0].Quota)
	}
}

func TestConsume_LowEffort(t *testing.T) {
	p := newTestPool()
	p.Add("ssoBasic", &domain.Token{Value: "t1", Pool: "ssoBasic", Quota: 10, Status: domain.TokenActive})
	p.Consume("t1", domain.EffortLow)
	if toks := p.List("ssoBasic"); toks[0].Quota != 9 {
		t.Fatalf("expected quota 9, got %d", toks[0].Quota)
	}
}

// Testable Property 3: cooldown recovery at/after deadline, not before.
func TestRefreshCooling_RecoversAtOrAfterDeadline(t *testing.T) {
	p := newTestPool()
	p.Add("ssoBasic", &domain.Token{Value: "t1", Pool: "ssoBasic", Quota: 10, Status: domain.TokenActive})
	p.ApplyCooldown("t1", domain.TokenCooling, time.Now().Add(-time.Second))

	if n := p.RefreshCooling(); n != 1 {
		t.Fatalf("expected 1 token recovered, got %d", n)
	}
	tok, ok := p.Select("ssoBasic", nil)
	if !ok || tok.Status != domain.TokenActive {
		t.Fatal("expected token to be ACTIVE and selectable after refresh")
	}
}

func TestRefreshCooling_NotYetDue(t *testing.T) {
	p := newTestPool()
	p.Add("ssoBasic", &domain.Token{Value: "t1", Pool: "ssoBasic", Quota: 10, Status: domain.TokenActive})
	p.ApplyCooldown("t1", domain.TokenCooling, time.Now().Add(time.Hour))

	if n := p.RefreshCooling(); n != 0 {
		t.Fatalf("expected 0 tokens recovered before deadline, got %d", n)
	}
}

func TestRecordAuthFailure_DisablesAfterLimit(t *testing.T) {
	p := New(Config{SaveDelayMs: 0, ConsecutiveAuthFailLimit: 3}, nil, nil)
	p.Add("ssoBasic", &domain.Token{Value: "t1", Pool: "ssoBasic", Quota: 10, Status: domain.TokenActive})

	p.RecordAuthFailure("t1")
	p.RecordAuthFailure("t1")
	if toks := p.List("ssoBasic"); toks[0].Status != domain.TokenActive {
		t.Fatal("expected token still ACTIVE before reaching the limit")
	}
	p.RecordAuthFailure("t1")
	if toks := p.List("ssoBasic"); toks[0].Status != domain.TokenDisabled {
		t.Fatal("expected token DISABLED after three consecutive auth failures")
	}
}

func TestRecordFailure_CoolsAfterThreshold(t *testing.T) {
	p := New(Config{SaveDelayMs: 0, FailThreshold: 2}, nil, nil)
	p.Add("ssoBasic", &domain.Token{Value: "t1", Pool: "ssoBasic", Quota: 10, Status: domain.TokenActive})

	p.RecordFailure("t1", 500)
	p.RecordFailure("t1", 500)

	_, ok := p.Select("ssoBasic", nil)
	if ok {
		t.Fatal("expected token to be COOLING and unselectable after threshold failures")
	}
}

// pins the count-based thaw half of §4.A's "Other 5xx" rule:
// TickErrorCooldowns decrements the request-count thaw on every call,
// and RefreshCooling re-activates the token once it reaches zero.
func TestTickErrorCooldowns_ThawsAfterCooldownRequests(t *testing.T) {
	p := New(Config{SaveDelayMs: 0, FailThreshold: 1, CooldownErrorReqs: 2}, nil, nil)
	p.Add("ssoBasic", &domain.Token{Value: "t1", Pool: "ssoBasic", Quota: 10, Status: domain.TokenActive})

	p.RecordFailure("t1", 500)

	if _, ok := p.Select("ssoBasic", nil); ok {
		t.Fatal("expected token to be COOLING immediately after threshold failure")
	}

	p.TickErrorCooldowns()
	if recovered := p.RefreshCooling(); recovered != 0 {
		t.Fatalf("expected no recovery after one tick, got %d", recovered)
	}

	p.TickErrorCooldowns()
	if recovered := p.RefreshCooling(); recovered != 1 {
		t.Fatalf("expected recovery after CooldownErrorReqs ticks, got %d", recovered)
	}

	if _, ok := p.Select("ssoBasic", nil); !ok {
		t.Fatal("expected token to be selectable again after thaw")
	}
}
