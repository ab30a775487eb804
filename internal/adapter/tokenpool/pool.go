// Package tokenpool groups upstream session tokens into named pools and
// serves quota-aware, cooldown-aware selection for the retry orchestrator.
package tokenpool

import (
	"log/slog"
	"sync"
	"time"

	"github.com/thushan/olla/internal/core/domain"
	"github.com/thushan/olla/internal/core/ports"
)

// Config carries the cooldown/threshold/debounce knobs spec.md §4.A
// names; zero values fall back to the documented defaults.
type Config struct {
	Cooldown429QuotaSec int
	Cooldown429EmptySec int
	FailThreshold       int
	CooldownErrorReqs   int
	SaveDelayMs         int
	// ConsecutiveAuthFailLimit disables a token after this many 401/403
	// in a row with no intervening success (DESIGN.md Open Question c).
	ConsecutiveAuthFailLimit int
}

func (c Config) withDefaults() Config {
	if c.Cooldown429QuotaSec == 0 {
		c.Cooldown429QuotaSec = 3600
	}
	if c.Cooldown429EmptySec == 0 {
		c.Cooldown429EmptySec = 36000
	}
	if c.FailThreshold == 0 {
		c.FailThreshold = 5
	}
	if c.CooldownErrorReqs == 0 {
		c.CooldownErrorReqs = 50
	}
	if c.SaveDelayMs == 0 {
		c.SaveDelayMs = 500
	}
	if c.ConsecutiveAuthFailLimit == 0 {
		c.ConsecutiveAuthFailLimit = 3
	}
	return c
}

// namedPool indexes one pool's tokens by quota, generalising the
// teacher's least-connections balancer's connection-count bucket map to
// quota-descending buckets with O(1) swap-remove.
type namedPool struct {
	byQuota map[int]*bucket
	quotas  []int // kept sorted descending, rebuilt on change
	tokens  map[string]*domain.Token
}

func newNamedPool() *namedPool {
	return &namedPool{
		byQuota: make(map[int]*bucket),
		tokens:  make(map[string]*domain.Token),
	}
}

// Pool implements ports.TokenPool. See DESIGN.md's Token Pool ledger
// entry for grounding: original_source/app/services/token/pool.py for
// the bucket/selection algorithm, conversation_manager.py's debounce
// algorithm for the persistence writer (SPEC_FULL.md §11).
type Pool struct {
	mu      sync.Mutex
	pools   map[string]*namedPool
	poolOf  map[string]string
	cfg     Config
	log     *slog.Logger
	storage ports.Storage

	persistMu    sync.Mutex
	dirty        bool
	flushRunning bool
}

func New(cfg Config, storage ports.Storage, log *slog.Logger) *Pool {
	return &Pool{
		pools:   make(map[string]*namedPool),
		poolOf:  make(map[string]string),
		cfg:     cfg.withDefaults(),
		log:     log,
		storage: storage,
	}
}

func (p *Pool) poolFor(name string) *namedPool {
	np, ok := p.pools[name]
	if !ok {
		np = newNamedPool()
		p.pools[name] = np
	}
	return np
}

// indexable mirrors the Python original's _index_add guard (quota<=0:
// return), extended per DESIGN.md's Open Question (a) to also index
// domain.UnknownQuota tokens in a dedicated bucket so they remain
// selectable, honouring spec.md §3's explicit data-model contract.
func indexable(t *domain.Token) bool {
	return t.Status == domain.TokenActive && (t.Quota > 0 || t.Quota == domain.UnknownQuota)
}

func (p *Pool) indexAdd(np *namedPool, t *domain.Token) {
	if !indexable(t) {
		return
	}
	b, ok := np.byQuota[t.Quota]
	if !ok {
		b = newBucket()
		np.byQuota[t.Quota] = b
		np.quotas = append(np.quotas, t.Quota)
		sortQuotasDesc(np.quotas)
	}
	b.add(t.Value)
}

func (p *Pool) indexRemove(np *namedPool, t *domain.Token) {
	b, ok := np.byQuota[t.Quota]
	if !ok {
		return
	}
	b.remove(t.Value)
	if b.len() == 0 {
		delete(np.byQuota, t.Quota)
		np.quotas = removeQuota(np.quotas, t.Quota)
	}
}

func sortQuotasDesc(q []int) {
	for i := 1; i < len(q); i++ {
		for j := i; j > 0 && q[j] > q[j-1]; j-- {
			q[j], q[j-1] = q[j-1], q[j]
		}
	}
}

func removeQuota(q []int, v int) []int {
	for i, x := range q {
		if x == v {
			return append(q[:i], q[i+1:]...)
		}
	}
	return q
}

func (p *Pool) Add(poolName string, token *domain.Token) {
	p.mu.Lock()
	defer p.mu.Unlock()

	np := p.poolFor(poolName)
	np.tokens[token.Value] = token
	p.poolOf[token.Value] = poolName
	p.indexAdd(np, token)
	p.markDirty()
}

func (p *Pool) Remove(value string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	poolName, ok := p.poolOf[value]
	if !ok {
		return
	}
	np := p.pools[poolName]
	if t, ok := np.tokens[value]; ok {
		p.indexRemove(np, t)
	}
	delete(np.tokens, value)
	delete(p.poolOf, value)
	p.markDirty()
}

// Select iterates quotas in descending order; each bucket's O(1) random
// pick respects the exclude set; falls back to the next-smaller bucket
// on a miss (§4.A).
func (p *Pool) Select(poolName string, exclude map[string]struct{}) (*domain.Token, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	np, ok := p.pools[poolName]
	if !ok {
		return nil, false
	}
	for _, q := range np.quotas {
		b := np.byQuota[q]
		if value, ok := b.pick(exclude); ok {
			return np.tokens[value].Clone(), true
		}
	}
	return nil, false
}

func (p *Pool) List(poolName string) []*domain.Token {
	p.mu.Lock()
	defer p.mu.Unlock()

	np, ok := p.pools[poolName]
	if !ok {
		return nil
	}
	out := make([]*domain.Token, 0, len(np.tokens))
	for _, t := range np.tokens {
		out = append(out, t.Clone())
	}
	return out
}

func (p *Pool) PoolOf(value string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	name, ok := p.poolOf[value]
	return name, ok
}

// reindex re-derives bucket membership after a status/quota mutation
// (spec.md §3: "index structures are rebuilt whenever status or quota
// changes").
func (p *Pool) reindex(np *namedPool, t *domain.Token, mutate func()) {
	wasIndexed := indexable(t)
	if wasIndexed {
		p.indexRemove(np, t)
	}
	mutate()
	if indexable(t) {
		p.indexAdd(np, t)
	}
}

// ApplyCooldown transitions a token to COOLING/DISABLED/EXPIRED and
// removes it from the selectable index accordingly (§4.A cooldown
// policy table).
func (p *Pool) ApplyCooldown(value string, status domain.TokenStatus, until time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	poolName, ok := p.poolOf[value]
	if !ok {
		return
	}
	np := p.pools[poolName]
	t, ok := np.tokens[value]
	if !ok {
		return
	}
	p.reindex(np, t, func() {
		t.Status = status
		t.CooldownUntil = until
	})
	p.markDirty()
}

// RecordFailure applies the count-based error cooldown for non-401/403
// upstream failures (§4.A "Other 5xx").
func (p *Pool) RecordFailure(value string, status int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	poolName, ok := p.poolOf[value]
	if !ok {
		return
	}
	np := p.pools[poolName]
	t, ok := np.tokens[value]
	if !ok {
		return
	}
	p.reindex(np, t, func() {
		t.ConsecutiveFailures++
		if t.ConsecutiveFailures >= p.cfg.FailThreshold {
			t.Status = domain.TokenCooling
			t.CooldownRequests = p.cfg.CooldownErrorReqs
		}
	})
	p.markDirty()
}

// RecordAuthFailure tracks consecutive 401/403s and disables the token
// once ConsecutiveAuthFailLimit is reached (DESIGN.md Open Question c);
// any call to Consume (implying a prior success) resets the counter.
func (p *Pool) RecordAuthFailure(value string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	poolName, ok := p.poolOf[value]
	if !ok {
		return
	}
	np := p.pools[poolName]
	t, ok := np.tokens[value]
	if !ok {
		return
	}
	p.reindex(np, t, func() {
		t.ConsecutiveAuthFails++
		if t.ConsecutiveAuthFails >= p.cfg.ConsecutiveAuthFailLimit {
			t.Status = domain.TokenDisabled
		}
	})
	p.markDirty()
}

// Consume subtracts the effort's cost from quota, clamped at 0, and
// resets the consecutive-auth-failure counter on the assumption that a
// Consume call only follows a successful exchange (§4.A).
func (p *Pool) Consume(value string, effort domain.Effort) {
	p.mu.Lock()
	defer p.mu.Unlock()

	poolName, ok := p.poolOf[value]
	if !ok {
		return
	}
	np := p.pools[poolName]
	t, ok := np.tokens[value]
	if !ok {
		return
	}
	p.reindex(np, t, func() {
		if t.Quota > 0 {
			t.Quota -= effort.Cost()
			if t.Quota < 0 {
				t.Quota = 0
			}
		}
		t.ConsecutiveFailures = 0
		t.ConsecutiveAuthFails = 0
		t.LastUsedAt = time.Now()
	})
	p.markDirty()
}

// Sizes returns the token count of every named pool, for metrics gauges.
func (p *Pool) Sizes() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()

	sizes := make(map[string]int, len(p.pools))
	for name, np := range p.pools {
		sizes[name] = len(np.tokens)
	}
	return sizes
}

// RefreshCooling flips COOLING tokens whose deadline has passed (429
// cooldowns) or whose request-count thaw has reached zero (error
// cooldowns) back to ACTIVE, returning the count recovered (§4.A).
func (p *Pool) RefreshCooling() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	recovered := 0
	for _, np := range p.pools {
		for _, t := range np.tokens {
			if t.Status != domain.TokenCooling {
				continue
			}
			timeBased := !t.CooldownUntil.IsZero() && !now.Before(t.CooldownUntil)
			countBased := t.CooldownUntil.IsZero() && t.CooldownRequests <= 0
			if timeBased || countBased {
				p.reindex(np, t, func() {
					t.Status = domain.TokenActive
					t.CooldownUntil = time.Time{}
					t.CooldownRequests = 0
					t.ConsecutiveFailures = 0
				})
				recovered++
			}
		}
	}
	if recovered > 0 {
		p.markDirty()
	}
	return recovered
}

// TickErrorCooldowns decrements the count-based thaw counter for every
// COOLING token on each pool-wide request, per §4.A's "decrement on
// each pool-wide request until 0, then re-ACTIVATE" rule. Call this
// once per request issued through the retry orchestrator.
func (p *Pool) TickErrorCooldowns() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, np := range p.pools {
		for _, t := range np.tokens {
			if t.Status == domain.TokenCooling && t.CooldownUntil.IsZero() && t.CooldownRequests > 0 {
				t.CooldownRequests--
			}
		}
	}
}

var _ ports.TokenPool = (*Pool)(nil)
