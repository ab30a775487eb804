package tokenpool

import (
	"time"

	"github.com/thushan/olla/internal/core/domain"
)

// markDirty and the flush loop below port original_source/app/
// services/conversation_manager.py's _schedule_save/_flush_loop
// algorithm verbatim (see SPEC_FULL.md §11 / DESIGN.md): a fresh delay
// is latched on every mutation, a single flush goroutine coalesces
// concurrent dirty marks, and a final re-arm in the teardown path
// prevents a last-moment mutation from being lost.
func (p *Pool) markDirty() {
	p.persistMu.Lock()
	p.dirty = true
	alreadyRunning := p.flushRunning
	delay := time.Duration(p.cfg.SaveDelayMs) * time.Millisecond
	if !alreadyRunning {
		p.flushRunning = true
	}
	p.persistMu.Unlock()

	if alreadyRunning {
		return
	}
	if delay <= 0 {
		p.flushLoop(0)
		return
	}
	go p.flushLoop(delay)
}

func (p *Pool) flushLoop(delay time.Duration) {
	for {
		if delay > 0 {
			time.Sleep(delay)
		}

		p.persistMu.Lock()
		if !p.dirty {
			p.persistMu.Unlock()
			break
		}
		p.dirty = false
		p.persistMu.Unlock()

		p.flushNow()
	}

	// Mirrors the Python original's `finally`: release the running flag,
	// then re-arm once more if a mutation raced in right as the loop was
	// exiting, so no dirty mark is ever silently dropped.
	p.persistMu.Lock()
	p.flushRunning = false
	racedDirty := p.dirty
	p.persistMu.Unlock()

	if racedDirty {
		p.markDirty()
	}
}

// flushNow serialises the pool to its storage collaborator. Called
// both by the debounce loop and directly by Shutdown for a final
// unconditional drain (§4.I "Shutdown drains pending dirty state").
func (p *Pool) flushNow() {
	if p.storage == nil {
		return
	}

	p.mu.Lock()
	blob := domain.TokensBlob{}
	for _, np := range p.pools {
		for _, t := range np.tokens {
			blob.Tokens = append(blob.Tokens, domain.PersistedToken{
				Value:               t.Value,
				Pool:                t.Pool,
				Quota:               t.Quota,
				Status:              string(t.Status),
				CooldownUntil:       t.CooldownUntil,
				CooldownRequests:    t.CooldownRequests,
				ConsecutiveFailures: t.ConsecutiveFailures,
				LastUsedAt:          t.LastUsedAt,
			})
		}
	}
	p.mu.Unlock()

	if err := p.storage.SaveJSON("tokens.json", blob); err != nil && p.log != nil {
		p.log.Warn("token pool flush failed", "error", err)
	}
}

// Shutdown flushes unconditionally if dirty, matching §4.I's guarantee
// that a shutdown always flushes pending state regardless of timer
// phase.
func (p *Pool) Shutdown() {
	p.persistMu.Lock()
	dirty := p.dirty
	p.dirty = false
	p.persistMu.Unlock()
	if dirty {
		p.flushNow()
	}
}

// Load restores pool state from storage at startup, rebuilding indexes.
func (p *Pool) Load() error {
	if p.storage == nil {
		return nil
	}
	var blob domain.TokensBlob
	if err := p.storage.LoadJSON("tokens.json", &blob); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pt := range blob.Tokens {
		np := p.poolFor(pt.Pool)
		t := &domain.Token{
			Value:               pt.Value,
			Pool:                pt.Pool,
			Quota:               pt.Quota,
			Status:              domain.TokenStatus(pt.Status),
			CooldownUntil:       pt.CooldownUntil,
			CooldownRequests:    pt.CooldownRequests,
			ConsecutiveFailures: pt.ConsecutiveFailures,
			LastUsedAt:          pt.LastUsedAt,
		}
		np.tokens[t.Value] = t
		p.poolOf[t.Value] = pt.Pool
		p.indexAdd(np, t)
	}
	return nil
}
