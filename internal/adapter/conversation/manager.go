package conversation

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/thushan/olla/internal/core/domain"
	"github.com/thushan/olla/internal/core/ports"
)

// Config carries the TTL/cap/debounce knobs spec.md §4.E names.
type Config struct {
	TTL           time.Duration
	MaxPerToken   int
	SaveDelayMs   int
	CleanupPeriod time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxPerToken == 0 {
		c.MaxPerToken = 50
	}
	if c.SaveDelayMs == 0 {
		c.SaveDelayMs = 500
	}
	if c.CleanupPeriod == 0 {
		c.CleanupPeriod = time.Minute
	}
	return c
}

// Manager implements the Conversation Manager of §4.E. Concurrent index
// maps use puzpuzpuz/xsync/v4 (lock-free reads dominate the request
// path), matching the teacher's pkg/eventbus rationale for adopting it;
// the tertiary per-token cap list still needs a mutex since it mutates
// an ordered slice.
type Manager struct {
	cfg     Config
	log     *slog.Logger
	storage ports.Storage

	primary   *xsync.Map[string, *domain.ConversationContext]
	secondary *xsync.Map[string, string] // history_hash -> conversation_id

	tertiaryMu sync.Mutex
	tertiary   map[string][]string // token_value -> ordered conversation_ids

	persistMu    sync.Mutex
	dirty        bool
	flushRunning bool
}

func New(cfg Config, storage ports.Storage, log *slog.Logger) *Manager {
	return &Manager{
		cfg:       cfg.withDefaults(),
		log:       log,
		storage:   storage,
		primary:   xsync.NewMap[string, *domain.ConversationContext](),
		secondary: xsync.NewMap[string, string](),
		tertiary:  make(map[string][]string),
	}
}

// Count returns the number of conversations currently tracked, for the
// conversations_active gauge.
func (m *Manager) Count() int {
	return m.primary.Size()
}

// GenerateID ports generate_id(): "conv-" + 24 lowercase hex chars
// (uuid4().hex[:24] in the reference implementation), see SPEC_FULL.md
// §11.
func GenerateID() string {
	buf := make([]byte, 12) // 12 bytes == 24 hex chars
	_, _ = rand.Read(buf)
	return "conv-" + hex.EncodeToString(buf)
}

// Get looks up a context by id, enforcing TTL-on-read eviction (§4.E).
func (m *Manager) Get(id string) (*domain.ConversationContext, bool) {
	ctx, ok := m.primary.Load(id)
	if !ok {
		return nil, false
	}
	if ctx.Expired(time.Now(), m.cfg.TTL) {
		m.evict(ctx)
		return nil, false
	}
	return ctx.Clone(), true
}

// MatchByHash resolves the auto-resume rule (§4.E): a hash lookup that
// also honours TTL-on-read.
func (m *Manager) MatchByHash(hash string) (*domain.ConversationContext, bool) {
	if hash == "" {
		return nil, false
	}
	id, ok := m.secondary.Load(hash)
	if !ok {
		return nil, false
	}
	return m.Get(id)
}

// Create inserts a brand-new context, enforcing per-token cap eviction.
func (m *Manager) Create(ctx *domain.ConversationContext) {
	now := time.Now()
	ctx.CreatedAt = now
	ctx.UpdatedAt = now
	m.insert(ctx)
}

// Update replaces an existing context's mutable fields, honouring the
// "on hash change, remove old entry first" invariant (§3).
func (m *Manager) Update(ctx *domain.ConversationContext) {
	ctx.UpdatedAt = time.Now()
	if old, ok := m.primary.Load(ctx.ID); ok && old.HistoryHash != ctx.HistoryHash && old.HistoryHash != "" {
		m.secondary.Delete(old.HistoryHash)
	}
	m.insert(ctx)
}

func (m *Manager) insert(ctx *domain.ConversationContext) {
	if prev, existed := m.primary.Load(ctx.ID); !existed {
		m.appendToTokenList(ctx.TokenValue, ctx.ID)
	} else if prev.TokenValue != ctx.TokenValue {
		m.removeFromTokenList(prev.TokenValue, ctx.ID)
		m.appendToTokenList(ctx.TokenValue, ctx.ID)
	}

	m.primary.Store(ctx.ID, ctx)
	if ctx.HistoryHash != "" {
		m.secondary.Store(ctx.HistoryHash, ctx.ID)
	}
	m.markDirty()
}

func (m *Manager) appendToTokenList(token, id string) {
	if token == "" {
		return
	}
	m.tertiaryMu.Lock()
	defer m.tertiaryMu.Unlock()

	list := append(m.tertiary[token], id)
	if len(list) > m.cfg.MaxPerToken {
		evicted := list[:len(list)-m.cfg.MaxPerToken]
		list = list[len(list)-m.cfg.MaxPerToken:]
		for _, evictedID := range evicted {
			if evictedCtx, ok := m.primary.Load(evictedID); ok {
				m.evictLocked(evictedCtx)
			}
		}
	}
	m.tertiary[token] = list
}

func (m *Manager) removeFromTokenList(token, id string) {
	if token == "" {
		return
	}
	m.tertiaryMu.Lock()
	defer m.tertiaryMu.Unlock()
	list := m.tertiary[token]
	for i, v := range list {
		if v == id {
			m.tertiary[token] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// evict removes a context from all three indexes (called on TTL read
// eviction or background sweep).
func (m *Manager) evict(ctx *domain.ConversationContext) {
	m.primary.Delete(ctx.ID)
	if ctx.HistoryHash != "" {
		m.secondary.Delete(ctx.HistoryHash)
	}
	m.removeFromTokenList(ctx.TokenValue, ctx.ID)
	m.markDirty()
}

// evictLocked is used from within appendToTokenList, which already
// holds tertiaryMu; it must not re-acquire it.
func (m *Manager) evictLocked(ctx *domain.ConversationContext) {
	m.primary.Delete(ctx.ID)
	if ctx.HistoryHash != "" {
		m.secondary.Delete(ctx.HistoryHash)
	}
	m.markDirty()
}

// SweepExpired removes every context past its TTL; called by the
// background TTL-sweep worker (§4.I) every cleanup_interval_sec.
func (m *Manager) SweepExpired() int {
	now := time.Now()
	var expired []*domain.ConversationContext
	m.primary.Range(func(id string, ctx *domain.ConversationContext) bool {
		if ctx.Expired(now, m.cfg.TTL) {
			expired = append(expired, ctx)
		}
		return true
	})
	for _, ctx := range expired {
		m.evict(ctx)
	}
	return len(expired)
}
