package conversation

import (
	"time"

	"github.com/thushan/olla/internal/core/domain"
)

// markDirty/flushLoop port _schedule_save/_flush_loop from
// conversation_manager.py verbatim (see SPEC_FULL.md §11): same shape
// as tokenpool's persister, duplicated rather than shared because the
// two components persist distinct blob shapes and own distinct locks.
func (m *Manager) markDirty() {
	m.persistMu.Lock()
	m.dirty = true
	alreadyRunning := m.flushRunning
	delay := time.Duration(m.cfg.SaveDelayMs) * time.Millisecond
	if !alreadyRunning {
		m.flushRunning = true
	}
	m.persistMu.Unlock()

	if alreadyRunning {
		return
	}
	if delay <= 0 {
		m.flushLoop(0)
		return
	}
	go m.flushLoop(delay)
}

func (m *Manager) flushLoop(delay time.Duration) {
	for {
		if delay > 0 {
			time.Sleep(delay)
		}

		m.persistMu.Lock()
		if !m.dirty {
			m.persistMu.Unlock()
			break
		}
		m.dirty = false
		m.persistMu.Unlock()

		m.flushNow()
	}

	m.persistMu.Lock()
	m.flushRunning = false
	racedDirty := m.dirty
	m.persistMu.Unlock()

	if racedDirty {
		m.markDirty()
	}
}

func (m *Manager) flushNow() {
	if m.storage == nil {
		return
	}

	blob := domain.ConversationsBlob{
		Conversations:       make(map[string]domain.PersistedConversation),
		TokenConversations: make(map[string][]string),
	}
	m.primary.Range(func(id string, ctx *domain.ConversationContext) bool {
		blob.Conversations[id] = domain.PersistedConversation{
			ID:             ctx.ID,
			UpstreamConvID: ctx.UpstreamConvID,
			LastResponseID: ctx.LastResponseID,
			TokenValue:     ctx.TokenValue,
			ShareLinkID:    ctx.ShareLinkID,
			HistoryHash:    ctx.HistoryHash,
			CreatedAt:      ctx.CreatedAt,
			UpdatedAt:      ctx.UpdatedAt,
			MessageCount:   ctx.MessageCount,
		}
		return true
	})

	m.tertiaryMu.Lock()
	for token, ids := range m.tertiary {
		cp := make([]string, len(ids))
		copy(cp, ids)
		blob.TokenConversations[token] = cp
	}
	m.tertiaryMu.Unlock()

	if err := m.storage.SaveJSON("conversations.json", blob); err != nil && m.log != nil {
		m.log.Warn("conversation manager flush failed", "error", err)
	}
}

// Shutdown flushes unconditionally if dirty (§4.I "Shutdown drains
// pending dirty state").
func (m *Manager) Shutdown() {
	m.persistMu.Lock()
	dirty := m.dirty
	m.dirty = false
	m.persistMu.Unlock()
	if dirty {
		m.flushNow()
	}
}

// Load restores conversation state from storage at startup.
func (m *Manager) Load() error {
	if m.storage == nil {
		return nil
	}
	var blob domain.ConversationsBlob
	if err := m.storage.LoadJSON("conversations.json", &blob); err != nil {
		return err
	}

	for id, pc := range blob.Conversations {
		m.primary.Store(id, &domain.ConversationContext{
			ID:             pc.ID,
			UpstreamConvID: pc.UpstreamConvID,
			LastResponseID: pc.LastResponseID,
			TokenValue:     pc.TokenValue,
			ShareLinkID:    pc.ShareLinkID,
			HistoryHash:    pc.HistoryHash,
			CreatedAt:      pc.CreatedAt,
			UpdatedAt:      pc.UpdatedAt,
			MessageCount:   pc.MessageCount,
		})
		if pc.HistoryHash != "" {
			m.secondary.Store(pc.HistoryHash, id)
		}
	}

	m.tertiaryMu.Lock()
	for token, ids := range blob.TokenConversations {
		cp := make([]string, len(ids))
		copy(cp, ids)
		m.tertiary[token] = cp
	}
	m.tertiaryMu.Unlock()
	return nil
}
