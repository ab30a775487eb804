package conversation

import "github.com/thushan/olla/internal/core/domain"

// Resolve implements §4.H step 1 / §4.E's auto-resume rule: an explicit
// id wins; otherwise, when the request carries two or more messages, an
// auto-match by the pre-new-turn history hash is attempted.
func (m *Manager) Resolve(explicitID string, messages []domain.ChatMessage) (*domain.ConversationContext, bool) {
	if explicitID != "" {
		return m.Get(explicitID)
	}
	if len(messages) < 2 {
		return nil, false
	}
	hash := HistoryHash(messages, true)
	return m.MatchByHash(hash)
}
