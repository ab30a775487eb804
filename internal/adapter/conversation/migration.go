package conversation

import (
	"context"

	"github.com/thushan/olla/internal/core/domain"
)

// Cloner is the subset of the Upstream Client the migration path needs
// (§4.C "clone share link"); kept as a narrow interface so this package
// never imports internal/adapter/upstream directly.
type Cloner interface {
	CloneShareLink(ctx context.Context, token, shareLinkID string) (newConvID, newLastResponseID string, err error)
}

// Migrate implements §4.E's cross-token migration rule: if the context
// has a share link, attempt to clone it onto newToken; on any failure,
// or when there is no share link, detach by minting a fresh gateway id
// (scenario S3).
func (m *Manager) Migrate(ctx context.Context, c *domain.ConversationContext, newToken string, cloner Cloner) *domain.ConversationContext {
	if c.ShareLinkID != "" && cloner != nil {
		newConvID, newLastResp, err := cloner.CloneShareLink(ctx, newToken, c.ShareLinkID)
		if err == nil && newConvID != "" && newLastResp != "" {
			migrated := c.Clone()
			migrated.UpstreamConvID = newConvID
			migrated.LastResponseID = newLastResp
			migrated.TokenValue = newToken
			// message_count intentionally unchanged (Testable Property 6).
			m.Update(migrated)
			return migrated
		}
	}

	return &domain.ConversationContext{
		ID:         GenerateID(),
		TokenValue: newToken,
	}
}
