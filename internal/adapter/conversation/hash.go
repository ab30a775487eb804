// Package conversation implements hash-based auto-resume, share-link
// migration and TTL/cap enforcement for gateway conversation contexts
// (§4.E), ported from original_source/app/services/conversation_manager.py.
package conversation

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/thushan/olla/internal/core/domain"
)

// HistoryHash ports compute_history_hash: system and user text lines
// collected into separate parts, assistant-presence flag, conditional
// drop of the last user part when excludeLastUser is set and an
// assistant message was seen, then system_parts+user_parts joined (all
// system lines before any user line, regardless of where they fall in
// the conversation) and SHA-256'd to its first 16 hex chars. Empty
// input yields "" (no auto-match), per Testable Property 4.
func HistoryHash(messages []domain.ChatMessage, excludeLastUser bool) string {
	var systemParts, userParts []string
	sawAssistant := false

	for _, m := range messages {
		switch m.Role {
		case "system":
			systemParts = append(systemParts, "system:"+m.Content)
		case "user":
			userParts = append(userParts, "user:"+m.Content)
		case "assistant":
			sawAssistant = true
		}
	}

	if excludeLastUser && sawAssistant && len(userParts) > 0 {
		userParts = userParts[:len(userParts)-1]
	}

	keyParts := append(systemParts, userParts...)
	if len(keyParts) == 0 {
		return ""
	}

	joined := strings.Join(keyParts, "\n")
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])[:16]
}
