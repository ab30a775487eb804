package conversation

import (
	"testing"

	"github.com/thushan/olla/internal/core/domain"
)

// Testable Property 4: hash stability.
func TestHistoryHash_Stable(t *testing.T) {
	msgs := []domain.ChatMessage{{Role: "system", Content: "S"}, {Role: "user", Content: "U1"}}
	if HistoryHash(msgs, false) != HistoryHash(msgs, false) {
		t.Fatal("expected hash(M) == hash(M)")
	}
}

func TestHistoryHash_IgnoresAssistantContent(t *testing.T) {
	withoutAssistant := []domain.ChatMessage{{Role: "system", Content: "S"}, {Role: "user", Content: "U1"}}
	withAssistant := []domain.ChatMessage{
		{Role: "system", Content: "S"},
		{Role: "user", Content: "U1"},
		{Role: "assistant", Content: "anything, ignored"},
	}
	if HistoryHash(withoutAssistant, false) != HistoryHash(withAssistant, false) {
		t.Fatal("expected assistant message content to not affect the hash")
	}
}

func TestHistoryHash_ExcludeLastUserMatchesShorterHistory(t *testing.T) {
	full := []domain.ChatMessage{
		{Role: "system", Content: "S"},
		{Role: "user", Content: "U1"},
		{Role: "assistant", Content: "A1"},
		{Role: "user", Content: "U2"},
	}
	shorter := []domain.ChatMessage{{Role: "system", Content: "S"}, {Role: "user", Content: "U1"}}

	if HistoryHash(full, true) != HistoryHash(shorter, false) {
		t.Fatal("expected hash(exclude_last_user=true) of the full list to equal hash of the shorter prefix")
	}
}

func TestHistoryHash_EmptyInput(t *testing.T) {
	if HistoryHash(nil, false) != "" {
		t.Fatal("expected empty input to hash to empty string")
	}
}

// system_parts+user_parts are grouped before joining, so a system message
// trailing a user message still hashes the same as the system-first form.
func TestHistoryHash_GroupsSystemBeforeUserRegardlessOfOrder(t *testing.T) {
	systemFirst := []domain.ChatMessage{
		{Role: "system", Content: "S"},
		{Role: "user", Content: "U1"},
	}
	userFirst := []domain.ChatMessage{
		{Role: "user", Content: "U1"},
		{Role: "system", Content: "S"},
	}
	if HistoryHash(systemFirst, false) != HistoryHash(userFirst, false) {
		t.Fatal("expected system lines grouped ahead of user lines regardless of message order")
	}
}
