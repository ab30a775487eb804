package domain

import "time"

// TokensBlob is the persisted shape of the token pool, one document per
// replica, written atomically by the debounced writer (see §4.A, §9).
type TokensBlob struct {
	Tokens []PersistedToken `json:"tokens"`
}

type PersistedToken struct {
	Value               string    `json:"value"`
	Pool                string    `json:"pool"`
	Quota               int       `json:"quota"`
	Status              string    `json:"status"`
	CooldownUntil       time.Time `json:"cooldown_until,omitempty"`
	CooldownRequests    int       `json:"cooldown_requests,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures,omitempty"`
	LastUsedAt          time.Time `json:"last_used_at,omitempty"`
}

// ConversationsBlob is the persisted shape of the conversation manager's
// primary store plus the per-token cap index (§6 "conversations.json").
type ConversationsBlob struct {
	Conversations      map[string]PersistedConversation `json:"conversations"`
	TokenConversations map[string][]string               `json:"token_conversations"`
}

type PersistedConversation struct {
	ID             string    `json:"id"`
	UpstreamConvID string    `json:"conversation_id"`
	LastResponseID string    `json:"last_response_id"`
	TokenValue     string    `json:"token_value"`
	ShareLinkID    string    `json:"share_link_id,omitempty"`
	HistoryHash    string    `json:"history_hash"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	MessageCount   int       `json:"message_count"`
}

// StatsBlob is the persisted shape of request-log aggregates (§3 "Request
// Log / Stats"); the ring buffer and hourly/daily buckets are owned by
// the out-of-scope stats collaborator, this is only its wire shape.
type StatsBlob struct {
	Hourly     map[string]CounterBucket `json:"hourly"`
	Daily      map[string]CounterBucket `json:"daily"`
	PerModel   map[string]CounterBucket `json:"per_model"`
}

type CounterBucket struct {
	Total   int64 `json:"total"`
	Success int64 `json:"success"`
	Failed  int64 `json:"failed"`
}

// LogsBlob is the bounded, newest-first request-log ring (§3).
type LogsBlob struct {
	Entries []LogEntry `json:"entries"`
}

type LogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Model      string    `json:"model"`
	Status     int       `json:"status"`
	DurationMs int64     `json:"duration_ms"`
	IP         string    `json:"ip"`
	KeyMask    string    `json:"key_mask"`
	Error      string    `json:"error,omitempty"`
	Stream     bool      `json:"stream"`
}
