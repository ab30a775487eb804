// Package supervisor implements the top-level per-request flow of §4.H:
// context resolution, cross-token dispatch through the retry
// orchestrator, migration on token switch, and stream/collect dispatch
// to the upstream client. Ported from ChatService.completions in
// original_source/app/services/grok/services/chat.py.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thushan/olla/internal/adapter/collector"
	"github.com/thushan/olla/internal/adapter/conversation"
	"github.com/thushan/olla/internal/adapter/retry"
	"github.com/thushan/olla/internal/adapter/stream"
	"github.com/thushan/olla/internal/adapter/upstream"
	"github.com/thushan/olla/internal/core/domain"
	"github.com/thushan/olla/pkg/eventbus"
)

// Upstream is the subset of *upstream.Client the supervisor drives; kept
// narrow so tests can substitute a fake without a real transport.
type Upstream interface {
	NewChat(ctx context.Context, token string, req upstream.BuildRequest) (*upstream.Lines, error)
	ContinueChat(ctx context.Context, token, conversationID string, req upstream.BuildRequest) (*upstream.Lines, error)
	ShareConversation(ctx context.Context, token, conversationID, responseID string) (string, error)
}

// ShareLinkRequest is published on completion of a successful exchange so
// a background worker (§4.I) can create the upstream share link without
// blocking the response to the caller, mirroring the Python original's
// asyncio.create_task(_share()) detached task.
type ShareLinkRequest struct {
	Token          string
	ConversationID string
	UpstreamConvID string
	ResponseID     string
}

// ModelPolicy resolves the two lookups ChatService.completions delegates
// to ModelService, whose source was never retrieved from the reference
// implementation (see DESIGN.md's Component H entry): the quota cost
// tier for a model, and which token pool serves it. Both are injected
// rather than ported, since there is nothing to port from.
type ModelPolicy interface {
	EffortFor(model string) domain.Effort
	PoolFor(model string) string
}

// Config carries the bounded-concurrency knob SPEC_FULL.md §4.H names
// (chat.concurrent); the share-link event's buffering is owned by the
// injected *eventbus.EventBus itself, not this Config.
type Config struct {
	Concurrency int
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 50
	}
	return c
}

// Request is the caller-facing chat request, reduced to the fields the
// supervisor itself needs; multipart image/file/audio content is out of
// scope for this port (domain.ChatMessage carries plain text only) — a
// deliberate scope reduction from MessageExtractor.extract, documented
// in DESIGN.md.
type Request struct {
	Model          string
	Messages       []domain.ChatMessage
	Stream         bool
	ShowThink      bool
	ConversationID string
	FilterTags     []string
}

// Supervisor drives one request end to end: context resolution, the
// cross-token retry loop, and stream/collect dispatch.
type Supervisor struct {
	upstream  Upstream
	orch      *retry.Orchestrator
	convMgr   *conversation.Manager
	cloner    conversation.Cloner
	downloader stream.Downloader
	policy    ModelPolicy
	shareBus  *eventbus.EventBus[ShareLinkRequest]
	log       *slog.Logger

	cfg Config

	semMu sync.Mutex
	sem   chan struct{}
}

func New(
	up Upstream,
	orch *retry.Orchestrator,
	convMgr *conversation.Manager,
	cloner conversation.Cloner,
	downloader stream.Downloader,
	policy ModelPolicy,
	shareBus *eventbus.EventBus[ShareLinkRequest],
	log *slog.Logger,
	cfg Config,
) *Supervisor {
	cfg = cfg.withDefaults()
	return &Supervisor{
		upstream:   up,
		orch:       orch,
		convMgr:    convMgr,
		cloner:     cloner,
		downloader: downloader,
		policy:     policy,
		shareBus:   shareBus,
		log:        log,
		cfg:        cfg,
		sem:        make(chan struct{}, cfg.Concurrency),
	}
}

// UpdateConcurrency swaps the semaphore for a newly-sized one, mirroring
// _get_chat_semaphore's re-creation on config change: the teacher's
// UpdateConfig atomic-swap pattern generalised from an http.Transport
// field to a buffered channel. In-flight holders of the old semaphore
// keep running to completion; only new acquires see the new bound.
func (s *Supervisor) UpdateConcurrency(n int) {
	if n <= 0 {
		n = 1
	}
	s.semMu.Lock()
	defer s.semMu.Unlock()
	if cap(s.sem) == n {
		return
	}
	s.sem = make(chan struct{}, n)
}

func (s *Supervisor) acquire(ctx context.Context) (chan struct{}, error) {
	s.semMu.Lock()
	sem := s.sem
	s.semMu.Unlock()

	select {
	case sem <- struct{}{}:
		return sem, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func release(sem chan struct{}) {
	if sem == nil {
		return
	}
	select {
	case <-sem:
	default:
	}
}

// Handle runs the complete per-request flow described in §4.H: context
// resolution, the cross-token retry loop (driven by the orchestrator,
// which already owns cooldown classification and circuit breaking), and
// stream/collect dispatch. emit is only used when req.Stream is true; in
// the non-streaming case the assembled completion object is returned.
func (s *Supervisor) Handle(ctx context.Context, req Request, emit func(chunk string) error) (map[string]interface{}, error) {
	sem, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release(sem)

	convCtx, openaiConvID := s.resolveContext(req)
	poolName := s.policy.PoolFor(req.Model)
	effort := s.policy.EffortFor(req.Model)

	var preferred *domain.Token
	if convCtx != nil {
		preferred = &domain.Token{Value: convCtx.TokenValue, Pool: poolName}
	}

	type outcome struct {
		collected   map[string]interface{}
		streamed    bool
		processor   *stream.Processor
		col         *collector.Collector
	}

	var winningToken string

	attempt := func(actx context.Context, token *domain.Token) (interface{}, error) {
		winningToken = token.Value
		activeCtx := convCtx
		if activeCtx != nil && token.Value != activeCtx.TokenValue {
			activeCtx = s.convMgr.Migrate(actx, activeCtx, token.Value, s.cloner)
			openaiConvID = activeCtx.ID
		}

		text := buildPromptText(req.Messages, activeCtx != nil)
		buildReq := upstream.BuildRequest{
			Message: text,
			Model:   req.Model,
		}

		var lines *upstream.Lines
		var err error
		if activeCtx != nil && activeCtx.UpstreamConvID != "" {
			buildReq.ParentResponseID = activeCtx.LastResponseID
			lines, err = s.upstream.ContinueChat(actx, token.Value, activeCtx.UpstreamConvID, buildReq)
		} else {
			lines, err = s.upstream.NewChat(actx, token.Value, buildReq)
		}
		if err != nil {
			return nil, err
		}

		convCtx = activeCtx

		if req.Stream {
			proc := stream.NewProcessor(stream.Config{
				Model:          req.Model,
				Token:          token.Value,
				ConversationID: openaiConvID,
				ShowThink:      req.ShowThink,
				FilterTags:     req.FilterTags,
			}, s.downloader, time.Now())

			runErr := proc.Run(actx, lines, emit)
			closeErr := lines.Close()
			if runErr != nil {
				return nil, runErr
			}
			if closeErr != nil && s.log != nil {
				s.log.Warn("stream line source close failed", "error", closeErr)
			}
			if err := proc.Finish(emit); err != nil {
				return nil, err
			}
			return outcome{streamed: true, processor: proc}, nil
		}

		col := collector.New(collector.Config{
			Model:          req.Model,
			Token:          token.Value,
			ConversationID: openaiConvID,
			FilterTags:     req.FilterTags,
		}, s.downloader, time.Now(), s.log)

		result := col.Collect(actx, lines)
		if closeErr := lines.Close(); closeErr != nil && s.log != nil {
			s.log.Warn("collect line source close failed", "error", closeErr)
		}
		return outcome{collected: result, col: col}, nil
	}

	result, err := s.orch.Run(ctx, poolName, preferred, "grok", effort, attempt)
	if err != nil {
		return nil, err
	}

	out := result.(outcome)

	var upstreamConvID, lastResponseID string
	switch {
	case out.streamed:
		upstreamConvID = out.processor.GrokConversationID()
		lastResponseID = out.processor.ResponseID()
	default:
		upstreamConvID = out.col.GrokConversationID()
		lastResponseID = out.col.ResponseID()
	}

	s.recordConversation(convCtx, openaiConvID, upstreamConvID, lastResponseID, winningToken, req, poolName)

	if out.streamed {
		return nil, nil
	}

	out.collected["conversation_id"] = openaiConvID
	return out.collected, nil
}

// resolveContext implements §4.H's three-way context resolution by
// delegating to conversation.Manager.Resolve (explicit conversation_id,
// else hash-based auto-resume gated on len(messages) > 1), falling back
// to a fresh id when neither matches.
func (s *Supervisor) resolveContext(req Request) (*domain.ConversationContext, string) {
	if ctx, ok := s.convMgr.Resolve(req.ConversationID, req.Messages); ok {
		return ctx, ctx.ID
	}
	return nil, conversation.GenerateID()
}

// recordConversation updates-or-creates the conversation context after a
// successful exchange and fires the detached share-link event, mirroring
// _update_conversation_from_processor followed by
// asyncio.create_task(_share()). tokenValue is the token that actually won
// the exchange (Handle's winningToken, captured from the orchestrator's
// successful attempt) — it is threaded onto next.TokenValue unconditionally
// so a brand-new conversation (prior == nil) is stored with its owning
// token instead of the zero value, and so a mid-exchange token migration
// is reflected even when prior != nil.
func (s *Supervisor) recordConversation(prior *domain.ConversationContext, openaiConvID, upstreamConvID, lastResponseID, tokenValue string, req Request, poolName string) {
	if upstreamConvID == "" {
		return
	}

	next := &domain.ConversationContext{
		ID:             openaiConvID,
		UpstreamConvID: upstreamConvID,
		LastResponseID: lastResponseID,
		TokenValue:     tokenValue,
		HistoryHash:    conversation.HistoryHash(req.Messages, false),
		MessageCount:   len(req.Messages),
	}
	if prior != nil {
		next.ShareLinkID = prior.ShareLinkID
		next.MessageCount = prior.MessageCount + 1
	}

	if prior == nil {
		s.convMgr.Create(next)
	} else {
		s.convMgr.Update(next)
	}

	if s.shareBus != nil && next.TokenValue != "" {
		s.shareBus.PublishAsync(ShareLinkRequest{
			Token:          next.TokenValue,
			ConversationID: openaiConvID,
			UpstreamConvID: upstreamConvID,
			ResponseID:     lastResponseID,
		})
	}
}

// CreateShareLink performs the work §4.I's share-link worker subscribes
// to do: call ShareConversation and, on success, stamp the resulting
// share link id onto the conversation without bumping its message count
// (increment_message=False in the Python original).
func (s *Supervisor) CreateShareLink(ctx context.Context, evt ShareLinkRequest) {
	linkID, err := s.upstream.ShareConversation(ctx, evt.Token, evt.UpstreamConvID, evt.ResponseID)
	if err != nil || linkID == "" {
		return
	}
	existing, ok := s.convMgr.Get(evt.ConversationID)
	if !ok {
		return
	}
	existing.ShareLinkID = linkID
	s.convMgr.Update(existing)
}

// buildPromptText reduces MessageExtractor.extract to its plain-text
// case (§4.H scope reduction, see DESIGN.md): when continuing an
// existing conversation only the last user message's text is sent
// upstream (the conversation already holds the prior turns); otherwise
// every non-empty message is joined, each non-final line prefixed with
// its role, the last user line left bare.
func buildPromptText(messages []domain.ChatMessage, isContinue bool) string {
	if isContinue {
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].Role == "user" {
				return messages[i].Content
			}
		}
		if len(messages) > 0 {
			return messages[len(messages)-1].Content
		}
		return ""
	}

	type extracted struct {
		role, text string
	}
	var items []extracted
	lastUserIdx := -1
	for _, m := range messages {
		if m.Content == "" {
			continue
		}
		items = append(items, extracted{role: m.Role, text: m.Content})
		if m.Role == "user" {
			lastUserIdx = len(items) - 1
		}
	}

	var parts []string
	for i, item := range items {
		if i == lastUserIdx {
			parts = append(parts, item.text)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", item.role, item.text))
	}

	joined := ""
	for i, p := range parts {
		if i > 0 {
			joined += "\n\n"
		}
		joined += p
	}
	return joined
}
