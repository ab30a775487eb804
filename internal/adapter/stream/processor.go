package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/thushan/olla/internal/core/domain"
	"github.com/thushan/olla/pkg/pool"
)

// sseBuilderPool reuses the strings.Builder that renders each outgoing
// SSE frame, since a chunk is emitted for every delta token on the
// stream's hot path.
var sseBuilderPool = pool.NewLitePool(func() *strings.Builder {
	return &strings.Builder{}
})

// Downloader resolves an upstream-hosted image/video URL into a
// gateway-local rendered markdown string (a "[rendered](url)" form);
// its concrete implementation (asset proxying, caching) has no
// original_source equivalent retrieved in the pack, so the interface
// is kept narrow and is injected rather than hard-wired.
type Downloader interface {
	RenderImage(ctx context.Context, url, token, imageID string) (string, error)
}

// Config configures a Processor, ported from StreamProcessor.__init__'s
// filter_tags/tool_usage_enabled/show_think fields.
type Config struct {
	Model          string
	Token          string
	ConversationID string
	ShowThink      bool
	FilterTags     []string
	Timeouts       TimeoutConfig
}

func (c Config) toolUsageEnabled() bool {
	for _, tag := range c.FilterTags {
		if tag == "xai:tool_usage_card" {
			return true
		}
	}
	return false
}

// Processor renders the upstream's raw NDJSON event stream into
// OpenAI-compatible "data: {...}\n\n" SSE chunks (§4.F), ported from
// StreamProcessor in original_source/app/services/grok/services/chat.py.
type Processor struct {
	cfg Config
	dl  Downloader

	created     int64
	responseID  string
	grokConvID  string
	fingerprint string
	rolloutID   string

	thinkOpened      bool
	imageThinkActive bool
	roleSent         bool

	toolUsageOpened bool
	toolUsageBuffer strings.Builder
}

// NewProcessor wires a Processor against one streaming request;
// createdAt is injected (not time.Now()) so callers control the
// chat-completion "created" epoch deterministically in tests.
func NewProcessor(cfg Config, dl Downloader, createdAt time.Time) *Processor {
	return &Processor{cfg: cfg, dl: dl, created: createdAt.Unix()}
}

func (p *Processor) ResponseID() string         { return p.responseID }
func (p *Processor) GrokConversationID() string { return p.grokConvID }
func (p *Processor) Fingerprint() string        { return p.fingerprint }

// Run drains src to completion, invoking emit for every SSE frame
// produced (role chunk, content deltas, a trailing finish_reason=stop
// chunk, and the final "data: [DONE]\n\n" sentinel), mirroring
// StreamProcessor.process's structure. It returns a *domain.GatewayError
// (StreamTimeoutError / HTTP2StreamError) on the corresponding failure
// classes, or nil on a clean finish or context cancellation.
func (p *Processor) Run(ctx context.Context, src LineSource, emit func(chunk string) error) error {
	reader := newTimeoutReader(src, p.cfg.Timeouts)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		raw, err := reader.Next()
		if err != nil {
			return p.classifyReadErr(err)
		}

		line := normalizeLine(raw)
		if line == "" {
			continue
		}

		var data map[string]interface{}
		if err := json.Unmarshal([]byte(line), &data); err != nil {
			continue
		}

		if err := p.handleEvent(ctx, data, emit); err != nil {
			return err
		}
	}
}

// classifyReadErr maps a read failure from the underlying line source
// into the taxonomy StreamTimeoutError/HTTP2StreamError, or treats EOF
// as a clean stream end (the caller still emits the closing frames).
func (p *Processor) classifyReadErr(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	if ste, ok := err.(*domain.StreamTimeoutError); ok {
		return ste
	}
	if isHTTP2Error(err) {
		return &domain.HTTP2StreamError{Err: err}
	}
	return &domain.InternalError{Err: err}
}

func (p *Processor) handleEvent(ctx context.Context, data map[string]interface{}, emit func(string) error) error {
	result, _ := data["result"].(map[string]interface{})
	resp, _ := result["response"].(map[string]interface{})
	if resp == nil {
		return nil
	}

	isThinking, _ := resp["isThinking"].(bool)

	if llm, ok := resp["llmInfo"].(map[string]interface{}); ok && p.fingerprint == "" {
		if hash, ok := llm["modelHash"].(string); ok {
			p.fingerprint = hash
		}
	}
	if rid, ok := resp["responseId"].(string); ok && rid != "" {
		p.responseID = rid
	}
	if mr, ok := resp["modelResponse"].(map[string]interface{}); ok {
		if rid, ok := mr["responseId"].(string); ok && rid != "" {
			p.responseID = rid
		}
	}
	if rid, ok := resp["rolloutId"]; ok {
		p.rolloutID = fmt.Sprintf("%v", rid)
	}
	if conv, ok := result["conversation"].(map[string]interface{}); ok {
		if convID, ok := conv["conversationId"].(string); ok && convID != "" {
			p.grokConvID = convID
		}
	}

	if !p.roleSent {
		if err := emit(p.sse("", "assistant", "")); err != nil {
			return err
		}
		p.roleSent = true
	}

	if img, ok := resp["streamingImageGenerationResponse"].(map[string]interface{}); ok {
		if !p.cfg.ShowThink {
			return nil
		}
		p.imageThinkActive = true
		if !p.thinkOpened {
			if err := emit(p.sse("<think>\n", "", "")); err != nil {
				return err
			}
			p.thinkOpened = true
		}
		idx := intField(img, "imageIndex") + 1
		progress := intField(img, "progress")
		return emit(p.sse(fmt.Sprintf("generating image %d, progress %d%%\n", idx, progress), "", ""))
	}

	if mr, ok := resp["modelResponse"].(map[string]interface{}); ok {
		if p.imageThinkActive && p.thinkOpened {
			if err := emit(p.sse("\n</think>\n", "", "")); err != nil {
				return err
			}
			p.thinkOpened = false
		}
		p.imageThinkActive = false

		for _, url := range collectImages(mr) {
			rendered, err := p.dl.RenderImage(ctx, url, p.cfg.Token, imageIDFromURL(url))
			if err != nil {
				continue
			}
			if err := emit(p.sse(rendered+"\n", "", "")); err != nil {
				return err
			}
		}

		if meta, ok := mr["metadata"].(map[string]interface{}); ok {
			if llmInfo, ok := meta["llm_info"].(map[string]interface{}); ok {
				if hash, ok := llmInfo["modelHash"].(string); ok && hash != "" {
					p.fingerprint = hash
				}
			}
		}
		return nil
	}

	if card, ok := resp["cardAttachment"].(map[string]interface{}); ok {
		jsonData, _ := card["jsonData"].(string)
		if strings.TrimSpace(jsonData) != "" {
			var cardData map[string]interface{}
			if json.Unmarshal([]byte(jsonData), &cardData) == nil {
				if image, ok := cardData["image"].(map[string]interface{}); ok {
					original, _ := image["original"].(string)
					title, _ := image["title"].(string)
					if original != "" {
						titleSafe := strings.TrimSpace(strings.ReplaceAll(title, "\n", " "))
						if titleSafe == "" {
							titleSafe = "image"
						}
						if err := emit(p.sse(fmt.Sprintf("![%s](%s)\n", titleSafe, original), "", "")); err != nil {
							return err
						}
					}
				}
			}
		}
		return nil
	}

	if tokenVal, ok := resp["token"]; ok {
		token, _ := tokenVal.(string)
		if token == "" {
			return nil
		}
		filtered := p.filterToken(token)
		if filtered == "" {
			return nil
		}
		inThink := isThinking || p.imageThinkActive
		if inThink {
			if !p.cfg.ShowThink {
				return nil
			}
			if !p.thinkOpened {
				if err := emit(p.sse("<think>\n", "", "")); err != nil {
					return err
				}
				p.thinkOpened = true
			}
		} else if p.thinkOpened {
			if err := emit(p.sse("\n</think>\n", "", "")); err != nil {
				return err
			}
			p.thinkOpened = false
		}
		return emit(p.sse(filtered, "", ""))
	}

	return nil
}

// Finish emits the trailing </think> close (if still open), the
// finish_reason=stop chunk, and the [DONE] sentinel — called once Run
// returns nil (a clean upstream close), never on a timeout/transport
// error path.
func (p *Processor) Finish(emit func(string) error) error {
	if p.thinkOpened {
		if err := emit(p.sse("</think>\n", "", "")); err != nil {
			return err
		}
		p.thinkOpened = false
	}
	if err := emit(p.sse("", "", "stop")); err != nil {
		return err
	}
	return emit("data: [DONE]\n\n")
}

// filterToken applies the tool-card buffering filter followed by the
// plain tag-presence drop rule, mirroring _filter_token exactly:
// tool-usage cards are rendered to a label line, any other configured
// tag's mere presence in this token drops it whole.
func (p *Processor) filterToken(token string) string {
	if token == "" {
		return token
	}

	if p.cfg.toolUsageEnabled() {
		token = p.filterToolCard(token)
		if token == "" {
			return ""
		}
	}

	for _, tag := range p.cfg.FilterTags {
		if tag == "xai:tool_usage_card" {
			continue
		}
		if strings.Contains(token, "<"+tag) || strings.Contains(token, "</"+tag) {
			return ""
		}
	}
	return token
}

const (
	toolUsageStartTag = "<xai:tool_usage_card"
	toolUsageEndTag   = "</xai:tool_usage_card>"
)

// filterToolCard ports _filter_tool_card's cross-chunk buffering state
// machine: a card may open in one token and close several tokens
// later, so partial cards are accumulated in toolUsageBuffer until the
// end tag arrives.
func (p *Processor) filterToolCard(token string) string {
	var out strings.Builder
	rest := token

	for rest != "" {
		if p.toolUsageOpened {
			endIdx := strings.Index(rest, toolUsageEndTag)
			if endIdx == -1 {
				p.toolUsageBuffer.WriteString(rest)
				return out.String()
			}
			endPos := endIdx + len(toolUsageEndTag)
			p.toolUsageBuffer.WriteString(rest[:endPos])
			line := extractToolText(p.toolUsageBuffer.String(), p.rolloutID)
			appendLabelLine(&out, line)
			p.toolUsageBuffer.Reset()
			p.toolUsageOpened = false
			rest = rest[endPos:]
			continue
		}

		startIdx := strings.Index(rest, toolUsageStartTag)
		if startIdx == -1 {
			out.WriteString(rest)
			break
		}
		if startIdx > 0 {
			out.WriteString(rest[:startIdx])
		}

		endIdx := strings.Index(rest[startIdx:], toolUsageEndTag)
		if endIdx == -1 {
			p.toolUsageOpened = true
			p.toolUsageBuffer.WriteString(rest[startIdx:])
			break
		}
		endPos := startIdx + endIdx + len(toolUsageEndTag)
		rawCard := rest[startIdx:endPos]
		line := extractToolText(rawCard, p.rolloutID)
		appendLabelLine(&out, line)
		rest = rest[endPos:]
	}

	return out.String()
}

func appendLabelLine(out *strings.Builder, line string) {
	if line == "" {
		return
	}
	s := out.String()
	if s != "" && !strings.HasSuffix(s, "\n") {
		out.WriteString("\n")
	}
	out.WriteString(line)
	out.WriteString("\n")
}

// sse builds one OpenAI-format "data: {...}\n\n" frame, mirroring
// StreamProcessor._sse. role and content are mutually exclusive per
// call site; finish is non-empty only on the closing chunk.
func (p *Processor) sse(content, role, finish string) string {
	delta := map[string]interface{}{}
	switch {
	case role != "":
		delta["role"] = role
		delta["content"] = ""
	case content != "":
		delta["content"] = content
	}

	id := p.responseID
	if id == "" {
		id = "chatcmpl-" + uuid.NewString()[:24]
	}

	choice := map[string]interface{}{
		"index":    0,
		"delta":    delta,
		"logprobs": nil,
	}
	if finish != "" {
		choice["finish_reason"] = finish
	} else {
		choice["finish_reason"] = nil
	}

	chunk := map[string]interface{}{
		"id":                 id,
		"object":             "chat.completion.chunk",
		"created":            p.created,
		"model":              p.cfg.Model,
		"system_fingerprint": p.fingerprint,
		"choices":            []interface{}{choice},
	}
	if p.cfg.ConversationID != "" {
		chunk["conversation_id"] = p.cfg.ConversationID
	}

	body, _ := json.Marshal(chunk)

	b := sseBuilderPool.Get()
	defer sseBuilderPool.Put(b)
	b.WriteString("data: ")
	b.Write(body)
	b.WriteString("\n\n")
	return b.String()
}

func intField(m map[string]interface{}, key string) int {
	v, ok := m[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
