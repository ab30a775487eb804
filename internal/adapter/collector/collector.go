// Package collector implements the non-streaming counterpart to the
// stream package: it drains an upstream NDJSON response to completion
// and assembles a single OpenAI-compatible chat.completion object,
// ported from CollectProcessor in
// original_source/app/services/grok/services/chat.py (§4.G).
package collector

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/thushan/olla/internal/adapter/stream"
)

var (
	toolUsageCardRe = regexp.MustCompile(`(?s)<xai:tool_usage_card[^>]*>.*?</xai:tool_usage_card>`)
	rolloutIDRe     = regexp.MustCompile(`(?s)<rolloutId>(.*?)</rolloutId>`)
	renderCardRe    = regexp.MustCompile(`(?s)<grok:render[^>]*card_id="([^"]+)"[^>]*>.*?</grok:render>`)
)

// Config mirrors stream.Config's non-timing fields; Collector has no
// think-marker concept (non-streaming responses carry no thinking
// tokens through to the caller).
type Config struct {
	Model          string
	Token          string
	ConversationID string
	FilterTags     []string
	Timeouts       stream.TimeoutConfig
}

func (c Config) toolUsageEnabled() bool {
	for _, tag := range c.FilterTags {
		if tag == "xai:tool_usage_card" {
			return true
		}
	}
	return false
}

// Collector assembles one full chat.completion object from an upstream
// NDJSON line source, matching CollectProcessor.process's field-capture
// precedence (fingerprint set-once-if-unset, terminal override on the
// final modelResponse.metadata.llm_info.modelHash).
type Collector struct {
	cfg Config
	dl  stream.Downloader
	log *slog.Logger

	created int64

	responseID  string
	fingerprint string
	grokConvID  string
}

func New(cfg Config, dl stream.Downloader, createdAt time.Time, log *slog.Logger) *Collector {
	return &Collector{cfg: cfg, dl: dl, created: createdAt.Unix(), log: log}
}

func (c *Collector) ResponseID() string         { return c.responseID }
func (c *Collector) GrokConversationID() string { return c.grokConvID }
func (c *Collector) Fingerprint() string        { return c.fingerprint }

// Collect drains src to completion and returns the assembled response
// object. Matching the Python original's broad except-and-log, any
// read/timeout/transport failure is logged and swallowed rather than
// propagated: the caller always receives a best-effort completion
// built from whatever content was collected before the failure.
func (c *Collector) Collect(ctx context.Context, src stream.LineSource) map[string]interface{} {
	reader := stream.NewTimeoutReader(src, c.cfg.Timeouts)

	var content strings.Builder

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		default:
		}

		raw, err := reader.Next()
		if err != nil {
			if c.log != nil && !isCleanFinish(err) {
				c.log.Warn("collect stream ended early", "model", c.cfg.Model, "error", err)
			}
			break loop
		}

		line := stream.NormalizeLine(raw)
		if line == "" {
			continue
		}

		var data map[string]interface{}
		if err := json.Unmarshal([]byte(line), &data); err != nil {
			continue
		}

		result, _ := data["result"].(map[string]interface{})
		resp, _ := result["response"].(map[string]interface{})
		if resp == nil {
			continue
		}

		if conv, ok := result["conversation"].(map[string]interface{}); ok {
			if convID, ok := conv["conversationId"].(string); ok && convID != "" {
				c.grokConvID = convID
			}
		}

		if llm, ok := resp["llmInfo"].(map[string]interface{}); ok && c.fingerprint == "" {
			if hash, ok := llm["modelHash"].(string); ok {
				c.fingerprint = hash
			}
		}

		mr, ok := resp["modelResponse"].(map[string]interface{})
		if !ok {
			continue
		}

		if rid, ok := mr["responseId"].(string); ok && rid != "" {
			c.responseID = rid
		}
		if msg, ok := mr["message"].(string); ok {
			content.Reset()
			content.WriteString(msg)
		}

		renderCardAttachments(mr, &content)

		for _, url := range stream.CollectImages(mr) {
			rendered, err := c.dl.RenderImage(ctx, url, c.cfg.Token, stream.ImageIDFromURL(url))
			if err != nil {
				continue
			}
			content.WriteString("\n")
			content.WriteString(rendered)
			content.WriteString("\n")
		}

		if meta, ok := mr["metadata"].(map[string]interface{}); ok {
			if llmInfo, ok := meta["llm_info"].(map[string]interface{}); ok {
				if hash, ok := llmInfo["modelHash"].(string); ok && hash != "" {
					c.fingerprint = hash
				}
			}
		}
	}

	finalContent := c.filterContent(content.String())

	return map[string]interface{}{
		"id":                 c.responseID,
		"object":             "chat.completion",
		"created":            c.created,
		"model":              c.cfg.Model,
		"system_fingerprint": c.fingerprint,
		"choices": []interface{}{
			map[string]interface{}{
				"index": 0,
				"message": map[string]interface{}{
					"role":        "assistant",
					"content":     finalContent,
					"refusal":     nil,
					"annotations": []interface{}{},
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]interface{}{
			"prompt_tokens":     0,
			"completion_tokens": 0,
			"total_tokens":      0,
			"prompt_tokens_details": map[string]interface{}{
				"cached_tokens": 0,
				"text_tokens":   0,
				"audio_tokens":  0,
				"image_tokens":  0,
			},
			"completion_tokens_details": map[string]interface{}{
				"text_tokens":      0,
				"audio_tokens":     0,
				"reasoning_tokens": 0,
			},
		},
	}
}

func isCleanFinish(err error) bool {
	return err.Error() == "EOF"
}

// renderCardAttachments substitutes <grok:render card_id="..."> spans in
// content with markdown image links sourced from mr.cardAttachmentsJson,
// ported from CollectProcessor.process's _render_card closure including
// its "insert a leading newline unless the preceding character already
// is one" rule.
func renderCardAttachments(mr map[string]interface{}, content *strings.Builder) {
	raws, _ := mr["cardAttachmentsJson"].([]interface{})
	if len(raws) == 0 || content.Len() == 0 {
		return
	}

	cards := map[string][2]string{} // id -> [title, original]
	for _, r := range raws {
		s, ok := r.(string)
		if !ok || strings.TrimSpace(s) == "" {
			continue
		}
		var cardData map[string]interface{}
		if json.Unmarshal([]byte(s), &cardData) != nil {
			continue
		}
		id, _ := cardData["id"].(string)
		image, _ := cardData["image"].(map[string]interface{})
		original, _ := image["original"].(string)
		if id == "" || original == "" {
			continue
		}
		title, _ := image["title"].(string)
		cards[id] = [2]string{title, original}
	}
	if len(cards) == 0 {
		return
	}

	original := content.String()
	out := renderCardRe.ReplaceAllStringFunc(original, func(match string) string {
		sub := renderCardRe.FindStringSubmatch(match)
		item, ok := cards[sub[1]]
		if !ok {
			return ""
		}
		title, url := item[0], item[1]
		titleSafe := strings.TrimSpace(strings.ReplaceAll(title, "\n", " "))
		if titleSafe == "" {
			titleSafe = "image"
		}
		idx := strings.Index(original, match)
		prefix := ""
		if idx > 0 && original[idx-1] != '\n' && original[idx-1] != '\r' {
			prefix = "\n"
		}
		return prefix + "![" + titleSafe + "](" + url + ")"
	})

	content.Reset()
	content.WriteString(out)
}

// filterContent ports CollectProcessor._filter_content: a bulk regex
// pass removes tool-usage cards (rendering each to a label line first,
// scraping a leading <rolloutId> if present), then a blanket tag-
// stripping regex removes any other configured tag's span.
func (c *Collector) filterContent(content string) string {
	if content == "" || len(c.cfg.FilterTags) == 0 {
		return content
	}

	result := content
	if c.cfg.toolUsageEnabled() {
		rolloutID := ""
		if m := rolloutIDRe.FindStringSubmatch(result); m != nil {
			rolloutID = strings.TrimSpace(m[1])
		}
		result = toolUsageCardRe.ReplaceAllStringFunc(result, func(card string) string {
			if label := stream.ExtractToolText(card, rolloutID); label != "" {
				return label + "\n"
			}
			return ""
		})
	}

	for _, tag := range c.cfg.FilterTags {
		if tag == "xai:tool_usage_card" {
			continue
		}
		escaped := regexp.QuoteMeta(tag)
		pattern := regexp.MustCompile(`(?s)<` + escaped + `[^>]*>.*?</` + escaped + `>|<` + escaped + `[^>]*/>`)
		result = pattern.ReplaceAllString(result, "")
	}

	return result
}
