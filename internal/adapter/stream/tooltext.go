package stream

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	toolNameRe = regexp.MustCompile(`(?s)<xai:tool_name>(.*?)</xai:tool_name>`)
	toolArgsRe = regexp.MustCompile(`(?s)<xai:tool_args>(.*?)</xai:tool_args>`)
	cdataRe    = regexp.MustCompile(`(?s)<!\[CDATA\[(.*?)\]\]>`)
	anyTagRe   = regexp.MustCompile(`(?s)<[^>]+>`)
)

func stripCDATA(s string) string {
	return cdataRe.ReplaceAllString(s, "$1")
}

// extractToolText ports extract_tool_text: renders a
// <xai:tool_usage_card> payload's name/args into a short human-readable
// label (e.g. "[rollout][WebSearch] query text"); an unrecognised tool
// name is used as the label as-is, and a tag-stripped version of the raw
// card is returned only when neither a label nor any text can be
// extracted. Shared verbatim between the Stream Processor's incremental
// buffering and the Collector's bulk regex substitution (§4.F/§4.G).
func extractToolText(raw, rolloutID string) string {
	if raw == "" {
		return ""
	}

	name := ""
	if m := toolNameRe.FindStringSubmatch(raw); m != nil {
		name = strings.TrimSpace(stripCDATA(m[1]))
	}
	args := ""
	if m := toolArgsRe.FindStringSubmatch(raw); m != nil {
		args = strings.TrimSpace(stripCDATA(m[1]))
	}

	var payload map[string]interface{}
	if args != "" {
		_ = json.Unmarshal([]byte(args), &payload)
	}

	label := name
	text := args
	prefix := ""
	if rolloutID != "" {
		prefix = "[" + rolloutID + "]"
	}

	switch name {
	case "web_search":
		label = prefix + "[WebSearch]"
		text = stringField(payload, "query", "q")
	case "search_images":
		label = prefix + "[SearchImage]"
		text = stringField(payload, "image_description", "description", "query")
	case "chatroom_send":
		label = prefix + "[AgentThink]"
		text = stringField(payload, "message")
	}

	switch {
	case label != "" && text != "":
		return strings.TrimSpace(label + " " + text)
	case label != "":
		return label
	case text != "":
		return text
	default:
		return strings.TrimSpace(anyTagRe.ReplaceAllString(raw, ""))
	}
}

func stringField(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}
