package collector

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"
)

type sliceSource struct {
	lines []string
	idx   int
}

func (s *sliceSource) Next() (string, error) {
	if s.idx >= len(s.lines) {
		return "", io.EOF
	}
	line := s.lines[s.idx]
	s.idx++
	return line, nil
}
func (s *sliceSource) Close() error { return nil }

type noopDownloader struct{}

func (noopDownloader) RenderImage(ctx context.Context, url, token, imageID string) (string, error) {
	return "![" + imageID + "](" + url + ")", nil
}

func TestCollector_AssemblesMessageAndStopsOnEOF(t *testing.T) {
	src := &sliceSource{lines: []string{
		`{"result":{"response":{"modelResponse":{"responseId":"r1","message":"hello world"}}}}`,
	}}
	c := New(Config{Model: "grok-4"}, noopDownloader{}, time.Unix(0, 0), nil)

	got := c.Collect(context.Background(), src)
	if got["id"] != "r1" {
		t.Fatalf("expected id r1, got %v", got["id"])
	}
	choice := got["choices"].([]interface{})[0].(map[string]interface{})
	msg := choice["message"].(map[string]interface{})
	if msg["content"] != "hello world" {
		t.Fatalf("expected content 'hello world', got %v", msg["content"])
	}
	if choice["finish_reason"] != "stop" {
		t.Fatalf("expected finish_reason stop, got %v", choice["finish_reason"])
	}
}

func TestCollector_LaterModelResponseOverwritesContent(t *testing.T) {
	src := &sliceSource{lines: []string{
		`{"result":{"response":{"modelResponse":{"responseId":"r1","message":"partial"}}}}`,
		`{"result":{"response":{"modelResponse":{"responseId":"r2","message":"final"}}}}`,
	}}
	c := New(Config{Model: "grok-4"}, noopDownloader{}, time.Unix(0, 0), nil)

	got := c.Collect(context.Background(), src)
	choice := got["choices"].([]interface{})[0].(map[string]interface{})
	msg := choice["message"].(map[string]interface{})
	if msg["content"] != "final" {
		t.Fatalf("expected last modelResponse.message to win, got %v", msg["content"])
	}
	if got["id"] != "r2" {
		t.Fatalf("expected last responseId to win, got %v", got["id"])
	}
}

func TestCollector_FingerprintPrecedence_TerminalOverridesEarlier(t *testing.T) {
	src := &sliceSource{lines: []string{
		`{"result":{"response":{"llmInfo":{"modelHash":"early"},"modelResponse":{"message":"x"}}}}`,
		`{"result":{"response":{"modelResponse":{"message":"x","metadata":{"llm_info":{"modelHash":"final"}}}}}}`,
	}}
	c := New(Config{Model: "grok-4"}, noopDownloader{}, time.Unix(0, 0), nil)

	got := c.Collect(context.Background(), src)
	if got["system_fingerprint"] != "final" {
		t.Fatalf("expected terminal modelHash to win, got %v", got["system_fingerprint"])
	}
}

func TestCollector_FilterContent_RendersToolUsageCardLabel(t *testing.T) {
	src := &sliceSource{lines: []string{
		`{"result":{"response":{"modelResponse":{"message":"before <xai:tool_usage_card><xai:tool_name>web_search</xai:tool_name><xai:tool_args>{\"query\":\"weather\"}</xai:tool_args></xai:tool_usage_card> after"}}}}`,
	}}
	c := New(Config{Model: "grok-4", FilterTags: []string{"xai:tool_usage_card"}}, noopDownloader{}, time.Unix(0, 0), nil)

	got := c.Collect(context.Background(), src)
	choice := got["choices"].([]interface{})[0].(map[string]interface{})
	content := choice["message"].(map[string]interface{})["content"].(string)
	if !strings.Contains(content, "[WebSearch] weather") {
		t.Fatalf("expected rendered tool label, got %q", content)
	}
	if strings.Contains(content, "<xai:tool_usage_card") {
		t.Fatalf("expected raw tag stripped, got %q", content)
	}
}

func TestCollector_FilterContent_StripsOtherConfiguredTags(t *testing.T) {
	src := &sliceSource{lines: []string{
		`{"result":{"response":{"modelResponse":{"message":"keep <debug>drop me</debug> keep"}}}}`,
	}}
	c := New(Config{Model: "grok-4", FilterTags: []string{"debug"}}, noopDownloader{}, time.Unix(0, 0), nil)

	got := c.Collect(context.Background(), src)
	choice := got["choices"].([]interface{})[0].(map[string]interface{})
	content := choice["message"].(map[string]interface{})["content"].(string)
	if strings.Contains(content, "drop me") || strings.Contains(content, "<debug>") {
		t.Fatalf("expected <debug> span stripped, got %q", content)
	}
	if !strings.Contains(content, "keep") {
		t.Fatalf("expected surrounding text preserved, got %q", content)
	}
}

func TestCollector_RendersCardAttachmentAsMarkdownImage(t *testing.T) {
	src := &sliceSource{lines: []string{
		`{"result":{"response":{"modelResponse":{` +
			`"message":"look: <grok:render card_id=\"c1\">ignored body</grok:render>",` +
			`"cardAttachmentsJson":["{\"id\":\"c1\",\"image\":{\"original\":\"https://x/full.png\",\"title\":\"a cat\"}}"]` +
			`}}}}`,
	}}
	c := New(Config{Model: "grok-4"}, noopDownloader{}, time.Unix(0, 0), nil)

	got := c.Collect(context.Background(), src)
	choice := got["choices"].([]interface{})[0].(map[string]interface{})
	content := choice["message"].(map[string]interface{})["content"].(string)
	if !strings.Contains(content, "![a cat](https://x/full.png)") {
		t.Fatalf("expected rendered card image, got %q", content)
	}
	if strings.Contains(content, "<grok:render") {
		t.Fatalf("expected render tag replaced, got %q", content)
	}
}

func TestCollector_ZeroUsageShape(t *testing.T) {
	c := New(Config{Model: "grok-4"}, noopDownloader{}, time.Unix(0, 0), nil)
	got := c.Collect(context.Background(), &sliceSource{})

	usage := got["usage"].(map[string]interface{})
	if usage["total_tokens"] != 0 {
		t.Fatalf("expected zero-valued usage, got %v", usage)
	}
	details := usage["prompt_tokens_details"].(map[string]interface{})
	if details["cached_tokens"] != 0 {
		t.Fatalf("expected zero-valued prompt_tokens_details, got %v", details)
	}
}
