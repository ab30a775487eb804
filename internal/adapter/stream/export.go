package stream

// The Collector (internal/adapter/collector) shares this package's line-
// timeout wrapper, line normalization, image collection, and tool-text
// extraction rather than re-implementing them, since CollectProcessor
// and StreamProcessor both call into the exact same helpers in
// original_source/app/services/grok/utils/process.py and chat.py. These
// thin exported wrappers are the seam; the unexported names stay the
// primary API within this package.

// NewTimeoutReader wraps src with the three-tier read-timeout policy
// described on timeoutReader.
func NewTimeoutReader(src LineSource, cfg TimeoutConfig) *timeoutReader {
	return newTimeoutReader(src, cfg)
}

// NormalizeLine strips an SSE "data:" prefix and blank/[DONE] lines.
func NormalizeLine(line string) string {
	return normalizeLine(line)
}

// CollectImages recursively gathers image URLs from a decoded upstream
// event, deduplicated in first-seen order.
func CollectImages(obj interface{}) []string {
	return collectImages(obj)
}

// ImageIDFromURL extracts the download-service image id from a
// rendered asset URL.
func ImageIDFromURL(url string) string {
	return imageIDFromURL(url)
}

// ExtractToolText renders a <xai:tool_usage_card> span into a short
// human-readable label line.
func ExtractToolText(raw, rolloutID string) string {
	return extractToolText(raw, rolloutID)
}
