// Package stream processes the upstream's raw SSE/NDJSON line stream
// into OpenAI-compatible chat-completion chunks (§4.F), ported from
// original_source/app/services/grok/utils/process.py's
// _with_stream_timeouts/_normalize_line/_collect_images/_is_http2_error
// and services/chat.py's StreamProcessor (see SPEC_FULL.md §11).
package stream

import (
	"strings"
	"time"

	"github.com/thushan/olla/internal/core/domain"
)

// LineSource is the pull interface the upstream Client's Lines type
// satisfies; kept narrow so this package never imports
// internal/adapter/upstream directly.
type LineSource interface {
	Next() (string, error)
	Close() error
}

// TimeoutConfig mirrors _with_stream_timeouts's keyword arguments; a
// zero value disables the corresponding tier, matching the Python
// default of 0.0.
type TimeoutConfig struct {
	First time.Duration
	Idle  time.Duration
	Total time.Duration
}

func (c TimeoutConfig) enabled() bool {
	return c.First > 0 || c.Idle > 0 || c.Total > 0
}

// timeoutReader wraps a LineSource with the three-tier timeout policy:
// a first-response deadline, a per-line idle deadline once streaming
// has started, and a total-duration ceiling checked ahead of every
// read. Priority on expiry matches the Python original exactly: total
// over first over idle.
type timeoutReader struct {
	src     LineSource
	cfg     TimeoutConfig
	start   time.Time
	isFirst bool
}

func newTimeoutReader(src LineSource, cfg TimeoutConfig) *timeoutReader {
	return &timeoutReader{src: src, cfg: cfg, start: time.Now(), isFirst: true}
}

type readResult struct {
	line string
	err  error
}

// Next returns the next line, or one of *domain.StreamTimeoutError
// (Tier First/Idle/Total) when a deadline expires before the
// underlying read completes. The underlying read is not aborted on
// timeout (the caller is expected to Close the source), mirroring the
// Python original's best-effort aclose() on the async iterator.
func (r *timeoutReader) Next() (string, error) {
	if !r.cfg.enabled() {
		return r.src.Next()
	}

	var stageTimeout time.Duration
	if r.isFirst && r.cfg.First > 0 {
		stageTimeout = r.cfg.First
	} else if r.cfg.Idle > 0 {
		stageTimeout = r.cfg.Idle
	}

	var totalRemaining time.Duration
	totalIsLimit := false
	if r.cfg.Total > 0 {
		totalRemaining = r.cfg.Total - time.Since(r.start)
		if totalRemaining <= 0 {
			return "", &domain.StreamTimeoutError{Tier: domain.TimeoutTotal, Seconds: r.cfg.Total.Seconds()}
		}
	}

	effective := stageTimeout
	if r.cfg.Total > 0 {
		if effective <= 0 || totalRemaining < effective {
			effective = totalRemaining
			totalIsLimit = true
		}
	}

	ch := make(chan readResult, 1)
	go func() {
		line, err := r.src.Next()
		ch <- readResult{line: line, err: err}
	}()

	if effective <= 0 {
		res := <-ch
		if res.err == nil {
			r.isFirst = false
		}
		return res.line, res.err
	}

	timer := time.NewTimer(effective)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err == nil {
			r.isFirst = false
		}
		return res.line, res.err
	case <-timer.C:
		switch {
		case totalIsLimit && r.cfg.Total > 0:
			return "", &domain.StreamTimeoutError{Tier: domain.TimeoutTotal, Seconds: r.cfg.Total.Seconds()}
		case r.isFirst && r.cfg.First > 0:
			return "", &domain.StreamTimeoutError{Tier: domain.TimeoutFirst, Seconds: r.cfg.First.Seconds()}
		default:
			return "", &domain.StreamTimeoutError{Tier: domain.TimeoutIdle, Seconds: r.cfg.Idle.Seconds()}
		}
	}
}

// normalizeLine ports _normalize_line: trims whitespace, strips an SSE
// "data:" prefix, and returns "" for blank lines or the [DONE]
// sentinel so the caller can skip them uniformly.
func normalizeLine(line string) string {
	text := strings.TrimSpace(line)
	if text == "" {
		return ""
	}
	if strings.HasPrefix(text, "data:") {
		text = strings.TrimSpace(text[len("data:"):])
	}
	if text == "[DONE]" {
		return ""
	}
	return text
}

// isHTTP2Error ports _is_http2_error's crude substring heuristic for
// classifying a transport-level read failure as an HTTP/2 stream reset
// rather than a generic connection error.
func isHTTP2Error(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "http/2") || strings.Contains(s, "curl: (92)") || strings.Contains(s, "stream")
}
