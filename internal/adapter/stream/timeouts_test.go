package stream

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/thushan/olla/internal/core/domain"
)

// fakeSource yields lines with a fixed delay per line, simulating an
// upstream that stalls.
type fakeSource struct {
	lines []string
	delay time.Duration
	idx   int
}

func (f *fakeSource) Next() (string, error) {
	if f.idx >= len(f.lines) {
		return "", io.EOF
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	line := f.lines[f.idx]
	f.idx++
	return line, nil
}

func (f *fakeSource) Close() error { return nil }

func TestTimeoutReader_DisabledPassesThrough(t *testing.T) {
	src := &fakeSource{lines: []string{"a", "b"}}
	r := newTimeoutReader(src, TimeoutConfig{})

	line, err := r.Next()
	if err != nil || line != "a" {
		t.Fatalf("expected passthrough, got %q err=%v", line, err)
	}
}

func TestTimeoutReader_FirstTimeoutFiresBeforeFirstLine(t *testing.T) {
	src := &fakeSource{lines: []string{"a"}, delay: 50 * time.Millisecond}
	r := newTimeoutReader(src, TimeoutConfig{First: 10 * time.Millisecond})

	_, err := r.Next()
	var ste *domain.StreamTimeoutError
	if !errors.As(err, &ste) || ste.Tier != domain.TimeoutFirst {
		t.Fatalf("expected first-tier timeout, got %v", err)
	}
}

func TestTimeoutReader_IdleTimeoutAfterFirstLine(t *testing.T) {
	src := &fakeSource{lines: []string{"a", "b"}, delay: 5 * time.Millisecond}
	r := newTimeoutReader(src, TimeoutConfig{Idle: 200 * time.Millisecond})

	if _, err := r.Next(); err != nil {
		t.Fatalf("unexpected error on first line: %v", err)
	}
	src.delay = 500 * time.Millisecond
	_, err := r.Next()
	var ste *domain.StreamTimeoutError
	if !errors.As(err, &ste) || ste.Tier != domain.TimeoutIdle {
		t.Fatalf("expected idle-tier timeout, got %v", err)
	}
}

func TestTimeoutReader_TotalTimeoutTakesPriority(t *testing.T) {
	src := &fakeSource{lines: []string{"a"}, delay: 50 * time.Millisecond}
	r := newTimeoutReader(src, TimeoutConfig{First: 5 * time.Second, Total: 10 * time.Millisecond})

	_, err := r.Next()
	var ste *domain.StreamTimeoutError
	if !errors.As(err, &ste) || ste.Tier != domain.TimeoutTotal {
		t.Fatalf("expected total-tier timeout to pre-empt first, got %v", err)
	}
}

func TestNormalizeLine_StripsDataPrefixAndDone(t *testing.T) {
	if got := normalizeLine("data: {\"a\":1}"); got != `{"a":1}` {
		t.Fatalf("expected data: prefix stripped, got %q", got)
	}
	if got := normalizeLine("data: [DONE]"); got != "" {
		t.Fatalf("expected [DONE] dropped, got %q", got)
	}
	if got := normalizeLine("   "); got != "" {
		t.Fatalf("expected blank line dropped, got %q", got)
	}
}

func TestIsHTTP2Error_MatchesKnownSubstrings(t *testing.T) {
	if !isHTTP2Error(errors.New("curl: (92) HTTP/2 stream error")) {
		t.Fatalf("expected match")
	}
	if isHTTP2Error(errors.New("connection refused")) {
		t.Fatalf("expected no match")
	}
}
