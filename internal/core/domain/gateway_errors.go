package domain

import (
	"fmt"
	"time"
)

// GatewayError is implemented by every error kind in the taxonomy (§7);
// HTTPStatus pins the status code a central handler renders it as,
// following the teacher's NewProxyError constructor-with-context idiom.
type GatewayError interface {
	error
	HTTPStatus() int
}

type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string   { return fmt.Sprintf("validation error: %s", e.Detail) }
func (e *ValidationError) HTTPStatus() int  { return 400 }

type AuthError struct {
	Detail string
}

func (e *AuthError) Error() string  { return fmt.Sprintf("auth error: %s", e.Detail) }
func (e *AuthError) HTTPStatus() int { return 401 }

// UpstreamError carries the raw upstream response so the orchestrator can
// classify it (§4.D). RemainingReq/RemainingQuer, when set, take
// precedence over the remainingTokens/remainingQueries fields of the JSON
// Body for rate-limit quota; upstream.Client sets only Status and Body.
type UpstreamError struct {
	Status        int
	Body          string
	ErrorCode     string
	RemainingReq  *int
	RemainingQuer *int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error: status=%d code=%s body=%s", e.Status, e.ErrorCode, e.Body)
}
func (e *UpstreamError) HTTPStatus() int { return e.Status }

// RateLimitError is synthesised after token exhaustion (§4.D "on
// exhaustion, raise a synthetic no-available-tokens error").
type RateLimitError struct {
	Code string
}

func (e *RateLimitError) Error() string {
	if e.Code == "" {
		return "rate limit exceeded: no available tokens"
	}
	return fmt.Sprintf("rate limit exceeded: %s", e.Code)
}
func (e *RateLimitError) HTTPStatus() int { return 429 }

// StreamTimeoutTier names which of the three tiers expired (§4.F, §7).
type StreamTimeoutTier string

const (
	TimeoutFirst StreamTimeoutTier = "first"
	TimeoutIdle  StreamTimeoutTier = "idle"
	TimeoutTotal StreamTimeoutTier = "total"
)

type StreamTimeoutError struct {
	Tier    StreamTimeoutTier
	Seconds float64
}

func (e *StreamTimeoutError) Error() string {
	return fmt.Sprintf("stream_%s_timeout after %.1fs", e.Tier, e.Seconds)
}
func (e *StreamTimeoutError) HTTPStatus() int { return 504 }

// DetailType returns the discriminator original_source uses in
// details.type (stream_first_timeout / stream_idle_timeout /
// stream_total_timeout), see SPEC_FULL.md §11.
func (e *StreamTimeoutError) DetailType() string {
	return fmt.Sprintf("stream_%s_timeout", e.Tier)
}

type CircuitBreakerOpenError struct {
	Upstream string
	Until    time.Time
}

func (e *CircuitBreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %s until %s", e.Upstream, e.Until.Format(time.RFC3339))
}
func (e *CircuitBreakerOpenError) HTTPStatus() int { return 503 }

// HTTP2StreamError maps transport-level stream errors detected via a
// crude substring check (see original_source's _is_http2_error) to 502.
type HTTP2StreamError struct {
	Err error
}

func (e *HTTP2StreamError) Error() string  { return fmt.Sprintf("http2_stream_error: %v", e.Err) }
func (e *HTTP2StreamError) HTTPStatus() int { return 502 }
func (e *HTTP2StreamError) Unwrap() error   { return e.Err }

type InternalError struct {
	Err error
}

func (e *InternalError) Error() string   { return fmt.Sprintf("internal error: %v", e.Err) }
func (e *InternalError) HTTPStatus() int { return 500 }
func (e *InternalError) Unwrap() error   { return e.Err }
