package retry

import (
	"encoding/json"

	"github.com/thushan/olla/internal/core/domain"
)

// Classification is what the orchestrator decides to do after a failed
// attempt, mirroring the four branches in original_source/app/services/
// grok/utils/retry.py and spec.md §4.D.
type Classification int

const (
	ClassifyRateLimited Classification = iota
	ClassifyAuthInvalid
	ClassifyRetryableError
	ClassifySurfaceImmediately
)

// Classify maps an UpstreamError (or the absence of one, for non-
// upstream errors) to a Classification. A nil uerr models
// "non-upstream error → surface immediately" (§4.D last bullet).
func Classify(uerr *domain.UpstreamError, genericErr error) Classification {
	if uerr == nil {
		return ClassifySurfaceImmediately
	}
	if RateLimited(uerr) {
		return ClassifyRateLimited
	}
	if uerr.Status == 401 || uerr.Status == 403 {
		return ClassifyAuthInvalid
	}
	if uerr.Status >= 500 || uerr.Status == 0 {
		return ClassifyRetryableError
	}
	return ClassifySurfaceImmediately
}

// RateLimited ports rate_limited(e) from grok/utils/retry.py: true on
// HTTP 429 or an explicit rate_limit_exceeded error code.
func RateLimited(uerr *domain.UpstreamError) bool {
	if uerr == nil {
		return false
	}
	return uerr.Status == 429 || uerr.ErrorCode == "rate_limit_exceeded"
}

// HasQuota ports rate_limit_has_quota(e): true when the upstream's
// remainingTokens/remainingQueries fields (taken from RemainingReq/
// RemainingQuer when set, falling back to the JSON body) indicate
// quota > 0 or unknown (-1).
func HasQuota(uerr *domain.UpstreamError) bool {
	if uerr == nil {
		return false
	}
	if uerr.RemainingReq != nil {
		return *uerr.RemainingReq > 0 || *uerr.RemainingReq == domain.UnknownQuota
	}
	if uerr.RemainingQuer != nil {
		return *uerr.RemainingQuer > 0 || *uerr.RemainingQuer == domain.UnknownQuota
	}
	var body struct {
		RemainingTokens  *int `json:"remainingTokens"`
		RemainingQueries *int `json:"remainingQueries"`
	}
	if json.Unmarshal([]byte(uerr.Body), &body) == nil {
		if body.RemainingTokens != nil {
			return *body.RemainingTokens > 0 || *body.RemainingTokens == domain.UnknownQuota
		}
		if body.RemainingQueries != nil {
			return *body.RemainingQueries > 0 || *body.RemainingQueries == domain.UnknownQuota
		}
	}
	// Neither field present: treat as "has quota, throttled" per §4.A's
	// 429-with-quota branch being the more common upstream shape.
	return true
}

// ExtractStatusCode ports extract_status_code(e): prefers the explicit
// status on the error, never treats 0 as a meaningful code.
func ExtractStatusCode(uerr *domain.UpstreamError) (int, bool) {
	if uerr == nil || uerr.Status == 0 {
		return 0, false
	}
	return uerr.Status, true
}
