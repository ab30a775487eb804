package proxypool

import (
	"context"
	"log/slog"
)

// StatusGetter is implemented by any response-like value the request
// function returns, so RequestWithRetry can inspect its status without
// depending on a concrete HTTP response type.
type StatusGetter interface {
	StatusCode() int
}

// RequestFunc issues one attempt using the given proxy and attempt
// index, mirroring _do_request(proxy_url, proxies, attempt) in
// proxy_pool.py.
type RequestFunc func(ctx context.Context, proxyURL string, proxies map[string]string, attempt int) (StatusGetter, error)

// RequestWithRetry ports request_with_proxy_retry: retries on HTTP 403
// by forcing a proxy rotation, up to Pool403Max attempts total (1
// attempt if no pool URL is configured), per §4.B.
func RequestWithRetry(ctx context.Context, pool *Pool, log *slog.Logger, fn RequestFunc) (StatusGetter, error) {
	attempts := 1
	if pool.cfg.PoolURL != "" {
		attempts = pool.cfg.Pool403Max
	}

	var lastResp StatusGetter
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		proxyURL, _ := pool.Get(ctx, false)
		proxies := BuildProxies(proxyURL)

		resp, err := fn(ctx, proxyURL, proxies, attempt)
		lastResp, lastErr = resp, err
		if err != nil {
			return resp, err
		}
		if resp == nil || resp.StatusCode() != 403 {
			return resp, nil
		}
		if attempt >= attempts-1 {
			return resp, nil
		}
		if log != nil {
			log.Warn("upstream 403, rotating proxy", "attempt", attempt+1, "max", attempts, "proxy", proxyURL)
		}
		_, _ = pool.Refresh(ctx, true)
	}
	return lastResp, lastErr
}
