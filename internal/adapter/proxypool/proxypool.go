// Package proxypool serves a current egress proxy URL, refreshing it on
// a schedule or on demand after an upstream 403 (§4.B), ported from
// original_source/app/services/proxy_pool.py (see SPEC_FULL.md §11).
package proxypool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

type Config struct {
	StaticBaseProxyURL  string
	StaticAssetProxyURL string
	PoolURL             string
	RefreshInterval     time.Duration
	Pool403Max          int
	UserAgent           string
}

func (c Config) withDefaults() Config {
	if c.RefreshInterval == 0 {
		c.RefreshInterval = 300 * time.Second
	}
	if c.Pool403Max == 0 {
		c.Pool403Max = 5
	}
	if c.UserAgent == "" {
		c.UserAgent = "gateway-proxy-pool"
	}
	return c
}

// Pool serves the current proxy per §4.B's get(for_asset) semantics and
// exposes Refresh/Current for the background refresh loop and the
// retry orchestrator's on-403 rotation.
type Pool struct {
	cfg Config
	log *slog.Logger

	mu          sync.Mutex
	current     string
	lastRefresh time.Time

	refreshMu sync.Mutex

	client *http.Client
}

func New(cfg Config, log *slog.Logger) *Pool {
	return &Pool{
		cfg: cfg.withDefaults(),
		log: log,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Get ports get_proxy(for_asset): asset requests prefer a dedicated
// static proxy when configured; otherwise refresh-if-stale then fall
// back to the static base proxy.
func (p *Pool) Get(ctx context.Context, forAsset bool) (string, error) {
	if forAsset && p.cfg.StaticAssetProxyURL != "" {
		return p.cfg.StaticAssetProxyURL, nil
	}
	if p.cfg.PoolURL == "" {
		return p.cfg.StaticBaseProxyURL, nil
	}
	if p.shouldRefresh() {
		_, _ = p.Refresh(ctx, false)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != "" {
		return p.current, nil
	}
	return p.cfg.StaticBaseProxyURL, nil
}

func (p *Pool) shouldRefresh() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == "" {
		return true
	}
	return time.Since(p.lastRefresh) >= p.cfg.RefreshInterval
}

// Refresh fetches the pool URL and normalises the result, atomically
// swapping current on success and keeping the previous value on
// failure (§4.B). Concurrent calls are serialised, so a caller that
// waited behind another's fetch sees its fresh result instead of
// fetching again.
func (p *Pool) Refresh(ctx context.Context, force bool) (string, error) {
	if p.cfg.PoolURL == "" {
		return "", nil
	}
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()
	if !force && !p.shouldRefresh() {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.current, nil
	}

	proxy, err := p.fetch(ctx)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastRefresh = time.Now()
	if err != nil {
		if p.log != nil {
			p.log.Warn("proxy pool refresh error", "error", err)
		}
		return p.current, nil
	}
	if proxy == "" {
		if p.log != nil {
			p.log.Warn("proxy pool returned no valid proxy; keeping previous")
		}
		return p.current, nil
	}
	if proxy != p.current && p.log != nil {
		p.log.Info("proxy pool switched proxy", "proxy", proxy)
	}
	p.current = proxy
	return p.current, nil
}

func (p *Pool) fetch(ctx context.Context) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, p.cfg.PoolURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("proxy pool fetch failed: status=%d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return "", nil
	}
	if proxy := extractProxy(text); proxy != "" {
		return proxy, nil
	}
	return normalizeProxy(text), nil
}

// Current returns the in-memory proxy without triggering a network call
// (fast path for sync contexts, e.g. websocket connect setup).
func (p *Pool) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != "" {
		return p.current
	}
	return p.cfg.StaticBaseProxyURL
}

var validSchemes = []string{"http://", "https://", "socks5://", "socks5h://", "socks4://", "socks4a://"}

// normalizeProxy ports _normalize_proxy: first line only, defaults the
// scheme to http, rejects anything without a recognised scheme.
func normalizeProxy(value string) string {
	candidate := strings.TrimSpace(value)
	if candidate == "" {
		return ""
	}
	if idx := strings.IndexAny(candidate, "\r\n"); idx >= 0 {
		candidate = strings.TrimSpace(candidate[:idx])
	}
	if candidate == "" {
		return ""
	}
	if !strings.Contains(candidate, "//") {
		candidate = "http://" + candidate
	}
	for _, scheme := range validSchemes {
		if strings.HasPrefix(candidate, scheme) {
			if _, err := url.Parse(candidate); err == nil {
				return candidate
			}
			return ""
		}
	}
	return ""
}

// extractProxy ports _extract_proxy: tries the text as a plain proxy
// string first, then as a JSON payload (string/list/dict with known
// key names), recursively.
func extractProxy(text string) string {
	if normalized := normalizeProxy(text); normalized != "" {
		return normalized
	}

	var generic interface{}
	if err := json.Unmarshal([]byte(text), &generic); err != nil {
		return ""
	}
	return extractProxyValue(generic)
}

func extractProxyValue(payload interface{}) string {
	switch v := payload.(type) {
	case string:
		return extractProxy(v)
	case []interface{}:
		for _, item := range v {
			if proxy := extractProxyValue(item); proxy != "" {
				return proxy
			}
		}
	case map[string]interface{}:
		for _, key := range []string{"proxy", "proxy_url", "url", "http", "https", "result", "data", "ip"} {
			if val, ok := v[key]; ok {
				if proxy := extractProxyValue(val); proxy != "" {
					return proxy
				}
			}
		}
	}
	return ""
}

// BuildProxies returns http/https proxy URLs for a transport, mirroring
// build_proxies — nil when the normalized proxy is empty.
func BuildProxies(proxyURL string) map[string]string {
	normalized := normalizeProxy(proxyURL)
	if normalized == "" {
		return nil
	}
	return map[string]string{"http": normalized, "https": normalized}
}
