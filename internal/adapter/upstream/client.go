package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/thushan/olla/internal/core/domain"
)

const (
	chatAPI         = "https://grok.com/rest/app-chat/conversations/new"
	chatContinueAPI = "https://grok.com/rest/app-chat/conversations/%s/responses"
	chatShareAPI    = "https://grok.com/rest/app-chat/conversations/%s/share"
	chatCloneAPI    = "https://grok.com/rest/app-chat/share_links/%s/clone"

	// transport tuning mirrors the teacher's sherpa proxy DefaultXxx
	// constants, tuned for low-latency token streaming rather than bulk
	// throughput.
	defaultMaxIdleConns        = 20
	defaultMaxIdleConnsPerHost = 5
	defaultIdleConnTimeout     = 90 * time.Second
	defaultTLSHandshakeTimeout = 10 * time.Second
	defaultDialTimeout         = 60 * time.Second
	defaultKeepAlive           = 60 * time.Second
)

// Config selects the impersonated browser profile and per-call timeout
// ceiling (§4.C "a named browser profile" and the max(chat, video,
// image).timeout precedence ported from app_chat.py's request()).
type Config struct {
	BrowserProfile string
	Timeout        time.Duration
	Origin         string
	Referer        string
}

func (c Config) withDefaults() Config {
	if c.BrowserProfile == "" {
		c.BrowserProfile = "chrome136"
	}
	if c.Timeout == 0 {
		c.Timeout = 120 * time.Second
	}
	if c.Origin == "" {
		c.Origin = "https://grok.com"
	}
	if c.Referer == "" {
		c.Referer = "https://grok.com/"
	}
	return c
}

// Client impersonates a browser session against the upstream's private
// app-chat endpoints (§4.C), ported from AppChatReverse in
// original_source/app/services/reverse/app_chat.py. One Client is shared
// across requests; the transport's connection pool is the only
// per-process state it owns.
type Client struct {
	cfg     Config
	profile BrowserProfile
	http    *http.Client
	log     *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Client {
	cfg = cfg.withDefaults()
	profile := GetBrowserProfile(cfg.BrowserProfile)

	transport := &http.Transport{
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		IdleConnTimeout:     defaultIdleConnTimeout,
		TLSHandshakeTimeout: defaultTLSHandshakeTimeout,
		TLSClientConfig:     profile.TLSConfig(),
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{
				Timeout:   defaultDialTimeout,
				KeepAlive: defaultKeepAlive,
			}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if tcpConn, ok := conn.(*net.TCPConn); ok {
				if terr := tcpConn.SetNoDelay(true); terr != nil && log != nil {
					log.Warn("failed to set NoDelay", "err", terr)
				}
			}
			return conn, nil
		},
	}

	return &Client{
		cfg:     cfg,
		profile: profile,
		http:    &http.Client{Transport: transport},
		log:     log,
	}
}

// WithProxyURL returns a shallow copy of the client whose transport
// routes through the given proxy, used per-request by the retry
// orchestrator's proxy-pool integration (§4.B/§4.D). An empty proxyURL
// returns the receiver unchanged.
func (c *Client) WithProxyURL(proxyURL string) (*Client, error) {
	if proxyURL == "" {
		return c, nil
	}
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}

	base := c.http.Transport.(*http.Transport)
	clone := base.Clone()
	clone.Proxy = http.ProxyURL(parsed)

	return &Client{
		cfg:     c.cfg,
		profile: c.profile,
		http:    &http.Client{Transport: clone},
		log:     c.log,
	}, nil
}

// buildHeaders mirrors build_headers's call sites in app_chat.py: a
// bearer/cookie token plus the impersonated profile's UA and client
// hints. The helper itself (reverse/utils/headers.py) was never
// retrieved, so the exact header set is inferred from usage rather than
// ported verbatim (see SPEC_FULL.md §11).
func (c *Client) buildHeaders(token, contentType string) http.Header {
	h := http.Header{}
	h.Set("Cookie", "sso="+token+"; sso-rw="+token)
	h.Set("Authorization", "Bearer "+token)
	h.Set("Content-Type", contentType)
	h.Set("Origin", c.cfg.Origin)
	h.Set("Referer", c.cfg.Referer)
	h.Set("User-Agent", c.profile.UserAgent)
	h.Set("Accept", "*/*")
	if c.profile.SecChUA != "" {
		h.Set("Sec-Ch-Ua", c.profile.SecChUA)
	}
	if c.profile.SecChUAPlatform != "" {
		h.Set("Sec-Ch-Ua-Platform", c.profile.SecChUAPlatform)
	}
	return h
}

// Lines is the async line-producing handle §4.C describes: the Stream
// Processor and Collector read raw SSE/NDJSON lines from it without
// knowing the transport or impersonation details. Close must be called
// once consumption ends, mirroring stream_response()'s finally-close of
// the underlying session.
type Lines struct {
	body   io.ReadCloser
	reader *lineReader
	cancel context.CancelFunc
}

func newLines(body io.ReadCloser, cancel context.CancelFunc) *Lines {
	return &Lines{body: body, reader: newLineReader(body), cancel: cancel}
}

// Next returns the next raw line (possibly empty), io.EOF when the body is
// exhausted, or a wrapped error if the read failed mid-stream (checked
// by the caller against _is_http2_error's substring heuristic).
func (l *Lines) Next() (string, error) {
	return l.reader.ReadLine()
}

// Close releases the underlying response body and the per-call timeout
// context together, so a caller that stops consuming early never leaks
// either.
func (l *Lines) Close() error {
	err := l.body.Close()
	if l.cancel != nil {
		l.cancel()
	}
	return err
}

// do issues the request under a timeout scoped to this single call
// (chat.timeout in the original); the returned cancel must be invoked
// once the response body is no longer needed, by the caller.
func (c *Client) do(ctx context.Context, method, reqURL string, headers http.Header, body []byte) (*http.Response, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, nil, err
	}
	req.Header = headers

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return resp, cancel, nil
}

func readErrorBody(resp *http.Response, cancel context.CancelFunc) string {
	defer resp.Body.Close()
	if cancel != nil {
		defer cancel()
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	return string(data)
}

// NewChat starts a fresh conversation, mirroring AppChatReverse.request:
// on a non-200 response it returns *domain.UpstreamError without
// consuming the retry/auth-failure bookkeeping, which is the
// orchestrator's responsibility (§4.D), not the client's.
func (c *Client) NewChat(ctx context.Context, token string, req BuildRequest) (*Lines, error) {
	return c.newChatAt(ctx, chatAPI, token, req)
}

// newChatAt is NewChat with an injectable endpoint, so tests can point
// the client at an httptest.Server instead of the hardcoded upstream
// host.
func (c *Client) newChatAt(ctx context.Context, endpoint string, token string, req BuildRequest) (*Lines, error) {
	payload := BuildPayload(req)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &domain.InternalError{Err: err}
	}

	resp, cancel, err := c.do(ctx, http.MethodPost, endpoint, c.buildHeaders(token, "application/json"), body)
	if err != nil {
		return nil, &domain.HTTP2StreamError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &domain.UpstreamError{Status: resp.StatusCode, Body: readErrorBody(resp, cancel)}
	}
	return newLines(resp.Body, cancel), nil
}

// ContinueChat mirrors AppChatReverse.request_continue, posting to the
// per-conversation responses endpoint with parentResponseId set.
func (c *Client) ContinueChat(ctx context.Context, token, conversationID string, req BuildRequest) (*Lines, error) {
	reqURL := fmt.Sprintf(chatContinueAPI, url.PathEscape(conversationID))
	payload := BuildPayload(req)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &domain.InternalError{Err: err}
	}

	resp, cancel, err := c.do(ctx, http.MethodPost, reqURL, c.buildHeaders(token, "application/json"), body)
	if err != nil {
		return nil, &domain.HTTP2StreamError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &domain.UpstreamError{Status: resp.StatusCode, Body: readErrorBody(resp, cancel)}
	}
	return newLines(resp.Body, cancel), nil
}

// ShareConversation ports share_conversation: best-effort, non-fatal —
// any failure (network, non-200, missing field) returns an empty string
// and nil error, matching the Python original's broad except-and-None.
func (c *Client) ShareConversation(ctx context.Context, token, conversationID, responseID string) (string, error) {
	return c.shareConversationAt(ctx, chatShareAPI, token, conversationID, responseID)
}

func (c *Client) shareConversationAt(ctx context.Context, endpointTemplate string, token, conversationID, responseID string) (string, error) {
	if conversationID == "" || responseID == "" {
		return "", nil
	}

	payload := map[string]interface{}{"responseId": responseID, "allowIndexing": true}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	reqURL := fmt.Sprintf(endpointTemplate, url.PathEscape(conversationID))
	resp, innerCancel, err := c.do(reqCtx, http.MethodPost, reqURL, c.buildHeaders(token, "application/json"), body)
	if innerCancel != nil {
		defer innerCancel()
	}
	if err != nil {
		if c.log != nil {
			c.log.Warn("share_conversation failed", "error", err)
		}
		return "", nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", nil
	}

	var out struct {
		ShareLinkID string `json:"shareLinkId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", nil
	}
	return out.ShareLinkID, nil
}

// CloneShareLink ports clone_share_link: implements conversation.Cloner
// for §4.E's migration path. Prefers the last assistant response id,
// falling back to the last response in the list when no assistant
// sender is present.
func (c *Client) CloneShareLink(ctx context.Context, token, shareLinkID string) (string, string, error) {
	return c.cloneShareLinkAt(ctx, chatCloneAPI, token, shareLinkID)
}

func (c *Client) cloneShareLinkAt(ctx context.Context, endpointTemplate string, token, shareLinkID string) (string, string, error) {
	if shareLinkID == "" {
		return "", "", nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	reqURL := fmt.Sprintf(endpointTemplate, url.PathEscape(shareLinkID))
	resp, innerCancel, err := c.do(reqCtx, http.MethodPost, reqURL, c.buildHeaders(token, "application/json"), []byte("{}"))
	if innerCancel != nil {
		defer innerCancel()
	}
	if err != nil {
		if c.log != nil {
			c.log.Warn("clone_share_link failed", "error", err)
		}
		return "", "", nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", nil
	}

	var out struct {
		Conversation struct {
			ConversationID string `json:"conversationId"`
		} `json:"conversation"`
		Responses []struct {
			Sender     string `json:"sender"`
			ResponseID string `json:"responseId"`
		} `json:"responses"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", nil
	}
	if out.Conversation.ConversationID == "" {
		return "", "", nil
	}

	var lastResponseID string
	for i := len(out.Responses) - 1; i >= 0; i-- {
		if out.Responses[i].Sender == "assistant" {
			lastResponseID = out.Responses[i].ResponseID
			break
		}
	}
	if lastResponseID == "" && len(out.Responses) > 0 {
		lastResponseID = out.Responses[len(out.Responses)-1].ResponseID
	}

	return out.Conversation.ConversationID, lastResponseID, nil
}
