// Package upstream issues signed HTTP requests to the vendor chat API.
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
	"strings"
	"time"

	"chatrelay/internal/config"
	"chatrelay/internal/health"
	"chatrelay/internal/signature"
)

const (
	contentTypeJSON = "application/json"

	// userAgent mirrors the vendor's own client; the signing tier rejects
	// unknown agents.
	userAgent = "NimbusChat/4.2.1 (desktop)"

	headerDeviceID  = "X-Device-Id"
	headerTimestamp = "X-Timestamp"
	headerSignature = "X-Signature"

	// defaultSigningSecret is the vendor's default-tier key, used when no
	// secret is configured.
	defaultSigningSecret = "7f9c2ba4e88f827d616045507605853e"

	maxErrorBodyBytes = 64 * 1024

	defaultHTTPTimeout     = 120 * time.Second
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// StatusError reports a non-2xx vendor response. The body excerpt is kept
// for logs only and is never forwarded to clients.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// Client talks to the vendor chat and model endpoints with signed headers.
type Client struct {
	httpClient *http.Client
	chatURL    string
	modelsURL  string
	bearer     string
	deviceID   string
	secret     string
	locale     string
	source     string
	tracker    *health.Tracker
	logger     *slog.Logger
}

// NewClient constructs a vendor client from configuration. An empty signing
// secret falls back to the vendor's default tier with a warning; the relay
// stays functional but signs with the shared default key.
func NewClient(cfg config.VendorConfig, httpClient *http.Client, tracker *health.Tracker, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient()
	}
	if logger == nil {
		logger = slog.Default()
	}

	secret := cfg.SigningSecret
	if secret == "" {
		logger.Warn("no signing secret configured, signing with the vendor default tier key")
		secret = defaultSigningSecret
	}

	return &Client{
		httpClient: httpClient,
		chatURL:    cfg.ChatURL,
		modelsURL:  cfg.ModelsURL,
		bearer:     cfg.BearerToken,
		deviceID:   cfg.DeviceID,
		secret:     secret,
		locale:     cfg.Locale,
		source:     cfg.Source,
		tracker:    tracker,
		logger:     logger,
	}
}

// NewHTTPClient builds the tuned transport shared by vendor calls. The
// client-level timeout stays unset so streamed bodies are not cut off; the
// dial and TLS stages carry their own deadlines.
func NewHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: transport,
	}
}

// Locale returns the configured vendor locale tag.
func (c *Client) Locale() string { return c.locale }

// Source returns the configured vendor source tag.
func (c *Client) Source() string { return c.source }

// Chat POSTs a vendor chat request and returns the raw response. The caller
// owns resp.Body and must close it; for streaming requests it is consumed
// incrementally, otherwise it may be buffered whole. A non-2xx status is
// drained, logged and returned as *StatusError.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal vendor request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.chatURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct vendor request: %w", err)
	}
	c.stampHeaders(httpReq, body)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.markFailure()
		return nil, fmt.Errorf("vendor chat request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.markFailure()
		return nil, c.drainError(resp)
	}

	c.markSuccess()
	return resp, nil
}

// FetchModels GETs the vendor model list. No body, therefore no signature
// header.
func (c *Client) FetchModels(ctx context.Context) ([]Model, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.modelsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("construct model list request: %w", err)
	}
	c.stampHeaders(httpReq, nil)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.markFailure()
		return nil, fmt.Errorf("vendor model list request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.markFailure()
		return nil, c.drainError(resp)
	}

	var list modelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		c.markFailure()
		return nil, fmt.Errorf("decode vendor model list: %w", err)
	}

	c.markSuccess()
	return list.Models, nil
}

// stampHeaders applies the fixed vendor header set. The signature header is
// added only when a body is present; GET requests carry nothing to sign.
func (c *Client) stampHeaders(req *http.Request, body []byte) {
	ts := signature.Timestamp(time.Now())

	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+c.bearer)
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set(headerDeviceID, c.deviceID)
	req.Header.Set(headerTimestamp, ts)

	if body != nil {
		req.Header.Set(headerSignature, signature.Sign(ts, c.deviceID, body, c.secret))
	}
}

// drainError consumes the failed response body for diagnostics and closes
// it. The excerpt stays in logs; clients only ever see the status code.
func (c *Client) drainError(resp *http.Response) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	excerpt := strings.TrimSpace(string(body))
	if err != nil {
		excerpt = fmt.Sprintf("<unreadable: %v>", err)
	}

	c.logger.Error("vendor request failed",
		"status", resp.StatusCode,
		"body", excerpt,
	)

	return &StatusError{StatusCode: resp.StatusCode, Body: excerpt}
}

func (c *Client) markSuccess() {
	if c.tracker != nil {
		c.tracker.MarkSuccess()
	}
}

func (c *Client) markFailure() {
	if c.tracker != nil {
		c.tracker.MarkFailure()
	}
}
