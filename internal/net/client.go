// Package net talks to the remote task service: limit config, task submission,
// document upload, status and result retrieval.
package net

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vocdoni/gofirma/esign/internal/apperr"
)

const (
	DefaultBaseURL = "https://api.letsesign.net"
	DefaultVersion = "1909"

	// MaxUploadSize caps the encrypted document body.
	MaxUploadSize = 40 * 1024 * 1024
	maxErrorBody  = 64 * 1024
)

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Observer receives the outcome of every remote exchange. status is 0 when
// the request never got a response.
type Observer func(endpoint string, status int, elapsed time.Duration)

type Config struct {
	BaseURL string
	Version string
	APIKey  string
	Timeout time.Duration
	Retry   RetryConfig
}

type Client struct {
	baseURL    string
	version    string
	apiKey     string
	httpClient *http.Client
	retry      RetryConfig
	log        *zap.Logger
	observe    Observer
	sleep      func(context.Context, time.Duration) error
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

func WithObserver(o Observer) Option {
	return func(c *Client) { c.observe = o }
}

func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		version:    cfg.Version,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retry:      cfg.Retry,
		log:        zap.NewNop(),
		observe:    func(string, int, time.Duration) {},
		sleep:      sleepCtx,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.version == "" {
		c.version = DefaultVersion
	}
	if cfg.Timeout <= 0 {
		c.httpClient.Timeout = 30 * time.Second
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.MaxAttempts < 1 {
		c.retry.MaxAttempts = 1
	}
	if c.retry.BaseDelay <= 0 {
		c.retry.BaseDelay = 200 * time.Millisecond
	}
	if c.retry.MaxDelay <= 0 {
		c.retry.MaxDelay = 2 * time.Second
	}
	return c
}

func (c *Client) apiURL(endpoint string) string {
	return c.baseURL + "/" + c.version + "/api/" + endpoint
}

type request struct {
	endpoint  string
	method    string
	url       string
	body      []byte
	auth      bool
	retryable bool
	code      apperr.Code
}

// do performs req and returns the body of a 2xx response. Non-2xx responses
// become remote errors carrying the service's errorMsg.
func (c *Client) do(ctx context.Context, req request) ([]byte, error) {
	attempts := 1
	if req.retryable {
		attempts = c.retry.MaxAttempts
	}
	for attempt := 1; ; attempt++ {
		status, body, retryAfter, err := c.once(ctx, req)
		if err == nil && status >= 200 && status < 300 {
			return body, nil
		}
		if attempt < attempts && (err != nil || shouldRetryStatus(status)) && ctx.Err() == nil {
			if serr := c.sleep(ctx, c.backoff(attempt, retryAfter)); serr == nil {
				continue
			}
		}
		if err != nil {
			return nil, apperr.Remote(req.code, 0, "Failed to call server API: "+err.Error(), err)
		}
		return nil, apperr.Remote(req.code, status, errorMessage(body), nil)
	}
}

func (c *Client) once(ctx context.Context, req request) (int, []byte, string, error) {
	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return 0, nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-Id", uuid.NewString())
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.auth {
		httpReq.Header.Set("Authorization", "Basic "+c.apiKey)
	}

	start := time.Now()
	c.log.Debug("remote request",
		zap.String("endpoint", req.endpoint),
		zap.String("method", req.method),
		zap.Int("bytes", len(req.body)),
		zap.String("requestID", httpReq.Header.Get("X-Request-Id")))
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.observe(req.endpoint, 0, time.Since(start))
		c.log.Debug("remote request failed", zap.String("endpoint", req.endpoint), zap.Error(err))
		return 0, nil, "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxUploadSize))
	c.observe(req.endpoint, resp.StatusCode, time.Since(start))
	if err != nil {
		return 0, nil, "", fmt.Errorf("failed to read response body: %w", err)
	}
	c.log.Debug("remote response",
		zap.String("endpoint", req.endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(raw)))
	if resp.StatusCode >= 300 && len(raw) > maxErrorBody {
		raw = raw[:maxErrorBody]
	}
	return resp.StatusCode, raw, resp.Header.Get("Retry-After"), nil
}

// errorMessage prefers the service's {"errorMsg"} field, then the JSON body
// itself, then the raw text.
func errorMessage(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	var obj map[string]any
	if err := json.Unmarshal(trimmed, &obj); err == nil {
		if msg, ok := obj["errorMsg"].(string); ok {
			return msg
		}
		return "Failed to call server API: " + string(trimmed)
	}
	return string(trimmed)
}

func shouldRetryStatus(status int) bool {
	return status == 429 || status == 502 || status == 503 || status == 504
}

func (c *Client) backoff(attempt int, retryAfter string) time.Duration {
	if sec, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && sec >= 0 {
		d := time.Duration(sec) * time.Second
		if d > c.retry.MaxDelay {
			d = c.retry.MaxDelay
		}
		return d
	}
	ceiling := c.retry.BaseDelay << (attempt - 1)
	if ceiling > c.retry.MaxDelay || ceiling <= 0 {
		ceiling = c.retry.MaxDelay
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(ceiling)))
	if err != nil {
		return ceiling
	}
	return time.Duration(n.Int64())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
