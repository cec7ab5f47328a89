// Package gateway is the single chokepoint for calls to the storefront API.
//
// It attaches the current bearer token, classifies failures into typed
// errors and reports 401 responses to an injected handler before returning
// them. It never retries.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/joss/kotoshop/internal/logging"
	"github.com/joss/kotoshop/internal/metrics"
	"github.com/joss/kotoshop/internal/session"
)

const maxBody = 8 << 20

// HTTPClient interface for HTTP requests (enables testing)
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

var _ HTTPClient = (*http.Client)(nil)

// Requester is what slices depend on.
type Requester interface {
	Do(ctx context.Context, method, path string, body, out interface{}, opts ...Option) error
}

// UnauthorizedFunc is called for an intercepted 401. token is the bearer
// value that was attached to the failing request ("" if none).
type UnauthorizedFunc func(ctx context.Context, token string, err *APIError)

// Config configures a Gateway.
type Config struct {
	BaseURL string
	Tokens  session.TokenSource

	// Client defaults to an *http.Client with Timeout.
	Client  HTTPClient
	Timeout time.Duration

	// RateLimit is requests per second; 0 disables limiting.
	RateLimit float64
	RateBurst int

	OnUnauthorized UnauthorizedFunc
}

// Gateway issues API requests.
type Gateway struct {
	base           string
	tokens         session.TokenSource
	client         HTTPClient
	limiter        *rate.Limiter
	onUnauthorized UnauthorizedFunc
	log            *logging.Logger
}

// New creates a gateway.
func New(cfg Config) (*Gateway, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("gateway: base URL required")
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return nil, fmt.Errorf("gateway: base URL %q must be http(s)", cfg.BaseURL)
	}

	g := &Gateway{
		base:           base,
		tokens:         cfg.Tokens,
		client:         cfg.Client,
		onUnauthorized: cfg.OnUnauthorized,
		log:            logging.New("gateway"),
	}
	if g.client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		g.client = &http.Client{Timeout: timeout}
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return g, nil
}

// SetUnauthorizedHandler replaces the 401 handler. The coordinator installs
// it after the slices exist.
func (g *Gateway) SetUnauthorizedHandler(fn UnauthorizedFunc) {
	g.onUnauthorized = fn
}

// BaseURL returns the configured endpoint without a trailing slash.
func (g *Gateway) BaseURL() string {
	return g.base
}

// Do sends body as JSON (when non-nil) and decodes a 2xx response into out
// (when non-nil).
func (g *Gateway) Do(ctx context.Context, method, path string, body, out interface{}, opts ...Option) error {
	o := Resolve(opts...)

	if strings.Contains(path, "://") {
		return fmt.Errorf("gateway: path %q must be relative", path)
	}
	target := g.base + "/" + strings.TrimLeft(path, "/")
	if len(o.Query) > 0 {
		target += "?" + o.Query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("gateway: encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(buf)
	}

	ctx, reqID := logging.EnsureRequestID(ctx)
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrTransport, method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	var token string
	if !o.Anonymous && g.tokens != nil {
		token = g.tokens.Token()
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %s %s: rate limit: %v", ErrTransport, method, path, err)
		}
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		metrics.RecordRequest(method, path, 0, time.Since(start))
		g.log.Warn("request_failed", map[string]interface{}{
			"method": method, "path": path, "request_id": reqID,
		}, err)
		return fmt.Errorf("%w: %s %s: %v", ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	elapsed := time.Since(start)
	metrics.RecordRequest(method, path, resp.StatusCode, elapsed)
	g.log.Debug("request", map[string]interface{}{
		"method":      method,
		"path":        path,
		"status":      resp.StatusCode,
		"duration_ms": elapsed.Milliseconds(),
		"request_id":  reqID,
	})
	if err != nil {
		return fmt.Errorf("%w: %s %s: read body: %v", ErrTransport, method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{
			Method:  method,
			Path:    path,
			Status:  resp.StatusCode,
			Message: serverMessage(raw),
		}
		if resp.StatusCode == http.StatusUnauthorized && !o.SkipIntercept && g.onUnauthorized != nil {
			g.onUnauthorized(ctx, token, apiErr)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("%w: %s %s: empty body", ErrMalformed, method, path)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrMalformed, method, path, err)
	}
	return nil
}

// Get is Do without a body.
func (g *Gateway) Get(ctx context.Context, path string, out interface{}, opts ...Option) error {
	return g.Do(ctx, http.MethodGet, path, nil, out, opts...)
}

// serverMessage extracts "message" or "error" from a JSON error body, or
// falls back to a short prefix of the raw text.
func serverMessage(raw []byte) string {
	if gjson.ValidBytes(raw) {
		for _, key := range []string{"message", "error"} {
			if v := gjson.GetBytes(raw, key); v.Exists() && v.String() != "" {
				return v.String()
			}
		}
		return ""
	}
	text := strings.TrimSpace(string(raw))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}
