package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"whalebot/internal/clock"
	"whalebot/internal/ratelimit"
)

const (
	defaultLimitKey = "api"
	maxFloodRetries = 3
	defaultTimeout  = 30 * time.Second
)

// Requester is the generic REST capability the game layer is built on.
type Requester interface {
	Request(ctx context.Context, method, path string, body any) (int, []byte, error)
}

type NetworkError struct {
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

type Options struct {
	BaseURL   string
	UserAgent string
	ProxyURL  string
	Timeout   time.Duration
	Limiter   *ratelimit.Limiter
	// LimitKey names this client's budget in a shared Limiter.
	LimitKey  string
	Clock     clock.Clock
	// FloodWait is the fixed pause before retrying a 429 response.
	FloodWait time.Duration
	Logger    *zap.Logger
}

// Client wraps the game's REST surface. The bearer token is swapped
// atomically so every loop sees a refresh on its next call.
type Client struct {
	http      *resty.Client
	token     atomic.Pointer[string]
	limiter   *ratelimit.Limiter
	limitKey  string
	clock     clock.Clock
	floodWait time.Duration
	log       *zap.Logger
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.LimitKey == "" {
		opts.LimitKey = defaultLimitKey
	}
	if opts.FloodWait <= 0 {
		opts.FloodWait = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	rc := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetHeaders(map[string]string{
			"Accept":          "application/json, text/plain, */*",
			"Accept-Language": "en-US,en;q=0.9",
			"Origin":          "https://clicker.crashgame247.io",
			"Referer":         "https://clicker.crashgame247.io/",
		})
	if opts.UserAgent != "" {
		rc.SetHeader("User-Agent", opts.UserAgent)
	}
	if opts.ProxyURL != "" {
		rc.SetProxy(opts.ProxyURL)
	}

	return &Client{
		http:      rc,
		limiter:   opts.Limiter,
		limitKey:  opts.LimitKey,
		clock:     opts.Clock,
		floodWait: opts.FloodWait,
		log:       opts.Logger,
	}
}

// SetToken replaces the bearer token used by all subsequent requests.
func (c *Client) SetToken(token string) {
	c.token.Store(&token)
}

func (c *Client) Token() string {
	if t := c.token.Load(); t != nil {
		return *t
	}
	return ""
}

func (c *Client) Request(ctx context.Context, method, path string, body any) (int, []byte, error) {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx, c.limitKey); err != nil {
			return 0, nil, err
		}

		req := c.http.R().SetContext(ctx)
		if tok := c.Token(); tok != "" {
			req.SetHeader("Authorization", "Bearer "+tok)
		}
		if body != nil {
			req.SetHeader("Content-Type", "application/json").SetBody(body)
		}

		resp, err := req.Execute(method, path)
		if err != nil {
			return 0, nil, &NetworkError{Method: method, Path: path, Err: err}
		}

		if resp.StatusCode() == http.StatusTooManyRequests && attempt < maxFloodRetries {
			c.log.Warn("flood control, backing off",
				zap.String("path", path),
				zap.Duration("wait", c.floodWait),
				zap.Int("attempt", attempt+1))
			if err := c.clock.Sleep(ctx, c.floodWait); err != nil {
				return 0, nil, err
			}
			continue
		}

		data, err := DecodeBody(resp.Header().Get("Content-Encoding"), resp.Body())
		if err != nil {
			c.log.Warn("body decode failed, using raw body", zap.String("path", path), zap.Error(err))
			data = resp.Body()
		}
		c.log.Debug("api call",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode()))
		return resp.StatusCode(), data, nil
	}
}

// DecodeBody undoes a brotli content encoding. Bodies that are already
// plain JSON are returned as-is even when the header claims "br".
func DecodeBody(contentEncoding string, raw []byte) ([]byte, error) {
	if !strings.Contains(contentEncoding, "br") || looksLikeJSON(raw) {
		return raw, nil
	}
	out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return nil, fmt.Errorf("brotli: %w", err)
	}
	return out, nil
}

func looksLikeJSON(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}
