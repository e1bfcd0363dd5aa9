package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"dredge/pkg/errors"
	"dredge/pkg/logger"
)

// Limiter gates outbound calls per resource key.
type Limiter interface {
	Acquire(ctx context.Context, key string) error
	RecordFailure(key string) time.Duration
	RecordSuccess(key string)
}

// Request describes one outbound call.
type Request struct {
	// Method defaults to GET.
	Method string
	URL    string
	// ResourceKey selects the rate limit bucket for the call.
	ResourceKey string
	// Accept overrides the Accept header when set.
	Accept string
}

// Result is a fully read response.
type Result struct {
	Body          []byte
	StatusCode    int
	ContentType   string
	ContentLength int64
	Elapsed       time.Duration
}

// Client is the only component that talks to the network. Every call
// passes through the limiter, retries transient failures up to the
// configured budget, and rotates user agents between requests.
type Client struct {
	httpClient *http.Client
	limiter    Limiter
	logger     logger.Logger

	maxRetries int
	userAgents []string
	uaIndex    atomic.Uint64
	headers    map[string]string
}

// Options configures a Client.
type Options struct {
	Timeout    time.Duration
	MaxRetries int
	UserAgents []string
}

// NewClient creates a Client. The limiter may be nil, in which case calls
// are not gated; that is only sensible in tests.
func NewClient(opts Options, lim Limiter, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		limiter:    lim,
		logger:     log,
		maxRetries: opts.MaxRetries,
		userAgents: opts.UserAgents,
		headers: map[string]string{
			"Accept-Language": "en-US,en;q=0.9",
			"Cache-Control":   "no-cache",
		},
	}
}

// SetHeader sets a custom header sent with every request.
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// Do performs the request, waiting on the limiter before every attempt.
// Transient failures are retried up to MaxRetries; the delay between
// attempts comes from the limiter's backoff gate.
func (c *Client) Do(ctx context.Context, req Request) (*Result, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.WithFields(map[string]interface{}{
				"method":  req.Method,
				"url":     req.URL,
				"attempt": attempt,
				"error":   lastErr.Error(),
			}).Warn("Retrying request")
		}

		if c.limiter != nil {
			if err := c.limiter.Acquire(ctx, req.ResourceKey); err != nil {
				return nil, err
			}
		}

		res, err := c.doOnce(ctx, req)
		if err == nil {
			if c.limiter != nil {
				c.limiter.RecordSuccess(req.ResourceKey)
			}
			return res, nil
		}

		lastErr = err
		if !errors.IsRetryable(err) {
			return nil, err
		}
		if c.limiter != nil {
			c.limiter.RecordFailure(req.ResourceKey)
		}
	}

	c.logger.WithFields(map[string]interface{}{
		"method":      req.Method,
		"url":         req.URL,
		"max_retries": c.maxRetries,
		"error":       lastErr.Error(),
	}).Error("Retry budget exhausted")

	return nil, lastErr
}

// doOnce performs a single attempt.
func (c *Client) doOnce(ctx context.Context, req Request) (*Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypePermanent, "building request", err)
	}

	for key, value := range c.headers {
		httpReq.Header.Set(key, value)
	}
	if ua := c.nextUserAgent(); ua != "" {
		httpReq.Header.Set("User-Agent", ua)
	}
	if req.Accept != "" {
		httpReq.Header.Set("Accept", req.Accept)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.WithFields(map[string]interface{}{
			"method":   req.Method,
			"url":      req.URL,
			"error":    err.Error(),
			"duration": elapsed,
		}).Debug("Request failed")
		return nil, errors.Wrap(errors.ErrorTypeTransient, "request failed", err)
	}
	defer resp.Body.Close()

	c.logger.WithFields(map[string]interface{}{
		"method":   req.Method,
		"url":      req.URL,
		"status":   resp.StatusCode,
		"duration": elapsed,
	}).Debug("Request completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused before the retry.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, errors.FromStatusCode(resp.StatusCode,
			fmt.Sprintf("%s %s returned status %d", req.Method, req.URL, resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeTransient, "reading response body", err)
	}

	length := resp.ContentLength
	if length < 0 {
		length = int64(len(body))
	}

	return &Result{
		Body:          body,
		StatusCode:    resp.StatusCode,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: length,
		Elapsed:       elapsed,
	}, nil
}

// GetJSON fetches the URL and decodes the response body into target.
func (c *Client) GetJSON(ctx context.Context, key, url string, target interface{}) error {
	res, err := c.Do(ctx, Request{
		URL:         url,
		ResourceKey: key,
		Accept:      "application/json",
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(res.Body, target); err != nil {
		preview := string(res.Body)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		c.logger.WithFields(map[string]interface{}{
			"url":          url,
			"status":       res.StatusCode,
			"error":        err.Error(),
			"body_preview": preview,
		}).Error("Failed to parse JSON response")
		return errors.Wrap(errors.ErrorTypePermanent, "parsing JSON response", err)
	}

	return nil
}

// nextUserAgent rotates through the configured user agents.
func (c *Client) nextUserAgent() string {
	if len(c.userAgents) == 0 {
		return ""
	}
	n := c.uaIndex.Add(1) - 1
	return c.userAgents[n%uint64(len(c.userAgents))]
}
