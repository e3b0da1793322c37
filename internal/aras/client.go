// Package aras is the Aras Innovator OData client: password-grant token
// management, OData request building, retries and a uniform error model.
//
// The entry point is Client.Execute, which never returns a Go error; every
// outcome, including configuration and validation failures, is reported in
// the returned Result so it can be handed to an assistant host verbatim.
package aras

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/giantswarm/mcp-aras/internal/logging"
)

// Maximum response body the client will read (32MB)
const maxResponseSize = 32 * 1024 * 1024

// RetryPolicy bounds how often and how patiently a request is retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of HTTP calls for transient failures.
	MaxAttempts int
	// BaseDelay is the first backoff; attempt n waits BaseDelay * 2^n.
	BaseDelay time.Duration
	// MaxDelay caps a single backoff, including server Retry-After hints.
	MaxDelay time.Duration
	// Timeout bounds each HTTP call.
	Timeout time.Duration
}

// DefaultRetryPolicy returns the policy used when nothing is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Timeout:     30 * time.Second,
	}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// TokenSource supplies bearer tokens. *TokenManager implements it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate(token string)
}

// ClientConfig holds configuration for creating a new Client
type ClientConfig struct {
	ServerURL  string
	Tokens     TokenSource
	Retry      RetryPolicy
	HTTPClient *http.Client
	// RateLimit caps requests per second; zero means unlimited.
	RateLimit float64
	Logger    *logging.Logger
}

// Client executes Operations against the Aras OData endpoint.
type Client struct {
	serverURL  string
	tokens     TokenSource
	retry      RetryPolicy
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logging.Logger
	sleep      func(ctx context.Context, d time.Duration) error
	maxBody    int64
}

// NewClient creates a client. Invalid configuration is a ConfigError.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.ServerURL == "" {
		return nil, configError("server URL is required")
	}
	if cfg.Tokens == nil {
		return nil, configError("a token source is required")
	}

	retry := cfg.Retry
	def := DefaultRetryPolicy()
	if retry.MaxAttempts == 0 {
		retry.MaxAttempts = def.MaxAttempts
	}
	if retry.MaxAttempts < 1 {
		return nil, configError("retry count must be at least 1, got %d", retry.MaxAttempts)
	}
	if retry.BaseDelay < 0 {
		return nil, configError("retry delay must not be negative")
	}
	if retry.Timeout <= 0 {
		retry.Timeout = def.Timeout
	}
	if retry.MaxDelay <= 0 {
		retry.MaxDelay = def.MaxDelay
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	c := &Client{
		serverURL:  strings.TrimRight(cfg.ServerURL, "/"),
		tokens:     cfg.Tokens,
		retry:      retry,
		httpClient: httpClient,
		logger:     logger,
		sleep:      sleepContext,
		maxBody:    maxResponseSize,
	}
	if cfg.RateLimit < 0 {
		return nil, configError("rate limit must not be negative")
	}
	if cfg.RateLimit > 0 {
		burst := int(math.Ceil(cfg.RateLimit))
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c, nil
}

// RetryPolicy returns the effective retry policy.
func (c *Client) RetryPolicy() RetryPolicy { return c.retry }

type response struct {
	status int
	header http.Header
	body   []byte
}

// Execute runs op and reports the outcome. It never panics on server input
// and never returns a nil Result.
//
// Classification per attempt: 2xx is success; 401 invalidates the token and
// retries once with a fresh one; 429, 5xx and transport failures are retried
// with exponential backoff up to MaxAttempts HTTP calls; any other status
// fails immediately.
func (c *Client) Execute(ctx context.Context, op Operation) *Result {
	req, err := Build(op)
	if err != nil {
		return failure(asError(err))
	}

	requestID := uuid.NewString()
	c.logger.Debug("%s %s [%s]", op.Kind, req, requestID)

	var (
		last         *Error
		reauthorized bool
	)
	for attempt := 0; ; {
		var retryAfter time.Duration

		token, err := c.tokens.Token(ctx)
		if err != nil {
			e := asError(err)
			if !e.Retryable() {
				c.logger.Error("%s %s: %v", op.Kind, req.Path, e)
				return failure(e)
			}
			last = e
		} else {
			resp, sendErr := c.send(ctx, req, token, requestID)
			switch {
			case sendErr != nil:
				if !sendErr.Retryable() {
					c.logger.Warning("%s %s: %v", op.Kind, req.Path, sendErr)
					return failure(sendErr)
				}
				last = sendErr
			case resp.status >= 200 && resp.status < 300:
				return decodeSuccess(resp.status, resp.body)
			case resp.status == http.StatusUnauthorized:
				c.tokens.Invalidate(token)
				if !reauthorized {
					reauthorized = true
					c.logger.Info("Token rejected by server, refreshing and retrying [%s]", requestID)
					continue
				}
				detail := challengeDetail(resp.header.Get("WWW-Authenticate"))
				if detail == "" {
					_, detail = normalizeError(resp.status, resp.body)
				}
				e := authError(resp.status, detail, nil)
				c.logger.Error("%s %s: %v", op.Kind, req.Path, e)
				return failure(e)
			default:
				code, detail := normalizeError(resp.status, resp.body)
				e := apiError(resp.status, code, detail)
				if !e.Retryable() {
					c.logger.Warning("%s %s: %v", op.Kind, req.Path, e)
					return failure(e)
				}
				last = e
				retryAfter = parseRetryAfter(resp.header.Get("Retry-After"), time.Now())
			}
		}

		attempt++
		if attempt >= c.retry.MaxAttempts || ctx.Err() != nil {
			break
		}

		delay := c.retry.backoff(attempt - 1)
		if retryAfter > delay {
			delay = min(retryAfter, c.retry.MaxDelay)
		}
		c.logger.Warning("Attempt %d/%d failed: %v; retrying in %s [%s]",
			attempt, c.retry.MaxAttempts, last, delay, requestID)
		if err := c.sleep(ctx, delay); err != nil {
			break
		}
	}

	c.logger.Error("%s %s failed: %v", op.Kind, req.Path, last)
	return failure(last)
}

func (c *Client) send(ctx context.Context, req *Request, token, requestID string) (*response, *Error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, transportError("cancelled while waiting for rate limiter", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.retry.Timeout)
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	target := req.URL(c.serverURL)
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, validationError("cannot build request URL: %v", err)
	}
	httpReq.Header = req.Header.Clone()
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	c.logger.Request(requestID, req.Method, target)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err, c.retry.Timeout)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, classifyTransportError(err, c.retry.Timeout)
	}
	c.logger.Response(requestID, resp.StatusCode, time.Since(start))
	if int64(len(data)) > c.maxBody {
		return nil, apiError(resp.StatusCode, "ResponseTooLarge", fmt.Sprintf(
			"response exceeds %d bytes; narrow the query with $filter, $select or $top", c.maxBody))
	}

	return &response{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

func classifyTransportError(err error, timeout time.Duration) *Error {
	if errors.Is(err, context.Canceled) {
		return transportError("request cancelled", err)
	}
	var urlErr *url.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &urlErr) && urlErr.Timeout()) {
		return transportError(fmt.Sprintf("request timed out after %s", timeout), err)
	}
	return transportError("could not reach the PLM server", err)
}

// parseRetryAfter understands both delta-seconds and HTTP-date values.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func asError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return transportError("unexpected failure", err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
