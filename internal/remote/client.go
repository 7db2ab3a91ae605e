package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultMaxAttempts  = 3
	defaultBaseDelay    = 200 * time.Millisecond
	maxResponseBodySize = 8 << 20
)

var (
	ErrNotFound       = errors.New("remote: not found")
	errMissingBaseURL = errors.New("remote: base url is required")
)

// StatusError reports a non-success HTTP response.
type StatusError struct {
	Operation string
	Status    int
	Body      string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote: %s returned %d: %s", e.Operation, e.Status, e.Body)
}

func (e *StatusError) retryable() bool {
	return e.Status >= http.StatusInternalServerError
}

type ClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	// RequestsPerSecond paces outbound calls; zero disables pacing.
	RequestsPerSecond float64
	MaxAttempts       int
	BaseDelay         time.Duration
	Logger            *zap.Logger
}

// Client talks to the rooms catalog and chat backends.
type Client struct {
	baseURL     *url.URL
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	baseDelay   time.Duration
	logger      *zap.Logger
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errMissingBaseURL
	}
	baseURL, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: parse base url: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:     baseURL,
		httpClient:  httpClient,
		limiter:     limiter,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		logger:      logger,
	}, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	target := *c.baseURL
	target.Path = c.baseURL.Path + path
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}
	return target.String()
}

type requestBuilder func(ctx context.Context) (*http.Request, error)

func jsonRequest(method, target string, payload any) requestBuilder {
	return func(ctx context.Context) (*http.Request, error) {
		var body io.Reader
		if payload != nil {
			encoded, err := json.Marshal(payload)
			if err != nil {
				return nil, err
			}
			body = bytes.NewReader(encoded)
		}
		request, err := http.NewRequestWithContext(ctx, method, target, body)
		if err != nil {
			return nil, err
		}
		request.Header.Set("Accept", "application/json")
		if payload != nil {
			request.Header.Set("Content-Type", "application/json")
		}
		return request, nil
	}
}

// do sends the request built by build, retrying transport failures and 5xx
// responses with exponential back-off. It returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, operation string, build requestBuilder) ([]byte, error) {
	return c.send(ctx, operation, c.maxAttempts, build)
}

// doOnce sends a request that must not be repeated, such as a create whose
// first attempt may have reached the server.
func (c *Client) doOnce(ctx context.Context, operation string, build requestBuilder) ([]byte, error) {
	return c.send(ctx, operation, 1, build)
}

func (c *Client) send(ctx context.Context, operation string, maxAttempts int, build requestBuilder) ([]byte, error) {
	var lastErr error
	delay := c.baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		body, err := c.attempt(ctx, operation, build)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable(err) || attempt == maxAttempts {
			break
		}
		c.logger.Warn("remote call failed, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, operation string, build requestBuilder) ([]byte, error) {
	request, err := build(ctx)
	if err != nil {
		return nil, &permanentError{err: err}
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()
	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBodySize))
	if err != nil {
		return nil, err
	}
	if response.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, operation)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, &StatusError{Operation: operation, Status: response.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrNotFound) {
		return false
	}
	var permanent *permanentError
	if errors.As(err, &permanent) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.retryable()
	}
	return true
}
