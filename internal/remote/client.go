package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/oshokin/ptah/internal/fault"
	"github.com/oshokin/ptah/internal/logger"
	"github.com/oshokin/ptah/internal/version"
)

const (
	// DefaultTimeout bounds a single attempt.
	DefaultTimeout = 40 * time.Second
	// DefaultMaxElapsed bounds all attempts of one call.
	DefaultMaxElapsed = 30 * time.Second

	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxInterval     = 5 * time.Second
)

// Client performs HTTP calls with retries.
type Client struct {
	httpClient      *http.Client
	maxElapsed      time.Duration
	initialInterval time.Duration
	userAgent       string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithMaxElapsed bounds the total time spent retrying one call.
func WithMaxElapsed(maxElapsed time.Duration) Option {
	return func(c *Client) {
		c.maxElapsed = maxElapsed
	}
}

// WithInitialInterval sets the first backoff delay.
func WithInitialInterval(interval time.Duration) Option {
	return func(c *Client) {
		c.initialInterval = interval
	}
}

// New creates a client whose attempts time out after timeout.
func New(timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		httpClient:      &http.Client{Timeout: timeout},
		maxElapsed:      DefaultMaxElapsed,
		initialInterval: defaultInitialInterval,
		userAgent:       version.UserAgent(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Request describes one call. Body is replayed on every attempt.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Get is a shorthand for a GET request with headers.
func Get(url string, header http.Header) *Request {
	return &Request{Method: http.MethodGet, URL: url, Header: header}
}

func (c *Client) backOff(ctx context.Context) backoff.BackOff {
	settings := &backoff.ExponentialBackOff{
		InitialInterval:     c.initialInterval,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         defaultMaxInterval,
		MaxElapsedTime:      c.maxElapsed,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	settings.Reset()

	return backoff.WithContext(settings, ctx)
}

// retry runs attempt until it succeeds, fails permanently or the budget runs out.
// Failures that outlive the budget are marked fault.ErrTransient.
func (c *Client) retry(ctx context.Context, req *Request, attempt func(*http.Response) error) error {
	operation := func() error {
		response, err := c.send(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}

			return err
		}
		defer response.Body.Close()

		if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
			statusErr := readStatusError(req, response)
			if statusErr.Temporary() {
				return statusErr
			}

			return backoff.Permanent(statusErr)
		}

		return attempt(response)
	}

	notify := func(err error, delay time.Duration) {
		logger.WarnKV(ctx, "Remote call failed, retrying",
			"method", req.Method,
			"url", req.URL,
			"delay", delay,
			"error", err)
	}

	err := backoff.RetryNotify(operation, c.backOff(ctx), notify)
	if err == nil {
		return nil
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) && !statusErr.Temporary() {
		return err
	}

	if ctx.Err() != nil {
		return err
	}

	if errors.Is(err, fault.ErrResolution) || errors.Is(err, fault.ErrConfiguration) {
		return err
	}

	return fmt.Errorf("%w: %s %s: %w", fault.ErrTransient, req.Method, req.URL, err)
}

func (c *Client) send(ctx context.Context, req *Request) (*http.Response, error) {
	var body io.Reader = http.NoBody
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: build request: %w", fault.ErrConfiguration, err))
	}

	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}

	httpReq.Header.Set("User-Agent", c.userAgent)

	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(httpReq)
}

// Fetch reads the whole answer body.
func (c *Client) Fetch(ctx context.Context, req *Request) ([]byte, http.Header, error) {
	var (
		data   []byte
		header http.Header
	)

	err := c.retry(ctx, req, func(response *http.Response) error {
		payload, err := io.ReadAll(response.Body)
		if err != nil {
			return err
		}

		data, header = payload, response.Header.Clone()

		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return data, header, nil
}

// Head returns the headers of a HEAD answer.
func (c *Client) Head(ctx context.Context, url string, header http.Header) (http.Header, error) {
	var result http.Header

	err := c.retry(ctx, &Request{Method: http.MethodHead, URL: url, Header: header}, func(response *http.Response) error {
		result = response.Header.Clone()

		return nil
	})

	return result, err
}

// Download streams the answer body into the file at path, truncating it on every attempt.
func (c *Client) Download(ctx context.Context, req *Request, path string) (http.Header, error) {
	var result http.Header

	err := c.retry(ctx, req, func(response *http.Response) error {
		file, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			return backoff.Permanent(err)
		}

		if _, err = io.Copy(file, response.Body); err != nil {
			_ = file.Close()

			return err
		}

		if err = file.Close(); err != nil {
			return backoff.Permanent(err)
		}

		result = response.Header.Clone()

		return nil
	})
	if err != nil {
		_ = os.Remove(path)

		return nil, err
	}

	return result, nil
}

func readStatusError(req *Request, response *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBody))

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	return &StatusError{
		Method:     method,
		URL:        req.URL,
		StatusCode: response.StatusCode,
		Body:       string(bytes.TrimSpace(body)),
	}
}
