// Package httpclient provides an HTTP client with logging and retries of
// idempotent requests.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"syscall"
	"time"

	"litedb/pkg/retry"
)

// Client wraps http.Client with logging and retries.
type Client struct {
	hc      *http.Client
	log     *slog.Logger
	retry   retry.Config
	headers map[string]string
}

// Option configures Client.
type Option func(*Client)

// WithTimeout sets request timeout.
func WithTimeout(t time.Duration) Option {
	return func(c *Client) { c.hc.Timeout = t }
}

// WithLogger sets logger used by client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithRetry sets the retry policy for idempotent requests.
func WithRetry(cfg retry.Config) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithHeaders adds default headers to each request.
func WithHeaders(h map[string]string) Option {
	return func(c *Client) {
		for k, v := range h {
			c.headers[k] = v
		}
	}
}

// WithTransport sets custom transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.hc.Transport = rt
		}
	}
}

// New creates configured Client. Without WithRetry each request is sent once.
func New(opts ...Option) *Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConnsPerHost = 10
	tr.IdleConnTimeout = 90 * time.Second
	tr.ResponseHeaderTimeout = 30 * time.Second

	noRetry := retry.DefaultConfig()
	noRetry.MaxAttempts = 1

	c := &Client{
		hc:      &http.Client{Timeout: time.Minute, Transport: tr},
		log:     slog.Default(),
		retry:   noRetry,
		headers: make(map[string]string),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// StatusError reports a response with a retryable status that outlived all attempts.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

// Do sends the request with context, logging and retries. Requests with a
// method other than GET, HEAD or OPTIONS are sent once.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	cfg := c.retry
	if !idempotent(req.Method) || (req.Body != nil && req.GetBody == nil) {
		cfg.MaxAttempts = 1
	}
	target := req.URL.Redacted()

	var resp *http.Response
	attempt := 0
	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		attempt++
		r := req.Clone(ctx)
		for k, v := range c.headers {
			if r.Header.Get(k) == "" {
				r.Header.Set(k, v)
			}
		}
		if r.GetBody != nil {
			body, err := r.GetBody()
			if err != nil {
				return err
			}
			r.Body = body
		}

		start := time.Now()
		res, err := c.hc.Do(r)
		if err != nil {
			c.log.Warn("http request error", slog.String("method", r.Method), slog.String("url", target),
				slog.Int("attempt", attempt), slog.Any("error", err))
			return err
		}
		if retryableStatus(res.StatusCode) {
			drainAndClose(res.Body)
			c.log.Warn("http request status", slog.String("method", r.Method), slog.String("url", target),
				slog.Int("attempt", attempt), slog.Int("status", res.StatusCode))
			return &StatusError{Method: r.Method, URL: target, StatusCode: res.StatusCode}
		}
		c.log.Debug("http request", slog.String("method", r.Method), slog.String("url", target),
			slog.Int("status", res.StatusCode), slog.Duration("dur", time.Since(start)), slog.Int("attempt", attempt))
		resp = res
		return nil
	}, isRetryable)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return code >= http.StatusInternalServerError
}

func isRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return true
	}
	return isRetryableError(err)
}

// isRetryableError reports transport errors worth another attempt.
func isRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var ue *url.Error
	if !errors.As(err, &ue) {
		return false
	}
	if ne, ok := ue.Err.(net.Error); ok && ne.Timeout() {
		return true
	}
	var se *os.SyscallError
	if errors.As(ue.Err, &se) {
		switch se.Err {
		case syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED,
			syscall.ENETDOWN, syscall.ENETUNREACH, syscall.EPIPE,
			syscall.EHOSTUNREACH, syscall.ETIMEDOUT:
			return true
		}
	}
	var dnsErr *net.DNSError
	return errors.As(ue.Err, &dnsErr) && dnsErr.IsTemporary
}

// drainAndClose drains up to 512KB from body and closes it.
func drainAndClose(b io.ReadCloser) {
	if b == nil {
		return
	}
	_, _ = io.CopyN(io.Discard, b, 512<<10)
	_ = b.Close()
}
