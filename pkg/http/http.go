// Package http provides a fluent, retry-aware HTTP client for filestore.
//
// Usage:
//
//	resp, err := http.Head("https://example.com/cat.jpeg").
//	    Timeout(5 * time.Second).
//	    Retry(3, time.Second).
//	    Send()
//
//	// Stream leaves the body open for the caller.
//	body, resp, err := http.Get("https://example.com/cat.jpeg").Stream()
//	defer body.Close()
package http

import (
	"context"
	"fmt"
	"io"
	"math"
	gohttp "net/http"
	"time"

	"github.com/shashiranjanraj/filestore/pkg/logger"
)

// defaultTransport is the connection-pooled transport used in production.
// Tests can replace DefaultClient.Transport to inject mocks.
var defaultTransport = &gohttp.Transport{
	Proxy:               gohttp.ProxyFromEnvironment,
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 20,
	IdleConnTimeout:     90 * time.Second,
}

// DefaultClient is the shared HTTP client used by all outgoing requests.
var DefaultClient = &gohttp.Client{
	Transport: defaultTransport,
}

// ResetTransport restores the production transport on DefaultClient.
func ResetTransport() {
	DefaultClient.Transport = defaultTransport
}

// ------------------- Request -------------------

// Request is a fluent HTTP request builder.
type Request struct {
	method    string
	url       string
	headers   map[string]string
	timeout   time.Duration
	retries   int
	retryWait time.Duration
	ctx       context.Context
}

// Get starts a GET request.
func Get(url string) *Request { return newRequest(gohttp.MethodGet, url) }

// Head starts a HEAD request.
func Head(url string) *Request { return newRequest(gohttp.MethodHead, url) }

func newRequest(method, url string) *Request {
	return &Request{
		method:    method,
		url:       url,
		headers:   map[string]string{},
		timeout:   30 * time.Second,
		retries:   1,
		retryWait: 500 * time.Millisecond,
		ctx:       context.Background(),
	}
}

// Header adds a single header to the request.
func (r *Request) Header(key, value string) *Request {
	r.headers[key] = value
	return r
}

// Timeout sets the per-attempt timeout. For Stream it bounds the time to
// response headers only; reading the body is not limited.
func (r *Request) Timeout(d time.Duration) *Request {
	r.timeout = d
	return r
}

// Retry configures automatic retries on transport failure.
// n is total attempts (1 = no retry), wait is the initial backoff (doubles each attempt).
func (r *Request) Retry(n int, wait time.Duration) *Request {
	if n < 1 {
		n = 1
	}
	r.retries = n
	r.retryWait = wait
	return r
}

// WithContext sets a custom context.
func (r *Request) WithContext(ctx context.Context) *Request {
	r.ctx = ctx
	return r
}

// ------------------- Send -------------------

// Send executes the request, reads the whole body and returns a Response.
func (r *Request) Send() (*Response, error) {
	var resp *Response
	err := r.retry(func() error {
		res, cancel, err := r.do()
		if err != nil {
			return err
		}
		defer cancel()
		defer res.Body.Close()

		raw, err := io.ReadAll(res.Body)
		if err != nil {
			return fmt.Errorf("http: read body: %w", err)
		}
		resp = &Response{StatusCode: res.StatusCode, Headers: res.Header, Raw: raw}
		return nil
	})
	return resp, err
}

// Stream executes the request and hands back the open body without reading
// it. The caller must close the returned ReadCloser.
func (r *Request) Stream() (io.ReadCloser, *Response, error) {
	var (
		body io.ReadCloser
		resp *Response
	)
	err := r.retry(func() error {
		res, cancel, err := r.do()
		if err != nil {
			return err
		}
		body = &cancelBody{ReadCloser: res.Body, cancel: cancel}
		resp = &Response{StatusCode: res.StatusCode, Headers: res.Header}
		return nil
	})
	return body, resp, err
}

func (r *Request) retry(fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= r.retries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < r.retries {
			backoff := time.Duration(float64(r.retryWait) * math.Pow(2, float64(attempt-1)))
			logger.Warn("http: request failed, retrying",
				"url", r.url, "attempt", attempt, "backoff", backoff, "error", err)
			select {
			case <-time.After(backoff):
			case <-r.ctx.Done():
				return r.ctx.Err()
			}
		}
	}

	return fmt.Errorf("http: all %d attempts failed for %s %s: %w", r.retries, r.method, r.url, lastErr)
}

func (r *Request) do() (*gohttp.Response, context.CancelFunc, error) {
	ctx, cancel := context.WithCancel(r.ctx)
	timer := time.AfterFunc(r.timeout, cancel)

	req, err := gohttp.NewRequestWithContext(ctx, r.method, r.url, nil)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("http: build request: %w", err)
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	resp, err := DefaultClient.Do(req)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("http: send: %w", err)
	}
	// The timer may have fired after the headers arrived; the context is
	// then already cancelled and the body unusable.
	if !timer.Stop() {
		_ = resp.Body.Close()
		cancel()
		return nil, nil, fmt.Errorf("http: send: no response within %s: %w", r.timeout, context.DeadlineExceeded)
	}
	return resp, cancel, nil
}

// cancelBody releases the request context once the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// ------------------- Response -------------------

// Response wraps the HTTP response with convenience methods.
// Raw is empty for streamed responses.
type Response struct {
	StatusCode int
	Headers    gohttp.Header
	Raw        []byte
}

// OK reports whether the status code is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Header returns a single response header value.
func (r *Response) Header(key string) string {
	return r.Headers.Get(key)
}

// Throw returns an error if the response status is not 2xx.
func (r *Response) Throw() error {
	if !r.OK() {
		return fmt.Errorf("http: request failed with status %d", r.StatusCode)
	}
	return nil
}
