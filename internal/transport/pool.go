package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/coderush/cli/internal/logging"
)

const (
	// DefaultMaxConnsPerHost bounds open connections to a single host.
	// Requests beyond the bound wait for a free connection.
	DefaultMaxConnsPerHost = 100
	DefaultRequestTimeout  = 30 * time.Second
)

// ErrRetriesExhausted is matched by errors returned after the last allowed attempt failed
var ErrRetriesExhausted = errors.New("retries exhausted")

// RetryPolicy controls which requests are retried and how long to wait between attempts.
type RetryPolicy struct {
	// MaxAttempts counts the first attempt, so 3 means up to two retries.
	MaxAttempts int
	// BaseBackoff is the wait before the first retry; it doubles on each retry.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// RetryableStatuses lists the HTTP statuses worth another attempt.
	RetryableStatuses map[int]bool
}

// DefaultRetryPolicy retries 429 and 5xx gateway errors up to 3 attempts
// total, waiting 1s, then 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseBackoff: time.Second,
		MaxBackoff:  30 * time.Second,
		RetryableStatuses: map[int]bool{
			http.StatusTooManyRequests:     true,
			http.StatusInternalServerError: true,
			http.StatusBadGateway:          true,
			http.StatusServiceUnavailable:  true,
			http.StatusGatewayTimeout:      true,
		},
	}
}

// Options configures a Pool
type Options struct {
	Retry           RetryPolicy
	MaxConnsPerHost int
	// RequestTimeout bounds each attempt, not the request as a whole.
	RequestTimeout time.Duration
}

// DefaultOptions returns the pool settings used by the CLI
func DefaultOptions() Options {
	return Options{
		Retry:           DefaultRetryPolicy(),
		MaxConnsPerHost: DefaultMaxConnsPerHost,
		RequestTimeout:  DefaultRequestTimeout,
	}
}

// Error describes a request that failed at the transport level.
type Error struct {
	Method     string
	URL        string
	Attempts   int
	StatusCode int
	Exhausted  bool
	Err        error
}

func (e *Error) Error() string {
	msg := "request"
	if e.Method != "" {
		msg = fmt.Sprintf("%s %s", e.Method, e.URL)
	}
	msg = fmt.Sprintf("%s failed after %d attempt(s)", msg, e.Attempts)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (last status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target == ErrRetriesExhausted && e.Exhausted
}

// Pool is the shared HTTP transport for every outbound call. It is safe for
// concurrent use.
type Pool struct {
	policy    RetryPolicy
	transport *http.Transport
	retry     *retryablehttp.Client
	client    *http.Client
}

// New creates a pool. Zero-valued options fall back to the defaults.
func New(opts Options) *Pool {
	defaults := DefaultOptions()
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = defaults.Retry.MaxAttempts
	}
	if opts.Retry.BaseBackoff <= 0 {
		opts.Retry.BaseBackoff = defaults.Retry.BaseBackoff
	}
	if opts.Retry.MaxBackoff <= 0 {
		opts.Retry.MaxBackoff = defaults.Retry.MaxBackoff
	}
	if opts.Retry.RetryableStatuses == nil {
		opts.Retry.RetryableStatuses = defaults.Retry.RetryableStatuses
	}
	if opts.MaxConnsPerHost <= 0 {
		opts.MaxConnsPerHost = defaults.MaxConnsPerHost
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaults.RequestTimeout
	}

	transport := cleanhttp.DefaultPooledTransport()
	transport.MaxConnsPerHost = opts.MaxConnsPerHost
	transport.MaxIdleConnsPerHost = opts.MaxConnsPerHost

	p := &Pool{
		policy:    opts.Retry,
		transport: transport,
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{
		Transport: sharedTransport{next: transport},
		Timeout:   opts.RequestTimeout,
	}
	rc.Logger = logging.LeveledLogger{Subsystem: "transport"}
	rc.RetryMax = opts.Retry.MaxAttempts - 1
	rc.RetryWaitMin = opts.Retry.BaseBackoff
	rc.RetryWaitMax = opts.Retry.MaxBackoff
	rc.Backoff = retryablehttp.DefaultBackoff
	rc.CheckRetry = p.checkRetry
	rc.ErrorHandler = p.handleError
	p.retry = rc

	p.client = &http.Client{
		Transport: methodTagger{next: &retryablehttp.RoundTripper{Client: rc}},
	}
	return p
}

// Policy returns the retry policy in effect
func (p *Pool) Policy() RetryPolicy {
	return p.policy
}

// StandardClient returns an *http.Client that sends through the pool with
// retries. All callers share the same connections.
func (p *Pool) StandardClient() *http.Client {
	return p.client
}

// Do sends req through the pool
func (p *Pool) Do(req *http.Request) (*http.Response, error) {
	return p.client.Do(req)
}

// Close drops idle connections. In-flight requests are not interrupted.
func (p *Pool) Close() {
	p.transport.CloseIdleConnections()
}

// sharedTransport hides CloseIdleConnections from the retrying client.
// go-retryablehttp closes its client's idle connections whenever a request
// fails, which would drop connections other workers are about to reuse.
// Only Pool.Close releases them.
type sharedTransport struct {
	next http.RoundTripper
}

func (s sharedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return s.next.RoundTrip(req)
}

type methodKey struct{}

// methodTagger records the request method in the context so the retry
// check, which only sees the context and the response, can tell whether
// the request is safe to repeat.
type methodTagger struct {
	next http.RoundTripper
}

func (m methodTagger) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := context.WithValue(req.Context(), methodKey{}, req.Method)
	return m.next.RoundTrip(req.WithContext(ctx))
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete, http.MethodTrace:
		return true
	default:
		return false
	}
}

func requestMethod(ctx context.Context, resp *http.Response) string {
	if m, ok := ctx.Value(methodKey{}).(string); ok {
		return m
	}
	if resp != nil && resp.Request != nil {
		return resp.Request.Method
	}
	return ""
}

func (p *Pool) checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if !idempotent(requestMethod(ctx, resp)) {
		return false, nil
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	return p.policy.RetryableStatuses[resp.StatusCode], nil
}

// handleError runs when the request did not succeed: retries ran out, the
// error was not retryable, or the context ended.
func (p *Pool) handleError(resp *http.Response, err error, attempts int) (*http.Response, error) {
	e := &Error{
		Attempts: attempts,
		Err:      err,
	}
	if resp != nil {
		e.StatusCode = resp.StatusCode
		if resp.Request != nil {
			e.Method = resp.Request.Method
			e.URL = resp.Request.URL.Redacted()
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}
	// A nil err means the last response still asked for a retry
	e.Exhausted = err == nil || attempts >= p.policy.MaxAttempts
	if e.Exhausted {
		logging.Warn("transport", "giving up after %d attempt(s)", attempts)
	}
	return nil, e
}
