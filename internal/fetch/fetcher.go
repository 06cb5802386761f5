// Package fetch performs one logical HTTP fetch with bounded retries and exponential backoff.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"time"
)

const defaultMaxBody = 32 << 20

// Request describes one HTTP call. It is rebuilt into an *http.Request on every attempt.
type Request struct {
	Method string
	URL    string
	Header http.Header
}

// Get builds a GET request for rawURL with the given query parameters.
func Get(rawURL string, query url.Values) Request {
	if len(query) > 0 {
		rawURL += "?" + query.Encode()
	}
	return Request{Method: http.MethodGet, URL: rawURL}
}

// WithHeader returns a copy of r with the header set.
func (r Request) WithHeader(key, value string) Request {
	h := r.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set(key, value)
	r.Header = h
	return r
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Policy bounds a single logical fetch.
type Policy struct {
	MaxRetries  int
	BaseBackoff time.Duration
	// Deadline covers every attempt plus backoff. Zero means the caller's context only.
	Deadline time.Duration
	// TerminalStatuses fail immediately instead of being retried (callers put 429 here
	// when rate limiting should trigger the next provider).
	TerminalStatuses []int
	// EmptyStatuses are definitive "nothing here" answers and are never retried.
	EmptyStatuses []int
}

// DefaultPolicy mirrors the provider loops this package replaces: 3 retries from 100ms.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    3,
		BaseBackoff:   100 * time.Millisecond,
		Deadline:      20 * time.Second,
		EmptyStatuses: []int{http.StatusNotFound},
	}
}

// Backoff returns the wait before retry attempt k (1-indexed): base * 2^(k-1).
func (p Policy) Backoff(k int) time.Duration {
	if k < 1 {
		return 0
	}
	return p.BaseBackoff << (k - 1)
}

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher executes requests. It holds no per-request state and is safe for concurrent use.
type Fetcher struct {
	client  Doer
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	maxBody int64
}

// New creates a Fetcher. A nil logger discards output.
func New(client Doer, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Fetcher{
		client:  client,
		logger:  logger.With("component", "fetch"),
		sleep:   Sleep,
		maxBody: defaultMaxBody,
	}
}

// NewHTTPClient builds a client with optional proxy support.
func NewHTTPClient(timeout time.Duration, proxyURL string) *http.Client {
	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
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

// Fetch runs req under p. On success it returns the response of the first 2xx attempt.
// Expected failures come back as *Error; a malformed request returns a plain error.
func (f *Fetcher) Fetch(ctx context.Context, req Request, p Policy) (*Response, error) {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = DefaultPolicy().BaseBackoff
	}
	if p.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Deadline)
		defer cancel()
	}

	var last *Error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.Backoff(attempt)
			f.logger.Warn("request failed, retrying",
				"url", redact(req.URL), "attempt", attempt, "max_retries", p.MaxRetries,
				"backoff", delay, "error", last)
			if err := f.sleep(ctx, delay); err != nil {
				return nil, timeout(last, attempt, err)
			}
		}

		resp, err := f.do(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, timeout(last, attempt+1, ctx.Err())
			}
			var reqErr *requestError
			if errors.As(err, &reqErr) {
				return nil, reqErr.err
			}
			last = &Error{Kind: KindNetwork, Attempts: attempt + 1, Err: err}
			continue
		}

		status := resp.StatusCode
		switch {
		case status >= 200 && status < 300:
			return resp, nil
		case slices.Contains(p.EmptyStatuses, status):
			return nil, &Error{Kind: KindNotFound, LastStatus: status, Attempts: attempt + 1}
		case slices.Contains(p.TerminalStatuses, status):
			return nil, &Error{Kind: statusKind(status), LastStatus: status, Attempts: attempt + 1, Err: bodyErr(resp)}
		default:
			last = &Error{Kind: statusKind(status), LastStatus: status, Attempts: attempt + 1, Err: bodyErr(resp)}
		}
	}
	return nil, last
}

type requestError struct{ err error }

func (e *requestError) Error() string { return e.err.Error() }

func (f *Fetcher) do(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, nil)
	if err != nil {
		return nil, &requestError{err: fmt.Errorf("build request: %w", err)}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", "Mozilla/5.0")
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func statusKind(status int) Kind {
	if status == http.StatusTooManyRequests {
		return KindRateLimited
	}
	return KindHTTP
}

func bodyErr(resp *Response) error {
	snippet := resp.Body
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	return fmt.Errorf("status %d, body: %s", resp.StatusCode, snippet)
}

func timeout(last *Error, attempts int, cause error) *Error {
	e := &Error{Kind: KindTimeout, Attempts: attempts, Err: cause}
	if last != nil {
		e.LastStatus = last.LastStatus
	}
	return e
}

// redact strips query strings so API keys never reach the logs.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	u.RawQuery = ""
	return u.String()
}
