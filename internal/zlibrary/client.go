// Package zlibrary is the client for the remote book-lookup service. It owns
// the lazily-established session (login on first use, re-login after the
// handle is invalidated), issues every call through the retry executor, and
// normalizes raw search hits into Records.
package zlibrary

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/walktheearth/bookdlbot/internal/retry"
)

// DefaultCallTimeout bounds a single remote call attempt, independent of the
// retry loop's own delay.
const DefaultCallTimeout = 30 * time.Second

// Config holds the connection settings for the library service.
type Config struct {
	BaseURL     string
	Email       string
	Password    string
	CallTimeout time.Duration
}

// Client talks to the library on behalf of a single conversation. It is safe
// for concurrent use, though the dispatch layer serializes calls per session
// anyway. The auth handle is the only shared mutable state: a failed login
// leaves it unset, and any call may invalidate it so the next call logs in
// again.
type Client struct {
	cfg       Config
	httpc     *http.Client
	exec      *retry.Executor
	limiter   *TokenBucket
	logger    *zap.Logger
	retryHook func(err error, delay time.Duration)

	mu   sync.Mutex
	auth *authSession
}

// authSession is the handle returned by a successful login.
type authSession struct {
	UserID  string `json:"user_id"`
	UserKey string `json:"user_key"`
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client, mainly for tests.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) {
		c.httpc = httpc
	}
}

// WithRateLimiter throttles outbound calls through the given bucket.
func WithRateLimiter(tb *TokenBucket) Option {
	return func(c *Client) {
		c.limiter = tb
	}
}

// WithRetryHook forwards retry notifications, e.g. into metrics.
func WithRetryHook(fn func(err error, delay time.Duration)) Option {
	return func(c *Client) {
		c.retryHook = fn
	}
}

// NewClient creates a library client. The retry policy's classifier defaults
// to Retryable so HTTP 5xx and throttling responses are treated as transient.
func NewClient(cfg Config, policy retry.Policy, logger *zap.Logger, opts ...Option) *Client {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if policy.Classify == nil {
		policy.Classify = Retryable
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		cfg:    cfg,
		httpc:  &http.Client{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	var execOpts []retry.Option
	if c.retryHook != nil {
		execOpts = append(execOpts, retry.WithRetryHook(c.retryHook))
	}
	c.exec = retry.NewExecutor(policy, execOpts...)
	return c
}

// Connected reports whether a login handle is currently held.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auth != nil
}

// invalidate discards the auth handle so the next call retries login.
func (c *Client) invalidate() {
	c.mu.Lock()
	c.auth = nil
	c.mu.Unlock()
}

// ensureConnected returns the current auth handle, logging in first if none
// exists. Login runs under the retry executor; on failure any partial handle
// is discarded and the caller sees ErrConnectionFailed. The client mutex is
// held for the whole login so concurrent calls from the same session cannot
// race a second login attempt.
func (c *Client) ensureConnected(ctx context.Context) (*authSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.auth != nil {
		return c.auth, nil
	}

	var auth *authSession
	err := c.exec.Do(ctx, func() error {
		a, loginErr := c.login(ctx)
		if loginErr != nil {
			return loginErr
		}
		auth = a
		return nil
	})
	if err != nil {
		c.auth = nil
		c.logger.Warn("library login failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	c.auth = auth
	c.logger.Info("library session established", zap.String("user_id", auth.UserID))
	return auth, nil
}

// login performs one login attempt.
func (c *Client) login(ctx context.Context) (*authSession, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	if err := c.throttle(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]string{
		"email":    c.cfg.Email,
		"password": c.cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("encode login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/login", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("login request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	var auth authSession
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	if auth.UserKey == "" {
		return nil, errors.New("login response missing user_key")
	}
	return &auth, nil
}

// NewSearch prepares a paginated search. No remote call happens until Next.
func (c *Client) NewSearch(query string, count int) *Paginator {
	return &Paginator{client: c, query: query, count: count}
}

// Search runs a query and returns the first page of normalized records. This
// is the shape the dispatch layer consumes: one page of up to count hits.
func (c *Client) Search(ctx context.Context, query string, count int) ([]Record, error) {
	p := c.NewSearch(query, count)
	if _, err := p.Next(ctx); err != nil {
		return nil, err
	}
	return p.Result(), nil
}

// FetchFull resolves a Record's opaque remote reference into a full record
// carrying the download URL.
func (c *Client) FetchFull(ctx context.Context, rec Record) (*FullRecord, error) {
	auth, err := c.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	var full *FullRecord
	err = c.exec.Do(ctx, func() error {
		f, fetchErr := c.fetchFull(ctx, auth, rec)
		if fetchErr != nil {
			return fetchErr
		}
		full = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return full, nil
}

func (c *Client) fetchFull(ctx context.Context, auth *authSession, rec Record) (*FullRecord, error) {
	if rec.ref.empty() {
		return nil, errors.New("record has no remote reference")
	}

	path := rec.ref.href
	if path == "" {
		path = "/api/book/" + url.PathEscape(rec.ref.bookID)
	}

	ctx, cancel := c.callContext(ctx)
	defer cancel()

	if err := c.throttle(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}
	c.authorize(req, auth)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.checkStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	var body struct {
		Book struct {
			DownloadURL string `json:"download_url"`
			Description string `json:"description"`
		} `json:"book"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode fetch response: %w", err)
	}
	if body.Book.DownloadURL == "" {
		return nil, errors.New("fetch response missing download_url")
	}

	return &FullRecord{
		Record:      rec,
		DownloadURL: body.Book.DownloadURL,
		Description: body.Book.Description,
	}, nil
}

// searchPage performs one search attempt for the given page. Malformed hits
// are skipped and logged rather than aborting the page.
func (c *Client) searchPage(ctx context.Context, auth *authSession, query string, count, page int) ([]Record, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	if err := c.throttle(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("limit", fmt.Sprint(count))
	q.Set("page", fmt.Sprint(page))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	c.authorize(req, auth)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.checkStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	var body struct {
		Books []json.RawMessage `json:"books"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	records := make([]Record, 0, len(body.Books))
	for i, raw := range body.Books {
		rec, parseErr := parseRecord(raw)
		if parseErr != nil {
			c.logger.Warn("skipping malformed search hit",
				zap.String("query", query),
				zap.Int("index", i),
				zap.Error(parseErr))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// checkStatus converts a non-OK status into an error. A rejected session
// invalidates the handle so the next call logs in again.
func (c *Client) checkStatus(code int) error {
	if code == http.StatusOK {
		return nil
	}
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		c.invalidate()
	}
	return &StatusError{Code: code}
}

// authorize attaches the session handle to a request.
func (c *Client) authorize(req *http.Request, auth *authSession) {
	req.Header.Set("X-User-Id", auth.UserID)
	req.Header.Set("X-User-Key", auth.UserKey)
}

// callContext bounds one remote call attempt.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.CallTimeout)
}

// throttle waits for the rate limiter, when one is configured.
func (c *Client) throttle(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// Paginator accumulates search results page by page, preserving the remote
// service's search shape: Next fetches a page, Result returns everything
// accumulated so far in stable order.
type Paginator struct {
	client  *Client
	query   string
	count   int
	page    int
	results []Record
}

// Next fetches the next page of results, retried under the executor.
func (p *Paginator) Next(ctx context.Context) ([]Record, error) {
	auth, err := p.client.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	var pageRecords []Record
	err = p.client.exec.Do(ctx, func() error {
		records, searchErr := p.client.searchPage(ctx, auth, p.query, p.count, p.page+1)
		if searchErr != nil {
			return searchErr
		}
		pageRecords = records
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.page++
	p.results = append(p.results, pageRecords...)
	return pageRecords, nil
}

// Result returns all records accumulated across Next calls.
func (p *Paginator) Result() []Record {
	return p.results
}
