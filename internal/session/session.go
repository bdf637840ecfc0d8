// Package session provides the shared HTTP session used by every site
// adapter: one cookie-aware client with per-host connection caps and
// per-host request rate limiting.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"boorusync/internal/logger"
)

const defaultUserAgent = "boorusync/1.0"

// Options configures a Session.
type Options struct {
	LimitPerHost  int           // Max connections per host (0 = 5)
	RatePerMinute int           // Token bucket refill per host (0 = 100)
	Timeout       time.Duration // Per-request timeout (0 = 30s)
	CookiesFile   string        // Optional Netscape .txt or flat .json cookie file
	UserAgent     string
}

// Session wraps an http.Client with the behaviors all adapters share.
type Session struct {
	client    *http.Client
	userAgent string

	perMinute int
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter

	// Cookies without a domain are attached to every request.
	shared []*http.Cookie
}

// New creates a Session and, when configured, seeds its jar from the
// cookies file. A missing cookies file is not an error.
func New(opts Options) (*Session, error) {
	if opts.LimitPerHost <= 0 {
		opts.LimitPerHost = 5
	}
	if opts.RatePerMinute <= 0 {
		opts.RatePerMinute = 100
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	transport := &http.Transport{
		MaxConnsPerHost:     opts.LimitPerHost,
		MaxIdleConnsPerHost: opts.LimitPerHost,
	}

	s := &Session{
		client: &http.Client{
			Jar:       jar,
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		userAgent: opts.UserAgent,
		perMinute: opts.RatePerMinute,
		limiters:  map[string]*rate.Limiter{},
	}

	if opts.CookiesFile != "" {
		cookies, err := LoadCookies(opts.CookiesFile)
		if err != nil {
			if os.IsNotExist(err) {
				logger.Debug("cookies file not found, continuing without", "path", opts.CookiesFile)
			} else {
				return nil, err
			}
		}
		s.SetCookies(cookies)
	}

	return s, nil
}

// SetCookies loads cookies into the jar. Cookies without a domain are
// remembered separately and attached to every outgoing request.
func (s *Session) SetCookies(cookies []*http.Cookie) {
	for _, cookie := range cookies {
		if cookie.Domain == "" {
			s.shared = append(s.shared, cookie)
			continue
		}
		scheme := "http"
		if cookie.Secure {
			scheme = "https"
		}
		u := &url.URL{Scheme: scheme, Host: trimDomainDot(cookie.Domain), Path: "/"}
		s.client.Jar.SetCookies(u, []*http.Cookie{cookie})
	}
}

// SetRateForHost replaces the token bucket for one host. Other hosts
// keep the session-wide rate.
func (s *Session) SetRateForHost(host string, perMinute int) {
	if host == "" || perMinute <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limiters[host] = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

// limiter returns the token bucket for a host, creating it on first use.
func (s *Session) limiter(host string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	lim, ok := s.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(s.perMinute)), 1)
		s.limiters[host] = lim
	}
	return lim
}

// Do waits on the per-host rate limiter and executes the request. The
// request context governs both the wait and the request itself.
func (s *Session) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	for _, cookie := range s.shared {
		req.AddCookie(cookie)
	}

	if err := s.limiter(req.URL.Host).Wait(req.Context()); err != nil {
		return nil, err
	}

	return s.client.Do(req)
}

// GetJSON issues a GET request and decodes the JSON response into out.
// Non-2xx statuses are returned as a *StatusError.
func (s *Session) GetJSON(ctx context.Context, rawURL string, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := s.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newStatusError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", rawURL, err)
	}
	return nil
}

// Download streams the response body for a URL to w.
func (s *Session) Download(ctx context.Context, rawURL string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return newStatusError(resp)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("failed to read response body from %s: %w", rawURL, err)
	}
	return nil
}

// Client exposes the underlying http.Client for callers that manage
// their own requests.
func (s *Session) Client() *http.Client {
	return s.client
}

// Close releases idle connections held by the transport.
func (s *Session) Close() {
	s.client.CloseIdleConnections()
}

// StatusError reports a non-success HTTP status.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func newStatusError(resp *http.Response) *StatusError {
	// Keep a slice of the body for error messages.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(body),
	}
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("unexpected status %s: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("unexpected status %s", e.Status)
}

// Temporary reports whether the status is a transient transport failure.
func (e *StatusError) Temporary() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Conflict reports whether the status is a request conflict.
func (e *StatusError) Conflict() bool {
	return e.StatusCode == http.StatusConflict
}

func trimDomainDot(domain string) string {
	if len(domain) > 0 && domain[0] == '.' {
		return domain[1:]
	}
	return domain
}
