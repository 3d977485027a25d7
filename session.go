package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

const (
	requestTimeout = 25 * time.Second
	// total tries per request, transport errors and retryable statuses alike
	maxAttempts = 5
)

// Delay knobs, overridable in tests.
var (
	// base delay for the jittered pause in front of internal-API calls
	paceBaseDelay = 500 * time.Millisecond
	// first backoff interval between retry attempts
	retryInitialInterval = 500 * time.Millisecond
)

// Browser-like User-Agents; one is picked per session.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:128.0) Gecko/20100101 Firefox/128.0",
}

// session wraps an http.Client with bounded retry/backoff, a cookie jar
// pre-seeded with consent cookies, and jittered pacing for calls that hit
// the internal API. It is the only component holding cross-request state
// (connection pool, cookies).
type session struct {
	client    *http.Client
	userAgent string
	limiter   *rate.Limiter
}

func newSession() *session {
	jar, _ := cookiejar.New(nil)
	s := &session{
		client: &http.Client{
			Timeout: requestTimeout,
			Jar:     jar,
		},
		userAgent: userAgents[rand.Intn(len(userAgents))],
		limiter:   rate.NewLimiter(rate.Every(paceBaseDelay), 1),
	}
	s.setConsentCookies("YES+cb")
	return s
}

// setConsentCookies pre-answers the consent interstitial so EU-routed
// requests skip the redirect.
func (s *session) setConsentCookies(consentValue string) {
	u, _ := url.Parse("https://www.youtube.com/")
	s.client.Jar.SetCookies(u, []*http.Cookie{
		{Name: "CONSENT", Value: consentValue, Domain: ".youtube.com", Path: "/"},
		{Name: "SOCS", Value: "CAI", Domain: ".youtube.com", Path: "/"},
	})
}

// pace waits for the limiter's steady rate plus a jittered delay of
// 0.75x-1.25x the base. Called in front of every internal-API request to
// keep burst load down.
func (s *session) pace(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	jitter := time.Duration(float64(paceBaseDelay) * (0.75 + rand.Float64()*0.5))
	select {
	case <-time.After(jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retryableStatus reports whether a response status warrants another attempt.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// do performs the request with exponential backoff, retrying transport
// errors and retryable statuses up to maxAttempts total tries. On success it
// returns the fully-read body and the (closed) response; exhausted retries
// surface as a TransientFetchError.
func (s *session) do(req *http.Request) ([]byte, *http.Response, error) {
	req.Header.Set("User-Agent", s.userAgent)
	if req.Header.Get("Accept-Language") == "" {
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	}

	// buffer the request body so retries can replay it
	var reqBody []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("read request body: %w", err)
		}
		reqBody = b
	}

	var body []byte
	var final *http.Response

	attempt := func() error {
		if reqBody != nil {
			req.Body = io.NopCloser(bytes.NewReader(reqBody))
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if retryableStatus(resp.StatusCode) {
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		body = b
		final = resp
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.MaxInterval = 8 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, maxAttempts-1), req.Context())

	if err := backoff.Retry(attempt, policy); err != nil {
		return nil, nil, &TransientFetchError{
			Op:  fmt.Sprintf("%s %s", req.Method, req.URL.Host),
			Err: err,
		}
	}
	return body, final, nil
}

// get fetches a URL through the retrying client.
func (s *session) get(ctx context.Context, rawURL string) ([]byte, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	return s.do(req)
}
