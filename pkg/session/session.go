// Package session issues outbound requests with per-upstream-domain session
// continuity: one cookie jar, one last-request timestamp, and one in-flight
// request per domain, with identity header rotation and bounded retry.
package session

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shelfwatch/shelfwatch/internal/utils"
	"github.com/weppos/publicsuffix-go/publicsuffix"
)

// Clock abstracts wall-clock reads and throttling sleeps for tests.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// SystemClock returns the real clock.
func SystemClock() Clock { return systemClock{} }

// identityPool is the fixed rotation pool of identity headers. Selection is
// a pure function of the injected random source; the pool itself is never
// mutated.
var identityPool = []string{
	"Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/115.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (Version/17.1 Safari/605.1.15)",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
}

// baseHeaders are merged into every request before identity and per-domain
// headers.
var baseHeaders = map[string]string{
	"Accept":          "application/json, text/html, */*",
	"Accept-Language": "en-US,en;q=0.9",
	"Connection":      "keep-alive",
}

// domainHeaders carries referer/origin headers some upstreams require before
// answering their JSON endpoints.
var domainHeaders = map[string]map[string]string{
	"bestbuy.com": {
		"Referer": "https://www.bestbuy.com/",
		"Origin":  "https://www.bestbuy.com",
	},
	"target.com": {
		"Referer": "https://www.target.com/",
		"Origin":  "https://www.target.com",
	},
}

// Config controls Manager behavior. The zero value gets sane defaults.
type Config struct {
	// MinSpacing is the minimum wall-clock gap between consecutive requests
	// to the same domain. Default 2s.
	MinSpacing time.Duration
	// MaxRetries is the total number of attempts for retryable failures.
	// Default 3.
	MaxRetries int
	// Timeout applies to every outbound request. Default 15s.
	Timeout time.Duration
	// DisableRotation pins the identity header to the pool's first entry.
	DisableRotation bool
	// Proxy is an optional HTTP proxy URL.
	Proxy string
	// Clock defaults to the system clock.
	Clock Clock
	// Backoff overrides the retry delay. Default is 2^attempt seconds plus
	// up to one second of jitter.
	Backoff retryablehttp.Backoff
	// Seed fixes the random source when non-zero.
	Seed int64
}

// Request is a single outbound call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
}

// Response carries everything callers need from an upstream reply.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
	// Title is the HTML <title> when the body is markup; useful for spotting
	// block pages in logs.
	Title string
}

// Manager owns one Session per upstream domain, created lazily and reused
// for the life of the process.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	cfg      Config
	clock    Clock
}

// Session is the per-domain state: cookie jar, retrying client, last-request
// timestamp. Its mutex makes the one-request-in-flight-per-domain invariant
// structural rather than a caller convention.
type Session struct {
	domain      string
	mu          sync.Mutex
	client      *retryablehttp.Client
	rng         *rand.Rand
	lastRequest time.Time
}

// NewManager builds a Manager.
func NewManager(cfg Config) *Manager {
	if cfg.MinSpacing <= 0 {
		cfg.MinSpacing = 2 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	clock := cfg.Clock
	if clock == nil {
		clock = systemClock{}
	}
	return &Manager{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		clock:    clock,
	}
}

// DomainOf collapses a request host to its registrable domain so that
// www./api. subdomains share one session and one throttle.
func DomainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	host := u.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		// Keep the port: distinct local listeners are distinct upstreams.
		if reg, perr := publicsuffix.Domain(h); perr == nil {
			return reg + host[len(h):]
		}
		return host
	}
	if reg, err := publicsuffix.Domain(host); err == nil {
		return reg
	}
	return host
}

func (m *Manager) session(domain string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[domain]; ok {
		return s
	}
	s := &Session{
		domain: domain,
		client: m.newClient(),
		rng:    m.newRand(),
	}
	if m.cfg.Backoff == nil {
		s.client.Backoff = expBackoff(s.rng)
	}
	m.sessions[domain] = s
	return s
}

func (m *Manager) newRand() *rand.Rand {
	seed := m.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

func (m *Manager) newClient() *retryablehttp.Client {
	jar, err := cookiejar.New(nil)
	if err != nil {
		utils.Log.Warnf("cookie jar init failed: %v", err)
	}
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = m.cfg.MaxRetries - 1
	client.HTTPClient.Timeout = m.cfg.Timeout
	client.HTTPClient.Jar = jar
	client.CheckRetry = checkRetry
	if m.cfg.Backoff != nil {
		client.Backoff = m.cfg.Backoff
	}

	if m.cfg.Proxy != "" {
		if proxyURL, err := url.Parse(m.cfg.Proxy); err == nil {
			client.HTTPClient.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		} else {
			utils.Log.Warnf("invalid proxy URL %q: %v", m.cfg.Proxy, err)
		}
	}
	return client
}

// checkRetry treats transport errors and 5xx as retryable; everything below
// 500 (4xx included) is a terminal response handed back to the caller.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	return resp.StatusCode >= 500, nil
}

// Do issues a request through the domain's session, enforcing throttling,
// header merging, and bounded retry.
func (m *Manager) Do(ctx context.Context, req *Request) (*Response, error) {
	domain := DomainOf(req.URL)
	s := m.session(domain)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lastRequest.IsZero() {
		if wait := m.cfg.MinSpacing - m.clock.Now().Sub(s.lastRequest); wait > 0 {
			utils.Log.Debugf("throttling %s for %s", domain, wait)
			m.clock.Sleep(wait)
		}
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	rreq, err := retryablehttp.NewRequestWithContext(ctx, method, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", req.URL, err)
	}
	m.applyHeaders(rreq, s, domain, req.Headers)

	resp, err := s.client.Do(rreq)
	s.lastRequest = m.clock.Now()
	if err != nil {
		utils.Log.Errorf("request to %s failed after retries: %v", domain, err)
		return nil, fmt.Errorf("%s request failed: %w", domain, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", domain, err)
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		Header:     resp.Header.Clone(),
	}
	if title, ok := htmlTitle(body); ok {
		out.Title = title
	}
	return out, nil
}

func (m *Manager) applyHeaders(rreq *retryablehttp.Request, s *Session, domain string, extra map[string]string) {
	for k, v := range baseHeaders {
		rreq.Header.Set(k, v)
	}
	rreq.Header.Set("User-Agent", m.pickIdentity(s))
	for k, v := range domainHeaders[domain] {
		rreq.Header.Set(k, v)
	}
	for k, v := range extra {
		rreq.Header.Set(k, v)
	}
}

func (m *Manager) pickIdentity(s *Session) string {
	if m.cfg.DisableRotation {
		return identityPool[0]
	}
	return identityPool[s.rng.Intn(len(identityPool))]
}

// expBackoff implements the 2^attempt-seconds-plus-jitter retry delay.
// attemptNum is zero-based, so the first retry waits ~2s.
func expBackoff(rng *rand.Rand) retryablehttp.Backoff {
	return func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		base := time.Duration(1<<uint(attemptNum+1)) * time.Second
		jitter := time.Duration(rng.Int63n(int64(time.Second)))
		return base + jitter
	}
}

// InitializeSession performs a best-effort GET against the domain root to
// seed cookies before real calls. Failures are logged and swallowed.
func (m *Manager) InitializeSession(ctx context.Context, domain string) {
	rootURL := domain
	if !strings.HasPrefix(rootURL, "http") {
		rootURL = "https://" + domain + "/"
	}
	if _, err := m.Do(ctx, &Request{URL: rootURL}); err != nil {
		utils.Log.Debugf("session warmup for %s failed: %v", domain, err)
	}
}
