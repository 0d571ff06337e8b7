package fetch

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const maxBodyBytes = 4 << 20

// Browser-like headers. Bare Go defaults get refused outright by the
// portals.
var defaultHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.9,it;q=0.8",
}

// Result is one retrieved document. FetchedAt is the retrieval time of
// the underlying network call, so a cache hit carries the original
// timestamp: downstream price observations keyed on it stay idempotent
// across runs that see the same cached document.
type Result struct {
	Body      []byte
	FromCache bool
	FetchedAt time.Time
}

type inflightCall struct {
	done chan struct{}
	res  Result
	err  error
}

// Client retrieves documents through the persistent cache. A hit inside
// the TTL window never touches the network; concurrent fetches of the
// same URL share a single request; requests per host are rate limited.
type Client struct {
	http  *http.Client
	cache *Cache
	ttl   time.Duration
	retry RetryConfig

	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	hostInterval map[string]time.Duration
	inflight     map[string]*inflightCall

	defaultInterval time.Duration
	now             func() time.Time
}

func NewClient(cache *Cache, ttl time.Duration) *Client {
	return &Client{
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
		cache:           cache,
		ttl:             ttl,
		retry:           RetryConfig{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond},
		limiters:        make(map[string]*rate.Limiter),
		hostInterval:    make(map[string]time.Duration),
		inflight:        make(map[string]*inflightCall),
		defaultInterval: 500 * time.Millisecond,
		now:             time.Now,
	}
}

// SetHTTPClient swaps the underlying HTTP client, e.g. for a proxied
// transport. Call before the first Fetch.
func (c *Client) SetHTTPClient(h *http.Client) {
	if h != nil {
		c.http = h
	}
}

// SetHostInterval pins the minimum delay between requests to a host.
// Site configs call this with their rate_limit_ms.
func (c *Client) SetHostInterval(host string, interval time.Duration) {
	if interval <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hostInterval[host] = interval
	delete(c.limiters, host)
}

func (c *Client) limiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	if lim, ok := c.limiters[host]; ok {
		return lim
	}
	interval := c.defaultInterval
	if custom, ok := c.hostInterval[host]; ok {
		interval = custom
	}
	lim := rate.NewLimiter(rate.Every(interval), 1)
	c.limiters[host] = lim
	return lim
}

// Fetch returns the document at rawURL, from cache when a live entry
// exists.
func (c *Client) Fetch(ctx context.Context, rawURL string) (res Result, err error) {
	if body, fetchedAt, hit, cacheErr := c.cache.Get(rawURL, c.now()); cacheErr != nil {
		log.Printf("[fetch] cache read for %s failed, treating as miss: %v", rawURL, cacheErr)
	} else if hit {
		return Result{Body: body, FromCache: true, FetchedAt: fetchedAt}, nil
	}

	// In-flight dedup: the first caller does the retrieval, later callers
	// wait for its result.
	c.mu.Lock()
	if call, ok := c.inflight[rawURL]; ok {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.res, call.err
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	call := &inflightCall{done: make(chan struct{})}
	c.inflight[rawURL] = call
	c.mu.Unlock()

	defer func() {
		call.res, call.err = res, err
		close(call.done)
		c.mu.Lock()
		delete(c.inflight, rawURL)
		c.mu.Unlock()
	}()

	host := ""
	if u, parseErr := url.Parse(rawURL); parseErr == nil {
		host = u.Host
	}
	if waitErr := c.limiter(host).Wait(ctx); waitErr != nil {
		return Result{}, waitErr
	}

	var body []byte
	err = c.retry.Do(ctx, rawURL, func() error {
		var reqErr error
		body, reqErr = c.doRequest(ctx, rawURL)
		return reqErr
	})
	if err != nil {
		return Result{}, err
	}

	fetchedAt := c.now()
	if putErr := c.cache.Put(rawURL, body, fetchedAt, c.ttl); putErr != nil {
		log.Printf("[fetch] cache write for %s failed: %v", rawURL, putErr)
	}
	return Result{Body: body, FetchedAt: fetchedAt}, nil
}

func (c *Client) doRequest(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{Kind: KindNotFound, URL: rawURL, Err: err}
	}
	for k, v := range defaultHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Kind: KindTransient, URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{Kind: KindBlocked, URL: rawURL, Status: resp.StatusCode}
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, &Error{Kind: KindNotFound, URL: rawURL, Status: resp.StatusCode}
	case resp.StatusCode >= 500:
		return nil, &Error{Kind: KindTransient, URL: rawURL, Status: resp.StatusCode}
	default:
		return nil, &Error{Kind: KindTransient, URL: rawURL, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &Error{Kind: KindTransient, URL: rawURL, Err: err}
	}
	return body, nil
}
