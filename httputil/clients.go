package httputil

import (
	"crypto/tls"
	"log"
	"net/http"
	"net/url"
	"time"
)

// NewScrapingClient builds the HTTP client used against listing portals.
// With a proxy URL configured, HTTP/2 is disabled: residential proxies
// routinely mangle it. Redirects are followed normally; the portals use
// them for town-level URL canonicalization.
func NewScrapingClient(proxyURL string) *http.Client {
	client := &http.Client{
		Timeout: 15 * time.Second,
	}

	if proxyURL == "" {
		return client
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		log.Printf("[httputil] bad proxy url, going direct: %v", err)
		return client
	}

	client.Transport = &http.Transport{
		Proxy:             http.ProxyURL(parsed),
		ForceAttemptHTTP2: false,
		TLSNextProto:      make(map[string]func(string, *tls.Conn) http.RoundTripper),
	}
	return client
}
