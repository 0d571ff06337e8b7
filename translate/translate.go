// Package translate wraps the external text-translation capability the
// normalizer consumes. It is a thin boundary: text in, text out, may fail.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type ErrorKind string

const (
	KindUnavailable ErrorKind = "unavailable"
	KindRateLimited ErrorKind = "rate_limited"
)

type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("translate: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type Translator interface {
	Translate(ctx context.Context, text, from, to string) (string, error)
}

// HTTPTranslator talks to a LibreTranslate-compatible endpoint.
type HTTPTranslator struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

func NewHTTPTranslator(endpoint, apiKey string) *HTTPTranslator {
	return &HTTPTranslator{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *HTTPTranslator) Translate(ctx context.Context, text, from, to string) (string, error) {
	if text == "" {
		return "", nil
	}

	payload, err := json.Marshal(map[string]string{
		"q":       text,
		"source":  from,
		"target":  to,
		"format":  "text",
		"api_key": t.apiKey,
	})
	if err != nil {
		return "", &Error{Kind: KindUnavailable, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", &Error{Kind: KindUnavailable, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return "", &Error{Kind: KindUnavailable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &Error{Kind: KindRateLimited, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &Error{Kind: KindUnavailable, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &Error{Kind: KindUnavailable, Err: err}
	}

	var out struct {
		TranslatedText string `json:"translatedText"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &Error{Kind: KindUnavailable, Err: err}
	}
	return out.TranslatedText, nil
}
