package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	cache, err := OpenCache(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestFetchUsesCacheWithinTTL(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("<html>listing page</html>"))
	}))
	defer srv.Close()

	client := NewClient(newTestCache(t), time.Hour)
	ctx := context.Background()

	first, err := client.Fetch(ctx, srv.URL)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if first.FromCache {
		t.Fatal("first fetch should not come from cache")
	}
	if string(first.Body) != "<html>listing page</html>" {
		t.Fatalf("unexpected body %q", first.Body)
	}

	second, err := client.Fetch(ctx, srv.URL)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if !second.FromCache {
		t.Fatal("second fetch should come from cache")
	}
	if string(second.Body) != "<html>listing page</html>" {
		t.Fatalf("unexpected cached body %q", second.Body)
	}
	if !second.FetchedAt.Equal(first.FetchedAt) {
		t.Fatalf("cache hit must carry the original retrieval time: %v vs %v", second.FetchedAt, first.FetchedAt)
	}

	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("expected exactly 1 network retrieval, got %d", n)
	}
}

func TestFetchRefetchesAfterExpiry(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n == 1 {
			w.Write([]byte("old body"))
		} else {
			w.Write([]byte("new body"))
		}
	}))
	defer srv.Close()

	client := NewClient(newTestCache(t), time.Hour)
	base := time.Now()
	client.now = func() time.Time { return base }
	ctx := context.Background()

	if _, err := client.Fetch(ctx, srv.URL); err != nil {
		t.Fatalf("first fetch: %v", err)
	}

	// Move past the TTL: the entry is logically absent now.
	client.now = func() time.Time { return base.Add(2 * time.Hour) }

	res, err := client.Fetch(ctx, srv.URL)
	if err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if res.FromCache {
		t.Fatal("expired entry must not be served from cache")
	}
	if string(res.Body) != "new body" {
		t.Fatalf("expected refetched body, got %q", res.Body)
	}
	if !res.FetchedAt.Equal(base.Add(2 * time.Hour)) {
		t.Fatalf("refetch must carry the new retrieval time, got %v", res.FetchedAt)
	}
	if n := atomic.LoadInt32(&hits); n != 2 {
		t.Fatalf("expected 2 retrievals, got %d", n)
	}
}

func TestFetchClassifiesBlocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewClient(newTestCache(t), time.Hour)
	_, err := client.Fetch(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsBlocked(err) {
		t.Fatalf("expected blocked error, got %v", err)
	}
}

func TestFetchDoesNotRetryBlocked(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(newTestCache(t), time.Hour)
	_, err := client.Fetch(context.Background(), srv.URL)
	if !IsBlocked(err) {
		t.Fatalf("expected blocked error, got %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("blocked response must not be retried, saw %d requests", n)
	}
}

func TestFetchRetriesTransient(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("finally"))
	}))
	defer srv.Close()

	client := NewClient(newTestCache(t), time.Hour)
	client.retry = RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}

	res, err := client.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if string(res.Body) != "finally" {
		t.Fatalf("unexpected body %q", res.Body)
	}
	if n := atomic.LoadInt32(&hits); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
}

func TestFetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	client := NewClient(newTestCache(t), time.Hour)
	_, err := client.Fetch(context.Background(), srv.URL)
	if !IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestCachePutOverwrites(t *testing.T) {
	cache := newTestCache(t)
	now := time.Now()

	if err := cache.Put("u", []byte("one"), now, time.Hour); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := cache.Put("u", []byte("two"), now.Add(time.Minute), time.Hour); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	body, fetchedAt, hit, err := cache.Get("u", now.Add(2*time.Minute))
	if err != nil || !hit {
		t.Fatalf("get: hit=%v err=%v", hit, err)
	}
	if string(body) != "two" {
		t.Fatalf("expected overwritten body, got %q", body)
	}
	if !fetchedAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("expected overwritten fetch time, got %v", fetchedAt)
	}
}
