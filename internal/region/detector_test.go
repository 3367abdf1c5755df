package region

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestDetectorCachesCountryCode(t *testing.T) {
	t.Parallel()

	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if _, err := w.Write([]byte("cn\n")); err != nil {
			t.Errorf("write response: %v", err)
		}
	}))
	t.Cleanup(server.Close)

	detector := NewDetector(
		WithEndpoint(server.URL),
		WithHTTPClient(server.Client()),
	)

	for i := 0; i < 2; i++ {
		code, err := detector.CountryCode(context.Background())
		if err != nil {
			t.Fatalf("CountryCode error: %v", err)
		}
		if code != "CN" {
			t.Fatalf("expected CN, got %s", code)
		}
	}

	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected 1 upstream hit, got %d", got)
	}
}

func TestDetectorPersistsAcrossInstances(t *testing.T) {
	t.Parallel()

	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("DE"))
	}))
	t.Cleanup(server.Close)

	cacheFile := filepath.Join(t.TempDir(), "var", "country")
	for i := 0; i < 2; i++ {
		detector := NewDetector(
			WithEndpoint(server.URL),
			WithHTTPClient(server.Client()),
			WithCacheFile(cacheFile, time.Hour),
		)
		code, err := detector.CountryCode(context.Background())
		if err != nil {
			t.Fatalf("CountryCode error: %v", err)
		}
		if code != "DE" {
			t.Fatalf("expected DE, got %s", code)
		}
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected the second process to reuse the cache file, got %d hits", got)
	}

	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(cacheFile, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	detector := NewDetector(
		WithEndpoint(server.URL),
		WithHTTPClient(server.Client()),
		WithCacheFile(cacheFile, time.Hour),
	)
	if _, err := detector.CountryCode(context.Background()); err != nil {
		t.Fatalf("CountryCode error: %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Fatalf("expected expired cache to trigger a lookup, got %d hits", got)
	}
}

func TestDetectorFallsBack(t *testing.T) {
	t.Parallel()

	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(primary.Close)
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"country_code":"us"}`))
	}))
	t.Cleanup(fallback.Close)

	detector := NewDetector(
		WithEndpoint(primary.URL),
		WithFallbackEndpoint(fallback.URL),
		WithHTTPClient(primary.Client()),
	)
	code, err := detector.CountryCode(context.Background())
	if err != nil {
		t.Fatalf("CountryCode error: %v", err)
	}
	if code != "US" {
		t.Fatalf("expected US, got %s", code)
	}
}

func TestDetectorReturnsErrorOnFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	detector := NewDetector(
		WithEndpoint(server.URL),
		WithFallbackEndpoint(""),
		WithHTTPClient(server.Client()),
	)

	if _, err := detector.CountryCode(context.Background()); err == nil {
		t.Fatal("expected error for non-200 status")
	}
}
