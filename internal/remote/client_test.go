package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/liangyou/devkit/pkg/models"
)

const sampleCatalog = `{
  "broadcast": "Java 21 is now the default LTS",
  "candidates": [
    {
      "name": "java",
      "display_name": "Java",
      "entrypoint": "bin/java",
      "home_var": "JAVA_HOME",
      "versions": [
        {"version": "17.0.9", "url": "https://dl.example/java/17.0.9/{platform}.tar.gz"},
        {"version": "21.0.1", "url": "https://dl.example/java/21.0.1/{platform}.tar.gz", "latest": true, "checksums": {"linuxx64": "abc"}},
        {"version": "22-ea", "url": "https://dl.example/java/22-ea/{platform}.tar.gz", "stable": false}
      ]
    },
    {"name": "gradle", "versions": [{"version": "8.5", "url": "https://dl.example/gradle-8.5.zip"}]},
    {"name": "", "versions": []}
  ]
}`

func TestFetchCatalogParsesAndSorts(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(sampleCatalog)); err != nil {
			t.Errorf("write response: %v", err)
		}
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithHTTPClient(server.Client()))

	snap, err := client.FetchCatalog(context.Background())
	if err != nil {
		t.Fatalf("FetchCatalog error: %v", err)
	}

	if snap.Broadcast != "Java 21 is now the default LTS" {
		t.Fatalf("unexpected broadcast %q", snap.Broadcast)
	}
	if len(snap.Candidates) != 2 || snap.Candidates[0].Name != "gradle" || snap.Candidates[1].HomeVar != "JAVA_HOME" {
		t.Fatalf("unexpected candidates: %#v", snap.Candidates)
	}

	wantOrder := []string{"gradle@8.5", "java@22-ea", "java@21.0.1", "java@17.0.9"}
	if len(snap.Entries) != len(wantOrder) {
		t.Fatalf("expected %d entries, got %d", len(wantOrder), len(snap.Entries))
	}
	for i, e := range snap.Entries {
		if got := models.Key(e.Candidate, e.Version); got != wantOrder[i] {
			t.Fatalf("unexpected order at %d: got %s want %s", i, got, wantOrder[i])
		}
	}
	if snap.Entries[1].Stable {
		t.Fatal("22-ea should be unstable")
	}
	if !snap.Entries[2].Latest || snap.Entries[2].Checksum("linuxx64") != "abc" {
		t.Fatalf("unexpected 21.0.1 entry: %#v", snap.Entries[2])
	}
}

func TestFetchCatalogHandlesHTTPError(t *testing.T) {
	t.Parallel()

	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithHTTPClient(server.Client()), WithAttempts(2))
	client.backoff = func(int) time.Duration { return time.Millisecond }

	_, err := client.FetchCatalog(context.Background())
	if !errors.Is(err, models.ErrNetworkUnavailable) {
		t.Fatalf("expected network unavailable, got %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestFetchCatalogNotFound(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	if _, err := client.FetchCatalog(context.Background()); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFetchCatalogUsesCache(t *testing.T) {
	t.Parallel()

	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if _, err := w.Write([]byte(sampleCatalog)); err != nil {
			t.Errorf("write response: %v", err)
		}
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithHTTPClient(server.Client()), WithCacheTTL(time.Hour))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := client.FetchCatalog(context.Background()); err != nil {
				t.Errorf("FetchCatalog error: %v", err)
			}
		}()
	}
	wg.Wait()

	if _, err := client.FetchCatalog(context.Background()); err != nil {
		t.Fatalf("FetchCatalog error: %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected single upstream hit, got %d", got)
	}
}

func TestFetchCatalogRejectsInvalidJSON(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>"))
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	if _, err := client.FetchCatalog(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}
