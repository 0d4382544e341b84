package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/dossier/internal/fingerprint"
	"github.com/FranksOps/dossier/pkg/proxy"
	"github.com/FranksOps/dossier/pkg/useragent"
)

func newTestFetcher(t *testing.T, cfg FetchConfig) *Fetcher {
	t.Helper()
	if cfg.Fingerprint == "" {
		cfg.Fingerprint = fingerprint.ProfileGo
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	f, err := NewFetcher(cfg)
	if err != nil {
		t.Fatalf("failed to create fetcher: %v", err)
	}
	return f
}

func TestFetcher_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "TestBrowser/1.0" {
			t.Errorf("expected pooled User-Agent header, got %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("X-Test", "true")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer ts.Close()

	fetcher := newTestFetcher(t, FetchConfig{
		UAPool: useragent.NewPool([]string{"TestBrowser/1.0"}, useragent.RoundRobin),
	})

	res, err := fetcher.Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !res.OK() || res.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", res.StatusCode)
	}
	if string(res.Body) != "ok" {
		t.Errorf("expected body 'ok', got %s", string(res.Body))
	}
	if res.Header.Get("X-Test") != "true" {
		t.Errorf("expected X-Test header 'true', got %v", res.Header.Get("X-Test"))
	}
	if res.MediaType() != "text/html" {
		t.Errorf("expected media type text/html, got %q", res.MediaType())
	}
	if res.Duration == 0 {
		t.Errorf("expected non-zero duration")
	}
	if res.Challenge != "" {
		t.Errorf("expected no challenge, got %s", res.Challenge)
	}
}

func TestFetcher_NonOKIsResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "cloudflare")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("Attention Required! | Cloudflare"))
	}))
	defer ts.Close()

	fetcher := newTestFetcher(t, FetchConfig{})

	res, err := fetcher.Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.OK() {
		t.Errorf("expected non-2xx response")
	}
	if res.Status != "403 Forbidden" {
		t.Errorf("expected status text '403 Forbidden', got %q", res.Status)
	}
	if res.Challenge != "Cloudflare" {
		t.Errorf("expected Cloudflare challenge, got %q", res.Challenge)
	}
}

func TestFetcher_MaxBytes(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer ts.Close()

	fetcher := newTestFetcher(t, FetchConfig{MaxBytes: 10})

	res, err := fetcher.Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Body) != 10 || !res.Truncated {
		t.Errorf("expected 10 truncated bytes, got %d (truncated=%v)", len(res.Body), res.Truncated)
	}
}

func TestFetcher_Redirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("moved"))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	fetcher := newTestFetcher(t, FetchConfig{})

	res, err := fetcher.Fetch(context.Background(), ts.URL+"/old")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.FinalURL != ts.URL+"/new" {
		t.Errorf("expected final URL %s/new, got %s", ts.URL, res.FinalURL)
	}
	if res.URL != ts.URL+"/old" {
		t.Errorf("expected requested URL to be kept, got %s", res.URL)
	}
}

func TestFetcher_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	fetcher := newTestFetcher(t, FetchConfig{Timeout: 10 * time.Millisecond})

	if _, err := fetcher.Fetch(context.Background(), ts.URL); err == nil {
		t.Errorf("expected timeout error")
	}
}

func TestFetcher_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := ts.URL
	ts.Close()

	fetcher := newTestFetcher(t, FetchConfig{})
	if _, err := fetcher.Fetch(context.Background(), addr); err == nil {
		t.Errorf("expected connection error for closed server")
	}
}

func TestFetcher_Proxy(t *testing.T) {
	// A plain server standing in for a proxy: it answers every request itself
	proxyServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer proxyServer.Close()

	pPool := proxy.NewPool(proxy.Config{MaxFailures: 1, Cooldown: time.Second})
	if err := pPool.Add(proxyServer.URL); err != nil {
		t.Fatalf("failed to add proxy: %v", err)
	}

	targetServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer targetServer.Close()

	fetcher := newTestFetcher(t, FetchConfig{ProxyPool: pPool})

	res, err := fetcher.Fetch(context.Background(), targetServer.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.StatusCode != http.StatusTeapot {
		t.Errorf("expected 418 Teapot from proxy, got %d", res.StatusCode)
	}
}
