package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/FranksOps/dossier/internal/bypass"
	"github.com/FranksOps/dossier/internal/fingerprint"
	"github.com/FranksOps/dossier/internal/metrics"
	"github.com/FranksOps/dossier/pkg/httpclient"
	"github.com/FranksOps/dossier/pkg/proxy"
	"github.com/FranksOps/dossier/pkg/ratelimit"
	"github.com/FranksOps/dossier/pkg/useragent"
)

type contextKey string

const proxyKey contextKey = "proxy_url"

// DefaultMaxBytes caps a downloaded body. Larger documents are truncated.
const DefaultMaxBytes = 10 << 20

// FetchConfig configures the transport shared by every fetch.
type FetchConfig struct {
	Timeout      time.Duration
	MaxRedirects int
	MaxBytes     int64
	UseCookieJar bool
	ProxyPool    *proxy.Pool
	UAPool       *useragent.Pool
	Fingerprint  fingerprint.Profile
	Limiter      *ratelimit.Limiter
	// InsecureSkipVerify disables certificate checks. Tests only.
	InsecureSkipVerify bool
	Logger             *slog.Logger
}

// Response is a fetched document.
type Response struct {
	URL        string
	FinalURL   string
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
	Truncated  bool
	Duration   time.Duration
	// Challenge names the bot protection vendor that answered, if any.
	Challenge string
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

// MediaType returns the lower-cased media type of the Content-Type header.
func (r *Response) MediaType() string {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return mt
}

// Fetcher performs GET requests through a fingerprinted transport with
// User-Agent rotation, optional proxy rotation and per-host pacing.
type Fetcher struct {
	config FetchConfig
	client *httpclient.Client
	logger *slog.Logger
}

// NewFetcher builds the transport once so connections and cookies are reused
// across fetches.
func NewFetcher(cfg FetchConfig) (*Fetcher, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.UAPool == nil {
		cfg.UAPool = useragent.NewPool(nil, useragent.RoundRobin)
	}
	if cfg.Fingerprint == "" {
		cfg.Fingerprint = fingerprint.ProfileChrome
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	// The proxy for a request travels in its context so one transport can
	// rotate proxies without being mutated.
	proxyFunc := func(req *http.Request) (*url.URL, error) {
		if u, ok := req.Context().Value(proxyKey).(*url.URL); ok && u != nil {
			return u, nil
		}
		return http.ProxyFromEnvironment(req)
	}

	transport, err := fingerprint.Transport(cfg.Fingerprint, fingerprint.Options{
		Proxy:              proxyFunc,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to setup transport: %w", err)
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: cfg.MaxRedirects,
		UseCookieJar: cfg.UseCookieJar,
		Transport:    transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return &Fetcher{
		config: cfg,
		client: client,
		logger: cfg.Logger,
	}, nil
}

// UserAgent returns a User-Agent from the fetcher's pool.
func (f *Fetcher) UserAgent() string {
	return f.config.UAPool.Next()
}

// Fetch GETs targetURL. Transport failures are returned as errors; any HTTP
// response, whatever its status, is returned as a Response.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string) (*Response, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	if err := f.config.Limiter.Wait(ctx, u.Host); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var activeProxy *url.URL
	if f.config.ProxyPool != nil {
		activeProxy = f.config.ProxyPool.Next()
	}
	reqCtx := ctx
	if activeProxy != nil {
		reqCtx = context.WithValue(ctx, proxyKey, activeProxy)
	}

	req.Header.Set("User-Agent", f.config.UAPool.Next())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,application/pdf;q=0.8,*/*;q=0.7")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	start := time.Now()
	resp, err := f.client.Do(reqCtx, req)
	if err != nil {
		if activeProxy != nil {
			_ = f.config.ProxyPool.MarkFailure(activeProxy)
			metrics.ProxyFailures.WithLabelValues(activeProxy.Redacted()).Inc()
		}
		metrics.RecordFetch(u.Hostname(), metrics.Fetch{Failed: true, Duration: time.Since(start)})
		f.logger.Debug("fetch failed", "url", targetURL, "err", err)
		return nil, err
	}
	defer resp.Body.Close()

	if activeProxy != nil {
		_ = f.config.ProxyPool.MarkSuccess(activeProxy)
	}

	body, truncated, err := httpclient.ReadLimited(resp.Body, f.config.MaxBytes)
	if err != nil {
		metrics.RecordFetch(u.Hostname(), metrics.Fetch{Failed: true, Duration: time.Since(start), Bytes: len(body)})
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	result := &Response{
		URL:        targetURL,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       body,
		Truncated:  truncated,
		Duration:   time.Since(start),
	}
	result.Challenge = bypass.Detect(&bypass.Page{
		StatusCode: result.StatusCode,
		Header:     result.Header,
		Body:       result.Body,
	}, bypass.DefaultDetectors())

	metrics.RecordFetch(u.Hostname(), metrics.Fetch{
		StatusCode: result.StatusCode,
		Vendor:     result.Challenge,
		Duration:   result.Duration,
		Bytes:      len(body),
	})
	if truncated {
		f.logger.Warn("response body truncated", "url", targetURL, "limit", f.config.MaxBytes)
	}

	return result, nil
}
