package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/FranksOps/dossier/internal/metrics"
	"github.com/FranksOps/dossier/internal/scraper"
)

// Strategy names the extraction path a document took.
type Strategy string

const (
	StrategyHTML Strategy = "html"
	StrategyPDF  Strategy = "pdf"
)

// Failure messages recorded on Result.Error.
const (
	MsgUnsupportedURL = "unsupported URL type"
	MsgDisallowed     = "disallowed by robots.txt"
	MsgNoHTMLContent  = "No content could be extracted from HTML"
	MsgNoPDFText      = "No text content found in PDF"
)

// Result is the outcome of extracting one URL. Failures are data: Success is
// false and Error says why.
type Result struct {
	URL       string   `json:"url"`
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	WordCount int      `json:"word_count"`
	PageCount int      `json:"page_count,omitempty"`
	Strategy  Strategy `json:"strategy,omitempty"`
	Success   bool     `json:"success"`
	Error     string   `json:"error,omitempty"`
}

// Fetcher retrieves a document. *scraper.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*scraper.Response, error)
}

// Robots decides whether a URL may be fetched. *scraper.RobotsPolicy
// satisfies it.
type Robots interface {
	Allowed(ctx context.Context, url string) (bool, error)
}

// Config wires an Extractor.
type Config struct {
	Fetcher Fetcher
	// Robots is consulted before fetching when set.
	Robots Robots
	Logger *slog.Logger
}

// Extractor turns URLs into readable text.
type Extractor struct {
	fetcher Fetcher
	robots  Robots
	logger  *slog.Logger
}

// New creates an Extractor.
func New(cfg Config) *Extractor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Extractor{
		fetcher: cfg.Fetcher,
		robots:  cfg.Robots,
		logger:  cfg.Logger,
	}
}

// Extract fetches rawURL and extracts its text as HTML or PDF. It never
// returns an error or panics; every outcome is a Result.
func (e *Extractor) Extract(ctx context.Context, rawURL string) (res Result) {
	res = Result{URL: rawURL}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("extraction panicked", "url", rawURL, "panic", r)
			res = Result{URL: rawURL, Error: fmt.Sprintf("Content extraction failed: %v", r)}
		}
		metrics.RecordExtraction(string(res.Strategy), res.Success)
	}()

	if !Extractable(rawURL) {
		res.Error = MsgUnsupportedURL
		return res
	}

	if e.robots != nil {
		allowed, err := e.robots.Allowed(ctx, rawURL)
		if err == nil && !allowed {
			e.logger.Info("skipping source disallowed by robots.txt", "url", rawURL)
			res.Error = MsgDisallowed
			return res
		}
	}

	e.logger.Info("extracting content", "url", rawURL)

	resp, err := e.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		e.logger.Error("failed to fetch", "url", rawURL, "err", err)
		res.Error = fmt.Sprintf("Failed to fetch content: %v", err)
		return res
	}

	if !resp.OK() {
		res.Error = fmt.Sprintf("Failed to fetch content: %s for url: %s", resp.Status, rawURL)
		if resp.Challenge != "" {
			res.Error += fmt.Sprintf(" (blocked by %s)", resp.Challenge)
		}
		e.logger.Error("failed to fetch", "url", rawURL, "status", resp.StatusCode, "challenge", resp.Challenge)
		return res
	}

	if isPDF(resp, rawURL) {
		return e.pdf(resp, rawURL)
	}
	return e.html(resp, rawURL)
}

func isPDF(resp *scraper.Response, rawURL string) bool {
	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "pdf") {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".pdf")
}

func (e *Extractor) html(resp *scraper.Response, rawURL string) Result {
	res := Result{URL: rawURL, Strategy: StrategyHTML}

	title, content, err := extractHTML(resp.Body, resp.Header.Get("Content-Type"))
	switch {
	case errors.Is(err, errNoHTMLContent):
		res.Error = MsgNoHTMLContent
		return res
	case err != nil:
		res.Error = err.Error()
		return res
	}

	res.Title = title
	res.Content = content
	res.WordCount = len(strings.Fields(content))
	res.Success = true
	e.logger.Info("extracted content", "url", rawURL, "strategy", res.Strategy, "words", res.WordCount)
	return res
}

func (e *Extractor) pdf(resp *scraper.Response, rawURL string) Result {
	res := Result{URL: rawURL, Strategy: StrategyPDF}

	doc, err := extractPDF(resp.Body, rawURL, e.logger)
	switch {
	case errors.Is(err, errNoPDFText):
		res.PageCount = doc.PageCount
		res.Error = MsgNoPDFText
		return res
	case err != nil:
		e.logger.Error("PDF extraction failed", "url", rawURL, "err", err)
		res.Error = fmt.Sprintf("PDF extraction failed: %v", err)
		return res
	}

	res.Title = doc.Title
	res.Content = doc.Content
	res.PageCount = doc.PageCount
	res.WordCount = len(strings.Fields(doc.Content))
	res.Success = true
	e.logger.Info("extracted content", "url", rawURL, "strategy", res.Strategy, "pages", res.PageCount, "words", res.WordCount)
	return res
}
