package serp

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/FranksOps/dossier/internal/scraper"
	"github.com/PuerkitoBio/goquery"
)

const defaultDuckDuckGoURL = "https://html.duckduckgo.com"

// ensure DuckDuckGo implements Provider
var _ Provider = (*DuckDuckGo)(nil)

// DuckDuckGo scrapes the keyless HTML endpoint. It reports no relevance
// scores, so results get synthetic descending scores in page order.
type DuckDuckGo struct {
	fetcher *scraper.Fetcher
	baseURL string
	logger  *slog.Logger
}

// NewDuckDuckGo creates a provider that fetches result pages through fetcher.
// An empty baseURL means the public endpoint.
func NewDuckDuckGo(fetcher *scraper.Fetcher, baseURL string, logger *slog.Logger) *DuckDuckGo {
	if baseURL == "" {
		baseURL = defaultDuckDuckGoURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DuckDuckGo{
		fetcher: fetcher,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

// Search returns at most limit candidates for query.
func (d *DuckDuckGo) Search(ctx context.Context, query string, limit int) ([]Candidate, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	target := d.baseURL + "/html/?q=" + url.QueryEscape(query)
	d.logger.Info("searching", "provider", d.Name(), "query", query, "limit", limit)

	res, err := d.fetcher.Fetch(ctx, target)
	if err != nil {
		return nil, searchErr(d.Name(), err)
	}
	if !res.OK() {
		return nil, searchErr(d.Name(), fmt.Errorf("unexpected status %s", res.Status))
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return nil, searchErr(d.Name(), fmt.Errorf("parse results page: %w", err))
	}

	var cands []Candidate
	doc.Find(".result").Not(".result--ad").Each(func(_ int, s *goquery.Selection) {
		link := s.Find("a.result__a").First()
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		target := resolveRedirect(href)
		if target == "" {
			return
		}
		cands = append(cands, Candidate{
			URL:     target,
			Title:   link.Text(),
			Snippet: s.Find(".result__snippet").First().Text(),
		})
	})

	n := len(cands)
	for i := range cands {
		cands[i].Score = float64(n-i) / float64(n)
	}

	cands = normalize(cands, limit)
	d.logger.Info("search complete", "provider", d.Name(), "results", len(cands))
	return cands, nil
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg= tracking links and makes
// protocol-relative links absolute.
func resolveRedirect(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}
