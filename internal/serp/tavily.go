package serp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/FranksOps/dossier/pkg/httpclient"
)

const defaultTavilyURL = "https://api.tavily.com"

// ensure Tavily implements Provider
var _ Provider = (*Tavily)(nil)

// TavilyConfig configures the Tavily search API client.
type TavilyConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Tavily searches through the Tavily API with advanced depth. Answers and raw
// content are not requested; extraction happens downstream.
type Tavily struct {
	apiKey  string
	baseURL string
	client  *httpclient.Client
	logger  *slog.Logger
}

type tavilyRequest struct {
	APIKey            string `json:"api_key"`
	Query             string `json:"query"`
	SearchDepth       string `json:"search_depth"`
	MaxResults        int    `json:"max_results"`
	IncludeAnswer     bool   `json:"include_answer"`
	IncludeRawContent bool   `json:"include_raw_content"`
}

type tavilyResponse struct {
	Results []struct {
		URL           string  `json:"url"`
		Title         string  `json:"title"`
		Content       string  `json:"content"`
		PublishedDate string  `json:"published_date"`
		Score         float64 `json:"score"`
	} `json:"results"`
}

// NewTavily creates a Tavily provider. An API key is required.
func NewTavily(cfg TavilyConfig) (*Tavily, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("tavily: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTavilyURL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:   cfg.Timeout,
		UserAgent: "dossier",
	})
	if err != nil {
		return nil, err
	}

	return &Tavily{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
		logger:  cfg.Logger,
	}, nil
}

func (t *Tavily) Name() string { return "tavily" }

// Search returns at most limit candidates for query.
func (t *Tavily) Search(ctx context.Context, query string, limit int) ([]Candidate, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	t.logger.Info("searching", "provider", t.Name(), "query", query, "limit", limit)

	var resp tavilyResponse
	err := t.client.DoJSON(ctx, http.MethodPost, t.baseURL+"/search", tavilyRequest{
		APIKey:      t.apiKey,
		Query:       query,
		SearchDepth: "advanced",
		MaxResults:  limit,
	}, &resp)
	if err != nil {
		t.logger.Error("search failed", "provider", t.Name(), "err", err)
		return nil, searchErr(t.Name(), err)
	}

	cands := make([]Candidate, 0, len(resp.Results))
	for _, r := range resp.Results {
		cands = append(cands, Candidate{
			URL:           r.URL,
			Title:         r.Title,
			Snippet:       r.Content,
			PublishedDate: r.PublishedDate,
			Score:         r.Score,
		})
	}

	cands = normalize(cands, limit)
	t.logger.Info("search complete", "provider", t.Name(), "results", len(cands))
	return cands, nil
}
