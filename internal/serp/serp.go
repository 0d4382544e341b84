package serp

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// DefaultLimit is used when Search is called with a limit <= 0.
const DefaultLimit = 3

// ErrSearch marks every failure of a search provider call. Providers do not
// retry internally.
var ErrSearch = errors.New("search failed")

// Candidate is one search hit, in provider relevance order.
type Candidate struct {
	URL           string  `json:"url"`
	Title         string  `json:"title"`
	Snippet       string  `json:"snippet"`
	PublishedDate string  `json:"published_date,omitempty"`
	Score         float64 `json:"score"`
}

// Provider finds candidate sources for a free-text query. Results are at most
// limit long and ordered by descending relevance.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]Candidate, error)
}

// SearchError wraps a provider failure so callers can match ErrSearch.
type SearchError struct {
	Provider string
	Err      error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrSearch, e.Provider, e.Err)
}

func (e *SearchError) Unwrap() []error {
	return []error{ErrSearch, e.Err}
}

func searchErr(provider string, err error) error {
	return &SearchError{Provider: provider, Err: err}
}

var plainText = bluemonday.StrictPolicy()

// sanitize strips markup from provider text and collapses whitespace. The
// policy escapes entities on output, so they are decoded back to plain text.
func sanitize(s string) string {
	return strings.Join(strings.Fields(html.UnescapeString(plainText.Sanitize(s))), " ")
}

// normalize sanitizes text fields, drops hits without a URL, keeps providers'
// order among equal scores and applies the limit.
func normalize(cands []Candidate, limit int) []Candidate {
	if limit <= 0 {
		limit = DefaultLimit
	}

	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		c.URL = strings.TrimSpace(c.URL)
		if c.URL == "" {
			continue
		}
		c.Title = sanitize(c.Title)
		c.Snippet = sanitize(c.Snippet)
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })

	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
