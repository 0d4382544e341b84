package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

// RobotsPolicy answers whether a URL may be fetched under its host's
// robots.txt. Each host's file is fetched once and cached; a missing or
// unreachable file allows everything.
type RobotsPolicy struct {
	fetcher *Fetcher
	agent   string
	logger  *slog.Logger
	group   singleflight.Group
	mu      sync.RWMutex
	cache   map[string]*robotstxt.RobotsData
}

// NewRobotsPolicy creates a policy that evaluates rules for agent.
func NewRobotsPolicy(fetcher *Fetcher, agent string, logger *slog.Logger) *RobotsPolicy {
	if logger == nil {
		logger = slog.Default()
	}
	if agent == "" {
		agent = "*"
	}
	return &RobotsPolicy{
		fetcher: fetcher,
		agent:   agent,
		logger:  logger,
		cache:   make(map[string]*robotstxt.RobotsData),
	}
}

// Allowed reports whether targetURL may be fetched.
func (r *RobotsPolicy) Allowed(ctx context.Context, targetURL string) (bool, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return false, fmt.Errorf("invalid url: %w", err)
	}

	data := r.rules(ctx, u.Scheme+"://"+u.Host)
	if data == nil {
		return true, nil
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return data.FindGroup(r.agent).Test(path), nil
}

func (r *RobotsPolicy) rules(ctx context.Context, origin string) *robotstxt.RobotsData {
	r.mu.RLock()
	data, ok := r.cache[origin]
	r.mu.RUnlock()
	if ok {
		return data
	}

	v, _, _ := r.group.Do(origin, func() (any, error) {
		data := r.load(ctx, origin)
		r.mu.Lock()
		r.cache[origin] = data
		r.mu.Unlock()
		return data, nil
	})
	return v.(*robotstxt.RobotsData)
}

func (r *RobotsPolicy) load(ctx context.Context, origin string) *robotstxt.RobotsData {
	res, err := r.fetcher.Fetch(ctx, origin+"/robots.txt")
	if err != nil {
		r.logger.Debug("robots.txt fetch failed, defaulting to allow", "host", origin, "err", err)
		return nil
	}

	// robotstxt maps 4xx to allow-all and 5xx to disallow-all
	data, err := robotstxt.FromStatusAndBytes(res.StatusCode, res.Body)
	if err != nil {
		r.logger.Debug("robots.txt parse failed, defaulting to allow", "host", origin, "err", err)
		return nil
	}
	return data
}
