// Package search adapts the keyword-search API into the normalized
// title/link/snippet shape the aggregator composes.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/d3vh/omnifeed/internal/config"
	"github.com/d3vh/omnifeed/internal/metrics"
	"github.com/d3vh/omnifeed/internal/runtime/cache"
)

const (
	source   = "search"
	category = "search"

	upstreamTimeout   = 15 * time.Second
	defaultMaxResults = 10
	maxBodyBytes      = 4 << 20
)

// Result is one normalized search hit.
type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Client calls the search API and writes results through the TTL cache.
type Client struct {
	baseURL    string
	maxResults int
	http       *http.Client
	store      cache.Store
	metrics    *metrics.Recorder
	logger     *slog.Logger
}

// New wires the search adapter against its cache and telemetry collaborators.
func New(cfg config.SearchConfig, store cache.Store, httpClient *http.Client, rec *metrics.Recorder, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		maxResults: maxResults,
		http:       httpClient,
		store:      store,
		metrics:    rec,
		logger:     logger.With(slog.String("adapter", source)),
	}
}

type searchResponse struct {
	Results []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"results"`
}

// Search returns up to the configured number of results for query. Failures
// degrade to a single error-describing result so the aggregation still
// succeeds with the other sources.
func (c *Client) Search(ctx context.Context, query string) []Result {
	query = strings.TrimSpace(query)
	key := cache.Key(source, strings.ToLower(query))

	if entry, ok, err := c.store.Lookup(ctx, key); err == nil && ok {
		c.metrics.ObserveCacheLookup(category, metrics.CacheLookupHit)
		var cached []Result
		if err := json.Unmarshal(entry.Value, &cached); err == nil {
			return cached
		}
		c.logger.Warn("cached search entry unreadable", slog.Any("error", err))
	} else if err != nil {
		c.metrics.ObserveCacheLookup(category, metrics.CacheLookupError)
		c.logger.Warn("cache lookup failed", slog.Any("error", err))
	} else {
		c.metrics.ObserveCacheLookup(category, metrics.CacheLookupMiss)
	}

	started := time.Now()
	results, err := c.fetch(ctx, query)
	if err != nil {
		c.metrics.ObserveFetch(source, metrics.FetchDegraded, time.Since(started))
		c.logger.Warn("search fetch failed", slog.String("query", query), slog.Any("error", err))
		return []Result{{
			Title:   "Search unavailable",
			Snippet: fmt.Sprintf("Web search failed for %q.", query),
		}}
	}
	c.metrics.ObserveFetch(source, metrics.FetchOK, time.Since(started))

	if payload, err := json.Marshal(results); err == nil {
		storeErr := c.store.Set(ctx, key, payload, category)
		c.metrics.ObserveCacheStore(category, storeErr)
		if storeErr != nil {
			c.logger.Warn("cache store failed", slog.Any("error", storeErr))
		}
	}
	return results
}

func (c *Client) fetch(ctx context.Context, query string) ([]Result, error) {
	ctx, cancel := context.WithTimeout(ctx, upstreamTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("search: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search: upstream status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("search: read body: %w", err)
	}

	var decoded searchResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("search: decode response: %w", err)
	}

	results := make([]Result, 0, c.maxResults)
	for _, hit := range decoded.Results {
		results = append(results, Result{Title: hit.Title, Link: hit.Link, Snippet: hit.Snippet})
		if len(results) == c.maxResults {
			break
		}
	}
	return results, nil
}
