// Package wiki adapts the encyclopedia API: a plain-text summary lookup used
// by the aggregation pipeline and a raw query passthrough. Both write through
// the shared TTL cache.
package wiki

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
	source              = "wiki"
	summaryCategory     = "summary"
	passthroughCategory = "passthrough"

	upstreamTimeout = 15 * time.Second
	maxBodyBytes    = 4 << 20
)

// SummaryUnavailable is the degraded placeholder returned whenever the
// summary lookup fails for any reason. The aggregation response stays 200
// with this string in the summary slot.
const SummaryUnavailable = "Wikipedia summary unavailable right now."

// Client calls the encyclopedia API with a shared keep-alive HTTP client.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	store     cache.Store
	metrics   *metrics.Recorder
	logger    *slog.Logger
}

// New wires the summary adapter against its cache and telemetry collaborators.
func New(cfg config.WikiConfig, store cache.Store, httpClient *http.Client, rec *metrics.Recorder, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		userAgent: cfg.UserAgent,
		http:      httpClient,
		store:     store,
		metrics:   rec,
		logger:    logger.With(slog.String("adapter", source)),
	}
}

type queryResponse struct {
	Query struct {
		Pages map[string]struct {
			Title   string `json:"title"`
			Extract string `json:"extract"`
		} `json:"pages"`
	} `json:"query"`
}

// Summary fetches the plain-text extract for a topic. Failures of any kind
// (network, timeout, missing extract) degrade to SummaryUnavailable so one
// broken source never sinks the whole aggregation.
func (c *Client) Summary(ctx context.Context, topic string) string {
	topic = strings.TrimSpace(topic)
	key := cache.Key(source, topic)

	if entry, ok, err := c.store.Lookup(ctx, key); err == nil && ok {
		c.metrics.ObserveCacheLookup(summaryCategory, metrics.CacheLookupHit)
		return string(entry.Value)
	} else if err != nil {
		c.metrics.ObserveCacheLookup(summaryCategory, metrics.CacheLookupError)
		c.logger.Warn("cache lookup failed", slog.Any("error", err))
	} else {
		c.metrics.ObserveCacheLookup(summaryCategory, metrics.CacheLookupMiss)
	}

	started := time.Now()
	extract, err := c.fetchExtract(ctx, topic)
	if err != nil {
		c.metrics.ObserveFetch(source, metrics.FetchDegraded, time.Since(started))
		c.logger.Warn("summary fetch failed", slog.String("topic", topic), slog.Any("error", err))
		return SummaryUnavailable
	}
	c.metrics.ObserveFetch(source, metrics.FetchOK, time.Since(started))

	storeErr := c.store.Set(ctx, key, []byte(extract), summaryCategory)
	c.metrics.ObserveCacheStore(summaryCategory, storeErr)
	if storeErr != nil {
		c.logger.Warn("cache store failed", slog.Any("error", storeErr))
	}
	return extract
}

func (c *Client) fetchExtract(ctx context.Context, topic string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, upstreamTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("action", "query")
	params.Set("prop", "extracts")
	params.Set("explaintext", "true")
	params.Set("titles", topic)
	params.Set("format", "json")

	body, status, err := c.get(ctx, params)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("wiki: upstream status %d", status)
	}

	var decoded queryResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("wiki: decode response: %w", err)
	}

	// The pages object is keyed by page ID and is effectively a singleton for
	// a titles= query; which page wins on a multi-page response is arbitrary.
	for _, page := range decoded.Query.Pages {
		if extract := strings.TrimSpace(page.Extract); extract != "" {
			return extract, nil
		}
	}
	return "", fmt.Errorf("wiki: no extract for %q", topic)
}

// RawResult carries the upstream status and body of one passthrough call so
// the transport layer can forward them verbatim.
type RawResult struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// Raw forwards arbitrary query parameters to the encyclopedia API and returns
// whatever it answers, status included. Successful responses are cached under
// the canonicalized parameter set; upstream errors are forwarded uncached.
func (c *Client) Raw(ctx context.Context, params url.Values) (RawResult, error) {
	key := cache.ParamsKey(passthroughCategory, params)

	if entry, ok, err := c.store.Lookup(ctx, key); err == nil && ok {
		c.metrics.ObserveCacheLookup(passthroughCategory, metrics.CacheLookupHit)
		var cached RawResult
		if err := json.Unmarshal(entry.Value, &cached); err == nil {
			return cached, nil
		}
		c.logger.Warn("cached passthrough entry unreadable", slog.Any("error", err))
	} else if err != nil {
		c.metrics.ObserveCacheLookup(passthroughCategory, metrics.CacheLookupError)
		c.logger.Warn("cache lookup failed", slog.Any("error", err))
	} else {
		c.metrics.ObserveCacheLookup(passthroughCategory, metrics.CacheLookupMiss)
	}

	ctx, cancel := context.WithTimeout(ctx, upstreamTimeout)
	defer cancel()

	started := time.Now()
	body, status, err := c.get(ctx, params)
	if err != nil {
		c.metrics.ObserveFetch(source, metrics.FetchDegraded, time.Since(started))
		return RawResult{}, fmt.Errorf("wiki: passthrough: %w", err)
	}

	result := RawResult{Status: status, Body: body}
	if status >= 200 && status < 300 {
		c.metrics.ObserveFetch(source, metrics.FetchOK, time.Since(started))
		payload, err := json.Marshal(result)
		if err == nil {
			storeErr := c.store.Set(ctx, key, payload, passthroughCategory)
			c.metrics.ObserveCacheStore(passthroughCategory, storeErr)
			if storeErr != nil {
				c.logger.Warn("cache store failed", slog.Any("error", storeErr))
			}
		}
	} else {
		c.metrics.ObserveFetch(source, metrics.FetchDegraded, time.Since(started))
	}
	return result, nil
}

func (c *Client) get(ctx context.Context, params url.Values) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("wiki: build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("wiki: request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("wiki: read body: %w", err)
	}
	return body, resp.StatusCode, nil
}
