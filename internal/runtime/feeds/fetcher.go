// Package feeds adapts the configured RSS/Atom sources. The raw parsed feed
// is what gets cached; query filtering is re-applied per request against that
// shared fetch so two different queries inside one TTL window cost a single
// upstream call.
package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/d3vh/omnifeed/internal/config"
	"github.com/d3vh/omnifeed/internal/metrics"
	"github.com/d3vh/omnifeed/internal/runtime/cache"
)

const (
	source   = "feed"
	category = "feed"

	upstreamTimeout = 15 * time.Second
	maxArticles     = 5
	maxSnippetRunes = 300
)

// Article is the normalized shape of one feed item.
type Article struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Link        string `json:"link"`
}

// Result pairs a feed's display name with the articles selected for one
// request. A failed or empty feed still yields exactly one placeholder
// article, never an empty list.
type Result struct {
	Feed     string    `json:"feed"`
	Articles []Article `json:"articles"`
}

// Fetcher parses feeds through gofeed and writes the unfiltered article list
// through the TTL cache.
type Fetcher struct {
	parser  *gofeed.Parser
	store   cache.Store
	metrics *metrics.Recorder
	logger  *slog.Logger
}

// NewFetcher builds the feed adapter on a shared keep-alive HTTP client.
func NewFetcher(store cache.Store, httpClient *http.Client, rec *metrics.Recorder, logger *slog.Logger) *Fetcher {
	parser := gofeed.NewParser()
	if httpClient != nil {
		parser.Client = httpClient
	}
	parser.UserAgent = "omnifeed/1.0"
	return &Fetcher{
		parser:  parser,
		store:   store,
		metrics: rec,
		logger:  logger.With(slog.String("adapter", source)),
	}
}

// Fetch returns the articles of one feed matching query. An empty query
// selects the newest articles unfiltered, which is also how the preloader
// warms the cache.
func (f *Fetcher) Fetch(ctx context.Context, src config.FeedSource, query string) Result {
	name := src.DisplayName()

	articles, err := f.rawArticles(ctx, src)
	if err != nil {
		f.logger.Warn("feed fetch failed", slog.String("feed", name), slog.Any("error", err))
		return Result{Feed: name, Articles: []Article{{
			Title:       fmt.Sprintf("Could not load %s", name),
			Description: err.Error(),
		}}}
	}

	matched := filter(articles, query)
	if len(matched) == 0 {
		return Result{Feed: name, Articles: []Article{{
			Title:       fmt.Sprintf("No articles matching %q", query),
			Description: fmt.Sprintf("%s has no recent articles matching your query.", name),
		}}}
	}
	return Result{Feed: name, Articles: matched}
}

// rawArticles returns the cached unfiltered article list for a feed, fetching
// and caching it on a miss.
func (f *Fetcher) rawArticles(ctx context.Context, src config.FeedSource) ([]Article, error) {
	key := cache.Key(source, src.URL)

	if entry, ok, err := f.store.Lookup(ctx, key); err == nil && ok {
		f.metrics.ObserveCacheLookup(category, metrics.CacheLookupHit)
		var cached []Article
		if err := json.Unmarshal(entry.Value, &cached); err == nil {
			return cached, nil
		}
		f.logger.Warn("cached feed entry unreadable", slog.String("feed", src.URL), slog.Any("error", err))
	} else if err != nil {
		f.metrics.ObserveCacheLookup(category, metrics.CacheLookupError)
		f.logger.Warn("cache lookup failed", slog.Any("error", err))
	} else {
		f.metrics.ObserveCacheLookup(category, metrics.CacheLookupMiss)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, upstreamTimeout)
	defer cancel()

	started := time.Now()
	feed, err := f.parser.ParseURLWithContext(src.URL, fetchCtx)
	if err != nil {
		f.metrics.ObserveFetch(source, metrics.FetchDegraded, time.Since(started))
		return nil, fmt.Errorf("feeds: parse %s: %w", src.URL, err)
	}
	f.metrics.ObserveFetch(source, metrics.FetchOK, time.Since(started))

	articles := make([]Article, 0, len(feed.Items))
	for _, item := range feed.Items {
		desc := item.Description
		if desc == "" {
			desc = item.Content
		}
		articles = append(articles, Article{
			Title:       strings.TrimSpace(item.Title),
			Description: truncate(stripHTML(desc), maxSnippetRunes),
			Link:        item.Link,
		})
	}

	if payload, err := json.Marshal(articles); err == nil {
		storeErr := f.store.Set(ctx, key, payload, category)
		f.metrics.ObserveCacheStore(category, storeErr)
		if storeErr != nil {
			f.logger.Warn("cache store failed", slog.Any("error", storeErr))
		}
	}
	return articles, nil
}

// filter selects up to maxArticles items matching query by case-insensitive
// substring against title or description, preserving feed-native order.
func filter(articles []Article, query string) []Article {
	needle := strings.ToLower(strings.TrimSpace(query))
	matched := make([]Article, 0, maxArticles)
	for _, article := range articles {
		if needle != "" &&
			!strings.Contains(strings.ToLower(article.Title), needle) &&
			!strings.Contains(strings.ToLower(article.Description), needle) {
			continue
		}
		matched = append(matched, article)
		if len(matched) == maxArticles {
			break
		}
	}
	return matched
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}

func stripHTML(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
