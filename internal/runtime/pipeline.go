// Package runtime orchestrates one aggregation request: fan out to the
// upstream adapters, compose their normalized results, and hand the combined
// payload (or a generative stream grounded on it) back to the transport.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/d3vh/omnifeed/internal/config"
	"github.com/d3vh/omnifeed/internal/runtime/cache"
	"github.com/d3vh/omnifeed/internal/runtime/feeds"
	"github.com/d3vh/omnifeed/internal/runtime/search"
	"github.com/d3vh/omnifeed/internal/runtime/wiki"
)

// ErrMissingPrompt is the client error for an absent or blank query. It is
// surfaced before any adapter is invoked.
var ErrMissingPrompt = errors.New("runtime: prompt is required")

// SummaryProvider is the summary adapter surface the pipeline needs.
type SummaryProvider interface {
	Summary(ctx context.Context, topic string) string
}

// PassthroughProvider is the raw encyclopedia proxy surface behind /wiki.
type PassthroughProvider interface {
	Raw(ctx context.Context, params url.Values) (wiki.RawResult, error)
}

// FeedProvider is the feed adapter surface the pipeline needs.
type FeedProvider interface {
	Fetch(ctx context.Context, src config.FeedSource, query string) feeds.Result
}

// SearchProvider is the search adapter surface the pipeline needs.
type SearchProvider interface {
	Search(ctx context.Context, query string) []search.Result
}

// Generator is the generative adapter surface the pipeline needs.
type Generator interface {
	Enabled() bool
	Generate(ctx context.Context, prompt string, w io.Writer) error
}

// AggregatedResult is the composed payload of one aggregation request. Feed
// results keep configuration order regardless of fetch completion order.
type AggregatedResult struct {
	Summary       string          `json:"summary"`
	FeedResults   []feeds.Result  `json:"feedResults"`
	SearchResults []search.Result `json:"searchResults,omitempty"`
}

// PipelineOptions carries the collaborators the pipeline composes.
type PipelineOptions struct {
	Store       cache.Store
	Summary     SummaryProvider
	Passthrough PassthroughProvider
	Feeds       FeedProvider
	Search      SearchProvider
	Genai       Generator
	Sources     []config.FeedSource
}

// Pipeline fans one user query out to every configured adapter.
type Pipeline struct {
	logger      *slog.Logger
	store       cache.Store
	summary     SummaryProvider
	passthrough PassthroughProvider
	feeds       FeedProvider
	search      SearchProvider
	genai       Generator
	sources     []config.FeedSource
}

// NewPipeline wires the aggregation pipeline.
func NewPipeline(logger *slog.Logger, opts PipelineOptions) *Pipeline {
	return &Pipeline{
		logger:      logger.With(slog.String("agent", "aggregator")),
		store:       opts.Store,
		summary:     opts.Summary,
		passthrough: opts.Passthrough,
		feeds:       opts.Feeds,
		search:      opts.Search,
		genai:       opts.Genai,
		sources:     opts.Sources,
	}
}

// Aggregate runs the concurrent fan-out for one query. Adapter failures are
// already degraded to placeholders inside the adapters, so the only error
// this returns is prompt validation.
func (p *Pipeline) Aggregate(ctx context.Context, query string) (AggregatedResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return AggregatedResult{}, ErrMissingPrompt
	}

	result := AggregatedResult{
		FeedResults: make([]feeds.Result, len(p.sources)),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		result.Summary = p.summary.Summary(ctx, query)
		return nil
	})
	for i, src := range p.sources {
		g.Go(func() error {
			result.FeedResults[i] = p.feeds.Fetch(ctx, src, query)
			return nil
		})
	}
	if p.search != nil {
		g.Go(func() error {
			result.SearchResults = p.search.Search(ctx, query)
			return nil
		})
	}

	// Adapters degrade instead of failing, so Wait only propagates context
	// cancellation.
	if err := g.Wait(); err != nil {
		return AggregatedResult{}, err
	}
	return result, nil
}

// ContextText flattens an aggregated result into the plain-text context block
// handed to the generative adapter.
func (r AggregatedResult) ContextText() string {
	var b strings.Builder
	b.WriteString("Encyclopedia summary:\n")
	b.WriteString(r.Summary)
	for _, feed := range r.FeedResults {
		fmt.Fprintf(&b, "\n\nArticles from %s:\n", feed.Feed)
		for _, article := range feed.Articles {
			fmt.Fprintf(&b, "- %s: %s (%s)\n", article.Title, article.Description, article.Link)
		}
	}
	if len(r.SearchResults) > 0 {
		b.WriteString("\nWeb search results:\n")
		for _, hit := range r.SearchResults {
			fmt.Fprintf(&b, "- %s: %s (%s)\n", hit.Title, hit.Snippet, hit.Link)
		}
	}
	return b.String()
}

// decodePrompt extracts the free-text query from a request body, accepting
// "query" as an alias for "prompt".
func decodePrompt(r *http.Request) (string, error) {
	var body struct {
		Prompt string `json:"prompt"`
		Query  string `json:"query"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
		return "", fmt.Errorf("runtime: decode request: %w", err)
	}
	if body.Prompt != "" {
		return body.Prompt, nil
	}
	return body.Query, nil
}

// ServeAsk handles the JSON aggregation endpoint.
func (p *Pipeline) ServeAsk(w http.ResponseWriter, r *http.Request) {
	prompt, err := decodePrompt(r)
	if err != nil {
		p.WriteError(w, http.StatusBadRequest, "request body must be JSON with a prompt field")
		return
	}

	result, err := p.Aggregate(r.Context(), prompt)
	switch {
	case errors.Is(err, ErrMissingPrompt):
		p.WriteError(w, http.StatusBadRequest, "prompt is required")
		return
	case err != nil:
		p.logger.Error("aggregation failed", slog.Any("error", err))
		p.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		p.logger.Error("response encode failed", slog.Any("error", err))
	}
}

// ServeChat handles the streaming endpoint: aggregate first, then ground the
// generative call on the combined textual output and relay its chunks.
func (p *Pipeline) ServeChat(w http.ResponseWriter, r *http.Request) {
	if p.genai == nil || !p.genai.Enabled() {
		p.WriteError(w, http.StatusServiceUnavailable, "generative backend not configured")
		return
	}

	prompt, err := decodePrompt(r)
	if err != nil {
		p.WriteError(w, http.StatusBadRequest, "request body must be JSON with a prompt field")
		return
	}

	result, err := p.Aggregate(r.Context(), prompt)
	switch {
	case errors.Is(err, ErrMissingPrompt):
		p.WriteError(w, http.StatusBadRequest, "prompt is required")
		return
	case err != nil:
		p.logger.Error("aggregation failed", slog.Any("error", err))
		p.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	grounded := fmt.Sprintf(
		"Use the following context to answer the question.\n\n%s\n\nQuestion: %s",
		result.ContextText(), prompt)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	// Status is committed; from here failures surface only as the in-stream
	// terminal marker.
	if err := p.genai.Generate(r.Context(), grounded, w); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Warn("generation did not complete", slog.Any("error", err))
	}
}

// ServeWiki forwards arbitrary query parameters to the encyclopedia API and
// relays its status and body verbatim.
func (p *Pipeline) ServeWiki(w http.ResponseWriter, r *http.Request) {
	if p.passthrough == nil {
		p.WriteError(w, http.StatusServiceUnavailable, "passthrough not configured")
		return
	}
	result, err := p.passthrough.Raw(r.Context(), r.URL.Query())
	if err != nil {
		p.logger.Warn("passthrough failed", slog.Any("error", err))
		p.WriteError(w, http.StatusBadGateway, "encyclopedia upstream unreachable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.Status)
	_, _ = w.Write(result.Body)
}

// ServeHealth reports a small runtime snapshot.
func (p *Pipeline) ServeHealth(w http.ResponseWriter, r *http.Request) {
	size := int64(-1)
	if p.store != nil {
		if n, err := p.store.Size(r.Context()); err == nil {
			size = n
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":       "ok",
		"cacheEntries": size,
		"feeds":        len(p.sources),
	})
}

// WriteError emits the uniform JSON error envelope.
func (p *Pipeline) WriteError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// Close releases the cache backend.
func (p *Pipeline) Close(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	return p.store.Close(ctx)
}
