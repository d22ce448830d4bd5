package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/d3vh/omnifeed/internal/config"
	"github.com/d3vh/omnifeed/internal/metrics"
	"github.com/d3vh/omnifeed/internal/runtime"
	"github.com/d3vh/omnifeed/internal/runtime/cache"
	"github.com/d3vh/omnifeed/internal/runtime/feeds"
	"github.com/d3vh/omnifeed/internal/runtime/genai"
	"github.com/d3vh/omnifeed/internal/runtime/search"
	"github.com/d3vh/omnifeed/internal/runtime/wiki"
	"github.com/d3vh/omnifeed/internal/server"
)

type upstreams struct {
	wikiCalls   atomic.Int64
	searchCalls atomic.Int64
	feedCalls   atomic.Int64

	wiki   *httptest.Server
	search *httptest.Server
	feed   *httptest.Server
	genai  *httptest.Server
}

func startUpstreams(t *testing.T) *upstreams {
	t.Helper()
	u := &upstreams{}

	u.wiki = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.wikiCalls.Add(1)
		topic := r.URL.Query().Get("titles")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"query":{"pages":{"42":{"title":%q,"extract":"All about %s."}}}}`, topic, topic)
	}))
	t.Cleanup(u.wiki.Close)

	u.search = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.searchCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"title":"Go homepage","link":"https://go.dev","snippet":"The Go programming language"}]}`))
	}))
	t.Cleanup(u.search.Close)

	u.feed = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.feedCalls.Add(1)
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Tech Wire</title>
<item><title>Go 1.25 released</title><description>Release notes for Go 1.25</description><link>https://example.com/go-release</link></item>
<item><title>Database tuning tips</title><description>Indexes and query plans</description><link>https://example.com/db-tuning</link></item>
</channel></rss>`))
	}))
	t.Cleanup(u.feed.Close)

	u.genai = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-goog-api-key") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Grounded answer about Go."))
	}))
	t.Cleanup(u.genai.Close)

	return u
}

func startService(t *testing.T, u *upstreams) (*httptest.Server, *runtime.Pipeline) {
	t.Helper()

	store := cache.NewMemory(cache.TTLs{Default: time.Minute})
	rec := metrics.NewRecorder(prometheus.NewRegistry())
	logger := newTestLogger()
	httpClient := &http.Client{}

	sources := []config.FeedSource{{Name: "Tech Wire", URL: u.feed.URL}}

	wikiClient := wiki.New(config.WikiConfig{
		BaseURL:   u.wiki.URL,
		UserAgent: "omnifeed-test/1.0",
	}, store, httpClient, rec, logger)
	feedFetcher := feeds.NewFetcher(store, httpClient, rec, logger)
	searchClient := search.New(config.SearchConfig{
		BaseURL:    u.search.URL,
		MaxResults: 5,
	}, store, httpClient, rec, logger)
	genaiClient := genai.New(config.GenaiConfig{
		BaseURL: u.genai.URL,
		APIKeys: []string{"test-key"},
		Models:  []string{"test-model"},
	}, httpClient, logger)

	pipe := runtime.NewPipeline(logger, runtime.PipelineOptions{
		Store:       store,
		Summary:     wikiClient,
		Passthrough: wikiClient,
		Feeds:       feedFetcher,
		Search:      searchClient,
		Genai:       genaiClient,
		Sources:     sources,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", rec.Handler())
	mux.Handle("/", server.NewPipelineHandler(pipe))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, pipe
}

func newExpect(t *testing.T, srv *httptest.Server) *httpexpect.Expect {
	return httpexpect.WithConfig(httpexpect.Config{
		BaseURL:  srv.URL,
		Reporter: httpexpect.NewRequireReporter(t),
		Client:   srv.Client(),
	})
}

func TestEndToEndAsk(t *testing.T) {
	u := startUpstreams(t)
	srv, _ := startService(t, u)
	expect := newExpect(t, srv)

	result := expect.POST("/ask").
		WithJSON(map[string]string{"prompt": "Go"}).
		Expect().
		Status(http.StatusOK).
		JSON().Object()

	result.Value("summary").String().IsEqual("All about Go.")

	feedResults := result.Value("feedResults").Array()
	feedResults.Length().IsEqual(1)
	first := feedResults.Value(0).Object()
	first.Value("feed").String().IsEqual("Tech Wire")
	articles := first.Value("articles").Array()
	articles.Length().IsEqual(1)
	articles.Value(0).Object().Value("title").String().IsEqual("Go 1.25 released")

	hits := result.Value("searchResults").Array()
	hits.Length().IsEqual(1)
	hits.Value(0).Object().Value("link").String().IsEqual("https://go.dev")
}

func TestEndToEndAskServesSecondRequestFromCache(t *testing.T) {
	u := startUpstreams(t)
	srv, _ := startService(t, u)
	expect := newExpect(t, srv)

	for range 2 {
		expect.POST("/ask").
			WithJSON(map[string]string{"prompt": "Go"}).
			Expect().
			Status(http.StatusOK)
	}

	if calls := u.wikiCalls.Load(); calls != 1 {
		t.Fatalf("expected 1 wiki upstream call across repeated asks, got %d", calls)
	}
	if calls := u.feedCalls.Load(); calls != 1 {
		t.Fatalf("expected 1 feed upstream call across repeated asks, got %d", calls)
	}
	if calls := u.searchCalls.Load(); calls != 1 {
		t.Fatalf("expected 1 search upstream call across repeated asks, got %d", calls)
	}
}

func TestEndToEndAskRejectsMissingPrompt(t *testing.T) {
	u := startUpstreams(t)
	srv, _ := startService(t, u)
	expect := newExpect(t, srv)

	expect.POST("/ask").
		WithJSON(map[string]string{}).
		Expect().
		Status(http.StatusBadRequest).
		JSON().Object().Value("error").String().NotEmpty()

	if calls := u.wikiCalls.Load(); calls != 0 {
		t.Fatalf("expected no upstream calls for invalid request, got %d", calls)
	}
}

func TestEndToEndChatStreamsGroundedAnswer(t *testing.T) {
	u := startUpstreams(t)
	srv, _ := startService(t, u)
	expect := newExpect(t, srv)

	expect.POST("/chat").
		WithJSON(map[string]string{"prompt": "Go"}).
		Expect().
		Status(http.StatusOK).
		Body().IsEqual("Grounded answer about Go.")
}

func TestEndToEndWikiPassthrough(t *testing.T) {
	u := startUpstreams(t)
	srv, _ := startService(t, u)
	expect := newExpect(t, srv)

	body := expect.GET("/wiki").
		WithQuery("action", "query").
		WithQuery("titles", "Go").
		Expect().
		Status(http.StatusOK).
		Body().Raw()

	var decoded struct {
		Query struct {
			Pages map[string]struct {
				Extract string `json:"extract"`
			} `json:"pages"`
		} `json:"query"`
	}
	if err := json.Unmarshal([]byte(body), &decoded); err != nil {
		t.Fatalf("passthrough body is not upstream JSON: %v", err)
	}
	if len(decoded.Query.Pages) != 1 {
		t.Fatalf("expected one page in passthrough body, got %d", len(decoded.Query.Pages))
	}
}

func TestEndToEndHealth(t *testing.T) {
	u := startUpstreams(t)
	srv, _ := startService(t, u)
	expect := newExpect(t, srv)

	health := expect.GET("/healthz").
		Expect().
		Status(http.StatusOK).
		JSON().Object()

	health.Value("status").String().IsEqual("ok")
	health.Value("feeds").Number().IsEqual(1)
}

func TestEndToEndMetricsExposed(t *testing.T) {
	u := startUpstreams(t)
	srv, _ := startService(t, u)
	expect := newExpect(t, srv)

	expect.POST("/ask").
		WithJSON(map[string]string{"prompt": "Go"}).
		Expect().
		Status(http.StatusOK)

	expect.GET("/metrics").
		Expect().
		Status(http.StatusOK).
		Body().Contains("omnifeed_upstream_fetches_total")
}
