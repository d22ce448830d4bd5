package search

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/d3vh/omnifeed/internal/config"
	"github.com/d3vh/omnifeed/internal/runtime/cache"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func resultsDocument(n int) string {
	hits := make([]string, 0, n)
	for i := 0; i < n; i++ {
		hits = append(hits, fmt.Sprintf(
			`{"title":"result %d","link":"https://example.com/%d","snippet":"snippet %d"}`, i, i, i))
	}
	return `{"results":[` + strings.Join(hits, ",") + `]}`
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(upstream.Close)

	store := cache.NewMemory(cache.TTLs{Default: time.Minute})
	client := New(config.SearchConfig{BaseURL: upstream.URL, MaxResults: 10},
		store, upstream.Client(), nil, discardLogger())
	return client, &calls
}

func TestSearchMapsAndTruncatesResults(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "go caching", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(resultsDocument(25)))
	})

	results := client.Search(context.Background(), "go caching")
	require.Len(t, results, 10)
	require.Equal(t, "result 0", results[0].Title)
	require.Equal(t, "https://example.com/0", results[0].Link)
	require.Equal(t, "snippet 0", results[0].Snippet)
	require.Equal(t, "result 9", results[9].Title)
}

func TestSearchCachesPerQuery(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(resultsDocument(3)))
	})
	ctx := context.Background()

	first := client.Search(ctx, "golang")
	second := client.Search(ctx, "Golang ")
	require.Equal(t, first, second)
	require.Equal(t, int32(1), calls.Load(), "normalized queries must share one fetch")

	client.Search(ctx, "different")
	require.Equal(t, int32(2), calls.Load())
}

func TestSearchDegradesOnUpstreamError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	results := client.Search(context.Background(), "anything")
	require.Len(t, results, 1)
	require.Equal(t, "Search unavailable", results[0].Title)
	require.Contains(t, results[0].Snippet, `"anything"`)
}

func TestSearchDegradesOnMalformedResponse(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	})

	results := client.Search(context.Background(), "anything")
	require.Len(t, results, 1)
	require.Equal(t, "Search unavailable", results[0].Title)
}
