package metrics

import (
	"errors"
	"math"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func TestRecorderObserveFetch(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveFetch("wiki", FetchOK, 250*time.Millisecond)

	families := gather(t, rec, "omnifeed_upstream_fetches_total", "omnifeed_upstream_fetch_duration_seconds")

	counter := findMetric(t, families["omnifeed_upstream_fetches_total"], map[string]string{
		"source":  "wiki",
		"outcome": "ok",
	})
	if counter.GetCounter() == nil {
		t.Fatalf("expected counter metric for upstream fetches")
	}
	if got := counter.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected counter value 1, got %v", got)
	}

	histMetric := findMetric(t, families["omnifeed_upstream_fetch_duration_seconds"], map[string]string{
		"source":  "wiki",
		"outcome": "ok",
	})
	hist := histMetric.GetHistogram()
	if hist == nil {
		t.Fatalf("expected histogram metric for fetch latency")
	}
	if hist.GetSampleCount() != 1 {
		t.Fatalf("expected histogram count 1, got %d", hist.GetSampleCount())
	}
	want := 0.25
	if diff := math.Abs(hist.GetSampleSum() - want); diff > 0.001 {
		t.Fatalf("expected histogram sum near %v, got %v", want, hist.GetSampleSum())
	}
}

func TestRecorderObserveCacheOperations(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveCacheLookup("feed", CacheLookupHit)
	rec.ObserveCacheStore("feed", nil)
	rec.ObserveCacheStore("feed", errors.New("backend down"))

	families := gather(t, rec, "omnifeed_cache_operations_total")

	lookupMetric := findMetric(t, families["omnifeed_cache_operations_total"], map[string]string{
		"category":  "feed",
		"operation": string(CacheOperationLookup),
		"result":    string(CacheLookupHit),
	})
	if got := lookupMetric.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected lookup counter 1, got %v", got)
	}

	storeMetric := findMetric(t, families["omnifeed_cache_operations_total"], map[string]string{
		"category":  "feed",
		"operation": string(CacheOperationStore),
		"result":    "stored",
	})
	if got := storeMetric.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected store counter 1, got %v", got)
	}

	errMetric := findMetric(t, families["omnifeed_cache_operations_total"], map[string]string{
		"category":  "feed",
		"operation": string(CacheOperationStore),
		"result":    "error",
	})
	if got := errMetric.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected store error counter 1, got %v", got)
	}
}

func TestRecorderNilSafe(t *testing.T) {
	var rec *Recorder
	rec.ObserveFetch("wiki", FetchOK, time.Second)
	rec.ObserveCacheLookup("feed", CacheLookupMiss)
	rec.ObserveCacheStore("feed", nil)

	rr := httptest.NewRecorder()
	rec.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != 503 {
		t.Fatalf("expected 503 from nil recorder handler, got %d", rr.Code)
	}
}

func TestRecorderHandler(t *testing.T) {
	rec := NewRecorder(nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)

	rec.Handler().ServeHTTP(rr, req)

	if rr.Code != 200 {
		t.Fatalf("expected 200 response, got %d", rr.Code)
	}
	if rr.Body.Len() == 0 {
		t.Fatalf("expected response body")
	}
}

func gather(t *testing.T, rec *Recorder, names ...string) map[string][]*dto.Metric {
	t.Helper()
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}
	families, err := rec.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	collected := make(map[string][]*dto.Metric, len(names))
	for _, mf := range families {
		if !wanted[mf.GetName()] {
			continue
		}
		collected[mf.GetName()] = append(collected[mf.GetName()], mf.GetMetric()...)
	}
	for _, name := range names {
		if len(collected[name]) == 0 {
			t.Fatalf("metric %q not collected", name)
		}
	}
	return collected
}

func findMetric(t *testing.T, metrics []*dto.Metric, labels map[string]string) *dto.Metric {
	t.Helper()
	for _, metric := range metrics {
		if matchLabels(metric, labels) {
			return metric
		}
	}
	t.Fatalf("metric with labels %v not found", labels)
	return nil
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.GetLabel()) < len(labels) {
		return false
	}
	for key, expected := range labels {
		found := false
		for _, label := range metric.GetLabel() {
			if label.GetName() == key && label.GetValue() == expected {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
