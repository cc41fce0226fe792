package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/fiscalops/docharvest/internal/metrics"
)

func TestMetricsMiddleware(t *testing.T) {
	metrics.Init()
	r := chi.NewRouter()
	r.Use(Metrics)
	r.Get("/test", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/notfound", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	for _, path := range []string{"/test", "/notfound"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		if err := resp.Body.Close(); err != nil {
			t.Log(err)
		}
	}

	count, err := testutil.GatherAndCount(prometheus.DefaultGatherer,
		"harvest_http_request_duration_seconds")
	if err != nil {
		t.Fatal(err)
	}
	// One series per (method, route, status): GET /test 200 and GET /notfound 404.
	if count < 2 {
		t.Errorf("Expected at least 2 request duration series, got %d", count)
	}
}
