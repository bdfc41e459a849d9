package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAndHandler(t *testing.T) {
	m := New("test", prometheus.NewRegistry())

	m.IncUploads("uploads/", "done")
	m.IncUploads("uploads/", "done")
	m.IncComparisons("no_face")
	m.IncMatchRuns("completed")

	if got := testutil.ToFloat64(m.Uploads.WithLabelValues("uploads/", "done")); got != 2 {
		t.Errorf("uploads_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Comparisons.WithLabelValues("no_face")); got != 1 {
		t.Errorf("comparisons_total{no_face} = %v, want 1", got)
	}

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), "test_match_runs_total") {
		t.Errorf("scrape output missing match_runs_total:\n%s", body)
	}
}

func TestInitInstallsGlobal(t *testing.T) {
	prev := defaultMetrics
	defer func() { defaultMetrics = prev }()

	m := Init("")
	if Get() != m {
		t.Fatal("Get did not return the instance created by Init")
	}
}
