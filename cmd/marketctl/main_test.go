package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"orderScope/internal/metrics"
	"orderScope/internal/orders"
)

func TestNewLoggerLevels(t *testing.T) {
	if _, err := newLogger("debug"); err != nil {
		t.Fatalf("debug level: %v", err)
	}
	if _, err := newLogger("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.MarketFetchFailures.Add(0)
	server := httptest.NewServer(metricsMux())
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
		t.Fatalf("unexpected content type %q", resp.Header.Get("Content-Type"))
	}
}

func TestSortFlags(t *testing.T) {
	cmd := ordersCmd()
	if err := cmd.Flags().Parse([]string{"--sort", "worth", "--dir", "desc"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	key, dir, err := sortFlags(cmd)
	if err != nil || key != orders.SortWorth || dir != orders.Descending {
		t.Fatalf("unexpected %s %s %v", key, dir, err)
	}

	cmd = ordersCmd()
	if err := cmd.Flags().Parse([]string{"--sort", "worth", "--dir", "up"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, _, err := sortFlags(cmd); err == nil {
		t.Fatalf("expected error for bad direction")
	}
}
