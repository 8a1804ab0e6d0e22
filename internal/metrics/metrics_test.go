package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if checksTotal == nil || verdictsTotal == nil || notificationsTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpers(t *testing.T) {
	ObserveCheck("unit", "fetched", "https://Shop.example/item", 128, 250*time.Millisecond)
	if val := testutil.ToFloat64(checksTotal.WithLabelValues("unit", "fetched")); val != 1 {
		t.Errorf("expected one unit check, got %f", val)
	}
	if val := testutil.ToFloat64(fetchBytesTotal.WithLabelValues("shop.example")); val != 128 {
		t.Errorf("expected 128 bytes, got %f", val)
	}

	ObserveVerdict("unit", "in_stock")
	if val := testutil.ToFloat64(verdictsTotal.WithLabelValues("unit", "in_stock")); val != 1 {
		t.Errorf("expected one verdict, got %f", val)
	}

	before := testutil.ToFloat64(escalationsTotal)
	ObserveEscalations(2)
	ObserveEscalations(0)
	if val := testutil.ToFloat64(escalationsTotal) - before; val != 2 {
		t.Errorf("expected two escalations, got %f", val)
	}

	finished := time.Unix(1_700_000_000, 0)
	ObserveRun("unit", errors.New("boom"), finished)
	if val := testutil.ToFloat64(runsTotal.WithLabelValues("unit", "error")); val != 1 {
		t.Errorf("expected one failed run, got %f", val)
	}
	if val := testutil.ToFloat64(lastRunTimestamp.WithLabelValues("unit")); val != float64(finished.Unix()) {
		t.Errorf("expected last run timestamp, got %f", val)
	}

	IncActiveFetches()
	DecActiveFetches()
	if val := testutil.ToFloat64(activeFetches); val != 0 {
		t.Errorf("expected gauge back at zero, got %f", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
