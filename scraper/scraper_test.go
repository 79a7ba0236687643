package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/aluiziolira/go-etl-banks/config"
	"github.com/aluiziolira/go-etl-banks/metrics"
)

const testURL = "http://example.test/wiki/List_of_largest_banks"

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "server error", err: errors.New("Internal Server Error"), statusCode: http.StatusInternalServerError, expected: "status"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestFetchReturnsBody(t *testing.T) {
	s, transport := newTestScraper(t, nil)
	transport.RegisterResponder("GET", testURL, htmlResponder("<html><body><table><tbody></tbody></table></body></html>"))

	body, err := s.Fetch(context.Background(), testURL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !strings.Contains(string(body), "<tbody>") {
		t.Fatalf("unexpected body %q", body)
	}
	if got := testutil.ToFloat64(s.Metrics.RequestsTotal.WithLabelValues("completed")); got != 1 {
		t.Fatalf("completed requests=%v, want 1", got)
	}
}

func TestFetchCanBeRepeated(t *testing.T) {
	s, transport := newTestScraper(t, nil)
	transport.RegisterResponder("GET", testURL, htmlResponder("<html></html>"))

	for i := 0; i < 2; i++ {
		if _, err := s.Fetch(context.Background(), testURL); err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
	}
	if got := transport.GetTotalCallCount(); got != 2 {
		t.Fatalf("calls=%d, want 2", got)
	}
}

func TestFetchHTTPStatusClassification(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{status: http.StatusTooManyRequests, expected: "rate_limited"},
		{status: http.StatusForbidden, expected: "forbidden"},
		{status: http.StatusNotFound, expected: "not_found"},
		{status: http.StatusBadGateway, expected: "status"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			s, transport := newTestScraper(t, nil)
			transport.RegisterResponder("GET", testURL, httpmock.NewStringResponder(tt.status, ""))

			_, err := s.Fetch(context.Background(), testURL)
			var fetchErr *FetchError
			if !errors.As(err, &fetchErr) {
				t.Fatalf("expected FetchError, got %v", err)
			}
			if fetchErr.Kind != tt.expected || fetchErr.Status != tt.status {
				t.Fatalf("kind=%q status=%d, want %q %d", fetchErr.Kind, fetchErr.Status, tt.expected, tt.status)
			}
			if got := testutil.ToFloat64(s.Metrics.FetchErrorsTotal.WithLabelValues(tt.expected)); got != 1 {
				t.Fatalf("error metric=%v, want 1", got)
			}
		})
	}
}

func TestFetchTransportError(t *testing.T) {
	s, transport := newTestScraper(t, nil)
	transport.RegisterResponder("GET", testURL, httpmock.NewErrorResponder(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}))

	_, err := s.Fetch(context.Background(), testURL)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fetchErr.Kind != "connection" {
		t.Fatalf("kind=%q, want connection", fetchErr.Kind)
	}
}

func TestFetchCancelledContext(t *testing.T) {
	s, transport := newTestScraper(t, nil)
	transport.RegisterResponder("GET", testURL, htmlResponder("<html></html>"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Fetch(ctx, testURL)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled FetchError, got %v", err)
	}
	if got := transport.GetTotalCallCount(); got != 0 {
		t.Fatalf("calls=%d, want 0", got)
	}
}

func TestFetchUsesCache(t *testing.T) {
	cache := NewMemoryCache(4, time.Minute)
	s, transport := newTestScraper(t, cache)
	transport.RegisterResponder("GET", testURL, htmlResponder("<html>cached</html>"))

	for i := 0; i < 3; i++ {
		body, err := s.Fetch(context.Background(), testURL)
		if err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
		if string(body) != "<html>cached</html>" {
			t.Fatalf("body=%q", body)
		}
	}

	if got := transport.GetTotalCallCount(); got != 1 {
		t.Fatalf("calls=%d, want 1", got)
	}
	if got := testutil.ToFloat64(s.Metrics.CacheLookups.WithLabelValues("hit")); got != 2 {
		t.Fatalf("cache hits=%v, want 2", got)
	}
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("cache down")
}

func (brokenCache) Set(context.Context, string, []byte) error {
	return errors.New("cache down")
}

func TestFetchCacheErrorsFallBackToNetwork(t *testing.T) {
	s, transport := newTestScraper(t, brokenCache{})
	transport.RegisterResponder("GET", testURL, htmlResponder("<html></html>"))

	if _, err := s.Fetch(context.Background(), testURL); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got := testutil.ToFloat64(s.Metrics.CacheLookups.WithLabelValues("error")); got != 1 {
		t.Fatalf("cache errors=%v, want 1", got)
	}
}

func TestNewScraperRejectsURLWithoutHost(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.URL = "/relative/path"
	if _, err := NewScraper(cfg, nil, nil); err == nil {
		t.Fatalf("expected error for url without host")
	}
}

func newTestScraper(t *testing.T, cache DocumentCache) (*Scraper, *httpmock.MockTransport) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.URL = testURL
	cfg.Timeout = 2 * time.Second

	s, err := NewScraper(cfg, cache, metrics.New())
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}
	transport := httpmock.NewMockTransport()
	s.collector.WithTransport(transport)
	return s, transport
}

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html")
	return httpmock.ResponderFromResponse(resp)
}
