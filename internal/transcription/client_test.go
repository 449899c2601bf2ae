package transcription_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skypro1111/asr-session-client/internal/metrics"
	"github.com/skypro1111/asr-session-client/internal/transcription"
	"github.com/skypro1111/asr-session-client/internal/transcription/transcriptiontest"
)

// failingTransport fails the first `failures` round trips, then delegates
type failingTransport struct {
	failures int32
	calls    int32
	next     http.RoundTripper
}

func (f *failingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failures || f.next == nil {
		return nil, errors.New("connection refused")
	}
	return f.next.RoundTrip(req)
}

func newTestClient(t *testing.T, baseURL string, transport http.RoundTripper) *transcription.Client {
	t.Helper()

	client, err := transcription.NewClient(transcription.Config{
		BaseURL:    baseURL,
		Timeout:    5 * time.Second,
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
		Transport:  transport,
	}, nil, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestNewClientValidation(t *testing.T) {
	if _, err := transcription.NewClient(transcription.Config{}, nil, nil); err == nil {
		t.Error("Expected error for empty base URL")
	}

	client, err := transcription.NewClient(transcription.Config{BaseURL: "http://localhost:5003/"}, nil, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.BaseURL() != "http://localhost:5003" {
		t.Errorf("Expected trailing slash trimmed, got %s", client.BaseURL())
	}
}

func TestRetryBound(t *testing.T) {
	transport := &failingTransport{failures: 4}
	client := newTestClient(t, "http://asr.invalid", transport)

	_, err := client.GetActiveSessions(context.Background(), transcription.NewSession("default", "en"))

	var transportErr *transcription.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("Expected TransportError, got %v", err)
	}
	if transportErr.Attempts != 4 {
		t.Errorf("Expected 4 attempts, got %d", transportErr.Attempts)
	}
	if calls := atomic.LoadInt32(&transport.calls); calls != 4 {
		t.Errorf("Expected exactly 4 round trips (1 + 3 retries), got %d", calls)
	}

	stats := client.GetStats()
	if stats.TotalRetries != 3 {
		t.Errorf("Expected 3 retries, got %d", stats.TotalRetries)
	}
	if stats.FailedRequests != 1 || stats.TotalRequests != 1 {
		t.Errorf("Expected 1 failed of 1 total request, got %d of %d", stats.FailedRequests, stats.TotalRequests)
	}
	if !transcription.IsTransport(err) || transcription.IsStatus(err) || transcription.IsDecode(err) {
		t.Error("Error classification helpers disagree with TransportError")
	}
}

func TestRetryRecovers(t *testing.T) {
	srv := transcriptiontest.NewServer()
	defer srv.Close()

	transport := &failingTransport{failures: 2, next: http.DefaultTransport}
	client := newTestClient(t, srv.URL, transport)

	sessions, err := client.GetActiveSessions(context.Background(), transcription.NewSession("default", "en"))
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("Expected no sessions, got %v", sessions)
	}
	if stats := client.GetStats(); stats.TotalRetries != 2 || stats.SuccessRequests != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	transport := &failingTransport{failures: 100}
	client, err := transcription.NewClient(transcription.Config{
		BaseURL:    "http://asr.invalid",
		MaxRetries: 3,
		RetryDelay: time.Hour,
		Transport:  transport,
	}, nil, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = client.GetActiveSessions(ctx, transcription.NewSession("default", "en"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if calls := atomic.LoadInt32(&transport.calls); calls != 1 {
		t.Errorf("Expected 1 round trip before cancellation, got %d", calls)
	}
}

func TestStatusErrorNotRetried(t *testing.T) {
	srv := transcriptiontest.NewServer()
	defer srv.Close()

	srv.FailNext(transcription.EndpointActiveSessions, 1)
	client := newTestClient(t, srv.URL, nil)

	_, err := client.GetActiveSessions(context.Background(), transcription.NewSession("default", "en"))

	var statusErr *transcription.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", statusErr.StatusCode)
	}
	if statusErr.Message != "internal error" {
		t.Errorf("Expected decoded server message, got '%s'", statusErr.Message)
	}
	if transcription.StatusCode(err) != http.StatusInternalServerError {
		t.Errorf("StatusCode helper returned %d", transcription.StatusCode(err))
	}
	if n := len(srv.Requests()); n != 1 {
		t.Errorf("Expected a single request for an HTTP error, got %d", n)
	}
}

func TestDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"active_sessions": "not-a-list"`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, nil)
	_, err := client.GetActiveSessions(context.Background(), transcription.NewSession("default", "en"))

	var decodeErr *transcription.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("Expected DecodeError, got %v", err)
	}
	if decodeErr.Endpoint != transcription.EndpointActiveSessions {
		t.Errorf("Expected endpoint %s, got %s", transcription.EndpointActiveSessions, decodeErr.Endpoint)
	}
}

func TestRequestHeadersAndQuery(t *testing.T) {
	requests := make(chan *http.Request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests <- r.Clone(context.Background())
		w.Write([]byte(`{"success": true}`))
	}))
	defer srv.Close()

	client, err := transcription.NewClient(transcription.Config{
		BaseURL: srv.URL,
		Headers: map[string]string{"X-Api-Key": "secret"},
	}, nil, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	session := transcription.NewSession("room 1", "cs")
	if _, err := client.RateTextChunk(context.Background(), session, transcription.TextChunk{Timestamp: 1}, 1); err != nil {
		t.Fatalf("RateTextChunk failed: %v", err)
	}
	got := <-requests

	if got.URL.Query().Get("session_id") != "room 1" {
		t.Errorf("Expected session_id 'room 1', got '%s'", got.URL.Query().Get("session_id"))
	}
	if got.URL.Query().Get("language") != "cs" {
		t.Errorf("Expected language 'cs', got '%s'", got.URL.Query().Get("language"))
	}
	if got.Header.Get("Content-Type") != "application/json" {
		t.Errorf("Expected JSON content type, got '%s'", got.Header.Get("Content-Type"))
	}
	if got.Header.Get("X-Api-Key") != "secret" {
		t.Errorf("Expected configured header, got '%s'", got.Header.Get("X-Api-Key"))
	}
}

func TestEmptySessionRejected(t *testing.T) {
	srv := transcriptiontest.NewServer()
	defer srv.Close()

	client := newTestClient(t, srv.URL, nil)
	if _, err := client.CreateSession(context.Background(), transcription.Session{Language: "en"}); err == nil {
		t.Error("Expected error for empty session id")
	}
	if n := len(srv.Requests()); n != 0 {
		t.Errorf("Expected no request for an invalid session, got %d", n)
	}
}

func TestClientMetrics(t *testing.T) {
	srv := transcriptiontest.NewServer()
	defer srv.Close()

	m := metrics.NewMetrics(prometheus.NewRegistry())
	client, err := transcription.NewClient(transcription.Config{
		BaseURL:    srv.URL,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
		Transport:  &failingTransport{failures: 1, next: http.DefaultTransport},
	}, nil, m)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	session := transcription.NewSession("default", "en")
	if _, err := client.GetActiveSessions(context.Background(), session); err != nil {
		t.Fatalf("GetActiveSessions failed: %v", err)
	}
	if _, err := client.GetDict(context.Background(), session); err == nil {
		t.Fatal("Expected error for unknown session")
	}

	endpoint := transcription.EndpointActiveSessions
	if got := testutil.ToFloat64(m.ClientRequests.WithLabelValues(endpoint, metrics.OutcomeSuccess)); got != 1 {
		t.Errorf("Expected 1 successful request, got %v", got)
	}
	if got := testutil.ToFloat64(m.ClientRetries.WithLabelValues(endpoint)); got != 1 {
		t.Errorf("Expected 1 retry, got %v", got)
	}
	if got := testutil.ToFloat64(m.ClientRequests.WithLabelValues(transcription.EndpointGetCorrectionRules, metrics.OutcomeStatusError)); got != 1 {
		t.Errorf("Expected 1 status error, got %v", got)
	}
}
