package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"dredge/pkg/errors"
	"dredge/pkg/logger"
)

// countingLimiter records limiter calls without gating anything.
type countingLimiter struct {
	acquires  atomic.Int64
	failures  atomic.Int64
	successes atomic.Int64
}

func (l *countingLimiter) Acquire(ctx context.Context, key string) error {
	l.acquires.Add(1)
	return nil
}

func (l *countingLimiter) RecordFailure(key string) time.Duration {
	l.failures.Add(1)
	return 0
}

func (l *countingLimiter) RecordSuccess(key string) {
	l.successes.Add(1)
}

func newTestClient(maxRetries int, lim Limiter) *Client {
	return NewClient(Options{
		Timeout:    5 * time.Second,
		MaxRetries: maxRetries,
		UserAgents: []string{"agent-a", "agent-b", "agent-c"},
	}, lim, logger.NewNopLogger())
}

func TestDoReturnsResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("payload"))
	}))
	defer server.Close()

	client := newTestClient(0, nil)
	res, err := client.Do(context.Background(), Request{URL: server.URL, ResourceKey: "media"})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}

	if string(res.Body) != "payload" {
		t.Errorf("Body = %q, want %q", res.Body, "payload")
	}
	if res.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", res.StatusCode)
	}
	if res.ContentType != "image/jpeg" {
		t.Errorf("ContentType = %q, want image/jpeg", res.ContentType)
	}
	if res.ContentLength != int64(len("payload")) {
		t.Errorf("ContentLength = %d, want %d", res.ContentLength, len("payload"))
	}
}

func TestDoRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	lim := &countingLimiter{}
	client := newTestClient(3, lim)

	res, err := client.Do(context.Background(), Request{URL: server.URL, ResourceKey: "listing"})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if string(res.Body) != "ok" {
		t.Errorf("Body = %q, want ok", res.Body)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server saw %d requests, want 3", got)
	}
	if got := lim.failures.Load(); got != 2 {
		t.Errorf("RecordFailure called %d times, want 2", got)
	}
	if got := lim.successes.Load(); got != 1 {
		t.Errorf("RecordSuccess called %d times, want 1", got)
	}
}

func TestDoDoesNotRetryPermanentStatus(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(3, &countingLimiter{})
	_, err := client.Do(context.Background(), Request{URL: server.URL, ResourceKey: "media"})
	if err == nil {
		t.Fatal("Do should fail on 404")
	}

	if got := calls.Load(); got != 1 {
		t.Errorf("server saw %d requests, want 1", got)
	}
	if errors.TypeOf(err) != errors.ErrorTypePermanent {
		t.Errorf("TypeOf = %v, want permanent", errors.TypeOf(err))
	}
	var derr *errors.Error
	if !errors.As(err, &derr) || derr.Code != http.StatusNotFound {
		t.Errorf("error code = %v, want 404", err)
	}
}

func TestDoRetriesRateLimitStatus(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := newTestClient(2, &countingLimiter{})
	res, err := client.Do(context.Background(), Request{URL: server.URL, ResourceKey: "listing"})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if string(res.Body) != "ok" {
		t.Errorf("Body = %q, want ok", res.Body)
	}
}

func TestDoExhaustsRetryBudget(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(2, &countingLimiter{})
	_, err := client.Do(context.Background(), Request{URL: server.URL, ResourceKey: "media"})
	if err == nil {
		t.Fatal("Do should fail after exhausting retries")
	}

	if got := calls.Load(); got != 3 {
		t.Errorf("server saw %d requests, want 3 (initial + 2 retries)", got)
	}
	if !errors.IsRetryable(err) {
		t.Errorf("exhausted error should still classify as transient: %v", err)
	}
}

func TestDoRotatesUserAgents(t *testing.T) {
	var mu []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu = append(mu, r.Header.Get("User-Agent"))
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := newTestClient(0, nil)
	for i := 0; i < 3; i++ {
		if _, err := client.Do(context.Background(), Request{URL: server.URL}); err != nil {
			t.Fatalf("Do %d: %v", i, err)
		}
	}

	want := []string{"agent-a", "agent-b", "agent-c"}
	for i, ua := range want {
		if mu[i] != ua {
			t.Errorf("request %d used agent %q, want %q", i, mu[i], ua)
		}
	}
}

func TestSetHeaderIsSent(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Probe")
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := newTestClient(0, nil)
	client.SetHeader("X-Probe", "yes")
	if _, err := client.Do(context.Background(), Request{URL: server.URL}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != "yes" {
		t.Errorf("X-Probe = %q, want yes", got)
	}
}

func TestGetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Accept = %q, want application/json", r.Header.Get("Accept"))
		}
		w.Write([]byte(`{"items":["a","b"]}`))
	}))
	defer server.Close()

	client := newTestClient(0, nil)
	var payload struct {
		Items []string `json:"items"`
	}
	if err := client.GetJSON(context.Background(), "listing", server.URL, &payload); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if len(payload.Items) != 2 {
		t.Errorf("Items = %v, want 2 entries", payload.Items)
	}
}

func TestGetJSONRejectsMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer server.Close()

	client := newTestClient(0, nil)
	var payload map[string]interface{}
	err := client.GetJSON(context.Background(), "listing", server.URL, &payload)
	if err == nil {
		t.Fatal("GetJSON should fail on malformed body")
	}
	if errors.TypeOf(err) != errors.ErrorTypePermanent {
		t.Errorf("TypeOf = %v, want permanent", errors.TypeOf(err))
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := newTestClient(0, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Do(ctx, Request{URL: server.URL})
	if err == nil {
		t.Fatal("Do should fail when the context expires")
	}
}
