package ai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestAPIClient_RetriesThrottled(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c := newAPIClient(Config{MaxRetries: 3}, nil)
	c.backoff.Initial = time.Millisecond
	var out struct{ OK bool }
	if err := c.postJSON(context.Background(), server.URL, map[string]string{}, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.OK || atomic.LoadInt32(&calls) != 3 {
		t.Errorf("expected success on third call, got ok=%v calls=%d", out.OK, calls)
	}
}

func TestAPIClient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := newAPIClient(Config{MaxRetries: 1}, nil)
	c.backoff.Initial = time.Millisecond
	var out struct{}
	if err := c.postJSON(context.Background(), server.URL, nil, &out); err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected 2 calls, got %d", got)
	}
}

func TestAPIClient_RateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newAPIClient(Config{RequestsPerSecond: 20, Burst: 1}, nil)
	start := time.Now()
	for i := 0; i < 3; i++ {
		var out struct{}
		if err := c.postJSON(context.Background(), server.URL, nil, &out); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("expected limiter to space requests, took %v", elapsed)
	}
}

func TestAPIClient_LimiterHonoursContext(t *testing.T) {
	c := newAPIClient(Config{RequestsPerSecond: 0.001, Burst: 1}, nil)
	c.limiter.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	var out struct{}
	if err := c.postJSON(ctx, "http://127.0.0.1:1", nil, &out); err == nil {
		t.Error("expected limiter wait to fail")
	}
}

func TestBatches(t *testing.T) {
	got := batches([]string{"a", "b", "c"}, 2)
	if len(got) != 2 || len(got[0]) != 2 || len(got[1]) != 1 {
		t.Errorf("unexpected batches %v", got)
	}
	if got := batches([]string{"a"}, 0); len(got) != 1 {
		t.Errorf("expected one batch, got %v", got)
	}
}
