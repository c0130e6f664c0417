package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func sseServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") == "" {
			http.Error(w, "missing key", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func delta(text string) string {
	return fmt.Sprintf(`{"type":"content_block_delta","delta":{"type":"text_delta","text":%q}}`, text)
}

func TestStream_DeltasInOrder(t *testing.T) {
	srv := sseServer(t, []string{
		`{"type":"message_start"}`,
		delta("Hello"),
		delta(" world"),
		`{"type":"message_stop"}`,
	})

	c := NewClientWithBaseURL("test-key", "test-model", srv.URL)

	var got []string
	err := c.Stream(context.Background(), "system", []Message{{Role: "user", Content: "hi"}}, func(text string) error {
		got = append(got, text)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if strings.Join(got, "") != "Hello world" {
		t.Errorf("deltas = %v", got)
	}
}

func TestStream_ProviderError(t *testing.T) {
	srv := sseServer(t, []string{
		delta("partial"),
		`{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`,
	})

	c := NewClientWithBaseURL("test-key", "test-model", srv.URL)

	err := c.Stream(context.Background(), "", []Message{{Role: "user", Content: "hi"}}, func(string) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "overloaded") {
		t.Errorf("err = %v, want provider error", err)
	}
}

// TestStream_TruncatedWithoutStop verifies a stream that ends without
// message_stop is reported as truncated, not as success.
func TestStream_TruncatedWithoutStop(t *testing.T) {
	srv := sseServer(t, []string{delta("cut off mid")})

	c := NewClientWithBaseURL("test-key", "test-model", srv.URL)

	err := c.Stream(context.Background(), "", []Message{{Role: "user", Content: "hi"}}, func(string) error { return nil })
	if !errors.Is(err, ErrStreamTruncated) {
		t.Errorf("err = %v, want ErrStreamTruncated", err)
	}
}

func TestStream_SkipsMalformedFrames(t *testing.T) {
	srv := sseServer(t, []string{
		"{not json",
		delta("ok"),
		`{"type":"message_stop"}`,
	})

	c := NewClientWithBaseURL("test-key", "test-model", srv.URL)

	var got string
	err := c.Stream(context.Background(), "", []Message{{Role: "user", Content: "hi"}}, func(text string) error {
		got += text
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if got != "ok" {
		t.Errorf("got = %q", got)
	}
}

func TestStream_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	c := NewClientWithBaseURL("bad-key", "test-model", srv.URL)

	err := c.Stream(context.Background(), "", []Message{{Role: "user", Content: "hi"}}, func(string) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Errorf("err = %v, want status error", err)
	}
}

func TestStream_RetriesRateLimit(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", delta("after retry"))
		fmt.Fprint(w, "data: {\"type\":\"message_stop\"}\n\n")
	}))
	t.Cleanup(srv.Close)

	c := NewClientWithBaseURL("test-key", "test-model", srv.URL)

	var got string
	err := c.Stream(context.Background(), "", []Message{{Role: "user", Content: "hi"}}, func(text string) error {
		got += text
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if got != "after retry" {
		t.Errorf("got = %q", got)
	}
}
