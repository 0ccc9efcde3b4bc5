package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestClientStreamChatDecodesFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`data: {"type":"chat","data":{"phase":"answer","delta_content":"hi","done":true}}` + "\n\n"))
		w.(http.Flusher).Flush()
	}))
	defer srv.Close()

	client := New(Options{BaseURL: srv.URL, Token: "test"}, zap.NewNop())
	frames, err := client.StreamChat(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got int
	for f := range frames {
		if f.DeltaContent != "hi" {
			t.Fatalf("unexpected frame content: %+v", f)
		}
		got++
	}
	if got != 1 {
		t.Fatalf("expected 1 frame, got %d", got)
	}
}

func TestClientStreamChatPropagatesUpstreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("rate limited"))
	}))
	defer srv.Close()

	client := New(Options{BaseURL: srv.URL, Token: "test"}, zap.NewNop())
	_, err := client.StreamChat(context.Background(), []byte(`{}`))
	if err == nil {
		t.Fatal("expected an error for a 429 upstream response")
	}
}

func TestClientCircuitBreakerOpensAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := New(Options{BaseURL: srv.URL, Token: "test"}, zap.NewNop())
	client.breaker = NewCircuitBreaker(2, time.Hour)

	for i := 0; i < 2; i++ {
		if _, err := client.StreamChat(context.Background(), []byte(`{}`)); err == nil {
			t.Fatalf("expected failure on attempt %d", i)
		}
	}
	if client.breaker.State() != CircuitOpen {
		t.Fatalf("expected breaker open after threshold failures, got %s", client.breaker.State())
	}

	_, err := client.StreamChat(context.Background(), []byte(`{}`))
	if err == nil {
		t.Fatal("expected the open breaker to reject the call without hitting upstream")
	}
}

func TestClientResolvesAndCachesAnonymousToken(t *testing.T) {
	var authCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auths":
			authCalls++
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"token":"anon-token-1"}`))
		case "/chat/completions":
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`data: {"type":"chat","data":{"phase":"answer","delta_content":"ok","done":true}}` + "\n\n"))
			w.(http.Flusher).Flush()
		}
	}))
	defer srv.Close()

	client := New(Options{BaseURL: srv.URL, AnonymousToken: true, TokenTTL: time.Minute}, zap.NewNop())

	for i := 0; i < 2; i++ {
		frames, err := client.StreamChat(context.Background(), []byte(`{}`))
		if err != nil {
			t.Fatalf("unexpected error on call %d: %v", i, err)
		}
		for range frames {
		}
	}
	if authCalls != 1 {
		t.Fatalf("expected the anonymous token to be fetched once and cached, got %d calls", authCalls)
	}
}
