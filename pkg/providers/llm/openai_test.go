package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/duplexai/duplexcore/pkg/orchestrator"
)

func sseServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintf(w, "data: %s\n\n", line)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
}

func TestOpenAIGeneratorStreamsDeltasThenDone(t *testing.T) {
	server := sseServer(t, []string{
		`{"choices":[{"delta":{"content":"Hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo"}}]}`,
		`[DONE]`,
	})
	defer server.Close()

	g := NewOpenAIGenerator("test-key", "")
	g.url = server.URL

	tokens, err := g.Start(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var deltas string
	var done bool
	var fullText string
	for tok := range collectWithTimeout(t, tokens, time.Second) {
		if tok.Err != nil {
			t.Fatalf("unexpected token error: %v", tok.Err)
		}
		deltas += tok.Delta
		if tok.Done {
			done = true
			fullText = tok.FullText
		}
	}

	if deltas != "Hello" {
		t.Fatalf("deltas = %q, want %q", deltas, "Hello")
	}
	if !done {
		t.Fatal("never received a Done token")
	}
	if fullText != "Hello" {
		t.Fatalf("FullText = %q, want %q", fullText, "Hello")
	}
}

func TestOpenAIGeneratorUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	g := NewOpenAIGenerator("wrong-key", "")
	g.url = server.URL

	if _, err := g.Start(context.Background(), "hi", nil); err == nil {
		t.Fatal("Start() error = nil, want an error on 401")
	}
}

func TestOpenAIGeneratorStopsOnContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		fmt.Fprintf(w, "data: %s\n\n", `{"choices":[{"delta":{"content":"a"}}]}`)
		if flusher != nil {
			flusher.Flush()
		}
		<-r.Context().Done()
	}))
	defer server.Close()

	g := NewOpenAIGenerator("test-key", "")
	g.url = server.URL

	ctx, cancel := context.WithCancel(context.Background())
	tokens, err := g.Start(ctx, "hi", nil)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	<-tokens // first delta
	cancel()

	select {
	case _, ok := <-tokens:
		if ok {
			// draining any buffered token is fine, but the channel must
			// eventually close.
			for range tokens {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("token channel never closed after context cancellation")
	}
}

func collectWithTimeout(t *testing.T, in <-chan orchestrator.GeneratorToken, timeout time.Duration) <-chan orchestrator.GeneratorToken {
	t.Helper()
	out := make(chan orchestrator.GeneratorToken)
	go func() {
		defer close(out)
		deadline := time.After(timeout)
		for {
			select {
			case tok, ok := <-in:
				if !ok {
					return
				}
				out <- tok
			case <-deadline:
				t.Error("timed out collecting tokens")
				return
			}
		}
	}()
	return out
}
