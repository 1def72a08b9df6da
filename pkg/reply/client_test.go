package reply

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ghhufue/chatrelay/pkg/models"
)

func TestGenerateTransformsHistory(t *testing.T) {
	var got completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer k" {
			t.Errorf("unexpected auth header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": "hello back"}}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-model", "k")
	// history deliberately out of order; ids decide the turn order
	history := []models.HistoryMessage{
		{ID: 3, SenderID: 1, Content: "third"},
		{ID: 1, SenderID: 1, Content: "first"},
		{ID: 2, SenderID: 9, Content: "second"},
	}
	out, err := c.Generate(context.Background(), history, 1)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "hello back" {
		t.Fatalf("unexpected reply %q", out)
	}
	if got.Model != "test-model" || got.Stream {
		t.Fatalf("unexpected request %+v", got)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(got.Messages))
	}
	if got.Messages[0].Content != "first" || got.Messages[1].Content != "second" || got.Messages[2].Content != "third" {
		t.Fatalf("history not ordered by id: %+v", got.Messages)
	}
	if got.Messages[0].Role != "user" || got.Messages[1].Role != "assistant" {
		t.Fatalf("roles not derived from sender: %+v", got.Messages)
	}
}

func TestGenerateHonorsContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// consume the body so the server notices the client going away
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(srv.URL, "m", "k")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Generate(ctx, nil, 1); err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestGenerateAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "m", "k")
	if _, err := c.Generate(context.Background(), nil, 1); err == nil {
		t.Fatalf("expected API error")
	}
}

func TestCannedDelayObeysContext(t *testing.T) {
	g := Canned{Reply: "ok", Delay: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := g.Generate(ctx, nil, 1); err == nil {
		t.Fatalf("expected context error")
	}
}
