package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestOpenAIComplete(t *testing.T) {
	var gotModel, gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Content []struct {
					Type string `json:"type"`
					Text string `json:"text"`
				} `json:"content"`
			} `json:"messages"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		gotModel = req.Model
		if len(req.Messages) > 0 {
			for _, part := range req.Messages[0].Content {
				if part.Type == "text" {
					gotPrompt += part.Text
				}
			}
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"cmpl-1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"ACTION: 0.1, 0.2, 0.9, -1"}}]}`)
	}))
	t.Cleanup(srv.Close)

	c := NewOpenAI(context.Background(), WithBaseURL(srv.URL+"/"), WithAPIKey("test-key"))
	got, err := c.Complete(context.Background(), "gpt-4o-mini", "where is the can?")
	if err != nil {
		t.Fatalf("Failed to complete request: %v", err)
	}
	if got != "ACTION: 0.1, 0.2, 0.9, -1" {
		t.Errorf("Complete() = %q", got)
	}
	if gotModel != "gpt-4o-mini" || gotPrompt != "where is the can?" {
		t.Errorf("server saw model=%q prompt=%q", gotModel, gotPrompt)
	}
}

func TestOpenAIServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c := NewOpenAI(context.Background(), WithBaseURL(srv.URL+"/"), WithAPIKey("test-key"))
	if _, err := c.Complete(context.Background(), "gpt-4o-mini", "hi"); err == nil {
		t.Fatal("expected error from failing server")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server called %d times, want exactly 1", n)
	}
}

func TestNew(t *testing.T) {
	t.Run("unknown provider", func(t *testing.T) {
		if _, err := New(context.Background(), "cohere"); err == nil {
			t.Error("expected error for unknown provider")
		}
	})

	t.Run("gemini without key", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "")
		if _, err := New(context.Background(), Gemini); err == nil {
			t.Error("expected error without GEMINI_API_KEY")
		}
	})

	t.Run("openai", func(t *testing.T) {
		c, err := New(context.Background(), OpenAI, WithAPIKey("k"), WithBaseURL("http://127.0.0.1:1/"))
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := c.(*OpenAIClient); !ok {
			t.Errorf("New(openai) returned %T", c)
		}
	})
}
