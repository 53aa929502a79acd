// Copyright 2025 Cortexa Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/cortexa-labs/ragsync/pkg/tokens"
)

func embedHandler(vector []float32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": vector, "index": 0}},
		})
	}
}

func TestEmbed_EmptyInputSkipsProvider(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL}, nil)
	for _, input := range []string{"", "   ", "\n\t"} {
		vec, err := c.Embed(context.Background(), input)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if vec != nil {
			t.Errorf("expected nil vector for %q", input)
		}
	}
	if called {
		t.Error("provider must not be called for empty input")
	}
}

func TestEmbed_Success(t *testing.T) {
	srv := httptest.NewServer(embedHandler([]float32{0.1, 0.2, 0.3}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL}, nil)
	vec, err := c.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.1 {
		t.Errorf("unexpected vector: %v", vec)
	}
}

func TestEmbed_RateLimitHonorsRetryAfterMs(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("retry-after-ms", "50")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		embedHandler([]float32{1})(w, r)
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL}, nil)
	start := time.Now()
	vec, err := c.Embed(context.Background(), "throttled once")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 1 {
		t.Errorf("unexpected vector: %v", vec)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("expected to wait the provider's hint, waited %v", elapsed)
	}
}

func TestEmbed_NonRetriableFailsFast(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL}, nil)
	if _, err := c.Embed(context.Background(), "bad"); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected a single call for 400, got %d", calls)
	}
}

func TestEmbed_AzureDeploymentURL(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		embedHandler([]float32{1})(w, r)
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL, Deployment: "text-embedding-3-large"}, nil)
	if _, err := c.Embed(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
	want := "/openai/deployments/text-embedding-3-large/embeddings"
	if gotPath != want {
		t.Errorf("path = %q, want %q", gotPath, want)
	}
}

func TestTruncateToWindow(t *testing.T) {
	est, err := tokens.NewEstimator("")
	if err != nil {
		t.Fatal(err)
	}

	c := NewClient(Config{Endpoint: "http://unused", MaxInputTokens: 50}, est)
	long := strings.Repeat("the quick brown fox jumps over the lazy dog ", 100)

	truncated := c.truncateToWindow(long)
	if got := est.Count(truncated); got > 50 {
		t.Errorf("truncated text still has %d tokens", got)
	}
	if len(truncated) == 0 {
		t.Error("truncation must leave a non-empty prefix")
	}

	short := "short text"
	if got := c.truncateToWindow(short); got != short {
		t.Errorf("in-budget text must pass through unchanged, got %q", got)
	}
}

func TestTruncateToWindow_MultibyteStaysValid(t *testing.T) {
	est, err := tokens.NewEstimator("")
	if err != nil {
		t.Fatal(err)
	}

	c := NewClient(Config{Endpoint: "http://unused", MaxInputTokens: 40}, est)
	long := strings.Repeat("日本語のテキスト и русский текст ", 200)

	truncated := c.truncateToWindow(long)
	if !utf8.ValidString(truncated) {
		t.Error("truncation split a multi-byte character")
	}
	if got := est.Count(truncated); got > 40 {
		t.Errorf("truncated text still has %d tokens", got)
	}
	if len(truncated) == 0 {
		t.Error("truncation must leave a non-empty prefix")
	}
}

func TestChatComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "  a summary  "}},
			},
		})
	}))
	defer srv.Close()

	c := NewChatClient(Config{Endpoint: srv.URL})
	got, err := c.Complete(context.Background(), "you summarize", "summarize this")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "a summary" {
		t.Errorf("expected trimmed content, got %q", got)
	}
}

func TestChatCompleteWithImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string           `json:"role"`
				Content []map[string]any `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 1 || len(req.Messages[0].Content) != 2 {
			t.Errorf("unexpected payload: %+v", req)
		}
		url, _ := req.Messages[0].Content[1]["image_url"].(map[string]any)
		if u, _ := url["url"].(string); !strings.HasPrefix(u, "data:image/png;base64,") {
			t.Errorf("unexpected image url: %v", url)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "a chart"}},
			},
		})
	}))
	defer srv.Close()

	c := NewChatClient(Config{Endpoint: srv.URL})
	got, err := c.CompleteWithImage(context.Background(), "caption this", []byte{1, 2, 3}, "image/png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "a chart" {
		t.Errorf("caption = %q", got)
	}
}
