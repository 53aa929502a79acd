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

// Package embedder produces dense vectors and chat completions, with
// process-wide concurrency capping toward the rate-limited provider.
package embedder

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/cortexa-labs/ragsync/pkg/httpclient"
	"github.com/cortexa-labs/ragsync/pkg/retry"
	"github.com/cortexa-labs/ragsync/pkg/tokens"
)

// Embedder is what the chunkers and engine depend on.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Chat produces completions for figure captions and sheet summaries.
type Chat interface {
	Complete(ctx context.Context, system, user string) (string, error)
	CompleteWithImage(ctx context.Context, prompt string, image []byte, mimeType string) (string, error)
}

// All clients in the process share one semaphore so a run with many item
// workers still presents bounded concurrency to the provider.
var (
	semOnce sync.Once
	sem     *semaphore.Weighted
)

func providerSemaphore(n int64) *semaphore.Weighted {
	semOnce.Do(func() {
		if n < 1 {
			n = 2
		}
		sem = semaphore.NewWeighted(n)
	})
	return sem
}

// Config configures the embedding and chat clients.
type Config struct {
	Endpoint       string
	Deployment     string
	APIKey         string
	APIVersion     string
	MaxConcurrency int
	MaxInputTokens int
	MaxAttempts    int
	BackoffMax     time.Duration
}

func (c *Config) setDefaults() {
	if c.APIVersion == "" {
		c.APIVersion = "2024-06-01"
	}
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = 2
	}
	if c.MaxInputTokens == 0 {
		c.MaxInputTokens = 8191
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 8
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = 60 * time.Second
	}
}

// Client calls the embeddings endpoint.
type Client struct {
	http      *httpclient.Client
	cfg       Config
	estimator *tokens.Estimator
	sem       *semaphore.Weighted
	retry     retry.Policy
}

// NewClient creates an embedding client. The token estimator bounds input
// before any network call.
func NewClient(cfg Config, estimator *tokens.Estimator) *Client {
	cfg.setDefaults()
	policy := retry.Policy{
		MaxAttempts:     cfg.MaxAttempts,
		BaseDelay:       time.Second,
		MaxDelay:        cfg.BackoffMax,
		FullJitter:      true,
		HonorRetryAfter: true,
	}
	return &Client{
		http:      httpclient.New(httpclient.WithHeader("api-key", cfg.APIKey)),
		cfg:       cfg,
		estimator: estimator,
		sem:       providerSemaphore(int64(cfg.MaxConcurrency)),
		retry:     policy,
	}
}

func classify(err error) retry.Class {
	switch {
	case httpclient.IsRateLimited(err):
		return retry.RateLimited
	case httpclient.IsNonRetriable(err):
		return retry.Fatal
	case httpclient.IsTransient(err):
		return retry.Transient
	default:
		return retry.Fatal
	}
}

type embedRequest struct {
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *Client) embeddingsURL() string {
	base := strings.TrimRight(c.cfg.Endpoint, "/")
	if c.cfg.Deployment != "" {
		return fmt.Sprintf("%s/openai/deployments/%s/embeddings?api-version=%s", base, c.cfg.Deployment, c.cfg.APIVersion)
	}
	return base + "/embeddings"
}

// Embed returns the dense vector for text. Empty or whitespace-only input
// returns nil without touching the provider.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	text = c.truncateToWindow(text)

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	resp, err := retry.DoWithResult(ctx, c.retry, "embedder.embed", classify, func() (*embedResponse, error) {
		var out embedResponse
		if err := c.http.DoJSON(ctx, http.MethodPost, c.embeddingsURL(), embedRequest{Input: []string{text}}, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("provider returned no embedding")
	}
	return resp.Data[0].Embedding, nil
}

// truncateToWindow trims text rune-wise until it fits the provider's input
// token window, so a cut never splits a multi-byte character. The cut step
// doubles every 5 iterations so oversized inputs converge quickly.
func (c *Client) truncateToWindow(text string) string {
	if c.estimator == nil || c.estimator.Count(text) <= c.cfg.MaxInputTokens {
		return text
	}
	runes := []rune(text)
	step := 16
	iterations := 0
	for len(runes) > 0 && c.estimator.Count(string(runes)) > c.cfg.MaxInputTokens {
		cut := step
		if cut > len(runes) {
			cut = len(runes)
		}
		runes = runes[:len(runes)-cut]
		iterations++
		if iterations%5 == 0 {
			step *= 2
		}
	}
	return string(runes)
}

var _ Embedder = (*Client)(nil)
