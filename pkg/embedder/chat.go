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
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/cortexa-labs/ragsync/pkg/httpclient"
	"github.com/cortexa-labs/ragsync/pkg/retry"
)

// ChatClient calls the chat-completions endpoint. It shares the provider
// semaphore and retry discipline with the embedding client.
type ChatClient struct {
	http  *httpclient.Client
	cfg   Config
	sem   *semaphore.Weighted
	retry retry.Policy
}

// NewChatClient creates a chat client for captions and summaries.
func NewChatClient(cfg Config) *ChatClient {
	cfg.setDefaults()
	policy := retry.Policy{
		MaxAttempts:     cfg.MaxAttempts,
		BaseDelay:       time.Second,
		MaxDelay:        cfg.BackoffMax,
		FullJitter:      true,
		HonorRetryAfter: true,
	}
	return &ChatClient{
		http:  httpclient.New(httpclient.WithHeader("api-key", cfg.APIKey)),
		cfg:   cfg,
		sem:   providerSemaphore(int64(cfg.MaxConcurrency)),
		retry: policy,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *ChatClient) completionsURL() string {
	base := strings.TrimRight(c.cfg.Endpoint, "/")
	if c.cfg.Deployment != "" {
		return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s", base, c.cfg.Deployment, c.cfg.APIVersion)
	}
	return base + "/chat/completions"
}

func (c *ChatClient) complete(ctx context.Context, messages []chatMessage) (string, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer c.sem.Release(1)

	resp, err := retry.DoWithResult(ctx, c.retry, "embedder.chat", classify, func() (*chatResponse, error) {
		var out chatResponse
		if err := c.http.DoJSON(ctx, http.MethodPost, c.completionsURL(), chatRequest{Messages: messages}, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("provider returned no completion")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Complete runs a plain text completion.
func (c *ChatClient) Complete(ctx context.Context, system, user string) (string, error) {
	messages := []chatMessage{}
	if system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: user})
	return c.complete(ctx, messages)
}

// CompleteWithImage sends the prompt together with an inline image for
// figure captioning.
func (c *ChatClient) CompleteWithImage(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = "image/png"
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image))

	content := []map[string]any{
		{"type": "text", "text": prompt},
		{"type": "image_url", "image_url": map[string]string{"url": dataURL}},
	}
	return c.complete(ctx, []chatMessage{{Role: "user", Content: content}})
}

var _ Chat = (*ChatClient)(nil)
