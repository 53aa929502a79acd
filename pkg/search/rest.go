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

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/cortexa-labs/ragsync/pkg/httpclient"
	"github.com/cortexa-labs/ragsync/pkg/retry"
)

const defaultPageSize = 100

// restGateway talks to an index over its REST document API: POST
// /docs/index for batched actions, POST /docs/search for scans, GET for
// point lookups. Authentication is an api-key header.
type restGateway struct {
	http       *httpclient.Client
	endpoint   string
	index      string
	apiVersion string
	pageSize   int
	retry      retry.Policy
}

// NewRESTGateway creates the REST backend.
func NewRESTGateway(cfg Config) Gateway {
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = "2024-07-01"
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	policy := retry.Policy{}
	policy.SetDefaults()

	return &restGateway{
		http:       httpclient.New(httpclient.WithHeader("api-key", cfg.APIKey)),
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		index:      cfg.Index,
		apiVersion: apiVersion,
		pageSize:   pageSize,
		retry:      policy,
	}
}

// classify maps HTTP failures onto the retry classes.
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

func (g *restGateway) docsURL(suffix string) string {
	return fmt.Sprintf("%s/indexes/%s/docs%s?api-version=%s", g.endpoint, g.index, suffix, g.apiVersion)
}

type indexBatchResponse struct {
	Value []struct {
		Key        string `json:"key"`
		Status     bool   `json:"status"`
		StatusCode int    `json:"statusCode"`
	} `json:"value"`
}

func (g *restGateway) postBatch(ctx context.Context, actions []map[string]any) error {
	body := map[string]any{"value": actions}
	return retry.Do(ctx, g.retry, "search.index_batch", classify, func() error {
		var resp indexBatchResponse
		if err := g.http.DoJSON(ctx, http.MethodPost, g.docsURL("/index"), body, &resp); err != nil {
			return err
		}
		for _, r := range resp.Value {
			// 404 on delete means the key was already gone.
			if !r.Status && r.StatusCode != http.StatusNotFound {
				return fmt.Errorf("index action failed for key %s: status %d", r.Key, r.StatusCode)
			}
		}
		return nil
	})
}

func (g *restGateway) UploadDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	actions := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		m, err := docToMap(doc)
		if err != nil {
			return err
		}
		m["@search.action"] = "mergeOrUpload"
		actions = append(actions, m)
	}
	return g.postBatch(ctx, actions)
}

func (g *restGateway) DeleteDocuments(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	actions := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		actions = append(actions, map[string]any{"@search.action": "delete", "id": id})
	}
	return g.postBatch(ctx, actions)
}

func (g *restGateway) GetDocument(ctx context.Context, key string, selectFields []string) (*Document, error) {
	suffix := fmt.Sprintf("('%s')", url.PathEscape(key))
	u := g.docsURL(suffix)
	if len(selectFields) > 0 {
		u += "&$select=" + url.QueryEscape(strings.Join(selectFields, ","))
	}

	return retry.DoWithResult(ctx, g.retry, "search.get_document", classify, func() (*Document, error) {
		var doc Document
		err := g.http.DoJSON(ctx, http.MethodGet, u, nil, &doc)
		if httpclient.IsNotFound(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &doc, nil
	})
}

type searchRequest struct {
	Search string `json:"search"`
	Filter string `json:"filter,omitempty"`
	Select string `json:"select,omitempty"`
	Top    int    `json:"top"`
	Skip   int    `json:"skip"`
}

type searchResponse struct {
	Value []Document `json:"value"`
}

// Search pages with top/skip; the scan ends when a page comes back short.
func (g *restGateway) Search(q Query) *Pager {
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = g.pageSize
	}
	skip := 0
	done := false

	return NewPager(func(ctx context.Context) ([]Document, error) {
		if done {
			return nil, nil
		}
		req := searchRequest{
			Search: "*",
			Filter: q.Filter,
			Select: strings.Join(q.Select, ","),
			Top:    pageSize,
			Skip:   skip,
		}
		resp, err := retry.DoWithResult(ctx, g.retry, "search.scan_page", classify, func() (*searchResponse, error) {
			var out searchResponse
			if err := g.http.DoJSON(ctx, http.MethodPost, g.docsURL("/search"), req, &out); err != nil {
				return nil, err
			}
			return &out, nil
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Value) < pageSize {
			done = true
		}
		if len(resp.Value) == 0 {
			return nil, nil
		}
		skip += len(resp.Value)
		return resp.Value, nil
	})
}

// docToMap flattens a document through its JSON form so the batch action
// marker can be attached.
func docToMap(doc Document) (map[string]any, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document %s: %w", doc.ID, err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", doc.ID, err)
	}
	return m, nil
}
