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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		name    string
		filter  string
		want    []clause
		wantErr bool
	}{
		{
			name:   "single eq",
			filter: "parent_id eq '/docs/a.pdf'",
			want:   []clause{{Field: "parent_id", Op: "eq", Value: "/docs/a.pdf"}},
		},
		{
			name:   "single ne",
			filter: "source ne 'blob'",
			want:   []clause{{Field: "source", Op: "ne", Value: "blob"}},
		},
		{
			name:   "conjunction",
			filter: "source eq 'blob' and parent_id eq '/x'",
			want: []clause{
				{Field: "source", Op: "eq", Value: "blob"},
				{Field: "parent_id", Op: "eq", Value: "/x"},
			},
		},
		{
			name:   "escaped quote",
			filter: "title eq 'O''Brien'",
			want:   []clause{{Field: "title", Op: "eq", Value: "O'Brien"}},
		},
		{
			name:   "empty",
			filter: "",
			want:   nil,
		},
		{
			name:    "unsupported operator",
			filter:  "chunk_id gt 3",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFilter(tt.filter)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d clauses, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("clause %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestQuoteFilterValue(t *testing.T) {
	if got := QuoteFilterValue("a'b"); got != "'a''b'" {
		t.Errorf("QuoteFilterValue = %q", got)
	}
}

func TestMemory_UploadGetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	docs := []Document{
		{ID: "docs-a-pdf-c00000", ParentID: "/docs/a.pdf", Source: "blob", LastModified: "2025-01-01T00:00:00Z"},
		{ID: "docs-a-pdf-c00001", ParentID: "/docs/a.pdf", Source: "blob"},
	}
	if err := m.UploadDocuments(ctx, docs); err != nil {
		t.Fatalf("upload: %v", err)
	}

	got, err := m.GetDocument(ctx, "docs-a-pdf-c00000", nil)
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}
	if got.LastModified != "2025-01-01T00:00:00Z" {
		t.Errorf("LastModified = %q", got.LastModified)
	}

	missing, err := m.GetDocument(ctx, "nope", nil)
	if err != nil || missing != nil {
		t.Errorf("expected (nil, nil) for absent key, got %v %v", missing, err)
	}

	if err := m.DeleteDocuments(ctx, []string{"docs-a-pdf-c00000", "docs-a-pdf-c00001"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if m.Len() != 0 {
		t.Errorf("expected empty store, got %d docs", m.Len())
	}
}

func TestMemory_SearchPaging(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var docs []Document
	for _, parent := range []string{"/docs/a.pdf", "/docs/b.pdf"} {
		for i := 0; i < 3; i++ {
			docs = append(docs, Document{
				ID:       parent + string(rune('0'+i)),
				ParentID: parent,
				Source:   "blob",
			})
		}
	}
	docs = append(docs, Document{ID: "other", ParentID: "/x", Source: "sharepoint-list"})
	if err := m.UploadDocuments(ctx, docs); err != nil {
		t.Fatal(err)
	}

	pager := m.Search(Query{Filter: "parent_id eq '/docs/a.pdf'", PageSize: 2})
	var ids []string
	for pager.Next(ctx) {
		for _, d := range pager.Page() {
			ids = append(ids, d.ID)
		}
	}
	if err := pager.Err(); err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 {
		t.Errorf("expected 3 matches, got %v", ids)
	}

	pager = m.Search(Query{Filter: "source eq 'blob'"})
	count := 0
	for pager.Next(ctx) {
		count += len(pager.Page())
	}
	if count != 6 {
		t.Errorf("expected 6 blob docs, got %d", count)
	}
}

func TestRESTGateway_UploadAndDelete(t *testing.T) {
	var gotActions []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/docs/index") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("api-key") != "k" {
			t.Error("missing api-key header")
		}
		var body struct {
			Value []map[string]any `json:"value"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotActions = body.Value
		_ = json.NewEncoder(w).Encode(map[string]any{"value": []map[string]any{}})
	}))
	defer srv.Close()

	gw := NewRESTGateway(Config{Endpoint: srv.URL, APIKey: "k", Index: "ragindex"})
	ctx := context.Background()

	err := gw.UploadDocuments(ctx, []Document{{ID: "a-c00000", ParentID: "/a", Content: "hello"}})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(gotActions) != 1 || gotActions[0]["@search.action"] != "mergeOrUpload" {
		t.Errorf("unexpected actions: %v", gotActions)
	}
	if gotActions[0]["id"] != "a-c00000" {
		t.Errorf("id = %v", gotActions[0]["id"])
	}

	if err := gw.DeleteDocuments(ctx, []string{"a-c00000"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if gotActions[0]["@search.action"] != "delete" {
		t.Errorf("unexpected delete action: %v", gotActions[0])
	}
}

func TestRESTGateway_GetDocumentNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	gw := NewRESTGateway(Config{Endpoint: srv.URL, Index: "ragindex"})
	doc, err := gw.GetDocument(context.Background(), "missing-c00000", []string{"metadata_storage_last_modified"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc != nil {
		t.Errorf("expected nil for 404, got %+v", doc)
	}
}

func TestRESTGateway_SearchPagesUntilShortPage(t *testing.T) {
	pages := [][]Document{
		{{ID: "a"}, {ID: "b"}},
		{{ID: "c"}},
	}
	call := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Top != 2 {
			t.Errorf("top = %d", req.Top)
		}
		var page []Document
		if call < len(pages) {
			page = pages[call]
		}
		call++
		_ = json.NewEncoder(w).Encode(searchResponse{Value: page})
	}))
	defer srv.Close()

	gw := NewRESTGateway(Config{Endpoint: srv.URL, Index: "ragindex"})
	pager := gw.Search(Query{Filter: "source eq 'blob'", PageSize: 2})

	var ids []string
	for pager.Next(context.Background()) {
		for _, d := range pager.Page() {
			ids = append(ids, d.ID)
		}
	}
	if err := pager.Err(); err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 || ids[2] != "c" {
		t.Errorf("ids = %v", ids)
	}
	if call != 2 {
		t.Errorf("expected 2 page fetches, got %d", call)
	}
}

func TestRESTGateway_RetriesTransient(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"value": []map[string]any{}})
	}))
	defer srv.Close()

	gw := NewRESTGateway(Config{Endpoint: srv.URL, Index: "ragindex"}).(*restGateway)
	gw.retry.BaseDelay = 1 // keep the test fast

	if err := gw.DeleteDocuments(context.Background(), []string{"x"}); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}
