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

package indexer

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cortexa-labs/ragsync/pkg/chunker"
	"github.com/cortexa-labs/ragsync/pkg/search"
	"github.com/cortexa-labs/ragsync/pkg/sources"
	"github.com/cortexa-labs/ragsync/pkg/tokens"
)

type fakeConnector struct {
	tag      string
	segments []string
	items    []sources.ItemRef
	err      error
}

func (f *fakeConnector) Tag() string        { return f.tag }
func (f *fakeConnector) Segments() []string { return f.segments }

func (f *fakeConnector) Enumerate(context.Context) (<-chan sources.ItemRef, <-chan error) {
	items := make(chan sources.ItemRef, len(f.items)+1)
	errs := make(chan error, 1)
	for _, item := range f.items {
		items <- item
	}
	if f.err != nil {
		errs <- f.err
	}
	close(items)
	close(errs)
	return items, errs
}

type fakeEmbedder struct {
	calls atomic.Int64
	last  atomic.Value
	fail  error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	if text == "" {
		return nil, nil
	}
	f.calls.Add(1)
	f.last.Store(text)
	return []float32{0.1, 0.2}, nil
}

func textItem(id, content string, lastModified time.Time) sources.ItemRef {
	data := []byte(content)
	name := id[lastSlash(id)+1:]
	return sources.ItemRef{
		ID:           id,
		Name:         name,
		LastModified: lastModified,
		ContentType:  "text/plain",
		Size:         int64(len(data)),
		Download: func(context.Context) (*sources.Download, error) {
			return &sources.Download{Data: data, ContentType: "text/plain", Size: int64(len(data))}, nil
		},
	}
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

func testEngine(t *testing.T, gw search.Gateway, conn sources.Connector, emb *fakeEmbedder) *Engine {
	t.Helper()
	est, err := tokens.NewEstimator(tokens.DefaultEncoding)
	if err != nil {
		t.Fatal(err)
	}
	deps := chunker.Deps{Estimator: est}
	runlog := NewRunLogger(context.Background(), nil, "test-indexer", 0)
	return NewEngine(EngineConfig{Name: "test-indexer"}, gw, emb, conn, deps, runlog)
}

func TestEngine_FreshIngest(t *testing.T) {
	gw := search.NewMemory()
	modified := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	conn := &fakeConnector{
		tag:   "blob",
		items: []sources.ItemRef{textItem("docs/a.txt", "the quick brown fox", modified)},
	}
	emb := &fakeEmbedder{}

	summary, err := testEngine(t, gw, conn, emb).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if summary.Status != StatusFinished {
		t.Errorf("Status = %q", summary.Status)
	}
	if summary.ItemsDiscovered != 1 || summary.CandidateItems != 1 ||
		summary.IndexedItems != 1 || summary.SkippedNoChange != 0 || summary.Failed != 0 {
		t.Errorf("counters = %+v", summary)
	}
	if summary.TotalChunksUploaded != int64(gw.Len()) {
		t.Errorf("TotalChunksUploaded = %d with %d docs stored", summary.TotalChunksUploaded, gw.Len())
	}

	doc, err := gw.GetDocument(context.Background(), "docs-a-txt-c00000", nil)
	if err != nil || doc == nil {
		t.Fatalf("chunk 0 missing: %v %v", doc, err)
	}
	if doc.ParentID != "/docs/a.txt" {
		t.Errorf("ParentID = %q", doc.ParentID)
	}
	if doc.Source != "blob" {
		t.Errorf("Source = %q", doc.Source)
	}
	if doc.LastModified != "2025-01-10T12:00:00Z" {
		t.Errorf("LastModified = %q", doc.LastModified)
	}
	if len(doc.ContentVector) == 0 {
		t.Error("chunk was not embedded")
	}
}

func TestEngine_SkipUnchanged(t *testing.T) {
	gw := search.NewMemory()
	modified := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	conn := &fakeConnector{
		tag:   "blob",
		items: []sources.ItemRef{textItem("docs/a.txt", "stable content", modified)},
	}
	emb := &fakeEmbedder{}
	engine := testEngine(t, gw, conn, emb)

	if _, err := engine.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	stored := gw.Len()
	embedded := emb.calls.Load()

	summary, err := engine.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.SkippedNoChange != 1 || summary.CandidateItems != 0 || summary.IndexedItems != 0 {
		t.Errorf("second run must skip: %+v", summary)
	}
	if summary.TotalChunksUploaded != 0 {
		t.Errorf("TotalChunksUploaded = %d", summary.TotalChunksUploaded)
	}
	if gw.Len() != stored || emb.calls.Load() != embedded {
		t.Error("skip must not touch the index or the embedder")
	}
}

func TestEngine_ReplaceOnUpdate(t *testing.T) {
	gw := search.NewMemory()
	first := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	conn := &fakeConnector{
		tag:   "blob",
		items: []sources.ItemRef{textItem("docs/a.txt", "original body", first)},
	}
	emb := &fakeEmbedder{}
	engine := testEngine(t, gw, conn, emb)

	if _, err := engine.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Stale extra chunk from a previous, larger rendition of the document.
	_ = gw.UploadDocuments(context.Background(), []search.Document{{
		ID:       "docs-a-txt-c00001",
		ParentID: "/docs/a.txt",
		ChunkID:  1,
		Source:   "blob",
	}})

	conn.items = []sources.ItemRef{textItem("docs/a.txt", "updated body", first.Add(5*time.Second))}
	summary, err := engine.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.IndexedItems != 1 || summary.SkippedNoChange != 0 {
		t.Errorf("update must reindex: %+v", summary)
	}

	stale, _ := gw.GetDocument(context.Background(), "docs-a-txt-c00001", nil)
	if stale != nil {
		t.Error("stale chunk survived the replace")
	}
	doc, _ := gw.GetDocument(context.Background(), "docs-a-txt-c00000", nil)
	if doc == nil || doc.Content != "updated body" {
		t.Errorf("chunk 0 not replaced: %+v", doc)
	}
}

func TestEngine_EmptySource(t *testing.T) {
	gw := search.NewMemory()
	conn := &fakeConnector{tag: "blob"}

	summary, err := testEngine(t, gw, conn, &fakeEmbedder{}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Status != StatusFinished {
		t.Errorf("Status = %q", summary.Status)
	}
	if summary.ItemsDiscovered != 0 || summary.TotalChunksUploaded != 0 {
		t.Errorf("counters = %+v", summary)
	}
	if summary.RunID == "" || summary.RunStartedAt == "" || summary.RunFinishedAt == "" {
		t.Errorf("summary timestamps incomplete: %+v", summary)
	}
}

func TestEngine_ZeroByteInput(t *testing.T) {
	gw := search.NewMemory()
	conn := &fakeConnector{
		tag:   "blob",
		items: []sources.ItemRef{textItem("docs/empty.txt", "", time.Now().UTC())},
	}

	summary, err := testEngine(t, gw, conn, &fakeEmbedder{}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Failed != 0 || summary.IndexedItems != 1 {
		t.Errorf("empty input is a zero-chunk success: %+v", summary)
	}
	if gw.Len() != 0 {
		t.Errorf("empty input must not create index docs, got %d", gw.Len())
	}
}

func TestEngine_ItemFailureDoesNotAbortRun(t *testing.T) {
	gw := search.NewMemory()
	modified := time.Now().UTC()
	broken := sources.ItemRef{
		ID:           "docs/broken.txt",
		Name:         "broken.txt",
		LastModified: modified,
		Download: func(context.Context) (*sources.Download, error) {
			return nil, fmt.Errorf("storage unavailable")
		},
	}
	conn := &fakeConnector{
		tag:   "blob",
		items: []sources.ItemRef{broken, textItem("docs/good.txt", "still works", modified)},
	}

	summary, err := testEngine(t, gw, conn, &fakeEmbedder{}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Status != StatusFinished {
		t.Errorf("Status = %q", summary.Status)
	}
	if summary.Failed != 1 || summary.IndexedItems != 1 {
		t.Errorf("counters = %+v", summary)
	}
	if summary.ItemsDiscovered < summary.CandidateItems+summary.SkippedNoChange {
		t.Errorf("counter invariant broken: %+v", summary)
	}
}

func TestEngine_EnumerationErrorFailsRun(t *testing.T) {
	conn := &fakeConnector{tag: "blob", err: fmt.Errorf("credential rejected")}

	summary, err := testEngine(t, search.NewMemory(), conn, &fakeEmbedder{}).Run(context.Background())
	if err == nil {
		t.Fatal("expected a run-level error")
	}
	if summary.Status != StatusFailed {
		t.Errorf("Status = %q", summary.Status)
	}
	if summary.Error == "" {
		t.Error("failed summary must carry the error")
	}
}

func TestEngine_Cancellation(t *testing.T) {
	conn := &fakeConnector{
		tag:   "blob",
		items: []sources.ItemRef{textItem("docs/a.txt", "body", time.Now().UTC())},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := testEngine(t, search.NewMemory(), conn, &fakeEmbedder{}).Run(ctx)
	if err == nil {
		t.Fatal("cancelled run must return an error")
	}
	if summary.Status != StatusCancelled {
		t.Errorf("Status = %q", summary.Status)
	}
}

func TestEngine_SegmentsPrefixParent(t *testing.T) {
	gw := search.NewMemory()
	conn := &fakeConnector{
		tag:      "sharepoint-list",
		segments: []string{"sharepoint", "site1"},
		items:    []sources.ItemRef{textItem("list1/42.txt", "list item body", time.Now().UTC())},
	}

	if _, err := testEngine(t, gw, conn, &fakeEmbedder{}).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	doc, _ := gw.GetDocument(context.Background(), "sharepoint-site1-list1-42-txt-c00000", nil)
	if doc == nil {
		t.Fatal("segment-prefixed key not found")
	}
	if doc.ParentID != "/sharepoint/site1/list1/42.txt" {
		t.Errorf("ParentID = %q", doc.ParentID)
	}
}

func TestEngine_KindOverridesExtensionRouting(t *testing.T) {
	gw := search.NewMemory()
	data := `{"q1": {"question": "total sales by region?", "sql": "SELECT 1"}}`
	item := sources.ItemRef{
		ID:           "queries/sales.json",
		Name:         "sales.json",
		Kind:         "nl2sql",
		LastModified: time.Now().UTC(),
		ContentType:  "application/json",
		Download: func(context.Context) (*sources.Download, error) {
			return &sources.Download{Data: []byte(data), ContentType: "application/json"}, nil
		},
	}
	conn := &fakeConnector{
		tag:      "nl2sql-queries",
		segments: []string{"nl2sql"},
		items:    []sources.ItemRef{item},
	}
	emb := &fakeEmbedder{}

	if _, err := testEngine(t, gw, conn, emb).Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	doc, _ := gw.GetDocument(context.Background(), "nl2sql-queries-sales-json-c00000", nil)
	if doc == nil {
		t.Fatal("nl2sql chunk not found")
	}
	// One chunk per entry, titled by entry ID: the .json filename must not
	// route the item into the generic JSON chunker.
	if doc.Title != "q1" {
		t.Errorf("Title = %q", doc.Title)
	}
	if got, _ := emb.last.Load().(string); got != "total sales by region?" {
		t.Errorf("embedded text = %q, want the entry's question", got)
	}
}

func TestBatches(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}
	got := batches(ids, 2)
	if len(got) != 3 || len(got[0]) != 2 || len(got[2]) != 1 {
		t.Errorf("batches = %v", got)
	}
	if got := batches(nil, 2); got != nil {
		t.Errorf("empty input must yield no batches: %v", got)
	}
}
