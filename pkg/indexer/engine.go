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

// Package indexer drives the ingestion runs: the engine streams items from a
// source connector, gates them on freshness, chunks and embeds the changed
// ones, and replaces their records in the search index. The purger removes
// index records whose upstream item no longer exists.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cortexa-labs/ragsync/pkg/chunker"
	"github.com/cortexa-labs/ragsync/pkg/embedder"
	"github.com/cortexa-labs/ragsync/pkg/keys"
	"github.com/cortexa-labs/ragsync/pkg/search"
	"github.com/cortexa-labs/ragsync/pkg/sources"
)

// runIDFormat renders run IDs as compact UTC timestamps, e.g.
// 20250110T120000Z.
const runIDFormat = "20060102T150405Z"

// EngineConfig tunes one engine instance.
type EngineConfig struct {
	// Name labels the engine in logs and the jobs-log blob layout,
	// e.g. "blob-indexer".
	Name string

	// MaxConcurrency bounds items processed in parallel.
	MaxConcurrency int

	// BatchSize bounds delete and upload batches against the index.
	BatchSize int

	// ItemTimeout aborts a single item without failing the run.
	ItemTimeout time.Duration

	// GatherTimeout bounds the whole discovery-and-process phase.
	GatherTimeout time.Duration

	// FreshnessSkew tolerates clock granularity when comparing timestamps.
	// An item reindexes only when it is more than this much newer than the
	// stored record.
	FreshnessSkew time.Duration
}

// SetDefaults applies default values.
func (c *EngineConfig) SetDefaults() {
	if c.Name == "" {
		c.Name = "indexer"
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = 600 * time.Second
	}
	if c.GatherTimeout <= 0 {
		c.GatherTimeout = 7200 * time.Second
	}
	if c.FreshnessSkew <= 0 {
		c.FreshnessSkew = time.Second
	}
}

// runMetrics accumulates the run counters across item goroutines.
type runMetrics struct {
	itemsDiscovered     atomic.Int64
	candidateItems      atomic.Int64
	indexedItems        atomic.Int64
	skippedNoChange     atomic.Int64
	failed              atomic.Int64
	totalChunksUploaded atomic.Int64
}

// Engine runs ingestion for one source connector.
type Engine struct {
	cfg       EngineConfig
	gateway   search.Gateway
	embedder  embedder.Embedder
	connector sources.Connector
	deps      chunker.Deps
	runlog    *RunLogger
}

// NewEngine wires an engine. runlog may come from NewRunLogger with a nil
// store for log-only operation.
func NewEngine(cfg EngineConfig, gw search.Gateway, emb embedder.Embedder, conn sources.Connector, deps chunker.Deps, runlog *RunLogger) *Engine {
	cfg.SetDefaults()
	return &Engine{
		cfg:       cfg,
		gateway:   gw,
		embedder:  emb,
		connector: conn,
		deps:      deps,
		runlog:    runlog,
	}
}

// Run executes one ingestion pass and returns its summary. Item-scoped
// failures are counted, not returned; only run-scoped errors (enumeration,
// cancellation) produce a non-nil error.
func (e *Engine) Run(ctx context.Context) (*RunSummary, error) {
	started := time.Now().UTC()
	runID := started.Format(runIDFormat)

	summary := RunSummary{
		IndexerType:  e.cfg.Name,
		RunID:        runID,
		RunStartedAt: started.Format(time.RFC3339),
		Status:       StatusStarted,
	}
	if err := e.runlog.WriteRunSummary(ctx, summary); err != nil {
		slog.Warn("started summary write failed", "run_id", runID, "error", err)
	}

	var m runMetrics
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.GatherTimeout)
	defer cancel()

	runErr := e.processAll(runCtx, runID, &m)

	summary.RunFinishedAt = time.Now().UTC().Format(time.RFC3339)
	summary.ItemsDiscovered = m.itemsDiscovered.Load()
	summary.CandidateItems = m.candidateItems.Load()
	summary.IndexedItems = m.indexedItems.Load()
	summary.SkippedNoChange = m.skippedNoChange.Load()
	summary.Failed = m.failed.Load()
	summary.TotalChunksUploaded = m.totalChunksUploaded.Load()

	// Final summaries must land even when the run context is gone.
	logCtx := context.WithoutCancel(ctx)

	summary.Status = StatusFinishing
	if err := e.runlog.WriteRunSummary(logCtx, summary); err != nil {
		slog.Warn("finishing summary write failed", "run_id", runID, "error", err)
	}

	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		summary.Status = StatusCancelled
		runErr = context.Canceled
	case runErr != nil:
		summary.Status = StatusFailed
		summary.Error = runErr.Error()
	default:
		summary.Status = StatusFinished
	}
	if err := e.runlog.WriteRunSummary(logCtx, summary); err != nil {
		slog.Warn("final summary write failed", "run_id", runID, "error", err)
	}
	return &summary, runErr
}

// processAll drains the connector through a bounded worker pool.
func (e *Engine) processAll(ctx context.Context, runID string, m *runMetrics) error {
	items, errs := e.connector.Enumerate(ctx)

	sem := make(chan struct{}, e.cfg.MaxConcurrency)
	var wg sync.WaitGroup

	for item := range items {
		m.itemsDiscovered.Add(1)

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		}

		wg.Add(1)
		go func(item sources.ItemRef) {
			defer wg.Done()
			defer func() { <-sem }()
			e.processItem(ctx, runID, item, m)
		}(item)
	}
	wg.Wait()

	var enumErr error
	for err := range errs {
		if enumErr == nil {
			enumErr = err
		}
		slog.Error("source enumeration failed", "run_id", runID, "error", err)
	}
	if enumErr != nil {
		return fmt.Errorf("enumeration failed: %w", enumErr)
	}
	return ctx.Err()
}

// processItem runs the per-item state machine: freshness gate, fetch, chunk,
// embed, replace. Failures are logged and counted, never propagated.
func (e *Engine) processItem(ctx context.Context, runID string, item sources.ItemRef, m *runMetrics) {
	parentID := keys.ParentKey(append(e.connector.Segments(), item.ID)...)

	record := ItemLog{
		RunID:        runID,
		ParentID:     parentID,
		Name:         item.Name,
		Source:       e.connector.Tag(),
		LastModified: item.LastModified.UTC().Format(time.RFC3339),
	}

	fresh, err := e.needsReindex(ctx, parentID, item.LastModified)
	if err != nil {
		m.failed.Add(1)
		record.Outcome = OutcomeError
		record.Error = err.Error()
		e.runlog.WriteItemLog(ctx, record)
		return
	}
	if !fresh {
		m.skippedNoChange.Add(1)
		record.Outcome = OutcomeSkipped
		e.runlog.WriteItemLog(ctx, record)
		return
	}

	m.candidateItems.Add(1)

	itemCtx, cancel := context.WithTimeout(ctx, e.cfg.ItemTimeout)
	defer cancel()

	uploaded, err := e.ingest(itemCtx, parentID, item)
	if err != nil {
		m.failed.Add(1)
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			record.Outcome = OutcomeTimeout
		} else {
			record.Outcome = OutcomeError
		}
		record.Error = err.Error()
		e.runlog.WriteItemLog(ctx, record)
		return
	}

	m.indexedItems.Add(1)
	m.totalChunksUploaded.Add(int64(uploaded))
	record.Outcome = OutcomeSuccess
	record.Chunks = uploaded
	e.runlog.WriteItemLog(ctx, record)
}

// needsReindex applies the strictly-newer-with-skew gate against the chunk-0
// record. An absent record means first-time ingest.
func (e *Engine) needsReindex(ctx context.Context, parentID string, incoming time.Time) (bool, error) {
	doc, err := e.gateway.GetDocument(ctx, keys.ChunkKey(parentID, 0),
		[]string{"id", "metadata_storage_last_modified"})
	if err != nil {
		return false, fmt.Errorf("freshness check failed: %w", err)
	}
	if doc == nil || doc.LastModified == "" {
		return true, nil
	}
	existing, err := time.Parse(time.RFC3339, doc.LastModified)
	if err != nil {
		// An unparseable stored timestamp cannot prove freshness.
		return true, nil
	}
	return incoming.Sub(existing) > e.cfg.FreshnessSkew, nil
}

// ingest fetches, chunks, embeds and replaces one item, returning the number
// of chunks uploaded.
func (e *Engine) ingest(ctx context.Context, parentID string, item sources.ItemRef) (int, error) {
	dl, err := item.Download(ctx)
	if err != nil {
		return 0, fmt.Errorf("download failed: %w", err)
	}

	kind := item.Kind
	if kind == "" {
		kind = extensionOf(item.Name)
	}
	src := chunker.Source{
		Name:        item.Name,
		Extension:   kind,
		Data:        dl.Data,
		ContentType: dl.ContentType,
		URL:         item.URL,
	}
	deps := e.deps
	chunks, err := chunker.ForExtension(src.Extension, &deps).Chunk(ctx, src)
	if err != nil {
		return 0, fmt.Errorf("chunking failed: %w", err)
	}
	if len(chunks) == 0 {
		slog.Debug("no chunks produced", "parent_id", parentID)
		return 0, nil
	}

	docs, err := e.buildDocuments(ctx, parentID, item, chunks)
	if err != nil {
		return 0, err
	}
	if err := e.replace(ctx, parentID, docs); err != nil {
		return 0, err
	}
	return len(docs), nil
}

// buildDocuments embeds each chunk and materializes the index records.
// Embedding is sequential within an item; the provider semaphore bounds it
// globally.
func (e *Engine) buildDocuments(ctx context.Context, parentID string, item sources.ItemRef, chunks []chunker.Chunk) ([]search.Document, error) {
	docs := make([]search.Document, 0, len(chunks))
	for _, c := range chunks {
		vector, err := e.embedder.Embed(ctx, c.EmbedInput())
		if err != nil {
			return nil, fmt.Errorf("embedding chunk %d failed: %w", c.ChunkID, err)
		}

		title := c.Title
		if title == "" {
			title = item.Name
		}
		docs = append(docs, search.Document{
			ID:               keys.ChunkKey(parentID, c.ChunkID),
			ParentID:         parentID,
			ChunkID:          c.ChunkID,
			Content:          c.Content,
			ContentVector:    vector,
			CaptionVector:    c.CaptionVector,
			Title:            title,
			Source:           e.connector.Tag(),
			URL:              item.URL,
			Filepath:         item.Name,
			Category:         c.Category,
			Summary:          c.Summary,
			Page:             c.Page,
			Offset:           c.Offset,
			Length:           c.Length,
			RelatedImages:    c.RelatedImages,
			ImageCaptions:    c.ImageCaptions,
			StoragePath:      item.ID,
			StorageName:      item.Name,
			LastModified:     item.LastModified.UTC().Format(time.RFC3339),
			SecurityUserIDs:  item.UserIDs,
			SecurityGroupIDs: item.GroupIDs,
		})
	}
	return docs, nil
}

// replace deletes every record under the parent, then uploads the new set.
// Not atomic: a failure between the phases leaves chunk 0 absent, which the
// next run's freshness gate treats as first-time ingest.
func (e *Engine) replace(ctx context.Context, parentID string, docs []search.Document) error {
	filter := "parent_id eq " + search.QuoteFilterValue(parentID)
	pager := e.gateway.Search(search.Query{Filter: filter, Select: []string{"id"}})

	var stale []string
	for pager.Next(ctx) {
		for _, doc := range pager.Page() {
			stale = append(stale, doc.ID)
		}
	}
	if err := pager.Err(); err != nil {
		return fmt.Errorf("stale chunk scan failed: %w", err)
	}

	for _, batch := range batches(stale, e.cfg.BatchSize) {
		if err := e.gateway.DeleteDocuments(ctx, batch); err != nil {
			return fmt.Errorf("stale chunk delete failed: %w", err)
		}
	}
	for _, batch := range batchesOf(docs, e.cfg.BatchSize) {
		if err := e.gateway.UploadDocuments(ctx, batch); err != nil {
			return fmt.Errorf("chunk upload failed: %w", err)
		}
	}
	return nil
}

func extensionOf(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

func batches(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > 0 {
		n := size
		if n > len(ids) {
			n = len(ids)
		}
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	return out
}

func batchesOf(docs []search.Document, size int) [][]search.Document {
	var out [][]search.Document
	for len(docs) > 0 {
		n := size
		if n > len(docs) {
			n = len(docs)
		}
		out = append(out, docs[:n])
		docs = docs[n:]
	}
	return out
}
