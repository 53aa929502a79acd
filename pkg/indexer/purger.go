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
	"log/slog"
	"strings"
	"time"

	"github.com/cortexa-labs/ragsync/pkg/blob"
	"github.com/cortexa-labs/ragsync/pkg/keys"
	"github.com/cortexa-labs/ragsync/pkg/search"
	"github.com/cortexa-labs/ragsync/pkg/sources"
)

// PurgeSummary reports one reconciliation pass over a source tag.
type PurgeSummary struct {
	Source           string `json:"source"`
	RunID            string `json:"runId"`
	DocsScanned      int64  `json:"docsScanned"`
	DocsDeleted      int64  `json:"docsDeleted"`
	DocsFailedDelete int64  `json:"docsFailedDelete"`
	PagesScanned     int64  `json:"pagesScanned"`
}

// Purger removes index records whose upstream item no longer exists. It
// scans only its own connector's source tag; records written by other
// connectors are never touched.
type Purger struct {
	gateway   search.Gateway
	connector sources.Connector
	batchSize int
	runlog    *RunLogger
}

// NewPurger wires a purger for one connector.
func NewPurger(gw search.Gateway, conn sources.Connector, batchSize int, runlog *RunLogger) *Purger {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Purger{gateway: gw, connector: conn, batchSize: batchSize, runlog: runlog}
}

// Run reconciles the index against the upstream truth set.
func (p *Purger) Run(ctx context.Context) (*PurgeSummary, error) {
	tag := p.connector.Tag()
	summary := &PurgeSummary{
		Source: tag,
		RunID:  time.Now().UTC().Format(runIDFormat),
	}

	truth, err := p.upstreamParents(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to load upstream truth for %s: %w", tag, err)
	}

	pager := p.gateway.Search(search.Query{
		Filter: "source eq " + search.QuoteFilterValue(tag),
		Select: []string{"id", "parent_id", "metadata_storage_path"},
	})

	var orphans []string
	for pager.Next(ctx) {
		summary.PagesScanned++
		for _, doc := range pager.Page() {
			summary.DocsScanned++
			if !truth[doc.ParentID] {
				orphans = append(orphans, doc.ID)
			}
		}
	}
	if err := pager.Err(); err != nil {
		return summary, fmt.Errorf("index scan failed for %s: %w", tag, err)
	}

	for _, batch := range batches(orphans, p.batchSize) {
		if err := p.gateway.DeleteDocuments(ctx, batch); err != nil {
			summary.DocsFailedDelete += int64(len(batch))
			slog.Error("orphan delete batch failed", "source", tag, "size", len(batch), "error", err)
			continue
		}
		summary.DocsDeleted += int64(len(batch))
	}

	slog.Info("purge complete",
		"source", tag,
		"run_id", summary.RunID,
		"docs_scanned", summary.DocsScanned,
		"docs_deleted", summary.DocsDeleted,
		"docs_failed_delete", summary.DocsFailedDelete,
		"pages_scanned", summary.PagesScanned)

	if p.runlog != nil && !p.runlog.Degraded() {
		name := fmt.Sprintf("%s/purges/%s.json", p.runlog.engine, summary.RunID)
		if err := p.runlog.upload(ctx, name, summary); err != nil {
			slog.Warn("purge summary write failed", "blob", name, "error", err)
		}
	}
	return summary, nil
}

// upstreamParents enumerates the connector and derives the parent IDs the
// index is allowed to retain.
func (p *Purger) upstreamParents(ctx context.Context) (map[string]bool, error) {
	items, errs := p.connector.Enumerate(ctx)

	truth := make(map[string]bool)
	for item := range items {
		truth[keys.ParentKey(append(p.connector.Segments(), item.ID)...)] = true
	}
	for err := range errs {
		return nil, err
	}
	return truth, nil
}

// FiguresPurger removes uploaded figure images that no index record
// references anymore. Only meaningful when multimodal ingestion is on.
type FiguresPurger struct {
	gateway search.Gateway
	figures blob.Store
}

// NewFiguresPurger wires the images-container purger.
func NewFiguresPurger(gw search.Gateway, figures blob.Store) *FiguresPurger {
	return &FiguresPurger{gateway: gw, figures: figures}
}

// Run deletes figure blobs absent from every record's relatedImages.
func (f *FiguresPurger) Run(ctx context.Context) (int, error) {
	referenced := make(map[string]bool)
	pager := f.gateway.Search(search.Query{Select: []string{"id", "relatedImages"}})
	for pager.Next(ctx) {
		for _, doc := range pager.Page() {
			for _, name := range doc.RelatedImages {
				referenced[name] = true
			}
		}
	}
	if err := pager.Err(); err != nil {
		return 0, fmt.Errorf("figure reference scan failed: %w", err)
	}

	props, err := f.figures.List(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("failed to list figure blobs: %w", err)
	}

	deleted := 0
	for _, prop := range props {
		if referenced[prop.Name] || !strings.HasSuffix(prop.Name, ".png") {
			continue
		}
		if err := f.figures.Delete(ctx, prop.Name); err != nil {
			slog.Warn("orphan figure delete failed", "blob", prop.Name, "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		slog.Info("orphan figures removed", "count", deleted)
	}
	return deleted, nil
}
