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

// Package search is the thin contract over the vector search index: batch
// upload, batch delete, point-get by key, and paged filtered scans.
package search

import (
	"context"
	"fmt"
)

// Document is one index record. ID is the stable chunk key; ParentID groups
// all chunks of one upstream document.
type Document struct {
	ID            string    `json:"id"`
	ParentID      string    `json:"parent_id,omitempty"`
	ChunkID       int       `json:"chunk_id"`
	Content       string    `json:"content,omitempty"`
	ContentVector []float32 `json:"contentVector,omitempty"`
	CaptionVector []float32 `json:"captionVector,omitempty"`
	Title         string    `json:"title,omitempty"`
	Source        string    `json:"source,omitempty"`
	URL           string    `json:"url,omitempty"`
	Filepath      string    `json:"filepath,omitempty"`
	Category      string    `json:"category,omitempty"`
	Summary       string    `json:"summary,omitempty"`
	Page          int       `json:"page,omitempty"`
	Offset        int       `json:"offset,omitempty"`
	Length        int       `json:"length,omitempty"`
	RelatedImages []string  `json:"relatedImages,omitempty"`
	RelatedFiles  []string  `json:"relatedFiles,omitempty"`
	ImageCaptions string    `json:"imageCaptions,omitempty"`

	StoragePath      string   `json:"metadata_storage_path,omitempty"`
	StorageName      string   `json:"metadata_storage_name,omitempty"`
	LastModified     string   `json:"metadata_storage_last_modified,omitempty"`
	SecurityUserIDs  []string `json:"metadata_security_user_ids,omitempty"`
	SecurityGroupIDs []string `json:"metadata_security_group_ids,omitempty"`
}

// Query describes a paged scan. Filter uses the index filter grammar
// (equality and ne, joined with and); Select projects fields; PageSize
// bounds each page.
type Query struct {
	Filter   string
	Select   []string
	PageSize int
}

// Gateway is the index contract the engines depend on. Implementations
// handle their own retries; callers see only the final error.
type Gateway interface {
	// UploadDocuments upserts a batch.
	UploadDocuments(ctx context.Context, docs []Document) error

	// DeleteDocuments removes a batch by key. Missing keys are not an error.
	DeleteDocuments(ctx context.Context, ids []string) error

	// GetDocument fetches one record by key, projecting selectFields when
	// non-empty. Returns (nil, nil) when the key is absent.
	GetDocument(ctx context.Context, key string, selectFields []string) (*Document, error)

	// Search starts a paged scan.
	Search(q Query) *Pager
}

// Pager iterates scan pages in the manner of bufio.Scanner:
//
//	pager := gw.Search(q)
//	for pager.Next(ctx) {
//	    for _, doc := range pager.Page() { ... }
//	}
//	if err := pager.Err(); err != nil { ... }
type Pager struct {
	// fetch returns the next page, or nil when the scan is exhausted.
	fetch func(ctx context.Context) ([]Document, error)
	page  []Document
	err   error
	done  bool
}

// NewPager wraps a fetch function. fetch must return nil (no error) once the
// scan is exhausted.
func NewPager(fetch func(ctx context.Context) ([]Document, error)) *Pager {
	return &Pager{fetch: fetch}
}

// Next advances to the next page. It returns false at end of scan or on
// error; consult Err afterwards.
func (p *Pager) Next(ctx context.Context) bool {
	if p.done || p.err != nil {
		return false
	}
	page, err := p.fetch(ctx)
	if err != nil {
		p.err = err
		return false
	}
	if page == nil {
		p.done = true
		return false
	}
	p.page = page
	return true
}

// Page returns the current page.
func (p *Pager) Page() []Document {
	return p.page
}

// Err returns the first error encountered during the scan.
func (p *Pager) Err() error {
	return p.err
}

// Config selects and configures a gateway backend.
type Config struct {
	Backend    string // "rest" or "qdrant"
	Endpoint   string
	APIKey     string
	Index      string
	APIVersion string
	PageSize   int

	QdrantHost   string
	QdrantPort   int
	QdrantUseTLS bool
}

// New creates a gateway for the configured backend.
func New(cfg Config) (Gateway, error) {
	switch cfg.Backend {
	case "", "rest":
		return NewRESTGateway(cfg), nil
	case "qdrant":
		return NewQdrantGateway(cfg)
	default:
		return nil, fmt.Errorf("unknown search backend: %s", cfg.Backend)
	}
}
