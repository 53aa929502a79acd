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

package config

import (
	"context"
	"fmt"
	"time"
)

// Settings materializes every tunable the pipeline reads, resolved once at
// startup so engines never touch the resolver on the hot path.
type Settings struct {
	// Storage
	StorageAccountName     string
	SourceContainer        string
	JobsLogContainer       string
	BlobPrefix             string
	NL2SQLStorageContainer string
	ImagesContainer        string

	// Search index
	SearchEndpoint      string
	SearchAPIKey        string
	SearchIndexName     string
	SearchQueriesIndex  string
	SearchTablesIndex   string
	SearchMeasuresIndex string
	SearchFiguresIndex  string
	SearchBackend       string
	SearchAPIVersion    string

	// Embeddings / chat
	EmbeddingEndpoint        string
	EmbeddingDeployment      string
	EmbeddingAPIKey          string
	ChatEndpoint             string
	ChatDeployment           string
	AOAIMaxConcurrency       int
	AOAIBackoffMax           time.Duration
	AOAIMaxTransientAttempts int
	AOAIMaxRateLimitAttempts int

	// Indexer
	IndexerMaxConcurrency int
	IndexerBatchSize      int
	ItemTimeout           time.Duration
	ListGatherTimeout     time.Duration
	HTTPTotalTimeout      time.Duration
	BlobOpTimeout         time.Duration
	RunSummaryTimeout     time.Duration

	// Chunking
	NumTokens                int
	MinChunkSize             int
	TokenOverlap             int
	Multimodal               bool
	MinFigureAreaPct         float64
	SpreadsheetByRow         bool
	SpreadsheetIncludeHeader bool

	// Scheduling
	CronRunIndexer string
	CronRunPurger  string
	Timezone       string
}

// Load resolves all settings through the resolver, applying defaults for
// anything absent.
func Load(ctx context.Context, r *Resolver) *Settings {
	// The NL2SQL kind indexes default to siblings of the main index.
	ragIndex := r.Get(ctx, "SEARCH_RAG_INDEX_NAME", "ragindex")

	s := &Settings{
		StorageAccountName:     r.Get(ctx, "STORAGE_ACCOUNT_NAME", ""),
		SourceContainer:        r.Get(ctx, "SOURCE_CONTAINER", "documents"),
		JobsLogContainer:       r.Get(ctx, "JOBS_LOG_CONTAINER", "jobs-log"),
		BlobPrefix:             r.Get(ctx, "BLOB_PREFIX", ""),
		NL2SQLStorageContainer: r.Get(ctx, "NL2SQL_STORAGE_CONTAINER", "nl2sql"),
		ImagesContainer:        r.Get(ctx, "STORAGE_CONTAINER_IMAGES", "documents-images"),

		SearchEndpoint:      r.Get(ctx, "SEARCH_SERVICE_QUERY_ENDPOINT", ""),
		SearchAPIKey:        r.Get(ctx, "SEARCH_API_KEY", ""),
		SearchIndexName:     ragIndex,
		SearchQueriesIndex:  r.Get(ctx, "SEARCH_QUERIES_INDEX_NAME", ragIndex+"-queries"),
		SearchTablesIndex:   r.Get(ctx, "SEARCH_TABLES_INDEX_NAME", ragIndex+"-tables"),
		SearchMeasuresIndex: r.Get(ctx, "SEARCH_MEASURES_INDEX_NAME", ragIndex+"-measures"),
		SearchFiguresIndex:  r.Get(ctx, "SEARCH_FIGURES_INDEX_NAME", ragIndex+"-figures"),
		SearchBackend:       r.Get(ctx, "SEARCH_BACKEND", "rest"),
		SearchAPIVersion:    r.Get(ctx, "SEARCH_API_VERSION", "2024-07-01"),

		EmbeddingEndpoint:        r.Get(ctx, "EMBEDDING_ENDPOINT", ""),
		EmbeddingDeployment:      r.Get(ctx, "EMBEDDING_DEPLOYMENT", "text-embedding-3-large"),
		EmbeddingAPIKey:          r.Get(ctx, "EMBEDDING_API_KEY", ""),
		ChatEndpoint:             r.Get(ctx, "CHAT_ENDPOINT", ""),
		ChatDeployment:           r.Get(ctx, "CHAT_DEPLOYMENT", ""),
		AOAIMaxConcurrency:       r.GetInt(ctx, "AOAI_MAX_CONCURRENCY", 2),
		AOAIBackoffMax:           r.GetSeconds(ctx, "AOAI_BACKOFF_MAX_SECONDS", 60*time.Second),
		AOAIMaxTransientAttempts: r.GetInt(ctx, "AOAI_MAX_TRANSIENT_ATTEMPTS", 8),
		AOAIMaxRateLimitAttempts: r.GetInt(ctx, "AOAI_MAX_RATE_LIMIT_ATTEMPTS", 8),

		IndexerMaxConcurrency: r.GetInt(ctx, "INDEXER_MAX_CONCURRENCY", 4),
		IndexerBatchSize:      r.GetInt(ctx, "INDEXER_BATCH_SIZE", 500),
		ItemTimeout:           r.GetSeconds(ctx, "INDEXER_ITEM_TIMEOUT_SECONDS", 600*time.Second),
		ListGatherTimeout:     r.GetSeconds(ctx, "LIST_GATHER_TIMEOUT_SECONDS", 7200*time.Second),
		HTTPTotalTimeout:      r.GetSeconds(ctx, "HTTP_TOTAL_TIMEOUT_SECONDS", 120*time.Second),
		BlobOpTimeout:         r.GetSeconds(ctx, "BLOB_OP_TIMEOUT_SECONDS", 20*time.Second),
		RunSummaryTimeout:     r.GetSeconds(ctx, "RUN_SUMMARY_TOTAL_TIMEOUT_SECONDS", 90*time.Second),

		NumTokens:                r.GetInt(ctx, "NUM_TOKENS", 2048),
		MinChunkSize:             r.GetInt(ctx, "MIN_CHUNK_SIZE", 100),
		TokenOverlap:             r.GetInt(ctx, "TOKEN_OVERLAP", 100),
		Multimodal:               r.GetBool(ctx, "MULTIMODAL", false),
		MinFigureAreaPct:         r.GetFloat(ctx, "MINIMUM_FIGURE_AREA_PERCENTAGE", 4.0),
		SpreadsheetByRow:         r.GetBool(ctx, "SPREADSHEET_CHUNKING_BY_ROW", false),
		SpreadsheetIncludeHeader: r.GetBool(ctx, "SPREADSHEET_CHUNKING_BY_ROW_INCLUDE_HEADER", true),

		CronRunIndexer: r.Get(ctx, "CRON_RUN_INDEXER", ""),
		CronRunPurger:  r.Get(ctx, "CRON_RUN_PURGER", ""),
		Timezone:       r.Get(ctx, "SCHEDULER_TIMEZONE", "UTC"),
	}
	return s
}

// Validate checks the settings an indexer run cannot proceed without.
func (s *Settings) Validate() error {
	if s.SearchEndpoint == "" && s.SearchBackend == "rest" {
		return fmt.Errorf("SEARCH_SERVICE_QUERY_ENDPOINT is required for the rest backend")
	}
	if s.SearchIndexName == "" {
		return fmt.Errorf("SEARCH_RAG_INDEX_NAME must not be empty")
	}
	if s.IndexerMaxConcurrency < 1 {
		return fmt.Errorf("INDEXER_MAX_CONCURRENCY must be at least 1, got %d", s.IndexerMaxConcurrency)
	}
	if s.IndexerBatchSize < 1 {
		return fmt.Errorf("INDEXER_BATCH_SIZE must be at least 1, got %d", s.IndexerBatchSize)
	}
	if s.AOAIMaxConcurrency < 1 {
		return fmt.Errorf("AOAI_MAX_CONCURRENCY must be at least 1, got %d", s.AOAIMaxConcurrency)
	}
	if s.NumTokens < 1 {
		return fmt.Errorf("NUM_TOKENS must be at least 1, got %d", s.NumTokens)
	}
	if s.TokenOverlap < 0 || s.TokenOverlap >= s.NumTokens {
		return fmt.Errorf("TOKEN_OVERLAP must be in [0, NUM_TOKENS), got %d", s.TokenOverlap)
	}
	return nil
}
