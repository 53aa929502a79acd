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

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/cortexa-labs/ragsync/pkg/blob"
	"github.com/cortexa-labs/ragsync/pkg/chunker"
	"github.com/cortexa-labs/ragsync/pkg/config"
	"github.com/cortexa-labs/ragsync/pkg/embedder"
	"github.com/cortexa-labs/ragsync/pkg/indexer"
	"github.com/cortexa-labs/ragsync/pkg/search"
	"github.com/cortexa-labs/ragsync/pkg/sources"
	"github.com/cortexa-labs/ragsync/pkg/tokens"
)

// pipeline is one source's fully wired ingestion path.
type pipeline struct {
	name   string
	engine *indexer.Engine
	purger *indexer.Purger
}

// app holds everything a command needs, built once per process.
type app struct {
	settings  *config.Settings
	resolver  *config.Resolver
	gateway   search.Gateway
	pipelines []pipeline
	figures   *indexer.FiguresPurger
}

// buildApp resolves configuration and wires the pipelines for every
// configured source.
func buildApp(ctx context.Context) (*app, error) {
	if err := config.LoadEnvFiles(); err != nil {
		return nil, err
	}
	resolver := config.NewResolver(config.NewMapStore(), true)
	settings := config.Load(ctx, resolver)
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	newGateway := func(index string) (search.Gateway, error) {
		return search.New(search.Config{
			Backend:      settings.SearchBackend,
			Endpoint:     settings.SearchEndpoint,
			APIKey:       settings.SearchAPIKey,
			Index:        index,
			APIVersion:   settings.SearchAPIVersion,
			QdrantHost:   resolver.Get(ctx, "QDRANT_HOST", ""),
			QdrantPort:   resolver.GetInt(ctx, "QDRANT_PORT", 6334),
			QdrantUseTLS: resolver.GetBool(ctx, "QDRANT_USE_TLS", false),
		})
	}
	gateway, err := newGateway(settings.SearchIndexName)
	if err != nil {
		return nil, err
	}

	estimator, err := tokens.NewEstimator(tokens.DefaultEncoding)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token estimator: %w", err)
	}

	embCfg := embedder.Config{
		Endpoint:       settings.EmbeddingEndpoint,
		Deployment:     settings.EmbeddingDeployment,
		APIKey:         settings.EmbeddingAPIKey,
		MaxConcurrency: settings.AOAIMaxConcurrency,
		MaxAttempts:    settings.AOAIMaxTransientAttempts,
		BackoffMax:     settings.AOAIBackoffMax,
	}
	emb := embedder.NewClient(embCfg, estimator)

	chatCfg := embCfg
	chatCfg.Endpoint = settings.ChatEndpoint
	chatCfg.Deployment = settings.ChatDeployment
	chat := embedder.NewChatClient(chatCfg)

	connStr := resolver.Get(ctx, "STORAGE_CONNECTION_STRING", "")
	newStore := func(container string) (blob.Store, error) {
		return blob.NewAzureStore(blob.AzureConfig{
			AccountName:      settings.StorageAccountName,
			ConnectionString: connStr,
			Container:        container,
			OpTimeout:        settings.BlobOpTimeout,
		})
	}

	sourceStore, err := newStore(settings.SourceContainer)
	if err != nil {
		return nil, fmt.Errorf("failed to open source container: %w", err)
	}
	logStore, err := newStore(settings.JobsLogContainer)
	if err != nil {
		return nil, fmt.Errorf("failed to open jobs-log container: %w", err)
	}

	deps := chunker.Deps{
		Params: chunker.Params{
			MaxChunkSize: settings.NumTokens,
			TokenOverlap: settings.TokenOverlap,
			MinChunkSize: settings.MinChunkSize,
		},
		Estimator:                estimator,
		Embedder:                 emb,
		Chat:                     chat,
		Multimodal:               settings.Multimodal,
		MinFigureAreaPct:         settings.MinFigureAreaPct,
		SpreadsheetByRow:         settings.SpreadsheetByRow,
		SpreadsheetIncludeHeader: settings.SpreadsheetIncludeHeader,
	}

	a := &app{settings: settings, resolver: resolver, gateway: gateway}

	if settings.Multimodal {
		figuresStore, err := newStore(settings.ImagesContainer)
		if err != nil {
			return nil, fmt.Errorf("failed to open images container: %w", err)
		}
		deps.Figures = figuresStore
		a.figures = indexer.NewFiguresPurger(gateway, figuresStore)
	}

	// Each wiring pairs a connector with the gateway for its target index.
	type wiring struct {
		conn sources.Connector
		gw   search.Gateway
	}

	wired := []wiring{
		{sources.NewBlobConnector(sourceStore, settings.SourceContainer, settings.BlobPrefix), gateway},
	}

	if siteID := resolver.Get(ctx, "SHAREPOINT_SITE_ID", ""); siteID != "" {
		wired = append(wired, wiring{sources.NewSharePointConnector(sources.SharePointConfig{
			TenantID:     resolver.Get(ctx, "SHAREPOINT_TENANT_ID", ""),
			ClientID:     resolver.Get(ctx, "SHAREPOINT_CLIENT_ID", ""),
			ClientSecret: resolver.Get(ctx, "SHAREPOINT_CLIENT_SECRET", ""),
			SiteID:       siteID,
			ListIDs:      splitList(resolver.Get(ctx, "SHAREPOINT_LIST_IDS", "")),
		}), gateway})
	}

	if resolver.GetBool(ctx, "NL2SQL_ENABLED", false) {
		nl2sqlStore, err := newStore(settings.NL2SQLStorageContainer)
		if err != nil {
			return nil, fmt.Errorf("failed to open nl2sql container: %w", err)
		}
		kindIndexes := map[string]string{
			"queries":  settings.SearchQueriesIndex,
			"tables":   settings.SearchTablesIndex,
			"measures": settings.SearchMeasuresIndex,
		}
		for _, conn := range sources.NewNL2SQLConnectors(nl2sqlStore) {
			gw, err := newGateway(kindIndexes[conn.Kind()])
			if err != nil {
				return nil, fmt.Errorf("failed to open %s index: %w", conn.Tag(), err)
			}
			wired = append(wired, wiring{conn, gw})
		}
	}

	for _, w := range wired {
		name := w.conn.Tag() + "-indexer"
		runlog := indexer.NewRunLogger(ctx, logStore, name, settings.RunSummaryTimeout)
		engine := indexer.NewEngine(indexer.EngineConfig{
			Name:           name,
			MaxConcurrency: settings.IndexerMaxConcurrency,
			BatchSize:      settings.IndexerBatchSize,
			ItemTimeout:    settings.ItemTimeout,
			GatherTimeout:  settings.ListGatherTimeout,
		}, w.gw, emb, w.conn, deps, runlog)

		a.pipelines = append(a.pipelines, pipeline{
			name:   name,
			engine: engine,
			purger: indexer.NewPurger(w.gw, w.conn, settings.IndexerBatchSize, runlog),
		})
	}

	return a, nil
}

// selectPipelines filters by source tag prefix; empty selects all.
func (a *app) selectPipelines(source string) ([]pipeline, error) {
	if source == "" {
		return a.pipelines, nil
	}
	var out []pipeline
	for _, p := range a.pipelines {
		if strings.HasPrefix(p.name, source) {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no configured source matches %q", source)
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
