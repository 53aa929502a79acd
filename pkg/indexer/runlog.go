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
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cortexa-labs/ragsync/pkg/blob"
	"github.com/cortexa-labs/ragsync/pkg/keys"
	"github.com/cortexa-labs/ragsync/pkg/retry"
)

// Run statuses, in the order a healthy run moves through them.
const (
	StatusStarted   = "started"
	StatusFinishing = "finishing"
	StatusFinished  = "finished"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// RunSummary is the run-level record written to the jobs-log container.
type RunSummary struct {
	IndexerType         string `json:"indexerType"`
	RunID               string `json:"runId"`
	RunStartedAt        string `json:"runStartedAt"`
	RunFinishedAt       string `json:"runFinishedAt,omitempty"`
	Status              string `json:"status"`
	ItemsDiscovered     int64  `json:"itemsDiscovered"`
	CandidateItems      int64  `json:"candidateItems"`
	IndexedItems        int64  `json:"indexedItems"`
	SkippedNoChange     int64  `json:"skippedNoChange"`
	Failed              int64  `json:"failed"`
	TotalChunksUploaded int64  `json:"totalChunksUploaded"`
	Error               string `json:"error,omitempty"`
}

// ItemLog is the per-item record written under <engine>/files/.
type ItemLog struct {
	RunID        string `json:"runId"`
	ParentID     string `json:"parentId"`
	Name         string `json:"name,omitempty"`
	Source       string `json:"source,omitempty"`
	Outcome      string `json:"outcome"`
	Chunks       int    `json:"chunks"`
	LastModified string `json:"lastModified,omitempty"`
	Error        string `json:"error,omitempty"`
	LoggedAt     string `json:"loggedAt"`
}

// Per-item outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
	OutcomeSkipped = "skipped-no-change"
)

// pointerRecord names the stage-qualified blob that is authoritative for a
// run at the moment it was written.
type pointerRecord struct {
	RunID         string `json:"runId"`
	Status        string `json:"status"`
	Authoritative string `json:"authoritative"`
	WrittenAt     string `json:"writtenAt"`
}

// RunLogger persists run summaries and per-item logs to the jobs-log
// container. A nil store, or a failed startup write probe, degrades the
// logger to structured logging only; the engine never blocks on it.
type RunLogger struct {
	store    blob.Store
	engine   string
	timeout  time.Duration
	policy   retry.Policy
	degraded bool
}

// NewRunLogger probes the store with a one-shot write. A failed probe
// disables all storage writes for the lifetime of the logger.
func NewRunLogger(ctx context.Context, store blob.Store, engine string, totalTimeout time.Duration) *RunLogger {
	if totalTimeout <= 0 {
		totalTimeout = 90 * time.Second
	}
	l := &RunLogger{
		store:   store,
		engine:  engine,
		timeout: totalTimeout,
		policy: retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    5 * time.Second,
			FullJitter:  true,
		},
	}

	if store == nil {
		l.degraded = true
		return l
	}

	probe := engine + "/runs/.probe"
	if err := store.Upload(ctx, probe, []byte(`{}`), "application/json"); err != nil {
		slog.Warn("run log storage probe failed, logging to stdout only",
			"engine", engine, "error", err)
		l.degraded = true
		return l
	}
	_ = store.Delete(ctx, probe)
	return l
}

// Degraded reports whether storage writes are disabled.
func (l *RunLogger) Degraded() bool {
	return l.degraded
}

// WriteItemLog records the outcome of one item, best effort.
func (l *RunLogger) WriteItemLog(ctx context.Context, record ItemLog) {
	if record.LoggedAt == "" {
		record.LoggedAt = time.Now().UTC().Format(time.RFC3339)
	}
	slog.Info("item processed",
		"engine", l.engine,
		"run_id", record.RunID,
		"parent_id", record.ParentID,
		"outcome", record.Outcome,
		"chunks", record.Chunks,
		"error", record.Error)

	if l.degraded {
		return
	}
	name := fmt.Sprintf("%s/files/%s.json", l.engine, keys.Sanitize(record.ParentID))
	if err := l.upload(ctx, name, record); err != nil {
		slog.Warn("item log write failed", "blob", name, "error", err)
	}
}

// WriteRunSummary writes the stage-qualified, canonical, latest and pointer
// blobs for one status transition, verifying the stage blob by read-back.
// All writes share one total timeout so the engine cannot stall on logging.
func (l *RunLogger) WriteRunSummary(ctx context.Context, s RunSummary) error {
	slog.Info("run summary",
		"engine", l.engine,
		"run_id", s.RunID,
		"status", s.Status,
		"items_discovered", s.ItemsDiscovered,
		"candidate_items", s.CandidateItems,
		"indexed_items", s.IndexedItems,
		"skipped_no_change", s.SkippedNoChange,
		"failed", s.Failed,
		"total_chunks_uploaded", s.TotalChunksUploaded)

	if l.degraded {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	stage := fmt.Sprintf("%s/runs/%s.%s.json", l.engine, s.RunID, s.Status)
	canonical := fmt.Sprintf("%s/runs/%s.json", l.engine, s.RunID)
	latest := fmt.Sprintf("%s/runs/latest.json", l.engine)
	pointer := fmt.Sprintf("%s/runs/%s.pointer.json", l.engine, s.RunID)

	// The stage blob is authoritative for this status; write and verify it
	// first, then fan out the best-effort copies.
	if err := l.upload(ctx, stage, s); err != nil {
		return fmt.Errorf("failed to write run summary %s: %w", stage, err)
	}
	if err := l.verify(ctx, stage, s); err != nil {
		return err
	}

	for _, name := range []string{canonical, latest} {
		if err := l.upload(ctx, name, s); err != nil {
			slog.Warn("run summary copy write failed", "blob", name, "error", err)
		}
	}

	ptr := pointerRecord{
		RunID:         s.RunID,
		Status:        s.Status,
		Authoritative: stage,
		WrittenAt:     time.Now().UTC().Format(time.RFC3339),
	}
	if err := l.upload(ctx, pointer, ptr); err != nil {
		slog.Warn("run summary pointer write failed", "blob", pointer, "error", err)
	}
	return nil
}

func (l *RunLogger) upload(ctx context.Context, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return retry.Do(ctx, l.policy, "runlog upload "+name, nil, func() error {
		return l.store.Upload(ctx, name, data, "application/json")
	})
}

// verify reads the stage blob back and checks the fields downstream
// tooling keys on.
func (l *RunLogger) verify(ctx context.Context, name string, want RunSummary) error {
	data, _, err := l.store.Download(ctx, name)
	if err != nil {
		return fmt.Errorf("run summary read-back failed for %s: %w", name, err)
	}
	var got RunSummary
	if err := json.Unmarshal(data, &got); err != nil {
		return fmt.Errorf("run summary read-back is not JSON for %s: %w", name, err)
	}
	if got.RunID != want.RunID || got.Status != want.Status ||
		got.ItemsDiscovered != want.ItemsDiscovered ||
		got.IndexedItems != want.IndexedItems ||
		got.Failed != want.Failed {
		return fmt.Errorf("run summary read-back mismatch for %s", name)
	}
	return nil
}
