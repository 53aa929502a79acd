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
	"errors"
	"testing"

	"github.com/cortexa-labs/ragsync/pkg/blob"
)

func TestRunLogger_WriteRunSummary(t *testing.T) {
	store := blob.NewMemory()
	ctx := context.Background()
	logger := NewRunLogger(ctx, store, "blob-indexer", 0)
	if logger.Degraded() {
		t.Fatal("probe against a healthy store must succeed")
	}

	s := RunSummary{
		IndexerType:     "blob-indexer",
		RunID:           "20250110T120000Z",
		RunStartedAt:    "2025-01-10T12:00:00Z",
		Status:          StatusFinished,
		ItemsDiscovered: 3,
		IndexedItems:    2,
		Failed:          1,
	}
	if err := logger.WriteRunSummary(ctx, s); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{
		"blob-indexer/runs/20250110T120000Z.finished.json",
		"blob-indexer/runs/20250110T120000Z.json",
		"blob-indexer/runs/latest.json",
	} {
		data, _, err := store.Download(ctx, name)
		if err != nil {
			t.Fatalf("missing artifact %s: %v", name, err)
		}
		var got RunSummary
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("%s is not JSON: %v", name, err)
		}
		if got.RunID != s.RunID || got.Status != s.Status || got.ItemsDiscovered != 3 {
			t.Errorf("%s = %+v", name, got)
		}
	}

	data, _, err := store.Download(ctx, "blob-indexer/runs/20250110T120000Z.pointer.json")
	if err != nil {
		t.Fatal(err)
	}
	var ptr pointerRecord
	if err := json.Unmarshal(data, &ptr); err != nil {
		t.Fatal(err)
	}
	if ptr.Authoritative != "blob-indexer/runs/20250110T120000Z.finished.json" {
		t.Errorf("Authoritative = %q", ptr.Authoritative)
	}
}

func TestRunLogger_StagesPreserved(t *testing.T) {
	store := blob.NewMemory()
	ctx := context.Background()
	logger := NewRunLogger(ctx, store, "blob-indexer", 0)

	s := RunSummary{RunID: "20250110T120000Z", Status: StatusStarted}
	if err := logger.WriteRunSummary(ctx, s); err != nil {
		t.Fatal(err)
	}
	s.Status = StatusFinished
	if err := logger.WriteRunSummary(ctx, s); err != nil {
		t.Fatal(err)
	}

	// Every status transition keeps its own stage blob.
	for _, name := range []string{
		"blob-indexer/runs/20250110T120000Z.started.json",
		"blob-indexer/runs/20250110T120000Z.finished.json",
	} {
		if ok, _ := store.Exists(ctx, name); !ok {
			t.Errorf("stage blob %s missing", name)
		}
	}
}

func TestRunLogger_DegradedOnProbeFailure(t *testing.T) {
	store := blob.NewMemory()
	store.FailUpload = errors.New("forbidden")
	ctx := context.Background()

	logger := NewRunLogger(ctx, store, "blob-indexer", 0)
	if !logger.Degraded() {
		t.Fatal("failed probe must degrade the logger")
	}

	// Degraded writes are skipped entirely, including after the store heals.
	store.FailUpload = nil
	if err := logger.WriteRunSummary(ctx, RunSummary{RunID: "r", Status: StatusStarted}); err != nil {
		t.Fatal(err)
	}
	props, _ := store.List(ctx, "")
	if len(props) != 0 {
		t.Errorf("degraded logger wrote %d blobs", len(props))
	}
}

func TestRunLogger_NilStoreIsLogOnly(t *testing.T) {
	logger := NewRunLogger(context.Background(), nil, "blob-indexer", 0)
	if !logger.Degraded() {
		t.Fatal("nil store must be log-only")
	}
	logger.WriteItemLog(context.Background(), ItemLog{
		RunID: "r", ParentID: "/docs/a.txt", Outcome: OutcomeSuccess,
	})
	if err := logger.WriteRunSummary(context.Background(), RunSummary{RunID: "r"}); err != nil {
		t.Fatal(err)
	}
}

func TestRunLogger_WriteItemLog(t *testing.T) {
	store := blob.NewMemory()
	ctx := context.Background()
	logger := NewRunLogger(ctx, store, "blob-indexer", 0)

	logger.WriteItemLog(ctx, ItemLog{
		RunID:    "20250110T120000Z",
		ParentID: "/docs/a.pdf",
		Outcome:  OutcomeSuccess,
		Chunks:   3,
	})

	data, _, err := store.Download(ctx, "blob-indexer/files/docs-a-pdf.json")
	if err != nil {
		t.Fatal(err)
	}
	var got ItemLog
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Outcome != OutcomeSuccess || got.Chunks != 3 || got.LoggedAt == "" {
		t.Errorf("item log = %+v", got)
	}
}
