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

package chunker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// NL2SQLChunker emits one chunk per top-level entry of an NL2SQL metadata
// file ({query-id: record}). The record's question is the embedding text so
// retrieval matches user phrasing rather than SQL.
type NL2SQLChunker struct {
	deps *Deps
}

func (c *NL2SQLChunker) Chunk(_ context.Context, src Source) ([]Chunk, error) {
	if len(src.Data) == 0 {
		return []Chunk{}, nil
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(src.Data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", src.Name, err)
	}

	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	chunks := make([]Chunk, 0, len(ids))
	for _, id := range ids {
		var record map[string]any
		if err := json.Unmarshal(entries[id], &record); err != nil {
			return nil, fmt.Errorf("failed to parse entry %s in %s: %w", id, src.Name, err)
		}

		content, err := prettyJSON(record)
		if err != nil {
			return nil, err
		}

		question, _ := record["question"].(string)
		chunks = append(chunks, Chunk{
			ChunkID:       len(chunks),
			Content:       content,
			EmbeddingText: question,
			Title:         id,
			Length:        len(content),
		})
	}
	return chunks, nil
}
