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

// JSONChunker partitions a JSON value so each partition pretty-prints
// within the token budget. Containers recurse; partitions under the minimum
// size are dropped.
type JSONChunker struct {
	deps *Deps
}

func (c *JSONChunker) Chunk(_ context.Context, src Source) ([]Chunk, error) {
	if len(src.Data) == 0 {
		return []Chunk{}, nil
	}

	var value any
	if err := json.Unmarshal(src.Data, &value); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", src.Name, err)
	}

	partitions := c.partition(value)

	chunks := make([]Chunk, 0, len(partitions))
	for _, part := range partitions {
		content, err := prettyJSON(part)
		if err != nil {
			return nil, err
		}
		if c.deps.Estimator.Count(content) < c.deps.Params.MinChunkSize {
			continue
		}
		chunks = append(chunks, Chunk{
			ChunkID: len(chunks),
			Content: content,
			Title:   src.Name,
			Length:  len(content),
		})
	}
	return chunks, nil
}

// partition greedily packs a JSON value into budget-sized pieces.
func (c *JSONChunker) partition(value any) []any {
	if c.fits(value) {
		return []any{value}
	}

	switch v := value.(type) {
	case []any:
		return c.partitionList(v)
	case map[string]any:
		return c.partitionObject(v)
	default:
		// An oversized scalar is emitted as-is; the chunk-level truncation
		// upstream never applies to JSON, so the caller sees it whole.
		return []any{value}
	}
}

func (c *JSONChunker) partitionList(items []any) []any {
	var partitions []any
	var current []any

	flush := func() {
		if len(current) > 0 {
			partitions = append(partitions, current)
			current = nil
		}
	}

	for _, item := range items {
		candidate := append(append([]any{}, current...), item)
		if len(current) > 0 && !c.fits(candidate) {
			flush()
		}
		if len(current) == 0 && !c.fits([]any{item}) {
			// A single oversized item: recurse when it is a container.
			switch item.(type) {
			case []any, map[string]any:
				partitions = append(partitions, c.partition(item)...)
				continue
			}
		}
		current = append(current, item)
	}
	flush()
	return partitions
}

func (c *JSONChunker) partitionObject(obj map[string]any) []any {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var partitions []any
	current := map[string]any{}

	flush := func() {
		if len(current) > 0 {
			partitions = append(partitions, current)
			current = map[string]any{}
		}
	}

	for _, k := range keys {
		value := obj[k]
		single := map[string]any{k: value}
		if !c.fits(single) {
			flush()
			switch value.(type) {
			case []any, map[string]any:
				partitions = append(partitions, c.partition(value)...)
			default:
				partitions = append(partitions, single)
			}
			continue
		}

		candidate := make(map[string]any, len(current)+1)
		for ck, cv := range current {
			candidate[ck] = cv
		}
		candidate[k] = value
		if len(current) > 0 && !c.fits(candidate) {
			flush()
		}
		current[k] = value
	}
	flush()
	return partitions
}

func (c *JSONChunker) fits(value any) bool {
	content, err := prettyJSON(value)
	if err != nil {
		return false
	}
	return c.deps.Estimator.Count(content) <= c.deps.Params.MaxChunkSize
}

func prettyJSON(value any) (string, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to render partition: %w", err)
	}
	return string(data), nil
}
