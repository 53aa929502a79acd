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

package search

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Gateway for tests and local development. Scans
// return documents in key order so assertions are stable.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]Document

	// FailUpload and FailDelete inject errors for failure-path tests.
	FailUpload error
	FailDelete error
}

// NewMemory creates an empty in-process gateway.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]Document)}
}

func (m *Memory) UploadDocuments(_ context.Context, docs []Document) error {
	if m.FailUpload != nil {
		return m.FailUpload
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, doc := range docs {
		m.docs[doc.ID] = doc
	}
	return nil
}

func (m *Memory) DeleteDocuments(_ context.Context, ids []string) error {
	if m.FailDelete != nil {
		return m.FailDelete
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.docs, id)
	}
	return nil
}

func (m *Memory) GetDocument(_ context.Context, key string, _ []string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[key]
	if !ok {
		return nil, nil
	}
	return &doc, nil
}

func (m *Memory) Search(q Query) *Pager {
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	var matched []Document
	prepared := false
	pos := 0

	return NewPager(func(_ context.Context) ([]Document, error) {
		if !prepared {
			clauses, err := parseFilter(q.Filter)
			if err != nil {
				return nil, err
			}
			m.mu.RLock()
			for _, doc := range m.docs {
				if matches(&doc, clauses) {
					matched = append(matched, doc)
				}
			}
			m.mu.RUnlock()
			sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
			prepared = true
		}

		if pos >= len(matched) {
			return nil, nil
		}
		end := pos + pageSize
		if end > len(matched) {
			end = len(matched)
		}
		page := matched[pos:end]
		pos = end
		return page, nil
	})
}

// Len returns the number of stored documents.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

var _ Gateway = (*Memory)(nil)
