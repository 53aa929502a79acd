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

package blob

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Object is one stored entry in the in-memory store.
type Object struct {
	Data         []byte
	ContentType  string
	LastModified time.Time
	Metadata     map[string]string
}

// Memory is an in-process Store for tests and local development.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]Object

	// FailUpload injects write failures for degraded-logging tests.
	FailUpload error
}

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]Object)}
}

// Put stores a fully specified object, for test setup.
func (m *Memory) Put(name string, obj Object) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = obj
}

func (m *Memory) List(_ context.Context, prefix string) ([]Properties, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Properties
	for name, obj := range m.objects {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		out = append(out, Properties{
			Name:         name,
			Size:         int64(len(obj.Data)),
			LastModified: obj.LastModified,
			ContentType:  obj.ContentType,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) Download(_ context.Context, name string) ([]byte, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[name]
	if !ok {
		return nil, "", &NotFoundError{Name: name}
	}
	return obj.Data, obj.ContentType, nil
}

func (m *Memory) Upload(_ context.Context, name string, data []byte, contentType string) error {
	if m.FailUpload != nil {
		return m.FailUpload
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = Object{
		Data:         data,
		ContentType:  contentType,
		LastModified: time.Now().UTC(),
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, name)
	return nil
}

func (m *Memory) Exists(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[name]
	return ok, nil
}

func (m *Memory) ReadMetadata(_ context.Context, name string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return obj.Metadata, nil
}

// NotFoundError reports an absent object.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return "blob not found: " + e.Name
}

var _ Store = (*Memory)(nil)
