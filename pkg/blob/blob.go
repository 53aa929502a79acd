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

// Package blob is the object store gateway: prefix listing, byte-level
// download/upload, metadata reads, and existence checks, each bounded by a
// per-operation timeout.
package blob

import (
	"context"
	"time"
)

// Properties describes one stored object.
type Properties struct {
	Name         string
	Size         int64
	LastModified time.Time
	ContentType  string
}

// Store is the per-container contract the connectors, run logger, and
// multimodal chunker depend on.
type Store interface {
	// List returns properties for every object under prefix.
	List(ctx context.Context, prefix string) ([]Properties, error)

	// Download fetches the object's bytes and content type.
	Download(ctx context.Context, name string) ([]byte, string, error)

	// Upload writes data under name with the given content type,
	// overwriting any existing object.
	Upload(ctx context.Context, name string, data []byte, contentType string) error

	// Delete removes the object. Deleting an absent object is not an error.
	Delete(ctx context.Context, name string) error

	// Exists reports whether the object is present.
	Exists(ctx context.Context, name string) (bool, error)

	// ReadMetadata returns the object's user metadata.
	ReadMetadata(ctx context.Context, name string) (map[string]string, error)
}
