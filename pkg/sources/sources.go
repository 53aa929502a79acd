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

// Package sources enumerates ingestible items from the upstream stores.
// Each connector streams ItemRefs through a channel; pagination is internal.
package sources

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"
)

// MaxSecurityIDs caps the permission lists carried on an index document.
const MaxSecurityIDs = 32

// Download is the fetched payload of one item.
type Download struct {
	Data        []byte
	ContentType string
	Size        int64
}

// ItemRef is one discoverable item. Download is deferred so enumeration
// stays cheap; the engine calls it only for items that pass the freshness
// gate.
type ItemRef struct {
	// ID is unique within the source.
	ID string

	// Name is the display name, usually a filename.
	Name string

	// ParentPath is the optional containing path within the source.
	ParentPath string

	// Kind overrides extension-based chunker routing when set. Connectors
	// whose payloads need a dedicated chunker regardless of filename set it
	// here.
	Kind string

	LastModified time.Time
	ContentType  string
	Size         int64

	// URL is a human-facing link when the source provides one.
	URL string

	UserIDs  []string
	GroupIDs []string

	Download func(ctx context.Context) (*Download, error)
}

// Connector is one upstream store.
type Connector interface {
	// Tag is the source tag stamped on index documents.
	Tag() string

	// Segments are the leading parent-key segments for this source.
	Segments() []string

	// Enumerate streams items and errors. Both channels close when
	// enumeration finishes or ctx is cancelled.
	Enumerate(ctx context.Context) (<-chan ItemRef, <-chan error)
}

// ParsePermissionList accepts the three permission encodings seen in blob
// metadata: a JSON array, a Python list literal, or a comma/semicolon
// separated string.
func ParsePermissionList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var parsed []string
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
		return trimAll(parsed)
	}

	if strings.HasPrefix(raw, "[") && strings.HasSuffix(raw, "]") {
		inner := strings.TrimSuffix(strings.TrimPrefix(raw, "["), "]")
		parts := strings.Split(inner, ",")
		var out []string
		for _, p := range parts {
			p = strings.Trim(strings.TrimSpace(p), `'"`)
			if p != "" {
				out = append(out, p)
			}
		}
		return out
	}

	return trimAll(strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';'
	}))
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// NormalizeSecurityIDs dedupes in first-seen order and truncates to the
// index field limit, warning when IDs are dropped.
func NormalizeSecurityIDs(ids []string, field string) []string {
	seen := make(map[string]struct{}, len(ids))
	var out []string
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) > MaxSecurityIDs {
		slog.Warn("security ID list truncated",
			"field", field, "total", len(out), "kept", MaxSecurityIDs)
		out = out[:MaxSecurityIDs]
	}
	return out
}
