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

package sources

import (
	"context"
	"fmt"
	"strings"

	"github.com/cortexa-labs/ragsync/pkg/blob"
)

// NL2SQL metadata lives in three fixed subtrees of its container, each with
// its own source tag so the purger can reconcile them independently.
var nl2sqlKinds = []string{"queries", "tables", "measures"}

// NL2SQLConnector enumerates the JSON metadata files backing natural
// language to SQL retrieval.
type NL2SQLConnector struct {
	store blob.Store
	kind  string
}

// NewNL2SQLConnectors returns one connector per metadata kind.
func NewNL2SQLConnectors(store blob.Store) []*NL2SQLConnector {
	out := make([]*NL2SQLConnector, 0, len(nl2sqlKinds))
	for _, kind := range nl2sqlKinds {
		out = append(out, &NL2SQLConnector{store: store, kind: kind})
	}
	return out
}

// NewNL2SQLConnector creates a connector for one metadata kind.
func NewNL2SQLConnector(store blob.Store, kind string) (*NL2SQLConnector, error) {
	for _, k := range nl2sqlKinds {
		if k == kind {
			return &NL2SQLConnector{store: store, kind: kind}, nil
		}
	}
	return nil, fmt.Errorf("unknown nl2sql kind: %s", kind)
}

func (c *NL2SQLConnector) Tag() string {
	return "nl2sql-" + c.kind
}

// Kind reports which metadata subtree this connector serves.
func (c *NL2SQLConnector) Kind() string {
	return c.kind
}

// Segments carries only the source family; blob names already include the
// kind subtree.
func (c *NL2SQLConnector) Segments() []string {
	return []string{"nl2sql"}
}

func (c *NL2SQLConnector) Enumerate(ctx context.Context) (<-chan ItemRef, <-chan error) {
	itemChan := make(chan ItemRef, 100)
	errChan := make(chan error, 10)

	go func() {
		defer close(itemChan)
		defer close(errChan)

		props, err := c.store.List(ctx, c.kind+"/")
		if err != nil {
			errChan <- fmt.Errorf("failed to list nl2sql %s: %w", c.kind, err)
			return
		}

		for _, p := range props {
			if !strings.HasSuffix(p.Name, ".json") || p.Size == 0 {
				continue
			}

			name := p.Name
			ref := ItemRef{
				ID:           p.Name,
				Name:         baseName(p.Name),
				ParentPath:   parentPath(p.Name),
				Kind:         "nl2sql",
				LastModified: p.LastModified,
				ContentType:  "application/json",
				Size:         p.Size,
				Download: func(ctx context.Context) (*Download, error) {
					data, _, err := c.store.Download(ctx, name)
					if err != nil {
						return nil, err
					}
					return &Download{Data: data, ContentType: "application/json", Size: int64(len(data))}, nil
				},
			}
			select {
			case itemChan <- ref:
			case <-ctx.Done():
				return
			}
		}
	}()

	return itemChan, errChan
}

var _ Connector = (*NL2SQLConnector)(nil)
