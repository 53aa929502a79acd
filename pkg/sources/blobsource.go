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
	"log/slog"
	"strings"

	"github.com/cortexa-labs/ragsync/pkg/blob"
)

// Metadata keys carrying item-level permissions on source blobs.
const (
	userPermissionsMetadataKey  = "metadata_security_user_ids"
	groupPermissionsMetadataKey = "metadata_security_group_ids"
)

// BlobConnector enumerates a source container under an optional prefix.
type BlobConnector struct {
	store     blob.Store
	container string
	prefix    string
}

// NewBlobConnector creates the object-store connector.
func NewBlobConnector(store blob.Store, container, prefix string) *BlobConnector {
	return &BlobConnector{store: store, container: container, prefix: prefix}
}

func (c *BlobConnector) Tag() string {
	return "blob"
}

// Segments is empty for the object store: blob names already form the full
// parent path.
func (c *BlobConnector) Segments() []string {
	return nil
}

func (c *BlobConnector) Enumerate(ctx context.Context) (<-chan ItemRef, <-chan error) {
	itemChan := make(chan ItemRef, 100)
	errChan := make(chan error, 10)

	go func() {
		defer close(itemChan)
		defer close(errChan)

		props, err := c.store.List(ctx, c.prefix)
		if err != nil {
			errChan <- fmt.Errorf("failed to list source container: %w", err)
			return
		}

		for _, p := range props {
			// Directory markers carry no content.
			if p.Size == 0 && strings.HasSuffix(p.Name, "/") {
				continue
			}

			item := ItemRef{
				ID:           p.Name,
				Name:         baseName(p.Name),
				ParentPath:   parentPath(p.Name),
				LastModified: p.LastModified,
				ContentType:  p.ContentType,
				Size:         p.Size,
			}

			name := p.Name
			item.Download = func(ctx context.Context) (*Download, error) {
				data, contentType, err := c.store.Download(ctx, name)
				if err != nil {
					return nil, err
				}
				return &Download{Data: data, ContentType: contentType, Size: int64(len(data))}, nil
			}

			c.attachPermissions(ctx, &item, name)
			select {
			case itemChan <- item:
			case <-ctx.Done():
				return
			}
		}
	}()

	return itemChan, errChan
}

// attachPermissions reads the permission metadata keys when present.
// Metadata failures degrade to an unrestricted item rather than failing
// enumeration.
func (c *BlobConnector) attachPermissions(ctx context.Context, item *ItemRef, name string) {
	metadata, err := c.store.ReadMetadata(ctx, name)
	if err != nil {
		slog.Debug("blob metadata unavailable", "blob", name, "error", err)
		return
	}
	if raw, ok := metadata[userPermissionsMetadataKey]; ok {
		item.UserIDs = NormalizeSecurityIDs(ParsePermissionList(raw), "user_ids")
	}
	if raw, ok := metadata[groupPermissionsMetadataKey]; ok {
		item.GroupIDs = NormalizeSecurityIDs(ParsePermissionList(raw), "group_ids")
	}
}

func baseName(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}

func parentPath(name string) string {
	if i := strings.LastIndex(name, "/"); i > 0 {
		return name[:i]
	}
	return ""
}

var _ Connector = (*BlobConnector)(nil)
