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
	"fmt"
	"io"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	azblobblob "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

const defaultOpTimeout = 20 * time.Second

// AzureStore is the Store implementation over an Azure Blob container. Every
// operation runs under its own timeout so a stalled storage call cannot hang
// an item worker.
type AzureStore struct {
	client    *azblob.Client
	container string
	opTimeout time.Duration
}

// AzureConfig selects the account and container. ConnectionString wins when
// set; otherwise AccountName with the ambient credential chain is used.
type AzureConfig struct {
	AccountName      string
	ConnectionString string
	Container        string
	OpTimeout        time.Duration
}

// NewAzureStore creates a container-scoped store.
func NewAzureStore(cfg AzureConfig) (*AzureStore, error) {
	if cfg.Container == "" {
		return nil, fmt.Errorf("container name is required")
	}
	opTimeout := cfg.OpTimeout
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}

	var client *azblob.Client
	var err error
	switch {
	case cfg.ConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	case cfg.AccountName != "":
		var cred *azidentity.DefaultAzureCredential
		cred, err = azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire credential: %w", err)
		}
		serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName)
		client, err = azblob.NewClient(serviceURL, cred, nil)
	default:
		return nil, fmt.Errorf("either AccountName or ConnectionString is required")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &AzureStore{client: client, container: cfg.Container, opTimeout: opTimeout}, nil
}

func (s *AzureStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *AzureStore) List(ctx context.Context, prefix string) ([]Properties, error) {
	var opts *azblob.ListBlobsFlatOptions
	if prefix != "" {
		opts = &azblob.ListBlobsFlatOptions{Prefix: &prefix}
	}

	var out []Properties
	pager := s.client.NewListBlobsFlatPager(s.container, opts)
	for pager.More() {
		pageCtx, cancel := s.withTimeout(ctx)
		page, err := pager.NextPage(pageCtx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to list blobs in %s: %w", s.container, err)
		}
		for _, item := range page.Segment.BlobItems {
			p := Properties{}
			if item.Name != nil {
				p.Name = *item.Name
			}
			if props := item.Properties; props != nil {
				if props.ContentLength != nil {
					p.Size = *props.ContentLength
				}
				if props.LastModified != nil {
					p.LastModified = *props.LastModified
				}
				if props.ContentType != nil {
					p.ContentType = *props.ContentType
				}
			}
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *AzureStore) Download(ctx context.Context, name string) ([]byte, string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	resp, err := s.client.DownloadStream(ctx, s.container, name, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download %s: %w", name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	contentType := ""
	if resp.ContentType != nil {
		contentType = *resp.ContentType
	}
	return data, contentType, nil
}

func (s *AzureStore) Upload(ctx context.Context, name string, data []byte, contentType string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var opts *azblob.UploadBufferOptions
	if contentType != "" {
		opts = &azblob.UploadBufferOptions{
			HTTPHeaders: &azblobblob.HTTPHeaders{BlobContentType: &contentType},
		}
	}
	if _, err := s.client.UploadBuffer(ctx, s.container, name, data, opts); err != nil {
		return fmt.Errorf("failed to upload %s: %w", name, err)
	}
	return nil
}

func (s *AzureStore) Delete(ctx context.Context, name string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.client.DeleteBlob(ctx, s.container, name, nil); err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	return nil
}

func (s *AzureStore) Exists(ctx context.Context, name string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	blobClient := s.client.ServiceClient().NewContainerClient(s.container).NewBlobClient(name)
	if _, err := blobClient.GetProperties(ctx, nil); err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check %s: %w", name, err)
	}
	return true, nil
}

func (s *AzureStore) ReadMetadata(ctx context.Context, name string) (map[string]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	blobClient := s.client.ServiceClient().NewContainerClient(s.container).NewBlobClient(name)
	resp, err := blobClient.GetProperties(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata for %s: %w", name, err)
	}

	metadata := make(map[string]string, len(resp.Metadata))
	for k, v := range resp.Metadata {
		if v != nil {
			metadata[k] = *v
		}
	}
	return metadata, nil
}

var _ Store = (*AzureStore)(nil)
