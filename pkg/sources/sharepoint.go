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
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cortexa-labs/ragsync/pkg/httpclient"
)

var guidRe = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// SharePointConfig configures the Graph connector.
type SharePointConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	SiteID       string
	ListIDs      []string

	// GraphBaseURL and TokenURL default to the public Graph endpoints;
	// tests point them at a local server.
	GraphBaseURL string
	TokenURL     string
}

func (c *SharePointConfig) setDefaults() {
	if c.GraphBaseURL == "" {
		c.GraphBaseURL = "https://graph.microsoft.com"
	}
	if c.TokenURL == "" {
		c.TokenURL = fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", c.TenantID)
	}
}

// SharePointConnector enumerates list items and document-library files via
// the Graph API. List items become body documents; files are followed
// through their driveItem to the binary.
type SharePointConnector struct {
	http *httpclient.Client
	cfg  SharePointConfig

	tokenMu  sync.Mutex
	token    string
	tokenExp time.Time

	// lookupCache resolves lookup-field IDs to display values,
	// last-writer-wins.
	cacheMu     sync.Mutex
	lookupCache map[string]string
}

// NewSharePointConnector creates the Graph connector.
func NewSharePointConnector(cfg SharePointConfig) *SharePointConnector {
	cfg.setDefaults()
	return &SharePointConnector{
		http:        httpclient.New(),
		cfg:         cfg,
		lookupCache: make(map[string]string),
	}
}

func (c *SharePointConnector) Tag() string {
	return "sharepoint-list"
}

func (c *SharePointConnector) Segments() []string {
	return []string{"sharepoint", c.cfg.SiteID}
}

// acquireToken runs the client-credential flow, caching until near expiry.
func (c *SharePointConnector) acquireToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExp.Add(-time.Minute)) {
		return c.token, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"scope":         {"https://graph.microsoft.com/.default"},
	}
	body, err := c.http.Do(ctx, http.MethodPost, c.cfg.TokenURL,
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("token acquisition failed: %w", err)
	}

	var resp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("token response carried no access token")
	}

	c.token = resp.AccessToken
	c.tokenExp = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	return c.token, nil
}

func (c *SharePointConnector) getJSON(ctx context.Context, u string, out any) error {
	token, err := c.acquireToken(ctx)
	if err != nil {
		return err
	}
	client := httpclient.New(httpclient.WithHeader("Authorization", "Bearer "+token))
	return client.DoJSON(ctx, http.MethodGet, u, nil, out)
}

type graphListItem struct {
	ID                   string         `json:"id"`
	WebURL               string         `json:"webUrl"`
	LastModifiedDateTime time.Time      `json:"lastModifiedDateTime"`
	Fields               map[string]any `json:"fields"`
}

type graphListItemsPage struct {
	Value    []graphListItem `json:"value"`
	NextLink string          `json:"@odata.nextLink"`
}

type graphDriveItem struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"@microsoft.graph.downloadUrl"`
	File        *struct {
		MimeType string `json:"mimeType"`
	} `json:"file"`
}

func (c *SharePointConnector) Enumerate(ctx context.Context) (<-chan ItemRef, <-chan error) {
	itemChan := make(chan ItemRef, 100)
	errChan := make(chan error, 10)

	go func() {
		defer close(itemChan)
		defer close(errChan)

		for _, listID := range c.cfg.ListIDs {
			if err := c.enumerateList(ctx, listID, itemChan); err != nil {
				errChan <- fmt.Errorf("failed to enumerate list %s: %w", listID, err)
			}
		}
	}()

	return itemChan, errChan
}

func (c *SharePointConnector) enumerateList(ctx context.Context, listID string, out chan<- ItemRef) error {
	u := fmt.Sprintf("%s/v1.0/sites/%s/lists/%s/items?expand=fields",
		c.cfg.GraphBaseURL, c.cfg.SiteID, listID)

	for u != "" {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var page graphListItemsPage
		if err := c.getJSON(ctx, u, &page); err != nil {
			return err
		}

		for _, item := range page.Value {
			ref, err := c.itemToRef(ctx, listID, item)
			if err != nil {
				slog.Warn("skipping unreadable list item",
					"list", listID, "item", item.ID, "error", err)
				continue
			}
			select {
			case out <- ref:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		u = page.NextLink
	}
	return nil
}

// itemToRef builds the ItemRef for one list item. Document-library entries
// are followed to their driveItem; plain items serialize their resolved
// fields as the body.
func (c *SharePointConnector) itemToRef(ctx context.Context, listID string, item graphListItem) (ItemRef, error) {
	ref := ItemRef{
		ID:           listID + "/" + item.ID,
		LastModified: item.LastModifiedDateTime,
		URL:          item.WebURL,
	}

	userIDs, groupIDs := c.fetchPermissions(ctx, listID, item.ID)
	ref.UserIDs = userIDs
	ref.GroupIDs = groupIDs

	fields := c.resolveLookupFields(ctx, listID, item.Fields)

	if name, ok := fields["FileLeafRef"].(string); ok && name != "" {
		// Document library: follow the driveItem to the binary.
		drive, err := c.fetchDriveItem(ctx, listID, item.ID)
		if err != nil {
			return ref, err
		}
		ref.Name = drive.Name
		ref.Size = drive.Size
		if drive.File != nil {
			ref.ContentType = drive.File.MimeType
		}
		downloadURL := drive.DownloadURL
		ref.Download = func(ctx context.Context) (*Download, error) {
			data, err := c.http.Do(ctx, http.MethodGet, downloadURL, "", nil)
			if err != nil {
				return nil, err
			}
			return &Download{Data: data, ContentType: ref.ContentType, Size: int64(len(data))}, nil
		}
		return ref, nil
	}

	title, _ := fields["Title"].(string)
	if title == "" {
		title = "item-" + item.ID
	}
	ref.Name = title + ".json"
	ref.ContentType = "application/json"
	ref.Download = func(context.Context) (*Download, error) {
		data, err := json.MarshalIndent(fields, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to serialize item fields: %w", err)
		}
		return &Download{Data: data, ContentType: "application/json", Size: int64(len(data))}, nil
	}
	return ref, nil
}

func (c *SharePointConnector) fetchDriveItem(ctx context.Context, listID, itemID string) (*graphDriveItem, error) {
	u := fmt.Sprintf("%s/v1.0/sites/%s/lists/%s/items/%s/driveItem",
		c.cfg.GraphBaseURL, c.cfg.SiteID, listID, itemID)
	var drive graphDriveItem
	if err := c.getJSON(ctx, u, &drive); err != nil {
		return nil, err
	}
	return &drive, nil
}

// resolveLookupFields replaces *LookupId fields with display values fetched
// from the referenced items, consulting the cache first.
func (c *SharePointConnector) resolveLookupFields(ctx context.Context, listID string, fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		if strings.HasPrefix(key, "@") || strings.HasPrefix(key, "_") {
			continue
		}
		if strings.HasSuffix(key, "LookupId") {
			base := strings.TrimSuffix(key, "LookupId")
			if resolved := c.resolveLookup(ctx, listID, fmt.Sprint(value)); resolved != "" {
				out[base] = resolved
				continue
			}
		}
		out[key] = value
	}
	return out
}

func (c *SharePointConnector) resolveLookup(ctx context.Context, listID, lookupID string) string {
	cacheKey := listID + "/" + lookupID
	c.cacheMu.Lock()
	cached, ok := c.lookupCache[cacheKey]
	c.cacheMu.Unlock()
	if ok {
		return cached
	}

	u := fmt.Sprintf("%s/v1.0/sites/%s/lists/%s/items/%s?expand=fields",
		c.cfg.GraphBaseURL, c.cfg.SiteID, listID, lookupID)
	var item graphListItem
	if err := c.getJSON(ctx, u, &item); err != nil {
		slog.Debug("lookup resolution failed", "list", listID, "lookup", lookupID, "error", err)
		return ""
	}
	title, _ := item.Fields["Title"].(string)

	c.cacheMu.Lock()
	c.lookupCache[cacheKey] = title
	c.cacheMu.Unlock()
	return title
}

type graphPermissionsPage struct {
	Value []struct {
		GrantedToV2 *struct {
			User *struct {
				ID string `json:"id"`
			} `json:"user"`
			Group *struct {
				ID string `json:"id"`
			} `json:"group"`
		} `json:"grantedToV2"`
	} `json:"value"`
}

// fetchPermissions reads item-level permissions from the beta endpoint,
// keeping only Entra GUID principals. Failures degrade to an unrestricted
// item.
func (c *SharePointConnector) fetchPermissions(ctx context.Context, listID, itemID string) ([]string, []string) {
	u := fmt.Sprintf("%s/beta/sites/%s/lists/%s/items/%s/permissions",
		c.cfg.GraphBaseURL, c.cfg.SiteID, listID, itemID)

	var page graphPermissionsPage
	if err := c.getJSON(ctx, u, &page); err != nil {
		slog.Debug("permissions unavailable", "list", listID, "item", itemID, "error", err)
		return nil, nil
	}

	var userIDs, groupIDs []string
	for _, perm := range page.Value {
		if perm.GrantedToV2 == nil {
			continue
		}
		if perm.GrantedToV2.User != nil && guidRe.MatchString(perm.GrantedToV2.User.ID) {
			userIDs = append(userIDs, perm.GrantedToV2.User.ID)
		}
		if perm.GrantedToV2.Group != nil && guidRe.MatchString(perm.GrantedToV2.Group.ID) {
			groupIDs = append(groupIDs, perm.GrantedToV2.Group.ID)
		}
	}
	return NormalizeSecurityIDs(userIDs, "user_ids"), NormalizeSecurityIDs(groupIDs, "group_ids")
}

var _ Connector = (*SharePointConnector)(nil)
