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
	"testing"
	"time"

	"github.com/cortexa-labs/ragsync/pkg/blob"
)

func TestParsePermissionList(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"json array", `["a", "b"]`, []string{"a", "b"}},
		{"python literal", `['a', 'b']`, []string{"a", "b"}},
		{"comma separated", "a, b,c", []string{"a", "b", "c"}},
		{"semicolon separated", "a;b; c", []string{"a", "b", "c"}},
		{"empty", "", nil},
		{"whitespace only", "   ", nil},
		{"single value", "alice", []string{"alice"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParsePermissionList(tt.raw)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("entry %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestNormalizeSecurityIDs(t *testing.T) {
	got := NormalizeSecurityIDs([]string{"b", "a", "b", " ", "c", "a"}, "user_ids")
	want := []string{"b", "a", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("first-seen order broken: %v", got)
		}
	}
}

func TestNormalizeSecurityIDs_Truncates(t *testing.T) {
	ids := make([]string, 40)
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%02d", i)
	}
	got := NormalizeSecurityIDs(ids, "group_ids")
	if len(got) != MaxSecurityIDs {
		t.Errorf("expected %d IDs, got %d", MaxSecurityIDs, len(got))
	}
	if got[0] != "id-00" || got[31] != "id-31" {
		t.Errorf("truncation must keep the first %d: %v", MaxSecurityIDs, got)
	}
}

func collectItems(t *testing.T, c Connector) []ItemRef {
	t.Helper()
	items, errs := c.Enumerate(context.Background())
	var out []ItemRef
	for item := range items {
		out = append(out, item)
	}
	for err := range errs {
		t.Fatalf("enumeration error: %v", err)
	}
	return out
}

func TestBlobConnector_Enumerate(t *testing.T) {
	store := blob.NewMemory()
	now := time.Now().UTC()
	store.Put("docs/report.pdf", blob.Object{
		Data: []byte("%PDF"), ContentType: "application/pdf", LastModified: now,
		Metadata: map[string]string{
			"metadata_security_user_ids": `["u1", "u2"]`,
		},
	})
	store.Put("docs/sub/", blob.Object{}) // directory marker
	store.Put("other/outside.txt", blob.Object{Data: []byte("x")})

	c := NewBlobConnector(store, "documents", "docs/")
	items := collectItems(t, c)

	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	item := items[0]
	if item.ID != "docs/report.pdf" || item.Name != "report.pdf" || item.ParentPath != "docs" {
		t.Errorf("unexpected item: %+v", item)
	}
	if len(item.UserIDs) != 2 || item.UserIDs[0] != "u1" {
		t.Errorf("permissions not attached: %v", item.UserIDs)
	}

	dl, err := item.Download(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if string(dl.Data) != "%PDF" || dl.ContentType != "application/pdf" {
		t.Errorf("download = %q %q", dl.Data, dl.ContentType)
	}

	if c.Tag() != "blob" {
		t.Errorf("Tag = %q", c.Tag())
	}
}

func TestBlobConnector_CancelUnblocksProducer(t *testing.T) {
	store := blob.NewMemory()
	for i := 0; i < 300; i++ {
		store.Put(fmt.Sprintf("docs/file-%03d.txt", i), blob.Object{Data: []byte("x")})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewBlobConnector(store, "documents", "docs/")
	items, _ := c.Enumerate(ctx)

	// Consume one item, then stop receiving. The producer must observe the
	// cancellation instead of blocking on the next send forever.
	<-items
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-items:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("item channel did not close after cancellation")
		}
	}
}

func TestNL2SQLConnector_Enumerate(t *testing.T) {
	store := blob.NewMemory()
	store.Put("queries/sales.json", blob.Object{Data: []byte(`{}`), LastModified: time.Now()})
	store.Put("queries/readme.txt", blob.Object{Data: []byte("skip me")})
	store.Put("tables/dim.json", blob.Object{Data: []byte(`{}`)})

	queries, err := NewNL2SQLConnector(store, "queries")
	if err != nil {
		t.Fatal(err)
	}
	items := collectItems(t, queries)
	if len(items) != 1 || items[0].ID != "queries/sales.json" {
		t.Errorf("unexpected items: %+v", items)
	}
	if items[0].Kind != "nl2sql" {
		t.Errorf("Kind = %q, chunker routing depends on it", items[0].Kind)
	}
	if queries.Tag() != "nl2sql-queries" {
		t.Errorf("Tag = %q", queries.Tag())
	}
	if queries.Kind() != "queries" {
		t.Errorf("Kind() = %q", queries.Kind())
	}

	if _, err := NewNL2SQLConnector(store, "bogus"); err == nil {
		t.Error("unknown kind must fail")
	}

	all := NewNL2SQLConnectors(store)
	if len(all) != 3 {
		t.Errorf("expected 3 kind connectors, got %d", len(all))
	}
}
