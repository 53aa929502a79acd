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
	"errors"
	"testing"
)

func TestMemory_RoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Upload(ctx, "docs/a.txt", []byte("hello"), "text/plain"); err != nil {
		t.Fatal(err)
	}

	data, ct, err := m.Download(ctx, "docs/a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" || ct != "text/plain" {
		t.Errorf("got %q %q", data, ct)
	}

	ok, err := m.Exists(ctx, "docs/a.txt")
	if err != nil || !ok {
		t.Errorf("Exists = %v %v", ok, err)
	}

	if err := m.Delete(ctx, "docs/a.txt"); err != nil {
		t.Fatal(err)
	}
	ok, _ = m.Exists(ctx, "docs/a.txt")
	if ok {
		t.Error("expected object gone after delete")
	}
}

func TestMemory_ListPrefix(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, name := range []string{"docs/a.txt", "docs/b.txt", "other/c.txt"} {
		if err := m.Upload(ctx, name, []byte("x"), ""); err != nil {
			t.Fatal(err)
		}
	}

	props, err := m.List(ctx, "docs/")
	if err != nil {
		t.Fatal(err)
	}
	if len(props) != 2 || props[0].Name != "docs/a.txt" || props[1].Name != "docs/b.txt" {
		t.Errorf("unexpected listing: %+v", props)
	}
}

func TestMemory_NotFound(t *testing.T) {
	m := NewMemory()
	_, _, err := m.Download(context.Background(), "missing")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestMemory_InjectedUploadFailure(t *testing.T) {
	m := NewMemory()
	m.FailUpload = errors.New("storage down")
	if err := m.Upload(context.Background(), "x", nil, ""); err == nil {
		t.Error("expected injected failure")
	}
}
