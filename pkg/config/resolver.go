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

// Package config resolves configuration values with label precedence and
// environment-variable fallback.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Labels consulted in the remote store, most specific first. The empty label
// matches unlabeled keys.
var labelPrecedence = []string{"gpt-rag-ingestion", "gpt-rag", ""}

// Store is the remote configuration store contract. Implementations fetch a
// single key under a given label; ok is false when the key/label pair is
// absent.
type Store interface {
	Get(ctx context.Context, key, label string) (value string, ok bool, err error)
}

// MapStore is an in-memory Store for tests and local runs. Keys are
// "label\x00key"; use Set to populate.
type MapStore struct {
	values map[string]string
}

// NewMapStore creates an empty MapStore.
func NewMapStore() *MapStore {
	return &MapStore{values: make(map[string]string)}
}

// Set stores a value under the given key and label.
func (s *MapStore) Set(key, label, value string) {
	s.values[label+"\x00"+key] = value
}

func (s *MapStore) Get(_ context.Context, key, label string) (string, bool, error) {
	v, ok := s.values[label+"\x00"+key]
	return v, ok, nil
}

// Resolver answers key→value lookups. Resolution order:
//  1. the process environment, when AllowEnvOverride is set;
//  2. the remote store under each label in precedence order;
//  3. the caller-provided default.
type Resolver struct {
	store            Store
	allowEnvOverride bool
}

// NewResolver creates a resolver over the given store. store may be nil, in
// which case only the environment and defaults are consulted.
func NewResolver(store Store, allowEnvOverride bool) *Resolver {
	return &Resolver{store: store, allowEnvOverride: allowEnvOverride}
}

// LoadEnvFiles loads .env.local and .env into the process environment.
// Missing files are not an error.
func LoadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// Get returns the value for key, or def when the key is absent everywhere.
func (r *Resolver) Get(ctx context.Context, key, def string) string {
	v, ok := r.lookup(ctx, key)
	if !ok {
		return def
	}
	return v
}

// Require returns the value for key or an error when absent.
func (r *Resolver) Require(ctx context.Context, key string) (string, error) {
	v, ok := r.lookup(ctx, key)
	if !ok {
		return "", fmt.Errorf("required config key %s is not set", key)
	}
	return v, nil
}

// GetInt returns the integer value for key, or def when absent or invalid.
func (r *Resolver) GetInt(ctx context.Context, key string, def int) int {
	v, ok := r.lookup(ctx, key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// GetFloat returns the float value for key, or def when absent or invalid.
func (r *Resolver) GetFloat(ctx context.Context, key string, def float64) float64 {
	v, ok := r.lookup(ctx, key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def
	}
	return f
}

// GetBool returns the boolean value for key, or def when absent or invalid.
// Accepts true/false, 1/0, yes/no in any case.
func (r *Resolver) GetBool(ctx context.Context, key string, def bool) bool {
	v, ok := r.lookup(ctx, key)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return def
	}
}

// GetSeconds returns the value of key interpreted as a whole number of
// seconds, or def when absent or invalid.
func (r *Resolver) GetSeconds(ctx context.Context, key string, def time.Duration) time.Duration {
	v, ok := r.lookup(ctx, key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

func (r *Resolver) lookup(ctx context.Context, key string) (string, bool) {
	if r.allowEnvOverride {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v, true
		}
	}

	if r.store != nil {
		for _, label := range labelPrecedence {
			v, ok, err := r.store.Get(ctx, key, label)
			if err != nil {
				// A failing store falls through to the next label and
				// ultimately the default; startup validation catches
				// required keys.
				continue
			}
			if ok {
				return v, true
			}
		}
	}

	if !r.allowEnvOverride {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v, true
		}
	}
	return "", false
}
