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

// Package tokens provides deterministic token counting for chunk budgeting.
package tokens

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the GPT-2 style byte-pair encoding used for chunk
// budgets. Counts must be stable across runs and languages, so the encoding
// is fixed rather than derived from whichever model is configured.
const DefaultEncoding = "r50k_base"

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// Estimator counts tokens with a fixed BPE encoding. Safe for concurrent use.
type Estimator struct {
	encoding *tiktoken.Tiktoken
	name     string
}

// NewEstimator returns an estimator for the named encoding, falling back to
// cl100k_base if the name is unknown. Encodings are cached process-wide
// because initialization loads a sizable vocabulary.
func NewEstimator(name string) (*Estimator, error) {
	if name == "" {
		name = DefaultEncoding
	}

	cacheMu.RLock()
	cached, ok := encodingCache[name]
	cacheMu.RUnlock()
	if ok {
		return &Estimator{encoding: cached, name: name}, nil
	}

	encoding, err := tiktoken.GetEncoding(name)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[name] = encoding
	cacheMu.Unlock()

	return &Estimator{encoding: encoding, name: name}, nil
}

// Count returns the token count for text. Idempotent; no I/O.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(e.encoding.Encode(text, nil, nil))
}

// Encoding returns the encoding name this estimator was built with.
func (e *Estimator) Encoding() string {
	return e.name
}
