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

// Package keys derives index-safe document keys.
//
// Every chunk stored in the search index is keyed by the sanitized parent
// document ID plus a zero-padded chunk ordinal. Sanitized keys contain only
// [A-Za-z0-9_-], so they are valid index keys regardless of what characters
// the upstream source used.
package keys

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// maxKeyLength is the longest sanitized key emitted before hashing kicks in.
	maxKeyLength = 128

	// truncatedPrefixLength is how much of the original survives when a key
	// is too long; the rest is replaced by a hash suffix.
	truncatedPrefixLength = 100

	// hashSuffixLength is the number of hex characters appended to
	// disambiguate truncated keys.
	hashSuffixLength = 10
)

// isSafe reports whether b needs no sanitization.
func isSafe(b byte) bool {
	return b >= 'a' && b <= 'z' ||
		b >= 'A' && b <= 'Z' ||
		b >= '0' && b <= '9' ||
		b == '_' || b == '-'
}

// Sanitize maps an arbitrary string onto the index key alphabet.
//
// Any run of unsafe characters and dashes, in any mix, collapses to a single
// '-', leading and trailing dashes are trimmed, and an empty result becomes
// "doc". Strings whose sanitized form exceeds 128 characters are truncated to
// 100 characters plus a '-' and the first 10 hex characters of the SHA-1 of
// the original input, so distinct long inputs cannot collide on the shared
// prefix alone.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	dash := false
	for i := 0; i < len(s); i++ {
		if isSafe(s[i]) && s[i] != '-' {
			b.WriteByte(s[i])
			dash = false
			continue
		}
		if !dash {
			b.WriteByte('-')
			dash = true
		}
	}

	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "doc"
	}

	if len(out) > maxKeyLength {
		sum := sha1.Sum([]byte(s))
		out = out[:truncatedPrefixLength] + "-" + hex.EncodeToString(sum[:])[:hashSuffixLength]
	}
	return out
}

// ParentKey joins source segments into a URL-path style parent ID:
// a leading slash, segments separated by single slashes, no trailing slash.
// Empty segments are dropped.
func ParentKey(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		seg = strings.Trim(seg, "/")
		if seg == "" {
			continue
		}
		parts = append(parts, seg)
	}
	return "/" + strings.Join(parts, "/")
}

// Pad5 formats n in base 10 with leading zeros to width 5.
func Pad5(n int) string {
	return fmt.Sprintf("%05d", n)
}

// ChunkKey returns the index key for chunk n of the given parent document.
// The key is stable: it depends only on parentID and n.
func ChunkKey(parentID string, n int) string {
	return Sanitize(strings.TrimLeft(parentID, "/")) + "-c" + Pad5(n)
}

// ChunkKeyPrefix returns the shared prefix of all chunk keys for a parent,
// ending in "-c". Useful for prefix matching during reconciliation.
func ChunkKeyPrefix(parentID string) string {
	return Sanitize(strings.TrimLeft(parentID, "/")) + "-c"
}
