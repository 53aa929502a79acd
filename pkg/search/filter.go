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

package search

import (
	"fmt"
	"strings"
)

// clause is one comparison in a filter expression.
type clause struct {
	Field string
	Op    string // "eq" or "ne"
	Value string
}

// parseFilter parses the minimal filter grammar the engines emit:
// `field eq 'value'` and `field ne 'value'`, joined with `and`. Values use
// single quotes with ” escaping the quote character.
func parseFilter(filter string) ([]clause, error) {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return nil, nil
	}

	var clauses []clause
	for _, part := range splitAnd(filter) {
		c, err := parseClause(part)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, c)
	}
	return clauses, nil
}

// splitAnd splits on ` and ` outside quoted strings.
func splitAnd(s string) []string {
	var parts []string
	inQuote := false
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			inQuote = !inQuote
			continue
		}
		if !inQuote && i+5 <= len(s) && s[i:i+5] == " and " {
			parts = append(parts, s[start:i])
			start = i + 5
			i += 4
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func parseClause(s string) (clause, error) {
	s = strings.TrimSpace(s)
	op := ""
	idx := -1
	if i := strings.Index(s, " eq "); i >= 0 {
		op, idx = "eq", i
	} else if i := strings.Index(s, " ne "); i >= 0 {
		op, idx = "ne", i
	}
	if idx < 0 {
		return clause{}, fmt.Errorf("unsupported filter clause: %q", s)
	}

	field := strings.TrimSpace(s[:idx])
	raw := strings.TrimSpace(s[idx+4:])
	if len(raw) < 2 || raw[0] != '\'' || raw[len(raw)-1] != '\'' {
		return clause{}, fmt.Errorf("filter value must be single-quoted: %q", s)
	}
	value := strings.ReplaceAll(raw[1:len(raw)-1], "''", "'")
	return clause{Field: field, Op: op, Value: value}, nil
}

// QuoteFilterValue escapes a value for embedding in a filter expression.
func QuoteFilterValue(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// fieldValue extracts the named filterable field from a document.
func fieldValue(d *Document, field string) (string, bool) {
	switch field {
	case "id":
		return d.ID, true
	case "parent_id":
		return d.ParentID, true
	case "source":
		return d.Source, true
	case "metadata_storage_path":
		return d.StoragePath, true
	case "metadata_storage_name":
		return d.StorageName, true
	case "category":
		return d.Category, true
	case "url":
		return d.URL, true
	default:
		return "", false
	}
}

// matches evaluates the parsed clauses against a document.
func matches(d *Document, clauses []clause) bool {
	for _, c := range clauses {
		v, ok := fieldValue(d, c.Field)
		if !ok {
			return false
		}
		switch c.Op {
		case "eq":
			if v != c.Value {
				return false
			}
		case "ne":
			if v == c.Value {
				return false
			}
		}
	}
	return true
}
