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
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Chunk keys are not UUIDs, so point IDs are derived deterministically from
// the key under this namespace. The original key lives in the payload.
var qdrantIDNamespace = uuid.MustParse("7f9a2c52-0b1e-4ce0-9f3d-6a87b5e41c09")

// qdrantGateway adapts a Qdrant collection to the Gateway contract. Point
// vectors hold contentVector; everything else rides in the payload.
type qdrantGateway struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantGateway creates the qdrant backend. The collection must already
// exist with the embedding dimensionality of the deployment.
func NewQdrantGateway(cfg Config) (Gateway, error) {
	host := cfg.QdrantHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.QdrantPort
	if port == 0 {
		port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.QdrantUseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client for %s:%d: %w", host, port, err)
	}

	return &qdrantGateway{client: client, collection: cfg.Index}, nil
}

func pointID(key string) *qdrant.PointId {
	return qdrant.NewID(uuid.NewSHA1(qdrantIDNamespace, []byte(key)).String())
}

func (g *qdrantGateway) UploadDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(docs))
	for _, doc := range docs {
		vector := doc.ContentVector
		doc.ContentVector = nil
		payloadMap, err := docToMap(doc)
		if err != nil {
			return err
		}

		payload := make(map[string]*qdrant.Value, len(payloadMap))
		for key, value := range payloadMap {
			val, err := qdrant.NewValue(value)
			if err != nil {
				continue
			}
			payload[key] = val
		}

		points = append(points, &qdrant.PointStruct{
			Id:      pointID(doc.ID),
			Vectors: qdrant.NewVectors(vector...),
			Payload: payload,
		})
	}

	if _, err := g.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: g.collection,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

func (g *qdrantGateway) DeleteDocuments(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, pointID(id))
	}

	if _, err := g.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: g.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
	}); err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

func (g *qdrantGateway) GetDocument(ctx context.Context, key string, _ []string) (*Document, error) {
	points, err := g.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: g.collection,
		Ids:            []*qdrant.PointId{pointID(key)},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get point %s: %w", key, err)
	}
	if len(points) == 0 {
		return nil, nil
	}
	return payloadToDocument(points[0].Payload)
}

// Search scans with the Scroll API, paging on NextPageOffset.
func (g *qdrantGateway) Search(q Query) *Pager {
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	filter, filterErr := buildScrollFilter(q.Filter)
	var offset *qdrant.PointId
	done := false

	return NewPager(func(ctx context.Context) ([]Document, error) {
		if filterErr != nil {
			return nil, filterErr
		}
		if done {
			return nil, nil
		}

		limit := uint32(pageSize)
		resp, err := g.client.GetPointsClient().Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: g.collection,
			Filter:         filter,
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scroll points: %w", err)
		}

		offset = resp.GetNextPageOffset()
		if offset == nil {
			done = true
		}
		if len(resp.GetResult()) == 0 {
			return nil, nil
		}

		docs := make([]Document, 0, len(resp.GetResult()))
		for _, point := range resp.GetResult() {
			doc, err := payloadToDocument(point.Payload)
			if err != nil {
				return nil, err
			}
			docs = append(docs, *doc)
		}
		return docs, nil
	})
}

// buildScrollFilter translates the eq/ne grammar into qdrant match
// conditions.
func buildScrollFilter(filter string) (*qdrant.Filter, error) {
	clauses, err := parseFilter(filter)
	if err != nil {
		return nil, err
	}
	if len(clauses) == 0 {
		return nil, nil
	}

	f := &qdrant.Filter{}
	for _, c := range clauses {
		condition := &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: c.Field,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: c.Value},
					},
				},
			},
		}
		if c.Op == "ne" {
			f.MustNot = append(f.MustNot, condition)
		} else {
			f.Must = append(f.Must, condition)
		}
	}
	return f, nil
}

// payloadToDocument rebuilds a Document from a point payload via its JSON
// form.
func payloadToDocument(payload map[string]*qdrant.Value) (*Document, error) {
	m := make(map[string]any, len(payload))
	for key, value := range payload {
		m[key] = qdrantValueToAny(value)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return &doc, nil
}

func qdrantValueToAny(value *qdrant.Value) any {
	switch v := value.Kind.(type) {
	case *qdrant.Value_StringValue:
		return v.StringValue
	case *qdrant.Value_IntegerValue:
		return v.IntegerValue
	case *qdrant.Value_DoubleValue:
		return v.DoubleValue
	case *qdrant.Value_BoolValue:
		return v.BoolValue
	case *qdrant.Value_ListValue:
		if v.ListValue == nil {
			return nil
		}
		list := make([]any, len(v.ListValue.Values))
		for i, item := range v.ListValue.Values {
			list[i] = qdrantValueToAny(item)
		}
		return list
	default:
		return nil
	}
}

var _ Gateway = (*qdrantGateway)(nil)
var _ Gateway = (*restGateway)(nil)
