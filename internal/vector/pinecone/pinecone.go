// Package pinecone speaks the Pinecone data-plane REST API.
package pinecone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quarryai/quarry/internal/vector"
)

const maxErrorBodyBytes = 1024

type Store struct {
	apiKey    string
	indexHost string
	client    *http.Client
}

func New(apiKey, indexHost string) (*Store, error) {
	apiKey = strings.TrimSpace(apiKey)
	indexHost = strings.TrimSpace(indexHost)
	if apiKey == "" {
		return nil, fmt.Errorf("pinecone api key is required")
	}
	if indexHost == "" {
		return nil, fmt.Errorf("pinecone index host is required")
	}
	if !strings.HasPrefix(indexHost, "http://") && !strings.HasPrefix(indexHost, "https://") {
		indexHost = "https://" + indexHost
	}
	return &Store{
		apiKey:    apiKey,
		indexHost: strings.TrimRight(indexHost, "/"),
		client:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type wireVector struct {
	ID       string                 `json:"id"`
	Values   []float32              `json:"values"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type upsertRequest struct {
	Namespace string       `json:"namespace"`
	Vectors   []wireVector `json:"vectors"`
}

type upsertResponse struct {
	UpsertedCount int `json:"upsertedCount"`
}

type queryRequest struct {
	Namespace       string                 `json:"namespace"`
	Vector          []float32              `json:"vector"`
	TopK            int                    `json:"topK"`
	Filter          map[string]interface{} `json:"filter,omitempty"`
	IncludeValues   bool                   `json:"includeValues"`
	IncludeMetadata bool                   `json:"includeMetadata"`
}

type queryResponse struct {
	Matches []struct {
		ID       string                 `json:"id"`
		Score    float64                `json:"score"`
		Values   []float32              `json:"values"`
		Metadata map[string]interface{} `json:"metadata"`
	} `json:"matches"`
}

type deleteRequest struct {
	Namespace string                 `json:"namespace"`
	Filter    map[string]interface{} `json:"filter,omitempty"`
	DeleteAll bool                   `json:"deleteAll,omitempty"`
}

func (s *Store) Upsert(ctx context.Context, namespace string, vectors []vector.Vector) (int, error) {
	if len(vectors) == 0 {
		return 0, nil
	}
	payload := upsertRequest{Namespace: namespace}
	for _, v := range vectors {
		payload.Vectors = append(payload.Vectors, wireVector{ID: v.ID, Values: v.Values, Metadata: v.Metadata})
	}
	var parsed upsertResponse
	if err := s.post(ctx, "/vectors/upsert", payload, &parsed); err != nil {
		return 0, err
	}
	if parsed.UpsertedCount == 0 {
		return len(vectors), nil
	}
	return parsed.UpsertedCount, nil
}

func (s *Store) Query(ctx context.Context, namespace string, q vector.Query) ([]vector.Match, error) {
	if q.TopK <= 0 {
		return nil, nil
	}
	payload := queryRequest{
		Namespace:       namespace,
		Vector:          q.Vector,
		TopK:            q.TopK,
		Filter:          toWireFilter(q.Filter),
		IncludeValues:   q.IncludeValues,
		IncludeMetadata: q.IncludeMetadata,
	}
	var parsed queryResponse
	if err := s.post(ctx, "/query", payload, &parsed); err != nil {
		return nil, err
	}
	matches := make([]vector.Match, 0, len(parsed.Matches))
	for _, m := range parsed.Matches {
		matches = append(matches, vector.Match{ID: m.ID, Score: m.Score, Values: m.Values, Metadata: m.Metadata})
	}
	return matches, nil
}

func (s *Store) Delete(ctx context.Context, namespace string, filter vector.Filter) error {
	payload := deleteRequest{Namespace: namespace, Filter: toWireFilter(filter)}
	if len(payload.Filter) == 0 {
		payload.DeleteAll = true
	}
	return s.post(ctx, "/vectors/delete", payload, nil)
}

func toWireFilter(filter vector.Filter) map[string]interface{} {
	if len(filter) == 0 {
		return nil
	}
	wire := make(map[string]interface{}, len(filter))
	for key, want := range filter {
		switch v := want.(type) {
		case []string:
			wire[key] = map[string]interface{}{"$in": v}
		default:
			wire[key] = map[string]interface{}{"$eq": v}
		}
	}
	return wire
}

func (s *Store) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.indexHost+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Api-Key", s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return fmt.Errorf("pinecone %s status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
