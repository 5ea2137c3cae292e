// Package vector defines the namespaced nearest-neighbor store the ingestion
// and retrieval pipelines depend on.
package vector

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

type Vector struct {
	ID       string
	Values   []float32
	Metadata map[string]interface{}
}

type Match struct {
	ID       string
	Score    float64
	Values   []float32
	Metadata map[string]interface{}
}

// Filter values are matched by equality; a []string value matches any of its
// members. Every stored vector carries at least tenant_id and doc_id so
// filtered queries never rely on the namespace alone.
type Filter map[string]interface{}

type Query struct {
	Vector          []float32
	TopK            int
	Filter          Filter
	IncludeValues   bool
	IncludeMetadata bool
}

type Store interface {
	Upsert(ctx context.Context, namespace string, vectors []Vector) (int, error)
	Query(ctx context.Context, namespace string, q Query) ([]Match, error)
	Delete(ctx context.Context, namespace string, filter Filter) error
}

var namespacePartRegex = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Namespace derives the per-tenant partition name. The derivation is
// deterministic so re-deriving always lands on the same partition; env is
// optional and separates shared deployments.
func Namespace(prefix, env, tenantID string) (string, error) {
	parts := []string{prefix, env, tenantID}
	cleaned := make([]string, 0, len(parts))
	for i, part := range parts {
		normalized := strings.ToLower(strings.Trim(namespacePartRegex.ReplaceAllString(strings.TrimSpace(part), "-"), "-"))
		if normalized == "" {
			if i == 1 {
				continue
			}
			return "", fmt.Errorf("namespace part cannot be empty")
		}
		cleaned = append(cleaned, normalized)
	}
	return strings.Join(cleaned, ":"), nil
}

// MatchesFilter reports whether metadata satisfies every filter entry.
func MatchesFilter(metadata map[string]interface{}, filter Filter) bool {
	for key, want := range filter {
		got, ok := metadata[key]
		if !ok {
			return false
		}
		switch v := want.(type) {
		case []string:
			found := false
			for _, candidate := range v {
				if fmt.Sprint(got) == candidate {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			if fmt.Sprint(got) != fmt.Sprint(v) {
				return false
			}
		}
	}
	return true
}
