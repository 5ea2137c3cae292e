package vector

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNamespace(t *testing.T) {
	ns, err := Namespace("quarry", "prod", "t1")
	require.NoError(t, err)
	require.Equal(t, "quarry:prod:t1", ns)

	// env is optional
	ns, err = Namespace("quarry", "", "t1")
	require.NoError(t, err)
	require.Equal(t, "quarry:t1", ns)
}

func TestNamespace_SanitizesParts(t *testing.T) {
	ns, err := Namespace("Quarry App", "Prod", "Tenant/1 ")
	require.NoError(t, err)
	require.Equal(t, "quarry-app:prod:tenant-1", ns)
}

func TestNamespace_Deterministic(t *testing.T) {
	a, err := Namespace("quarry", "test", "t1")
	require.NoError(t, err)
	b, err := Namespace("quarry", "test", "t1")
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestNamespace_RejectsEmptyPrefixOrTenant(t *testing.T) {
	_, err := Namespace("", "prod", "t1")
	require.Error(t, err)
	_, err = Namespace("quarry", "prod", "")
	require.Error(t, err)
	_, err = Namespace("quarry", "prod", "///")
	require.Error(t, err)
}

func TestMatchesFilter(t *testing.T) {
	metadata := map[string]interface{}{
		"tenant_id": "t1",
		"doc_id":    "d1",
		"version":   3,
	}
	require.True(t, MatchesFilter(metadata, nil))
	require.True(t, MatchesFilter(metadata, Filter{"tenant_id": "t1"}))
	require.False(t, MatchesFilter(metadata, Filter{"tenant_id": "t2"}))
	require.False(t, MatchesFilter(metadata, Filter{"missing": "x"}))
	// numeric metadata compares by printed form
	require.True(t, MatchesFilter(metadata, Filter{"version": "3"}))
}

func TestMatchesFilter_StringSliceIsAnyOf(t *testing.T) {
	metadata := map[string]interface{}{"doc_id": "d2"}
	require.True(t, MatchesFilter(metadata, Filter{"doc_id": []string{"d1", "d2"}}))
	require.False(t, MatchesFilter(metadata, Filter{"doc_id": []string{"d3"}}))
	require.False(t, MatchesFilter(metadata, Filter{"doc_id": []string{}}))
}
