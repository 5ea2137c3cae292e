package tenant

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	appErr "github.com/quarryai/quarry/internal/pkg/errors"
)

func TestFromContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	require.False(t, ok)

	ctx := WithTenant(context.Background(), "t1")
	id, ok := FromContext(ctx)
	require.True(t, ok)
	require.Equal(t, "t1", id)

	// empty tenant id is not a scope
	_, ok = FromContext(WithTenant(context.Background(), ""))
	require.False(t, ok)
}

func TestMustFromContext(t *testing.T) {
	_, err := MustFromContext(context.Background())
	require.ErrorIs(t, err, appErr.ErrForbidden)

	id, err := MustFromContext(WithTenant(context.Background(), "t1"))
	require.NoError(t, err)
	require.Equal(t, "t1", id)
}

func TestScope(t *testing.T) {
	ctx := WithTenant(context.Background(), "t1")
	where := Scope(ctx, map[string]interface{}{"status": "active"})
	require.Equal(t, "t1", where["tenant_id"])
	require.Equal(t, "active", where["status"])

	where = Scope(ctx, nil)
	require.Equal(t, "t1", where["tenant_id"])

	// no scope on the context leaves the predicate out
	where = Scope(context.Background(), map[string]interface{}{"status": "active"})
	_, present := where["tenant_id"]
	require.False(t, present)
}

func TestNestedScopeShadowsOuter(t *testing.T) {
	outer := WithTenant(context.Background(), "t1")
	inner := WithTenant(outer, "t2")

	id, _ := FromContext(inner)
	require.Equal(t, "t2", id)
	id, _ = FromContext(outer)
	require.Equal(t, "t1", id)
}

func TestConcurrentScopesAreIsolated(t *testing.T) {
	var wg sync.WaitGroup
	for _, tenantID := range []string{"t1", "t2", "t3"} {
		wg.Add(1)
		go func(want string) {
			defer wg.Done()
			ctx := WithTenant(context.Background(), want)
			for i := 0; i < 100; i++ {
				got, ok := FromContext(ctx)
				if !ok || got != want {
					t.Errorf("scope leaked: got %q want %q", got, want)
					return
				}
			}
		}(tenantID)
	}
	wg.Wait()
}
