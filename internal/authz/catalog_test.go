package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubCatalogStore struct {
	names []string
	err   error
}

func (s stubCatalogStore) ListPermissionNames(ctx context.Context) ([]string, error) {
	return s.names, s.err
}

func TestLoadCatalogMergesStoreAndCoreScopes(t *testing.T) {
	catalog, err := LoadCatalog(context.Background(), stubCatalogStore{
		names: []string{"content.publish", "content.archive", ""},
	})
	require.NoError(t, err)

	require.True(t, catalog.Known("content.publish"))
	require.True(t, catalog.Known(PermCacheManage))
	require.False(t, catalog.Known(""))
	require.False(t, catalog.Known("content.delete"))
}

func TestLoadCatalogPropagatesStoreFailure(t *testing.T) {
	_, err := LoadCatalog(context.Background(), stubCatalogStore{err: errors.New("boom")})
	require.Error(t, err)
}

func TestCatalogRegisterAndNames(t *testing.T) {
	catalog, err := LoadCatalog(context.Background(), nil)
	require.NoError(t, err)

	catalog.Register("media.upload")
	require.True(t, catalog.Known("media.upload"))

	names := catalog.Names()
	require.Contains(t, names, "media.upload")
	require.IsIncreasing(t, names)
}
