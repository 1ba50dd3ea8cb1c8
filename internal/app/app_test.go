package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncapp "github.com/sebastiansabo/autoworld-crawl/internal/application/integration"
	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/storage"
	"github.com/sebastiansabo/autoworld-crawl/tests/testutil"
)

func TestNew_RunsBatchesAgainstMigratedStore(t *testing.T) {
	ctx := t.Context()
	cfg := testutil.SQLiteConfig(t)
	catalog := testutil.NewStubCatalog()

	a, err := New(ctx, cfg, WithCatalogClient(catalog))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	assert.Nil(t, a.Redis)
	assert.Nil(t, a.Bucket)
	assert.Nil(t, a.Source)
	require.NoError(t, a.PingDatabase(ctx))

	req := syncapp.RunRequest{Records: []syncapp.RecordDTO{{IdentityKey: "WVW1", Title: "Golf"}}}
	res, err := a.Service.Run(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	res, err = a.Service.Run(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	n, err := a.Service.CountMappings(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = a.Service.Run(ctx, syncapp.RunRequest{Source: &syncapp.SourceRequest{Key: "feed.json"}})
	assert.ErrorIs(t, err, syncapp.ErrSourceNotConfigured)
}

func TestNew_MappingsSurviveRestart(t *testing.T) {
	ctx := t.Context()
	cfg := testutil.SQLiteConfig(t)
	catalog := testutil.NewStubCatalog()
	req := syncapp.RunRequest{Records: []syncapp.RecordDTO{{IdentityKey: "WVW1", Title: "Golf"}}}

	first, err := New(ctx, cfg, WithCatalogClient(catalog))
	require.NoError(t, err)
	res, err := first.Service.Run(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	require.NoError(t, first.Close(ctx))

	second, err := New(ctx, cfg, WithCatalogClient(catalog))
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close(context.Background()) })

	res, err = second.Service.Run(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	created, _ := catalog.Counts()
	assert.Equal(t, 1, created)
}

func TestNew_FileRecordSource(t *testing.T) {
	ctx := t.Context()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "feed.json"), []byte(`[
		{"identity_key": "WVW1", "title": "Golf", "price": 18990},
		{"title": "no key"}
	]`), 0o600))

	a, err := New(ctx, testutil.SQLiteConfig(t),
		WithCatalogClient(testutil.NewStubCatalog()),
		WithRecordSource(storage.NewFileRecordSource(root)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	res, err := a.Service.Run(ctx, syncapp.RunRequest{Source: &syncapp.SourceRequest{Key: "feed.json"}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Dropped)
}

func TestNew_RequiresCatalog(t *testing.T) {
	_, err := New(t.Context(), testutil.SQLiteConfig(t))
	assert.Error(t, err)
}
