package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPostgresAdapter(t *testing.T) {
	if testing.Short() {
		t.Skip("container test skipped in -short")
	}
	ctx := context.Background()

	pgc, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("sklad"),
		tcpostgres.WithUsername("sklad"),
		tcpostgres.WithPassword("sklad"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("docker недоступен: %v", err)
	}
	t.Cleanup(func() { _ = pgc.Terminate(ctx) })

	url, err := pgc.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	ad, err := NewPostgres(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ad.Close() })

	v, err := ad.GetValue(ctx, "core.Product/1")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, ad.SetValue(ctx, "core.Product/1", []byte(`{"name":"hammer"}`)))
	require.NoError(t, ad.SetValue(ctx, "core.Product/2", []byte(`{"name":"drill"}`)))

	v, err = ad.GetValue(ctx, "core.Product/1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"hammer"}`, string(v))

	// upsert
	require.NoError(t, ad.SetValue(ctx, "core.Product/1", []byte(`{"name":"axe"}`)))
	v, err = ad.GetValue(ctx, "core.Product/1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"axe"}`, string(v))

	keys, err := ad.Keys(ctx, "core.Product/")
	require.NoError(t, err)
	assert.Equal(t, []string{"core.Product/1", "core.Product/2"}, keys)

	require.NoError(t, ad.DeleteValue(ctx, "core.Product/1"))
	v, err = ad.GetValue(ctx, "core.Product/1")
	require.NoError(t, err)
	assert.Nil(t, v)
}
