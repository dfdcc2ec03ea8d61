package backend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wealthflow/internal/config"
	"wealthflow/internal/identity"
	"wealthflow/internal/storage"
)

func TestFromAppConfig(t *testing.T) {
	_, err := FromAppConfig(nil)
	assert.Error(t, err)

	_, err = FromAppConfig(&config.Config{StorageBackend: "sheets"})
	assert.ErrorContains(t, err, "invalid storage backend")

	cfg, err := FromAppConfig(&config.Config{
		StorageBackend:   "sqlite",
		SQLiteDBPath:     "/tmp/wf.db",
		IdentityProvider: "static",
		StaticTokens:     "t=u1",
	})
	require.NoError(t, err)
	assert.Equal(t, SQLiteStore, cfg.Type)
	assert.Equal(t, identity.ProviderStatic, cfg.Identity)
	assert.Equal(t, []string{"sqlite", "memory"}, GetStoreTypeStrings())
}

func TestCreateStore(t *testing.T) {
	ctx := context.Background()
	f := NewFactory(nil)

	t.Run("memory", func(t *testing.T) {
		res, err := f.CreateStore(ctx, Config{Type: MemoryStore})
		require.NoError(t, err)
		require.NoError(t, res.KV.Put(ctx, storage.KeyToken, []byte("x")))
		assert.NoError(t, res.Cleanup())
	})

	t.Run("sqlite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "wf.db")
		res, err := f.CreateStore(ctx, Config{Type: SQLiteStore, SQLiteDBPath: path})
		require.NoError(t, err)
		require.NoError(t, res.KV.Put(ctx, storage.KeyToken, []byte("x")))
		require.NoError(t, res.Cleanup())

		reopened, err := f.CreateStore(ctx, Config{Type: SQLiteStore, SQLiteDBPath: path})
		require.NoError(t, err)
		defer reopened.Cleanup()
		got, err := reopened.KV.Get(ctx, storage.KeyToken)
		require.NoError(t, err)
		assert.Equal(t, []byte("x"), got)
	})

	t.Run("sqlite without path", func(t *testing.T) {
		_, err := f.CreateStore(ctx, Config{Type: SQLiteStore})
		assert.ErrorContains(t, err, "path is required")
	})
}

func TestCreateIdentity(t *testing.T) {
	ctx := context.Background()
	f := NewFactory(nil)

	p, err := f.CreateIdentity(ctx, Config{Identity: identity.ProviderStatic, StaticTokens: "tok=u1:a@example.com"})
	require.NoError(t, err)
	user, err := p.GetUser(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)

	p, err = f.CreateIdentity(ctx, Config{Identity: identity.ProviderJWT, JWTSecret: "s3cret"})
	require.NoError(t, err)
	assert.IsType(t, &identity.JWTProvider{}, p)

	_, err = f.CreateIdentity(ctx, Config{Identity: identity.ProviderJWT})
	assert.Error(t, err)

	p, err = f.CreateIdentity(ctx, Config{Identity: identity.ProviderGoogle})
	require.NoError(t, err)
	assert.IsType(t, &identity.GoogleProvider{}, p)

	_, err = f.CreateIdentity(ctx, Config{Identity: "ldap"})
	assert.ErrorContains(t, err, "invalid identity provider")
}
