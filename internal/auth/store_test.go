package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wealthflow/internal/storage"
)

func TestStore_FallbackUntilSet(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	s := NewStore(kv, " env-token ", nil)

	tok, err := s.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "env-token", tok)

	require.NoError(t, s.Set(ctx, "stored"))
	tok, err = s.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "stored", tok)

	raw, err := kv.Get(ctx, storage.KeyToken)
	require.NoError(t, err)
	assert.Equal(t, "stored", string(raw))
}

func TestStore_LoadsPersistedToken(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	require.NoError(t, kv.Put(ctx, storage.KeyToken, []byte("persisted")))

	s := NewStore(kv, "env-token", nil)
	assert.True(t, s.HasToken(ctx))
	tok, _ := s.Token(ctx)
	assert.Equal(t, "persisted", tok)
}

func TestStore_InvalidateDropsFallbackToo(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	s := NewStore(kv, "env-token", nil)
	require.NoError(t, s.Set(ctx, "stored"))

	s.Invalidate(ctx)

	tok, err := s.Token(ctx)
	require.NoError(t, err)
	assert.Empty(t, tok)
	assert.False(t, s.HasToken(ctx))

	_, err = kv.Get(ctx, storage.KeyToken)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_SetRejectsEmpty(t *testing.T) {
	s := NewStore(storage.NewMemoryKV(), "", nil)
	assert.Error(t, s.Set(context.Background(), "   "))
	assert.False(t, s.HasToken(context.Background()))
}
