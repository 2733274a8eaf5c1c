package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pwmpw/uniswap-relay/internal/domain/model"
)

func TestMemoryStoreLoadMissing(t *testing.T) {
	s := NewMemoryStore()

	_, ok, err := s.Load(context.Background(), model.VersionV2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreSaveLoad(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	want := model.Cursor{BlockNumber: 18000000, LogIndex: 7}
	require.NoError(t, s.Save(ctx, model.VersionV2, want))

	got, ok, err := s.Load(ctx, model.VersionV2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	// Versions are independent.
	_, ok, err = s.Load(ctx, model.VersionV3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreOverwrite(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, model.VersionV3, model.Cursor{BlockNumber: 1}))
	require.NoError(t, s.Save(ctx, model.VersionV3, model.Cursor{BlockNumber: 2, LogIndex: 9}))

	got, ok, err := s.Load(ctx, model.VersionV3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.Cursor{BlockNumber: 2, LogIndex: 9}, got)
}
