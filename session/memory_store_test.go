package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arcrun/mcprt/session"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreCreateGet(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()

	info, err := store.Create(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, info.ID)

	got, err := store.Get(ctx, info.ID)
	require.NoError(t, err)
	require.Equal(t, info.ID, got.ID)
}

func TestMemoryStoreCreateWithIDConflict(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()

	_, err := store.CreateWithID(ctx, "fixed-id")
	require.NoError(t, err)

	_, err = store.CreateWithID(ctx, "fixed-id")
	require.ErrorIs(t, err, session.ErrConflict)
}

func TestMemoryStoreGetNotFound(t *testing.T) {
	store := session.NewMemoryStore()
	_, err := store.Get(context.Background(), "missing")
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestMemoryStoreStateMetadataRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	info, err := store.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, store.SetState(ctx, info.ID, "cursor", []byte(`"abc"`)))
	val, ok, err := store.GetState(ctx, info.ID, "cursor")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `"abc"`, string(val))

	require.NoError(t, store.SetMetadata(ctx, info.ID, "tenant", []byte(`"acme"`)))
	val, ok, err = store.GetMetadata(ctx, info.ID, "tenant")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `"acme"`, string(val))
}

func TestMemoryStoreExpireOlderThan(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	info, err := store.Create(ctx)
	require.NoError(t, err)

	expired, err := store.ExpireOlderThan(ctx, time.Hour)
	require.NoError(t, err)
	require.Empty(t, expired)

	expired, err = store.ExpireOlderThan(ctx, -time.Second)
	require.NoError(t, err)
	require.Contains(t, expired, info.ID)

	_, err = store.Get(ctx, info.ID)
	require.True(t, errors.Is(err, session.ErrNotFound))
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	info, err := store.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, info.ID))
	require.ErrorIs(t, store.Delete(ctx, info.ID), session.ErrNotFound)
}
