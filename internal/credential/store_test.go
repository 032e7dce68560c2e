package credential

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreFindRevocation(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	defer store.Close()

	ctx := context.Background()

	found, err := store.FindRevocation(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.RecordRevocation(ctx, "abc123", time.Now()))

	found, err = store.FindRevocation(ctx, "abc123")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestMemoryStoreRecordRevocationIdempotent(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	defer store.Close()

	ctx := context.Background()
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.RecordRevocation(ctx, "abc123", first))
	require.NoError(t, store.RecordRevocation(ctx, "abc123", first.Add(time.Hour)))

	found, err := store.FindRevocation(ctx, "abc123")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestMemoryStoreUpdateLastUsed(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	defer store.Close()

	ctx := context.Background()

	require.NoError(t, store.UpdateLastUsed(ctx, "no-revocation", time.Now()))

	require.NoError(t, store.RecordRevocation(ctx, "abc123", time.Now()))
	require.NoError(t, store.UpdateLastUsed(ctx, "abc123", time.Now()))
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	defer store.Close()

	ctx := context.Background()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_ = store.RecordRevocation(ctx, "concurrent", time.Now())
		}
	}()

	for i := 0; i < 100; i++ {
		_, err := store.FindRevocation(ctx, "concurrent")
		assert.NoError(t, err)
	}

	<-done
}

func TestHashAndVerifyPassword(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("s3cret-password")
	require.NoError(t, err)
	require.NotEmpty(t, hash)
	assert.NotEqual(t, "s3cret-password", hash)

	assert.True(t, VerifyPassword(hash, "s3cret-password"))
	assert.False(t, VerifyPassword(hash, "wrong-password"))
	assert.False(t, VerifyPassword("not-a-hash", "s3cret-password"))
}
