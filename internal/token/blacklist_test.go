package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBlacklistAddContains(t *testing.T) {
	t.Parallel()

	b := newBlacklist(time.Hour)
	defer b.close()

	now := time.Now()

	assert.False(t, b.contains("hash-1", now))

	b.add("hash-1", now.Add(time.Minute))
	assert.True(t, b.contains("hash-1", now))
	assert.False(t, b.contains("hash-2", now))
}

func TestBlacklistExpiredEntryNotContained(t *testing.T) {
	t.Parallel()

	b := newBlacklist(time.Hour)
	defer b.close()

	now := time.Now()
	b.add("hash-1", now.Add(time.Minute))

	assert.True(t, b.contains("hash-1", now))
	assert.False(t, b.contains("hash-1", now.Add(2*time.Minute)))
}

func TestBlacklistClear(t *testing.T) {
	t.Parallel()

	b := newBlacklist(time.Hour)
	defer b.close()

	now := time.Now()
	b.add("hash-1", now.Add(time.Minute))
	b.add("hash-2", now.Add(time.Minute))
	assert.Equal(t, 2, b.size())

	b.clear()
	assert.Equal(t, 0, b.size())
	assert.False(t, b.contains("hash-1", now))
}

func TestBlacklistRemoveExpired(t *testing.T) {
	t.Parallel()

	b := newBlacklist(time.Hour)
	defer b.close()

	now := time.Now()
	b.add("live", now.Add(time.Hour))
	b.add("dead", now.Add(-time.Minute))

	b.removeExpired(now)

	assert.Equal(t, 1, b.size())
	assert.True(t, b.contains("live", now))
}

func TestBlacklistCleanupLoop(t *testing.T) {
	t.Parallel()

	b := newBlacklist(10 * time.Millisecond)
	defer b.close()

	b.add("dead", time.Now().Add(-time.Minute))

	assert.Eventually(t, func() bool {
		return b.size() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestBlacklistCloseIdempotent(t *testing.T) {
	t.Parallel()

	b := newBlacklist(time.Hour)
	b.close()
	b.close()
}
