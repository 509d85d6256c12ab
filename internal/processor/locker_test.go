package processor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRunLockerInspect(t *testing.T) {
	locks := NewLocalRunLocker()
	ctx := context.Background()

	info, err := locks.Inspect(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, info.Processing)

	release, err := locks.Acquire(ctx, "s1")
	require.NoError(t, err)
	info, _ = locks.Inspect(ctx, "s1")
	assert.True(t, info.Processing)

	other, _ := locks.Inspect(ctx, "s2")
	assert.False(t, other.Processing)

	require.NoError(t, release(ctx))
	info, _ = locks.Inspect(ctx, "s1")
	assert.False(t, info.Processing)
}

func TestUUIDGeneratorUnique(t *testing.T) {
	a, err := UUIDGenerator{}.NewID()
	require.NoError(t, err)
	b, err := UUIDGenerator{}.NewID()
	require.NoError(t, err)
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}
