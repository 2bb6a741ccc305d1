package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterRejectsAtCap(t *testing.T) {
	l := NewLimiter(2)

	require.NoError(t, l.AcquireSlot())
	require.NoError(t, l.AcquireSlot())
	assert.Equal(t, 2, l.Active())

	// Rejection must not consume a slot.
	err := l.AcquireSlot()
	assert.ErrorIs(t, err, ErrTooManyRequests)
	assert.Equal(t, 2, l.Active())

	l.ReleaseSlot()
	assert.NoError(t, l.AcquireSlot())
}

func TestLimiterReleaseFloorsAtZero(t *testing.T) {
	l := NewLimiter(1)

	l.ReleaseSlot()
	l.ReleaseSlot()
	assert.Equal(t, 0, l.Active())

	// The spurious releases must not have widened the cap.
	require.NoError(t, l.AcquireSlot())
	assert.ErrorIs(t, l.AcquireSlot(), ErrTooManyRequests)
}

func TestLimiterMinimumCapIsOne(t *testing.T) {
	l := NewLimiter(0)
	require.NoError(t, l.AcquireSlot())
	assert.ErrorIs(t, l.AcquireSlot(), ErrTooManyRequests)
}
