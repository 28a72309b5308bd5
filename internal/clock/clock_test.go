package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClock_Monotonic(t *testing.T) {
	c := New()

	a := c.NowNs()
	time.Sleep(time.Millisecond)
	b := c.NowNs()

	assert.Greater(t, b, a)
}

func TestClock_WallOffsetRoundTrip(t *testing.T) {
	c := New()

	offset, err := c.WallOffsetNs()
	require.NoError(t, err)

	wall := WallTime(c.NowNs(), offset)
	assert.WithinDuration(t, time.Now(), wall, time.Second)
}

func TestWallTime_ClampsNegative(t *testing.T) {
	wall := WallTime(100, -1_000_000)
	assert.Equal(t, time.Unix(0, 0), wall)
}
