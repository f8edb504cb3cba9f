package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSystemNowMillisAdvances(t *testing.T) {
	var c System

	first := c.NowMillis()
	time.Sleep(2 * time.Millisecond)
	second := c.NowMillis()

	require.Greater(t, second, first)
}

func TestSystemNowMillisMatchesWallClock(t *testing.T) {
	var c System

	before := uint64(time.Now().UnixMilli())
	got := c.NowMillis()
	after := uint64(time.Now().UnixMilli())

	require.GreaterOrEqual(t, got, before)
	require.LessOrEqual(t, got, after)
}
