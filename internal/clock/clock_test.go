package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSystemClockAdvances(t *testing.T) {
	c := NewSystem()
	t1 := c.Now()
	time.Sleep(time.Millisecond)
	t2 := c.Now()
	require.True(t, t2.After(t1) || t2.Equal(t1))
}

func TestReplayClockHoldsUntilSet(t *testing.T) {
	start := time.Unix(1000, 0)
	c := NewReplay(start)
	require.True(t, c.Now().Equal(start))

	next := start.Add(5 * time.Second)
	c.Set(next)
	require.True(t, c.Now().Equal(next))
	// Now stays put until explicitly advanced again.
	require.True(t, c.Now().Equal(next))
}
