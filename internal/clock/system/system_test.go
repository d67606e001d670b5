package system

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWallClockIsUTC(t *testing.T) {
	t.Parallel()

	lower := time.Now().Add(-time.Second)
	got := New().Now()
	upper := time.Now().Add(time.Second)

	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.After(lower) && got.Before(upper), "now %v outside [%v, %v]", got, lower, upper)
}

func TestManualHoldsUntilAdvanced(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clk := NewManual(start)
	require.Equal(t, start, clk.Now())
	require.Equal(t, start, clk.Now())

	clk.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), clk.Now())
}

func TestManualConcurrentAdvance(t *testing.T) {
	t.Parallel()

	clk := NewManual(time.Unix(0, 0).UTC())
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clk.Advance(time.Millisecond)
			_ = clk.Now()
		}()
	}
	wg.Wait()
	assert.Equal(t, time.Unix(0, 0).UTC().Add(50*time.Millisecond), clk.Now())
}
