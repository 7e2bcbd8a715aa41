package cooldown

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTracker_NeverInvokedIsAllowed(t *testing.T) {
	req := require.New(t)
	tr := New()

	req.Zero(tr.Remaining("ping", 5*time.Second, time.Unix(0, 0)))
	_, ok := tr.LastInvoked("ping")
	req.False(ok)
}

func TestTracker_WindowProgression(t *testing.T) {
	req := require.New(t)
	tr := New()
	t0 := time.UnixMilli(0)
	window := 5 * time.Second

	tr.Mark("ping", t0)

	remaining := tr.Remaining("ping", window, t0.Add(3000*time.Millisecond))
	req.Equal(2*time.Second, remaining)
	req.Equal(2, WaitSeconds(remaining))

	req.Zero(tr.Remaining("ping", window, t0.Add(6000*time.Millisecond)))
}

func TestTracker_ZeroWindow(t *testing.T) {
	tr := New()
	now := time.Now()
	tr.Mark("ping", now)
	require.Zero(t, tr.Remaining("ping", 0, now))
}

func TestTracker_MarkNeverMovesBackwards(t *testing.T) {
	req := require.New(t)
	tr := New()
	later := time.UnixMilli(6000)

	tr.Mark("ping", later)
	tr.Mark("ping", time.UnixMilli(1000))

	at, ok := tr.LastInvoked("ping")
	req.True(ok)
	req.Equal(later, at)
}

func TestWaitSeconds(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int
	}{
		{0, 0},
		{1 * time.Millisecond, 1},
		{999 * time.Millisecond, 1},
		{1000 * time.Millisecond, 1},
		{1001 * time.Millisecond, 2},
		{4500 * time.Millisecond, 5},
	}
	for _, tt := range tests {
		if got := WaitSeconds(tt.in); got != tt.want {
			t.Errorf("WaitSeconds(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
