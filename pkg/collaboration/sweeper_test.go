package collaboration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestSweeper_Sweep(t *testing.T) {
	c, _ := newSeededCoordinator(t, "doc-1", "abc", "alice")
	sweeper := NewSweeper(c, time.Minute, time.Hour, nil)

	assert.Zero(t, sweeper.Sweep(context.Background()))

	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.Equal(t, 1, sweeper.Sweep(context.Background()))
	assert.Zero(t, c.ActiveSessionsCount())
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	c, _ := newSeededCoordinator(t, "doc-1", "abc", "alice")
	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	sweeper := NewSweeper(c, time.Millisecond, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	require.Eventually(t, func() bool { return c.ActiveSessionsCount() == 0 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
