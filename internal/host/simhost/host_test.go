package simhost

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schedprobe/schedprobe/internal/workload"
)

func TestStart_RootIsNotAnAttempt(t *testing.T) {
	mock := clock.NewMock()
	h := New(workload.New(), Config{Clock: mock, Tick: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	pid, err := h.Start(ctx, workload.Spec{Role: workload.RoleYielder})
	require.NoError(t, err)
	assert.Equal(t, 1, pid)

	require.Eventually(t, func() bool {
		info, ok := h.Snapshot().Process(pid)
		return ok && info.Sleeps == 1
	}, time.Second, time.Millisecond)

	cancel()
	h.Wait()

	snap := h.Snapshot()
	assert.Zero(t, snap.Attempts)
	assert.Equal(t, 1, snap.Count(workload.RoleYielder))

	info, ok := snap.Process(pid)
	require.True(t, ok)
	assert.True(t, info.Exited)
	assert.ErrorIs(t, info.Err, context.Canceled)
	assert.Equal(t, 1, info.Progress)
	assert.Equal(t, []Line{
		{PID: 1, Text: "\tI am the yielder: 1"},
		{PID: 1, Text: workload.YieldProgress},
	}, snap.Lines)
}

func TestStart_InvalidSpec(t *testing.T) {
	h := New(workload.New(), Config{})

	_, err := h.Start(context.Background(), workload.Spec{Role: "sleeper"})
	assert.Error(t, err)
	assert.Empty(t, h.Snapshot().Processes)
}

func TestSpawn_FailureHookAndCapacity(t *testing.T) {
	boom := errors.New("boom")
	h := New(workload.New(), Config{
		Clock:    clock.NewMock(),
		Capacity: 2,
		FailSpawn: func(attempt int) error {
			if attempt == 1 {
				return boom
			}
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		h.Wait()
	}()

	root, err := h.Start(ctx, workload.Spec{Role: workload.RoleYielder})
	require.NoError(t, err)

	_, err = h.spawn(ctx, root, workload.Spec{Role: workload.RoleYielder})
	assert.ErrorIs(t, err, boom)

	child, err := h.spawn(ctx, root, workload.Spec{Role: workload.RoleYielder})
	require.NoError(t, err)
	assert.Equal(t, 2, child)

	_, err = h.spawn(ctx, root, workload.Spec{Role: workload.RoleYielder})
	assert.ErrorIs(t, err, workload.ErrResourceExhausted)

	snap := h.Snapshot()
	assert.Equal(t, 3, snap.Attempts)
	assert.Equal(t, 2, snap.Failures)

	info, ok := snap.Process(child)
	require.True(t, ok)
	assert.Equal(t, root, info.Parent)
}
