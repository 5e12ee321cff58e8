package egg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldSpawn(t *testing.T) {
	var e Egg
	assert.True(t, e.ShouldSpawn(), "no state at all should spawn")

	e.SetStatus(StatusPending)
	assert.True(t, e.ShouldSpawn())

	e.SetStatus(StatusErrored)
	assert.True(t, e.ShouldSpawn())

	e.SetStatus(StatusRunning)
	assert.False(t, e.ShouldSpawn())

	e.SetStatus(StatusStopped)
	assert.False(t, e.ShouldSpawn())
}

func TestSetAsRunning(t *testing.T) {
	var e Egg
	e.SetAsRunning(1234)

	require.NotNil(t, e.State)
	assert.Equal(t, StatusRunning, e.State.Status)
	assert.Equal(t, 1234, e.State.Pid)
	assert.Equal(t, 0, e.State.TryCount)
	assert.Empty(t, e.State.Error)
	require.NotNil(t, e.State.StartTime)
}

func TestSetAsErroredIncrementsTryCount(t *testing.T) {
	var e Egg
	e.SetAsErrored("boom")
	assert.Equal(t, 1, e.State.TryCount)
	assert.Equal(t, "boom", e.State.Error)
	assert.Equal(t, 0, e.State.Pid)

	e.SetAsErrored("boom again")
	assert.Equal(t, 2, e.State.TryCount)
}

func TestSetAsStoppedDoesNotDowngradePendingRemoval(t *testing.T) {
	var e Egg
	e.SetStatus(StatusPendingRemoval)
	e.SetAsStopped()

	assert.Equal(t, StatusPendingRemoval, e.State.Status)
	assert.Equal(t, 0, e.State.Pid)
}

func TestHasBeenRunningFor(t *testing.T) {
	var e Egg
	assert.False(t, e.HasBeenRunningFor(5*time.Second), "absent start_time is false")

	past := time.Now().Add(-10 * time.Second)
	e.SetStartTime(&past)
	assert.True(t, e.HasBeenRunningFor(5*time.Second))
	assert.False(t, e.HasBeenRunningFor(time.Hour))
}

func TestResetToPendingClearsEverything(t *testing.T) {
	var e Egg
	e.SetAsErrored("whoops")
	e.ResetToPending()

	assert.Equal(t, StatusPending, e.State.Status)
	assert.Equal(t, 0, e.State.Pid)
	assert.Equal(t, 0, e.State.TryCount)
	assert.Empty(t, e.State.Error)
	assert.Nil(t, e.State.StartTime)
}
