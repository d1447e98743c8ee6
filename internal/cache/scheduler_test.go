package cache

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_Periodic(t *testing.T) {
	var sweeps atomic.Int32
	s := NewScheduler(5*time.Millisecond, func() { sweeps.Add(1) })

	s.Start()
	s.Start() // no second ticker
	require.True(t, s.Running())

	require.Eventually(t, func() bool { return sweeps.Load() >= 2 }, time.Second, time.Millisecond)

	s.Stop()
	assert.False(t, s.Running())

	after := sweeps.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, sweeps.Load(), "no sweeps after stop")

	s.Stop()
}

func TestScheduler_DisabledInterval(t *testing.T) {
	s := NewScheduler(0, func() {})
	s.Start()
	assert.False(t, s.Running())
	s.Stop()
}

func TestScheduler_RunIsNotReentrant(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var sweeps atomic.Int32

	s := NewScheduler(0, func() {
		if sweeps.Add(1) == 1 {
			close(started)
			<-release
		}
	})

	done := make(chan bool)
	go func() { done <- s.Run() }()

	<-started
	assert.False(t, s.Run(), "overlapping sweep should be skipped")

	close(release)
	assert.True(t, <-done)
	assert.Equal(t, int32(1), sweeps.Load())

	assert.True(t, s.Run())
	assert.Equal(t, int32(2), sweeps.Load())
}

func TestScheduler_TriggerRateLimited(t *testing.T) {
	var sweeps atomic.Int32
	s := NewScheduler(0, func() { sweeps.Add(1) })

	assert.True(t, s.Trigger())
	assert.False(t, s.Trigger())
	assert.Equal(t, int32(1), sweeps.Load())
}
