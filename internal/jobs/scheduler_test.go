package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCounters struct {
	mu     sync.Mutex
	counts map[string]int
}

func newMemCounters() *memCounters {
	return &memCounters{counts: make(map[string]int)}
}

func (m *memCounters) IncrementCounter(ctx context.Context, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[name]++
}

func (m *memCounters) GetCounter(ctx context.Context, name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(m.counts[name])
}

func (m *memCounters) get(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}

func TestManualRun(t *testing.T) {
	counters := newMemCounters()
	s := NewScheduler(counters)

	var runs int32
	s.Register(Job{
		Name:     "digest",
		Interval: time.Hour,
		Fn: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	})

	require.NoError(t, s.Run("digest"))

	require.Eventually(t, func() bool {
		info, err := s.Get("digest")
		return err == nil && info.Status == StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
	assert.Equal(t, 1, counters.get("jobs:digest:completed"))

	completed, failed := s.RunCounts(context.Background(), "digest")
	assert.Equal(t, int64(1), completed)
	assert.Equal(t, int64(0), failed)

	info, err := s.Get("digest")
	require.NoError(t, err)
	assert.NotNil(t, info.LastRunAt)
	assert.Empty(t, info.Message)
}

func TestManualRunNotBoundToCallerContext(t *testing.T) {
	s := NewScheduler(nil)

	s.Register(Job{
		Name:     "digest",
		Interval: time.Hour,
		Fn: func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(50 * time.Millisecond):
				return nil
			}
		},
	})

	// The admin handler's request context is recycled the moment the
	// trigger response is written; the job must keep running regardless.
	reqCtx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Run("digest"))
	cancel()
	<-reqCtx.Done()

	require.Eventually(t, func() bool {
		info, err := s.Get("digest")
		return err == nil && info.Status == StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	info, _ := s.Get("digest")
	assert.Empty(t, info.Message)
}

func TestManualRunStopsWithScheduler(t *testing.T) {
	s := NewScheduler(nil)

	var started int32
	s.Register(Job{
		Name:     "digest",
		Interval: time.Hour,
		Fn: func(ctx context.Context) error {
			atomic.AddInt32(&started, 1)
			<-ctx.Done()
			return ctx.Err()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	require.NoError(t, s.Run("digest"))
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&started) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	require.Eventually(t, func() bool {
		info, err := s.Get("digest")
		return err == nil && info.Status == StatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	info, _ := s.Get("digest")
	assert.Equal(t, context.Canceled.Error(), info.Message)
}

func TestRunCountsWithoutCounterStore(t *testing.T) {
	s := NewScheduler(nil)
	completed, failed := s.RunCounts(context.Background(), "digest")
	assert.Zero(t, completed)
	assert.Zero(t, failed)
}

func TestRunUnknownJob(t *testing.T) {
	s := NewScheduler(nil)
	assert.Error(t, s.Run("nope"))

	_, err := s.Get("nope")
	assert.Error(t, err)
}

func TestFailedRunRecordsMessage(t *testing.T) {
	counters := newMemCounters()
	s := NewScheduler(counters)

	s.Register(Job{
		Name:     "digest",
		Interval: time.Hour,
		Fn: func(ctx context.Context) error {
			return errors.New("upstream down")
		},
	})

	require.NoError(t, s.Run("digest"))

	require.Eventually(t, func() bool {
		info, err := s.Get("digest")
		return err == nil && info.Status == StatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	info, _ := s.Get("digest")
	assert.Equal(t, "upstream down", info.Message)
	assert.Equal(t, 1, counters.get("jobs:digest:failed"))
}

func TestSingleFlight(t *testing.T) {
	s := NewScheduler(nil)

	var running int32
	release := make(chan struct{})
	s.Register(Job{
		Name:     "slow",
		Interval: time.Hour,
		Fn: func(ctx context.Context) error {
			atomic.AddInt32(&running, 1)
			<-release
			return nil
		},
	})

	require.NoError(t, s.Run("slow"))
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&running) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// A second trigger while running must be ignored.
	require.NoError(t, s.Run("slow"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&running))

	close(release)
	require.Eventually(t, func() bool {
		info, _ := s.Get("slow")
		return info.Status == StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNextRun(t *testing.T) {
	now := time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC)

	t.Run("interval job", func(t *testing.T) {
		next := nextRun(now, Job{Interval: time.Hour})
		assert.Equal(t, now.Add(time.Hour), next)
	})

	t.Run("fixed hour later today", func(t *testing.T) {
		hour := 23
		next := nextRun(now, Job{AtHour: &hour})
		assert.Equal(t, time.Date(2026, 8, 29, 23, 0, 0, 0, time.UTC), next)
	})

	t.Run("fixed hour already passed rolls to tomorrow", func(t *testing.T) {
		hour := 2
		next := nextRun(now, Job{AtHour: &hour})
		assert.Equal(t, time.Date(2026, 8, 30, 2, 0, 0, 0, time.UTC), next)
	})

	t.Run("list reports registered jobs", func(t *testing.T) {
		s := NewScheduler(nil)
		s.Register(Job{Name: "a", Interval: time.Hour, Fn: func(ctx context.Context) error { return nil }})
		s.Register(Job{Name: "b", Interval: time.Hour, Fn: func(ctx context.Context) error { return nil }})

		infos := s.List()
		require.Len(t, infos, 2)
		for _, info := range infos {
			assert.Equal(t, StatusIdle, info.Status)
		}
	})
}
