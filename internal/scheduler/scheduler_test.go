package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkscope/greencover/internal/config"
)

type stubRunner struct {
	mu      sync.Mutex
	calls   int
	block   chan struct{}
	summary *Summary
}

func (r *stubRunner) Run(ctx context.Context, cityFilter string) (*Summary, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.block != nil {
		<-r.block
	}
	if r.summary != nil {
		return r.summary, nil
	}
	return &Summary{State: RunCompleted}, nil
}

type stubSweeper struct {
	mu    sync.Mutex
	calls int
}

func (s *stubSweeper) SweepExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return 5, nil
}

func testScheduleConfig() config.ScheduleConfig {
	return config.ScheduleConfig{WeeklyDay: 0, WeeklyHour: 2, SweepHour: 3}
}

func TestTriggerRejectsConcurrentRun(t *testing.T) {
	r := &stubRunner{block: make(chan struct{})}
	s := New(r, &stubSweeper{}, testScheduleConfig())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := s.Trigger(context.Background(), "")
		assert.NoError(t, err)
	}()

	// Wait until the first run holds the state.
	require.Eventually(t, func() bool {
		return s.Status().State == "running"
	}, time.Second, time.Millisecond)

	_, err := s.Trigger(context.Background(), "oslo")
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(r.block)
	<-done

	assert.Equal(t, "idle", s.Status().State)
	assert.Equal(t, 1, r.calls)

	// Idle again: the next trigger is accepted.
	_, err = s.Trigger(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 2, r.calls)
}

func TestStatusCarriesLastSummary(t *testing.T) {
	want := &Summary{State: RunCompleted, Total: 3, Succeeded: 2, Failed: 1}
	s := New(&stubRunner{summary: want}, &stubSweeper{}, testScheduleConfig())

	_, err := s.Trigger(context.Background(), "")
	require.NoError(t, err)

	st := s.Status()
	assert.Equal(t, "idle", st.State)
	assert.Equal(t, want, st.LastSummary)
}

func TestStartRegistersCronEntries(t *testing.T) {
	s := New(&stubRunner{}, &stubSweeper{}, testScheduleConfig())

	require.NoError(t, s.Start())
	defer s.Stop()

	st := s.Status()
	require.NotNil(t, st.NextRun, "weekly entry must be scheduled")
	assert.True(t, st.NextRun.After(time.Now()))
	// Sunday 02:00 by default.
	assert.Equal(t, time.Weekday(0), st.NextRun.Weekday())
	assert.Equal(t, 2, st.NextRun.Hour())
}

func TestRunSweepDelegates(t *testing.T) {
	sw := &stubSweeper{}
	s := New(&stubRunner{}, sw, testScheduleConfig())

	s.runSweep()
	assert.Equal(t, 1, sw.calls)
}
