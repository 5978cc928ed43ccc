package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/parkscope/greencover/internal/config"
)

// ErrRunInProgress rejects a manual trigger while a run is active. Runs are
// mutually exclusive so two triggers never interleave writes for the same
// cache keys.
var ErrRunInProgress = eris.New("a batch run is already in progress")

const (
	stateIdle int32 = iota
	stateRunning
)

// runner abstracts BatchRunner for the scheduler.
type runner interface {
	Run(ctx context.Context, cityFilter string) (*Summary, error)
}

// sweeper abstracts the cache's expired-entry sweep.
type sweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// Scheduler owns the recurring jobs: the weekly full recomputation and the
// daily expiry sweep. Its running/idle state is an explicit atomic guard,
// checked by both cron fires and manual triggers.
type Scheduler struct {
	runner  runner
	sweeper sweeper
	cfg     config.ScheduleConfig
	cron    *cron.Cron

	state    atomic.Int32
	weeklyID cron.EntryID

	mu   sync.Mutex
	last *Summary
}

func New(r runner, s sweeper, cfg config.ScheduleConfig) *Scheduler {
	return &Scheduler{
		runner:  r,
		sweeper: s,
		cfg:     cfg,
		cron:    cron.New(),
	}
}

// Start registers the cron entries and starts the clock.
func (s *Scheduler) Start() error {
	weeklySpec := fmt.Sprintf("%d %d * * %d", s.cfg.WeeklyMin, s.cfg.WeeklyHour, s.cfg.WeeklyDay)
	id, err := s.cron.AddFunc(weeklySpec, s.runScheduled)
	if err != nil {
		return eris.Wrapf(err, "scheduler: weekly spec %q", weeklySpec)
	}
	s.weeklyID = id

	sweepSpec := fmt.Sprintf("%d %d * * *", s.cfg.SweepMinute, s.cfg.SweepHour)
	if _, err := s.cron.AddFunc(sweepSpec, s.runSweep); err != nil {
		return eris.Wrapf(err, "scheduler: sweep spec %q", sweepSpec)
	}

	s.cron.Start()
	zap.L().Info("scheduler: started",
		zap.String("weekly", weeklySpec),
		zap.String("sweep", sweepSpec))
	return nil
}

// Stop halts the cron clock and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Trigger starts a manual run, optionally scoped to one city. It returns
// ErrRunInProgress when another run is active.
func (s *Scheduler) Trigger(ctx context.Context, cityFilter string) (*Summary, error) {
	if !s.state.CompareAndSwap(stateIdle, stateRunning) {
		return nil, ErrRunInProgress
	}
	defer s.state.Store(stateIdle)

	summary, err := s.runner.Run(ctx, cityFilter)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.last = summary
	s.mu.Unlock()
	return summary, nil
}

func (s *Scheduler) runScheduled() {
	if _, err := s.Trigger(context.Background(), ""); err != nil {
		if eris.Is(err, ErrRunInProgress) {
			zap.L().Warn("scheduler: weekly fire skipped, run already active")
			return
		}
		zap.L().Error("scheduler: weekly run failed", zap.Error(err))
	}
}

func (s *Scheduler) runSweep() {
	n, err := s.sweeper.SweepExpired(context.Background())
	if err != nil {
		zap.L().Warn("scheduler: daily sweep failed", zap.Error(err))
		return
	}
	zap.L().Info("scheduler: daily sweep done", zap.Int64("removed", n))
}

// Status reports the scheduler's current state.
type Status struct {
	State       string                `json:"state"`
	NextRun     *time.Time            `json:"next_run,omitempty"`
	LastSummary *Summary              `json:"last_summary,omitempty"`
	Config      config.ScheduleConfig `json:"config"`
}

func (s *Scheduler) Status() Status {
	st := Status{State: "idle", Config: s.cfg}
	if s.state.Load() == stateRunning {
		st.State = "running"
	}
	if entry := s.cron.Entry(s.weeklyID); entry.Valid() {
		next := entry.Next
		st.NextRun = &next
	}
	s.mu.Lock()
	st.LastSummary = s.last
	s.mu.Unlock()
	return st
}
