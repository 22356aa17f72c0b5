package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"terminal-gateway/internal/command"
	"terminal-gateway/internal/status"
	"terminal-gateway/internal/usersync"
)

// Intervals configures the periodic work loops
type Intervals struct {
	CommandSweep time.Duration
	StatusPoll   time.Duration
	UserSync     time.Duration
	Expiry       time.Duration
}

// Scheduler runs the gateway's periodic loops: dispatching queued commands,
// polling device status, walking user directories, and expiring commands
// whose reply never came.
type Scheduler struct {
	commands  *command.Service
	status    *status.Service
	sync      *usersync.Service
	intervals Intervals
	logger    *logrus.Entry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler
func New(commands *command.Service, statusSvc *status.Service, syncSvc *usersync.Service,
	intervals Intervals, logger *logrus.Entry) *Scheduler {
	return &Scheduler{
		commands:  commands,
		status:    statusSvc,
		sync:      syncSvc,
		intervals: intervals,
		logger:    logger,
	}
}

// Start launches the periodic loops
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.loop(ctx, "command dispatch", s.intervals.CommandSweep, s.commands.DispatchPending)
	s.loop(ctx, "status poll", s.intervals.StatusPoll, s.status.SweepAll)
	s.loop(ctx, "user sync", s.intervals.UserSync, s.sync.SweepAll)
	s.loop(ctx, "command expiry", s.intervals.Expiry, s.commands.ExpireStale)

	s.logger.Info("Scheduler started")
}

// Stop cancels the loops and waits for them to exit
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, run func()) {
	if interval <= 0 {
		s.logger.WithField("loop", name).Warn("Loop disabled, non-positive interval")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}
