package insurance

import (
	"context"
	"errors"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sweeper runs Tracker.Sweep on a cron schedule.
type Sweeper struct {
	tracker  *Tracker
	schedule string
	notify   bool
	cron     *cron.Cron
	logger   zerolog.Logger
	mu       sync.Mutex
	running  bool
}

// NewSweeper creates a sweeper. schedule is a standard cron expression or
// descriptor such as "@hourly".
func NewSweeper(tracker *Tracker, schedule string, notify bool, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		tracker:  tracker,
		schedule: schedule,
		notify:   notify,
		cron:     cron.New(),
		logger:   logger.With().Str("component", "insurance_sweeper").Logger(),
	}
}

// Start registers the sweep and starts the scheduler.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("insurance sweeper already running")
	}
	if _, err := s.cron.AddFunc(s.schedule, s.run); err != nil {
		return err
	}
	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", s.schedule).
		Bool("auto_notify", s.notify).
		Msg("insurance sweeper started")
	return nil
}

// Stop stops the scheduler. The returned context is done once a running
// sweep has finished.
func (s *Sweeper) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	s.running = false
	s.logger.Info().Msg("stopping insurance sweeper")
	return s.cron.Stop()
}

func (s *Sweeper) run() {
	res, err := s.tracker.Sweep(context.Background(), s.notify)
	if err != nil {
		s.logger.Error().Err(err).Msg("insurance sweep failed")
		return
	}
	s.logger.Info().
		Int("active", res.Active).
		Int("expired", res.Expired).
		Int("overdue", res.Overdue).
		Int("notified", res.Notified).
		Msg("insurance sweep completed")
}

// RunNow triggers an immediate sweep.
func (s *Sweeper) RunNow() {
	s.run()
}
