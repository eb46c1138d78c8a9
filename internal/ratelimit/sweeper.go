package ratelimit

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper periodically prunes a Store on a cron schedule.
type Sweeper struct {
	cron    *cron.Cron
	entryID cron.EntryID
	monitor *Monitor
	logger  *zap.Logger
}

// NewSweeper schedules m.Prune. schedule accepts standard cron syntax and
// descriptors such as "@every 10m".
func NewSweeper(m *Monitor, schedule string, logger *zap.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sweeper{cron: cron.New(), monitor: m, logger: logger}

	id, err := s.cron.AddFunc(schedule, s.sweep)
	if err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	s.entryID = id
	return s, nil
}

func (s *Sweeper) sweep() {
	evicted := s.monitor.Prune(s.monitor.now())
	if evicted > 0 {
		s.logger.Debug("Evicted idle callers", zap.Int("count", evicted))
	}
}

// Start starts the scheduler in its own goroutine.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
