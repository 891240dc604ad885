package consolidate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs consolidation hourly.
const DefaultSchedule = "@every 1h"

// Runner is the work a Scheduler triggers.
type Runner interface {
	Run(ctx context.Context) (*Summary, error)
}

// Scheduler runs consolidation on a cron schedule. A tick that fires while
// the previous run is still going is skipped.
type Scheduler struct {
	mu       sync.Mutex
	runner   Runner
	schedule string
	logger   *slog.Logger
	running  sync.Mutex
	cron     *cron.Cron
	cancel   context.CancelFunc
}

// NewScheduler creates a Scheduler. An empty schedule uses DefaultSchedule.
func NewScheduler(runner Runner, schedule string, logger *slog.Logger) *Scheduler {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:   runner,
		schedule: schedule,
		logger:   logger.With("component", "consolidate.scheduler"),
	}
}

// ParseSchedule validates a schedule: five standard fields or a descriptor
// such as @hourly or @every 30m.
func ParseSchedule(spec string) (cron.Schedule, error) {
	return parser().Parse(spec)
}

func parser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// Start begins running on schedule. It returns an error for an invalid
// schedule or when already started.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("consolidate: scheduler already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := cron.New(cron.WithParser(parser()))

	if _, err := c.AddFunc(s.schedule, func() { s.tick(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("consolidate: invalid schedule %q: %w", s.schedule, err)
	}

	s.cron = c
	s.cancel = cancel
	c.Start()
	s.logger.Info("consolidation scheduler started", "schedule", s.schedule)
	return nil
}

// Tick runs consolidation once unless a run is already in progress, in which
// case it reports false.
func (s *Scheduler) Tick(ctx context.Context) bool {
	return s.tick(ctx)
}

func (s *Scheduler) tick(ctx context.Context) bool {
	if !s.running.TryLock() {
		s.logger.Warn("consolidation still running, skipping tick")
		return false
	}
	defer s.running.Unlock()

	summary, err := s.runner.Run(ctx)
	if err != nil {
		s.logger.Error("consolidation failed", "error", err)
		return true
	}
	s.logger.Info("consolidation finished",
		"considered", summary.Considered,
		"tags", len(summary.Tags),
	)
	return true
}

// Stop cancels in-flight runs and waits for them to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return nil
	}
	s.cancel()

	done := s.cron.Stop().Done()
	s.cron = nil
	select {
	case <-done:
		s.logger.Info("consolidation scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
