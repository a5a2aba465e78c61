package keys

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/finplat/jwt-trust/core"
)

// Scheduler runs Rotate on a cron schedule. A run that is still going when
// the next one is due causes that next run to be skipped, so rotations never
// overlap.
type Scheduler struct {
	rotator   *Rotator
	cron      *cron.Cron
	logger    core.Logger
	onFailure func(error)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler) error

// WithOnFailure registers a callback for failed rotations, e.g. to page
// someone. It runs after the failure has been logged.
func WithOnFailure(f func(error)) SchedulerOption {
	return func(s *Scheduler) error {
		if f == nil {
			return errors.New("failure callback cannot be nil")
		}
		s.onFailure = f
		return nil
	}
}

// WithSchedulerLogger sets the logger for the Scheduler and its cron runner.
func WithSchedulerLogger(logger core.Logger) SchedulerOption {
	return func(s *Scheduler) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		s.logger = logger
		return nil
	}
}

// NewScheduler schedules rotator on spec, a standard five-field cron
// expression, optionally with a leading seconds field, or a descriptor such
// as "@daily".
func NewScheduler(rotator *Rotator, spec string, opts ...SchedulerOption) (*Scheduler, error) {
	if rotator == nil {
		return nil, errors.New("rotator is required but was nil")
	}

	s := &Scheduler{
		rotator:   rotator,
		logger:    core.NopLogger{},
		onFailure: func(error) {},
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}

	cl := cronLogger{s.logger}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	if _, err := s.cron.AddFunc(spec, func() { _ = s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid rotation schedule %q: %w", spec, err)
	}

	return s, nil
}

// RunOnce performs one rotation immediately. A rotation skipped because the
// rotator's lock is held elsewhere returns ErrRotationLocked without counting
// as a failure.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	_, err := s.rotator.Rotate(ctx)
	if err != nil && !errors.Is(err, ErrRotationLocked) {
		s.onFailure(err)
	}
	return err
}

// Start begins running rotations in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("key rotation scheduler started", "entries", len(s.cron.Entries()))
}

// Stop stops scheduling and waits for a running rotation to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts core.Logger to cron.Logger.
type cronLogger struct {
	logger core.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.logger.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
