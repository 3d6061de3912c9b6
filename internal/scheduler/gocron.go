// Package scheduler runs bot pipelines asynchronously using the gocron
// library.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Scheduler implements bot.Scheduler on a gocron scheduler. Jobs receive the
// base context so they outlive the HTTP request that triggered them and stop
// with the process.
type Scheduler struct {
	scheduler gocron.Scheduler
	baseCtx   context.Context
	logger    *zap.Logger
}

// New creates and starts a scheduler. baseCtx is handed to every task and
// should be the process lifetime context.
func New(baseCtx context.Context, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(&zapGocronLogger{logger: logger}),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	s.Start()
	return &Scheduler{scheduler: s, baseCtx: baseCtx, logger: logger}, nil
}

// Enqueue runs the task once, immediately, on a scheduler goroutine.
func (s *Scheduler) Enqueue(name string, task func(context.Context)) error {
	_, err := s.scheduler.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartImmediately()),
		gocron.NewTask(func() { task(s.baseCtx) }),
		gocron.WithName(name),
		gocron.WithTags(name),
	)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", name, err)
	}
	return nil
}

// ScheduleRecurring runs the task on a fixed interval until removed. The
// first run starts immediately.
func (s *Scheduler) ScheduleRecurring(name string, every time.Duration, task func(context.Context)) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() { task(s.baseCtx) }),
		gocron.WithName(name),
		gocron.WithTags(name),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

// Remove drops every job carrying the name tag. Running invocations finish.
func (s *Scheduler) Remove(name string) {
	s.scheduler.RemoveByTags(name)
}

// Stop shuts the scheduler down and waits for running jobs.
func (s *Scheduler) Stop() error {
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	return nil
}

// zapGocronLogger adapts zap to the gocron.Logger interface.
type zapGocronLogger struct {
	logger *zap.Logger
}

func (l *zapGocronLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, anyFields(args)...) }
func (l *zapGocronLogger) Info(msg string, args ...any)  { l.logger.Info(msg, anyFields(args)...) }
func (l *zapGocronLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, anyFields(args)...) }
func (l *zapGocronLogger) Error(msg string, args ...any) { l.logger.Error(msg, anyFields(args)...) }

func anyFields(args []any) []zap.Field {
	fields := make([]zap.Field, 0, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", args[i])
		}
		fields = append(fields, zap.Any(key, args[i+1]))
	}
	return fields
}
