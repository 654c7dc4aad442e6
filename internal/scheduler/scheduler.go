package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/reminder/internal/clock"
	consolidationdomain "github.com/smallbiznis/reminder/internal/consolidation/domain"
	obsmetrics "github.com/smallbiznis/reminder/internal/observability/metrics"
	"github.com/smallbiznis/reminder/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobAutoSend    = "auto_send"
	JobDispatchDue = "dispatch_due"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Consolidation consolidationdomain.Service
	Directory     consolidationdomain.CustomerDirectory
	Locker        *ratelimit.Locker           `optional:"true"`
	Metrics       *obsmetrics.SchedulerMetrics `optional:"true"`
	Config        Config                       `optional:"true"`
}

type Scheduler struct {
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	svc       consolidationdomain.Service
	directory consolidationdomain.CustomerDirectory
	locker    *ratelimit.Locker
	metrics   *obsmetrics.SchedulerMetrics
	cron      *cron.Cron
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Consolidation == nil || p.Directory == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	log := p.Log.Named("scheduler").With(zap.String("component", "scheduler"))
	return &Scheduler{
		log:       log,
		cfg:       cfg,
		genID:     p.GenID,
		clock:     p.Clock,
		svc:       p.Consolidation,
		directory: p.Directory,
		locker:    p.Locker,
		metrics:   p.Metrics,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(
				cron.Recover(cronLogger{log: log}),
				cron.SkipIfStillRunning(cronLogger{log: log}),
			),
		),
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	s.metrics.IncJobError(name, err)
	// a deadline ends the run early; the next tick picks up the rest
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		log.Warn("scheduler.job.timeout",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every enabled job back to back.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	if s.isJobEnabled(JobDispatchDue) {
		err = errors.Join(err, s.runDispatchDue(parent))
	}
	if s.isJobEnabled(JobAutoSend) {
		err = errors.Join(err, s.runAutoSend(parent))
	}
	return err
}

func (s *Scheduler) runAutoSend(ctx context.Context) error {
	return s.runJob(ctx, JobAutoSend, 0, s.cfg.AutoSendTimeout, s.AutoSendJob)
}

func (s *Scheduler) runDispatchDue(ctx context.Context) error {
	return s.runJob(ctx, JobDispatchDue, s.cfg.DispatchBatchSize, s.cfg.DispatchDueTimeout, s.DispatchDueJob)
}

// Start registers the enabled jobs on their cron specs. Jobs run with ctx
// as parent so cancelling it stops in-flight work.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{JobDispatchDue, s.cfg.DispatchDueSchedule, s.runDispatchDue},
		{JobAutoSend, s.cfg.AutoSendSchedule, s.runAutoSend},
	}
	for _, job := range jobs {
		if !s.isJobEnabled(job.name) {
			continue
		}
		run := job.run
		name := job.name
		if _, err := s.cron.AddFunc(job.spec, func() {
			if err := run(ctx); err != nil {
				s.log.Warn("scheduler.run.failed", zap.String("job", name), zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("%w: %s schedule %q: %v", ErrInvalidConfig, name, job.spec, err)
		}
		s.log.Info("scheduler.job.registered", zap.String("job", name), zap.String("schedule", job.spec))
	}
	s.cron.Start()
	return nil
}

// Stop prevents new runs and waits for running jobs until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// AutoSendJob runs the automatic consolidated send for every opted-in
// company. A per-company lock keeps concurrent instances from racing.
func (s *Scheduler) AutoSendJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobAutoSend, 0)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	companies, err := s.directory.ListAutoSendCompanies(ctx)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.auto_send.list_failed", JobAutoSend, 0, err)
		return err
	}

	var jobErr error
	for _, company := range companies {
		if err := ctx.Err(); err != nil {
			return errors.Join(jobErr, err)
		}
		companyID := company.ID
		companyCtx := withCompany(ctx, companyID)
		err := s.locker.WithLock(companyCtx, ratelimit.AutoSendLockKey(companyID), s.cfg.AutoSendLockTTL, func(ctx context.Context) error {
			resp, err := s.svc.AutoSend(ctx, companyID)
			if err != nil {
				return err
			}
			run.AddProcessed(resp.Succeeded)
			s.metrics.AddBatchProcessed(JobAutoSend, "reminders", resp.Succeeded)
			if len(resp.Results) > 0 {
				s.logger(ctx).Info("scheduler.auto_send.company",
					zap.Int("succeeded", resp.Succeeded),
					zap.Int("failed", resp.Failed),
					zap.String("summary", resp.Summary),
				)
			}
			return nil
		})
		switch {
		case err == nil:
		case errors.Is(err, ratelimit.ErrLockHeld):
			s.logger(companyCtx).Debug("scheduler.auto_send.skipped", zap.String("reason", "lock_held"))
		case errors.Is(err, consolidationdomain.ErrNotEligible):
			// opted out between listing and sending
		default:
			jobErr = errors.Join(jobErr, err)
			s.logSchedulerError(ctx, run, "scheduler.auto_send.failed", JobAutoSend, companyID, err)
		}
	}
	return jobErr
}

// DispatchDueJob hands deferred reminders to the dispatcher in batches until
// nothing due remains.
func (s *Scheduler) DispatchDueJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobDispatchDue, s.cfg.DispatchBatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		dispatched, err := s.svc.DispatchDue(ctx, s.cfg.DispatchBatchSize)
		run.AddProcessed(dispatched)
		s.metrics.AddBatchProcessed(JobDispatchDue, "reminders", dispatched)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.dispatch_due.failed", JobDispatchDue, 0, err)
			return err
		}
		if dispatched < s.cfg.DispatchBatchSize {
			return nil
		}
	}
}

type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw("scheduler.cron."+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw("scheduler.cron."+msg, append(keysAndValues, "error", err)...)
}
