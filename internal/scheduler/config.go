package scheduler

import (
	"time"

	"github.com/smallbiznis/reminder/internal/config"
)

// Config controls cron specs, batch sizes and per-job deadlines.
type Config struct {
	Enabled             bool
	AutoSendSchedule    string
	DispatchDueSchedule string
	DispatchBatchSize   int
	AutoSendTimeout     time.Duration
	DispatchDueTimeout  time.Duration
	AutoSendLockTTL     time.Duration
	EnabledJobs         []string
}

func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		AutoSendSchedule:    "0 */30 * * * *",
		DispatchDueSchedule: "0 * * * * *",
		DispatchBatchSize:   50,
		AutoSendTimeout:     5 * time.Minute,
		DispatchDueTimeout:  time.Minute,
		AutoSendLockTTL:     10 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:             cfg.Scheduler.Enabled,
		AutoSendSchedule:    cfg.Scheduler.AutoSendSchedule,
		DispatchDueSchedule: cfg.Scheduler.DispatchDueSchedule,
		DispatchBatchSize:   cfg.Scheduler.DispatchBatchSize,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.AutoSendSchedule == "" {
		c.AutoSendSchedule = defaults.AutoSendSchedule
	}
	if c.DispatchDueSchedule == "" {
		c.DispatchDueSchedule = defaults.DispatchDueSchedule
	}
	if c.DispatchBatchSize <= 0 {
		c.DispatchBatchSize = defaults.DispatchBatchSize
	}
	if c.AutoSendTimeout <= 0 {
		c.AutoSendTimeout = defaults.AutoSendTimeout
	}
	if c.DispatchDueTimeout <= 0 {
		c.DispatchDueTimeout = defaults.DispatchDueTimeout
	}
	// the lock must outlive the job it guards
	if c.AutoSendLockTTL < c.AutoSendTimeout {
		c.AutoSendLockTTL = c.AutoSendTimeout * 2
	}
	return c
}
