package cron

import (
	"context"
	"log/slog"
	"time"
)

// Purger removes read notifications older than a retention window.
type Purger interface {
	PurgeRead(ctx context.Context, retention time.Duration) (int64, error)
}

// RetentionJobs contains notification housekeeping jobs
type RetentionJobs struct {
	purger    Purger
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

// NewRetentionJobs creates the retention jobs. A non-positive retention
// disables purging.
func NewRetentionJobs(purger Purger, retention, interval time.Duration, logger *slog.Logger) *RetentionJobs {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &RetentionJobs{
		purger:    purger,
		retention: retention,
		interval:  interval,
		logger:    logger,
	}
}

// RegisterJobs registers the purge job on the scheduler
func (j *RetentionJobs) RegisterJobs(scheduler *Scheduler) {
	if j.retention <= 0 {
		j.logger.Info("Notification retention disabled")
		return
	}
	scheduler.AddJob("purge_read_notifications", j.interval, j.PurgeReadNotifications)
}

// PurgeReadNotifications deletes read notifications past the retention window
func (j *RetentionJobs) PurgeReadNotifications(ctx context.Context) error {
	n, err := j.purger.PurgeRead(ctx, j.retention)
	if err != nil {
		return err
	}
	if n > 0 {
		j.logger.Info("Purged read notifications", "count", n, "retention", j.retention)
	}
	return nil
}
