package app

import (
	"context"
	"time"

	pkgcron "github.com/mx-space/insight/internal/pkg/cron"
	"go.uber.org/zap"
)

const (
	peakKeyPrefix = "insight:realtime:peak:"
	peakTTL       = 8 * 24 * time.Hour
)

// registerCronJobs registers the maintenance jobs of the analytics tables.
func (a *App) registerCronJobs() {
	logger := a.logger.Named("CronService")

	a.sched.Register(pkgcron.Job{
		Name:        "expire_idle_sessions",
		Description: "Close sessions idle beyond the session timeout",
		Interval:    10 * time.Minute,
		Fn: func(ctx context.Context) error {
			n, err := a.store.Sessions.CloseIdle(ctx)
			if err != nil {
				return err
			}
			if n > 0 {
				logger.Info("idle sessions closed", zap.Int("count", n))
			}
			return nil
		},
	})

	a.sched.Register(pkgcron.Job{
		Name:        "cleanup_analytics",
		Description: "Delete page views and events past the retention window",
		Interval:    24 * time.Hour,
		Fn: func(ctx context.Context) error {
			days := a.cfg.Analytics.RetentionDays
			if days <= 0 {
				return nil
			}
			cutoff := time.Now().UTC().AddDate(0, 0, -days)
			pv, ev, err := a.store.Purge(ctx, cutoff)
			if err != nil {
				return err
			}
			logger.Info("analytics purged", zap.Time("cutoff", cutoff), zap.Int64("page_views", pv), zap.Int64("events", ev))
			return nil
		},
	})

	a.sched.Register(pkgcron.Job{
		Name:        "archive_analytics",
		Description: "Upload yesterday's page views to object storage",
		Interval:    24 * time.Hour,
		Fn: func(ctx context.Context) error {
			if a.archiver == nil {
				return nil
			}
			_, _, err := a.archiver.ArchiveDay(ctx, time.Now().UTC().AddDate(0, 0, -1))
			return err
		},
	})

	a.sched.Register(pkgcron.Job{
		Name:        "realtime_peak",
		Description: "Record the daily peak of active visitors",
		Interval:    time.Minute,
		Fn: func(ctx context.Context) error {
			if a.rc == nil {
				return nil
			}
			stats, err := a.reports.Realtime(ctx)
			if err != nil {
				return err
			}
			key := peakKeyPrefix + stats.Timestamp.Format("2006-01-02")
			_, err = a.rc.MaxInt(ctx, key, stats.ActiveVisitors, peakTTL)
			return err
		},
	})
}
