package report

import (
	"context"
	"fmt"
	"time"

	"github.com/mx-space/insight/internal/models"
	"github.com/mx-space/insight/internal/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

const (
	activeWindow      = 5 * time.Minute
	currentViewWindow = 60 * time.Second
	recentEventLimit  = 20
)

// PathCount is the number of views of one path.
type PathCount struct {
	Path  string `json:"path"  gorm:"column:path"`
	Views int64  `json:"views" gorm:"column:views"`
}

// RealtimeStats is the live snapshot pushed to observers.
type RealtimeStats struct {
	ActiveVisitors   int64                   `json:"active_visitors"`
	CurrentPageViews []PathCount             `json:"current_page_views"`
	RecentEvents     []models.AnalyticsEvent `json:"recent_events"`
	Timestamp        time.Time               `json:"timestamp"`
}

// Realtime counts sessions active in the last five minutes, page views of the
// last minute by path, and the latest events.
func (s *Service) Realtime(ctx context.Context) (*RealtimeStats, error) {
	defer metrics.ObserveReport("realtime", time.Now())

	now := s.now()
	out := &RealtimeStats{Timestamp: now}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return wrap("count active sessions", s.db.WithContext(gctx).Model(&models.Session{}).
			Where("is_active = ? AND updated_at >= ?", true, now.Add(-activeWindow)).
			Count(&out.ActiveVisitors).Error)
	})
	g.Go(func() error {
		var rows []PathCount
		err := s.db.WithContext(gctx).Model(&models.PageView{}).
			Select("path, COUNT(*) AS views").
			Where("timestamp >= ?", now.Add(-currentViewWindow)).
			Group("path").
			Order("views DESC, path ASC").
			Limit(topLimit).
			Scan(&rows).Error
		out.CurrentPageViews = nonNil(rows)
		return wrap("current page views", err)
	})
	g.Go(func() error {
		var rows []models.AnalyticsEvent
		err := s.db.WithContext(gctx).
			Where("timestamp >= ?", now.Add(-activeWindow)).
			Order("timestamp DESC").
			Limit(recentEventLimit).
			Find(&rows).Error
		out.RecentEvents = nonNil(rows)
		return wrap("recent events", err)
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("realtime: %w", err)
	}
	return out, nil
}

// ActiveSessions lists sessions active in the last five minutes, most recent first.
func (s *Service) ActiveSessions(ctx context.Context, limit int) ([]models.Session, error) {
	defer metrics.ObserveReport("active_sessions", time.Now())

	var rows []models.Session
	err := s.db.WithContext(ctx).
		Where("is_active = ? AND updated_at >= ?", true, s.now().Add(-activeWindow)).
		Order("updated_at DESC").
		Limit(clampLimit(limit, 50, 100)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("active sessions: %w", err)
	}
	return nonNil(rows), nil
}
