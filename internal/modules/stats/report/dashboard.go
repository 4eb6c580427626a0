package report

import (
	"context"
	"fmt"
	"time"

	"github.com/mx-space/insight/internal/models"
	"github.com/mx-space/insight/internal/pkg/metrics"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// DashboardStats is the overview for one date range.
type DashboardStats struct {
	Range              DateRange  `json:"range"`
	TotalVisitors      int64      `json:"total_visitors"`
	TotalPageViews     int64      `json:"total_page_views"`
	TotalSessions      int64      `json:"total_sessions"`
	AvgSessionDuration float64    `json:"avg_session_duration"`
	BounceRate         float64    `json:"bounce_rate"`
	TodayVisitors      int64      `json:"today_visitors"`
	TodayPageViews     int64      `json:"today_page_views"`
	TopPages           []PageStat `json:"top_pages"`
	TopCountries       []Share    `json:"top_countries"`
	DeviceBreakdown    []Share    `json:"device_breakdown"`
	TrafficSources     []Share    `json:"traffic_sources"`
}

// PageStat aggregates the page views of one path.
type PageStat struct {
	Path           string  `json:"path"            gorm:"column:path"`
	Views          int64   `json:"views"           gorm:"column:views"`
	UniqueVisitors int64   `json:"unique_visitors" gorm:"column:unique_visitors"`
	AvgTimeSpent   float64 `json:"avg_time_spent"  gorm:"column:avg_time_spent"`
	Exits          int64   `json:"-"               gorm:"column:exits"`
	ExitRate       float64 `json:"exit_rate"       gorm:"-"`
}

// trafficSourceExpr buckets a session by utm source, else referral, else direct.
const trafficSourceExpr = "CASE WHEN COALESCE(utm_source, '') <> '' THEN utm_source " +
	"WHEN COALESCE(referrer, '') <> '' THEN 'referral' ELSE 'direct' END"

// Dashboard computes the overview in parallel.
func (s *Service) Dashboard(ctx context.Context, r DateRange) (*DashboardStats, error) {
	defer metrics.ObserveReport("dashboard", time.Now())

	out := &DashboardStats{Range: r}
	today := dayStart(s.now())
	tomorrow := today.Add(24 * time.Hour)
	var bounced int64

	g, gctx := errgroup.WithContext(ctx)
	db := func() *gorm.DB { return s.db.WithContext(gctx) }

	g.Go(func() error {
		n, err := countVisitors(db(), r)
		out.TotalVisitors = n
		return wrap("count visitors", err)
	})
	g.Go(func() error {
		return wrap("count page views", db().Model(&models.PageView{}).
			Where("timestamp >= ? AND timestamp <= ?", r.Start, r.End).
			Count(&out.TotalPageViews).Error)
	})
	g.Go(func() error {
		return wrap("count sessions", sessionsInRange(db(), r).Count(&out.TotalSessions).Error)
	})
	g.Go(func() error {
		return wrap("count bounced sessions", sessionsInRange(db(), r).
			Where("bounced = ?", true).
			Count(&bounced).Error)
	})
	g.Go(func() error {
		var avg float64
		err := sessionsInRange(db(), r).
			Where("duration > 0").
			Select("COALESCE(AVG(duration), 0)").
			Row().Scan(&avg)
		out.AvgSessionDuration = round2(avg)
		return wrap("average session duration", err)
	})
	g.Go(func() error {
		return wrap("count today visitors", db().Model(&models.Visitor{}).
			Where("is_bot = ? AND last_visit >= ? AND last_visit < ?", false, today, tomorrow).
			Count(&out.TodayVisitors).Error)
	})
	g.Go(func() error {
		return wrap("count today page views", db().Model(&models.PageView{}).
			Where("timestamp >= ? AND timestamp < ?", today, tomorrow).
			Count(&out.TodayPageViews).Error)
	})
	g.Go(func() error {
		rows, err := topPages(db(), r, topLimit)
		out.TopPages = rows
		return wrap("top pages", err)
	})
	g.Go(func() error {
		rows, err := visitorShares(db(), r, "country", topLimit)
		out.TopCountries = rows
		return wrap("top countries", err)
	})
	g.Go(func() error {
		rows, err := visitorShares(db(), r, "device_type", topLimit)
		out.DeviceBreakdown = rows
		return wrap("device breakdown", err)
	})
	g.Go(func() error {
		rows, err := trafficSources(db(), r, topLimit)
		out.TrafficSources = rows
		return wrap("traffic sources", err)
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}

	out.BounceRate = percent(bounced, out.TotalSessions)
	out.TopCountries = withPercentages(out.TopCountries, out.TotalVisitors)
	out.DeviceBreakdown = withPercentages(out.DeviceBreakdown, out.TotalVisitors)
	out.TrafficSources = withPercentages(out.TrafficSources, out.TotalSessions)
	return out, nil
}

func wrap(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", what, err)
}

func countVisitors(db *gorm.DB, r DateRange) (int64, error) {
	var n int64
	err := humanVisitors(db, r).Count(&n).Error
	return n, err
}

// humanVisitors scopes to non-bot visitors first seen in r.
func humanVisitors(db *gorm.DB, r DateRange) *gorm.DB {
	return db.Model(&models.Visitor{}).
		Where("is_bot = ? AND created_at >= ? AND created_at <= ?", false, r.Start, r.End)
}

func sessionsInRange(db *gorm.DB, r DateRange) *gorm.DB {
	return db.Model(&models.Session{}).
		Where("session_start >= ? AND session_start <= ?", r.Start, r.End)
}

func topPages(db *gorm.DB, r DateRange, limit int) ([]PageStat, error) {
	var rows []PageStat
	err := db.Model(&models.PageView{}).
		Select("path, COUNT(*) AS views, COUNT(DISTINCT visitor_id) AS unique_visitors, "+
			"COALESCE(AVG(time_spent), 0) AS avg_time_spent, "+
			"SUM(CASE WHEN exit_page = ? THEN 1 ELSE 0 END) AS exits", true).
		Where("timestamp >= ? AND timestamp <= ?", r.Start, r.End).
		Group("path").
		Order("views DESC, path ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].AvgTimeSpent = round2(rows[i].AvgTimeSpent)
		rows[i].ExitRate = percent(rows[i].Exits, rows[i].Views)
	}
	return nonNil(rows), nil
}

// visitorShares groups non-bot visitors of r by column. Empty values are left out.
func visitorShares(db *gorm.DB, r DateRange, column string, limit int) ([]Share, error) {
	var rows []Share
	err := humanVisitors(db, r).
		Select(column+" AS group_key, COUNT(*) AS total").
		Where("COALESCE("+column+", '') <> ''").
		Group(column).
		Order("total DESC, group_key ASC").
		Limit(limit).
		Scan(&rows).Error
	return nonNil(rows), err
}

func trafficSources(db *gorm.DB, r DateRange, limit int) ([]Share, error) {
	var rows []Share
	err := sessionsInRange(db, r).
		Select(trafficSourceExpr + " AS group_key, COUNT(*) AS total").
		Group("group_key").
		Order("total DESC, group_key ASC").
		Limit(limit).
		Scan(&rows).Error
	return nonNil(rows), err
}
