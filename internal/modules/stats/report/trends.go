package report

import (
	"context"
	"fmt"
	"time"

	"github.com/mx-space/insight/internal/models"
	"github.com/mx-space/insight/internal/pkg/metrics"
	"gorm.io/gorm"
)

// Granularity of a trend series.
type Granularity string

const (
	Hourly Granularity = "hour"
	Daily  Granularity = "day"
)

const (
	maxHourlySpan = 7 * 24 * time.Hour
	maxDailySpan  = 366 * 24 * time.Hour
)

// TrendPoint is one bucket of a trend series.
type TrendPoint struct {
	Bucket         string `json:"bucket"`
	PageViews      int64  `json:"page_views"`
	UniqueVisitors int64  `json:"unique_visitors"`
	Sessions       int64  `json:"sessions"`
}

type bucketRow struct {
	Bucket   string `gorm:"column:bucket"`
	Views    int64  `gorm:"column:views"`
	Visitors int64  `gorm:"column:visitors"`
}

// ParseGranularity accepts "hour" or "day"; empty means day.
func ParseGranularity(raw string) (Granularity, error) {
	switch Granularity(raw) {
	case "", Daily:
		return Daily, nil
	case Hourly:
		return Hourly, nil
	}
	return "", fmt.Errorf("granularity must be hour or day, got %q", raw)
}

// Trends buckets page views, unique visitors and new sessions over r. Every
// bucket in the range is present. Hourly series cover at most 7 days and
// daily series at most 366 days, counted back from the end of r.
func (s *Service) Trends(ctx context.Context, r DateRange, g Granularity) ([]TrendPoint, error) {
	defer metrics.ObserveReport("trends", time.Now())

	step, layout, span := 24*time.Hour, "2006-01-02", maxDailySpan
	if g == Hourly {
		step, layout, span = time.Hour, "2006-01-02 15:00", maxHourlySpan
	}
	if r.End.Sub(r.Start) > span {
		r.Start = r.End.Add(-span)
	}

	db := s.db.WithContext(ctx)
	dialect := db.Dialector.Name()

	var views []bucketRow
	err := db.Model(&models.PageView{}).
		Select(bucketExpr(dialect, "timestamp", g)+" AS bucket, COUNT(*) AS views, COUNT(DISTINCT visitor_id) AS visitors").
		Where("timestamp >= ? AND timestamp <= ?", r.Start, r.End).
		Group("bucket").
		Scan(&views).Error
	if err != nil {
		return nil, fmt.Errorf("page view trend: %w", err)
	}
	var sessions []bucketRow
	err = sessionsInRange(db, r).
		Select(bucketExpr(dialect, "session_start", g) + " AS bucket, COUNT(*) AS views").
		Group("bucket").
		Scan(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("session trend: %w", err)
	}

	var points []TrendPoint
	index := map[string]int{}
	for t := r.Start.UTC().Truncate(step); !t.After(r.End); t = t.Add(step) {
		key := t.Format(layout)
		index[key] = len(points)
		points = append(points, TrendPoint{Bucket: key})
	}
	for _, row := range views {
		if i, ok := index[row.Bucket]; ok {
			points[i].PageViews = row.Views
			points[i].UniqueVisitors = row.Visitors
		}
	}
	for _, row := range sessions {
		if i, ok := index[row.Bucket]; ok {
			points[i].Sessions = row.Views
		}
	}
	return nonNil(points), nil
}

func bucketExpr(dialect, column string, g Granularity) string {
	hourly := g == Hourly
	switch dialect {
	case "mysql":
		if hourly {
			return "DATE_FORMAT(" + column + ", '%Y-%m-%d %H:00')"
		}
		return "DATE_FORMAT(" + column + ", '%Y-%m-%d')"
	case "postgres":
		if hourly {
			return "to_char(" + column + " AT TIME ZONE 'UTC', 'YYYY-MM-DD HH24:00')"
		}
		return "to_char(" + column + " AT TIME ZONE 'UTC', 'YYYY-MM-DD')"
	default:
		if hourly {
			return "strftime('%Y-%m-%d %H:00', " + column + ")"
		}
		return "strftime('%Y-%m-%d', " + column + ")"
	}
}

// TableCounts returns the row count of every analytics table.
func (s *Service) TableCounts(ctx context.Context) (map[string]int64, error) {
	db := s.db.WithContext(ctx)
	out := map[string]int64{}
	for name, model := range map[string]any{
		"visitors":         &models.Visitor{},
		"visitor_sessions": &models.Session{},
		"page_views":       &models.PageView{},
		"analytics_events": &models.AnalyticsEvent{},
	} {
		var n int64
		if err := db.Model(model).Count(&n).Error; err != nil {
			return nil, fmt.Errorf("count %s: %w", name, err)
		}
		out[name] = n
	}
	return out, nil
}

// Ping checks that the database answers.
func (s *Service) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// DB exposes the handle for streaming exports.
func (s *Service) DB() *gorm.DB { return s.db }
