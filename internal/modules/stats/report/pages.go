package report

import (
	"context"
	"fmt"
	"time"

	"github.com/mx-space/insight/internal/models"
	"github.com/mx-space/insight/internal/pkg/metrics"
)

// PageReport extends PageStat with scroll depth and entry bounce rate.
type PageReport struct {
	PageStat
	AvgScrollDepth float64 `json:"avg_scroll_depth" gorm:"column:avg_scroll_depth"`
	BounceRate     float64 `json:"bounce_rate"      gorm:"-"`
}

type entryBounce struct {
	Path    string `gorm:"column:entry_page"`
	Total   int64  `gorm:"column:total"`
	Bounced int64  `gorm:"column:bounced"`
}

// Pages reports per-path statistics for r. Bounce rate is taken over the
// sessions that entered on that path.
func (s *Service) Pages(ctx context.Context, r DateRange, limit int) ([]PageReport, error) {
	defer metrics.ObserveReport("pages", time.Now())

	db := s.db.WithContext(ctx)
	var rows []PageReport
	err := db.Model(&models.PageView{}).
		Select("path, COUNT(*) AS views, COUNT(DISTINCT visitor_id) AS unique_visitors, "+
			"COALESCE(AVG(time_spent), 0) AS avg_time_spent, "+
			"COALESCE(AVG(scroll_depth), 0) AS avg_scroll_depth, "+
			"SUM(CASE WHEN exit_page = ? THEN 1 ELSE 0 END) AS exits", true).
		Where("timestamp >= ? AND timestamp <= ?", r.Start, r.End).
		Group("path").
		Order("views DESC, path ASC").
		Limit(clampLimit(limit, 20, 50)).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("pages: %w", err)
	}
	if len(rows) == 0 {
		return []PageReport{}, nil
	}

	paths := make([]string, len(rows))
	for i := range rows {
		paths[i] = rows[i].Path
	}
	var bounces []entryBounce
	err = sessionsInRange(db, r).
		Select("entry_page, COUNT(*) AS total, SUM(CASE WHEN bounced = ? THEN 1 ELSE 0 END) AS bounced", true).
		Where("entry_page IN ?", paths).
		Group("entry_page").
		Scan(&bounces).Error
	if err != nil {
		return nil, fmt.Errorf("page bounce rates: %w", err)
	}
	byPath := make(map[string]entryBounce, len(bounces))
	for _, b := range bounces {
		byPath[b.Path] = b
	}

	for i := range rows {
		rows[i].AvgTimeSpent = round2(rows[i].AvgTimeSpent)
		rows[i].AvgScrollDepth = round2(rows[i].AvgScrollDepth)
		rows[i].ExitRate = percent(rows[i].Exits, rows[i].Views)
		b := byPath[rows[i].Path]
		rows[i].BounceRate = percent(b.Bounced, b.Total)
	}
	return rows, nil
}

// PopularPages ranks paths by views over the trailing 30 days.
func (s *Service) PopularPages(ctx context.Context, limit int) ([]PageStat, error) {
	defer metrics.ObserveReport("popular_pages", time.Now())

	rows, err := topPages(s.db.WithContext(ctx), DefaultRange(s.now()), clampLimit(limit, topLimit, 50))
	if err != nil {
		return nil, fmt.Errorf("popular pages: %w", err)
	}
	return rows, nil
}
