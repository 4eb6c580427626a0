package report

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mx-space/insight/internal/models"
	"github.com/mx-space/insight/internal/pkg/metrics"
)

// CityShare is one city with its country.
type CityShare struct {
	City       string  `json:"city"       gorm:"column:city"`
	Country    string  `json:"country"    gorm:"column:country"`
	Count      int64   `json:"count"      gorm:"column:total"`
	Percentage float64 `json:"percentage" gorm:"-"`
}

// DeviceStats splits visitors by device class and operating system.
type DeviceStats struct {
	DeviceTypes      []Share `json:"device_types"`
	OperatingSystems []Share `json:"operating_systems"`
}

// BotActivity summarizes bot visitors sharing a browser string.
type BotActivity struct {
	Browser   string `json:"browser"    gorm:"column:browser"`
	Visitors  int64  `json:"visitors"   gorm:"column:visitors"`
	PageViews int64  `json:"page_views" gorm:"column:page_views"`
}

// Countries ranks non-bot visitors of r by country.
func (s *Service) Countries(ctx context.Context, r DateRange, limit int) ([]Share, error) {
	defer metrics.ObserveReport("countries", time.Now())
	return s.visitorBreakdown(ctx, r, "country", clampLimit(limit, topLimit, 20))
}

// Cities ranks non-bot visitors of r by city.
func (s *Service) Cities(ctx context.Context, r DateRange, limit int) ([]CityShare, error) {
	defer metrics.ObserveReport("cities", time.Now())

	db := s.db.WithContext(ctx)
	total, err := countVisitors(db, r)
	if err != nil {
		return nil, fmt.Errorf("cities: %w", err)
	}
	var rows []CityShare
	err = humanVisitors(db, r).
		Select("city, country, COUNT(*) AS total").
		Where("COALESCE(city, '') <> ''").
		Group("city, country").
		Order("total DESC, city ASC, country ASC").
		Limit(clampLimit(limit, topLimit, 50)).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("cities: %w", err)
	}
	for i := range rows {
		rows[i].Percentage = percent(rows[i].Count, total)
	}
	return nonNil(rows), nil
}

// Devices breaks non-bot visitors of r down by device type and OS.
func (s *Service) Devices(ctx context.Context, r DateRange) (*DeviceStats, error) {
	defer metrics.ObserveReport("devices", time.Now())

	types, err := s.visitorBreakdown(ctx, r, "device_type", topLimit)
	if err != nil {
		return nil, err
	}
	systems, err := s.visitorBreakdown(ctx, r, "os", topLimit)
	if err != nil {
		return nil, err
	}
	return &DeviceStats{DeviceTypes: types, OperatingSystems: systems}, nil
}

// Browsers ranks non-bot visitors of r by browser.
func (s *Service) Browsers(ctx context.Context, r DateRange) ([]Share, error) {
	defer metrics.ObserveReport("browsers", time.Now())
	return s.visitorBreakdown(ctx, r, "browser", topLimit)
}

func (s *Service) visitorBreakdown(ctx context.Context, r DateRange, column string, limit int) ([]Share, error) {
	db := s.db.WithContext(ctx)
	total, err := countVisitors(db, r)
	if err != nil {
		return nil, fmt.Errorf("%s breakdown: %w", column, err)
	}
	rows, err := visitorShares(db, r, column, limit)
	if err != nil {
		return nil, fmt.Errorf("%s breakdown: %w", column, err)
	}
	return withPercentages(rows, total), nil
}

// Sources groups sessions of r by traffic source.
func (s *Service) Sources(ctx context.Context, r DateRange) ([]Share, error) {
	defer metrics.ObserveReport("sources", time.Now())

	db := s.db.WithContext(ctx)
	var total int64
	if err := sessionsInRange(db, r).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("sources: %w", err)
	}
	rows, err := trafficSources(db, r, topLimit)
	if err != nil {
		return nil, fmt.Errorf("sources: %w", err)
	}
	return withPercentages(rows, total), nil
}

// Referrers ranks referring hosts of sessions started in r.
func (s *Service) Referrers(ctx context.Context, r DateRange, limit int) ([]Share, error) {
	defer metrics.ObserveReport("referrers", time.Now())

	var rows []Share
	err := sessionsInRange(s.db.WithContext(ctx), r).
		Select("referrer AS group_key, COUNT(*) AS total").
		Where("COALESCE(referrer, '') <> ''").
		Group("referrer").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("referrers: %w", err)
	}

	byHost := map[string]int64{}
	var total int64
	for _, row := range rows {
		byHost[referrerHost(row.Key)] += row.Count
		total += row.Count
	}
	out := make([]Share, 0, len(byHost))
	for host, n := range byHost {
		out = append(out, Share{Key: host, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if n := clampLimit(limit, topLimit, 50); len(out) > n {
		out = out[:n]
	}
	return withPercentages(out, total), nil
}

func referrerHost(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Hostname() == "" {
		return "other"
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// Bots groups bot visitors seen in r by browser string.
func (s *Service) Bots(ctx context.Context, r DateRange) ([]BotActivity, error) {
	defer metrics.ObserveReport("bots", time.Now())

	var rows []BotActivity
	err := s.db.WithContext(ctx).Model(&models.Visitor{}).
		Select("browser, COUNT(*) AS visitors, COALESCE(SUM(total_page_views), 0) AS page_views").
		Where("is_bot = ? AND last_visit >= ? AND last_visit <= ?", true, r.Start, r.End).
		Group("browser").
		Order("visitors DESC, browser ASC").
		Limit(20).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("bots: %w", err)
	}
	return nonNil(rows), nil
}
