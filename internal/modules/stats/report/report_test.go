package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mx-space/insight/internal/config"
	"github.com/mx-space/insight/internal/database"
	"github.com/mx-space/insight/internal/models"
	"github.com/mx-space/insight/internal/pkg/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testNow = time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := database.Open(config.DriverSQLite, ":memory:", logger.Silent)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return NewService(db, func() time.Time { return testNow }, nil), db
}

func mustCreate(t *testing.T, db *gorm.DB, value any) {
	t.Helper()
	if err := db.Create(value).Error; err != nil {
		t.Fatalf("create %T: %v", value, err)
	}
}

func visitor(id, country, deviceType string, bot bool, at time.Time) *models.Visitor {
	v := &models.Visitor{
		VisitorID: id, Country: country, DeviceType: deviceType, Browser: "Chrome", OS: "Windows",
		IsBot: bot, FirstVisit: at, LastVisit: at, VisitCount: 1,
	}
	v.CreatedAt, v.UpdatedAt = at, at
	return v
}

func session(id, visitorID, entry string, at time.Time, bounced bool, duration int64) *models.Session {
	return &models.Session{
		SessionID: id, VisitorID: visitorID, SessionStart: at, EntryPage: entry, ExitPage: entry,
		Bounced: bounced, Duration: duration, PageViews: 1, IsActive: true, CreatedAt: at, UpdatedAt: at,
	}
}

func pageView(sessionID, visitorID, path string, at time.Time, exit bool) *models.PageView {
	return &models.PageView{SessionID: sessionID, VisitorID: visitorID, Path: path, Timestamp: at, ExitPage: exit}
}

func TestDashboardEmpty(t *testing.T) {
	svc, _ := newTestService(t)
	stats, err := svc.Dashboard(context.Background(), DefaultRange(testNow))
	if err != nil {
		t.Fatalf("Dashboard() error = %v", err)
	}
	if stats.TotalVisitors != 0 || stats.TotalPageViews != 0 || stats.TotalSessions != 0 ||
		stats.BounceRate != 0 || stats.AvgSessionDuration != 0 || stats.TodayVisitors != 0 || stats.TodayPageViews != 0 {
		t.Errorf("counts = %+v, want zeros", stats)
	}
	if stats.TopPages == nil || stats.TopCountries == nil || stats.DeviceBreakdown == nil || stats.TrafficSources == nil {
		t.Errorf("breakdowns must be empty, not nil: %+v", stats)
	}
	if len(stats.TopPages)+len(stats.TopCountries)+len(stats.DeviceBreakdown)+len(stats.TrafficSources) != 0 {
		t.Errorf("breakdowns not empty: %+v", stats)
	}
}

func TestDashboardAggregates(t *testing.T) {
	svc, db := newTestService(t)
	day := testNow.Add(-2 * 24 * time.Hour)

	mustCreate(t, db, visitor("v1", "US", "desktop", false, day))
	mustCreate(t, db, visitor("v2", "US", "mobile", false, day))
	mustCreate(t, db, visitor("v3", "DE", "desktop", false, testNow.Add(-time.Hour)))
	mustCreate(t, db, visitor("bot", "US", "bot", true, day))

	s1 := session("s1", "v1", "/", day, true, 0)
	s1.Referrer = "https://news.example.com"
	s2 := session("s2", "v2", "/blog", day, false, 120)
	s2.UTM = models.UTM{Source: "newsletter"}
	s3 := session("s3", "v3", "/blog", testNow.Add(-time.Hour), false, 60)
	for _, s := range []*models.Session{s1, s2, s3} {
		mustCreate(t, db, s)
	}

	spent := int64(30)
	pv := pageView("s2", "v2", "/blog", day, false)
	pv.TimeSpent = &spent
	mustCreate(t, db, pv)
	mustCreate(t, db, pageView("s2", "v2", "/about", day, true))
	mustCreate(t, db, pageView("s3", "v3", "/blog", testNow.Add(-time.Hour), true))
	mustCreate(t, db, pageView("s1", "v1", "/", day, true))

	stats, err := svc.Dashboard(context.Background(), DefaultRange(testNow))
	if err != nil {
		t.Fatalf("Dashboard() error = %v", err)
	}
	if stats.TotalVisitors != 3 {
		t.Errorf("TotalVisitors = %d, want 3 (bots excluded)", stats.TotalVisitors)
	}
	if stats.TotalPageViews != 4 || stats.TotalSessions != 3 {
		t.Errorf("page views/sessions = %d/%d, want 4/3", stats.TotalPageViews, stats.TotalSessions)
	}
	if stats.AvgSessionDuration != 90 {
		t.Errorf("AvgSessionDuration = %v, want 90", stats.AvgSessionDuration)
	}
	if stats.BounceRate != 33.33 {
		t.Errorf("BounceRate = %v, want 33.33", stats.BounceRate)
	}
	if stats.BounceRate < 0 || stats.BounceRate > 100 {
		t.Errorf("BounceRate out of bounds: %v", stats.BounceRate)
	}
	if stats.TodayVisitors != 1 || stats.TodayPageViews != 1 {
		t.Errorf("today = %d/%d, want 1/1", stats.TodayVisitors, stats.TodayPageViews)
	}

	if len(stats.TopPages) != 3 || stats.TopPages[0].Path != "/blog" || stats.TopPages[0].Views != 2 ||
		stats.TopPages[0].UniqueVisitors != 2 || stats.TopPages[0].ExitRate != 50 || stats.TopPages[0].AvgTimeSpent != 30 {
		t.Errorf("TopPages = %+v", stats.TopPages)
	}
	if stats.TopPages[1].Path != "/" || stats.TopPages[2].Path != "/about" {
		t.Errorf("tie order = %s, %s; want / then /about", stats.TopPages[1].Path, stats.TopPages[2].Path)
	}

	if len(stats.TopCountries) != 2 || stats.TopCountries[0] != (Share{Key: "US", Count: 2, Percentage: 66.67}) {
		t.Errorf("TopCountries = %+v", stats.TopCountries)
	}
	wantSources := []Share{{"direct", 1, 33.33}, {"newsletter", 1, 33.33}, {"referral", 1, 33.33}}
	if len(stats.TrafficSources) != 3 {
		t.Fatalf("TrafficSources = %+v", stats.TrafficSources)
	}
	for i, want := range wantSources {
		if stats.TrafficSources[i] != want {
			t.Errorf("TrafficSources[%d] = %+v, want %+v", i, stats.TrafficSources[i], want)
		}
	}
}

func TestBounceRateAllBounced(t *testing.T) {
	svc, db := newTestService(t)
	at := testNow.Add(-time.Hour)
	mustCreate(t, db, session("s1", "v1", "/", at, true, 0))
	mustCreate(t, db, session("s2", "v2", "/", at, true, 0))
	stats, err := svc.Dashboard(context.Background(), DefaultRange(testNow))
	if err != nil {
		t.Fatal(err)
	}
	if stats.BounceRate != 100 {
		t.Fatalf("BounceRate = %v, want 100", stats.BounceRate)
	}
}

func TestRealtime(t *testing.T) {
	svc, db := newTestService(t)

	empty, err := svc.Realtime(context.Background())
	if err != nil {
		t.Fatalf("Realtime() error = %v", err)
	}
	if empty.ActiveVisitors != 0 || empty.CurrentPageViews == nil || len(empty.CurrentPageViews) != 0 ||
		empty.RecentEvents == nil || len(empty.RecentEvents) != 0 {
		t.Fatalf("empty realtime = %+v", empty)
	}

	mustCreate(t, db, session("live", "v1", "/", testNow.Add(-time.Minute), true, 0))
	stale := session("stale", "v2", "/", testNow.Add(-10*time.Minute), true, 0)
	mustCreate(t, db, stale)
	mustCreate(t, db, pageView("live", "v1", "/a", testNow.Add(-10*time.Second), false))
	mustCreate(t, db, pageView("live", "v1", "/a", testNow.Add(-20*time.Second), false))
	mustCreate(t, db, pageView("live", "v1", "/b", testNow.Add(-30*time.Second), false))
	mustCreate(t, db, pageView("live", "v1", "/old", testNow.Add(-2*time.Minute), false))
	for i, at := range []time.Duration{-time.Minute, -2 * time.Minute, -10 * time.Minute} {
		mustCreate(t, db, &models.AnalyticsEvent{
			SessionID: "live", VisitorID: "v1", EventType: models.EventClick,
			EventCategory: "c", EventAction: string(rune('a' + i)), Timestamp: testNow.Add(at),
		})
	}

	rt, err := svc.Realtime(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rt.ActiveVisitors != 1 {
		t.Errorf("ActiveVisitors = %d, want 1", rt.ActiveVisitors)
	}
	if len(rt.CurrentPageViews) != 2 || rt.CurrentPageViews[0] != (PathCount{"/a", 2}) {
		t.Errorf("CurrentPageViews = %+v", rt.CurrentPageViews)
	}
	if len(rt.RecentEvents) != 2 || rt.RecentEvents[0].EventAction != "a" {
		t.Errorf("RecentEvents = %+v, want newest first within 5 minutes", rt.RecentEvents)
	}

	active, err := svc.ActiveSessions(context.Background(), 0)
	if err != nil || len(active) != 1 || active[0].SessionID != "live" {
		t.Errorf("ActiveSessions() = %+v, %v", active, err)
	}
}

func TestParseRange(t *testing.T) {
	r, err := ParseRange("", "", testNow)
	if err != nil || !r.End.Equal(testNow) || !r.Start.Equal(testNow.Add(-30*24*time.Hour)) {
		t.Fatalf("default range = %+v, %v", r, err)
	}

	r, err = ParseRange("2024-05-01", "2024-05-10", testNow)
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC); !r.Start.Equal(want) {
		t.Errorf("Start = %v, want %v", r.Start, want)
	}
	if want := time.Date(2024, 5, 10, 23, 59, 59, int(999*time.Millisecond), time.UTC); !r.End.Equal(want) {
		t.Errorf("End = %v, want %v", r.End, want)
	}

	r, err = ParseRange("", "2024-05-10T08:00:00Z", testNow)
	if err != nil || r.End.Hour() != 8 || !r.Start.Equal(r.End.Add(-30*24*time.Hour)) {
		t.Errorf("timestamp end = %+v, %v", r, err)
	}

	for _, tt := range [][2]string{{"yesterday", ""}, {"", "05/10/2024"}, {"2024-05-10", "2024-05-01"}} {
		if _, err := ParseRange(tt[0], tt[1], testNow); !errors.Is(err, ErrInvalidRange) {
			t.Errorf("ParseRange(%q, %q) error = %v, want ErrInvalidRange", tt[0], tt[1], err)
		}
	}
}

func TestPagesBounceRate(t *testing.T) {
	svc, db := newTestService(t)
	at := testNow.Add(-time.Hour)
	mustCreate(t, db, session("s1", "v1", "/landing", at, true, 0))
	mustCreate(t, db, session("s2", "v2", "/landing", at, false, 30))
	mustCreate(t, db, pageView("s1", "v1", "/landing", at, true))
	mustCreate(t, db, pageView("s2", "v2", "/landing", at, false))
	mustCreate(t, db, pageView("s2", "v2", "/next", at, true))

	pages, err := svc.Pages(context.Background(), DefaultRange(testNow), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 2 || pages[0].Path != "/landing" || pages[0].BounceRate != 50 || pages[0].ExitRate != 50 {
		t.Fatalf("Pages() = %+v", pages)
	}
	if pages[1].BounceRate != 0 || pages[1].ExitRate != 100 {
		t.Errorf("non-entry page = %+v", pages[1])
	}
}

func TestTrends(t *testing.T) {
	svc, db := newTestService(t)
	mustCreate(t, db, pageView("s1", "v1", "/", time.Date(2024, 5, 20, 9, 15, 0, 0, time.UTC), false))
	mustCreate(t, db, pageView("s1", "v1", "/", time.Date(2024, 5, 20, 9, 45, 0, 0, time.UTC), false))
	mustCreate(t, db, pageView("s2", "v2", "/", time.Date(2024, 5, 20, 11, 5, 0, 0, time.UTC), false))
	mustCreate(t, db, session("s1", "v1", "/", time.Date(2024, 5, 20, 9, 15, 0, 0, time.UTC), false, 0))

	r := DateRange{Start: time.Date(2024, 5, 20, 8, 0, 0, 0, time.UTC), End: time.Date(2024, 5, 20, 11, 30, 0, 0, time.UTC)}
	points, err := svc.Trends(context.Background(), r, Hourly)
	if err != nil {
		t.Fatal(err)
	}
	want := []TrendPoint{
		{Bucket: "2024-05-20 08:00"},
		{Bucket: "2024-05-20 09:00", PageViews: 2, UniqueVisitors: 1, Sessions: 1},
		{Bucket: "2024-05-20 10:00"},
		{Bucket: "2024-05-20 11:00", PageViews: 1, UniqueVisitors: 1},
	}
	if len(points) != len(want) {
		t.Fatalf("Trends() = %+v", points)
	}
	for i := range want {
		if points[i] != want[i] {
			t.Errorf("point %d = %+v, want %+v", i, points[i], want[i])
		}
	}

	if _, err := ParseGranularity("week"); err == nil {
		t.Error("ParseGranularity(week) error = nil")
	}
}

func TestVisitorAndSessionDetail(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	at := testNow.Add(-time.Hour)
	mustCreate(t, db, visitor("v1", "US", "desktop", false, at))
	mustCreate(t, db, session("s1", "v1", "/", at, false, 0))
	mustCreate(t, db, pageView("s1", "v1", "/", at, false))
	mustCreate(t, db, &models.AnalyticsEvent{SessionID: "s1", VisitorID: "v1", EventType: models.EventClick,
		EventCategory: "c", EventAction: "a", Path: "/", Timestamp: at.Add(time.Second)})
	mustCreate(t, db, pageView("s1", "v1", "/next", at.Add(2*time.Second), true))

	detail, err := svc.Visitor(ctx, "v1")
	if err != nil || len(detail.Sessions) != 1 || len(detail.PageViews) != 2 || len(detail.Events) != 1 {
		t.Fatalf("Visitor() = %+v, %v", detail, err)
	}
	if _, err := svc.Visitor(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Visitor(nope) error = %v, want ErrNotFound", err)
	}

	sd, err := svc.Session(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	kinds := ""
	for _, step := range sd.Journey {
		kinds += step.Kind[:1]
	}
	if kinds != "pep" || sd.Visitor == nil {
		t.Errorf("journey kinds = %q visitor %v", kinds, sd.Visitor)
	}

	list, pag, err := svc.ListVisitors(ctx, VisitorFilter{Country: "US"}, pagination.Query{Page: 1, Limit: 20})
	if err != nil || len(list) != 1 || pag.Total != 1 {
		t.Errorf("ListVisitors() = %d rows, %+v, %v", len(list), pag, err)
	}
	active := true
	sessions, _, err := svc.ListSessions(ctx, SessionFilter{VisitorID: "v1", Active: &active}, pagination.Query{Page: 1, Limit: 20})
	if err != nil || len(sessions) != 1 {
		t.Errorf("ListSessions() = %+v, %v", sessions, err)
	}
}
