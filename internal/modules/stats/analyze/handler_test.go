package analyze

import (
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/mx-space/insight/internal/config"
	"github.com/mx-space/insight/internal/database"
	"github.com/mx-space/insight/internal/models"
	"github.com/mx-space/insight/internal/modules/stats/report"
	"github.com/mx-space/insight/internal/pkg/taskqueue"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testNow = time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)

type stubExec struct{}

func (stubExec) Stats() taskqueue.Stats { return taskqueue.Stats{Workers: 2, QueueSize: 8, BreakerState: "closed"} }

type stubConns int

func (s stubConns) Count() int { return int(s) }

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
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

	reports := report.NewService(db, func() time.Time { return testNow }, nil)
	r := gin.New()
	NewHandler(reports, stubExec{}, stubConns(3), nil).RegisterRoutes(r.Group("/api"))
	return r, db
}

func get(r http.Handler, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func seed(t *testing.T, db *gorm.DB) {
	t.Helper()
	at := testNow.Add(-time.Hour)
	v := &models.Visitor{VisitorID: "v1", Country: "US", DeviceType: "desktop", FirstVisit: at, LastVisit: at, VisitCount: 1}
	v.CreatedAt, v.UpdatedAt = at, at
	spent := int64(12)
	for _, row := range []any{
		v,
		&models.Session{SessionID: "s1", VisitorID: "v1", SessionStart: at, EntryPage: "/", ExitPage: "/", PageViews: 1, Bounced: true, IsActive: true, CreatedAt: at, UpdatedAt: at},
		&models.PageView{SessionID: "s1", VisitorID: "v1", Path: "/", Title: "Home, sweet", Timestamp: at, TimeSpent: &spent},
		&models.PageView{SessionID: "s1", VisitorID: "v1", Path: "/about", Timestamp: at.Add(time.Minute), ExitPage: true},
	} {
		if err := db.Create(row).Error; err != nil {
			t.Fatalf("seed %T: %v", row, err)
		}
	}
}

func TestStatusCodes(t *testing.T) {
	r, db := newTestRouter(t)
	seed(t, db)

	tests := []struct {
		target string
		want   int
	}{
		{"/api/analytics/dashboard", http.StatusOK},
		{"/api/analytics/dashboard?startDate=2024-05-01&endDate=2024-05-20", http.StatusOK},
		{"/api/analytics/dashboard?startDate=nope", http.StatusBadRequest},
		{"/api/analytics/dashboard?startDate=2024-05-20&endDate=2024-05-01", http.StatusBadRequest},
		{"/api/analytics/visitors?page=0", http.StatusBadRequest},
		{"/api/analytics/visitors?country=US", http.StatusOK},
		{"/api/analytics/visitors/v1", http.StatusOK},
		{"/api/analytics/visitors/missing", http.StatusNotFound},
		{"/api/analytics/sessions?active=maybe", http.StatusBadRequest},
		{"/api/analytics/sessions?active=true", http.StatusOK},
		{"/api/analytics/sessions/s1", http.StatusOK},
		{"/api/analytics/sessions/missing", http.StatusNotFound},
		{"/api/analytics/pages?limit=abc", http.StatusBadRequest},
		{"/api/analytics/pages/popular", http.StatusOK},
		{"/api/analytics/realtime", http.StatusOK},
		{"/api/analytics/realtime/visitors?limit=500", http.StatusOK},
		{"/api/analytics/events?eventType=teleport", http.StatusBadRequest},
		{"/api/analytics/events?eventType=click", http.StatusOK},
		{"/api/analytics/events/summary", http.StatusOK},
		{"/api/analytics/geo/countries", http.StatusOK},
		{"/api/analytics/geo/cities", http.StatusOK},
		{"/api/analytics/devices", http.StatusOK},
		{"/api/analytics/devices/browsers", http.StatusOK},
		{"/api/analytics/sources", http.StatusOK},
		{"/api/analytics/sources/referrers", http.StatusOK},
		{"/api/analytics/trends?granularity=hour", http.StatusOK},
		{"/api/analytics/trends?granularity=week", http.StatusBadRequest},
		{"/api/analytics/bots", http.StatusOK},
		{"/api/analytics/export?format=xml", http.StatusBadRequest},
		{"/api/analytics/export?type=comments", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			if w := get(r, tt.target); w.Code != tt.want {
				t.Errorf("GET %s = %d, want %d: %s", tt.target, w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestDashboardBody(t *testing.T) {
	r, db := newTestRouter(t)
	seed(t, db)

	w := get(r, "/api/analytics/dashboard")
	var body report.DashboardStats
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.TotalVisitors != 1 || body.TotalPageViews != 2 || body.TotalSessions != 1 || body.BounceRate != 100 {
		t.Errorf("dashboard = %+v", body)
	}
}

func TestPagedEnvelope(t *testing.T) {
	r, db := newTestRouter(t)
	seed(t, db)

	w := get(r, "/api/analytics/visitors?limit=1")
	var body struct {
		Data       []models.Visitor `json:"data"`
		Pagination struct {
			Total int64 `json:"total"`
			Limit int   `json:"limit"`
		} `json:"pagination"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data) != 1 || body.Pagination.Total != 1 || body.Pagination.Limit != 1 {
		t.Errorf("body = %+v", body)
	}
}

func TestExportCSV(t *testing.T) {
	r, db := newTestRouter(t)
	seed(t, db)

	w := get(r, "/api/analytics/export?format=csv&type=pageviews")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "pageviews-") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	records, err := csv.NewReader(w.Body).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 3 || records[0][0] != "id" {
		t.Fatalf("records = %v", records)
	}
	if records[1][4] != "/" || records[1][5] != "Home, sweet" || records[1][7] != "12" || records[2][10] != "true" {
		t.Errorf("rows = %v", records[1:])
	}
}

func TestExportJSON(t *testing.T) {
	r, db := newTestRouter(t)
	seed(t, db)

	for kind, want := range map[string]int{"pageviews": 2, "visitors": 1, "sessions": 1} {
		w := get(r, "/api/analytics/export?format=json&type="+kind)
		if w.Code != http.StatusOK {
			t.Fatalf("%s status = %d", kind, w.Code)
		}
		var rows []map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &rows); err != nil {
			t.Fatalf("%s decode: %v (%s)", kind, err, w.Body.String())
		}
		if len(rows) != want {
			t.Errorf("%s rows = %d, want %d", kind, len(rows), want)
		}
	}

	w := get(r, "/api/analytics/export?format=json&type=pageviews&startDate=2020-01-01&endDate=2020-01-02")
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("empty export = %q, want []", w.Body.String())
	}
}

func TestHealth(t *testing.T) {
	r, db := newTestRouter(t)
	seed(t, db)

	w := get(r, "/api/analytics/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Tables["page_views"] != 2 || body.Connections != 3 || body.Executor == nil || body.Executor.Workers != 2 {
		t.Errorf("health = %+v", body)
	}
}
