package app

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mx-space/insight/internal/config"
	"github.com/mx-space/insight/internal/models"
	"go.uber.org/zap"
)

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

func newTestApp(t *testing.T) *App {
	t.Helper()
	site := t.TempDir()
	if err := os.WriteFile(filepath.Join(site, "index.html"), []byte("<!doctype html><title>blog</title>"), 0o644); err != nil {
		t.Fatal(err)
	}
	content := fmt.Sprintf(`env: production
database:
  driver: sqlite
  name: %q
paths:
  logs: %q
jwt_secret: app-test-secret
analytics:
  workers: 1
site:
  root: %q
`, filepath.Join(t.TempDir(), "insight.db"), t.TempDir(), site)

	cfg, err := config.Parse([]byte(content), "test")
	if err != nil {
		t.Fatalf("config.Parse() error = %v", err)
	}
	a, err := New(zap.NewNop(), cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	a.Start()
	t.Cleanup(a.Shutdown)
	return a
}

func get(a *App, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("X-Page-Title", "Post 1")
	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, req)
	return w
}

func TestPublicPageIsRecorded(t *testing.T) {
	a := newTestApp(t)

	if w := get(a, "/blog/post-1"); w.Code != http.StatusOK {
		t.Fatalf("GET /blog/post-1 = %d", w.Code)
	}
	// Neither of these may produce a page view.
	if w := get(a, "/assets/app.js"); w.Code != http.StatusNotFound {
		t.Errorf("GET /assets/app.js = %d, want 404", w.Code)
	}
	if w := get(a, "/api/health"); w.Code != http.StatusOK {
		t.Errorf("GET /api/health = %d", w.Code)
	}

	var views []models.PageView
	deadline := time.Now().Add(5 * time.Second)
	for {
		views = views[:0]
		if err := a.db.Find(&views).Error; err != nil {
			t.Fatalf("find page views: %v", err)
		}
		if len(views) > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if len(views) != 1 {
		t.Fatalf("page views = %d, want 1", len(views))
	}
	if views[0].Path != "/blog/post-1" || views[0].Title != "Post 1" {
		t.Errorf("page view = %+v", views[0])
	}

	var visitors, sessions int64
	a.db.Model(&models.Visitor{}).Count(&visitors)
	a.db.Model(&models.Session{}).Count(&sessions)
	if visitors != 1 || sessions != 1 {
		t.Errorf("visitors = %d sessions = %d, want 1 and 1", visitors, sessions)
	}
}

func TestUnmatchedRouteWithoutSite(t *testing.T) {
	content := fmt.Sprintf("env: production\ndatabase:\n  driver: sqlite\n  name: %q\npaths:\n  logs: %q\n",
		filepath.Join(t.TempDir(), "insight.db"), t.TempDir())
	cfg, err := config.Parse([]byte(content), "test")
	if err != nil {
		t.Fatalf("config.Parse() error = %v", err)
	}
	a, err := New(zap.NewNop(), cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(a.Shutdown)

	if w := get(a, "/blog/post-1"); w.Code != http.StatusNotFound {
		t.Errorf("GET /blog/post-1 = %d, want 404", w.Code)
	}
}
