package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil, "empty")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Port != defaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port, defaultPort)
	}
	if !cfg.IsDev() {
		t.Errorf("IsDev() = false, want true for default env")
	}
	if cfg.Database.Driver != DriverMySQL {
		t.Errorf("Driver = %q, want %q", cfg.Database.Driver, DriverMySQL)
	}
	wantDSN := "root:password@tcp(127.0.0.1:3306)/insight?charset=utf8mb4&loc=UTC&parseTime=true"
	if cfg.DSN != wantDSN {
		t.Errorf("DSN = %q, want %q", cfg.DSN, wantDSN)
	}
	if cfg.Redis.Enable {
		t.Errorf("Redis.Enable = true, want false by default")
	}
	if cfg.Analytics.SessionTimeout != 24*time.Hour {
		t.Errorf("SessionTimeout = %v, want 24h", cfg.Analytics.SessionTimeout)
	}
	if cfg.Analytics.RealtimeInterval != 5*time.Second {
		t.Errorf("RealtimeInterval = %v, want 5s", cfg.Analytics.RealtimeInterval)
	}
	if !cfg.Analytics.TrackOnlyPublic || !cfg.Analytics.SkipBots || !cfg.Analytics.SkipAdmins {
		t.Errorf("tracking flags = %+v, want all enabled", cfg.Analytics)
	}
	if len(cfg.Analytics.SkipPaths) != len(DefaultSkipPaths) {
		t.Errorf("SkipPaths = %v, want defaults", cfg.Analytics.SkipPaths)
	}
}

func TestParseOverrides(t *testing.T) {
	content := `
port: 8080
env: production
database:
  driver: postgres
  host: db.internal
  user: insight
  password: secret
  name: analytics
redis:
  url: localhost:6380/2
allowed_origins:
  - " https://example.com "
  - ""
analytics:
  skip_paths: ["admin*", " /internal "]
  track_only_public: false
  session_timeout: 12h
  workers: 8
  rate_limit: 200
archive:
  enable: true
  bucket: logs
  region: us-east-1
  prefix: /daily/
`
	cfg, err := Parse([]byte(content), "inline")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.IsDev() {
		t.Errorf("IsDev() = true, want false")
	}
	if cfg.Database.Port != defaultPGPort {
		t.Errorf("Database.Port = %d, want %d", cfg.Database.Port, defaultPGPort)
	}
	for _, part := range []string{"host=db.internal", "user=insight", "dbname=analytics", "password=secret", "port=5432"} {
		if !strings.Contains(cfg.DSN, part) {
			t.Errorf("DSN %q missing %q", cfg.DSN, part)
		}
	}
	if !cfg.Redis.Enable || cfg.RedisURL != "redis://localhost:6380/2" {
		t.Errorf("Redis = %+v url %q, want enabled redis://localhost:6380/2", cfg.Redis, cfg.RedisURL)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "https://example.com" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if got := cfg.Analytics.SkipPaths; len(got) != 2 || got[0] != "/admin*" || got[1] != "/internal" {
		t.Errorf("SkipPaths = %v", got)
	}
	if cfg.Analytics.TrackOnlyPublic {
		t.Errorf("TrackOnlyPublic = true, want false")
	}
	if cfg.Analytics.SessionTimeout != 12*time.Hour {
		t.Errorf("SessionTimeout = %v, want 12h", cfg.Analytics.SessionTimeout)
	}
	if cfg.Analytics.Workers != 8 || cfg.Analytics.RateLimit != 200 {
		t.Errorf("Workers/RateLimit = %d/%v", cfg.Analytics.Workers, cfg.Analytics.RateLimit)
	}
	if cfg.Archive.Prefix != "daily" {
		t.Errorf("Archive.Prefix = %q, want daily", cfg.Archive.Prefix)
	}
}

func TestParseSQLiteDSN(t *testing.T) {
	cfg, err := Parse([]byte("database:\n  driver: sqlite3\n"), "inline")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Database.Driver != DriverSQLite || cfg.DSN != defaultSQLiteFile {
		t.Errorf("driver %q dsn %q", cfg.Database.Driver, cfg.DSN)
	}
}

func TestParseSite(t *testing.T) {
	cfg, err := Parse(nil, "empty")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Site.Root != "" || cfg.Site.Upstream != "" || cfg.Site.Index != "index.html" {
		t.Errorf("default Site = %+v", cfg.Site)
	}
	if !cfg.Analytics.SkipAssets {
		t.Errorf("SkipAssets = false, want true by default")
	}

	content := "site:\n  upstream: \" https://blog.example.com/ \"\nanalytics:\n  skip_assets: false\n"
	cfg, err = Parse([]byte(content), "inline")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Site.Upstream != "https://blog.example.com" {
		t.Errorf("Upstream = %q", cfg.Site.Upstream)
	}
	if cfg.Analytics.SkipAssets {
		t.Errorf("SkipAssets = true, want false")
	}

	cfg, err = Parse([]byte("site:\n  root: ./public\n  index: /app.html\n"), "inline")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Site.Root != "./public" || cfg.Site.Index != "app.html" {
		t.Errorf("Site = %+v", cfg.Site)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown field", "unknown_key: 1\n"},
		{"bad port", "port: 70000\n"},
		{"bad driver", "database:\n  driver: oracle\n"},
		{"bad duration", "analytics:\n  session_timeout: forever\n"},
		{"negative retention", "analytics:\n  retention_days: -1\n"},
		{"archive without bucket", "archive:\n  enable: true\n"},
		{"site root and upstream", "site:\n  root: ./public\n  upstream: http://127.0.0.1:3000\n"},
		{"site upstream without scheme", "site:\n  upstream: 127.0.0.1:3000\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.content), "inline"); err == nil {
				t.Fatalf("Parse() error = nil, want error")
			}
		})
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte("port: 3000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvPort, "4000")
	t.Setenv(EnvJWTSecret, "from-env")
	t.Setenv(EnvRedisURL, "redis://cache:6379/1")
	t.Setenv(EnvGeoIPDB, "/data/GeoLite2-City.mmdb")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 4000 {
		t.Errorf("Port = %d, want 4000", cfg.Port)
	}
	if cfg.JWTSecret != "from-env" {
		t.Errorf("JWTSecret = %q", cfg.JWTSecret)
	}
	if !cfg.Redis.Enable || cfg.RedisURL != "redis://cache:6379/1" {
		t.Errorf("redis = %v %q", cfg.Redis.Enable, cfg.RedisURL)
	}
	if cfg.Analytics.GeoIPDB != "/data/GeoLite2-City.mmdb" {
		t.Errorf("GeoIPDB = %q", cfg.Analytics.GeoIPDB)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatal("Load() error = nil, want error")
	}
}
