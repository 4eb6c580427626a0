package config

import "time"

const (
	// DefaultConfigPath is used when --config is not provided.
	DefaultConfigPath = "config.yml"
	defaultPort       = 2333
	defaultEnv        = "development"

	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	defaultDBDriver   = DriverMySQL
	defaultDBHost     = "127.0.0.1"
	defaultDBPort     = 3306
	defaultPGPort     = 5432
	defaultDBUser     = "root"
	defaultDBPassword = "password"
	defaultDBName     = "insight"
	defaultDBCharset  = "utf8mb4"
	defaultDBLoc      = "UTC"
	defaultPGSSLMode  = "disable"
	defaultSQLiteFile = "insight.db"

	defaultRedisHost = "localhost"
	defaultRedisPort = 6379
	defaultRedisDB   = 0

	defaultSessionTimeout   = 24 * time.Hour
	defaultRealtimeInterval = 5 * time.Second
	defaultWorkers          = 4
	defaultQueueSize        = 1024
	defaultJobTimeout       = 10 * time.Second
	defaultArchivePrefix    = "analytics"
	defaultSiteIndex        = "index.html"
)

// Environment variables that override values from the YAML file.
const (
	EnvPort         = "INSIGHT_PORT"
	EnvDatabaseDSN  = "INSIGHT_DATABASE_DSN"
	EnvRedisURL     = "INSIGHT_REDIS_URL"
	EnvJWTSecret    = "INSIGHT_JWT_SECRET"
	EnvGeoIPDB      = "INSIGHT_GEOIP_DB"
	EnvSiteUpstream = "INSIGHT_SITE_UPSTREAM"
	EnvEnv          = "INSIGHT_ENV"
)

// DefaultSkipPaths lists request paths that are never tracked.
var DefaultSkipPaths = []string{
	"/api",
	"/health",
	"/favicon.ico",
	"/.well-known",
	"/robots.txt",
	"/sitemap.xml",
	"/socket.io",
	"/metrics",
}
