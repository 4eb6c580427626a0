package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML config file, applies environment overrides and validates the result.
func Load(configPath string) (*AppConfig, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		path = DefaultConfigPath
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}
	return Parse(content, path)
}

// Parse decodes YAML content. source is only used in error messages.
func Parse(content []byte, source string) (*AppConfig, error) {
	cfg := defaultAppConfig()
	raw := rawAppConfig{}
	if len(bytes.TrimSpace(content)) > 0 {
		decoder := yaml.NewDecoder(bytes.NewReader(content))
		decoder.KnownFields(true)
		if err := decoder.Decode(&raw); err != nil {
			return nil, fmt.Errorf("parse config file %q: %w", source, err)
		}
	}

	if err := applyRawAppConfig(&cfg, raw); err != nil {
		return nil, fmt.Errorf("config %q: %w", source, err)
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config %q: %w", source, err)
	}
	return &cfg, nil
}

func defaultAppConfig() AppConfig {
	cfg := AppConfig{
		Port: defaultPort,
		Env:  defaultEnv,
		Database: DatabaseRuntimeConfig{
			Driver:    defaultDBDriver,
			Host:      defaultDBHost,
			Port:      defaultDBPort,
			User:      defaultDBUser,
			Password:  defaultDBPassword,
			Name:      defaultDBName,
			Charset:   defaultDBCharset,
			ParseTime: true,
			Loc:       defaultDBLoc,
		},
		Redis: RedisRuntimeConfig{
			Host: defaultRedisHost,
			Port: defaultRedisPort,
			DB:   defaultRedisDB,
		},
		Analytics: AnalyticsConfig{
			SkipPaths:        append([]string(nil), DefaultSkipPaths...),
			TrackOnlyPublic:  true,
			SkipBots:         true,
			SkipAdmins:       true,
			SkipAssets:       true,
			SessionTimeout:   defaultSessionTimeout,
			RealtimeInterval: defaultRealtimeInterval,
			Workers:          defaultWorkers,
			QueueSize:        defaultQueueSize,
			JobTimeout:       defaultJobTimeout,
		},
		Archive: ArchiveConfig{
			Prefix: defaultArchivePrefix,
		},
		Site: SiteConfig{
			Index: defaultSiteIndex,
		},
	}
	cfg.Database = normalizeDatabaseConfig(cfg.Database)
	cfg.Redis = normalizeRedisConfig(cfg.Redis)
	cfg.DSN = cfg.Database.DSNValue()
	cfg.RedisURL = cfg.Redis.URLValue()
	return cfg
}

func applyRawAppConfig(cfg *AppConfig, raw rawAppConfig) error {
	if raw.Port != 0 {
		cfg.Port = raw.Port
	}
	cfg.Database = applyRawDatabaseConfig(cfg.Database, raw)
	cfg.Redis = applyRawRedisConfig(cfg.Redis, raw)
	if v := strings.TrimSpace(raw.Env); v != "" {
		cfg.Env = v
	}
	if v := strings.TrimSpace(raw.Paths.Logs); v != "" {
		cfg.Paths.Logs = v
	}
	if v := strings.TrimSpace(raw.LogDir); v != "" {
		cfg.Paths.Logs = v
	}

	switch {
	case raw.AllowedOrigins != nil:
		cfg.AllowedOrigins = normalizeOrigins(raw.AllowedOrigins)
	case raw.CORSAllowedOrigins != nil:
		cfg.AllowedOrigins = normalizeOrigins(raw.CORSAllowedOrigins)
	}
	if v := strings.TrimSpace(raw.JWTSecret); v != "" {
		cfg.JWTSecret = v
	}

	analytics, err := applyRawAnalyticsConfig(cfg.Analytics, raw.Analytics)
	if err != nil {
		return err
	}
	cfg.Analytics = analytics
	cfg.Archive = applyRawArchiveConfig(cfg.Archive, raw.Archive)
	cfg.Site = applyRawSiteConfig(cfg.Site, raw.Site)

	cfg.Env = normalizeEnv(cfg.Env)
	cfg.Database = normalizeDatabaseConfig(cfg.Database)
	cfg.Redis = normalizeRedisConfig(cfg.Redis)
	cfg.DSN = cfg.Database.DSNValue()
	cfg.RedisURL = cfg.Redis.URLValue()
	return nil
}

func applyRawDatabaseConfig(current DatabaseRuntimeConfig, raw rawAppConfig) DatabaseRuntimeConfig {
	db := raw.Database
	if v := strings.TrimSpace(db.Driver); v != "" {
		current.Driver = v
		if current.Port == defaultDBPort && normalizeDriver(v) == DriverPostgres {
			current.Port = defaultPGPort
		}
	}
	if v := firstNonEmpty(db.DSN, db.URL, raw.DSN, raw.DatabaseURL); v != "" {
		current.DSN = v
	}
	if v := strings.TrimSpace(db.Host); v != "" {
		current.Host = v
	}
	if db.Port != 0 {
		current.Port = db.Port
	}
	if v := firstNonEmpty(db.User, db.Username); v != "" {
		current.User = v
	}
	if db.Password != "" {
		current.Password = db.Password
	}
	if v := firstNonEmpty(db.Name, db.DBName); v != "" {
		current.Name = v
	}
	if v := strings.TrimSpace(db.Charset); v != "" {
		current.Charset = v
	}
	if db.ParseTime != nil {
		current.ParseTime = *db.ParseTime
	}
	if v := strings.TrimSpace(db.Loc); v != "" {
		current.Loc = v
	}
	if v := strings.TrimSpace(db.SSLMode); v != "" {
		current.SSLMode = v
	}
	if db.Params != nil {
		current.Params = copyStringMap(db.Params)
	}
	return current
}

func applyRawRedisConfig(current RedisRuntimeConfig, raw rawAppConfig) RedisRuntimeConfig {
	rc := raw.Redis
	if rc.Enable != nil {
		current.Enable = *rc.Enable
	}
	if v := firstNonEmpty(rc.URL, raw.RedisURL); v != "" {
		current.URL = v
		if rc.Enable == nil {
			current.Enable = true
		}
	}
	if v := strings.TrimSpace(rc.Host); v != "" {
		current.Host = v
	}
	if rc.Port != 0 {
		current.Port = rc.Port
	}
	if v := strings.TrimSpace(rc.Username); v != "" {
		current.Username = v
	}
	if rc.Password != "" {
		current.Password = rc.Password
	}
	if rc.DB != nil {
		current.DB = *rc.DB
	}
	if rc.TLS != nil {
		current.TLS = *rc.TLS
	}
	if v := strings.TrimSpace(rc.Scheme); v != "" {
		current.Scheme = v
	}
	if rc.Params != nil {
		current.Params = copyStringMap(rc.Params)
	}
	return current
}

func applyRawAnalyticsConfig(current AnalyticsConfig, raw rawAnalyticsConfig) (AnalyticsConfig, error) {
	if raw.SkipPaths != nil {
		current.SkipPaths = normalizeSkipPaths(raw.SkipPaths)
	}
	if raw.TrackOnlyPublic != nil {
		current.TrackOnlyPublic = *raw.TrackOnlyPublic
	}
	if raw.SkipBots != nil {
		current.SkipBots = *raw.SkipBots
	}
	if raw.SkipAdmins != nil {
		current.SkipAdmins = *raw.SkipAdmins
	}
	if raw.SkipAssets != nil {
		current.SkipAssets = *raw.SkipAssets
	}
	if raw.DistributedLock != nil {
		current.DistributedLock = *raw.DistributedLock
	}
	if raw.RetentionDays != nil {
		current.RetentionDays = *raw.RetentionDays
	}
	if raw.Workers != 0 {
		current.Workers = raw.Workers
	}
	if raw.QueueSize != 0 {
		current.QueueSize = raw.QueueSize
	}
	if raw.RateLimit != nil {
		current.RateLimit = *raw.RateLimit
	}
	if v := strings.TrimSpace(raw.GeoIPDB); v != "" {
		current.GeoIPDB = v
	}

	var err error
	if current.SessionTimeout, err = parseDurationOr(raw.SessionTimeout, current.SessionTimeout, "analytics.session_timeout"); err != nil {
		return current, err
	}
	if current.RealtimeInterval, err = parseDurationOr(raw.RealtimeInterval, current.RealtimeInterval, "analytics.realtime_interval"); err != nil {
		return current, err
	}
	if current.JobTimeout, err = parseDurationOr(raw.JobTimeout, current.JobTimeout, "analytics.job_timeout"); err != nil {
		return current, err
	}
	return current, nil
}

func applyRawArchiveConfig(current ArchiveConfig, raw rawArchiveConfig) ArchiveConfig {
	if raw.Enable != nil {
		current.Enable = *raw.Enable
	}
	if v := strings.TrimSpace(raw.Bucket); v != "" {
		current.Bucket = v
	}
	if v := strings.TrimSpace(raw.Region); v != "" {
		current.Region = v
	}
	if v := strings.TrimSpace(raw.Endpoint); v != "" {
		current.Endpoint = v
	}
	if v := strings.TrimSpace(raw.AccessKeyID); v != "" {
		current.AccessKeyID = v
	}
	if v := strings.TrimSpace(raw.SecretAccessKey); v != "" {
		current.SecretAccessKey = v
	}
	if v := strings.Trim(strings.TrimSpace(raw.Prefix), "/"); v != "" {
		current.Prefix = v
	}
	if raw.PathStyle != nil {
		current.PathStyle = *raw.PathStyle
	}
	return current
}

func applyRawSiteConfig(current SiteConfig, raw rawSiteConfig) SiteConfig {
	if v := strings.TrimSpace(raw.Root); v != "" {
		current.Root = v
	}
	if v := strings.Trim(strings.TrimSpace(raw.Index), "/"); v != "" {
		current.Index = v
	}
	if v := strings.TrimSpace(raw.Upstream); v != "" {
		current.Upstream = strings.TrimRight(v, "/")
	}
	return current
}

func applyEnvOverrides(cfg *AppConfig) error {
	if v := strings.TrimSpace(os.Getenv(EnvPort)); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		cfg.Port = port
	}
	if v := strings.TrimSpace(os.Getenv(EnvEnv)); v != "" {
		cfg.Env = normalizeEnv(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvDatabaseDSN)); v != "" {
		cfg.Database.DSN = v
		cfg.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvRedisURL)); v != "" {
		cfg.Redis.URL = normalizeRedisRawURL(v)
		cfg.Redis.Enable = true
		cfg.RedisURL = cfg.Redis.URL
	}
	if v := strings.TrimSpace(os.Getenv(EnvJWTSecret)); v != "" {
		cfg.JWTSecret = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvGeoIPDB)); v != "" {
		cfg.Analytics.GeoIPDB = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvSiteUpstream)); v != "" {
		cfg.Site.Upstream = strings.TrimRight(v, "/")
	}
	return nil
}

func validate(cfg *AppConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port %d, expected 1-65535", cfg.Port)
	}
	switch cfg.Database.Driver {
	case DriverMySQL, DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported database.driver %q", cfg.Database.Driver)
	}
	if cfg.Database.Driver != DriverSQLite && (cfg.Database.Port < 1 || cfg.Database.Port > 65535) {
		return fmt.Errorf("invalid database.port %d, expected 1-65535", cfg.Database.Port)
	}
	if cfg.Redis.Port < 1 || cfg.Redis.Port > 65535 {
		return fmt.Errorf("invalid redis.port %d, expected 1-65535", cfg.Redis.Port)
	}
	if cfg.Redis.DB < 0 {
		return fmt.Errorf("invalid redis.db %d, expected >= 0", cfg.Redis.DB)
	}
	if cfg.Analytics.SessionTimeout <= 0 {
		return fmt.Errorf("analytics.session_timeout must be positive")
	}
	if cfg.Analytics.RealtimeInterval <= 0 {
		return fmt.Errorf("analytics.realtime_interval must be positive")
	}
	if cfg.Analytics.Workers < 1 {
		return fmt.Errorf("invalid analytics.workers %d, expected >= 1", cfg.Analytics.Workers)
	}
	if cfg.Analytics.QueueSize < 1 {
		return fmt.Errorf("invalid analytics.queue_size %d, expected >= 1", cfg.Analytics.QueueSize)
	}
	if cfg.Analytics.RateLimit < 0 {
		return fmt.Errorf("invalid analytics.rate_limit %v, expected >= 0", cfg.Analytics.RateLimit)
	}
	if cfg.Analytics.RetentionDays < 0 {
		return fmt.Errorf("invalid analytics.retention_days %d, expected >= 0", cfg.Analytics.RetentionDays)
	}
	if cfg.Archive.Enable && (cfg.Archive.Bucket == "" || cfg.Archive.Region == "") {
		return fmt.Errorf("archive requires bucket and region")
	}
	if cfg.Site.Root != "" && cfg.Site.Upstream != "" {
		return fmt.Errorf("site.root and site.upstream are mutually exclusive")
	}
	if cfg.Site.Upstream != "" {
		u, err := url.Parse(cfg.Site.Upstream)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid site.upstream %q, expected an http(s) origin", cfg.Site.Upstream)
		}
	}
	return nil
}

func parseDurationOr(raw string, fallback time.Duration, field string) (time.Duration, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s %q: %w", field, v, err)
	}
	return d, nil
}

func (c *AppConfig) IsDev() bool {
	return strings.EqualFold(c.Env, defaultEnv)
}

func (c *AppConfig) LogDir() string {
	if c == nil {
		return ResolveRuntimePath("", "logs")
	}
	return ResolveRuntimePath(c.Paths.Logs, "logs")
}

// ExecutableDir returns the directory where the current executable resides.
func ExecutableDir() string {
	exe, err := os.Executable()
	if err == nil && strings.TrimSpace(exe) != "" {
		if resolved, resolveErr := filepath.EvalSymlinks(exe); resolveErr == nil && strings.TrimSpace(resolved) != "" {
			exe = resolved
		}
		return filepath.Dir(exe)
	}
	if wd, wdErr := os.Getwd(); wdErr == nil && strings.TrimSpace(wd) != "" {
		return wd
	}
	return "."
}

// ResolveRuntimePath resolves runtime directories against the executable directory.
func ResolveRuntimePath(raw string, fallbackSubdir string) string {
	target := strings.TrimSpace(raw)
	if target == "" {
		target = strings.TrimSpace(fallbackSubdir)
		if target == "" {
			return ExecutableDir()
		}
	}
	if filepath.IsAbs(target) {
		return filepath.Clean(target)
	}
	return filepath.Clean(filepath.Join(ExecutableDir(), target))
}
