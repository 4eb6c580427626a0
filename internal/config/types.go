package config

import "time"

// AppConfig holds runtime startup configuration loaded from YAML.
type AppConfig struct {
	Port           int                   `yaml:"port"`
	DSN            string                `yaml:"dsn"`
	RedisURL       string                `yaml:"redis_url"`
	Database       DatabaseRuntimeConfig `yaml:"database"`
	Redis          RedisRuntimeConfig    `yaml:"redis"`
	Env            string                `yaml:"env"` // "development" | "production"
	Paths          RuntimePathsConfig    `yaml:"paths"`
	AllowedOrigins []string              `yaml:"allowed_origins"`
	JWTSecret      string                `yaml:"jwt_secret"`
	Analytics      AnalyticsConfig       `yaml:"analytics"`
	Archive        ArchiveConfig         `yaml:"archive"`
	Site           SiteConfig            `yaml:"site"`
}

type DatabaseRuntimeConfig struct {
	Driver    string            `yaml:"driver"`
	DSN       string            `yaml:"dsn"`
	Host      string            `yaml:"host"`
	Port      int               `yaml:"port"`
	User      string            `yaml:"user"`
	Password  string            `yaml:"password"`
	Name      string            `yaml:"name"`
	Charset   string            `yaml:"charset"`
	ParseTime bool              `yaml:"parse_time"`
	Loc       string            `yaml:"loc"`
	SSLMode   string            `yaml:"ssl_mode"`
	Params    map[string]string `yaml:"params"`
}

type RedisRuntimeConfig struct {
	Enable   bool              `yaml:"enable"`
	URL      string            `yaml:"url"`
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
	DB       int               `yaml:"db"`
	TLS      bool              `yaml:"tls"`
	Scheme   string            `yaml:"scheme"`
	Params   map[string]string `yaml:"params"`
}

type RuntimePathsConfig struct {
	Logs string `yaml:"logs"`
}

// AnalyticsConfig tunes the tracking pipeline.
type AnalyticsConfig struct {
	SkipPaths        []string      `yaml:"skip_paths"`
	TrackOnlyPublic  bool          `yaml:"track_only_public"`
	SkipBots         bool          `yaml:"skip_bots"`
	SkipAdmins       bool          `yaml:"skip_admins"`
	SkipAssets       bool          `yaml:"skip_assets"`
	SessionTimeout   time.Duration `yaml:"session_timeout"`
	RealtimeInterval time.Duration `yaml:"realtime_interval"`
	GeoIPDB          string        `yaml:"geoip_db"`
	DistributedLock  bool          `yaml:"distributed_lock"`
	RetentionDays    int           `yaml:"retention_days"`
	Workers          int           `yaml:"workers"`
	QueueSize        int           `yaml:"queue_size"`
	RateLimit        float64       `yaml:"rate_limit"` // jobs per second, 0 disables
	JobTimeout       time.Duration `yaml:"job_timeout"`
}

// SiteConfig is the tracked site served behind the tracking middleware.
// Root serves files from disk, Upstream proxies to another origin. At most
// one is set; with neither, unmatched routes answer 404.
type SiteConfig struct {
	Root     string `yaml:"root"`
	Index    string `yaml:"index"`
	Upstream string `yaml:"upstream"`
}

func (c SiteConfig) Enabled() bool { return c.Root != "" || c.Upstream != "" }

// ArchiveConfig points the daily export job at an S3 compatible bucket.
type ArchiveConfig struct {
	Enable          bool   `yaml:"enable"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Prefix          string `yaml:"prefix"`
	PathStyle       bool   `yaml:"path_style"`
}

type rawAppConfig struct {
	Port               int                `yaml:"port"`
	DSN                string             `yaml:"dsn"`
	DatabaseURL        string             `yaml:"database_url"`
	RedisURL           string             `yaml:"redis_url"`
	Database           rawDatabaseConfig  `yaml:"database"`
	Redis              rawRedisConfig     `yaml:"redis"`
	Env                string             `yaml:"env"`
	Paths              rawPathsConfig     `yaml:"paths"`
	LogDir             string             `yaml:"log_dir"`
	AllowedOrigins     []string           `yaml:"allowed_origins"`
	CORSAllowedOrigins []string           `yaml:"cors_allowed_origins"`
	JWTSecret          string             `yaml:"jwt_secret"`
	Analytics          rawAnalyticsConfig `yaml:"analytics"`
	Archive            rawArchiveConfig   `yaml:"archive"`
	Site               rawSiteConfig      `yaml:"site"`
}

type rawDatabaseConfig struct {
	Driver    string            `yaml:"driver"`
	DSN       string            `yaml:"dsn"`
	URL       string            `yaml:"url"`
	Host      string            `yaml:"host"`
	Port      int               `yaml:"port"`
	User      string            `yaml:"user"`
	Username  string            `yaml:"username"`
	Password  string            `yaml:"password"`
	Name      string            `yaml:"name"`
	DBName    string            `yaml:"db_name"`
	Charset   string            `yaml:"charset"`
	ParseTime *bool             `yaml:"parse_time"`
	Loc       string            `yaml:"loc"`
	SSLMode   string            `yaml:"ssl_mode"`
	Params    map[string]string `yaml:"params"`
}

type rawRedisConfig struct {
	Enable   *bool             `yaml:"enable"`
	URL      string            `yaml:"url"`
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
	DB       *int              `yaml:"db"`
	TLS      *bool             `yaml:"tls"`
	Scheme   string            `yaml:"scheme"`
	Params   map[string]string `yaml:"params"`
}

type rawPathsConfig struct {
	Logs string `yaml:"logs"`
}

type rawAnalyticsConfig struct {
	SkipPaths        []string `yaml:"skip_paths"`
	TrackOnlyPublic  *bool    `yaml:"track_only_public"`
	SkipBots         *bool    `yaml:"skip_bots"`
	SkipAdmins       *bool    `yaml:"skip_admins"`
	SkipAssets       *bool    `yaml:"skip_assets"`
	SessionTimeout   string   `yaml:"session_timeout"`
	RealtimeInterval string   `yaml:"realtime_interval"`
	GeoIPDB          string   `yaml:"geoip_db"`
	DistributedLock  *bool    `yaml:"distributed_lock"`
	RetentionDays    *int     `yaml:"retention_days"`
	Workers          int      `yaml:"workers"`
	QueueSize        int      `yaml:"queue_size"`
	RateLimit        *float64 `yaml:"rate_limit"`
	JobTimeout       string   `yaml:"job_timeout"`
}

type rawArchiveConfig struct {
	Enable          *bool  `yaml:"enable"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Prefix          string `yaml:"prefix"`
	PathStyle       *bool  `yaml:"path_style"`
}

type rawSiteConfig struct {
	Root     string `yaml:"root"`
	Index    string `yaml:"index"`
	Upstream string `yaml:"upstream"`
}
