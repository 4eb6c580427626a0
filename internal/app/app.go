package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/insight/internal/config"
	"github.com/mx-space/insight/internal/database"
	"github.com/mx-space/insight/internal/middleware"
	"github.com/mx-space/insight/internal/modules/auth/auth"
	"github.com/mx-space/insight/internal/modules/gateway/gateway"
	"github.com/mx-space/insight/internal/modules/gateway/pageproxy"
	"github.com/mx-space/insight/internal/modules/stats/geo"
	"github.com/mx-space/insight/internal/modules/stats/ingest"
	"github.com/mx-space/insight/internal/modules/stats/report"
	"github.com/mx-space/insight/internal/modules/stats/store"
	"github.com/mx-space/insight/internal/modules/storage/archive"
	pkgcron "github.com/mx-space/insight/internal/pkg/cron"
	jwtpkg "github.com/mx-space/insight/internal/pkg/jwt"
	"github.com/mx-space/insight/internal/pkg/locker"
	pkgredis "github.com/mx-space/insight/internal/pkg/redis"
	"github.com/mx-space/insight/internal/pkg/taskqueue"
	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App holds all application dependencies.
type App struct {
	cfg    *config.AppConfig
	router *gin.Engine
	db     *gorm.DB
	rc     *pkgredis.Client
	geo    *geo.MMDB
	logger *zap.Logger

	verifier    *auth.Verifier
	store       *store.Store
	tracker     *ingest.Tracker
	reports     *report.Service
	exec        *taskqueue.Executor
	broadcaster *gateway.Broadcaster
	hub         *gateway.Hub
	site        *pageproxy.Handler
	sched       *pkgcron.Scheduler
	archiver    *archive.Archiver

	sup    *suture.Supervisor
	cancel context.CancelFunc
	done   <-chan error
}

// New initializes the application: config → DB → Redis → pipeline → routes.
func New(logger *zap.Logger, cfg *config.AppConfig) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	a := &App{cfg: cfg, logger: logger}

	db, err := database.Connect(cfg, true)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	a.db = db

	if cfg.Redis.Enable {
		rc, err := pkgredis.Connect(context.Background(), cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.rc = rc
	}

	if strings.TrimSpace(cfg.JWTSecret) == "" {
		logger.Warn("jwt_secret is empty, using built-in default secret")
	}
	a.verifier = auth.NewVerifier(jwtpkg.NewManager(cfg.JWTSecret))

	a.buildPipeline()
	if err := a.buildArchive(); err != nil {
		return nil, err
	}
	if cfg.Site.Enabled() {
		site, err := pageproxy.NewHandler(cfg.Site, logger)
		if err != nil {
			return nil, err
		}
		a.site = site
		logger.Info("serving tracked site", zap.String("mode", site.Mode()), zap.String("root", cfg.Site.Root), zap.String("upstream", cfg.Site.Upstream))
	} else {
		logger.Warn("no site configured, only the analytics API is served")
	}

	a.sched = pkgcron.New(logger)
	a.registerCronJobs()

	a.buildRouter()
	a.registerRoutes()

	a.sup = suture.New("insight", suture.Spec{
		EventHook: supervisorHook(logger.Named("Supervisor")),
		Timeout:   10 * time.Second,
	})
	a.sup.Add(a.exec)
	a.sup.Add(a.broadcaster)
	a.sup.Add(a.sched)
	return a, nil
}

func (a *App) buildPipeline() {
	acfg := a.cfg.Analytics

	var lookup geo.Lookup
	if path := strings.TrimSpace(acfg.GeoIPDB); path != "" {
		mmdb, err := geo.OpenMMDB(path)
		if err != nil {
			a.logger.Warn("geoip database unavailable, using placeholder locations", zap.String("path", path), zap.Error(err))
		} else {
			a.geo = mmdb
			lookup = mmdb
		}
	}

	var lock locker.Locker = locker.NewKeyed()
	if acfg.DistributedLock {
		if a.rc == nil {
			a.logger.Warn("distributed_lock needs redis, falling back to in-process locks")
		} else {
			lock = locker.Chain(lock, locker.NewRedis(a.rc, locker.RedisOptions{}))
		}
	}

	a.store = store.New(a.db, store.Options{
		Locker:         lock,
		SessionTimeout: acfg.SessionTimeout,
		Logger:         a.logger,
	})
	service := ingest.NewService(a.store, geo.NewResolver(lookup, a.logger), ingest.Options{Logger: a.logger})

	a.exec = taskqueue.NewExecutor(taskqueue.Options{
		Workers:      acfg.Workers,
		QueueSize:    acfg.QueueSize,
		RateLimit:    acfg.RateLimit,
		JobTimeout:   acfg.JobTimeout,
		IsSuccessful: ingest.Benign,
		Logger:       a.logger,
	})

	policy := ingest.Policy{
		SkipPaths:       acfg.SkipPaths,
		TrackOnlyPublic: acfg.TrackOnlyPublic,
		SkipBots:        acfg.SkipBots,
		SkipAdmins:      acfg.SkipAdmins,
		SkipAssets:      acfg.SkipAssets,
	}
	a.tracker = ingest.NewTracker(service, a.exec, policy, middleware.AdminDetector(a.verifier), a.logger)

	a.reports = report.NewService(a.db, nil, a.logger)
	a.broadcaster = gateway.NewBroadcaster(a.verifier, a.reports, acfg.RealtimeInterval, a.logger)
	a.hub = gateway.NewHub(a.broadcaster, a.logger)
}

func (a *App) buildArchive() error {
	if !a.cfg.Archive.Enable {
		return nil
	}
	client, err := archive.NewS3Client(a.cfg.Archive)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	a.archiver = archive.New(client, a.store, a.cfg.Archive.Bucket, a.cfg.Archive.Prefix, a.logger)
	return nil
}

// Start runs the background services until Shutdown.
func (a *App) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = a.sup.ServeBackground(ctx)
}

// Addr returns the listen address.
func (a *App) Addr() string { return fmt.Sprintf(":%d", a.cfg.Port) }

// Router returns the HTTP handler.
func (a *App) Router() http.Handler { return a.router }

// Shutdown stops the background services, then releases connections.
func (a *App) Shutdown() {
	if a.cancel != nil {
		a.cancel()
		if err := <-a.done; err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("supervisor stopped", zap.Error(err))
		}
	}
	a.hub.Close()
	if a.geo != nil {
		_ = a.geo.Close()
	}
	if a.rc != nil {
		_ = a.rc.Close()
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
