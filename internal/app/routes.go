package app

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mx-space/insight/internal/middleware"
	"github.com/mx-space/insight/internal/models"
	"github.com/mx-space/insight/internal/modules/gateway/gateway"
	"github.com/mx-space/insight/internal/modules/stats/analyze"
	"github.com/mx-space/insight/internal/modules/stats/ingest"
	"github.com/mx-space/insight/internal/modules/system/core/health"
	"github.com/mx-space/insight/internal/pkg/response"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var pageMetaHeaders = []string{"X-Page-Title", "X-Time-Spent", "X-Scroll-Depth", "X-Load-Time", "X-Exit-Page"}

func (a *App) buildRouter() {
	if a.cfg.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(a.logger.Named("HTTP")))

	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     append([]string{"Origin", "Content-Type", "Authorization"}, pageMetaHeaders...),
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "X-Active-Visitors"},
		AllowCredentials: true,
	}
	if len(a.cfg.AllowedOrigins) > 0 && !a.cfg.IsDev() {
		patterns := a.cfg.AllowedOrigins
		corsConfig.AllowOriginFunc = func(origin string) bool {
			return allowOrigin(patterns, origin)
		}
	} else {
		corsConfig.AllowOriginFunc = func(origin string) bool { return true }
	}
	router.Use(cors.New(corsConfig))
	router.Use(a.tracker.Middleware())
	a.router = router
}

func (a *App) registerRoutes() {
	r := a.router
	requireAdmin := middleware.RequireAdmin(a.verifier)

	r.NoRoute(
		a.tracker.EventMiddleware(ingest.EventSpec{
			Type:      models.EventNavigation,
			Category:  "navigation",
			Action:    "not_found",
			MinStatus: 404,
		}),
		a.serveSite,
	)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	gateway.RegisterRoutes(r, a.hub)

	api := r.Group("/api")
	health.NewHandler(a.reports, a.sched, a.cfg.LogDir()).RegisterRoutes(api, requireAdmin)

	adminMW := make([]gin.HandlerFunc, 0, 3)
	if a.rc != nil {
		adminMW = append(adminMW, middleware.RateLimit(a.rc, 0, 0, a.logger))
	}
	adminMW = append(adminMW, requireAdmin, middleware.ActiveVisitorsHeader(a.broadcaster))
	analyze.NewHandler(a.reports, a.exec, a.broadcaster, a.logger).RegisterRoutes(api, adminMW...)
}

// serveSite answers unmatched routes with the tracked site, or 404 without one.
func (a *App) serveSite(c *gin.Context) {
	if a.site == nil {
		response.NotFound(c)
		return
	}
	a.site.Serve(c)
}
