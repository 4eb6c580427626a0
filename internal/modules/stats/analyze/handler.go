// Package analyze serves the admin analytics API.
package analyze

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/insight/internal/models"
	"github.com/mx-space/insight/internal/modules/stats/report"
	"github.com/mx-space/insight/internal/pkg/pagination"
	"github.com/mx-space/insight/internal/pkg/response"
	"github.com/mx-space/insight/internal/pkg/taskqueue"
	"go.uber.org/zap"
)

// ExecutorStats exposes the tracking executor state.
type ExecutorStats interface {
	Stats() taskqueue.Stats
}

// ConnectionCounter reports the number of realtime observers.
type ConnectionCounter interface {
	Count() int
}

// Handler exposes analytics endpoints to admin users.
type Handler struct {
	reports *report.Service
	exec    ExecutorStats
	conns   ConnectionCounter
	logger  *zap.Logger
}

func NewHandler(reports *report.Service, exec ExecutorStats, conns ConnectionCounter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{reports: reports, exec: exec, conns: conns, logger: logger.Named("Analyze")}
}

// RegisterRoutes mounts the admin endpoints under /analytics.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, mws ...gin.HandlerFunc) {
	g := rg.Group("/analytics", mws...)
	g.GET("/dashboard", h.dashboard)
	g.GET("/visitors", h.visitors)
	g.GET("/visitors/:visitorId", h.visitor)
	g.GET("/sessions", h.sessions)
	g.GET("/sessions/:sessionId", h.session)
	g.GET("/pages", h.pages)
	g.GET("/pages/popular", h.popularPages)
	g.GET("/realtime", h.realtime)
	g.GET("/realtime/visitors", h.activeVisitors)
	g.GET("/events", h.events)
	g.GET("/events/summary", h.eventSummary)
	g.GET("/geo/countries", h.countries)
	g.GET("/geo/cities", h.cities)
	g.GET("/devices", h.devices)
	g.GET("/devices/browsers", h.browsers)
	g.GET("/sources", h.sources)
	g.GET("/sources/referrers", h.referrers)
	g.GET("/trends", h.trends)
	g.GET("/bots", h.bots)
	g.GET("/export", h.export)
	g.GET("/health", h.health)
}

// dateRange reads startDate/endDate. It writes the 400 itself on failure.
func (h *Handler) dateRange(c *gin.Context) (report.DateRange, bool) {
	r, err := report.ParseRange(c.Query("startDate"), c.Query("endDate"), h.reports.Now())
	if err != nil {
		response.BadRequest(c, err.Error())
		return report.DateRange{}, false
	}
	return r, true
}

// optionalRange is nil when neither bound is given.
func (h *Handler) optionalRange(c *gin.Context) (*report.DateRange, bool) {
	if c.Query("startDate") == "" && c.Query("endDate") == "" {
		return nil, true
	}
	r, ok := h.dateRange(c)
	if !ok {
		return nil, false
	}
	return &r, true
}

func limitParam(c *gin.Context, def, max int) (int, bool) {
	limit, err := pagination.LimitParam(c, def, max)
	if err != nil {
		response.BadRequest(c, err.Error())
		return 0, false
	}
	return limit, true
}

func pageParam(c *gin.Context) (pagination.Query, bool) {
	q, err := pagination.FromContext(c)
	if err != nil {
		response.BadRequest(c, err.Error())
		return pagination.Query{}, false
	}
	return q, true
}

func (h *Handler) fail(c *gin.Context, err error) {
	if errors.Is(err, report.ErrNotFound) {
		response.NotFound(c)
		return
	}
	h.logger.Error("report failed", zap.String("path", c.FullPath()), zap.Error(err))
	response.InternalError(c, err)
}

func (h *Handler) dashboard(c *gin.Context) {
	r, ok := h.dateRange(c)
	if !ok {
		return
	}
	stats, err := h.reports.Dashboard(c.Request.Context(), r)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, stats)
}

func (h *Handler) visitors(c *gin.Context) {
	q, ok := pageParam(c)
	if !ok {
		return
	}
	r, ok := h.optionalRange(c)
	if !ok {
		return
	}
	filter := report.VisitorFilter{
		Country:    strings.TrimSpace(c.Query("country")),
		DeviceType: strings.TrimSpace(c.Query("deviceType")),
		Range:      r,
	}
	rows, page, err := h.reports.ListVisitors(c.Request.Context(), filter, q)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Paged(c, rows, page)
}

func (h *Handler) visitor(c *gin.Context) {
	detail, err := h.reports.Visitor(c.Request.Context(), c.Param("visitorId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, detail)
}

func (h *Handler) sessions(c *gin.Context) {
	q, ok := pageParam(c)
	if !ok {
		return
	}
	filter := report.SessionFilter{VisitorID: strings.TrimSpace(c.Query("visitorId"))}
	if raw := c.Query("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			response.BadRequest(c, "active must be true or false")
			return
		}
		filter.Active = &active
	}
	rows, page, err := h.reports.ListSessions(c.Request.Context(), filter, q)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Paged(c, rows, page)
}

func (h *Handler) session(c *gin.Context) {
	detail, err := h.reports.Session(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, detail)
}

func (h *Handler) pages(c *gin.Context) {
	r, ok := h.dateRange(c)
	if !ok {
		return
	}
	limit, ok := limitParam(c, 20, 50)
	if !ok {
		return
	}
	rows, err := h.reports.Pages(c.Request.Context(), r, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, rows)
}

func (h *Handler) popularPages(c *gin.Context) {
	limit, ok := limitParam(c, 10, 50)
	if !ok {
		return
	}
	rows, err := h.reports.PopularPages(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, rows)
}

func (h *Handler) realtime(c *gin.Context) {
	stats, err := h.reports.Realtime(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, stats)
}

func (h *Handler) activeVisitors(c *gin.Context) {
	limit, ok := limitParam(c, 50, 100)
	if !ok {
		return
	}
	rows, err := h.reports.ActiveSessions(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, rows)
}

func (h *Handler) events(c *gin.Context) {
	q, ok := pageParam(c)
	if !ok {
		return
	}
	r, ok := h.optionalRange(c)
	if !ok {
		return
	}
	filter := report.EventFilter{Range: r}
	if raw := strings.TrimSpace(c.Query("eventType")); raw != "" {
		filter.Type = models.EventType(raw)
		if !filter.Type.Valid() {
			response.BadRequest(c, "unknown eventType "+strconv.Quote(raw))
			return
		}
	}
	rows, page, err := h.reports.ListEvents(c.Request.Context(), filter, q)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Paged(c, rows, page)
}

func (h *Handler) eventSummary(c *gin.Context) {
	r, ok := h.dateRange(c)
	if !ok {
		return
	}
	rows, err := h.reports.EventSummary(c.Request.Context(), r)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, rows)
}

func (h *Handler) countries(c *gin.Context) {
	r, ok := h.dateRange(c)
	if !ok {
		return
	}
	limit, ok := limitParam(c, 10, 20)
	if !ok {
		return
	}
	rows, err := h.reports.Countries(c.Request.Context(), r, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, rows)
}

func (h *Handler) cities(c *gin.Context) {
	r, ok := h.dateRange(c)
	if !ok {
		return
	}
	limit, ok := limitParam(c, 20, 50)
	if !ok {
		return
	}
	rows, err := h.reports.Cities(c.Request.Context(), r, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, rows)
}

func (h *Handler) devices(c *gin.Context) {
	r, ok := h.dateRange(c)
	if !ok {
		return
	}
	stats, err := h.reports.Devices(c.Request.Context(), r)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, stats)
}

func (h *Handler) browsers(c *gin.Context) {
	r, ok := h.dateRange(c)
	if !ok {
		return
	}
	rows, err := h.reports.Browsers(c.Request.Context(), r)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, rows)
}

func (h *Handler) sources(c *gin.Context) {
	r, ok := h.dateRange(c)
	if !ok {
		return
	}
	rows, err := h.reports.Sources(c.Request.Context(), r)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, rows)
}

func (h *Handler) referrers(c *gin.Context) {
	r, ok := h.dateRange(c)
	if !ok {
		return
	}
	limit, ok := limitParam(c, 20, 100)
	if !ok {
		return
	}
	rows, err := h.reports.Referrers(c.Request.Context(), r, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, rows)
}

func (h *Handler) trends(c *gin.Context) {
	g, err := report.ParseGranularity(c.Query("granularity"))
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	r, ok := h.dateRange(c)
	if !ok {
		return
	}
	points, err := h.reports.Trends(c.Request.Context(), r, g)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, points)
}

func (h *Handler) bots(c *gin.Context) {
	r, ok := h.dateRange(c)
	if !ok {
		return
	}
	rows, err := h.reports.Bots(c.Request.Context(), r)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, rows)
}

type healthResponse struct {
	Status      string           `json:"status"`
	Database    string           `json:"database"`
	Tables      map[string]int64 `json:"tables"`
	Executor    *taskqueue.Stats `json:"executor,omitempty"`
	Connections int              `json:"connections"`
	Timestamp   time.Time        `json:"timestamp"`
}

func (h *Handler) health(c *gin.Context) {
	ctx := c.Request.Context()
	out := healthResponse{Status: "ok", Database: "up", Timestamp: h.reports.Now()}
	if h.exec != nil {
		stats := h.exec.Stats()
		out.Executor = &stats
	}
	if h.conns != nil {
		out.Connections = h.conns.Count()
	}

	if err := h.reports.Ping(ctx); err != nil {
		h.logger.Warn("database ping failed", zap.Error(err))
		out.Status, out.Database = "degraded", "down"
		c.JSON(http.StatusServiceUnavailable, out)
		return
	}
	tables, err := h.reports.TableCounts(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	out.Tables = tables
	response.OK(c, out)
}
