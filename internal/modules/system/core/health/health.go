// Package health serves liveness and operator endpoints.
package health

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/insight/internal/pkg/cron"
	"github.com/mx-space/insight/internal/pkg/response"
)

// Pinger checks the database connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

type logItem struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Modified int64  `json:"modified"`
}

// Handler serves /health and the admin cron and log endpoints under it.
type Handler struct {
	db     Pinger
	sched  *cron.Scheduler
	logDir string
}

func NewHandler(db Pinger, sched *cron.Scheduler, logDir string) *Handler {
	return &Handler{db: db, sched: sched, logDir: logDir}
}

// RegisterRoutes mounts the public probe and the admin group guarded by authMW.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW ...gin.HandlerFunc) {
	rg.GET("/health", h.probe)

	admin := rg.Group("/health", authMW...)
	admin.GET("/cron", h.listJobs)
	admin.POST("/cron/run/:name", h.runJob)
	admin.GET("/log", h.listLogs)
	admin.GET("/log/:filename", h.readLog)
}

func (h *Handler) probe(c *gin.Context) {
	dbOK := h.db.Ping(c.Request.Context()) == nil
	status, code := "ok", http.StatusOK
	if !dbOK {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "database": dbOK})
}

func (h *Handler) listJobs(c *gin.Context) {
	response.OK(c, h.sched.List())
}

func (h *Handler) runJob(c *gin.Context) {
	err := h.sched.Run(c.Request.Context(), c.Param("name"))
	switch {
	case errors.Is(err, cron.ErrJobNotFound):
		response.NotFoundMsg(c, err.Error())
	case errors.Is(err, cron.ErrJobRunning):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"ok": 0, "code": http.StatusConflict, "message": err.Error()})
	case err != nil:
		response.InternalError(c, err)
	default:
		response.OK(c, gin.H{"message": "job finished"})
	}
}

func (h *Handler) listLogs(c *gin.Context) {
	entries, err := os.ReadDir(h.logDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			response.OK(c, []logItem{})
			return
		}
		response.InternalError(c, err)
		return
	}
	items := make([]logItem, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		items = append(items, logItem{Filename: entry.Name(), Size: info.Size(), Modified: info.ModTime().UnixMilli()})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Modified > items[j].Modified })
	response.OK(c, items)
}

func (h *Handler) readLog(c *gin.Context) {
	name := filepath.Base(strings.TrimSpace(c.Param("filename")))
	if name == "." || name == string(filepath.Separator) || !strings.HasSuffix(name, ".log") {
		response.BadRequest(c, "invalid log filename")
		return
	}
	data, err := os.ReadFile(filepath.Join(h.logDir, name))
	if err != nil {
		response.NotFoundMsg(c, "log file not found")
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", data)
}
