package ingest

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/insight/internal/models"
	"github.com/mx-space/insight/internal/pkg/metrics"
	"github.com/mx-space/insight/internal/pkg/taskqueue"
	"go.uber.org/zap"
)

// AdminFunc reports whether the request carries a valid admin credential.
type AdminFunc func(c *gin.Context) bool

// Tracker wires the skip policy and the service into gin middleware.
type Tracker struct {
	service *Service
	exec    taskqueue.Submitter
	policy  Policy
	isAdmin AdminFunc
	logger  *zap.Logger
}

func NewTracker(service *Service, exec taskqueue.Submitter, policy Policy, isAdmin AdminFunc, logger *zap.Logger) *Tracker {
	if isAdmin == nil {
		isAdmin = func(*gin.Context) bool { return false }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		service: service,
		exec:    exec,
		policy:  policy,
		isAdmin: isAdmin,
		logger:  logger.Named("Tracker"),
	}
}

// skip evaluates the policy against the live request.
func (t *Tracker) skip(c *gin.Context) bool {
	r := c.Request
	if skip, reason := t.policy.ShouldSkip(r.URL.Path, r.UserAgent(), t.policy.SkipAdmins && t.isAdmin(c)); skip {
		metrics.TrackingSkipped.WithLabelValues(reason).Inc()
		return true
	}
	return false
}

// Middleware records a page view for every trackable response. The snapshot
// is taken before the handler runs; the job never touches the gin context.
func (t *Tracker) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if ok, reason := Trackable(c.Request.Method, 0); !ok {
			metrics.TrackingSkipped.WithLabelValues(reason).Inc()
			c.Next()
			return
		}
		if t.skip(c) {
			c.Next()
			return
		}
		snap := Snapshot(c.Request)
		meta := PageMetaFromHeader(snap.Header)

		c.Next()

		if ok, reason := Trackable(snap.Method, c.Writer.Status()); !ok {
			metrics.TrackingSkipped.WithLabelValues(reason).Inc()
			return
		}
		t.submit("track_page_view", func(ctx context.Context) error {
			_, err := t.service.TrackPageView(ctx, snap, meta)
			return err
		}, snap.Path)
	}
}

// EventSpec describes the event EventMiddleware records.
type EventSpec struct {
	Type     models.EventType
	Category string
	Action   string
	// MinStatus limits recording to responses at or above it. Zero records all.
	MinStatus int
}

// EventMiddleware records spec as an event for known visitors after the
// handler has responded. The request path is the label.
func (t *Tracker) EventMiddleware(spec EventSpec) gin.HandlerFunc {
	return func(c *gin.Context) {
		if t.skip(c) {
			c.Next()
			return
		}
		snap := Snapshot(c.Request)

		c.Next()

		status := c.Writer.Status()
		if spec.MinStatus > 0 && status < spec.MinStatus {
			return
		}
		in := EventInput{
			EventType:     spec.Type,
			EventCategory: spec.Category,
			EventAction:   spec.Action,
			EventLabel:    truncate(snap.Path, 200),
			CustomData:    map[string]any{"method": snap.Method, "status": status},
		}
		t.submit("track_event", func(ctx context.Context) error {
			_, err := t.service.TrackEvent(ctx, snap, in)
			return err
		}, snap.Path)
	}
}

func (t *Tracker) submit(name string, run func(ctx context.Context) error, path string) {
	job := taskqueue.Job{Name: name, Run: func(ctx context.Context) error {
		err := run(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrNotFound):
			t.logger.Debug("tracking target not found", zap.String("job", name), zap.String("path", path))
		default:
			metrics.TrackingFailures.WithLabelValues(name).Inc()
			t.logger.Warn("tracking failed", zap.String("job", name), zap.String("path", path), zap.Error(err))
		}
		return err
	}}
	if err := t.exec.Submit(job); err != nil {
		t.logger.Debug("tracking job not queued", zap.String("job", name), zap.Error(err))
	}
}

// Benign reports errors that say nothing about store health.
func Benign(err error) bool {
	return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidEvent)
}

func truncate(s string, n int) string {
	if runes := []rune(s); len(runes) > n {
		return string(runes[:n])
	}
	return s
}
