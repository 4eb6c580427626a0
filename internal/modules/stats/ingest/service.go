// Package ingest records page views and interaction events off the request path.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/mx-space/insight/internal/models"
	"github.com/mx-space/insight/internal/modules/stats/device"
	"github.com/mx-space/insight/internal/modules/stats/fingerprint"
	"github.com/mx-space/insight/internal/modules/stats/geo"
	"github.com/mx-space/insight/internal/modules/stats/store"
	"github.com/mx-space/insight/internal/pkg/metrics"
	"go.uber.org/zap"
)

// MaxCustomDataBytes caps the encoded custom_data of one event.
const MaxCustomDataBytes = 5000

var (
	// ErrNotFound means the event has no known visitor or active session yet.
	// Event tracking must follow at least one page view of the same fingerprint.
	ErrNotFound = errors.New("ingest: visitor or session not found")
	// ErrInvalidEvent wraps event input validation failures.
	ErrInvalidEvent = errors.New("ingest: invalid event")
)

// AnalyticsData summarizes one tracked page view.
type AnalyticsData struct {
	VisitorID  string           `json:"visitor_id"`
	SessionID  string           `json:"session_id"`
	NewVisitor bool             `json:"new_visitor"`
	NewSession bool             `json:"new_session"`
	Device     device.Info      `json:"device"`
	Location   geo.Location     `json:"location"`
	PageView   *models.PageView `json:"page_view"`
}

// EventInput is a client or server reported interaction.
type EventInput struct {
	EventType     models.EventType `json:"event_type"     validate:"required,oneof=click scroll form_submit form_error download video_play video_pause search share contact navigation error performance custom"`
	EventCategory string           `json:"event_category" validate:"required,max=100"`
	EventAction   string           `json:"event_action"   validate:"required,max=100"`
	EventLabel    string           `json:"event_label"    validate:"max=200"`
	EventValue    *float64         `json:"event_value"`
	CustomData    map[string]any   `json:"custom_data"`
	Path          string           `json:"path"           validate:"max=512"`
	SessionID     string           `json:"session_id"     validate:"omitempty,max=32"`
	VisitorID     string           `json:"visitor_id"     validate:"omitempty,max=32"`
}

// Options configures a Service.
type Options struct {
	Fingerprint fingerprint.Generator
	Now         func() time.Time
	Logger      *zap.Logger
}

// Service turns request snapshots into stored analytics rows.
type Service struct {
	store    *store.Store
	geo      *geo.Resolver
	gen      fingerprint.Generator
	validate *validator.Validate
	now      func() time.Time
	logger   *zap.Logger
}

func NewService(st *store.Store, resolver *geo.Resolver, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if resolver == nil {
		resolver = geo.NewResolver(nil, opts.Logger)
	}
	return &Service{
		store:    st,
		geo:      resolver,
		gen:      opts.Fingerprint,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      func() time.Time { return opts.Now().UTC() },
		logger:   opts.Logger.Named("Ingest"),
	}
}

// TrackPageView records one page view. Store errors are returned for the
// caller to log; nothing is retried.
func (s *Service) TrackPageView(ctx context.Context, req Request, meta PageMeta) (*AnalyticsData, error) {
	attrs := req.Attributes()
	id := s.gen.Identify(attrs)
	info := device.Classify(attrs.UserAgent)
	loc := s.geo.Resolve(attrs.IP)
	utm := req.UTM()
	path := normalizePath(req.Path)

	visitor, newVisitor, err := s.store.Visitors.Upsert(ctx, store.VisitorInput{
		VisitorID: id.VisitorID,
		IPAddress: attrs.IP,
		UserAgent: attrs.UserAgent,
		Language:  device.Language(attrs.AcceptLanguage),
		Device:    info,
		Location:  loc,
		UTM:       utm,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert visitor: %w", err)
	}

	session, newSession, err := s.store.Sessions.Resolve(ctx, store.SessionInput{
		VisitorID: id.VisitorID,
		SessionID: id.SessionID,
		Path:      path,
		Referrer:  req.Referrer(),
		UTM:       utm,
		Device:    info,
		Location:  loc,
	})
	if err != nil {
		return nil, err
	}

	pv := &models.PageView{
		SessionID:   session.SessionID,
		VisitorID:   id.VisitorID,
		URL:         req.URL(),
		Path:        path,
		Title:       meta.Title,
		Referrer:    req.Referrer(),
		TimeSpent:   meta.TimeSpent,
		ScrollDepth: meta.ScrollDepth,
		LoadTime:    meta.LoadTime,
		ExitPage:    meta.ExitPage,
		Timestamp:   s.now(),
		IPAddress:   attrs.IP,
		UserAgent:   attrs.UserAgent,
	}
	if err := s.store.CreatePageView(ctx, pv); err != nil {
		return nil, fmt.Errorf("create page view: %w", err)
	}

	if err := s.store.Visitors.IncrementPageViews(ctx, visitor.ID); err != nil {
		return nil, fmt.Errorf("count visitor page view: %w", err)
	}
	if err := s.store.Sessions.RecordPageView(ctx, session.ID, path); err != nil {
		return nil, fmt.Errorf("count session page view: %w", err)
	}
	metrics.PageViewsTracked.Inc()

	return &AnalyticsData{
		VisitorID:  id.VisitorID,
		SessionID:  session.SessionID,
		NewVisitor: newVisitor,
		NewSession: newSession,
		Device:     info,
		Location:   loc,
		PageView:   pv,
	}, nil
}

// TrackEvent records an interaction for a visitor that already has an
// active session. Otherwise it returns ErrNotFound and writes nothing.
func (s *Service) TrackEvent(ctx context.Context, req Request, in EventInput) (*models.AnalyticsEvent, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if len(in.CustomData) > 0 {
		encoded, err := json.Marshal(in.CustomData)
		if err != nil {
			return nil, fmt.Errorf("%w: custom_data: %v", ErrInvalidEvent, err)
		}
		if len(encoded) > MaxCustomDataBytes {
			return nil, fmt.Errorf("%w: custom_data is %d bytes, limit %d", ErrInvalidEvent, len(encoded), MaxCustomDataBytes)
		}
	}

	visitorID := in.VisitorID
	if visitorID == "" {
		visitorID = fingerprint.VisitorID(req.Attributes())
	}
	if _, err := s.store.Visitors.Find(ctx, visitorID); err != nil {
		return nil, notFound(err)
	}
	session, err := s.store.Sessions.FindActive(ctx, visitorID, in.SessionID)
	if err != nil {
		return nil, notFound(err)
	}

	path := in.Path
	if path == "" {
		path = normalizePath(req.Path)
	}
	event := &models.AnalyticsEvent{
		SessionID:     session.SessionID,
		VisitorID:     visitorID,
		EventType:     in.EventType,
		EventCategory: in.EventCategory,
		EventAction:   in.EventAction,
		EventLabel:    in.EventLabel,
		EventValue:    in.EventValue,
		CustomData:    in.CustomData,
		Path:          path,
		Timestamp:     s.now(),
	}
	if err := s.store.CreateEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	if err := s.store.Sessions.Touch(ctx, session.ID); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	metrics.EventsTracked.Inc()
	return event, nil
}

func notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if runes := []rune(p); len(runes) > 512 {
		p = string(runes[:512])
	}
	return p
}
