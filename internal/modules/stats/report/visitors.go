package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mx-space/insight/internal/models"
	"github.com/mx-space/insight/internal/pkg/metrics"
	"github.com/mx-space/insight/internal/pkg/pagination"
	"github.com/mx-space/insight/internal/pkg/response"
	"gorm.io/gorm"
)

// ErrNotFound is returned by detail reports for unknown ids.
var ErrNotFound = errors.New("report: not found")

// VisitorFilter narrows the visitor list. Zero fields are ignored.
type VisitorFilter struct {
	Country    string
	DeviceType string
	Range      *DateRange
}

// VisitorDetail is one visitor with its latest activity.
type VisitorDetail struct {
	Visitor   models.Visitor          `json:"visitor"`
	Sessions  []models.Session        `json:"sessions"`
	PageViews []models.PageView       `json:"page_views"`
	Events    []models.AnalyticsEvent `json:"events"`
}

// SessionFilter narrows the session list.
type SessionFilter struct {
	VisitorID string
	Active    *bool
}

// JourneyStep is one page view or event in a session timeline.
type JourneyStep struct {
	Kind      string                 `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	Path      string                 `json:"path"`
	PageView  *models.PageView       `json:"page_view,omitempty"`
	Event     *models.AnalyticsEvent `json:"event,omitempty"`
}

// SessionDetail is a session, its visitor and the merged timeline.
type SessionDetail struct {
	Session models.Session  `json:"session"`
	Visitor *models.Visitor `json:"visitor"`
	Journey []JourneyStep   `json:"journey"`
}

// ListVisitors pages non-bot visitors, most recently seen first.
func (s *Service) ListVisitors(ctx context.Context, f VisitorFilter, q pagination.Query) ([]models.Visitor, response.Pagination, error) {
	defer metrics.ObserveReport("visitors", time.Now())

	tx := s.db.WithContext(ctx).Model(&models.Visitor{}).Where("is_bot = ?", false)
	if f.Country != "" {
		tx = tx.Where("country = ?", f.Country)
	}
	if f.DeviceType != "" {
		tx = tx.Where("device_type = ?", f.DeviceType)
	}
	if f.Range != nil {
		tx = tx.Where("last_visit >= ? AND last_visit <= ?", f.Range.Start, f.Range.End)
	}

	var rows []models.Visitor
	pag, err := pagination.Paginate(tx.Order("last_visit DESC, id ASC"), q, &rows)
	if err != nil {
		return nil, response.Pagination{}, fmt.Errorf("list visitors: %w", err)
	}
	return nonNil(rows), pag, nil
}

// Visitor returns a visitor with its last 10 sessions, 50 page views and 20 events.
func (s *Service) Visitor(ctx context.Context, visitorID string) (*VisitorDetail, error) {
	defer metrics.ObserveReport("visitor_detail", time.Now())

	db := s.db.WithContext(ctx)
	out := &VisitorDetail{}
	if err := db.Where("visitor_id = ?", visitorID).Take(&out.Visitor).Error; err != nil {
		return nil, lookupErr("visitor", err)
	}
	if err := db.Where("visitor_id = ?", visitorID).Order("session_start DESC").Limit(10).Find(&out.Sessions).Error; err != nil {
		return nil, fmt.Errorf("visitor sessions: %w", err)
	}
	if err := db.Where("visitor_id = ?", visitorID).Order("timestamp DESC").Limit(50).Find(&out.PageViews).Error; err != nil {
		return nil, fmt.Errorf("visitor page views: %w", err)
	}
	if err := db.Where("visitor_id = ?", visitorID).Order("timestamp DESC").Limit(20).Find(&out.Events).Error; err != nil {
		return nil, fmt.Errorf("visitor events: %w", err)
	}
	out.Sessions = nonNil(out.Sessions)
	out.PageViews = nonNil(out.PageViews)
	out.Events = nonNil(out.Events)
	return out, nil
}

// ListSessions pages sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, f SessionFilter, q pagination.Query) ([]models.Session, response.Pagination, error) {
	defer metrics.ObserveReport("sessions", time.Now())

	tx := s.db.WithContext(ctx).Model(&models.Session{})
	if f.VisitorID != "" {
		tx = tx.Where("visitor_id = ?", f.VisitorID)
	}
	if f.Active != nil {
		tx = tx.Where("is_active = ?", *f.Active)
	}
	var rows []models.Session
	pag, err := pagination.Paginate(tx.Order("session_start DESC, id ASC"), q, &rows)
	if err != nil {
		return nil, response.Pagination{}, fmt.Errorf("list sessions: %w", err)
	}
	return nonNil(rows), pag, nil
}

// Session returns a session with its visitor and its page views and events
// merged by timestamp.
func (s *Service) Session(ctx context.Context, sessionID string) (*SessionDetail, error) {
	defer metrics.ObserveReport("session_detail", time.Now())

	db := s.db.WithContext(ctx)
	out := &SessionDetail{}
	if err := db.Where("session_id = ?", sessionID).Take(&out.Session).Error; err != nil {
		return nil, lookupErr("session", err)
	}
	var visitor models.Visitor
	err := db.Where("visitor_id = ?", out.Session.VisitorID).Take(&visitor).Error
	switch {
	case err == nil:
		out.Visitor = &visitor
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("session visitor: %w", err)
	}

	var views []models.PageView
	if err := db.Where("session_id = ?", sessionID).Order("timestamp ASC").Find(&views).Error; err != nil {
		return nil, fmt.Errorf("session page views: %w", err)
	}
	var events []models.AnalyticsEvent
	if err := db.Where("session_id = ?", sessionID).Order("timestamp ASC").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("session events: %w", err)
	}

	out.Journey = make([]JourneyStep, 0, len(views)+len(events))
	for i := range views {
		out.Journey = append(out.Journey, JourneyStep{Kind: "pageview", Timestamp: views[i].Timestamp, Path: views[i].Path, PageView: &views[i]})
	}
	for i := range events {
		out.Journey = append(out.Journey, JourneyStep{Kind: "event", Timestamp: events[i].Timestamp, Path: events[i].Path, Event: &events[i]})
	}
	sort.SliceStable(out.Journey, func(i, j int) bool {
		return out.Journey[i].Timestamp.Before(out.Journey[j].Timestamp)
	})
	return out, nil
}

func lookupErr(what string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("find %s: %w", what, err)
}
