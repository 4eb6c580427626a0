package report

import (
	"context"
	"fmt"
	"time"

	"github.com/mx-space/insight/internal/models"
	"github.com/mx-space/insight/internal/pkg/metrics"
	"github.com/mx-space/insight/internal/pkg/pagination"
	"github.com/mx-space/insight/internal/pkg/response"
)

// EventFilter narrows the event list.
type EventFilter struct {
	Type  models.EventType
	Range *DateRange
}

// EventGroup counts events sharing type, category and action.
type EventGroup struct {
	EventType     string `json:"event_type"     gorm:"column:event_type"`
	EventCategory string `json:"event_category" gorm:"column:event_category"`
	EventAction   string `json:"event_action"   gorm:"column:event_action"`
	Count         int64  `json:"count"          gorm:"column:total"`
}

// ListEvents pages events, newest first.
func (s *Service) ListEvents(ctx context.Context, f EventFilter, q pagination.Query) ([]models.AnalyticsEvent, response.Pagination, error) {
	defer metrics.ObserveReport("events", time.Now())

	tx := s.db.WithContext(ctx).Model(&models.AnalyticsEvent{})
	if f.Type != "" {
		tx = tx.Where("event_type = ?", f.Type)
	}
	if f.Range != nil {
		tx = tx.Where("timestamp >= ? AND timestamp <= ?", f.Range.Start, f.Range.End)
	}
	var rows []models.AnalyticsEvent
	pag, err := pagination.Paginate(tx.Order("timestamp DESC, id ASC"), q, &rows)
	if err != nil {
		return nil, response.Pagination{}, fmt.Errorf("list events: %w", err)
	}
	return nonNil(rows), pag, nil
}

// EventSummary groups events of r by type, category and action.
func (s *Service) EventSummary(ctx context.Context, r DateRange) ([]EventGroup, error) {
	defer metrics.ObserveReport("event_summary", time.Now())

	var rows []EventGroup
	err := s.db.WithContext(ctx).Model(&models.AnalyticsEvent{}).
		Select("event_type, event_category, event_action, COUNT(*) AS total").
		Where("timestamp >= ? AND timestamp <= ?", r.Start, r.End).
		Group("event_type, event_category, event_action").
		Order("total DESC, event_type ASC, event_category ASC, event_action ASC").
		Limit(100).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("event summary: %w", err)
	}
	return nonNil(rows), nil
}
