package store

import (
	"context"
	"fmt"
	"time"

	"github.com/mx-space/insight/internal/models"
)

// CreatePageView appends one page view.
func (s *Store) CreatePageView(ctx context.Context, pv *models.PageView) error {
	return s.db.WithContext(ctx).Create(pv).Error
}

// CreateEvent appends one analytics event.
func (s *Store) CreateEvent(ctx context.Context, ev *models.AnalyticsEvent) error {
	return s.db.WithContext(ctx).Create(ev).Error
}

// Purge deletes page views and events with a timestamp before cutoff.
func (s *Store) Purge(ctx context.Context, cutoff time.Time) (pageViews, events int64, err error) {
	db := s.db.WithContext(ctx)
	res := db.Where("timestamp < ?", cutoff).Delete(&models.PageView{})
	if res.Error != nil {
		return 0, 0, fmt.Errorf("purge page views: %w", res.Error)
	}
	pageViews = res.RowsAffected

	res = db.Where("timestamp < ?", cutoff).Delete(&models.AnalyticsEvent{})
	if res.Error != nil {
		return pageViews, 0, fmt.Errorf("purge events: %w", res.Error)
	}
	return pageViews, res.RowsAffected, nil
}

// EachPageView walks page views in [from, to) in timestamp order, batch by batch.
func (s *Store) EachPageView(ctx context.Context, from, to time.Time, batchSize int, fn func([]models.PageView) error) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	for offset := 0; ; offset += batchSize {
		var batch []models.PageView
		if err := s.db.WithContext(ctx).
			Where("timestamp >= ? AND timestamp < ?", from, to).
			Order("timestamp ASC, id ASC").
			Offset(offset).
			Limit(batchSize).
			Find(&batch).Error; err != nil {
			return fmt.Errorf("scan page views: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		if len(batch) < batchSize {
			return nil
		}
	}
}
