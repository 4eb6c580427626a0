package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mx-space/insight/internal/models"
	"github.com/mx-space/insight/internal/modules/stats/device"
	"github.com/mx-space/insight/internal/modules/stats/geo"
	"github.com/mx-space/insight/internal/pkg/locker"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VisitorInput is everything known about a visitor from one request.
type VisitorInput struct {
	VisitorID string
	IPAddress string
	UserAgent string
	Language  string
	Device    device.Info
	Location  geo.Location
	UTM       models.UTM
}

// VisitorStore owns the visitors table.
type VisitorStore struct {
	db     *gorm.DB
	locker locker.Locker
	now    func() time.Time
}

// Find returns the visitor with the given fingerprint id.
func (s *VisitorStore) Find(ctx context.Context, visitorID string) (*models.Visitor, error) {
	var v models.Visitor
	if err := s.db.WithContext(ctx).Where("visitor_id = ?", visitorID).Take(&v).Error; err != nil {
		return nil, notFound(err)
	}
	return &v, nil
}

// Upsert creates the visitor if absent, otherwise refreshes its request
// attributes and moves last_visit forward. created reports whether a row was
// inserted by this call.
func (s *VisitorStore) Upsert(ctx context.Context, in VisitorInput) (v *models.Visitor, created bool, err error) {
	release, err := acquire(ctx, s.locker, in.VisitorID)
	if err != nil {
		return nil, false, err
	}
	defer release()

	now := s.now()
	db := s.db.WithContext(ctx)

	existing, err := s.Find(ctx, in.VisitorID)
	if errors.Is(err, ErrNotFound) {
		fresh := newVisitor(in, now)
		res := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "visitor_id"}},
			DoNothing: true,
		}).Create(fresh)
		if res.Error != nil {
			return nil, false, fmt.Errorf("create visitor: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			return fresh, true, nil
		}
		// Another instance inserted it first.
		existing, err = s.Find(ctx, in.VisitorID)
	}
	if err != nil {
		return nil, false, fmt.Errorf("find visitor: %w", err)
	}

	updates := map[string]any{
		"last_visit":      gorm.Expr("CASE WHEN last_visit < ? THEN ? ELSE last_visit END", now, now),
		"ip_address":      in.IPAddress,
		"user_agent":      in.UserAgent,
		"device_type":     in.Device.DeviceType,
		"browser":         in.Device.Browser,
		"browser_version": in.Device.BrowserVersion,
		"os":              in.Device.OS,
		"os_version":      in.Device.OSVersion,
		"is_bot":          in.Device.IsBot,
		"updated_at":      now,
	}
	if in.Language != "" {
		updates["language"] = in.Language
	}
	if in.Location.Country != "" {
		updates["country"] = in.Location.Country
		updates["city"] = in.Location.City
		updates["region"] = in.Location.Region
		updates["timezone"] = in.Location.Timezone
	}
	if err := db.Model(&models.Visitor{}).Where("id = ?", existing.ID).UpdateColumns(updates).Error; err != nil {
		return nil, false, fmt.Errorf("refresh visitor: %w", err)
	}

	applyVisitorInput(existing, in)
	if existing.LastVisit.Before(now) {
		existing.LastVisit = now
	}
	existing.UpdatedAt = now
	return existing, false, nil
}

// IncrementPageViews bumps total_page_views by one.
func (s *VisitorStore) IncrementPageViews(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&models.Visitor{}).
		Where("id = ?", id).
		UpdateColumn("total_page_views", gorm.Expr("total_page_views + ?", 1)).Error
}

func newVisitor(in VisitorInput, now time.Time) *models.Visitor {
	v := &models.Visitor{
		VisitorID:  in.VisitorID,
		FirstVisit: now,
		LastVisit:  now,
		UTM:        in.UTM,
	}
	v.CreatedAt = now
	v.UpdatedAt = now
	applyVisitorInput(v, in)
	return v
}

func applyVisitorInput(v *models.Visitor, in VisitorInput) {
	v.IPAddress = in.IPAddress
	v.UserAgent = in.UserAgent
	v.DeviceType = in.Device.DeviceType
	v.Browser = in.Device.Browser
	v.BrowserVersion = in.Device.BrowserVersion
	v.OS = in.Device.OS
	v.OSVersion = in.Device.OSVersion
	v.IsBot = in.Device.IsBot
	if in.Language != "" {
		v.Language = in.Language
	}
	if in.Location.Country != "" {
		v.Country = in.Location.Country
		v.City = in.Location.City
		v.Region = in.Location.Region
		v.Timezone = in.Location.Timezone
	}
}
