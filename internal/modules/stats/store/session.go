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
	"github.com/mx-space/insight/internal/pkg/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionInput describes the request that may open a session.
type SessionInput struct {
	VisitorID string
	// SessionID is the candidate id minted for this request.
	SessionID string
	Path      string
	Referrer  string
	UTM       models.UTM
	Device    device.Info
	Location  geo.Location
}

// SessionStore owns the visitor_sessions table and keeps at most one active
// session per visitor.
type SessionStore struct {
	db      *gorm.DB
	locker  locker.Locker
	now     func() time.Time
	timeout time.Duration
	logger  *zap.Logger
}

// Timeout is the idle period after which a session expires.
func (s *SessionStore) Timeout() time.Duration { return s.timeout }

// Resolve returns the session the request belongs to: the active session with
// the exact id, else the visitor's active session touched within the timeout,
// else a newly started one. created reports the last case.
func (s *SessionStore) Resolve(ctx context.Context, in SessionInput) (*models.Session, bool, error) {
	release, err := acquire(ctx, s.locker, in.VisitorID)
	if err != nil {
		return nil, false, err
	}
	defer release()

	var (
		session *models.Session
		created bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		visitor, err := lockVisitor(tx, in.VisitorID)
		if err != nil {
			return err
		}
		now := s.now()

		if in.SessionID != "" {
			var exact models.Session
			err := tx.Where("session_id = ? AND visitor_id = ? AND is_active = ?", in.SessionID, in.VisitorID, true).
				Take(&exact).Error
			if err == nil {
				session = &exact
				return keepAlive(tx, session, now)
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}

		var current models.Session
		err = tx.Where("visitor_id = ? AND is_active = ? AND updated_at >= ?", in.VisitorID, true, now.Add(-s.timeout)).
			Order("updated_at DESC").
			Take(&current).Error
		if err == nil {
			session = &current
			return keepAlive(tx, session, now)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		session, err = s.start(tx, visitor, in, now)
		created = err == nil
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("resolve session: %w", err)
	}
	return session, created, nil
}

// Start closes every active session of the visitor and opens a new one.
func (s *SessionStore) Start(ctx context.Context, in SessionInput) (*models.Session, error) {
	release, err := acquire(ctx, s.locker, in.VisitorID)
	if err != nil {
		return nil, err
	}
	defer release()

	var session *models.Session
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		visitor, err := lockVisitor(tx, in.VisitorID)
		if err != nil {
			return err
		}
		session, err = s.start(tx, visitor, in, s.now())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	return session, nil
}

func (s *SessionStore) start(tx *gorm.DB, visitor *models.Visitor, in SessionInput, now time.Time) (*models.Session, error) {
	var active []models.Session
	if err := tx.Where("visitor_id = ? AND is_active = ?", in.VisitorID, true).Find(&active).Error; err != nil {
		return nil, err
	}

	var closedDuration int64
	for i := range active {
		duration := elapsedSeconds(active[i].SessionStart, active[i].UpdatedAt)
		if err := tx.Model(&models.Session{}).Where("id = ?", active[i].ID).UpdateColumns(map[string]any{
			"is_active":   false,
			"session_end": now,
			"duration":    duration,
		}).Error; err != nil {
			return nil, fmt.Errorf("close session %s: %w", active[i].SessionID, err)
		}
		closedDuration += duration
	}
	if len(active) > 0 {
		metrics.SessionsClosed.WithLabelValues("superseded").Add(float64(len(active)))
	}

	session := &models.Session{
		SessionID:    in.SessionID,
		VisitorID:    in.VisitorID,
		SessionStart: now,
		Bounced:      true,
		EntryPage:    in.Path,
		ExitPage:     in.Path,
		Referrer:     in.Referrer,
		UTM:          in.UTM,
		DeviceType:   in.Device.DeviceType,
		Browser:      in.Device.Browser,
		OS:           in.Device.OS,
		Country:      in.Location.Country,
		City:         in.Location.City,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := tx.Create(session).Error; err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if err := tx.Model(&models.Visitor{}).Where("id = ?", visitor.ID).UpdateColumns(map[string]any{
		"visit_count":            gorm.Expr("visit_count + ?", 1),
		"total_session_duration": gorm.Expr("total_session_duration + ?", closedDuration),
		"updated_at":             now,
	}).Error; err != nil {
		return nil, fmt.Errorf("count visit: %w", err)
	}

	metrics.SessionsStarted.Inc()
	return session, nil
}

// RecordPageView counts one page view against the session. The first view
// keeps the session bounced; any later one clears it.
func (s *SessionStore) RecordPageView(ctx context.Context, id, path string) error {
	// bounced is assigned before page_views so it sees the old count on MySQL too.
	return s.db.WithContext(ctx).Exec(
		"UPDATE visitor_sessions SET bounced = CASE WHEN page_views >= 1 THEN ? ELSE bounced END, "+
			"page_views = page_views + 1, updated_at = ?, exit_page = ? WHERE id = ?",
		false, s.now(), path, id,
	).Error
}

// Touch keeps the session alive after an interaction and clears bounced.
func (s *SessionStore) Touch(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&models.Session{}).Where("id = ?", id).UpdateColumns(map[string]any{
		"bounced":    false,
		"updated_at": s.now(),
	}).Error
}

// FindActive returns the visitor's active session. A non-empty sessionID
// must match exactly.
func (s *SessionStore) FindActive(ctx context.Context, visitorID, sessionID string) (*models.Session, error) {
	tx := s.db.WithContext(ctx).Where("visitor_id = ? AND is_active = ?", visitorID, true)
	if sessionID != "" {
		tx = tx.Where("session_id = ?", sessionID)
	}
	var session models.Session
	if err := tx.Order("updated_at DESC").Take(&session).Error; err != nil {
		return nil, notFound(err)
	}
	return &session, nil
}

// Find returns a session by its public id.
func (s *SessionStore) Find(ctx context.Context, sessionID string) (*models.Session, error) {
	var session models.Session
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Take(&session).Error; err != nil {
		return nil, notFound(err)
	}
	return &session, nil
}

// CloseIdle expires active sessions not touched within the timeout. The end
// time of an expired session is its last activity.
func (s *SessionStore) CloseIdle(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.timeout)

	var idle []models.Session
	if err := s.db.WithContext(ctx).
		Where("is_active = ? AND updated_at < ?", true, cutoff).
		Order("updated_at ASC").
		Limit(500).
		Find(&idle).Error; err != nil {
		return 0, fmt.Errorf("list idle sessions: %w", err)
	}

	closed := 0
	for i := range idle {
		ok, err := s.closeIdle(ctx, &idle[i], cutoff)
		if err != nil {
			s.logger.Warn("expire session failed", zap.String("session", idle[i].SessionID), zap.Error(err))
			continue
		}
		if ok {
			closed++
		}
	}
	if closed > 0 {
		metrics.SessionsClosed.WithLabelValues("idle").Add(float64(closed))
	}
	return closed, nil
}

func (s *SessionStore) closeIdle(ctx context.Context, session *models.Session, cutoff time.Time) (bool, error) {
	release, err := acquire(ctx, s.locker, session.VisitorID)
	if err != nil {
		return false, err
	}
	defer release()

	closed := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		duration := elapsedSeconds(session.SessionStart, session.UpdatedAt)
		// A page view since the listing makes the row no longer idle.
		res := tx.Model(&models.Session{}).
			Where("id = ? AND is_active = ? AND updated_at < ?", session.ID, true, cutoff).
			UpdateColumns(map[string]any{
				"is_active":   false,
				"session_end": session.UpdatedAt,
				"duration":    duration,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		closed = true
		return tx.Model(&models.Visitor{}).Where("visitor_id = ?", session.VisitorID).
			UpdateColumn("total_session_duration", gorm.Expr("total_session_duration + ?", duration)).Error
	})
	return closed, err
}

func keepAlive(tx *gorm.DB, session *models.Session, now time.Time) error {
	session.UpdatedAt = now
	return tx.Model(&models.Session{}).Where("id = ?", session.ID).UpdateColumn("updated_at", now).Error
}

// lockVisitor takes a row lock on the visitor for the rest of tx.
func lockVisitor(tx *gorm.DB, visitorID string) (*models.Visitor, error) {
	var v models.Visitor
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("visitor_id = ?", visitorID).Take(&v).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &v, nil
}
